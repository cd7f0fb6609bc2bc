package voice_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/mirepoix/internal/recipe"
	"github.com/MrWong99/mirepoix/internal/scene"
	"github.com/MrWong99/mirepoix/internal/voice"
	"github.com/MrWong99/mirepoix/pkg/provider/llm"
	llmmock "github.com/MrWong99/mirepoix/pkg/provider/llm/mock"
	sttmock "github.com/MrWong99/mirepoix/pkg/provider/stt/mock"
	"github.com/MrWong99/mirepoix/pkg/types"
)

// correctorStub rewrites every transcript to out, or fails with err.
type correctorStub struct {
	out string
	err error

	mu  sync.Mutex
	got []string
}

func (c *correctorStub) Correct(_ context.Context, text string) (string, error) {
	c.mu.Lock()
	c.got = append(c.got, text)
	c.mu.Unlock()

	if c.err != nil {
		return "", c.err
	}
	if c.out == "" {
		return text, nil
	}
	return c.out, nil
}

// holdingLLM forwards to inner, but the first Complete call signals
// entered and then blocks until release is closed. Later calls pass
// straight through.
type holdingLLM struct {
	inner   llm.Provider
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (h *holdingLLM) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	var first bool
	h.once.Do(func() { first = true })
	if first {
		close(h.entered)
		select {
		case <-h.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return h.inner.Complete(ctx, req)
}

func (h *holdingLLM) Capabilities() llm.ModelCapabilities { return h.inner.Capabilities() }

// TestSession_VoiceTurn walks one utterance through the full pipeline and
// checks every observable side effect: the STT request, the assembled
// prompt, the scene log tags, the spoken reply, the published state
// sequence, and the cooldown that follows.
func TestSession_VoiceTurn(t *testing.T) {
	sess, deps := newSession(t, nil)
	deps.recipes.Replace("Pasta", []string{"Boil water", "Add the pasta"})
	deps.scenes.Append("a pot on the stove")

	sub := deps.events.Subscribe("test", 32)
	defer sub.Close()

	pcm := []byte("fake-utterance-pcm")
	sess.HandleUtterance(context.Background(), pcm, voice.SourceVAD)
	if err := sess.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	call := deps.stt.LastCall()
	if call == nil {
		t.Fatal("STT was never called")
	}
	if string(call.PCM) != string(pcm) {
		t.Errorf("STT PCM = %q, want %q", call.PCM, pcm)
	}
	if call.SampleRate != 44100 || call.Channels != 1 || call.Language != "eng" {
		t.Errorf("STT request = %d Hz, %d ch, %q, want 44100 Hz, 1 ch, \"eng\"",
			call.SampleRate, call.Channels, call.Language)
	}

	wantPrompt := "The user is following this recipe:\n\n" +
		"1. Boil water\n" +
		"2. Add the pasta\n" +
		"\n" +
		"Here is the recent visual scene analysis log from the kitchen camera:\n\n" +
		"a pot on the stove\n" +
		"[USER] what is the next step\n" +
		"\nUser question: what is the next step"
	req := deps.llm.LastCall()
	if req == nil {
		t.Fatal("LLM was never called")
	}
	if len(req.Req.Messages) != 1 || req.Req.Messages[0].Role != "user" {
		t.Fatalf("LLM messages = %+v, want a single user message", req.Req.Messages)
	}
	if got := req.Req.Messages[0].Content; got != wantPrompt {
		t.Errorf("prompt:\n got %q\nwant %q", got, wantPrompt)
	}
	if req.Req.MaxTokens != 256 {
		t.Errorf("MaxTokens = %d, want 256", req.Req.MaxTokens)
	}
	if req.Req.SystemPrompt != voice.DefaultSystemPrompt {
		t.Errorf("SystemPrompt = %q, want the default", req.Req.SystemPrompt)
	}

	if got := deps.speaker.spoken(); len(got) != 1 || got[0] != "Chop the onions." {
		t.Errorf("spoken = %q, want [\"Chop the onions.\"]", got)
	}

	tail := deps.scenes.TailText(10)
	wantTail := []string{
		"a pot on the stove",
		"[USER] what is the next step",
		"[ASSISTANT] Chop the onions.",
	}
	if len(tail) != len(wantTail) {
		t.Fatalf("scene log = %q, want %q", tail, wantTail)
	}
	for i := range wantTail {
		if tail[i] != wantTail[i] {
			t.Errorf("scene log[%d] = %q, want %q", i, tail[i], wantTail[i])
		}
	}

	states := voiceStates(sub)
	wantStates := []string{"Transcribing", "Thinking", "Speaking", "Cooldown"}
	if len(states) != len(wantStates) {
		t.Fatalf("state events = %d, want %d (%v)", len(states), len(wantStates), states)
	}
	for i, want := range wantStates {
		if states[i].State != want {
			t.Errorf("state[%d] = %q, want %q", i, states[i].State, want)
		}
		if states[i].TurnID == "" || states[i].TurnID != states[0].TurnID {
			t.Errorf("state[%d] turn id = %q, want the same non-empty id on every event",
				i, states[i].TurnID)
		}
	}

	if got := sess.State(); got != voice.StateCooldown {
		t.Fatalf("State() = %q, want %q", got, voice.StateCooldown)
	}
	waitFor(t, func() bool { return !sess.CoolingDown() }, "cooldown to expire")
	if got := sess.State(); got != voice.StateListening {
		t.Errorf("State() after cooldown = %q, want %q", got, voice.StateListening)
	}
}

func TestSession_MutedSkipsVoiceTurn(t *testing.T) {
	sess, deps := newSession(t, nil)
	sess.SetMuted(true)

	sess.HandleUtterance(context.Background(), []byte("pcm"), voice.SourceVAD)
	if err := sess.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if got := deps.stt.CallCount(); got != 0 {
		t.Errorf("STT calls = %d, want 0", got)
	}
	if got := deps.scenes.Len(); got != 0 {
		t.Errorf("scene log entries = %d, want 0", got)
	}
	if got := sess.State(); got != voice.StateListening {
		t.Errorf("State() = %q, want %q", got, voice.StateListening)
	}
}

func TestSession_STTErrorReturnsToListening(t *testing.T) {
	sess, deps := newSession(t, nil)
	deps.stt.Err = errors.New("backend unavailable")

	sess.HandleUtterance(context.Background(), []byte("pcm"), voice.SourceVAD)
	if err := sess.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if got := deps.llm.CallCount(); got != 0 {
		t.Errorf("LLM calls = %d, want 0", got)
	}
	if got := sess.State(); got != voice.StateListening {
		t.Errorf("State() = %q, want %q", got, voice.StateListening)
	}
	if sess.CoolingDown() {
		t.Error("failed turn must not start a cooldown")
	}
}

func TestSession_EmptyTranscriptReturnsToListening(t *testing.T) {
	sess, deps := newSession(t, nil)
	deps.stt.Default = &types.Transcript{Text: "   "}

	sess.HandleUtterance(context.Background(), []byte("pcm"), voice.SourceVAD)
	if err := sess.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if got := deps.llm.CallCount(); got != 0 {
		t.Errorf("LLM calls = %d, want 0", got)
	}
	if got := deps.scenes.Len(); got != 0 {
		t.Errorf("scene log entries = %d, want 0", got)
	}
	if got := sess.State(); got != voice.StateListening {
		t.Errorf("State() = %q, want %q", got, voice.StateListening)
	}
}

func TestSession_LLMErrorReturnsToListening(t *testing.T) {
	sess, deps := newSession(t, nil)
	deps.llm.Err = errors.New("model overloaded")

	sess.HandleUtterance(context.Background(), []byte("pcm"), voice.SourceVAD)
	if err := sess.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if got := deps.speaker.spoken(); len(got) != 0 {
		t.Errorf("spoken = %q, want none", got)
	}
	// The user's question is logged even when the answer never comes.
	tail := deps.scenes.TailText(10)
	if len(tail) != 1 || tail[0] != "[USER] what is the next step" {
		t.Errorf("scene log = %q, want just the tagged question", tail)
	}
	if got := sess.State(); got != voice.StateListening {
		t.Errorf("State() = %q, want %q", got, voice.StateListening)
	}
	if sess.CoolingDown() {
		t.Error("failed turn must not start a cooldown")
	}
}

func TestSession_EmptyReplyReturnsToListening(t *testing.T) {
	sess, deps := newSession(t, nil)
	deps.llm.Default = &llm.CompletionResponse{Content: "  \n"}

	sess.HandleUtterance(context.Background(), []byte("pcm"), voice.SourceVAD)
	if err := sess.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if got := deps.llm.CallCount(); got != 1 {
		t.Errorf("LLM calls = %d, want 1", got)
	}
	if got := deps.speaker.spoken(); len(got) != 0 {
		t.Errorf("spoken = %q, want none", got)
	}
	if got := sess.State(); got != voice.StateListening {
		t.Errorf("State() = %q, want %q", got, voice.StateListening)
	}
}

// TestSession_SpeakerFailureStillEntersCooldown pins the conservative
// choice: playback errors do not skip the cooldown, because partial
// audio may already have left the speaker and the microphone would
// transcribe it.
func TestSession_SpeakerFailureStillEntersCooldown(t *testing.T) {
	sess, deps := newSession(t, nil)
	deps.speaker.err = errors.New("speaker offline")

	sess.HandleUtterance(context.Background(), []byte("pcm"), voice.SourceVAD)
	if err := sess.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if got := sess.State(); got != voice.StateCooldown {
		t.Fatalf("State() = %q, want %q", got, voice.StateCooldown)
	}
	tail := deps.scenes.TailText(10)
	if len(tail) != 2 || tail[1] != "[ASSISTANT] Chop the onions." {
		t.Errorf("scene log = %q, want the reply logged before playback", tail)
	}
}

// TestSession_TextTurnSkipsTranscription verifies the chat path: no STT
// call, no Transcribing state, and no mute check. The session answers a
// muted text turn normally; keeping the audio silent is the player's
// decision, not the session's.
func TestSession_TextTurnSkipsTranscription(t *testing.T) {
	sess, deps := newSession(t, nil)
	sub := deps.events.Subscribe("test", 32)
	defer sub.Close()

	sess.SetMuted(true)
	sess.HandleText(context.Background(), "how much salt goes in")
	if err := sess.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if got := deps.stt.CallCount(); got != 0 {
		t.Errorf("STT calls = %d, want 0", got)
	}
	req := deps.llm.LastCall()
	if req == nil {
		t.Fatal("LLM was never called")
	}
	if got := req.Req.Messages[0].Content; got != "User question: how much salt goes in" {
		t.Errorf("prompt = %q, want the bare question", got)
	}
	if got := deps.speaker.spoken(); len(got) != 1 {
		t.Errorf("spoken = %q, want the reply despite the mute flag", got)
	}

	states := voiceStates(sub)
	wantStates := []string{"Thinking", "Speaking", "Cooldown"}
	if len(states) != len(wantStates) {
		t.Fatalf("state events = %v, want %v", states, wantStates)
	}
	for i, want := range wantStates {
		if states[i].State != want {
			t.Errorf("state[%d] = %q, want %q", i, states[i].State, want)
		}
	}

	tail := deps.scenes.TailText(10)
	if len(tail) != 1 || tail[0] != "[ASSISTANT] Chop the onions." {
		t.Errorf("scene log = %q, want only the assistant reply", tail)
	}
}

func TestSession_CorrectorCleansTranscript(t *testing.T) {
	corr := &correctorStub{out: "how long do I saute the onions"}
	sess, deps := newSession(t, func(c *voice.SessionConfig) { c.Corrector = corr })

	sess.HandleUtterance(context.Background(), []byte("pcm"), voice.SourceVAD)
	if err := sess.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	tail := deps.scenes.TailText(10)
	if len(tail) < 1 || tail[0] != "[USER] how long do I saute the onions" {
		t.Errorf("scene log = %q, want the corrected question", tail)
	}
	req := deps.llm.LastCall()
	if req == nil {
		t.Fatal("LLM was never called")
	}
	if got := req.Req.Messages[0].Content; got != "User question: how long do I saute the onions" {
		t.Errorf("prompt = %q, want the corrected question", got)
	}
}

func TestSession_CorrectorFailureKeepsRawTranscript(t *testing.T) {
	corr := &correctorStub{err: errors.New("vocabulary unavailable")}
	sess, deps := newSession(t, func(c *voice.SessionConfig) { c.Corrector = corr })

	sess.HandleUtterance(context.Background(), []byte("pcm"), voice.SourceVAD)
	if err := sess.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	tail := deps.scenes.TailText(10)
	if len(tail) < 1 || tail[0] != "[USER] what is the next step" {
		t.Errorf("scene log = %q, want the raw question", tail)
	}
	if got := deps.speaker.spoken(); len(got) != 1 {
		t.Errorf("spoken = %q, want the turn to finish normally", got)
	}
}

func TestSession_ToggleAskRoundTrip(t *testing.T) {
	sess, deps := newSession(t, nil)
	ctx := context.Background()

	if !sess.ToggleAsk(ctx) {
		t.Fatal("first ToggleAsk should engage recording")
	}
	if got := sess.State(); got != voice.StateRecordingManual {
		t.Fatalf("State() = %q, want %q", got, voice.StateRecordingManual)
	}
	if !sess.ManualActive() {
		t.Fatal("ManualActive() = false, want true")
	}

	// A detector transition during a manual recording loses the race.
	sess.OnSpeechStart()
	if got := sess.State(); got != voice.StateRecordingManual {
		t.Fatalf("State() after OnSpeechStart = %q, want %q", got, voice.StateRecordingManual)
	}

	sess.AppendManual([]byte("abcd"))
	sess.AppendManual([]byte("efgh"))
	if sess.ToggleAsk(ctx) {
		t.Fatal("second ToggleAsk should disengage recording")
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if got := deps.stt.CallCount(); got != 1 {
		t.Fatalf("STT calls = %d, want 1", got)
	}
	if got := string(deps.stt.LastCall().PCM); got != "abcdefgh" {
		t.Errorf("STT PCM = %q, want the concatenated manual buffer", got)
	}
	if got := deps.speaker.spoken(); len(got) != 1 {
		t.Errorf("spoken = %q, want the manual turn to run to completion", got)
	}
}

func TestSession_ToggleAskEmptyBuffer(t *testing.T) {
	sess, deps := newSession(t, nil)
	ctx := context.Background()

	sess.ToggleAsk(ctx)
	sess.ToggleAsk(ctx)

	if got := deps.stt.CallCount(); got != 0 {
		t.Errorf("STT calls = %d, want 0", got)
	}
	if got := sess.State(); got != voice.StateListening {
		t.Errorf("State() = %q, want %q", got, voice.StateListening)
	}
	if sess.ManualActive() {
		t.Error("ManualActive() = true after disengage, want false")
	}
}

func TestSession_AppendManualIgnoredWhenIdle(t *testing.T) {
	sess, deps := newSession(t, nil)
	ctx := context.Background()

	// Packets arriving before the recording is engaged must not leak
	// into the next manual buffer.
	sess.AppendManual([]byte("stale audio"))

	sess.ToggleAsk(ctx)
	sess.ToggleAsk(ctx)

	if got := deps.stt.CallCount(); got != 0 {
		t.Errorf("STT calls = %d, want 0", got)
	}
}

func TestSession_ManualBypassesCooldown(t *testing.T) {
	sess, deps := newSession(t, func(c *voice.SessionConfig) { c.Cooldown = time.Hour })
	ctx := context.Background()

	sess.HandleUtterance(ctx, []byte("pcm-1"), voice.SourceVAD)
	waitFor(t, func() bool { return sess.State() == voice.StateCooldown }, "first turn to finish")
	if !sess.CoolingDown() {
		t.Fatal("CoolingDown() = false, want true")
	}

	sess.ToggleAsk(ctx)
	sess.AppendManual([]byte("pcm-2"))
	sess.ToggleAsk(ctx)

	waitFor(t, func() bool { return deps.stt.CallCount() == 2 }, "manual turn to run")
	if err := sess.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := string(deps.stt.LastCall().PCM); got != "pcm-2" {
		t.Errorf("STT PCM = %q, want the manual buffer", got)
	}
}

func TestSession_ManualHonorsCooldown(t *testing.T) {
	sess, deps := newSession(t, func(c *voice.SessionConfig) {
		c.Cooldown = time.Hour
		c.ManualHonorsCooldown = true
	})
	ctx := context.Background()

	sess.HandleUtterance(ctx, []byte("pcm-1"), voice.SourceVAD)
	waitFor(t, func() bool { return sess.State() == voice.StateCooldown }, "first turn to finish")

	sess.ToggleAsk(ctx)
	sess.AppendManual([]byte("pcm-2"))
	sess.ToggleAsk(ctx)

	if err := sess.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := deps.stt.CallCount(); got != 1 {
		t.Errorf("STT calls = %d, want 1 (manual hand-off discarded)", got)
	}
	if got := sess.State(); got != voice.StateListening {
		t.Errorf("State() = %q, want %q", got, voice.StateListening)
	}
}

// TestSession_OnSpeechStartOnlyFromListening checks both halves of the
// race rule: a detector transition claims an idle session, and loses
// silently when a turn already owns it.
func TestSession_OnSpeechStartOnlyFromListening(t *testing.T) {
	sess, _ := newSession(t, nil)
	sess.OnSpeechStart()
	if got := sess.State(); got != voice.StateRecording {
		t.Fatalf("State() = %q, want %q", got, voice.StateRecording)
	}
	sess.OnSpeechStart()
	if got := sess.State(); got != voice.StateRecording {
		t.Fatalf("State() after repeat = %q, want %q", got, voice.StateRecording)
	}

	busy, deps := newSession(t, nil)
	deps.speaker.release = make(chan struct{})
	busy.HandleUtterance(context.Background(), []byte("pcm"), voice.SourceVAD)
	waitFor(t, func() bool { return busy.State() == voice.StateSpeaking }, "turn to reach Speaking")

	busy.OnSpeechStart()
	if got := busy.State(); got != voice.StateSpeaking {
		t.Errorf("State() = %q, want %q (speech start must lose the race)", got, voice.StateSpeaking)
	}

	close(deps.speaker.release)
	if err := busy.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

// TestSession_SecondUtteranceMidTurnDropped pins the single-turn rule:
// a detector hand-off that completes while an earlier turn is still
// thinking loses the race and must not start a second concurrent turn.
func TestSession_SecondUtteranceMidTurnDropped(t *testing.T) {
	hold := &holdingLLM{entered: make(chan struct{}), release: make(chan struct{})}
	sess, deps := newSession(t, func(c *voice.SessionConfig) {
		hold.inner = c.LLM
		c.LLM = hold
	})
	sub := deps.events.Subscribe("test", 32)
	defer sub.Close()
	ctx := context.Background()

	sess.OnSpeechStart()
	sess.HandleUtterance(ctx, []byte("pcm-1"), voice.SourceVAD)
	<-hold.entered

	// The detector keeps analyzing while the turn thinks; its next
	// start/end pair must bounce off the busy session.
	sess.OnSpeechStart()
	sess.HandleUtterance(ctx, []byte("pcm-2"), voice.SourceVAD)

	close(hold.release)
	if err := sess.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if got := deps.stt.CallCount(); got != 1 {
		t.Errorf("STT calls = %d, want 1 (second hand-off dropped)", got)
	}
	if got := deps.llm.CallCount(); got != 1 {
		t.Errorf("LLM calls = %d, want 1", got)
	}
	if got := deps.speaker.spoken(); len(got) != 1 {
		t.Errorf("spoken = %q, want exactly one reply", got)
	}

	states := voiceStates(sub)
	wantStates := []string{"Recording", "Transcribing", "Thinking", "Speaking", "Cooldown"}
	if len(states) != len(wantStates) {
		t.Fatalf("state events = %v, want %v", states, wantStates)
	}
	for i, want := range wantStates {
		if states[i].State != want {
			t.Errorf("state[%d] = %q, want %q", i, states[i].State, want)
		}
	}
	for i := 2; i < len(states); i++ {
		if states[i].TurnID == "" || states[i].TurnID != states[1].TurnID {
			t.Errorf("state[%d] turn id = %q, want the first turn's id on every event",
				i, states[i].TurnID)
		}
	}
}

// TestSession_UtteranceDuringManualRecordingDropped: an engaged manual
// recording owns the session, so a detector hand-off landing in the
// middle of it is discarded rather than transcribed.
func TestSession_UtteranceDuringManualRecordingDropped(t *testing.T) {
	sess, deps := newSession(t, nil)
	ctx := context.Background()

	sess.ToggleAsk(ctx)
	sess.AppendManual([]byte("manual-pcm"))

	sess.HandleUtterance(ctx, []byte("vad-pcm"), voice.SourceVAD)

	sess.ToggleAsk(ctx)
	if err := sess.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if got := deps.stt.CallCount(); got != 1 {
		t.Fatalf("STT calls = %d, want 1", got)
	}
	if got := string(deps.stt.LastCall().PCM); got != "manual-pcm" {
		t.Errorf("STT PCM = %q, want only the manual buffer", got)
	}
}

func TestSession_ToggleMute(t *testing.T) {
	sess, _ := newSession(t, nil)

	if sess.Muted() {
		t.Fatal("Muted() = true on a fresh session")
	}
	if !sess.ToggleMute() {
		t.Fatal("ToggleMute() = false, want true")
	}
	if !sess.Muted() {
		t.Fatal("Muted() = false after toggle on")
	}
	if sess.ToggleMute() {
		t.Fatal("ToggleMute() = true, want false")
	}
	sess.SetMuted(true)
	if !sess.Muted() {
		t.Fatal("Muted() = false after SetMuted(true)")
	}
}

func TestNewSession_Validation(t *testing.T) {
	base := func() voice.SessionConfig {
		return voice.SessionConfig{
			STT:     &sttmock.Provider{},
			LLM:     &llmmock.Provider{},
			Speaker: &speakerStub{},
			Recipes: recipe.New(),
			Scenes:  scene.NewLog(0),
			Logger:  discardLogger(),
		}
	}

	tests := []struct {
		name   string
		mutate func(*voice.SessionConfig)
	}{
		{"nil stt", func(c *voice.SessionConfig) { c.STT = nil }},
		{"nil llm", func(c *voice.SessionConfig) { c.LLM = nil }},
		{"nil speaker", func(c *voice.SessionConfig) { c.Speaker = nil }},
		{"nil recipes", func(c *voice.SessionConfig) { c.Recipes = nil }},
		{"nil scenes", func(c *voice.SessionConfig) { c.Scenes = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			if _, err := voice.NewSession(cfg); err == nil {
				t.Fatal("NewSession accepted an invalid config")
			}
		})
	}

	if _, err := voice.NewSession(base()); err != nil {
		t.Fatalf("NewSession rejected a valid config: %v", err)
	}
}
