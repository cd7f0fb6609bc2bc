package voice

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/mirepoix/internal/bus"
	"github.com/MrWong99/mirepoix/internal/observe"
	"github.com/MrWong99/mirepoix/internal/recipe"
	"github.com/MrWong99/mirepoix/internal/scene"
	"github.com/MrWong99/mirepoix/pkg/provider/llm"
	"github.com/MrWong99/mirepoix/pkg/provider/stt"
	"github.com/MrWong99/mirepoix/pkg/types"
)

// SessionConfig configures a [Session].
type SessionConfig struct {
	// STT, LLM and Speaker are the turn pipeline. All required.
	STT     stt.Provider
	LLM     llm.Provider
	Speaker Speaker

	// Corrector cleans transcripts before the LLM call. Optional.
	Corrector Corrector

	// Recipes supplies the step list for prompts. Required.
	Recipes *recipe.State

	// Scenes is the shared observation log; turns append tagged entries
	// to it and prompts quote its tail. Required.
	Scenes *scene.Log

	// Bus receives a voice-state event per transition. Optional.
	Bus *bus.Bus

	// Logger defaults to [slog.Default].
	Logger *slog.Logger

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// SystemPrompt defaults to [DefaultSystemPrompt].
	SystemPrompt string

	// MaxTokens caps reply length. Defaults to [DefaultMaxTokens];
	// replies feed straight into speech synthesis, so short is right.
	MaxTokens int

	// SceneTail is how many recent observations the prompt quotes.
	// Defaults to [DefaultSceneTail].
	SceneTail int

	// Cooldown is how long VAD stays suppressed after the speaker
	// finishes, so the microphone does not hear the reply. Defaults to
	// [DefaultCooldown].
	Cooldown time.Duration

	// SourceSampleRate is the capture rate utterance PCM arrives at.
	// Defaults to [DefaultSourceSampleRate].
	SourceSampleRate int

	// Language is forwarded to the STT backend. Empty uses the
	// provider's default.
	Language string

	// ManualHonorsCooldown discards a manual hand-off that lands during
	// cooldown. Default false: manual asks bypass the cooldown.
	ManualHonorsCooldown bool
}

// Session is the voice turn orchestrator. The segmenter and the gateway
// feed it utterances (audio or text); it walks each one through
// Transcribing, Thinking and Speaking and reports every transition on
// the event bus.
//
// One mutex guards the visible state, the cooldown deadline, and the
// manual recording buffer. A voice turn claims the session before it
// transcribes anything, so at most one voice turn is in flight; text
// turns skip the claim and the speaker serializes actual audio output.
type Session struct {
	stt       stt.Provider
	llm       llm.Provider
	speaker   Speaker
	corrector Corrector
	recipes   *recipe.State
	scenes    *scene.Log
	events    *bus.Bus
	logger    *slog.Logger
	meter     *observe.Metrics

	systemPrompt         string
	maxTokens            int
	sceneTail            int
	cooldown             time.Duration
	srcRate              int
	language             string
	manualHonorsCooldown bool

	mu            sync.Mutex
	state         State
	cooldownUntil time.Time
	manual        bool
	manualBuf     []byte

	muted atomic.Bool
	wg    sync.WaitGroup
}

// NewSession validates cfg, applies defaults, and returns a session in
// the Listening state.
func NewSession(cfg SessionConfig) (*Session, error) {
	switch {
	case cfg.STT == nil:
		return nil, fmt.Errorf("voice: session requires an stt provider")
	case cfg.LLM == nil:
		return nil, fmt.Errorf("voice: session requires an llm provider")
	case cfg.Speaker == nil:
		return nil, fmt.Errorf("voice: session requires a speaker")
	case cfg.Recipes == nil:
		return nil, fmt.Errorf("voice: session requires recipe state")
	case cfg.Scenes == nil:
		return nil, fmt.Errorf("voice: session requires a scene log")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	meter := cfg.Metrics
	if meter == nil {
		meter = observe.DefaultMetrics()
	}
	systemPrompt := cfg.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = DefaultSystemPrompt
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	sceneTail := cfg.SceneTail
	if sceneTail <= 0 {
		sceneTail = DefaultSceneTail
	}
	cooldown := cfg.Cooldown
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	srcRate := cfg.SourceSampleRate
	if srcRate <= 0 {
		srcRate = DefaultSourceSampleRate
	}

	return &Session{
		stt:                  cfg.STT,
		llm:                  cfg.LLM,
		speaker:              cfg.Speaker,
		corrector:            cfg.Corrector,
		recipes:              cfg.Recipes,
		scenes:               cfg.Scenes,
		events:               cfg.Bus,
		logger:               logger.With("component", "session"),
		meter:                meter,
		systemPrompt:         systemPrompt,
		maxTokens:            maxTokens,
		sceneTail:            sceneTail,
		cooldown:             cooldown,
		srcRate:              srcRate,
		language:             cfg.Language,
		manualHonorsCooldown: cfg.ManualHonorsCooldown,
		state:                StateListening,
	}, nil
}

// State returns the current session phase.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Muted reports the mute flag. Called per packet by the segmenter.
func (s *Session) Muted() bool { return s.muted.Load() }

// SetMuted sets the mute flag. While muted the segmenter skips VAD and
// the speaker stays silent.
func (s *Session) SetMuted(muted bool) {
	s.muted.Store(muted)
	s.logger.Info("mute changed", "muted", muted)
}

// ToggleMute flips the mute flag and returns the new value.
func (s *Session) ToggleMute() bool {
	for {
		old := s.muted.Load()
		if s.muted.CompareAndSwap(old, !old) {
			s.logger.Info("mute changed", "muted", !old)
			return !old
		}
	}
}

// CoolingDown reports whether the post-speech cooldown is active. An
// expired deadline lazily returns the session to Listening; nothing
// sleeps waiting for it.
func (s *Session) CoolingDown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cooldownUntil.IsZero() {
		return false
	}
	if time.Now().Before(s.cooldownUntil) {
		return true
	}
	s.cooldownUntil = time.Time{}
	if s.state == StateCooldown {
		s.setStateLocked(StateListening, "")
	}
	return false
}

// OnSpeechStart moves Listening to Recording. Any other state means a
// turn or a manual recording already owns the session; the detector's
// transition loses the race and no-ops.
func (s *Session) OnSpeechStart() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateListening {
		return
	}
	s.setStateLocked(StateRecording, "")
}

// AppendManual buffers one microphone packet while a manual recording
// is engaged. No-op otherwise.
func (s *Session) AppendManual(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.manual {
		return
	}
	s.manualBuf = append(s.manualBuf, data...)
}

// ManualActive reports whether a manual recording is engaged.
func (s *Session) ManualActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.manual
}

// ToggleAsk starts a manual recording, or stops one and hands the
// buffered audio to the turn pipeline. Returns true when a recording is
// now engaged.
func (s *Session) ToggleAsk(ctx context.Context) bool {
	s.mu.Lock()
	if !s.manual {
		s.manual = true
		s.manualBuf = nil
		s.setStateLocked(StateRecordingManual, "")
		s.mu.Unlock()
		s.logger.Info("manual recording started")
		return true
	}

	s.manual = false
	buf := s.manualBuf
	s.manualBuf = nil
	blocked := s.manualHonorsCooldown &&
		!s.cooldownUntil.IsZero() && time.Now().Before(s.cooldownUntil)
	if len(buf) == 0 || blocked {
		s.setStateLocked(StateListening, "")
		s.mu.Unlock()
		if blocked {
			s.logger.Info("manual recording discarded during cooldown")
		} else {
			s.logger.Info("manual recording captured no audio")
		}
		return false
	}
	s.mu.Unlock()

	s.logger.Info("manual recording stopped",
		"bytes", len(buf),
		"seconds", float64(len(buf))/float64(2*s.srcRate))
	s.HandleUtterance(ctx, buf, SourceManual)
	return false
}

// HandleUtterance runs one voice turn for a complete recording. It
// returns immediately; the turn runs in its own goroutine until the
// reply has been spoken or a stage fails. A hand-off that lands while
// another turn already owns the session is dropped.
func (s *Session) HandleUtterance(ctx context.Context, pcm []byte, source string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runVoiceTurn(ctx, pcm, source)
	}()
}

// HandleText runs one text-chat turn: straight to Thinking, no
// transcription. Returns immediately.
func (s *Session) HandleText(ctx context.Context, text string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		turnID := uuid.NewString()
		logger := s.logger.With("turn", turnID, "source", SourceText)
		s.answer(ctx, logger, turnID, SourceText, text, time.Now())
	}()
}

// SetPrompts updates the completion tuning for subsequent turns. Zero
// values keep the current settings. Used by the config hot-reload path.
func (s *Session) SetPrompts(systemPrompt string, maxTokens, sceneTail int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if systemPrompt != "" {
		s.systemPrompt = systemPrompt
	}
	if maxTokens > 0 {
		s.maxTokens = maxTokens
	}
	if sceneTail > 0 {
		s.sceneTail = sceneTail
	}
}

// Close waits for in-flight turns to finish.
func (s *Session) Close() error {
	s.wg.Wait()
	return nil
}

func (s *Session) runVoiceTurn(ctx context.Context, pcm []byte, source string) {
	turnID := uuid.NewString()
	logger := s.logger.With("turn", turnID, "source", source)
	turnStart := time.Now()

	if s.muted.Load() {
		logger.Debug("voice turn skipped while muted")
		s.mu.Lock()
		if (s.state == StateRecording || s.state == StateRecordingManual) && !s.manual {
			s.setStateLocked(StateListening, "")
		}
		s.mu.Unlock()
		s.meter.RecordVoiceTurn(ctx, source, "muted")
		return
	}

	if !s.claimTurn(turnID, source) {
		logger.Debug("voice turn dropped, session busy", "state", s.State())
		s.meter.RecordVoiceTurn(ctx, source, "busy")
		return
	}

	sttStart := time.Now()
	tr, err := s.stt.Transcribe(ctx, stt.Request{
		PCM:        pcm,
		SampleRate: s.srcRate,
		Channels:   1,
		Language:   s.language,
	})
	s.meter.STTDuration.Record(ctx, time.Since(sttStart).Seconds())
	if err != nil {
		logger.Warn("transcription failed", "err", err)
		s.setState(StateListening, "")
		s.meter.RecordVoiceTurn(ctx, source, "stt_error")
		return
	}

	text := strings.TrimSpace(tr.Text)
	if text == "" {
		logger.Debug("nothing transcribed, back to listening")
		s.setState(StateListening, "")
		s.meter.RecordVoiceTurn(ctx, source, "empty_transcript")
		return
	}

	if s.corrector != nil {
		corrected, err := s.corrector.Correct(ctx, text)
		if err != nil {
			logger.Debug("transcript correction failed, keeping raw text", "err", err)
		} else if corrected != text {
			logger.Debug("transcript corrected", "from", text, "to", corrected)
			text = corrected
		}
	}

	logger.Info("transcribed", "text", text)
	s.scenes.AppendTagged(scene.TagUser, text)

	s.answer(ctx, logger, turnID, source, text, turnStart)
}

// answer runs Thinking, Speaking and Cooldown for one question. Shared
// by the voice and text paths.
func (s *Session) answer(ctx context.Context, logger *slog.Logger, turnID, source, question string, turnStart time.Time) {
	s.setState(StateThinking, turnID)

	s.mu.Lock()
	systemPrompt, maxTokens, sceneTail := s.systemPrompt, s.maxTokens, s.sceneTail
	s.mu.Unlock()

	snap := s.recipes.Snapshot()
	prompt := buildPrompt(snap.Steps, s.scenes.TailText(sceneTail), question)

	llmStart := time.Now()
	resp, err := s.llm.Complete(ctx, llm.CompletionRequest{
		Messages:     []types.Message{{Role: "user", Content: prompt}},
		MaxTokens:    maxTokens,
		SystemPrompt: systemPrompt,
	})
	s.meter.LLMDuration.Record(ctx, time.Since(llmStart).Seconds())
	if err != nil {
		logger.Warn("completion failed", "err", err)
		s.setState(StateListening, "")
		s.meter.RecordVoiceTurn(ctx, source, "llm_error")
		return
	}

	reply := strings.TrimSpace(resp.Content)
	if reply == "" {
		logger.Debug("empty completion, back to listening")
		s.setState(StateListening, "")
		s.meter.RecordVoiceTurn(ctx, source, "llm_empty")
		return
	}

	logger.Info("reply ready",
		"text", reply,
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens)
	s.scenes.AppendTagged(scene.TagAssistant, reply)

	s.setState(StateSpeaking, turnID)
	outcome := "ok"
	ttsStart := time.Now()
	if err := s.speaker.Speak(ctx, reply); err != nil {
		logger.Warn("playback failed", "err", err)
		outcome = "tts_error"
	}
	s.meter.TTSDuration.Record(ctx, time.Since(ttsStart).Seconds())

	// Cooldown regardless of playback outcome: partial audio may have
	// reached the speaker and the microphone would hear it.
	s.enterCooldown(turnID)
	s.meter.TurnDuration.Record(ctx, time.Since(turnStart).Seconds())
	s.meter.RecordVoiceTurn(ctx, source, outcome)
}

// claimTurn moves the session into Transcribing when no other turn owns
// it. A hand-off only proceeds from Listening or Recording; a manual
// hand-off also proceeds from its own recording state. Anything else
// means an earlier transition won the session, and the later hand-off
// no-ops instead of running a second concurrent turn.
func (s *Session) claimTurn(turnID, source string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateListening, StateRecording:
	case StateRecordingManual:
		if source != SourceManual {
			return false
		}
	default:
		return false
	}
	s.setStateLocked(StateTranscribing, turnID)
	return true
}

func (s *Session) enterCooldown(turnID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cooldownUntil = time.Now().Add(s.cooldown)
	s.setStateLocked(StateCooldown, turnID)
}

func (s *Session) setState(state State, turnID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setStateLocked(state, turnID)
}

// setStateLocked records the transition and publishes it. Callers hold
// s.mu; bus publishes never block, so holding the lock is fine.
func (s *Session) setStateLocked(state State, turnID string) {
	s.state = state
	if s.events != nil {
		s.events.Publish(bus.NewVoiceStateEvent(string(state), turnID))
	}
}
