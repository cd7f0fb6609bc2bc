package voice_test

import (
	"context"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/mirepoix/internal/bus"
	"github.com/MrWong99/mirepoix/internal/recipe"
	"github.com/MrWong99/mirepoix/internal/scene"
	"github.com/MrWong99/mirepoix/internal/voice"
	"github.com/MrWong99/mirepoix/pkg/provider/llm"
	llmmock "github.com/MrWong99/mirepoix/pkg/provider/llm/mock"
	sttmock "github.com/MrWong99/mirepoix/pkg/provider/stt/mock"
	"github.com/MrWong99/mirepoix/pkg/types"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newUDPConn binds an ephemeral loopback UDP socket.
func newUDPConn(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("bind udp: %v", err)
	}
	return conn
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

// gate is a toggleable experience gate.
type gate struct {
	open atomic.Bool
}

func (g *gate) Started() bool { return g.open.Load() }

// speakerStub records spoken replies. When release is set, Speak blocks
// until it is closed, holding the session in the Speaking state.
type speakerStub struct {
	mu      sync.Mutex
	texts   []string
	err     error
	release chan struct{}
}

func (s *speakerStub) Speak(ctx context.Context, text string) error {
	s.mu.Lock()
	s.texts = append(s.texts, text)
	err := s.err
	release := s.release
	s.mu.Unlock()

	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (s *speakerStub) spoken() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.texts))
	copy(out, s.texts)
	return out
}

// sessionDeps bundles the doubles behind one test session.
type sessionDeps struct {
	stt     *sttmock.Provider
	llm     *llmmock.Provider
	speaker *speakerStub
	recipes *recipe.State
	scenes  *scene.Log
	events  *bus.Bus
}

// newSession builds a Session over fresh mocks with a short cooldown.
// mutate, when non-nil, adjusts the config before construction.
func newSession(t *testing.T, mutate func(*voice.SessionConfig)) (*voice.Session, *sessionDeps) {
	t.Helper()

	deps := &sessionDeps{
		stt:     &sttmock.Provider{Default: &types.Transcript{Text: "what is the next step"}},
		llm:     &llmmock.Provider{Default: &llm.CompletionResponse{Content: "Chop the onions."}},
		speaker: &speakerStub{},
		recipes: recipe.New(),
		scenes:  scene.NewLog(0),
		events:  bus.New(),
	}
	t.Cleanup(deps.events.Close)

	cfg := voice.SessionConfig{
		STT:      deps.stt,
		LLM:      deps.llm,
		Speaker:  deps.speaker,
		Recipes:  deps.recipes,
		Scenes:   deps.scenes,
		Bus:      deps.events,
		Logger:   discardLogger(),
		Language: "eng",
		Cooldown: 30 * time.Millisecond,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	sess, err := voice.NewSession(cfg)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	return sess, deps
}

// voiceStates drains sub without blocking and returns the voice-state
// events published so far. Safe once the turn that produced them has
// finished; publishes happen before the turn goroutine exits.
func voiceStates(sub *bus.Subscription) []bus.Event {
	var out []bus.Event
	for {
		select {
		case ev := <-sub.Events():
			if ev.Kind == bus.EventVoiceState {
				out = append(out, ev)
			}
		default:
			return out
		}
	}
}
