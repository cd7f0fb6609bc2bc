// Package app wires all Mirepoix subsystems into a running edge relay.
//
// The App struct owns the full lifecycle: New creates and connects the
// relay listeners, the voice pipeline and the gateway from config, Run
// drives every listener loop under one errgroup, and Shutdown tears the
// pipeline down in order.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/mirepoix/internal/assess"
	"github.com/MrWong99/mirepoix/internal/bus"
	"github.com/MrWong99/mirepoix/internal/config"
	"github.com/MrWong99/mirepoix/internal/gateway"
	"github.com/MrWong99/mirepoix/internal/health"
	"github.com/MrWong99/mirepoix/internal/observe"
	"github.com/MrWong99/mirepoix/internal/recipe"
	"github.com/MrWong99/mirepoix/internal/relay"
	"github.com/MrWong99/mirepoix/internal/scene"
	"github.com/MrWong99/mirepoix/internal/transcript"
	"github.com/MrWong99/mirepoix/internal/transcript/phonetic"
	"github.com/MrWong99/mirepoix/internal/voice"
	"github.com/MrWong99/mirepoix/pkg/provider/llm"
	"github.com/MrWong99/mirepoix/pkg/provider/stt"
	"github.com/MrWong99/mirepoix/pkg/provider/tts"
	"github.com/MrWong99/mirepoix/pkg/provider/vad"
	"github.com/MrWong99/mirepoix/pkg/provider/vad/energy"
	"github.com/MrWong99/mirepoix/pkg/types"
)

// Providers holds one value per provider slot, populated by main.go via
// the config registry. LLM, STT and TTS are required for the voice
// pipeline; a nil VAD falls back to the energy engine, and a nil
// Assessment reuses LLM.
type Providers struct {
	LLM        llm.Provider
	STT        stt.Provider
	TTS        tts.Provider
	VAD        vad.Engine
	Assessment llm.Provider
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	logger    *slog.Logger
	meter     *observe.Metrics

	events  *bus.Bus
	scenes  *scene.Log
	recipes *recipe.State

	cameraState *relay.StreamState
	procdState  *relay.StreamState
	forwarder   *relay.Forwarder
	camera      *relay.CameraListener
	processed   *relay.ProcessedListener
	sceneIn     *relay.SceneListener

	player    *voice.Player
	session   *voice.Session
	segmenter *voice.Segmenter
	assessor  *assess.Assessor

	httpServer *gateway.Server
	recipeIn   *gateway.RecipeListener

	// baseCtx outlives individual requests and turns; set by Run.
	baseCtx context.Context

	// closers run in order during Shutdown.
	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test
// doubles.
type Option func(*App)

// WithBus injects an event bus instead of creating one.
func WithBus(b *bus.Bus) Option {
	return func(a *App) { a.events = b }
}

// WithSceneLog injects a scene log instead of creating one from config.
func WithSceneLog(l *scene.Log) Option {
	return func(a *App) { a.scenes = l }
}

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *App) { a.logger = logger }
}

// WithMetrics overrides the default metrics.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.meter = m }
}

// New creates an App by wiring all subsystems together. The providers
// struct comes from main.go; LLM, STT and TTS must be non-nil.
func New(cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	a := &App{
		cfg:       cfg,
		providers: providers,
		baseCtx:   context.Background(),
	}
	for _, o := range opts {
		o(a)
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	if a.meter == nil {
		a.meter = observe.DefaultMetrics()
	}

	ownBus := a.events == nil
	if ownBus {
		a.events = bus.New()
	}
	if a.scenes == nil {
		maxEntries := cfg.Scene.MaxEntries
		if maxEntries <= 0 {
			maxEntries = scene.DefaultMaxEntries
		}
		a.scenes = scene.NewLog(maxEntries)
	}

	if err := a.initVoice(); err != nil {
		return nil, fmt.Errorf("app: init voice: %w", err)
	}
	if err := a.initRelay(); err != nil {
		return nil, fmt.Errorf("app: init relay: %w", err)
	}
	if err := a.initAssessor(); err != nil {
		return nil, fmt.Errorf("app: init assessor: %w", err)
	}
	if err := a.initGateway(); err != nil {
		return nil, fmt.Errorf("app: init gateway: %w", err)
	}

	// Teardown order: stop producing verdicts and turns before closing
	// the playback and forwarding sockets, and close the bus last so
	// everything may publish until it stops.
	a.closers = []func() error{
		a.assessor.Close,
		a.session.Close,
		a.player.Close,
		a.forwarder.Close,
	}
	if ownBus {
		a.closers = append(a.closers, func() error {
			a.events.Close()
			return nil
		})
	}

	return a, nil
}

// initVoice builds the playback path, the recipe state with its
// greeting announcer, the turn session, and the microphone segmenter.
func (a *App) initVoice() error {
	player, err := voice.NewPlayer(voice.PlayerConfig{
		Target:       a.cfg.Audio.SpeakerAddr,
		TTS:          a.providers.TTS,
		Voice:        types.VoiceProfile{ID: a.cfg.Voice.VoiceID},
		SampleRate:   a.cfg.Audio.SampleRate,
		PacketBytes:  a.cfg.Audio.PacketBytes,
		PacingFactor: a.cfg.Audio.PacingFactor,
		Muted:        func() bool { return a.session != nil && a.session.Muted() },
		Logger:       a.logger,
		Metrics:      a.meter,
	})
	if err != nil {
		return err
	}
	a.player = player

	a.recipes = recipe.New(
		recipe.WithBus(a.events),
		recipe.WithSceneLog(a.scenes),
		recipe.WithAnnouncer(a.announce),
		recipe.WithLogger(a.logger),
	)

	corrector := transcript.NewCorrector(phonetic.New(), func() []string {
		return transcript.StepTerms(a.recipes.Snapshot().Steps)
	})

	session, err := voice.NewSession(voice.SessionConfig{
		STT:                  a.providers.STT,
		LLM:                  a.providers.LLM,
		Speaker:              player,
		Corrector:            corrector,
		Recipes:              a.recipes,
		Scenes:               a.scenes,
		Bus:                  a.events,
		Logger:               a.logger,
		Metrics:              a.meter,
		SystemPrompt:         a.cfg.Voice.SystemPrompt,
		MaxTokens:            a.cfg.Voice.MaxTokens,
		SceneTail:            a.cfg.Voice.SceneTail,
		Cooldown:             a.cfg.Voice.Cooldown,
		SourceSampleRate:     a.cfg.Audio.SampleRate,
		Language:             a.cfg.Voice.Language,
		ManualHonorsCooldown: !manualBypasses(a.cfg.Voice.ManualBypassesCooldown),
	})
	if err != nil {
		return err
	}
	a.session = session

	engine := a.providers.VAD
	if engine == nil {
		engine = energy.New()
	}
	segmenter, err := voice.NewSegmenter(voice.SegmenterConfig{
		Addr:             a.cfg.Audio.MicAddr,
		Session:          session,
		Gate:             a.recipes,
		Engine:           engine,
		Logger:           a.logger,
		Metrics:          a.meter,
		SourceSampleRate: a.cfg.Audio.SampleRate,
		Threshold:        a.cfg.Voice.Threshold,
		MinSilence:       a.cfg.Voice.MinSilence,
		SpeechPad:        a.cfg.Voice.SpeechPad,
	})
	if err != nil {
		return err
	}
	a.segmenter = segmenter

	return nil
}

// initRelay builds the camera, processed and scene listeners and the
// compute-node forwarder.
func (a *App) initRelay() error {
	a.cameraState = relay.NewStreamState(relay.StreamCamera)
	a.procdState = relay.NewStreamState(relay.StreamProcessed)

	forwarder, err := relay.NewForwarder(relay.ForwarderConfig{
		Target:  a.cfg.Relay.ForwardAddr,
		Gate:    a.recipes,
		Logger:  a.logger,
		Metrics: a.meter,
	})
	if err != nil {
		return err
	}
	a.forwarder = forwarder

	a.camera = relay.NewCameraListener(relay.CameraConfig{
		Addr:          a.cfg.Relay.CameraAddr,
		State:         a.cameraState,
		Forwarder:     forwarder,
		Bus:           a.events,
		Logger:        a.logger,
		Metrics:       a.meter,
		MaxFrameBytes: a.cfg.Relay.MaxFrameBytes,
	})

	a.processed = relay.NewProcessedListener(relay.ProcessedConfig{
		Addr:    a.cfg.Relay.ProcessedAddr,
		State:   a.procdState,
		Bus:     a.events,
		Logger:  a.logger,
		Metrics: a.meter,
	})

	a.sceneIn = relay.NewSceneListener(relay.SceneConfig{
		Addr:    a.cfg.Relay.SceneAddr,
		Log:     a.scenes,
		Bus:     a.events,
		Kick:    a.kickAssessor,
		Logger:  a.logger,
		Metrics: a.meter,
	})

	return nil
}

// initAssessor builds the step-completion assessor. A dedicated
// assessment provider is used when configured, otherwise the
// conversational one.
func (a *App) initAssessor() error {
	model := a.providers.Assessment
	if model == nil {
		model = a.providers.LLM
	}

	assessor, err := assess.New(assess.Config{
		LLM:          model,
		Recipes:      a.recipes,
		Scenes:       a.scenes,
		Bus:          a.events,
		Logger:       a.logger,
		Metrics:      a.meter,
		SystemPrompt: a.cfg.Assessment.SystemPrompt,
		MaxTokens:    a.cfg.Assessment.MaxTokens,
	})
	if err != nil {
		return err
	}
	a.assessor = assessor
	return nil
}

// initGateway builds the HTTP control surface and the one-shot recipe
// TCP listener.
func (a *App) initGateway() error {
	probes := health.New(health.Checker{
		Name: "providers",
		Check: func(context.Context) error {
			if a.providers.LLM == nil || a.providers.STT == nil || a.providers.TTS == nil {
				return fmt.Errorf("voice pipeline providers missing")
			}
			return nil
		},
	})

	server, err := gateway.NewServer(gateway.Config{
		Addr:      a.cfg.Server.HTTPAddr,
		Voice:     a.session,
		Recipes:   a.recipes,
		Scenes:    a.scenes,
		Camera:    a.cameraState,
		Processed: a.procdState,
		Bus:       a.events,
		Health:    probes,
		SceneTail: a.cfg.Voice.SceneTail,
		Logger:    a.logger,
		Metrics:   a.meter,
	})
	if err != nil {
		return err
	}
	a.httpServer = server

	a.recipeIn = gateway.NewRecipeListener(gateway.RecipeConfig{
		Addr:            a.cfg.Recipe.ListenAddr,
		Recipes:         a.recipes,
		Logger:          a.logger,
		Metrics:         a.meter,
		MaxPayloadBytes: a.cfg.Recipe.MaxPayloadBytes,
	})

	return nil
}

// announce speaks a greeting without going through a voice turn. Runs
// in its own goroutine so recipe ingestion never blocks on playback.
func (a *App) announce(text string) {
	go func() {
		if err := a.player.Speak(a.baseCtx, text); err != nil {
			a.logger.Warn("announcement playback failed", "err", err)
		}
	}()
}

// kickAssessor nudges the assessor after a scene append.
func (a *App) kickAssessor() {
	a.assessor.Kick(a.baseCtx)
}

// Run starts every listener loop and blocks until ctx is cancelled or a
// listener fails. The returned error is ctx.Err() on a clean shutdown.
func (a *App) Run(ctx context.Context) error {
	a.baseCtx = ctx

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.camera.Run(ctx) })
	g.Go(func() error { return a.processed.Run(ctx) })
	g.Go(func() error { return a.sceneIn.Run(ctx) })
	g.Go(func() error { return a.segmenter.Run(ctx) })
	g.Go(func() error { return a.recipeIn.Run(ctx) })
	g.Go(func() error { return a.httpServer.Run(ctx) })

	a.logger.Info("mirepoix running",
		"camera", a.cfg.Relay.CameraAddr,
		"mic", a.cfg.Audio.MicAddr,
		"http", a.cfg.Server.HTTPAddr,
	)

	return g.Wait()
}

// Shutdown tears down subsystems in init order. It respects the context
// deadline: when ctx expires, remaining closers are skipped.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.logger.Info("shutting down", "closers", len(a.closers))

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				a.logger.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				a.logger.Warn("closer error", "index", i, "err", err)
			}
		}

		a.logger.Info("shutdown complete")
	})
	return shutdownErr
}

// Session exposes the voice session for the config hot-reload path.
func (a *App) Session() *voice.Session { return a.session }

// ApplyPrompts pushes updated prompt tuning from a reloaded config into
// the running session and assessor.
func (a *App) ApplyPrompts(cfg *config.Config) {
	a.session.SetPrompts(cfg.Voice.SystemPrompt, cfg.Voice.MaxTokens, cfg.Voice.SceneTail)
	a.assessor.SetPrompts(cfg.Assessment.SystemPrompt, cfg.Assessment.MaxTokens)
}

// manualBypasses resolves the tri-state config flag; unset means the
// manual ask button works even during cooldown.
func manualBypasses(v *bool) bool {
	if v == nil {
		return true
	}
	return *v
}
