// Package gateway exposes the relay's control surface: the one-shot
// recipe TCP listener and the HTTP API (recipe/chat ingest, state
// snapshot, mute and ask controls, a WebSocket event stream, health
// probes and Prometheus metrics).
//
// All HTTP routes answer CORS preflight and carry a permissive
// Access-Control-Allow-Origin so browser dashboards on other origins
// can drive the controls directly.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/mirepoix/internal/bus"
	"github.com/MrWong99/mirepoix/internal/health"
	"github.com/MrWong99/mirepoix/internal/observe"
	"github.com/MrWong99/mirepoix/internal/recipe"
	"github.com/MrWong99/mirepoix/internal/relay"
	"github.com/MrWong99/mirepoix/internal/scene"
	"github.com/MrWong99/mirepoix/internal/voice"
)

// shutdownTimeout bounds the graceful drain when the run context is
// cancelled.
const shutdownTimeout = 5 * time.Second

// defaultSceneTail is how many scene entries the state snapshot carries
// when the config does not say otherwise.
const defaultSceneTail = 20

// VoiceSession is the slice of the voice session the gateway drives.
// Implemented by [voice.Session].
type VoiceSession interface {
	State() voice.State
	Muted() bool
	ToggleMute() bool
	ToggleAsk(ctx context.Context) bool
	HandleText(ctx context.Context, text string)
}

// Config configures a [Server].
type Config struct {
	// Addr is the HTTP listen address, e.g. ":8080". Ignored when
	// Listener is set.
	Addr string

	// Listener, when set, is adopted instead of binding Addr. Run
	// closes it.
	Listener net.Listener

	// Voice drives the mute/ask controls and the text-chat path.
	// Required.
	Voice VoiceSession

	// Recipes receives ingested recipes. Required.
	Recipes *recipe.State

	// Scenes records chat messages and backs the state snapshot.
	// Required.
	Scenes *scene.Log

	// Camera and Processed contribute stream statistics to the state
	// snapshot. Either may be nil.
	Camera    *relay.StreamState
	Processed *relay.StreamState

	// Bus feeds the WebSocket event stream. Nil disables /api/events.
	Bus *bus.Bus

	// Health serves /healthz and /readyz. Nil registers no probes.
	Health *health.Handler

	// SceneTail is the number of scene entries included in the state
	// snapshot. Defaults to 20.
	SceneTail int

	// Logger defaults to [slog.Default].
	Logger *slog.Logger

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Server is the HTTP control surface. Construct with [NewServer] and
// start with [Server.Run].
type Server struct {
	addr     string
	listener net.Listener
	voice    VoiceSession
	recipes  *recipe.State
	scenes   *scene.Log
	camera   *relay.StreamState
	procd    *relay.StreamState
	events   *bus.Bus
	probes   *health.Handler
	tail     int
	logger   *slog.Logger
	meter    *observe.Metrics

	// runCtx outlives individual requests; voice turns dispatched from
	// a handler must not die with the request.
	runCtx context.Context
}

// NewServer creates a gateway HTTP server from cfg.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Voice == nil {
		return nil, errors.New("gateway: voice session is required")
	}
	if cfg.Recipes == nil {
		return nil, errors.New("gateway: recipe state is required")
	}
	if cfg.Scenes == nil {
		return nil, errors.New("gateway: scene log is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	meter := cfg.Metrics
	if meter == nil {
		meter = observe.DefaultMetrics()
	}
	tail := cfg.SceneTail
	if tail <= 0 {
		tail = defaultSceneTail
	}

	return &Server{
		addr:     cfg.Addr,
		listener: cfg.Listener,
		voice:    cfg.Voice,
		recipes:  cfg.Recipes,
		scenes:   cfg.Scenes,
		camera:   cfg.Camera,
		procd:    cfg.Processed,
		events:   cfg.Bus,
		probes:   cfg.Health,
		tail:     tail,
		logger:   logger.With("component", "gateway"),
		meter:    meter,
		runCtx:   context.Background(),
	}, nil
}

// Handler builds the full route table wrapped in the observability and
// CORS middleware. Exposed for tests; Run serves it.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/ingest", s.handleIngest)
	mux.HandleFunc("POST /api/ingest/{rest...}", s.handleIngest)
	mux.HandleFunc("GET /api/state", s.handleState)
	mux.HandleFunc("POST /api/controls/mute", s.handleMute)
	mux.HandleFunc("POST /api/controls/ask", s.handleAsk)
	mux.HandleFunc("POST /api/controls/start", s.handleStart)
	if s.events != nil {
		mux.HandleFunc("GET /api/events", s.handleEvents)
	}
	if s.probes != nil {
		s.probes.Register(mux)
	}
	mux.Handle("GET /metrics", promhttp.Handler())

	observed := observe.Middleware(s.meter)(mux)
	return corsMiddleware(observed)
}

// Run serves HTTP until ctx is cancelled, then drains in-flight
// requests for up to [shutdownTimeout].
func (s *Server) Run(ctx context.Context) error {
	ln := s.listener
	if ln == nil {
		var lc net.ListenConfig
		var err error
		ln, err = lc.Listen(ctx, "tcp", s.addr)
		if err != nil {
			return fmt.Errorf("gateway: listen on %s: %w", s.addr, err)
		}
	}

	s.runCtx = ctx
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	done := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		defer close(done)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("http shutdown incomplete", "err", err)
			srv.Close()
		}
	})
	defer stop()

	s.logger.Info("http gateway listening", "addr", ln.Addr())

	err := srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		<-done
		return ctx.Err()
	}
	return fmt.Errorf("gateway: serve: %w", err)
}

// corsMiddleware answers preflight requests and marks every response as
// cross-origin readable.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
