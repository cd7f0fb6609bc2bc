package relay

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"unicode/utf8"

	"github.com/MrWong99/mirepoix/internal/bus"
	"github.com/MrWong99/mirepoix/internal/observe"
	"github.com/MrWong99/mirepoix/internal/scene"
)

// SceneListener receives plain-text scene descriptions from the
// compute node, one UTF-8 string per UDP datagram, and appends them to
// the scene log. Each accepted entry also kicks the progress assessor
// so fresh context is evaluated promptly.
type SceneListener struct {
	addr   string
	conn   *net.UDPConn
	scenes *scene.Log
	events *bus.Bus
	kick   func()
	logger *slog.Logger
	meter  *observe.Metrics
}

// SceneConfig configures a [SceneListener].
type SceneConfig struct {
	// Addr is the UDP listen address, e.g. ":9003". Ignored when Conn
	// is set.
	Addr string

	// Conn, when set, is adopted instead of binding Addr. Run closes
	// it.
	Conn *net.UDPConn

	// Log receives accepted scene entries. Required.
	Log *scene.Log

	// Bus receives a scene event per accepted entry. Nil disables
	// publishing.
	Bus *bus.Bus

	// Kick is invoked after every accepted entry; the assessor decides
	// for itself whether a run is due. Nil disables kicking.
	Kick func()

	// Logger defaults to [slog.Default].
	Logger *slog.Logger

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// NewSceneListener creates a scene-text listener from cfg.
func NewSceneListener(cfg SceneConfig) *SceneListener {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	meter := cfg.Metrics
	if meter == nil {
		meter = observe.DefaultMetrics()
	}
	return &SceneListener{
		addr:   cfg.Addr,
		conn:   cfg.Conn,
		scenes: cfg.Log,
		events: cfg.Bus,
		kick:   cfg.Kick,
		logger: logger.With("component", "scene"),
		meter:  meter,
	}
}

// Run receives datagrams until ctx is cancelled. Empty or non-UTF-8
// datagrams are dropped.
func (l *SceneListener) Run(ctx context.Context) error {
	conn := l.conn
	if conn == nil {
		var err error
		conn, err = listenUDP(ctx, l.addr)
		if err != nil {
			return fmt.Errorf("relay: listen scene on %s: %w", l.addr, err)
		}
	}
	defer conn.Close()

	l.logger.Info("listening for scene text", "addr", conn.LocalAddr())

	return udpReceiveLoop(ctx, conn, func(data []byte, remote net.Addr) {
		if len(data) == 0 || !utf8.Valid(data) {
			l.logger.Debug("dropping invalid scene datagram",
				"remote", remote, "bytes", len(data))
			return
		}

		text := string(data)
		l.scenes.Append(text)
		l.meter.SceneEntries.Add(ctx, 1)
		l.logger.Debug("scene entry", "text", text)
		if l.events != nil {
			l.events.Publish(bus.NewSceneEvent(text))
		}
		if l.kick != nil {
			l.kick()
		}
	})
}
