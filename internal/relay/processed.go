package relay

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"github.com/MrWong99/mirepoix/internal/bus"
	"github.com/MrWong99/mirepoix/internal/observe"
	"github.com/MrWong99/mirepoix/pkg/wire"
)

// ProcessedListener receives annotated frames back from the compute
// node as length-prefixed UDP datagrams. The first datagram marks the
// node connected; there is no liveness probe in the other direction.
type ProcessedListener struct {
	addr   string
	conn   *net.UDPConn
	state  *StreamState
	events *bus.Bus
	logger *slog.Logger
	meter  *observe.Metrics
}

// ProcessedConfig configures a [ProcessedListener].
type ProcessedConfig struct {
	// Addr is the UDP listen address, e.g. ":9002". Ignored when Conn
	// is set.
	Addr string

	// Conn, when set, is adopted instead of binding Addr. Run closes
	// it.
	Conn *net.UDPConn

	// State receives per-frame updates. Required.
	State *StreamState

	// Bus receives a frame event per accepted frame. Nil disables
	// publishing.
	Bus *bus.Bus

	// Logger defaults to [slog.Default].
	Logger *slog.Logger

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// NewProcessedListener creates a processed-frame listener from cfg.
func NewProcessedListener(cfg ProcessedConfig) *ProcessedListener {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	meter := cfg.Metrics
	if meter == nil {
		meter = observe.DefaultMetrics()
	}
	return &ProcessedListener{
		addr:   cfg.Addr,
		conn:   cfg.Conn,
		state:  cfg.State,
		events: cfg.Bus,
		logger: logger.With("component", "processed"),
		meter:  meter,
	}
}

// Run receives datagrams until ctx is cancelled. Malformed datagrams
// are counted and dropped; the stream keeps flowing.
func (l *ProcessedListener) Run(ctx context.Context) error {
	conn := l.conn
	if conn == nil {
		var err error
		conn, err = listenUDP(ctx, l.addr)
		if err != nil {
			return fmt.Errorf("relay: listen processed on %s: %w", l.addr, err)
		}
	}
	defer conn.Close()

	l.logger.Info("listening for processed frames", "addr", conn.LocalAddr())

	return udpReceiveLoop(ctx, conn, func(data []byte, remote net.Addr) {
		// Any datagram proves the node is reachable, framed or not.
		if !l.state.Connected() {
			l.logger.Info("compute node sending processed frames", "remote", remote)
			l.state.SetConnected(true, remote.String())
		}

		payload, err := wire.Decode(data)
		if err != nil {
			l.meter.RecordFramingError(ctx, StreamProcessed)
			l.logger.Debug("dropping malformed processed frame",
				"remote", remote, "bytes", len(data), "err", err)
			return
		}

		_, fps := l.state.RecordFrame(payload, remote.String())
		l.meter.RecordFrameReceived(ctx, StreamProcessed)
		if l.events != nil {
			l.events.Publish(bus.NewFrameEvent(StreamProcessed, len(payload), fps))
		}
	})
}
