package relay

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"

	"github.com/MrWong99/mirepoix/internal/observe"
	"github.com/MrWong99/mirepoix/pkg/wire"
)

// Forwarder re-emits camera frames to the compute node over a
// connected UDP socket. Send errors are counted and logged at debug,
// never fatal: the compute node being down must not stall the camera
// read loop. Nothing is sent until the experience gate opens.
type Forwarder struct {
	conn   *net.UDPConn
	gate   Gate
	logger *slog.Logger
	meter  *observe.Metrics

	sent     atomic.Uint64
	sendErrs atomic.Uint64
}

// ForwarderConfig configures a [Forwarder].
type ForwarderConfig struct {
	// Target is the compute node's host:port.
	Target string

	// Gate suppresses forwarding until the experience starts. Nil
	// means always forward.
	Gate Gate

	// Logger defaults to [slog.Default].
	Logger *slog.Logger

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// NewForwarder resolves the target and connects the UDP socket.
func NewForwarder(cfg ForwarderConfig) (*Forwarder, error) {
	addr, err := net.ResolveUDPAddr("udp", cfg.Target)
	if err != nil {
		return nil, fmt.Errorf("relay: resolve forward target %q: %w", cfg.Target, err)
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("relay: dial forward target %q: %w", cfg.Target, err)
	}
	if err := conn.SetWriteBuffer(socketBufferSize); err != nil {
		slog.Debug("set forward send buffer", "err", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	meter := cfg.Metrics
	if meter == nil {
		meter = observe.DefaultMetrics()
	}

	return &Forwarder{
		conn:   conn,
		gate:   cfg.Gate,
		logger: logger.With("component", "forwarder"),
		meter:  meter,
	}, nil
}

// Forward frames the payload and sends it to the compute node. It is
// a no-op while the experience gate is closed.
func (f *Forwarder) Forward(ctx context.Context, payload []byte) {
	if f.gate != nil && !f.gate.Started() {
		return
	}

	if _, err := f.conn.Write(wire.Encode(payload)); err != nil {
		f.sendErrs.Add(1)
		f.meter.ForwardErrors.Add(ctx, 1)
		f.logger.Debug("forward send failed", "err", err, "total_errors", f.sendErrs.Load())
		return
	}
	f.sent.Add(1)
	f.meter.FramesForwarded.Add(ctx, 1)
}

// Sent reports how many frames have been forwarded.
func (f *Forwarder) Sent() uint64 {
	return f.sent.Load()
}

// SendErrors reports how many sends have failed.
func (f *Forwarder) SendErrors() uint64 {
	return f.sendErrs.Load()
}

// Close releases the socket.
func (f *Forwarder) Close() error {
	return f.conn.Close()
}
