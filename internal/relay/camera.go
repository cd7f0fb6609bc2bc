package relay

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/MrWong99/mirepoix/internal/bus"
	"github.com/MrWong99/mirepoix/internal/observe"
	"github.com/MrWong99/mirepoix/pkg/wire"
)

// CameraListener accepts the capture device's persistent TCP connection
// and reads length-prefixed frames from it. One connection is served at
// a time; when it drops the listener marks the stream disconnected and
// re-enters the accept loop.
type CameraListener struct {
	addr      string
	listener  net.Listener
	state     *StreamState
	forwarder *Forwarder
	events    *bus.Bus
	logger    *slog.Logger
	meter     *observe.Metrics

	maxFrameBytes    uint32
	acceptBackoff    time.Duration
	maxAcceptBackoff time.Duration
}

// CameraConfig configures a [CameraListener].
type CameraConfig struct {
	// Addr is the TCP listen address, e.g. ":9000". Ignored when
	// Listener is set.
	Addr string

	// Listener, when set, is adopted instead of binding Addr. Run
	// closes it.
	Listener net.Listener

	// State receives per-frame updates. Required.
	State *StreamState

	// Forwarder re-emits accepted frames to the compute node. Nil
	// disables forwarding.
	Forwarder *Forwarder

	// Bus receives a frame event per accepted frame. Nil disables
	// publishing.
	Bus *bus.Bus

	// Logger defaults to [slog.Default].
	Logger *slog.Logger

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// MaxFrameBytes bounds a declared frame length. Defaults to 16 MiB.
	MaxFrameBytes uint32

	// AcceptBackoff is the initial delay after a failed accept; it
	// doubles per failure up to MaxAcceptBackoff. Defaults to
	// 100ms / 2s.
	AcceptBackoff    time.Duration
	MaxAcceptBackoff time.Duration
}

// NewCameraListener creates a camera listener from cfg.
func NewCameraListener(cfg CameraConfig) *CameraListener {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	meter := cfg.Metrics
	if meter == nil {
		meter = observe.DefaultMetrics()
	}
	maxFrame := cfg.MaxFrameBytes
	if maxFrame == 0 {
		maxFrame = defaultMaxFrameBytes
	}
	backoff := cfg.AcceptBackoff
	if backoff <= 0 {
		backoff = defaultAcceptBackoff
	}
	maxBackoff := cfg.MaxAcceptBackoff
	if maxBackoff <= 0 {
		maxBackoff = defaultMaxAcceptBackoff
	}

	return &CameraListener{
		addr:             cfg.Addr,
		listener:         cfg.Listener,
		state:            cfg.State,
		forwarder:        cfg.Forwarder,
		events:           cfg.Bus,
		logger:           logger.With("component", "camera"),
		meter:            meter,
		maxFrameBytes:    maxFrame,
		acceptBackoff:    backoff,
		maxAcceptBackoff: maxBackoff,
	}
}

// Run accepts connections until ctx is cancelled. Accept errors retry
// with doubling backoff; a successful accept resets it.
func (l *CameraListener) Run(ctx context.Context) error {
	ln := l.listener
	if ln == nil {
		var lc net.ListenConfig
		var err error
		ln, err = lc.Listen(ctx, "tcp", l.addr)
		if err != nil {
			return fmt.Errorf("relay: listen camera on %s: %w", l.addr, err)
		}
	}
	defer ln.Close()

	// Closing the listener unblocks Accept when ctx is cancelled.
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	l.logger.Info("listening for camera", "addr", ln.Addr())

	backoff := l.acceptBackoff
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			l.logger.Warn("camera accept failed", "err", err, "backoff", backoff)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > l.maxAcceptBackoff {
				backoff = l.maxAcceptBackoff
			}
			continue
		}
		backoff = l.acceptBackoff

		l.serve(ctx, conn)
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// serve reads frames from one camera connection until it drops or ctx
// is cancelled.
func (l *CameraListener) serve(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	// Closing the connection unblocks a pending read on shutdown.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	remote := conn.RemoteAddr().String()
	l.logger.Info("camera connected", "remote", remote)
	l.state.SetConnected(true, remote)
	defer l.state.SetConnected(false, remote)

	r := bufio.NewReaderSize(conn, 64<<10)
	for {
		payload, err := wire.ReadMessage(r, l.maxFrameBytes)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, io.EOF) {
				l.logger.Info("camera disconnected", "remote", remote)
			} else {
				l.logger.Warn("camera read failed", "remote", remote, "err", err)
			}
			return
		}

		_, fps := l.state.RecordFrame(payload, remote)
		l.meter.RecordFrameReceived(ctx, StreamCamera)
		if l.events != nil {
			l.events.Publish(bus.NewFrameEvent(StreamCamera, len(payload), fps))
		}
		if l.forwarder != nil {
			l.forwarder.Forward(ctx, payload)
		}
	}
}
