package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/MrWong99/mirepoix/internal/observe"
	"github.com/MrWong99/mirepoix/internal/recipe"
	"github.com/MrWong99/mirepoix/pkg/wire"
)

// defaultMaxRecipeBytes bounds a recipe payload's declared length.
const defaultMaxRecipeBytes = 10 << 20

// recipeReadTimeout bounds how long a connected sender may take to
// deliver its one payload.
const recipeReadTimeout = 30 * time.Second

// RecipeListener serves the legacy one-shot recipe ingest: each TCP
// connection delivers exactly one length-prefixed JSON array of steps
// and is then closed. A well-formed payload replaces the active recipe
// and starts the experience; a malformed one is logged and discarded
// with the state untouched.
type RecipeListener struct {
	addr     string
	listener net.Listener
	recipes  *recipe.State
	logger   *slog.Logger
	meter    *observe.Metrics
	maxBytes uint32
}

// RecipeConfig configures a [RecipeListener].
type RecipeConfig struct {
	// Addr is the TCP listen address, e.g. ":9005". Ignored when
	// Listener is set.
	Addr string

	// Listener, when set, is adopted instead of binding Addr. Run
	// closes it.
	Listener net.Listener

	// Recipes receives ingested recipes. Required.
	Recipes *recipe.State

	// Logger defaults to [slog.Default].
	Logger *slog.Logger

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// MaxPayloadBytes bounds a declared payload length. Defaults to
	// 10 MiB.
	MaxPayloadBytes uint32
}

// NewRecipeListener creates a recipe listener from cfg.
func NewRecipeListener(cfg RecipeConfig) *RecipeListener {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	meter := cfg.Metrics
	if meter == nil {
		meter = observe.DefaultMetrics()
	}
	maxBytes := cfg.MaxPayloadBytes
	if maxBytes == 0 {
		maxBytes = defaultMaxRecipeBytes
	}

	return &RecipeListener{
		addr:     cfg.Addr,
		listener: cfg.Listener,
		recipes:  cfg.Recipes,
		logger:   logger.With("component", "recipe-ingest"),
		meter:    meter,
		maxBytes: maxBytes,
	}
}

// Run accepts connections until ctx is cancelled. Each connection is
// served inline; senders deliver one payload and disconnect, so there
// is nothing to gain from per-connection goroutines.
func (l *RecipeListener) Run(ctx context.Context) error {
	ln := l.listener
	if ln == nil {
		var lc net.ListenConfig
		var err error
		ln, err = lc.Listen(ctx, "tcp", l.addr)
		if err != nil {
			return fmt.Errorf("gateway: listen recipes on %s: %w", l.addr, err)
		}
	}
	defer ln.Close()

	// Closing the listener unblocks Accept when ctx is cancelled.
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	l.logger.Info("listening for recipes", "addr", ln.Addr())

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			l.logger.Warn("recipe accept failed", "err", err)
			continue
		}
		l.serve(conn)
	}
}

// serve reads and applies one payload, then closes the connection.
func (l *RecipeListener) serve(conn net.Conn) {
	defer conn.Close()

	remote := conn.RemoteAddr().String()
	conn.SetReadDeadline(time.Now().Add(recipeReadTimeout))

	payload, err := wire.ReadMessage(bufio.NewReader(conn), l.maxBytes)
	if err != nil {
		l.logger.Warn("recipe read failed", "remote", remote, "err", err)
		return
	}

	var items []any
	if err := json.Unmarshal(payload, &items); err != nil {
		l.logger.Warn("recipe payload rejected", "remote", remote, "bytes", len(payload), "err", err)
		return
	}
	steps := recipe.CoerceSteps(items)
	if len(steps) == 0 {
		l.logger.Warn("recipe payload empty", "remote", remote)
		return
	}

	l.recipes.Replace("", steps)
	l.recipes.StartExperience(recipe.StepCountGreeting(len(steps)))
	l.logger.Info("recipe ingested", "remote", remote, "steps", len(steps))
}
