// Package assess asks the language model which recipe steps the camera
// has seen completed. Every accepted scene entry kicks the assessor; a
// run actually starts only when the experience has begun, a recipe is
// loaded, and no other run is in flight.
package assess

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/kaptinlin/jsonrepair"

	"github.com/MrWong99/mirepoix/internal/bus"
	"github.com/MrWong99/mirepoix/internal/observe"
	"github.com/MrWong99/mirepoix/internal/recipe"
	"github.com/MrWong99/mirepoix/internal/scene"
	"github.com/MrWong99/mirepoix/pkg/provider/llm"
	"github.com/MrWong99/mirepoix/pkg/types"
)

// DefaultSystemPrompt pins the model to machine-readable output. The
// parser still repairs the JSON when a backend decorates it anyway.
const DefaultSystemPrompt = "You are a kitchen task tracker. Given visual " +
	"observations from a kitchen camera and a list of recipe steps, " +
	"determine which steps appear to be completed based on the visual " +
	"evidence. Return ONLY valid JSON with no markdown formatting: " +
	"{\"completed\": [0, 2, 3]} where values are 0-indexed step numbers. " +
	"If no steps are completed, return {\"completed\": []}."

// DefaultMaxTokens caps the assessment reply; an index list never needs
// more.
const DefaultMaxTokens = 256

// Config configures an [Assessor].
type Config struct {
	// LLM answers the step-completion question. Required.
	LLM llm.Provider

	// Recipes supplies the step list, the experience gate, and receives
	// the completion verdict. Required.
	Recipes *recipe.State

	// Scenes is the observation log quoted in full. Required.
	Scenes *scene.Log

	// Bus receives a recipe-progress event per applied verdict. Optional.
	Bus *bus.Bus

	// Logger defaults to [slog.Default].
	Logger *slog.Logger

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// SystemPrompt defaults to [DefaultSystemPrompt].
	SystemPrompt string

	// MaxTokens defaults to [DefaultMaxTokens].
	MaxTokens int
}

// Assessor runs at most one step-completion check at a time. Kicks that
// arrive while a check is running are dropped, not queued: the next
// scene entry will kick again soon enough.
type Assessor struct {
	llm     llm.Provider
	recipes *recipe.State
	scenes  *scene.Log
	events  *bus.Bus
	logger  *slog.Logger
	meter   *observe.Metrics

	mu           sync.Mutex
	systemPrompt string
	maxTokens    int

	inFlight atomic.Bool
	wg       sync.WaitGroup
}

// New validates cfg, applies defaults, and returns an Assessor.
func New(cfg Config) (*Assessor, error) {
	switch {
	case cfg.LLM == nil:
		return nil, fmt.Errorf("assess: assessor requires an llm provider")
	case cfg.Recipes == nil:
		return nil, fmt.Errorf("assess: assessor requires recipe state")
	case cfg.Scenes == nil:
		return nil, fmt.Errorf("assess: assessor requires a scene log")
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

	return &Assessor{
		llm:          cfg.LLM,
		recipes:      cfg.Recipes,
		scenes:       cfg.Scenes,
		events:       cfg.Bus,
		logger:       logger.With("component", "assess"),
		meter:        meter,
		systemPrompt: systemPrompt,
		maxTokens:    maxTokens,
	}, nil
}

// Kick requests an assessment and returns immediately; the run happens
// on its own goroutine. The kick is dropped when the experience has not
// started, no recipe is loaded, or a run is already in flight.
func (a *Assessor) Kick(ctx context.Context) {
	if !a.recipes.Started() || a.recipes.StepCount() == 0 {
		return
	}
	if !a.inFlight.CompareAndSwap(false, true) {
		return
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.inFlight.Store(false)
		a.run(ctx)
	}()
}

// SetPrompts updates the completion tuning for subsequent runs. Zero
// values keep the current settings. Used by the config hot-reload path.
func (a *Assessor) SetPrompts(systemPrompt string, maxTokens int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if systemPrompt != "" {
		a.systemPrompt = systemPrompt
	}
	if maxTokens > 0 {
		a.maxTokens = maxTokens
	}
}

// InFlight reports whether a check is currently running.
func (a *Assessor) InFlight() bool {
	return a.inFlight.Load()
}

// Close waits for an in-flight check to finish.
func (a *Assessor) Close() error {
	a.wg.Wait()
	return nil
}

func (a *Assessor) run(ctx context.Context) {
	runID := uuid.NewString()
	logger := a.logger.With("assessment", runID)
	start := time.Now()

	// Re-read under the in-flight flag; the recipe may have been
	// replaced since the kick.
	snap := a.recipes.Snapshot()
	if len(snap.Steps) == 0 {
		return
	}
	observations := a.scenes.TailText(a.scenes.Len())

	a.mu.Lock()
	systemPrompt, maxTokens := a.systemPrompt, a.maxTokens
	a.mu.Unlock()

	resp, err := a.llm.Complete(ctx, llm.CompletionRequest{
		Messages:     []types.Message{{Role: "user", Content: buildPrompt(snap.Steps, observations)}},
		MaxTokens:    maxTokens,
		SystemPrompt: systemPrompt,
	})
	a.meter.AssessmentDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		logger.Warn("assessment completion failed", "err", err)
		a.meter.RecordAssessment(ctx, "llm_error", 0)
		return
	}

	completed, err := parseCompleted(resp.Content)
	if err != nil {
		logger.Warn("assessment reply not parseable", "err", err, "reply", resp.Content)
		a.meter.RecordAssessment(ctx, "parse_error", 0)
		return
	}

	changed := a.recipes.SetCompleted(completed)

	// Report the applied flags, not the raw model output: duplicates
	// and out-of-range indices have been dropped by now.
	applied := appliedIndices(a.recipes.Snapshot().Completed)
	logger.Info("step check applied", "completed", applied, "changed", changed)
	if a.events != nil {
		a.events.Publish(bus.NewRecipeProgressEvent(applied))
	}
	a.meter.RecordAssessment(ctx, "ok", len(applied))
}

// buildPrompt lists the steps 0-indexed, matching the index convention
// the system prompt asks the model to answer in.
func buildPrompt(steps, observations []string) string {
	var b strings.Builder
	b.WriteString("Recipe steps:\n")
	for i, step := range steps {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%d. %s", i, step)
	}
	b.WriteString("\n\nKitchen camera observations:\n")
	b.WriteString(strings.Join(observations, "\n"))
	b.WriteString("\n\nBased on these observations, which steps are completed?")
	return b.String()
}

// parseCompleted extracts the completed-step indices from a model
// reply: code fences stripped, malformed JSON repaired before giving
// up.
func parseCompleted(reply string) ([]int, error) {
	text := strings.TrimSpace(reply)
	if after, found := strings.CutPrefix(text, "```"); found {
		if _, rest, ok := strings.Cut(after, "\n"); ok {
			text = rest
		}
	}
	text = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(text), "```"))

	var out struct {
		Completed []int `json:"completed"`
	}
	if err := unmarshalRepaired(text, &out); err != nil {
		return nil, err
	}
	return out.Completed, nil
}

// unmarshalRepaired unmarshals data into v, running it through
// jsonrepair and retrying once when the first pass fails with a syntax
// error.
func unmarshalRepaired(data string, v any) error {
	err := json.Unmarshal([]byte(data), v)
	if err == nil {
		return nil
	}
	if _, ok := err.(*json.SyntaxError); !ok {
		return err
	}
	fixed, rerr := jsonrepair.JSONRepair(data)
	if rerr != nil {
		return fmt.Errorf("assess: repair json: %w", rerr)
	}
	return json.Unmarshal([]byte(fixed), v)
}

// appliedIndices converts completion flags back to a sorted index list.
func appliedIndices(flags []bool) []int {
	out := make([]int, 0, len(flags))
	for i, done := range flags {
		if done {
			out = append(out, i)
		}
	}
	return out
}
