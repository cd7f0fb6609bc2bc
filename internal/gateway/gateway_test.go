package gateway_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/mirepoix/internal/bus"
	"github.com/MrWong99/mirepoix/internal/gateway"
	"github.com/MrWong99/mirepoix/internal/health"
	"github.com/MrWong99/mirepoix/internal/recipe"
	"github.com/MrWong99/mirepoix/internal/relay"
	"github.com/MrWong99/mirepoix/internal/scene"
	"github.com/MrWong99/mirepoix/internal/voice"
)

// stubVoice records control calls and returns scripted state.
type stubVoice struct {
	mu    sync.Mutex
	state voice.State
	muted bool
	texts []string
	asks  int
}

func (v *stubVoice) State() voice.State {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state == "" {
		return voice.StateListening
	}
	return v.state
}

func (v *stubVoice) Muted() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.muted
}

func (v *stubVoice) ToggleMute() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.muted = !v.muted
	return v.muted
}

func (v *stubVoice) ToggleAsk(context.Context) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.asks++
	return v.asks%2 == 1
}

func (v *stubVoice) HandleText(_ context.Context, text string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.texts = append(v.texts, text)
}

func (v *stubVoice) handledTexts() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]string(nil), v.texts...)
}

type fixture struct {
	voice   *stubVoice
	recipes *recipe.State
	scenes  *scene.Log
	events  *bus.Bus
	server  *gateway.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		voice:   &stubVoice{},
		recipes: recipe.New(),
		scenes:  scene.NewLog(scene.DefaultMaxEntries),
		events:  bus.New(),
	}
	t.Cleanup(f.events.Close)

	srv, err := gateway.NewServer(gateway.Config{
		Voice:     f.voice,
		Recipes:   f.recipes,
		Scenes:    f.scenes,
		Camera:    relay.NewStreamState(relay.StreamCamera),
		Processed: relay.NewStreamState(relay.StreamProcessed),
		Bus:       f.events,
		Health:    health.New(),
	})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	f.server = srv
	return f
}

func TestNewServerRequiresDependencies(t *testing.T) {
	t.Parallel()

	_, err := gateway.NewServer(gateway.Config{})
	if err == nil {
		t.Fatal("expected error for missing dependencies")
	}
}

func TestIngestArrayShape(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	body := `["Dice the onions.", {"step": "Simmer for ten minutes."}]`
	req := httptest.NewRequest("POST", "/api/ingest", strings.NewReader(body))
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", rec.Code, rec.Body)
	}

	snap := f.recipes.Snapshot()
	if len(snap.Steps) != 2 {
		t.Fatalf("steps = %v, want 2 entries", snap.Steps)
	}
	if snap.Steps[1] != "Simmer for ten minutes." {
		t.Errorf("steps[1] = %q, want coerced object step", snap.Steps[1])
	}
	if !snap.Started {
		t.Error("experience not started after array ingest")
	}
}

func TestIngestObjectShape(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	body := `{
		"message": "What can I cook with leeks?",
		"recommendations": [
			{"name": "Potato Leek Soup", "recipeTaskQueue": ["Slice the leeks.", "Sweat in butter."]}
		]
	}`
	req := httptest.NewRequest("POST", "/api/ingest", strings.NewReader(body))
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", rec.Code, rec.Body)
	}

	texts := f.voice.handledTexts()
	if len(texts) != 1 || texts[0] != "What can I cook with leeks?" {
		t.Errorf("handled texts = %v, want the chat message", texts)
	}

	tail := f.scenes.TailText(1)
	if len(tail) != 1 || !strings.Contains(tail[0], "What can I cook with leeks?") {
		t.Errorf("scene tail = %v, want chat entry", tail)
	}

	snap := f.recipes.Snapshot()
	if snap.Name != "Potato Leek Soup" {
		t.Errorf("recipe name = %q, want %q", snap.Name, "Potato Leek Soup")
	}
	if len(snap.Steps) != 2 || !snap.Started {
		t.Errorf("snapshot = %+v, want 2 steps and started", snap)
	}
}

func TestIngestMalformed(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	req := httptest.NewRequest("POST", "/api/ingest", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	if f.recipes.StepCount() != 0 {
		t.Error("malformed payload must not touch recipe state")
	}
}

func TestIngestEmptyObject(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	req := httptest.NewRequest("POST", "/api/ingest", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 when nothing ingestible", rec.Code)
	}
}

func TestStateSnapshot(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	f.recipes.Replace("Mirepoix Base", []string{"Dice the onions.", "Dice the carrots."})
	f.scenes.Append("A cutting board with onions")
	f.voice.state = voice.StateSpeaking
	f.voice.muted = true

	req := httptest.NewRequest("GET", "/api/state", nil)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var state struct {
		Voice struct {
			State string `json:"state"`
			Muted bool   `json:"muted"`
		} `json:"voice"`
		Streams []relay.StreamSnapshot `json:"streams"`
		Recipe  recipe.Snapshot        `json:"recipe"`
		Scene   []scene.Entry          `json:"scene"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &state); err != nil {
		t.Fatalf("decode state: %v", err)
	}

	if state.Voice.State != string(voice.StateSpeaking) || !state.Voice.Muted {
		t.Errorf("voice = %+v, want Speaking and muted", state.Voice)
	}
	if len(state.Streams) != 2 {
		t.Errorf("streams = %v, want camera and processed", state.Streams)
	}
	if state.Recipe.Name != "Mirepoix Base" || len(state.Recipe.Steps) != 2 {
		t.Errorf("recipe = %+v, want the replaced recipe", state.Recipe)
	}
	if len(state.Scene) != 1 {
		t.Errorf("scene = %v, want one entry", state.Scene)
	}
}

func TestMuteToggle(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	req := httptest.NewRequest("POST", "/api/controls/mute", nil)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var res map[string]bool
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !res["muted"] {
		t.Error("first toggle should report muted=true")
	}
	if !f.voice.Muted() {
		t.Error("session not muted after toggle")
	}
}

func TestAskToggle(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	req := httptest.NewRequest("POST", "/api/controls/ask", nil)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var res map[string]bool
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !res["recording"] {
		t.Error("first toggle should report recording=true")
	}
}

func TestStartControlOpensGateOnce(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	post := func() map[string]bool {
		t.Helper()
		req := httptest.NewRequest("POST", "/api/controls/start", nil)
		rec := httptest.NewRecorder()
		f.server.Handler().ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		var res map[string]bool
		if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return res
	}

	if res := post(); !res["started"] {
		t.Error("first start should report started=true")
	}
	if !f.recipes.Snapshot().Started {
		t.Error("gate not open after start control")
	}
	if res := post(); res["started"] {
		t.Error("second start should report started=false")
	}
}

func TestCORSPreflight(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	req := httptest.NewRequest("OPTIONS", "/api/controls/mute", nil)
	req.Header.Set("Origin", "http://dashboard.local")
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want *", got)
	}
}

func TestCORSHeaderOnRegularResponse(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	req := httptest.NewRequest("GET", "/api/state", nil)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want *", got)
	}
}

func TestHealthAndMetricsRoutes(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		req := httptest.NewRequest("GET", path, nil)
		rec := httptest.NewRecorder()
		f.server.Handler().ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, rec.Code)
		}
	}
}

func TestEventStream(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	srv := httptest.NewServer(f.server.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/events"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()

	// The subscription is registered during the upgrade, so a publish
	// after a successful dial is observable. Publish until the bridge
	// delivers, in case the handler goroutine is still getting started.
	deliver := make(chan struct{})
	go func() {
		defer close(deliver)
		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(10 * time.Millisecond):
				f.events.Publish(bus.NewSceneEvent("someone is whisking"))
			}
		}
	}()

	_, msg, err := conn.Read(ctx)
	cancel()
	<-deliver
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var ev bus.Event
	if err := json.Unmarshal(msg, &ev); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if ev.Kind != bus.EventScene || ev.Text != "someone is whisking" {
		t.Errorf("event = %+v, want scene event", ev)
	}
}
