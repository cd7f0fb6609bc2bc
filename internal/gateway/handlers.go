package gateway

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/MrWong99/mirepoix/internal/recipe"
	"github.com/MrWong99/mirepoix/internal/relay"
	"github.com/MrWong99/mirepoix/internal/scene"
)

// maxIngestBytes bounds an HTTP ingest body. Matches the TCP ingest
// ceiling.
const maxIngestBytes = 10 << 20

// ingestObject is the object-shaped ingest payload. The array shape is
// tried first; this shape carries an optional chat message and recipe
// recommendations from the planning service.
type ingestObject struct {
	Message         string `json:"message"`
	Recommendations []struct {
		Name            string `json:"name"`
		RecipeTaskQueue []any  `json:"recipeTaskQueue"`
	} `json:"recommendations"`
}

// ingestResult reports what an ingest request changed.
type ingestResult struct {
	Recipe  string `json:"recipe,omitempty"`
	Steps   int    `json:"steps,omitempty"`
	Message bool   `json:"message,omitempty"`
}

// handleIngest accepts either a bare JSON array of steps or the
// object-shaped payload. The array shape wins when both parse.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxIngestBytes+1))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}
	if len(body) > maxIngestBytes {
		http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
		return
	}

	// Array shape first: a plain list of steps.
	var items []any
	if err := json.Unmarshal(body, &items); err == nil {
		steps := recipe.CoerceSteps(items)
		if len(steps) == 0 {
			http.Error(w, "empty recipe", http.StatusBadRequest)
			return
		}
		s.recipes.Replace("", steps)
		s.recipes.StartExperience(recipe.StepCountGreeting(len(steps)))
		s.logger.Info("recipe ingested", "shape", "array", "steps", len(steps))
		writeJSON(w, http.StatusOK, ingestResult{Steps: len(steps)})
		return
	}

	var obj ingestObject
	if err := json.Unmarshal(body, &obj); err != nil {
		s.logger.Warn("ingest payload rejected", "err", err)
		http.Error(w, "malformed payload", http.StatusBadRequest)
		return
	}

	var res ingestResult
	if obj.Message != "" {
		s.scenes.AppendTagged(scene.TagChat, obj.Message)
		s.voice.HandleText(s.runCtx, obj.Message)
		res.Message = true
	}
	if len(obj.Recommendations) > 0 {
		rec := obj.Recommendations[0]
		steps := recipe.CoerceSteps(rec.RecipeTaskQueue)
		if len(steps) > 0 {
			s.recipes.Replace(rec.Name, steps)
			s.recipes.StartExperience(recipe.LoadedGreeting(rec.Name, len(steps)))
			s.logger.Info("recipe ingested", "shape", "object", "name", rec.Name, "steps", len(steps))
			res.Recipe = rec.Name
			res.Steps = len(steps)
		}
	}
	if !res.Message && res.Steps == 0 {
		http.Error(w, "nothing to ingest", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// stateResponse is the GET /api/state body.
type stateResponse struct {
	Voice   voiceState             `json:"voice"`
	Streams []relay.StreamSnapshot `json:"streams"`
	Recipe  recipe.Snapshot        `json:"recipe"`
	Scene   []scene.Entry          `json:"scene"`
}

type voiceState struct {
	State string `json:"state"`
	Muted bool   `json:"muted"`
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	res := stateResponse{
		Voice: voiceState{
			State: string(s.voice.State()),
			Muted: s.voice.Muted(),
		},
		Recipe: s.recipes.Snapshot(),
		Scene:  s.scenes.Tail(s.tail),
	}
	if s.camera != nil {
		res.Streams = append(res.Streams, s.camera.Snapshot())
	}
	if s.procd != nil {
		res.Streams = append(res.Streams, s.procd.Snapshot())
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleMute(w http.ResponseWriter, _ *http.Request) {
	muted := s.voice.ToggleMute()
	s.logger.Info("mute toggled", "muted", muted)
	writeJSON(w, http.StatusOK, map[string]bool{"muted": muted})
}

func (s *Server) handleAsk(w http.ResponseWriter, _ *http.Request) {
	recording := s.voice.ToggleAsk(s.runCtx)
	s.logger.Info("ask toggled", "recording", recording)
	writeJSON(w, http.StatusOK, map[string]bool{"recording": recording})
}

// handleStart opens the experience gate without a recipe. Repeated calls
// are no-ops and report started=false.
func (s *Server) handleStart(w http.ResponseWriter, _ *http.Request) {
	started := s.recipes.StartExperience("")
	if started {
		s.logger.Info("experience started without recipe")
	}
	writeJSON(w, http.StatusOK, map[string]bool{"started": started})
}

// writeJSON encodes v with the given status. Encoding failures are
// logged by the caller's middleware via the status recorder; nothing
// more useful can be sent once the header is out.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
