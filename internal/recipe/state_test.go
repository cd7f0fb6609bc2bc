package recipe_test

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/mirepoix/internal/bus"
	"github.com/MrWong99/mirepoix/internal/recipe"
	"github.com/MrWong99/mirepoix/internal/scene"
)

func TestState_Replace(t *testing.T) {
	s := recipe.New()

	s.Replace("carbonara", []string{"boil pasta", "fry guanciale", "mix eggs"})

	snap := s.Snapshot()
	if snap.Name != "carbonara" {
		t.Errorf("Name = %q, want %q", snap.Name, "carbonara")
	}
	if len(snap.Steps) != 3 {
		t.Fatalf("len(Steps) = %d, want 3", len(snap.Steps))
	}
	if len(snap.Completed) != 3 {
		t.Fatalf("len(Completed) = %d, want 3", len(snap.Completed))
	}
	for i, done := range snap.Completed {
		if done {
			t.Errorf("Completed[%d] = true, want false", i)
		}
	}
	if snap.UpdatedAt.IsZero() {
		t.Error("UpdatedAt is zero after Replace")
	}
}

func TestState_ReplaceResetsCompletion(t *testing.T) {
	s := recipe.New()
	s.Replace("first", []string{"a", "b", "c"})
	s.SetCompleted([]int{0, 2})

	s.Replace("second", []string{"x", "y"})

	snap := s.Snapshot()
	if len(snap.Completed) != 2 {
		t.Fatalf("len(Completed) = %d, want 2", len(snap.Completed))
	}
	if snap.Completed[0] || snap.Completed[1] {
		t.Errorf("Completed = %v, want all false after replace", snap.Completed)
	}
}

func TestState_SetCompleted(t *testing.T) {
	tests := []struct {
		name    string
		first   []int
		second  []int
		want    []bool
		changed bool // of the second call
	}{
		{
			name:    "basic",
			second:  []int{0, 2},
			want:    []bool{true, false, true},
			changed: true,
		},
		{
			name:    "out of range ignored",
			second:  []int{0, 5, -1},
			want:    []bool{true, false, false},
			changed: true,
		},
		{
			name:    "wholesale replacement",
			first:   []int{0, 1},
			second:  []int{1},
			want:    []bool{false, true, false},
			changed: true,
		},
		{
			name:    "unchanged set",
			first:   []int{1},
			second:  []int{1},
			want:    []bool{false, true, false},
			changed: false,
		},
		{
			name:    "empty clears",
			first:   []int{0, 1, 2},
			second:  nil,
			want:    []bool{false, false, false},
			changed: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := recipe.New()
			s.Replace("", []string{"a", "b", "c"})
			if tt.first != nil {
				s.SetCompleted(tt.first)
			}

			if got := s.SetCompleted(tt.second); got != tt.changed {
				t.Errorf("SetCompleted() changed = %v, want %v", got, tt.changed)
			}

			snap := s.Snapshot()
			for i := range tt.want {
				if snap.Completed[i] != tt.want[i] {
					t.Errorf("Completed = %v, want %v", snap.Completed, tt.want)
					break
				}
			}
		})
	}
}

func TestState_SetCompleted_NoRecipe(t *testing.T) {
	s := recipe.New()

	if changed := s.SetCompleted([]int{0, 1}); changed {
		t.Error("SetCompleted() on empty recipe reported a change")
	}
}

func TestState_StartExperience_Idempotent(t *testing.T) {
	var announced []string
	s := recipe.New(recipe.WithAnnouncer(func(text string) {
		announced = append(announced, text)
	}))
	s.Replace("", []string{"a", "b", "c"})

	if !s.StartExperience(recipe.StepCountGreeting(3)) {
		t.Fatal("first StartExperience() = false, want true")
	}
	if s.StartExperience(recipe.StepCountGreeting(3)) {
		t.Error("second StartExperience() = true, want false")
	}

	if len(announced) != 1 {
		t.Fatalf("announcer called %d times, want 1", len(announced))
	}
	if !strings.Contains(announced[0], "3-step recipe") {
		t.Errorf("greeting = %q, want step-count greeting", announced[0])
	}
	if !s.Started() {
		t.Error("Started() = false after StartExperience")
	}
}

func TestState_StartExperience_Concurrent(t *testing.T) {
	s := recipe.New()

	var wg sync.WaitGroup
	var mu sync.Mutex
	opened := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.StartExperience("") {
				mu.Lock()
				opened++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if opened != 1 {
		t.Errorf("gate opened %d times under concurrent starts, want 1", opened)
	}
}

func TestState_StartExperience_Collaborators(t *testing.T) {
	events := bus.New()
	defer events.Close()
	sub := events.Subscribe("test", 4)
	defer sub.Close()

	scenes := scene.NewLog(10)
	var announced string
	s := recipe.New(
		recipe.WithBus(events),
		recipe.WithSceneLog(scenes),
		recipe.WithAnnouncer(func(text string) { announced = text }),
	)
	s.Replace("carbonara", []string{"a", "b"})

	s.StartExperience("")

	if announced != recipe.DefaultGreeting {
		t.Errorf("announced = %q, want default greeting", announced)
	}

	entries := scenes.TailText(1)
	if len(entries) != 1 || entries[0] != "[ASSISTANT] "+recipe.DefaultGreeting {
		t.Errorf("scene entry = %v, want tagged greeting", entries)
	}

	select {
	case ev := <-sub.Events():
		if ev.Kind != bus.EventExperienceStarted {
			t.Errorf("event Kind = %q, want %q", ev.Kind, bus.EventExperienceStarted)
		}
		if ev.Recipe != "carbonara" || ev.Steps != 2 {
			t.Errorf("event = (%q, %d), want (carbonara, 2)", ev.Recipe, ev.Steps)
		}
	case <-time.After(time.Second):
		t.Fatal("no experience-started event published")
	}
}

func TestState_SnapshotIsACopy(t *testing.T) {
	s := recipe.New()
	s.Replace("", []string{"original"})

	snap := s.Snapshot()
	snap.Steps[0] = "mutated"
	snap.Completed[0] = true

	fresh := s.Snapshot()
	if fresh.Steps[0] != "original" {
		t.Errorf("Steps[0] = %q after mutating snapshot", fresh.Steps[0])
	}
	if fresh.Completed[0] {
		t.Error("Completed[0] = true after mutating snapshot")
	}
}

func TestState_StepCount(t *testing.T) {
	s := recipe.New()
	if got := s.StepCount(); got != 0 {
		t.Errorf("StepCount() = %d, want 0", got)
	}
	s.Replace("", []string{"a", "b", "c", "d"})
	if got := s.StepCount(); got != 4 {
		t.Errorf("StepCount() = %d, want 4", got)
	}
}
