package recipe_test

import (
	"testing"

	"github.com/MrWong99/mirepoix/internal/recipe"
)

func TestCoerceSteps(t *testing.T) {
	tests := []struct {
		name string
		item any
		want string
	}{
		{
			name: "plain string",
			item: "dice the onions",
			want: "dice the onions",
		},
		{
			name: "object with step key",
			item: map[string]any{"step": "heat the pan"},
			want: "heat the pan",
		},
		{
			name: "object with description key",
			item: map[string]any{"description": "season to taste", "id": 4.0},
			want: "season to taste",
		},
		{
			name: "step beats description",
			item: map[string]any{"description": "ignored", "step": "preferred"},
			want: "preferred",
		},
		{
			name: "instruction key",
			item: map[string]any{"instruction": "simmer for ten minutes"},
			want: "simmer for ten minutes",
		},
		{
			name: "text key",
			item: map[string]any{"text": "plate and serve"},
			want: "plate and serve",
		},
		{
			name: "name key",
			item: map[string]any{"name": "Garnish"},
			want: "Garnish",
		},
		{
			name: "recognized key with non-string value",
			item: map[string]any{"step": 3.0},
			want: "3",
		},
		{
			name: "object without recognized keys",
			item: map[string]any{"duration": 5.0},
			want: `{"duration":5}`,
		},
		{
			name: "number",
			item: 7.0,
			want: "7",
		},
		{
			name: "bool",
			item: true,
			want: "true",
		},
		{
			name: "array",
			item: []any{"a", "b"},
			want: `["a","b"]`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := recipe.CoerceSteps([]any{tt.item})
			if len(got) != 1 {
				t.Fatalf("CoerceSteps returned %d steps, want 1", len(got))
			}
			if got[0] != tt.want {
				t.Errorf("CoerceSteps() = %q, want %q", got[0], tt.want)
			}
		})
	}
}

func TestCoerceSteps_PreservesOrder(t *testing.T) {
	got := recipe.CoerceSteps([]any{
		"first",
		map[string]any{"step": "second"},
		"third",
	})

	want := []string{"first", "second", "third"}
	if len(got) != len(want) {
		t.Fatalf("got %d steps, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("step %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestGreetings(t *testing.T) {
	if got := recipe.StepCountGreeting(5); got != "Hi! I see you have a 5-step recipe. Let's get cooking! Ask me anything along the way." {
		t.Errorf("StepCountGreeting(5) = %q", got)
	}
	if got := recipe.LoadedGreeting("Pad Thai", 8); got != "Hi! I've loaded Pad Thai with 8 steps. Let's get cooking! Ask me anything along the way." {
		t.Errorf("LoadedGreeting() = %q", got)
	}
}
