package voice

import "testing"

func TestBuildPrompt(t *testing.T) {
	steps := []string{"Boil water", "Add the pasta"}
	tail := []string{"a pot on the stove", "[USER] is it boiling yet"}

	tests := []struct {
		name     string
		steps    []string
		tail     []string
		question string
		want     string
	}{
		{
			name:     "full context",
			steps:    steps,
			tail:     tail,
			question: "is it boiling yet",
			want: "The user is following this recipe:\n\n" +
				"1. Boil water\n" +
				"2. Add the pasta\n" +
				"\n" +
				"Here is the recent visual scene analysis log from the kitchen camera:\n\n" +
				"a pot on the stove\n" +
				"[USER] is it boiling yet\n" +
				"\nUser question: is it boiling yet",
		},
		{
			name:     "recipe only",
			steps:    steps,
			question: "what do I do first",
			want: "The user is following this recipe:\n\n" +
				"1. Boil water\n" +
				"2. Add the pasta\n" +
				"\nUser question: what do I do first",
		},
		{
			name:     "scene log only",
			tail:     []string{"hands chopping an onion"},
			question: "what am I holding",
			want: "Here is the recent visual scene analysis log from the kitchen camera:\n\n" +
				"hands chopping an onion\n" +
				"\nUser question: what am I holding",
		},
		{
			name:     "bare question",
			question: "hello",
			want:     "User question: hello",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := buildPrompt(tt.steps, tt.tail, tt.question)
			if got != tt.want {
				t.Errorf("buildPrompt:\n got %q\nwant %q", got, tt.want)
			}
		})
	}
}
