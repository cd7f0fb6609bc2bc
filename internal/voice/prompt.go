package voice

import (
	"fmt"
	"strings"
)

// buildPrompt assembles the user-turn content: the recipe as a numbered
// list, the recent scene log, then the question. Sections are omitted
// when empty so a bare question still reads naturally.
func buildPrompt(steps []string, sceneTail []string, question string) string {
	var parts []string

	if len(steps) > 0 {
		var b strings.Builder
		for i, step := range steps {
			if i > 0 {
				b.WriteByte('\n')
			}
			fmt.Fprintf(&b, "%d. %s", i+1, step)
		}
		parts = append(parts, "The user is following this recipe:\n\n"+b.String()+"\n")
	}

	if len(sceneTail) > 0 {
		parts = append(parts, "Here is the recent visual scene analysis log "+
			"from the kitchen camera:\n\n"+strings.Join(sceneTail, "\n")+"\n")
	}

	if len(parts) == 0 {
		return "User question: " + question
	}
	return strings.Join(parts, "\n") + "\nUser question: " + question
}
