package recipe

import (
	"encoding/json"
	"fmt"
)

// DefaultGreeting is spoken when the experience starts without a
// recipe.
const DefaultGreeting = "Hi! I'm Remy, your kitchen assistant. Let's get cooking!"

// StepCountGreeting is the start announcement for an unnamed recipe.
func StepCountGreeting(steps int) string {
	return fmt.Sprintf(
		"Hi! I see you have a %d-step recipe. Let's get cooking! Ask me anything along the way.",
		steps)
}

// LoadedGreeting is the start announcement for a named recipe.
func LoadedGreeting(name string, steps int) string {
	return fmt.Sprintf(
		"Hi! I've loaded %s with %d steps. Let's get cooking! Ask me anything along the way.",
		name, steps)
}

// stepKeys are the task-item object keys recognized as the step text,
// in priority order.
var stepKeys = []string{"step", "description", "instruction", "text", "name"}

// CoerceSteps renders a decoded JSON task list as step strings. Strings
// pass through; objects contribute the value of their first recognized
// key; everything else is rendered as its JSON serialization.
func CoerceSteps(items []any) []string {
	steps := make([]string, len(items))
	for i, item := range items {
		steps[i] = coerceStep(item)
	}
	return steps
}

func coerceStep(item any) string {
	switch v := item.(type) {
	case string:
		return v
	case map[string]any:
		for _, key := range stepKeys {
			if val, ok := v[key]; ok {
				return coerceValue(val)
			}
		}
	}
	return coerceValue(item)
}

func coerceValue(val any) string {
	if s, ok := val.(string); ok {
		return s
	}
	data, err := json.Marshal(val)
	if err != nil {
		return fmt.Sprint(val)
	}
	return string(data)
}
