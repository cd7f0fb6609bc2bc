package config

// ConfigDiff describes what changed between two configs. Hot-reloadable
// fields are tracked individually; everything else collapses into
// RestartRequired, which lists the sections whose changes only take
// effect after a restart (listeners cannot rebind live).
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// PromptsChanged is true when a system prompt, token cap, or scene
	// tail changed. These feed each new turn, so they apply live.
	PromptsChanged bool

	// RestartRequired names the changed sections that need a restart:
	// addresses, audio wire settings, provider selections, VAD tuning.
	RestartRequired []string
}

// Empty reports whether the diff contains no changes at all.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.PromptsChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Voice.SystemPrompt != new.Voice.SystemPrompt ||
		old.Voice.MaxTokens != new.Voice.MaxTokens ||
		old.Voice.SceneTail != new.Voice.SceneTail ||
		old.Assessment.SystemPrompt != new.Assessment.SystemPrompt ||
		old.Assessment.MaxTokens != new.Assessment.MaxTokens {
		d.PromptsChanged = true
	}

	if old.Server.HTTPAddr != new.Server.HTTPAddr ||
		old.Server.LogFormat != new.Server.LogFormat {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if old.Relay != new.Relay {
		d.RestartRequired = append(d.RestartRequired, "relay")
	}
	if old.Audio != new.Audio {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}
	if voiceTuningChanged(&old.Voice, &new.Voice) {
		d.RestartRequired = append(d.RestartRequired, "voice")
	}
	if old.Recipe != new.Recipe {
		d.RestartRequired = append(d.RestartRequired, "recipe")
	}
	if old.Scene != new.Scene {
		d.RestartRequired = append(d.RestartRequired, "scene")
	}
	if providersChanged(&old.Providers, &new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}

	return d
}

// voiceTuningChanged compares the voice fields that are baked into the
// segmenter and session at construction time. Prompt fields are
// excluded; they hot-reload.
func voiceTuningChanged(old, new *VoiceConfig) bool {
	return old.Threshold != new.Threshold ||
		old.MinSilence != new.MinSilence ||
		old.SpeechPad != new.SpeechPad ||
		old.Cooldown != new.Cooldown ||
		boolDefault(old.ManualBypassesCooldown, true) != boolDefault(new.ManualBypassesCooldown, true) ||
		old.Language != new.Language ||
		old.VoiceID != new.VoiceID
}

// providersChanged compares provider selections. Options maps are
// compared by entry identity fields only; a changed option value without
// a name/model/url change is rare enough to miss.
func providersChanged(old, new *ProvidersConfig) bool {
	entries := [][2]ProviderEntry{
		{old.LLM, new.LLM},
		{old.STT, new.STT},
		{old.TTS, new.TTS},
		{old.VAD, new.VAD},
		{old.Assessment, new.Assessment},
	}
	for _, pair := range entries {
		a, b := pair[0], pair[1]
		if a.Name != b.Name || a.APIKey != b.APIKey || a.BaseURL != b.BaseURL || a.Model != b.Model {
			return true
		}
	}
	return false
}

// boolDefault dereferences an optional bool with a fallback.
func boolDefault(v *bool, fallback bool) bool {
	if v == nil {
		return fallback
	}
	return *v
}
