package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm": {"openai", "openai-sdk", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt": {"elevenlabs", "whisper", "deepgram"},
	"tts": {"elevenlabs", "coqui"},
	"vad": {"energy"},
}

// apiKeyEnvVars maps provider names to the environment variable consulted
// when the YAML entry leaves api_key empty.
var apiKeyEnvVars = map[string]string{
	"openai":     "OPENAI_API_KEY",
	"openai-sdk": "OPENAI_API_KEY",
	"anthropic":  "ANTHROPIC_API_KEY",
	"gemini":     "GEMINI_API_KEY",
	"deepseek":   "DEEPSEEK_API_KEY",
	"mistral":    "MISTRAL_API_KEY",
	"groq":       "GROQ_API_KEY",
	"elevenlabs": "ELEVENLABS_API_KEY",
	"deepgram":   "DEEPGRAM_API_KEY",
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies environment-variable
// API key fallbacks, and validates the result. Useful in tests where configs
// are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyEnvKeys(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvKeys fills empty api_key fields from the provider's conventional
// environment variable so secrets stay out of config files.
func applyEnvKeys(cfg *Config) {
	for _, entry := range []*ProviderEntry{
		&cfg.Providers.LLM,
		&cfg.Providers.STT,
		&cfg.Providers.TTS,
		&cfg.Providers.VAD,
		&cfg.Providers.Assessment,
	} {
		if entry.Name == "" || entry.APIKey != "" {
			continue
		}
		envVar, ok := apiKeyEnvVars[entry.Name]
		if !ok {
			continue
		}
		if key := os.Getenv(envVar); key != "" {
			entry.APIKey = key
		}
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.LogFormat != "" && !cfg.Server.LogFormat.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_format %q is invalid; valid values: text, json", cfg.Server.LogFormat))
	}

	// Relay addresses: the forwarder and speaker need a full host:port,
	// not just a listen port.
	if addr := cfg.Relay.ForwardAddr; addr != "" && strings.HasPrefix(addr, ":") {
		errs = append(errs, fmt.Errorf("relay.forward_addr %q needs a host, not just a port", addr))
	}
	if addr := cfg.Audio.SpeakerAddr; addr != "" && strings.HasPrefix(addr, ":") {
		errs = append(errs, fmt.Errorf("audio.speaker_addr %q needs a host, not just a port", addr))
	}

	// Audio
	if cfg.Audio.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must be positive", cfg.Audio.SampleRate))
	}
	if cfg.Audio.PacketBytes < 0 || cfg.Audio.PacketBytes%2 != 0 {
		errs = append(errs, fmt.Errorf("audio.packet_bytes %d must be a positive even number of bytes (16-bit samples)", cfg.Audio.PacketBytes))
	}
	if f := cfg.Audio.PacingFactor; f < 0 || f > 2 {
		errs = append(errs, fmt.Errorf("audio.pacing_factor %.2f is out of range (0, 2]", f))
	}

	// Voice
	if t := cfg.Voice.Threshold; t < 0 || t > 1 {
		errs = append(errs, fmt.Errorf("voice.threshold %.2f is out of range [0, 1]", t))
	}
	if cfg.Voice.MinSilence < 0 {
		errs = append(errs, fmt.Errorf("voice.min_silence must not be negative"))
	}
	if cfg.Voice.Cooldown < 0 {
		errs = append(errs, fmt.Errorf("voice.cooldown must not be negative"))
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("vad", cfg.Providers.VAD.Name)
	validateProviderName("llm", cfg.Providers.Assessment.Name)

	// Provider availability warnings — the relay runs without any of
	// them, but the voice pipeline and step tracking stay inert.
	if cfg.Providers.LLM.Name == "" {
		slog.Warn("no LLM provider configured; voice queries and step assessment will be unavailable")
	}
	if cfg.Providers.STT.Name == "" {
		slog.Warn("no STT provider configured; spoken questions will not be transcribed")
	}
	if cfg.Providers.TTS.Name == "" {
		slog.Warn("no TTS provider configured; replies will not be spoken")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
