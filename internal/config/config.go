// Package config provides the configuration schema, loader, and provider
// registry for the Mirepoix base station.
package config

import "time"

// LogLevel controls log verbosity for the Mirepoix process.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// LogFormat selects the slog handler for process logs.
type LogFormat string

const (
	LogText LogFormat = "text"
	LogJSON LogFormat = "json"
)

// IsValid reports whether f is a recognised log format.
func (f LogFormat) IsValid() bool {
	return f == LogText || f == LogJSON
}

// Config is the root configuration structure for Mirepoix.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Relay      RelayConfig      `yaml:"relay"`
	Audio      AudioConfig      `yaml:"audio"`
	Voice      VoiceConfig      `yaml:"voice"`
	Recipe     RecipeConfig     `yaml:"recipe"`
	Scene      SceneConfig      `yaml:"scene"`
	Assessment AssessmentConfig `yaml:"assessment"`
	Providers  ProvidersConfig  `yaml:"providers"`
}

// ServerConfig holds HTTP gateway and logging settings.
type ServerConfig struct {
	// HTTPAddr is the address the HTTP gateway listens on (e.g., ":8080").
	HTTPAddr string `yaml:"http_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// LogFormat selects text or json log output. Defaults to text.
	LogFormat LogFormat `yaml:"log_format"`
}

// RelayConfig holds the frame-relay addresses. Ports are configuration,
// not protocol: every channel speaks the same 4-byte length framing.
type RelayConfig struct {
	// CameraAddr is the TCP listen address for the capture device's
	// persistent frame connection (e.g., ":9000").
	CameraAddr string `yaml:"camera_addr"`

	// ForwardAddr is the compute node's UDP host:port that camera
	// frames are re-emitted to (e.g., "192.168.0.30:9001").
	ForwardAddr string `yaml:"forward_addr"`

	// ProcessedAddr is the UDP listen address for annotated frames
	// returned by the compute node (e.g., ":9002").
	ProcessedAddr string `yaml:"processed_addr"`

	// SceneAddr is the UDP listen address for plain-text scene
	// descriptions (e.g., ":9003").
	SceneAddr string `yaml:"scene_addr"`

	// MaxFrameBytes bounds a declared frame length on the camera
	// stream. Zero uses the relay default (16 MiB).
	MaxFrameBytes uint32 `yaml:"max_frame_bytes"`
}

// AudioConfig holds the microphone and speaker wire settings.
type AudioConfig struct {
	// MicAddr is the UDP listen address for microphone PCM packets
	// (e.g., ":12345").
	MicAddr string `yaml:"mic_addr"`

	// SpeakerAddr is the speaker device's UDP host:port that
	// synthesised speech packets are sent to.
	SpeakerAddr string `yaml:"speaker_addr"`

	// SampleRate is the capture rate in Hz. Zero uses 44100.
	SampleRate int `yaml:"sample_rate"`

	// PacketBytes is the fixed datagram size for speaker audio.
	// Zero uses 1024.
	PacketBytes int `yaml:"packet_bytes"`

	// PacingFactor scales the inter-packet delay on playback relative
	// to real time. Zero uses 0.8.
	PacingFactor float64 `yaml:"pacing_factor"`
}

// VoiceConfig tunes voice-activity detection and the session machine.
type VoiceConfig struct {
	// Threshold is the speech probability above which the detector
	// arms. Zero uses the detector default (0.3).
	Threshold float64 `yaml:"threshold"`

	// MinSilence is how long silence must persist before an utterance
	// ends. Zero uses the detector default (700ms).
	MinSilence time.Duration `yaml:"min_silence"`

	// SpeechPad widens reported utterance bounds. Zero uses the
	// detector default (300ms).
	SpeechPad time.Duration `yaml:"speech_pad"`

	// Cooldown suppresses VAD after playback so the microphone does
	// not hear the reply. Zero uses 7s.
	Cooldown time.Duration `yaml:"cooldown"`

	// ManualBypassesCooldown lets a push-to-talk hand-off through even
	// during the cooldown window. Defaults to true.
	ManualBypassesCooldown *bool `yaml:"manual_bypasses_cooldown"`

	// SystemPrompt overrides the built-in kitchen-helper prompt.
	SystemPrompt string `yaml:"system_prompt"`

	// MaxTokens caps reply length. Zero uses 256.
	MaxTokens int `yaml:"max_tokens"`

	// SceneTail is how many recent observations each query quotes.
	// Zero uses 20.
	SceneTail int `yaml:"scene_tail"`

	// Language is forwarded to the STT backend (e.g., "eng"). Empty
	// uses the provider default.
	Language string `yaml:"language"`

	// VoiceID selects the TTS voice. Empty uses the provider's built-in
	// default voice (for ElevenLabs, "JBFqnCBsd6RMkjVDRZzb").
	VoiceID string `yaml:"voice_id"`
}

// RecipeConfig holds the recipe ingest settings.
type RecipeConfig struct {
	// ListenAddr is the TCP address for one-shot recipe pushes
	// (e.g., ":9005").
	ListenAddr string `yaml:"listen_addr"`

	// MaxPayloadBytes bounds a single recipe payload. Zero uses 10 MiB.
	MaxPayloadBytes uint32 `yaml:"max_payload_bytes"`
}

// SceneConfig holds scene-log settings.
type SceneConfig struct {
	// MaxEntries bounds the scene log. Zero uses 50.
	MaxEntries int `yaml:"max_entries"`
}

// AssessmentConfig tunes the step-completion checks.
type AssessmentConfig struct {
	// SystemPrompt overrides the built-in task-tracker prompt.
	SystemPrompt string `yaml:"system_prompt"`

	// MaxTokens caps the assessment reply. Zero uses 256.
	MaxTokens int `yaml:"max_tokens"`
}

// ProvidersConfig declares which provider implementation to use for each
// pipeline stage. Each field selects a named provider registered in the
// [Registry].
type ProvidersConfig struct {
	LLM ProviderEntry `yaml:"llm"`
	STT ProviderEntry `yaml:"stt"`
	TTS ProviderEntry `yaml:"tts"`
	VAD ProviderEntry `yaml:"vad"`

	// Assessment optionally selects a separate LLM for step-completion
	// checks. When its Name is empty the main LLM entry is used.
	Assessment ProviderEntry `yaml:"assessment"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai", "elevenlabs").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	// When empty, the loader falls back to the provider's conventional
	// environment variable (e.g., ELEVENLABS_API_KEY).
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "gpt-4o", "scribe_v2").
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above. Values may be strings, numbers, booleans, or nested maps.
	Options map[string]any `yaml:"options"`
}
