// Package types defines the shared types used across all Mirepoix packages.
//
// These types form the lingua franca between the relay, the voice pipeline,
// and the providers. They are intentionally minimal — each package defines its
// own domain types, but cross-cutting data structures live here to avoid
// circular imports.
package types

import "time"

// AudioFrame represents a contiguous run of PCM audio flowing through the
// pipeline: a single analysis window, a buffered utterance handed to STT, or
// a synthesised chunk on its way to the speaker.
type AudioFrame struct {
	// Data is little-endian 16-bit PCM. Sample rate and channel count are
	// carried alongside because frames cross rate boundaries in this pipeline
	// (44.1 kHz capture, 16 kHz analysis).
	Data []byte

	// SampleRate in Hz (e.g., 44100 for microphone capture, 16000 for VAD).
	SampleRate int

	// Channels: 1 for mono (capture, STT input), 2 for stereo (speaker output).
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Duration returns the play time of the frame at its sample rate, or zero for
// a malformed frame.
func (f AudioFrame) Duration() time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	samples := len(f.Data) / (2 * f.Channels)
	return time.Duration(samples) * time.Second / time.Duration(f.SampleRate)
}

// Transcript represents a speech-to-text result from an STT provider.
type Transcript struct {
	// Text is the transcribed speech content.
	Text string

	// Confidence is the overall confidence score (0.0–1.0). May be zero if the
	// provider does not report confidence.
	Confidence float64

	// Duration is the length of the transcribed audio.
	Duration time.Duration
}

// Message represents a single message in an LLM conversation.
type Message struct {
	// Role is one of "system", "user", or "assistant".
	Role string

	// Content is the text content of the message.
	Content string
}

// VoiceProfile describes a TTS voice configuration.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier.
	ID string

	// Name is the human-readable voice name.
	Name string

	// Provider identifies which TTS provider this voice belongs to.
	Provider string

	// Metadata holds provider-specific voice attributes (stability, style, …).
	Metadata map[string]string
}

// KeywordBoost represents a vocabulary hint passed to STT recognition.
// Used to improve recognition of recipe-specific terms (ingredients,
// technique names) that general models mishear.
type KeywordBoost struct {
	// Keyword is the text to boost (e.g., "mirepoix").
	Keyword string

	// Boost is the intensity of the boost (provider-specific scale).
	Boost float64
}
