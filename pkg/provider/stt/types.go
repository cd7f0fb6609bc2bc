package stt

import (
	"time"

	"github.com/MrWong99/mirepoix/pkg/types"
)

// Request describes one complete utterance to transcribe. All audio is 16-bit
// signed little-endian PCM at the stated rate; the segmenter hands recordings
// over in the capture format, unresampled.
type Request struct {
	// PCM is the full recording.
	PCM []byte

	// SampleRate is the audio sample rate in Hz.
	SampleRate int

	// Channels is the number of interleaved channels. 1 for the capture path.
	Channels int

	// Language is the language code forwarded to the backend (provider-specific
	// format, e.g. "eng" for ElevenLabs, "en" for whisper). Empty lets the
	// provider use its configured default.
	Language string

	// Keywords are vocabulary hints for backends that support recognition
	// boosting. Backends without a boost API ignore them; the transcript
	// corrector covers recipe vocabulary either way.
	Keywords []types.KeywordBoost
}

// Duration returns the recording length implied by the PCM size, or zero when
// the format fields are unusable.
func (r Request) Duration() time.Duration {
	if r.SampleRate <= 0 || r.Channels <= 0 {
		return 0
	}
	samples := len(r.PCM) / (2 * r.Channels)
	return time.Duration(samples) * time.Second / time.Duration(r.SampleRate)
}
