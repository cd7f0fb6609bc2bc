// Package voice hosts the interactive audio pipeline: the segmenter
// slices the microphone stream into VAD windows and detects utterance
// boundaries, the session turns each utterance into a spoken reply
// (transcribe, complete, synthesise), and the player serializes speaker
// output so concurrent turns never interleave packets on the wire.
package voice

import (
	"context"
	"time"
)

// State is the session's externally visible phase. Values are the
// display strings pushed to event subscribers.
type State string

const (
	StateListening       State = "Listening"
	StateRecording       State = "Recording"
	StateRecordingManual State = "Recording (manual)"
	StateTranscribing    State = "Transcribing"
	StateThinking        State = "Thinking"
	StateSpeaking        State = "Speaking"
	StateCooldown        State = "Cooldown"
)

// Turn sources, recorded on metrics and logs.
const (
	SourceVAD    = "vad"
	SourceManual = "manual"
	SourceText   = "text"
)

// Pipeline defaults. The capture side sends 16-bit mono PCM at 44.1 kHz
// in 1024-byte datagrams; analysis runs at 16 kHz in 512-sample windows.
const (
	DefaultSourceSampleRate = 44100
	DefaultPacketBytes      = 1024
	DefaultCooldown         = 7 * time.Second
	DefaultSceneTail        = 20
	DefaultMaxTokens        = 256
	DefaultPacingFactor     = 0.8

	analysisSampleRate = 16000
	analysisWindow     = 512

	// logEveryWindows is how often the segmenter reports window
	// probabilities at debug level.
	logEveryWindows = 30
)

// DefaultSystemPrompt instructs the model to keep replies short enough
// for speech synthesis.
const DefaultSystemPrompt = "You are a conversational AI kitchen helper. " +
	"You are given a log of visual scene analysis from a kitchen camera " +
	"and a question from the user. Give concise answers (1-3 sentences) " +
	"as your output will be fed into text-to-speech."

// Gate reports whether the experience has started. Audio processing is
// inert until it has.
type Gate interface {
	Started() bool
}

// Corrector cleans up a raw transcript before the language model sees
// it. Implementations decide their own vocabulary.
type Corrector interface {
	Correct(ctx context.Context, text string) (string, error)
}

// Speaker plays one reply out loud, blocking until playback finishes.
type Speaker interface {
	Speak(ctx context.Context, text string) error
}
