// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider wraps a transcription service (ElevenLabs Scribe, Deepgram,
// or a local whisper server) behind a single blocking call. Utterances arrive
// fully buffered: the voice segmenter detects speech boundaries upstream and
// hands over one complete recording at a time, so there is no streaming
// session to manage and no partial-result plumbing.
//
// Implementations must be safe for concurrent use; overlapping Transcribe
// calls may happen when a manual recording races a detector-driven one.
package stt

import (
	"context"
	"errors"

	"github.com/MrWong99/mirepoix/pkg/types"
)

// ErrEmptyUtterance is returned when a transcription request carries no audio.
// Callers treat it as "nothing was said" rather than a provider failure.
var ErrEmptyUtterance = errors.New("stt: empty utterance")

// Provider is the abstraction over any STT backend.
type Provider interface {
	// Transcribe converts one complete utterance to text. It blocks until the
	// backend answers or ctx is done.
	//
	// Returns ErrEmptyUtterance (possibly wrapped) when req carries no audio.
	// A successful result may still hold empty text when the backend heard
	// nothing intelligible; callers decide whether that aborts the turn.
	Transcribe(ctx context.Context, req Request) (*types.Transcript, error)
}
