// Package mock provides a test double for the stt.Provider interface.
//
// Pre-populate Transcripts to script successive Transcribe results, or set
// Default for a single repeated answer. Every call is recorded for
// inspection.
//
// Example:
//
//	p := &mock.Provider{
//	    Default: &types.Transcript{Text: "what is the next step"},
//	}
//	tr, _ := p.Transcribe(ctx, req)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/mirepoix/pkg/provider/stt"
	"github.com/MrWong99/mirepoix/pkg/types"
)

// TranscribeCall records a single invocation of Provider.Transcribe.
type TranscribeCall struct {
	// PCM is a copy of the audio bytes that were passed in.
	PCM []byte
	// SampleRate, Channels, and Language mirror the request fields.
	SampleRate int
	Channels   int
	Language   string
	// Keywords is a copy of the keyword hint list.
	Keywords []types.KeywordBoost
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Transcripts is an optional script: call i returns Transcripts[i]. When
	// the script is exhausted (or nil), Default is returned instead.
	Transcripts []*types.Transcript

	// Default is returned when no scripted transcript applies. When both the
	// script and Default are nil, Transcribe returns an empty Transcript.
	Default *types.Transcript

	// Err, if non-nil, is returned as the error from every Transcribe call.
	Err error

	// Calls records every call to Transcribe in order.
	Calls []TranscribeCall

	next int
}

// Transcribe records the call and returns the next scripted transcript.
func (p *Provider) Transcribe(_ context.Context, req stt.Request) (*types.Transcript, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pcm := make([]byte, len(req.PCM))
	copy(pcm, req.PCM)
	kw := make([]types.KeywordBoost, len(req.Keywords))
	copy(kw, req.Keywords)
	p.Calls = append(p.Calls, TranscribeCall{
		PCM:        pcm,
		SampleRate: req.SampleRate,
		Channels:   req.Channels,
		Language:   req.Language,
		Keywords:   kw,
	})

	if p.Err != nil {
		return nil, p.Err
	}
	if p.next < len(p.Transcripts) {
		tr := p.Transcripts[p.next]
		p.next++
		return tr, nil
	}
	if p.Default != nil {
		return p.Default, nil
	}
	return &types.Transcript{}, nil
}

// CallCount returns the number of Transcribe calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// LastCall returns the most recent recorded call, or nil when none happened.
func (p *Provider) LastCall() *TranscribeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Calls) == 0 {
		return nil
	}
	call := p.Calls[len(p.Calls)-1]
	return &call
}

// ResetCalls clears all recorded calls and rewinds the script. Thread-safe.
func (p *Provider) ResetCalls() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = nil
	p.next = 0
}

// Ensure Provider implements stt.Provider at compile time.
var _ stt.Provider = (*Provider)(nil)
