// Package mock provides a test double for the tts.Provider interface.
//
// Use Provider to feed controlled audio chunks to consumers and to verify which
// VoiceProfile and text fragments were handed to the synthesis backend.
//
// Example:
//
//	p := &mock.Provider{
//	    Chunks: [][]byte{[]byte("audio1"), []byte("audio2")},
//	}
//	ch, _ := p.SynthesizeStream(ctx, textCh, voice)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/mirepoix/pkg/provider/tts"
	"github.com/MrWong99/mirepoix/pkg/types"
)

// SynthesizeStreamCall records a single invocation of SynthesizeStream.
type SynthesizeStreamCall struct {
	// Voice is the VoiceProfile passed to SynthesizeStream.
	Voice types.VoiceProfile

	// Text collects the fragments drained from the text channel. It is only
	// safe to read after the audio channel returned by the call has closed.
	Text []string
}

// Provider is a mock implementation of tts.Provider. The zero value is usable;
// it drains the text channel and closes the audio channel without emitting
// anything.
type Provider struct {
	mu sync.Mutex

	// Chunks is the sequence of audio byte slices emitted on the channel
	// returned by SynthesizeStream once the text channel has closed.
	Chunks [][]byte

	// Err, if non-nil, is returned from SynthesizeStream instead of starting
	// a stream.
	Err error

	// Calls records every invocation of SynthesizeStream in order.
	Calls []*SynthesizeStreamCall
}

// SynthesizeStream records the call, drains the text channel, and then emits
// Chunks on the returned channel before closing it. Emitting only after the
// text channel closes mirrors batch synthesis backends and guarantees the
// recorded Text is complete by the time the audio channel closes.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice types.VoiceProfile) (<-chan []byte, error) {
	p.mu.Lock()
	call := &SynthesizeStreamCall{Voice: voice}
	p.Calls = append(p.Calls, call)
	if p.Err != nil {
		err := p.Err
		p.mu.Unlock()
		return nil, err
	}
	chunks := make([][]byte, len(p.Chunks))
	copy(chunks, p.Chunks)
	p.mu.Unlock()

	ch := make(chan []byte, len(chunks))
	go func() {
		defer close(ch)
		for {
			select {
			case fragment, ok := <-text:
				if !ok {
					for _, audio := range chunks {
						select {
						case ch <- audio:
						case <-ctx.Done():
							return
						}
					}
					return
				}
				p.mu.Lock()
				call.Text = append(call.Text, fragment)
				p.mu.Unlock()
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// CallCount returns the number of recorded SynthesizeStream calls.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// LastCall returns the most recent recorded call, or nil if none were made.
func (p *Provider) LastCall() *SynthesizeStreamCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Calls) == 0 {
		return nil
	}
	return p.Calls[len(p.Calls)-1]
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = nil
}

// Ensure Provider implements tts.Provider at compile time.
var _ tts.Provider = (*Provider)(nil)
