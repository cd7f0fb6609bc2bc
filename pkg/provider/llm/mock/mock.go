// Package mock provides a test double for the llm.Provider interface.
//
// Use Provider in unit tests to verify the requests the voice session and scene
// assessor build, and to feed controlled replies without a live LLM backend.
// All fields are safe to set before calling any method; mutating them during a
// concurrent call is the caller's responsibility.
//
// Example:
//
//	p := &mock.Provider{
//	    Responses: []*llm.CompletionResponse{{Content: "Flip it now."}},
//	}
//	resp, err := p.Complete(ctx, req)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/mirepoix/pkg/provider/llm"
)

// CompleteCall records a single invocation of Complete.
type CompleteCall struct {
	// Req is the CompletionRequest passed to Complete.
	Req llm.CompletionRequest
}

// Provider is a mock implementation of llm.Provider.
// The zero value returns empty responses and nil errors.
type Provider struct {
	mu   sync.Mutex
	next int

	// Responses are returned by successive Complete calls in order. When the
	// script is exhausted, Default is returned.
	Responses []*llm.CompletionResponse

	// Default is returned once Responses runs out. If nil, an empty
	// CompletionResponse is returned.
	Default *llm.CompletionResponse

	// Err, if non-nil, is returned by every Complete call instead of a response.
	Err error

	// Caps is returned by Capabilities.
	Caps llm.ModelCapabilities

	// Calls records every invocation of Complete in order.
	Calls []CompleteCall
}

// Complete records the call and returns the next scripted response.
func (p *Provider) Complete(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.Calls = append(p.Calls, CompleteCall{Req: req})

	if p.Err != nil {
		return nil, p.Err
	}
	if p.next < len(p.Responses) {
		resp := p.Responses[p.next]
		p.next++
		return resp, nil
	}
	if p.Default != nil {
		return p.Default, nil
	}
	return &llm.CompletionResponse{}, nil
}

// Capabilities returns Caps.
func (p *Provider) Capabilities() llm.ModelCapabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Caps
}

// CallCount returns the number of recorded Complete calls.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// LastCall returns the most recent recorded call, or nil if none were made.
func (p *Provider) LastCall() *CompleteCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Calls) == 0 {
		return nil
	}
	return &p.Calls[len(p.Calls)-1]
}

// ResetCalls clears all recorded calls and rewinds the response script.
func (p *Provider) ResetCalls() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = nil
	p.next = 0
}

// Ensure Provider implements llm.Provider at compile time.
var _ llm.Provider = (*Provider)(nil)
