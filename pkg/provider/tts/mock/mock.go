// Package mock provides a test double for the tts.Provider interface.
//
// Example:
//
//	p := &mock.Provider{
//	    SynthesizeResult: &tts.Result{Audio: wav, Format: audio.FormatWAV},
//	}
//	res, _ := p.Synthesize(ctx, tts.Request{Text: "hi", VoiceID: "v1"})
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/narrata/pkg/provider/tts"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	// Ctx is the context passed to Synthesize.
	Ctx context.Context
	// Request is a copy of the request passed to Synthesize.
	Request tts.Request
}

// CloneVoiceCall records a single invocation of CloneVoice.
type CloneVoiceCall struct {
	Ctx     context.Context
	Name    string
	Samples []tts.Sample
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// SynthesizeResult is returned by Synthesize. The Audio slice is copied.
	SynthesizeResult *tts.Result

	// SynthesizeErr, if non-nil, is returned as the error from Synthesize.
	SynthesizeErr error

	// SynthesizeFunc, if set, overrides SynthesizeResult and SynthesizeErr.
	SynthesizeFunc func(ctx context.Context, req tts.Request) (*tts.Result, error)

	// CloneVoiceResult is returned by CloneVoice.
	CloneVoiceResult string

	// CloneVoiceErr, if non-nil, is returned as the error from CloneVoice.
	CloneVoiceErr error

	// --- Call records ---

	// SynthesizeCalls records every call to Synthesize in order.
	SynthesizeCalls []SynthesizeCall

	// CloneVoiceCalls records every call to CloneVoice in order.
	CloneVoiceCalls []CloneVoiceCall
}

// Synthesize records the call and returns SynthesizeResult, SynthesizeErr.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (*tts.Result, error) {
	p.mu.Lock()
	req.ReferencePaths = slices.Clone(req.ReferencePaths)
	p.SynthesizeCalls = append(p.SynthesizeCalls, SynthesizeCall{Ctx: ctx, Request: req})
	fn := p.SynthesizeFunc
	res, err := p.SynthesizeResult, p.SynthesizeErr
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, nil
	}
	return &tts.Result{Audio: slices.Clone(res.Audio), Format: res.Format}, nil
}

// CloneVoice records the call and returns CloneVoiceResult, CloneVoiceErr.
func (p *Provider) CloneVoice(ctx context.Context, name string, samples []tts.Sample) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CloneVoiceCalls = append(p.CloneVoiceCalls, CloneVoiceCall{Ctx: ctx, Name: name, Samples: slices.Clone(samples)})
	return p.CloneVoiceResult, p.CloneVoiceErr
}

// SynthesizeCallCount returns the number of Synthesize calls. Thread-safe.
func (p *Provider) SynthesizeCallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.SynthesizeCalls)
}

// Calls returns a copy of the recorded Synthesize calls. Thread-safe.
func (p *Provider) Calls() []SynthesizeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.SynthesizeCalls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeCalls = nil
	p.CloneVoiceCalls = nil
}

// Ensure Provider implements tts.Provider at compile time.
var _ tts.Provider = (*Provider)(nil)
