// Package tts defines the Provider interface for voice-cloning speech
// synthesis engines.
//
// A synthesis engine turns text into speech in a target voice. The voice is
// selected either by an engine-native voice id (a speaker the engine has
// already registered) or by attaching reference recordings of the speaker to
// the request so the engine can clone the voice on the fly.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"fmt"

	"github.com/MrWong99/narrata/pkg/audio"
)

// Request is a single synthesis request.
type Request struct {
	// Text is the literal text to speak.
	Text string

	// Language is a BCP-47 language code. Empty selects the engine default.
	Language string

	// Model selects an engine model. Empty selects the engine default.
	Model string

	// VoiceID selects an engine-native voice. When set, ReferencePaths is
	// ignored.
	VoiceID string

	// ReferencePaths are local file paths of reference recordings used for
	// on-the-fly cloning when VoiceID is empty.
	ReferencePaths []string

	Speed       float64
	Temperature float64
	TopP        float64
	Volume      float64
}

// Result is the synthesised audio in the engine's native container.
type Result struct {
	Audio  []byte
	Format audio.Format
}

// Sample is one reference recording sent to CloneVoice.
type Sample struct {
	Name string
	Data []byte
}

// EngineError is returned when the engine answers with a failure status. It
// carries the engine's own diagnostic text so callers can surface it.
type EngineError struct {
	StatusCode int
	Diagnostic string
}

func (e *EngineError) Error() string {
	if e.Diagnostic == "" {
		return fmt.Sprintf("tts: engine returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("tts: engine returned status %d: %s", e.StatusCode, e.Diagnostic)
}

// Provider is the abstraction over a voice-cloning synthesis engine.
type Provider interface {
	// Synthesize renders req.Text and returns the complete audio. It performs
	// a single attempt; retries are the caller's decision.
	Synthesize(ctx context.Context, req Request) (*Result, error)

	// CloneVoice registers the speaker in samples under name and returns the
	// engine-native voice id for later Synthesize calls.
	CloneVoice(ctx context.Context, name string, samples []Sample) (string, error)
}
