// Package profile defines the voice profile record and its persistence.
//
// A profile is created once per upload batch in [StatusPending] and then
// transitions exactly once, to [StatusReady] or [StatusFailed]. Apart from
// that transition, the only mutations are the best-effort enrichments
// recorded while the profile is pending (reference locations, embedding,
// engine voice handle) and owner-initiated deletion.
package profile

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Status is the lifecycle state of a [VoiceProfile].
type Status string

const (
	StatusPending Status = "pending"
	StatusReady   Status = "ready"
	StatusFailed  Status = "failed"
)

// IsValid reports whether s is a recognised status.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusReady, StatusFailed:
		return true
	}
	return false
}

// Bounds that every ready profile satisfies.
const (
	MinReferences        = 2
	MaxReferences        = 3
	MinReferenceDuration = 20 * time.Second
	MaxReferenceDuration = 50 * time.Second
)

var (
	// ErrNotFound is returned when no profile exists with the given ID.
	ErrNotFound = errors.New("profile: not found")

	// ErrInvalidTransition is returned when a status change other than
	// pending→ready or pending→failed is requested.
	ErrInvalidTransition = errors.New("profile: invalid status transition")

	// ErrExists is returned by Create when the ID is already taken.
	ErrExists = errors.New("profile: already exists")
)

// AudioRef locates one persisted reference recording.
type AudioRef struct {
	URL         string        `json:"url"`
	Path        string        `json:"path"`
	Name        string        `json:"name"`
	ContentType string        `json:"content_type"`
	Duration    time.Duration `json:"duration"`
	Size        int64         `json:"size"`
}

// VoiceProfile is a named, persisted set of reference recordings representing
// one speaker.
type VoiceProfile struct {
	ID          string
	OwnerID     string
	Name        string
	Description string

	// References holds 2–3 recordings in upload order once the profile is ready.
	References []AudioRef

	// EmbeddingRef is the storage URL of the extracted speaker embedding.
	// Empty when extraction was unavailable.
	EmbeddingRef string

	// Embedding is the extracted speaker embedding vector, if any.
	Embedding []float32

	// EngineVoiceID is the synthesis engine's own handle for this voice. When
	// set, narration addresses the engine by ID instead of attaching audio.
	EngineVoiceID string

	Status    Status
	CreatedAt time.Time
}

// EngineNative reports whether the synthesis engine knows this voice by ID.
func (p *VoiceProfile) EngineNative() bool {
	return p.EngineVoiceID != ""
}

// ReadyBounds are the reference limits a ready profile satisfies.
type ReadyBounds struct {
	MinReferences, MaxReferences int
	MinDuration, MaxDuration     time.Duration
}

// DefaultReadyBounds returns the production bounds: 2–3 references, each
// 20–50 s long.
func DefaultReadyBounds() ReadyBounds {
	return ReadyBounds{
		MinReferences: MinReferences,
		MaxReferences: MaxReferences,
		MinDuration:   MinReferenceDuration,
		MaxDuration:   MaxReferenceDuration,
	}
}

// CheckReady verifies p against [DefaultReadyBounds].
func (p *VoiceProfile) CheckReady() error {
	return p.CheckReadyWithin(DefaultReadyBounds())
}

// CheckReadyWithin verifies that p has what a ready profile needs under b:
// an allowed number of references, each located and of allowed length.
func (p *VoiceProfile) CheckReadyWithin(b ReadyBounds) error {
	if n := len(p.References); n < b.MinReferences || n > b.MaxReferences {
		return fmt.Errorf("profile: %d references; want %d–%d", n, b.MinReferences, b.MaxReferences)
	}
	for i, ref := range p.References {
		if ref.Duration < b.MinDuration || ref.Duration > b.MaxDuration {
			return fmt.Errorf("profile: reference %d duration %s outside [%s, %s]",
				i, ref.Duration, b.MinDuration, b.MaxDuration)
		}
		if ref.URL == "" {
			return fmt.Errorf("profile: reference %d has no URL", i)
		}
	}
	return nil
}

// ReferenceURLs returns the URLs of all references in order.
func (p *VoiceProfile) ReferenceURLs() []string {
	urls := make([]string, len(p.References))
	for i, r := range p.References {
		urls[i] = r.URL
	}
	return urls
}

// Clone returns a deep copy of p.
func (p *VoiceProfile) Clone() *VoiceProfile {
	cp := *p
	cp.References = append([]AudioRef(nil), p.References...)
	cp.Embedding = append([]float32(nil), p.Embedding...)
	return &cp
}

// CanTransition reports whether a profile in status from may move to to.
func CanTransition(from, to Status) bool {
	return from == StatusPending && (to == StatusReady || to == StatusFailed)
}

// Store persists voice profile records.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Create inserts p. p.Status must be pending. CreatedAt is set by the
	// store. Returns ErrExists when the ID is taken.
	Create(ctx context.Context, p *VoiceProfile) error

	// Get returns the profile with the given ID or ErrNotFound.
	Get(ctx context.Context, id string) (*VoiceProfile, error)

	// ListByOwner returns the owner's profiles, newest first.
	ListByOwner(ctx context.Context, ownerID string) ([]VoiceProfile, error)

	// SetReferences records the persisted reference locations.
	SetReferences(ctx context.Context, id string, refs []AudioRef) error

	// SetEmbedding records the embedding artifact URL and vector.
	SetEmbedding(ctx context.Context, id, ref string, vec []float32) error

	// SetEngineVoice records the engine-native voice handle.
	SetEngineVoice(ctx context.Context, id, voiceID string) error

	// Transition moves a pending profile to ready or failed. Returns
	// ErrInvalidTransition for any other change and ErrNotFound when absent.
	Transition(ctx context.Context, id string, to Status) error

	// Delete removes the record. Deleting a missing profile returns
	// ErrNotFound.
	Delete(ctx context.Context, id string) error
}
