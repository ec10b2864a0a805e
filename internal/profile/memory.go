package profile

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process [Store]. Records are deep-copied on the way in
// and out so callers never share state with the store.
type MemoryStore struct {
	mu       sync.RWMutex
	profiles map[string]*VoiceProfile
	now      func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty [MemoryStore].
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{profiles: make(map[string]*VoiceProfile), now: time.Now}
}

// Create implements [Store].
func (s *MemoryStore) Create(_ context.Context, p *VoiceProfile) error {
	if p.Status != StatusPending {
		return fmt.Errorf("profile: create %q: status must be pending, got %q", p.ID, p.Status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.profiles[p.ID]; ok {
		return fmt.Errorf("profile: create %q: %w", p.ID, ErrExists)
	}
	p.CreatedAt = s.now().UTC()
	s.profiles[p.ID] = p.Clone()
	return nil
}

// Get implements [Store].
func (s *MemoryStore) Get(_ context.Context, id string) (*VoiceProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[id]
	if !ok {
		return nil, fmt.Errorf("profile: get %q: %w", id, ErrNotFound)
	}
	return p.Clone(), nil
}

// ListByOwner implements [Store].
func (s *MemoryStore) ListByOwner(_ context.Context, ownerID string) ([]VoiceProfile, error) {
	s.mu.RLock()
	out := make([]VoiceProfile, 0)
	for _, p := range s.profiles {
		if p.OwnerID == ownerID {
			out = append(out, *p.Clone())
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// update applies fn to the stored record under the write lock.
func (s *MemoryStore) update(id, action string, fn func(*VoiceProfile) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[id]
	if !ok {
		return fmt.Errorf("profile: %s %q: %w", action, id, ErrNotFound)
	}
	return fn(p)
}

// SetReferences implements [Store].
func (s *MemoryStore) SetReferences(_ context.Context, id string, refs []AudioRef) error {
	return s.update(id, "set references", func(p *VoiceProfile) error {
		p.References = append([]AudioRef(nil), refs...)
		return nil
	})
}

// SetEmbedding implements [Store].
func (s *MemoryStore) SetEmbedding(_ context.Context, id, ref string, vec []float32) error {
	return s.update(id, "set embedding", func(p *VoiceProfile) error {
		p.EmbeddingRef = ref
		p.Embedding = append([]float32(nil), vec...)
		return nil
	})
}

// SetEngineVoice implements [Store].
func (s *MemoryStore) SetEngineVoice(_ context.Context, id, voiceID string) error {
	return s.update(id, "set engine voice", func(p *VoiceProfile) error {
		p.EngineVoiceID = voiceID
		return nil
	})
}

// Transition implements [Store].
func (s *MemoryStore) Transition(_ context.Context, id string, to Status) error {
	return s.update(id, "transition", func(p *VoiceProfile) error {
		if !CanTransition(p.Status, to) {
			return fmt.Errorf("profile: transition %q %s→%s: %w", id, p.Status, to, ErrInvalidTransition)
		}
		p.Status = to
		return nil
	})
}

// Delete implements [Store].
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.profiles[id]; !ok {
		return fmt.Errorf("profile: delete %q: %w", id, ErrNotFound)
	}
	delete(s.profiles, id)
	return nil
}
