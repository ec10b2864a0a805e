// Package memory provides an in-process [storage.Store] for tests and
// single-node development setups.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/MrWong99/narrata/pkg/storage"
)

// DefaultBaseURL is the URL prefix used when none is configured.
const DefaultBaseURL = "mem://objects"

var _ storage.Store = (*Store)(nil)

type object struct {
	data        []byte
	contentType string
}

// Store is a map-backed [storage.Store]. The zero value is not usable; use
// [New].
type Store struct {
	baseURL string

	mu      sync.RWMutex
	objects map[string]object
}

// New returns an empty Store whose URLs start with baseURL (or
// [DefaultBaseURL] when empty).
func New(baseURL string) *Store {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Store{baseURL: baseURL, objects: make(map[string]object)}
}

// Put implements [storage.Store].
func (s *Store) Put(ctx context.Context, path string, data []byte, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	s.mu.Lock()
	s.objects[path] = object{data: cp, contentType: contentType}
	s.mu.Unlock()
	return storage.JoinURL(s.baseURL, path), nil
}

// Get implements [storage.Store].
func (s *Store) Get(ctx context.Context, url string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, ok := storage.PathFromURL(s.baseURL, url)
	if !ok {
		return nil, fmt.Errorf("memory: get %q: %w", url, storage.ErrForeignURL)
	}
	s.mu.RLock()
	obj, ok := s.objects[path]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("memory: get %q: %w", path, storage.ErrNotFound)
	}
	cp := make([]byte, len(obj.data))
	copy(cp, obj.data)
	return cp, nil
}

// Remove implements [storage.Store].
func (s *Store) Remove(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.objects, path)
	s.mu.Unlock()
	return nil
}

// RemovePrefix implements [storage.Store].
func (s *Store) RemovePrefix(ctx context.Context, prefix string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for p := range s.objects {
		if strings.HasPrefix(p, prefix) {
			delete(s.objects, p)
		}
	}
	return nil
}

// Paths returns the sorted paths of all stored objects.
func (s *Store) Paths() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.objects))
	for p := range s.objects {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// ContentType returns the content type recorded for path.
func (s *Store) ContentType(path string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.objects[path].contentType
}
