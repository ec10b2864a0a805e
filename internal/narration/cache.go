// Package narration holds the narration cache: a content-addressed index
// from (profile, text) to a previously generated audio artifact.
//
// The cache is first-writer-wins. When two requests generate the same
// narration concurrently, the first Store succeeds and every later Store
// returns the winning entry untouched.
package narration

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"
)

// KeyScheme is the prefix of every cache key. It names the hash algorithm so
// the scheme can change without colliding with old keys.
const KeyScheme = "sha256:"

// ErrInvalidEntry is returned by Store when an entry lacks a key, profile or
// audio URL.
var ErrInvalidEntry = errors.New("narration: entry requires key, profile id and audio url")

// Entry is one cached narration.
type Entry struct {
	Key       string `json:"key"`
	ProfileID string `json:"profile_id"`
	OwnerID   string `json:"owner_id"`
	AudioURL  string `json:"audio_url"`

	// Path is the storage path of the audio artifact.
	Path        string `json:"path"`
	ContentType string `json:"content_type,omitempty"`

	// Similarity is nil when the narration could not be scored.
	Similarity  *float64  `json:"similarity,omitempty"`
	QualityTier string    `json:"quality_tier,omitempty"`
	Guidance    string    `json:"guidance,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

func (e Entry) validate() error {
	if e.Key == "" || e.ProfileID == "" || e.AudioURL == "" {
		return ErrInvalidEntry
	}
	return nil
}

// Key returns the cache key for text spoken in profileID's voice. The text is
// hashed literally; callers that want whitespace or case folding must apply it
// before calling Key.
func Key(profileID, text string) string {
	h := sha256.New()
	h.Write([]byte(profileID))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return KeyScheme + hex.EncodeToString(h.Sum(nil))
}

// KeyHex returns the hex digest part of key, suitable for file names.
func KeyHex(key string) string {
	return strings.TrimPrefix(key, KeyScheme)
}

// Cache is the narration cache. Implementations must be safe for concurrent
// use.
type Cache interface {
	// Lookup returns the entry for key. ok is false on a miss.
	Lookup(ctx context.Context, key string) (e Entry, ok bool, err error)

	// Store records e unless an entry for e.Key already exists. It returns
	// the canonical entry and whether this call created it.
	Store(ctx context.Context, e Entry) (canonical Entry, won bool, err error)

	// DeleteProfile removes every entry belonging to profileID and returns
	// how many were removed.
	DeleteProfile(ctx context.Context, profileID string) (int, error)
}
