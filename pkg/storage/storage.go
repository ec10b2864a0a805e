// Package storage defines the object-storage abstraction narrata persists
// reference audio, embeddings, and generated narrations into.
//
// Objects are addressed by slash-separated paths following the scheme
// {ownerId}/{profileId}/{artifactName}. Scoping every artifact by owner and
// profile prevents collisions between users and lets a profile's artifacts be
// removed in one [Store.RemovePrefix] call.
//
// Implementations must be safe for concurrent use.
package storage

import (
	"context"
	"errors"
	"path"
	"strings"
)

// ErrNotFound is returned by [Store.Get] when no object exists at the URL.
var ErrNotFound = errors.New("storage: object not found")

// ErrForeignURL is returned by [Store.Get] when the URL does not belong to
// the store.
var ErrForeignURL = errors.New("storage: URL does not belong to this store")

// Store is the abstraction over an object-storage backend.
type Store interface {
	// Put writes data at path, replacing any existing object, and returns the
	// URL by which the object can later be fetched with Get.
	Put(ctx context.Context, path string, data []byte, contentType string) (string, error)

	// Get returns the bytes of the object addressed by url. Returns an error
	// wrapping ErrNotFound when the object does not exist.
	Get(ctx context.Context, url string) ([]byte, error)

	// Remove deletes the object at path. Removing a missing object is not an
	// error.
	Remove(ctx context.Context, path string) error

	// RemovePrefix deletes every object whose path starts with prefix.
	RemovePrefix(ctx context.Context, prefix string) error
}

// ArtifactPath returns the storage path of artifact for the given owner and
// profile.
func ArtifactPath(ownerID, profileID, artifact string) string {
	return path.Join(ownerID, profileID, artifact)
}

// ProfilePrefix returns the prefix under which every artifact of a profile is
// stored. The trailing slash keeps profile "ab" from matching "abc".
func ProfilePrefix(ownerID, profileID string) string {
	return path.Join(ownerID, profileID) + "/"
}

// JoinURL joins a public base URL and an object path.
func JoinURL(base, p string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(p, "/")
}

// PathFromURL strips base from url and returns the object path. It reports
// false when url does not start with base.
func PathFromURL(base, url string) (string, bool) {
	prefix := strings.TrimRight(base, "/") + "/"
	if !strings.HasPrefix(url, prefix) {
		return "", false
	}
	p := strings.TrimPrefix(url, prefix)
	if p == "" {
		return "", false
	}
	return p, true
}
