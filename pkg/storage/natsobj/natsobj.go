// Package natsobj provides a [storage.Store] backed by a NATS JetStream
// object store bucket.
//
// The bucket is created on first use and bound to when it already exists.
// Object names are the storage paths themselves; NATS encodes them
// internally, so slashes are preserved.
//
// Typical usage:
//
//	nc, _ := nats.Connect("nats://localhost:4222")
//	s, err := natsobj.New(ctx, nc, "voices",
//	    natsobj.WithBaseURL("https://cdn.example.com/voices"),
//	)
package natsobj

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/MrWong99/narrata/pkg/storage"
)

var _ storage.Store = (*Store)(nil)

// Option is a functional option for configuring a [Store].
type Option func(*Store)

// WithBaseURL sets the public URL prefix returned by Put. Defaults to
// "nats://{bucket}".
func WithBaseURL(base string) Option {
	return func(s *Store) {
		if base != "" {
			s.baseURL = base
		}
	}
}

// WithReplicas sets the bucket replica count used when the bucket is
// created. Defaults to 1.
func WithReplicas(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.replicas = n
		}
	}
}

// WithMemoryStorage keeps bucket contents in server memory instead of on
// disk. Intended for tests.
func WithMemoryStorage() Option {
	return func(s *Store) {
		s.storageType = jetstream.MemoryStorage
	}
}

// Store implements [storage.Store] on a JetStream object store bucket.
type Store struct {
	nc          *nats.Conn
	obs         jetstream.ObjectStore
	bucket      string
	baseURL     string
	replicas    int
	storageType jetstream.StorageType
}

// New creates (or binds to) the object store bucket on the server behind nc.
func New(ctx context.Context, nc *nats.Conn, bucket string, opts ...Option) (*Store, error) {
	if nc == nil {
		return nil, errors.New("natsobj: nats connection must not be nil")
	}
	if bucket == "" {
		return nil, errors.New("natsobj: bucket must not be empty")
	}
	s := &Store{
		nc:          nc,
		bucket:      bucket,
		baseURL:     "nats://" + bucket,
		replicas:    1,
		storageType: jetstream.FileStorage,
	}
	for _, o := range opts {
		o(s)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("natsobj: jetstream context: %w", err)
	}

	obs, err := js.CreateObjectStore(ctx, jetstream.ObjectStoreConfig{
		Bucket:      bucket,
		Description: fmt.Sprintf("narrata artifacts (%s)", bucket),
		Storage:     s.storageType,
		Replicas:    s.replicas,
	})
	if errors.Is(err, jetstream.ErrBucketExists) {
		obs, err = js.ObjectStore(ctx, bucket)
		if err != nil {
			return nil, fmt.Errorf("natsobj: bind bucket %q: %w", bucket, err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("natsobj: create bucket %q: %w", bucket, err)
	}
	s.obs = obs
	return s, nil
}

// Put implements [storage.Store].
func (s *Store) Put(ctx context.Context, path string, data []byte, contentType string) (string, error) {
	meta := jetstream.ObjectMeta{Name: path}
	if contentType != "" {
		meta.Headers = nats.Header{"Content-Type": []string{contentType}}
	}
	if _, err := s.obs.Put(ctx, meta, bytes.NewReader(data)); err != nil {
		return "", fmt.Errorf("natsobj: put %q: %w", path, err)
	}
	return storage.JoinURL(s.baseURL, path), nil
}

// Get implements [storage.Store].
func (s *Store) Get(ctx context.Context, url string) ([]byte, error) {
	path, ok := storage.PathFromURL(s.baseURL, url)
	if !ok {
		return nil, fmt.Errorf("natsobj: get %q: %w", url, storage.ErrForeignURL)
	}
	data, err := s.obs.GetBytes(ctx, path)
	if errors.Is(err, jetstream.ErrObjectNotFound) {
		return nil, fmt.Errorf("natsobj: get %q: %w", path, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("natsobj: get %q: %w", path, err)
	}
	return data, nil
}

// Remove implements [storage.Store].
func (s *Store) Remove(ctx context.Context, path string) error {
	err := s.obs.Delete(ctx, path)
	if err != nil && !errors.Is(err, jetstream.ErrObjectNotFound) {
		return fmt.Errorf("natsobj: remove %q: %w", path, err)
	}
	return nil
}

// RemovePrefix implements [storage.Store]. All matching objects are
// attempted; failures are joined.
func (s *Store) RemovePrefix(ctx context.Context, prefix string) error {
	infos, err := s.obs.List(ctx)
	if errors.Is(err, jetstream.ErrNoObjectsFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("natsobj: list bucket %q: %w", s.bucket, err)
	}
	var errs []error
	for _, info := range infos {
		if info.Deleted || !strings.HasPrefix(info.Name, prefix) {
			continue
		}
		if err := s.Remove(ctx, info.Name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Ping reports whether the underlying NATS connection is usable. It matches
// the health.Checker signature.
func (s *Store) Ping(_ context.Context) error {
	if !s.nc.IsConnected() {
		return fmt.Errorf("natsobj: connection status %s", s.nc.Status())
	}
	return nil
}
