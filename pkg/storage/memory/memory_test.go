package memory_test

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/MrWong99/narrata/pkg/storage"
	"github.com/MrWong99/narrata/pkg/storage/memory"
)

func TestStore_PutGet(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := memory.New("https://cdn.example.com/audio")

	url, err := s.Put(ctx, "u1/p1/reference_1.wav", []byte("riff"), "audio/wav")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if want := "https://cdn.example.com/audio/u1/p1/reference_1.wav"; url != want {
		t.Errorf("url = %q, want %q", url, want)
	}
	got, err := s.Get(ctx, url)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "riff" {
		t.Errorf("Get = %q, want riff", got)
	}
	if ct := s.ContentType("u1/p1/reference_1.wav"); ct != "audio/wav" {
		t.Errorf("ContentType = %q", ct)
	}
}

func TestStore_GetErrors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := memory.New("")

	if _, err := s.Get(ctx, memory.DefaultBaseURL+"/missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Get(missing) err = %v, want ErrNotFound", err)
	}
	if _, err := s.Get(ctx, "https://elsewhere/x"); !errors.Is(err, storage.ErrForeignURL) {
		t.Errorf("Get(foreign) err = %v, want ErrForeignURL", err)
	}
}

func TestStore_RemovePrefix(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := memory.New("")

	for _, p := range []string{
		storage.ArtifactPath("u1", "p1", "reference_1.wav"),
		storage.ArtifactPath("u1", "p1", "narrations/abc.wav"),
		storage.ArtifactPath("u1", "p10", "reference_1.wav"),
		storage.ArtifactPath("u2", "p1", "reference_1.wav"),
	} {
		if _, err := s.Put(ctx, p, []byte("x"), "audio/wav"); err != nil {
			t.Fatalf("Put(%s): %v", p, err)
		}
	}

	if err := s.RemovePrefix(ctx, storage.ProfilePrefix("u1", "p1")); err != nil {
		t.Fatalf("RemovePrefix: %v", err)
	}

	want := []string{"u1/p10/reference_1.wav", "u2/p1/reference_1.wav"}
	if got := s.Paths(); !slices.Equal(got, want) {
		t.Errorf("Paths = %v, want %v", got, want)
	}
}
