package storage_test

import (
	"testing"

	"github.com/MrWong99/narrata/pkg/storage"
)

func TestPaths(t *testing.T) {
	t.Parallel()

	if got := storage.ArtifactPath("owner", "prof", "reference_2.mp3"); got != "owner/prof/reference_2.mp3" {
		t.Errorf("ArtifactPath = %q", got)
	}
	if got := storage.ProfilePrefix("owner", "prof"); got != "owner/prof/" {
		t.Errorf("ProfilePrefix = %q", got)
	}
}

func TestPathFromURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		base, url string
		want      string
		ok        bool
	}{
		{"nats://voices", "nats://voices/u/p/a.wav", "u/p/a.wav", true},
		{"nats://voices/", "nats://voices/u/p/a.wav", "u/p/a.wav", true},
		{"nats://voices", "nats://other/u/p/a.wav", "", false},
		{"nats://voices", "nats://voices/", "", false},
	}
	for _, tt := range tests {
		got, ok := storage.PathFromURL(tt.base, tt.url)
		if got != tt.want || ok != tt.ok {
			t.Errorf("PathFromURL(%q, %q) = %q, %v; want %q, %v", tt.base, tt.url, got, ok, tt.want, tt.ok)
		}
	}
	if got := storage.JoinURL("nats://voices/", "/u/p/a.wav"); got != "nats://voices/u/p/a.wav" {
		t.Errorf("JoinURL = %q", got)
	}
}
