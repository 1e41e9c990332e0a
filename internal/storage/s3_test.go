package storage

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestAudioKey(t *testing.T) {
	id := uuid.MustParse("7c9e6679-7425-40de-944b-e07fc1f90ae7")
	now := time.Date(2026, 3, 9, 23, 30, 0, 0, time.UTC)

	if got := AudioKey(now, id, "audio/wav"); got != "audio/2026/03/09/7c9e6679-7425-40de-944b-e07fc1f90ae7.wav" {
		t.Errorf("AudioKey = %q", got)
	}
	if got := AudioKey(now, id, "application/octet-stream"); got != "audio/2026/03/09/7c9e6679-7425-40de-944b-e07fc1f90ae7.bin" {
		t.Errorf("AudioKey = %q", got)
	}
}

func TestPublicURLRoundTrip(t *testing.T) {
	c := &Client{publicURL: "https://media.example.com/podcasts"}

	url := c.PublicURL("audio/a.wav")
	if url != "https://media.example.com/podcasts/audio/a.wav" {
		t.Fatalf("PublicURL = %q", url)
	}
	key, ok := c.KeyFromURL(url)
	if !ok || key != "audio/a.wav" {
		t.Errorf("KeyFromURL = %q, %v", key, ok)
	}
	if _, ok := c.KeyFromURL("https://elsewhere.example.com/audio/a.wav"); ok {
		t.Error("foreign URL must not map to a key")
	}

	empty := &Client{}
	if empty.PublicURL("k") != "" {
		t.Error("expected empty URL without public base")
	}
}
