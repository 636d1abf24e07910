package publish

import (
	"errors"
	"testing"
	"time"
)

func TestArchiveKey(t *testing.T) {
	at := time.Date(2024, 3, 9, 14, 5, 7, 0, time.FixedZone("EST", -5*3600))
	got := ArchiveKey("abc", "paired", at)
	want := "sessions/abc/abc_paired_20240309T190507Z.zip"
	if got != want {
		t.Errorf("ArchiveKey = %q, want %q", got, want)
	}
}

func TestNewRequiresEndpointAndBucket(t *testing.T) {
	if _, err := New(Config{Endpoint: "localhost:9000"}); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("err = %v, want ErrNotConfigured", err)
	}

	p, err := New(Config{Endpoint: "localhost:9000", Bucket: "captions", AccessKey: "k", SecretKey: "s"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.expiry != 24*time.Hour {
		t.Errorf("default expiry = %s", p.expiry)
	}
}
