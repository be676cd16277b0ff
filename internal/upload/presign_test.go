package upload

import (
	"context"
	"net/url"
	"strings"
	"testing"
	"time"
)

func TestPresignPutSignsLocally(t *testing.T) {
	p, err := NewPresigner(Config{
		Endpoint:  "storage.example.test:9000",
		AccessKey: "access",
		SecretKey: "secret",
		Bucket:    "icvc-s3-uploads",
		Region:    "us-east-1",
	})
	if err != nil {
		t.Fatalf("new presigner: %v", err)
	}
	fixed := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return fixed }

	key := ObjectKey(4, 0, 0, "PitchDeck")
	raw, expires, err := p.PresignPut(context.Background(), key)
	if err != nil {
		t.Fatalf("presign: %v", err)
	}
	if !expires.Equal(fixed.Add(DefaultExpiry)) {
		t.Fatalf("expected expiry %s, got %s", fixed.Add(DefaultExpiry), expires)
	}

	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	if u.Scheme != "http" {
		t.Fatalf("expected http scheme, got %q", u.Scheme)
	}
	if !strings.HasSuffix(u.Path, "/icvc-s3-uploads/projects/4/0/0/PitchDeck") {
		t.Fatalf("unexpected object path %q", u.Path)
	}
	if u.Query().Get("X-Amz-Signature") == "" {
		t.Fatalf("expected signed url, got %s", raw)
	}
}

func TestNewPresignerRequiresBucket(t *testing.T) {
	if _, err := NewPresigner(Config{Endpoint: "localhost:9000"}); err == nil {
		t.Fatal("expected error without bucket")
	}
}
