package entity_test

import (
	"testing"
	"time"

	"prodscout/internal/domain/entity"
)

func TestPost_Bucket(t *testing.T) {
	cases := []struct {
		score int
		want  entity.Bucket
	}{
		{5, entity.BucketHigh},
		{4, entity.BucketHigh},
		{3, entity.BucketPending},
		{2, entity.BucketPending},
		{1, entity.BucketExcluded},
		{0, entity.BucketExcluded},
	}
	for _, tc := range cases {
		p := &entity.Post{QualityScore: tc.score}
		if got := p.Bucket(); got != tc.want {
			t.Errorf("Bucket() with score %d = %q, want %q", tc.score, got, tc.want)
		}
	}
}

func TestPost_AddExtraURL(t *testing.T) {
	p := &entity.Post{}

	if !p.AddExtraURL("https://example.com/a") {
		t.Error("first add returned false")
	}
	if p.AddExtraURL("https://example.com/a") {
		t.Error("duplicate add returned true")
	}
	if p.AddExtraURL("") {
		t.Error("empty add returned true")
	}
	p.AddExtraURL("https://example.com/b")

	if len(p.ExtraURLs) != 2 {
		t.Fatalf("ExtraURLs length = %d, want 2", len(p.ExtraURLs))
	}
	if p.ExtraURLs[0] != "https://example.com/a" || p.ExtraURLs[1] != "https://example.com/b" {
		t.Errorf("ExtraURLs order not preserved: %v", p.ExtraURLs)
	}
}

func TestPost_HashLink(t *testing.T) {
	p := &entity.Post{Link: "https://example.com/article"}

	h1 := p.HashLink()
	h2 := p.HashLink()
	if h1 != h2 {
		t.Errorf("HashLink not deterministic: %q vs %q", h1, h2)
	}
	if len(h1) != 6 {
		t.Errorf("HashLink length = %d, want 6", len(h1))
	}

	other := &entity.Post{Link: "https://example.com/other"}
	if other.HashLink() == h1 {
		t.Error("different links produced the same hash")
	}
}

func TestPost_WithinLookback(t *testing.T) {
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)

	recent := &entity.Post{Date: "2026-07-28"}
	within, err := recent.WithinLookback(now, 7)
	if err != nil {
		t.Fatalf("WithinLookback() error = %v", err)
	}
	if !within {
		t.Error("post two days old reported outside a 7-day window")
	}

	old := &entity.Post{Date: "2026-07-10"}
	within, err = old.WithinLookback(now, 7)
	if err != nil {
		t.Fatalf("WithinLookback() error = %v", err)
	}
	if within {
		t.Error("post twenty days old reported inside a 7-day window")
	}

	bad := &entity.Post{Date: "not-a-date"}
	if _, err := bad.WithinLookback(now, 7); err == nil {
		t.Error("unparseable date did not return an error")
	}
}

func TestPost_Validate(t *testing.T) {
	valid := &entity.Post{
		Link:       "https://example.com/a",
		SourceType: entity.SourceBlog,
		SourceName: "Example Blog",
	}
	if err := valid.Validate(); err != nil {
		t.Errorf("Validate() on valid post = %v", err)
	}

	missing := &entity.Post{SourceType: entity.SourceBlog, SourceName: "x"}
	if err := missing.Validate(); err == nil {
		t.Error("Validate() accepted post without link")
	}

	unknown := &entity.Post{Link: "https://example.com", SourceType: "Telegram", SourceName: "x"}
	if err := unknown.Validate(); err == nil {
		t.Error("Validate() accepted unknown source type")
	}
}

func TestErrorKind(t *testing.T) {
	if kind := entity.ErrorKind(entity.ErrRateLimited); kind != "RateLimited" {
		t.Errorf("ErrorKind(ErrRateLimited) = %q", kind)
	}
	if kind := entity.ErrorKind(entity.ErrConfig); kind != "ConfigError" {
		t.Errorf("ErrorKind(ErrConfig) = %q", kind)
	}
}
