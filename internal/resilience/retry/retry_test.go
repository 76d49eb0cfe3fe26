package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"prodscout/internal/resilience/retry"
)

func TestParseRetryAfter(t *testing.T) {
	cases := []struct {
		header string
		want   time.Duration
	}{
		{"60", 60 * time.Second},
		{"0", 0},
		{"", retry.DefaultRetryAfter},
		{"soon", retry.DefaultRetryAfter},
		{"-5", retry.DefaultRetryAfter},
		{"12.5", retry.DefaultRetryAfter},
	}
	for _, tc := range cases {
		if got := retry.ParseRetryAfter(tc.header); got != tc.want {
			t.Errorf("ParseRetryAfter(%q) = %v, want %v", tc.header, got, tc.want)
		}
	}
}

func TestWithBackoff_SucceedsAfterRetry(t *testing.T) {
	cfg := retry.Config{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}

	calls := 0
	err := retry.WithBackoff(context.Background(), cfg, func() error {
		calls++
		if calls < 3 {
			return &retry.HTTPError{StatusCode: 503, Message: "unavailable"}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithBackoff() error = %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestWithBackoff_NonRetryableAborts(t *testing.T) {
	cfg := retry.Config{
		MaxAttempts:  5,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}

	fatal := errors.New("bad request")
	calls := 0
	err := retry.WithBackoff(context.Background(), cfg, func() error {
		calls++
		return fatal
	})
	if !errors.Is(err, fatal) {
		t.Errorf("error = %v, want %v", err, fatal)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (non-retryable)", calls)
	}
}

func TestWithBackoff_ExhaustsAttempts(t *testing.T) {
	cfg := retry.Config{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     2 * time.Millisecond,
		Multiplier:   2.0,
	}

	calls := 0
	err := retry.WithBackoff(context.Background(), cfg, func() error {
		calls++
		return &retry.HTTPError{StatusCode: 500, Message: "boom"}
	})
	if err == nil {
		t.Fatal("WithBackoff() returned nil after exhausted attempts")
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestIsRetryable(t *testing.T) {
	if retry.IsRetryable(context.Canceled) {
		t.Error("context.Canceled reported retryable")
	}
	if !retry.IsRetryable(&retry.HTTPError{StatusCode: 429, Message: "rate limited"}) {
		t.Error("HTTP 429 reported non-retryable")
	}
	if !retry.IsRetryable(&retry.HTTPError{StatusCode: 502, Message: "bad gateway"}) {
		t.Error("HTTP 502 reported non-retryable")
	}
	if retry.IsRetryable(&retry.HTTPError{StatusCode: 404, Message: "not found"}) {
		t.Error("HTTP 404 reported retryable")
	}
}
