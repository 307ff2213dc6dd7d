package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"syscall"
	"testing"
	"time"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected ErrorCategory
	}{
		{"nil error", nil, CategoryFatal},
		{"context.Canceled", context.Canceled, CategoryFatal},
		{"unknown error", errors.New("some random error"), CategoryFatal},
		{"io.EOF", io.EOF, CategoryRetryable},
		{"wrapped EOF", fmt.Errorf("wrap: %w", io.EOF), CategoryRetryable},
		{"syscall.ECONNRESET", syscall.ECONNRESET, CategoryRetryable},
		{"connection reset string", errors.New("read: connection reset by peer"), CategoryRetryable},
		{"rate limit string", errors.New("429 too many requests"), CategoryThrottled},
		{"status 404", &HTTPStatusError{StatusCode: http.StatusNotFound, Status: "404 Not Found"}, CategoryFatal},
		{"status 429", &HTTPStatusError{StatusCode: http.StatusTooManyRequests, Status: "429"}, CategoryThrottled},
		{"status 500", &HTTPStatusError{StatusCode: http.StatusInternalServerError, Status: "500"}, CategoryRetryable},
		{"status 503", &HTTPStatusError{StatusCode: http.StatusServiceUnavailable, Status: "503"}, CategoryRetryable},
		{"wrapped status error", fmt.Errorf("fetch: %w", &HTTPStatusError{StatusCode: 500, Status: "500"}), CategoryRetryable},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifyError(tc.err); got != tc.expected {
				t.Errorf("ClassifyError(%v) = %v, want %v", tc.err, got, tc.expected)
			}
		})
	}
}

func TestCalculateBackoff_ExponentialGrowth(t *testing.T) {
	cfg := Config{BaseDelay: time.Second, MaxDelay: time.Minute, BackoffFactor: 2.0, JitterFactor: 0}
	d1 := cfg.CalculateBackoff(1)
	d2 := cfg.CalculateBackoff(2)
	d3 := cfg.CalculateBackoff(3)
	if d1 != time.Second || d2 != 2*time.Second || d3 != 4*time.Second {
		t.Errorf("expected 1s,2s,4s got %v,%v,%v", d1, d2, d3)
	}
}

func TestCalculateBackoff_CapsAtMaxDelay(t *testing.T) {
	cfg := Config{BaseDelay: time.Second, MaxDelay: 5 * time.Second, BackoffFactor: 2.0, JitterFactor: 0}
	d := cfg.CalculateBackoff(10)
	if d != 5*time.Second {
		t.Errorf("expected delay capped at 5s, got %v", d)
	}
}

func TestShouldRetry_RespectsMaxRetries(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxRetries = 3
	state := &State{Attempts: 3}
	if cfg.ShouldRetry(state, io.EOF) {
		t.Error("expected ShouldRetry false once attempts reach MaxRetries")
	}
}

func TestShouldRetry_FatalNeverRetries(t *testing.T) {
	cfg := DefaultConfig()
	state := &State{Attempts: 0}
	if cfg.ShouldRetry(state, errors.New("boom")) {
		t.Error("expected ShouldRetry false for fatal errors")
	}
}

func TestWaitForRetry_RespectsContextCancellation(t *testing.T) {
	cfg := Config{BaseDelay: time.Hour, MaxDelay: time.Hour, BackoffFactor: 1}
	state := &State{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := cfg.WaitForRetry(ctx, state, CategoryRetryable)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestWaitForRetry_ThrottledDoublesDelay(t *testing.T) {
	cfg := Config{BaseDelay: 10 * time.Millisecond, MaxDelay: time.Second, BackoffFactor: 1, JitterFactor: 0}
	state := &State{Attempts: 1}
	if err := cfg.WaitForRetry(context.Background(), state, CategoryThrottled); err != nil {
		t.Fatalf("WaitForRetry: %v", err)
	}
	if state.TotalDelayed < 20*time.Millisecond {
		t.Errorf("expected throttled delay to be doubled, got %v", state.TotalDelayed)
	}
}
