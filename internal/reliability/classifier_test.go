package reliability

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestIsRetryableHTTPStatus(t *testing.T) {
	cases := []struct {
		code int
		want bool
	}{
		{200, false},
		{400, false},
		{429, true},
		{500, true},
		{503, true},
	}
	for _, tc := range cases {
		got := IsRetryableHTTPStatus(tc.code)
		if got != tc.want {
			t.Fatalf("IsRetryableHTTPStatus(%d) = %v, want %v", tc.code, got, tc.want)
		}
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ClassOK},
		{"canceled", fmt.Errorf("poll: %w", context.Canceled), ClassCanceled},
		{"deadline", context.DeadlineExceeded, ClassNetwork},
		{"net", fmt.Errorf("dial: %w", timeoutErr{}), ClassNetwork},
		{"503", &HTTPStatusError{Code: 503}, ClassRetryable},
		{"404", fmt.Errorf("fetch: %w", &HTTPStatusError{Code: 404, Body: "nope"}), ClassFatal},
		{"decode", errors.New("invalid character"), ClassFatal},
	}
	for _, tc := range cases {
		if got := Classify(tc.err); got != tc.want {
			t.Fatalf("%s: Classify() = %q, want %q", tc.name, got, tc.want)
		}
	}
	if !IsTransient(&HTTPStatusError{Code: 429}) {
		t.Fatalf("429 should be transient")
	}
}

func TestFixedDelayNeverGrows(t *testing.T) {
	base := 2 * time.Second
	for attempt := 0; attempt < 50; attempt++ {
		if got := FixedDelay(attempt, base); got != base {
			t.Fatalf("attempt %d = %v, want %v", attempt, got, base)
		}
	}
	if got := FixedDelay(3, 0); got != 2*time.Second {
		t.Fatalf("zero base = %v, want 2s default", got)
	}
}
