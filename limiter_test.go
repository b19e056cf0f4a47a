package beodesk

import (
	"testing"
	"time"
)

func TestUploadLimiterBlocksAfterMax(t *testing.T) {
	limiter := NewUploadLimiter(2, 200*time.Millisecond)
	defer limiter.Stop()
	ip := "203.0.113.10"

	if !limiter.Allow(ip) {
		t.Fatalf("expected first upload to be allowed")
	}
	if !limiter.Allow(ip) {
		t.Fatalf("expected second upload to be allowed")
	}
	if limiter.Allow(ip) {
		t.Fatalf("expected third upload to be blocked")
	}
	if got := limiter.Remaining(ip); got != 0 {
		t.Fatalf("Remaining = %d, want 0", got)
	}
}

func TestUploadLimiterResetsAfterWindow(t *testing.T) {
	limiter := NewUploadLimiter(1, 150*time.Millisecond)
	defer limiter.Stop()
	ip := "203.0.113.20"

	if !limiter.Allow(ip) {
		t.Fatalf("expected first upload to be allowed")
	}
	if limiter.Allow(ip) {
		t.Fatalf("expected second upload to be blocked")
	}

	time.Sleep(200 * time.Millisecond)
	if !limiter.Allow(ip) {
		t.Fatalf("expected upload after window to be allowed")
	}
}

func TestUploadLimiterIsPerIP(t *testing.T) {
	limiter := NewUploadLimiter(1, 200*time.Millisecond)
	defer limiter.Stop()

	if !limiter.Allow("203.0.113.30") {
		t.Fatalf("expected first ip to be allowed")
	}
	if !limiter.Allow("203.0.113.31") {
		t.Fatalf("expected second ip to be allowed independently")
	}
	if limiter.Allow("203.0.113.30") {
		t.Fatalf("expected first ip to be blocked after max")
	}
	if got := limiter.Remaining("203.0.113.99"); got != 1 {
		t.Fatalf("Remaining for unseen ip = %d, want 1", got)
	}
}

func TestUploadLimiterStopIsIdempotent(t *testing.T) {
	limiter := NewUploadLimiter(1, time.Millisecond)
	limiter.Stop()
	limiter.Stop()
}
