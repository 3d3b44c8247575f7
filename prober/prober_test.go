package prober

import (
	"testing"
	"time"
)

func TestSummarizeAllSuccess(t *testing.T) {
	s := summarize([]float64{10, 12, 11}, 3, 0)
	if s.LossPercent != 0 {
		t.Fatalf("want 0%% loss, got %v", s.LossPercent)
	}
	if s.MinMs != 10 || s.MaxMs != 12 {
		t.Fatalf("unexpected min/max: %+v", s)
	}
}

func TestSummarizeAllFailed(t *testing.T) {
	s := summarize(nil, 0, 5)
	if s.LossPercent != 100 {
		t.Fatalf("want 100%% loss, got %v", s.LossPercent)
	}
}

func TestSummarizeJitterIsMeanAbsDelta(t *testing.T) {
	s := summarize([]float64{10, 20, 10}, 3, 0)
	// |20-10| + |10-20| = 20, divided by 2 samples of delta = 10
	if s.JitterMs != 10 {
		t.Fatalf("want jitter 10, got %v", s.JitterMs)
	}
}

func TestTokenBucketRefillsOverTime(t *testing.T) {
	b := newTokenBucket(1000)
	b.last = b.last.Add(-100 * time.Millisecond) // simulate elapsed time
	if !b.Take() {
		t.Fatalf("expected a token to be available after a 100ms refill at 1000/s")
	}
}

func TestTokenBucketEmptyInitially(t *testing.T) {
	b := newTokenBucket(1)
	if b.Take() {
		t.Fatalf("expected no token available with zero elapsed time")
	}
}
