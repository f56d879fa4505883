package metrics

import (
	"testing"
	"time"
)

func TestTimerElapsed(t *testing.T) {
	timer := NewTimer()
	time.Sleep(10 * time.Millisecond)

	elapsed := timer.Elapsed()
	if elapsed < 10*time.Millisecond {
		t.Errorf("expected at least 10ms elapsed, got %v", elapsed)
	}
}

func TestTimerObserveDuration(t *testing.T) {
	timer := NewTimer()
	time.Sleep(time.Millisecond)

	// Observing into a registered histogram must not panic
	timer.ObserveDuration(ReleaseDuration)
}
