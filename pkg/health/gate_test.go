package health

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedChecker returns canned results in order, repeating the last one
type scriptedChecker struct {
	mu      sync.Mutex
	results []bool
	calls   int
}

func (c *scriptedChecker) Check(ctx context.Context) Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	i := c.calls
	if i >= len(c.results) {
		i = len(c.results) - 1
	}
	c.calls++
	return Result{
		Healthy:   c.results[i],
		Message:   "scripted",
		CheckedAt: time.Now(),
	}
}

func (c *scriptedChecker) Type() CheckType { return CheckTypeHTTP }

func TestGate_PassesHealthyEndpoint(t *testing.T) {
	checker := &scriptedChecker{results: []bool{true}}
	gate := NewGate(checker, time.Millisecond, 20*time.Millisecond, 3)

	err := gate.Run(context.Background())
	assert.NoError(t, err)
	assert.GreaterOrEqual(t, checker.calls, 2, "gate should check repeatedly during the window")
}

func TestGate_FailsFastOnConsecutiveFailures(t *testing.T) {
	checker := &scriptedChecker{results: []bool{true, false, false, false}}
	gate := NewGate(checker, time.Millisecond, time.Hour, 3)

	start := time.Now()
	err := gate.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "3 consecutive health check failures")
	assert.Less(t, time.Since(start), time.Second, "gate must not wait out the window once the threshold is hit")
}

func TestGate_IntermittentFailuresBelowThresholdPass(t *testing.T) {
	// fail, recover, fail, recover: streak never reaches 2
	checker := &scriptedChecker{results: []bool{false, true, false, true}}
	gate := NewGate(checker, time.Millisecond, 10*time.Millisecond, 2)

	err := gate.Run(context.Background())
	assert.NoError(t, err)
}

func TestGate_WindowWithoutSuccessFails(t *testing.T) {
	// Threshold high enough that fail-fast never triggers
	checker := &scriptedChecker{results: []bool{false}}
	gate := NewGate(checker, time.Millisecond, 10*time.Millisecond, 1000)

	err := gate.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "without a single successful check")
}

func TestGate_ContextCancellation(t *testing.T) {
	checker := &scriptedChecker{results: []bool{true}}
	gate := NewGate(checker, time.Millisecond, time.Hour, 3)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()

	err := gate.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
