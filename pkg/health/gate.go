package health

import (
	"context"
	"fmt"
	"time"
)

// Gate runs a checker repeatedly over an observation window and decides
// whether a freshly promoted deployment is allowed to keep its traffic.
//
// The gate fails fast once FailureThreshold consecutive checks fail. When
// the window elapses it passes only if at least one check ever succeeded;
// an endpoint that never answered is a failure, not a pass.
type Gate struct {
	Checker          Checker
	Interval         time.Duration
	Window           time.Duration
	FailureThreshold int
}

// NewGate creates a gate with the given checker and timing
func NewGate(checker Checker, interval, window time.Duration, failureThreshold int) *Gate {
	if failureThreshold <= 0 {
		failureThreshold = 1
	}
	return &Gate{
		Checker:          checker,
		Interval:         interval,
		Window:           window,
		FailureThreshold: failureThreshold,
	}
}

// Run blocks until the gate passes, fails, or ctx is cancelled.
// A nil return means the gate passed.
func (g *Gate) Run(ctx context.Context) error {
	status := &Status{}
	deadline := time.NewTimer(g.Window)
	defer deadline.Stop()

	ticker := time.NewTicker(g.Interval)
	defer ticker.Stop()

	// First check runs immediately rather than one interval in
	if err := g.observe(ctx, status); err != nil {
		return err
	}

	for {
		select {
		case <-ticker.C:
			if err := g.observe(ctx, status); err != nil {
				return err
			}
		case <-deadline.C:
			if status.TotalSuccesses == 0 {
				return fmt.Errorf("observation window elapsed without a single successful check (last: %s)",
					status.LastResult.Message)
			}
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (g *Gate) observe(ctx context.Context, status *Status) error {
	result := g.Checker.Check(ctx)
	status.Update(result)

	if status.ConsecutiveFailures >= g.FailureThreshold {
		return fmt.Errorf("%d consecutive health check failures (last: %s)",
			status.ConsecutiveFailures, result.Message)
	}
	return nil
}
