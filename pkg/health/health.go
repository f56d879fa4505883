package health

import (
	"context"
	"fmt"
	"time"

	"github.com/greenlight-sh/greenlight/pkg/types"
)

// CheckType represents the type of health check
type CheckType string

const (
	CheckTypeHTTP CheckType = "http"
	CheckTypeTCP  CheckType = "tcp"
	CheckTypeExec CheckType = "exec"
)

// Result represents the outcome of a single health check
type Result struct {
	Healthy   bool
	Message   string
	CheckedAt time.Time
	Duration  time.Duration
}

// Checker is the interface that all health checkers must implement
type Checker interface {
	// Check performs the health check and returns the result
	Check(ctx context.Context) Result

	// Type returns the type of health check
	Type() CheckType
}

// FromSpec builds a Checker from a service's health check spec
func FromSpec(spec *types.HealthCheckSpec) (Checker, error) {
	if spec == nil {
		return nil, fmt.Errorf("no health check configured")
	}

	switch spec.Type {
	case types.HealthCheckHTTP:
		checker := NewHTTPChecker(spec.Endpoint)
		if spec.Timeout > 0 {
			checker = checker.WithTimeout(spec.Timeout)
		}
		return checker, nil
	case types.HealthCheckTCP:
		checker := NewTCPChecker(spec.Endpoint)
		if spec.Timeout > 0 {
			checker = checker.WithTimeout(spec.Timeout)
		}
		return checker, nil
	case types.HealthCheckExec:
		checker := NewExecChecker(spec.Command)
		if spec.Timeout > 0 {
			checker = checker.WithTimeout(spec.Timeout)
		}
		return checker, nil
	default:
		return nil, fmt.Errorf("unsupported health check type: %s", spec.Type)
	}
}

// Status tracks consecutive check outcomes for an endpoint
type Status struct {
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
	TotalSuccesses       int
	LastCheck            time.Time
	LastResult           Result
}

// Update folds a new check result into the status
func (s *Status) Update(result Result) {
	s.LastCheck = result.CheckedAt
	s.LastResult = result

	if result.Healthy {
		s.ConsecutiveSuccesses++
		s.ConsecutiveFailures = 0
		s.TotalSuccesses++
	} else {
		s.ConsecutiveFailures++
		s.ConsecutiveSuccesses = 0
	}
}
