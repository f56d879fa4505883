package types

import (
	"fmt"
	"time"
)

// SlotColor identifies one of the two deployment slots of a service
type SlotColor string

const (
	SlotBlue  SlotColor = "blue"
	SlotGreen SlotColor = "green"
)

// Other returns the opposite slot color
func (c SlotColor) Other() SlotColor {
	if c == SlotBlue {
		return SlotGreen
	}
	return SlotBlue
}

// Service represents a service managed with blue/green releases.
// The service fronts exactly one of its two slot deployments at a time;
// the selector key/value on the platform service decides which.
type Service struct {
	ID            string
	Name          string
	Namespace     string
	Image         string // image currently serving traffic
	PreviousImage string // image before the last promoted release, for manual rollback
	Replicas      int
	ActiveSlot    SlotColor // slot the selector currently points at
	SelectorKey   string    // label key patched on the platform service (e.g. "slot")
	HealthCheck   *HealthCheckSpec
	Rollout       *RolloutConfig
	Labels        map[string]string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// SlotDeploymentName returns the platform deployment name for a slot
func (s *Service) SlotDeploymentName(color SlotColor) string {
	return fmt.Sprintf("%s-%s", s.Name, color)
}

// RolloutConfig controls the gates and timing of a release
type RolloutConfig struct {
	ReadinessTimeout  time.Duration // overall deadline for the new slot to become ready
	PollInterval      time.Duration // how often rollout status is polled
	DrainGrace        time.Duration // wait before the old slot is scaled to zero
	ObservationWindow time.Duration // post-cutover health monitoring period
	CheckInterval     time.Duration // health check cadence during observation
	FailureThreshold  int           // consecutive health failures that trigger rollback
	ApprovalTimeout   time.Duration // how long a release may sit pending approval
	HistoryRetention  int           // finished releases kept per service
}

// DefaultRolloutConfig returns a RolloutConfig with sensible defaults
func DefaultRolloutConfig() *RolloutConfig {
	return &RolloutConfig{
		ReadinessTimeout:  5 * time.Minute,
		PollInterval:      5 * time.Second,
		DrainGrace:        30 * time.Second,
		ObservationWindow: 2 * time.Minute,
		CheckInterval:     10 * time.Second,
		FailureThreshold:  3,
		ApprovalTimeout:   30 * time.Minute,
		HistoryRetention:  10,
	}
}

// HealthCheckSpec defines how the live endpoint is probed after cutover
type HealthCheckSpec struct {
	Type     HealthCheckType // "http", "tcp", "exec"
	Endpoint string          // URL or host:port
	Command  []string        // for exec type
	Timeout  time.Duration
}

// HealthCheckType defines the type of health check
type HealthCheckType string

const (
	HealthCheckHTTP HealthCheckType = "http"
	HealthCheckTCP  HealthCheckType = "tcp"
	HealthCheckExec HealthCheckType = "exec"
)

// ReleaseState represents where a release is in its lifecycle
type ReleaseState string

const (
	ReleasePendingApproval ReleaseState = "pending-approval"
	ReleaseApproved        ReleaseState = "approved"
	ReleaseRejected        ReleaseState = "rejected"
	ReleaseApplying        ReleaseState = "applying"
	ReleaseWaitingReady    ReleaseState = "waiting-ready"
	ReleaseSwitching       ReleaseState = "switching"
	ReleaseDraining        ReleaseState = "draining"
	ReleaseObserving       ReleaseState = "observing"
	ReleasePromoted        ReleaseState = "promoted"
	ReleaseRollingBack     ReleaseState = "rolling-back"
	ReleaseRolledBack      ReleaseState = "rolled-back"
	ReleaseRollbackFailed  ReleaseState = "rollback-failed"
	ReleaseFailed          ReleaseState = "failed"
)

// Terminal reports whether the state is final
func (s ReleaseState) Terminal() bool {
	switch s {
	case ReleasePromoted, ReleaseRejected, ReleaseRolledBack, ReleaseRollbackFailed, ReleaseFailed:
		return true
	}
	return false
}

// Release represents one attempted blue/green cutover of a service
type Release struct {
	ID          string
	ServiceID   string
	ServiceName string
	Namespace   string
	Image       string    // image being released
	FromSlot    SlotColor // slot serving traffic when the release started
	ToSlot      SlotColor // slot the release deploys into
	State       ReleaseState
	Reason      string // failure reason, set on failed/rolled-back releases
	Approval    *Approval
	Replicas    int // replica count applied to the new slot (and restored on rollback)
	CreatedAt   time.Time
	UpdatedAt   time.Time
	FinishedAt  time.Time
}

// ApprovalDecision is the outcome of a manual approval gate
type ApprovalDecision string

const (
	ApprovalPending  ApprovalDecision = "pending"
	ApprovalApproved ApprovalDecision = "approved"
	ApprovalRejected ApprovalDecision = "rejected"
	ApprovalExpired  ApprovalDecision = "expired"
)

// Approval records the manual gate decision for a release
type Approval struct {
	ReleaseID string
	Decision  ApprovalDecision
	Approver  string
	Comment   string
	DecidedAt time.Time
}

// Decided reports whether the approval has reached a final decision
func (a *Approval) Decided() bool {
	return a != nil && a.Decision != ApprovalPending
}

// Event represents an orchestrator event (for streaming/audit)
type Event struct {
	Type      string
	Timestamp time.Time
	ServiceID string
	ReleaseID string
	Message   string
	Data      map[string]string
}
