package approval

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/greenlight-sh/greenlight/pkg/events"
	"github.com/greenlight-sh/greenlight/pkg/log"
	"github.com/greenlight-sh/greenlight/pkg/metrics"
	"github.com/greenlight-sh/greenlight/pkg/storage"
	"github.com/greenlight-sh/greenlight/pkg/types"
)

var (
	// ErrAlreadyDecided is returned when a release's approval gate has
	// already reached a final decision
	ErrAlreadyDecided = errors.New("approval already decided")

	// ErrNotPending is returned when the release is past its approval gate
	ErrNotPending = errors.New("release is not pending approval")
)

// Manager is the manual approval gate. A release sits in pending-approval
// until an operator approves or rejects it, or the approval timeout expires.
type Manager struct {
	store  storage.Store
	broker *events.Broker

	mu      sync.Mutex
	waiters map[string]chan types.ApprovalDecision
}

// NewManager creates an approval manager
func NewManager(store storage.Store, broker *events.Broker) *Manager {
	return &Manager{
		store:   store,
		broker:  broker,
		waiters: make(map[string]chan types.ApprovalDecision),
	}
}

// Approve records an approval for a pending release
func (m *Manager) Approve(releaseID, approver, comment string) (*types.Release, error) {
	return m.decide(releaseID, types.ApprovalApproved, approver, comment)
}

// Reject records a rejection for a pending release
func (m *Manager) Reject(releaseID, approver, comment string) (*types.Release, error) {
	return m.decide(releaseID, types.ApprovalRejected, approver, comment)
}

func (m *Manager) decide(releaseID string, decision types.ApprovalDecision, approver, comment string) (*types.Release, error) {
	release, err := m.store.GetRelease(releaseID)
	if err != nil {
		return nil, fmt.Errorf("failed to load release: %w", err)
	}

	if release.Approval.Decided() {
		return nil, fmt.Errorf("release %s: %w (%s)", releaseID, ErrAlreadyDecided, release.Approval.Decision)
	}
	if release.State != types.ReleasePendingApproval {
		return nil, fmt.Errorf("release %s in state %s: %w", releaseID, release.State, ErrNotPending)
	}

	now := time.Now()
	release.Approval = &types.Approval{
		ReleaseID: releaseID,
		Decision:  decision,
		Approver:  approver,
		Comment:   comment,
		DecidedAt: now,
	}
	release.UpdatedAt = now

	eventType := events.EventReleaseApproved
	if decision == types.ApprovalApproved {
		release.State = types.ReleaseApproved
	} else {
		release.State = types.ReleaseRejected
		release.Reason = "rejected by " + approver
		release.FinishedAt = now
		eventType = events.EventReleaseRejected
	}

	if err := m.store.UpdateRelease(release); err != nil {
		return nil, fmt.Errorf("failed to persist approval: %w", err)
	}

	metrics.ApprovalsTotal.WithLabelValues(string(decision)).Inc()
	m.broker.Publish(&events.Event{
		Type:      eventType,
		ServiceID: release.ServiceID,
		ReleaseID: release.ID,
		Message:   fmt.Sprintf("release %s by %s", decision, approver),
	})

	log.WithRelease(releaseID).Info().
		Str("decision", string(decision)).
		Str("approver", approver).
		Msg("approval gate decided")

	m.notify(releaseID, decision)
	return release, nil
}

// Wait blocks until the release's approval gate is decided, the timeout
// expires, or ctx is cancelled. On timeout the release is marked expired
// and rejected.
func (m *Manager) Wait(ctx context.Context, releaseID string, timeout time.Duration) (types.ApprovalDecision, error) {
	// Register before reading the store: a decision persisted before the
	// read is caught by the check below, one persisted after notifies the
	// channel. In either order nothing is lost.
	ch := m.register(releaseID)
	defer m.unregister(releaseID)

	// The decision may already be on disk (decided before Wait was called,
	// or by a previous incarnation of the server)
	release, err := m.store.GetRelease(releaseID)
	if err != nil {
		return "", fmt.Errorf("failed to load release: %w", err)
	}
	if release.Approval.Decided() {
		return release.Approval.Decision, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case decision := <-ch:
		return decision, nil
	case <-timer.C:
		if err := m.expire(releaseID); err != nil {
			return "", err
		}
		return types.ApprovalExpired, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// expire marks a still-pending release as expired and rejected
func (m *Manager) expire(releaseID string) error {
	release, err := m.store.GetRelease(releaseID)
	if err != nil {
		return fmt.Errorf("failed to load release: %w", err)
	}
	if release.Approval.Decided() {
		// Decision raced the timeout; the decision wins
		return nil
	}

	now := time.Now()
	release.Approval = &types.Approval{
		ReleaseID: releaseID,
		Decision:  types.ApprovalExpired,
		DecidedAt: now,
	}
	release.State = types.ReleaseRejected
	release.Reason = "approval timed out"
	release.UpdatedAt = now
	release.FinishedAt = now

	if err := m.store.UpdateRelease(release); err != nil {
		return fmt.Errorf("failed to persist expiry: %w", err)
	}

	metrics.ApprovalsTotal.WithLabelValues(string(types.ApprovalExpired)).Inc()
	m.broker.Publish(&events.Event{
		Type:      events.EventReleaseRejected,
		ServiceID: release.ServiceID,
		ReleaseID: release.ID,
		Message:   "approval timed out",
	})

	log.WithRelease(releaseID).Warn().Msg("approval gate expired")
	return nil
}

func (m *Manager) register(releaseID string) chan types.ApprovalDecision {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch := make(chan types.ApprovalDecision, 1)
	m.waiters[releaseID] = ch
	return ch
}

func (m *Manager) unregister(releaseID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.waiters, releaseID)
}

func (m *Manager) notify(releaseID string, decision types.ApprovalDecision) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ch, ok := m.waiters[releaseID]; ok {
		select {
		case ch <- decision:
		default:
		}
	}
}
