package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/greenlight-sh/greenlight/pkg/approval"
	"github.com/greenlight-sh/greenlight/pkg/events"
	"github.com/greenlight-sh/greenlight/pkg/log"
	"github.com/greenlight-sh/greenlight/pkg/platform"
	"github.com/greenlight-sh/greenlight/pkg/storage"
	"github.com/greenlight-sh/greenlight/pkg/types"
)

// ErrReleaseInFlight is returned when a service already has a release
// that has not reached a terminal state
var ErrReleaseInFlight = errors.New("service already has a release in flight")

// ErrServiceExists is returned when registering a service whose name is taken
var ErrServiceExists = errors.New("service already registered")

// Orchestrator drives blue/green releases end to end. A background loop
// picks up releases waiting at the approval gate or already approved and
// runs each through the state machine in its own goroutine, at most one
// per service at a time.
type Orchestrator struct {
	store     storage.Store
	driver    platform.Driver
	approvals *approval.Manager
	broker    *events.Broker
	defaults  *types.RolloutConfig

	mu       sync.Mutex
	inFlight map[string]bool // service ID -> release being driven

	// createMu serializes the active-release check with the insert so
	// concurrent creates cannot both pass the one-in-flight check
	createMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// ScanInterval controls how often the pickup loop runs (default 2s)
	ScanInterval time.Duration
}

// New creates a new orchestrator
func New(store storage.Store, driver platform.Driver, approvals *approval.Manager, broker *events.Broker, defaults *types.RolloutConfig) *Orchestrator {
	if defaults == nil {
		defaults = types.DefaultRolloutConfig()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		store:        store,
		driver:       driver,
		approvals:    approvals,
		broker:       broker,
		defaults:     defaults,
		inFlight:     make(map[string]bool),
		ctx:          ctx,
		cancel:       cancel,
		ScanInterval: 2 * time.Second,
	}
}

// Start begins the pickup loop
func (o *Orchestrator) Start() {
	if err := o.recoverStale(); err != nil {
		log.WithComponent("orchestrator").Error().Err(err).Msg("failed to recover stale releases")
	}
	o.wg.Add(1)
	go o.run()
}

// Stop stops the orchestrator and waits for in-flight goroutines to notice
func (o *Orchestrator) Stop() {
	o.cancel()
	o.wg.Wait()
}

// run is the pickup loop
func (o *Orchestrator) run() {
	defer o.wg.Done()

	ticker := time.NewTicker(o.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := o.pickup(); err != nil {
				log.WithComponent("orchestrator").Error().Err(err).Msg("pickup cycle failed")
			}
		case <-o.ctx.Done():
			return
		}
	}
}

// pickup scans for releases that need driving and spawns a rollout per
// service that has none in flight
func (o *Orchestrator) pickup() error {
	releases, err := o.store.ListReleases()
	if err != nil {
		return fmt.Errorf("failed to list releases: %w", err)
	}

	for _, release := range releases {
		if release.State != types.ReleasePendingApproval && release.State != types.ReleaseApproved {
			continue
		}

		o.mu.Lock()
		if o.inFlight[release.ServiceID] {
			o.mu.Unlock()
			continue
		}
		o.inFlight[release.ServiceID] = true
		o.mu.Unlock()

		o.wg.Add(1)
		go func(rel *types.Release) {
			defer o.wg.Done()
			defer o.release(rel.ServiceID)
			o.drive(rel)
		}(release)
	}
	return nil
}

func (o *Orchestrator) release(serviceID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.inFlight, serviceID)
}

// RegisterService stores a new service definition. The first release of
// the service deploys into the green slot; until then no traffic exists.
func (o *Orchestrator) RegisterService(service *types.Service) (*types.Service, error) {
	if _, err := o.store.GetServiceByName(service.Name); err == nil {
		return nil, fmt.Errorf("service %s: %w", service.Name, ErrServiceExists)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	now := time.Now()
	if service.ID == "" {
		service.ID = uuid.New().String()
	}
	if service.Namespace == "" {
		service.Namespace = "default"
	}
	if service.SelectorKey == "" {
		service.SelectorKey = "slot"
	}
	if service.Replicas <= 0 {
		service.Replicas = 1
	}
	service.ActiveSlot = ""
	service.CreatedAt = now
	service.UpdatedAt = now

	if err := o.store.CreateService(service); err != nil {
		return nil, fmt.Errorf("failed to persist service: %w", err)
	}

	log.WithService(service.Name).Info().
		Str("namespace", service.Namespace).
		Str("image", service.Image).
		Msg("service registered")
	return service, nil
}

// CreateRelease records a new release for a service and parks it at the
// approval gate. At most one release per service may be in flight.
func (o *Orchestrator) CreateRelease(serviceID, image string) (*types.Release, error) {
	service, err := o.store.GetService(serviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load service: %w", err)
	}

	o.createMu.Lock()
	defer o.createMu.Unlock()

	if _, err := o.store.GetActiveRelease(serviceID); err == nil {
		return nil, fmt.Errorf("service %s: %w", service.Name, ErrReleaseInFlight)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	now := time.Now()
	release := &types.Release{
		ID:          uuid.New().String(),
		ServiceID:   service.ID,
		ServiceName: service.Name,
		Namespace:   service.Namespace,
		Image:       image,
		FromSlot:    service.ActiveSlot,
		State:       types.ReleasePendingApproval,
		Replicas:    service.Replicas,
		Approval:    &types.Approval{Decision: types.ApprovalPending},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	release.Approval.ReleaseID = release.ID

	if service.ActiveSlot == "" {
		// First release of this service: green gets traffic, there is no
		// blue to drain or fall back to
		release.ToSlot = types.SlotGreen
	} else {
		release.ToSlot = service.ActiveSlot.Other()
	}

	if err := o.store.CreateRelease(release); err != nil {
		return nil, fmt.Errorf("failed to persist release: %w", err)
	}

	o.publish(release, events.EventReleaseCreated,
		fmt.Sprintf("release of %s created, pending approval", image))

	log.WithRelease(release.ID).Info().
		Str("service", service.Name).
		Str("image", image).
		Str("to_slot", string(release.ToSlot)).
		Msg("release created")

	return release, nil
}

// ManualRollback creates a pre-approved release that moves the service
// back to the previously promoted image through the normal gated path.
func (o *Orchestrator) ManualRollback(serviceID, operator string) (*types.Release, error) {
	service, err := o.store.GetService(serviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load service: %w", err)
	}
	if service.PreviousImage == "" {
		return nil, fmt.Errorf("service %s has no previous image to roll back to", service.Name)
	}

	o.createMu.Lock()
	defer o.createMu.Unlock()

	if _, err := o.store.GetActiveRelease(serviceID); err == nil {
		return nil, fmt.Errorf("service %s: %w", service.Name, ErrReleaseInFlight)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	now := time.Now()
	release := &types.Release{
		ID:          uuid.New().String(),
		ServiceID:   service.ID,
		ServiceName: service.Name,
		Namespace:   service.Namespace,
		Image:       service.PreviousImage,
		FromSlot:    service.ActiveSlot,
		ToSlot:      service.ActiveSlot.Other(),
		State:       types.ReleaseApproved,
		Replicas:    service.Replicas,
		Approval: &types.Approval{
			Decision:  types.ApprovalApproved,
			Approver:  operator,
			Comment:   "manual rollback",
			DecidedAt: now,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	release.Approval.ReleaseID = release.ID

	if err := o.store.CreateRelease(release); err != nil {
		return nil, fmt.Errorf("failed to persist release: %w", err)
	}

	o.publish(release, events.EventReleaseCreated,
		fmt.Sprintf("manual rollback to %s requested by %s", release.Image, operator))
	return release, nil
}

// recoverStale marks releases left mid-flight by a previous incarnation.
// We report them honestly instead of guessing where the platform stands.
func (o *Orchestrator) recoverStale() error {
	releases, err := o.store.ListReleases()
	if err != nil {
		return fmt.Errorf("failed to list releases: %w", err)
	}

	for _, release := range releases {
		switch release.State {
		case types.ReleaseApplying, types.ReleaseWaitingReady, types.ReleaseSwitching,
			types.ReleaseDraining, types.ReleaseObserving:
			o.finish(release, types.ReleaseFailed,
				fmt.Sprintf("orchestrator restarted during %s", release.State))
			o.publish(release, events.EventReleaseFailed, release.Reason)
		case types.ReleaseRollingBack:
			o.finish(release, types.ReleaseRollbackFailed,
				"orchestrator restarted during rollback")
			o.publish(release, events.EventRollbackFailed, release.Reason)
		}
	}
	return nil
}

// rolloutConfig returns the service's rollout config or the defaults
func (o *Orchestrator) rolloutConfig(service *types.Service) *types.RolloutConfig {
	if service.Rollout != nil {
		return service.Rollout
	}
	return o.defaults
}

// transition persists a state change before the action it gates runs
func (o *Orchestrator) transition(release *types.Release, state types.ReleaseState) error {
	release.State = state
	release.UpdatedAt = time.Now()
	if err := o.store.UpdateRelease(release); err != nil {
		return fmt.Errorf("failed to persist state %s: %w", state, err)
	}
	return nil
}

// finish moves a release to a terminal state
func (o *Orchestrator) finish(release *types.Release, state types.ReleaseState, reason string) {
	release.State = state
	release.Reason = reason
	release.UpdatedAt = time.Now()
	release.FinishedAt = release.UpdatedAt
	if err := o.store.UpdateRelease(release); err != nil {
		log.WithRelease(release.ID).Error().Err(err).Msg("failed to persist terminal state")
	}
}

// publish sends an event to subscribers and the persistent audit trail
func (o *Orchestrator) publish(release *types.Release, eventType events.EventType, message string) {
	o.broker.Publish(&events.Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		ServiceID: release.ServiceID,
		ReleaseID: release.ID,
		Message:   message,
	})
	err := o.store.AppendEvent(&types.Event{
		Type:      string(eventType),
		Timestamp: time.Now(),
		ServiceID: release.ServiceID,
		ReleaseID: release.ID,
		Message:   message,
	})
	if err != nil {
		log.WithRelease(release.ID).Error().Err(err).Msg("failed to record audit event")
	}
}
