package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/greenlight-sh/greenlight/pkg/events"
	"github.com/greenlight-sh/greenlight/pkg/health"
	"github.com/greenlight-sh/greenlight/pkg/log"
	"github.com/greenlight-sh/greenlight/pkg/metrics"
	"github.com/greenlight-sh/greenlight/pkg/platform"
	"github.com/greenlight-sh/greenlight/pkg/types"
)

// drive runs one release from the approval gate to a terminal state
func (o *Orchestrator) drive(release *types.Release) {
	logger := log.WithRelease(release.ID)

	metrics.ReleasesInFlight.Inc()
	defer metrics.ReleasesInFlight.Dec()

	service, err := o.store.GetService(release.ServiceID)
	if err != nil {
		o.finish(release, types.ReleaseFailed, fmt.Sprintf("service lookup failed: %v", err))
		o.publish(release, events.EventReleaseFailed, release.Reason)
		return
	}
	cfg := o.rolloutConfig(service)

	// Approval gate
	if release.State == types.ReleasePendingApproval {
		decision, err := o.approvals.Wait(o.ctx, release.ID, cfg.ApprovalTimeout)
		if err != nil {
			logger.Error().Err(err).Msg("approval wait aborted")
			return
		}
		if decision != types.ApprovalApproved {
			logger.Info().Str("decision", string(decision)).Msg("release not approved")
			metrics.ReleasesTotal.WithLabelValues(string(decision)).Inc()
			o.pruneHistory(service, cfg)
			return
		}
		// Reload: the approval manager wrote the decision
		release, err = o.store.GetRelease(release.ID)
		if err != nil {
			logger.Error().Err(err).Msg("failed to reload release after approval")
			return
		}
	}

	timer := metrics.NewTimer()
	outcome := o.execute(release, service, cfg)
	timer.ObserveDuration(metrics.ReleaseDuration)
	metrics.ReleasesTotal.WithLabelValues(string(outcome)).Inc()

	o.pruneHistory(service, cfg)
}

// execute runs the platform stages of an approved release and returns the
// terminal state it reached
func (o *Orchestrator) execute(release *types.Release, service *types.Service, cfg *types.RolloutConfig) types.ReleaseState {
	logger := log.WithRelease(release.ID)
	ctx := o.ctx

	// Apply the new slot deployment
	if err := o.transition(release, types.ReleaseApplying); err != nil {
		o.fail(release, err.Error())
		return release.State
	}
	o.publish(release, events.EventReleaseApplying,
		fmt.Sprintf("applying %s to slot %s", release.Image, release.ToSlot))

	spec := &platform.DeploymentSpec{
		Name:      service.SlotDeploymentName(release.ToSlot),
		Namespace: release.Namespace,
		Image:     release.Image,
		Replicas:  release.Replicas,
		Labels:    slotLabels(service, release.ToSlot),
	}
	if err := o.driver.ApplyDeployment(ctx, spec); err != nil {
		o.fail(release, fmt.Sprintf("apply failed: %v", err))
		return release.State
	}

	// Poll readiness
	if err := o.transition(release, types.ReleaseWaitingReady); err != nil {
		o.fail(release, err.Error())
		return release.State
	}
	readyTimer := metrics.NewTimer()
	if err := o.waitReady(ctx, release.Namespace, spec.Name, cfg); err != nil {
		readyTimer.ObserveDuration(metrics.ReadinessWaitDuration)
		o.fail(release, fmt.Sprintf("slot %s never became ready: %v", release.ToSlot, err))
		return release.State
	}
	readyTimer.ObserveDuration(metrics.ReadinessWaitDuration)
	o.publish(release, events.EventReleaseReady,
		fmt.Sprintf("slot %s ready", release.ToSlot))

	// Flip the traffic selector
	if err := o.transition(release, types.ReleaseSwitching); err != nil {
		o.fail(release, err.Error())
		return release.State
	}
	selectorKey := service.SelectorKey
	if selectorKey == "" {
		selectorKey = "slot"
	}
	if err := o.driver.PatchServiceSelector(ctx, release.Namespace, service.Name, selectorKey, string(release.ToSlot)); err != nil {
		// The patch may or may not have landed; restore the invariant
		// through the full rollback path rather than assuming
		return o.rollback(release, service, cfg, fmt.Sprintf("selector patch failed: %v", err))
	}
	o.publish(release, events.EventTrafficSwitched,
		fmt.Sprintf("traffic switched to slot %s", release.ToSlot))

	// Drain the old slot
	if err := o.transition(release, types.ReleaseDraining); err != nil {
		return o.rollback(release, service, cfg, err.Error())
	}
	if release.FromSlot != "" {
		if err := o.sleep(ctx, cfg.DrainGrace); err != nil {
			return o.rollback(release, service, cfg, "shutdown during drain")
		}
		oldName := service.SlotDeploymentName(release.FromSlot)
		if err := o.driver.ScaleDeployment(ctx, release.Namespace, oldName, 0); err != nil {
			return o.rollback(release, service, cfg, fmt.Sprintf("drain failed: %v", err))
		}
		o.publish(release, events.EventSlotDrained,
			fmt.Sprintf("slot %s scaled to zero", release.FromSlot))
	} else {
		logger.Info().Msg("first release, no old slot to drain")
	}

	// Observe the live endpoint
	if err := o.transition(release, types.ReleaseObserving); err != nil {
		return o.rollback(release, service, cfg, err.Error())
	}
	if service.HealthCheck != nil {
		checker, err := health.FromSpec(service.HealthCheck)
		if err != nil {
			return o.rollback(release, service, cfg, fmt.Sprintf("invalid health check: %v", err))
		}
		gate := health.NewGate(checker, cfg.CheckInterval, cfg.ObservationWindow, cfg.FailureThreshold)
		if err := gate.Run(ctx); err != nil {
			metrics.HealthGateFailures.Inc()
			return o.rollback(release, service, cfg, fmt.Sprintf("health gate failed: %v", err))
		}
	} else {
		logger.Warn().Msg("no health check configured, promoting without observation")
	}

	// Promote
	o.promote(release, service)
	return release.State
}

// waitReady polls rollout status until ready or the deadline passes
func (o *Orchestrator) waitReady(ctx context.Context, namespace, name string, cfg *types.RolloutConfig) error {
	deadline := time.NewTimer(cfg.ReadinessTimeout)
	defer deadline.Stop()

	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()

	var lastMessage string
	var lastErr error
	for {
		status, err := o.driver.RolloutStatus(ctx, namespace, name)
		switch {
		case err != nil:
			// A single failed status check is not a failed rollout;
			// keep polling until the deadline decides
			lastErr = err
			log.WithComponent("orchestrator").Debug().
				Err(err).
				Str("deployment", namespace+"/"+name).
				Msg("rollout status check failed, retrying")
		case status.Ready:
			return nil
		default:
			lastErr = nil
			if status.Message != lastMessage {
				log.WithComponent("orchestrator").Debug().
					Str("deployment", namespace+"/"+name).
					Str("status", status.Message).
					Msg("waiting for rollout")
				lastMessage = status.Message
			}
		}

		select {
		case <-ticker.C:
		case <-deadline.C:
			if lastErr != nil {
				return fmt.Errorf("readiness timeout after %v: %w", cfg.ReadinessTimeout, lastErr)
			}
			return fmt.Errorf("readiness timeout after %v (%s)", cfg.ReadinessTimeout, lastMessage)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// fail terminates a release that never took traffic. The only cleanup
// needed is removing the half-deployed new slot.
func (o *Orchestrator) fail(release *types.Release, reason string) {
	logger := log.WithRelease(release.ID)
	logger.Error().Str("reason", reason).Msg("release failed before traffic switch")

	service, err := o.store.GetService(release.ServiceID)
	if err == nil {
		name := service.SlotDeploymentName(release.ToSlot)
		if err := o.driver.DeleteDeployment(o.ctx, release.Namespace, name); err != nil {
			logger.Warn().Err(err).Msg("failed to clean up new slot deployment")
		}
	}

	o.finish(release, types.ReleaseFailed, reason)
	o.publish(release, events.EventReleaseFailed, reason)
}

// rollback is the compensating path once traffic may have moved: revert
// the selector to the old slot, scale it back up, wait for it, then park
// the new slot at zero. Attempted exactly once; failure is terminal.
func (o *Orchestrator) rollback(release *types.Release, service *types.Service, cfg *types.RolloutConfig, cause string) types.ReleaseState {
	logger := log.WithRelease(release.ID)
	logger.Warn().Str("cause", cause).Msg("rolling back")

	release.Reason = cause
	if err := o.transition(release, types.ReleaseRollingBack); err != nil {
		logger.Error().Err(err).Msg("failed to persist rollback state")
	}
	o.publish(release, events.EventRollbackStarted, cause)

	if release.FromSlot == "" {
		// First release: nothing to fall back to, tear the new slot down
		name := service.SlotDeploymentName(release.ToSlot)
		if err := o.driver.DeleteDeployment(o.ctx, release.Namespace, name); err != nil {
			return o.rollbackFailed(release, fmt.Sprintf("teardown failed: %v", err))
		}
		o.finish(release, types.ReleaseRolledBack, cause)
		o.publish(release, events.EventReleaseRolledBack, "first release torn down")
		metrics.RollbacksTotal.WithLabelValues("succeeded").Inc()
		return release.State
	}

	selectorKey := service.SelectorKey
	if selectorKey == "" {
		selectorKey = "slot"
	}
	if err := o.driver.PatchServiceSelector(o.ctx, release.Namespace, service.Name, selectorKey, string(release.FromSlot)); err != nil {
		return o.rollbackFailed(release, fmt.Sprintf("selector revert failed: %v", err))
	}

	oldName := service.SlotDeploymentName(release.FromSlot)
	if err := o.driver.ScaleDeployment(o.ctx, release.Namespace, oldName, release.Replicas); err != nil {
		return o.rollbackFailed(release, fmt.Sprintf("scale-up of old slot failed: %v", err))
	}
	if err := o.waitReady(o.ctx, release.Namespace, oldName, cfg); err != nil {
		return o.rollbackFailed(release, fmt.Sprintf("old slot never became ready again: %v", err))
	}

	// Keep the failed slot around at zero replicas for diagnosis
	newName := service.SlotDeploymentName(release.ToSlot)
	if err := o.driver.ScaleDeployment(o.ctx, release.Namespace, newName, 0); err != nil {
		logger.Warn().Err(err).Msg("failed to park new slot at zero")
	}

	o.finish(release, types.ReleaseRolledBack, cause)
	o.publish(release, events.EventReleaseRolledBack,
		fmt.Sprintf("traffic restored to slot %s", release.FromSlot))
	metrics.RollbacksTotal.WithLabelValues("succeeded").Inc()

	logger.Info().Str("slot", string(release.FromSlot)).Msg("rollback complete")
	return release.State
}

func (o *Orchestrator) rollbackFailed(release *types.Release, reason string) types.ReleaseState {
	log.WithRelease(release.ID).Error().Str("reason", reason).Msg("rollback failed, operator intervention required")

	o.finish(release, types.ReleaseRollbackFailed, fmt.Sprintf("%s (original cause: %s)", reason, release.Reason))
	o.publish(release, events.EventRollbackFailed, reason)
	metrics.RollbacksTotal.WithLabelValues("failed").Inc()
	return release.State
}

// promote finalizes a successful release and updates the service record
func (o *Orchestrator) promote(release *types.Release, service *types.Service) {
	logger := log.WithRelease(release.ID)

	o.finish(release, types.ReleasePromoted, "")
	o.publish(release, events.EventReleasePromoted,
		fmt.Sprintf("%s promoted on slot %s", release.Image, release.ToSlot))

	service.PreviousImage = service.Image
	service.Image = release.Image
	service.ActiveSlot = release.ToSlot
	service.UpdatedAt = time.Now()
	if err := o.store.UpdateService(service); err != nil {
		logger.Error().Err(err).Msg("failed to update service record after promotion")
	}

	logger.Info().
		Str("image", release.Image).
		Str("slot", string(release.ToSlot)).
		Msg("release promoted")
}

// pruneHistory enforces the per-service release retention
func (o *Orchestrator) pruneHistory(service *types.Service, cfg *types.RolloutConfig) {
	if cfg.HistoryRetention <= 0 {
		return
	}
	pruned, err := o.store.PruneReleases(service.ID, cfg.HistoryRetention)
	if err != nil {
		log.WithService(service.Name).Error().Err(err).Msg("failed to prune release history")
		return
	}
	if pruned > 0 {
		log.WithService(service.Name).Debug().Int("pruned", pruned).Msg("release history pruned")
	}
}

// sleep waits for d unless ctx is cancelled first
func (o *Orchestrator) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// slotLabels builds the pod labels for a slot deployment
func slotLabels(service *types.Service, slot types.SlotColor) map[string]string {
	selectorKey := service.SelectorKey
	if selectorKey == "" {
		selectorKey = "slot"
	}
	labels := map[string]string{selectorKey: string(slot)}
	for k, v := range service.Labels {
		labels[k] = v
	}
	return labels
}
