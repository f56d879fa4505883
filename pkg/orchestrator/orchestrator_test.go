package orchestrator

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greenlight-sh/greenlight/pkg/approval"
	"github.com/greenlight-sh/greenlight/pkg/events"
	"github.com/greenlight-sh/greenlight/pkg/platform"
	"github.com/greenlight-sh/greenlight/pkg/storage"
	"github.com/greenlight-sh/greenlight/pkg/types"
)

// fastConfig returns a rollout config with timings suitable for tests
func fastConfig() *types.RolloutConfig {
	return &types.RolloutConfig{
		ReadinessTimeout:  500 * time.Millisecond,
		PollInterval:      10 * time.Millisecond,
		DrainGrace:        10 * time.Millisecond,
		ObservationWindow: 60 * time.Millisecond,
		CheckInterval:     10 * time.Millisecond,
		FailureThreshold:  2,
		ApprovalTimeout:   time.Second,
		HistoryRetention:  5,
	}
}

type harness struct {
	store     storage.Store
	driver    *platform.FakeDriver
	approvals *approval.Manager
	broker    *events.Broker
	orch      *Orchestrator
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	driver := platform.NewFakeDriver()
	driver.AutoReady = true

	approvals := approval.NewManager(store, broker)
	orch := New(store, driver, approvals, broker, fastConfig())
	t.Cleanup(orch.Stop)

	return &harness{
		store:     store,
		driver:    driver,
		approvals: approvals,
		broker:    broker,
		orch:      orch,
	}
}

// seedService stores a service that already has traffic on blue
func (h *harness) seedService(t *testing.T) *types.Service {
	t.Helper()

	service := &types.Service{
		ID:          "svc-1",
		Name:        "checkout",
		Namespace:   "prod",
		Image:       "registry.local/checkout:v1",
		Replicas:    2,
		ActiveSlot:  types.SlotBlue,
		SelectorKey: "slot",
	}
	require.NoError(t, h.store.CreateService(service))

	// The blue slot exists on the platform and the selector points at it
	require.NoError(t, h.driver.ApplyDeployment(t.Context(), &platform.DeploymentSpec{
		Name:      service.SlotDeploymentName(types.SlotBlue),
		Namespace: service.Namespace,
		Image:     service.Image,
		Replicas:  service.Replicas,
		Labels:    map[string]string{"slot": "blue"},
	}))
	require.NoError(t, h.driver.PatchServiceSelector(t.Context(), service.Namespace, service.Name, "slot", "blue"))
	h.driver.Calls = nil
	return service
}

// approveAndDrive approves the release and runs it to a terminal state
func (h *harness) approveAndDrive(t *testing.T, release *types.Release) *types.Release {
	t.Helper()

	_, err := h.approvals.Approve(release.ID, "tester", "ship it")
	require.NoError(t, err)
	h.orch.drive(release)

	final, err := h.store.GetRelease(release.ID)
	require.NoError(t, err)
	return final
}

func TestCreateReleaseAlternatesSlots(t *testing.T) {
	h := newHarness(t)
	service := h.seedService(t)

	release, err := h.orch.CreateRelease(service.ID, "registry.local/checkout:v2")
	require.NoError(t, err)

	assert.Equal(t, types.ReleasePendingApproval, release.State)
	assert.Equal(t, types.SlotBlue, release.FromSlot)
	assert.Equal(t, types.SlotGreen, release.ToSlot)
	assert.Equal(t, service.Replicas, release.Replicas)
}

func TestCreateReleaseFirstEver(t *testing.T) {
	h := newHarness(t)

	service := &types.Service{ID: "svc-new", Name: "api", Namespace: "prod", Replicas: 1}
	require.NoError(t, h.store.CreateService(service))

	release, err := h.orch.CreateRelease(service.ID, "registry.local/api:v1")
	require.NoError(t, err)

	assert.Equal(t, types.SlotColor(""), release.FromSlot)
	assert.Equal(t, types.SlotGreen, release.ToSlot)
}

func TestCreateReleaseRejectsSecondInFlight(t *testing.T) {
	h := newHarness(t)
	service := h.seedService(t)

	_, err := h.orch.CreateRelease(service.ID, "registry.local/checkout:v2")
	require.NoError(t, err)

	_, err = h.orch.CreateRelease(service.ID, "registry.local/checkout:v3")
	assert.ErrorIs(t, err, ErrReleaseInFlight)
}

func TestCreateReleaseConcurrentCallsAdmitOne(t *testing.T) {
	h := newHarness(t)
	service := h.seedService(t)

	const callers = 16
	results := make(chan error, callers)

	var start sync.WaitGroup
	start.Add(1)
	for i := 0; i < callers; i++ {
		go func(n int) {
			start.Wait()
			_, err := h.orch.CreateRelease(service.ID, fmt.Sprintf("registry.local/checkout:v%d", n))
			results <- err
		}(i)
	}
	start.Done()

	var succeeded int
	for i := 0; i < callers; i++ {
		err := <-results
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, ErrReleaseInFlight)
		}
	}
	assert.Equal(t, 1, succeeded)

	releases, err := h.store.ListReleasesByService(service.ID)
	require.NoError(t, err)
	assert.Len(t, releases, 1)
}

func TestDrivePromotes(t *testing.T) {
	h := newHarness(t)
	service := h.seedService(t)

	release, err := h.orch.CreateRelease(service.ID, "registry.local/checkout:v2")
	require.NoError(t, err)

	final := h.approveAndDrive(t, release)
	assert.Equal(t, types.ReleasePromoted, final.State)
	assert.False(t, final.FinishedAt.IsZero())

	// Traffic moved to green, blue drained to zero
	assert.Equal(t, "green", h.driver.Selector("prod", "checkout", "slot"))
	green := h.driver.Deployment("prod", "checkout-green")
	require.NotNil(t, green)
	assert.Equal(t, "registry.local/checkout:v2", green.Image)
	assert.Equal(t, 2, green.Replicas)
	blue := h.driver.Deployment("prod", "checkout-blue")
	require.NotNil(t, blue)
	assert.Equal(t, 0, blue.Replicas)

	// Service record reflects the promotion
	updated, err := h.store.GetService(service.ID)
	require.NoError(t, err)
	assert.Equal(t, types.SlotGreen, updated.ActiveSlot)
	assert.Equal(t, "registry.local/checkout:v2", updated.Image)
	assert.Equal(t, "registry.local/checkout:v1", updated.PreviousImage)
}

func TestDriveFirstReleaseSkipsDrain(t *testing.T) {
	h := newHarness(t)

	service := &types.Service{ID: "svc-new", Name: "api", Namespace: "prod", Replicas: 1, SelectorKey: "slot"}
	require.NoError(t, h.store.CreateService(service))

	release, err := h.orch.CreateRelease(service.ID, "registry.local/api:v1")
	require.NoError(t, err)

	final := h.approveAndDrive(t, release)
	assert.Equal(t, types.ReleasePromoted, final.State)
	assert.Equal(t, "green", h.driver.Selector("prod", "api", "slot"))

	// No scale calls: there was no old slot to drain
	for _, call := range h.driver.Calls {
		assert.NotContains(t, call, "scale")
	}
}

func TestDriveApplyFailureEndsFailed(t *testing.T) {
	h := newHarness(t)
	service := h.seedService(t)
	h.driver.Fail["ApplyDeployment"] = errors.New("image pull backoff")

	release, err := h.orch.CreateRelease(service.ID, "registry.local/checkout:v2")
	require.NoError(t, err)

	final := h.approveAndDrive(t, release)
	assert.Equal(t, types.ReleaseFailed, final.State)
	assert.Contains(t, final.Reason, "apply failed")

	// Traffic never moved
	assert.Equal(t, "blue", h.driver.Selector("prod", "checkout", "slot"))
}

func TestDriveReadinessTimeoutEndsFailed(t *testing.T) {
	h := newHarness(t)
	service := h.seedService(t)
	h.driver.AutoReady = false
	h.driver.SetReady("prod", "checkout-blue", true)

	release, err := h.orch.CreateRelease(service.ID, "registry.local/checkout:v2")
	require.NoError(t, err)

	final := h.approveAndDrive(t, release)
	assert.Equal(t, types.ReleaseFailed, final.State)
	assert.Contains(t, final.Reason, "never became ready")

	// The half-deployed green slot is cleaned up, blue untouched
	assert.Nil(t, h.driver.Deployment("prod", "checkout-green"))
	assert.NotNil(t, h.driver.Deployment("prod", "checkout-blue"))
	assert.Equal(t, "blue", h.driver.Selector("prod", "checkout", "slot"))
}

func TestWaitReadySurvivesTransientStatusErrors(t *testing.T) {
	h := newHarness(t)
	h.driver.AutoReady = false

	require.NoError(t, h.driver.ApplyDeployment(t.Context(), &platform.DeploymentSpec{
		Name:      "checkout-green",
		Namespace: "prod",
		Image:     "registry.local/checkout:v2",
		Replicas:  2,
	}))

	// Status checks fail for a while, then the deployment turns ready
	h.driver.SetFail("RolloutStatus", errors.New("connection refused"))
	go func() {
		time.Sleep(50 * time.Millisecond)
		h.driver.SetFail("RolloutStatus", nil)
		h.driver.SetReady("prod", "checkout-green", true)
	}()

	err := h.orch.waitReady(t.Context(), "prod", "checkout-green", fastConfig())
	assert.NoError(t, err)
}

func TestWaitReadyPersistentStatusErrorsHitDeadline(t *testing.T) {
	h := newHarness(t)
	h.driver.SetFail("RolloutStatus", errors.New("apiserver unavailable"))

	cfg := fastConfig()
	cfg.ReadinessTimeout = 100 * time.Millisecond

	start := time.Now()
	err := h.orch.waitReady(t.Context(), "prod", "checkout-green", cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "apiserver unavailable")
	assert.GreaterOrEqual(t, time.Since(start), cfg.ReadinessTimeout)
}

func TestDriveGateFailureRollsBack(t *testing.T) {
	h := newHarness(t)

	// Endpoint that always fails the post-switch observation
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	service := h.seedService(t)
	service.HealthCheck = &types.HealthCheckSpec{
		Type:     types.HealthCheckHTTP,
		Endpoint: server.URL,
	}
	require.NoError(t, h.store.UpdateService(service))

	release, err := h.orch.CreateRelease(service.ID, "registry.local/checkout:v2")
	require.NoError(t, err)

	final := h.approveAndDrive(t, release)
	assert.Equal(t, types.ReleaseRolledBack, final.State)
	assert.Contains(t, final.Reason, "health gate failed")

	// Selector reverted, blue scaled back up, green parked at zero
	assert.Equal(t, "blue", h.driver.Selector("prod", "checkout", "slot"))
	assert.Equal(t, 2, h.driver.Deployment("prod", "checkout-blue").Replicas)
	assert.Equal(t, 0, h.driver.Deployment("prod", "checkout-green").Replicas)

	// Service still points at the original image
	updated, err := h.store.GetService(service.ID)
	require.NoError(t, err)
	assert.Equal(t, types.SlotBlue, updated.ActiveSlot)
	assert.Equal(t, "registry.local/checkout:v1", updated.Image)
}

func TestDriveRollbackFailureIsTerminal(t *testing.T) {
	h := newHarness(t)
	service := h.seedService(t)

	// Selector patch fails on every call: the switch fails and the
	// compensating revert fails too
	h.driver.Fail["PatchServiceSelector"] = errors.New("apiserver unavailable")

	release, err := h.orch.CreateRelease(service.ID, "registry.local/checkout:v2")
	require.NoError(t, err)

	final := h.approveAndDrive(t, release)
	assert.Equal(t, types.ReleaseRollbackFailed, final.State)
	assert.Contains(t, final.Reason, "selector revert failed")
	assert.Contains(t, final.Reason, "selector patch failed")
}

func TestDriveRejectedReleaseNeverTouchesPlatform(t *testing.T) {
	h := newHarness(t)
	service := h.seedService(t)

	release, err := h.orch.CreateRelease(service.ID, "registry.local/checkout:v2")
	require.NoError(t, err)
	_, err = h.approvals.Reject(release.ID, "tester", "bad build")
	require.NoError(t, err)

	h.orch.drive(release)

	final, err := h.store.GetRelease(release.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ReleaseRejected, final.State)
	assert.Empty(t, h.driver.Calls)
}

func TestManualRollbackReleasesPreviousImage(t *testing.T) {
	h := newHarness(t)
	service := h.seedService(t)
	service.PreviousImage = "registry.local/checkout:v0"
	require.NoError(t, h.store.UpdateService(service))

	release, err := h.orch.ManualRollback(service.ID, "oncall")
	require.NoError(t, err)
	assert.Equal(t, types.ReleaseApproved, release.State)
	assert.Equal(t, "registry.local/checkout:v0", release.Image)
	assert.Equal(t, types.SlotGreen, release.ToSlot)

	h.orch.drive(release)

	final, err := h.store.GetRelease(release.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ReleasePromoted, final.State)

	updated, err := h.store.GetService(service.ID)
	require.NoError(t, err)
	assert.Equal(t, "registry.local/checkout:v0", updated.Image)
}

func TestManualRollbackWithoutPreviousImage(t *testing.T) {
	h := newHarness(t)
	service := h.seedService(t)

	_, err := h.orch.ManualRollback(service.ID, "oncall")
	assert.Error(t, err)
}

func TestRecoverStaleMarksMidFlightReleases(t *testing.T) {
	h := newHarness(t)
	service := h.seedService(t)

	release, err := h.orch.CreateRelease(service.ID, "registry.local/checkout:v2")
	require.NoError(t, err)
	release.State = types.ReleaseSwitching
	require.NoError(t, h.store.UpdateRelease(release))

	require.NoError(t, h.orch.recoverStale())

	final, err := h.store.GetRelease(release.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ReleaseFailed, final.State)
	assert.Contains(t, final.Reason, "restarted during switching")
}

func TestPickupDrivesApprovedReleases(t *testing.T) {
	h := newHarness(t)
	service := h.seedService(t)

	release, err := h.orch.CreateRelease(service.ID, "registry.local/checkout:v2")
	require.NoError(t, err)
	_, err = h.approvals.Approve(release.ID, "tester", "")
	require.NoError(t, err)

	h.orch.ScanInterval = 10 * time.Millisecond
	h.orch.Start()

	require.Eventually(t, func() bool {
		final, err := h.store.GetRelease(release.ID)
		return err == nil && final.State == types.ReleasePromoted
	}, 3*time.Second, 20*time.Millisecond)
}

func TestEventTrailRecordsLifecycle(t *testing.T) {
	h := newHarness(t)
	service := h.seedService(t)

	release, err := h.orch.CreateRelease(service.ID, "registry.local/checkout:v2")
	require.NoError(t, err)
	final := h.approveAndDrive(t, release)
	require.Equal(t, types.ReleasePromoted, final.State)

	trail, err := h.store.ListEventsByRelease(release.ID)
	require.NoError(t, err)

	seen := make(map[string]bool)
	for _, event := range trail {
		seen[event.Type] = true
	}
	for _, want := range []string{
		string(events.EventReleaseCreated),
		string(events.EventReleaseApplying),
		string(events.EventReleaseReady),
		string(events.EventTrafficSwitched),
		string(events.EventSlotDrained),
		string(events.EventReleasePromoted),
	} {
		assert.True(t, seen[want], "missing event %s", want)
	}
}
