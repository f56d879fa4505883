package platform

import (
	"context"
	"fmt"
	"sync"
)

// FakeDriver is an in-memory Driver for tests. Readiness is controlled by
// the test: deployments become ready when SetReady is called, or
// immediately when AutoReady is set.
type FakeDriver struct {
	mu sync.Mutex

	AutoReady bool

	deployments map[string]*DeploymentSpec
	ready       map[string]bool
	selectors   map[string]map[string]string

	// Calls records every mutating call in order, for assertions
	Calls []string

	// Fail makes the named call return an error (e.g. "ApplyDeployment")
	Fail map[string]error
}

// NewFakeDriver creates an empty fake platform
func NewFakeDriver() *FakeDriver {
	return &FakeDriver{
		deployments: make(map[string]*DeploymentSpec),
		ready:       make(map[string]bool),
		selectors:   make(map[string]map[string]string),
		Fail:        make(map[string]error),
	}
}

func key(namespace, name string) string {
	return namespace + "/" + name
}

func (f *FakeDriver) record(call string) {
	f.Calls = append(f.Calls, call)
}

func (f *FakeDriver) failure(call string) error {
	if err, ok := f.Fail[call]; ok {
		return err
	}
	return nil
}

func (f *FakeDriver) ApplyDeployment(ctx context.Context, spec *DeploymentSpec) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.record(fmt.Sprintf("apply %s/%s image=%s replicas=%d", spec.Namespace, spec.Name, spec.Image, spec.Replicas))
	if err := f.failure("ApplyDeployment"); err != nil {
		return err
	}

	copied := *spec
	f.deployments[key(spec.Namespace, spec.Name)] = &copied
	f.ready[key(spec.Namespace, spec.Name)] = f.AutoReady
	return nil
}

func (f *FakeDriver) RolloutStatus(ctx context.Context, namespace, name string) (*RolloutStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.failure("RolloutStatus"); err != nil {
		return nil, err
	}

	spec, ok := f.deployments[key(namespace, name)]
	if !ok {
		return nil, fmt.Errorf("deployment %s/%s not found", namespace, name)
	}

	if f.ready[key(namespace, name)] {
		return &RolloutStatus{
			Ready:             true,
			DesiredReplicas:   spec.Replicas,
			UpdatedReplicas:   spec.Replicas,
			AvailableReplicas: spec.Replicas,
			Message:           "rollout complete",
		}, nil
	}
	return &RolloutStatus{
		DesiredReplicas: spec.Replicas,
		Message:         "0 of replicas available",
	}, nil
}

func (f *FakeDriver) ScaleDeployment(ctx context.Context, namespace, name string, replicas int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.record(fmt.Sprintf("scale %s/%s replicas=%d", namespace, name, replicas))
	if err := f.failure("ScaleDeployment"); err != nil {
		return err
	}

	spec, ok := f.deployments[key(namespace, name)]
	if !ok {
		return fmt.Errorf("deployment %s/%s not found", namespace, name)
	}
	spec.Replicas = replicas
	return nil
}

func (f *FakeDriver) DeleteDeployment(ctx context.Context, namespace, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.record(fmt.Sprintf("delete %s/%s", namespace, name))
	if err := f.failure("DeleteDeployment"); err != nil {
		return err
	}

	delete(f.deployments, key(namespace, name))
	delete(f.ready, key(namespace, name))
	return nil
}

func (f *FakeDriver) GetServiceSelector(ctx context.Context, namespace, name string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.failure("GetServiceSelector"); err != nil {
		return nil, err
	}

	selector, ok := f.selectors[key(namespace, name)]
	if !ok {
		return map[string]string{}, nil
	}
	out := make(map[string]string, len(selector))
	for k, v := range selector {
		out[k] = v
	}
	return out, nil
}

func (f *FakeDriver) PatchServiceSelector(ctx context.Context, namespace, name, selectorKey, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.record(fmt.Sprintf("patch %s/%s %s=%s", namespace, name, selectorKey, value))
	if err := f.failure("PatchServiceSelector"); err != nil {
		return err
	}

	selector, ok := f.selectors[key(namespace, name)]
	if !ok {
		selector = make(map[string]string)
		f.selectors[key(namespace, name)] = selector
	}
	selector[selectorKey] = value
	return nil
}

// SetFail makes the named call return err; a nil err clears it.
// Safe to call while the driver is in use.
func (f *FakeDriver) SetFail(call string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.Fail, call)
		return
	}
	f.Fail[call] = err
}

// SetReady marks a deployment's rollout as complete
func (f *FakeDriver) SetReady(namespace, name string, ready bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ready[key(namespace, name)] = ready
}

// Deployment returns the stored spec, or nil if absent
func (f *FakeDriver) Deployment(namespace, name string) *DeploymentSpec {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deployments[key(namespace, name)]
}

// Selector returns the stored service selector value for a key
func (f *FakeDriver) Selector(namespace, name, selectorKey string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if sel, ok := f.selectors[key(namespace, name)]; ok {
		return sel[selectorKey]
	}
	return ""
}
