package platform

import (
	"context"
)

// DeploymentSpec describes a slot deployment to apply to the platform
type DeploymentSpec struct {
	Name      string
	Namespace string
	Image     string
	Replicas  int
	// Labels are applied to the deployment's pod template and selector.
	// The slot label lives here; the fronting service selects on it.
	Labels map[string]string
}

// RolloutStatus is the platform's readiness signal for a deployment
type RolloutStatus struct {
	Ready             bool
	DesiredReplicas   int
	UpdatedReplicas   int
	AvailableReplicas int
	Message           string
}

// Driver is the boundary to the orchestration platform. Everything the
// orchestrator does to the outside world goes through these six calls;
// rollout mechanics, endpoint routing and pod lifecycle are the platform's
// problem, not ours.
type Driver interface {
	// ApplyDeployment creates or updates a slot deployment
	ApplyDeployment(ctx context.Context, spec *DeploymentSpec) error

	// RolloutStatus reports whether a deployment has reached its desired
	// replica count and passed its configured platform health checks
	RolloutStatus(ctx context.Context, namespace, name string) (*RolloutStatus, error)

	// ScaleDeployment sets a deployment's replica count
	ScaleDeployment(ctx context.Context, namespace, name string, replicas int) error

	// DeleteDeployment removes a deployment; deleting a deployment that does
	// not exist is not an error
	DeleteDeployment(ctx context.Context, namespace, name string) error

	// GetServiceSelector returns the label selector of the fronting service
	GetServiceSelector(ctx context.Context, namespace, name string) (map[string]string, error)

	// PatchServiceSelector sets one key of the fronting service's selector,
	// which is what moves live traffic between slots
	PatchServiceSelector(ctx context.Context, namespace, name, key, value string) error
}
