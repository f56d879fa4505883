package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/greenlight-sh/greenlight/pkg/log"
	"gopkg.in/yaml.v3"
)

const timedOutReason = "ProgressDeadlineExceeded"

// ExecDriver drives the platform through a kubectl-compatible CLI.
// Every call is a child process with a bounded lifetime; the binary's
// exit code and JSON output are the whole interface.
type ExecDriver struct {
	// Binary is the CLI to invoke (default: "kubectl")
	Binary string

	// Kubeconfig is passed as --kubeconfig when set
	Kubeconfig string

	// Timeout bounds a single CLI invocation (default: 30 seconds)
	Timeout time.Duration
}

// NewExecDriver creates a driver that shells out to the given CLI binary
func NewExecDriver(binary, kubeconfig string) *ExecDriver {
	if binary == "" {
		binary = "kubectl"
	}
	return &ExecDriver{
		Binary:     binary,
		Kubeconfig: kubeconfig,
		Timeout:    30 * time.Second,
	}
}

// ApplyDeployment renders a deployment manifest and applies it
func (d *ExecDriver) ApplyDeployment(ctx context.Context, spec *DeploymentSpec) error {
	manifest, err := renderDeploymentManifest(spec)
	if err != nil {
		return fmt.Errorf("failed to render manifest: %w", err)
	}

	_, err = d.run(ctx, manifest, "apply", "-n", spec.Namespace, "-f", "-")
	if err != nil {
		return fmt.Errorf("failed to apply deployment %s/%s: %w", spec.Namespace, spec.Name, err)
	}
	return nil
}

// RolloutStatus reads the deployment object and derives readiness the way
// kubectl's rollout status does: the observed generation must have caught
// up, all replicas must be updated and available, and the Progressing
// condition must not have tripped the progress deadline.
func (d *ExecDriver) RolloutStatus(ctx context.Context, namespace, name string) (*RolloutStatus, error) {
	out, err := d.run(ctx, nil, "get", "deployment", name, "-n", namespace, "-o", "json")
	if err != nil {
		return nil, fmt.Errorf("failed to get deployment %s/%s: %w", namespace, name, err)
	}

	var obj deploymentObject
	if err := json.Unmarshal(out, &obj); err != nil {
		return nil, fmt.Errorf("failed to parse deployment JSON: %w", err)
	}

	return rolloutStatusFrom(&obj)
}

// ScaleDeployment sets the replica count
func (d *ExecDriver) ScaleDeployment(ctx context.Context, namespace, name string, replicas int) error {
	_, err := d.run(ctx, nil, "scale", "deployment", name, "-n", namespace,
		"--replicas="+strconv.Itoa(replicas))
	if err != nil {
		return fmt.Errorf("failed to scale deployment %s/%s: %w", namespace, name, err)
	}
	return nil
}

// DeleteDeployment removes the deployment, tolerating absence
func (d *ExecDriver) DeleteDeployment(ctx context.Context, namespace, name string) error {
	_, err := d.run(ctx, nil, "delete", "deployment", name, "-n", namespace, "--ignore-not-found")
	if err != nil {
		return fmt.Errorf("failed to delete deployment %s/%s: %w", namespace, name, err)
	}
	return nil
}

// GetServiceSelector returns the service's label selector
func (d *ExecDriver) GetServiceSelector(ctx context.Context, namespace, name string) (map[string]string, error) {
	out, err := d.run(ctx, nil, "get", "service", name, "-n", namespace, "-o", "json")
	if err != nil {
		return nil, fmt.Errorf("failed to get service %s/%s: %w", namespace, name, err)
	}

	var obj struct {
		Spec struct {
			Selector map[string]string `json:"selector"`
		} `json:"spec"`
	}
	if err := json.Unmarshal(out, &obj); err != nil {
		return nil, fmt.Errorf("failed to parse service JSON: %w", err)
	}
	return obj.Spec.Selector, nil
}

// PatchServiceSelector flips one selector key on the fronting service
func (d *ExecDriver) PatchServiceSelector(ctx context.Context, namespace, name, key, value string) error {
	patch := fmt.Sprintf(`{"spec":{"selector":{%q:%q}}}`, key, value)
	_, err := d.run(ctx, nil, "patch", "service", name, "-n", namespace, "-p", patch)
	if err != nil {
		return fmt.Errorf("failed to patch service %s/%s selector: %w", namespace, name, err)
	}
	return nil
}

// run executes one CLI invocation with the driver timeout applied
func (d *ExecDriver) run(ctx context.Context, stdin []byte, args ...string) ([]byte, error) {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if d.Kubeconfig != "" {
		args = append(args, "--kubeconfig", d.Kubeconfig)
	}

	cmd := exec.CommandContext(cmdCtx, d.Binary, args...)
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	log.WithComponent("platform").Debug().
		Str("binary", d.Binary).
		Str("args", strings.Join(args, " ")).
		Msg("invoking platform CLI")

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s", err, msg)
	}
	return stdout.Bytes(), nil
}

// deploymentObject is the narrow slice of a platform deployment we read
type deploymentObject struct {
	Metadata struct {
		Name       string `json:"name"`
		Generation int64  `json:"generation"`
	} `json:"metadata"`
	Spec struct {
		Replicas *int `json:"replicas"`
	} `json:"spec"`
	Status struct {
		ObservedGeneration int64 `json:"observedGeneration"`
		Replicas           int   `json:"replicas"`
		UpdatedReplicas    int   `json:"updatedReplicas"`
		AvailableReplicas  int   `json:"availableReplicas"`
		Conditions         []struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"conditions"`
	} `json:"status"`
}

// rolloutStatusFrom derives readiness from a deployment object
func rolloutStatusFrom(obj *deploymentObject) (*RolloutStatus, error) {
	desired := 1
	if obj.Spec.Replicas != nil {
		desired = *obj.Spec.Replicas
	}

	status := &RolloutStatus{
		DesiredReplicas:   desired,
		UpdatedReplicas:   obj.Status.UpdatedReplicas,
		AvailableReplicas: obj.Status.AvailableReplicas,
	}

	if obj.Metadata.Generation > obj.Status.ObservedGeneration {
		status.Message = "waiting for deployment spec update to be observed"
		return status, nil
	}

	for _, cond := range obj.Status.Conditions {
		if cond.Type == "Progressing" && cond.Reason == timedOutReason {
			return status, fmt.Errorf("deployment %q exceeded its progress deadline", obj.Metadata.Name)
		}
	}

	switch {
	case obj.Status.UpdatedReplicas < desired:
		status.Message = fmt.Sprintf("%d of %d replicas updated", obj.Status.UpdatedReplicas, desired)
	case obj.Status.Replicas > obj.Status.UpdatedReplicas:
		status.Message = fmt.Sprintf("%d old replicas pending termination", obj.Status.Replicas-obj.Status.UpdatedReplicas)
	case obj.Status.AvailableReplicas < obj.Status.UpdatedReplicas:
		status.Message = fmt.Sprintf("%d of %d updated replicas available", obj.Status.AvailableReplicas, obj.Status.UpdatedReplicas)
	default:
		status.Ready = true
		status.Message = "rollout complete"
	}
	return status, nil
}

// renderDeploymentManifest builds the minimal deployment manifest we own.
// Anything beyond image, replicas and slot labels belongs to the platform
// manifests the operators manage themselves.
func renderDeploymentManifest(spec *DeploymentSpec) ([]byte, error) {
	if spec.Name == "" || spec.Image == "" {
		return nil, fmt.Errorf("deployment name and image are required")
	}

	labels := map[string]string{}
	for k, v := range spec.Labels {
		labels[k] = v
	}
	labels["app"] = spec.Name

	manifest := map[string]interface{}{
		"apiVersion": "apps/v1",
		"kind":       "Deployment",
		"metadata": map[string]interface{}{
			"name":      spec.Name,
			"namespace": spec.Namespace,
			"labels":    labels,
		},
		"spec": map[string]interface{}{
			"replicas": spec.Replicas,
			"selector": map[string]interface{}{
				"matchLabels": labels,
			},
			"template": map[string]interface{}{
				"metadata": map[string]interface{}{
					"labels": labels,
				},
				"spec": map[string]interface{}{
					"containers": []interface{}{
						map[string]interface{}{
							"name":  spec.Name,
							"image": spec.Image,
						},
					},
				},
			},
		},
	}

	return yaml.Marshal(manifest)
}
