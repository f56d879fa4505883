package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/greenlight-sh/greenlight/pkg/client"
	"github.com/greenlight-sh/greenlight/pkg/types"
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply a service definition",
	Long: `Apply a greenlight service definition from a YAML file.

Examples:
  # Register a service
  greenlight apply -f checkout.yaml

Example manifest:
  apiVersion: greenlight/v1
  kind: Service
  metadata:
    name: checkout
    namespace: prod
  spec:
    image: registry.local/checkout:v1
    replicas: 3
    selectorKey: slot
    healthCheck:
      type: http
      endpoint: http://checkout.prod.svc/healthz
    rollout:
      readinessTimeout: 5m
      observationWindow: 2m`,
	RunE: runApply,
}

func init() {
	applyCmd.Flags().StringP("file", "f", "", "YAML file to apply (required)")
	_ = applyCmd.MarkFlagRequired("file")
}

// ServiceManifest is the on-disk form of a service definition
type ServiceManifest struct {
	APIVersion string           `yaml:"apiVersion"`
	Kind       string           `yaml:"kind"`
	Metadata   ManifestMetadata `yaml:"metadata"`
	Spec       ServiceSpec      `yaml:"spec"`
}

type ManifestMetadata struct {
	Name      string            `yaml:"name"`
	Namespace string            `yaml:"namespace,omitempty"`
	Labels    map[string]string `yaml:"labels,omitempty"`
}

type ServiceSpec struct {
	Image       string             `yaml:"image"`
	Replicas    int                `yaml:"replicas,omitempty"`
	SelectorKey string             `yaml:"selectorKey,omitempty"`
	HealthCheck *HealthCheckSpec   `yaml:"healthCheck,omitempty"`
	Rollout     *RolloutTimingSpec `yaml:"rollout,omitempty"`
}

type HealthCheckSpec struct {
	Type     string   `yaml:"type"`
	Endpoint string   `yaml:"endpoint,omitempty"`
	Command  []string `yaml:"command,omitempty"`
	// Timeout is a Go duration string, e.g. "5s"
	Timeout string `yaml:"timeout,omitempty"`
}

// RolloutTimingSpec carries the per-service timing overrides. Durations
// are Go duration strings, e.g. "5m" or "30s".
type RolloutTimingSpec struct {
	ReadinessTimeout  string `yaml:"readinessTimeout,omitempty"`
	PollInterval      string `yaml:"pollInterval,omitempty"`
	DrainGrace        string `yaml:"drainGrace,omitempty"`
	ObservationWindow string `yaml:"observationWindow,omitempty"`
	CheckInterval     string `yaml:"checkInterval,omitempty"`
	FailureThreshold  int    `yaml:"failureThreshold,omitempty"`
	ApprovalTimeout   string `yaml:"approvalTimeout,omitempty"`
	HistoryRetention  int    `yaml:"historyRetention,omitempty"`
}

func runApply(cmd *cobra.Command, args []string) error {
	filename, _ := cmd.Flags().GetString("file")

	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read file: %v", err)
	}

	var manifest ServiceManifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return fmt.Errorf("failed to parse YAML: %v", err)
	}
	if manifest.Kind != "Service" {
		return fmt.Errorf("unsupported resource kind: %s", manifest.Kind)
	}

	service, err := serviceFromManifest(&manifest)
	if err != nil {
		return err
	}

	c := apiClient(cmd)
	created, err := c.RegisterService(cmd.Context(), service)
	if err != nil {
		var apiErr *client.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == 409 {
			fmt.Printf("Service %s already registered\n", service.Name)
			return nil
		}
		return fmt.Errorf("failed to register service: %v", err)
	}

	fmt.Printf("✓ Service registered: %s (ID: %s)\n", created.Name, created.ID)
	fmt.Println()
	fmt.Printf("Release the first version with:\n")
	fmt.Printf("  greenlight release create %s --image %s\n", created.Name, created.Image)
	return nil
}

func serviceFromManifest(manifest *ServiceManifest) (*types.Service, error) {
	if manifest.Metadata.Name == "" {
		return nil, fmt.Errorf("metadata.name is required")
	}
	if manifest.Spec.Image == "" {
		return nil, fmt.Errorf("spec.image is required")
	}

	service := &types.Service{
		Name:        manifest.Metadata.Name,
		Namespace:   manifest.Metadata.Namespace,
		Image:       manifest.Spec.Image,
		Replicas:    manifest.Spec.Replicas,
		SelectorKey: manifest.Spec.SelectorKey,
		Labels:      manifest.Metadata.Labels,
	}

	if hc := manifest.Spec.HealthCheck; hc != nil {
		timeout, err := parseDuration("healthCheck.timeout", hc.Timeout)
		if err != nil {
			return nil, err
		}
		service.HealthCheck = &types.HealthCheckSpec{
			Type:     types.HealthCheckType(hc.Type),
			Endpoint: hc.Endpoint,
			Command:  hc.Command,
			Timeout:  timeout,
		}
	}

	if r := manifest.Spec.Rollout; r != nil {
		rollout := types.DefaultRolloutConfig()
		durations := []struct {
			field string
			raw   string
			dst   *time.Duration
		}{
			{"rollout.readinessTimeout", r.ReadinessTimeout, &rollout.ReadinessTimeout},
			{"rollout.pollInterval", r.PollInterval, &rollout.PollInterval},
			{"rollout.drainGrace", r.DrainGrace, &rollout.DrainGrace},
			{"rollout.observationWindow", r.ObservationWindow, &rollout.ObservationWindow},
			{"rollout.checkInterval", r.CheckInterval, &rollout.CheckInterval},
			{"rollout.approvalTimeout", r.ApprovalTimeout, &rollout.ApprovalTimeout},
		}
		for _, d := range durations {
			parsed, err := parseDuration(d.field, d.raw)
			if err != nil {
				return nil, err
			}
			if parsed > 0 {
				*d.dst = parsed
			}
		}
		if r.FailureThreshold > 0 {
			rollout.FailureThreshold = r.FailureThreshold
		}
		if r.HistoryRetention > 0 {
			rollout.HistoryRetention = r.HistoryRetention
		}
		service.Rollout = rollout
	}

	return service, nil
}

func parseDuration(field, raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %v", field, err)
	}
	return d, nil
}
