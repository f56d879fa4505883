package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/greenlight-sh/greenlight/pkg/types"
)

func TestServiceFromManifest(t *testing.T) {
	var manifest ServiceManifest
	require.NoError(t, yaml.Unmarshal([]byte(`
apiVersion: greenlight/v1
kind: Service
metadata:
  name: checkout
  namespace: prod
  labels:
    team: payments
spec:
  image: registry.local/checkout:v1
  replicas: 3
  healthCheck:
    type: http
    endpoint: http://checkout.prod.svc/healthz
    timeout: 5s
  rollout:
    readinessTimeout: 10m
    failureThreshold: 5
`), &manifest))

	service, err := serviceFromManifest(&manifest)
	require.NoError(t, err)

	assert.Equal(t, "checkout", service.Name)
	assert.Equal(t, "prod", service.Namespace)
	assert.Equal(t, 3, service.Replicas)
	assert.Equal(t, "payments", service.Labels["team"])

	require.NotNil(t, service.HealthCheck)
	assert.Equal(t, types.HealthCheckHTTP, service.HealthCheck.Type)
	assert.Equal(t, 5*time.Second, service.HealthCheck.Timeout)

	require.NotNil(t, service.Rollout)
	assert.Equal(t, 10*time.Minute, service.Rollout.ReadinessTimeout)
	assert.Equal(t, 5, service.Rollout.FailureThreshold)
	// Unset timings fall back to the defaults
	assert.Equal(t, 5*time.Second, service.Rollout.PollInterval)
}

func TestServiceFromManifestValidation(t *testing.T) {
	_, err := serviceFromManifest(&ServiceManifest{
		Kind:     "Service",
		Metadata: ManifestMetadata{Name: "checkout"},
	})
	assert.Error(t, err)

	_, err = serviceFromManifest(&ServiceManifest{
		Kind:     "Service",
		Metadata: ManifestMetadata{Name: "checkout"},
		Spec: ServiceSpec{
			Image:   "registry.local/checkout:v1",
			Rollout: &RolloutTimingSpec{ReadinessTimeout: "not-a-duration"},
		},
	})
	assert.Error(t, err)
}
