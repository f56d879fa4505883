package storage

import (
	"errors"

	"github.com/greenlight-sh/greenlight/pkg/types"
)

// ErrNotFound is returned when a record does not exist
var ErrNotFound = errors.New("not found")

// Store defines the interface for orchestrator state storage
type Store interface {
	// Services
	CreateService(service *types.Service) error
	GetService(id string) (*types.Service, error)
	GetServiceByName(name string) (*types.Service, error)
	ListServices() ([]*types.Service, error)
	UpdateService(service *types.Service) error
	DeleteService(id string) error

	// Releases
	CreateRelease(release *types.Release) error
	GetRelease(id string) (*types.Release, error)
	ListReleases() ([]*types.Release, error)
	ListReleasesByService(serviceID string) ([]*types.Release, error)
	// GetActiveRelease returns the single non-terminal release of a service,
	// or ErrNotFound when none is in flight.
	GetActiveRelease(serviceID string) (*types.Release, error)
	UpdateRelease(release *types.Release) error
	DeleteRelease(id string) error
	// PruneReleases removes the oldest terminal releases of a service beyond
	// keep, returning how many were deleted.
	PruneReleases(serviceID string, keep int) (int, error)

	// Events (audit trail)
	AppendEvent(event *types.Event) error
	ListEventsByRelease(releaseID string) ([]*types.Event, error)

	// Utility
	Close() error
}
