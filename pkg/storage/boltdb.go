package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/greenlight-sh/greenlight/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketServices = []byte("services")
	bucketReleases = []byte("releases")
	bucketEvents   = []byte("events")
)

// BoltStore implements Store interface using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "greenlight.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketServices,
			bucketReleases,
			bucketEvents,
		}

		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Service operations
func (s *BoltStore) CreateService(service *types.Service) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketServices)
		data, err := json.Marshal(service)
		if err != nil {
			return err
		}
		return b.Put([]byte(service.ID), data)
	})
}

func (s *BoltStore) GetService(id string) (*types.Service, error) {
	var service types.Service
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketServices)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("service %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &service)
	})
	if err != nil {
		return nil, err
	}
	return &service, nil
}

func (s *BoltStore) GetServiceByName(name string) (*types.Service, error) {
	var found *types.Service
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketServices)
		return b.ForEach(func(k, v []byte) error {
			var service types.Service
			if err := json.Unmarshal(v, &service); err != nil {
				return err
			}
			if service.Name == name {
				found = &service
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("service %s: %w", name, ErrNotFound)
	}
	return found, nil
}

func (s *BoltStore) ListServices() ([]*types.Service, error) {
	var services []*types.Service
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketServices)
		return b.ForEach(func(k, v []byte) error {
			var service types.Service
			if err := json.Unmarshal(v, &service); err != nil {
				return err
			}
			services = append(services, &service)
			return nil
		})
	})
	return services, err
}

func (s *BoltStore) UpdateService(service *types.Service) error {
	return s.CreateService(service) // Same as create (upsert)
}

func (s *BoltStore) DeleteService(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketServices)
		return b.Delete([]byte(id))
	})
}

// Release operations
func (s *BoltStore) CreateRelease(release *types.Release) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketReleases)
		data, err := json.Marshal(release)
		if err != nil {
			return err
		}
		return b.Put([]byte(release.ID), data)
	})
}

func (s *BoltStore) GetRelease(id string) (*types.Release, error) {
	var release types.Release
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketReleases)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("release %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &release)
	})
	if err != nil {
		return nil, err
	}
	return &release, nil
}

func (s *BoltStore) ListReleases() ([]*types.Release, error) {
	var releases []*types.Release
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketReleases)
		return b.ForEach(func(k, v []byte) error {
			var release types.Release
			if err := json.Unmarshal(v, &release); err != nil {
				return err
			}
			releases = append(releases, &release)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sortReleases(releases)
	return releases, nil
}

func (s *BoltStore) ListReleasesByService(serviceID string) ([]*types.Release, error) {
	releases, err := s.ListReleases()
	if err != nil {
		return nil, err
	}

	var filtered []*types.Release
	for _, release := range releases {
		if release.ServiceID == serviceID {
			filtered = append(filtered, release)
		}
	}
	return filtered, nil
}

func (s *BoltStore) GetActiveRelease(serviceID string) (*types.Release, error) {
	releases, err := s.ListReleasesByService(serviceID)
	if err != nil {
		return nil, err
	}

	for _, release := range releases {
		if !release.State.Terminal() {
			return release, nil
		}
	}
	return nil, fmt.Errorf("active release for service %s: %w", serviceID, ErrNotFound)
}

func (s *BoltStore) UpdateRelease(release *types.Release) error {
	return s.CreateRelease(release)
}

func (s *BoltStore) DeleteRelease(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketReleases)
		return b.Delete([]byte(id))
	})
}

// PruneReleases deletes the oldest terminal releases of a service beyond keep
func (s *BoltStore) PruneReleases(serviceID string, keep int) (int, error) {
	if keep < 0 {
		keep = 0
	}

	releases, err := s.ListReleasesByService(serviceID)
	if err != nil {
		return 0, err
	}

	var finished []*types.Release
	for _, release := range releases {
		if release.State.Terminal() {
			finished = append(finished, release)
		}
	}

	if len(finished) <= keep {
		return 0, nil
	}

	// ListReleases sorts newest first; everything past keep goes
	pruned := 0
	for _, release := range finished[keep:] {
		if err := s.DeleteRelease(release.ID); err != nil {
			return pruned, err
		}
		if err := s.deleteEventsByRelease(release.ID); err != nil {
			return pruned, err
		}
		pruned++
	}
	return pruned, nil
}

// Event operations
//
// Events are keyed by "<release-id>/<timestamp-nanos>" so a cursor prefix
// scan returns the audit trail of one release in order.
func (s *BoltStore) AppendEvent(event *types.Event) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEvents)
		data, err := json.Marshal(event)
		if err != nil {
			return err
		}
		key := fmt.Sprintf("%s/%020d", event.ReleaseID, event.Timestamp.UnixNano())
		return b.Put([]byte(key), data)
	})
}

func (s *BoltStore) ListEventsByRelease(releaseID string) ([]*types.Event, error) {
	var events []*types.Event
	prefix := []byte(releaseID + "/")
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketEvents).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var event types.Event
			if err := json.Unmarshal(v, &event); err != nil {
				return err
			}
			events = append(events, &event)
		}
		return nil
	})
	return events, err
}

func (s *BoltStore) deleteEventsByRelease(releaseID string) error {
	prefix := []byte(releaseID + "/")
	return s.db.Update(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketEvents).Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			if err := c.Delete(); err != nil {
				return err
			}
		}
		return nil
	})
}

// sortReleases orders releases newest first
func sortReleases(releases []*types.Release) {
	sort.Slice(releases, func(i, j int) bool {
		return releases[i].CreatedAt.After(releases[j].CreatedAt)
	})
}
