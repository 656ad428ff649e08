// Package memory implements registry/store.Store in-process, for tests
// and single-node development.
package memory

import (
	"context"
	"sync"

	"github.com/flowcore/flowcore/internal/registry"
	"github.com/flowcore/flowcore/internal/registry/store"
)

type key struct {
	origin, version string
}

// Store is an in-memory, mutex-guarded Store.
type Store struct {
	mu       sync.RWMutex
	versions map[key]registry.RegistryVersion
	latest   map[string]string
	order    map[string][]string
	current  map[string]string
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		versions: make(map[key]registry.RegistryVersion),
		latest:   make(map[string]string),
		order:    make(map[string][]string),
		current:  make(map[string]string),
	}
}

func (s *Store) SaveVersion(_ context.Context, v registry.RegistryVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key{origin: v.Origin, version: v.Version}
	if _, exists := s.versions[k]; exists {
		return store.ErrVersionExists
	}
	s.versions[k] = v
	s.latest[v.Origin] = v.Version
	s.order[v.Origin] = append(s.order[v.Origin], v.Version)
	return nil
}

func (s *Store) GetVersion(_ context.Context, origin, version string) (registry.RegistryVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.versions[key{origin: origin, version: version}]
	if !ok {
		return registry.RegistryVersion{}, store.ErrNotFound
	}
	return v, nil
}

func (s *Store) LatestVersion(_ context.Context, origin string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.latest[origin]
	if !ok {
		return "", store.ErrNotFound
	}
	return v, nil
}

func (s *Store) ListVersions(_ context.Context, origin string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := append([]string(nil), s.order[origin]...)
	return out, nil
}

func (s *Store) CurrentVersion(_ context.Context, origin string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.current[origin]
	if !ok {
		return "", store.ErrNotFound
	}
	return v, nil
}

func (s *Store) SetCurrentVersion(_ context.Context, origin, version string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.versions[key{origin: origin, version: version}]; !ok {
		return store.ErrNotFound
	}
	s.current[origin] = version
	return nil
}

func (s *Store) DeleteVersion(_ context.Context, origin, version string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key{origin: origin, version: version}
	if _, ok := s.versions[k]; !ok {
		return store.ErrNotFound
	}
	if s.current[origin] == version {
		return store.ErrVersionInUse
	}
	delete(s.versions, k)
	order := s.order[origin]
	for i, v := range order {
		if v == version {
			s.order[origin] = append(order[:i], order[i+1:]...)
			break
		}
	}
	return nil
}
