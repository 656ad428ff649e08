package registry

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/flowcore/flowcore/internal/dsl"
	"github.com/flowcore/flowcore/internal/registry/store"
)

// Implementation is the resolved, typed descriptor handed to the
// dispatch layer for one action key (spec §4.2).
type Implementation struct {
	Action ManifestAction
	Origin string
	Version string
}

// Resolver resolves action keys against a RegistryLock, caching parsed
// manifests in a process-local LRU so repeated dispatches of the same
// action within a run don't re-hit the store (spec §4.2).
type Resolver struct {
	store store.Store
	cache *lru.Cache[string, RegistryVersion]
}

// New constructs a Resolver over a Store with an LRU of capacity
// cacheSize (0 uses a default of 256 versions).
func New(s store.Store, cacheSize int) (*Resolver, error) {
	if cacheSize <= 0 {
		cacheSize = 256
	}
	cache, err := lru.New[string, RegistryVersion](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("registry: build manifest cache: %w", err)
	}
	return &Resolver{store: s, cache: cache}, nil
}

func cacheKey(origin, version string) string {
	return origin + "@" + version
}

func (r *Resolver) version(ctx context.Context, origin, version string) (RegistryVersion, error) {
	if v, ok := r.cache.Get(cacheKey(origin, version)); ok {
		return v, nil
	}
	v, err := r.store.GetVersion(ctx, origin, version)
	if err != nil {
		return RegistryVersion{}, fmt.Errorf("registry: load version %s@%s: %w", origin, version, err)
	}
	r.cache.Add(cacheKey(origin, version), v)
	return v, nil
}

// Resolve returns the concrete implementation descriptor for
// actionKey, pinned to the version lock binds its origin to (spec
// §4.2 "Resolve(action_key, lock) → typed implementation descriptor").
func (r *Resolver) Resolve(ctx context.Context, actionKey string, lock dsl.RegistryLock) (Implementation, error) {
	origin, version, ok := lock.Version(actionKey)
	if !ok {
		return Implementation{}, fmt.Errorf("registry: action %q not bound in lock", actionKey)
	}
	rv, err := r.version(ctx, origin, version)
	if err != nil {
		return Implementation{}, err
	}
	action, ok := rv.Manifest[actionKey]
	if !ok {
		return Implementation{}, fmt.Errorf("registry: action %q not present in manifest %s@%s", actionKey, origin, version)
	}
	return Implementation{Action: action, Origin: origin, Version: version}, nil
}

// CollectSecrets recursively descends a template action's steps to
// aggregate every secret referenced, directly or transitively (spec
// §4.2 "collect_secrets"). visited guards against a template cycle.
func (r *Resolver) CollectSecrets(ctx context.Context, actionKey string, lock dsl.RegistryLock) ([]SecretSpec, error) {
	return r.collectSecrets(ctx, actionKey, lock, make(map[string]struct{}))
}

func (r *Resolver) collectSecrets(ctx context.Context, actionKey string, lock dsl.RegistryLock, visited map[string]struct{}) ([]SecretSpec, error) {
	if _, ok := visited[actionKey]; ok {
		return nil, nil
	}
	visited[actionKey] = struct{}{}

	impl, err := r.Resolve(ctx, actionKey, lock)
	if err != nil {
		return nil, err
	}

	out := append([]SecretSpec(nil), impl.Action.Secrets...)
	if impl.Action.Type != ActionTypeTemplate || impl.Action.Template == nil {
		return out, nil
	}
	for _, step := range impl.Action.Template.Steps {
		nested, err := r.collectSecrets(ctx, step.Action, lock, visited)
		if err != nil {
			return nil, err
		}
		out = append(out, nested...)
	}
	return out, nil
}
