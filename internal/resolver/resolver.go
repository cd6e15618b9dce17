// Package resolver finds items across the project, user, and system spaces
// with override precedence and a content-hash-invalidated cache.
package resolver

import (
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/ryelabs/rye/internal/integrity"
	"github.com/ryelabs/rye/internal/space"
)

// NotFoundError indicates an item does not exist in any space. It is
// delivered to the model as a tool result, not raised.
type NotFoundError struct {
	Type space.ItemType
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no %s named %q in any space", e.Type, e.ID)
}

// Resolution is a successful lookup.
type Resolution struct {
	Path        string
	Space       space.Space
	ContentHash string
}

type cacheEntry struct {
	path        string
	space       space.Space
	contentHash string
}

// Resolver searches spaces in precedence order. Lookups are hot-pathed:
// a per-resolver cache maps id to (path, space, hash) and is revalidated
// by recomputing the file's content hash on every hit. Content hash is the
// sole invalidation signal; there is no time-based expiry.
type Resolver struct {
	spaces []space.Space
	logger *slog.Logger

	mu    sync.RWMutex
	cache map[string]cacheEntry

	watcher *spaceWatcher
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) { r.logger = logger }
}

// New creates a resolver over spaces, which must already be ordered by
// precedence (project first).
func New(spaces []space.Space, opts ...Option) *Resolver {
	r := &Resolver{
		spaces: spaces,
		logger: slog.Default().With("component", "resolver"),
		cache:  make(map[string]cacheEntry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Spaces returns the resolver's search order.
func (r *Resolver) Spaces() []space.Space { return r.spaces }

func cacheKey(t space.ItemType, id string) string {
	return string(t) + ":" + id
}

// Resolve finds the first existing file for (type, id) across spaces.
func (r *Resolver) Resolve(t space.ItemType, id string) (*Resolution, error) {
	key := cacheKey(t, id)

	r.mu.RLock()
	entry, ok := r.cache[key]
	r.mu.RUnlock()
	if ok {
		if data, err := os.ReadFile(entry.path); err == nil {
			if hash := integrity.ContentHash(data); hash == entry.contentHash {
				return &Resolution{Path: entry.path, Space: entry.space, ContentHash: hash}, nil
			}
		}
		// Stale or gone: evict and re-resolve from scratch.
		r.mu.Lock()
		delete(r.cache, key)
		r.mu.Unlock()
	}

	for _, sp := range r.spaces {
		if sp.Kind == space.System && !sp.Covers(id) {
			continue
		}
		for _, ext := range t.Extensions() {
			path := sp.ItemPath(t, id, ext)
			data, err := os.ReadFile(path)
			if err != nil {
				continue
			}
			hash := integrity.ContentHash(data)
			r.mu.Lock()
			r.cache[key] = cacheEntry{path: path, space: sp, contentHash: hash}
			r.mu.Unlock()
			r.logger.Debug("resolved item", "type", t, "id", id, "space", sp.String(), "path", path)
			return &Resolution{Path: path, Space: sp, ContentHash: hash}, nil
		}
	}

	return nil, &NotFoundError{Type: t, ID: id}
}

// Evict drops a cached resolution, forcing the next lookup to re-search.
func (r *Resolver) Evict(t space.ItemType, id string) {
	r.mu.Lock()
	delete(r.cache, cacheKey(t, id))
	r.mu.Unlock()
}

// evictPath drops any cache entries pointing at path. Used by the watcher.
func (r *Resolver) evictPath(path string) {
	r.mu.Lock()
	for key, entry := range r.cache {
		if entry.path == path {
			delete(r.cache, key)
		}
	}
	r.mu.Unlock()
}

// Close stops the space watcher if one is running.
func (r *Resolver) Close() error {
	if r.watcher != nil {
		return r.watcher.close()
	}
	return nil
}
