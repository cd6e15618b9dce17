// Package chain resolves a leaf tool's executor chain down to its terminal
// primitive and validates it: cycles, space precedence, parameter schema
// compatibility, and runtime version majors. Resolved chains are cached by
// leaf id and fingerprinted by per-element content hash.
package chain

import (
	"log/slog"
	"os"
	"sync"

	"github.com/ryelabs/rye/internal/integrity"
	"github.com/ryelabs/rye/internal/item"
)

// maxDepth caps executor chains; anything deeper is misconfigured.
const maxDepth = 8

// Chain is the ordered resolution from leaf to primitive.
type Chain struct {
	Elements []*item.Tool
}

// Leaf returns the dispatched tool.
func (c *Chain) Leaf() *item.Tool { return c.Elements[0] }

// Primitive returns the terminal element.
func (c *Chain) Primitive() *item.Tool { return c.Elements[len(c.Elements)-1] }

// elementPrint pins one element's identity at resolution time.
type elementPrint struct {
	path string
	hash string
}

type cacheEntry struct {
	chain  *Chain
	prints []elementPrint
}

// Resolver walks and validates executor chains.
type Resolver struct {
	loader *item.Loader
	logger *slog.Logger

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) { r.logger = logger }
}

// NewResolver creates a chain resolver over an item loader.
func NewResolver(loader *item.Loader, opts ...Option) *Resolver {
	r := &Resolver{
		loader: loader,
		logger: slog.Default().With("component", "chain"),
		cache:  make(map[string]cacheEntry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the validated chain for a leaf tool id. Cached chains are
// served only while every element's on-disk content hash still matches; a
// single changed byte anywhere in the chain forces a full re-resolution.
func (r *Resolver) Resolve(leafID string) (*Chain, error) {
	r.mu.Lock()
	entry, ok := r.cache[leafID]
	r.mu.Unlock()
	if ok {
		if r.fresh(entry) {
			return entry.chain, nil
		}
		r.mu.Lock()
		delete(r.cache, leafID)
		r.mu.Unlock()
	}

	chain, prints, err := r.walk(leafID)
	if err != nil {
		return nil, err
	}
	if err := Validate(chain); err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.cache[leafID] = cacheEntry{chain: chain, prints: prints}
	r.mu.Unlock()
	return chain, nil
}

// fresh re-hashes every element file against its resolution-time print.
func (r *Resolver) fresh(entry cacheEntry) bool {
	for _, p := range entry.prints {
		data, err := os.ReadFile(p.path)
		if err != nil || integrity.ContentHash(data) != p.hash {
			return false
		}
	}
	return true
}

// walk follows executor_id links from the leaf, loading and verifying each
// element through the signed-item loader.
func (r *Resolver) walk(leafID string) (*Chain, []elementPrint, error) {
	var elements []*item.Tool
	var prints []elementPrint
	visited := map[string]bool{}

	id := leafID
	for {
		if visited[id] {
			return nil, nil, &Error{LeafID: leafID, Reason: ReasonCycle, Message: "executor cycle at " + id}
		}
		if len(elements) >= maxDepth {
			return nil, nil, &Error{LeafID: leafID, Reason: ReasonTooDeep, Message: "chain exceeds max depth"}
		}
		visited[id] = true

		tool, err := r.loader.LoadTool(id)
		if err != nil {
			return nil, nil, err
		}
		elements = append(elements, tool)

		data, err := os.ReadFile(tool.Path)
		if err != nil {
			return nil, nil, err
		}
		prints = append(prints, elementPrint{path: tool.Path, hash: integrity.ContentHash(data)})

		if tool.ExecutorID == "" {
			return &Chain{Elements: elements}, prints, nil
		}
		id = tool.ExecutorID
	}
}

// Evict drops a cached chain, if present.
func (r *Resolver) Evict(leafID string) {
	r.mu.Lock()
	delete(r.cache, leafID)
	r.mu.Unlock()
}

// Validate checks a walked chain's structural rules.
func Validate(c *Chain) error {
	leaf := c.Leaf()

	terminal := c.Primitive()
	if terminal.ToolType != item.ToolPrimitive {
		return &Error{
			LeafID: leaf.ID, Reason: ReasonTerminalNotPrimitive,
			Message: "terminal element " + terminal.ID + " has tool_type " + string(terminal.ToolType),
		}
	}

	for i := 0; i < len(c.Elements)-1; i++ {
		parent, child := c.Elements[i], c.Elements[i+1]

		// A higher-precedence space may depend on a lower one, never the
		// reverse: a user-space tool cannot ride a project-space runtime.
		if parent.Space.Kind.Precedence() < child.Space.Kind.Precedence() {
			return &Error{
				LeafID: leaf.ID, Reason: ReasonPrecedence,
				Message: parent.ID + " (" + string(parent.Space.Kind) + ") depends on higher-precedence " +
					child.ID + " (" + string(child.Space.Kind) + ")",
			}
		}

		if err := compatibleSchemas(parent, child); err != nil {
			return &Error{LeafID: leaf.ID, Reason: ReasonSchema, Message: err.Error()}
		}
		if err := compatibleVersions(parent, child); err != nil {
			return &Error{LeafID: leaf.ID, Reason: ReasonVersion, Message: err.Error()}
		}
	}
	return nil
}
