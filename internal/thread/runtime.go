// Package thread implements the managed conversational thread: the LLM
// loop, capability-gated tool dispatch, budget enforcement, hooks,
// cancellation, and signed transcript persistence.
package thread

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/ryelabs/rye/internal/chain"
	"github.com/ryelabs/rye/internal/executor"
	"github.com/ryelabs/rye/internal/integrity"
	"github.com/ryelabs/rye/internal/item"
	"github.com/ryelabs/rye/internal/provider"
	"github.com/ryelabs/rye/internal/space"
	"github.com/ryelabs/rye/pkg/models"
)

// SpawnRequest asks the orchestrator for a child thread.
type SpawnRequest struct {
	DirectiveID string
	Inputs      map[string]string
	Parent      *Thread
}

// Orchestrator is the thread-system surface the loop dispatches to. The
// orchestrator package implements it; the indirection keeps the dependency
// one-way.
type Orchestrator interface {
	// Spawn runs a child synchronously and returns its terminal result.
	Spawn(ctx context.Context, req SpawnRequest) (*models.ThreadResult, error)

	// SpawnAsync starts a child and returns its id immediately.
	SpawnAsync(ctx context.Context, req SpawnRequest) (string, error)

	// Operate executes one named orchestrator operation for a running
	// thread and returns a JSON-serializable result.
	Operate(ctx context.Context, caller *Thread, op string, threadIDs []string, message string) (any, error)
}

// Runtime carries the shared collaborators every thread runs against.
type Runtime struct {
	provider provider.Provider
	loader   *item.Loader
	chains   *chain.Resolver
	executor *executor.Executor
	signer   *integrity.Signer
	orch     Orchestrator
	logger   *slog.Logger

	projectSpace space.Space
	projectPath  string

	threadSeq atomic.Uint64
}

// RuntimeOption configures a Runtime.
type RuntimeOption func(*Runtime)

// WithSigner enables transcript signing and the rye_sign dispatch.
func WithSigner(signer *integrity.Signer) RuntimeOption {
	return func(r *Runtime) { r.signer = signer }
}

// WithRuntimeLogger sets the logger.
func WithRuntimeLogger(logger *slog.Logger) RuntimeOption {
	return func(r *Runtime) { r.logger = logger }
}

// NewRuntime wires a thread runtime. The orchestrator is attached
// afterwards via SetOrchestrator since it needs the runtime first.
func NewRuntime(p provider.Provider, loader *item.Loader, chains *chain.Resolver, exec *executor.Executor, projectSpace space.Space, opts ...RuntimeOption) *Runtime {
	r := &Runtime{
		provider:     p,
		loader:       loader,
		chains:       chains,
		executor:     exec,
		logger:       slog.Default().With("component", "thread"),
		projectSpace: projectSpace,
		projectPath:  projectSpace.Root,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetOrchestrator attaches the thread-system implementation.
func (r *Runtime) SetOrchestrator(orch Orchestrator) { r.orch = orch }

// Loader exposes the item loader for orchestrator transcript reads.
func (r *Runtime) Loader() *item.Loader { return r.loader }

// newThreadID derives an id from the directive id and a monotonic
// counter, plus a short random suffix so ids from separate processes
// never collide on the transcript path.
func (r *Runtime) newThreadID(d *item.Directive) string {
	slug := strings.ReplaceAll(d.ID, "/", "-")
	return fmt.Sprintf("%s-%d-%s", slug, r.threadSeq.Add(1), uuid.NewString()[:8])
}

// resolveModel picks the concrete model id for a directive.
func (r *Runtime) resolveModel(d *item.Directive, override string) string {
	if override != "" {
		return override
	}
	if d.Model.ID != "" {
		return d.Model.ID
	}
	return r.provider.ModelForTier(d.Model.Tier)
}

// search lists item ids visible across spaces that match the query, which
// may use * and ? wildcards or be a plain substring. Project shadows user
// shadows system, so each id appears once.
func (r *Runtime) search(itemType space.ItemType, query string) []string {
	seen := map[string]bool{}
	var out []string
	for _, sp := range r.loader.Resolver().Spaces() {
		for _, id := range sp.ListItems(itemType) {
			if seen[id] {
				continue
			}
			if matchQuery(query, id) {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	sort.Strings(out)
	return out
}

func matchQuery(query, id string) bool {
	if query == "" || query == "*" {
		return true
	}
	if strings.ContainsAny(query, "*?") {
		ok, err := path.Match(query, id)
		return err == nil && ok
	}
	return strings.Contains(id, query)
}
