// Package orchestrator owns the process-wide thread registry: spawning
// (sync and async), genealogy, depth and spawn limits, cost cascade
// commits, and the thread-system operations the model dispatches.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/ryelabs/rye/internal/budget"
	"github.com/ryelabs/rye/internal/thread"
	"github.com/ryelabs/rye/pkg/models"
)

// handle tracks one registered thread for the lifetime of the process.
type handle struct {
	thread *thread.Thread

	done   chan struct{}
	result *models.ThreadResult

	// Totals already committed into the parent's ledger. A resumed run
	// accrues on top of the previous run, so only the delta cascades.
	cascadedCost   float64
	cascadedTokens int
}

// Orchestrator implements thread.Orchestrator over an in-process registry.
type Orchestrator struct {
	runtime *thread.Runtime
	logger  *slog.Logger

	mu       sync.RWMutex
	threads  map[string]*handle
	children map[string][]string
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// New builds an orchestrator and attaches it to the runtime.
func New(rt *thread.Runtime, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		runtime:  rt,
		logger:   slog.Default().With("component", "orchestrator"),
		threads:  map[string]*handle{},
		children: map[string][]string{},
	}
	for _, opt := range opts {
		opt(o)
	}
	rt.SetOrchestrator(o)
	return o
}

// SpawnRoot starts a top-level thread for a directive and runs it to a
// terminal status.
func (o *Orchestrator) SpawnRoot(ctx context.Context, directiveID string, inputs map[string]string, overrides budget.Limits, modelOverride string) (*models.ThreadResult, error) {
	d, err := o.runtime.Loader().LoadDirective(directiveID)
	if err != nil {
		return nil, err
	}
	t := o.runtime.NewThread(d, thread.Options{
		Inputs:         inputs,
		LimitOverrides: overrides,
		ModelOverride:  modelOverride,
	})
	h := o.register(t, "")
	return o.runToCompletion(ctx, h, nil), nil
}

// Spawn runs a child thread synchronously. The registry entry commits
// before execution starts, so the child is observable from the moment the
// spawn call returns control anywhere.
func (o *Orchestrator) Spawn(ctx context.Context, req thread.SpawnRequest) (*models.ThreadResult, error) {
	h, err := o.prepare(req)
	if err != nil {
		return nil, err
	}
	return o.runToCompletion(ctx, h, req.Parent), nil
}

// SpawnAsync starts a child on a detached execution path and returns its
// id immediately.
func (o *Orchestrator) SpawnAsync(ctx context.Context, req thread.SpawnRequest) (string, error) {
	h, err := o.prepare(req)
	if err != nil {
		return "", err
	}
	go o.runToCompletion(context.WithoutCancel(ctx), h, req.Parent)
	return h.thread.ID, nil
}

// prepare enforces spawn limits, loads the directive, and commits the
// registry entry.
func (o *Orchestrator) prepare(req thread.SpawnRequest) (*handle, error) {
	if req.Parent != nil {
		if err := o.checkSpawnLimits(req.Parent); err != nil {
			return nil, err
		}
	}
	d, err := o.runtime.Loader().LoadDirective(req.DirectiveID)
	if err != nil {
		return nil, err
	}
	t := o.runtime.NewThread(d, thread.Options{Parent: req.Parent, Inputs: req.Inputs})

	parentID := ""
	if req.Parent != nil {
		parentID = req.Parent.ID
	}
	return o.register(t, parentID), nil
}

func (o *Orchestrator) register(t *thread.Thread, parentID string) *handle {
	h := &handle{thread: t, done: make(chan struct{})}
	o.mu.Lock()
	o.threads[t.ID] = h
	if parentID != "" {
		o.children[parentID] = append(o.children[parentID], t.ID)
	}
	o.mu.Unlock()
	return h
}

// runToCompletion executes the thread, commits the result, and cascades
// the child's consumption into the parent's ledger.
func (o *Orchestrator) runToCompletion(ctx context.Context, h *handle, parent *thread.Thread) *models.ThreadResult {
	res := h.thread.Run(ctx)

	o.mu.Lock()
	h.result = res
	o.mu.Unlock()
	close(h.done)

	o.cascade(h, parent, res)
	o.logger.Info("thread finished", "thread", h.thread.ID, "status", res.Status, "cost", res.CostUSD)
	return res
}

// cascade commits the child's consumption since the last cascade into the
// parent's ledger when a run reaches a terminal status.
func (o *Orchestrator) cascade(h *handle, parent *thread.Thread, res *models.ThreadResult) {
	if parent == nil || !res.Status.Terminal() {
		return
	}
	o.mu.Lock()
	dCost := res.CostUSD - h.cascadedCost
	dTokens := res.Tokens - h.cascadedTokens
	h.cascadedCost = res.CostUSD
	h.cascadedTokens = res.Tokens
	o.mu.Unlock()
	if dCost != 0 || dTokens != 0 {
		parent.Ledger().CascadeChild(dCost, dTokens)
	}
}

// checkSpawnLimits walks the parent chain enforcing max_depth and
// max_spawns declared by each ancestor's directive.
func (o *Orchestrator) checkSpawnLimits(parent *thread.Thread) error {
	childDepth := parent.Depth + 1

	o.mu.RLock()
	defer o.mu.RUnlock()
	for p := parent; p != nil; {
		limits := p.Directive.Limits
		if limits.MaxDepth > 0 && childDepth > limits.MaxDepth {
			return fmt.Errorf("spawn would exceed max depth %d declared by %s", limits.MaxDepth, p.Directive.ID)
		}
		if p == parent && limits.MaxSpawns > 0 && len(o.children[p.ID]) >= limits.MaxSpawns {
			return fmt.Errorf("thread %s already spawned %d of %d children", p.ID, len(o.children[p.ID]), limits.MaxSpawns)
		}
		if p.ParentID == "" {
			break
		}
		h, ok := o.threads[p.ParentID]
		if !ok {
			break
		}
		p = h.thread
	}
	return nil
}

// lookup returns a registered handle.
func (o *Orchestrator) lookup(id string) (*handle, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	h, ok := o.threads[id]
	if !ok {
		return nil, fmt.Errorf("unknown thread %s", id)
	}
	return h, nil
}

// Wait blocks until the thread reaches a terminal status or ctx ends.
func (o *Orchestrator) Wait(ctx context.Context, id string) (*models.ThreadResult, error) {
	h, err := o.lookup(id)
	if err != nil {
		return nil, err
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.done:
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	return h.result, nil
}

// Status snapshots one thread.
func (o *Orchestrator) Status(id string) (*models.ThreadResult, error) {
	h, err := o.lookup(id)
	if err != nil {
		return nil, err
	}
	return h.thread.Result(), nil
}

// ListActive returns snapshots of all non-terminal threads.
func (o *Orchestrator) ListActive() []*models.ThreadResult {
	o.mu.RLock()
	defer o.mu.RUnlock()
	var out []*models.ThreadResult
	for _, h := range o.threads {
		if !h.thread.Status().Terminal() {
			out = append(out, h.thread.Result())
		}
	}
	return out
}

// Cancel aborts a running thread cooperatively.
func (o *Orchestrator) Cancel(id string) error {
	h, err := o.lookup(id)
	if err != nil {
		return err
	}
	h.thread.Cancel()
	return nil
}

// Kill aborts a running thread with the harder terminal status.
func (o *Orchestrator) Kill(id string) error {
	h, err := o.lookup(id)
	if err != nil {
		return err
	}
	h.thread.Kill()
	return nil
}

// Resume re-opens a completed, escalated, or awaiting_handoff thread with
// a new user message. Threads absent from the registry are rehydrated
// from their signed transcript.
func (o *Orchestrator) Resume(ctx context.Context, id, message string) (*models.ThreadResult, error) {
	o.mu.RLock()
	h, ok := o.threads[id]
	o.mu.RUnlock()

	var t *thread.Thread
	if ok {
		if h.thread.Status() == models.StatusRunning {
			return nil, fmt.Errorf("thread %s is still running", id)
		}
		t = h.thread
	} else {
		var err error
		t, err = o.runtime.Rehydrate(id)
		if err != nil {
			return nil, err
		}
		h = o.register(t, t.ParentID)
	}

	o.mu.Lock()
	if h.result != nil {
		// Re-arm the completion latch for the new run.
		h.result = nil
		h.done = make(chan struct{})
	}
	o.mu.Unlock()

	var parent *thread.Thread
	if t.ParentID != "" {
		o.mu.RLock()
		if ph, found := o.threads[t.ParentID]; found {
			parent = ph.thread
		}
		o.mu.RUnlock()
	}

	res := t.Resume(ctx, message)
	o.mu.Lock()
	h.result = res
	o.mu.Unlock()
	close(h.done)
	o.cascade(h, parent, res)
	return res, nil
}

// Handoff suspends a running thread with an injected message; the next
// resume continues from it.
func (o *Orchestrator) Handoff(id, message string) error {
	h, err := o.lookup(id)
	if err != nil {
		return err
	}
	if h.thread.Status() != models.StatusRunning {
		return fmt.Errorf("thread %s is not running", id)
	}
	h.thread.Handoff(message)
	return nil
}

// AggregateResults sums a thread's own result with its completed
// descendants.
func (o *Orchestrator) AggregateResults(id string) (map[string]any, error) {
	h, err := o.lookup(id)
	if err != nil {
		return nil, err
	}
	own := h.thread.Result()

	childResults := []*models.ThreadResult{}
	var childCost float64
	var childTokens int
	o.mu.RLock()
	for _, cid := range o.children[id] {
		if ch, ok := o.threads[cid]; ok {
			r := ch.thread.Result()
			childResults = append(childResults, r)
			childCost += r.CostUSD
			childTokens += r.Tokens
		}
	}
	o.mu.RUnlock()

	return map[string]any{
		"thread":       own,
		"children":     childResults,
		"cost_total":   own.CostUSD,
		"child_cost":   childCost,
		"child_tokens": childTokens,
	}, nil
}

// Chain returns the parent genealogy of a thread, root first.
func (o *Orchestrator) Chain(id string) ([]string, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	h, ok := o.threads[id]
	if !ok {
		return nil, fmt.Errorf("unknown thread %s", id)
	}
	var chain []string
	for t := h.thread; t != nil; {
		chain = append([]string{t.ID}, chain...)
		if t.ParentID == "" {
			break
		}
		p, ok := o.threads[t.ParentID]
		if !ok {
			break
		}
		t = p.thread
	}
	return chain, nil
}

// ChainSearch returns ids of registered threads whose directive id
// contains the query.
func (o *Orchestrator) ChainSearch(query string) []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	var out []string
	for id, h := range o.threads {
		if strings.Contains(h.thread.Directive.ID, query) {
			out = append(out, id)
		}
	}
	return out
}
