package orchestrator

import (
	"context"
	"fmt"

	"github.com/ryelabs/rye/internal/thread"
	"github.com/ryelabs/rye/pkg/models"
)

// Operate executes one named thread-system operation on behalf of a
// running thread. Results are JSON-serializable so they can be returned
// directly as tool results.
func (o *Orchestrator) Operate(ctx context.Context, caller *thread.Thread, op string, threadIDs []string, message string) (any, error) {
	switch op {
	case "wait_threads":
		return o.opWait(ctx, threadIDs)
	case "cancel_thread":
		return o.opEach(threadIDs, o.Cancel)
	case "kill_thread":
		return o.opEach(threadIDs, o.Kill)
	case "get_status":
		return o.opStatus(threadIDs)
	case "list_active":
		return o.ListActive(), nil
	case "aggregate_results":
		return o.opAggregate(caller, threadIDs)
	case "get_chain":
		return o.opChain(caller, threadIDs)
	case "chain_search":
		return o.ChainSearch(message), nil
	case "read_transcript":
		return o.opTranscript(threadIDs)
	case "resume_thread":
		return o.opResume(ctx, threadIDs, message)
	case "handoff_thread":
		return o.opEach(threadIDs, func(id string) error { return o.Handoff(id, message) })
	default:
		return nil, fmt.Errorf("unknown orchestrator operation %q", op)
	}
}

func (o *Orchestrator) opWait(ctx context.Context, ids []string) (any, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("wait_threads requires thread ids")
	}
	results := make(map[string]*models.ThreadResult, len(ids))
	for _, id := range ids {
		res, err := o.Wait(ctx, id)
		if err != nil {
			return nil, err
		}
		results[id] = res
	}
	return results, nil
}

// opEach applies fn to every id and reports per-id outcomes.
func (o *Orchestrator) opEach(ids []string, fn func(string) error) (any, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("operation requires thread ids")
	}
	out := make(map[string]string, len(ids))
	for _, id := range ids {
		if err := fn(id); err != nil {
			out[id] = err.Error()
		} else {
			out[id] = "ok"
		}
	}
	return out, nil
}

func (o *Orchestrator) opStatus(ids []string) (any, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("get_status requires thread ids")
	}
	out := make(map[string]*models.ThreadResult, len(ids))
	for _, id := range ids {
		res, err := o.Status(id)
		if err != nil {
			return nil, err
		}
		out[id] = res
	}
	return out, nil
}

func (o *Orchestrator) opAggregate(caller *thread.Thread, ids []string) (any, error) {
	id := callerOrFirst(caller, ids)
	if id == "" {
		return nil, fmt.Errorf("aggregate_results requires a thread id")
	}
	return o.AggregateResults(id)
}

func (o *Orchestrator) opChain(caller *thread.Thread, ids []string) (any, error) {
	id := callerOrFirst(caller, ids)
	if id == "" {
		return nil, fmt.Errorf("get_chain requires a thread id")
	}
	return o.Chain(id)
}

func (o *Orchestrator) opTranscript(ids []string) (any, error) {
	if len(ids) != 1 {
		return nil, fmt.Errorf("read_transcript takes exactly one thread id")
	}
	return o.runtime.ReadTranscript(ids[0])
}

func (o *Orchestrator) opResume(ctx context.Context, ids []string, message string) (any, error) {
	if len(ids) != 1 {
		return nil, fmt.Errorf("resume_thread takes exactly one thread id")
	}
	return o.Resume(ctx, ids[0], message)
}

// callerOrFirst defaults a single-target operation to the calling thread.
func callerOrFirst(caller *thread.Thread, ids []string) string {
	if len(ids) > 0 {
		return ids[0]
	}
	if caller != nil {
		return caller.ID
	}
	return ""
}
