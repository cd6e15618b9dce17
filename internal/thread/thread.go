package thread

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ryelabs/rye/internal/budget"
	"github.com/ryelabs/rye/internal/capability"
	"github.com/ryelabs/rye/internal/item"
	"github.com/ryelabs/rye/internal/provider"
	"github.com/ryelabs/rye/internal/space"
	"github.com/ryelabs/rye/pkg/models"
)

// Thread is one managed conversation executing a directive.
type Thread struct {
	ID        string
	Directive *item.Directive
	ParentID  string
	Depth     int

	runtime *Runtime
	ledger  *budget.Ledger
	caps    *capability.Set
	model   string
	inputs  map[string]string

	mu        sync.Mutex
	status    models.ThreadStatus
	turns     []models.Turn
	result    string
	outputs   map[string]string
	started   time.Time
	loopCount int
	lastError string

	pendingHooks []string
	handoffMsg   *string
	killed       bool
	aborted      bool
	cancel       context.CancelFunc
}

// Options tune a thread at creation.
type Options struct {
	Parent         *Thread
	ParentCaps     *capability.Set
	Inputs         map[string]string
	LimitOverrides budget.Limits
	ModelOverride  string
}

// NewThread prepares a thread for a directive. The capability set is the
// directive's declarations attenuated by the parent; a root thread keeps
// its declarations as-is.
func (r *Runtime) NewThread(d *item.Directive, opts Options) *Thread {
	declared := capability.NewSet(d.PermissionPatterns, d.PermissionsAll)

	caps := declared
	depth := 0
	parentID := ""
	if opts.Parent != nil {
		caps = capability.Attenuate(declared, opts.Parent.caps, r.logger)
		depth = opts.Parent.Depth + 1
		parentID = opts.Parent.ID
	} else if opts.ParentCaps != nil {
		caps = capability.Attenuate(declared, opts.ParentCaps, r.logger)
	}

	limits := budget.Limits{
		Turns:    d.Limits.Turns,
		Tokens:   d.Limits.Tokens,
		SpendUSD: d.Limits.SpendUSD,
		Duration: time.Duration(d.Limits.DurationSeconds) * time.Second,
	}.Merge(opts.LimitOverrides)

	return &Thread{
		ID:        r.newThreadID(d),
		Directive: d,
		ParentID:  parentID,
		Depth:     depth,
		runtime:   r,
		ledger:    budget.NewLedger(limits),
		caps:      caps,
		model:     r.resolveModel(d, opts.ModelOverride),
		inputs:    opts.Inputs,
		status:    models.StatusRunning,
		outputs:   map[string]string{},
		started:   time.Now(),
	}
}

// Ledger exposes the thread's budget ledger for cost cascade.
func (t *Thread) Ledger() *budget.Ledger { return t.ledger }

// Capabilities exposes the effective capability set.
func (t *Thread) Capabilities() *capability.Set { return t.caps }

// Status returns the current lifecycle state.
func (t *Thread) Status() models.ThreadStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Cancel aborts the current LLM call and any in-flight subprocess; the
// thread finalizes as cancelled.
func (t *Thread) Cancel() {
	t.mu.Lock()
	t.aborted = true
	cancel := t.cancel
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Kill is Cancel with a harder terminal status.
func (t *Thread) Kill() {
	t.mu.Lock()
	t.killed = true
	t.aborted = true
	cancel := t.cancel
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Handoff queues a message and suspends the thread at the next loop check.
func (t *Thread) Handoff(message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handoffMsg = &message
}

// Result snapshots the thread as a result envelope.
func (t *Thread) Result() *models.ThreadResult {
	t.mu.Lock()
	defer t.mu.Unlock()
	snap := t.ledger.Snapshot()
	return &models.ThreadResult{
		ThreadID: t.ID,
		Status:   t.status,
		CostUSD:  snap.TotalSpend(),
		Tokens:   snap.TotalTokens(),
		Turns:    snap.TurnsUsed,
		Duration: time.Since(t.started),
		Result:   t.result,
		Outputs:  t.outputs,
	}
}

func (t *Thread) setStatus(s models.ThreadStatus) {
	t.mu.Lock()
	t.status = s
	t.mu.Unlock()
}

func (t *Thread) appendTurn(turn models.Turn) {
	turn.CreatedAt = time.Now()
	t.mu.Lock()
	t.turns = append(t.turns, turn)
	t.mu.Unlock()
}

// Turns returns a copy of the transcript so far.
func (t *Thread) Turns() []models.Turn {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]models.Turn(nil), t.turns...)
}

// Run executes the loop until a terminal status or handoff. It always
// returns a result envelope; machinery failures surface in Status.
func (t *Thread) Run(ctx context.Context) *models.ThreadResult {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	t.mu.Lock()
	t.cancel = cancel
	t.status = models.StatusRunning
	firstRun := len(t.turns) == 0
	// Honor a Cancel or Kill that raced thread start.
	if t.aborted {
		cancel()
	}
	t.mu.Unlock()

	systemPrompt := t.buildSystemPrompt()
	if firstRun {
		t.appendTurn(models.Turn{Role: models.RoleUser, Content: t.buildFirstMessage()})
	}

	t.loop(ctx, systemPrompt)
	t.finalize()
	return t.Result()
}

func (t *Thread) loop(ctx context.Context, systemPrompt string) {
	triedFallback := false

	for {
		if ctx.Err() != nil {
			t.markAborted()
			return
		}
		if msg := t.takeHandoff(); msg != nil {
			t.appendTurn(models.Turn{Role: models.RoleUser, Content: *msg})
			t.setStatus(models.StatusAwaitingHandoff)
			return
		}

		if err := t.ledger.Check(); err != nil {
			t.escalate(err)
			return
		}

		resp, err := t.runtime.provider.Complete(ctx, &provider.Request{
			Model:    t.model,
			System:   systemPrompt,
			Messages: t.Turns(),
			Tools:    wireTools,
		})
		if err != nil {
			if ctx.Err() != nil {
				t.markAborted()
				return
			}
			if !triedFallback && t.Directive.Model.Fallback != "" {
				triedFallback = true
				t.model = t.fallbackModel()
				t.runtime.logger.Warn("provider failed, switching to fallback model",
					"thread", t.ID, "model", t.model, "error", err)
				continue
			}
			t.runtime.logger.Error("provider failure", "thread", t.ID, "error", err)
			t.mu.Lock()
			t.lastError = "provider_error"
			t.status = models.StatusFailed
			t.mu.Unlock()
			return
		}

		cost := provider.CostUSD(t.model, resp.PromptTokens, resp.CompletionTokens)
		t.ledger.DebitTurn(resp.PromptTokens, resp.CompletionTokens, cost)
		t.appendTurn(models.Turn{
			Role:             models.RoleAssistant,
			Content:          resp.Text,
			ToolCalls:        resp.ToolCalls,
			PromptTokens:     resp.PromptTokens,
			CompletionTokens: resp.CompletionTokens,
			CostUSD:          cost,
		})
		t.mu.Lock()
		t.loopCount++
		t.mu.Unlock()

		if len(resp.ToolCalls) == 0 {
			if missing := t.missingOutputs(); len(missing) > 0 {
				t.appendTurn(models.Turn{
					Role: models.RoleUser,
					Content: "The directive declares outputs that are not set yet: " +
						strings.Join(missing, ", ") +
						". Call directive_return with each of them before finishing.",
				})
				continue
			}
			t.mu.Lock()
			t.result = resp.Text
			t.status = models.StatusCompleted
			t.mu.Unlock()
			return
		}

		results, returned := t.dispatchCalls(ctx, resp.ToolCalls)

		userTurn := models.Turn{Role: models.RoleUser, ToolResults: results}
		if hookNote := t.drainHooks(results); hookNote != "" {
			userTurn.Content = hookNote
		}
		t.appendTurn(userTurn)

		if returned {
			t.setStatus(models.StatusCompleted)
			return
		}
	}
}

// missingOutputs lists declared outputs not yet supplied via
// directive_return. A text-only reply is terminal only once this is empty.
func (t *Thread) missingOutputs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var missing []string
	for _, name := range t.Directive.Outputs {
		if _, ok := t.outputs[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}

// dispatchCalls executes one turn's tool calls concurrently and joins the
// results in emission order. directive_return is detected after the join.
func (t *Thread) dispatchCalls(ctx context.Context, calls []models.ToolCall) ([]models.ToolResult, bool) {
	results := make([]models.ToolResult, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call models.ToolCall) {
			defer wg.Done()
			results[i] = t.dispatch(ctx, call)
		}(i, call)
	}
	wg.Wait()

	returned := false
	for _, call := range calls {
		if call.Name == wireReturn {
			returned = true
		}
	}
	return results, returned
}

func (t *Thread) takeHandoff() *string {
	t.mu.Lock()
	defer t.mu.Unlock()
	msg := t.handoffMsg
	t.handoffMsg = nil
	return msg
}

func (t *Thread) markAborted() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.killed {
		t.status = models.StatusKilled
	} else {
		t.status = models.StatusCancelled
	}
}

// escalate marks budget exhaustion: escalation hooks fire first and any
// actions they queue are folded into the terminal marker turn, so they are
// visible in the transcript and on the next resume. Observable by the
// caller, not fatal to it.
func (t *Thread) escalate(cause error) {
	t.fireHooks(hookEnvForEvent(t, "escalated"))

	content := "Thread escalated: " + cause.Error()
	t.mu.Lock()
	if len(t.pendingHooks) > 0 {
		content += "\nTriggered hooks; perform these actions on resume:"
		for _, action := range t.pendingHooks {
			content += "\n- " + action
		}
		t.pendingHooks = nil
	}
	t.mu.Unlock()

	t.appendTurn(models.Turn{Role: models.RoleSystem, Content: content})
	t.setStatus(models.StatusEscalated)
}

func hookEnvForEvent(t *Thread, event string) hookEnv {
	snap := t.ledger.Snapshot()
	t.mu.Lock()
	defer t.mu.Unlock()
	return hookEnv{
		CostCurrent: snap.TotalSpend(),
		CostLimit:   t.ledger.Limits().SpendUSD,
		LoopCount:   t.loopCount,
		ErrorType:   t.lastError,
		ThreadEvent: event,
	}
}

// drainHooks evaluates the directive's hooks against the turn outcome and
// returns queued actions as an instruction note for the next user turn.
func (t *Thread) drainHooks(results []models.ToolResult) string {
	errType := ""
	for _, r := range results {
		if r.IsError {
			errType = "tool_error"
			break
		}
	}
	t.mu.Lock()
	t.lastError = errType
	t.mu.Unlock()

	t.fireHooks(hookEnvForEvent(t, "turn_completed"))

	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.pendingHooks) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Triggered hooks; perform these actions now:")
	for _, action := range t.pendingHooks {
		b.WriteString("\n- ")
		b.WriteString(action)
	}
	t.pendingHooks = nil
	return b.String()
}

func (t *Thread) fireHooks(env hookEnv) {
	for _, h := range t.Directive.Hooks {
		fired, err := evalWhen(h.When, env)
		if err != nil {
			t.runtime.logger.Warn("bad hook expression", "thread", t.ID, "when", h.When, "error", err)
			continue
		}
		if fired {
			t.mu.Lock()
			t.pendingHooks = append(t.pendingHooks, h.Action)
			t.mu.Unlock()
		}
	}
}

// fallbackModel maps the directive's fallback, which names either a tier
// or a concrete model id.
func (t *Thread) fallbackModel() string {
	fb := t.Directive.Model.Fallback
	switch fb {
	case "fast", "standard", "premium":
		return t.runtime.provider.ModelForTier(fb)
	}
	return fb
}

// Resume appends a user message to a suspended or terminal thread and
// re-enters the loop.
func (t *Thread) Resume(ctx context.Context, message string) *models.ThreadResult {
	t.mu.Lock()
	t.aborted = false
	t.killed = false
	t.mu.Unlock()
	if message != "" {
		t.appendTurn(models.Turn{Role: models.RoleUser, Content: message})
	}
	return t.Run(ctx)
}

// finalize persists the transcript as a signed knowledge entry.
func (t *Thread) finalize() {
	if err := t.persistTranscript(); err != nil {
		t.runtime.logger.Warn("transcript persistence failed", "thread", t.ID, "error", err)
	}
}

// dispatch routes one tool call: capability check first, then the
// appropriate subsystem. Failures become error results the model observes.
func (t *Thread) dispatch(ctx context.Context, call models.ToolCall) models.ToolResult {
	switch call.Name {
	case wireReturn:
		return t.dispatchReturn(call)
	case wireExecute:
		return t.dispatchExecute(ctx, call)
	case wireSearch:
		return t.dispatchSearch(call)
	case wireLoad:
		return t.dispatchLoad(call)
	case wireSign:
		return t.dispatchSign(call)
	case wireThreadDirective:
		return t.dispatchSpawn(ctx, call)
	case wireOrchestrator:
		return t.dispatchOrchestrator(ctx, call)
	default:
		return errResult(call.ID, "unknown tool "+call.Name)
	}
}

func errResult(callID, msg string) models.ToolResult {
	return models.ToolResult{ToolCallID: callID, Content: msg, IsError: true}
}

func okResult(callID, content string) models.ToolResult {
	return models.ToolResult{ToolCallID: callID, Content: content}
}

func (t *Thread) dispatchReturn(call models.ToolCall) models.ToolResult {
	var args returnArgs
	if err := json.Unmarshal(call.Input, &args); err != nil {
		return errResult(call.ID, "invalid directive_return payload: "+err.Error())
	}
	t.mu.Lock()
	t.result = args.Result
	for k, v := range args.Outputs {
		t.outputs[k] = v
	}
	t.mu.Unlock()
	return okResult(call.ID, "directive finished")
}

func (t *Thread) dispatchExecute(ctx context.Context, call models.ToolCall) models.ToolResult {
	var args executeArgs
	if err := json.Unmarshal(call.Input, &args); err != nil {
		return errResult(call.ID, "invalid rye_execute payload: "+err.Error())
	}
	if err := t.caps.Check(capability.PrimaryExecute, args.ItemType, args.ItemID); err != nil {
		return errResult(call.ID, err.Error())
	}

	switch space.ItemType(args.ItemType) {
	case space.TypeTool:
		ch, err := t.runtime.chains.Resolve(args.ItemID)
		if err != nil {
			return errResult(call.ID, err.Error())
		}
		envelope := t.runtime.executor.Execute(ctx, ch, args.Params, t.runtime.projectPath)
		return models.ToolResult{
			ToolCallID: call.ID,
			Content:    envelope.JSON(),
			IsError:    envelope.Status == models.EnvelopeError,
		}
	case space.TypeDirective:
		if t.runtime.orch == nil {
			return errResult(call.ID, "no orchestrator attached")
		}
		var inputs map[string]string
		if len(args.Params) > 0 {
			if err := json.Unmarshal(args.Params, &inputs); err != nil {
				return errResult(call.ID, "directive inputs must be a string map: "+err.Error())
			}
		}
		res, err := t.runtime.orch.Spawn(ctx, SpawnRequest{DirectiveID: args.ItemID, Inputs: inputs, Parent: t})
		if err != nil {
			return errResult(call.ID, err.Error())
		}
		return okResult(call.ID, marshalAny(res))
	case space.TypeKnowledge:
		k, err := t.runtime.loader.LoadKnowledge(args.ItemID)
		if err != nil {
			return errResult(call.ID, err.Error())
		}
		return okResult(call.ID, k.Content)
	default:
		return errResult(call.ID, "unknown item_type "+args.ItemType)
	}
}

func (t *Thread) dispatchSearch(call models.ToolCall) models.ToolResult {
	var args executeArgs
	if err := json.Unmarshal(call.Input, &args); err != nil {
		return errResult(call.ID, "invalid rye_search payload: "+err.Error())
	}
	if err := t.caps.Check(capability.PrimarySearch, args.ItemType, args.Query); err != nil {
		return errResult(call.ID, err.Error())
	}
	ids := t.runtime.search(space.ItemType(args.ItemType), args.Query)
	return okResult(call.ID, marshalAny(map[string]any{"matches": ids}))
}

func (t *Thread) dispatchLoad(call models.ToolCall) models.ToolResult {
	var args executeArgs
	if err := json.Unmarshal(call.Input, &args); err != nil {
		return errResult(call.ID, "invalid rye_load payload: "+err.Error())
	}
	if err := t.caps.Check(capability.PrimaryLoad, args.ItemType, args.ItemID); err != nil {
		return errResult(call.ID, err.Error())
	}

	switch space.ItemType(args.ItemType) {
	case space.TypeKnowledge:
		k, err := t.runtime.loader.LoadKnowledge(args.ItemID)
		if err != nil {
			return errResult(call.ID, err.Error())
		}
		return okResult(call.ID, k.Content)
	case space.TypeDirective:
		d, err := t.runtime.loader.LoadDirective(args.ItemID)
		if err != nil {
			return errResult(call.ID, err.Error())
		}
		return okResult(call.ID, d.Body)
	case space.TypeTool:
		tool, err := t.runtime.loader.LoadTool(args.ItemID)
		if err != nil {
			return errResult(call.ID, err.Error())
		}
		return okResult(call.ID, marshalAny(map[string]any{
			"id": tool.ID, "tool_type": tool.ToolType, "description": tool.Description,
		}))
	default:
		return errResult(call.ID, "unknown item_type "+args.ItemType)
	}
}

func (t *Thread) dispatchSign(call models.ToolCall) models.ToolResult {
	var args executeArgs
	if err := json.Unmarshal(call.Input, &args); err != nil {
		return errResult(call.ID, "invalid rye_sign payload: "+err.Error())
	}
	if err := t.caps.Check(capability.PrimarySign, args.ItemType, args.ItemID); err != nil {
		return errResult(call.ID, err.Error())
	}
	if t.runtime.signer == nil {
		return errResult(call.ID, "no signing key configured")
	}
	res, err := t.runtime.loader.Resolver().Resolve(space.ItemType(args.ItemType), args.ItemID)
	if err != nil {
		return errResult(call.ID, err.Error())
	}
	if err := t.runtime.signer.SignFile(res.Path); err != nil {
		return errResult(call.ID, err.Error())
	}
	return okResult(call.ID, "signed "+args.ItemID)
}

func (t *Thread) dispatchSpawn(ctx context.Context, call models.ToolCall) models.ToolResult {
	var args spawnArgs
	if err := json.Unmarshal(call.Input, &args); err != nil {
		return errResult(call.ID, "invalid thread_directive payload: "+err.Error())
	}
	if err := t.caps.Check(capability.PrimaryExecute, "directive", args.DirectiveID); err != nil {
		return errResult(call.ID, err.Error())
	}
	if t.runtime.orch == nil {
		return errResult(call.ID, "no orchestrator attached")
	}

	req := SpawnRequest{DirectiveID: args.DirectiveID, Inputs: args.Inputs, Parent: t}
	if args.Async {
		id, err := t.runtime.orch.SpawnAsync(ctx, req)
		if err != nil {
			return errResult(call.ID, err.Error())
		}
		return okResult(call.ID, marshalAny(map[string]string{"thread_id": id, "status": "running"}))
	}
	res, err := t.runtime.orch.Spawn(ctx, req)
	if err != nil {
		return errResult(call.ID, err.Error())
	}
	return okResult(call.ID, marshalAny(res))
}

func (t *Thread) dispatchOrchestrator(ctx context.Context, call models.ToolCall) models.ToolResult {
	var args orchestratorArgs
	if err := json.Unmarshal(call.Input, &args); err != nil {
		return errResult(call.ID, "invalid orchestrator payload: "+err.Error())
	}
	// Orchestrator dispatches are internal thread-system ids, always
	// permitted independent of caps.
	if err := t.caps.Check(capability.PrimaryExecute, "tool", "rye/agent/threads/internal/"+args.Operation); err != nil {
		return errResult(call.ID, err.Error())
	}
	if t.runtime.orch == nil {
		return errResult(call.ID, "no orchestrator attached")
	}
	out, err := t.runtime.orch.Operate(ctx, t, args.Operation, args.ThreadIDs, args.Message)
	if err != nil {
		return errResult(call.ID, err.Error())
	}
	return okResult(call.ID, marshalAny(out))
}

func marshalAny(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
