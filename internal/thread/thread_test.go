package thread

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/ryelabs/rye/internal/budget"
	"github.com/ryelabs/rye/internal/chain"
	"github.com/ryelabs/rye/internal/executor"
	"github.com/ryelabs/rye/internal/integrity"
	"github.com/ryelabs/rye/internal/item"
	"github.com/ryelabs/rye/internal/provider"
	"github.com/ryelabs/rye/internal/resolver"
	"github.com/ryelabs/rye/internal/space"
	"github.com/ryelabs/rye/pkg/models"
)

// scriptedProvider replays canned responses and records requests.
type scriptedProvider struct {
	mu        sync.Mutex
	responses []*provider.Response
	requests  []*provider.Request

	// block makes Complete wait for ctx or close; entered is closed once
	// the first blocked call is in flight.
	block     chan struct{}
	entered   chan struct{}
	enterOnce sync.Once
}

func (s *scriptedProvider) Name() string               { return "scripted" }
func (s *scriptedProvider) ModelForTier(string) string { return "test-model" }

func (s *scriptedProvider) Complete(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	if s.block != nil {
		if s.entered != nil {
			s.enterOnce.Do(func() { close(s.entered) })
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.block:
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if len(s.responses) == 0 {
		return &provider.Response{Text: "nothing left to say", PromptTokens: 1, CompletionTokens: 1}, nil
	}
	resp := s.responses[0]
	s.responses = s.responses[1:]
	return resp, nil
}

func (s *scriptedProvider) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func textResponse(text string) *provider.Response {
	return &provider.Response{Text: text, PromptTokens: 100, CompletionTokens: 50, StopReason: "end_turn"}
}

func callResponse(calls ...models.ToolCall) *provider.Response {
	return &provider.Response{ToolCalls: calls, PromptTokens: 100, CompletionTokens: 50, StopReason: "tool_use"}
}

type threadEnv struct {
	project  space.Space
	signer   *integrity.Signer
	runtime  *Runtime
	provider *scriptedProvider
}

func newThreadEnv(t *testing.T, responses ...*provider.Response) *threadEnv {
	t.Helper()
	project := space.Space{Kind: space.Project, Root: t.TempDir()}

	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatal(err)
	}
	ks := integrity.NewKeyStore([]space.Space{project})
	if _, err := ks.Trust(project, "test", pub); err != nil {
		t.Fatal(err)
	}
	signer := integrity.NewSigner(priv)

	res := resolver.New([]space.Space{project})
	verifier := integrity.NewVerifier(ks, nil)
	loader := item.NewLoader(res, verifier)

	p := &scriptedProvider{responses: responses}
	rt := NewRuntime(p, loader, chain.NewResolver(loader), executor.New(verifier), project, WithSigner(signer))
	return &threadEnv{project: project, signer: signer, runtime: rt, provider: p}
}

func (e *threadEnv) writeSigned(t *testing.T, itemType space.ItemType, id, ext, content string) {
	t.Helper()
	path := e.project.ItemPath(itemType, id, ext)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := e.signer.SignFile(path); err != nil {
		t.Fatal(err)
	}
}

func (e *threadEnv) writeEchoTool(t *testing.T) {
	t.Helper()
	e.writeSigned(t, space.TypeTool, "rye/primitive/subprocess",
		".yaml", "id: rye/primitive/subprocess\ncategory: rye/primitive\nversion: 1.0.0\ntool_type: primitive\nconfig:\n  command: /bin/echo\n  timeout_seconds: 10\n")
	e.writeSigned(t, space.TypeTool, "test/echo",
		".yaml", "id: test/echo\ncategory: test\nversion: 1.0.0\ntool_type: script\nexecutor_id: rye/primitive/subprocess\n")
}

func testDirective(perms []string) *item.Directive {
	return &item.Directive{
		Meta:               item.Meta{ID: "test/run", Category: "test", Version: "1.0.0"},
		Model:              item.ModelDescriptor{Tier: "standard"},
		PermissionPatterns: perms,
		Body:               "Do the thing.",
	}
}

func executeCall(id, itemID string) models.ToolCall {
	return models.ToolCall{
		ID:    id,
		Name:  wireExecute,
		Input: json.RawMessage(`{"item_type":"tool","item_id":"` + itemID + `","params":{}}`),
	}
}

func TestThreadCompletesOnTextOnly(t *testing.T) {
	env := newThreadEnv(t, textResponse("all done"))
	th := env.runtime.NewThread(testDirective(nil), Options{})

	res := th.Run(context.Background())
	if res.Status != models.StatusCompleted {
		t.Fatalf("status = %s", res.Status)
	}
	if res.Result != "all done" {
		t.Errorf("result = %q", res.Result)
	}
	if res.Turns != 1 || res.Tokens != 150 {
		t.Errorf("turns = %d, tokens = %d", res.Turns, res.Tokens)
	}
}

func TestThreadPersistsSignedTranscript(t *testing.T) {
	env := newThreadEnv(t, textResponse("done"))
	th := env.runtime.NewThread(testDirective(nil), Options{})
	th.Run(context.Background())

	id := env.runtime.FindTranscript(th.ID)
	if id == "" {
		t.Fatal("no transcript written")
	}
	// Loading verifies the signature.
	k, err := env.runtime.loader.LoadKnowledge(id)
	if err != nil {
		t.Fatalf("transcript failed verification: %v", err)
	}
	if !strings.Contains(k.Content, "done") {
		t.Error("transcript missing assistant text")
	}
}

func TestThreadExecutesToolCall(t *testing.T) {
	env := newThreadEnv(t,
		callResponse(executeCall("c1", "test/echo")),
		textResponse("finished"),
	)
	env.writeEchoTool(t)
	th := env.runtime.NewThread(testDirective([]string{"execute.tool.test.*", "execute.tool.rye.*"}), Options{})

	res := th.Run(context.Background())
	if res.Status != models.StatusCompleted {
		t.Fatalf("status = %s", res.Status)
	}

	turns := th.Turns()
	// user, assistant(call), user(result), assistant(text)
	if len(turns) != 4 {
		t.Fatalf("len(turns) = %d", len(turns))
	}
	result := turns[2].ToolResults[0]
	if result.IsError {
		t.Fatalf("tool result errored: %s", result.Content)
	}
	if !strings.Contains(result.Content, `"status":"success"`) {
		t.Errorf("result = %s", result.Content)
	}
}

func TestThreadDeniesUncoveredDispatch(t *testing.T) {
	env := newThreadEnv(t,
		callResponse(executeCall("c1", "rye/file-system/write")),
		textResponse("observed the denial"),
	)
	// Wrong scope: declares core caps, attempts file-system.
	th := env.runtime.NewThread(testDirective([]string{"execute.tool.rye.core.*"}), Options{})

	res := th.Run(context.Background())
	if res.Status != models.StatusCompleted {
		t.Fatalf("status = %s, want completed (model observes denial)", res.Status)
	}
	result := th.Turns()[2].ToolResults[0]
	if !result.IsError || !strings.Contains(result.Content, "Permission denied") {
		t.Errorf("result = %+v, want permission denial", result)
	}
	if !strings.Contains(result.Content, "rye.execute.tool.rye.file-system.write") {
		t.Errorf("denial does not name required capability: %s", result.Content)
	}
}

func TestThreadEmptyCapsDenyEverything(t *testing.T) {
	env := newThreadEnv(t,
		callResponse(executeCall("c1", "test/echo")),
		textResponse("ok"),
	)
	env.writeEchoTool(t)
	th := env.runtime.NewThread(testDirective(nil), Options{})

	th.Run(context.Background())
	result := th.Turns()[2].ToolResults[0]
	if !result.IsError {
		t.Error("dispatch with empty capability set was allowed")
	}
}

func TestThreadEscalatesOnTurnLimit(t *testing.T) {
	env := newThreadEnv(t,
		callResponse(executeCall("c1", "test/echo")),
		textResponse("should never be sent"),
	)
	env.writeEchoTool(t)
	d := testDirective([]string{"execute.tool.test.*", "execute.tool.rye.*"})
	d.Limits.Turns = 1
	th := env.runtime.NewThread(d, Options{})

	res := th.Run(context.Background())
	if res.Status != models.StatusEscalated {
		t.Fatalf("status = %s, want escalated", res.Status)
	}
	if env.provider.callCount() != 1 {
		t.Errorf("provider called %d times, want 1 (no LLM call past the limit)", env.provider.callCount())
	}
}

func TestThreadTextOnlyWaitsForDeclaredOutputs(t *testing.T) {
	env := newThreadEnv(t,
		textResponse("looks done to me"),
		callResponse(models.ToolCall{
			ID:    "r1",
			Name:  wireReturn,
			Input: json.RawMessage(`{"result":"report written","outputs":{"report":"out/report.md"}}`),
		}),
	)
	d := testDirective(nil)
	d.Outputs = []string{"report"}
	th := env.runtime.NewThread(d, Options{})

	res := th.Run(context.Background())
	if res.Status != models.StatusCompleted {
		t.Fatalf("status = %s", res.Status)
	}
	if res.Outputs["report"] != "out/report.md" {
		t.Errorf("outputs = %v", res.Outputs)
	}
	// The first text-only reply must not complete the thread while the
	// declared output is unset; the loop continues with a corrective turn.
	if env.provider.callCount() != 2 {
		t.Errorf("provider called %d times, want 2", env.provider.callCount())
	}
	corrective := th.Turns()[2]
	if corrective.Role != models.RoleUser || !strings.Contains(corrective.Content, "report") {
		t.Errorf("corrective turn = %+v, want it to name the missing output", corrective)
	}
}

func TestThreadMissingOutputsBoundedByTurnLimit(t *testing.T) {
	env := newThreadEnv(t,
		textResponse("done"),
		textResponse("still done"),
	)
	d := testDirective(nil)
	d.Outputs = []string{"report"}
	d.Limits.Turns = 2
	th := env.runtime.NewThread(d, Options{})

	// A model that never produces the declared output ends at the turn
	// limit instead of completing with an empty outputs map.
	res := th.Run(context.Background())
	if res.Status != models.StatusEscalated {
		t.Fatalf("status = %s, want escalated", res.Status)
	}
	if len(res.Outputs) != 0 {
		t.Errorf("outputs = %v, want none", res.Outputs)
	}
}

func TestThreadDirectiveReturn(t *testing.T) {
	env := newThreadEnv(t,
		callResponse(models.ToolCall{
			ID:    "r1",
			Name:  wireReturn,
			Input: json.RawMessage(`{"result":"wrote it","outputs":{"path":"out/a.txt"}}`),
		}),
	)
	th := env.runtime.NewThread(testDirective(nil), Options{})

	res := th.Run(context.Background())
	if res.Status != models.StatusCompleted {
		t.Fatalf("status = %s", res.Status)
	}
	if res.Result != "wrote it" || res.Outputs["path"] != "out/a.txt" {
		t.Errorf("result = %+v", res)
	}
}

func TestThreadJoinsParallelCallsInOrder(t *testing.T) {
	env := newThreadEnv(t,
		callResponse(
			executeCall("c1", "test/echo"),
			executeCall("c2", "test/echo"),
			executeCall("c3", "test/echo"),
		),
		textResponse("done"),
	)
	env.writeEchoTool(t)
	th := env.runtime.NewThread(testDirective([]string{"execute.tool.test.*", "execute.tool.rye.*"}), Options{})

	th.Run(context.Background())
	results := th.Turns()[2].ToolResults
	if len(results) != 3 {
		t.Fatalf("len(results) = %d", len(results))
	}
	for i, want := range []string{"c1", "c2", "c3"} {
		if results[i].ToolCallID != want {
			t.Errorf("results[%d] = %s, want %s (emission order)", i, results[i].ToolCallID, want)
		}
	}
}

func TestThreadHookQueuesAction(t *testing.T) {
	env := newThreadEnv(t,
		callResponse(executeCall("c1", "test/echo")),
		textResponse("done"),
	)
	env.writeEchoTool(t)
	d := testDirective([]string{"execute.tool.test.*", "execute.tool.rye.*"})
	d.Hooks = []item.Hook{{When: "loop_count >= 1", Action: "summarize progress so far"}}
	th := env.runtime.NewThread(d, Options{})

	th.Run(context.Background())
	userTurn := th.Turns()[2]
	if !strings.Contains(userTurn.Content, "summarize progress so far") {
		t.Errorf("hook action not queued in next turn: %q", userTurn.Content)
	}
}

func TestThreadEscalationSurfacesHookActions(t *testing.T) {
	env := newThreadEnv(t,
		callResponse(executeCall("c1", "test/echo")),
	)
	env.writeEchoTool(t)
	d := testDirective([]string{"execute.tool.test.*", "execute.tool.rye.*"})
	d.Limits.Turns = 1
	d.Hooks = []item.Hook{{When: "thread.event == escalated", Action: "notify the operator"}}
	th := env.runtime.NewThread(d, Options{})

	res := th.Run(context.Background())
	if res.Status != models.StatusEscalated {
		t.Fatalf("status = %s, want escalated", res.Status)
	}
	turns := th.Turns()
	marker := turns[len(turns)-1]
	if marker.Role != models.RoleSystem || !strings.Contains(marker.Content, "notify the operator") {
		t.Errorf("marker turn = %+v, want the escalation hook action in it", marker)
	}
}

func TestThreadCancellation(t *testing.T) {
	env := newThreadEnv(t)
	env.provider.block = make(chan struct{})
	env.provider.entered = make(chan struct{})
	th := env.runtime.NewThread(testDirective(nil), Options{})

	done := make(chan *models.ThreadResult, 1)
	go func() { done <- th.Run(context.Background()) }()

	// Wait until the thread is inside the provider call, then cancel.
	<-env.provider.entered
	th.Cancel()

	res := <-done
	if res.Status != models.StatusCancelled {
		t.Fatalf("status = %s, want cancelled", res.Status)
	}
}

func TestThreadAttenuatedChildCaps(t *testing.T) {
	env := newThreadEnv(t)
	parent := env.runtime.NewThread(testDirective([]string{"execute.tool.rye.file-system.*"}), Options{})

	// Child with no declared permissions inherits the parent's set.
	child := env.runtime.NewThread(testDirective(nil), Options{Parent: parent})
	if err := child.Capabilities().Check("execute", "tool", "rye/file-system/write"); err != nil {
		t.Errorf("inherited capability denied: %v", err)
	}
	if child.Depth != 1 || child.ParentID != parent.ID {
		t.Errorf("child genealogy = depth %d parent %s", child.Depth, child.ParentID)
	}

	// Child of a capability-less parent gets nothing, even when declaring.
	bare := env.runtime.NewThread(testDirective(nil), Options{})
	declared := env.runtime.NewThread(testDirective([]string{"execute.tool.rye.file-system.*"}), Options{Parent: bare})
	if err := declared.Capabilities().Check("execute", "tool", "rye/file-system/write"); err == nil {
		t.Error("child widened beyond capability-less parent")
	}
}

func TestThreadLimitOverrides(t *testing.T) {
	env := newThreadEnv(t, textResponse("ok"))
	d := testDirective(nil)
	d.Limits.Turns = 20
	th := env.runtime.NewThread(d, Options{LimitOverrides: budget.Limits{Turns: 3}})

	if th.Ledger().Limits().Turns != 3 {
		t.Errorf("turns limit = %d, want override 3", th.Ledger().Limits().Turns)
	}
}

func TestThreadRehydrateAndResume(t *testing.T) {
	env := newThreadEnv(t, textResponse("first pass done"))
	env.writeSigned(t, space.TypeDirective, "test/run", ".md",
		"# D\n\n## Metadata\n\n```yaml\nid: test/run\ncategory: test\nversion: 1.0.0\n```\n\n<process><step name=\"s\"><instruction>go</instruction></step></process>\n")

	d, err := env.runtime.loader.LoadDirective("test/run")
	if err != nil {
		t.Fatal(err)
	}
	th := env.runtime.NewThread(d, Options{})
	th.Run(context.Background())

	re, err := env.runtime.Rehydrate(th.ID)
	if err != nil {
		t.Fatalf("rehydrate: %v", err)
	}
	if re.ID != th.ID || re.Status() != models.StatusCompleted {
		t.Errorf("rehydrated = %s %s", re.ID, re.Status())
	}
	if len(re.Turns()) != len(th.Turns()) {
		t.Errorf("turns = %d, want %d", len(re.Turns()), len(th.Turns()))
	}

	env.provider.responses = []*provider.Response{textResponse("resumed and done")}
	res := re.Resume(context.Background(), "please continue")
	if res.Status != models.StatusCompleted || res.Result != "resumed and done" {
		t.Errorf("resume result = %+v", res)
	}
}
