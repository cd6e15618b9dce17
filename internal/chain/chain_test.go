package chain

import (
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ryelabs/rye/internal/integrity"
	"github.com/ryelabs/rye/internal/item"
	"github.com/ryelabs/rye/internal/resolver"
	"github.com/ryelabs/rye/internal/space"
)

type chainEnv struct {
	project  space.Space
	signer   *integrity.Signer
	resolver *Resolver
}

func newChainEnv(t *testing.T) *chainEnv {
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

	res := resolver.New([]space.Space{project})
	loader := item.NewLoader(res, integrity.NewVerifier(ks, nil))
	return &chainEnv{
		project:  project,
		signer:   integrity.NewSigner(priv),
		resolver: NewResolver(loader),
	}
}

func (e *chainEnv) writeTool(t *testing.T, id, content string) string {
	t.Helper()
	path := e.project.ItemPath(space.TypeTool, id, ".yaml")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := e.signer.SignFile(path); err != nil {
		t.Fatal(err)
	}
	return path
}

const primitiveYAML = `id: rye/primitive/subprocess
category: rye/primitive
version: 1.0.0
tool_type: primitive
config:
  command: "{interpreter}"
  timeout_seconds: 30
`

const runtimeYAML = `id: rye/runtime/python
category: rye/runtime
version: 1.0.0
tool_type: runtime
executor_id: rye/primitive/subprocess
parameters:
  type: object
  properties:
    path:
      type: string
config:
  command: "{interpreter}"
  timeout_seconds: 60
`

const leafYAML = `id: test/reader
category: test
version: 1.0.0
tool_type: script
executor_id: rye/runtime/python
parameters:
  type: object
  properties:
    path:
      type: string
`

func TestResolveLeafToPrimitive(t *testing.T) {
	env := newChainEnv(t)
	env.writeTool(t, "rye/primitive/subprocess", primitiveYAML)
	env.writeTool(t, "rye/runtime/python", runtimeYAML)
	env.writeTool(t, "test/reader", leafYAML)

	c, err := env.resolver.Resolve("test/reader")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(c.Elements) != 3 {
		t.Fatalf("len = %d, want 3", len(c.Elements))
	}
	if c.Leaf().ID != "test/reader" || c.Primitive().ID != "rye/primitive/subprocess" {
		t.Errorf("chain = %s .. %s", c.Leaf().ID, c.Primitive().ID)
	}
	if c.Primitive().ToolType != item.ToolPrimitive {
		t.Errorf("terminal type = %s", c.Primitive().ToolType)
	}
}

func TestResolveRejectsCycle(t *testing.T) {
	env := newChainEnv(t)
	env.writeTool(t, "loop/a", "id: loop/a\ncategory: loop\nversion: 1.0.0\ntool_type: runtime\nexecutor_id: loop/b\n")
	env.writeTool(t, "loop/b", "id: loop/b\ncategory: loop\nversion: 1.0.0\ntool_type: runtime\nexecutor_id: loop/a\n")

	_, err := env.resolver.Resolve("loop/a")
	var ce *Error
	if !errors.As(err, &ce) || ce.Reason != ReasonCycle {
		t.Fatalf("err = %v, want cycle chain error", err)
	}
}

func TestCacheInvalidatesOnContentChange(t *testing.T) {
	env := newChainEnv(t)
	env.writeTool(t, "rye/primitive/subprocess", primitiveYAML)
	runtimePath := env.writeTool(t, "rye/runtime/python", runtimeYAML)
	env.writeTool(t, "test/reader", leafYAML)

	if _, err := env.resolver.Resolve("test/reader"); err != nil {
		t.Fatalf("first resolve: %v", err)
	}

	// Mutate one byte of the runtime without re-signing. The cached chain
	// must not be served, and re-resolution must fail verification.
	data, err := os.ReadFile(runtimePath)
	if err != nil {
		t.Fatal(err)
	}
	tampered := strings.Replace(string(data), "timeout_seconds: 60", "timeout_seconds: 61", 1)
	if err := os.WriteFile(runtimePath, []byte(tampered), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err = env.resolver.Resolve("test/reader")
	var ie *integrity.Error
	if !errors.As(err, &ie) {
		t.Fatalf("err = %v, want integrity error after tamper", err)
	}
}

func tool(id string, kind item.ToolType, executorID string, sp space.Kind, params string) *item.Tool {
	t := &item.Tool{
		Meta:       item.Meta{ID: id, Version: "1.0.0"},
		ToolType:   kind,
		ExecutorID: executorID,
		Space:      space.Space{Kind: sp},
	}
	if params != "" {
		t.Parameters = json.RawMessage(params)
	}
	return t
}

func TestValidateTerminalMustBePrimitive(t *testing.T) {
	c := &Chain{Elements: []*item.Tool{
		tool("a/leaf", item.ToolScript, "a/run", space.Project, ""),
		tool("a/run", item.ToolRuntime, "a/other", space.Project, ""),
	}}
	err := Validate(c)
	var ce *Error
	if !errors.As(err, &ce) || ce.Reason != ReasonTerminalNotPrimitive {
		t.Fatalf("err = %v, want terminal-not-primitive", err)
	}
}

func TestValidatePrecedenceRule(t *testing.T) {
	// A user-space tool depending on a project-space runtime escalates
	// precedence and must be rejected.
	c := &Chain{Elements: []*item.Tool{
		tool("u/leaf", item.ToolScript, "p/run", space.User, ""),
		tool("p/run", item.ToolPrimitive, "", space.Project, ""),
	}}
	err := Validate(c)
	var ce *Error
	if !errors.As(err, &ce) || ce.Reason != ReasonPrecedence {
		t.Fatalf("err = %v, want precedence violation", err)
	}

	// The reverse direction is the supported layering.
	ok := &Chain{Elements: []*item.Tool{
		tool("p/leaf", item.ToolScript, "u/run", space.Project, ""),
		tool("u/run", item.ToolPrimitive, "", space.User, ""),
	}}
	if err := Validate(ok); err != nil {
		t.Errorf("project-over-user chain rejected: %v", err)
	}
}

func TestValidateSchemaSuperset(t *testing.T) {
	parentParams := `{"type":"object","properties":{"path":{"type":"string"},"count":{"type":"integer"}}}`

	accepts := `{"type":"object","properties":{"path":{"type":"string"},"count":{"type":"number"},"extra":{"type":"boolean"}}}`
	ok := &Chain{Elements: []*item.Tool{
		tool("s/leaf", item.ToolScript, "s/prim", space.Project, parentParams),
		tool("s/prim", item.ToolPrimitive, "", space.Project, accepts),
	}}
	if err := Validate(ok); err != nil {
		t.Errorf("compatible superset rejected: %v", err)
	}

	missing := `{"type":"object","properties":{"path":{"type":"string"}}}`
	bad := &Chain{Elements: []*item.Tool{
		tool("s/leaf", item.ToolScript, "s/prim", space.Project, parentParams),
		tool("s/prim", item.ToolPrimitive, "", space.Project, missing),
	}}
	err := Validate(bad)
	var ce *Error
	if !errors.As(err, &ce) || ce.Reason != ReasonSchema {
		t.Fatalf("err = %v, want schema incompatibility", err)
	}

	wrongType := `{"type":"object","properties":{"path":{"type":"integer"},"count":{"type":"integer"}}}`
	bad = &Chain{Elements: []*item.Tool{
		tool("s/leaf", item.ToolScript, "s/prim", space.Project, parentParams),
		tool("s/prim", item.ToolPrimitive, "", space.Project, wrongType),
	}}
	err = Validate(bad)
	if !errors.As(err, &ce) || ce.Reason != ReasonSchema {
		t.Fatalf("err = %v, want schema incompatibility on type", err)
	}
}

func TestValidateVersionMajor(t *testing.T) {
	parent := tool("v/leaf", item.ToolScript, "v/prim", space.Project, "")
	parent.RuntimeVersion = "3.11"
	child := tool("v/prim", item.ToolPrimitive, "", space.Project, "")
	child.RuntimeVersion = "3.12"
	if err := Validate(&Chain{Elements: []*item.Tool{parent, child}}); err != nil {
		t.Errorf("same-major versions rejected: %v", err)
	}

	child.RuntimeVersion = "4.0"
	err := Validate(&Chain{Elements: []*item.Tool{parent, child}})
	var ce *Error
	if !errors.As(err, &ce) || ce.Reason != ReasonVersion {
		t.Fatalf("err = %v, want version mismatch", err)
	}
}
