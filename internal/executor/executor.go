// Package executor invokes a validated chain's terminal primitive: it
// validates parameters, composes context variables and environment,
// verifies dependencies, runs the subprocess or HTTP call, and normalizes
// the result envelope. Failures come back as error envelopes, never
// panics; the thread runtime hands them to the model as tool results.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/ryelabs/rye/internal/chain"
	"github.com/ryelabs/rye/internal/integrity"
	"github.com/ryelabs/rye/internal/item"
	"github.com/ryelabs/rye/pkg/models"
)

const defaultTimeout = 60 * time.Second

// Executor runs resolved chains.
type Executor struct {
	verifier   *integrity.Verifier
	logger     *slog.Logger
	httpClient *http.Client

	userSpace   string
	systemSpace string

	// interpreters maps logical interpreter names (python, node) to
	// binaries, overridable via RYE_PYTHON and RYE_NODE.
	interpreters map[string]string
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) { e.logger = logger }
}

// WithHTTPClient replaces the client used for HTTP primitives.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Executor) { e.httpClient = c }
}

// WithSpacePaths sets the user_space and system_space context variables.
func WithSpacePaths(userSpace, systemSpace string) Option {
	return func(e *Executor) {
		e.userSpace = userSpace
		e.systemSpace = systemSpace
	}
}

// WithInterpreter overrides one interpreter binary.
func WithInterpreter(name, path string) Option {
	return func(e *Executor) { e.interpreters[name] = path }
}

// New creates an executor. The verifier is required for verify_deps.
func New(verifier *integrity.Verifier, opts ...Option) *Executor {
	e := &Executor{
		verifier:   verifier,
		logger:     slog.Default().With("component", "executor"),
		httpClient: &http.Client{Timeout: defaultTimeout},
		interpreters: map[string]string{
			"python": envOr("RYE_PYTHON", "python3"),
			"node":   envOr("RYE_NODE", "node"),
		},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// Execute runs the chain's primitive with the given parameters. The result
// is always a normalized envelope; failures are error envelopes.
func (e *Executor) Execute(ctx context.Context, ch *chain.Chain, params json.RawMessage, projectPath string) *models.Envelope {
	leaf := ch.Leaf()

	if err := validateParams(leaf, params); err != nil {
		return models.ErrorEnvelope(leaf.ID, err.Error())
	}

	envCfg, envOwner := effectiveEnvConfig(ch)

	vars, err := e.buildVars(leaf, envOwner, envCfg, params, projectPath)
	if err != nil {
		return models.ErrorEnvelope(leaf.ID, err.Error())
	}

	env := e.composeEnv(envCfg, vars)

	if envCfg != nil {
		if err := verifyDeps(e.verifier, envCfg.VerifyDeps, leaf, vars["anchor_path"]); err != nil {
			return models.ErrorEnvelope(leaf.ID, err.Error())
		}
	}

	execCfg := effectiveExecConfig(ch)
	if execCfg == nil {
		return models.ErrorEnvelope(leaf.ID, "chain has no execution config")
	}
	if execCfg.URL != "" {
		return e.runHTTP(ctx, leaf, execCfg, params, vars, env)
	}
	return e.runSubprocess(ctx, leaf, execCfg, vars, env)
}

// effectiveEnvConfig picks the env recipe of the element nearest the leaf
// that declares one, normally the runtime.
func effectiveEnvConfig(ch *chain.Chain) (*item.EnvConfig, *item.Tool) {
	for _, el := range ch.Elements {
		if el.Env != nil {
			return el.Env, el
		}
	}
	return nil, nil
}

// effectiveExecConfig merges invocation recipes from the primitive outward:
// the primitive supplies defaults, leafward elements override the fields
// they set.
func effectiveExecConfig(ch *chain.Chain) *item.ExecConfig {
	var merged *item.ExecConfig
	for i := len(ch.Elements) - 1; i >= 0; i-- {
		cfg := ch.Elements[i].Exec
		if cfg == nil {
			continue
		}
		if merged == nil {
			c := *cfg
			merged = &c
			continue
		}
		if cfg.Command != "" {
			merged.Command = cfg.Command
		}
		if len(cfg.Args) > 0 {
			merged.Args = cfg.Args
		}
		if cfg.TimeoutSeconds > 0 {
			merged.TimeoutSeconds = cfg.TimeoutSeconds
		}
		if cfg.CWD != "" {
			merged.CWD = cfg.CWD
		}
		if cfg.URL != "" {
			merged.URL = cfg.URL
		}
	}
	return merged
}

func (e *Executor) buildVars(leaf, envOwner *item.Tool, envCfg *item.EnvConfig, params json.RawMessage, projectPath string) (Vars, error) {
	toolDir := filepath.Dir(leaf.Path)
	vars := Vars{
		"tool_path":    leaf.Path,
		"tool_dir":     toolDir,
		"tool_parent":  filepath.Dir(toolDir),
		"project_path": projectPath,
		"params_json":  string(params),
		"user_space":   e.userSpace,
		"system_space": e.systemSpace,
	}
	if envOwner != nil {
		vars["runtime_lib"] = filepath.Dir(envOwner.Path)
	}
	if envCfg != nil && envCfg.Interpreter != "" {
		vars["interpreter"] = e.resolveInterpreter(envCfg.Interpreter)
	}

	if envCfg != nil && envCfg.Anchor != nil {
		root := expand(envCfg.Anchor.Root, vars, nil)
		if root == "" {
			root = toolDir
		}
		anchor, err := findAnchor(root, envCfg.Anchor.MarkersAny, envCfg.Anchor.Mode)
		if err != nil {
			return nil, err
		}
		vars["anchor_path"] = anchor
	}
	return vars, nil
}

// resolveInterpreter maps a logical name through overrides; explicit paths
// pass through untouched.
func (e *Executor) resolveInterpreter(name string) string {
	if strings.ContainsAny(name, "/\\") {
		return name
	}
	if bin, ok := e.interpreters[name]; ok {
		return bin
	}
	return name
}

// composeEnv layers base OS env, the runtime's static env with template
// expansion, then env_paths anchor prepends.
func (e *Executor) composeEnv(envCfg *item.EnvConfig, vars Vars) map[string]string {
	env := map[string]string{}
	for _, kv := range os.Environ() {
		k, v, _ := strings.Cut(kv, "=")
		env[k] = v
	}
	if envCfg == nil {
		return env
	}
	for k, v := range envCfg.Static {
		env[k] = expand(v, vars, env)
	}
	if anchor := vars["anchor_path"]; anchor != "" {
		for _, name := range envCfg.EnvPaths {
			if existing := env[name]; existing != "" {
				env[name] = anchor + string(os.PathListSeparator) + existing
			} else {
				env[name] = anchor
			}
		}
	}
	return env
}

func (e *Executor) runSubprocess(ctx context.Context, leaf *item.Tool, cfg *item.ExecConfig, vars Vars, env map[string]string) *models.Envelope {
	command := expand(cfg.Command, vars, env)
	if command == "" {
		return models.ErrorEnvelope(leaf.ID, "empty command after substitution")
	}
	args := make([]string, len(cfg.Args))
	for i, a := range cfg.Args {
		args[i] = expand(a, vars, env)
	}

	timeout := defaultTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cwd := vars["tool_dir"]
	if cfg.CWD != "" {
		cwd = expand(cfg.CWD, vars, env)
	}

	cmd := exec.CommandContext(runCtx, command, args...)
	cmd.Dir = cwd
	cmd.Env = flattenEnv(env)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	e.logger.Debug("invoking primitive", "tool", leaf.ID, "command", command, "timeout", timeout)
	err := cmd.Run()

	if runCtx.Err() == context.DeadlineExceeded {
		envelope := models.ErrorEnvelope(leaf.ID, (&Error{Stage: StageTimeout, Message: "killed after " + timeout.String()}).Error())
		envelope.Data["stderr"] = stderr.String()
		return envelope
	}
	if err != nil {
		var exitErr *exec.ExitError
		msg := err.Error()
		envelope := models.ErrorEnvelope(leaf.ID, msg)
		if errors.As(err, &exitErr) {
			envelope.Data["exit_code"] = exitErr.ExitCode()
			if s := strings.TrimSpace(stderr.String()); s != "" {
				envelope.Data["error"] = s
			}
		}
		envelope.Data["stdout"] = stdout.String()
		return envelope
	}

	return normalizeOutput(leaf, stdout.String(), stderr.String())
}

func flattenEnv(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}

func (e *Executor) runHTTP(ctx context.Context, leaf *item.Tool, cfg *item.ExecConfig, params json.RawMessage, vars Vars, env map[string]string) *models.Envelope {
	url := expand(cfg.URL, vars, env)
	body := params
	if len(body) == 0 {
		body = json.RawMessage(`{}`)
	}

	timeout := defaultTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return models.ErrorEnvelope(leaf.ID, (&Error{Stage: StageTransport, Message: err.Error()}).Error())
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return models.ErrorEnvelope(leaf.ID, (&Error{Stage: StageTransport, Message: err.Error()}).Error())
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return models.ErrorEnvelope(leaf.ID, (&Error{Stage: StageTransport, Message: err.Error()}).Error())
	}
	if resp.StatusCode >= 400 {
		envelope := models.ErrorEnvelope(leaf.ID, "http status "+resp.Status)
		envelope.Data["body"] = buf.String()
		return envelope
	}
	return normalizeOutput(leaf, buf.String(), "")
}

// normalizeOutput builds the success-path envelope. JSON-contract tools get
// their stdout parsed; nested envelopes are unwrapped so callers can
// reference inner fields directly, and an inner failure marks the whole
// result as an error.
func normalizeOutput(leaf *item.Tool, stdout, stderr string) *models.Envelope {
	envelope := &models.Envelope{
		Status: models.EnvelopeSuccess,
		Type:   "tool",
		ItemID: leaf.ID,
	}

	if !leaf.OutputJSON {
		envelope.Data = map[string]any{"stdout": stdout}
		if stderr != "" {
			envelope.Data["stderr"] = stderr
		}
		return envelope
	}

	var parsed any
	if err := json.Unmarshal([]byte(stdout), &parsed); err != nil {
		envelope.Status = models.EnvelopeError
		envelope.Data = map[string]any{
			"error":  "tool declared JSON output but stdout is not JSON: " + err.Error(),
			"stdout": stdout,
		}
		return envelope
	}

	obj, ok := parsed.(map[string]any)
	if !ok {
		envelope.Data = map[string]any{"result": parsed}
		return envelope
	}

	// Nested envelope from a delegating runtime: hoist the inner data so
	// downstream references see one flat result.
	if inner, nested := obj["data"].(map[string]any); nested && obj["status"] != nil {
		if status, _ := obj["status"].(string); status == string(models.EnvelopeError) {
			envelope.Status = models.EnvelopeError
		}
		obj = inner
	}

	if success, declared := obj["success"].(bool); declared && !success {
		envelope.Status = models.EnvelopeError
	}
	envelope.Data = obj
	return envelope
}
