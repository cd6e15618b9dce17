// handlers.go contains the command implementations: environment wiring
// and the logic behind each cobra command.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ryelabs/rye/internal/budget"
	"github.com/ryelabs/rye/internal/bundle"
	"github.com/ryelabs/rye/internal/chain"
	"github.com/ryelabs/rye/internal/config"
	"github.com/ryelabs/rye/internal/executor"
	"github.com/ryelabs/rye/internal/integrity"
	"github.com/ryelabs/rye/internal/item"
	"github.com/ryelabs/rye/internal/orchestrator"
	"github.com/ryelabs/rye/internal/provider"
	"github.com/ryelabs/rye/internal/resolver"
	"github.com/ryelabs/rye/internal/space"
	"github.com/ryelabs/rye/internal/thread"
)

// env is the wired-up runtime for one CLI invocation.
type env struct {
	cfg      *config.Config
	spaces   []space.Space
	keys     *integrity.KeyStore
	verifier *integrity.Verifier
	signer   *integrity.Signer // nil when no signing key exists
	loader   *item.Loader
	runtime  *thread.Runtime
	orch     *orchestrator.Orchestrator
}

// setupTrust wires everything short of the LLM provider. Enough for sign,
// verify, bundle, and thread inspection.
func setupTrust(projectDir string) (*env, error) {
	cfg, err := config.Load(projectDir)
	if err != nil {
		return nil, err
	}
	spaces := cfg.Spaces()
	keys := integrity.NewKeyStore(spaces)

	e := &env{
		cfg:      cfg,
		spaces:   spaces,
		keys:     keys,
		verifier: integrity.NewVerifier(keys, nil),
	}
	if priv, err := loadSigningKey(userSpaceOf(spaces)); err == nil {
		e.signer = integrity.NewSigner(priv)
	}
	e.loader = item.NewLoader(resolver.New(spaces), e.verifier)
	return e, nil
}

// setup additionally wires the provider, thread runtime, and orchestrator.
func setup(projectDir string, debug bool) (*env, error) {
	e, err := setupTrust(projectDir)
	if err != nil {
		return nil, err
	}
	if debug || e.cfg.Debug {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})))
	}

	p, err := provider.New(e.cfg.ProviderConfig())
	if err != nil {
		return nil, err
	}

	systemRoot := ""
	if len(e.cfg.SystemBundles) > 0 {
		systemRoot = e.cfg.SystemBundles[0]
	}
	exec := executor.New(e.verifier, executor.WithSpacePaths(e.cfg.UserSpace, systemRoot))

	opts := []thread.RuntimeOption{}
	if e.signer != nil {
		opts = append(opts, thread.WithSigner(e.signer))
	}
	e.runtime = thread.NewRuntime(p, e.loader, chain.NewResolver(e.loader), exec, e.spaces[0], opts...)
	e.orch = orchestrator.New(e.runtime)
	return e, nil
}

func userSpaceOf(spaces []space.Space) space.Space {
	for _, sp := range spaces {
		if sp.Kind == space.User {
			return sp
		}
	}
	return spaces[0]
}

// requireSigner returns the env's signer or a guided error.
func (e *env) requireSigner() (*integrity.Signer, error) {
	if e.signer == nil {
		return nil, fmt.Errorf("no signing key found; run 'rye keys generate' first")
	}
	return e.signer, nil
}

// =============================================================================
// run
// =============================================================================

type runOptions struct {
	projectDir string
	directive  string
	inputs     []string
	model      string
	maxTurns   int
	spendLimit float64
	debug      bool
}

func runDirective(ctx context.Context, opts runOptions) error {
	e, err := setup(opts.projectDir, opts.debug)
	if err != nil {
		return err
	}

	inputs := map[string]string{}
	for _, kv := range opts.inputs {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return fmt.Errorf("input %q is not key=value", kv)
		}
		inputs[k] = v
	}

	res, err := e.orch.SpawnRoot(ctx, opts.directive, inputs, budget.Limits{
		Turns:    opts.maxTurns,
		SpendUSD: opts.spendLimit,
	}, opts.model)
	if err != nil {
		return err
	}

	fmt.Printf("thread:   %s\n", res.ThreadID)
	fmt.Printf("status:   %s\n", res.Status)
	fmt.Printf("turns:    %d\n", res.Turns)
	fmt.Printf("tokens:   %d\n", res.Tokens)
	fmt.Printf("cost:     $%.4f\n", res.CostUSD)
	fmt.Printf("duration: %s\n", res.Duration.Round(10*time.Millisecond))
	if len(res.Outputs) > 0 {
		fmt.Println("outputs:")
		outKeys := make([]string, 0, len(res.Outputs))
		for k := range res.Outputs {
			outKeys = append(outKeys, k)
		}
		sort.Strings(outKeys)
		for _, k := range outKeys {
			fmt.Printf("  %s: %s\n", k, res.Outputs[k])
		}
	}
	if res.Result != "" {
		fmt.Printf("\n%s\n", res.Result)
	}
	return nil
}

// =============================================================================
// sign / verify
// =============================================================================

func runSign(projectDir string, paths []string) error {
	e, err := setupTrust(projectDir)
	if err != nil {
		return err
	}
	signer, err := e.requireSigner()
	if err != nil {
		return err
	}
	for _, path := range paths {
		if err := signer.SignFile(path); err != nil {
			return fmt.Errorf("sign %s: %w", path, err)
		}
		fmt.Printf("signed %s (%s)\n", path, signer.Fingerprint())
	}
	return nil
}

func runVerify(projectDir string, paths []string) error {
	e, err := setupTrust(projectDir)
	if err != nil {
		return err
	}
	failed := 0
	for _, path := range paths {
		sl, err := e.verifier.VerifyFile(path)
		if err != nil {
			fmt.Printf("FAIL %s: %v\n", path, err)
			failed++
			continue
		}
		fmt.Printf("ok   %s (key %s, signed %s)\n", path, sl.Fingerprint, sl.Timestamp.Format("2006-01-02"))
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files failed verification", failed, len(paths))
	}
	return nil
}

// =============================================================================
// bundle
// =============================================================================

func runBundleCreate(root, bundleID string, visibility []string) error {
	e, err := setupTrust("")
	if err != nil {
		return err
	}
	signer, err := e.requireSigner()
	if err != nil {
		return err
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	if bundleID == "" {
		bundleID = filepath.Base(abs)
	}
	sp := space.Space{Kind: space.System, Root: abs, BundleID: bundleID}

	m, err := bundle.Create(sp, bundleID, visibility, signer)
	if err != nil {
		return err
	}
	fmt.Printf("bundle %s: %d files, manifest signed by %s\n", bundleID, len(m.Files), signer.Fingerprint())
	return nil
}

func runBundleVerify(root string) error {
	e, err := setupTrust("")
	if err != nil {
		return err
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	sp := space.Space{Kind: space.System, Root: abs}

	report, err := bundle.Verify(sp, e.verifier)
	if err != nil {
		return err
	}
	for _, f := range report.Failures {
		fmt.Printf("FAIL %s\n", f)
	}
	if !report.Pass() {
		return fmt.Errorf("bundle %s: %d failures in %d checked files", report.BundleID, len(report.Failures), report.Checked)
	}
	fmt.Printf("bundle %s: %d files verified\n", report.BundleID, report.Checked)
	return nil
}

// =============================================================================
// threads
// =============================================================================

const transcriptPrefix = "agent/threads/"

func runThreadsList(projectDir string) error {
	e, err := setupTrust(projectDir)
	if err != nil {
		return err
	}
	ids := e.spaces[0].ListItems(space.TypeKnowledge)
	sort.Strings(ids)
	count := 0
	for _, id := range ids {
		if !strings.HasPrefix(id, transcriptPrefix) {
			continue
		}
		count++
		threadID := id[strings.LastIndex(id, "/")+1:]
		category := strings.TrimSuffix(strings.TrimPrefix(id, transcriptPrefix), "/"+threadID)
		fmt.Printf("%s  (%s)\n", threadID, category)
	}
	if count == 0 {
		fmt.Println("no persisted threads")
	}
	return nil
}

func runThreadsStatus(projectDir, threadID string) error {
	e, err := setupTrust(projectDir)
	if err != nil {
		return err
	}
	s, err := thread.LoadSummary(e.loader, e.spaces[0], threadID)
	if err != nil {
		return err
	}
	fmt.Printf("thread:    %s\n", threadID)
	fmt.Printf("directive: %s\n", s.DirectiveID)
	fmt.Printf("status:    %s\n", s.Status)
	fmt.Printf("model:     %s\n", s.Model)
	fmt.Printf("turns:     %d\n", s.Turns)
	if s.Result != "" {
		fmt.Printf("\n%s\n", s.Result)
	}
	return nil
}

func runThreadsCancel(projectDir, threadID string) error {
	e, err := setup(projectDir, false)
	if err != nil {
		return err
	}
	if err := e.orch.Cancel(threadID); err != nil {
		if thread.FindTranscript(e.spaces[0], threadID) != "" {
			return fmt.Errorf("thread %s already reached a terminal status; nothing to cancel", threadID)
		}
		return err
	}
	fmt.Printf("cancelled %s\n", threadID)
	return nil
}

func runThreadsResume(ctx context.Context, projectDir, threadID, message string) error {
	e, err := setup(projectDir, false)
	if err != nil {
		return err
	}
	res, err := e.orch.Resume(ctx, threadID, message)
	if err != nil {
		return err
	}
	fmt.Printf("status: %s\n", res.Status)
	if res.Result != "" {
		fmt.Printf("\n%s\n", res.Result)
	}
	return nil
}
