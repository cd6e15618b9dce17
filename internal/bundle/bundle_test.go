package bundle

import (
	"crypto/ed25519"
	"os"
	"path/filepath"
	"testing"

	"github.com/ryelabs/rye/internal/integrity"
	"github.com/ryelabs/rye/internal/space"
)

type bundleEnv struct {
	sp       space.Space
	signer   *integrity.Signer
	verifier *integrity.Verifier
}

func newBundleEnv(t *testing.T) *bundleEnv {
	t.Helper()
	sp := space.Space{Kind: space.System, Root: t.TempDir(), BundleID: "core"}

	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatal(err)
	}
	ks := integrity.NewKeyStore([]space.Space{sp})
	if _, err := ks.Trust(sp, "bundler", pub); err != nil {
		t.Fatal(err)
	}
	return &bundleEnv{
		sp:       sp,
		signer:   integrity.NewSigner(priv),
		verifier: integrity.NewVerifier(ks, nil),
	}
}

func (e *bundleEnv) writeFile(t *testing.T, rel, content string, sign bool) string {
	t.Helper()
	path := filepath.Join(e.sp.AIPath(), filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	if sign {
		if err := e.signer.SignFile(path); err != nil {
			t.Fatal(err)
		}
	}
	return path
}

func (e *bundleEnv) populate(t *testing.T) {
	t.Helper()
	e.writeFile(t, "knowledge/rye/core/identity.md", "# Identity\n\nYou are rye.\n", true)
	e.writeFile(t, "tools/rye/primitive/subprocess.yaml",
		"id: rye/primitive/subprocess\ncategory: rye/primitive\nversion: 1.0.0\ntool_type: primitive\nconfig:\n  command: /bin/echo\n", true)
	e.writeFile(t, "config/runtime/defaults.yaml", "provider: anthropic\n", false)
}

func TestCreateBuildsSignedManifest(t *testing.T) {
	env := newBundleEnv(t)
	env.populate(t)

	m, err := Create(env.sp, "core", []string{"rye/"}, env.signer)
	if err != nil {
		t.Fatal(err)
	}
	if len(m.Files) != 3 {
		t.Fatalf("manifest lists %d files, want 3", len(m.Files))
	}

	know := m.Files["knowledge/rye/core/identity.md"]
	if !know.InlineSigned || know.ItemType != "knowledge" {
		t.Errorf("knowledge entry = %+v", know)
	}
	cfg := m.Files["config/runtime/defaults.yaml"]
	if cfg.InlineSigned || cfg.ItemType != "" {
		t.Errorf("config entry = %+v", cfg)
	}

	// The written manifest itself carries a verifiable signature.
	if _, err := env.verifier.VerifyFile(filepath.Join(env.sp.AIPath(), ManifestName)); err != nil {
		t.Errorf("manifest signature: %v", err)
	}
}

func TestVerifyPassesOnIntactBundle(t *testing.T) {
	env := newBundleEnv(t)
	env.populate(t)
	if _, err := Create(env.sp, "core", nil, env.signer); err != nil {
		t.Fatal(err)
	}

	report, err := Verify(env.sp, env.verifier)
	if err != nil {
		t.Fatal(err)
	}
	if !report.Pass() {
		t.Fatalf("failures: %v", report.Failures)
	}
	if report.Checked != 3 || report.BundleID != "core" {
		t.Errorf("report = %+v", report)
	}
}

func TestVerifyReportsHashMismatch(t *testing.T) {
	env := newBundleEnv(t)
	env.populate(t)
	if _, err := Create(env.sp, "core", nil, env.signer); err != nil {
		t.Fatal(err)
	}

	// Mutate an unsigned file after manifest creation.
	env.writeFile(t, "config/runtime/defaults.yaml", "provider: openai\n", false)

	report, err := Verify(env.sp, env.verifier)
	if err != nil {
		t.Fatal(err)
	}
	if report.Pass() {
		t.Fatal("mutated bundle passed")
	}
	if len(report.Failures) != 1 || report.Failures[0].Kind != FailHashMismatch {
		t.Errorf("failures = %v", report.Failures)
	}
}

func TestVerifyReportsMissingAndExtra(t *testing.T) {
	env := newBundleEnv(t)
	env.populate(t)
	if _, err := Create(env.sp, "core", nil, env.signer); err != nil {
		t.Fatal(err)
	}

	if err := os.Remove(filepath.Join(env.sp.AIPath(), "config/runtime/defaults.yaml")); err != nil {
		t.Fatal(err)
	}
	env.writeFile(t, "knowledge/rye/core/sneaky.md", "injected\n", false)

	report, err := Verify(env.sp, env.verifier)
	if err != nil {
		t.Fatal(err)
	}
	kinds := map[FailureKind]int{}
	for _, f := range report.Failures {
		kinds[f.Kind]++
	}
	if kinds[FailMissing] != 1 || kinds[FailExtra] != 1 {
		t.Errorf("failures = %v", report.Failures)
	}
}

func TestVerifyReportsBrokenInlineSignature(t *testing.T) {
	env := newBundleEnv(t)
	env.populate(t)

	// Tamper with a signed item, then rebuild the manifest so its hash
	// matches; only the inline signature check can catch this.
	path := filepath.Join(env.sp.AIPath(), "knowledge/rye/core/identity.md")
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, append([]byte("tampered\n"), content...), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Create(env.sp, "core", nil, env.signer); err != nil {
		t.Fatal(err)
	}

	report, err := Verify(env.sp, env.verifier)
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, f := range report.Failures {
		if f.Kind == FailSignature {
			found = true
		}
	}
	if !found {
		t.Errorf("tampered signed item not reported: %v", report.Failures)
	}
}

func TestVerifyRejectsUnsignedManifest(t *testing.T) {
	env := newBundleEnv(t)
	env.populate(t)
	if _, err := Create(env.sp, "core", nil, env.signer); err != nil {
		t.Fatal(err)
	}

	// Strip the manifest's signature line by rewriting only the YAML body.
	path := filepath.Join(env.sp.AIPath(), ManifestName)
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	_, stripped, err := integrity.ExtractLatest(content)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, stripped, 0o644); err != nil {
		t.Fatal(err)
	}

	report, err := Verify(env.sp, env.verifier)
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, f := range report.Failures {
		if f.Kind == FailManifest {
			found = true
		}
	}
	if !found {
		t.Error("unsigned manifest accepted")
	}
}

func TestLoadReadsVisibility(t *testing.T) {
	env := newBundleEnv(t)
	env.populate(t)
	if _, err := Create(env.sp, "core", []string{"rye/core", "rye/primitive"}, env.signer); err != nil {
		t.Fatal(err)
	}

	m, err := Load(filepath.Join(env.sp.AIPath(), ManifestName))
	if err != nil {
		t.Fatal(err)
	}
	if m.BundleID != "core" || len(m.Visibility) != 2 {
		t.Errorf("loaded manifest = %+v", m)
	}
}
