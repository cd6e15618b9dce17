package bundle

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ryelabs/rye/internal/integrity"
	"github.com/ryelabs/rye/internal/space"
)

// FailureKind classifies one verification failure.
type FailureKind string

const (
	FailManifest     FailureKind = "manifest"
	FailMissing      FailureKind = "missing"
	FailExtra        FailureKind = "extra"
	FailHashMismatch FailureKind = "hash_mismatch"
	FailSignature    FailureKind = "signature"
)

// Failure is one problem found during verification.
type Failure struct {
	Kind    FailureKind
	Path    string
	Message string
}

func (f Failure) String() string {
	if f.Path == "" {
		return fmt.Sprintf("%s: %s", f.Kind, f.Message)
	}
	return fmt.Sprintf("%s: %s: %s", f.Kind, f.Path, f.Message)
}

// Report is the outcome of verifying a bundle against its manifest.
type Report struct {
	BundleID string
	Checked  int
	Failures []Failure
}

// Pass requires zero failures of any kind.
func (r *Report) Pass() bool { return len(r.Failures) == 0 }

func (r *Report) fail(kind FailureKind, path, format string, args ...any) {
	r.Failures = append(r.Failures, Failure{Kind: kind, Path: path, Message: fmt.Sprintf(format, args...)})
}

// Verify checks sp's tree against its signed manifest: the manifest
// signature itself, every listed file's hash, inline signatures where the
// manifest claims them, and the presence of files the manifest does not
// know about.
func Verify(sp space.Space, verifier *integrity.Verifier) (*Report, error) {
	root := sp.AIPath()
	manifestPath := filepath.Join(root, ManifestName)
	report := &Report{}

	content, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("bundle manifest: %w", err)
	}
	sl, err := verifier.Verify(content)
	if err != nil {
		report.fail(FailManifest, ManifestName, "manifest signature: %v", err)
	}
	stripped := content
	if sl != nil {
		_, stripped, _ = integrity.ExtractLatest(content)
	}
	var m Manifest
	if err := yaml.Unmarshal(stripped, &m); err != nil {
		report.fail(FailManifest, ManifestName, "manifest parse: %v", err)
		return report, nil
	}
	report.BundleID = m.BundleID

	for rel, entry := range m.Files {
		report.Checked++
		path := filepath.Join(root, filepath.FromSlash(rel))
		sum, err := fileSHA256(path)
		if err != nil {
			report.fail(FailMissing, rel, "%v", err)
			continue
		}
		if sum != entry.SHA256 {
			report.fail(FailHashMismatch, rel, "sha256 %s does not match manifest %s", sum[:12], entry.SHA256[:12])
			continue
		}
		if entry.InlineSigned {
			if _, err := verifier.VerifyFile(path); err != nil {
				report.fail(FailSignature, rel, "%v", err)
			}
		}
	}

	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, rerr := filepath.Rel(root, path)
		if rerr != nil {
			return rerr
		}
		rel = filepath.ToSlash(rel)
		if rel == ManifestName || strings.HasPrefix(rel, "trusted_keys/") {
			return nil
		}
		if _, ok := m.Files[rel]; !ok {
			report.fail(FailExtra, rel, "present on disk but absent from manifest")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}
