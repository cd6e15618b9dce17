// Package bundle builds and verifies signed bundle manifests: a YAML
// inventory of every file under a space's .ai tree with per-file sha256
// hashes, itself signed with the inline comment form.
package bundle

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ryelabs/rye/internal/integrity"
	"github.com/ryelabs/rye/internal/space"
)

// ManifestName is the manifest's filename under the .ai directory.
const ManifestName = "manifest.yaml"

// Entry describes one bundled file, keyed by its path relative to .ai.
type Entry struct {
	SHA256       string `yaml:"sha256"`
	InlineSigned bool   `yaml:"inline_signed"`
	ItemType     string `yaml:"item_type,omitempty"`
}

// Manifest is the signed inventory of a bundle.
type Manifest struct {
	BundleID   string           `yaml:"bundle_id"`
	CreatedAt  time.Time        `yaml:"created_at"`
	Visibility []string         `yaml:"visibility,omitempty"`
	Files      map[string]Entry `yaml:"files"`
}

// itemTypeForPath maps a relative path's top directory to an item type,
// or "" for non-item files (config, trusted keys, lockfiles).
func itemTypeForPath(rel string) string {
	top, _, _ := strings.Cut(filepath.ToSlash(rel), "/")
	for _, t := range []space.ItemType{space.TypeDirective, space.TypeTool, space.TypeKnowledge} {
		if top == t.Dir() {
			return string(t)
		}
	}
	return ""
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// hasInlineSignature reports whether the file carries a rye:signed line.
// Legacy validated markers count as unsigned here; verification will
// reject them separately.
func hasInlineSignature(path string) bool {
	content, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	sl, _, err := integrity.ExtractLatest(content)
	return err == nil && sl != nil
}

// Create walks sp's .ai tree, builds the manifest, writes it to
// .ai/manifest.yaml, and signs it. Any existing manifest is replaced and
// excluded from its own inventory.
func Create(sp space.Space, bundleID string, visibility []string, signer *integrity.Signer) (*Manifest, error) {
	root := sp.AIPath()
	m := &Manifest{
		BundleID:   bundleID,
		CreatedAt:  time.Now().UTC(),
		Visibility: visibility,
		Files:      map[string]Entry{},
	}

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		// Trust material changes as keys are pinned; it is not bundle
		// content.
		if rel == ManifestName || strings.HasPrefix(rel, "trusted_keys/") {
			return nil
		}
		sum, err := fileSHA256(path)
		if err != nil {
			return err
		}
		m.Files[rel] = Entry{
			SHA256:       sum,
			InlineSigned: hasInlineSignature(path),
			ItemType:     itemTypeForPath(rel),
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("bundle %s: %w", bundleID, err)
	}
	if len(m.Files) == 0 {
		return nil, fmt.Errorf("bundle %s: no files under %s", bundleID, root)
	}

	out, err := yaml.Marshal(m)
	if err != nil {
		return nil, err
	}
	manifestPath := filepath.Join(root, ManifestName)
	if err := os.WriteFile(manifestPath, out, 0o644); err != nil {
		return nil, err
	}
	if err := signer.SignFile(manifestPath); err != nil {
		return nil, err
	}
	return m, nil
}

// Load reads and parses a manifest without verifying its signature. Used
// by space construction to pick up bundle visibility; Verify is the
// integrity path.
func Load(manifestPath string) (*Manifest, error) {
	content, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, err
	}
	_, stripped, err := integrity.ExtractLatest(content)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := yaml.Unmarshal(stripped, &m); err != nil {
		return nil, fmt.Errorf("manifest %s: %w", manifestPath, err)
	}
	return &m, nil
}
