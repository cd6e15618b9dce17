package executor

import (
	"io/fs"
	"path/filepath"

	"github.com/ryelabs/rye/internal/integrity"
	"github.com/ryelabs/rye/internal/item"
)

// verifyDeps signature-verifies the configured scope before execution.
// Any failure halts the dispatch; nothing runs over unverified files.
func verifyDeps(verifier *integrity.Verifier, cfg *item.VerifyDepsConfig, leaf *item.Tool, anchorPath string) error {
	if cfg == nil || !cfg.Enabled {
		return nil
	}

	toolDir := filepath.Dir(leaf.Path)
	switch cfg.Scope {
	case "tool_file":
		_, err := verifier.VerifyFile(leaf.Path)
		return err
	case "tool_siblings":
		return verifyDir(verifier, cfg, toolDir, false)
	case "", "tool_dir":
		return verifyDir(verifier, cfg, toolDir, true)
	case "anchor":
		if anchorPath == "" {
			return &Error{Stage: StageVerify, Message: "verify_deps scope is anchor but no anchor resolved"}
		}
		return verifyDir(verifier, cfg, anchorPath, true)
	default:
		return &Error{Stage: StageVerify, Message: "unknown verify_deps scope " + cfg.Scope}
	}
}

func verifyDir(verifier *integrity.Verifier, cfg *item.VerifyDepsConfig, root string, recursive bool) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path == root {
				return nil
			}
			if !recursive || excluded(cfg.ExcludeDirs, d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if !matchesExt(cfg.Extensions, path) {
			return nil
		}
		_, verr := verifier.VerifyFile(path)
		return verr
	})
}

func excluded(dirs []string, name string) bool {
	for _, d := range dirs {
		if d == name {
			return true
		}
	}
	return false
}

func matchesExt(exts []string, path string) bool {
	if len(exts) == 0 {
		return true
	}
	got := filepath.Ext(path)
	for _, e := range exts {
		if e == got {
			return true
		}
	}
	return false
}
