// Package space defines the three-tier item spaces (project, user, system)
// and the on-disk .ai layout shared by every component.
package space

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// AIDir is the directory name appended to every space root. Always literal.
const AIDir = ".ai"

// Kind identifies one of the three space tiers.
type Kind string

const (
	Project Kind = "project"
	User    Kind = "user"
	System  Kind = "system"
)

// Precedence returns the override precedence for chain validation.
// Project overrides user overrides system; a chain element may only
// depend on elements of equal or lower precedence.
func (k Kind) Precedence() int {
	switch k {
	case Project:
		return 3
	case User:
		return 2
	case System:
		return 1
	}
	return 0
}

// Space is one resolvable tier. System spaces carry a bundle id and may
// restrict visibility to a set of category prefixes.
type Space struct {
	Kind     Kind
	Root     string // directory containing .ai
	BundleID string // set for system bundles

	// Visibility lists category prefixes this bundle exposes.
	// Empty means everything is visible.
	Visibility []string
}

// String renders "project", "user", or "system:bundle-id".
func (s Space) String() string {
	if s.Kind == System && s.BundleID != "" {
		return fmt.Sprintf("system:%s", s.BundleID)
	}
	return string(s.Kind)
}

// AIPath returns the space's .ai directory.
func (s Space) AIPath() string {
	return filepath.Join(s.Root, AIDir)
}

// ItemType is one of the three signed item kinds.
type ItemType string

const (
	TypeDirective ItemType = "directive"
	TypeTool      ItemType = "tool"
	TypeKnowledge ItemType = "knowledge"
)

// Dir maps an item type to its directory under .ai.
func (t ItemType) Dir() string {
	switch t {
	case TypeDirective:
		return "directives"
	case TypeTool:
		return "tools"
	case TypeKnowledge:
		return "knowledge"
	}
	return ""
}

// Extensions returns the valid file extensions for an item type,
// in resolution order.
func (t ItemType) Extensions() []string {
	switch t {
	case TypeDirective:
		return []string{".md"}
	case TypeTool:
		return []string{".py", ".yaml", ".yml", ".sh", ".js", ".ts", ".rb"}
	case TypeKnowledge:
		return []string{".md", ".yaml", ".yml"}
	}
	return nil
}

// Covers reports whether the space exposes items under the given id.
func (s Space) Covers(id string) bool {
	if len(s.Visibility) == 0 {
		return true
	}
	for _, prefix := range s.Visibility {
		if strings.HasPrefix(id, prefix) {
			return true
		}
	}
	return false
}

// ItemPath returns the candidate path for an item id with an extension.
func (s Space) ItemPath(t ItemType, id, ext string) string {
	return filepath.Join(s.AIPath(), t.Dir(), filepath.FromSlash(id)+ext)
}

// ListItems walks the space's directory for an item type and returns the
// visible item ids, slash-separated, without extensions. A missing
// directory yields nil.
func (s Space) ListItems(t ItemType) []string {
	root := filepath.Join(s.AIPath(), t.Dir())
	exts := t.Extensions()
	var ids []string
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		ext := filepath.Ext(path)
		for _, e := range exts {
			if e == ext {
				rel, rerr := filepath.Rel(root, path)
				if rerr != nil {
					return nil
				}
				id := filepath.ToSlash(strings.TrimSuffix(rel, ext))
				if s.Covers(id) {
					ids = append(ids, id)
				}
				break
			}
		}
		return nil
	})
	return ids
}

// TrustedKeysPath returns the space's trusted key directory.
func (s Space) TrustedKeysPath() string {
	return filepath.Join(s.AIPath(), "trusted_keys")
}

// ProjectSpace builds the project space rooted at dir (or the working
// directory when dir is empty).
func ProjectSpace(dir string) Space {
	if dir == "" {
		dir, _ = os.Getwd()
	}
	return Space{Kind: Project, Root: dir}
}

// UserSpace builds the user space from $USER_SPACE, falling back to $HOME.
func UserSpace() Space {
	root := os.Getenv("USER_SPACE")
	if root == "" {
		root, _ = os.UserHomeDir()
	}
	return Space{Kind: User, Root: root}
}
