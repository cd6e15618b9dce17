// Package capability implements the declarative permission harness:
// capability strings parsed from directive metadata, fail-closed checks on
// every tool dispatch, and attenuation across spawn boundaries.
package capability

import (
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"
)

// Primary is a capability's action class.
type Primary string

const (
	PrimaryExecute Primary = "execute"
	PrimarySearch  Primary = "search"
	PrimaryLoad    Primary = "load"
	PrimarySign    Primary = "sign"
)

// prefix is the namespace every canonical capability starts with.
const prefix = "rye."

// internalIDPrefix marks the thread-system dispatch hooks the runtime
// itself calls; these are always permitted.
const internalIDPrefix = "rye/agent/threads/internal/"

// Required builds the canonical capability string for a dispatch:
// rye.<primary>.<item_type>.<dotted-id>.
func Required(primary Primary, itemType, id string) string {
	return prefix + string(primary) + "." + itemType + "." + strings.ReplaceAll(id, "/", ".")
}

// Set is an unordered capability set. The zero value is the empty set,
// which denies everything (fail-closed).
type Set struct {
	all      bool
	patterns []string
}

// NewSet builds a set from "<primary>.<item_type>.<pattern>" entries as
// produced by the permissions parser. Entries are namespaced and
// deduplicated; order is canonical.
func NewSet(patterns []string, all bool) *Set {
	if all {
		return &Set{all: true}
	}
	seen := make(map[string]bool, len(patterns))
	out := make([]string, 0, len(patterns))
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if !strings.HasPrefix(p, prefix) {
			p = prefix + p
		}
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return &Set{patterns: out}
}

// All returns the distinguished ALL set.
func All() *Set { return &Set{all: true} }

// Empty reports whether the set grants nothing.
func (s *Set) Empty() bool {
	return s == nil || (!s.all && len(s.patterns) == 0)
}

// IsAll reports whether the set is the ALL sentinel.
func (s *Set) IsAll() bool { return s != nil && s.all }

// Patterns returns the canonical pattern list (nil for ALL).
func (s *Set) Patterns() []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s.patterns...)
}

// match applies fnmatch semantics (* and ?) to dotted capability strings.
// Dotted strings contain no path separators, so path.Match's * behaves as
// fnmatch's.
func match(pattern, name string) bool {
	ok, err := path.Match(pattern, name)
	return err == nil && ok
}

// Covers reports whether the set grants the canonical capability.
func (s *Set) Covers(required string) bool {
	if s == nil {
		return false
	}
	if s.all {
		return true
	}
	for _, p := range s.patterns {
		if match(p, required) {
			return true
		}
	}
	return false
}

// Denial is the structured permission failure delivered to the model as a
// tool result rather than raised.
type Denial struct {
	Required string
}

func (d *Denial) Error() string {
	return fmt.Sprintf("Permission denied: %q not covered by thread capabilities", d.Required)
}

// Check enforces a dispatch. Internal thread-system ids are always
// permitted; everything else requires coverage, and the empty set denies.
func (s *Set) Check(primary Primary, itemType, id string) error {
	if strings.HasPrefix(id, internalIDPrefix) {
		return nil
	}
	required := Required(primary, itemType, id)
	if s.Covers(required) {
		return nil
	}
	return &Denial{Required: required}
}

// Summary renders a short human-readable description for prompt injection.
func (s *Set) Summary() string {
	if s.IsAll() {
		return "all capabilities"
	}
	if s.Empty() {
		return "no capabilities"
	}
	return strings.Join(s.patterns, ", ")
}

// Attenuate builds a child's effective set from its declared set and the
// parent's. A child with no declarations inherits the parent's set whole.
// Declared members not covered by the parent are dropped and logged; the
// child can never widen beyond the parent.
func Attenuate(declared, parent *Set, logger *slog.Logger) *Set {
	if logger == nil {
		logger = slog.Default().With("component", "capability")
	}
	if parent == nil {
		parent = &Set{}
	}
	if declared == nil || declared.Empty() {
		// Inherit wholesale.
		if parent.all {
			return All()
		}
		return &Set{patterns: append([]string(nil), parent.patterns...)}
	}
	if declared.all {
		if parent.all {
			return All()
		}
		logger.Warn("child declared ALL but parent is narrower; inheriting parent set")
		return &Set{patterns: append([]string(nil), parent.patterns...)}
	}
	if parent.all {
		return &Set{patterns: append([]string(nil), declared.patterns...)}
	}

	kept := make([]string, 0, len(declared.patterns))
	for _, p := range declared.patterns {
		if parent.Covers(p) {
			kept = append(kept, p)
			continue
		}
		logger.Warn("dropping capability not covered by parent", "capability", p)
	}
	return &Set{patterns: kept}
}
