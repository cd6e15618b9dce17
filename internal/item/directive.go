package item

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ryelabs/rye/internal/space"
)

// Directive is a declarative task template.
type Directive struct {
	Meta
	Model   ModelDescriptor
	Limits  Limits
	Inputs  []string
	Outputs []string
	Context []ContextRef
	Extends string

	// PermissionPatterns are "<primary>.<item_type>.<dotted-pattern>"
	// entries from the <permissions> block; PermissionsAll marks the
	// wildcard sentinel.
	PermissionPatterns []string
	PermissionsAll     bool

	Hooks   []Hook
	Process *Process

	// Body is the full markdown body without the signature line; it is
	// rendered into the thread's first user message.
	Body string

	Space space.Space
	Path  string
}

// directiveMeta is the fenced metadata document. Limit aliases
// (turns|max_turns, ...) are accepted and normalized.
type directiveMeta struct {
	Meta    `yaml:",inline"`
	Model   ModelDescriptor `yaml:"model"`
	Limits  rawLimits       `yaml:"limits"`
	Inputs  []string        `yaml:"inputs"`
	Outputs []string        `yaml:"outputs"`
	Context []ContextRef    `yaml:"context"`
	Extends string          `yaml:"extends"`
}

type rawLimits struct {
	Turns           int     `yaml:"turns"`
	MaxTurns        int     `yaml:"max_turns"`
	Tokens          int     `yaml:"tokens"`
	MaxTokens       int     `yaml:"max_tokens"`
	Spend           float64 `yaml:"spend"`
	MaxSpend        float64 `yaml:"max_spend"`
	DurationSeconds int     `yaml:"duration_seconds"`
	MaxDepth        int     `yaml:"max_depth"`
	MaxSpawns       int     `yaml:"max_spawns"`
}

func (r rawLimits) normalize() Limits {
	pick := func(a, b int) int {
		if a > 0 {
			return a
		}
		return b
	}
	spend := r.Spend
	if spend == 0 {
		spend = r.MaxSpend
	}
	return Limits{
		Turns:           pick(r.Turns, r.MaxTurns),
		Tokens:          pick(r.Tokens, r.MaxTokens),
		SpendUSD:        spend,
		DurationSeconds: r.DurationSeconds,
		MaxDepth:        r.MaxDepth,
		MaxSpawns:       r.MaxSpawns,
	}
}

// extractFencedMeta returns the first fenced yaml block in a markdown body.
func extractFencedMeta(body string) (string, error) {
	for _, fence := range []string{"```yaml", "```yml"} {
		start := strings.Index(body, fence)
		if start < 0 {
			continue
		}
		rest := body[start+len(fence):]
		end := strings.Index(rest, "```")
		if end < 0 {
			return "", fmt.Errorf("unterminated metadata block")
		}
		return rest[:end], nil
	}
	return "", fmt.Errorf("no fenced metadata block")
}

// ParseDirective parses directive markdown. Content must already have its
// signature line stripped.
func ParseDirective(content []byte) (*Directive, error) {
	body := string(content)

	metaSrc, err := extractFencedMeta(body)
	if err != nil {
		return nil, &ValidationError{Type: space.TypeDirective, Message: err.Error()}
	}
	var meta directiveMeta
	if err := yaml.Unmarshal([]byte(metaSrc), &meta); err != nil {
		return nil, &ValidationError{Type: space.TypeDirective, Message: "metadata: " + err.Error()}
	}
	if meta.ID == "" {
		return nil, &ValidationError{Type: space.TypeDirective, Message: "metadata is missing id"}
	}
	if meta.Version == "" {
		return nil, &ValidationError{Type: space.TypeDirective, ID: meta.ID, Message: "metadata is missing version"}
	}

	d := &Directive{
		Meta:    meta.Meta,
		Model:   meta.Model,
		Limits:  meta.Limits.normalize(),
		Inputs:  meta.Inputs,
		Outputs: meta.Outputs,
		Context: meta.Context,
		Extends: meta.Extends,
		Body:    body,
	}

	patterns, all, err := ParsePermissionsXML(body)
	if err != nil {
		return nil, &ValidationError{Type: space.TypeDirective, ID: meta.ID, Message: err.Error()}
	}
	d.PermissionPatterns = patterns
	d.PermissionsAll = all

	hooks, err := parseHooks(body)
	if err != nil {
		return nil, &ValidationError{Type: space.TypeDirective, ID: meta.ID, Message: err.Error()}
	}
	d.Hooks = hooks

	if proc, err := parseProcess(body); err == nil {
		d.Process = proc
	}

	return d, nil
}

// mergeFromParent applies shallow metadata inheritance: unset child fields
// take the parent's value; context items from the parent come first, in
// chain order root-first.
func (d *Directive) mergeFromParent(parent *Directive) {
	if d.Model.Tier == "" {
		d.Model.Tier = parent.Model.Tier
	}
	if d.Model.ID == "" {
		d.Model.ID = parent.Model.ID
	}
	if d.Model.Provider == "" {
		d.Model.Provider = parent.Model.Provider
	}
	if d.Model.Fallback == "" {
		d.Model.Fallback = parent.Model.Fallback
	}
	if d.Limits.Turns == 0 {
		d.Limits.Turns = parent.Limits.Turns
	}
	if d.Limits.Tokens == 0 {
		d.Limits.Tokens = parent.Limits.Tokens
	}
	if d.Limits.SpendUSD == 0 {
		d.Limits.SpendUSD = parent.Limits.SpendUSD
	}
	if d.Limits.DurationSeconds == 0 {
		d.Limits.DurationSeconds = parent.Limits.DurationSeconds
	}
	if d.Limits.MaxDepth == 0 {
		d.Limits.MaxDepth = parent.Limits.MaxDepth
	}
	if d.Limits.MaxSpawns == 0 {
		d.Limits.MaxSpawns = parent.Limits.MaxSpawns
	}
	if len(d.PermissionPatterns) == 0 && !d.PermissionsAll {
		d.PermissionPatterns = parent.PermissionPatterns
		d.PermissionsAll = parent.PermissionsAll
	}
	d.Context = append(append([]ContextRef{}, parent.Context...), d.Context...)
}
