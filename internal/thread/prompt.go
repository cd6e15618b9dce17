package thread

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ryelabs/rye/internal/item"
)

// systemContextIDs is the fixed bundle of knowledge items every thread's
// system prompt starts from. Missing items are skipped so a minimal space
// still runs.
var systemContextIDs = []string{
	"rye/core/identity",
	"rye/core/behavior",
	"rye/core/tool-protocol",
	"rye/core/environment",
	"rye/core/completion",
}

// buildSystemPrompt composes the bundled context, the directive's
// system-position context items, and the injected thread variables.
func (t *Thread) buildSystemPrompt() string {
	var sections []string

	for _, id := range systemContextIDs {
		if k, err := t.runtime.loader.LoadKnowledge(id); err == nil {
			sections = append(sections, k.Content)
		}
	}
	for _, ref := range t.Directive.Context {
		if ref.Position != item.ContextSystem {
			continue
		}
		k, err := t.runtime.loader.LoadKnowledge(ref.ID)
		if err != nil {
			t.runtime.logger.Warn("system context item unavailable", "id", ref.ID, "error", err)
			continue
		}
		sections = append(sections, k.Content)
	}

	prompt := strings.Join(sections, "\n\n")
	vars := map[string]string{
		"project_path":         t.runtime.projectPath,
		"model":                t.model,
		"depth":                fmt.Sprintf("%d", t.Depth),
		"parent_thread_id":     t.ParentID,
		"spend_limit":          fmt.Sprintf("%.4f", t.ledger.Limits().SpendUSD),
		"max_turns":            fmt.Sprintf("%d", t.ledger.Limits().Turns),
		"capabilities_summary": t.caps.Summary(),
	}
	for k, v := range vars {
		prompt = strings.ReplaceAll(prompt, "{"+k+"}", v)
	}
	return prompt
}

// buildFirstMessage renders the directive body with before/after context
// items and the caller's inputs.
func (t *Thread) buildFirstMessage() string {
	var parts []string

	for _, ref := range t.Directive.Context {
		if ref.Position != item.ContextBefore {
			continue
		}
		if k, err := t.runtime.loader.LoadKnowledge(ref.ID); err == nil {
			parts = append(parts, k.Content)
		}
	}

	parts = append(parts, t.Directive.Body)

	if len(t.inputs) > 0 {
		keys := make([]string, 0, len(t.inputs))
		for k := range t.inputs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var b strings.Builder
		b.WriteString("Inputs:")
		for _, k := range keys {
			fmt.Fprintf(&b, "\n- %s: %s", k, t.inputs[k])
		}
		parts = append(parts, b.String())
	}

	for _, ref := range t.Directive.Context {
		if ref.Position != item.ContextAfter {
			continue
		}
		if k, err := t.runtime.loader.LoadKnowledge(ref.ID); err == nil {
			parts = append(parts, k.Content)
		}
	}

	return strings.Join(parts, "\n\n")
}
