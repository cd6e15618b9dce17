// Package item parses and loads the three signed item kinds: directives
// (markdown + pseudo-XML process), tools (script/runtime/primitive files),
// and knowledge (markdown with YAML frontmatter).
package item

import (
	"fmt"

	"github.com/ryelabs/rye/internal/space"
)

// ValidationError marks malformed metadata or schema violations. Fatal for
// the item's load.
type ValidationError struct {
	Type    space.ItemType
	ID      string
	Message string
}

func (e *ValidationError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("invalid %s %q: %s", e.Type, e.ID, e.Message)
	}
	return fmt.Sprintf("invalid %s: %s", e.Type, e.Message)
}

// Meta is the common metadata every item carries.
type Meta struct {
	ID          string `yaml:"id"`
	Category    string `yaml:"category"`
	Version     string `yaml:"version"`
	Description string `yaml:"description"`
}

// ToolType is the executor role of a tool file.
type ToolType string

const (
	ToolPrimitive ToolType = "primitive"
	ToolRuntime   ToolType = "runtime"
	ToolScript    ToolType = "script"
	ToolLibrary   ToolType = "library"
)

// ModelDescriptor names the model a directive runs on.
type ModelDescriptor struct {
	Tier     string `yaml:"tier"`
	ID       string `yaml:"id,omitempty"`
	Provider string `yaml:"provider,omitempty"`
	Fallback string `yaml:"fallback,omitempty"`
}

// Limits are a directive's budget ceilings. Zero means unlimited.
type Limits struct {
	Turns           int     `yaml:"turns"`
	Tokens          int     `yaml:"tokens"`
	SpendUSD        float64 `yaml:"spend"`
	DurationSeconds int     `yaml:"duration_seconds"`
	MaxDepth        int     `yaml:"max_depth"`
	MaxSpawns       int     `yaml:"max_spawns"`
}

// ContextPosition is where a knowledge item is injected.
type ContextPosition string

const (
	ContextSystem ContextPosition = "system"
	ContextBefore ContextPosition = "before"
	ContextAfter  ContextPosition = "after"
)

// ContextRef declares a knowledge item to inject into the conversation.
type ContextRef struct {
	ID       string          `yaml:"id"`
	Position ContextPosition `yaml:"position"`
}

// Hook pairs a when-expression with an action to queue when it fires.
type Hook struct {
	When   string
	Action string
}
