package item

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ryelabs/rye/internal/space"
)

// Tool is an executable unit: a script, a runtime, or a primitive.
type Tool struct {
	Meta
	ToolType   ToolType
	ExecutorID string // next chain element; empty for primitives

	// Parameters is the JSON-Schema document for accepted parameters.
	Parameters json.RawMessage

	// RuntimeVersion participates in version-major compatibility checks
	// when both chain sides declare one.
	RuntimeVersion string

	// OutputJSON marks tools whose stdout is a JSON envelope.
	OutputJSON bool

	Env  *EnvConfig  // runtime tools only
	Exec *ExecConfig // runtime and primitive tools

	Space space.Space
	Path  string
}

// EnvConfig is a runtime tool's environment composition recipe.
type EnvConfig struct {
	Interpreter string            `yaml:"interpreter"`
	Static      map[string]string `yaml:"env"`
	EnvPaths    []string          `yaml:"env_paths"`
	Anchor      *AnchorConfig     `yaml:"anchor"`
	VerifyDeps  *VerifyDepsConfig `yaml:"verify_deps"`
}

// AnchorConfig locates a module-resolution root by walking up from Root
// until any marker file is found.
type AnchorConfig struct {
	Root       string   `yaml:"root"`
	MarkersAny []string `yaml:"markers_any"`
	Mode       string   `yaml:"mode"` // "always" or "auto"
}

// VerifyDepsConfig enables pre-execution signature verification over a scope.
type VerifyDepsConfig struct {
	Enabled     bool     `yaml:"enabled"`
	Scope       string   `yaml:"scope"` // anchor | tool_dir | tool_siblings | tool_file
	Extensions  []string `yaml:"extensions"`
	ExcludeDirs []string `yaml:"exclude_dirs"`
}

// ExecConfig is the invocation recipe for a runtime or primitive.
type ExecConfig struct {
	Command        string   `yaml:"command"`
	Args           []string `yaml:"args"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	CWD            string   `yaml:"cwd"`
	URL            string   `yaml:"url"` // set for HTTP primitives
}

// yamlTool is the top-level document of a YAML tool file.
type yamlTool struct {
	Meta           `yaml:",inline"`
	ToolType       string         `yaml:"tool_type"`
	ExecutorID     string         `yaml:"executor_id"`
	RuntimeVersion string         `yaml:"runtime_version"`
	Parameters     map[string]any `yaml:"parameters"`
	Output         string         `yaml:"output"`
	EnvConfig      *EnvConfig     `yaml:"env_config"`
	Config         *ExecConfig    `yaml:"config"`
}

var (
	dunderRe = regexp.MustCompile(`^__([a-z_]+)__\s*=\s*(?:'([^']*)'|"([^"]*)")\s*$`)
	headerRe = regexp.MustCompile(`^(?:#|//)\s*rye:\s*([a-z_]+)\s*=\s*(.+)$`)
)

// ParseTool parses tool metadata using the file type's convention. Content
// must already have its signature line stripped.
func ParseTool(path string, content []byte) (*Tool, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		return parseYAMLTool(content)
	case ".py":
		return parseKeyedTool(content, dunderRe)
	case ".sh", ".js", ".ts", ".rb":
		return parseKeyedTool(content, headerRe)
	default:
		return nil, &ValidationError{Type: space.TypeTool, Message: "unsupported tool extension " + ext}
	}
}

func parseYAMLTool(content []byte) (*Tool, error) {
	var raw yamlTool
	if err := yaml.Unmarshal(content, &raw); err != nil {
		return nil, &ValidationError{Type: space.TypeTool, Message: "yaml: " + err.Error()}
	}
	t := &Tool{
		Meta:           raw.Meta,
		ToolType:       ToolType(raw.ToolType),
		ExecutorID:     raw.ExecutorID,
		RuntimeVersion: raw.RuntimeVersion,
		OutputJSON:     raw.Output == "json",
		Env:            raw.EnvConfig,
		Exec:           raw.Config,
	}
	if len(raw.Parameters) > 0 {
		data, err := json.Marshal(raw.Parameters)
		if err != nil {
			return nil, &ValidationError{Type: space.TypeTool, ID: raw.ID, Message: "parameters: " + err.Error()}
		}
		t.Parameters = data
	}
	return t, validateTool(t)
}

// parseKeyedTool reads key=value metadata from the top of a script file:
// python dunder assignments or "# rye:"-prefixed header comments. Scanning
// stops at the first non-blank, non-comment, non-metadata line past the
// shebang so the file never has to be executed.
func parseKeyedTool(content []byte, re *regexp.Regexp) (*Tool, error) {
	t := &Tool{}
	seen := 0
	for _, line := range strings.Split(string(content), "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#!") {
			continue
		}
		m := re.FindStringSubmatch(trimmed)
		if m == nil {
			if seen > 0 && !strings.HasPrefix(trimmed, "#") && !strings.HasPrefix(trimmed, "//") {
				break
			}
			continue
		}
		seen++
		key := m[1]
		value := m[len(m)-1]
		if len(m) == 4 { // dunder form: single- or double-quoted group
			if m[2] != "" {
				value = m[2]
			} else {
				value = m[3]
			}
		}
		value = strings.TrimSpace(value)
		switch key {
		case "id":
			t.ID = value
		case "category":
			t.Category = value
		case "version":
			t.Version = value
		case "description":
			t.Description = value
		case "tool_type":
			t.ToolType = ToolType(value)
		case "executor_id":
			t.ExecutorID = value
		case "runtime_version":
			t.RuntimeVersion = value
		case "output":
			t.OutputJSON = value == "json"
		case "parameters":
			t.Parameters = json.RawMessage(value)
		}
	}
	return t, validateTool(t)
}

func validateTool(t *Tool) error {
	if t.ID == "" {
		return &ValidationError{Type: space.TypeTool, Message: "missing id"}
	}
	if t.Version == "" {
		return &ValidationError{Type: space.TypeTool, ID: t.ID, Message: "missing version"}
	}
	if t.Category == "" {
		return &ValidationError{Type: space.TypeTool, ID: t.ID, Message: "missing category"}
	}
	switch t.ToolType {
	case ToolPrimitive:
		if t.ExecutorID != "" {
			return &ValidationError{Type: space.TypeTool, ID: t.ID, Message: "primitive must not declare executor_id"}
		}
	case ToolRuntime, ToolScript, ToolLibrary:
		if t.ExecutorID == "" {
			return &ValidationError{Type: space.TypeTool, ID: t.ID, Message: fmt.Sprintf("%s must declare executor_id", t.ToolType)}
		}
	default:
		return &ValidationError{Type: space.TypeTool, ID: t.ID, Message: "unknown tool_type " + string(t.ToolType)}
	}
	if len(t.Parameters) > 0 && !json.Valid(t.Parameters) {
		return &ValidationError{Type: space.TypeTool, ID: t.ID, Message: "parameters is not valid JSON"}
	}
	return nil
}
