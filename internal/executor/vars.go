package executor

import (
	"os"
	"path/filepath"
	"strings"
)

// Vars are the context variables available for template substitution in
// commands, args, env values, and anchor roots.
type Vars map[string]string

// expand substitutes {var} placeholders from vars and ${VAR:-default}
// forms from env. Unknown {var} placeholders are left intact so failures
// surface in the invoked command rather than silently vanishing.
func expand(s string, vars Vars, env map[string]string) string {
	for k, v := range vars {
		s = strings.ReplaceAll(s, "{"+k+"}", v)
	}
	return expandShellDefaults(s, env)
}

// expandShellDefaults handles ${VAR} and ${VAR:-default} against env.
func expandShellDefaults(s string, env map[string]string) string {
	var out strings.Builder
	for {
		start := strings.Index(s, "${")
		if start < 0 {
			out.WriteString(s)
			return out.String()
		}
		end := strings.Index(s[start:], "}")
		if end < 0 {
			out.WriteString(s)
			return out.String()
		}
		end += start
		out.WriteString(s[:start])

		expr := s[start+2 : end]
		name, def, hasDef := strings.Cut(expr, ":-")
		if v, ok := env[name]; ok && v != "" {
			out.WriteString(v)
		} else if hasDef {
			out.WriteString(def)
		}
		s = s[end+1:]
	}
}

// findAnchor walks up from root looking for any marker file or directory.
// mode "always" fails when nothing is found; mode "auto" returns "".
func findAnchor(root string, markers []string, mode string) (string, error) {
	dir, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	for {
		for _, marker := range markers {
			if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
				return dir, nil
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	if mode == "auto" {
		return "", nil
	}
	return "", &Error{Stage: StageAnchor, Message: "no anchor marker found above " + root}
}
