package chain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/ryelabs/rye/internal/item"
)

// compatibleSchemas enforces parameter superset compatibility between a
// chain element and its executor. Every parameter the parent declares must
// exist in the child's schema with a compatible JSON-Schema type; the child
// may accept more. Elements without a declared schema accept anything.
func compatibleSchemas(parent, child *item.Tool) error {
	parentProps, err := schemaProperties(parent.Parameters)
	if err != nil {
		return fmt.Errorf("%s: %w", parent.ID, err)
	}
	childProps, err := schemaProperties(child.Parameters)
	if err != nil {
		return fmt.Errorf("%s: %w", child.ID, err)
	}
	if parentProps == nil || childProps == nil {
		return nil
	}

	for name, parentType := range parentProps {
		childType, ok := childProps[name]
		if !ok {
			return fmt.Errorf("%s does not accept parameter %q declared by %s", child.ID, name, parent.ID)
		}
		if !typesCompatible(parentType, childType) {
			return fmt.Errorf("parameter %q: %s declares %s but %s accepts %s",
				name, parent.ID, parentType, child.ID, childType)
		}
	}
	return nil
}

// schemaProperties extracts property-name to type mappings from a
// JSON-Schema document. Nil means no schema declared.
func schemaProperties(schema json.RawMessage) (map[string]string, error) {
	if len(schema) == 0 {
		return nil, nil
	}
	var doc struct {
		Properties map[string]struct {
			Type string `json:"type"`
		} `json:"properties"`
	}
	if err := json.Unmarshal(schema, &doc); err != nil {
		return nil, fmt.Errorf("invalid parameter schema: %w", err)
	}
	if doc.Properties == nil {
		return nil, nil
	}
	out := make(map[string]string, len(doc.Properties))
	for name, prop := range doc.Properties {
		out[name] = prop.Type
	}
	return out, nil
}

// typesCompatible applies JSON-Schema type compatibility: equal types, an
// untyped side, or integer narrowing into number.
func typesCompatible(parent, child string) bool {
	if parent == child || parent == "" || child == "" {
		return true
	}
	return parent == "integer" && child == "number"
}

// compatibleVersions requires equal version majors when both sides pin a
// runtime version.
func compatibleVersions(parent, child *item.Tool) error {
	if parent.RuntimeVersion == "" || child.RuntimeVersion == "" {
		return nil
	}
	pm, perr := versionMajor(parent.RuntimeVersion)
	cm, cerr := versionMajor(child.RuntimeVersion)
	if perr != nil || cerr != nil {
		// Unparseable versions fall back to exact-string equality.
		if parent.RuntimeVersion == child.RuntimeVersion {
			return nil
		}
		return fmt.Errorf("runtime versions %q and %q are not comparable", parent.RuntimeVersion, child.RuntimeVersion)
	}
	if pm != cm {
		return fmt.Errorf("%s requires runtime major %d but %s provides major %d", parent.ID, pm, child.ID, cm)
	}
	return nil
}

func versionMajor(v string) (int, error) {
	v = strings.TrimPrefix(strings.TrimSpace(v), "v")
	head, _, _ := strings.Cut(v, ".")
	return strconv.Atoi(head)
}
