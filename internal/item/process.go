package item

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"
)

// Process is the parsed pseudo-XML body of a directive.
type Process struct {
	XMLName xml.Name `xml:"process"`
	Steps   []Step   `xml:"step"`
}

// Step is a single process step. A step holds an ordered list of blocks;
// the order in the source is preserved.
type Step struct {
	Name   string  `xml:"name,attr"`
	Blocks []Block `xml:",any"`
}

// BlockKind identifies a step block element.
type BlockKind string

const (
	BlockExecute     BlockKind = "execute"
	BlockSearch      BlockKind = "search"
	BlockLoad        BlockKind = "load"
	BlockRender      BlockKind = "render"
	BlockInstruction BlockKind = "instruction"
)

// Block is one element inside a step.
type Block struct {
	Kind  BlockKind
	Attrs map[string]string
	Text  string
}

// UnmarshalXML captures any child element with its attributes and inner text.
func (b *Block) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	b.Kind = BlockKind(start.Name.Local)
	b.Attrs = make(map[string]string, len(start.Attr))
	for _, attr := range start.Attr {
		b.Attrs[attr.Name.Local] = attr.Value
	}
	var inner struct {
		Text string `xml:",chardata"`
	}
	if err := d.DecodeElement(&inner, &start); err != nil {
		return err
	}
	b.Text = strings.TrimSpace(inner.Text)
	return nil
}

// permissionsXML mirrors the <permissions> element: children of a primary
// action element are item-type elements whose text is an id pattern.
type permissionsXML struct {
	XMLName  xml.Name
	Wildcard string       `xml:",chardata"`
	Actions  []actionsXML `xml:",any"`
}

type actionsXML struct {
	XMLName xml.Name
	Items   []itemPatternXML `xml:",any"`
}

type itemPatternXML struct {
	XMLName xml.Name
	Pattern string `xml:",chardata"`
}

// hookXML mirrors a <hook when="..."> element.
type hookXML struct {
	When    string `xml:"when,attr"`
	Execute string `xml:"execute"`
}

// extractElement returns the raw source of the first <name>...</name> or
// self-closing <name .../> element in body, or "" when absent. The
// pseudo-XML sits inside markdown, so elements are located textually
// before being fed to encoding/xml. The open-tag match requires the name
// to end at a delimiter, so "hook" does not match <hooks>.
func extractElement(body, name string) string {
	open := "<" + name
	closeTag := "</" + name + ">"
	for i := 0; ; {
		rel := strings.Index(body[i:], open)
		if rel < 0 {
			return ""
		}
		start := i + rel
		after := start + len(open)
		if after >= len(body) {
			return ""
		}
		switch body[after] {
		case ' ', '\t', '\n', '\r', '>', '/':
		default:
			i = after
			continue
		}
		openEnd := endOfTag(body, after)
		if openEnd < 0 {
			return ""
		}
		if body[openEnd-2] == '/' {
			return body[start:openEnd]
		}
		end := strings.Index(body[openEnd:], closeTag)
		if end < 0 {
			return ""
		}
		return body[start : openEnd+end+len(closeTag)]
	}
}

// endOfTag returns the index just past the '>' that closes the tag whose
// attributes start at pos, honoring quoted attribute values (a hook's
// when expression may contain '>').
func endOfTag(body string, pos int) int {
	var quote byte
	for j := pos; j < len(body); j++ {
		c := body[j]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == '>':
			return j + 1
		}
	}
	return -1
}

// parseProcess parses the <process> element of a directive body.
func parseProcess(body string) (*Process, error) {
	raw := extractElement(body, "process")
	if raw == "" {
		return nil, fmt.Errorf("no <process> element")
	}
	var p Process
	dec := xml.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.Strict = false
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("parse process: %w", err)
	}
	return &p, nil
}

// parseHooks parses every <hook> element of a directive body.
func parseHooks(body string) ([]Hook, error) {
	var hooks []Hook
	rest := body
	for {
		raw := extractElement(rest, "hook")
		if raw == "" {
			break
		}
		var h hookXML
		dec := xml.NewDecoder(bytes.NewReader([]byte(raw)))
		dec.Strict = false
		if err := dec.Decode(&h); err != nil {
			return nil, fmt.Errorf("parse hook: %w", err)
		}
		hooks = append(hooks, Hook{When: strings.TrimSpace(h.When), Action: strings.TrimSpace(h.Execute)})
		idx := strings.Index(rest, raw)
		rest = rest[idx+len(raw):]
	}
	return hooks, nil
}

// ParsePermissionsXML parses a <permissions> element into (patterns, all).
// Patterns have the form "<primary>.<item_type>.<dotted-id-pattern>".
// The sentinel <permissions>*</permissions> returns all=true. A missing or
// empty element yields no patterns: permissions are fail-closed.
func ParsePermissionsXML(body string) (patterns []string, all bool, err error) {
	raw := extractElement(body, "permissions")
	if raw == "" {
		return nil, false, nil
	}
	var p permissionsXML
	dec := xml.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.Strict = false
	if err := dec.Decode(&p); err != nil {
		return nil, false, fmt.Errorf("parse permissions: %w", err)
	}
	if strings.TrimSpace(p.Wildcard) == "*" {
		return nil, true, nil
	}
	for _, action := range p.Actions {
		primary := action.XMLName.Local
		for _, item := range action.Items {
			pattern := strings.TrimSpace(item.Pattern)
			if pattern == "" {
				continue
			}
			dotted := strings.ReplaceAll(pattern, "/", ".")
			patterns = append(patterns, primary+"."+item.XMLName.Local+"."+dotted)
		}
	}
	return patterns, false, nil
}
