package item

import (
	"bufio"
	"bytes"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ryelabs/rye/internal/space"
)

// Knowledge is a markdown document with YAML frontmatter.
type Knowledge struct {
	Meta      `yaml:",inline"`
	Title     string `yaml:"title"`
	Author    string `yaml:"author"`
	CreatedAt string `yaml:"created_at"`

	// Content is the markdown body below the frontmatter.
	Content string

	Space space.Space
	Path  string
}

const frontmatterDelimiter = "---"

// ParseKnowledge parses a knowledge item. Content must already have its
// signature line stripped.
func ParseKnowledge(content []byte) (*Knowledge, error) {
	front, body, err := splitFrontmatter(content)
	if err != nil {
		return nil, &ValidationError{Type: space.TypeKnowledge, Message: err.Error()}
	}

	var k Knowledge
	if err := yaml.Unmarshal(front, &k); err != nil {
		return nil, &ValidationError{Type: space.TypeKnowledge, Message: "frontmatter: " + err.Error()}
	}
	for field, value := range map[string]string{
		"id":         k.ID,
		"title":      k.Title,
		"category":   k.Category,
		"version":    k.Version,
		"author":     k.Author,
		"created_at": k.CreatedAt,
	} {
		if value == "" {
			return nil, &ValidationError{Type: space.TypeKnowledge, ID: k.ID, Message: "frontmatter is missing " + field}
		}
	}

	k.Content = strings.TrimSpace(string(body))
	return &k, nil
}

// splitFrontmatter separates YAML frontmatter from the markdown body.
func splitFrontmatter(data []byte) (frontmatter, body []byte, err error) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	if !scanner.Scan() {
		return nil, nil, errEmptyDocument
	}
	if strings.TrimSpace(scanner.Text()) != frontmatterDelimiter {
		return nil, nil, errNoFrontmatter
	}

	var frontLines []string
	closed := false
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == frontmatterDelimiter {
			closed = true
			break
		}
		frontLines = append(frontLines, line)
	}
	if !closed {
		return nil, nil, errUnterminatedFrontmatter
	}

	var bodyLines []string
	for scanner.Scan() {
		bodyLines = append(bodyLines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, err
	}

	return []byte(strings.Join(frontLines, "\n")), []byte(strings.Join(bodyLines, "\n")), nil
}

var (
	errEmptyDocument           = strError("empty document")
	errNoFrontmatter           = strError("missing opening frontmatter delimiter")
	errUnterminatedFrontmatter = strError("missing closing frontmatter delimiter")
)

type strError string

func (e strError) Error() string { return string(e) }
