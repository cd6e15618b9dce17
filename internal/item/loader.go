package item

import (
	"log/slog"
	"os"
	"strings"

	"github.com/ryelabs/rye/internal/integrity"
	"github.com/ryelabs/rye/internal/resolver"
	"github.com/ryelabs/rye/internal/space"
)

// Loader resolves, verifies, and parses signed items. In the default mode
// unsigned or legacy-signed content is rejected; authoring mode, used only
// by the create and sign paths, skips verification.
type Loader struct {
	resolver *resolver.Resolver
	verifier *integrity.Verifier
	logger   *slog.Logger

	authoring bool
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithAuthoringMode disables signature verification. Only the authoring
// tools (create, sign) use this.
func WithAuthoringMode() LoaderOption {
	return func(l *Loader) { l.authoring = true }
}

// WithLoaderLogger sets the logger.
func WithLoaderLogger(logger *slog.Logger) LoaderOption {
	return func(l *Loader) { l.logger = logger }
}

// NewLoader creates a loader over a resolver and verifier.
func NewLoader(res *resolver.Resolver, verifier *integrity.Verifier, opts ...LoaderOption) *Loader {
	l := &Loader{
		resolver: res,
		verifier: verifier,
		logger:   slog.Default().With("component", "item.loader"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Resolver exposes the underlying resolver for cache eviction.
func (l *Loader) Resolver() *resolver.Resolver { return l.resolver }

// load resolves and verifies an item, returning its resolution and content
// with the signature line stripped.
func (l *Loader) load(t space.ItemType, id string) (*resolver.Resolution, []byte, error) {
	res, err := l.resolver.Resolve(t, id)
	if err != nil {
		return nil, nil, err
	}
	data, err := os.ReadFile(res.Path)
	if err != nil {
		return nil, nil, err
	}
	if !l.authoring {
		if _, err := l.verifier.Verify(data); err != nil {
			// A failed verification may mean the cached path is stale.
			l.resolver.Evict(t, id)
			return nil, nil, err
		}
	}
	_, stripped, err := integrity.ExtractLatest(data)
	if err != nil {
		return nil, nil, err
	}
	return res, stripped, nil
}

// maxExtendsDepth caps directive inheritance chains.
const maxExtendsDepth = 16

// LoadDirective loads a directive and resolves its extends chain root-first
// with shallow metadata override. Cycles are rejected.
func (l *Loader) LoadDirective(id string) (*Directive, error) {
	return l.loadDirectiveChain(id, map[string]bool{})
}

func (l *Loader) loadDirectiveChain(id string, visited map[string]bool) (*Directive, error) {
	if visited[id] {
		return nil, &ValidationError{Type: space.TypeDirective, ID: id, Message: "extends cycle"}
	}
	if len(visited) >= maxExtendsDepth {
		return nil, &ValidationError{Type: space.TypeDirective, ID: id, Message: "extends chain too deep"}
	}
	visited[id] = true

	res, content, err := l.load(space.TypeDirective, id)
	if err != nil {
		return nil, err
	}
	d, err := ParseDirective(content)
	if err != nil {
		return nil, err
	}
	if d.ID != id {
		return nil, &ValidationError{Type: space.TypeDirective, ID: id, Message: "metadata id " + d.ID + " does not match resolved id"}
	}
	if err := checkCategory(d.Category, id); err != nil {
		return nil, &ValidationError{Type: space.TypeDirective, ID: id, Message: err.Error()}
	}
	d.Space = res.Space
	d.Path = res.Path

	if d.Extends != "" {
		parent, err := l.loadDirectiveChain(d.Extends, visited)
		if err != nil {
			return nil, err
		}
		d.mergeFromParent(parent)
	}
	return d, nil
}

// LoadTool loads a tool by id.
func (l *Loader) LoadTool(id string) (*Tool, error) {
	res, content, err := l.load(space.TypeTool, id)
	if err != nil {
		return nil, err
	}
	t, err := ParseTool(res.Path, content)
	if err != nil {
		return nil, err
	}
	if t.ID != id {
		return nil, &ValidationError{Type: space.TypeTool, ID: id, Message: "metadata id " + t.ID + " does not match resolved id"}
	}
	if err := checkCategory(t.Category, id); err != nil {
		return nil, &ValidationError{Type: space.TypeTool, ID: id, Message: err.Error()}
	}
	t.Space = res.Space
	t.Path = res.Path
	return t, nil
}

// LoadKnowledge loads a knowledge item by id.
func (l *Loader) LoadKnowledge(id string) (*Knowledge, error) {
	res, content, err := l.load(space.TypeKnowledge, id)
	if err != nil {
		return nil, err
	}
	k, err := ParseKnowledge(content)
	if err != nil {
		return nil, err
	}
	if k.ID != id {
		return nil, &ValidationError{Type: space.TypeKnowledge, ID: id, Message: "frontmatter id " + k.ID + " does not match resolved id"}
	}
	k.Space = res.Space
	k.Path = res.Path
	return k, nil
}

// checkCategory enforces that the declared category matches the directory
// part of the item id.
func checkCategory(category, id string) error {
	idx := strings.LastIndex(id, "/")
	if idx < 0 {
		if category != "" {
			return strError("category " + category + " declared for uncategorized id")
		}
		return nil
	}
	want := id[:idx]
	if category != want {
		return strError("category " + category + " does not match id directory " + want)
	}
	return nil
}
