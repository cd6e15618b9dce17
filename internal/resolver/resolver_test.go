package resolver

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ryelabs/rye/internal/space"
)

func writeItem(t *testing.T, sp space.Space, itemType space.ItemType, id, ext, content string) string {
	t.Helper()
	path := sp.ItemPath(itemType, id, ext)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func threeSpaces(t *testing.T) (project, user, system space.Space) {
	t.Helper()
	project = space.Space{Kind: space.Project, Root: t.TempDir()}
	user = space.Space{Kind: space.User, Root: t.TempDir()}
	system = space.Space{Kind: space.System, Root: t.TempDir(), BundleID: "core"}
	return
}

func TestPrecedenceProjectWins(t *testing.T) {
	project, user, system := threeSpaces(t)
	writeItem(t, system, space.TypeTool, "rye/file-system/read", ".py", "system")
	writeItem(t, user, space.TypeTool, "rye/file-system/read", ".py", "user")
	projPath := writeItem(t, project, space.TypeTool, "rye/file-system/read", ".py", "project")

	r := New([]space.Space{project, user, system})
	res, err := r.Resolve(space.TypeTool, "rye/file-system/read")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Path != projPath {
		t.Errorf("path = %q, want project copy %q", res.Path, projPath)
	}
	if res.Space.Kind != space.Project {
		t.Errorf("space = %v, want project", res.Space.Kind)
	}
}

func TestFallthroughToSystem(t *testing.T) {
	project, user, system := threeSpaces(t)
	sysPath := writeItem(t, system, space.TypeDirective, "core/build", ".md", "body")

	r := New([]space.Space{project, user, system})
	res, err := r.Resolve(space.TypeDirective, "core/build")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Path != sysPath {
		t.Errorf("path = %q, want %q", res.Path, sysPath)
	}
}

func TestExtensionOrder(t *testing.T) {
	project, user, system := threeSpaces(t)
	pyPath := writeItem(t, project, space.TypeTool, "t/alpha", ".py", "py")
	writeItem(t, project, space.TypeTool, "t/alpha", ".sh", "sh")

	r := New([]space.Space{project, user, system})
	res, err := r.Resolve(space.TypeTool, "t/alpha")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Path != pyPath {
		t.Errorf("path = %q, want .py before .sh", res.Path)
	}
}

func TestNotFound(t *testing.T) {
	project, user, system := threeSpaces(t)
	r := New([]space.Space{project, user, system})

	_, err := r.Resolve(space.TypeKnowledge, "missing/item")
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("err = %v, want NotFoundError", err)
	}
}

func TestBundleVisibility(t *testing.T) {
	project, user, system := threeSpaces(t)
	system.Visibility = []string{"core/"}
	writeItem(t, system, space.TypeTool, "extra/hidden", ".py", "x")
	corePath := writeItem(t, system, space.TypeTool, "core/visible", ".py", "y")

	r := New([]space.Space{project, user, system})
	if _, err := r.Resolve(space.TypeTool, "extra/hidden"); err == nil {
		t.Error("item outside bundle visibility resolved")
	}
	res, err := r.Resolve(space.TypeTool, "core/visible")
	if err != nil || res.Path != corePath {
		t.Errorf("visible item: %v %v", res, err)
	}
}

func TestCacheInvalidatesOnContentChange(t *testing.T) {
	project, user, system := threeSpaces(t)
	path := writeItem(t, project, space.TypeTool, "t/cached", ".py", "v1")

	r := New([]space.Space{project, user, system})
	first, err := r.Resolve(space.TypeTool, "t/cached")
	if err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(path, []byte("v2"), 0o644); err != nil {
		t.Fatal(err)
	}
	second, err := r.Resolve(space.TypeTool, "t/cached")
	if err != nil {
		t.Fatal(err)
	}
	if second.ContentHash == first.ContentHash {
		t.Error("cache served a stale content hash after mutation")
	}
}

func TestCacheEvictsOnDeletionAndFindsOverride(t *testing.T) {
	project, user, system := threeSpaces(t)
	userPath := writeItem(t, user, space.TypeTool, "t/both", ".py", "user copy")
	projPath := writeItem(t, project, space.TypeTool, "t/both", ".py", "project copy")

	r := New([]space.Space{project, user, system})
	res, _ := r.Resolve(space.TypeTool, "t/both")
	if res.Path != projPath {
		t.Fatalf("expected project copy first, got %q", res.Path)
	}

	if err := os.Remove(projPath); err != nil {
		t.Fatal(err)
	}
	res, err := r.Resolve(space.TypeTool, "t/both")
	if err != nil {
		t.Fatal(err)
	}
	if res.Path != userPath {
		t.Errorf("after project deletion path = %q, want user copy", res.Path)
	}
}
