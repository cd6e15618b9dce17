package space

import (
	"os"
	"path/filepath"
	"testing"
)

func TestPrecedenceOrdering(t *testing.T) {
	if Project.Precedence() <= User.Precedence() || User.Precedence() <= System.Precedence() {
		t.Errorf("precedence = project %d, user %d, system %d",
			Project.Precedence(), User.Precedence(), System.Precedence())
	}
}

func TestStringIncludesBundleID(t *testing.T) {
	sp := Space{Kind: System, BundleID: "core"}
	if sp.String() != "system:core" {
		t.Errorf("String() = %q", sp.String())
	}
	if (Space{Kind: Project}).String() != "project" {
		t.Error("project space string")
	}
}

func TestCoversVisibilityPrefixes(t *testing.T) {
	sp := Space{Kind: System, Visibility: []string{"rye/core", "rye/primitive"}}
	if !sp.Covers("rye/core/identity") || sp.Covers("other/thing") {
		t.Error("visibility prefixes misapplied")
	}
	open := Space{Kind: System}
	if !open.Covers("anything/at/all") {
		t.Error("empty visibility should cover everything")
	}
}

func TestItemPathLayout(t *testing.T) {
	sp := Space{Kind: Project, Root: "/proj"}
	want := filepath.Join("/proj", ".ai", "tools", "rye", "echo.yaml")
	if got := sp.ItemPath(TypeTool, "rye/echo", ".yaml"); got != want {
		t.Errorf("ItemPath = %q, want %q", got, want)
	}
}

func TestListItemsFiltersExtensionsAndVisibility(t *testing.T) {
	sp := Space{Kind: System, Root: t.TempDir(), Visibility: []string{"rye/"}}
	files := map[string]string{
		"knowledge/rye/core/identity.md": "x",
		"knowledge/rye/core/notes.yaml":  "x",
		"knowledge/hidden/secret.md":     "x",
		"knowledge/rye/core/skip.txt":    "x",
	}
	for rel, content := range files {
		path := filepath.Join(sp.AIPath(), filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	ids := sp.ListItems(TypeKnowledge)
	got := map[string]bool{}
	for _, id := range ids {
		got[id] = true
	}
	if !got["rye/core/identity"] || !got["rye/core/notes"] {
		t.Errorf("ids = %v", ids)
	}
	if got["hidden/secret"] {
		t.Error("visibility filter leaked a hidden id")
	}
	if len(ids) != 2 {
		t.Errorf("len(ids) = %d, want 2 (txt excluded)", len(ids))
	}
}

func TestUserSpaceEnvOverride(t *testing.T) {
	t.Setenv("USER_SPACE", "/alt/home")
	if sp := UserSpace(); sp.Root != "/alt/home" || sp.Kind != User {
		t.Errorf("UserSpace() = %+v", sp)
	}
}
