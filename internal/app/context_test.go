package app

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"checkorder/internal/engine"
	"checkorder/internal/position"
)

func TestOpenUsesWorkspaceConfig(t *testing.T) {
	dir := t.TempDir()
	doc := "ordering:\n  items: descending\nlogging:\n  level: warn\n"
	if err := os.WriteFile(filepath.Join(dir, "checkorder.yml"), []byte(doc), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	env, err := Open(context.Background(), Options{Workspace: dir, LogOut: io.Discard})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer env.Close()

	if env.Engine.Direction("list-1") != position.Descending {
		t.Fatalf("items direction not taken from config")
	}
	if _, err := env.Engine.CreateItem(context.Background(), engine.CreateItemOptions{ParentID: "list-1", Text: "a"}); err != nil {
		t.Fatalf("create on opened env: %v", err)
	}
}

func TestResolveConfigFallsBackToDefaults(t *testing.T) {
	cfg, err := ResolveConfig(t.TempDir(), "")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cfg.Ordering.RootParentID != "root" || cfg.ItemsDirection() != position.Ascending {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if _, err := ResolveConfig(t.TempDir(), filepath.Join(t.TempDir(), "missing.yml")); err == nil {
		t.Fatalf("expected error for a missing explicit config file")
	}
}
