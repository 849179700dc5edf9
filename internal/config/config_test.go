package config

import (
	"os"
	"path/filepath"
	"testing"

	"checkorder/internal/position"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Ordering.RootParentID != "root" {
		t.Fatalf("expected root parent id, got %q", cfg.Ordering.RootParentID)
	}
	if cfg.ListsDirection() != position.Ascending || cfg.ItemsDirection() != position.Ascending {
		t.Fatalf("expected ascending defaults")
	}
}

func TestFromYAMLOverridesDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte("ordering:\n  lists: descending\n  root_parent_id: lists\n"))
	if err != nil {
		t.Fatalf("from yaml: %v", err)
	}
	if cfg.DirectionFor("lists") != position.Descending {
		t.Fatalf("expected descending lists")
	}
	if cfg.DirectionFor("some-list") != position.Ascending {
		t.Fatalf("expected ascending items")
	}
	if cfg.Server.BasePath != "/v0" {
		t.Fatalf("expected default base path, got %q", cfg.Server.BasePath)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"direction": "ordering:\n  items: sideways\n",
		"root":      "ordering:\n  root_parent_id: \"\"\n",
		"base path": "server:\n  base_path: v0\n",
		"level":     "logging:\n  level: loud\n",
		"format":    "logging:\n  format: xml\n",
		"webhook":   "webhooks:\n  enabled: true\n",
	}
	for name, doc := range cases {
		if _, err := FromYAML([]byte(doc)); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestLoadTOMLWorkspace(t *testing.T) {
	dir := t.TempDir()
	if cfg, err := LoadOptional(dir); err != nil || cfg != nil {
		t.Fatalf("expected no config, got %v %v", cfg, err)
	}
	if _, err := Load(dir); err == nil {
		t.Fatalf("expected missing config error")
	}
	doc := "[server]\naddr = \"0.0.0.0:9000\"\n\n[ordering]\nitems = \"desc\"\n\n[webhooks]\nenabled = true\nurl = \"http://hooks.local/sync\"\n"
	if err := os.WriteFile(filepath.Join(dir, "checkorder.toml"), []byte(doc), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != "0.0.0.0:9000" || cfg.ItemsDirection() != position.Descending {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if !cfg.Webhooks.Enabled || cfg.Ordering.RootParentID != "root" {
		t.Fatalf("unexpected webhook/root config %+v", cfg)
	}
}

func TestDefaultTOMLLoads(t *testing.T) {
	cfg, err := FromTOML([]byte(GenerateDefaultTOML()))
	if err != nil {
		t.Fatalf("default toml: %v", err)
	}
	if cfg.Server.Addr != Default().Server.Addr || len(cfg.Webhooks.Events) != len(Default().Webhooks.Events) {
		t.Fatalf("toml template differs from defaults: %+v", cfg)
	}
}
