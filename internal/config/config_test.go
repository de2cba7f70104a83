package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"queueline/internal/config"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg, err := config.FromYAML([]byte(config.GenerateDefault()))
	if err != nil {
		t.Fatalf("default config: %v", err)
	}
	if !cfg.DomainAllowed("domain_a") || cfg.DomainAllowed("DOMAIN_Z") {
		t.Fatalf("domain matching: %v", cfg.Domains)
	}
	if len(cfg.Roles["admin"]) == 0 || cfg.Tasks.DefaultServiceLevel != "P1D" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestValidateRejectsBadConfig(t *testing.T) {
	cases := map[string]string{
		"unknown role":     "roles:\n  superuser: [root]\n",
		"duplicate domain": "domains: [A, a]\n",
		"unknown group":    "directory:\n  groups:\n    - id: g1\n  users:\n    - id: u1\n      groups: [g2]\n",
		"webhook url":      "webhooks:\n  - events: [task.claimed]\n",
		"log format":       "log:\n  format: xml\n",
	}
	for name, raw := range cases {
		if _, err := config.FromYAML([]byte(raw)); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, err := config.LoadOptional(dir)
	if err != nil || cfg != nil {
		t.Fatalf("missing file: %v %v", cfg, err)
	}
	if err := os.WriteFile(filepath.Join(dir, "queueline.yml"), []byte("domains: [X]\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err = config.LoadOptional(dir)
	if err != nil || cfg == nil || !cfg.DomainAllowed("x") {
		t.Fatalf("load: %v %+v", err, cfg)
	}
	if _, err := config.Load(t.TempDir()); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected not found error, got %v", err)
	}
}
