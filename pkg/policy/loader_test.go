package policy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func writePolicy(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoaderLoadFromPaths(t *testing.T) {
	dir := t.TempDir()
	writePolicy(t, filepath.Join(dir, "single.rego"), "# Single file policy\npackage single\n")
	writePolicy(t, filepath.Join(dir, "set", "b.rego"), "package b\n")
	writePolicy(t, filepath.Join(dir, "set", "nested", "a.rego"), "package a\n")
	writePolicy(t, filepath.Join(dir, "set", "a_test.rego"), "package a_test\n")
	writePolicy(t, filepath.Join(dir, "set", "README.md"), "not a policy\n")

	loader := NewLoader(zerolog.Nop())

	t.Run("file", func(t *testing.T) {
		got, err := loader.LoadFromPaths([]string{filepath.Join(dir, "single.rego")})
		if err != nil {
			t.Fatalf("LoadFromPaths() error = %v", err)
		}
		if len(got) != 1 || got[0].Name != "single" || got[0].Description != "Single file policy" {
			t.Errorf("LoadFromPaths() = %+v", got)
		}
	})

	t.Run("directory", func(t *testing.T) {
		got, err := loader.LoadFromPaths([]string{filepath.Join(dir, "set")})
		if err != nil {
			t.Fatalf("LoadFromPaths() error = %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("LoadFromPaths() loaded %d policies, want 2", len(got))
		}
		if got[0].Name != "b" || got[1].Name != "a" {
			t.Errorf("order = %s, %s; want sorted by source", got[0].Name, got[1].Name)
		}
	})

	t.Run("builtin", func(t *testing.T) {
		got, err := loader.LoadFromPaths([]string{"builtin:trusted-sources", filepath.Join(dir, "single.rego")})
		if err != nil {
			t.Fatalf("LoadFromPaths() error = %v", err)
		}
		if len(got) != 2 || got[0].Name != "trusted-sources" || got[0].Source != "builtin" {
			t.Errorf("LoadFromPaths() = %+v", got)
		}
	})

	errCases := map[string]string{
		"missing":         filepath.Join(dir, "missing.rego"),
		"unknown builtin": "builtin:nope",
		"empty directory": t.TempDir(),
	}
	for name, path := range errCases {
		t.Run(name, func(t *testing.T) {
			if _, err := loader.LoadFromPaths([]string{path}); err == nil {
				t.Errorf("LoadFromPaths(%s) error = nil", path)
			}
		})
	}
}

func TestExtractDescription(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{name: "none", content: "package x\n", want: ""},
		{name: "single", content: "# Deny things\npackage x\n", want: "Deny things"},
		{name: "multi line", content: "\n# Deny things\n#\n#   on production\npackage x\n# later\n", want: "Deny things on production"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractDescription(tt.content); got != tt.want {
				t.Errorf("extractDescription() = %q, want %q", got, tt.want)
			}
		})
	}
}
