package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/teslashibe/go-cascade/internal/config"
	"github.com/teslashibe/go-cascade/pkg/asset"
)

func TestParseImage(t *testing.T) {
	tests := []struct {
		in   string
		kind asset.Kind
		id   int
		uri  string
	}{
		{in: "3", kind: asset.KindBundled, id: 3},
		{in: "file:///tmp/a.png", kind: asset.KindLocal},
		{in: "https://example.com/a.png", kind: asset.KindBundled, uri: "https://example.com/a.png"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			ref := parseImage(tt.in)
			if ref.Kind() != tt.kind {
				t.Fatalf("kind = %v, want %v", ref.Kind(), tt.kind)
			}
			if tt.kind == asset.KindLocal {
				if ref.Path() != tt.in {
					t.Errorf("path = %q, want %q", ref.Path(), tt.in)
				}
				return
			}
			d := ref.Descriptor()
			if d.ID != tt.id || d.URI != tt.uri {
				t.Errorf("descriptor = %+v, want id %d uri %q", d, tt.id, tt.uri)
			}
		})
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("CASCADE_BACKEND", "")
	t.Setenv("CASCADE_LOG_LEVEL", "")

	cfg, err := loadConfig("", config.BackendPigo, "debug")
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Backend != config.BackendPigo {
		t.Errorf("backend = %q, want pigo", cfg.Backend)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("log level = %q, want debug", cfg.LogLevel)
	}

	if _, err := loadConfig("", "tensorflow", ""); err == nil {
		t.Error("expected error for unknown backend")
	}
}

func TestNewRegistryFromConfig(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.BundleDir = dir
	cfg.Assets = []config.AssetEntry{
		{Name: "face", Type: "png", Dir: "images"},
		{Name: "cat", Type: "jpg"},
	}

	reg := newRegistry(cfg)
	a, ok := reg.Lookup(2)
	if !ok || a.Name != "cat" {
		t.Fatalf("Lookup(2) = %+v, %v", a, ok)
	}

	src, err := reg.ResolveSource(context.Background(), asset.Descriptor{ID: 1})
	if err != nil {
		t.Fatalf("ResolveSource: %v", err)
	}
	want := "file://" + filepath.Join(dir, "images", "face.png")
	if src.URI != want {
		t.Errorf("URI = %q, want %q", src.URI, want)
	}
}

func TestNewAppPigo(t *testing.T) {
	cfg := config.Default()
	cfg.CacheDir = filepath.Join(t.TempDir(), "cache")
	cfg.Backend = config.BackendPigo

	a, err := newApp(cfg)
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	defer a.Close()

	if a.backend.Name() != "pigo" {
		t.Errorf("backend = %q, want pigo", a.backend.Name())
	}
	if _, err := os.Stat(a.downloader.Dir()); err != nil {
		t.Errorf("cache dir not created: %v", err)
	}
}
