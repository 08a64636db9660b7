package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "modvet.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config must validate, got %v", err)
	}
	if cfg.Validation.SchemaVariant != "strict" {
		t.Errorf("expected strict variant, got %q", cfg.Validation.SchemaVariant)
	}
	if cfg.Naming.ManifestExtension != ".manifest" || cfg.Naming.AssemblyExtension != ".dll" {
		t.Errorf("unexpected naming defaults: %+v", cfg.Naming)
	}
	if cfg.Naming.LoaderFilename != "ModLoader.exe" {
		t.Errorf("unexpected loader filename: %q", cfg.Naming.LoaderFilename)
	}
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
version: "1.0"
metadata:
  name: test policy
validation:
  schema_variant: minimal
naming:
  manifest_extension: ".modmanifest"
storage:
  database_path: scans.db
logging:
  level: debug
  format: json
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Validation.SchemaVariant != "minimal" {
		t.Errorf("expected minimal variant, got %q", cfg.Validation.SchemaVariant)
	}
	if cfg.Naming.ManifestExtension != ".modmanifest" {
		t.Errorf("expected overridden manifest extension, got %q", cfg.Naming.ManifestExtension)
	}
	// Fields the file omits keep the defaults.
	if cfg.Naming.AssemblyExtension != ".dll" {
		t.Errorf("expected default assembly extension, got %q", cfg.Naming.AssemblyExtension)
	}
	if cfg.Storage.DatabasePath != "scans.db" {
		t.Errorf("expected scans.db, got %q", cfg.Storage.DatabasePath)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("unexpected logging config: %+v", cfg.Logging)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "version: [unclosed")
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for invalid YAML")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{
			name:   "valid default",
			mutate: func(c *Config) {},
		},
		{
			name:    "missing version",
			mutate:  func(c *Config) { c.Version = "" },
			wantErr: ErrVersionRequired,
		},
		{
			name:    "unknown schema variant",
			mutate:  func(c *Config) { c.Validation.SchemaVariant = "lenient" },
			wantErr: ErrUnknownVariant,
		},
		{
			name:    "missing manifest extension",
			mutate:  func(c *Config) { c.Naming.ManifestExtension = "" },
			wantErr: ErrManifestExtRequired,
		},
		{
			name:    "missing assembly extension",
			mutate:  func(c *Config) { c.Naming.AssemblyExtension = "" },
			wantErr: ErrAssemblyExtRequired,
		},
		{
			name:    "signing enabled without key file",
			mutate:  func(c *Config) { c.Signing.Enabled = true },
			wantErr: ErrKeyFileRequired,
		},
		{
			name: "signing enabled with key file",
			mutate: func(c *Config) {
				c.Signing.Enabled = true
				c.Signing.PublicKeyFile = "trusted.asc"
			},
		},
		{
			name: "scanning enabled without image",
			mutate: func(c *Config) {
				c.Scanning.Enabled = true
				c.Scanning.Image = ""
			},
			wantErr: ErrScanImageRequired,
		},
		{
			name:   "scanning enabled with default image",
			mutate: func(c *Config) { c.Scanning.Enabled = true },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("expected no error, got %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}
