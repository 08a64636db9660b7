// Package config provides configuration management for the mod upload
// validation service. It handles the YAML-based validation policy:
// schema variant, filename conventions, storage, logging, and signing.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Sentinel errors for configuration validation
var (
	ErrVersionRequired     = errors.New("version is required")
	ErrUnknownVariant      = errors.New("validation.schema_variant must be \"strict\" or \"minimal\"")
	ErrManifestExtRequired = errors.New("naming.manifest_extension is required")
	ErrAssemblyExtRequired = errors.New("naming.assembly_extension is required")
	ErrKeyFileRequired     = errors.New("signing.public_key_file is required when signing is enabled")
	ErrScanImageRequired   = errors.New("scanning.image is required when scanning is enabled")
)

// Config represents the top-level configuration structure.
type Config struct {
	Version    string           `yaml:"version"`
	Metadata   Metadata         `yaml:"metadata"`
	Validation ValidationConfig `yaml:"validation"`
	Naming     NamingConfig     `yaml:"naming"`
	Storage    StorageConfig    `yaml:"storage"`
	Logging    LoggingConfig    `yaml:"logging"`
	Signing    SigningConfig    `yaml:"signing"`
	Scanning   ScanningConfig   `yaml:"scanning"`
}

// Metadata represents metadata about the configuration.
type Metadata struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Updated     string `yaml:"updated"`
}

// ValidationConfig selects the manifest rule set.
type ValidationConfig struct {
	// SchemaVariant is "strict" (author and description required) or
	// "minimal".
	SchemaVariant string `yaml:"schema_variant"`
}

// NamingConfig holds the filename conventions the classifier and the
// resource locator match against.
type NamingConfig struct {
	ManifestExtension string `yaml:"manifest_extension"`
	AssemblyExtension string `yaml:"assembly_extension"`
	ResourceSuffix    string `yaml:"resource_suffix"`
	LoaderFilename    string `yaml:"loader_filename"`
}

// StorageConfig represents scan-history storage configuration.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// SigningConfig controls optional detached-signature verification of
// uploads.
type SigningConfig struct {
	Enabled       bool   `yaml:"enabled"`
	PublicKeyFile string `yaml:"public_key_file"`
}

// ScanningConfig controls optional malware scanning of uploads before
// validation.
type ScanningConfig struct {
	Enabled bool   `yaml:"enabled"`
	Image   string `yaml:"image"`
}

// Default returns the built-in policy used when no config file is given.
func Default() *Config {
	return &Config{
		Version: "1.0",
		Validation: ValidationConfig{
			SchemaVariant: "strict",
		},
		Naming: NamingConfig{
			ManifestExtension: ".manifest",
			AssemblyExtension: ".dll",
			ResourceSuffix:    "manifest.json",
			LoaderFilename:    "ModLoader.exe",
		},
		Storage: StorageConfig{
			DatabasePath: "modvet.db",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Scanning: ScanningConfig{
			Image: "clamav/clamav:stable",
		},
	}
}

// Load reads and validates a configuration file, filling omitted naming
// and logging fields with the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for required fields and valid values.
func (c *Config) Validate() error {
	if c.Version == "" {
		return ErrVersionRequired
	}
	switch c.Validation.SchemaVariant {
	case "strict", "minimal":
	default:
		return ErrUnknownVariant
	}
	if c.Naming.ManifestExtension == "" {
		return ErrManifestExtRequired
	}
	if c.Naming.AssemblyExtension == "" {
		return ErrAssemblyExtRequired
	}
	if c.Signing.Enabled && c.Signing.PublicKeyFile == "" {
		return ErrKeyFileRequired
	}
	if c.Scanning.Enabled && c.Scanning.Image == "" {
		return ErrScanImageRequired
	}
	return nil
}
