// Package config defines the deployment configuration for the request and
// data services, loadable from JSON or YAML.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/NOAA-OWP/DMOD-sub002/errors"
	"github.com/NOAA-OWP/DMOD-sub002/pkg/security"
	"github.com/NOAA-OWP/DMOD-sub002/server"
	"github.com/NOAA-OWP/DMOD-sub002/storage/objstore"
)

// Storage backend modes.
const (
	StorageModeObject     = "object"     // S3-compatible object store
	StorageModeFilesystem = "filesystem" // local directory tree
)

// ServiceConfig identifies this deployment.
type ServiceConfig struct {
	Name        string `json:"name" yaml:"name"`
	Environment string `json:"environment,omitempty" yaml:"environment,omitempty"`
}

// StorageConfig selects and parameterizes the dataset backend.
type StorageConfig struct {
	Mode string `json:"mode" yaml:"mode"`
	// Root is the dataset root directory in filesystem mode.
	Root string `json:"root,omitempty" yaml:"root,omitempty"`
	// Object holds object-store settings in object mode.
	Object objstore.Config `json:"object,omitempty" yaml:"object,omitempty"`
}

// ValidationConfig points at an optional JSON schema gating uploaded config
// items.
type ValidationConfig struct {
	SchemaFile string `json:"schema_file,omitempty" yaml:"schema_file,omitempty"`
}

// Config is the complete application configuration.
type Config struct {
	Service    ServiceConfig    `json:"service" yaml:"service"`
	Server     server.Config    `json:"server" yaml:"server"`
	Security   security.Config  `json:"security,omitempty" yaml:"security,omitempty"`
	Storage    StorageConfig    `json:"storage" yaml:"storage"`
	Validation ValidationConfig `json:"validation,omitempty" yaml:"validation,omitempty"`
}

// Load reads a configuration file, selecting the codec by extension:
// .yaml/.yml parse as YAML, anything else as JSON.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapInvalid(err, "config", "Load", "read config file")
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, errors.WrapInvalid(err, "config", "Load", "parse YAML config")
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, errors.WrapInvalid(err, "config", "Load", "parse JSON config")
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration for the problems that should stop
// startup rather than surface later.
func (c *Config) Validate() error {
	fail := func(detail string) error {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "Validate", detail)
	}

	if c.Service.Name == "" {
		return fail("service.name is required")
	}
	if c.Server.ListenAddress == "" {
		return fail("server.listen_address is required")
	}

	switch c.Storage.Mode {
	case StorageModeObject:
		if c.Storage.Object.Endpoint == "" {
			return fail("storage.object.endpoint is required in object mode")
		}
	case StorageModeFilesystem:
		if c.Storage.Root == "" {
			return fail("storage.root is required in filesystem mode")
		}
	default:
		return fail(fmt.Sprintf("storage.mode must be %q or %q", StorageModeObject, StorageModeFilesystem))
	}

	tls := c.Security.TLS.Server
	if tls.Enabled && (tls.CertFile == "" || tls.KeyFile == "") {
		return fail("security.tls.server requires cert_file and key_file when enabled")
	}

	return nil
}
