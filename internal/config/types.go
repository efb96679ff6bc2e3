package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/c2h5oh/datasize"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultPath is where the CLI looks for its configuration.
	DefaultPath = "/etc/ingot/config.yaml"

	DefaultStateDir      = "/var/lib/ingot"
	DefaultLibvirtSocket = "/var/run/libvirt/libvirt-sock"
	DefaultVolumeSize    = 64 * datasize.MB
)

// Backend kinds a pool can use.
const (
	BackendMemory   = "memory"
	BackendFlatFile = "flatfile"
	BackendLVM      = "lvm"
	BackendLibvirt  = "libvirt"
)

// Config is the ingot configuration file.
type Config struct {
	LogLevel  string `yaml:"log_level,omitempty"`
	LogFormat string `yaml:"log_format,omitempty"` // text or json

	// StateDir holds the record stores of backends that keep records outside
	// their own storage (lvm, libvirt).
	StateDir string `yaml:"state_dir,omitempty"`

	// DefaultVolumeSize is used by "volume create" without --size.
	DefaultVolumeSize datasize.ByteSize `yaml:"default_volume_size,omitempty"`

	Libvirt LibvirtConfig `yaml:"libvirt,omitempty"`
	Pools   []PoolConfig  `yaml:"pools"`
}

// LibvirtConfig describes the libvirt daemon connection.
type LibvirtConfig struct {
	Socket  string        `yaml:"socket,omitempty"`
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// PoolConfig declares one storage pool and its backend.
type PoolConfig struct {
	Name    string `yaml:"name"`
	Backend string `yaml:"backend"`

	// flatfile
	Path string `yaml:"path,omitempty"`

	// lvm
	VolumeGroup string `yaml:"volume_group,omitempty"`

	// libvirt
	LibvirtPool string `yaml:"libvirt_pool,omitempty"`
	Format      string `yaml:"format,omitempty"` // raw or qcow2

	// Sudo prefixes host commands (losetup, lvcreate) with "sudo -n".
	Sudo bool `yaml:"sudo,omitempty"`
	// CommandTimeout bounds each host command. Zero uses the backend default.
	CommandTimeout time.Duration `yaml:"command_timeout,omitempty"`

	// StateDir is copied from Config by applyDefaults.
	StateDir string `yaml:"-"`
}

var poolNamePattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9_-]*[a-z0-9])?$`)

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if len(c.Pools) == 0 {
		return fmt.Errorf("at least one pools entry is required")
	}

	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("log_format must be text or json, got %q", c.LogFormat)
	}

	seen := make(map[string]bool)
	for i := range c.Pools {
		p := &c.Pools[i]
		if err := p.Validate(); err != nil {
			return fmt.Errorf("pools[%d]: %w", i, err)
		}
		if seen[p.Name] {
			return fmt.Errorf("pools[%d]: duplicate pool name %q", i, p.Name)
		}
		seen[p.Name] = true
	}

	return nil
}

// Validate checks one pool declaration.
func (p *PoolConfig) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("name is required")
	}
	if !poolNamePattern.MatchString(p.Name) {
		return fmt.Errorf("name must start and end with alphanumeric characters and contain only alphanumeric, hyphens, or underscores, got %q", p.Name)
	}
	if p.CommandTimeout < 0 {
		return fmt.Errorf("command_timeout must be >= 0, got %s", p.CommandTimeout)
	}

	switch p.Backend {
	case BackendMemory:
	case BackendFlatFile:
		if p.Path == "" {
			return fmt.Errorf("path is required for %s backend", p.Backend)
		}
	case BackendLVM:
		if p.VolumeGroup == "" {
			return fmt.Errorf("volume_group is required for %s backend", p.Backend)
		}
	case BackendLibvirt:
		if p.LibvirtPool == "" {
			return fmt.Errorf("libvirt_pool is required for %s backend", p.Backend)
		}
		if p.Format != "raw" && p.Format != "qcow2" {
			return fmt.Errorf("format must be raw or qcow2, got %q", p.Format)
		}
	case "":
		return fmt.Errorf("backend is required")
	default:
		return fmt.Errorf("unknown backend %q (must be memory, flatfile, lvm or libvirt)", p.Backend)
	}

	return nil
}

// Pool returns the pool declaration named name.
func (c *Config) Pool(name string) (*PoolConfig, error) {
	for i := range c.Pools {
		if c.Pools[i].Name == name {
			return &c.Pools[i], nil
		}
	}
	return nil, fmt.Errorf("pool %q is not configured", name)
}

// applyDefaults normalizes user input and fills omitted fields.
func (c *Config) applyDefaults() {
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
	if c.StateDir == "" {
		c.StateDir = DefaultStateDir
	}
	if c.DefaultVolumeSize == 0 {
		c.DefaultVolumeSize = DefaultVolumeSize
	}
	if c.Libvirt.Socket == "" {
		c.Libvirt.Socket = DefaultLibvirtSocket
	}
	if c.Libvirt.Timeout == 0 {
		c.Libvirt.Timeout = 5 * time.Second
	}

	for i := range c.Pools {
		p := &c.Pools[i]
		p.Name = strings.ToLower(strings.TrimSpace(p.Name))
		p.Backend = strings.ToLower(strings.TrimSpace(p.Backend))
		p.Format = strings.ToLower(strings.TrimSpace(p.Format))
		if p.Backend == BackendLibvirt && p.Format == "" {
			p.Format = "raw"
		}
		p.StateDir = c.StateDir
	}
}

// LoadFromFile loads and validates a configuration file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return LoadFromYAML(data)
}

// LoadFromYAML parses and validates configuration YAML.
func LoadFromYAML(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}
