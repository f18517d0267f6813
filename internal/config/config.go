// Package config loads the optional pgtally.yaml project file and the
// DB_* environment block.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vvka-141/pgtally/pkg/pgtally"
)

// ErrConfigNotFound is returned when the config file does not exist.
// Callers can check for this with errors.Is(err, config.ErrConfigNotFound).
var ErrConfigNotFound = errors.New("config file not found")

type ConnectionConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	Username       string `yaml:"username"`
	Database       string `yaml:"database"`
	SSLMode        string `yaml:"sslmode"`
	AuthMethod     string `yaml:"auth_method,omitempty"`
	AzureTenantID  string `yaml:"azure_tenant_id,omitempty"`
	AzureClientID  string `yaml:"azure_client_id,omitempty"`
	AWSRegion      string `yaml:"aws_region,omitempty"`
	GoogleInstance string `yaml:"google_instance,omitempty"`
}

// FilesConfig describes the dated input file sequence.
type FilesConfig struct {
	Pattern string `yaml:"pattern"`
	First   int    `yaml:"first"`
	Last    int    `yaml:"last"`
}

type ProjectConfig struct {
	Connection     ConnectionConfig `yaml:"connection"`
	ChunkSize      int              `yaml:"chunk_size"`
	Table          string           `yaml:"table"`
	CreateTable    bool             `yaml:"create_table"`
	Files          FilesConfig      `yaml:"files"`
	ValidationFile string           `yaml:"validation_file"`
	Timeout        string           `yaml:"timeout"`
}

const ConfigFileName = "pgtally.yaml"

func Load(dir string) (*ProjectConfig, error) {
	path := filepath.Join(dir, ConfigFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrConfigNotFound
		}
		return nil, err
	}

	var cfg ProjectConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%s: %w: %w", path, pgtally.ErrInvalidConfig, err)
	}
	return &cfg, nil
}

// ApplyDefaults fills zero-valued fields of rc from the project file.
// Values already set on rc (from flags) win.
func (p *ProjectConfig) ApplyDefaults(rc *pgtally.RunConfig) error {
	if p == nil {
		return nil
	}

	if rc.ChunkSize == 0 {
		rc.ChunkSize = p.ChunkSize
	}
	if rc.Table == "" {
		rc.Table = p.Table
	}
	if rc.FilePattern == "" {
		rc.FilePattern = p.Files.Pattern
	}
	if rc.FirstFile == 0 && rc.LastFile == 0 {
		rc.FirstFile, rc.LastFile = p.Files.First, p.Files.Last
	}
	if rc.ValidationFile == "" {
		rc.ValidationFile = p.ValidationFile
	}
	rc.CreateTable = rc.CreateTable || p.CreateTable

	if rc.Timeout == 0 && p.Timeout != "" {
		d, err := time.ParseDuration(p.Timeout)
		if err != nil {
			return fmt.Errorf("invalid timeout %q in %s: %w", p.Timeout, ConfigFileName, pgtally.ErrInvalidConfig)
		}
		rc.Timeout = d
	}

	return nil
}
