package ledger

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// SpoolInput is one watched glob of event files.
type SpoolInput struct {
	Name     string `yaml:"name"`
	Glob     string `yaml:"glob"`
	ErrorDir string `yaml:"error_dir"`
	// DoneDir receives ingested files. Empty means delete them.
	DoneDir string `yaml:"done_dir"`
}

// SpoolInputs accepts either:
//  1. mapping form (preferred):
//     inputs:
//     napcat: /var/spool/onebot/*.jsonl
//     llonebot: {glob: /srv/llonebot/**/*.json, error_dir: /srv/llonebot/bad}
//  2. list form:
//     inputs:
//     - name: napcat
//     glob: /var/spool/onebot/*.jsonl
type SpoolInputs struct {
	Items []SpoolInput
}

func (in *SpoolInputs) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	switch value.Kind {
	case yaml.MappingNode:
		items := make([]SpoolInput, 0, len(value.Content)/2)
		for i := 0; i+1 < len(value.Content); i += 2 {
			name := strings.TrimSpace(value.Content[i].Value)
			v := value.Content[i+1]
			if name == "" {
				continue
			}
			switch v.Kind {
			case yaml.ScalarNode:
				if glob := strings.TrimSpace(v.Value); glob != "" {
					items = append(items, SpoolInput{Name: name, Glob: glob})
				}
			case yaml.MappingNode:
				var tmp SpoolInput
				if err := v.Decode(&tmp); err != nil {
					return err
				}
				tmp.Name = name
				tmp.Glob = strings.TrimSpace(tmp.Glob)
				if tmp.Glob != "" {
					items = append(items, tmp)
				}
			}
		}
		in.Items = items
		return nil
	case yaml.SequenceNode:
		var items []SpoolInput
		if err := value.Decode(&items); err != nil {
			return err
		}
		in.Items = items
		return nil
	default:
		return nil
	}
}

type SpoolConfig struct {
	Inputs       SpoolInputs   `yaml:"inputs"`
	PollInterval time.Duration `yaml:"poll_interval"`
	Concurrency  int           `yaml:"concurrency"`
}

type ListenConfig struct {
	// Groups is the source group allow-list. Empty admits all groups.
	Groups []string `yaml:"groups"`
}

type ServerConfig struct {
	Addr        string   `yaml:"addr"`
	CORSOrigins []string `yaml:"cors_origins"`
}

type Config struct {
	Store    StoreConfig  `yaml:"store"`
	Listen   ListenConfig `yaml:"listen"`
	Keywords Keywords     `yaml:"keywords"`
	Server   ServerConfig `yaml:"server"`
	Spool    SpoolConfig  `yaml:"spool"`
	Notify   NotifyConfig `yaml:"notify"`
	Log      LogConfig    `yaml:"log"`
	Debug    bool         `yaml:"debug"`
}

func DefaultConfig() *Config {
	cfg := &Config{Keywords: DefaultKeywords()}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Store.Backend == "" {
		c.Store.Backend = DialectSQLite
	}
	if c.Store.DataDir == "" {
		c.Store.DataDir = "data"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Spool.PollInterval <= 0 {
		c.Spool.PollInterval = 5 * time.Second
	}
	if c.Spool.Concurrency <= 0 {
		c.Spool.Concurrency = 4
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if c.Log.MaxSizeMB <= 0 {
		c.Log.MaxSizeMB = 100
	}
	if c.Log.MaxBackups <= 0 {
		c.Log.MaxBackups = 5
	}
	if c.Log.MaxAgeDays <= 0 {
		c.Log.MaxAgeDays = 30
	}
}

// LoadConfig reads a YAML file over the defaults. ${VAR} references are
// expanded from the environment first. A keyword list present in the file
// replaces the built-in list.
func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(b))), cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.applyDefaults()
	return cfg, nil
}
