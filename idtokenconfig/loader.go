// Package idtokenconfig loads idtoken.Config from Go values, JSON, YAML,
// Lua or environment variables.
package idtokenconfig

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/keksclan/goIDToken/idtoken"
	"gopkg.in/yaml.v3"
)

// Loader loads an idtoken.Config from a source.
type Loader interface {
	Load(ctx context.Context) (*idtoken.Config, error)
}

// goLoader returns a static config.
type goLoader struct {
	cfg idtoken.Config
}

// FromGo creates a Loader that returns the provided config directly.
func FromGo(cfg idtoken.Config) Loader {
	return &goLoader{cfg: cfg}
}

func (l *goLoader) Load(_ context.Context) (*idtoken.Config, error) {
	cfg := l.cfg
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return &cfg, nil
}

// fileConfig mirrors idtoken.Config for JSON and YAML files. Durations are
// whole seconds or milliseconds as the field name says.
type fileConfig struct {
	ProjectID   string    `json:"project_id" yaml:"project_id"`
	Issuer      string    `json:"issuer" yaml:"issuer"`
	AllowedAlgs []string  `json:"allowed_algs" yaml:"allowed_algs"`
	ClockSkew   int       `json:"clock_skew_sec" yaml:"clock_skew_sec"`
	ClientIDs   []string  `json:"client_ids" yaml:"client_ids"`
	Certs       fileCerts `json:"certs" yaml:"certs"`
}

type fileCerts struct {
	URL            string            `json:"url" yaml:"url"`
	Format         string            `json:"format" yaml:"format"`
	DefaultTTLSec  int               `json:"default_ttl_sec" yaml:"default_ttl_sec"`
	FetchTimeoutMs int               `json:"fetch_timeout_ms" yaml:"fetch_timeout_ms"`
	Namespace      string            `json:"namespace" yaml:"namespace"`
	RedisURL       string            `json:"redis_url" yaml:"redis_url"`
	ExtraHeaders   map[string]string `json:"extra_headers" yaml:"extra_headers"`
	MissTTLSec     int               `json:"miss_ttl_sec" yaml:"miss_ttl_sec"`
}

func (fc fileConfig) toConfig() idtoken.Config {
	return idtoken.Config{
		ProjectID:   fc.ProjectID,
		Issuer:      fc.Issuer,
		AllowedAlgs: fc.AllowedAlgs,
		ClockSkew:   time.Duration(fc.ClockSkew) * time.Second,
		ClientIDs:   fc.ClientIDs,
		Certs: idtoken.CertsConfig{
			URL:          fc.Certs.URL,
			Format:       fc.Certs.Format,
			DefaultTTL:   time.Duration(fc.Certs.DefaultTTLSec) * time.Second,
			FetchTimeout: time.Duration(fc.Certs.FetchTimeoutMs) * time.Millisecond,
			Namespace:    fc.Certs.Namespace,
			RedisURL:     fc.Certs.RedisURL,
			ExtraHeaders: fc.Certs.ExtraHeaders,
			MissTTL:      time.Duration(fc.Certs.MissTTLSec) * time.Second,
		},
	}
}

// fileLoader loads config from a JSON or YAML file.
type fileLoader struct {
	path   string
	format string
	decode func([]byte, any) error
}

// FromJSONFile creates a Loader that reads config from a JSON file.
func FromJSONFile(path string) Loader {
	return &fileLoader{path: path, format: "json", decode: json.Unmarshal}
}

// FromYAMLFile creates a Loader that reads config from a YAML file.
func FromYAMLFile(path string) Loader {
	return &fileLoader{path: path, format: "yaml", decode: yaml.Unmarshal}
}

func (l *fileLoader) Load(_ context.Context) (*idtoken.Config, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("read %s config: %w", l.format, err)
	}
	var fc fileConfig
	if err := l.decode(data, &fc); err != nil {
		return nil, fmt.Errorf("parse %s config: %w", l.format, err)
	}
	cfg := fc.toConfig()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return &cfg, nil
}
