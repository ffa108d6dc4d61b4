package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Runtime names accepted in ServiceConfig.Runtime.
const (
	RuntimeHFServer    = "hfserver"
	RuntimeLlamaCpp    = "llamacpp"
	RuntimeLlamaServer = "llamaserver"
)

const (
	defaultAddr     = ":8080"
	defaultLogLevel = "info"
)

// Config holds runtime parameters for the service.
// Zero values mean "unspecified" and are replaced by Validate.
type Config struct {
	Addr           string          `json:"addr" yaml:"addr" toml:"addr"`
	LogLevel       string          `json:"log_level" yaml:"log_level" toml:"log_level"`
	LogFormat      string          `json:"log_format" yaml:"log_format" toml:"log_format"`
	MaxBodyBytes   int64           `json:"max_body_bytes" yaml:"max_body_bytes" toml:"max_body_bytes"`
	CORS           CORSConfig      `json:"cors" yaml:"cors" toml:"cors"`
	HFServer       HFServerConfig  `json:"hfserver" yaml:"hfserver" toml:"hfserver"`
	Llama          LlamaConfig     `json:"llama" yaml:"llama" toml:"llama"`
	DefaultService string          `json:"default_service" yaml:"default_service" toml:"default_service"`
	Services       []ServiceConfig `json:"services" yaml:"services" toml:"services"`
}

// CORSConfig enables CORS on the HTTP API (opt-in).
type CORSConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled" toml:"enabled"`
	Origins []string `json:"origins" yaml:"origins" toml:"origins"`
	Methods []string `json:"methods" yaml:"methods" toml:"methods"`
	Headers []string `json:"headers" yaml:"headers" toml:"headers"`
}

// HFServerConfig points at a transformers pipeline server.
type HFServerConfig struct {
	URL              string `json:"url" yaml:"url" toml:"url"`
	Token            string `json:"token" yaml:"token" toml:"token"`
	ConnectTimeoutMS int    `json:"connect_timeout_ms" yaml:"connect_timeout_ms" toml:"connect_timeout_ms"`
	LoadTimeoutMS    int    `json:"load_timeout_ms" yaml:"load_timeout_ms" toml:"load_timeout_ms"`
	RequestTimeoutMS int    `json:"request_timeout_ms" yaml:"request_timeout_ms" toml:"request_timeout_ms"`
	ProbeTTLMS       int    `json:"probe_ttl_ms" yaml:"probe_ttl_ms" toml:"probe_ttl_ms"`
}

// LlamaConfig is shared by the llamacpp and llamaserver runtimes.
type LlamaConfig struct {
	ModelsDir      string   `json:"models_dir" yaml:"models_dir" toml:"models_dir"`
	Bin            string   `json:"bin" yaml:"bin" toml:"bin"`
	Host           string   `json:"host" yaml:"host" toml:"host"`
	PortStart      int      `json:"port_start" yaml:"port_start" toml:"port_start"`
	PortEnd        int      `json:"port_end" yaml:"port_end" toml:"port_end"`
	ContextSize    int      `json:"ctx_size" yaml:"ctx_size" toml:"ctx_size"`
	Threads        int      `json:"threads" yaml:"threads" toml:"threads"`
	GPULayers      int      `json:"gpu_layers" yaml:"gpu_layers" toml:"gpu_layers"`
	ExtraArgs      []string `json:"extra_args" yaml:"extra_args" toml:"extra_args"`
	ReadyTimeoutMS int      `json:"ready_timeout_ms" yaml:"ready_timeout_ms" toml:"ready_timeout_ms"`
}

// SettingsConfig holds default request settings for a service.
type SettingsConfig struct {
	Temperature float64 `json:"temperature" yaml:"temperature" toml:"temperature"`
	TopP        float64 `json:"top_p" yaml:"top_p" toml:"top_p"`
	MaxTokens   int     `json:"max_tokens" yaml:"max_tokens" toml:"max_tokens"`
}

// ServiceConfig declares one named completion service.
type ServiceConfig struct {
	Name    string `json:"name" yaml:"name" toml:"name"`
	Runtime string `json:"runtime" yaml:"runtime" toml:"runtime"`
	Model   string `json:"model" yaml:"model" toml:"model"`
	Task    string `json:"task" yaml:"task" toml:"task"`
	// Device selector; nil means CPU (-1).
	Device        *int           `json:"device,omitempty" yaml:"device,omitempty" toml:"device,omitempty"`
	Defaults      SettingsConfig `json:"defaults" yaml:"defaults" toml:"defaults"`
	TimeoutMS     int            `json:"timeout_ms" yaml:"timeout_ms" toml:"timeout_ms"`
	MaxQueueDepth int            `json:"max_queue_depth" yaml:"max_queue_depth" toml:"max_queue_depth"`
	MaxConcurrent int            `json:"max_concurrent" yaml:"max_concurrent" toml:"max_concurrent"`
	MaxWaitMS     int            `json:"max_wait_ms" yaml:"max_wait_ms" toml:"max_wait_ms"`
}

// DeviceSelector returns the configured device or -1.
func (s ServiceConfig) DeviceSelector() int {
	if s.Device == nil {
		return -1
	}
	return *s.Device
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}

// LoadDotEnv loads KEY=VALUE files into the process environment without
// overriding variables that are already set. Missing files are skipped.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// ApplyEnv overrides selected fields from the environment.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("COMPLETIOND_ADDR"); v != "" {
		c.Addr = v
	}
	if v := os.Getenv("COMPLETIOND_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("COMPLETIOND_HFSERVER_URL"); v != "" {
		c.HFServer.URL = v
	}
	if v := os.Getenv("HF_TOKEN"); v != "" && c.HFServer.Token == "" {
		c.HFServer.Token = v
	}
	if v := os.Getenv("COMPLETIOND_MODELS_DIR"); v != "" {
		c.Llama.ModelsDir = v
	}
}

// Validate applies defaults and rejects inconsistent service declarations.
func (c *Config) Validate() error {
	if c.Addr == "" {
		c.Addr = defaultAddr
	}
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
	if len(c.Services) == 0 {
		return errors.New("no services configured")
	}
	seen := make(map[string]bool, len(c.Services))
	for i := range c.Services {
		s := &c.Services[i]
		s.Name = strings.TrimSpace(s.Name)
		if s.Name == "" {
			s.Name = s.Model
		}
		if strings.TrimSpace(s.Model) == "" {
			return fmt.Errorf("service %d (%q): model is required", i, s.Name)
		}
		if seen[s.Name] {
			return fmt.Errorf("duplicate service name %q", s.Name)
		}
		seen[s.Name] = true
		if s.Runtime == "" {
			s.Runtime = RuntimeHFServer
		}
		switch s.Runtime {
		case RuntimeHFServer, RuntimeLlamaCpp, RuntimeLlamaServer:
		default:
			return fmt.Errorf("service %q: unknown runtime %q", s.Name, s.Runtime)
		}
		if s.TimeoutMS < 0 || s.MaxQueueDepth < 0 || s.MaxConcurrent < 0 || s.MaxWaitMS < 0 {
			return fmt.Errorf("service %q: limits must be >= 0", s.Name)
		}
	}
	if c.DefaultService == "" {
		c.DefaultService = c.Services[0].Name
	} else if !seen[c.DefaultService] {
		return fmt.Errorf("default service %q is not configured", c.DefaultService)
	}
	return nil
}
