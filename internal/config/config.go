package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the on-disk configuration for the consumer daemon. CLI flags
// (see cmd/ringconsumerd) override whatever a config file sets.
type Config struct {
	TraceRoot     string              `json:"trace_root" yaml:"trace_root"`
	OutputDir     string              `json:"output_dir" yaml:"output_dir"`
	Workers       int                 `json:"workers" yaml:"workers"`
	Mode          string              `json:"mode" yaml:"mode"` // all, flight-only, normal-only
	Append        bool                `json:"append" yaml:"append"`
	Verbose       bool                `json:"verbose" yaml:"verbose"`
	DrainTimeout  time.Duration       `json:"drain_timeout" yaml:"drain_timeout"`
	Observability ObservabilityConfig `json:"observability" yaml:"observability"`
}

type ObservabilityConfig struct {
	OTLP OTLPConfig `json:"otlp" yaml:"otlp"`
}

type OTLPConfig struct {
	Endpoint    string            `json:"endpoint" yaml:"endpoint"`
	Protocol    string            `json:"protocol" yaml:"protocol"` // grpc or http
	Insecure    bool              `json:"insecure" yaml:"insecure"`
	Headers     map[string]string `json:"headers" yaml:"headers"`
	ServiceName string            `json:"service_name" yaml:"service_name"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	content := SubstituteEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(content), &cfg); err != nil {
		// Try JSON if YAML fails
		if err := json.Unmarshal([]byte(content), &cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config file (tried YAML and JSON): %w", err)
		}
	}

	return &cfg, nil
}

func SaveConfig(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

var envRegex = regexp.MustCompile(`\${(\w+)(?::-([^}]*))?}`)

func SubstituteEnvVars(input string) string {
	return envRegex.ReplaceAllStringFunc(input, func(m string) string {
		matches := envRegex.FindStringSubmatch(m)
		if len(matches) < 2 {
			return m
		}
		envVar := matches[1]
		if val, ok := os.LookupEnv(envVar); ok {
			return val
		}
		if len(matches) > 2 && strings.Contains(m, ":-") {
			return matches[2]
		}
		return m
	})
}
