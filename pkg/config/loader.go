package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rhuss/modelbridge/pkg/debug"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "MODELBRIDGE_"

// Load loads configuration from a layered set of sources.
//
// The loading order is:
//  1. Built-in defaults
//  2. YAML config file (explicit path, MODELBRIDGE_CONFIG env,
//     ./modelbridge.yaml, /etc/modelbridge/config.yaml)
//  3. Environment variable overrides
//  4. File reference resolution (_file suffix)
//  5. Per-family defaults
//  6. Validation
func Load(configPath string) (*Config, error) {
	cfg := Defaults()

	filePath := discoverConfigFile(configPath)
	if filePath != "" {
		if err := loadYAMLFile(filePath, &cfg); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", filePath, err)
		}
		debug.Log("config", "loaded config file", "path", filePath, "families", len(cfg.Families))
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	if err := resolveFileReferences(&cfg); err != nil {
		return nil, fmt.Errorf("resolving file references: %w", err)
	}

	applyFamilyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return &cfg, nil
}

// discoverConfigFile finds the config file path using the discovery order:
// 1. Explicit configPath argument
// 2. MODELBRIDGE_CONFIG environment variable
// 3. ./modelbridge.yaml in the current directory
// 4. /etc/modelbridge/config.yaml
//
// Returns empty string if no config file is found.
func discoverConfigFile(configPath string) string {
	if configPath != "" {
		return configPath
	}
	if envPath := os.Getenv(EnvPrefix + "CONFIG"); envPath != "" {
		return envPath
	}

	candidates := []string{
		"modelbridge.yaml",
		"/etc/modelbridge/config.yaml",
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// loadYAMLFile reads and parses a YAML file into the Config struct.
// Fields not present in the YAML retain their current (default) values.
// Unknown keys are rejected so typos in family settings do not go unnoticed.
func loadYAMLFile(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// applyEnvOverrides maps environment variables to config fields.
//
// Global settings use fixed names (MODELBRIDGE_TIMEOUT, ...). Backend
// settings of a configured family use MODELBRIDGE_<FAMILY>_URL and
// MODELBRIDGE_<FAMILY>_API_KEY, where <FAMILY> is the family name upper-cased
// with every non-alphanumeric character replaced by '_'.
// MODELBRIDGE_FAMILIES replaces the family list with a JSON array.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv(EnvPrefix + "FAMILIES"); v != "" {
		families, err := parseFamiliesJSON(v)
		if err != nil {
			return err
		}
		cfg.Families = families
	}

	if v := os.Getenv(EnvPrefix + "TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%sTIMEOUT: %w", EnvPrefix, err)
		}
		cfg.Engine.Timeout = d
	}
	if v := os.Getenv(EnvPrefix + "IMAGES_BASE_URL"); v != "" {
		cfg.Images.BaseURL = v
	}
	if v := os.Getenv(EnvPrefix + "IMAGES_API_KEY"); v != "" {
		cfg.Images.APIKey = v
	}
	if v := os.Getenv(EnvPrefix + "LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv(EnvPrefix + "METRICS_ADDR"); v != "" {
		cfg.Observability.Metrics.Addr = v
	}
	if v := os.Getenv(EnvPrefix + "METRICS_ENABLED"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sMETRICS_ENABLED: %w", EnvPrefix, err)
		}
		cfg.Observability.Metrics.Enabled = enabled
	}

	for i := range cfg.Families {
		f := &cfg.Families[i]
		prefix := EnvPrefix + envName(f.Name) + "_"
		if v := os.Getenv(prefix + "URL"); v != "" {
			f.Backend.URL = v
		}
		if v := os.Getenv(prefix + "STREAM_URL"); v != "" {
			f.Backend.StreamURL = v
		}
		if v := os.Getenv(prefix + "API_KEY"); v != "" {
			f.Backend.APIKey = v
		}
	}
	return nil
}

// envName converts a family name to its environment variable form.
func envName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(name) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// parseFamiliesJSON parses a JSON array of family configurations. Field
// names follow the YAML keys.
func parseFamiliesJSON(jsonStr string) ([]FamilyConfig, error) {
	// The structs carry yaml tags only; YAML is a superset of JSON.
	var families []FamilyConfig
	if !json.Valid([]byte(jsonStr)) {
		return nil, fmt.Errorf("parsing %sFAMILIES: invalid JSON", EnvPrefix)
	}
	if err := yaml.Unmarshal([]byte(jsonStr), &families); err != nil {
		return nil, fmt.Errorf("parsing %sFAMILIES: %w", EnvPrefix, err)
	}
	return families, nil
}

// resolveFileReferences reads _file fields and populates the corresponding
// value fields. A value set directly (or through the environment) wins.
func resolveFileReferences(cfg *Config) error {
	if img := &cfg.Images; img.APIKeyFile != "" && img.APIKey == "" {
		val, err := readSecretFile(img.APIKeyFile)
		if err != nil {
			return fmt.Errorf("images.api_key_file: %w", err)
		}
		img.APIKey = val
	}
	for i := range cfg.Families {
		b := &cfg.Families[i].Backend
		if b.APIKeyFile != "" && b.APIKey == "" {
			val, err := readSecretFile(b.APIKeyFile)
			if err != nil {
				return fmt.Errorf("families[%d].backend.api_key_file: %w", i, err)
			}
			b.APIKey = val
		}
	}
	return nil
}

// readSecretFile reads a file and returns its content with surrounding whitespace trimmed.
func readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
