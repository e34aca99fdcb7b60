package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/codemie-ai/codemie-code/errors"
	"github.com/codemie-ai/codemie-code/pkg/paths"
	"gopkg.in/yaml.v3"
)

var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads and parses a codemie configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.ConfigNotFound(path)
		}
		return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "failed to read config file").
			WithDetail("path", path)
	}

	return LoadFromBytes(data)
}

// LoadDefault finds and loads the configuration starting from the current
// working directory. A missing config file is not an error for the sync
// engine; callers get a default config instead.
func LoadDefault() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "failed to get current directory")
	}

	path, err := FindConfigFile(cwd)
	if err != nil {
		cfg := &Config{}
		cfg.SetDefaults()
		return cfg, nil
	}

	return Load(path)
}

// LoadFromBytes parses, validates, and defaults a raw YAML config document.
func LoadFromBytes(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := expandEnvVars(string(data))

	// Validate the raw document, not the typed struct: unknown keys are
	// dropped during struct unmarshaling and would escape the schema's
	// additionalProperties checks.
	var raw map[string]interface{}
	if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "failed to parse YAML configuration")
	}

	validator, err := NewSchemaValidator()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "failed to create validator")
	}
	if err := validator.Validate(raw); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeConfigValidation, "schema validation failed")
	}

	var config Config
	if err := yaml.Unmarshal([]byte(expanded), &config); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "failed to parse YAML configuration")
	}

	config.SetDefaults()

	if err := validate(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// validate applies the semantic checks the schema cannot express.
func validate(cfg *Config) error {
	if cfg.Sync.APIBaseURL != "" {
		u, err := url.Parse(cfg.Sync.APIBaseURL)
		if err != nil || !u.IsAbs() || u.Host == "" {
			return errors.ConfigInvalid(fmt.Sprintf("sync.api_base_url must be an absolute URL, got %q", cfg.Sync.APIBaseURL))
		}
	}
	return nil
}

// FindConfigFile searches for codemie configuration files with the following precedence:
// 1. Current directory up to filesystem root
// 2. XDG config directory (~/.config/codemie/codemie.yml)
func FindConfigFile(startDir string) (string, error) {
	configNames := []string{
		"codemie.yml",
		"codemie.yaml",
		".codemie.yml",
		".codemie.yaml",
	}

	// 1. Search from current directory up to filesystem root
	dir := startDir
	for {
		for _, name := range configNames {
			path := filepath.Join(dir, name)
			if info, err := os.Stat(path); err == nil && !info.IsDir() {
				return path, nil
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	// 2. Check XDG config directory
	if configDir := paths.ConfigDir(); configDir != "" {
		path := filepath.Join(configDir, "codemie.yml")
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, nil
		}
	}

	return "", errors.ConfigNotFound(startDir).WithDetail("searchPath", startDir)
}

// expandEnvVars replaces ${VAR} with environment variable values
func expandEnvVars(content string) string {
	return envVarRegex.ReplaceAllStringFunc(content, func(match string) string {
		varName := envVarRegex.FindStringSubmatch(match)[1]

		// Handle default values: ${VAR:-default}
		parts := strings.SplitN(varName, ":-", 2)
		varName = parts[0]
		defaultValue := ""
		if len(parts) > 1 {
			defaultValue = parts[1]
		}

		if value, ok := os.LookupEnv(varName); ok {
			return value
		}
		return defaultValue
	})
}
