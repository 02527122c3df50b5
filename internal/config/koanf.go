package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

const (
	// EnvPrefix is stripped from environment variables before mapping them to
	// config paths. ARENA_DATABASE__URL maps to database.url.
	EnvPrefix = "ARENA_"

	// ConfigPathEnvVar overrides the config file search.
	ConfigPathEnvVar = "CONFIG_PATH"
)

// DefaultConfigPaths lists the config files searched in order. The first one
// found is used.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/arena/config.yaml",
}

// sliceConfigPaths are split on commas when they arrive as a single string
// from the environment.
var sliceConfigPaths = []string{
	"server.cors_origins",
}

// Load reads the configuration: defaults, then the config file (if any), then
// environment variables. A .env file in the working directory is loaded into
// the process environment first.
func Load() (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("config: load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: load file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("config: load env: %w", err)
	}

	if err := splitSliceFields(k); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: invalid: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// envTransformFunc maps ARENA_SECTION__FIELD_NAME to section.field_name.
func envTransformFunc(key string) string {
	key = strings.TrimPrefix(key, EnvPrefix)
	key = strings.ToLower(key)
	return strings.ReplaceAll(key, "__", ".")
}

func splitSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		s, ok := k.Get(path).(string)
		if !ok || s == "" {
			continue
		}
		var out []string
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		if err := k.Set(path, out); err != nil {
			return fmt.Errorf("config: set %s: %w", path, err)
		}
	}
	return nil
}
