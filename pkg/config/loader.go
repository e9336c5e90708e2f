package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// FileName is the configuration file looked up in the config directory.
const FileName = "supportdesk.yaml"

// SupportDeskYAMLConfig represents the complete supportdesk.yaml file structure.
type SupportDeskYAMLConfig struct {
	Server     *ServerConfig     `yaml:"server"`
	Dispatcher *DispatcherConfig `yaml:"dispatcher"`
	Transport  *TransportConfig  `yaml:"transport"`
	Presence   *PresenceConfig   `yaml:"presence"`
	Store      *StoreConfig      `yaml:"store"`
	Turn       *TurnConfig       `yaml:"turn"`
}

// Initialize loads, validates, and returns ready-to-use configuration.
//
// Steps performed:
//  1. Read supportdesk.yaml from configDir (missing file means defaults)
//  2. Expand {{.VAR}} environment templates
//  3. Parse YAML
//  4. Merge user values over built-in defaults
//  5. Validate
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	log.Info("Configuration initialized successfully",
		"transport", cfg.Transport.Mode,
		"presence", cfg.Presence.Backend,
		"store", cfg.Store.Backend,
		"workers", cfg.Dispatcher.WorkerCount)

	return cfg, nil
}

func load(_ context.Context, configDir string) (*Config, error) {
	var user SupportDeskYAMLConfig
	if err := loadYAML(filepath.Join(configDir, FileName), &user); err != nil {
		return nil, NewLoadError(FileName, err)
	}

	cfg := &Config{
		configDir:  configDir,
		Server:     DefaultServerConfig(),
		Dispatcher: DefaultDispatcherConfig(),
		Transport:  DefaultTransportConfig(),
		Presence:   DefaultPresenceConfig(),
		Store:      DefaultStoreConfig(),
		Turn:       DefaultTurnConfig(),
	}

	// Non-zero user values override the defaults; unset ones keep them.
	sections := []struct {
		name string
		dst  any
		src  any
		set  bool
	}{
		{"server", cfg.Server, user.Server, user.Server != nil},
		{"dispatcher", cfg.Dispatcher, user.Dispatcher, user.Dispatcher != nil},
		{"transport", cfg.Transport, user.Transport, user.Transport != nil},
		{"presence", cfg.Presence, user.Presence, user.Presence != nil},
		{"store", cfg.Store, user.Store, user.Store != nil},
		{"turn", cfg.Turn, user.Turn, user.Turn != nil},
	}
	for _, s := range sections {
		if !s.set {
			continue
		}
		if err := mergo.Merge(s.dst, s.src, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge %s config: %w", s.name, err)
		}
	}

	return cfg, nil
}

func loadYAML(path string, target any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Warn("Configuration file not found, using built-in defaults", "path", path)
			return nil
		}
		return err
	}

	data = ExpandEnv(data)

	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}
	return nil
}

func validate(cfg *Config) error {
	return NewValidator(cfg).ValidateAll()
}
