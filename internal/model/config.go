package model

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// AccountConfig holds the connection settings for one IMAP account.
// The account password lives in the system keyring, never in this file.
type AccountConfig struct {
	// Label is the store identifier shown in the form and the keyring key.
	Label string `mapstructure:"label" yaml:"label"`

	Host     string `mapstructure:"host" yaml:"host"`
	Port     string `mapstructure:"port" yaml:"port"`
	Username string `mapstructure:"username" yaml:"username"`
	TLS      bool   `mapstructure:"tls" yaml:"tls"`
}

// ExportConfig holds the defaults the form is seeded with.
type ExportConfig struct {
	// BaseDir is where workbooks and attachment trees are created.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`

	// DefaultDaysBack seeds the start date relative to today.
	DefaultDaysBack int `mapstructure:"default_days_back" yaml:"default_days_back"`

	// DefaultMaxItems seeds the maximum item count (0 = unbounded).
	DefaultMaxItems int `mapstructure:"default_max_items" yaml:"default_max_items"`

	// ExcludeInlineImages seeds the inline-image toggle.
	ExcludeInlineImages bool `mapstructure:"exclude_inline_images" yaml:"exclude_inline_images"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	Accounts []AccountConfig `mapstructure:"accounts" yaml:"accounts"`
	Export   ExportConfig    `mapstructure:"export" yaml:"export"`
}

// AccountByLabel returns the account with the given label, or nil.
func (c *AppConfig) AccountByLabel(label string) *AccountConfig {
	for i := range c.Accounts {
		if c.Accounts[i].Label == label {
			return &c.Accounts[i]
		}
	}
	return nil
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/mailexport/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "mailexport", "config.yaml")
}

// defaultAppConfig returns a sensible default configuration.
func defaultAppConfig() *AppConfig {
	home, _ := os.UserHomeDir()
	return &AppConfig{
		Export: ExportConfig{
			BaseDir:             filepath.Join(home, "Desktop"),
			DefaultDaysBack:     30,
			DefaultMaxItems:     5000,
			ExcludeInlineImages: true,
		},
	}
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// If the file does not exist, it returns a default configuration.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	defaults := defaultAppConfig()
	v.SetDefault("export.base_dir", defaults.Export.BaseDir)
	v.SetDefault("export.default_days_back", defaults.Export.DefaultDaysBack)
	v.SetDefault("export.default_max_items", defaults.Export.DefaultMaxItems)
	v.SetDefault("export.exclude_inline_images", defaults.Export.ExcludeInlineImages)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(*os.PathError); ok {
			return defaults, nil
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return defaults, nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := defaultAppConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	// Fill per-account defaults.
	for i := range cfg.Accounts {
		if cfg.Accounts[i].Port == "" {
			cfg.Accounts[i].Port = "993"
		}
	}

	return cfg, nil
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("accounts", cfg.Accounts)
	v.Set("export", cfg.Export)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
