// Package config loads the threadmail YAML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// IMAPConfig holds the server and account settings for one IMAP session.
type IMAPConfig struct {
	Host     string `mapstructure:"host" yaml:"host"`
	Port     int    `mapstructure:"port" yaml:"port"`
	Username string `mapstructure:"username" yaml:"username"`

	// Password may be left empty and supplied through the IMAP_PASSWORD
	// environment variable or the system keyring instead.
	Password string `mapstructure:"password" yaml:"password"`

	UseSSL bool `mapstructure:"use_ssl" yaml:"use_ssl"`

	// Auth selects the authentication branch: "password" or "oauth2".
	Auth string `mapstructure:"auth" yaml:"auth"`
}

// OAuth2Config holds the refresh-token grant settings for the oauth2
// authentication branch.
type OAuth2Config struct {
	ClientID     string   `mapstructure:"client_id" yaml:"client_id"`
	ClientSecret string   `mapstructure:"client_secret" yaml:"client_secret"`
	RefreshToken string   `mapstructure:"refresh_token" yaml:"refresh_token"`
	TokenURL     string   `mapstructure:"token_url" yaml:"token_url"`
	Scopes       []string `mapstructure:"scopes" yaml:"scopes"`
}

// Config is the top-level application configuration.
type Config struct {
	IMAP   IMAPConfig   `mapstructure:"imap" yaml:"imap"`
	OAuth2 OAuth2Config `mapstructure:"oauth2" yaml:"oauth2"`

	// AllowedFolders restricts which mailboxes the session may access.
	// Empty means unrestricted.
	AllowedFolders []string `mapstructure:"allowed_folders" yaml:"allowed_folders"`

	// TokenCachePath is where refreshed OAuth2 tokens are persisted.
	TokenCachePath string `mapstructure:"token_cache_path" yaml:"token_cache_path"`
}

// DefaultPath returns the default location of the configuration file,
// ~/.config/threadmail/config.yaml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "threadmail", "config.yaml")
}

// DefaultTokenCachePath returns the default token database location.
func DefaultTokenCachePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "tokens.db")
	}
	return filepath.Join(home, ".config", "threadmail", "tokens.db")
}

// Load reads the configuration from a YAML file using Viper. A missing
// password falls back to the IMAP_PASSWORD environment variable. The port
// defaults to 993 with SSL and 143 without.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetDefault("imap.use_ssl", true)
	v.SetDefault("imap.auth", "password")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if cfg.IMAP.Password == "" {
		cfg.IMAP.Password = os.Getenv("IMAP_PASSWORD")
	}
	if cfg.IMAP.Port == 0 {
		if cfg.IMAP.UseSSL {
			cfg.IMAP.Port = 993
		} else {
			cfg.IMAP.Port = 143
		}
	}
	if cfg.TokenCachePath == "" {
		cfg.TokenCachePath = DefaultTokenCachePath()
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.IMAP.Host == "" {
		return errors.New("imap.host is required")
	}
	if c.IMAP.Username == "" {
		return errors.New("imap.username is required")
	}
	switch c.IMAP.Auth {
	case "password":
		// Password may still come from the keyring at startup.
	case "oauth2":
		if c.OAuth2.ClientID == "" {
			return errors.New("oauth2.client_id is required for oauth2 authentication")
		}
	default:
		return fmt.Errorf("unknown imap.auth %q (want password or oauth2)", c.IMAP.Auth)
	}
	return nil
}
