package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type ServerConfig struct {
	Port int `toml:"port"`
}

type WordPressConfig struct {
	// BaseURL is the root of the WordPress install, e.g. https://example.com
	BaseURL      string `toml:"base_url"`
	ModernBase   string `toml:"modern_base"`   // Better Messages REST namespace
	LegacyBase   string `toml:"legacy_base"`   // BuddyPress messages REST namespace
	AuthBase     string `toml:"auth_base"`     // JWT auth plugin namespace
	MembersBase  string `toml:"members_base"`  // BuddyPress members namespace
	TimeoutSecs  int    `toml:"timeout_seconds"`
	RefetchDelay int    `toml:"refetch_delay_ms"` // delay before post-send refetch
	PerPage      int    `toml:"per_page"`
}

type JWTConfig struct {
	Secret     string `toml:"secret"` // For gateway session signing
	ExpiryHour int    `toml:"expiry_hours"`
}

type StorageConfig struct {
	Folder string `toml:"folder"`
}

type Config struct {
	Server    ServerConfig    `toml:"server"`
	WordPress WordPressConfig `toml:"wordpress"`
	JWT       JWTConfig       `toml:"jwt"`
	Storage   StorageConfig   `toml:"storage"`
}

func LoadConfig(filepath string) (*Config, error) {
	var config Config

	// Set default values
	config.Server.Port = 3000
	config.WordPress.TimeoutSecs = 15
	config.WordPress.RefetchDelay = 1200
	config.WordPress.PerPage = 50
	config.JWT.ExpiryHour = 24
	config.Storage.Folder = "./data"

	// Load config file
	_, err := toml.DecodeFile(filepath, &config)
	if err != nil {
		return nil, err
	}

	// Environment overrides for secrets (loaded from .env by main)
	if secret := os.Getenv("BUDDYGATE_JWT_SECRET"); secret != "" {
		config.JWT.Secret = secret
	}
	if base := os.Getenv("BUDDYGATE_WP_BASE_URL"); base != "" {
		config.WordPress.BaseURL = base
	}

	if config.WordPress.BaseURL == "" {
		return nil, fmt.Errorf("wordpress base_url is required")
	}
	config.WordPress.BaseURL = strings.TrimRight(config.WordPress.BaseURL, "/")

	// If the plugin namespaces are not specified, derive them from the
	// base URL. These are the stock namespaces of Better Messages, the
	// BuddyPress REST API and the JWT auth plugin.
	root := config.WordPress.BaseURL + "/wp-json"
	if config.WordPress.ModernBase == "" {
		config.WordPress.ModernBase = root + "/better-messages/v1"
	}
	if config.WordPress.LegacyBase == "" {
		config.WordPress.LegacyBase = root + "/buddypress/v1"
	}
	if config.WordPress.AuthBase == "" {
		config.WordPress.AuthBase = root + "/jwt-auth/v1"
	}
	if config.WordPress.MembersBase == "" {
		config.WordPress.MembersBase = root + "/buddypress/v1/members"
	}

	if config.JWT.Secret == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}

	return &config, nil
}

// Timeout returns the upstream request timeout as a duration.
func (c *WordPressConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// RefetchDelayDuration returns the post-send refetch delay as a duration.
func (c *WordPressConfig) RefetchDelayDuration() time.Duration {
	return time.Duration(c.RefetchDelay) * time.Millisecond
}
