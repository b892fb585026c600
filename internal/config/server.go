package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/leonletto/chatsync/internal/identity"
	"github.com/leonletto/chatsync/internal/types"
)

// Server defaults.
const (
	DefaultAddr                 = "localhost:5001"
	DefaultDBPath               = "chatsync.db"
	DefaultMaxRequestsPerSecond = 10
	DefaultBurstSize            = 20
)

// ServerConfig holds settings for the reference message store server.
type ServerConfig struct {
	Addr      string          `yaml:"addr"`
	DBPath    string          `yaml:"db_path"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Profiles  []ProfileSeed   `yaml:"profiles"`
}

// RateLimitConfig holds per-viewer rate limiting settings.
type RateLimitConfig struct {
	Enabled              bool    `yaml:"enabled"`
	MaxRequestsPerSecond float64 `yaml:"max_requests_per_second"`
	BurstSize            int     `yaml:"burst_size"`
}

// ProfileSeed is a profile inserted into the store at startup.
type ProfileSeed struct {
	UserID       string `yaml:"user_id"`
	FirstName    string `yaml:"first_name"`
	LastName     string `yaml:"last_name"`
	Email        string `yaml:"email"`
	ProfileImage string `yaml:"profile_image"`
}

// Profile converts the seed into the wire type.
func (p ProfileSeed) Profile() types.Profile {
	return types.Profile{
		UserID:       p.UserID,
		FirstName:    p.FirstName,
		LastName:     p.LastName,
		Email:        p.Email,
		ProfileImage: p.ProfileImage,
	}
}

// ServerOverrides carries CLI flag values for `chatsync serve`.
type ServerOverrides struct {
	ConfigPath string
	Addr       string
	DBPath     string
}

// LoadServer resolves the server configuration. Priority matches Load:
// flags, then CHATSYNC_ADDR / CHATSYNC_DB / CHATSYNC_RATE_LIMIT, then the
// YAML file, then defaults.
func LoadServer(o ServerOverrides) (*ServerConfig, error) {
	loadDotEnv()

	cfg := &ServerConfig{
		Addr:   DefaultAddr,
		DBPath: DefaultDBPath,
		RateLimit: RateLimitConfig{
			Enabled:              true,
			MaxRequestsPerSecond: DefaultMaxRequestsPerSecond,
			BurstSize:            DefaultBurstSize,
		},
	}

	if err := readFile(resolvePath(o.ConfigPath), cfg); err != nil {
		return nil, err
	}

	if v := os.Getenv("CHATSYNC_ADDR"); v != "" {
		cfg.Addr = v
	}
	if v := os.Getenv("CHATSYNC_DB"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("CHATSYNC_RATE_LIMIT"); v != "" {
		rps, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid CHATSYNC_RATE_LIMIT %q: %w", v, err)
		}
		cfg.RateLimit.Enabled = rps > 0
		cfg.RateLimit.MaxRequestsPerSecond = rps
	}

	if o.Addr != "" {
		cfg.Addr = o.Addr
	}
	if o.DBPath != "" {
		cfg.DBPath = o.DBPath
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required fields and fills rate limit defaults.
func (c *ServerConfig) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("listen address not specified: set CHATSYNC_ADDR or use --addr")
	}
	if c.DBPath == "" {
		return fmt.Errorf("database path not specified: set CHATSYNC_DB or use --db")
	}
	if c.RateLimit.MaxRequestsPerSecond <= 0 {
		c.RateLimit.MaxRequestsPerSecond = DefaultMaxRequestsPerSecond
	}
	if c.RateLimit.BurstSize <= 0 {
		c.RateLimit.BurstSize = DefaultBurstSize
	}
	seen := make(map[string]bool, len(c.Profiles))
	for _, p := range c.Profiles {
		if err := identity.ValidateUserID(p.UserID); err != nil {
			return fmt.Errorf("invalid seeded profile: %w", err)
		}
		if seen[p.UserID] {
			return fmt.Errorf("profile %s is seeded twice", p.UserID)
		}
		seen[p.UserID] = true
	}
	return nil
}
