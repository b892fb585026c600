package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/leonletto/chatsync/internal/identity"
	"github.com/leonletto/chatsync/internal/types"
)

// DefaultFile is the config file looked up in the working directory when
// neither --config nor CHATSYNC_CONFIG is set.
const DefaultFile = "chatsync.yaml"

const (
	DefaultServerURL      = "http://localhost:5001"
	DefaultRequestTimeout = 10 * time.Second
)

// Config represents the resolved client configuration.
type Config struct {
	ServerURL      string        `yaml:"server_url"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	Viewer         ViewerConfig  `yaml:"viewer"`
}

// ViewerConfig identifies the signed-in user. Session bootstrap is handled
// elsewhere; the client only needs the resulting identity.
type ViewerConfig struct {
	ID           string `yaml:"id"`
	FirstName    string `yaml:"first_name"`
	LastName     string `yaml:"last_name"`
	ProfileImage string `yaml:"profile_image"`
}

// Profile returns the viewer as a profile record.
func (v ViewerConfig) Profile() types.Profile {
	return types.Profile{
		UserID:       v.ID,
		FirstName:    v.FirstName,
		LastName:     v.LastName,
		ProfileImage: v.ProfileImage,
	}
}

// Overrides carries CLI flag values. Empty fields are not applied.
type Overrides struct {
	ConfigPath string
	ServerURL  string
	ViewerID   string
}

// Load resolves the client configuration with the following priority:
// 1. CLI flags (highest)
// 2. Environment variables (CHATSYNC_SERVER_URL, CHATSYNC_USER_ID, ...),
//    including values loaded from a .env file in the working directory
// 3. YAML config file (--config, CHATSYNC_CONFIG, or ./chatsync.yaml)
// 4. Defaults
// Returns an error if the viewer identity is missing or invalid.
func Load(o Overrides) (*Config, error) {
	loadDotEnv()

	cfg := &Config{
		ServerURL:      DefaultServerURL,
		RequestTimeout: DefaultRequestTimeout,
	}

	if err := readFile(resolvePath(o.ConfigPath), cfg); err != nil {
		return nil, err
	}

	if v := os.Getenv("CHATSYNC_SERVER_URL"); v != "" {
		cfg.ServerURL = v
	}
	if v := os.Getenv("CHATSYNC_USER_ID"); v != "" {
		cfg.Viewer.ID = v
	}
	if v := os.Getenv("CHATSYNC_FIRST_NAME"); v != "" {
		cfg.Viewer.FirstName = v
	}
	if v := os.Getenv("CHATSYNC_LAST_NAME"); v != "" {
		cfg.Viewer.LastName = v
	}
	if v := os.Getenv("CHATSYNC_PROFILE_IMAGE"); v != "" {
		cfg.Viewer.ProfileImage = v
	}
	if v := os.Getenv("CHATSYNC_REQUEST_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid CHATSYNC_REQUEST_TIMEOUT %q: %w", v, err)
		}
		cfg.RequestTimeout = d
	}

	if o.ServerURL != "" {
		cfg.ServerURL = o.ServerURL
	}
	if o.ViewerID != "" {
		cfg.Viewer.ID = o.ViewerID
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required fields.
func (c *Config) Validate() error {
	if c.Viewer.ID == "" {
		return fmt.Errorf("viewer not specified: set CHATSYNC_USER_ID, use --as flag, or set viewer.id in %s", DefaultFile)
	}
	if err := identity.ValidateUserID(c.Viewer.ID); err != nil {
		return fmt.Errorf("invalid viewer: %w", err)
	}
	u, err := url.Parse(c.ServerURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid server URL %q: must be http(s)://host[:port]", c.ServerURL)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be positive, got %s", c.RequestTimeout)
	}
	c.ServerURL = strings.TrimRight(c.ServerURL, "/")
	return nil
}

// resolvePath picks the config file: explicit flag, then CHATSYNC_CONFIG,
// then DefaultFile. The default file is optional; the others are not.
func resolvePath(flagPath string) fileRef {
	if flagPath != "" {
		return fileRef{path: flagPath, required: true}
	}
	if p := os.Getenv("CHATSYNC_CONFIG"); p != "" {
		return fileRef{path: p, required: true}
	}
	return fileRef{path: DefaultFile}
}

type fileRef struct {
	path     string
	required bool
}

// readFile decodes a YAML file into dst, leaving dst untouched if the file
// is optional and absent.
func readFile(ref fileRef, dst any) error {
	data, err := os.ReadFile(ref.path) //nolint:gosec // G304 - operator-supplied config path
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !ref.required {
			return nil
		}
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("parse config file %s: %w", ref.path, err)
	}
	return nil
}

// loadDotEnv loads ./.env if present. Variables already set in the
// environment win over the file.
func loadDotEnv() {
	if _, err := os.Stat(".env"); err == nil {
		_ = godotenv.Load(".env")
	}
}
