package app

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/user"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/transmental/xterm/internal/auth"
	"github.com/transmental/xterm/internal/observability"
	"github.com/transmental/xterm/internal/provider"
	"github.com/transmental/xterm/internal/tokenstore"
	"github.com/transmental/xterm/internal/xapi"
)

// LogFormat represents the logging output format.
type LogFormat string

const (
	LogFormatText LogFormat = LogFormat(observability.FormatText)
	LogFormatJSON LogFormat = LogFormat(observability.FormatJSON)
	LogFormatOTel LogFormat = LogFormat(observability.FormatOTel)
)

// TokenStorageType represents the different storage types supported for stored tokens.
type TokenStorageType string

const (
	TokenStorageTypeFile    TokenStorageType = "file"
	TokenStorageTypeKeyring TokenStorageType = "keyring"
)

// Default configuration values
const (
	DefaultConfigLogFormat   = LogFormatText
	DefaultConfigStorage     = TokenStorageTypeFile
	DefaultConfigStorageDir  = ".xterm" // relative to the user's home directory
	DefaultConfigAPIBaseURL  = xapi.DefaultBaseURL
	DefaultConfigAPITimeout  = xapi.DefaultTimeout
	DefaultConfigAPIRetryMax = xapi.DefaultRetryMax

	keyringService = "xterm"
)

// CallbackConfig holds the login callback behavior.
type CallbackConfig struct {
	// Timeout bounds the wait for the browser redirect. Zero waits until interrupted.
	Timeout time.Duration `json:"timeout" validate:"gte=0"`
}

// StorageConfig describes where tokens and the pending authorization are kept.
type StorageConfig struct {
	Type TokenStorageType `json:"type" validate:"required,oneof=file keyring"`

	// Storage-specific settings (mutually exclusive based on Type)
	Dir         string `json:"dir,omitempty"`          // For file storage: directory holding tokens.json and oauth_state.json
	KeyringUser string `json:"keyring_user,omitempty"` // For keyring storage: user identifier
}

// NewTokenStore creates a tokenstore.Store from the storage configuration.
func (s *StorageConfig) NewTokenStore() (*tokenstore.Store, error) {
	switch s.Type {
	case TokenStorageTypeFile:
		return tokenstore.NewFileStore(s.Dir)
	case TokenStorageTypeKeyring:
		return tokenstore.NewKeyringStore(keyringService, s.KeyringUser)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", s.Type)
	}
}

// Location describes where credentials live, for status output.
func (s *StorageConfig) Location() string {
	if s.Type == TokenStorageTypeKeyring {
		return fmt.Sprintf("keyring %s (%s)", keyringService, s.KeyringUser)
	}
	return s.Dir
}

// APIConfig holds X API client configuration.
type APIConfig struct {
	BaseURL  string        `json:"base_url" validate:"required,url"`
	Timeout  time.Duration `json:"timeout" validate:"gte=0"`
	RetryMax int           `json:"retry_max" validate:"gte=0,lte=10"`
}

// Config holds the application's configuration.
type Config struct {
	// LogLevel for logging output (defaults to Info if unset).
	LogLevel  slog.Level `json:"log_level"`
	LogFormat LogFormat  `json:"log_format" validate:"oneof=text json otel"`
	// LogFile redirects logs to a size-rotated file.
	LogFile string `json:"log_file,omitempty"`

	ClientID string `json:"client_id" validate:"required"`
	// ClientSecret is optional; public clients rely on PKCE alone.
	ClientSecret string `json:"client_secret,omitempty"`
	RedirectURI  string `json:"redirect_uri" validate:"required,url"`
	// Port overrides the redirect URI port for the callback listener.
	Port      uint16         `json:"port"`
	NoBrowser bool           `json:"no_browser"`
	Callback  CallbackConfig `json:"callback"`

	Storage StorageConfig `json:"storage"`
	API     APIConfig     `json:"api"`
}

// Default creates a new Config with default values applied.
func Default() (*Config, error) {
	cfg := &Config{}
	if err := cfg.ApplyDefaults(); err != nil {
		return nil, fmt.Errorf("failed to apply defaults: %w", err)
	}
	return cfg, nil
}

// ApplyDefaults fills unset config fields with sensible defaults.
func (c *Config) ApplyDefaults() error {
	if c.LogFormat == "" {
		c.LogFormat = DefaultConfigLogFormat
	}
	if c.ClientID == "" {
		c.ClientID = provider.DefaultClientID
	}
	if c.RedirectURI == "" {
		c.RedirectURI = provider.DefaultRedirectURI
	}
	if c.Storage.Type == "" {
		c.Storage.Type = DefaultConfigStorage
	}
	if c.API.BaseURL == "" {
		c.API.BaseURL = DefaultConfigAPIBaseURL
	}
	if c.API.Timeout == 0 {
		c.API.Timeout = DefaultConfigAPITimeout
	}
	if c.API.RetryMax == 0 {
		c.API.RetryMax = DefaultConfigAPIRetryMax
	}

	// Dynamic defaults based on storage type
	switch c.Storage.Type {
	case TokenStorageTypeFile:
		if c.Storage.Dir == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return fmt.Errorf("storage.dir required (auto-detect failed: %w)", err)
			}
			c.Storage.Dir = filepath.Join(home, DefaultConfigStorageDir)
		}
	case TokenStorageTypeKeyring:
		if c.Storage.KeyringUser == "" {
			currentUser, err := user.Current()
			if err != nil {
				return fmt.Errorf("storage.keyring_user required (auto-detect failed: %w)", err)
			}
			c.Storage.KeyringUser = currentUser.Username
		}
	}

	return nil
}

// Validate validates the configuration using struct tags and enum values.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}

	if _, _, err := auth.CallbackAddress(c.RedirectURI, c.Port); err != nil {
		return fmt.Errorf("redirect_uri: %w", err)
	}

	switch c.Storage.Type {
	case TokenStorageTypeFile:
		if c.Storage.Dir == "" {
			return errors.New("storage.dir required for file storage")
		}
	case TokenStorageTypeKeyring:
		if c.Storage.KeyringUser == "" {
			return errors.New("storage.keyring_user required for keyring storage")
		}
	}

	return nil
}
