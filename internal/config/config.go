package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"
)

// GoogleCredentials represents the structure of Google OAuth credentials JSON file.
type GoogleCredentials struct {
	Installed struct {
		ClientID     string `json:"client_id"`
		ClientSecret string `json:"client_secret"`
	} `json:"installed"`
	Web struct {
		ClientID     string `json:"client_id"`
		ClientSecret string `json:"client_secret"`
	} `json:"web"`
}

// LoadGoogleCredentials loads Google OAuth credentials from a JSON file.
func LoadGoogleCredentials(path string) (clientID, clientSecret string, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", "", fmt.Errorf("failed to read credentials file: %w", err)
	}

	var creds GoogleCredentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return "", "", fmt.Errorf("failed to parse credentials file: %w", err)
	}

	// Try "installed" first (for desktop apps), then "web"
	if creds.Installed.ClientID != "" {
		return creds.Installed.ClientID, creds.Installed.ClientSecret, nil
	}
	if creds.Web.ClientID != "" {
		return creds.Web.ClientID, creds.Web.ClientSecret, nil
	}

	return "", "", fmt.Errorf("no client_id found in credentials file (expected 'installed' or 'web' section)")
}

// Config holds the datasource settings.
type Config struct {
	// ClientID is the OAuth client identifier. Not secret.
	ClientID string `json:"client_id,omitempty" yaml:"client_id" toml:"client_id"`

	// CredentialsPath points at the OAuth client JSON downloaded from the
	// Google Cloud Console. It supplies the client secret, and the client id
	// when ClientID is empty.
	CredentialsPath string `json:"credentials_path,omitempty" yaml:"credentials_path" toml:"credentials_path"`

	// ServiceAccountKeyFile is write-only: it is read from settings but never
	// written back out. Use SecureJSONFields to report whether it is set.
	ServiceAccountKeyFile string `json:"service_account_key_file,omitempty" yaml:"service_account_key_file" toml:"service_account_key_file"`

	// DefaultCalendarID is used by variable queries that omit a calendar id.
	DefaultCalendarID string `json:"default_calendar_id,omitempty" yaml:"default_calendar_id" toml:"default_calendar_id"`

	// Timezone is the IANA zone event times are read in. Empty means local time.
	Timezone string `json:"timezone,omitempty" yaml:"timezone" toml:"timezone"`

	// Listen is the HTTP address for serve mode.
	Listen string `json:"listen,omitempty" yaml:"listen" toml:"listen"`

	// ConsentAddr is where the OAuth redirect is received.
	ConsentAddr string `json:"consent_addr,omitempty" yaml:"consent_addr" toml:"consent_addr"`

	// ClientSecret is filled from CredentialsPath and never serialized.
	ClientSecret string `json:"-" yaml:"-" toml:"-"`
}

// SecureJSONFields reports which secret settings are configured, without their values.
func (c Config) SecureJSONFields() map[string]bool {
	return map[string]bool{"service_account_key_file": c.ServiceAccountKeyFile != ""}
}

// SetServiceAccountKeyFile replaces the secret key file path.
func (c *Config) SetServiceAccountKeyFile(path string) {
	c.ServiceAccountKeyFile = path
}

// ResetServiceAccountKeyFile clears the secret key file path.
func (c *Config) ResetServiceAccountKeyFile() {
	c.ServiceAccountKeyFile = ""
}

// MarshalJSON omits the service account key file path and reports it as
// a configured flag instead.
func (c Config) MarshalJSON() ([]byte, error) {
	type plain Config
	p := plain(c)
	p.ServiceAccountKeyFile = ""
	return json.Marshal(struct {
		plain
		SecureJSONFields map[string]bool `json:"secure_json_fields"`
	}{p, c.SecureJSONFields()})
}

// Location resolves Timezone.
func (c Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

// LoadConfigFromFile loads settings from a JSON, YAML or TOML file, chosen by extension.
func LoadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json", "":
		err = json.Unmarshal(data, &config)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &config)
	case ".toml":
		err = toml.Unmarshal(data, &config)
	default:
		return nil, fmt.Errorf("unsupported config file extension %q", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &config, nil
}

// Environment variables read by LoadConfig.
const (
	EnvClientID              = "GCAL_CLIENT_ID"
	EnvCredentialsPath       = "GCAL_CREDENTIALS_PATH"
	EnvServiceAccountKeyFile = "GCAL_SERVICE_ACCOUNT_KEY_FILE"
	EnvDefaultCalendarID     = "GCAL_DEFAULT_CALENDAR_ID"
	EnvTimezone              = "GCAL_TIMEZONE"
	EnvListen                = "GCAL_LISTEN"
)

// LoadConfig loads configuration with the following precedence (highest to lowest):
// 1. Command-line flags (non-empty fields of flags)
// 2. Environment variables
// 3. Config file
// 4. Defaults
// Returns an error if the result does not validate.
func LoadConfig(configFile string, flags Config) (*Config, error) {
	var config Config

	// Step 1: Load from config file if provided
	if configFile != "" {
		fileConfig, err := LoadConfigFromFile(configFile)
		if err != nil {
			return nil, err
		}
		config = *fileConfig
	}

	// Step 2: Override with environment variables
	config.merge(Config{
		ClientID:              os.Getenv(EnvClientID),
		CredentialsPath:       os.Getenv(EnvCredentialsPath),
		ServiceAccountKeyFile: os.Getenv(EnvServiceAccountKeyFile),
		DefaultCalendarID:     os.Getenv(EnvDefaultCalendarID),
		Timezone:              os.Getenv(EnvTimezone),
		Listen:                os.Getenv(EnvListen),
	})

	// Step 3: Override with command-line flags (highest priority)
	config.merge(flags)

	// Step 4: Apply defaults and validate
	if config.DefaultCalendarID == "" {
		config.DefaultCalendarID = "primary"
	}
	if config.Listen == "" {
		config.Listen = "127.0.0.1:3838"
	}
	if config.ConsentAddr == "" {
		config.ConsentAddr = "127.0.0.1:8080"
	}

	if config.CredentialsPath != "" {
		clientID, clientSecret, err := LoadGoogleCredentials(config.CredentialsPath)
		if err != nil {
			return nil, err
		}
		if config.ClientID == "" {
			config.ClientID = clientID
		}
		config.ClientSecret = clientSecret
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// merge copies the non-empty fields of o over c.
func (c *Config) merge(o Config) {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&c.ClientID, o.ClientID)
	set(&c.CredentialsPath, o.CredentialsPath)
	set(&c.ServiceAccountKeyFile, o.ServiceAccountKeyFile)
	set(&c.DefaultCalendarID, o.DefaultCalendarID)
	set(&c.Timezone, o.Timezone)
	set(&c.Listen, o.Listen)
	set(&c.ConsentAddr, o.ConsentAddr)
}

// Validate reports every problem with the settings at once.
func (c Config) Validate() error {
	var result *multierror.Error

	if c.ClientID == "" && c.ServiceAccountKeyFile == "" {
		result = multierror.Append(result, errors.New("client_id must be provided via --client-id flag, "+EnvClientID+
			" environment variable, credentials file or config file, unless service_account_key_file is set"))
	}
	if _, err := c.Location(); err != nil {
		result = multierror.Append(result, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err))
	}
	if _, _, err := net.SplitHostPort(c.Listen); err != nil {
		result = multierror.Append(result, fmt.Errorf("invalid listen address %q: %w", c.Listen, err))
	}
	if _, _, err := net.SplitHostPort(c.ConsentAddr); err != nil {
		result = multierror.Append(result, fmt.Errorf("invalid consent address %q: %w", c.ConsentAddr, err))
	}

	return result.ErrorOrNil()
}
