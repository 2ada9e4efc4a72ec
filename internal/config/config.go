package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" envconfig:"SERVER"`
	Endpoints EndpointsConfig `yaml:"endpoints" envconfig:"ENDPOINTS"`
	License   LicenseConfig   `yaml:"license" envconfig:"LICENSE"`
	Benefits  BenefitsConfig  `yaml:"benefits" envconfig:"BENEFITS"`
	Host      HostConfig      `yaml:"host" envconfig:"HOST"`
	Store     StoreConfig     `yaml:"store" envconfig:"STORE"`
	Logging   LoggingConfig   `yaml:"logging" envconfig:"LOGGING"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port" envconfig:"PORT" default:"8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT" default:"60s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
	RateLimitRPS    float64       `yaml:"rate_limit_rps" envconfig:"RATE_LIMIT_RPS" default:"5"`
	RateLimitBurst  int           `yaml:"rate_limit_burst" envconfig:"RATE_LIMIT_BURST" default:"10"`
}

// EndpointsConfig contains the remote API endpoints. Every endpoint is an
// ordered candidate list: the first URL that answers with valid JSON wins.
type EndpointsConfig struct {
	Verification    []string `yaml:"verification" envconfig:"VERIFICATION" default:"https://license.getbowtied.net/api/verify"`
	VerificationDev []string `yaml:"verification_dev" envconfig:"VERIFICATION_DEV" default:"https://dev.license.getbowtied.net/api/verify"`
	Server          []string `yaml:"server" envconfig:"SERVER" default:"https://themes.getbowtied.net/license-server/,https://themes-fallback.getbowtied.net/license-server/"`
	ServerDev       []string `yaml:"server_dev" envconfig:"SERVER_DEV" default:"https://dev.themes.getbowtied.net/license-server/"`
	SpecialLicense  []string `yaml:"special_license" envconfig:"SPECIAL_LICENSE" default:"https://themes.getbowtied.net/special-license/,https://themes-fallback.getbowtied.net/special-license/"`
	BuyerReview     []string `yaml:"buyer_review" envconfig:"BUYER_REVIEW" default:"https://themes.getbowtied.net/buyer-reviews/,https://themes-fallback.getbowtied.net/buyer-reviews/"`
	RequestTimeout  time.Duration `yaml:"request_timeout" envconfig:"REQUEST_TIMEOUT" default:"30s"`
}

// LicenseConfig contains license lifecycle configuration
type LicenseConfig struct {
	ThemeSlug        string        `yaml:"theme_slug" envconfig:"THEME_SLUG" default:"shopkeeper"`
	ItemID           string        `yaml:"item_id" envconfig:"ITEM_ID"`
	AdminEmail       string        `yaml:"admin_email" envconfig:"ADMIN_EMAIL"`
	ReverifyInterval time.Duration `yaml:"reverify_interval" envconfig:"REVERIFY_INTERVAL" default:"720h"`
	ExpiringSoonDays int           `yaml:"expiring_soon_days" envconfig:"EXPIRING_SOON_DAYS" default:"30"`
	Development      bool          `yaml:"development" envconfig:"DEVELOPMENT" default:"false"`
}

// BenefitsConfig toggles the individual eligibility penalties
type BenefitsConfig struct {
	LowRatingPenalty      bool `yaml:"low_rating_penalty" envconfig:"LOW_RATING_PENALTY" default:"true"`
	NoReviewPenalty       bool `yaml:"no_review_penalty" envconfig:"NO_REVIEW_PENALTY" default:"false"`
	OutdatedRatingPenalty bool `yaml:"outdated_rating_penalty" envconfig:"OUTDATED_RATING_PENALTY" default:"false"`
}

// HostConfig describes the site this install serves and the data used for
// localhost detection
type HostConfig struct {
	Domain          string   `yaml:"domain" envconfig:"DOMAIN"`
	LocalHostnames  []string `yaml:"local_hostnames" envconfig:"LOCAL_HOSTNAMES" default:"localhost,staging,127.0.0.1,::1"`
	LocalExtensions []string `yaml:"local_extensions" envconfig:"LOCAL_EXTENSIONS" default:".local,.test,.docker,.localhost,.localwp.com"`
}

// StoreConfig selects and configures the persistent key-value store
type StoreConfig struct {
	FilePath      string `yaml:"file_path" envconfig:"FILE_PATH" default:"data/options.json"`
	RedisAddr     string `yaml:"redis_addr" envconfig:"REDIS_ADDR"`
	RedisPassword string `yaml:"redis_password" envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `yaml:"redis_db" envconfig:"REDIS_DB" default:"0"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL" default:"info"`
	Output   string `yaml:"output" envconfig:"OUTPUT" default:"console"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH" default:"logs/licensed.log"`
}

// Load loads configuration from environment variables and an optional
// config file (GBT_CONFIG_FILE, default config.yaml). Environment variables
// take precedence over file values.
func Load() (*Config, error) {
	cfg := Config{}

	configFile := os.Getenv("GBT_CONFIG_FILE")
	if configFile == "" {
		configFile = "config.yaml"
	}
	if _, err := os.Stat(configFile); err == nil {
		data, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := envconfig.Process("GBT", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// VerificationURLs returns the verification candidate list for the
// configured environment
func (c *Config) VerificationURLs() []string {
	if c.License.Development && len(c.Endpoints.VerificationDev) > 0 {
		return c.Endpoints.VerificationDev
	}
	return c.Endpoints.Verification
}

// ServerURLs returns the bookkeeping server candidate list for the
// configured environment
func (c *Config) ServerURLs() []string {
	if c.License.Development && len(c.Endpoints.ServerDev) > 0 {
		return c.Endpoints.ServerDev
	}
	return c.Endpoints.Server
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if len(c.Endpoints.Verification) == 0 {
		return fmt.Errorf("at least one verification endpoint is required")
	}
	if len(c.Endpoints.Server) == 0 {
		return fmt.Errorf("at least one server endpoint is required")
	}
	if c.Endpoints.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be positive")
	}
	if c.License.ReverifyInterval <= 0 {
		return fmt.Errorf("reverify interval must be positive")
	}
	for _, ext := range c.Host.LocalExtensions {
		if !strings.HasPrefix(ext, ".") {
			return fmt.Errorf("local extension %q must start with a dot", ext)
		}
	}
	return nil
}
