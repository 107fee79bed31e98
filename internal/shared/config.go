package shared

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

//go:embed config.example.toml
var exampleConf []byte

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CRAWLCTL_"

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	API       APIConfig       `toml:"api"`
	Live      LiveConfig      `toml:"live"`
	Poll      PollConfig      `toml:"poll"`
	Export    ExportConfig    `toml:"export"`
	Database  DatabaseConfig  `toml:"database"`
	Log       LogConfig       `toml:"log"`
	DevServer DevServerConfig `toml:"dev_server"`
}

// APIConfig locates the crawler platform.
type APIConfig struct {
	BaseURL string        `toml:"base_url" validate:"required,url"`
	Timeout time.Duration `toml:"timeout" validate:"gt=0"`
}

// LiveConfig controls live channel reconnects and keepalive.
type LiveConfig struct {
	MaxReconnects    int           `toml:"max_reconnects" validate:"gte=0"`
	ReconnectBackoff time.Duration `toml:"reconnect_backoff" validate:"gte=0"`
	PingInterval     time.Duration `toml:"ping_interval" validate:"gte=0"`
}

// PollConfig controls the REST refresh fallback.
type PollConfig struct {
	Interval time.Duration `toml:"interval" validate:"gt=0"`
	Jitter   time.Duration `toml:"jitter" validate:"gte=0"`
}

// ExportConfig controls `tasks export`.
type ExportConfig struct {
	Dir    string  `toml:"dir" validate:"required"`
	Format string  `toml:"format" validate:"oneof=json yaml"`
	Rate   float64 `toml:"rate" validate:"gt=0"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Path         string `toml:"path" validate:"required"`
	MaxOpenConns int    `toml:"max_open_conns" validate:"gte=0"`
	MaxIdleConns int    `toml:"max_idle_conns" validate:"gte=0"`
}

// LogConfig contains logger settings.
type LogConfig struct {
	Level   string `toml:"level" validate:"omitempty,oneof=debug info warn error fatal"`
	TUIPath string `toml:"tui_path"`
}

// DevServerConfig contains settings for the local development platform.
type DevServerConfig struct {
	Host   string        `toml:"host"`
	Port   int           `toml:"port" validate:"gte=0,lte=65535"`
	Tick   time.Duration `toml:"tick" validate:"gt=0"`
	Secret string        `toml:"secret" validate:"required"`
}

// Addr joins the dev server host and port.
func (c DevServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
//
// Keys missing from the file keep the embedded defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// LoadEnvFile loads variables from the given .env files into the process environment.
// Variables that are already set win. Missing files are ignored.
func LoadEnvFile(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// ApplyEnv overrides config values from CRAWLCTL_* variables found through lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	get := func(name string) (string, bool) {
		v, ok := lookup(EnvPrefix + name)
		return strings.TrimSpace(v), ok && strings.TrimSpace(v) != ""
	}

	if v, ok := get("API_URL"); ok {
		c.API.BaseURL = v
	}
	if v, ok := get("API_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%w: %sAPI_TIMEOUT: %v", ErrInvalidConfig, EnvPrefix, err)
		}
		c.API.Timeout = d
	}
	if v, ok := get("MAX_RECONNECTS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %sMAX_RECONNECTS: %v", ErrInvalidConfig, EnvPrefix, err)
		}
		c.Live.MaxReconnects = n
	}
	if v, ok := get("DB_PATH"); ok {
		c.Database.Path = v
	}
	if v, ok := get("LOG_LEVEL"); ok {
		c.Log.Level = strings.ToLower(v)
	}
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the config against its field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(fields, ", "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// ValidateStruct validates any struct carrying `validate` tags and wraps failures in [ErrInvalidInput].
func ValidateStruct(v any) error {
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}
