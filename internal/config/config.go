package config

import (
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

const (
	EnvLocal = "local"
	EnvDev   = "dev"
	EnvProd  = "prod"
)

type Config struct {
	Env        string           `yaml:"env" env:"ENV" env-default:"local"`
	Storage    StorageConfig    `yaml:"storage"`
	Revocation RevocationConfig `yaml:"revocation"`
	HTTP       HTTPConfig       `yaml:"http"`
	Grpc       GRPCConfig       `yaml:"grpc"`
	Tokens     TokensConfig     `yaml:"tokens"`
	Transport  TransportConfig  `yaml:"transport"`
	Password   PasswordConfig   `yaml:"password"`
	PageSize   int              `yaml:"page_size" env:"ITEMS_PER_PAGE" env-default:"10"`
}

type StorageConfig struct {
	// Driver is sqlite or postgres.
	Driver      string `yaml:"driver" env:"STORAGE_DRIVER" env-default:"sqlite"`
	Path        string `yaml:"path" env:"STORAGE_PATH" env-default:"./storage/admissions.db"`
	DatabaseURL string `yaml:"database_url" env:"DATABASE_URL"`
	// AutoMigrate applies pending migrations on startup.
	AutoMigrate bool `yaml:"auto_migrate" env:"AUTO_MIGRATE"`
}

// DSN returns the connection string for the configured driver.
func (s StorageConfig) DSN() string {
	if s.Driver == "postgres" {
		return s.DatabaseURL
	}
	return s.Path
}

type RevocationConfig struct {
	// Backend is storage, memory, redis or mongodb.
	Backend    string        `yaml:"backend" env:"REVOCATION_BACKEND" env-default:"storage"`
	Retention  time.Duration `yaml:"retention" env-default:"24h"`
	GCInterval time.Duration `yaml:"gc_interval" env-default:"1h"`
	Redis      RedisConfig   `yaml:"redis"`
	Mongo      MongoConfig   `yaml:"mongo"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" env:"REDIS_ADDR" env-default:"localhost:6379"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

type MongoConfig struct {
	URI      string `yaml:"uri" env:"MONGO_URI" env-default:"mongodb://localhost:27017"`
	Database string `yaml:"database" env:"MONGO_DATABASE" env-default:"admissions"`
}

type HTTPConfig struct {
	Address         string        `yaml:"address" env:"HTTP_ADDRESS" env-default:":8080"`
	BasePath        string        `yaml:"base_path" env-default:"/auth"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env-default:"5s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env-default:"10s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" env-default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env-default:"10s"`
}

type GRPCConfig struct {
	Port           int           `yaml:"port" env:"GRPC_PORT" env-default:"44044"`
	HealthInterval time.Duration `yaml:"health_interval" env-default:"15s"`
}

type TokensConfig struct {
	Secret     string        `yaml:"secret" env:"TOKEN_SECRET" env-required:"true"`
	Issuer     string        `yaml:"issuer" env:"TOKEN_ISSUER" env-default:"admissions"`
	AccessTTL  time.Duration `yaml:"access_ttl" env-default:"1h"`
	RefreshTTL time.Duration `yaml:"refresh_ttl" env-default:"720h"`
}

type TransportConfig struct {
	// Mode is bearer or cookie.
	Mode              string `yaml:"mode" env:"TOKEN_TRANSPORT" env-default:"bearer"`
	AccessCookiePath  string `yaml:"access_cookie_path" env-default:"/"`
	// RefreshCookiePath defaults to the refresh route under http.base_path.
	RefreshCookiePath string `yaml:"refresh_cookie_path"`
	CookieDomain      string `yaml:"cookie_domain" env:"COOKIE_DOMAIN"`
	CookieSecure      bool   `yaml:"cookie_secure" env:"COOKIE_SECURE"`
	SameSite          string `yaml:"same_site" env-default:"lax"`
	CSRFHeader        string `yaml:"csrf_header" env-default:"X-CSRF-TOKEN"`
}

// SameSiteMode maps the configured value onto http.SameSite; unknown values mean Lax.
func (t TransportConfig) SameSiteMode() http.SameSite {
	switch strings.ToLower(t.SameSite) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}

type PasswordConfig struct {
	BcryptCost int `yaml:"bcrypt_cost" env:"BCRYPT_COST" env-default:"10"`
}

var ErrInvalidConfig = errors.New("invalid config")

// MustLoad reads the config from the -config flag or CONFIG_PATH and panics on failure.
func MustLoad() *Config {
	path := fetchConfigPath()
	if path == "" {
		panic("config path is empty")
	}

	return MustLoadPath(path)
}

func MustLoadPath(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err.Error())
	}
	return cfg
}

// Load reads path and applies environment overrides on top of it.
func Load(path string) (*Config, error) {
	var cfg Config

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	var problems []string

	if !slices.Contains([]string{EnvLocal, EnvDev, EnvProd}, c.Env) {
		problems = append(problems, fmt.Sprintf("unknown env %q", c.Env))
	}
	switch c.Storage.Driver {
	case "sqlite":
		if c.Storage.Path == "" {
			problems = append(problems, "storage.path is required for sqlite")
		}
	case "postgres":
		if c.Storage.DatabaseURL == "" {
			problems = append(problems, "storage.database_url is required for postgres")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown storage driver %q", c.Storage.Driver))
	}
	if !slices.Contains([]string{"storage", "memory", "redis", "mongodb"}, c.Revocation.Backend) {
		problems = append(problems, fmt.Sprintf("unknown revocation backend %q", c.Revocation.Backend))
	}
	if !slices.Contains([]string{"bearer", "cookie"}, c.Transport.Mode) {
		problems = append(problems, fmt.Sprintf("unknown transport mode %q", c.Transport.Mode))
	}
	if c.Tokens.AccessTTL <= 0 || c.Tokens.RefreshTTL <= 0 {
		problems = append(problems, "token ttls must be positive")
	}
	if c.PageSize <= 0 {
		problems = append(problems, "page_size must be positive")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// fetchConfigPath fetches config path from command line flag or environment variable.
// Priority: flag > env > default.
func fetchConfigPath() string {
	var res string

	flag.StringVar(&res, "config", "", "path to config file")
	flag.Parse()

	if res == "" {
		res = os.Getenv("CONFIG_PATH")
	}

	return res
}
