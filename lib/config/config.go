package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v2"
)

const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendMongo    = "mongo"

	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Store      Store      `yaml:"store"`
	Pagination Pagination `yaml:"pagination"`
	Limits     Limits     `yaml:"limits"`
}

func (c *Config) setDefaults() error {
	if err := c.Store.setDefaults(); err != nil {
		return fmt.Errorf("error setting defaults for store: %w", err)
	}
	if err := c.Pagination.setDefaults(); err != nil {
		return fmt.Errorf("error setting defaults for pagination: %w", err)
	}
	if err := c.Limits.setDefaults(); err != nil {
		return fmt.Errorf("error setting defaults for limits: %w", err)
	}

	return nil
}

type Store struct {
	Backend       string `yaml:"backend"`
	DataFile      string `yaml:"data_file"`
	MongoDatabase string `yaml:"mongo_database"`
}

func (s *Store) setDefaults() error {
	if s.Backend == "" {
		s.Backend = BackendMemory
	}
	if s.MongoDatabase == "" {
		s.MongoDatabase = "natours"
	}
	return nil
}

type Pagination struct {
	DefaultLimit int `yaml:"default_limit"`
	MaxLimit     int `yaml:"max_limit"`
}

func (p *Pagination) setDefaults() error {
	if p.DefaultLimit == 0 {
		p.DefaultLimit = 100
	}
	return nil
}

type Limits struct {
	MaxBodyBytes int64 `yaml:"max_body_bytes"`
}

func (l *Limits) setDefaults() error {
	if l.MaxBodyBytes == 0 {
		l.MaxBodyBytes = 10 * 1024
	}
	return nil
}

func (c Config) Validate() error {
	switch c.Store.Backend {
	case BackendMemory, BackendPostgres, BackendMongo:
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}

	if c.Pagination.DefaultLimit < 0 {
		return errors.New("pagination.default_limit must not be negative")
	}
	if c.Pagination.MaxLimit < 0 {
		return errors.New("pagination.max_limit must not be negative")
	}
	if c.Pagination.MaxLimit > 0 && c.Pagination.DefaultLimit > c.Pagination.MaxLimit {
		return fmt.Errorf("pagination.default_limit (%d) exceeds pagination.max_limit (%d)",
			c.Pagination.DefaultLimit, c.Pagination.MaxLimit)
	}

	if c.Limits.MaxBodyBytes < 0 {
		return errors.New("limits.max_body_bytes must not be negative")
	}
	return nil
}

// Default is the configuration used when no file is given.
func Default() *Config {
	var config Config
	config.setDefaults()
	return &config
}

// Load reads a YAML config from a file, or from the argument itself if it
// starts with "{".
func Load(filenameOrData string) (*Config, error) {
	var config Config

	var data []byte

	if strings.HasPrefix(filenameOrData, "{") {
		data = []byte(filenameOrData)
	} else {
		content, err := os.ReadFile(filenameOrData)
		if err != nil {
			return nil, err
		}
		data = content
	}

	if err := yaml.UnmarshalStrict(data, &config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.setDefaults(); err != nil {
		return nil, fmt.Errorf("error setting defaults: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validation error: %w", err)
	}

	return &config, nil
}

// Env is the process environment the server reads at startup.
type Env struct {
	Environment string `env:"NATOURS_ENV,default=development"`
	Host        string `env:"NATOURS_HOST,default=127.0.0.1"`
	Port        int    `env:"PORT,default=3000"`
	ConfigFile  string `env:"NATOURS_CONFIG"`

	PGHost     string `env:"PGHOST"`
	PGUser     string `env:"PGUSER"`
	PGDatabase string `env:"PGDATABASE"`
	PGPassword string `env:"PGPASSWORD"`

	MongoURI string `env:"NATOURS_MONGO_URI,default=mongodb://localhost:27017"`
}

func (e Env) Development() bool {
	return e.Environment != EnvProduction
}

func (e Env) validate() error {
	switch e.Environment {
	case EnvDevelopment, EnvProduction:
	default:
		return fmt.Errorf("NATOURS_ENV must be %q or %q, got %q", EnvDevelopment, EnvProduction, e.Environment)
	}
	if e.Port <= 0 || e.Port > 65535 {
		return fmt.Errorf("PORT out of range: %d", e.Port)
	}
	return nil
}

func LoadEnv(ctx context.Context) (*Env, error) {
	return loadEnv(ctx, envconfig.OsLookuper())
}

func loadEnv(ctx context.Context, lookuper envconfig.Lookuper) (*Env, error) {
	var env Env
	if err := envconfig.ProcessWith(ctx, &env, lookuper); err != nil {
		return nil, fmt.Errorf("error reading environment: %w", err)
	}
	if err := env.validate(); err != nil {
		return nil, err
	}
	return &env, nil
}

// LoadConfig reads the file named by NATOURS_CONFIG, or returns the defaults.
func (e Env) LoadConfig() (*Config, error) {
	if e.ConfigFile == "" {
		return Default(), nil
	}
	return Load(e.ConfigFile)
}
