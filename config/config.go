// Package config loads the server configuration.
//
// Loading order:
//  1. .env in the working directory (or a parent) fills the environment
//  2. the YAML file named by --config or LIBRARY_CONFIG, if any
//  3. environment variables override the YAML values
//
// Admin bootstrap credentials are read from the environment only.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"

	"github.com/241209-JavaReactAWS/sharvani-rolando-sanjana-project1/library"
	"github.com/241209-JavaReactAWS/sharvani-rolando-sanjana-project1/logging"
)

// Config is the complete runtime configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Session  SessionConfig  `yaml:"session"`
	Lending  LendingConfig  `yaml:"lending"`
	Auth     AuthConfig     `yaml:"auth"`
	Log      logging.Config `yaml:"log"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	AllowedOrigin   string        `yaml:"allowed_origin"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	Cookie          CookieConfig  `yaml:"cookie"`
}

// CookieConfig shapes the session cookie.
type CookieConfig struct {
	Name     string `yaml:"name"`
	Secure   bool   `yaml:"secure"`
	SameSite string `yaml:"same_site"` // lax, strict or none
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"` // sqlite or postgres
	Path   string `yaml:"path"`   // sqlite file
	DSN    string `yaml:"dsn"`    // postgres URL
}

type SessionConfig struct {
	Store    string        `yaml:"store"` // sql or redis
	RedisURL string        `yaml:"redis_url"`
	TTL      time.Duration `yaml:"ttl"` // 0 keeps sessions until logout
}

type LendingConfig struct {
	LoanPeriod     time.Duration `yaml:"loan_period"`
	MemberLogScope string        `yaml:"member_log_scope"`
}

type AuthConfig struct {
	BcryptCost int         `yaml:"bcrypt_cost"`
	Admin      AdminConfig `yaml:"-"`
}

// AdminConfig names an admin account to create at startup.
type AdminConfig struct {
	Username string
	Email    string
	Password string
}

// Enabled reports whether bootstrap credentials were given.
func (a AdminConfig) Enabled() bool { return a.Username != "" }

const (
	SessionStoreSQL   = "sql"
	SessionStoreRedis = "redis"
)

var envPaths = []string{
	".env",
	"../.env",
}

// Defaults returns the configuration used when nothing is set.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			AllowedOrigin:   "http://localhost:5173",
			ShutdownTimeout: 10 * time.Second,
			Cookie:          CookieConfig{Name: "LIBRARY_SESSION", SameSite: "lax"},
		},
		Database: DatabaseConfig{Driver: string(library.DriverSQLite), Path: "data/library.db"},
		Session:  SessionConfig{Store: SessionStoreSQL},
		Lending:  LendingConfig{LoanPeriod: library.DefaultLoanPeriod, MemberLogScope: string(library.ScopeOwn)},
		Auth:     AuthConfig{BcryptCost: 12},
		Log:      logging.Config{Level: "info", Format: "text", Output: "stdout"},
	}
}

// Load builds the configuration. path may be empty, in which case
// LIBRARY_CONFIG is consulted.
func Load(path string) (*Config, error) {
	for _, p := range envPaths {
		if err := godotenv.Load(p); err == nil {
			break
		}
	}

	cfg := Defaults()
	if path == "" {
		path = os.Getenv("LIBRARY_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := cfg.decodeYAML(data); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decodeYAML(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (c *Config) applyEnv() error {
	setString(&c.Server.Addr, "LIBRARY_ADDR")
	setString(&c.Server.AllowedOrigin, "LIBRARY_ALLOWED_ORIGIN")
	setString(&c.Server.Cookie.Name, "LIBRARY_COOKIE_NAME")
	setString(&c.Server.Cookie.SameSite, "LIBRARY_COOKIE_SAMESITE")
	setString(&c.Database.Driver, "LIBRARY_DB_DRIVER")
	setString(&c.Database.Path, "LIBRARY_DB_PATH")
	setString(&c.Database.DSN, "DATABASE_DSN")
	setString(&c.Session.Store, "LIBRARY_SESSION_STORE")
	setString(&c.Session.RedisURL, "REDIS_URL")
	setString(&c.Lending.MemberLogScope, "LIBRARY_MEMBER_LOG_SCOPE")
	setString(&c.Log.Level, "LOG_LEVEL")
	setString(&c.Log.Format, "LOG_FORMAT")
	setString(&c.Log.Output, "LOG_OUTPUT")
	setString(&c.Auth.Admin.Username, "ADMIN_USERNAME")
	setString(&c.Auth.Admin.Email, "ADMIN_EMAIL")
	setString(&c.Auth.Admin.Password, "ADMIN_PASSWORD")

	if v := os.Getenv("LIBRARY_COOKIE_SECURE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("LIBRARY_COOKIE_SECURE: %w", err)
		}
		c.Server.Cookie.Secure = b
	}
	if v := os.Getenv("LIBRARY_BCRYPT_COST"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("LIBRARY_BCRYPT_COST: %w", err)
		}
		c.Auth.BcryptCost = n
	}
	for key, dst := range map[string]*time.Duration{
		"LIBRARY_SHUTDOWN_TIMEOUT": &c.Server.ShutdownTimeout,
		"LIBRARY_SESSION_TTL":      &c.Session.TTL,
		"LIBRARY_LOAN_PERIOD":      &c.Lending.LoanPeriod,
	} {
		if v := os.Getenv(key); v != "" {
			d, err := parsePeriod(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = d
		}
	}
	return nil
}

// parsePeriod accepts a Go duration ("336h") or a whole number of days.
func parsePeriod(s string) (time.Duration, error) {
	if days, err := strconv.Atoi(s); err == nil {
		return time.Duration(days) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// validate normalizes the configuration and rejects unusable values.
func (c *Config) validate() error {
	c.Database.Driver = strings.ToLower(c.Database.Driver)
	switch library.Driver(c.Database.Driver) {
	case library.DriverSQLite:
		if c.Database.Path == "" {
			return errors.New("database.path is required for sqlite")
		}
	case library.DriverPostgres:
		if c.Database.DSN == "" {
			return errors.New("database.dsn (DATABASE_DSN) is required for postgres")
		}
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}

	c.Session.Store = strings.ToLower(c.Session.Store)
	switch c.Session.Store {
	case SessionStoreSQL:
	case SessionStoreRedis:
		if c.Session.RedisURL == "" {
			return errors.New("session.redis_url (REDIS_URL) is required for the redis session store")
		}
	default:
		return fmt.Errorf("unsupported session store %q", c.Session.Store)
	}
	if c.Session.TTL < 0 {
		return errors.New("session.ttl must not be negative")
	}

	if c.Lending.LoanPeriod <= 0 {
		return errors.New("lending.loan_period must be positive")
	}
	scope, err := library.ParseLogScope(c.Lending.MemberLogScope)
	if err != nil {
		return err
	}
	c.Lending.MemberLogScope = string(scope)

	if c.Auth.BcryptCost < bcrypt.MinCost || c.Auth.BcryptCost > bcrypt.MaxCost {
		return fmt.Errorf("auth.bcrypt_cost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}
	if a := c.Auth.Admin; a.Enabled() && (a.Email == "" || a.Password == "") {
		return errors.New("ADMIN_EMAIL and ADMIN_PASSWORD are required with ADMIN_USERNAME")
	}

	if c.Server.Cookie.Name == "" {
		c.Server.Cookie.Name = "LIBRARY_SESSION"
	}
	switch strings.ToLower(c.Server.Cookie.SameSite) {
	case "", "lax", "strict", "none":
	default:
		return fmt.Errorf("unknown cookie SameSite mode %q", c.Server.Cookie.SameSite)
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	return nil
}

// DSN is the data source handed to library.NewDatabase.
func (c *Config) DSN() string {
	if library.Driver(c.Database.Driver) == library.DriverPostgres {
		return c.Database.DSN
	}
	return c.Database.Path
}

// String summarizes the configuration with secrets hidden.
func (c *Config) String() string {
	admin := "-"
	if c.Auth.Admin.Enabled() {
		admin = c.Auth.Admin.Username
	}
	return fmt.Sprintf("Config{Addr: %s, DB: %s %s, Sessions: %s %s, LoanPeriod: %s, Admin: %s}",
		c.Server.Addr, c.Database.Driver, maskPassword(c.DSN()),
		c.Session.Store, maskPassword(c.Session.RedisURL), c.Lending.LoanPeriod, admin)
}

var credentialsPattern = regexp.MustCompile(`(://[^:/@]*:)([^@]+)(@)`)

func maskPassword(url string) string {
	return credentialsPattern.ReplaceAllString(url, "${1}***${3}")
}
