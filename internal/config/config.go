package config // package config loads application configuration from environment variables

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store drivers accepted in STORE_DRIVER.
const (
	StoreMySQL  = "mysql"
	StoreMemory = "memory"
)

// Config holds all runtime configuration values.  Each field corresponds to
// an environment variable.
type Config struct {
	Env             string        // application environment (e.g. "dev", "prod")
	Port            string        // HTTP port to listen on
	StoreDriver     string        // mysql or memory
	DBUser          string        // database username
	DBPass          string        // database password (optional)
	DBHost          string        // database host address
	DBPort          string        // database port number
	DBName          string        // database name
	JWTSecret       string        // secret used to sign JWTs
	AccessTTLMin    int           // access token time‑to‑live in minutes
	RefreshTTLDays  int           // refresh token time‑to‑live in days
	BcryptCost      int           // bcrypt cost for password hashing
	LogLevel        string        // debug, info, warn or error
	ShutdownTimeout time.Duration // grace period for in-flight requests
	MediaDir        string        // optional local directory served under /media
}

// LoadDotEnv reads .env from the working directory when present.  Values
// already set in the process environment win.
func LoadDotEnv() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("config: .env not loaded: %v", err)
	}
}

// Load reads configuration values from environment variables and returns a
// Config.  Missing or malformed required variables cause the program to
// exit with a fatal log message.
func Load() Config {
	cfg, err := FromLookup(os.LookupEnv)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	return cfg
}

// FromLookup builds a Config from an arbitrary variable source.  The MySQL
// settings are required only for the mysql store driver.
func FromLookup(lookup func(string) (string, bool)) (Config, error) {
	e := env{lookup: lookup}
	cfg := Config{
		Env:             e.str("APP_ENV", "dev"),
		Port:            e.must("APP_PORT"),
		StoreDriver:     strings.ToLower(e.str("STORE_DRIVER", StoreMySQL)),
		DBPass:          e.str("DB_PASS", ""),
		JWTSecret:       e.must("JWT_SECRET"),
		AccessTTLMin:    e.mustInt("ACCESS_TOKEN_TTL_MIN"),
		RefreshTTLDays:  e.mustInt("REFRESH_TOKEN_TTL_DAYS"),
		BcryptCost:      e.mustInt("BCRYPT_COST"),
		LogLevel:        strings.ToLower(e.str("LOG_LEVEL", "info")),
		ShutdownTimeout: e.dur("SHUTDOWN_TIMEOUT", 10*time.Second),
		MediaDir:        e.str("MEDIA_DIR", ""),
	}
	switch cfg.StoreDriver {
	case StoreMySQL:
		cfg.DBUser = e.must("DB_USER")
		cfg.DBHost = e.must("DB_HOST")
		cfg.DBPort = e.must("DB_PORT")
		cfg.DBName = e.must("DB_NAME")
	case StoreMemory:
	default:
		e.fail(fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", StoreMySQL, StoreMemory, cfg.StoreDriver))
	}
	if len(cfg.JWTSecret) < 16 && cfg.Env == "prod" {
		e.fail(fmt.Errorf("JWT_SECRET must be at least 16 characters in prod"))
	}
	if e.err != nil {
		return Config{}, e.err
	}
	return cfg, nil
}

// env collects the first error while reading variables so every lookup
// can be written inline.
type env struct {
	lookup func(string) (string, bool)
	err    error
}

func (e *env) fail(err error) {
	if e.err == nil {
		e.err = err
	}
}

func (e *env) str(key, def string) string {
	if v, ok := e.lookup(key); ok && v != "" {
		return v
	}
	return def
}

// must retrieves the value of a required variable.
func (e *env) must(key string) string {
	v, ok := e.lookup(key)
	if !ok || v == "" {
		e.fail(fmt.Errorf("missing required env var: %s", key))
	}
	return v
}

// mustInt is like must() but converts the retrieved string into an integer.
func (e *env) mustInt(key string) int {
	s := e.must(key)
	if s == "" {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		e.fail(fmt.Errorf("invalid int for %s: %q", key, s))
	}
	return n
}

func (e *env) dur(key string, def time.Duration) time.Duration {
	v, ok := e.lookup(key)
	if !ok || v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(fmt.Errorf("invalid duration for %s: %q", key, v))
		return def
	}
	return d
}
