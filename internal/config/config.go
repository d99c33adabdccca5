package config

import (
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"time"

	"github.com/alexjbarnes/focus-sync/internal/identity"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Server holds the environment configuration of focus-sync-server.
type Server struct {
	// Environment controls log format
	Environment string `env:"ENVIRONMENT" envDefault:"development"`

	ListenAddr string `env:"LISTEN_ADDR" envDefault:":8080"`

	// Remote document backend: bolt, postgres or redis.
	StoreBackend string `env:"STORE_BACKEND" envDefault:"bolt"`

	// Database file for the bolt backend. Defaults to
	// ~/.focus-sync/server.db.
	StorePath string `env:"STORE_PATH"`

	DatabaseURL string `env:"DATABASE_URL"`

	// REDIS_URL selects the redis backend's server and, when set, also
	// enables cross-instance realtime fanout.
	RedisURL string `env:"REDIS_URL"`

	// JWTSecret signs and verifies primary bearer tokens.
	JWTSecret string `env:"JWT_SECRET"`

	GoogleUserinfoURL string `env:"GOOGLE_USERINFO_URL" envDefault:"https://openidconnect.googleapis.com/v1/userinfo"`

	MaxDocumentBytes int64 `env:"MAX_DOCUMENT_BYTES" envDefault:"5242880"`
}

// Client holds the environment configuration of the focus-sync device
// client.
type Client struct {
	// Environment controls log format
	Environment string `env:"ENVIRONMENT" envDefault:"development"`

	ServerURL string `env:"SYNC_SERVER_URL"`

	// Local store backend: bolt (one file) or dir (one file per key,
	// shareable between processes).
	LocalStore string `env:"LOCAL_STORE" envDefault:"bolt"`

	// Defaults to ~/.focus-sync/local.db for bolt and ~/.focus-sync/local
	// for dir.
	LocalStorePath string `env:"LOCAL_STORE_PATH"`

	Debounce time.Duration `env:"SYNC_DEBOUNCE" envDefault:"1s"`

	// Device this client identifies as. Defaults to system hostname.
	DeviceID string `env:"DEVICE_ID"`

	// When set, logs go to this size-rotated file instead of stdout.
	LogFile string `env:"LOG_FILE"`

	Realtime bool `env:"REALTIME" envDefault:"true"`
}

var (
	serverBackends = []string{"bolt", "postgres", "redis"}
	clientBackends = []string{"bolt", "dir"}
)

// warnInsecureEnvFile checks whether the .env file (if present) has
// overly permissive permissions. On Unix systems, group or world
// readable files risk exposing secrets to other users.
func warnInsecureEnvFile() {
	if runtime.GOOS == "windows" {
		return
	}

	info, err := os.Stat(".env")
	if err != nil {
		return // file does not exist, nothing to check
	}

	mode := info.Mode().Perm()
	if mode&0o077 != 0 {
		log.Printf("WARNING: .env file has insecure permissions %04o; recommended 0600", mode)
	}
}

func parse(cfg any) error {
	_ = godotenv.Load()

	warnInsecureEnvFile()

	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}

	return nil
}

// LoadServer reads server configuration from environment variables.
// It first attempts to load a .env file if present.
func LoadServer() (*Server, error) {
	cfg := &Server{}
	if err := parse(cfg); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	if cfg.StoreBackend == "bolt" {
		path, err := resolvePath(cfg.StorePath, "server.db")
		if err != nil {
			return nil, err
		}

		cfg.StorePath = path
	}

	return cfg, nil
}

func (c *Server) validate() error {
	if !slices.Contains(serverBackends, c.StoreBackend) {
		return fmt.Errorf("STORE_BACKEND must be one of %v, got %q", serverBackends, c.StoreBackend)
	}

	if c.StoreBackend == "postgres" && c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required when STORE_BACKEND is postgres")
	}

	if c.StoreBackend == "redis" && c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required when STORE_BACKEND is redis")
	}

	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	if len(c.JWTSecret) < identity.MinSecretLen {
		return fmt.Errorf("JWT_SECRET too short (minimum %d characters)", identity.MinSecretLen)
	}

	if c.MaxDocumentBytes <= 0 {
		return fmt.Errorf("MAX_DOCUMENT_BYTES must be positive")
	}

	return nil
}

// IsProduction returns true when the environment is set to production.
func (c *Server) IsProduction() bool {
	return c.Environment == "production"
}

// LoadClient reads client configuration from environment variables.
// It first attempts to load a .env file if present.
func LoadClient() (*Client, error) {
	cfg := &Client{}
	if err := parse(cfg); err != nil {
		return nil, err
	}

	if cfg.DeviceID == "" {
		hostname, err := os.Hostname()
		if err != nil || hostname == "" {
			hostname = "focus-sync"
		}

		cfg.DeviceID = hostname
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	def := "local.db"
	if cfg.LocalStore == "dir" {
		def = "local"
	}

	path, err := resolvePath(cfg.LocalStorePath, def)
	if err != nil {
		return nil, err
	}

	cfg.LocalStorePath = path

	return cfg, nil
}

func (c *Client) validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("SYNC_SERVER_URL is required")
	}

	u, err := url.Parse(c.ServerURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("SYNC_SERVER_URL must be an http or https URL")
	}

	if !slices.Contains(clientBackends, c.LocalStore) {
		return fmt.Errorf("LOCAL_STORE must be one of %v, got %q", clientBackends, c.LocalStore)
	}

	if c.Debounce <= 0 {
		return fmt.Errorf("SYNC_DEBOUNCE must be positive")
	}

	return nil
}

// IsProduction returns true when the environment is set to production.
func (c *Client) IsProduction() bool {
	return c.Environment == "production"
}

// DefaultDataDir returns ~/.focus-sync.
func DefaultDataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determining home directory: %w", err)
	}

	return filepath.Join(home, ".focus-sync"), nil
}

// resolvePath returns path as an absolute path, or name inside the
// default data directory when path is empty.
func resolvePath(path, name string) (string, error) {
	if path == "" {
		dir, err := DefaultDataDir()
		if err != nil {
			return "", err
		}

		return filepath.Join(dir, name), nil
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolving %s to absolute path: %w", path, err)
	}

	return abs, nil
}
