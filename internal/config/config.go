package config

import (
	"fmt"
	"log"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Storage drivers.
const (
	StorageMemory   = "memory"
	StorageSqlite   = "sqlite"
	StoragePostgres = "postgres"
)

// Notification drivers.
const (
	NotifyLog  = "log"
	NotifyNats = "nats"
)

type Config struct {
	HTTPServer struct {
		Port           int `koanf:"port"`
		MaxHeaderBytes int `koanf:"maxheaderbytes"`
		Timeout        struct {
			Read       time.Duration `koanf:"read"`
			Write      time.Duration `koanf:"write"`
			Idle       time.Duration `koanf:"idle"`
			ReadHeader time.Duration `koanf:"readheader"`
		} `koanf:"timeout"`
	} `koanf:"server"`

	GRPC struct {
		Port              int  `koanf:"port"`
		ReflectionEnabled bool `koanf:"reflection"`
	} `koanf:"grpc"`

	Storage struct {
		Driver string `koanf:"driver"`
		Key    string `koanf:"key"`
		Sqlite struct {
			Path string `koanf:"path"`
		} `koanf:"sqlite"`
		Postgres struct {
			URL     string        `koanf:"url"`
			Timeout time.Duration `koanf:"timeout"`
		} `koanf:"postgres"`
		Breaker struct {
			Enabled             bool          `koanf:"enabled"`
			ConsecutiveFailures uint32        `koanf:"consecutivefailures"`
			OpenTimeout         time.Duration `koanf:"opentimeout"`
		} `koanf:"breaker"`
	} `koanf:"storage"`

	Notify struct {
		Driver string `koanf:"driver"`
		Nats   struct {
			URL     string        `koanf:"url"`
			Subject string        `koanf:"subject"`
			Timeout time.Duration `koanf:"timeout"`
		} `koanf:"nats"`
	} `koanf:"notify"`

	Log struct {
		Level string `koanf:"level"`
	} `koanf:"log"`

	PProf struct {
		Enabled bool   `koanf:"enabled"`
		Addr    string `koanf:"addr"`
	} `koanf:"pprof"`

	Shutdown struct {
		Timeout time.Duration `koanf:"timeout"`
	} `koanf:"shutdown"`
}

func (c Config) String() string {
	var b strings.Builder
	b.WriteString("\n--- Server ---\n")
	b.WriteString(fmt.Sprintf("  port: %d, maxheaderbytes: %d\n", c.HTTPServer.Port, c.HTTPServer.MaxHeaderBytes))
	b.WriteString(fmt.Sprintf("  timeout: read=%v write=%v idle=%v readheader=%v\n",
		c.HTTPServer.Timeout.Read, c.HTTPServer.Timeout.Write, c.HTTPServer.Timeout.Idle, c.HTTPServer.Timeout.ReadHeader))
	b.WriteString("\n--- gRPC ---\n")
	b.WriteString(fmt.Sprintf("  port: %d, reflection: %t\n", c.GRPC.Port, c.GRPC.ReflectionEnabled))
	b.WriteString("\n--- Storage ---\n")
	b.WriteString(fmt.Sprintf("  driver: %s, key: %s\n", c.Storage.Driver, c.Storage.Key))
	switch c.Storage.Driver {
	case StorageSqlite:
		b.WriteString(fmt.Sprintf("  sqlite.path: %s\n", c.Storage.Sqlite.Path))
	case StoragePostgres:
		b.WriteString(fmt.Sprintf("  postgres.url: %s, postgres.timeout: %v\n", maskURL(c.Storage.Postgres.URL), c.Storage.Postgres.Timeout))
	}
	b.WriteString(fmt.Sprintf("  breaker: enabled=%t consecutivefailures=%d opentimeout=%v\n",
		c.Storage.Breaker.Enabled, c.Storage.Breaker.ConsecutiveFailures, c.Storage.Breaker.OpenTimeout))
	b.WriteString("\n--- Notify ---\n")
	b.WriteString(fmt.Sprintf("  driver: %s\n", c.Notify.Driver))
	if c.Notify.Driver == NotifyNats {
		b.WriteString(fmt.Sprintf("  nats.url: %s, nats.subject: %s, nats.timeout: %v\n", maskURL(c.Notify.Nats.URL), c.Notify.Nats.Subject, c.Notify.Nats.Timeout))
	}
	b.WriteString(fmt.Sprintf("\n--- Log ---\n  level: %s\n", c.Log.Level))
	b.WriteString(fmt.Sprintf("\n--- PProf ---\n  enabled: %t, addr: %s\n", c.PProf.Enabled, c.PProf.Addr))
	b.WriteString(fmt.Sprintf("\n--- Shutdown ---\n  timeout: %v\n", c.Shutdown.Timeout))
	return b.String()
}

func maskURL(rawURL string) string {
	if rawURL == "" {
		return "<not configured>"
	}
	// Mask the URL by replacing the username and password with "****"
	parts := strings.Split(rawURL, "@")
	if len(parts) == 2 {
		return "****@" + parts[1]
	}
	return rawURL
}

const (
	envPrefix      = "cart_svc_"
	defaultEnvFile = ".env"
	configFile     = "config.yaml"
)

// defaults are loaded first so a bare environment still yields a runnable in-memory service.
var defaults = map[string]any{
	"server.port":                         8080,
	"server.maxheaderbytes":               1 << 20,
	"server.timeout.read":                 "5s",
	"server.timeout.write":                "10s",
	"server.timeout.idle":                 "60s",
	"server.timeout.readheader":           "2s",
	"grpc.port":                           9090,
	"grpc.reflection":                     false,
	"storage.driver":                      StorageMemory,
	"storage.key":                         "bakeryCart",
	"storage.sqlite.path":                 "bakery-cart.db",
	"storage.postgres.timeout":            "10s",
	"storage.breaker.enabled":             true,
	"storage.breaker.consecutivefailures": 3,
	"storage.breaker.opentimeout":         "30s",
	"notify.driver":                       NotifyLog,
	"notify.nats.subject":                 "bakery.cart.toasts",
	"notify.nats.timeout":                 "5s",
	"log.level":                           "info",
	"pprof.enabled":                       false,
	"pprof.addr":                          "localhost:6060",
	"shutdown.timeout":                    "30s",
}

// Load reads the configuration from defaults, a yaml file, a .env file and environment variables,
// each source overriding the previous one.
func Load() (*Config, error) {
	// Create a new Koanf instance
	var k = koanf.New(".")

	// 0. Built-in defaults
	if err := k.Load(confmap.Provider(defaults, "."), nil); err != nil {
		return nil, fmt.Errorf("error loading defaults: %w", err)
	}

	// 1. Load configuration from yaml file
	if err := k.Load(file.Provider(configFile), yaml.Parser()); err != nil {
		if !os.IsNotExist(err) {
			log.Printf("WARN: error loading YAML config: %v", err)
		}
	}

	// 2. Load environment variables from .env file
	if envFileMap, err := godotenv.Read(defaultEnvFile); err == nil {
		envMap := make(map[string]interface{})
		for key, value := range envFileMap {
			if !isOwnKey(key) {
				continue
			}
			envMap[keyTransformer(key)] = value
		}
		// Load the envMap into Koanf
		if err := k.Load(confmap.Provider(envMap, "."), nil); err != nil {
			log.Printf("WARN: error loading .env config: %v", err)
		}
	} else if !os.IsNotExist(err) {
		log.Printf("WARN: error reading .env file: %v", err)
	}

	// 3. Load environment variables from the system, the highest priority
	if err := k.Load(env.Provider(strings.ToUpper(envPrefix), ".", keyTransformer), nil); err != nil {
		log.Printf("WARN: error loading env vars: %v", err)
	}

	var cfg Config
	// 4. Unmarshal the configuration into the Config struct
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	// 5. Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks if the configuration values are valid
func (c *Config) Validate() error {
	if c.HTTPServer.Port <= 0 || c.HTTPServer.Port > 65535 {
		return fmt.Errorf("invalid HTTP server port: %d", c.HTTPServer.Port)
	}
	if c.HTTPServer.Timeout.Read <= 0 {
		return fmt.Errorf("invalid HTTP server read timeout: %v", c.HTTPServer.Timeout.Read)
	}
	if c.HTTPServer.Timeout.Write <= 0 {
		return fmt.Errorf("invalid HTTP server write timeout: %v", c.HTTPServer.Timeout.Write)
	}
	if c.HTTPServer.Timeout.Idle <= 0 {
		return fmt.Errorf("invalid HTTP server idle timeout: %v", c.HTTPServer.Timeout.Idle)
	}
	if c.GRPC.Port <= 0 || c.GRPC.Port > 65535 {
		return fmt.Errorf("invalid gRPC port: %d", c.GRPC.Port)
	}
	if strings.TrimSpace(c.Storage.Key) == "" {
		return fmt.Errorf("storage key is not configured")
	}
	switch c.Storage.Driver {
	case StorageMemory:
	case StorageSqlite:
		if strings.TrimSpace(c.Storage.Sqlite.Path) == "" {
			return fmt.Errorf("sqlite storage path is not configured")
		}
	case StoragePostgres:
		if c.Storage.Postgres.URL == "" {
			return fmt.Errorf("database URL is not configured")
		}
		if !isValidPostgresURL(c.Storage.Postgres.URL) {
			return fmt.Errorf("database URL must start with 'postgres://': %s", maskURL(c.Storage.Postgres.URL))
		}
		if c.Storage.Postgres.Timeout <= 0 {
			return fmt.Errorf("invalid database timeout: %v", c.Storage.Postgres.Timeout)
		}
	default:
		return fmt.Errorf("unknown storage driver: %q", c.Storage.Driver)
	}
	if c.Storage.Breaker.Enabled {
		if c.Storage.Breaker.ConsecutiveFailures == 0 {
			return fmt.Errorf("storage.breaker.consecutivefailures must be greater than 0")
		}
		if c.Storage.Breaker.OpenTimeout <= 0 {
			return fmt.Errorf("storage.breaker.opentimeout must be greater than 0")
		}
	}
	switch c.Notify.Driver {
	case NotifyLog:
	case NotifyNats:
		if _, err := url.Parse(c.Notify.Nats.URL); err != nil || c.Notify.Nats.URL == "" {
			return fmt.Errorf("invalid NATS URL: %q", maskURL(c.Notify.Nats.URL))
		}
		if c.Notify.Nats.Timeout <= 0 {
			return fmt.Errorf("invalid NATS timeout: %v", c.Notify.Nats.Timeout)
		}
	default:
		return fmt.Errorf("unknown notify driver: %q", c.Notify.Driver)
	}
	if c.Shutdown.Timeout <= 0 {
		return fmt.Errorf("invalid shutdown timeout: %v", c.Shutdown.Timeout)
	}
	return nil
}

// isValidPostgresURL checks if the provided URL is a valid PostgreSQL URL
func isValidPostgresURL(url string) bool {
	return strings.HasPrefix(url, "postgres://") ||
		strings.HasPrefix(url, "postgresql://")
}

// isOwnKey reports whether an environment key belongs to this service.
func isOwnKey(key string) bool {
	return strings.HasPrefix(strings.ToLower(key), envPrefix)
}

// keyTransformer transforms environment variable keys to match the expected format
func keyTransformer(key string) string {
	key = strings.ToLower(key)
	key = strings.TrimPrefix(key, envPrefix)
	return strings.ReplaceAll(key, "_", ".")
}
