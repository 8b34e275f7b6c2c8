package config

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/joho/godotenv"
)

// Config holds settings shared by the gateway, broker, and worker
// binaries. Each binary only reads the fields relevant to it; the
// struct is assembled once, at process start, and treated as
// read-only afterwards (spec.md §9: no hidden singleton coupling).
type Config struct {
	// Gateway
	GatewayPublicAddr   string // client-facing WebSocket/HTTP listener
	GatewayInternalAddr string // loopback listener workers dial back to
	GatewayInternalPort int    // port component of GatewayInternalAddr, for worker CLI args
	ProtocolVersion     string // e.g. "1.0" — negotiated via loolclient/loolserver

	MatchmakingRetries int
	MatchmakingTimeout time.Duration

	// Broker
	BrokerFIFOPath string // well-known FIFO path the gateway writes "request" lines to
	PreforkWorkers int
	WorkerBinary   string // path to the worker executable the broker forks

	// Worker / jail
	ChildRoot             string // root directory holding one subdirectory per jail
	SysTemplatePath       string // system template copied/linked into each jail
	LOTemplatePath        string // engine install mirrored into each jail
	MaxDocumentsPerWorker int

	// TileCache
	TileCacheRoot string

	// Database (session audit log only — never document content)
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Observability
	JaegerEndpoint    string
	JaegerSampleRatio float64 // 1.0 = sample everything; lower for production traffic
}

// Load reads a .env file (if present) then the process environment,
// mirroring the teacher's config.Load shape: godotenv first, then
// typed getEnv*/getEnvInt helpers with defaults.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		GatewayPublicAddr:   getEnv("GATEWAY_PUBLIC_ADDR", ":9980"),
		GatewayInternalAddr: getEnv("GATEWAY_INTERNAL_ADDR", "127.0.0.1:9981"),
		ProtocolVersion:     getEnv("PROTOCOL_VERSION", "1.0"),

		MatchmakingRetries: getEnvInt("MATCHMAKING_RETRIES", 3),
		MatchmakingTimeout: getEnvDuration("MATCHMAKING_TIMEOUT", 2*time.Second),

		BrokerFIFOPath: getEnv("BROKER_FIFO_PATH", "/tmp/loolbroker.fifo"),
		PreforkWorkers: getEnvInt("PREFORK_WORKERS", 2),
		WorkerBinary:   getEnv("WORKER_BINARY", "./worker"),

		ChildRoot:             getEnv("CHILD_ROOT", "/opt/lool/child-roots"),
		SysTemplatePath:       getEnv("SYS_TEMPLATE_PATH", "/opt/lool/systemplate"),
		LOTemplatePath:        getEnv("LO_TEMPLATE_PATH", "/opt/lool/lotemplate"),
		MaxDocumentsPerWorker: getEnvInt("MAX_DOCUMENTS_PER_WORKER", 1),

		TileCacheRoot: getEnv("TILE_CACHE_ROOT", "/tmp/lool-tilecache"),

		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", "postgres"),
		DBName:     getEnv("DB_NAME", "lool_audit"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		JaegerEndpoint:    getEnv("JAEGER_ENDPOINT", "http://localhost:14268/api/traces"),
		JaegerSampleRatio: getEnvFloat("JAEGER_SAMPLE_RATIO", 1.0),
	}

	if cfg.ChildRoot == "" {
		return nil, fmt.Errorf("CHILD_ROOT is required")
	}

	if _, portStr, err := net.SplitHostPort(cfg.GatewayInternalAddr); err == nil {
		_, _ = fmt.Sscanf(portStr, "%d", &cfg.GatewayInternalPort)
	}

	return cfg, nil
}

// DatabaseURL builds a libpq DSN for the (optional) session audit log.
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var result int
		if _, err := fmt.Sscanf(value, "%d", &result); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		var result float64
		if _, err := fmt.Sscanf(value, "%g", &result); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
