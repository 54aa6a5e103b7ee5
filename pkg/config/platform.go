package config

import "time"

// PlatformConfig holds runtime configuration for the control-plane service.
type PlatformConfig struct {
	Environment        string
	Addr               string
	DatabaseURL        string
	MigrationsDir      string
	AuthServiceURL     string
	AuthJWTSecret      string
	AuthTimeout        time.Duration
	GatewayToken       string
	EnvEncryptionKey   string
	DockerHost         string
	RuntimeTimeout     time.Duration
	PortBase           int
	PortRangeSize      int
	PortMaxRetries     int
	LogTailLines       int
	EventBuffer        int
	RateLimitRedisAddr string
	RateLimitRedisPass string
	RateLimitRedisDB   int
}

// LoadPlatformConfig constructs a PlatformConfig from environment variables.
func LoadPlatformConfig() PlatformConfig {
	return PlatformConfig{
		Environment:        GetString("APP_ENV", "development"),
		Addr:               GetString("PLATFORM_ADDR", ":4000"),
		DatabaseURL:        GetString("DATABASE_URL", "postgres://platform:platform@db:5432/platform?sslmode=disable"),
		MigrationsDir:      GetString("DB_MIGRATIONS_DIR", "./db/migrations"),
		AuthServiceURL:     GetString("AUTH_SERVICE_URL", "http://localhost:5000/api/auth/validate-token"),
		AuthJWTSecret:      GetString("AUTH_JWT_SECRET", ""),
		AuthTimeout:        time.Duration(GetInt("AUTH_TIMEOUT_SECONDS", 5)) * time.Second,
		GatewayToken:       GetString("GATEWAY_AUTH_TOKEN", ""),
		EnvEncryptionKey:   GetString("ENV_ENCRYPTION_KEY", "supersecuresecret"),
		DockerHost:         GetString("DOCKER_HOST_OVERRIDE", ""),
		RuntimeTimeout:     time.Duration(GetInt("RUNTIME_TIMEOUT_SECONDS", 30)) * time.Second,
		PortBase:           GetInt("PORT_ALLOC_BASE", 6000),
		PortRangeSize:      GetInt("PORT_ALLOC_RANGE", 1000),
		PortMaxRetries:     GetInt("PORT_ALLOC_RETRIES", 25),
		LogTailLines:       GetInt("WORKLOAD_LOG_TAIL", 200),
		EventBuffer:        GetInt("WS_EVENT_BUFFER", 100),
		RateLimitRedisAddr: GetString("RATE_LIMIT_REDIS_ADDR", ""),
		RateLimitRedisPass: GetString("RATE_LIMIT_REDIS_PASSWORD", ""),
		RateLimitRedisDB:   GetInt("RATE_LIMIT_REDIS_DB", 0),
	}
}
