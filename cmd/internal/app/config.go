package app

import (
	"time"

	"teamchat/cmd/internal/relay"
	"teamchat/cmd/records"
	"teamchat/cmd/security/token"
)

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string // "json" or "pretty"

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
	MaxHeaderBytes    int

	// Store selection: DatabaseURL wins, then SQLitePath, else in-memory.
	DatabaseURL      string
	DBSchema         string
	DBMaxConns       int32
	DBMinConns       int32
	DBAutoMigrate    bool
	DBConnectTimeout time.Duration
	SQLitePath       string

	// If true, /readyz returns 503 unless a database is configured and reachable.
	ReadinessRequireDB bool

	// RequireAuth makes identify and the API demand a signed access token.
	RequireAuth bool
	JWTIssuer   string
	JWTTTL      time.Duration

	StoreTimeout time.Duration
	TypingTTL    time.Duration

	APIMaxBodyBytes int
	MetricsEnabled  bool

	// CORS for the REST API; empty disables cross-origin access.
	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int

	WS relay.WSConfig
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	ws := relay.DefaultWSConfig()
	ws.DevInsecure = EnvBool("CHAT_WS_DEV_INSECURE", false)
	ws.OriginRequired = EnvBool("CHAT_WS_ORIGIN_REQUIRED", ws.OriginRequired)
	ws.AllowedOrigins = EnvCSV("CHAT_WS_ALLOWED_ORIGINS", ws.AllowedOrigins)
	ws.WriteTimeout = EnvDuration("CHAT_WS_WRITE_TIMEOUT", ws.WriteTimeout)
	ws.ReadIdleTimeout = EnvDuration("CHAT_WS_READ_IDLE_TIMEOUT", ws.ReadIdleTimeout)
	ws.SendQueueSize = EnvInt("CHAT_WS_SEND_QUEUE", ws.SendQueueSize)
	ws.HeartbeatEvery = EnvDuration("CHAT_WS_HEARTBEAT_INTERVAL", ws.HeartbeatEvery)
	ws.HeartbeatTimeout = EnvDuration("CHAT_WS_HEARTBEAT_TIMEOUT", ws.HeartbeatTimeout)
	ws.RateEvents = EnvInt("CHAT_WS_RATE_EVENTS", ws.RateEvents)
	ws.RateWindow = EnvDuration("CHAT_WS_RATE_WINDOW", ws.RateWindow)

	return Config{
		HTTPAddr:  EnvString("CHAT_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("CHAT_LOG_LEVEL", "info"),
		LogFormat: EnvString("CHAT_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("CHAT_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("CHAT_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("CHAT_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("CHAT_HTTP_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout:   EnvDuration("CHAT_HTTP_SHUTDOWN_TIMEOUT", 10*time.Second),
		MaxHeaderBytes:    EnvInt("CHAT_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL:      EnvString("CHAT_DATABASE_URL", ""),
		DBSchema:         EnvString("CHAT_DB_SCHEMA", records.DefaultPostgresSchema),
		DBMaxConns:       EnvInt32("CHAT_DB_MAX_CONNS", 10),
		DBMinConns:       EnvInt32("CHAT_DB_MIN_CONNS", 0),
		DBAutoMigrate:    EnvBool("CHAT_DB_AUTO_MIGRATE", true),
		DBConnectTimeout: EnvDuration("CHAT_DB_CONNECT_TIMEOUT", 3*time.Second),
		SQLitePath:       EnvString("CHAT_SQLITE_PATH", ""),

		ReadinessRequireDB: EnvBool("CHAT_READINESS_REQUIRE_DB", false),

		RequireAuth: EnvBool("CHAT_REQUIRE_AUTH", true),
		JWTIssuer:   EnvString("CHAT_JWT_ISSUER", token.DefaultIssuer),
		JWTTTL:      EnvDuration("CHAT_JWT_TTL", token.DefaultTTL),

		StoreTimeout: EnvDuration("CHAT_STORE_TIMEOUT", 5*time.Second),
		TypingTTL:    EnvDuration("CHAT_TYPING_TTL", relay.DefaultTypingTTL),

		APIMaxBodyBytes: EnvInt("CHAT_API_MAX_BODY_BYTES", 1<<20),
		MetricsEnabled:  EnvBool("CHAT_METRICS_ENABLED", true),

		CORSAllowedOrigins:   EnvCSV("CHAT_CORS_ALLOWED_ORIGINS", nil),
		CORSAllowCredentials: EnvBool("CHAT_CORS_ALLOW_CREDENTIALS", false),
		CORSMaxAgeSeconds:    EnvInt("CHAT_CORS_MAX_AGE_SECONDS", 600),

		WS: ws,
	}
}

func (c Config) storeKind() string {
	switch {
	case c.DatabaseURL != "":
		return "postgres"
	case c.SQLitePath != "":
		return "sqlite"
	default:
		return "memory"
	}
}
