package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/yungbote/research-agent-backend/internal/agent"
	"github.com/yungbote/research-agent-backend/internal/data/db"
	"github.com/yungbote/research-agent-backend/internal/observability"
	"github.com/yungbote/research-agent-backend/internal/platform/envutil"
	"github.com/yungbote/research-agent-backend/internal/platform/logger"
	"github.com/yungbote/research-agent-backend/internal/platform/openai"
	"github.com/yungbote/research-agent-backend/internal/services"
)

const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"

	BusLocal = "local"
	BusRedis = "redis"
)

type Config struct {
	HTTPAddr    string
	ServiceName string
	Environment string
	CORSOrigins []string

	DocstoreDriver string
	SQLitePath     string
	PostgresDSN    string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string

	EventBus     string
	RedisChannel string

	AppendMaxRetries int
	SSEHeartbeat     time.Duration
	ShutdownTimeout  time.Duration
	RunRetention     time.Duration

	LLM     openai.Config
	Agent   agent.Config
	Tracing observability.TracingConfig
}

// LoadConfig reads .env (when present), the environment and the optional
// AGENT_CONFIG_FILE overlay.
func LoadConfig(log *logger.Logger) (Config, error) {
	if err := godotenv.Load(); err == nil {
		log.Info("Loaded .env file")
	}

	cfg := Config{
		HTTPAddr:    envutil.String("HTTP_ADDR", ":8080"),
		ServiceName: envutil.String("OTEL_SERVICE_NAME", "research-agent"),
		Environment: envutil.String("APP_ENV", "development"),
		CORSOrigins: splitList(envutil.String("CORS_ALLOWED_ORIGINS", "")),

		DocstoreDriver: strings.ToLower(envutil.String("DOCSTORE_DRIVER", DriverMemory)),
		SQLitePath:     envutil.String("SQLITE_PATH", "research-agent.db"),

		RedisAddr:     envutil.String("REDIS_ADDR", "localhost:6379"),
		RedisPassword: envutil.String("REDIS_PASSWORD", ""),
		RedisDB:       envutil.Int("REDIS_DB", 0),
		RedisPrefix:   envutil.String("REDIS_PREFIX", "research-agent"),

		EventBus:     strings.ToLower(envutil.String("EVENT_BUS", BusLocal)),
		RedisChannel: envutil.String("REDIS_CHANNEL", "agent-events"),

		AppendMaxRetries: envutil.Int("CHAIN_APPEND_MAX_RETRIES", services.DefaultAppendMaxRetries),
		SSEHeartbeat:     envutil.Duration("SSE_HEARTBEAT", 15*time.Second),
		ShutdownTimeout:  envutil.Duration("SHUTDOWN_TIMEOUT", 20*time.Second),
		RunRetention:     envutil.Duration("RUN_RETENTION", 10*time.Minute),

		LLM:     openai.ConfigFromEnv(),
		Tracing: observability.TracingConfigFromEnv(),
	}
	if cfg.DocstoreDriver == DriverPostgres {
		cfg.PostgresDSN = db.PostgresDSN()
	}

	agentCfg, err := agent.LoadConfig(envutil.String("AGENT_CONFIG_FILE", ""))
	if err != nil {
		return cfg, err
	}
	agentCfg.HistoryWindow = envutil.Int("AGENT_HISTORY_WINDOW", agentCfg.HistoryWindow)
	cfg.Agent = agentCfg

	return cfg, cfg.validate()
}

func (c Config) validate() error {
	switch c.DocstoreDriver {
	case DriverMemory, DriverSQLite, DriverPostgres, DriverRedis:
	default:
		return fmt.Errorf("unknown DOCSTORE_DRIVER %q", c.DocstoreDriver)
	}
	switch c.EventBus {
	case BusLocal, BusRedis:
	default:
		return fmt.Errorf("unknown EVENT_BUS %q", c.EventBus)
	}
	if c.AppendMaxRetries <= 0 {
		return fmt.Errorf("CHAIN_APPEND_MAX_RETRIES must be positive, got %d", c.AppendMaxRetries)
	}
	return nil
}

func (c Config) needsRedis() bool {
	return c.DocstoreDriver == DriverRedis || c.EventBus == BusRedis
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
