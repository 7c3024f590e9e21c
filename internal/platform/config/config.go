package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Storage backends.
const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
	StorageRedis    = "redis"
)

// Server captures process level configuration.
type Server struct {
	Addr          string
	LogLevel      string
	JWTSigningKey string
	AdminToken    string
	PublicURL     string
	Storage       string
	DatabaseURL   string

	Redis    RedisConfig
	Kafka    KafkaConfig
	Webhook  WebhookConfig
	Mailbox  MailboxConfig
	EventLog  EventLogConfig
	RateLimit RateLimitConfig
}

// RedisConfig configures the go-redis client.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig configures the optional audit event mirror.
type KafkaConfig struct {
	Brokers    []string
	AuditTopic string
}

// Enabled reports whether a broker list was configured.
func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

// WebhookConfig seeds one destination at startup and bounds delivery time.
type WebhookConfig struct {
	URL     string
	Secret  string
	Events  []string
	Timeout time.Duration
}

// MailboxConfig configures virtual phone numbers and inbound delivery.
type MailboxConfig struct {
	PhoneBase     int64
	InboundSecret string
	DefaultWait   time.Duration
}

// RateLimitConfig caps requests per client address. Zero disables it.
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

// EventLogConfig bounds the in-memory event and delivery logs.
type EventLogConfig struct {
	Capacity    int
	QueueLength int
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	jwtSigningKey := os.Getenv("JWT_SIGNING_KEY")
	if jwtSigningKey == "" {
		// Use a default for development - should be overridden in production
		jwtSigningKey = "dev-secret-key-change-in-production"
	}

	return Server{
		Addr:          envString("AGENTPASS_ADDR", ":8080"),
		LogLevel:      envString("AGENTPASS_LOG_LEVEL", "info"),
		JWTSigningKey: jwtSigningKey,
		AdminToken:    os.Getenv("AGENTPASS_ADMIN_TOKEN"),
		PublicURL:     strings.TrimRight(envString("AGENTPASS_PUBLIC_URL", "http://localhost:8080"), "/"),
		Storage:       envString("AGENTPASS_STORAGE", StorageMemory),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     envInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  envDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers:    envList("KAFKA_BROKERS"),
			AuditTopic: envString("KAFKA_AUDIT_TOPIC", "agentpass.events"),
		},
		Webhook: WebhookConfig{
			URL:     os.Getenv("AGENTPASS_WEBHOOK_URL"),
			Secret:  os.Getenv("AGENTPASS_WEBHOOK_SECRET"),
			Events:  envList("AGENTPASS_WEBHOOK_EVENTS"),
			Timeout: envDuration("AGENTPASS_WEBHOOK_TIMEOUT", 10*time.Second),
		},
		Mailbox: MailboxConfig{
			PhoneBase:     int64(envInt("AGENTPASS_PHONE_BASE", 2025550100)),
			InboundSecret: os.Getenv("AGENTPASS_SMS_INBOUND_SECRET"),
			DefaultWait:   envDuration("AGENTPASS_SMS_WAIT", 30*time.Second),
		},
		EventLog: EventLogConfig{
			Capacity:    envInt("AGENTPASS_EVENT_LOG_CAPACITY", 10000),
			QueueLength: envInt("AGENTPASS_EVENT_QUEUE_LENGTH", 1024),
		},
		RateLimit: RateLimitConfig{
			Requests: envInt("AGENTPASS_RATE_LIMIT", 600),
			Window:   envDuration("AGENTPASS_RATE_LIMIT_WINDOW", time.Minute),
		},
	}
}

func envString(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envList(key string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
