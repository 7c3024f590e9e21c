package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFromEnv(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		t.Setenv("AGENTPASS_ADDR", "")
		t.Setenv("AGENTPASS_STORAGE", "")
		t.Setenv("KAFKA_BROKERS", "")

		cfg := FromEnv()
		assert.Equal(t, ":8080", cfg.Addr)
		assert.Equal(t, StorageMemory, cfg.Storage)
		assert.Equal(t, int64(2025550100), cfg.Mailbox.PhoneBase)
		assert.Equal(t, 30*time.Second, cfg.Mailbox.DefaultWait)
		assert.Equal(t, 10*time.Second, cfg.Webhook.Timeout)
		assert.False(t, cfg.Kafka.Enabled())
		assert.Equal(t, 600, cfg.RateLimit.Requests)
		assert.Equal(t, time.Minute, cfg.RateLimit.Window)
	})

	t.Run("overrides", func(t *testing.T) {
		t.Setenv("AGENTPASS_STORAGE", StorageRedis)
		t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
		t.Setenv("AGENTPASS_WEBHOOK_EVENTS", "approval.needed,sms.received")
		t.Setenv("AGENTPASS_WEBHOOK_TIMEOUT", "2s")
		t.Setenv("AGENTPASS_PUBLIC_URL", "https://pass.example/")
		t.Setenv("AGENTPASS_ADMIN_TOKEN", "admin-secret")

		cfg := FromEnv()
		assert.Equal(t, StorageRedis, cfg.Storage)
		assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
		assert.Equal(t, []string{"approval.needed", "sms.received"}, cfg.Webhook.Events)
		assert.Equal(t, 2*time.Second, cfg.Webhook.Timeout)
		assert.Equal(t, "https://pass.example", cfg.PublicURL)
		assert.Equal(t, "admin-secret", cfg.AdminToken)
	})

	t.Run("malformed numbers fall back", func(t *testing.T) {
		t.Setenv("AGENTPASS_EVENT_LOG_CAPACITY", "lots")
		assert.Equal(t, 10000, FromEnv().EventLog.Capacity)
	})
}
