package main

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentpass/internal/notify"
	"agentpass/internal/platform/config"
)

func TestOpenBackend(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	t.Run("memory needs no infrastructure", func(t *testing.T) {
		b, err := openBackend(ctx, config.Server{Storage: config.StorageMemory}, log)
		require.NoError(t, err)
		defer b.close()
		assert.NotNil(t, b.kv)
		assert.NotNil(t, b.approvals)
		assert.NotNil(t, b.limits)
		assert.Empty(t, b.health)
	})

	t.Run("redis requires a url", func(t *testing.T) {
		_, err := openBackend(ctx, config.Server{Storage: config.StorageRedis}, log)
		assert.Error(t, err)
	})

	t.Run("postgres requires a url", func(t *testing.T) {
		_, err := openBackend(ctx, config.Server{Storage: config.StoragePostgres}, log)
		assert.Error(t, err)
	})

	t.Run("unknown backend", func(t *testing.T) {
		_, err := openBackend(ctx, config.Server{Storage: "etcd"}, log)
		assert.ErrorContains(t, err, "etcd")
	})
}

func TestWebhookFromConfig(t *testing.T) {
	hook := webhookFromConfig(config.WebhookConfig{
		URL:    "https://hooks.example/a",
		Secret: "s",
		Events: []string{"approval.needed"},
	})
	assert.Equal(t, []notify.EventType{notify.EventApprovalNeeded}, hook.Events)
	assert.True(t, hook.Accepts(notify.EventApprovalNeeded))
	assert.False(t, hook.Accepts(notify.EventSMSReceived))

	all := webhookFromConfig(config.WebhookConfig{URL: "https://hooks.example/b"})
	assert.Nil(t, all.Events)
	assert.True(t, all.Accepts(notify.EventAgentError))
}
