package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, "local", cfg.Fabric.Transport)
	assert.Equal(t, 3*time.Second, cfg.Typing.TTL)
	assert.Equal(t, time.Second, cfg.Typing.Margin)
	assert.Equal(t, 3, cfg.Ledger.MaxAttempts)
	assert.Equal(t, 1000, cfg.Outbox.Capacity)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("CHAT_HTTP_ADDR", ":9999")
	t.Setenv("CHAT_TYPING_TTL", "5s")
	t.Setenv("CHAT_KAFKA_BROKERS", "a:9092,b:9092")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.HTTP.Addr)
	assert.Equal(t, 5*time.Second, cfg.Typing.TTL)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Kafka.Brokers)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chat.yaml")
	require.NoError(t, os.WriteFile(path, []byte("fabric:\n  queue_limit: 8\noutbox:\n  capacity: 2\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Fabric.QueueLimit)
	assert.Equal(t, 2, cfg.Outbox.Capacity)
}

func TestLoadRejectsRedisTransportWithoutURL(t *testing.T) {
	t.Setenv("CHAT_FABRIC_TRANSPORT", "redis")
	_, err := Load("")
	assert.Error(t, err)
}
