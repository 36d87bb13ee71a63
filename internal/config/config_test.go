package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigRequiresJWTSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")

	_, err := LoadConfig()
	require.Error(t, err)
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("CHANGEFEED_DRIVER", "")
	t.Setenv("STORE_TIMEOUT", "")
	t.Setenv("MAX_ATTACHMENT_BYTES", "")
	t.Setenv("WEBHOOK_ASYNC_QUEUE", "")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, ChangeFeedMemory, cfg.ChangeFeedDriver)
	assert.Equal(t, 5*time.Second, cfg.StoreTimeout)
	assert.Equal(t, int64(10*1024*1024), cfg.MaxAttachmentBytes)
	assert.False(t, cfg.WebhookAsyncQueue)
}

func TestLoadConfigRedisDriverNeedsURL(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("CHANGEFEED_DRIVER", "redis")
	t.Setenv("REDIS_URL", "")

	_, err := LoadConfig()
	require.Error(t, err)

	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, ChangeFeedRedis, cfg.ChangeFeedDriver)
}

func TestLoadConfigRejectsUnknownDriver(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("CHANGEFEED_DRIVER", "kafka")

	_, err := LoadConfig()
	require.Error(t, err)
}

func TestGetEnvDurationFallsBackOnGarbage(t *testing.T) {
	t.Setenv("STORE_TIMEOUT", "soon")
	assert.Equal(t, 3*time.Second, getEnvDuration("STORE_TIMEOUT", 3*time.Second))

	t.Setenv("STORE_TIMEOUT", "750ms")
	assert.Equal(t, 750*time.Millisecond, getEnvDuration("STORE_TIMEOUT", 3*time.Second))
}

func TestDocsEnabledOnlyInDevelopment(t *testing.T) {
	assert.True(t, (&Config{EnableDocs: true, AppEnv: normalizeEnv("dev")}).DocsEnabled())
	assert.False(t, (&Config{EnableDocs: true, AppEnv: normalizeEnv("prod")}).DocsEnabled())
	assert.False(t, (*Config)(nil).DocsEnabled())
}

func TestLoadConfigRejectsBadIntegers(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("CHANGEFEED_DRIVER", "")
	t.Setenv("WEBHOOK_ASYNC_QUEUE", "")

	tests := []struct {
		key   string
		value string
	}{
		{key: "DB_MAX_CONNS", value: "4294967306"},
		{key: "DB_MAX_CONNS", value: "many"},
		{key: "MAX_ATTACHMENT_BYTES", value: "0"},
		{key: "MAX_ATTACHMENT_BYTES", value: "-5"},
		{key: "WORKER_CONCURRENCY", value: "1.5"},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := LoadConfig()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.key)
		})
	}
}

func TestLoadConfigParsesIntegers(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("CHANGEFEED_DRIVER", "")
	t.Setenv("WEBHOOK_ASYNC_QUEUE", "")
	t.Setenv("DB_MAX_CONNS", "25")
	t.Setenv("MAX_ATTACHMENT_BYTES", "2048")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, int32(25), cfg.DBMaxConns)
	assert.Equal(t, int64(2048), cfg.MaxAttachmentBytes)
}
