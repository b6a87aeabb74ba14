package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("UPSTREAM_API_URL", "http://api.test/")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "http://api.test", cfg.UpstreamURL)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, BackendRedis, cfg.DraftBackend)
	assert.Equal(t, 6*time.Hour, cfg.DraftTTL)
	assert.Equal(t, 60*time.Minute, cfg.DefaultDuration)
	assert.Equal(t, 4*time.Second, cfg.PollInterval)
	assert.Equal(t, time.Second, cfg.CountdownTick)
	assert.Equal(t, 6, cfg.OTPCodeLength)
	assert.Equal(t, TransportAMQP, cfg.EventsTransport)
	assert.Equal(t, "Asia/Bangkok", cfg.Timezone.String())
	assert.False(t, cfg.IsProduction())
}

func TestLoad_Errors(t *testing.T) {
	t.Setenv("UPSTREAM_API_URL", "")
	t.Setenv("DRAFT_BACKEND", "etcd")
	t.Setenv("EVENTS_TRANSPORT", "kafka")
	t.Setenv("OTP_CODE_LENGTH", "3")

	_, err := Load()
	require.Error(t, err)
	for _, want := range []string{"UPSTREAM_API_URL", "DRAFT_BACKEND", "EVENTS_TRANSPORT", "OTP_CODE_LENGTH"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("UPSTREAM_API_URL", "https://api.test")
	t.Setenv("APP_ENV", "production")
	t.Setenv("DRAFT_BACKEND", "MySQL")
	t.Setenv("PAYMENT_POLL_INTERVAL", "2s")
	t.Setenv("APP_TIMEZONE", "UTC")
	t.Setenv("AMQP_URL", "amqp://u:p@mq:5672/")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, BackendMySQL, cfg.DraftBackend)
	assert.Equal(t, 2*time.Second, cfg.PollInterval)
	assert.Equal(t, time.UTC, cfg.Timezone)
	assert.Equal(t, "amqp://u:p@mq:5672/", cfg.AMQPURL)
}

func TestLoadRateLimitConfig(t *testing.T) {
	t.Setenv("RATE_LIMIT_BURST", "3")
	t.Setenv("RATE_LIMIT_TTL", "1s")

	cfg := LoadRateLimitConfig()
	assert.Equal(t, 3, cfg.Capacity)
	assert.Equal(t, 60*time.Second, cfg.TTL)
	assert.Equal(t, "profile_route", cfg.KeyStrategy)
}
