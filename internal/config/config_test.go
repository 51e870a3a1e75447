package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 100, cfg.RateLimit.IPLimit)
	assert.Equal(t, time.Minute, cfg.RateLimit.IPWindow)
	assert.Equal(t, 1000, cfg.RateLimit.UserLimit)
	assert.Equal(t, time.Hour, cfg.RateLimit.UserWindow)
	assert.Equal(t, 5*time.Second, cfg.RateLimit.ExpiryGrace)
	assert.Equal(t, FailOpen, cfg.RateLimit.FailMode)
	assert.Equal(t, TieBreakIP, cfg.RateLimit.TieBreak)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, []int{502, 503, 504}, cfg.Retry.RetryableStatus)
	assert.Equal(t, 5, cfg.Breaker.FailureThreshold)
	assert.Equal(t, 30*time.Second, cfg.Breaker.BreakDuration)
	assert.Equal(t, []string{"/health"}, cfg.HealthPaths)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("GATEWAY_RATE_LIMIT_IP_LIMIT", "5")
	t.Setenv("GATEWAY_RATE_LIMIT_FAIL_MODE", "closed")
	t.Setenv("GATEWAY_SERVER_PORT", "9090")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.RateLimit.IPLimit)
	assert.Equal(t, FailClosed, cfg.RateLimit.FailMode)
	assert.Equal(t, "9090", cfg.Server.Port)
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  port: "7070"
rate_limit:
  ip_limit: 42
  tie_break: earliest
services:
  - path: /api/chat
    target: http://chat-service:8081
  - path: /api/tasks
    target: http://task-service:8082
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "7070", cfg.Server.Port)
	assert.Equal(t, 42, cfg.RateLimit.IPLimit)
	assert.Equal(t, TieBreakEarliest, cfg.RateLimit.TieBreak)
	require.Len(t, cfg.Services, 2)
	assert.Equal(t, "/api/chat", cfg.Services[0].Path)
	assert.Equal(t, "http://chat-service:8081", cfg.Services[0].Target)

	// File settings merge over defaults
	assert.Equal(t, 1000, cfg.RateLimit.UserLimit)
}

func TestLoad_ValidationFailures(t *testing.T) {
	tests := []struct {
		name  string
		env   map[string]string
		wantX string
	}{
		{"bad fail mode", map[string]string{"GATEWAY_RATE_LIMIT_FAIL_MODE": "maybe"}, "fail_mode"},
		{"bad tie break", map[string]string{"GATEWAY_RATE_LIMIT_TIE_BREAK": "random"}, "tie_break"},
		{"zero ip limit", map[string]string{"GATEWAY_RATE_LIMIT_IP_LIMIT": "0"}, "ip_limit"},
		{"zero attempts", map[string]string{"GATEWAY_RETRY_MAX_ATTEMPTS": "0"}, "max_attempts"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load("")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantX)
		})
	}
}

func TestValidate_ServiceEntries(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.Services = []ServiceConfig{{Path: "/api/chat", Target: ""}}
	assert.ErrorContains(t, cfg.Validate(), "services[0].target")

	cfg.Services = []ServiceConfig{{Path: "", Target: "http://x"}}
	assert.ErrorContains(t, cfg.Validate(), "services[0].path")
}
