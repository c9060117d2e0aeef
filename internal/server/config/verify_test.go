package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerify_Default(t *testing.T) {
	require.NoError(t, Verify(Default()))
}

func TestVerify_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*ServerConfig)
		wantErr string
	}{
		{
			name:    "missing redis addr",
			mutate:  func(c *ServerConfig) { c.Server.Redis.Addr = "" },
			wantErr: "server.redis.addr is required",
		},
		{
			name:    "redis addr without port",
			mutate:  func(c *ServerConfig) { c.Server.Redis.Addr = "localhost" },
			wantErr: "server.redis.addr is not a valid host:port address",
		},
		{
			name:    "negative rate limit",
			mutate:  func(c *ServerConfig) { c.Server.Redis.RateLimit = -1 },
			wantErr: "rate_limit must not be negative",
		},
		{
			name:    "negative timeout",
			mutate:  func(c *ServerConfig) { c.Server.Redis.IdleTimeout = -1 },
			wantErr: "timeouts must not be negative",
		},
		{
			name: "admin addr conflict",
			mutate: func(c *ServerConfig) {
				c.Server.Admin.Enabled = true
				c.Server.Admin.Addr = c.Server.Redis.Addr
			},
			wantErr: "conflicts with server.redis.addr",
		},
		{
			name:    "zero shards",
			mutate:  func(c *ServerConfig) { c.Store.Shards = 0 },
			wantErr: "store.shards must be at least 1",
		},
		{
			name:    "non power of two shards",
			mutate:  func(c *ServerConfig) { c.Store.Shards = 12 },
			wantErr: "store.shards must be a power of two",
		},
		{
			name:    "bad log level",
			mutate:  func(c *ServerConfig) { c.Log.Level = "verbose" },
			wantErr: "log.level must be one of",
		},
		{
			name:    "bad log format",
			mutate:  func(c *ServerConfig) { c.Log.Format = "xml" },
			wantErr: "log.format must be json or text",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := Verify(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestVerify_AdminDisabledSkipsAddrCheck(t *testing.T) {
	cfg := Default()
	cfg.Server.Admin.Enabled = false
	cfg.Server.Admin.Addr = ""
	assert.NoError(t, Verify(cfg))
}
