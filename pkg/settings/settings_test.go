package settings

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	s, err := NewSettings()
	require.NoError(t, err)

	assert.Equal(t, "https://10.0.0.2:8887/api", s.Remote.BaseURL)
	assert.Equal(t, 30*time.Second, s.Remote.Timeout)
	assert.True(t, s.Remote.AllowLocalNetworks)
	assert.Equal(t, "yaml", s.Mirror.Backend)
	assert.Equal(t, "chatmirror", s.Mirror.Prefix)
	assert.Equal(t, "New conversation", s.Store.DefaultTitle)
	assert.Equal(t, "timestamp", s.Store.IDScheme)
	assert.Equal(t, 4, s.Store.MaxInflight)
	assert.True(t, s.Store.ParseThinking)
	assert.Equal(t, "literal", s.Store.MalformedThinking)
	assert.Equal(t, "info", s.Log.Level)
	assert.Equal(t, "text", s.Log.Format)

	require.NoError(t, s.Validate())
}

func TestConfigFileAndEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
remote:
  base-url: https://chat.example.com/api
  timeout: 5s
mirror:
  backend: SQLite
store:
  id-scheme: ulid
log-level: debug
`), 0o600))

	t.Setenv("CHATMIRROR_STORE_MAX_INFLIGHT", "9")

	v := viper.New()
	require.NoError(t, SetDefaults(v))
	v.SetEnvPrefix("CHATMIRROR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())

	s, err := FromViper(v)
	require.NoError(t, err)

	assert.Equal(t, "https://chat.example.com/api", s.Remote.BaseURL)
	assert.Equal(t, 5*time.Second, s.Remote.Timeout)
	assert.Equal(t, "sqlite", s.Mirror.Backend)
	assert.Equal(t, "ulid", s.Store.IDScheme)
	assert.Equal(t, 9, s.Store.MaxInflight)
	assert.Equal(t, "debug", s.Log.Level)
	assert.Equal(t, "New conversation", s.Store.DefaultTitle)
	require.NoError(t, s.Validate())
}

func TestValidate(t *testing.T) {
	base, err := NewSettings()
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(s *Settings)
	}{
		{"relative url", func(s *Settings) { s.Remote.BaseURL = "/api" }},
		{"local network disallowed", func(s *Settings) { s.Remote.AllowLocalNetworks = false }},
		{"unknown backend", func(s *Settings) { s.Mirror.Backend = "etcd" }},
		{"redis without url", func(s *Settings) { s.Mirror.Backend = "redis" }},
		{"unknown id scheme", func(s *Settings) { s.Store.IDScheme = "uuid" }},
		{"unknown malformed policy", func(s *Settings) { s.Store.MalformedThinking = "drop" }},
		{"no inflight", func(s *Settings) { s.Store.MaxInflight = 0 }},
		{"no sync timeout", func(s *Settings) { s.Store.SyncTimeout = 0 }},
		{"log format", func(s *Settings) { s.Log.Format = "xml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := base.Clone()
			tt.mutate(s)
			assert.Error(t, s.Validate())
		})
	}

	assert.NoError(t, base.Validate(), "mutating a clone leaves the base settings valid")
}

func TestKeys(t *testing.T) {
	keys := Keys()
	assert.Contains(t, keys, "remote.base-url")
	assert.Contains(t, keys, "mirror.backend")
	assert.Contains(t, keys, "store.malformed-thinking")
	assert.Contains(t, keys, "log-level")
}
