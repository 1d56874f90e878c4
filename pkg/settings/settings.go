// Package settings holds the configuration shared by the chatmirror commands.
package settings

import (
	_ "embed"
	"sort"
	"strings"
	"time"

	"github.com/go-go-golems/chatmirror/pkg/conversation"
	"github.com/go-go-golems/chatmirror/pkg/mirror"
	"github.com/go-go-golems/chatmirror/pkg/security"
	"github.com/huandu/go-clone"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

//go:embed "defaults.yaml"
var defaultsYAML []byte

type RemoteSettings struct {
	BaseURL            string        `mapstructure:"base-url" yaml:"base-url"`
	Timeout            time.Duration `mapstructure:"timeout" yaml:"timeout"`
	InsecureSkipVerify bool          `mapstructure:"insecure-skip-verify" yaml:"insecure-skip-verify"`
	AllowHTTP          bool          `mapstructure:"allow-http" yaml:"allow-http"`
	AllowLocalNetworks bool          `mapstructure:"allow-local-networks" yaml:"allow-local-networks"`
	UserAgent          string        `mapstructure:"user-agent" yaml:"user-agent"`
}

type StoreSettings struct {
	DefaultTitle      string        `mapstructure:"default-title" yaml:"default-title"`
	IDScheme          string        `mapstructure:"id-scheme" yaml:"id-scheme"`
	MaxInflight       int           `mapstructure:"max-inflight" yaml:"max-inflight"`
	SyncTimeout       time.Duration `mapstructure:"sync-timeout" yaml:"sync-timeout"`
	ParseThinking     bool          `mapstructure:"parse-thinking" yaml:"parse-thinking"`
	MalformedThinking string        `mapstructure:"malformed-thinking" yaml:"malformed-thinking"`
	// EventLog is a file that receives every store event as a JSON line.
	EventLog string `mapstructure:"event-log" yaml:"event-log,omitempty"`
}

type LogSettings struct {
	Level      string `mapstructure:"log-level" yaml:"log-level"`
	Format     string `mapstructure:"log-format" yaml:"log-format"`
	File       string `mapstructure:"log-file" yaml:"log-file,omitempty"`
	WithCaller bool   `mapstructure:"with-caller" yaml:"with-caller"`
}

type Settings struct {
	Remote RemoteSettings `mapstructure:"remote" yaml:"remote"`
	Mirror mirror.Config  `mapstructure:"mirror" yaml:"mirror"`
	Store  StoreSettings  `mapstructure:"store" yaml:"store"`
	Log    LogSettings    `mapstructure:",squash" yaml:",inline"`
}

// SetDefaults registers every key of the embedded defaults on v, so that
// environment variables bind to them and Unmarshal sees them.
func SetDefaults(v *viper.Viper) error {
	var defaults map[string]interface{}
	if err := yaml.Unmarshal(defaultsYAML, &defaults); err != nil {
		return errors.Wrap(err, "could not parse embedded defaults")
	}
	flat := map[string]interface{}{}
	flatten("", defaults, flat)
	for k, val := range flat {
		v.SetDefault(k, val)
	}
	return nil
}

// Keys lists all known configuration keys in dotted form.
func Keys() []string {
	var defaults map[string]interface{}
	if err := yaml.Unmarshal(defaultsYAML, &defaults); err != nil {
		return nil
	}
	flat := map[string]interface{}{}
	flatten("", defaults, flat)
	ret := make([]string, 0, len(flat))
	for k := range flat {
		ret = append(ret, k)
	}
	sort.Strings(ret)
	return ret
}

func flatten(prefix string, in map[string]interface{}, out map[string]interface{}) {
	for k, val := range in {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := val.(map[string]interface{}); ok {
			flatten(key, nested, out)
			continue
		}
		out[key] = val
	}
}

// NewSettings returns the built-in defaults.
func NewSettings() (*Settings, error) {
	v := viper.New()
	if err := SetDefaults(v); err != nil {
		return nil, err
	}
	return FromViper(v)
}

func FromViper(v *viper.Viper) (*Settings, error) {
	s := &Settings{}
	if err := v.Unmarshal(s); err != nil {
		return nil, errors.Wrap(err, "could not decode settings")
	}
	s.Mirror.Backend = strings.ToLower(strings.TrimSpace(s.Mirror.Backend))
	s.Store.IDScheme = strings.ToLower(strings.TrimSpace(s.Store.IDScheme))
	return s, nil
}

func (s *Settings) Clone() *Settings {
	return clone.Clone(s).(*Settings)
}

func (s *Settings) BaseURLOptions() security.BaseURLOptions {
	return security.BaseURLOptions{
		AllowHTTP:          s.Remote.AllowHTTP,
		AllowLocalNetworks: s.Remote.AllowLocalNetworks,
	}
}

func (s *Settings) Validate() error {
	if err := security.ValidateBaseURL(s.Remote.BaseURL, s.BaseURLOptions()); err != nil {
		return errors.Wrap(err, "remote.base-url")
	}
	if s.Remote.Timeout < 0 {
		return errors.New("remote.timeout must not be negative")
	}

	switch s.Mirror.Backend {
	case mirror.BackendMemory, mirror.BackendYAML, mirror.BackendSQLite, mirror.BackendBolt:
	case mirror.BackendRedis:
		if s.Mirror.RedisURL == "" {
			return errors.New("mirror.redis-url is required for the redis backend")
		}
	default:
		return errors.Errorf("unknown mirror.backend %q", s.Mirror.Backend)
	}

	if _, ok := conversation.NewIDGenerator(s.Store.IDScheme); !ok {
		return errors.Errorf("unknown store.id-scheme %q", s.Store.IDScheme)
	}
	if _, ok := conversation.ParseMalformedPolicy(s.Store.MalformedThinking); !ok {
		return errors.Errorf("unknown store.malformed-thinking %q", s.Store.MalformedThinking)
	}
	if s.Store.MaxInflight < 1 {
		return errors.New("store.max-inflight must be at least 1")
	}
	if s.Store.SyncTimeout <= 0 {
		return errors.New("store.sync-timeout must be positive")
	}

	switch s.Log.Format {
	case "text", "json":
	default:
		return errors.Errorf("unknown log-format %q", s.Log.Format)
	}
	return nil
}
