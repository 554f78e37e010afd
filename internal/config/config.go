// Package config loads nodestream settings from defaults, an optional YAML
// file, .env files and NODESTREAM_* environment variables, in increasing
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/rmacdonaldsmith/nodestream-go/internal/binaryport"
	"github.com/rmacdonaldsmith/nodestream-go/internal/logging"
	"github.com/rmacdonaldsmith/nodestream-go/pkg/reconnect"
	"github.com/rmacdonaldsmith/nodestream-go/pkg/sseclient"
)

// EnvPrefix prefixes every environment override, e.g. NODESTREAM_STREAM_URL.
const EnvPrefix = "NODESTREAM"

// Default server addresses
const (
	DefaultHTTPAddr = ":9464"
	DefaultGRPCAddr = ":9465"
)

// StreamConfig configures the event stream connection.
type StreamConfig struct {
	URL              string        `mapstructure:"url" yaml:"url"`
	ClientID         string        `mapstructure:"client_id" yaml:"client_id,omitempty"`
	SecretKey        string        `mapstructure:"secret_key" yaml:"secret_key,omitempty"`
	Token            string        `mapstructure:"token" yaml:"token,omitempty"`
	CommandBuffer    int           `mapstructure:"command_buffer" yaml:"command_buffer"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout" yaml:"handshake_timeout"`
	MaxMessageSize   int           `mapstructure:"max_message_size" yaml:"max_message_size"`
	StrictDecoding   bool          `mapstructure:"strict_decoding" yaml:"strict_decoding"`
}

// ReconnectConfig mirrors reconnect.Policy.
type ReconnectConfig struct {
	BackoffFactor          float64               `mapstructure:"backoff_factor" yaml:"backoff_factor"`
	InitialDelay           time.Duration         `mapstructure:"initial_delay" yaml:"initial_delay"`
	MaxDelay               time.Duration         `mapstructure:"max_delay" yaml:"max_delay"`
	ReconnectOnStreamError bool                  `mapstructure:"reconnect_on_stream_error" yaml:"reconnect_on_stream_error"`
	RetryInitialConnect    bool                  `mapstructure:"retry_initial_connect" yaml:"retry_initial_connect"`
	MaxAttempts            reconnect.MaxAttempts `mapstructure:"max_attempts" yaml:"max_attempts"`
}

// Policy converts the section into a reconnect policy.
func (r ReconnectConfig) Policy() reconnect.Policy {
	return reconnect.Policy{
		BackoffFactor:          r.BackoffFactor,
		InitialDelay:           r.InitialDelay,
		MaxDelay:               r.MaxDelay,
		ReconnectOnStreamError: r.ReconnectOnStreamError,
		RetryInitialConnect:    r.RetryInitialConnect,
		MaxAttempts:            r.MaxAttempts,
	}
}

// ServerConfig holds the daemon's listen addresses. An empty address
// disables that server.
type ServerConfig struct {
	HTTPAddr string `mapstructure:"http_addr" yaml:"http_addr"`
	GRPCAddr string `mapstructure:"grpc_addr" yaml:"grpc_addr"`
	// AuthSecret, when set, requires an HS256 bearer token on the HTTP API
	AuthSecret string `mapstructure:"auth_secret" yaml:"auth_secret,omitempty"`
}

// Config is the complete nodestream configuration.
type Config struct {
	Stream     StreamConfig           `mapstructure:"stream" yaml:"stream"`
	Reconnect  ReconnectConfig        `mapstructure:"reconnect" yaml:"reconnect"`
	BinaryPort binaryport.ProxyConfig `mapstructure:"binary_port" yaml:"binary_port"`
	Log        logging.Config         `mapstructure:"log" yaml:"log"`
	Server     ServerConfig           `mapstructure:"server" yaml:"server"`

	// ConfigFile is the file the settings were read from, if any
	ConfigFile string `mapstructure:"-" yaml:"-"`
}

// Load reads the configuration. path may be empty, in which case only
// defaults and the environment apply. A missing .env file is not an error.
func Load(path string) (*Config, error) {
	loadEnvFiles()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	hook := mapstructure.ComposeDecodeHookFunc(
		maxAttemptsHook(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
	if err := v.Unmarshal(&cfg, viper.DecodeHook(hook)); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.ConfigFile = v.ConfigFileUsed()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration Load produces with no file and a clean
// environment.
func Default() Config {
	policy := reconnect.DefaultPolicy()
	return Config{
		Stream: StreamConfig{
			URL:            sseclient.DefaultURL,
			CommandBuffer:  sseclient.DefaultCommandBuffer,
			MaxMessageSize: sseclient.DefaultMaxMessageSize,
		},
		Reconnect: ReconnectConfig{
			BackoffFactor:          policy.BackoffFactor,
			InitialDelay:           policy.InitialDelay,
			MaxDelay:               policy.MaxDelay,
			ReconnectOnStreamError: policy.ReconnectOnStreamError,
			RetryInitialConnect:    policy.RetryInitialConnect,
			MaxAttempts:            policy.MaxAttempts,
		},
		BinaryPort: binaryport.DefaultProxyConfig(),
		Log:        logging.DefaultConfig(),
		Server: ServerConfig{
			HTTPAddr: DefaultHTTPAddr,
			GRPCAddr: DefaultGRPCAddr,
		},
	}
}

// Validate checks every section.
func (c *Config) Validate() error {
	if c.Stream.URL == "" {
		return errors.New("stream.url is required")
	}
	if c.Stream.MaxMessageSize < 0 {
		return errors.New("stream.max_message_size cannot be negative")
	}
	if err := c.Reconnect.Policy().Validate(); err != nil {
		return fmt.Errorf("invalid reconnect section: %w", err)
	}
	if err := c.BinaryPort.Validate(); err != nil {
		return fmt.Errorf("invalid binary_port section: %w", err)
	}
	return nil
}

// ClientConfig builds the sseclient configuration. logger and registerer
// may be nil.
func (c *Config) ClientConfig(logger *zerolog.Logger, reg prometheus.Registerer) sseclient.Config {
	return sseclient.Config{
		URL:              c.Stream.URL,
		ClientID:         c.Stream.ClientID,
		SecretKey:        c.Stream.SecretKey,
		Token:            c.Stream.Token,
		HTTPClient:       &http.Client{},
		CommandBuffer:    c.Stream.CommandBuffer,
		HandshakeTimeout: c.Stream.HandshakeTimeout,
		MaxMessageSize:   c.Stream.MaxMessageSize,
		StrictDecoding:   c.Stream.StrictDecoding,
		Reconnect:        c.Reconnect.Policy(),
		Logger:           logger,
		Registerer:       reg,
	}
}

func setDefaults(v *viper.Viper) {
	def := Default()
	bp := def.BinaryPort

	v.SetDefault("stream.url", def.Stream.URL)
	v.SetDefault("stream.client_id", "")
	v.SetDefault("stream.secret_key", "")
	v.SetDefault("stream.token", "")
	v.SetDefault("stream.command_buffer", def.Stream.CommandBuffer)
	v.SetDefault("stream.handshake_timeout", def.Stream.HandshakeTimeout)
	v.SetDefault("stream.max_message_size", def.Stream.MaxMessageSize)
	v.SetDefault("stream.strict_decoding", false)

	v.SetDefault("reconnect.backoff_factor", def.Reconnect.BackoffFactor)
	v.SetDefault("reconnect.initial_delay", def.Reconnect.InitialDelay)
	v.SetDefault("reconnect.max_delay", def.Reconnect.MaxDelay)
	v.SetDefault("reconnect.reconnect_on_stream_error", def.Reconnect.ReconnectOnStreamError)
	v.SetDefault("reconnect.retry_initial_connect", def.Reconnect.RetryInitialConnect)
	v.SetDefault("reconnect.max_attempts", def.Reconnect.MaxAttempts.String())

	v.SetDefault("binary_port.address", bp.Address)
	v.SetDefault("binary_port.max_message_size", bp.MaxMessageSize)
	v.SetDefault("binary_port.message_timeout", bp.MessageTimeout)
	v.SetDefault("binary_port.client_access_timeout", bp.ClientAccessTimeout)
	v.SetDefault("binary_port.request_limit", bp.RequestLimit)
	v.SetDefault("binary_port.request_buffer_size", bp.RequestBufferSize)
	v.SetDefault("binary_port.exponential_backoff.initial_delay", bp.ExponentialBackoff.InitialDelay)
	v.SetDefault("binary_port.exponential_backoff.max_delay", bp.ExponentialBackoff.MaxDelay)
	v.SetDefault("binary_port.exponential_backoff.coefficient", bp.ExponentialBackoff.Coefficient)
	v.SetDefault("binary_port.exponential_backoff.max_attempts", bp.ExponentialBackoff.MaxAttempts.String())

	v.SetDefault("log.level", def.Log.Level)
	v.SetDefault("log.format", def.Log.Format)
	v.SetDefault("log.output", def.Log.Output)
	v.SetDefault("log.time_format", def.Log.TimeFormat)
	v.SetDefault("log.no_color", def.Log.NoColor)
	v.SetDefault("log.add_caller", def.Log.AddCaller)
	v.SetDefault("log.max_size_mb", def.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", def.Log.MaxBackups)
	v.SetDefault("log.max_age_days", def.Log.MaxAgeDays)
	v.SetDefault("log.compress", def.Log.Compress)

	v.SetDefault("server.http_addr", def.Server.HTTPAddr)
	v.SetDefault("server.grpc_addr", def.Server.GRPCAddr)
	v.SetDefault("server.auth_secret", "")
}

// loadEnvFiles loads .env then .env.local. Variables already set in the
// process environment win.
func loadEnvFiles() {
	for _, f := range []string{".env", ".env.local"} {
		_ = godotenv.Load(f)
	}
}

var maxAttemptsType = reflect.TypeOf(reconnect.MaxAttempts{})

// maxAttemptsHook decodes "infinite", "5" or a bare number into
// reconnect.MaxAttempts.
func maxAttemptsHook() mapstructure.DecodeHookFuncType {
	return func(from, to reflect.Type, data any) (any, error) {
		if to != maxAttemptsType {
			return data, nil
		}
		switch d := data.(type) {
		case string:
			return reconnect.ParseMaxAttempts(d)
		case int:
			return toMaxAttempts(int64(d))
		case int64:
			return toMaxAttempts(d)
		case uint64:
			return reconnect.Finite(d), nil
		case float64:
			if d != float64(int64(d)) {
				return nil, fmt.Errorf("invalid max attempts %v", d)
			}
			return toMaxAttempts(int64(d))
		case reconnect.MaxAttempts:
			return d, nil
		}
		return data, nil
	}
}

func toMaxAttempts(n int64) (reconnect.MaxAttempts, error) {
	if n < 0 {
		return reconnect.MaxAttempts{}, fmt.Errorf("invalid max attempts %d", n)
	}
	return reconnect.Finite(uint64(n)), nil
}
