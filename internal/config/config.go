package config

import "time"

// Failure policies for messages that cannot be normalized while listening.
const (
	FailurePolicySkip  = "skip"
	FailurePolicyAbort = "abort"
)

// Stream transports.
const (
	TransportHTTP      = "http"
	TransportWebSocket = "websocket"
)

// Config holds client configuration values.
type Config struct {
	Subdomain  string `mapstructure:"subdomain" yaml:"subdomain"`
	Host       string `mapstructure:"host" yaml:"host"`
	SSL        bool   `mapstructure:"ssl" yaml:"ssl"`
	// BaseURL and StreamHost override the addresses derived from Subdomain and Host.
	BaseURL    string `mapstructure:"base_url" yaml:"base_url,omitempty"`
	StreamHost string `mapstructure:"stream_host" yaml:"stream_host,omitempty"`
	Token      string `mapstructure:"token" yaml:"token"`
	OAuthToken string `mapstructure:"oauth_token" yaml:"oauth_token"`
	Username   string `mapstructure:"username" yaml:"username"`
	Password   string `mapstructure:"password" yaml:"password"`

	LogLevel      string       `mapstructure:"log_level" yaml:"log_level"`
	Stream        StreamConfig `mapstructure:"stream" yaml:"stream"`
	FailurePolicy string       `mapstructure:"failure_policy" yaml:"failure_policy"`
	ArchivePath   string       `mapstructure:"archive_path" yaml:"archive_path"`
}

// StreamConfig tunes the live message transport.
type StreamConfig struct {
	Transport  string        `mapstructure:"transport" yaml:"transport"`
	Timeout    time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxRetries int           `mapstructure:"max_retries" yaml:"max_retries"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Host:     "campfirenow.com",
		SSL:      true,
		LogLevel: "info",
		Stream: StreamConfig{
			Transport:  TransportHTTP,
			Timeout:    6 * time.Second,
			MaxRetries: 10,
		},
		FailurePolicy: FailurePolicySkip,
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
// SSL is a plain bool and is therefore never overwritten here.
func (c *Config) UpdateFrom(other Config) {
	if other.Subdomain != "" {
		c.Subdomain = other.Subdomain
	}
	if other.Host != "" {
		c.Host = other.Host
	}
	if other.BaseURL != "" {
		c.BaseURL = other.BaseURL
	}
	if other.StreamHost != "" {
		c.StreamHost = other.StreamHost
	}
	if other.Token != "" {
		c.Token = other.Token
	}
	if other.OAuthToken != "" {
		c.OAuthToken = other.OAuthToken
	}
	if other.Username != "" {
		c.Username = other.Username
	}
	if other.Password != "" {
		c.Password = other.Password
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.Stream.Transport != "" {
		c.Stream.Transport = other.Stream.Transport
	}
	if other.Stream.Timeout != 0 {
		c.Stream.Timeout = other.Stream.Timeout
	}
	if other.Stream.MaxRetries != 0 {
		c.Stream.MaxRetries = other.Stream.MaxRetries
	}
	if other.FailurePolicy != "" {
		c.FailurePolicy = other.FailurePolicy
	}
	if other.ArchivePath != "" {
		c.ArchivePath = other.ArchivePath
	}
}
