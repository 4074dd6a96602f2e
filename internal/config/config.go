package config

import (
	"fmt"
	"time"
)

// Config holds server configuration values.
type Config struct {
	// Port is the first port tried for the combined HTTP + WebSocket
	// listener; the next PortProbe ports are probed in order when busy.
	Port      int    `mapstructure:"port" yaml:"port"`
	PortProbe int    `mapstructure:"port_probe" yaml:"port_probe"`
	Host      string `mapstructure:"host" yaml:"host"`

	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level"`

	// Token verification.
	JWTSecret        string `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	JWTIssuer        string `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	JWTAudience      string `mapstructure:"jwt_audience" yaml:"jwt_audience"`
	FirebaseAdminKey string `mapstructure:"firebase_admin_key" yaml:"firebase_admin_key"`
	AllowDevTokens   bool   `mapstructure:"allow_dev_tokens" yaml:"allow_dev_tokens"`
	RequireAuth      bool   `mapstructure:"require_auth" yaml:"require_auth"`

	// Execution sandbox.
	PistonAPIURL     string        `mapstructure:"piston_api_url" yaml:"piston_api_url"`
	ExecutionTimeout time.Duration `mapstructure:"execution_timeout" yaml:"execution_timeout"`

	// Session defaults.
	MaxUsersPerSession int           `mapstructure:"max_users_per_session" yaml:"max_users_per_session"`
	AllowGuestsDefault bool          `mapstructure:"allow_guests_default" yaml:"allow_guests_default"`
	EmptySessionTTL    time.Duration `mapstructure:"empty_session_ttl" yaml:"empty_session_ttl"`

	// Connection limits.
	RateLimitMaxConns int           `mapstructure:"rate_limit_max_conns" yaml:"rate_limit_max_conns"`
	RateLimitWindow   time.Duration `mapstructure:"rate_limit_window" yaml:"rate_limit_window"`
	MaxMessageBytes   int64         `mapstructure:"max_message_bytes" yaml:"max_message_bytes"`

	DatabasePath string `mapstructure:"database_path" yaml:"database_path"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Port:               3001,
		PortProbe:          9,
		ReadHeaderTimeout:  5 * time.Second,
		ShutdownTimeout:    5 * time.Second,
		LogLevel:           "info",
		JWTIssuer:          "codecollab",
		JWTAudience:        "codecollab",
		AllowDevTokens:     true,
		RequireAuth:        false,
		PistonAPIURL:       "https://emkc.org/api/v2/piston",
		ExecutionTimeout:   15 * time.Second,
		MaxUsersPerSession: 10,
		AllowGuestsDefault: false,
		EmptySessionTTL:    time.Hour,
		RateLimitMaxConns:  10,
		RateLimitWindow:    30 * time.Second,
		MaxMessageBytes:    2 << 20,
		DatabasePath:       "codecollab.db",
	}
}

// Addr returns the listen address for the given port.
func (c *Config) Addr(port int) string {
	return fmt.Sprintf("%s:%d", c.Host, port)
}
