package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	envConfigDefaultPath = "CODECOLLAB_CONFIG_DEFAULT_PATH"
	defaultConfigName    = "config.yaml"
)

// envBindings maps config keys to the environment variable names the
// deployment contract uses. Bound explicitly because the names predate
// this server and do not share a common prefix.
var envBindings = map[string]string{
	"port":                  "PORT",
	"jwt_secret":            "JWT_SECRET",
	"firebase_admin_key":    "FIREBASE_ADMIN_KEY",
	"piston_api_url":        "PISTON_API_URL",
	"max_users_per_session": "MAX_USERS_PER_SESSION",
	"allow_guests_default":  "ALLOW_GUESTS_DEFAULT",
	"allow_dev_tokens":      "ALLOW_DEV_TOKENS",
	"require_auth":          "REQUIRE_AUTH",
	"rate_limit_max_conns":  "RATE_LIMIT_MAX_CONNS",
	"rate_limit_window":     "RATE_LIMIT_WINDOW",
	"log_level":             "LOG_LEVEL",
	"database_path":         "DATABASE_PATH",
}

// Load builds configuration from defaults, optional config file, env vars, and returns the resolved path.
// Precedence: defaults < config file < env vars < caller overrides.
func Load(logger *zerolog.Logger, explicitPath string) (Config, string, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetDefault("port", cfg.Port)
	v.SetDefault("port_probe", cfg.PortProbe)
	v.SetDefault("host", cfg.Host)
	v.SetDefault("read_header_timeout", cfg.ReadHeaderTimeout)
	v.SetDefault("shutdown_timeout", cfg.ShutdownTimeout)
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("jwt_secret", cfg.JWTSecret)
	v.SetDefault("jwt_issuer", cfg.JWTIssuer)
	v.SetDefault("jwt_audience", cfg.JWTAudience)
	v.SetDefault("firebase_admin_key", cfg.FirebaseAdminKey)
	v.SetDefault("allow_dev_tokens", cfg.AllowDevTokens)
	v.SetDefault("require_auth", cfg.RequireAuth)
	v.SetDefault("piston_api_url", cfg.PistonAPIURL)
	v.SetDefault("execution_timeout", cfg.ExecutionTimeout)
	v.SetDefault("max_users_per_session", cfg.MaxUsersPerSession)
	v.SetDefault("allow_guests_default", cfg.AllowGuestsDefault)
	v.SetDefault("empty_session_ttl", cfg.EmptySessionTTL)
	v.SetDefault("rate_limit_max_conns", cfg.RateLimitMaxConns)
	v.SetDefault("rate_limit_window", cfg.RateLimitWindow)
	v.SetDefault("max_message_bytes", cfg.MaxMessageBytes)
	v.SetDefault("database_path", cfg.DatabasePath)

	v.SetEnvPrefix("CODECOLLAB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return cfg, "", fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	configPath := resolveConfigPath(explicitPath)
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			if writeErr := writeDefaultConfig(configPath, cfg); writeErr != nil && logger != nil {
				logger.Warn().Err(writeErr).Str("path", configPath).Msg("failed to write default config")
			} else if logger != nil {
				logger.Info().Str("path", configPath).Msg("created default config")
			}
			// try reading again in case it was just written
			if readErr := v.ReadInConfig(); readErr != nil && logger != nil {
				logger.Warn().Err(readErr).Str("path", configPath).Msg("failed to read config after writing default")
			}
		} else {
			return cfg, configPath, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, configPath, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, configPath, nil
}

func resolveConfigPath(explicitPath string) string {
	if explicitPath != "" {
		return explicitPath
	}

	if base := os.Getenv(envConfigDefaultPath); base != "" {
		if err := os.MkdirAll(base, 0o755); err == nil {
			return filepath.Join(base, defaultConfigName)
		}
	}

	cwd, err := os.Getwd()
	if err != nil {
		return defaultConfigName
	}
	return filepath.Join(cwd, defaultConfigName)
}

func writeDefaultConfig(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	out := append([]byte("# collabd configuration, env vars take precedence\n"), data...)
	return os.WriteFile(path, out, 0o600)
}
