package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	v *viper.Viper
}

// New creates a new configuration instance
func New() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/zerotrust/")
	v.AddConfigPath("$HOME/.zerotrust")
	v.AddConfigPath("./configs")
	v.AddConfigPath(".")

	// Set defaults
	setDefaults(v)

	// Environment variables
	v.AutomaticEnv()
	v.SetEnvPrefix("ZEROTRUST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, using defaults
	}

	return &Config{v: v}, nil
}

// NewFromViper creates a new configuration instance from an existing Viper instance
func NewFromViper(v *viper.Viper) *Config {
	return &Config{v: v}
}

// NewEmptyViper creates a new Viper instance with defaults
func NewEmptyViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	return v
}

// setDefaults sets the default configuration values
func setDefaults(v *viper.Viper) {
	// Predictor defaults
	v.SetDefault("predictor.provider", "heuristic")

	// Bedrock defaults
	v.SetDefault("bedrock.region", "us-east-1")
	v.SetDefault("bedrock.model_id", "anthropic.claude-v2")
	v.SetDefault("bedrock.max_tokens", 1000)
	v.SetDefault("bedrock.temperature", 0.1)
	v.SetDefault("bedrock.top_p", 0.9)
	v.SetDefault("bedrock.max_body_size", 4096)

	// Gemini defaults
	v.SetDefault("gemini.api_key", "")
	v.SetDefault("gemini.model_name", "gemini-pro")
	v.SetDefault("gemini.max_tokens", 1000)
	v.SetDefault("gemini.temperature", 0.1)
	v.SetDefault("gemini.top_p", 0.9)
	v.SetDefault("gemini.max_body_size", 4096)

	// OpenAI defaults
	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.model_name", "gpt-4")
	v.SetDefault("openai.max_tokens", 1000)
	v.SetDefault("openai.temperature", 0.1)
	v.SetDefault("openai.top_p", 0.9)
	v.SetDefault("openai.max_body_size", 4096)

	// Policy defaults
	v.SetDefault("policy.internal_domains", []string{})
	v.SetDefault("policy.high_risk_users", []string{})
	v.SetDefault("policy.blocked_senders", []string{})
	v.SetDefault("policy.dangerous_extensions", []string{
		".exe", ".scr", ".bat", ".cmd", ".com", ".pif", ".vbs", ".js", ".jar", ".msi",
	})
	v.SetDefault("policy.max_attachment_size", 26214400)
	v.SetDefault("policy.block_score", 0.8)
	v.SetDefault("policy.quarantine_score", 0.5)
	v.SetDefault("policy.ai_confidence", 0.8)
	v.SetDefault("policy.ai_block_score", 0.7)
	v.SetDefault("policy.safe_confidence", 0.8)

	// Tracking store defaults
	v.SetDefault("tracking.type", "memory")
	v.SetDefault("tracking.sqlite_path", "/data/zerotrust_tracking.db")
	v.SetDefault("tracking.mysql_dsn", "user:password@tcp(localhost:3306)/zerotrust")
	v.SetDefault("tracking.redis_addr", "localhost:6379")
	v.SetDefault("tracking.redis_password", "")
	v.SetDefault("tracking.redis_db", 0)

	// Score fusion defaults
	v.SetDefault("scoring.email_ai", 0.4)
	v.SetDefault("scoring.email_gateway", 0.3)
	v.SetDefault("scoring.email_policy", 0.3)
	v.SetDefault("scoring.link_ai", 0.3)
	v.SetDefault("scoring.link_sandbox", 0.5)
	v.SetDefault("scoring.link_policy", 0.2)
	v.SetDefault("scoring.attachment_ai", 0.3)
	v.SetDefault("scoring.attachment_sandbox", 0.5)
	v.SetDefault("scoring.attachment_policy", 0.2)
	v.SetDefault("scoring.policy_block", 0.8)
	v.SetDefault("scoring.policy_quarantine", 0.5)
	v.SetDefault("scoring.policy_other", 0.2)
	v.SetDefault("scoring.sandbox_malicious", 0.9)
	v.SetDefault("scoring.sandbox_suspicious", 0.7)
	v.SetDefault("scoring.sandbox_safe", 0.1)

	// Gateway defaults
	v.SetDefault("gateway.base_url", "https://gw.internal.example.com")

	// Sandbox defaults
	v.SetDefault("sandbox.browser_pool_size", 4)
	v.SetDefault("sandbox.file_pool_size", 4)
	v.SetDefault("sandbox.navigation_timeout", "60s")
	v.SetDefault("sandbox.browser_user_agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36")
	v.SetDefault("sandbox.engine.enabled", false)
	v.SetDefault("sandbox.engine.endpoint", "http://localhost:8090")
	v.SetDefault("sandbox.engine.api_key", "")
	v.SetDefault("sandbox.engine.timeout", "30s")
	v.SetDefault("sandbox.engine.poll_interval", "5s")
	v.SetDefault("sandbox.engine.max_poll_attempts", 30)
	v.SetDefault("sandbox.link_weights.auth_keyword_url", 0.3)
	v.SetDefault("sandbox.link_weights.high_risk_element", 0.4)
	v.SetDefault("sandbox.link_weights.medium_risk_element", 0.2)
	v.SetDefault("sandbox.link_weights.redirect", 0.2)
	v.SetDefault("sandbox.link_weights.popup", 0.1)
	v.SetDefault("sandbox.link_weights.dynamic_request", 0.2)
	v.SetDefault("sandbox.link_weights.many_requests", 0.1)
	v.SetDefault("sandbox.link_weights.many_requests_count", 10)
	v.SetDefault("sandbox.link_weights.malicious_threshold", 0.8)
	v.SetDefault("sandbox.link_weights.suspicious_threshold", 0.5)
	v.SetDefault("sandbox.file_weights.tiny_executable", 0.3)
	v.SetDefault("sandbox.file_weights.huge_executable", 0.2)
	v.SetDefault("sandbox.file_weights.high_entropy", 0.4)
	v.SetDefault("sandbox.file_weights.embedded_objects", 0.3)
	v.SetDefault("sandbox.file_weights.macros", 0.5)
	v.SetDefault("sandbox.file_weights.suspicious_content", 0.2)
	v.SetDefault("sandbox.file_weights.archive_bad_member", 0.4)
	v.SetDefault("sandbox.file_weights.archive_encrypted", 0.3)
	v.SetDefault("sandbox.file_weights.anomalous_size", 0.1)
	v.SetDefault("sandbox.file_weights.exec_malicious", 0.7)
	v.SetDefault("sandbox.file_weights.exec_suspicious", 0.4)
	v.SetDefault("sandbox.file_weights.engine_malicious", 8.0)
	v.SetDefault("sandbox.file_weights.engine_suspicious", 4.0)
	v.SetDefault("sandbox.file_weights.suspicious_threshold", 0.5)

	// Server defaults
	v.SetDefault("server.smtp_listen_address", "0.0.0.0:10025")
	v.SetDefault("server.http_listen_address", "0.0.0.0:8080")
	v.SetDefault("server.upstream_host", "localhost")
	v.SetDefault("server.upstream_port", 10026)
	v.SetDefault("server.relay_enabled", true)
	v.SetDefault("server.spool_dir", "/var/spool/zerotrust")
	v.SetDefault("server.subject_prefix", "[QUARANTINED] ")
	v.SetDefault("server.max_message_bytes", 26214400)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// GetString gets a string value from the configuration
func (c *Config) GetString(key string) string {
	return c.v.GetString(key)
}

// GetInt gets an integer value from the configuration
func (c *Config) GetInt(key string) int {
	return c.v.GetInt(key)
}

// GetInt64 gets an int64 value from the configuration
func (c *Config) GetInt64(key string) int64 {
	return c.v.GetInt64(key)
}

// GetFloat64 gets a float64 value from the configuration
func (c *Config) GetFloat64(key string) float64 {
	return c.v.GetFloat64(key)
}

// GetBool gets a boolean value from the configuration
func (c *Config) GetBool(key string) bool {
	return c.v.GetBool(key)
}

// GetStringSlice gets a string slice value from the configuration
func (c *Config) GetStringSlice(key string) []string {
	return c.v.GetStringSlice(key)
}

// GetDuration gets a duration value from the configuration
func (c *Config) GetDuration(key string) (time.Duration, error) {
	return time.ParseDuration(c.GetString(key))
}

// GetViper returns the underlying Viper instance
func (c *Config) GetViper() *viper.Viper {
	return c.v
}
