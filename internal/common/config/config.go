// internal/common/config/config.go
package config

import (
	"fmt"
	"time"
)

// Config is the main application configuration struct.
type Config struct {
	App          AppConfig          `mapstructure:"app"`
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Catalog      CatalogConfig      `mapstructure:"catalog"`
	Resolver     ResolverConfig     `mapstructure:"resolver"`
	Session      SessionConfig      `mapstructure:"session"`
	Conversation ConversationConfig `mapstructure:"conversation"`
	Guard        GuardConfig        `mapstructure:"guard"`
	Escalation   EscalationConfig   `mapstructure:"escalation"`
	APIs         APIsConfig         `mapstructure:"apis"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

// --- Core App/Infrastructure Config ---

type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type ServerConfig struct {
	ListenAddress  string `mapstructure:"listen_address"`
	MetricsAddress string `mapstructure:"metrics_address"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string.
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// --- Conversational Core Config ---

// CatalogConfig selects the record source and refresh cadence for the venue
// catalog.
type CatalogConfig struct {
	Source          string `mapstructure:"source"` // "postgres" or "file"
	FilePath        string `mapstructure:"file_path"`
	RefreshInterval int    `mapstructure:"refresh_interval"` // milliseconds
}

// ResolverConfig carries the matching thresholds. These were tuned against
// historical conversation logs and are deliberately configuration, not
// constants.
type ResolverConfig struct {
	AutoAcceptThreshold float64  `mapstructure:"auto_accept_threshold"`
	CandidateFloor      float64  `mapstructure:"candidate_floor"`
	DisambiguationGap   float64  `mapstructure:"disambiguation_gap"`
	SignificantTokenLen int      `mapstructure:"significant_token_len"`
	GenericWords        []string `mapstructure:"generic_words"`
	MaxCandidates       int      `mapstructure:"max_candidates"`
}

type SessionConfig struct {
	HistoryWindow int `mapstructure:"history_window"`
	InactivityTTL int `mapstructure:"inactivity_ttl"` // minutes
	TrustWindow   int `mapstructure:"trust_window"`   // days
	SweepInterval int `mapstructure:"sweep_interval"` // milliseconds
}

type ConversationConfig struct {
	TurnBudget             int `mapstructure:"turn_budget"` // milliseconds
	MaxIdentifyAttempts    int `mapstructure:"max_identify_attempts"`
	MaxDisambiguationShown int `mapstructure:"max_disambiguation_shown"`
}

// GuardConfig is the data-driven part of the response guard: entity names the
// guard must treat as fabricated, loaded as configuration so new patterns can
// be added without code changes.
type GuardConfig struct {
	DenylistEntities []string `mapstructure:"denylist_entities"`
}

type EscalationConfig struct {
	WebhookURL string `mapstructure:"webhook_url"`
	Timeout    int    `mapstructure:"timeout"` // milliseconds

	Email struct {
		Enabled   bool     `mapstructure:"enabled"`
		FromEmail string   `mapstructure:"from_email"`
		Team      []string `mapstructure:"team"`
	} `mapstructure:"email"`

	SMS struct {
		Enabled           bool     `mapstructure:"enabled"`
		PriorityThreshold string   `mapstructure:"priority_threshold"`
		Numbers           []string `mapstructure:"numbers"`
	} `mapstructure:"sms"`

	AWS struct {
		Region string `mapstructure:"region"`
	} `mapstructure:"aws"`
}

// APIsConfig holds settings for external API integrations.
type APIsConfig struct {
	OpenAI struct {
		APIKey      string  `mapstructure:"api_key"`
		Model       string  `mapstructure:"model"`
		MaxTokens   int     `mapstructure:"max_tokens"`
		Temperature float64 `mapstructure:"temperature"`
		Timeout     int     `mapstructure:"timeout"` // milliseconds
		MaxRetries  int     `mapstructure:"max_retries"`
	} `mapstructure:"openai"`

	Soundtrack struct {
		BaseURL        string  `mapstructure:"base_url"`
		APIKey         string  `mapstructure:"api_key"`
		Timeout        int     `mapstructure:"timeout"` // milliseconds
		RequestsPerSec float64 `mapstructure:"requests_per_sec"`
		Burst          int     `mapstructure:"burst"`
	} `mapstructure:"soundtrack"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// GetDuration converts milliseconds from config to time.Duration.
func GetDuration(milliseconds int) time.Duration {
	return time.Duration(milliseconds) * time.Millisecond
}
