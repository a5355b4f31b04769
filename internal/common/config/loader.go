// internal/common/config/loader.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

func Load() (*Config, error) {
	loadEnvFile()

	// Base config
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath("../../configs")
	viper.AddConfigPath(".")

	// Enable ENV override like OPENAI_API_KEY
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	env := os.Getenv("APP_ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading base config: %w", err)
		}
	}

	// Environment overlay, ignored if absent
	viper.SetConfigName(fmt.Sprintf("config.%s", env))
	_ = viper.MergeInConfig()

	expandEnvVars(viper.GetViper())

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	overrideEmptyConfig(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// LoadFromFile loads configuration from a specific file path.
func LoadFromFile(path string) (*Config, error) {
	loadEnvFile()

	viper.SetConfigFile(path)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	expandEnvVars(viper.GetViper())

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	overrideEmptyConfig(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func loadEnvFile() {
	// Try multiple paths so tools and tests can run from nested directories.
	possiblePaths := []string{
		".env",
		"../.env",
		"../../.env",
		"../../../.env",
	}

	if rootDir := findProjectRoot(); rootDir != "" {
		possiblePaths = append(possiblePaths, filepath.Join(rootDir, ".env"))
	}

	for _, path := range possiblePaths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err == nil {
				return
			}
		}
	}
}

// findProjectRoot walks up from the working directory looking for go.mod.
func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}

func expandEnvVars(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		val := v.Get(key)

		if strVal, ok := val.(string); ok {
			if strings.Contains(strVal, "${") || (strings.HasPrefix(strVal, "$") && len(strVal) > 1) {
				expanded := os.ExpandEnv(strVal)
				if expanded != strVal && expanded != "" {
					v.Set(key, expanded)
				}
			}
		}
	}
}

// overrideEmptyConfig fills secrets from the environment when the YAML left
// them empty.
func overrideEmptyConfig(cfg *Config) {
	if cfg.APIs.OpenAI.APIKey == "" {
		if val := os.Getenv("OPENAI_API_KEY"); val != "" {
			cfg.APIs.OpenAI.APIKey = val
		}
	}
	if cfg.APIs.Soundtrack.APIKey == "" {
		if val := os.Getenv("SOUNDTRACK_API_KEY"); val != "" {
			cfg.APIs.Soundtrack.APIKey = val
		}
	}
	if cfg.Escalation.WebhookURL == "" {
		if val := os.Getenv("ESCALATION_WEBHOOK_URL"); val != "" {
			cfg.Escalation.WebhookURL = val
		}
	}
	if cfg.Database.Postgres.User == "" {
		if val := os.Getenv("DB_USER"); val != "" {
			cfg.Database.Postgres.User = val
		}
	}
	if cfg.Database.Postgres.Password == "" {
		if val := os.Getenv("DB_PASSWORD"); val != "" {
			cfg.Database.Postgres.Password = val
		}
	}
}

// applyDefaults sets default values for optional configuration fields. The
// resolver thresholds default to the values observed to behave well on real
// conversation logs; treat them as a starting point, not gospel.
func applyDefaults(cfg *Config) {
	if cfg.Server.ListenAddress == "" {
		cfg.Server.ListenAddress = ":8080"
	}
	if cfg.Server.MetricsAddress == "" {
		cfg.Server.MetricsAddress = ":9090"
	}

	if cfg.Database.Postgres.MaxConnections == 0 {
		cfg.Database.Postgres.MaxConnections = 25
	}
	if cfg.Database.Postgres.MaxIdle == 0 {
		cfg.Database.Postgres.MaxIdle = 5
	}
	if cfg.Database.Postgres.SSLMode == "" {
		cfg.Database.Postgres.SSLMode = "disable"
	}

	if cfg.Catalog.Source == "" {
		cfg.Catalog.Source = "postgres"
	}
	if cfg.Catalog.RefreshInterval == 0 {
		cfg.Catalog.RefreshInterval = 15 * 60 * 1000
	}

	if cfg.Resolver.AutoAcceptThreshold == 0 {
		cfg.Resolver.AutoAcceptThreshold = 0.9
	}
	if cfg.Resolver.CandidateFloor == 0 {
		cfg.Resolver.CandidateFloor = 0.3
	}
	if cfg.Resolver.DisambiguationGap == 0 {
		cfg.Resolver.DisambiguationGap = 0.15
	}
	if cfg.Resolver.SignificantTokenLen == 0 {
		cfg.Resolver.SignificantTokenLen = 4
	}
	if len(cfg.Resolver.GenericWords) == 0 {
		cfg.Resolver.GenericWords = []string{
			"hotel", "resort", "club", "bar", "restaurant",
			"venue", "music", "help", "cafe", "lounge",
		}
	}
	if cfg.Resolver.MaxCandidates == 0 {
		cfg.Resolver.MaxCandidates = 3
	}

	if cfg.Session.HistoryWindow == 0 {
		cfg.Session.HistoryWindow = 20
	}
	if cfg.Session.InactivityTTL == 0 {
		cfg.Session.InactivityTTL = 24 * 60
	}
	if cfg.Session.TrustWindow == 0 {
		cfg.Session.TrustWindow = 30
	}
	if cfg.Session.SweepInterval == 0 {
		cfg.Session.SweepInterval = 5 * 60 * 1000
	}

	if cfg.Conversation.TurnBudget == 0 {
		cfg.Conversation.TurnBudget = 8000
	}
	if cfg.Conversation.MaxIdentifyAttempts == 0 {
		cfg.Conversation.MaxIdentifyAttempts = 3
	}
	if cfg.Conversation.MaxDisambiguationShown == 0 {
		cfg.Conversation.MaxDisambiguationShown = 3
	}

	if cfg.Escalation.Timeout == 0 {
		cfg.Escalation.Timeout = 5000
	}
	if cfg.Escalation.SMS.PriorityThreshold == "" {
		cfg.Escalation.SMS.PriorityThreshold = "high"
	}

	if cfg.APIs.OpenAI.Model == "" {
		cfg.APIs.OpenAI.Model = "gpt-4o-mini"
	}
	if cfg.APIs.OpenAI.MaxTokens == 0 {
		cfg.APIs.OpenAI.MaxTokens = 512
	}
	if cfg.APIs.OpenAI.Timeout == 0 {
		cfg.APIs.OpenAI.Timeout = 6000
	}
	if cfg.APIs.OpenAI.MaxRetries == 0 {
		cfg.APIs.OpenAI.MaxRetries = 2
	}

	if cfg.APIs.Soundtrack.Timeout == 0 {
		cfg.APIs.Soundtrack.Timeout = 5000
	}
	if cfg.APIs.Soundtrack.RequestsPerSec == 0 {
		cfg.APIs.Soundtrack.RequestsPerSec = 3
	}
	if cfg.APIs.Soundtrack.Burst == 0 {
		cfg.APIs.Soundtrack.Burst = 5
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}
}

// validateConfig validates critical configuration fields.
func validateConfig(cfg *Config) error {
	if cfg.Catalog.Source != "postgres" && cfg.Catalog.Source != "file" {
		return fmt.Errorf("catalog.source must be \"postgres\" or \"file\", got %q", cfg.Catalog.Source)
	}
	if cfg.Catalog.Source == "postgres" {
		if cfg.Database.Postgres.Host == "" {
			return fmt.Errorf("database.postgres.host is required")
		}
		if cfg.Database.Postgres.Database == "" {
			return fmt.Errorf("database.postgres.database is required")
		}
		if cfg.Database.Postgres.User == "" {
			return fmt.Errorf("database.postgres.user is required")
		}
	}
	if cfg.Catalog.Source == "file" && cfg.Catalog.FilePath == "" {
		return fmt.Errorf("catalog.file_path is required when catalog.source is \"file\"")
	}

	if cfg.Database.Redis.Address == "" {
		return fmt.Errorf("database.redis.address is required")
	}

	if cfg.Resolver.AutoAcceptThreshold <= cfg.Resolver.CandidateFloor {
		return fmt.Errorf("resolver.auto_accept_threshold must exceed resolver.candidate_floor")
	}

	return nil
}
