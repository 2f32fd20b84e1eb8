package config

import (
	"errors"
	"fmt"
	"log"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"pixelwatch/internal/classifier"
	"pixelwatch/internal/detect"
)

const defaultExternalHTTPTimeout = 90 * time.Second
const defaultExternalHTTPTimeoutSeconds = int(defaultExternalHTTPTimeout / time.Second)

// CronParser is the five-field parser used for every schedule in config.
var CronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

type Config struct {
	JiraURL           string `yaml:"jira_url"`
	JiraEmail         string `yaml:"jira_email"`
	JiraToken         string `yaml:"jira_token"`
	JiraProject       string `yaml:"jira_project"`
	JiraLookbackHours int    `yaml:"jira_lookback_hours"`
	JiraMaxResults    int    `yaml:"jira_max_results"`
	// Label added to alerted tickets; empty disables labelling.
	JiraAlertLabel string `yaml:"jira_alert_label"`

	SlackBotToken       string `yaml:"slack_bot_token"`
	SlackAppToken       string `yaml:"slack_app_token"`
	SlackAlertChannelID string `yaml:"slack_alert_channel_id"`

	AnthropicAPIKey string `yaml:"anthropic_api_key"`
	LLMModel        string `yaml:"llm_model"`

	DBPath                     string `yaml:"db_path"`
	ReportOutputDir            string `yaml:"report_output_dir"`
	RulesPath                  string `yaml:"rules_path"`
	ExternalHTTPTimeoutSeconds int    `yaml:"external_http_timeout_seconds"`

	RuleWeight         float64 `yaml:"rule_weight"`
	MLWeight           float64 `yaml:"ml_weight"`
	AlertThreshold     float64 `yaml:"alert_threshold"`
	HighAlertThreshold float64 `yaml:"high_alert_threshold"`
	MinTrainingSamples int     `yaml:"min_training_samples"`
	RetrainEvery       int     `yaml:"retrain_every"`

	PollSchedule   string `yaml:"poll_schedule"`
	DigestSchedule string `yaml:"digest_schedule"`
	Timezone       string `yaml:"timezone"`

	Location *time.Location `yaml:"-"` // computed from Timezone, not from YAML
}

// LoadConfig reads config.yaml (or CONFIG_PATH), applies environment
// overrides and defaults, then validates. Integration credentials are not
// required here; commands that need them call RequireJira/RequireSlack.
func LoadConfig() (Config, error) {
	var cfg Config

	configPath := "config.yaml"
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		configPath = envPath
	}
	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", configPath, err)
		}
		log.Printf("Loaded config from %s", configPath)
	}

	envOverride(&cfg.JiraURL, "JIRA_URL")
	envOverride(&cfg.JiraEmail, "JIRA_EMAIL")
	envOverride(&cfg.JiraToken, "JIRA_TOKEN")
	envOverride(&cfg.JiraProject, "JIRA_PROJECT")
	envOverrideAllowEmpty(&cfg.JiraAlertLabel, "JIRA_ALERT_LABEL")
	envOverride(&cfg.SlackBotToken, "SLACK_BOT_TOKEN")
	envOverride(&cfg.SlackAppToken, "SLACK_APP_TOKEN")
	envOverride(&cfg.SlackAlertChannelID, "SLACK_ALERT_CHANNEL_ID")
	envOverride(&cfg.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	envOverride(&cfg.LLMModel, "LLM_MODEL")
	envOverride(&cfg.DBPath, "DB_PATH")
	envOverride(&cfg.ReportOutputDir, "REPORT_OUTPUT_DIR")
	envOverride(&cfg.RulesPath, "RULES_PATH")
	envOverride(&cfg.PollSchedule, "POLL_SCHEDULE")
	envOverride(&cfg.DigestSchedule, "DIGEST_SCHEDULE")
	envOverride(&cfg.Timezone, "TIMEZONE")
	if err := errors.Join(
		envOverrideInt(&cfg.JiraLookbackHours, "JIRA_LOOKBACK_HOURS"),
		envOverrideInt(&cfg.JiraMaxResults, "JIRA_MAX_RESULTS"),
		envOverrideInt(&cfg.ExternalHTTPTimeoutSeconds, "EXTERNAL_HTTP_TIMEOUT_SECONDS"),
		envOverrideInt(&cfg.MinTrainingSamples, "MIN_TRAINING_SAMPLES"),
		envOverrideInt(&cfg.RetrainEvery, "RETRAIN_EVERY"),
		envOverrideFloat(&cfg.RuleWeight, "RULE_WEIGHT"),
		envOverrideFloat(&cfg.MLWeight, "ML_WEIGHT"),
		envOverrideFloat(&cfg.AlertThreshold, "ALERT_THRESHOLD"),
		envOverrideFloat(&cfg.HighAlertThreshold, "HIGH_ALERT_THRESHOLD"),
	); err != nil {
		return cfg, err
	}

	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}

	if strings.EqualFold(cfg.Timezone, "Local") {
		cfg.Location = time.Local
	} else {
		loc, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return cfg, fmt.Errorf("invalid timezone '%s': %w", cfg.Timezone, err)
		}
		cfg.Location = loc
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.JiraProject == "" {
		cfg.JiraProject = "PS"
	}
	if cfg.JiraLookbackHours == 0 {
		cfg.JiraLookbackHours = 6
	}
	if cfg.JiraMaxResults == 0 {
		cfg.JiraMaxResults = 50
	}
	if cfg.LLMModel == "" {
		cfg.LLMModel = "claude-sonnet-4-5-20250929"
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "./pixelwatch.db"
	}
	if cfg.ReportOutputDir == "" {
		cfg.ReportOutputDir = "./reports"
	}
	if cfg.ExternalHTTPTimeoutSeconds == 0 {
		cfg.ExternalHTTPTimeoutSeconds = defaultExternalHTTPTimeoutSeconds
	}
	// Weights are defaulted as a pair so that setting only one of them is
	// caught by validation instead of silently rebalanced.
	if cfg.RuleWeight == 0 && cfg.MLWeight == 0 {
		cfg.RuleWeight = 0.6
		cfg.MLWeight = 0.4
	}
	if cfg.AlertThreshold == 0 {
		cfg.AlertThreshold = 0.5
	}
	if cfg.HighAlertThreshold == 0 {
		cfg.HighAlertThreshold = 0.8
	}
	if cfg.MinTrainingSamples == 0 {
		cfg.MinTrainingSamples = 20
	}
	if cfg.RetrainEvery == 0 {
		cfg.RetrainEvery = 10
	}
	if cfg.PollSchedule == "" {
		cfg.PollSchedule = "*/5 * * * *"
	}
	if cfg.DigestSchedule == "" {
		cfg.DigestSchedule = "0 9 * * 1-5"
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "Local"
	}
}

func (c Config) Validate() error {
	if err := c.ScorerConfig().Validate(); err != nil {
		return fmt.Errorf("invalid scoring config: %w", err)
	}
	if c.MinTrainingSamples < 2 {
		return fmt.Errorf("invalid min_training_samples '%d': must be >= 2", c.MinTrainingSamples)
	}
	if c.RetrainEvery < 1 {
		return fmt.Errorf("invalid retrain_every '%d': must be >= 1", c.RetrainEvery)
	}
	if c.JiraLookbackHours < 1 {
		return fmt.Errorf("invalid jira_lookback_hours '%d': must be >= 1", c.JiraLookbackHours)
	}
	if c.JiraMaxResults < 1 || c.JiraMaxResults > 1000 {
		return fmt.Errorf("invalid jira_max_results '%d': must be between 1 and 1000", c.JiraMaxResults)
	}
	if c.ExternalHTTPTimeoutSeconds < 5 {
		return fmt.Errorf("invalid external_http_timeout_seconds '%d': must be >= 5", c.ExternalHTTPTimeoutSeconds)
	}
	if _, err := CronParser.Parse(c.PollSchedule); err != nil {
		return fmt.Errorf("invalid poll_schedule '%s': %w", c.PollSchedule, err)
	}
	if _, err := CronParser.Parse(c.DigestSchedule); err != nil {
		return fmt.Errorf("invalid digest_schedule '%s': %w", c.DigestSchedule, err)
	}
	if c.RulesPath != "" {
		if _, err := detect.LoadRuleSet(c.RulesPath); err != nil {
			return fmt.Errorf("invalid rules_path '%s': %w", c.RulesPath, err)
		}
	}
	return nil
}

// ScorerConfig returns the hybrid scoring settings.
func (c Config) ScorerConfig() detect.ScorerConfig {
	return detect.ScorerConfig{
		RuleWeight:         round6(c.RuleWeight),
		MLWeight:           round6(c.MLWeight),
		AlertThreshold:     c.AlertThreshold,
		HighAlertThreshold: c.HighAlertThreshold,
	}
}

func (c Config) TrainOptions() classifier.TrainOptions {
	opts := classifier.DefaultTrainOptions()
	opts.MinSamples = c.MinTrainingSamples
	return opts
}

func (c Config) JiraConfigured() bool {
	return c.JiraURL != "" && c.JiraEmail != "" && c.JiraToken != ""
}

func (c Config) SlackConfigured() bool {
	return c.SlackBotToken != "" && c.SlackAlertChannelID != ""
}

func (c Config) RequireJira() error {
	return requireFields(map[string]string{
		"jira_url":   c.JiraURL,
		"jira_email": c.JiraEmail,
		"jira_token": c.JiraToken,
	}, "Jira")
}

func (c Config) RequireSlack() error {
	return requireFields(map[string]string{
		"slack_bot_token":        c.SlackBotToken,
		"slack_app_token":        c.SlackAppToken,
		"slack_alert_channel_id": c.SlackAlertChannelID,
	}, "Slack")
}

func (c Config) RequireAnthropic() error {
	return requireFields(map[string]string{"anthropic_api_key": c.AnthropicAPIKey}, "Anthropic")
}

func requireFields(fields map[string]string, what string) error {
	var missing []string
	for name, val := range fields {
		if strings.TrimSpace(val) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return fmt.Errorf("%s is not configured: %s not set (via config.yaml or env var)", what, strings.Join(missing, ", "))
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}

func envOverride(field *string, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		*field = val
	}
}

func envOverrideAllowEmpty(field *string, envKey string) {
	if val, ok := os.LookupEnv(envKey); ok {
		*field = val
	}
}

func envOverrideInt(field *int, envKey string) error {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", envKey, val, err)
		}
		*field = parsed
	}
	return nil
}

func envOverrideFloat(field *float64, envKey string) error {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", envKey, val, err)
		}
		*field = parsed
	}
	return nil
}
