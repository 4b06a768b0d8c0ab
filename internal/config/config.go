package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGoogle    = "google"
	ProviderNone      = "none"
)

const (
	PlannerRules = "rules"
	PlannerLLM   = "llm"
)

const defaultLLMTimeout = 30 * time.Second
const defaultLLMTimeoutSeconds = int(defaultLLMTimeout / time.Second)
const defaultTolerance = "0.5"

type Config struct {
	NBIMFile      string `yaml:"nbim_file"`
	CustodianFile string `yaml:"custodian_file"`
	OutDir        string `yaml:"out_dir"`
	Tolerance     string `yaml:"tolerance"`

	LLMProvider          string  `yaml:"llm_provider"`
	LLMModel             string  `yaml:"llm_model"`
	LLMTemperature       float64 `yaml:"llm_temperature"`
	LLMTimeoutSeconds    int     `yaml:"llm_timeout_seconds"`
	LLMRequestsPerSecond float64 `yaml:"llm_requests_per_second"`
	AnthropicAPIKey      string  `yaml:"anthropic_api_key"`
	OpenAIAPIKey         string  `yaml:"openai_api_key"`
	OpenAIBaseURL        string  `yaml:"openai_base_url"`
	GoogleAPIKey         string  `yaml:"google_api_key"`
	PlannerMode          string  `yaml:"planner_mode"`

	ArchiveDBPath   string `yaml:"archive_db_path"`
	WriteEmailDraft bool   `yaml:"write_email_draft"`

	SlackBotToken   string `yaml:"slack_bot_token"`
	ReportChannelID string `yaml:"report_channel_id"`

	Schedule string `yaml:"schedule"`
	Timezone string `yaml:"timezone"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	temperatureSet bool

	Location       *time.Location  `yaml:"-"`
	ToleranceValue decimal.Decimal `yaml:"-"`
}

// Load reads .env files, the YAML config file and environment overrides, in
// that order of increasing precedence, then applies defaults and validates.
func Load() (Config, error) {
	for _, envFile := range []string{".env", ".env.local"} {
		_ = godotenv.Load(envFile)
	}

	var cfg Config

	configPath := "config.yaml"
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		configPath = envPath
	}
	if data, err := os.ReadFile(configPath); err == nil {
		var probe struct {
			Temperature *float64 `yaml:"llm_temperature"`
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing %s: %w", configPath, err)
		}
		_ = yaml.Unmarshal(data, &probe)
		cfg.temperatureSet = probe.Temperature != nil
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	envOverride(&cfg.NBIMFile, "NBIM_FILE")
	envOverride(&cfg.CustodianFile, "CUSTODIAN_FILE")
	envOverride(&cfg.OutDir, "OUT_DIR")
	envOverride(&cfg.Tolerance, "RECON_TOLERANCE")
	envOverride(&cfg.LLMProvider, "LLM_PROVIDER")
	envOverride(&cfg.LLMModel, "LLM_MODEL")
	envOverride(&cfg.LLMModel, "RECON_LLM_MODEL")
	if os.Getenv("RECON_LLM_TEMPERATURE") != "" {
		cfg.temperatureSet = true
	}
	if err := envOverrideFloat(&cfg.LLMTemperature, "RECON_LLM_TEMPERATURE"); err != nil {
		return err
	}
	if err := envOverrideInt(&cfg.LLMTimeoutSeconds, "RECON_LLM_TIMEOUT"); err != nil {
		return err
	}
	if err := envOverrideFloat(&cfg.LLMRequestsPerSecond, "LLM_REQUESTS_PER_SECOND"); err != nil {
		return err
	}
	envOverride(&cfg.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	envOverride(&cfg.OpenAIAPIKey, "OPENAI_API_KEY")
	envOverride(&cfg.OpenAIBaseURL, "OPENAI_BASE_URL")
	envOverride(&cfg.GoogleAPIKey, "GOOGLE_API_KEY")
	envOverride(&cfg.PlannerMode, "PLANNER_MODE")
	envOverrideAllowEmpty(&cfg.ArchiveDBPath, "ARCHIVE_DB_PATH")
	envOverrideBool(&cfg.WriteEmailDraft, "WRITE_EMAIL_DRAFT")
	envOverride(&cfg.SlackBotToken, "SLACK_BOT_TOKEN")
	envOverride(&cfg.ReportChannelID, "REPORT_CHANNEL_ID")
	envOverride(&cfg.Schedule, "RECON_SCHEDULE")
	envOverride(&cfg.Timezone, "TIMEZONE")
	envOverride(&cfg.LogLevel, "LOG_LEVEL")
	envOverride(&cfg.LogFormat, "LOG_FORMAT")
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.NBIMFile == "" {
		cfg.NBIMFile = "data/NBIM_Dividend_Bookings.csv"
	}
	if cfg.CustodianFile == "" {
		cfg.CustodianFile = "data/CUSTODY_Dividend_Bookings.csv"
	}
	if cfg.OutDir == "" {
		cfg.OutDir = "out"
	}
	if strings.TrimSpace(cfg.Tolerance) == "" {
		cfg.Tolerance = defaultTolerance
	}
	cfg.LLMProvider = strings.ToLower(strings.TrimSpace(cfg.LLMProvider))
	if cfg.LLMProvider == "" {
		cfg.LLMProvider = detectProvider(*cfg)
	}
	if !cfg.temperatureSet {
		cfg.LLMTemperature = 0.1
	}
	if cfg.LLMTimeoutSeconds == 0 {
		cfg.LLMTimeoutSeconds = defaultLLMTimeoutSeconds
	}
	cfg.PlannerMode = strings.ToLower(strings.TrimSpace(cfg.PlannerMode))
	if cfg.PlannerMode == "" {
		cfg.PlannerMode = PlannerRules
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "UTC"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "auto"
	}
}

// detectProvider picks the first provider with a credential. No credential
// is not an error: it selects the rule-based path.
func detectProvider(cfg Config) string {
	switch {
	case cfg.OpenAIAPIKey != "":
		return ProviderOpenAI
	case cfg.AnthropicAPIKey != "":
		return ProviderAnthropic
	case cfg.GoogleAPIKey != "":
		return ProviderGoogle
	default:
		return ProviderNone
	}
}

// Validate checks value ranges and resolves computed fields.
func (c *Config) Validate() error {
	var errs []error

	tol, err := decimal.NewFromString(strings.TrimSpace(c.Tolerance))
	if err != nil {
		errs = append(errs, fmt.Errorf("invalid tolerance '%s': %w", c.Tolerance, err))
	} else if tol.IsNegative() {
		errs = append(errs, fmt.Errorf("invalid tolerance '%s': must be >= 0", c.Tolerance))
	} else {
		c.ToleranceValue = tol
	}

	switch c.LLMProvider {
	case ProviderAnthropic, ProviderOpenAI, ProviderGoogle, ProviderNone:
	default:
		errs = append(errs, fmt.Errorf("llm_provider must be one of anthropic, openai, google, none; got '%s'", c.LLMProvider))
	}
	switch c.PlannerMode {
	case PlannerRules, PlannerLLM:
	default:
		errs = append(errs, fmt.Errorf("planner_mode must be 'rules' or 'llm', got '%s'", c.PlannerMode))
	}
	if c.LLMTemperature < 0 || c.LLMTemperature > 2 {
		errs = append(errs, fmt.Errorf("invalid llm_temperature '%f': must be between 0 and 2", c.LLMTemperature))
	}
	if c.LLMTimeoutSeconds < 1 {
		errs = append(errs, fmt.Errorf("invalid llm_timeout_seconds '%d': must be >= 1", c.LLMTimeoutSeconds))
	}
	if c.LLMRequestsPerSecond < 0 {
		errs = append(errs, fmt.Errorf("invalid llm_requests_per_second '%f': must be >= 0", c.LLMRequestsPerSecond))
	}

	if strings.EqualFold(c.Timezone, "Local") {
		c.Location = time.Local
	} else {
		loc, err := time.LoadLocation(c.Timezone)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid timezone '%s': %w", c.Timezone, err))
		} else {
			c.Location = loc
		}
	}

	return errors.Join(errs...)
}

// APIKey returns the credential for the selected provider.
func (c Config) APIKey() string {
	switch c.LLMProvider {
	case ProviderAnthropic:
		return c.AnthropicAPIKey
	case ProviderOpenAI:
		return c.OpenAIAPIKey
	case ProviderGoogle:
		return c.GoogleAPIKey
	}
	return ""
}

// LLMEnabled reports whether a provider is selected and has a credential.
func (c Config) LLMEnabled() bool {
	return c.LLMProvider != ProviderNone && c.APIKey() != ""
}

func (c Config) LLMTimeout() time.Duration {
	if c.LLMTimeoutSeconds <= 0 {
		return defaultLLMTimeout
	}
	return time.Duration(c.LLMTimeoutSeconds) * time.Second
}

func (c Config) SlackConfigured() bool {
	return c.SlackBotToken != "" && c.ReportChannelID != ""
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
			// Accept "30.0" style values for the timeout.
			f, ferr := strconv.ParseFloat(val, 64)
			if ferr != nil {
				return fmt.Errorf("invalid %s '%s': %w", envKey, val, err)
			}
			parsed = int(f)
		}
		*field = parsed
	}
	return nil
}

func envOverrideBool(field *bool, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		*field = strings.EqualFold(val, "true") || val == "1"
	}
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
