package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/caarlos0/env/v6"
)

type NLUProvider string

const (
	NLURules  NLUProvider = "rules"
	NLUOpenAI NLUProvider = "openai"
	NLUYandex NLUProvider = "yandex"
	NLUGemini NLUProvider = "gemini"
)

type Config struct {
	// Transports
	TelegramBotToken string  `env:"TELEGRAM_BOT_TOKEN"`
	AllowedUsers     []int64 `env:"ALLOWED_USERS" envSeparator:":"`
	AdminUserID      int64   `env:"ADMIN_USER"`
	HTTPAddr         string  `env:"HTTP_ADDR" envDefault:":8080"`
	RateLimitPerMin  int     `env:"RATE_LIMIT_PER_MIN" envDefault:"60"`
	MessageParseMode string  `env:"MESSAGE_PARSE_MODE" envDefault:"HTML"`
	UsersFilePath    string  `env:"USERS_FILE_PATH" envDefault:"data/users.json"`
	PendingFilePath  string  `env:"PENDING_FILE_PATH" envDefault:"data/pending.json"`

	// NLU settings
	NLUProvider      NLUProvider `env:"NLU_PROVIDER" envDefault:"rules"`
	OpenAIAPIKey     string      `env:"OPENAI_API_KEY"`
	OpenAIBaseURL    string      `env:"OPENAI_BASE_URL"`
	OpenAIModel      string      `env:"OPENAI_MODEL" envDefault:"gpt-4o-mini"`
	YandexOAuthToken string      `env:"YANDEX_OAUTH_TOKEN"`
	YandexFolderID   string      `env:"YANDEX_FOLDER_ID"`
	GeminiAPIKey     string      `env:"GEMINI_API_KEY"`
	GeminiModel      string      `env:"GEMINI_MODEL" envDefault:"gemini-1.5-flash"`

	NLUTimeout time.Duration `env:"NLU_TIMEOUT" envDefault:"15s"`

	// OpenRouter (optional)
	OpenRouterReferrer string `env:"OPENROUTER_REFERRER"`
	OpenRouterTitle    string `env:"OPENROUTER_TITLE"`

	// Calendar and negotiation
	Timezone             string        `env:"TIMEZONE" envDefault:"UTC"`
	BusinessDayStart     string        `env:"BUSINESS_DAY_START" envDefault:"09:00"`
	BusinessDayEnd       string        `env:"BUSINESS_DAY_END" envDefault:"17:00"`
	IncludeWeekends      bool          `env:"INCLUDE_WEEKENDS" envDefault:"false"`
	MaxCandidates        int           `env:"MAX_CANDIDATES" envDefault:"3"`
	SearchHorizon        time.Duration `env:"SEARCH_HORIZON" envDefault:"336h"`
	DefaultDuration      time.Duration `env:"DEFAULT_DURATION" envDefault:"60m"`
	DefaultTimeOfDay     string        `env:"DEFAULT_TIME_OF_DAY" envDefault:"10:00"`
	EnforceBusinessHours bool          `env:"ENFORCE_BUSINESS_HOURS" envDefault:"false"`
	ProviderTimeout      time.Duration `env:"PROVIDER_TIMEOUT" envDefault:"20s"`

	// Google Calendar (optional; the in-memory calendar is used without credentials)
	GoogleCredentialsJSON string `env:"GOOGLE_CALENDAR_CREDENTIALS"`
	GoogleCredentialsFile string `env:"GOOGLE_CALENDAR_CREDENTIALS_FILE" envDefault:"credentials.json"`
	GoogleRefreshToken    string `env:"GOOGLE_CALENDAR_REFRESH_TOKEN"`
	GoogleTokenPath       string `env:"GOOGLE_CALENDAR_TOKEN_PATH" envDefault:"data/calendar_token.json"`
	CalendarID            string `env:"GOOGLE_CALENDAR_ID" envDefault:"primary"`

	// Sessions
	SessionTimeout   time.Duration `env:"SESSION_TIMEOUT" envDefault:"30m"`
	SessionSweepSpec string        `env:"SESSION_SWEEP_SPEC" envDefault:"@every 5m"`
	RedisAddr        string        `env:"REDIS_ADDR"`
	RedisPassword    string        `env:"REDIS_PASSWORD"`
	RedisDB          int           `env:"REDIS_DB" envDefault:"0"`

	// Storage
	LogFilePath      string `env:"LOG_FILE_PATH" envDefault:"logs/log.jsonl"`
	BookingsFilePath string `env:"BOOKINGS_FILE_PATH" envDefault:"data/bookings.json"`
	MongoURI         string `env:"MONGO_URI"`
	MongoDatabase    string `env:"MONGO_DATABASE" envDefault:"booking"`

	// Logging
	Env      string `env:"ENV" envDefault:"development"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Reporting
	ReportSpec string `env:"REPORT_SPEC" envDefault:"0 21 * * *"`
}

// Load parses the environment and validates derived settings.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if _, err := cfg.Location(); err != nil {
		return nil, err
	}
	if _, _, err := cfg.BusinessHours(); err != nil {
		return nil, err
	}
	if _, err := ParseClockOffset(cfg.DefaultTimeOfDay); err != nil {
		return nil, fmt.Errorf("DEFAULT_TIME_OF_DAY: %w", err)
	}
	return cfg, nil
}

func New() *Config {
	cfg, err := Load()
	if err != nil {
		log.Fatalf("%v", err)
	}
	return cfg
}

func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("TIMEZONE %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// BusinessHours returns the business window as offsets from local midnight.
func (c *Config) BusinessHours() (start, end time.Duration, err error) {
	if start, err = ParseClockOffset(c.BusinessDayStart); err != nil {
		return 0, 0, fmt.Errorf("BUSINESS_DAY_START: %w", err)
	}
	if end, err = ParseClockOffset(c.BusinessDayEnd); err != nil {
		return 0, 0, fmt.Errorf("BUSINESS_DAY_END: %w", err)
	}
	if end <= start {
		return 0, 0, fmt.Errorf("business day end %s must be after start %s", c.BusinessDayEnd, c.BusinessDayStart)
	}
	return start, end, nil
}

// GoogleCredentials returns inline credentials, falling back to the credentials file.
// A missing file is not an error.
func (c *Config) GoogleCredentials() ([]byte, error) {
	if c.GoogleCredentialsJSON != "" {
		return []byte(c.GoogleCredentialsJSON), nil
	}
	if c.GoogleCredentialsFile == "" {
		return nil, nil
	}
	b, err := os.ReadFile(c.GoogleCredentialsFile)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", c.GoogleCredentialsFile, err)
	}
	return b, nil
}

// ParseClockOffset parses "HH:MM" into an offset from midnight.
func ParseClockOffset(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid clock %q: %w", s, err)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}
