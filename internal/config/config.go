package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration required by the API process.
// All values must come from env (a local .env file is loaded when present).
// No business logic should depend on raw environment variables.
type Config struct {
	App        AppConfig
	Calendar   CalendarConfig
	CallSvc    CallServiceConfig
	Automation AutomationConfig
	Scheduling SchedulingConfig
	Redis      RedisConfig
	DB         DBConfig
}

type AppConfig struct {
	Env  string
	Port int
}

// CalendarConfig points at the external calendar/booking provider.
type CalendarConfig struct {
	BaseURL    string
	CalendarID string

	// AccessToken is a bearer token for the provider API. In production this
	// is expected to be a service-account token refreshed out of band; the
	// client wraps it in an oauth2 token source either way.
	AccessToken string

	RequestTimeout time.Duration
}

// CallServiceConfig points at the outbound voice-call provider.
type CallServiceConfig struct {
	BaseURL    string
	APIKey     string
	AgentID    string
	FromNumber string
}

// AutomationConfig points at the downstream automation webhook.
type AutomationConfig struct {
	WebhookURL string
}

// SchedulingConfig carries slot and hold tuning.
type SchedulingConfig struct {
	HoldTTL            time.Duration
	SlotDurationMin    int
	SlotGranularityMin int
	BusinessOpenHour   int
	BusinessCloseHour  int
	Timezone           string
}

// RedisConfig is optional; empty host disables the availability cache.
type RedisConfig struct {
	Host string
	Port int
}

// DBConfig is optional; empty host disables the booking archive.
type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
}

func Load() (Config, error) {
	// Local-only convenience; containers inject real env.
	if _, err := os.Stat(".env"); err == nil {
		_ = godotenv.Load()
	}

	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}

	c.Calendar.BaseURL = strings.TrimSpace(os.Getenv("CALENDAR_BASE_URL"))
	c.Calendar.CalendarID = strings.TrimSpace(os.Getenv("CALENDAR_ID"))
	c.Calendar.AccessToken = os.Getenv("CALENDAR_TOKEN")
	c.Calendar.RequestTimeout = optDuration("CALENDAR_TIMEOUT", 10*time.Second)

	c.CallSvc.BaseURL = strings.TrimSpace(os.Getenv("CALLSVC_BASE_URL"))
	c.CallSvc.APIKey = os.Getenv("CALLSVC_API_KEY")
	c.CallSvc.AgentID = strings.TrimSpace(os.Getenv("CALLSVC_AGENT_ID"))
	c.CallSvc.FromNumber = strings.TrimSpace(os.Getenv("CALLSVC_FROM_NUMBER"))

	c.Automation.WebhookURL = strings.TrimSpace(os.Getenv("AUTOMATION_WEBHOOK_URL"))

	c.Scheduling.HoldTTL = optDuration("HOLD_TTL", 300*time.Second)
	c.Scheduling.SlotDurationMin = optInt("SLOT_DURATION_MIN", 30)
	c.Scheduling.SlotGranularityMin = optInt("SLOT_GRANULARITY_MIN", 30)
	c.Scheduling.BusinessOpenHour = optInt("BUSINESS_OPEN_HOUR", 9)
	c.Scheduling.BusinessCloseHour = optInt("BUSINESS_CLOSE_HOUR", 17)
	c.Scheduling.Timezone = strings.TrimSpace(os.Getenv("TIMEZONE"))
	if c.Scheduling.Timezone == "" {
		c.Scheduling.Timezone = "UTC"
	}

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	if c.Redis.Host != "" {
		n, err := mustInt("REDIS_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	if c.DB.Host != "" {
		n, err := mustInt("DB_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.Port = n
		c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
		c.DB.Password = os.Getenv("DB_PASSWORD")
		c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
		c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))
	}

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.Calendar.BaseURL == "" {
		errs = append(errs, errors.New("CALENDAR_BASE_URL is required"))
	} else if !isValidURL(c.Calendar.BaseURL) {
		errs = append(errs, fmt.Errorf("CALENDAR_BASE_URL must be an absolute http(s) URL, got %q", c.Calendar.BaseURL))
	}
	if c.Calendar.CalendarID == "" {
		errs = append(errs, errors.New("CALENDAR_ID is required"))
	}
	if c.Calendar.AccessToken == "" {
		errs = append(errs, errors.New("CALENDAR_TOKEN is required"))
	}

	if c.CallSvc.BaseURL == "" {
		errs = append(errs, errors.New("CALLSVC_BASE_URL is required"))
	} else if !isValidURL(c.CallSvc.BaseURL) {
		errs = append(errs, fmt.Errorf("CALLSVC_BASE_URL must be an absolute http(s) URL, got %q", c.CallSvc.BaseURL))
	}
	if c.CallSvc.APIKey == "" {
		errs = append(errs, errors.New("CALLSVC_API_KEY is required"))
	}
	if c.CallSvc.AgentID == "" {
		errs = append(errs, errors.New("CALLSVC_AGENT_ID is required"))
	}

	if c.Automation.WebhookURL == "" {
		errs = append(errs, errors.New("AUTOMATION_WEBHOOK_URL is required"))
	} else if !isValidURL(c.Automation.WebhookURL) {
		errs = append(errs, fmt.Errorf("AUTOMATION_WEBHOOK_URL must be an absolute http(s) URL, got %q", c.Automation.WebhookURL))
	}

	if c.Scheduling.HoldTTL <= 0 {
		errs = append(errs, errors.New("HOLD_TTL must be positive"))
	}
	if c.Scheduling.SlotDurationMin <= 0 {
		errs = append(errs, errors.New("SLOT_DURATION_MIN must be positive"))
	}
	if c.Scheduling.SlotGranularityMin <= 0 {
		errs = append(errs, errors.New("SLOT_GRANULARITY_MIN must be positive"))
	}
	if c.Scheduling.BusinessOpenHour < 0 || c.Scheduling.BusinessOpenHour > 23 {
		errs = append(errs, fmt.Errorf("BUSINESS_OPEN_HOUR must be 0-23, got %d", c.Scheduling.BusinessOpenHour))
	}
	if c.Scheduling.BusinessCloseHour < 1 || c.Scheduling.BusinessCloseHour > 24 {
		errs = append(errs, fmt.Errorf("BUSINESS_CLOSE_HOUR must be 1-24, got %d", c.Scheduling.BusinessCloseHour))
	}
	if c.Scheduling.BusinessOpenHour >= c.Scheduling.BusinessCloseHour {
		errs = append(errs, errors.New("BUSINESS_OPEN_HOUR must be before BUSINESS_CLOSE_HOUR"))
	}
	if _, err := time.LoadLocation(c.Scheduling.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("TIMEZONE is not a valid IANA zone: %q", c.Scheduling.Timezone))
	}

	if c.Redis.Host != "" && (c.Redis.Port <= 0 || c.Redis.Port > 65535) {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.DB.Host != "" {
		if c.DB.Port <= 0 || c.DB.Port > 65535 {
			errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
		}
		if c.DB.User == "" {
			errs = append(errs, errors.New("DB_USER is required when DB_HOST is set"))
		}
		if c.DB.Name == "" {
			errs = append(errs, errors.New("DB_NAME is required when DB_HOST is set"))
		}
		if c.DB.SSLMode == "" {
			if c.IsProduction() {
				errs = append(errs, errors.New("DB_SSLMODE is required in production"))
			} else {
				c.DB.SSLMode = "disable"
			}
		}
		if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
			errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
		}
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

// Location resolves the configured timezone. Validate has already checked it.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Scheduling.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func optDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidURL(v string) bool {
	u, err := url.Parse(v)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
