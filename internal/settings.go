package internal

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment selects environment specific defaults
type Environment string

const (
	Development Environment = "development"
	Production  Environment = "production"
)

// Settings is the runtime configuration of the monitor
type Settings struct {
	Environment  Environment `yaml:"environment"`
	LogLevel     string      `yaml:"log_level"`
	LogFile      string      `yaml:"log_file"`
	Port         string      `yaml:"port"`
	DBPathPrefix string      `yaml:"db_path_prefix"`
	Timezone     string      `yaml:"timezone"`
	CORSOrigins  []string    `yaml:"cors_origins"`
	VersionFile  string      `yaml:"version_file"`

	Device    DeviceSettings   `yaml:"device"`
	SIP       SIPSettings      `yaml:"sip"`
	SMPP      SMPPSettings     `yaml:"smpp"`
	Telegram  TelegramSettings `yaml:"telegram"`
	NATS      NATSSettings     `yaml:"nats"`
	Intervals IntervalSettings `yaml:"intervals"`
	Summary   SummarySettings  `yaml:"summary"`
	USSD      USSDSettings     `yaml:"ussd"`
	Restore   *RestoreProfile  `yaml:"restore,omitempty"`
}

type DeviceSettings struct {
	URL             string            `yaml:"url"`
	Username        string            `yaml:"username"`
	Password        string            `yaml:"password"`
	DefaultPassword string            `yaml:"default_password"`
	Timeout         time.Duration     `yaml:"timeout"`
	Sections        map[string]string `yaml:"sections,omitempty"`
}

type SIPSettings struct {
	Login    string `yaml:"login"`
	Password string `yaml:"password"`
}

type SMPPSettings struct {
	Port        int    `yaml:"port"`
	User        string `yaml:"user"`
	Secret      string `yaml:"secret"`
	SenderPhone string `yaml:"sender_phone"`
}

type TelegramSettings struct {
	Token  string `yaml:"token"`
	ChatID int64  `yaml:"chat_id"`
}

type NATSSettings struct {
	URL            string `yaml:"url"`
	RequestSubject string `yaml:"request_subject"`
	EventPrefix    string `yaml:"event_prefix"`
}

type IntervalSettings struct {
	HealthCheck    time.Duration `yaml:"health_check"`
	IdlePoll       time.Duration `yaml:"idle_poll"`
	ActivePoll     time.Duration `yaml:"active_poll"`
	AuthGrace      time.Duration `yaml:"auth_grace"`
	RebootSettle   time.Duration `yaml:"reboot_settle"`
	ResetSettle    time.Duration `yaml:"reset_settle"`
	PasswordSettle time.Duration `yaml:"password_settle"`
	GreetingAfter  time.Duration `yaml:"greeting_after"`
	HeartbeatStale time.Duration `yaml:"heartbeat_stale"`
}

type SummarySettings struct {
	Hour           int    `yaml:"hour"`
	WeekBoundary   string `yaml:"week_boundary"`
	LowBalanceDays int    `yaml:"low_balance_days"`
}

type USSDSettings struct {
	Codes     USSDCodes    `yaml:"codes"`
	Patterns  USSDPatterns `yaml:"patterns"`
	Poll      RetryPolicy  `yaml:"poll"`
	RoundTrip RetryPolicy  `yaml:"round_trip"`
}

// DefaultSettings returns the settings used when nothing is configured.
// Intervals that depend on the environment are filled in by LoadSettings.
func DefaultSettings() Settings {
	return Settings{
		Environment:  Development,
		LogLevel:     "info",
		LogFile:      "logs/goipwatch.log",
		Port:         "8080",
		DBPathPrefix: ".",
		CORSOrigins:  []string{"http://localhost:5173", "http://localhost:3000"},
		VersionFile:  "/app/version.json",
		Device: DeviceSettings{
			Username:        "admin",
			DefaultPassword: "admin",
			Timeout:         30 * time.Second,
		},
		SMPP: SMPPSettings{
			Port:   7777,
			User:   "admin",
			Secret: "admin",
		},
		NATS: NATSSettings{
			RequestSubject: "goip.requests",
			EventPrefix:    "goip.events",
		},
		Intervals: IntervalSettings{
			ActivePoll:     2 * time.Second,
			AuthGrace:      5 * time.Minute,
			RebootSettle:   30 * time.Second,
			ResetSettle:    20 * time.Second,
			PasswordSettle: 10 * time.Second,
			GreetingAfter:  30 * time.Minute,
		},
		Summary: SummarySettings{
			Hour:           23,
			WeekBoundary:   "sunday",
			LowBalanceDays: 10,
		},
		USSD: USSDSettings{
			Codes:     DefaultUSSDCodes,
			Patterns:  DefaultUSSDPatterns,
			Poll:      RetryPolicy{Tries: 10, Delay: 2 * time.Second, Backoff: 1},
			RoundTrip: RetryPolicy{Tries: 3, Delay: 3 * time.Second, Backoff: 2},
		},
	}
}

// LoadSettings reads the YAML file at path (optional), applies environment
// variable overrides and then the environment specific defaults
func LoadSettings(path string) (Settings, error) {
	s := DefaultSettings()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Settings{}, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &s); err != nil {
			return Settings{}, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
		slog.Info("Loaded config", "path", path)
	}
	if err := s.applyEnv(); err != nil {
		return Settings{}, err
	}
	s.applyEnvironmentDefaults()
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

func (s *Settings) applyEnv() error {
	str := func(name string, dst *string) {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}
	str("GOIPWATCH_ENV", (*string)(&s.Environment))
	str("LOG_LEVEL", &s.LogLevel)
	str("PORT", &s.Port)
	str("DB_PATH_PREFIX", &s.DBPathPrefix)
	str("GOIP_URL", &s.Device.URL)
	str("GOIP_USER", &s.Device.Username)
	str("GOIP_PASS", &s.Device.Password)
	str("SIP_LOGIN", &s.SIP.Login)
	str("SIP_PASS", &s.SIP.Password)
	str("SENDER_PHONE", &s.SMPP.SenderPhone)
	str("SMPP_USER", &s.SMPP.User)
	str("SMPP_SECRET", &s.SMPP.Secret)
	str("TELEGRAM_TOKEN", &s.Telegram.Token)
	str("NATS_URL", &s.NATS.URL)

	if v := os.Getenv("TELEGRAM_CHAT"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid TELEGRAM_CHAT %q: %w", v, err)
		}
		s.Telegram.ChatID = id
	}
	return nil
}

func (s *Settings) applyEnvironmentDefaults() {
	prod := s.IsProduction()
	if s.Intervals.HealthCheck == 0 {
		s.Intervals.HealthCheck = time.Minute
		if prod {
			s.Intervals.HealthCheck = 10 * time.Minute
		}
	}
	if s.Intervals.IdlePoll == 0 {
		s.Intervals.IdlePoll = 10 * time.Second
		if prod {
			s.Intervals.IdlePoll = 5 * time.Second
		}
	}
	if s.Intervals.HeartbeatStale == 0 {
		s.Intervals.HeartbeatStale = 3 * s.Intervals.HealthCheck
	}
	if s.Device.URL != "" && !strings.HasPrefix(s.Device.URL, "http") {
		s.Device.URL = "http://" + s.Device.URL
	}
	if s.Device.Sections == nil {
		s.Device.Sections = DefaultSections
	}
	if s.Restore == nil {
		profile := DefaultRestoreProfile()
		s.Restore = &profile
	}
}

// Validate checks the settings the monitor cannot start without
func (s *Settings) Validate() error {
	switch s.Environment {
	case Development, Production:
	default:
		return fmt.Errorf("unknown environment %q", s.Environment)
	}
	if s.Device.URL == "" {
		return fmt.Errorf("device url is not configured (GOIP_URL)")
	}
	if s.Summary.Hour < 0 || s.Summary.Hour > 23 {
		return fmt.Errorf("summary hour must be within 0..23, got %d", s.Summary.Hour)
	}
	if _, err := s.WeekBoundary(); err != nil {
		return err
	}
	if _, err := NewUSSDParser(s.USSD.Patterns); err != nil {
		return err
	}
	return nil
}

func (s *Settings) IsProduction() bool {
	return s.Environment == Production
}

// WeekBoundary parses the configured week day
func (s *Settings) WeekBoundary() (time.Weekday, error) {
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.EqualFold(d.String(), strings.TrimSpace(s.Summary.WeekBoundary)) {
			return d, nil
		}
	}
	return time.Sunday, fmt.Errorf("invalid week boundary %q", s.Summary.WeekBoundary)
}

// Location returns the configured time zone, the local one by default
func (s *Settings) Location() *time.Location {
	if s.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		slog.Warn("Unknown timezone, using local", "timezone", s.Timezone, "error", err)
		return time.Local
	}
	return loc
}

func (s *Settings) HealthConfig() HealthConfig {
	return HealthConfig{
		CheckInterval:  s.Intervals.HealthCheck,
		RebootSettle:   s.Intervals.RebootSettle,
		ResetSettle:    s.Intervals.ResetSettle,
		PasswordSettle: s.Intervals.PasswordSettle,
		Device: DeviceCredentials{
			URL:      s.Device.URL,
			Username: s.Device.Username,
			Password: s.Device.Password,
		},
		DefaultPassword: s.Device.DefaultPassword,
		Restore:         *s.Restore,
		RestoreCreds: RestoreCredentials{
			SIPLogin:      s.SIP.Login,
			SIPPassword:   s.SIP.Password,
			SMPPUser:      s.SMPP.User,
			SMPPSecret:    s.SMPP.Secret,
			SenderPhone:   s.SMPP.SenderPhone,
			AdminPassword: s.Device.Password,
		},
	}
}

func (s *Settings) MonitorConfig() MonitorConfig {
	return MonitorConfig{
		IdleInterval:   s.Intervals.IdlePoll,
		ActiveInterval: s.Intervals.ActivePoll,
		AuthGrace:      s.Intervals.AuthGrace,
		SummaryHour:    s.Summary.Hour,
		GreetingAfter:  s.Intervals.GreetingAfter,
		Location:       s.Location(),
	}
}

func (s *Settings) GatewayConfig() GatewayConfig {
	return GatewayConfig{
		DeviceURL:     s.Device.URL,
		Username:      s.Device.Username,
		Password:      s.Device.Password,
		SMPPPort:      s.SMPP.Port,
		SMPPUser:      s.SMPP.User,
		SMPPSecret:    s.SMPP.Secret,
		SenderPhone:   s.SMPP.SenderPhone,
		USSDPoll:      s.USSD.Poll,
		USSDRoundTrip: s.USSD.RoundTrip,
	}
}

func (s *Settings) ServerConfig() ServerConfig {
	return ServerConfig{
		HeartbeatStale: s.Intervals.HeartbeatStale,
		CORSOrigins:    s.CORSOrigins,
		VersionFile:    s.VersionFile,
	}
}

func (s *Settings) ReporterConfig() ReporterConfig {
	weekBoundary, _ := s.WeekBoundary()
	return ReporterConfig{
		Codes:          s.USSD.Codes,
		WeekBoundary:   weekBoundary,
		LowBalanceDays: s.Summary.LowBalanceDays,
		Location:       s.Location(),
	}
}
