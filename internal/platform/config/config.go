package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pscheid92/autoapply/internal/domain"
	"github.com/pscheid92/autoapply/internal/ratelimit"
	"go-simpler.org/env"
)

const DefaultPlatformLimits = "linkedin:30:200:2s-5s,seek:20:150:3s-7s"

type Config struct {
	AppEnv      string `env:"APP_ENV" default:"development"`
	Port        string `env:"PORT" default:"8080"`
	DatabaseURL string `env:"DATABASE_URL"`
	RedisURL    string `env:"REDIS_URL"`
	InstanceID  string `env:"INSTANCE_ID"`
	LogLevel    string `env:"LOG_LEVEL" default:"info"`
	LogFormat   string `env:"LOG_FORMAT" default:"text"`

	// PlatformLimits is "platform:hourly:daily:minDelay-maxDelay", comma separated.
	PlatformLimits string `env:"PLATFORM_LIMITS" default:"linkedin:30:200:2s-5s,seek:20:150:3s-7s"`
	// Accounts is "platform:username", comma separated. Secrets are read
	// from <PLATFORM>_SECRET.
	Accounts         string `env:"ACCOUNTS"`
	BlockedCompanies string `env:"BLOCKED_COMPANIES"`

	SearchKeywords string `env:"SEARCH_KEYWORDS"`
	SearchLocation string `env:"SEARCH_LOCATION"`
	SearchMaxPages int    `env:"SEARCH_MAX_PAGES" default:"1"`
	EasyApplyOnly  bool   `env:"EASY_APPLY_ONLY" default:"true"`

	MatchThreshold      float64       `env:"MATCH_THRESHOLD" default:"0.7"`
	RunLimit            int           `env:"RUN_LIMIT" default:"0"`
	MaxConcurrency      int           `env:"MAX_CONCURRENCY" default:"4"`
	MaxInRunRetryWait   time.Duration `env:"MAX_IN_RUN_RETRY_WAIT" default:"10m"`
	CollaboratorTimeout time.Duration `env:"COLLABORATOR_TIMEOUT" default:"2m"`
	ActionTimeout       time.Duration `env:"ACTION_TIMEOUT" default:"2m"`
	SessionIdleTimeout  time.Duration `env:"SESSION_IDLE_TIMEOUT" default:"15m"`
	RunSchedule         string        `env:"RUN_SCHEDULE"`

	ProfilePath   string `env:"PROFILE_PATH" default:"profile.json"`
	DryRunCatalog string `env:"DRY_RUN_CATALOG"`

	OpenAIAPIKey  string `env:"OPENAI_API_KEY"`
	OpenAIBaseURL string `env:"OPENAI_BASE_URL"`
	OpenAIModel   string `env:"OPENAI_MODEL"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	if cfg.MatchThreshold < 0 || cfg.MatchThreshold > 1 {
		return fmt.Errorf("MATCH_THRESHOLD must be within [0, 1], got %v", cfg.MatchThreshold)
	}
	if cfg.RunLimit < 0 {
		return errors.New("RUN_LIMIT must not be negative")
	}
	if cfg.MaxConcurrency < 1 {
		return errors.New("MAX_CONCURRENCY must be at least 1")
	}
	if cfg.SearchMaxPages < 1 {
		return errors.New("SEARCH_MAX_PAGES must be at least 1")
	}
	if _, err := ParsePlatformLimits(cfg.PlatformLimits); err != nil {
		return fmt.Errorf("PLATFORM_LIMITS: %w", err)
	}
	if _, err := cfg.ParseAccounts(); err != nil {
		return fmt.Errorf("ACCOUNTS: %w", err)
	}

	if cfg.AppEnv == "production" && cfg.DatabaseURL != "" {
		if mode := sslMode(cfg.DatabaseURL); mode == "disable" || mode == "allow" {
			return fmt.Errorf("DATABASE_URL uses sslmode=%s which is not allowed in production", mode)
		}
	}

	return nil
}

func sslMode(databaseURL string) string {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Query().Get("sslmode"))
}

// ParsePlatformLimits parses "linkedin:30:200:2s-5s,seek:20:150:3s-7s".
// The delay range may be omitted.
func ParsePlatformLimits(s string) (map[string]ratelimit.Limits, error) {
	limits := make(map[string]ratelimit.Limits)
	for _, item := range splitList(s) {
		parts := strings.Split(item, ":")
		if len(parts) != 3 && len(parts) != 4 {
			return nil, fmt.Errorf("entry %q: want platform:hourly:daily[:min-max]", item)
		}

		platform := strings.ToLower(strings.TrimSpace(parts[0]))
		if platform == "" {
			return nil, fmt.Errorf("entry %q: empty platform", item)
		}
		if _, dup := limits[platform]; dup {
			return nil, fmt.Errorf("platform %s listed twice", platform)
		}

		hourly, err := strconv.Atoi(parts[1])
		if err != nil {
			return nil, fmt.Errorf("entry %q: hourly ceiling: %w", item, err)
		}
		daily, err := strconv.Atoi(parts[2])
		if err != nil {
			return nil, fmt.Errorf("entry %q: daily ceiling: %w", item, err)
		}

		l := ratelimit.Limits{Hourly: hourly, Daily: daily}
		if len(parts) == 4 {
			lo, hi, ok := strings.Cut(parts[3], "-")
			if !ok {
				return nil, fmt.Errorf("entry %q: delay range must be min-max", item)
			}
			if l.MinDelay, err = time.ParseDuration(lo); err != nil {
				return nil, fmt.Errorf("entry %q: min delay: %w", item, err)
			}
			if l.MaxDelay, err = time.ParseDuration(hi); err != nil {
				return nil, fmt.Errorf("entry %q: max delay: %w", item, err)
			}
		}
		limits[platform] = l
	}
	if len(limits) == 0 {
		return nil, errors.New("no platform configured")
	}
	return limits, nil
}

// ParseAccounts parses ACCOUNTS and attaches <PLATFORM>_SECRET to each account.
func (c *Config) ParseAccounts() ([]domain.Account, error) {
	var accounts []domain.Account
	for _, item := range splitList(c.Accounts) {
		platform, user, ok := strings.Cut(item, ":")
		platform = strings.ToLower(strings.TrimSpace(platform))
		user = strings.TrimSpace(user)
		if !ok || platform == "" || user == "" {
			return nil, fmt.Errorf("entry %q: want platform:username", item)
		}
		accounts = append(accounts, domain.Account{
			Platform: platform,
			Username: user,
			Secret:   os.Getenv(strings.ToUpper(platform) + "_SECRET"),
		})
	}
	return accounts, nil
}

func (c *Config) BlockedCompanyList() []string {
	return splitList(c.BlockedCompanies)
}

func (c *Config) Criteria() domain.Criteria {
	return domain.Criteria{
		Keywords:  c.SearchKeywords,
		Location:  c.SearchLocation,
		MaxPages:  c.SearchMaxPages,
		EasyApply: c.EasyApplyOnly,
	}
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// ProfileFile is the JSON document at PROFILE_PATH.
type ProfileFile struct {
	domain.Profile
	Answers domain.Answers `json:"answers,omitempty"`
}

func LoadProfile(path string) (domain.Profile, domain.Answers, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Profile{}, nil, fmt.Errorf("failed to read profile: %w", err)
	}
	var pf ProfileFile
	if err := json.Unmarshal(data, &pf); err != nil {
		return domain.Profile{}, nil, fmt.Errorf("failed to parse profile %s: %w", path, err)
	}
	if strings.TrimSpace(pf.Name) == "" {
		return domain.Profile{}, nil, fmt.Errorf("profile %s has no name", path)
	}
	return pf.Profile, pf.Answers, nil
}
