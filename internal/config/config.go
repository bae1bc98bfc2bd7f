package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/park285/matka-round-server/internal/roundclock"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type AppConfig struct {
	Port int

	DatabaseDriver string
	DatabaseURL    string
	RedisURL       string

	Game GameConfig

	AuthMaxFailures   int
	AuthFailureWindow time.Duration

	SeedAdminUsername string
	SeedAdminPassword string
	SeedAdminBalance  decimal.Decimal

	MessagesDir    string
	AllowedOrigins []string
}

// GameConfig is the part that may also come from the ROUND_CONFIG_FILE yaml.
type GameConfig struct {
	Thresholds       roundclock.Thresholds `yaml:"thresholds"`
	Window           roundclock.Window     `yaml:"window"`
	RoundDurationMin int                   `yaml:"round_duration_minutes"`
	StrictManualJodi bool                  `yaml:"strict_manual_jodi"`
	MaxStake         decimal.Decimal       `yaml:"-"`
	MaxStakeRaw      string                `yaml:"max_stake"`
	Timezone         string                `yaml:"timezone"`
	Location         *time.Location        `yaml:"-"`
}

func (g GameConfig) RoundDuration() time.Duration {
	return time.Duration(g.RoundDurationMin) * time.Minute
}

func defaults() *AppConfig {
	return &AppConfig{
		Port: 8080,
		Game: GameConfig{
			Thresholds:       roundclock.DefaultThresholds(),
			Window:           roundclock.DefaultWindow(),
			RoundDurationMin: 35,
			StrictManualJodi: true,
			MaxStake:         decimal.NewFromInt(10000),
			Timezone:         "Local",
		},
		AuthMaxFailures:   5,
		AuthFailureWindow: 5 * time.Minute,
		SeedAdminUsername: "admin",
		SeedAdminBalance:  decimal.NewFromInt(1000000),
	}
}

// Load reads .env (if present), then ROUND_CONFIG_FILE, then environment overrides.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	cfg := defaults()

	if path := strings.TrimSpace(os.Getenv("ROUND_CONFIG_FILE")); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AppConfig) applyFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(b, &c.Game); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	if c.Game.MaxStakeRaw != "" {
		d, err := decimal.NewFromString(c.Game.MaxStakeRaw)
		if err != nil {
			return fmt.Errorf("max_stake: %w", err)
		}
		c.Game.MaxStake = d
	}
	return nil
}

func (c *AppConfig) applyEnv() error {
	var errs []error
	intVar := func(key string, dst *int) {
		v := strings.TrimSpace(os.Getenv(key))
		if v == "" {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = n
	}

	intVar("PORT", &c.Port)
	c.DatabaseDriver = strings.ToLower(strings.TrimSpace(os.Getenv("DATABASE_DRIVER")))
	c.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	c.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))

	if v := strings.TrimSpace(os.Getenv("MAX_STAKE")); v != "" {
		d, err := decimal.NewFromString(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("MAX_STAKE: %w", err))
		} else {
			c.Game.MaxStake = d
		}
	}
	intVar("TIMING_OPEN_BETTING_END", &c.Game.Thresholds.OpenBettingEnd)
	intVar("TIMING_OPEN_RESULT", &c.Game.Thresholds.OpenResult)
	intVar("TIMING_CLOSE_BETTING_END", &c.Game.Thresholds.CloseBettingEnd)
	intVar("TIMING_CLOSE_RESULT", &c.Game.Thresholds.CloseResult)
	intVar("TIMING_ROUND_DURATION", &c.Game.RoundDurationMin)
	intVar("OPEN_HOUR", &c.Game.Window.OpenHour)
	intVar("CLOSE_HOUR", &c.Game.Window.CloseHour)
	if v := strings.TrimSpace(os.Getenv("STRICT_MANUAL_JODI")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("STRICT_MANUAL_JODI: %w", err))
		} else {
			c.Game.StrictManualJodi = b
		}
	}
	if v := strings.TrimSpace(os.Getenv("TIMEZONE")); v != "" {
		c.Game.Timezone = v
	}

	intVar("AUTH_MAX_FAILURES", &c.AuthMaxFailures)
	windowSec := int(c.AuthFailureWindow / time.Second)
	intVar("AUTH_FAILURE_WINDOW_SEC", &windowSec)
	c.AuthFailureWindow = time.Duration(windowSec) * time.Second

	if v := strings.TrimSpace(os.Getenv("SEED_ADMIN_USERNAME")); v != "" {
		c.SeedAdminUsername = v
	}
	c.SeedAdminPassword = os.Getenv("SEED_ADMIN_PASSWORD")
	c.MessagesDir = strings.TrimSpace(os.Getenv("MESSAGES_DIR"))

	if v := strings.TrimSpace(os.Getenv("ALLOWED_ORIGINS")); v != "" {
		for _, p := range strings.Split(v, ",") {
			if s := strings.TrimSpace(p); s != "" {
				c.AllowedOrigins = append(c.AllowedOrigins, s)
			}
		}
	}
	return errors.Join(errs...)
}

// finish normalises the database URL against the driver and validates everything.
func (c *AppConfig) finish() error {
	switch c.DatabaseDriver {
	case "":
	case "sqlite3", "sqlite":
		c.DatabaseDriver = "sqlite3"
		if c.DatabaseURL != "" && !strings.Contains(c.DatabaseURL, "://") {
			c.DatabaseURL = "sqlite3://" + c.DatabaseURL
		}
	case "postgres", "postgresql":
		c.DatabaseDriver = "postgres"
		if c.DatabaseURL != "" && !strings.HasPrefix(c.DatabaseURL, "postgres://") && !strings.HasPrefix(c.DatabaseURL, "postgresql://") {
			return errors.New("DATABASE_URL must be a postgres:// url when DATABASE_DRIVER=postgres")
		}
	default:
		return fmt.Errorf("DATABASE_DRIVER %q is not supported (postgres, sqlite3)", c.DatabaseDriver)
	}

	loc, err := time.LoadLocation(c.Game.Timezone)
	if err != nil {
		return fmt.Errorf("TIMEZONE: %w", err)
	}
	c.Game.Location = loc
	return c.Validate()
}

func (c *AppConfig) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT %d out of range", c.Port)
	}
	g := c.Game
	if !g.Thresholds.Valid() {
		return fmt.Errorf("timing thresholds must be positive and increasing: %+v", g.Thresholds)
	}
	if g.RoundDurationMin < g.Thresholds.CloseResult {
		return fmt.Errorf("round duration %dm is shorter than the close result threshold %dm", g.RoundDurationMin, g.Thresholds.CloseResult)
	}
	if g.Window.OpenHour < 0 || g.Window.CloseHour > 24 || g.Window.OpenHour >= g.Window.CloseHour {
		return fmt.Errorf("operating window %d-%d is invalid", g.Window.OpenHour, g.Window.CloseHour)
	}
	if !g.MaxStake.IsPositive() {
		return errors.New("MAX_STAKE must be positive")
	}
	if c.AuthMaxFailures < 0 {
		return errors.New("AUTH_MAX_FAILURES must not be negative")
	}
	return nil
}
