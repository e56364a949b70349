// internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"
	"github.com/sergioBarril/smashbot/internal/models"
	"github.com/sirupsen/logrus"
)

// tierNamespace seeds the IDs of tiers declared through TIERS, so the same
// name always maps to the same ID across restarts.
var tierNamespace = uuid.MustParse("8f5d2c1e-7b0a-4d8e-9c3f-5a6b7c8d9e0f")

// Config is everything the binaries read from the environment.
type Config struct {
	Port        string `env:"PORT" envDefault:"8080"`
	DatabaseURL string `env:"DATABASE_URL"`
	RedisAddr   string `env:"REDIS_ADDR"`
	RedisDB     int    `env:"REDIS_DB" envDefault:"0"`
	EventQueue  string `env:"ARENA_EVENT_QUEUE" envDefault:"smashbot_arena_events"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:","`

	// Tiers lists tier names weakest first, as NAME or NAME=CHANNEL.
	Tiers []string `env:"TIERS" envDefault:"Tier 4,Tier 3,Tier 2,Tier 1" envSeparator:","`

	MatchTimeout      time.Duration `env:"MATCH_TIMEOUT" envDefault:"15m"`
	CancelTimeout     time.Duration `env:"CANCEL_TIMEOUT" envDefault:"90s"`
	CloseGrace        time.Duration `env:"CLOSE_GRACE" envDefault:"2m"`
	RankedStepTimeout time.Duration `env:"RANKED_STEP_TIMEOUT" envDefault:"10m"`
	RankedFormat      string        `env:"RANKED_FORMAT" envDefault:"BO3"`

	SweepAt string `env:"SWEEP_AT" envDefault:"05:00"`
	SweepTZ string `env:"SWEEP_TZ" envDefault:"Europe/Madrid"`

	ArenaPrefix       string   `env:"ARENA_PREFIX" envDefault:"Arena"`
	RankedPrefix      string   `env:"RANKED_PREFIX" envDefault:"Ranked"`
	KeepFreeChannels  int      `env:"KEEP_FREE_CHANNELS" envDefault:"2"`
	StarterStages     []string `env:"STARTER_STAGES" envSeparator:","`
	CounterpickStages []string `env:"COUNTERPICK_STAGES" envSeparator:","`

	TokenKeyPath    string        `env:"TOKEN_KEY_PATH"`
	TokenExpireTime time.Duration `env:"TOKEN_EXPIRE_TIME" envDefault:"24h"`

	HistorianBatchSize  int           `env:"HISTORIAN_BATCH_SIZE" envDefault:"20"`
	HistorianFlushMS    int           `env:"HISTORIAN_FLUSH_MS" envDefault:"500"`
	HistorianInactivity time.Duration `env:"HISTORIAN_INACTIVITY" envDefault:"30m"`
}

// Load parses the process environment.
func Load() (Config, error) {
	return Parse(nil)
}

// Parse reads configuration from vars, or from the process environment
// when vars is nil.
func Parse(vars map[string]string) (Config, error) {
	var cfg Config
	opts := env.Options{}
	if vars != nil {
		opts.Environment = vars
	}
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if _, err := cfg.Format(); err != nil {
		return Config{}, err
	}
	if _, err := cfg.Location(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Format returns the default ranked set format.
func (c Config) Format() (models.SetFormat, error) {
	return models.ParseSetFormat(c.RankedFormat)
}

// Location resolves SweepTZ.
func (c Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.SweepTZ)
	if err != nil {
		return nil, fmt.Errorf("SWEEP_TZ: %w", err)
	}
	return loc, nil
}

// Level resolves LogLevel, falling back to info.
func (c Config) Level() logrus.Level {
	lvl, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

// HistorianFlushDelay converts the millisecond setting.
func (c Config) HistorianFlushDelay() time.Duration {
	return time.Duration(c.HistorianFlushMS) * time.Millisecond
}

// LadderTiers builds the tier list declared in TIERS. Weights start at 1
// for the first (weakest) entry.
func (c Config) LadderTiers() []models.Tier {
	tiers := make([]models.Tier, 0, len(c.Tiers))
	for i, raw := range c.Tiers {
		name, channel, _ := strings.Cut(strings.TrimSpace(raw), "=")
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		tiers = append(tiers, models.Tier{
			ID:        uuid.NewSHA1(tierNamespace, []byte(name)),
			Name:      name,
			Weight:    i + 1,
			ChannelID: strings.TrimSpace(channel),
		})
	}
	return tiers
}
