// Package config loads controller settings.
//
// Sources, highest priority first:
//  1. Environment variables (SPECBOT_*), with .env loaded first
//  2. Config file (spectator.yaml in the working directory, or --config)
//  3. Built-in defaults
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/multierr"
)

const EnvPrefix = "SPECBOT"

type Config struct {
	Session   Session
	Recovery  Recovery
	Standby   Standby
	Vote      Vote
	Directory Directory
	HTTP      HTTP
	Journal   Journal
	Game      Game
	Log       Log
}

type Session struct {
	Tick                  time.Duration
	AFKTimeout            int
	IdleTimeout           int
	InitTimeout           int
	AFKFlagTTL            time.Duration
	AFKExtend             int
	ReportSettle          time.Duration
	TeamCheckInterval     time.Duration
	FollowFailureCooldown time.Duration
	MaxFollowFailures     int
	PauseTimeout          time.Duration
	NoticeDelay           time.Duration
	// StartAddr is joined on startup. Empty means the busiest server.
	StartAddr string
}

type Recovery struct {
	Cooldown        time.Duration
	DeadlockHorizon time.Duration
	TierTimeout     time.Duration
	ConnectTimeout  time.Duration
	ReconnectSettle time.Duration
	AlternatePause  time.Duration
}

type Standby struct {
	Duration        time.Duration
	MessageInterval time.Duration
}

type Vote struct {
	Window  time.Duration
	Aliases []string
}

type Directory struct {
	URL      string
	Rate     float64
	Burst    int
	CacheTTL time.Duration
}

type HTTP struct {
	Addr string
}

type Journal struct {
	DSN   string
	Queue int
}

type Game struct {
	ReportPath string
	Binary     string
	Args       []string
	Dir        string
	Rules      string
}

type Log struct {
	Level       string
	Development bool
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("session.tick", 2*time.Second)
	v.SetDefault("session.afk_timeout", 30)
	v.SetDefault("session.idle_timeout", 5)
	v.SetDefault("session.init_timeout", 10)
	v.SetDefault("session.afk_flag_ttl", 10*time.Minute)
	v.SetDefault("session.afk_extend", 60)
	v.SetDefault("session.report_settle", 500*time.Millisecond)
	v.SetDefault("session.team_check_interval", 30*time.Second)
	v.SetDefault("session.follow_failure_cooldown", 10*time.Second)
	v.SetDefault("session.max_follow_failures", 3)
	v.SetDefault("session.pause_timeout", 60*time.Second)
	v.SetDefault("session.notice_delay", 3*time.Second)
	v.SetDefault("session.start_addr", "")

	v.SetDefault("recovery.cooldown", 15*time.Second)
	v.SetDefault("recovery.deadlock_horizon", 120*time.Second)
	v.SetDefault("recovery.tier_timeout", 60*time.Second)
	v.SetDefault("recovery.connect_timeout", 90*time.Second)
	v.SetDefault("recovery.reconnect_settle", 3*time.Second)
	v.SetDefault("recovery.alternate_pause", 2*time.Second)

	v.SetDefault("standby.duration", 15*time.Minute)
	v.SetDefault("standby.message_interval", 3*time.Second)

	v.SetDefault("vote.window", 10*time.Second)
	v.SetDefault("vote.aliases", []string{"defrag.live", "defraglive", "defrag live"})

	v.SetDefault("directory.url", "https://servers.defrag.racing/")
	v.SetDefault("directory.rate", 0.5)
	v.SetDefault("directory.burst", 2)
	v.SetDefault("directory.cache_ttl", 5*time.Second)

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("journal.dsn", "")
	v.SetDefault("journal.queue", 256)

	v.SetDefault("game.report_path", "system/reports/serverstate.txt")
	v.SetDefault("game.binary", "")
	v.SetDefault("game.args", []string{})
	v.SetDefault("game.dir", "")
	v.SetDefault("game.rules", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

// New returns a viper instance with defaults and environment bindings. The
// config file is read when path is set or spectator.yaml exists.
func New(path string) (*viper.Viper, error) {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("spectator")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return v, nil
}

func Load(path string, dev bool) (Config, error) {
	return LoadFlags(path, dev, nil)
}

// FlagKeys maps command line flags to config keys. A flag only overrides
// the file and environment when it was set explicitly.
var FlagKeys = map[string]string{
	"listen": "http.addr",
	"start":  "session.start_addr",
	"game":   "game.binary",
}

func LoadFlags(path string, dev bool, fs *pflag.FlagSet) (Config, error) {
	v, err := New(path)
	if err != nil {
		return Config{}, err
	}
	if fs != nil {
		for name, key := range FlagKeys {
			if f := fs.Lookup(name); f != nil && f.Changed {
				if err := v.BindPFlag(key, f); err != nil {
					return Config{}, err
				}
			}
		}
	}
	return FromViper(v, dev)
}

// FromViper builds the typed config. The development profile shortens the
// timers that make manual testing slow.
func FromViper(v *viper.Viper, dev bool) (Config, error) {
	c := Config{
		Session: Session{
			Tick:                  v.GetDuration("session.tick"),
			AFKTimeout:            v.GetInt("session.afk_timeout"),
			IdleTimeout:           v.GetInt("session.idle_timeout"),
			InitTimeout:           v.GetInt("session.init_timeout"),
			AFKFlagTTL:            v.GetDuration("session.afk_flag_ttl"),
			AFKExtend:             v.GetInt("session.afk_extend"),
			ReportSettle:          v.GetDuration("session.report_settle"),
			TeamCheckInterval:     v.GetDuration("session.team_check_interval"),
			FollowFailureCooldown: v.GetDuration("session.follow_failure_cooldown"),
			MaxFollowFailures:     v.GetInt("session.max_follow_failures"),
			PauseTimeout:          v.GetDuration("session.pause_timeout"),
			NoticeDelay:           v.GetDuration("session.notice_delay"),
			StartAddr:             v.GetString("session.start_addr"),
		},
		Recovery: Recovery{
			Cooldown:        v.GetDuration("recovery.cooldown"),
			DeadlockHorizon: v.GetDuration("recovery.deadlock_horizon"),
			TierTimeout:     v.GetDuration("recovery.tier_timeout"),
			ConnectTimeout:  v.GetDuration("recovery.connect_timeout"),
			ReconnectSettle: v.GetDuration("recovery.reconnect_settle"),
			AlternatePause:  v.GetDuration("recovery.alternate_pause"),
		},
		Standby: Standby{
			Duration:        v.GetDuration("standby.duration"),
			MessageInterval: v.GetDuration("standby.message_interval"),
		},
		Vote: Vote{
			Window:  v.GetDuration("vote.window"),
			Aliases: v.GetStringSlice("vote.aliases"),
		},
		Directory: Directory{
			URL:      v.GetString("directory.url"),
			Rate:     v.GetFloat64("directory.rate"),
			Burst:    v.GetInt("directory.burst"),
			CacheTTL: v.GetDuration("directory.cache_ttl"),
		},
		HTTP:    HTTP{Addr: v.GetString("http.addr")},
		Journal: Journal{DSN: v.GetString("journal.dsn"), Queue: v.GetInt("journal.queue")},
		Game: Game{
			ReportPath: v.GetString("game.report_path"),
			Binary:     v.GetString("game.binary"),
			Args:       v.GetStringSlice("game.args"),
			Dir:        v.GetString("game.dir"),
			Rules:      v.GetString("game.rules"),
		},
		Log: Log{
			Level:       v.GetString("log.level"),
			Development: v.GetBool("log.development") || dev,
		},
	}

	if dev {
		c.Session.AFKTimeout = 1000
		c.Standby.Duration = time.Minute
		c.Log.Level = "debug"
	}
	return c, c.Validate()
}

func (c Config) Validate() error {
	var errs []error
	if c.Session.Tick <= 0 {
		errs = append(errs, errors.New("session.tick must be positive"))
	}
	if c.Session.AFKTimeout <= 0 || c.Session.IdleTimeout <= 0 {
		errs = append(errs, errors.New("session.afk_timeout and session.idle_timeout must be positive"))
	}
	if c.Recovery.DeadlockHorizon <= c.Recovery.Cooldown {
		errs = append(errs, errors.New("recovery.deadlock_horizon must exceed recovery.cooldown"))
	}
	if c.Directory.URL == "" {
		errs = append(errs, errors.New("directory.url is required"))
	}
	return multierr.Combine(errs...)
}
