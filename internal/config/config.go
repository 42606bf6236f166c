package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config describes all runtime settings for the service.
//
// Best practice for Go services:
//   - load config once in main
//   - validate
//   - pass further via DI (no global variables)
type Config struct {
	Env string // dev|stage|prod

	Log struct {
		Format string // text|json
	}

	HTTP struct {
		Addr              string
		ReadHeaderTimeout time.Duration
		IdleTimeout       time.Duration
		ShutdownTimeout   time.Duration
	}

	// Postgres is optional: with an empty URL balances live in memory and
	// survive through the JSON snapshot only.
	Postgres struct {
		URL           string
		RunMigrations bool
		MigrationsDir string
	}

	// Redis is optional: when set, snapshots go to Redis instead of the file.
	Redis struct {
		Addr        string
		DB          int
		SnapshotTTL time.Duration
	}

	Bot struct {
		Token    string
		WebApp   string // base URL of the game web app
		PollTime time.Duration
	}

	Auth struct {
		Secret   string
		TokenTTL time.Duration
	}

	Game struct {
		GracePeriod       time.Duration
		HeartbeatInterval time.Duration
		HeartbeatTimeout  time.Duration
		RakePercent       int64
		BetTTL            time.Duration
		SweepInterval     time.Duration
	}

	Snapshot struct {
		Path         string
		SaveInterval time.Duration
	}
}

func LoadFromEnv() (Config, error) {
	var c Config

	c.Env = envString("APP_ENV", "dev")
	c.Log.Format = envString("LOG_FORMAT", "text")

	port := envString("PORT", "8080")
	c.HTTP.Addr = envString("HTTP_ADDR", ":"+port)
	c.HTTP.ReadHeaderTimeout = envDuration("HTTP_READ_HEADER_TIMEOUT", 5*time.Second)
	c.HTTP.IdleTimeout = envDuration("HTTP_IDLE_TIMEOUT", 60*time.Second)
	c.HTTP.ShutdownTimeout = envDuration("HTTP_SHUTDOWN_TIMEOUT", 10*time.Second)

	c.Postgres.URL = envString("DATABASE_URL", "")
	c.Postgres.RunMigrations = envBool("RUN_MIGRATIONS", false)
	c.Postgres.MigrationsDir = envString("MIGRATIONS_DIR", "./db/migrations")

	c.Redis.Addr = envString("REDIS_ADDR", "")
	c.Redis.DB = envInt("REDIS_DB", 0)
	c.Redis.SnapshotTTL = envDuration("SNAPSHOT_TTL", 0)

	c.Bot.Token = envString("BOT_TOKEN", "")
	c.Bot.WebApp = envString("WEBAPP_URL", "")
	c.Bot.PollTime = envDuration("BOT_POLL_TIME", 10*time.Second)

	c.Auth.Secret = envString("JWT_SECRET", "dev-secret-change-me")
	c.Auth.TokenTTL = envDuration("JWT_TTL", 24*time.Hour)

	c.Game.GracePeriod = envDuration("GAME_GRACE_PERIOD", 3*time.Second)
	c.Game.HeartbeatInterval = envDuration("HEARTBEAT_INTERVAL", 15*time.Second)
	c.Game.HeartbeatTimeout = envDuration("HEARTBEAT_TIMEOUT", 30*time.Second)
	c.Game.RakePercent = int64(envInt("RAKE_PERCENT", 5))
	c.Game.BetTTL = envDuration("BET_TTL", 30*time.Minute)
	c.Game.SweepInterval = envDuration("BET_SWEEP_INTERVAL", time.Minute)

	c.Snapshot.Path = envString("SNAPSHOT_PATH", "./data.json")
	c.Snapshot.SaveInterval = envDuration("SNAPSHOT_INTERVAL", 30*time.Second)

	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) Validate() error {
	if c.HTTP.Addr == "" {
		return errors.New("HTTP addr is empty")
	}
	if c.Auth.Secret == "" {
		return errors.New("JWT_SECRET is empty")
	}
	if c.Env != "dev" && c.Auth.Secret == "dev-secret-change-me" {
		return fmt.Errorf("refuse to run with default JWT_SECRET in %s", c.Env)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("unsupported LOG_FORMAT=%q (want text|json)", c.Log.Format)
	}
	if c.Game.RakePercent < 0 || c.Game.RakePercent > 100 {
		return fmt.Errorf("RAKE_PERCENT=%d out of range", c.Game.RakePercent)
	}
	if c.Game.GracePeriod < 0 || c.Game.BetTTL <= 0 {
		return errors.New("game timings must be positive")
	}
	if c.Postgres.RunMigrations && c.Postgres.URL == "" {
		return errors.New("RUN_MIGRATIONS needs DATABASE_URL")
	}
	if c.Snapshot.Path == "" && c.Redis.Addr == "" {
		return errors.New("need SNAPSHOT_PATH or REDIS_ADDR for persistence")
	}
	return nil
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err == nil {
			return d
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}
