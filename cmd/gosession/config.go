package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	goSession "github.com/MrEthical07/goSession"
	"github.com/MrEthical07/goSession/internal/db"
	"github.com/MrEthical07/goSession/password"
)

// Environment overrides, read after the dotenv file is loaded.
const (
	envRedisAddr = "GOSESSION_REDIS_ADDR"
	envDBDSN     = "GOSESSION_DB_DSN"
	envDebug     = "GOSESSION_DEBUG"
)

type serverConfig struct {
	Listen string `toml:"listen"`
	// MetricsPath is served on the main listener; empty disables it.
	MetricsPath string `toml:"metrics_path"`
	// APIPrefix is where the login, logout and boot handlers are mounted.
	APIPrefix string `toml:"api_prefix"`
}

type redisConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
}

type databaseConfig struct {
	Driver string `toml:"driver"`
	DSN    string `toml:"dsn"`
	// AutoMigrate applies pending migrations on serve.
	AutoMigrate bool `toml:"auto_migrate"`
}

// fileConfig is the layout of the TOML file.
type fileConfig struct {
	Server   serverConfig     `toml:"server"`
	Redis    redisConfig      `toml:"redis"`
	Database databaseConfig   `toml:"database"`
	Password password.Config  `toml:"password"`
	Engine   goSession.Config `toml:"engine"`
}

func defaultFileConfig() fileConfig {
	return fileConfig{
		Server: serverConfig{
			Listen:      ":8080",
			MetricsPath: "/metrics",
			APIPrefix:   "/api",
		},
		Redis: redisConfig{Addr: "127.0.0.1:6379"},
		Database: databaseConfig{
			Driver:      db.DriverSQLite,
			DSN:         "gosession.db",
			AutoMigrate: true,
		},
		Password: password.DefaultConfig(),
		Engine:   goSession.DefaultConfig(),
	}
}

// loadConfig layers the TOML file and the environment over the defaults.
func loadConfig(path, envFile string) (fileConfig, error) {
	cfg := defaultFileConfig()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("decode config %s: %w", path, err)
		}
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return cfg, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}

	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *fileConfig) error {
	if v := strings.TrimSpace(os.Getenv(envRedisAddr)); v != "" {
		cfg.Redis.Addr = v
	}
	if v := strings.TrimSpace(os.Getenv(envDBDSN)); v != "" {
		cfg.Database.DSN = v
	}
	if v := strings.TrimSpace(os.Getenv(envDebug)); v != "" {
		debug, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", envDebug, err)
		}
		cfg.Engine.Debug = debug
	}
	return nil
}

func (c *fileConfig) validate() error {
	if c.Server.Listen == "" {
		return errors.New("server listen address required")
	}
	if c.Redis.Addr == "" {
		return errors.New("redis address required")
	}
	if c.Database.DSN == "" {
		return errors.New("database dsn required")
	}
	if c.Database.Driver != db.DriverSQLite && c.Database.Driver != db.DriverPostgres {
		return fmt.Errorf("%w: %q", db.ErrUnsupportedDriver, c.Database.Driver)
	}
	if err := c.Engine.Validate(); err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	return nil
}
