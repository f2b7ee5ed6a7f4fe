// Package config loads server settings from a YAML file or the environment.
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

const (
	EnvLocal = "local"
	EnvDev   = "dev"
	EnvProd  = "prod"
)

type Config struct {
	Env        string     `yaml:"env" env:"PCP_ENV" env-default:"local"`
	HTTPServer HTTPServer `yaml:"http_server"`
	Storage    Storage    `yaml:"storage"`
	Engine     Engine     `yaml:"engine"`
	Approval   Approval   `yaml:"approval"`
	CORS       CORS       `yaml:"cors"`
}

type HTTPServer struct {
	Address     string        `yaml:"address" env:"PCP_HTTP_ADDRESS" env-default:"localhost:8080"`
	Timeout     time.Duration `yaml:"timeout" env:"PCP_HTTP_TIMEOUT" env-default:"10s"`
	IdleTimeout time.Duration `yaml:"idle_timeout" env:"PCP_HTTP_IDLE_TIMEOUT" env-default:"60s"`
}

type Storage struct {
	Driver     string `yaml:"driver" env:"PCP_STORAGE_DRIVER" env-default:"sqlite"`
	SQLitePath string `yaml:"sqlite_path" env:"PCP_SQLITE_PATH" env-default:"./data/pcp.db"`
	MySQL      MySQL  `yaml:"mysql"`
}

type MySQL struct {
	Host     string `yaml:"host" env:"PCP_MYSQL_HOST" env-default:"localhost"`
	Port     int    `yaml:"port" env:"PCP_MYSQL_PORT" env-default:"3306"`
	User     string `yaml:"user" env:"PCP_MYSQL_USER"`
	Password string `yaml:"password" env:"PCP_MYSQL_PASSWORD"`
	Database string `yaml:"database" env:"PCP_MYSQL_DATABASE" env-default:"pcp"`
}

type Engine struct {
	LookaheadDays int `yaml:"lookahead_days" env:"PCP_LOOKAHEAD_DAYS" env-default:"60"`
	RetryAttempts int `yaml:"retry_attempts" env:"PCP_RETRY_ATTEMPTS" env-default:"3"`
}

type Approval struct {
	QueueSize     int           `yaml:"queue_size" env:"PCP_APPROVAL_QUEUE_SIZE" env-default:"256"`
	SweepInterval time.Duration `yaml:"sweep_interval" env:"PCP_APPROVAL_SWEEP_INTERVAL" env-default:"1m"`
}

type CORS struct {
	AllowedOrigins []string `yaml:"allowed_origins" env:"PCP_CORS_ORIGINS" env-separator:"," env-default:"http://localhost:3000,http://localhost:5173"`
}

// Load reads path, or the environment alone when path is empty. A .env
// file in the working directory is loaded first if present.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	var cfg Config
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("read environment: %w", err)
		}
	} else {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// MustLoad is Load that exits on error.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		log.Fatalf("cannot read config: %s", err)
	}
	return cfg
}

func (c *Config) Validate() error {
	switch c.Env {
	case EnvLocal, EnvDev, EnvProd:
	default:
		return fmt.Errorf("env: unknown environment %q", c.Env)
	}
	switch c.Storage.Driver {
	case "sqlite":
		if c.Storage.SQLitePath == "" {
			return errors.New("storage.sqlite_path is required")
		}
	case "mysql":
		if c.Storage.MySQL.User == "" {
			return errors.New("storage.mysql.user is required")
		}
	default:
		return fmt.Errorf("storage.driver: unsupported driver %q", c.Storage.Driver)
	}
	if c.Engine.LookaheadDays < 1 {
		return errors.New("engine.lookahead_days must be positive")
	}
	if c.Engine.RetryAttempts < 1 {
		return errors.New("engine.retry_attempts must be positive")
	}
	if c.Approval.QueueSize < 1 {
		return errors.New("approval.queue_size must be positive")
	}
	if c.Approval.SweepInterval <= 0 {
		return errors.New("approval.sweep_interval must be positive")
	}
	return nil
}
