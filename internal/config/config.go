package config

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

type Config struct {
	// Leave RedisHost empty to run without Redis: the bid rate limiter
	// falls back to the ledger and deadline enforcement to the sweep.
	RedisHost string `env:"REDIS_HOST" envDefault:""`
	RedisPort uint16 `env:"REDIS_PORT" envDefault:"6379" validate:"min=1000,max=65535"`

	PostgresHost     string `env:"POSTGRES_HOST"     envDefault:"localhost"`
	PostgresPort     string `env:"POSTGRES_PORT"     envDefault:"5432"`
	PostgresUser     string `env:"POSTGRES_USER"     envDefault:"market_user"`
	PostgresPassword string `env:"POSTGRES_PASSWORD" envDefault:"market_password"`
	PostgresDb       string `env:"POSTGRES_DB"       envDefault:"market_db"`

	PaymentWindow time.Duration `env:"PAYMENT_WINDOW"  envDefault:"30m"`
	BidRateWindow time.Duration `env:"BID_RATE_WINDOW" envDefault:"2s"`

	SweepInterval time.Duration `env:"SWEEP_INTERVAL" envDefault:"30s"`
	SweepWorkers  int           `env:"SWEEP_WORKERS"  envDefault:"4" validate:"min=1,max=64"`

	HttpServerPort uint16 `env:"HTTP_SERVER_PORT" envDefault:"8085" validate:"min=1000,max=65535"`
}

func LoadConfig() (*Config, error) {
	// Load environment variables from .env file
	err := godotenv.Load(".env")
	if err != nil {
		zap.L().Debug(".env file not found", zap.Error(err))
	}

	cfg := &Config{}
	// Parse config from environment variables
	if err = env.Parse(cfg); err != nil {
		zap.L().Error("config_load_failed", zap.Error(err))
		return nil, err
	}

	// Validate the config
	validate := validator.New()
	err = validate.Struct(cfg)
	if err != nil {
		zap.L().Error("config_validation_failed", zap.Error(err))
		return nil, err
	}
	return cfg, nil
}
