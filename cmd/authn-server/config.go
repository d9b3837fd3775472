package main

import (
	"fmt"
	"os"
	"time"

	env "github.com/caarlos0/env/v11"
	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/joho/godotenv"
)

// ServerConfig holds the process settings that are not auth definitions.
type ServerConfig struct {
	Addr            string        `env:"ADDR" envDefault:":8080"`
	DBDriver        string        `env:"DB_DRIVER" envDefault:"sqlite"`
	DBDSN           string        `env:"DB_DSN" envDefault:"file:authn.db?cache=shared"`
	Migrate         bool          `env:"MIGRATE" envDefault:"true"`
	Debug           bool          `env:"DEBUG" envDefault:"false"`
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"10s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`
}

const serverEnvPrefix = "AUTHN_SERVER_"

// LoadServerConfig reads AUTHN_SERVER_* variables, loading files first
func LoadServerConfig(files ...string) (ServerConfig, error) {
	for _, file := range files {
		if _, err := os.Stat(file); err != nil {
			continue
		}
		if err := godotenv.Load(file); err != nil {
			return ServerConfig{}, fmt.Errorf("load env file %s: %w", file, err)
		}
	}

	var cfg ServerConfig
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: serverEnvPrefix}); err != nil {
		return cfg, fmt.Errorf("parse server config: %w", err)
	}

	return cfg, cfg.Validate()
}

// Validate checks the server settings
func (c ServerConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Addr, validation.Required),
		validation.Field(&c.DBDriver, validation.Required, validation.In(DriverSQLite, DriverPostgres, DriverPgx)),
		validation.Field(&c.DBDSN, validation.Required),
		validation.Field(&c.ShutdownTimeout, validation.Min(time.Second)),
	)
}
