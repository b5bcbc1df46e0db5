package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/nkiryanov/jwtrefresh/internal/logger"
)

const (
	defaultListenAddr   = "localhost:8000"
	defaultLoggingLevel = logger.LevelInfo
	defaultEnvironment  = logger.EnvProd
	defaultAccessTTL    = 3600   // seconds
	defaultRefreshTTL   = 604800 // seconds
	defaultSweepPeriod  = 3600   // seconds
)

type Config struct {
	// Default logging level
	LogLevel string

	// Address on which the service will be run
	ListenAddr string

	// Database to connect to. In-memory storage is used if empty
	DatabaseDSN string

	// Redis to keep refresh token ledger in. Ledger stays in the main storage if empty
	RedisAddr     string
	RedisPassword string

	// Keys to sign access and refresh tokens. Both required and must differ
	SecretKey        string
	RefreshSecretKey string

	// Token lifetimes in seconds
	AccessTTL  int
	RefreshTTL int

	// Period of expired refresh token cleanup in seconds. Zero disables cleanup
	SweepInterval int

	// Environment
	Environment string
}

func NewConfig() *Config {
	return &Config{
		LogLevel:    defaultLoggingLevel,
		ListenAddr:  defaultListenAddr,
		Environment: defaultEnvironment,
		AccessTTL:   defaultAccessTTL,
		RefreshTTL:  defaultRefreshTTL,

		SweepInterval: defaultSweepPeriod,
	}
}

func (c *Config) AccessTTLDuration() time.Duration {
	return time.Duration(c.AccessTTL) * time.Second
}

func (c *Config) RefreshTTLDuration() time.Duration {
	return time.Duration(c.RefreshTTL) * time.Second
}

func (c *Config) SweepIntervalDuration() time.Duration {
	return time.Duration(c.SweepInterval) * time.Second
}

// Values of yaml config file
type fileConfig struct {
	Environment string `mapstructure:"environment"`
	Server      struct {
		Address string `mapstructure:"address"`
	} `mapstructure:"server"`
	Database struct {
		URI string `mapstructure:"uri"`
	} `mapstructure:"database"`
	Redis struct {
		Address  string `mapstructure:"address"`
		Password string `mapstructure:"password"`
	} `mapstructure:"redis"`
	JWT struct {
		SecretKey              string `mapstructure:"secret_key"`
		RefreshSecretKey       string `mapstructure:"refresh_secret_key"`
		AccessTokenExpiration  int    `mapstructure:"access_token_expiration"`
		RefreshTokenExpiration int    `mapstructure:"refresh_token_expiration"`
		SweepInterval          *int   `mapstructure:"sweep_interval"`
	} `mapstructure:"jwt"`
	Log struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"log"`
}

// Load options from yaml config file. Empty values are ignored,
// except sweep interval where explicit zero disables cleanup
func (c *Config) LoadFile(path string) error {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file. Err: %w", err)
	}

	var fc fileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return fmt.Errorf("unable to decode config file. Err: %w", err)
	}

	setString := func(o *string, value string) {
		if value != "" {
			*o = value
		}
	}
	setInt := func(o *int, value int) {
		if value != 0 {
			*o = value
		}
	}

	setString(&c.Environment, fc.Environment)
	setString(&c.ListenAddr, fc.Server.Address)
	setString(&c.DatabaseDSN, fc.Database.URI)
	setString(&c.RedisAddr, fc.Redis.Address)
	setString(&c.RedisPassword, fc.Redis.Password)
	setString(&c.SecretKey, fc.JWT.SecretKey)
	setString(&c.RefreshSecretKey, fc.JWT.RefreshSecretKey)
	setInt(&c.AccessTTL, fc.JWT.AccessTokenExpiration)
	setInt(&c.RefreshTTL, fc.JWT.RefreshTokenExpiration)
	if fc.JWT.SweepInterval != nil {
		c.SweepInterval = *fc.JWT.SweepInterval
	}
	setString(&c.LogLevel, fc.Log.Level)

	return nil
}

// Load variable from '.env' file (should be located at working directory)
func (c *Config) LoadDotEnv(getwd func() (string, error)) error {
	wd, err := getwd()
	if err != nil {
		return err
	}

	envMap, err := godotenv.Read(filepath.Join(wd, ".env"))

	switch {
	case err == nil:
		return c.LoadEnv(func(key string) string {
			return envMap[key]
		})
	case errors.Is(err, os.ErrNotExist):
		return nil
	default:
		return err
	}
}

func (c *Config) LoadEnv(getenv func(string) string) error {
	// Set option to value if it not empty
	setString := func(o *string) func(value string) error {
		return func(value string) error {
			if value != "" {
				*o = value
			}
			return nil
		}
	}
	setSeconds := func(o *int) func(value string) error {
		return func(value string) error {
			if value == "" {
				return nil
			}
			n, err := strconv.Atoi(value)
			if err != nil {
				return err
			}
			*o = n
			return nil
		}
	}

	envMap := map[string]func(string) error{
		"RUN_ADDRESS":                  setString(&c.ListenAddr),
		"DATABASE_URI":                 setString(&c.DatabaseDSN),
		"REDIS_ADDRESS":                setString(&c.RedisAddr),
		"REDIS_PASSWORD":               setString(&c.RedisPassword),
		"JWT_SECRET_KEY":               setString(&c.SecretKey),
		"JWT_REFRESH_SECRET_KEY":       setString(&c.RefreshSecretKey),
		"JWT_ACCESS_TOKEN_EXPIRATION":  setSeconds(&c.AccessTTL),
		"JWT_REFRESH_TOKEN_EXPIRATION": setSeconds(&c.RefreshTTL),
		"JWT_SWEEP_INTERVAL":           setSeconds(&c.SweepInterval),
		"LOG_LEVEL":                    setString(&c.LogLevel),
		"ENVIRONMENT":                  setString(&c.Environment),
	}

	for key, parseFn := range envMap {
		if err := parseFn(getenv(key)); err != nil {
			return fmt.Errorf("invalid value of %s. Err: %w", key, err)
		}
	}

	return nil
}

func (c *Config) ParseFlags(args []string) error {
	fs := pflag.NewFlagSet("jwtrefresh", pflag.ContinueOnError)

	fs.String("config", "", "Path to yaml config file")
	fs.StringVarP(&c.ListenAddr, "address", "a", c.ListenAddr, "Server listen address")
	fs.StringVarP(&c.DatabaseDSN, "database", "d", c.DatabaseDSN, "Database connection string")
	fs.StringVar(&c.RedisAddr, "redis", c.RedisAddr, "Redis address to keep refresh tokens in")
	fs.StringVarP(&c.SecretKey, "secret-key", "s", c.SecretKey, "Secret key to sign access tokens")
	fs.StringVar(&c.RefreshSecretKey, "refresh-secret-key", c.RefreshSecretKey, "Secret key to sign refresh tokens")
	fs.IntVar(&c.AccessTTL, "access-ttl", c.AccessTTL, "Access token lifetime, seconds")
	fs.IntVar(&c.RefreshTTL, "refresh-ttl", c.RefreshTTL, "Refresh token lifetime, seconds")
	fs.IntVar(&c.SweepInterval, "sweep-interval", c.SweepInterval, "Expired refresh tokens cleanup period, seconds (0 disables)")
	fs.StringVarP(&c.LogLevel, "log-level", "l", c.LogLevel, "Logging level (debug, info, warn, error)")
	fs.StringVarP(&c.Environment, "environment", "e", c.Environment, "Environment (dev, prod)")

	return fs.Parse(args)
}

// Config file path has to be known before other flags are parsed
func configFileFromArgs(args []string) (string, error) {
	fs := pflag.NewFlagSet("jwtrefresh-config", pflag.ContinueOnError)
	fs.ParseErrorsWhitelist.UnknownFlags = true
	fs.Usage = func() {}

	path := fs.String("config", "", "")
	if err := fs.Parse(args); err != nil && !errors.Is(err, pflag.ErrHelp) {
		return "", err
	}

	return *path, nil
}

// Load config: defaults, config file, '.env', environment, flags. Later wins
func LoadConfig(getenv func(string) string, getwd func() (string, error), args []string) (*Config, error) {
	c := NewConfig()

	path, err := configFileFromArgs(args)
	if err != nil {
		return nil, err
	}
	if path != "" {
		if err := c.LoadFile(path); err != nil {
			return nil, err
		}
	}

	if err := c.LoadDotEnv(getwd); err != nil {
		return nil, fmt.Errorf("error loading .env. Err: %w", err)
	}
	if err := c.LoadEnv(getenv); err != nil {
		return nil, err
	}
	if err := c.ParseFlags(args); err != nil {
		return nil, err
	}

	if c.AccessTTL <= 0 || c.RefreshTTL <= 0 {
		return nil, errors.New("token lifetimes must be positive")
	}
	if c.SweepInterval < 0 {
		return nil, errors.New("sweep interval must not be negative")
	}

	return c, nil
}
