package config

import (
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	AppName  string `mapstructure:"APP_NAME"`
	LogLevel string `mapstructure:"LOG_LEVEL"`

	HTTPPort string `mapstructure:"HTTP_PORT"`
	GRPCPort string `mapstructure:"GRPC_PORT"`

	MySQLDSN  string `mapstructure:"MYSQL_DSN"`
	RedisAddr string `mapstructure:"REDIS_ADDR"`

	// Reservation behavior
	ReserveMode   string `mapstructure:"RESERVE_MODE"`
	MaxRetries    int    `mapstructure:"MAX_RETRIES"`
	BackoffBaseMS int    `mapstructure:"BACKOFF_BASE_MS"`
	BackoffCapMS  int    `mapstructure:"BACKOFF_CAP_MS"`
	UseRedisGate  bool   `mapstructure:"USE_REDIS_GATE"`
	UseRedisLock  bool   `mapstructure:"USE_REDIS_LOCK"`

	QueueSize   int `mapstructure:"QUEUE_SIZE"`
	WorkerCount int `mapstructure:"WORKER_COUNT"`
}

func (c Config) BackoffBase() time.Duration {
	return time.Duration(c.BackoffBaseMS) * time.Millisecond
}

func (c Config) BackoffCap() time.Duration {
	return time.Duration(c.BackoffCapMS) * time.Millisecond
}

func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("app")
	viper.SetConfigType("env")

	viper.AutomaticEnv()

	viper.SetDefault("APP_NAME", "stock-ledger")
	viper.SetDefault("LOG_LEVEL", "info")

	viper.SetDefault("HTTP_PORT", ":8080")
	viper.SetDefault("GRPC_PORT", ":50051")

	viper.SetDefault("MYSQL_DSN", "root:root@tcp(localhost:3306)/stockledger?parseTime=true")
	viper.SetDefault("REDIS_ADDR", "localhost:6379")

	viper.SetDefault("RESERVE_MODE", "optimistic")
	viper.SetDefault("MAX_RETRIES", 3)
	viper.SetDefault("BACKOFF_BASE_MS", 10)
	viper.SetDefault("BACKOFF_CAP_MS", 200)
	viper.SetDefault("USE_REDIS_GATE", true)
	viper.SetDefault("USE_REDIS_LOCK", false)

	viper.SetDefault("QUEUE_SIZE", 10000)
	viper.SetDefault("WORKER_COUNT", 10)

	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Info().Msg("No config file found, using environment variables and defaults.")
			err = nil
		} else {
			log.Error().Err(err).Msg("Error reading config file")
			return
		}
	}

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	err = viper.Unmarshal(&config)
	return
}
