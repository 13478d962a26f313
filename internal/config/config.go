// Package config loads runtime configuration from the environment, with an
// optional .env file for local development.
package config

import (
	"log"
	"time"

	"github.com/spf13/viper"
)

// Config holds all runtime settings.
type Config struct {
	DatabaseURL        string
	RedisAddr          string
	RedisPassword      string
	HTTPAddr           string
	LogLevel           string
	ModelName          string
	RetrainWindowDays  int
	VolumeThreshold    int64
	RetrainThreshold   float64
	ProductionCacheTTL time.Duration
}

// Load reads configuration from the environment.
func Load() *Config {
	viper.SetConfigFile(".env")
	viper.AutomaticEnv()

	viper.SetDefault("HTTP_ADDR", ":8085")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("MODEL_NAME", "churn_model")
	viper.SetDefault("RETRAIN_WINDOW_DAYS", 7)
	viper.SetDefault("VOLUME_THRESHOLD", 10000)
	viper.SetDefault("RETRAIN_THRESHOLD", 1.0)
	viper.SetDefault("PRODUCTION_CACHE_TTL_SECONDS", 300)

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("No config file found: %v", err)
	}

	return &Config{
		DatabaseURL:        viper.GetString("DB_URL"),
		RedisAddr:          viper.GetString("REDIS_ADDR"),
		RedisPassword:      viper.GetString("REDIS_PASSWORD"),
		HTTPAddr:           viper.GetString("HTTP_ADDR"),
		LogLevel:           viper.GetString("LOG_LEVEL"),
		ModelName:          viper.GetString("MODEL_NAME"),
		RetrainWindowDays:  viper.GetInt("RETRAIN_WINDOW_DAYS"),
		VolumeThreshold:    viper.GetInt64("VOLUME_THRESHOLD"),
		RetrainThreshold:   viper.GetFloat64("RETRAIN_THRESHOLD"),
		ProductionCacheTTL: time.Duration(viper.GetInt("PRODUCTION_CACHE_TTL_SECONDS")) * time.Second,
	}
}
