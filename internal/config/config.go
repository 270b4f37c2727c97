package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all runtime configuration for the service. It is loaded once
// in main and passed explicitly to every component that needs it.
type Config struct {
	App struct {
		Port    string `mapstructure:"port"`
		Env     string `mapstructure:"env"`
		BaseURL string `mapstructure:"baseUrl"`
	} `mapstructure:"app"`
	Database struct {
		DSN string `mapstructure:"dsn"`
	} `mapstructure:"database"`
	Redis struct {
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
	} `mapstructure:"redis"`
	Kafka struct {
		Brokers []string `mapstructure:"brokers"`
		Topic   string   `mapstructure:"topic"`
	} `mapstructure:"kafka"`
	Stripe struct {
		APIKey        string `mapstructure:"apiKey"`
		WebhookSecret string `mapstructure:"webhookSecret"`
		TestClockID   string `mapstructure:"testClockId"`
	} `mapstructure:"stripe"`
	Auth struct {
		JWTSecret string `mapstructure:"jwtSecret"`
	} `mapstructure:"auth"`
}

// IsProduction reports whether the service runs in the production environment.
// Test clocks are only attached to Stripe customers outside production.
func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}

// LoadConfig loads configuration from config.yml and the environment.
func LoadConfig(envPath string) (*Config, error) {
	if os.Getenv("APP_ENV") != "production" {
		if err := godotenv.Load(envPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load env file: %w", err)
		}
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")

	// Nested keys map to env vars with the dots replaced, e.g. database.dsn
	// is read from DATABASE_DSN.
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		// Config file is optional, environment variables can carry everything
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// setDefaults registers every key. Keys defaulting to the zero value are
// listed anyway: Unmarshal only walks known keys, so an unregistered key
// could not be set through the environment.
func setDefaults() {
	viper.SetDefault("app.port", "8080")
	viper.SetDefault("app.env", "development")
	viper.SetDefault("app.baseUrl", "http://localhost:3000")
	viper.SetDefault("database.dsn", "")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("kafka.brokers", []string{})
	viper.SetDefault("kafka.topic", "billing.events")
	viper.SetDefault("stripe.apiKey", "")
	viper.SetDefault("stripe.webhookSecret", "")
	viper.SetDefault("stripe.testClockId", "")
	viper.SetDefault("auth.jwtSecret", "")
}
