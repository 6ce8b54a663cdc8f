package cmd

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	app = "cv-matcher"
)

type Config struct {
	Listen         string          `mapstructure:"listen" validate:"required"`
	MaxUploadBytes int64           `mapstructure:"max-upload-bytes" validate:"gte=0"`
	RateLimit      RateLimitConfig `mapstructure:"rate-limit"`
	Redis          RedisConfig     `mapstructure:"redis"`
	Mongo          MongoConfig     `mapstructure:"mongo"`
	Auth           AuthConfig      `mapstructure:"auth"`
	Metrics        MetricsConfig   `mapstructure:"metrics"`
	AI             AIConfig        `mapstructure:"ai"`
}

type RateLimitConfig struct {
	DemoMax           int           `mapstructure:"demo-max" validate:"gte=0"`
	FreeMax           int           `mapstructure:"free-max" validate:"gte=0"`
	Window            time.Duration `mapstructure:"window" validate:"gte=1s"`
	KeyPrefix         string        `mapstructure:"key-prefix"`
	TrustForwardedFor bool          `mapstructure:"trust-forwarded-for"`
}

type RedisConfig struct {
	Addr         string `mapstructure:"addr" validate:"required"`
	Password     string `mapstructure:"password"`
	PasswordFile string `mapstructure:"password-file"`
	DB           int    `mapstructure:"db" validate:"gte=0"`
}

type MongoConfig struct {
	URI            string        `mapstructure:"uri"`
	URIFile        string        `mapstructure:"uri-file"`
	Database       string        `mapstructure:"database" validate:"required"`
	ArchiveTimeout time.Duration `mapstructure:"archive-timeout"`
}

type AuthConfig struct {
	Secret     string        `mapstructure:"secret"`
	SecretFile string        `mapstructure:"secret-file"`
	TokenTTL   time.Duration `mapstructure:"token-ttl" validate:"gte=1s"`
	// TokenExpireMinutes overrides TokenTTL when set.
	TokenExpireMinutes int `mapstructure:"token-expire-minutes" validate:"gte=0"`
}

type MetricsConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RuntimeCollectors bool `mapstructure:"runtime-collectors"`
}

type AIConfig struct {
	Provider string       `mapstructure:"provider"`
	Gemini   GeminiConfig `mapstructure:"gemini"`
}

type GeminiConfig struct {
	APIKey            string  `mapstructure:"api-key"`
	APIKeyFile        string  `mapstructure:"api-key-file"`
	Model             string  `mapstructure:"model"`
	MaxRetries        int     `mapstructure:"max-retries" validate:"gte=0"`
	RequestsPerSecond float64 `mapstructure:"requests-per-second" validate:"gte=0"`
	MaxLogLength      int     `mapstructure:"max-log-length" validate:"gte=0"`
}

// tokenTTL returns the access token lifetime.
func (c AuthConfig) tokenTTL() time.Duration {
	if c.TokenExpireMinutes > 0 {
		return time.Duration(c.TokenExpireMinutes) * time.Minute
	}
	return c.TokenTTL
}

var (
	// Used for flags.
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   app,
		Short: "cv-matcher scores CVs against job descriptions over an HTTP API",
	}
)

// envBindings maps config keys to the environment variables that override them.
var envBindings = map[string]string{
	"ai.gemini.api-key":         "GEMINI_API_KEY",
	"mongo.uri":                 "MONGO_URI",
	"auth.secret":               "SECRET_KEY",
	"auth.token-expire-minutes": "ACCESS_TOKEN_EXPIRE_MINUTES",
	"rate-limit.demo-max":       "MAX_REQUESTS",
	"rate-limit.free-max":       "MAX_REQUESTS_FREE",
	"redis.addr":                "REDIS_ADDR",
	"redis.password":            "REDIS_PASSWORD",
}

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	for key, env := range envBindings {
		if err := viper.BindEnv(key, env); err != nil {
			log.Fatalf("binding %s environment variable: %v", env, err)
		}
	}

	setDefaults()

	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "a config file (default is cv-matcher.yaml in current directory)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "verbose/debug output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "json format for logging")

	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func setDefaults() {
	viper.SetDefault("listen", ":8000")
	viper.SetDefault("max-upload-bytes", 32<<20)
	viper.SetDefault("rate-limit.demo-max", 3)
	viper.SetDefault("rate-limit.free-max", 7)
	viper.SetDefault("rate-limit.window", "24h")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("mongo.uri", "mongodb://localhost:27017")
	viper.SetDefault("mongo.database", "ATS_Test")
	viper.SetDefault("mongo.archive-timeout", "10s")
	viper.SetDefault("auth.token-ttl", "30m")
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("ai.provider", "gemini")
	viper.SetDefault("ai.gemini.max-retries", 3)
	viper.SetDefault("ai.gemini.max-log-length", 200)
}

func initConfig() {
	// Config needed only for serve command. Every key has a default or an
	// environment variable, so a missing default config file is fine.
	if serveCmd.CalledAs() == "" {
		return
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName(app)
		viper.SetConfigType("yaml")
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile == "" && errors.As(err, &notFound) {
			return
		}
		// We can't proceed if the config file parsed with error.
		log.Fatal(err)
	}
}

func getConfig() (*Config, error) {
	var config *Config
	err := viper.Unmarshal(&config)
	if err != nil {
		return config, err
	}

	if err := validator.New().Struct(config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return config, nil
}
