package config

import (
	"os"
	"strconv"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `json:"server" mapstructure:"server"`
	Database DatabaseConfig `json:"database" mapstructure:"database"`
	Backend  BackendConfig  `json:"backend" mapstructure:"backend"`
	Chat     ChatConfig     `json:"chat" mapstructure:"chat"`
	Auth     AuthConfig     `json:"auth" mapstructure:"auth"`
	Log      LogConfig      `json:"log" mapstructure:"log"`
}

type ServerConfig struct {
	Host string `json:"host" mapstructure:"host"`
	Port int    `json:"port" mapstructure:"port"`
}

type DatabaseConfig struct {
	Host         string `json:"host" mapstructure:"host"`
	Port         int    `json:"port" mapstructure:"port"`
	User         string `json:"user" mapstructure:"user"`
	Password     string `json:"password" mapstructure:"password"`
	Database     string `json:"database" mapstructure:"database"`
	SSLMode      string `json:"sslmode" mapstructure:"sslmode"`
	MaxOpenConns int    `json:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns int    `json:"max_idle_conns" mapstructure:"max_idle_conns"`
}

// BackendConfig configures the completion backend. TestMode selects the
// canned stub gateway at wiring time instead of the real client.
type BackendConfig struct {
	APIKey         string `json:"api_key" mapstructure:"api_key"`
	BaseURL        string `json:"base_url,omitempty" mapstructure:"base_url"`
	Model          string `json:"model" mapstructure:"model"`
	TimeoutSeconds int    `json:"timeout_seconds" mapstructure:"timeout_seconds"`
	TestMode       bool   `json:"test_mode" mapstructure:"test_mode"`
}

type ChatConfig struct {
	WindowSize        int `json:"window_size" mapstructure:"window_size"`
	CompressThreshold int `json:"compress_threshold" mapstructure:"compress_threshold"`
	CompressBatch     int `json:"compress_batch" mapstructure:"compress_batch"`
	DailyRequestLimit int `json:"daily_request_limit" mapstructure:"daily_request_limit"`
}

type AuthConfig struct {
	JWTSecret string `json:"jwt_secret" mapstructure:"jwt_secret"`
}

type LogConfig struct {
	Level  string `json:"level" mapstructure:"level"`
	Format string `json:"format" mapstructure:"format"`
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("json")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.SetDefault("server.host", "localhost")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "recall")
	viper.SetDefault("database.database", "recall")
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("backend.model", "gpt-4o-mini")
	viper.SetDefault("backend.timeout_seconds", 45)
	viper.SetDefault("chat.window_size", 20)
	viper.SetDefault("chat.compress_threshold", 30)
	viper.SetDefault("chat.compress_batch", 20)
	viper.SetDefault("chat.daily_request_limit", 50)
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "text")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	loadEnvOverrides(&cfg)

	return &cfg, nil
}

func loadEnvOverrides(cfg *Config) {
	if host := os.Getenv("RECALL_HOST"); host != "" {
		cfg.Server.Host = host
	}
	if port := os.Getenv("RECALL_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}

	if dbHost := os.Getenv("POSTGRES_HOST"); dbHost != "" {
		cfg.Database.Host = dbHost
	}
	if dbPort := os.Getenv("POSTGRES_PORT"); dbPort != "" {
		if p, err := strconv.Atoi(dbPort); err == nil {
			cfg.Database.Port = p
		}
	}
	if dbUser := os.Getenv("POSTGRES_USER"); dbUser != "" {
		cfg.Database.User = dbUser
	}
	if dbPass := os.Getenv("POSTGRES_PASSWORD"); dbPass != "" {
		cfg.Database.Password = dbPass
	}
	if dbName := os.Getenv("POSTGRES_DB"); dbName != "" {
		cfg.Database.Database = dbName
	}

	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		cfg.Backend.APIKey = key
	}
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		cfg.Backend.BaseURL = baseURL
	}
	if testMode := os.Getenv("RECALL_TEST_MODE"); testMode != "" {
		cfg.Backend.TestMode = testMode == "1" || testMode == "true"
	}

	if secret := os.Getenv("RECALL_JWT_SECRET"); secret != "" {
		cfg.Auth.JWTSecret = secret
	}
}
