package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig
	Storage    StorageConfig
	Redis      RedisConfig
	Auth       AuthConfig
	Upload     UploadConfig
	Pagination PaginationConfig
	Import     ImportConfig
	RateLimit  RateLimitConfig
	Logging    LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  int
	WriteTimeout int
	CORSOrigins  string
}

type StorageConfig struct {
	Path string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	StatsTTL int
}

type AuthConfig struct {
	JWKSURL       string
	WebhookSecret string
}

type UploadConfig struct {
	MaxBytes int
}

type PaginationConfig struct {
	DefaultPageSize int
	MaxPageSize     int
}

type ImportConfig struct {
	StrictNumbers bool
}

type RateLimitConfig struct {
	RequestsPerMinute int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/opencoding")

	viper.SetEnvPrefix("OPENCODING")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

// CORSOriginList splits the comma-separated origins setting into a clean slice.
func (c *ServerConfig) CORSOriginList() []string {
	var origins []string
	for _, o := range strings.Split(c.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.readTimeout", 30)
	viper.SetDefault("server.writeTimeout", 30)
	viper.SetDefault("server.corsOrigins", "http://localhost:5173,http://localhost:5174")

	viper.SetDefault("storage.path", "./data/opencoding.db")

	viper.SetDefault("redis.addr", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.statsTTL", 60)

	viper.SetDefault("auth.jwksURL", "")
	viper.SetDefault("auth.webhookSecret", "")

	viper.SetDefault("upload.maxBytes", 10*1024*1024)

	viper.SetDefault("pagination.defaultPageSize", 50)
	viper.SetDefault("pagination.maxPageSize", 100)

	viper.SetDefault("import.strictNumbers", false)

	viper.SetDefault("ratelimit.requestsPerMinute", 120)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.outputPath", "stdout")
}
