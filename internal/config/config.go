package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Поддерживаемые хранилища
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

type Config struct {
	App       AppConfig
	Storage   StorageConfig
	DB        DBConfig
	Redis     RedisConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	DeepLink  DeepLinkConfig
}

type AppConfig struct {
	Port    string
	BaseURL string
}

type StorageConfig struct {
	Backend       string
	SweepInterval time.Duration
}

type DBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

type AuthConfig struct {
	APIKeys map[string]string // API key -> name/description
}

type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
}

// DeepLinkConfig описывает мобильные приложения, на которые ведут ссылки
type DeepLinkConfig struct {
	IOSAppID                  string
	IOSTeamID                 string
	IOSBundleID               string
	IOSAppScheme              string
	AndroidPackageName        string
	AndroidAppScheme          string
	AndroidSHA256Fingerprints []string
	FallbackTimeout           time.Duration
	PendingLinkTTL            time.Duration
}

// Load читает конфигурацию из .env (если файл есть) и переменных окружения
func Load() (*Config, error) {
	return LoadFile(".env")
}

// LoadFile то же самое, что Load, но с явным путём к файлу
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("env")
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var pathErr *fs.PathError
		if !errors.As(err, &pathErr) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Файла нет - работаем только на переменных окружения
	}

	var cfg Config
	cfg.App.Port = v.GetString("APP_PORT")
	cfg.App.BaseURL = strings.TrimRight(v.GetString("APP_BASE_URL"), "/")

	cfg.Storage.Backend = strings.ToLower(strings.TrimSpace(v.GetString("STORAGE_BACKEND")))
	cfg.Storage.SweepInterval = v.GetDuration("SWEEP_INTERVAL")

	cfg.DB.Host = v.GetString("DB_HOST")
	cfg.DB.Port = v.GetString("DB_PORT")
	cfg.DB.User = v.GetString("DB_USER")
	cfg.DB.Password = v.GetString("DB_PASSWORD")
	cfg.DB.Name = v.GetString("DB_NAME")

	cfg.Redis.Host = v.GetString("REDIS_HOST")
	cfg.Redis.Port = v.GetString("REDIS_PORT")
	cfg.Redis.Password = v.GetString("REDIS_PASSWORD")
	cfg.Redis.DB = v.GetInt("REDIS_DB")

	// Format: key1:name1,key2:name2
	cfg.Auth.APIKeys = parseAPIKeys(v.GetString("API_KEYS"))

	cfg.RateLimit.RequestsPerSecond = v.GetFloat64("RATE_LIMIT_RPS")
	cfg.RateLimit.BurstSize = v.GetInt("RATE_LIMIT_BURST")

	cfg.DeepLink.IOSAppID = v.GetString("IOS_APP_ID")
	cfg.DeepLink.IOSTeamID = v.GetString("IOS_TEAM_ID")
	cfg.DeepLink.IOSBundleID = v.GetString("IOS_BUNDLE_ID")
	cfg.DeepLink.IOSAppScheme = v.GetString("IOS_APP_SCHEME")
	cfg.DeepLink.AndroidPackageName = v.GetString("ANDROID_PACKAGE_NAME")
	cfg.DeepLink.AndroidAppScheme = v.GetString("ANDROID_APP_SCHEME")
	cfg.DeepLink.AndroidSHA256Fingerprints = parseList(v.GetString("ANDROID_SHA256_FINGERPRINTS"))
	cfg.DeepLink.FallbackTimeout = time.Duration(v.GetInt("FALLBACK_TIMEOUT_MS")) * time.Millisecond
	cfg.DeepLink.PendingLinkTTL = v.GetDuration("PENDING_LINK_TTL")

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_PORT", "8080")
	v.SetDefault("APP_BASE_URL", "http://localhost:8080")
	v.SetDefault("STORAGE_BACKEND", BackendMemory)
	v.SetDefault("SWEEP_INTERVAL", time.Minute)
	v.SetDefault("REDIS_PORT", "6379")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("RATE_LIMIT_RPS", 10)
	v.SetDefault("RATE_LIMIT_BURST", 20)
	v.SetDefault("FALLBACK_TIMEOUT_MS", 2500)
	v.SetDefault("PENDING_LINK_TTL", 7*24*time.Hour)
}

func (c *Config) validate() error {
	switch c.Storage.Backend {
	case BackendMemory, BackendRedis, BackendPostgres:
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if c.DeepLink.PendingLinkTTL <= 0 {
		return fmt.Errorf("PENDING_LINK_TTL must be positive, got %s", c.DeepLink.PendingLinkTTL)
	}
	if c.Storage.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be positive, got %s", c.Storage.SweepInterval)
	}
	return nil
}

// parseAPIKeys parses comma-separated API keys in format "key1:name1,key2:name2"
func parseAPIKeys(raw string) map[string]string {
	keys := make(map[string]string)
	if raw == "" {
		return keys
	}

	pairs := strings.Split(raw, ",")
	for _, pair := range pairs {
		parts := strings.SplitN(strings.TrimSpace(pair), ":", 2)
		if len(parts) == 2 {
			keys[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
		}
	}

	return keys
}

// parseList разбирает список через запятую, пропуская пустые элементы
func parseList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
