package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	JWT          JWTConfig          `mapstructure:"jwt"`
	CORS         CORSConfig         `mapstructure:"cors"`
	Subscription SubscriptionConfig `mapstructure:"subscription"`
	Retrieval    RetrievalConfig    `mapstructure:"retrieval"`
	RateLimit    RateLimitConfig    `mapstructure:"rate_limit"`
	History      HistoryConfig      `mapstructure:"history"`
	Log          LogConfig          `mapstructure:"log"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
	// TrustedLocal 本地开发环境，跳过登录锁定
	TrustedLocal bool `mapstructure:"trusted_local"`
}

type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"` // mysql, sqlite
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	DSN          string `mapstructure:"dsn"` // sqlite 文件路径或完整 DSN
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type JWTConfig struct {
	Secret      string `mapstructure:"secret"`
	ExpireHours int    `mapstructure:"expire_hours"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
}

type SubscriptionConfig struct {
	DefaultPlan string                `mapstructure:"default_plan"`
	Plans       map[string]PlanConfig `mapstructure:"plans"`
}

type PlanConfig struct {
	DisplayName           string `mapstructure:"display_name"`
	MonthlyRequests       int    `mapstructure:"monthly_requests"`
	HistoryEnabled        bool   `mapstructure:"history_enabled"`
	BulkSearchMaxProfiles int    `mapstructure:"bulk_search_max_profiles"`
	MaxResultsPerProfile  int    `mapstructure:"max_results_per_profile"`
}

type RetrievalConfig struct {
	BaseURL        string            `mapstructure:"base_url"`
	Token          string            `mapstructure:"token"`
	TimeoutSeconds int               `mapstructure:"timeout_seconds"`
	Actors         map[string]string `mapstructure:"actors"` // platform -> 外部任务 ID
}

type RateLimitConfig struct {
	MaxAttempts    int `mapstructure:"max_attempts"`
	LockoutSeconds int `mapstructure:"lockout_seconds"`
	PollIntervalMS int `mapstructure:"poll_interval_ms"`
}

type HistoryConfig struct {
	RetentionDays int `mapstructure:"retention_days"`
	RecentLimit   int `mapstructure:"recent_limit"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json, console
}

// Default 返回一份可直接运行的默认配置（测试和本地开发使用）
func Default() *Config {
	return &Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 8080, Mode: "debug"},
		Database: DatabaseConfig{
			Driver:       "sqlite",
			DSN:          "viral.db",
			MaxIdleConns: 10,
			MaxOpenConns: 50,
		},
		Redis: RedisConfig{Host: "127.0.0.1", Port: 6379, PoolSize: 20},
		JWT:   JWTConfig{Secret: "change-me", ExpireHours: 72},
		CORS: CORSConfig{
			AllowedOrigins: []string{"http://localhost:3000"},
			AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Origin", "Content-Type", "Authorization"},
		},
		Subscription: SubscriptionConfig{DefaultPlan: "free"},
		Retrieval: RetrievalConfig{
			BaseURL:        "https://api.apify.com/v2",
			TimeoutSeconds: 60,
			Actors: map[string]string{
				"instagram": "apify~instagram-reel-scraper",
				"tiktok":    "clockworks~tiktok-scraper",
			},
		},
		RateLimit: RateLimitConfig{MaxAttempts: 5, LockoutSeconds: 60, PollIntervalMS: 1000},
		History:   HistoryConfig{RetentionDays: 7, RecentLimit: 5},
		Log:       LogConfig{Level: "info", Format: "json"},
	}
}

func Load(configPath string) (*Config, error) {
	// 优先尝试读取 config.local.yaml（包含真实密钥，不提交到git）
	dir := filepath.Dir(configPath)
	localConfigPath := filepath.Join(dir, "config.local.yaml")

	if _, err := os.Stat(localConfigPath); err == nil {
		configPath = localConfigPath
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	// 环境变量覆盖
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}
