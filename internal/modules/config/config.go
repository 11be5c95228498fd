package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

const (
	configFilePathENV = "CONFIG_FILE"
	tokenTelegramENV  = "TELEGRAM_TOKEN"
	databaseDSN       = "DATABASE_DSN"
)

// Config ...
type Config struct {
	Telegram struct {
		Token  string `yaml:"token"`
		ChatID int64  `yaml:"chat_id"`
	} `yaml:"telegram"`
	DB      string `yaml:"db_dsn"`
	Service struct {
		Host       string `yaml:"host"`
		PublicPort int    `yaml:"public_port"`
		AdminPort  int    `yaml:"admin_port"`
	} `yaml:"service"`
	Jaeger struct {
		Host string `yaml:"host"`
		Port int    `yaml:"port"`
	} `yaml:"jaeger"`

	// Маркет-дата гейтвей
	FeedURL          string        `yaml:"feed_url"`
	FeedPingInterval time.Duration `yaml:"feed_ping_interval"`
	// Общий бюджет фидовых линий на процесс
	MaxSubscriptions int `yaml:"max_subscriptions"`

	// Гардиан
	// Как часто дёргаем evaluate() по всем активным позициям
	EvalInterval time.Duration `yaml:"eval_interval"`
	// Старше этого котировку не считаем — тик пропускается
	StaleQuote    time.Duration `yaml:"stale_quote"`
	DefaultPreset string        `yaml:"default_preset"`
	StorePath     string        `yaml:"store_path"`

	// Распределённый лок раннера
	LockName          string        `yaml:"lock_name"`
	LockTTL           time.Duration `yaml:"lock_ttl"`
	LockRenewInterval time.Duration `yaml:"lock_renew_interval"`
}

func NewConfig() (*Config, error) {

	configFileName := os.Getenv(configFilePathENV)
	if configFileName == "" {
		configFileName = "values_local.yaml"
	}
	file, err := os.Open("configs/" + configFileName)
	if err != nil {
		log.Fatalf("Failed to open config file: %v", err)
	}

	defer func() {
		_ = file.Close()
	}()

	decoder := yaml.NewDecoder(file)
	config := Config{
		FeedURL:          getenvDefault("FEED_URL", "ws://localhost:7497/feed"),
		FeedPingInterval: durationFromEnv("FEED_PING_INTERVAL", "20s"),
		MaxSubscriptions: intFromEnv("MAX_SUBSCRIPTIONS", 95),

		EvalInterval:  durationFromEnv("EVAL_INTERVAL", "100ms"),
		StaleQuote:    durationFromEnv("STALE_QUOTE", "10s"),
		DefaultPreset: getenvDefault("DEFAULT_PRESET", "mid"),
		StorePath:     getenvDefault("STORE_PATH", "data/positions.json"),

		LockName:          getenvDefault("LOCK_NAME", "guardian-runner"),
		LockTTL:           durationFromEnv("LOCK_TTL", "60s"),
		LockRenewInterval: durationFromEnv("LOCK_RENEW_INTERVAL", "20s"),
	}
	err = decoder.Decode(&config)
	if err != nil {
		log.Fatalf("Failed to decode config file: %v", err)
	}

	token := os.Getenv(tokenTelegramENV)
	if token != "" {
		config.Telegram.Token = token
	}

	dsn := os.Getenv(databaseDSN)
	if dsn != "" {
		config.DB = dsn
	}

	return &config, nil
}

func intFromEnv(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func durationFromEnv(key, def string) time.Duration {
	val := getenvDefault(key, def)
	d, err := time.ParseDuration(val)
	if err != nil {
		d, _ = time.ParseDuration(def)
	}
	return d
}
