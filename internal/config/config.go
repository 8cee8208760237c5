package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port                   string
	AllowedOrigin          string
	DatabaseURL            string
	AutoMigrate            bool
	RedisAddr              string
	RedisPassword          string
	RedisDB                int
	AuthSecret             string
	AccessTokenTTLMinutes  int
	ManagerPIN             string
	SettlementBaseURL      string
	SettlementSecret       string
	SettlementPollInterval time.Duration
	SettlementCacheTTL     time.Duration
	PaymentWaitTimeout     time.Duration
	SweepSchedule          string
	EmptyOrderMaxAge       time.Duration
}

// LoadDotEnv reads KEY=value pairs from path into the environment without
// overriding variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); err != nil {
		return
	}
	if err := godotenv.Load(path); err != nil {
		log.Printf("[config] WARN: failed to load %s: %v", path, err)
	}
}

func Load() Config {
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	tokenTTL := getInt("ACCESS_TOKEN_TTL_MINUTES", 480)

	cfg := Config{
		Port:                   getEnv("PORT", "8080"),
		AllowedOrigin:          getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:            os.Getenv("DATABASE_URL"),
		AutoMigrate:            getBool("AUTO_MIGRATE", true),
		RedisAddr:              os.Getenv("REDIS_ADDR"),
		RedisPassword:          os.Getenv("REDIS_PASSWORD"),
		RedisDB:                redisDB,
		AuthSecret:             strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes:  tokenTTL,
		ManagerPIN:             strings.TrimSpace(os.Getenv("MANAGER_PIN")),
		SettlementBaseURL:      strings.TrimRight(strings.TrimSpace(os.Getenv("SETTLEMENT_BASE_URL")), "/"),
		SettlementSecret:       strings.TrimSpace(os.Getenv("SETTLEMENT_WEBHOOK_SECRET")),
		SettlementPollInterval: time.Duration(getInt("SETTLEMENT_POLL_INTERVAL_MS", 2000)) * time.Millisecond,
		SettlementCacheTTL:     time.Duration(getInt("SETTLEMENT_CACHE_TTL_MS", 30000)) * time.Millisecond,
		PaymentWaitTimeout:     time.Duration(getInt("PAYMENT_WAIT_TIMEOUT_SECONDS", 120)) * time.Second,
		SweepSchedule:          getEnv("EMPTY_ORDER_SWEEP_SCHEDULE", "@every 5m"),
		EmptyOrderMaxAge:       time.Duration(getInt("EMPTY_ORDER_MAX_AGE_MINUTES", 30)) * time.Minute,
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

// getInt falls back on unset, malformed and non-positive values.
func getInt(key string, fallback int) int {
	val, err := strconv.Atoi(getEnv(key, strconv.Itoa(fallback)))
	if err != nil || val < 1 {
		return fallback
	}
	return val
}

func getBool(key string, fallback bool) bool {
	val, err := strconv.ParseBool(getEnv(key, strconv.FormatBool(fallback)))
	if err != nil {
		return fallback
	}
	return val
}
