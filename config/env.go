package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Redis RedisConfig
	DB    DBConfig
	Auth  AuthConfig
	Pager PagerConfig
}

type DBConfig struct {
	DSN string
}

type AuthConfig struct {
	JWTSecret string
	TokenTTL  time.Duration
}

// PagerConfig controls the paginated stream windows served to clients.
type PagerConfig struct {
	SalesPageSize    int
	PaymentsPageSize int
	FetchTimeout     time.Duration
}

func LoadConfig() Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	salesPageSize, _ := strconv.Atoi(getEnv("SALES_PAGE_SIZE", "10"))
	paymentsPageSize, _ := strconv.Atoi(getEnv("PAYMENTS_PAGE_SIZE", "10"))
	fetchTimeoutSec, _ := strconv.Atoi(getEnv("FETCH_TIMEOUT_SECONDS", "15"))
	tokenTTLHours, _ := strconv.Atoi(getEnv("TOKEN_TTL_HOURS", "24"))

	return Config{
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		DB: DBConfig{
			DSN: getEnv("KHATA_DSN", ""),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", ""),
			TokenTTL:  time.Duration(tokenTTLHours) * time.Hour,
		},
		Pager: PagerConfig{
			SalesPageSize:    salesPageSize,
			PaymentsPageSize: paymentsPageSize,
			FetchTimeout:     time.Duration(fetchTimeoutSec) * time.Second,
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
