package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	Port                  string
	AllowedOrigin         string
	DatabaseURL           string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	AuthSecret            string
	AdminSecret           string
	AccessTokenTTLMinutes int
	BoiRateURL            string
	RateTTLSeconds        int
	TelegramBotToken      string
	TelegramChatID        string
}

const defaultBoiRateURL = "https://www.boi.org.il/PublicApi/GetExchangeRates?asXml=true"

func Load() Config {
	// Best effort: a missing .env is the normal case in production.
	_ = godotenv.Load()

	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	tokenTTL, err := strconv.Atoi(getEnv("ACCESS_TOKEN_TTL_MINUTES", "480"))
	if err != nil || tokenTTL < 1 {
		tokenTTL = 480
	}
	rateTTL, err := strconv.Atoi(getEnv("RATE_TTL_SECONDS", "3600"))
	if err != nil || rateTTL < 1 {
		rateTTL = 3600
	}

	cfg := Config{
		Port:                  getEnv("PORT", "8080"),
		AllowedOrigin:         getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               redisDB,
		AuthSecret:            strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AdminSecret:           strings.TrimSpace(os.Getenv("ADMIN_SECRET")),
		AccessTokenTTLMinutes: tokenTTL,
		BoiRateURL:            getEnv("BOI_RATE_URL", defaultBoiRateURL),
		RateTTLSeconds:        rateTTL,
		TelegramBotToken:      strings.TrimSpace(os.Getenv("TELEGRAM_BOT_TOKEN")),
		TelegramChatID:        strings.TrimSpace(os.Getenv("TELEGRAM_CHAT_ID")),
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
