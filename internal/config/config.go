package config

import (
	"fmt"
	"log"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port                     string
	DatabaseURL              string
	SessionTTL               time.Duration
	GeminiAPIKey             string
	GeminiModel              string
	GeminiBaseURL            string
	OCRTimeout               time.Duration
	RateLimitPerMinute       int
	RateLimitBurst           int
	TenantRateLimitPerMinute int
	TenantRateLimitBurst     int
	OTLPEndpoint             string
	OTLPInsecure             bool
}

// Load reads the environment after merging a .env file (ENV_FILE, or ./.env
// when present). Variables already set in the process win over the file.
func Load() Config {
	loadEnvFile()

	port := os.Getenv("EXPENSE_PORT")
	if port == "" {
		port = readString("PORT", "8080")
	}

	return Config{
		Port:                     port,
		DatabaseURL:              databaseURL(),
		SessionTTL:               readDurationHours("SESSION_TTL_HOURS", 8),
		GeminiAPIKey:             os.Getenv("GEMINI_API_KEY"),
		GeminiModel:              readString("GEMINI_MODEL", "gemini-2.0-flash"),
		GeminiBaseURL:            readString("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
		OCRTimeout:               readDurationSeconds("OCR_TIMEOUT_SECONDS", 10),
		RateLimitPerMinute:       readInt("RATE_LIMIT_PER_MIN", 120),
		RateLimitBurst:           readInt("RATE_LIMIT_BURST", 30),
		TenantRateLimitPerMinute: readInt("TENANT_RATE_LIMIT_PER_MIN", 600),
		TenantRateLimitBurst:     readInt("TENANT_RATE_LIMIT_BURST", 120),
		OTLPEndpoint:             os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		OTLPInsecure:             readBool("OTEL_EXPORTER_OTLP_INSECURE", false),
	}
}

func loadEnvFile() {
	if path := os.Getenv("ENV_FILE"); path != "" {
		if err := godotenv.Load(path); err != nil {
			log.Printf("env file %s not loaded: %v", path, err)
		}
		return
	}
	_ = godotenv.Load()
}

func databaseURL() string {
	if dsn := os.Getenv("DB_DSN"); dsn != "" {
		return dsn
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(readString("DB_USER", "postgres"), os.Getenv("DB_PASSWORD")),
		Host:     fmt.Sprintf("%s:%s", readString("DB_HOST", "localhost"), readString("DB_PORT", "5432")),
		Path:     "/" + readString("DB_NAME", "expenses"),
		RawQuery: url.Values{"sslmode": {readString("DB_SSLMODE", "disable")}}.Encode(),
	}
	return u.String()
}

func readString(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func readDurationSeconds(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
}

func readDurationHours(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Hour
}

func readInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func readBool(key string, fallback bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return value
}
