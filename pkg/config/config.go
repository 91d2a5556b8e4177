package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port               string
	JWTSecret          string
	DatabaseURL        string
	RedisAddr          string
	GoogleClientID     string
	GoogleClientSecret string
	FirebaseCreds      string
	PubsubProject      string
	PubsubSubscription string
	YahooIMAPAddr      string

	PollInterval        time.Duration
	DedupWindow         time.Duration
	ProviderTimeout     time.Duration
	SyncIdleTimeout     time.Duration
	MaxMutationAttempts int

	UserRateLimit       int
	UserRateWindow      time.Duration
	ProviderRateLimit   int
	ProviderRateWindow  time.Duration
}

func Load() *Config {
	// Load .env file if it exists
	_ = godotenv.Load()

	return &Config{
		Port:               getEnv("PORT", "8080"),
		JWTSecret:          getEnv("JWT_SECRET", "your-secret-key-change-in-production"),
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		RedisAddr:          getEnv("REDIS_ADDR", ""),
		GoogleClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
		FirebaseCreds:      getEnv("FIREBASE_CREDENTIALS", ""),
		PubsubProject:      getEnv("PUBSUB_PROJECT_ID", ""),
		PubsubSubscription: getEnv("PUBSUB_SUBSCRIPTION", "gmail-notifications-sub"),
		YahooIMAPAddr:      getEnv("YAHOO_IMAP_ADDR", "imap.mail.yahoo.com:993"),

		PollInterval:        getDuration("POLL_INTERVAL", 10*time.Second),
		DedupWindow:         getDuration("DEDUP_WINDOW", 2*time.Second),
		ProviderTimeout:     getDuration("PROVIDER_TIMEOUT", 30*time.Second),
		SyncIdleTimeout:     getDuration("SYNC_IDLE_TIMEOUT", 10*time.Minute),
		MaxMutationAttempts: getInt("MAX_MUTATION_ATTEMPTS", 3),

		UserRateLimit:      getInt("USER_RATE_LIMIT", 60),
		UserRateWindow:     getDuration("USER_RATE_WINDOW", time.Minute),
		ProviderRateLimit:  getInt("PROVIDER_RATE_LIMIT", 600),
		ProviderRateWindow: getDuration("PROVIDER_RATE_WINDOW", time.Minute),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
