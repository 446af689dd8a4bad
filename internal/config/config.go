package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port string
	Env  string

	// Database
	DatabaseURL   string
	MigrationsDir string

	// Redis
	RedisURL string

	// JWT
	JWTSecret string

	// Logging
	LogLevel string
	LogFile  string

	// Lessons
	QuizInitialPerTopic int
	LessonQueueTTL      time.Duration
	DefaultTestMaxScore int

	// Presence
	PresenceOnlineWindow      time.Duration
	PresenceBroadcastInterval time.Duration

	// Rate limiting
	RateLimitPerMinute int

	// Frontend
	FrontendURL string
}

func Load() *Config {
	// Load .env file if it exists
	godotenv.Load()

	cfg := &Config{
		Port:                      getEnvOrDefault("PORT", "8080"),
		Env:                       getEnvOrDefault("ENV", "development"),
		DatabaseURL:               mustGetEnv("DATABASE_URL"),
		MigrationsDir:             getEnvOrDefault("MIGRATIONS_DIR", "migrations"),
		RedisURL:                  mustGetEnv("REDIS_URL"),
		JWTSecret:                 mustGetEnv("JWT_SECRET"),
		LogLevel:                  getEnvOrDefault("LOG_LEVEL", "info"),
		LogFile:                   getEnvOrDefault("LOG_FILE", "logs/app.log"),
		QuizInitialPerTopic:       getEnvAsIntOrDefault("QUIZ_INITIAL_PER_TOPIC", 1),
		LessonQueueTTL:            getEnvAsDurationOrDefault("LESSON_QUEUE_TTL", 12*time.Hour),
		DefaultTestMaxScore:       getEnvAsIntOrDefault("DEFAULT_TEST_MAX_SCORE", 100),
		PresenceOnlineWindow:      getEnvAsDurationOrDefault("PRESENCE_ONLINE_WINDOW", 2*time.Minute),
		PresenceBroadcastInterval: getEnvAsDurationOrDefault("PRESENCE_BROADCAST_INTERVAL", 30*time.Second),
		RateLimitPerMinute:        getEnvAsIntOrDefault("RATE_LIMIT_PER_MINUTE", 120),
		FrontendURL:               getEnvOrDefault("FRONTEND_URL", "http://localhost:3000"),
	}

	if cfg.QuizInitialPerTopic < 1 {
		cfg.QuizInitialPerTopic = 1
	}

	return cfg
}

func mustGetEnv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		panic(fmt.Sprintf("required environment variable %s is not set", key))
	}
	return val
}

func getEnvOrDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvAsIntOrDefault(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

// getEnvAsDurationOrDefault accepts Go duration strings ("90s", "2m").
func getEnvAsDurationOrDefault(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}
