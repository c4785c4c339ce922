package config

import (
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port        string
	Environment string
	MetricsPort string
	LogLevel    string

	// Database
	DatabaseURL string

	// Voice AI provider
	ProviderBaseURL string
	ProviderAPIKey  string
	AgentID         string

	// Turn-taking parameters sent at session creation. The provider enforces
	// the duration and inactivity bounds on its side.
	VADThreshold             float64
	SilenceDurationMs        int
	MaxCallDurationSeconds   int
	InactivityTimeoutSeconds int

	// Scheduler
	SchedulerIntervalSeconds int
	DueGraceMinutes          int
	MaxRetries               int
	HistoryRetentionDays     int

	// Firebase
	FirebaseCredentialsPath string

	// Alert fallbacks
	EnableEmailFallback bool

	// SMTP
	SMTPHost      string
	SMTPPort      int
	SMTPUsername  string
	SMTPPassword  string
	SMTPFromName  string
	SMTPFromEmail string
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, reading environment variables from the system")
	}

	return &Config{
		// Server
		Port:        getEnvWithDefault("PORT", "8080"),
		Environment: getEnvWithDefault("ENVIRONMENT", "development"),
		MetricsPort: getEnvWithDefault("METRICS_PORT", "9090"),
		LogLevel:    getEnvWithDefault("LOG_LEVEL", "info"),

		// Database
		DatabaseURL: os.Getenv("DATABASE_URL"),

		// Voice AI provider
		ProviderBaseURL: getEnvWithDefault("VOICE_PROVIDER_URL", "https://api.elevenlabs.io"),
		ProviderAPIKey:  os.Getenv("VOICE_PROVIDER_API_KEY"),
		AgentID:         getEnvWithDefault("VOICE_AGENT_ID", "eldervoice-companion"),

		// Turn-taking
		VADThreshold:             getEnvFloat("VAD_THRESHOLD", 0.5),
		SilenceDurationMs:        getEnvInt("SILENCE_DURATION_MS", 800),
		MaxCallDurationSeconds:   getEnvInt("MAX_CALL_DURATION_SECONDS", 600),
		InactivityTimeoutSeconds: getEnvInt("INACTIVITY_TIMEOUT_SECONDS", 60),

		// Scheduler
		SchedulerIntervalSeconds: getEnvInt("SCHEDULER_INTERVAL_SECONDS", 30),
		DueGraceMinutes:          getEnvInt("DUE_GRACE_MINUTES", 30),
		MaxRetries:               getEnvInt("MAX_RETRIES", 3),
		HistoryRetentionDays:     getEnvInt("HISTORY_RETENTION_DAYS", 180),

		// Firebase
		FirebaseCredentialsPath: os.Getenv("FIREBASE_CREDENTIALS_PATH"),

		// Alert fallbacks
		EnableEmailFallback: getEnvBool("ENABLE_EMAIL_FALLBACK", true),

		// SMTP
		SMTPHost:      getEnvWithDefault("SMTP_HOST", "smtp.gmail.com"),
		SMTPPort:      getEnvInt("SMTP_PORT", 587),
		SMTPUsername:  os.Getenv("SMTP_USERNAME"),
		SMTPPassword:  os.Getenv("SMTP_PASSWORD"),
		SMTPFromName:  getEnvWithDefault("SMTP_FROM_NAME", "ElderVoice"),
		SMTPFromEmail: getEnvWithDefault("SMTP_FROM_EMAIL", "alerts@eldervoice.app"),
	}, nil
}

func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var intValue int
		if _, err := fmt.Sscanf(value, "%d", &intValue); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		var floatValue float64
		if _, err := fmt.Sscanf(value, "%f", &floatValue); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

// Validate verifies the configuration required to place calls.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.ProviderAPIKey == "" {
		log.Println("VOICE_PROVIDER_API_KEY not set: session creation will fail until it is configured")
	}

	if c.FirebaseCredentialsPath == "" {
		log.Println("FIREBASE_CREDENTIALS_PATH not set: caregiver push notifications disabled")
	}

	if c.EnableEmailFallback && (c.SMTPUsername == "" || c.SMTPPassword == "") {
		log.Println("Email fallback enabled but SMTP credentials not configured")
	}

	return nil
}
