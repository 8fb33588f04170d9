package app

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	DatabaseFile string // Path to the SQLite database file (default: ./portal.db)
	PepperFile   string // Path to the password hashing pepper file (default: ./pepper)

	Env       string // Environment (dev, staging, prod) (default: dev)
	LogLevel  string // Log level (debug, info, warn, error) (default: info)
	LogFormat string // Log format (json, text) (default: json)
	Port      int    // HTTP server port (default: 8080)

	APIKey   string // Optional: shared secret required in X-API-Key on every request
	LoginURL string // Optional: portal login URL embedded in outgoing emails

	AvatarDir string // Directory for uploaded avatar images (default: ./avatars)

	GoogleClientID string // Optional: enables Google Sign-In when set

	// SMTP relay settings. Email falls back to logging when SMTPHost is empty.
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPSender   string
	SMTPUseSSL   bool

	SessionTTL        time.Duration // Absolute session lifetime (default: 12h)
	SessionIdleWindow time.Duration // Idle expiry window (default: 2h)
	SessionRotate     time.Duration // Rotation hint age (default: 6h)

	ChallengeTTL   time.Duration // Verification code lifetime (default: 10m)
	ResetTTL       time.Duration // Staged password reset lifetime (default: 10m)
	ChallengeStore string        // Challenge backing store: sqlite or memory (default: sqlite)

	LoginWindow      time.Duration // Failed-login attempt window (default: 5m)
	LoginMaxFailures int           // Failures per window before lockout (default: 5)
	LoginLockout     time.Duration // Lockout duration once tripped (default: 15m)
	ComplaintWindow  time.Duration // Complaint throttle window (default: 60s)
	ComplaintMax     int           // Complaints per window (default: 5)
	DuplicateWindow  time.Duration // Duplicate fingerprint retention (default: 30m)

	ShutdownGracePeriod  time.Duration // Graceful shutdown timeout (default: 10s)
	HousekeepingInterval time.Duration // Housekeeping interval (default: 15m)
}

func LoadConfig() Config {
	return Config{
		DatabaseFile: getEnvOrDefault("PORTAL_DATABASE_FILE", "portal.db"),
		PepperFile:   getEnvOrDefault("PORTAL_PEPPER_FILE", "pepper"),

		Env:       getEnvOrDefault("ENV", "dev"),
		LogLevel:  getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat: getEnvOrDefault("LOG_FORMAT", "json"),
		Port:      getEnvIntOrDefault("PORT", 8080),

		APIKey:   os.Getenv("PORTAL_API_KEY"),
		LoginURL: os.Getenv("PORTAL_LOGIN_URL"),

		AvatarDir: getEnvOrDefault("PORTAL_AVATAR_DIR", "avatars"),

		GoogleClientID: os.Getenv("GOOGLE_CLIENT_ID"),

		SMTPHost:     os.Getenv("SMTP_HOST"),
		SMTPPort:     getEnvIntOrDefault("SMTP_PORT", 465),
		SMTPUsername: os.Getenv("SMTP_USERNAME"),
		SMTPPassword: os.Getenv("SMTP_PASSWORD"),
		SMTPSender:   os.Getenv("SMTP_SENDER"),
		SMTPUseSSL:   getEnvBoolOrDefault("SMTP_USE_SSL", true),

		SessionTTL:        getEnvDurationOrDefault("SESSION_TTL", 12*time.Hour),
		SessionIdleWindow: getEnvDurationOrDefault("SESSION_IDLE_WINDOW", 2*time.Hour),
		SessionRotate:     getEnvDurationOrDefault("SESSION_ROTATE_AFTER", 6*time.Hour),

		ChallengeTTL:   getEnvDurationOrDefault("TWO_FACTOR_TTL", 10*time.Minute),
		ResetTTL:       getEnvDurationOrDefault("RESET_STAGE_TTL", 10*time.Minute),
		ChallengeStore: getEnvOrDefault("TWO_FACTOR_STORE", "sqlite"),

		LoginWindow:      getEnvDurationOrDefault("LOGIN_ATTEMPT_WINDOW", 5*time.Minute),
		LoginMaxFailures: getEnvIntOrDefault("LOGIN_MAX_FAILURES", 5),
		LoginLockout:     getEnvDurationOrDefault("LOGIN_LOCKOUT_DURATION", 15*time.Minute),
		ComplaintWindow:  getEnvDurationOrDefault("COMPLAINT_WINDOW", time.Minute),
		ComplaintMax:     getEnvIntOrDefault("COMPLAINT_MAX_REQUESTS", 5),
		DuplicateWindow:  getEnvDurationOrDefault("COMPLAINT_DUPLICATE_WINDOW", 30*time.Minute),

		ShutdownGracePeriod:  getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second),
		HousekeepingInterval: getEnvDurationOrDefault("HOUSEKEEPING_INTERVAL", 15*time.Minute),
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if boolValue, err := strconv.ParseBool(value); err == nil {
		return boolValue
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	// Bare integers are read as minutes.
	if minutes, err := strconv.Atoi(value); err == nil {
		return time.Duration(minutes) * time.Minute
	}

	return defaultValue
}
