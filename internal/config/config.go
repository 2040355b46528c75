package config

import (
	"fmt"
	"log"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	// Server configuration
	Server ServerConfig

	// Database configuration
	Database DatabaseConfig

	// Redis configuration (seat-number claims)
	Redis RedisConfig

	// JWT configuration
	JWT JWTConfig

	// CORS configuration
	CORS CORSConfig

	// Booking engine configuration
	Booking BookingConfig

	// Refund policy table
	Refund RefundConfig

	// Payment gateway configuration
	Payment PaymentConfig

	// SMS configuration (booking notifications)
	SMS SMSConfig

	// Connecting-route search configuration
	Connecting ConnectingConfig

	// Cron configuration
	Cron CronConfig
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port        string
	Environment string // development, staging, production
	LogLevel    string // debug, info, warn, error
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	URL                string
	MaxConnections     int
	MaxIdleConnections int
	ConnMaxLifetime    time.Duration
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Enabled bool
	URL     string
}

// JWTConfig holds JWT-related configuration
type JWTConfig struct {
	Secret            string
	AccessTokenExpiry time.Duration
}

// CORSConfig holds CORS-related configuration
type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
}

// BookingConfig holds hold-window and sweeper settings
type BookingConfig struct {
	HoldWindow         time.Duration // how long a Pending booking keeps its seats
	SweepInterval      time.Duration // how often the expiry sweeper runs
	SweepBatchSize     int
	PNRLength          int
	PNRMaxAttempts     int
	Currency           string
	MaxSeatsPerSegment int
	SeatClaimTTL       time.Duration // Redis seat-number claim lifetime
}

// RefundTier is one row of the refund policy: cancellations made at least
// MinHoursBeforeTravel hours before departure refund Percent of the fare.
type RefundTier struct {
	MinHoursBeforeTravel float64
	Percent              int
}

// RefundConfig holds the refund policy table, ordered by MinHoursBeforeTravel descending
type RefundConfig struct {
	Tiers []RefundTier
}

// PaymentConfig holds signed-transaction gateway configuration
type PaymentConfig struct {
	BaseURL       string
	KeyID         string
	KeySecret     string // SECRET - used to verify payment signatures
	WebhookSecret string // SECRET - used to verify webhook bodies
	Timeout       time.Duration
}

// SMSConfig holds SMS gateway configuration
type SMSConfig struct {
	Mode     string // "dev" logs messages, "production" sends them
	APIURL   string
	Username string
	Password string
	Mask     string

	DefaultCountryCode string // applied to local contact numbers
}

// ConnectingConfig bounds the transfer window between two legs
type ConnectingConfig struct {
	MinLayover  time.Duration
	MaxLayover  time.Duration
	ResultLimit int
}

// CronConfig holds schedules for maintenance jobs (seconds precision)
type CronConfig struct {
	ReconciliationSchedule string
}

const defaultRefundTiers = "24:100,12:75,6:50,0:25"

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (for local development)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	tiers, err := ParseRefundTiers(getEnv("REFUND_POLICY_TIERS", defaultRefundTiers))
	if err != nil {
		return nil, err
	}

	config := &Config{
		Server: ServerConfig{
			Port:        getEnv("PORT", "8080"),
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
		},
		Database: DatabaseConfig{
			URL:                getEnv("DATABASE_URL", ""),
			MaxConnections:     getEnvAsInt("DATABASE_MAX_CONNECTIONS", 20),
			MaxIdleConnections: getEnvAsInt("DATABASE_MAX_IDLE_CONNECTIONS", 5),
			ConnMaxLifetime:    time.Duration(getEnvAsInt("DATABASE_CONN_MAX_LIFETIME", 300)) * time.Second,
		},
		Redis: RedisConfig{
			Enabled: getEnvAsBool("REDIS_ENABLED", false),
			URL:     getEnv("REDIS_URL", "redis://localhost:6379/0"),
		},
		JWT: JWTConfig{
			Secret:            getEnv("JWT_SECRET", ""),
			AccessTokenExpiry: time.Duration(getEnvAsInt("JWT_ACCESS_TOKEN_EXPIRY", 3600)) * time.Second,
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvAsSlice("CORS_ALLOWED_ORIGINS", []string{"*"}),
			AllowedMethods: getEnvAsSlice("CORS_ALLOWED_METHODS", []string{"GET", "POST", "OPTIONS"}),
			AllowedHeaders: getEnvAsSlice("CORS_ALLOWED_HEADERS", []string{"Content-Type", "Authorization"}),
		},
		Booking: BookingConfig{
			HoldWindow:         getEnvAsDuration("BOOKING_HOLD_WINDOW", 10*time.Minute),
			SweepInterval:      getEnvAsDuration("BOOKING_SWEEP_INTERVAL", 2*time.Minute),
			SweepBatchSize:     getEnvAsInt("BOOKING_SWEEP_BATCH_SIZE", 100),
			PNRLength:          getEnvAsInt("PNR_LENGTH", 8),
			PNRMaxAttempts:     getEnvAsInt("PNR_MAX_ATTEMPTS", 10),
			Currency:           getEnv("BOOKING_CURRENCY", "INR"),
			MaxSeatsPerSegment: getEnvAsInt("BOOKING_MAX_SEATS_PER_SEGMENT", 10),
			SeatClaimTTL:       getEnvAsDuration("BOOKING_SEAT_CLAIM_TTL", 30*time.Second),
		},
		Refund: RefundConfig{
			Tiers: tiers,
		},
		Payment: PaymentConfig{
			BaseURL:       getEnv("PAYMENT_GATEWAY_URL", "https://api.razorpay.com/v1"),
			KeyID:         getEnv("PAYMENT_KEY_ID", ""),
			KeySecret:     getEnv("PAYMENT_KEY_SECRET", ""),
			WebhookSecret: getEnv("PAYMENT_WEBHOOK_SECRET", ""),
			Timeout:       getEnvAsDuration("PAYMENT_GATEWAY_TIMEOUT", 30*time.Second),
		},
		SMS: SMSConfig{
			Mode:     getEnv("SMS_MODE", "dev"),
			APIURL:   getEnv("SMS_API_URL", "https://e-sms.dialog.lk/api/v2"),
			Username: getEnv("SMS_USERNAME", ""),
			Password: getEnv("SMS_PASSWORD", ""),
			Mask:     getEnv("SMS_MASK", ""),

			DefaultCountryCode: getEnv("SMS_DEFAULT_COUNTRY_CODE", "91"),
		},
		Connecting: ConnectingConfig{
			MinLayover:  getEnvAsDuration("CONNECTING_MIN_LAYOVER", 30*time.Minute),
			MaxLayover:  getEnvAsDuration("CONNECTING_MAX_LAYOVER", 12*time.Hour),
			ResultLimit: getEnvAsInt("CONNECTING_RESULT_LIMIT", 20),
		},
		Cron: CronConfig{
			ReconciliationSchedule: getEnv("CRON_RECONCILIATION_SCHEDULE", "0 */15 * * * *"),
		},
	}

	// Validate required configuration
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	if c.Booking.HoldWindow <= 0 {
		return fmt.Errorf("BOOKING_HOLD_WINDOW must be positive")
	}

	if c.Booking.SweepInterval <= 0 {
		return fmt.Errorf("BOOKING_SWEEP_INTERVAL must be positive")
	}

	if c.Booking.PNRLength < 6 {
		return fmt.Errorf("PNR_LENGTH must be at least 6")
	}

	if c.Connecting.MaxLayover < c.Connecting.MinLayover {
		return fmt.Errorf("CONNECTING_MAX_LAYOVER must not be below CONNECTING_MIN_LAYOVER")
	}

	if len(c.Refund.Tiers) == 0 {
		return fmt.Errorf("REFUND_POLICY_TIERS must contain at least one tier")
	}

	if c.Server.Environment == "production" {
		if c.Payment.KeyID == "" || c.Payment.KeySecret == "" {
			return fmt.Errorf("PAYMENT_KEY_ID and PAYMENT_KEY_SECRET are required in production")
		}
		if c.Payment.WebhookSecret == "" {
			return fmt.Errorf("PAYMENT_WEBHOOK_SECRET is required in production")
		}
		if c.SMS.Mode == "production" && (c.SMS.Username == "" || c.SMS.Password == "") {
			return fmt.Errorf("SMS_USERNAME and SMS_PASSWORD are required for production SMS")
		}
	}

	return nil
}

// ParseRefundTiers parses "hours:percent" pairs separated by commas,
// e.g. "24:100,12:75,6:50,0:25". Tiers are returned ordered by hours descending.
func ParseRefundTiers(raw string) ([]RefundTier, error) {
	var tiers []RefundTier
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		fields := strings.SplitN(part, ":", 2)
		if len(fields) != 2 {
			return nil, fmt.Errorf("invalid refund tier %q: expected hours:percent", part)
		}

		hours, err := strconv.ParseFloat(strings.TrimSpace(fields[0]), 64)
		if err != nil || hours < 0 {
			return nil, fmt.Errorf("invalid refund tier hours %q", fields[0])
		}

		percent, err := strconv.Atoi(strings.TrimSpace(fields[1]))
		if err != nil || percent < 0 || percent > 100 {
			return nil, fmt.Errorf("invalid refund tier percent %q", fields[1])
		}

		tiers = append(tiers, RefundTier{MinHoursBeforeTravel: hours, Percent: percent})
	}

	if len(tiers) == 0 {
		return nil, fmt.Errorf("refund policy has no tiers")
	}

	sort.Slice(tiers, func(i, j int) bool {
		return tiers[i].MinHoursBeforeTravel > tiers[j].MinHoursBeforeTravel
	})

	return tiers, nil
}

// Helper functions to get environment variables

func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		log.Printf("Invalid integer value for %s, using default: %d", key, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		log.Printf("Invalid boolean value for %s, using default: %t", key, defaultValue)
		return defaultValue
	}
	return value
}

// getEnvAsDuration accepts Go duration strings ("90s", "10m") or plain seconds
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	if seconds, err := strconv.Atoi(valueStr); err == nil {
		return time.Duration(seconds) * time.Second
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		log.Printf("Invalid duration value for %s, using default: %s", key, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var result []string
	for _, v := range strings.Split(valueStr, ",") {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}
