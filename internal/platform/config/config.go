package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Load reads the .env file from the current working directory and sets
// environment variables. If .env does not exist, Load returns an error but
// callers can ignore it and use system env or defaults. Pass one or more paths
// to load from specific files (e.g. ".env"); with no paths, ".env" is used.
func Load(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	return godotenv.Load(paths...)
}

// GetEnv returns the value of the environment variable named by key, or fallback
// if the variable is unset or empty.
func GetEnv(key, fallback string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return fallback
}

// GetEnvInt returns the integer value of the environment variable named by key,
// or fallback if the variable is unset, empty, or not a valid integer.
func GetEnvInt(key string, fallback int) int {
	if s := os.Getenv(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return fallback
}

// GetEnvFloat is GetEnvInt for floating point values.
func GetEnvFloat(key string, fallback float64) float64 {
	if s := os.Getenv(key); s != "" {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}
	return fallback
}

// GetEnvBool accepts the forms strconv.ParseBool does ("1", "true", "F", ...).
func GetEnvBool(key string, fallback bool) bool {
	if s := os.Getenv(key); s != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
			return b
		}
	}
	return fallback
}

// GetEnvDuration parses values like "8s" or "6h". A bare number is taken as
// seconds.
func GetEnvDuration(key string, fallback time.Duration) time.Duration {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return fallback
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return fallback
}

// Config is the server configuration read from the environment.
type Config struct {
	Port      string
	LogLevel  string
	LogFormat string

	CatalogDBPath string

	// StorageBaseURL prefixes relative audio paths when no bucket is set.
	StorageBaseURL string

	S3Endpoint    string
	S3AccessKey   string
	S3SecretKey   string
	S3Bucket      string
	S3Region      string
	S3UseSSL      bool
	PresignExpiry time.Duration

	EWMAAlpha        float64
	SeedBps          float64
	UpgradeMargin    float64
	MinDwell         time.Duration
	LowBufferSeconds float64

	HLSMaxBufferAhead time.Duration

	RateLimitPerMinute int
}

// FromEnv builds a Config from the environment, applying defaults for unset
// variables. Zero ABR values are left for the components to default.
func FromEnv() Config {
	return Config{
		Port:      GetEnv("PORT", "8080"),
		LogLevel:  GetEnv("LOG_LEVEL", "info"),
		LogFormat: GetEnv("LOG_FORMAT", "json"),

		CatalogDBPath:  GetEnv("CATALOG_DB_PATH", "tunestream.db"),
		StorageBaseURL: GetEnv("STORAGE_BASE_URL", "http://localhost:9000/audio/"),

		S3Endpoint:    GetEnv("S3_ENDPOINT", "localhost:9000"),
		S3AccessKey:   GetEnv("S3_ACCESS_KEY", ""),
		S3SecretKey:   GetEnv("S3_SECRET_KEY", ""),
		S3Bucket:      GetEnv("S3_BUCKET", ""),
		S3Region:      GetEnv("S3_REGION", ""),
		S3UseSSL:      GetEnvBool("S3_USE_SSL", false),
		PresignExpiry: GetEnvDuration("PRESIGN_EXPIRY", 6*time.Hour),

		EWMAAlpha:        GetEnvFloat("ABR_EWMA_ALPHA", 0),
		SeedBps:          GetEnvFloat("ABR_SEED_BPS", 0),
		UpgradeMargin:    GetEnvFloat("ABR_UPGRADE_MARGIN", 0),
		MinDwell:         GetEnvDuration("ABR_MIN_DWELL", 0),
		LowBufferSeconds: GetEnvFloat("LOW_BUFFER_SECONDS", 0),

		HLSMaxBufferAhead: GetEnvDuration("HLS_MAX_BUFFER_AHEAD", 0),

		RateLimitPerMinute: GetEnvInt("RATE_LIMIT_PER_MINUTE", 120),
	}
}

// UseObjectStorage reports whether audio URLs should be presigned against
// S3-compatible storage instead of built from StorageBaseURL.
func (c Config) UseObjectStorage() bool { return c.S3Bucket != "" }
