package infra

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string

	// WebhookSecret signs the bearer tokens the chat framework presents on
	// the event webhook.
	WebhookSecret string

	// ChannelCallbackURL receives outbound replies (text and image) destined
	// for the chat framework. Delivery is fire-and-forget.
	ChannelCallbackURL string

	PassportBaseURL string
	ImagineBaseURL  string

	StoragePath   string
	GeoIPDBPath   string
	DefaultLocale string

	// CredentialRefreshInterval is the advisory staleness window for the
	// session credential.
	CredentialRefreshInterval time.Duration

	// ResultRetention bounds how long stored results stay retrievable.
	ResultRetention time.Duration
	// ResultSweepInterval is the cadence of the expired-result sweeper.
	ResultSweepInterval time.Duration

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
}

// LoadConfig loads configuration from the environment, reading .env files
// first when present, and applies defaults where needed.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load(".env", ".env.local")

	cfg := &Config{
		AppEnv:                    getEnv("APP_ENV", "development"),
		Port:                      getEnv("PORT", "8080"),
		DatabaseURL:               os.Getenv("DATABASE_URL"),
		WebhookSecret:             os.Getenv("WEBHOOK_SECRET"),
		ChannelCallbackURL:        os.Getenv("CHANNEL_CALLBACK_URL"),
		PassportBaseURL:           getEnv("PASSPORT_BASE_URL", "https://passport.example.com"),
		ImagineBaseURL:            getEnv("IMAGINE_BASE_URL", "https://imagine.example.com"),
		StoragePath:               getEnv("STORAGE_PATH", "./storage"),
		GeoIPDBPath:               os.Getenv("GEOIP_DB_PATH"),
		DefaultLocale:             getEnv("DEFAULT_LOCALE", "zh"),
		CredentialRefreshInterval: time.Minute * time.Duration(getEnvInt("CREDENTIAL_REFRESH_MINUTES", 60)),
		ResultRetention:           time.Hour * time.Duration(getEnvInt("RESULT_RETENTION_HOURS", 24*7)),
		ResultSweepInterval:       time.Minute * time.Duration(getEnvInt("RESULT_SWEEP_MINUTES", 60)),
		HTTPReadTimeout:           time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout:          time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:           time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.WebhookSecret == "" {
		return nil, fmt.Errorf("WEBHOOK_SECRET is required")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
