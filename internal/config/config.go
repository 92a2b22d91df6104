package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// CaptchaProvider holds the public and secret parameters for one captcha
// kind. Domain is the host name honeypots of this kind are created under.
type CaptchaProvider struct {
	SiteKey string
	Secret  string
	Domain  string
}

type Config struct {
	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string

	ServerPort string
	ServerHost string

	// BaseDomain is the apex host serving the operator dashboard. Every
	// other host is treated as a honeypot subdomain.
	BaseDomain string

	ReCaptchaV2 CaptchaProvider
	HCaptcha    CaptchaProvider
	Slide       CaptchaProvider

	// RotateKey is the AES-256 key for rotate challenge tokens, decoded
	// from a 64-char hex string.
	RotateKey    []byte
	RotateDomain string
	NoneDomain   string

	// PhishingKitURL is the base URL of the backend kit server.
	PhishingKitURL string

	// RedirectList holds decoy URLs used after failed verification.
	RedirectList []string

	// PuzzleImageDir holds source images for the rotate challenge.
	PuzzleImageDir string

	DashboardUsername     string
	DashboardPasswordHash string

	VerifyTimeoutSeconds int
	RotateJitterMillis   int

	APIRateLimitRequests   int
	APIRateLimitWindowMins int
	APICORSOrigins         []string

	LogLevel string
}

func Load() (*Config, error) {
	godotenv.Load("config.env")

	cfg := &Config{
		DBHost:     getEnvString("DB_HOST", "localhost"),
		DBPort:     getEnvInt("DB_PORT", 5432),
		DBName:     getEnvString("DB_NAME", "cloaken_db"),
		DBUser:     getEnvString("DB_USER", "postgres"),
		DBPassword: getEnvString("DB_PASSWORD", ""),
		DBSSLMode:  getEnvString("DB_SSL_MODE", "disable"),

		ServerPort: getEnvString("SERVER_PORT", "8080"),
		ServerHost: getEnvString("SERVER_HOST", ""),

		BaseDomain: getEnvString("BASE_DOMAIN", "localhost"),

		ReCaptchaV2: CaptchaProvider{
			SiteKey: getEnvString("RECAPTCHAV2_SITE_KEY", ""),
			Secret:  getEnvString("RECAPTCHAV2_SECRET_KEY", ""),
			Domain:  getEnvString("RECAPTCHAV2_DOMAIN", ""),
		},
		HCaptcha: CaptchaProvider{
			SiteKey: getEnvString("HCAPTCHA_SITE_KEY", ""),
			Secret:  getEnvString("HCAPTCHA_SECRET_KEY", ""),
			Domain:  getEnvString("HCAPTCHA_DOMAIN", ""),
		},
		Slide: CaptchaProvider{
			SiteKey: getEnvString("SLIDE_SITE_KEY", ""),
			Secret:  getEnvString("SLIDE_SECRET_KEY", ""),
			Domain:  getEnvString("SLIDE_DOMAIN", ""),
		},

		RotateDomain: getEnvString("ROTATE_DOMAIN", ""),
		NoneDomain:   getEnvString("NONE_DOMAIN", ""),

		PhishingKitURL: getEnvString("PHISHING_KIT_URL", "http://localhost:9000"),

		RedirectList: getEnvStringSlice("REDIRECT_LIST", []string{
			"https://www.wikipedia.org",
			"https://www.example.com",
		}),

		PuzzleImageDir: getEnvString("PUZZLE_IMAGE_DIR", "./web/puzzles"),

		DashboardUsername:     getEnvString("DASHBOARD_USERNAME", "admin"),
		DashboardPasswordHash: getEnvString("DASHBOARD_PASSWORD_HASH", ""),

		VerifyTimeoutSeconds: getEnvInt("VERIFY_TIMEOUT_SECONDS", 10),
		RotateJitterMillis:   getEnvInt("ROTATE_JITTER_MILLIS", 3000),

		APIRateLimitRequests:   getEnvInt("API_RATE_LIMIT_REQUESTS", 100),
		APIRateLimitWindowMins: getEnvInt("API_RATE_LIMIT_WINDOW_MINUTES", 1),
		APICORSOrigins:         getEnvStringSlice("API_CORS_ORIGINS", []string{"*"}),

		LogLevel: getEnvString("LOG_LEVEL", "info"),
	}

	rotateKeyHex := getEnvString("ROTATE_SECRET_KEY", "")
	if rotateKeyHex != "" {
		key, err := hex.DecodeString(rotateKeyHex)
		if err != nil {
			return nil, fmt.Errorf("failed to decode ROTATE_SECRET_KEY: %w", err)
		}
		if len(key) != 32 {
			return nil, fmt.Errorf("ROTATE_SECRET_KEY must be 32 bytes, got %d", len(key))
		}
		cfg.RotateKey = key
	}

	return cfg, nil
}

// ProviderFor returns the provider parameters for a captcha kind name. The
// none and rotate kinds have no site key or secret, only a domain.
func (c *Config) ProviderFor(kind string) CaptchaProvider {
	switch kind {
	case "recaptchav2":
		return c.ReCaptchaV2
	case "hcaptcha":
		return c.HCaptcha
	case "slide":
		return c.Slide
	case "rotate":
		return CaptchaProvider{Domain: c.RotateDomain}
	default:
		return CaptchaProvider{Domain: c.NoneDomain}
	}
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}
