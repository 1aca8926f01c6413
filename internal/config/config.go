package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr     string
	LogLevel     string
	CRDBDSN      string
	MongoURI     string
	MongoDB      string
	RedisAddr    string
	RabbitURL    string
	JWTPublicKey string
	JWTIssuer    string
	OTLPEndpoint string

	// PaymentCallbackSecret must be presented by the payment provider in
	// X-Callback-Secret. Empty, every callback is refused.
	PaymentCallbackSecret string

	// PaymentTTL is how long a transaction may stay PENDING before the
	// expiry worker cancels it.
	PaymentTTL      time.Duration
	CatalogCacheTTL time.Duration
	IdempotencyTTL  time.Duration
	// MaxPerOffering caps the quantity of a single offering in one
	// selection. Zero disables the cap.
	MaxPerOffering int
	UseMockData    bool
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	maxPer, err := getenvInt("MAX_TICKETS_PER_OFFERING", 10)
	if err != nil {
		return nil, err
	}
	useMock, err := getenvBool("USE_MOCK_DATA", false)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		HTTPAddr:        getenv("HTTP_ADDR", ":8080"),
		LogLevel:        getenv("LOG_LEVEL", "info"),
		CRDBDSN:         os.Getenv("CRDB_DSN"),
		MongoURI:        os.Getenv("MONGO_URI"),
		MongoDB:         getenv("MONGO_DB", "events"),
		RedisAddr:       os.Getenv("REDIS_ADDR"),
		RabbitURL:       os.Getenv("RABBIT_URL"),
		JWTPublicKey:    normalizePEM(os.Getenv("JWT_PUBLIC_KEY")),
		JWTIssuer:       os.Getenv("JWT_ISSUER"),
		OTLPEndpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		PaymentTTL:      getenvDuration("PAYMENT_TTL", 15*time.Minute),
		CatalogCacheTTL: getenvDuration("CATALOG_CACHE_TTL", 30*time.Second),
		IdempotencyTTL:  getenvDuration("IDEMPOTENCY_TTL", time.Hour),
		MaxPerOffering:  maxPer,
		UseMockData:     useMock,
	}
	cfg.PaymentCallbackSecret = os.Getenv("PAYMENT_CALLBACK_SECRET")
	return cfg, nil
}

func getenv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	d, _ := time.ParseDuration(os.Getenv(key))
	if d <= 0 {
		return fallback
	}
	return d
}

func getenvInt(key string, fallback int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil || n < 0 {
		return 0, &InvalidValueError{Key: key, Value: val}
	}
	return n, nil
}

func getenvBool(key string, fallback bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, &InvalidValueError{Key: key, Value: val}
	}
	return b, nil
}

// normalizePEM restores newlines in keys passed through single-line env vars.
func normalizePEM(value string) string {
	value = strings.TrimSpace(value)
	if strings.Contains(value, "\\n") && !strings.Contains(value, "\n") {
		value = strings.ReplaceAll(value, "\\n", "\n")
	}
	return value
}

type InvalidValueError struct {
	Key   string
	Value string
}

func (e *InvalidValueError) Error() string {
	return "config: invalid value " + strconv.Quote(e.Value) + " for " + e.Key
}
