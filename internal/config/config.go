package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port                  string
	AllowedOrigin         string
	DatabaseURL           string
	BackendURL            string
	BackendToken          string
	BackendTimeout        time.Duration
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	ProductCacheTTL       time.Duration
	AuthSecret            string
	AccessTokenTTLMinutes int
	ManagerPIN            string

	BarcodeTargetLength int
	BarcodeSettleDelay  time.Duration
	BarcodeMaxFailures  int
	BarcodeAutoSubmit   bool

	CustomerSearchDelay  time.Duration
	AggregateRefresh     time.Duration
	RolloverRebuildDelay time.Duration
	Location             *time.Location
}

// Load reads the environment, after merging a .env file from the working
// directory when one exists. Variables already set win over the file.
func Load() Config {
	_ = godotenv.Load()

	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	tokenTTL := getInt("ACCESS_TOKEN_TTL_MINUTES", 480, 1)

	cfg := Config{
		Port:                  getEnv("PORT", "8080"),
		AllowedOrigin:         getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		BackendURL:            strings.TrimSpace(os.Getenv("BACKEND_URL")),
		BackendToken:          strings.TrimSpace(os.Getenv("BACKEND_TOKEN")),
		BackendTimeout:        time.Duration(getInt("BACKEND_TIMEOUT_SECONDS", 15, 1)) * time.Second,
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               redisDB,
		ProductCacheTTL:       time.Duration(getInt("PRODUCT_CACHE_TTL_SECONDS", 300, 1)) * time.Second,
		AuthSecret:            strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes: tokenTTL,
		ManagerPIN:            strings.TrimSpace(os.Getenv("MANAGER_PIN")),

		BarcodeTargetLength: getInt("BARCODE_TARGET_LENGTH", 13, 8),
		BarcodeSettleDelay:  time.Duration(getInt("BARCODE_SETTLE_MS", 40, 1)) * time.Millisecond,
		BarcodeMaxFailures:  getInt("BARCODE_MAX_FAILURES", 3, 1),
		BarcodeAutoSubmit:   getBool("BARCODE_AUTO_SUBMIT", true),

		CustomerSearchDelay:  time.Duration(getInt("CUSTOMER_SEARCH_DEBOUNCE_MS", 350, 1)) * time.Millisecond,
		AggregateRefresh:     time.Duration(getInt("AGGREGATE_REFRESH_MINUTES", 5, 0)) * time.Minute,
		RolloverRebuildDelay: time.Duration(getInt("ROLLOVER_REBUILD_SECONDS", 2, 1)) * time.Second,
		Location:             loadLocation(getEnv("TIMEZONE", "Asia/Jakarta")),
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

// getInt falls back when the value is missing, malformed or below floor.
func getInt(key string, fallback int, floor int) int {
	val, err := strconv.Atoi(getEnv(key, strconv.Itoa(fallback)))
	if err != nil || val < floor {
		return fallback
	}
	return val
}

func getBool(key string, fallback bool) bool {
	val, err := strconv.ParseBool(getEnv(key, strconv.FormatBool(fallback)))
	if err != nil {
		return fallback
	}
	return val
}

func loadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		log.Printf("[config] WARN: unknown TIMEZONE %q, using local time: %v", name, err)
		return time.Local
	}
	return loc
}
