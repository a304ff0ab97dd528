// Package config loads runtime configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server   ServerConfig
	Scraper  ScraperConfig
	Browser  BrowserConfig
	Ebay     EbayConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Logging  LoggingConfig
}

type ServerConfig struct {
	Port            string
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type ScraperConfig struct {
	RateLimitMin time.Duration
	RateLimitMax time.Duration
	HTTPTimeout  time.Duration
	UseBrowser   bool
}

type BrowserConfig struct {
	Headless       bool
	Timeout        time.Duration
	ViewportWidth  int
	ViewportHeight int
	AcceptLanguage string
	TimezoneID     string
	Locale         string
	ProxyServer    string
}

type EbayConfig struct {
	ClientID      string
	ClientSecret  string
	DevID         string
	RuName        string
	TokenFile     string
	Location      string
	PostalCode    string
	SellerPaysFee bool
	FixedFee      float64
}

type DatabaseConfig struct {
	Enabled  bool
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
}

type RedisConfig struct {
	Enabled bool
	Addr    string
	DB      int
}

type LoggingConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnvOrDefault("SERVER_PORT", "5000"),
			Host:            getEnvOrDefault("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:     getDurationOrDefault("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getDurationOrDefault("SERVER_WRITE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getDurationOrDefault("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Scraper: ScraperConfig{
			RateLimitMin: getDurationOrDefault("SCRAPER_RATE_LIMIT_MIN", 2*time.Second),
			RateLimitMax: getDurationOrDefault("SCRAPER_RATE_LIMIT_MAX", 8*time.Second),
			HTTPTimeout:  getDurationOrDefault("SCRAPER_HTTP_TIMEOUT", 30*time.Second),
			UseBrowser:   getBoolOrDefault("SCRAPER_USE_BROWSER", false),
		},
		Browser: BrowserConfig{
			Headless:       getBoolOrDefault("BROWSER_HEADLESS", true),
			Timeout:        getDurationOrDefault("BROWSER_TIMEOUT", 30*time.Second),
			ViewportWidth:  getIntOrDefault("BROWSER_VIEWPORT_WIDTH", 1920),
			ViewportHeight: getIntOrDefault("BROWSER_VIEWPORT_HEIGHT", 1080),
			AcceptLanguage: getEnvOrDefault("BROWSER_ACCEPT_LANGUAGE", "en-GB,en;q=0.9"),
			TimezoneID:     getEnvOrDefault("BROWSER_TIMEZONE", "Europe/London"),
			Locale:         getEnvOrDefault("BROWSER_LOCALE", "en-GB"),
			ProxyServer:    getEnvOrDefault("BROWSER_PROXY", ""),
		},
		Ebay: EbayConfig{
			ClientID:      os.Getenv("EBAY_CLIENT_ID"),
			ClientSecret:  os.Getenv("EBAY_CLIENT_SECRET"),
			DevID:         os.Getenv("EBAY_DEV_ID"),
			RuName:        os.Getenv("EBAY_RUNAME"),
			TokenFile:     getEnvOrDefault("EBAY_TOKEN_FILE", "ebay_tokens.json"),
			Location:      getEnvOrDefault("EBAY_ITEM_LOCATION", "Birmingham"),
			PostalCode:    getEnvOrDefault("EBAY_ITEM_POSTCODE", "B14 6PA"),
			SellerPaysFee: getBoolOrDefault("SELLER_PAY_FEE", false),
			FixedFee:      getFloatOrDefault("EBAY_FIXED_FEE", 0.72),
		},
		Database: DatabaseConfig{
			Enabled:  getBoolOrDefault("DB_ENABLED", false),
			Host:     getEnvOrDefault("DB_HOST", "localhost"),
			Port:     getIntOrDefault("DB_PORT", 5432),
			User:     getEnvOrDefault("DB_USER", "postgres"),
			Password: getEnvOrDefault("DB_PASSWORD", ""),
			DBName:   getEnvOrDefault("DB_NAME", "relister"),
		},
		Redis: RedisConfig{
			Enabled: getBoolOrDefault("REDIS_ENABLED", false),
			Addr:    getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
			DB:      getIntOrDefault("REDIS_DB", 0),
		},
		Logging: LoggingConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "json"),
		},
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Scraper.RateLimitMin > c.Scraper.RateLimitMax {
		return fmt.Errorf("SCRAPER_RATE_LIMIT_MIN cannot be greater than SCRAPER_RATE_LIMIT_MAX")
	}
	if c.Ebay.ClientID == "" || c.Ebay.ClientSecret == "" {
		return fmt.Errorf("EBAY_CLIENT_ID and EBAY_CLIENT_SECRET must be set")
	}
	if c.Ebay.FixedFee < 0 {
		return fmt.Errorf("EBAY_FIXED_FEE cannot be negative")
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
