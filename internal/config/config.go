package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	appErrors "github.com/unclebandit/cartrecovery/internal/errors"
)

// Config holds application configuration.
type Config struct {
	ServiceName string
	HTTPAddr    string
	LogLevel    string
	LogFormat   string

	DB    DBConfig
	Redis RedisConfig

	AMQPURL    string
	SalesQueue string

	StoreName  string
	CartURL    string
	SalesEmail string

	Checker CheckerConfig

	OpenAI  OpenAIConfig
	Shopify ShopifyConfig
	Graph   GraphConfig
}

type DBConfig struct {
	URL          string
	Host         string
	Port         string
	Name         string
	User         string
	Password     string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

// DSN prefers DATABASE_URL and falls back to the discrete settings.
func (c DBConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type CheckerConfig struct {
	Window            time.Duration
	BatchLimit        int
	Interval          time.Duration
	LockTTL           time.Duration
	GenerationTimeout time.Duration
	DiscountTimeout   time.Duration
	DeliveryTimeout   time.Duration
}

type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

func (c OpenAIConfig) Enabled() bool { return c.APIKey != "" }

type ShopifyConfig struct {
	ShopDomain  string
	AccessToken string
}

func (c ShopifyConfig) Enabled() bool { return c.ShopDomain != "" && c.AccessToken != "" }

type GraphConfig struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	Sender       string
}

// Validate reports the first missing Graph setting.
func (c GraphConfig) Validate() error {
	switch {
	case c.TenantID == "":
		return appErrors.NewConfiguration("AZURE_TENANT_ID")
	case c.ClientID == "":
		return appErrors.NewConfiguration("AZURE_CLIENT_ID")
	case c.ClientSecret == "":
		return appErrors.NewConfiguration("AZURE_CLIENT_SECRET")
	case c.Sender == "":
		return appErrors.NewConfiguration("GRAPH_SENDER")
	}
	return nil
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		ServiceName: getenv("APP_SERVICE", "cartrecovery"),
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),
		LogLevel:    getenv("LOG_LEVEL", "info"),
		LogFormat:   getenv("LOG_FORMAT", "json"),
		DB: DBConfig{
			URL:          getenv("DATABASE_URL", ""),
			Host:         getenv("DB_HOST", "localhost"),
			Port:         getenv("DB_PORT", "5432"),
			Name:         getenv("DB_NAME", "cartrecovery"),
			User:         getenv("DB_USER", "postgres"),
			Password:     getenv("DB_PASSWORD", ""),
			SSLMode:      getenv("DB_SSLMODE", "disable"),
			MaxOpenConns: getenvInt("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns: getenvInt("DB_MAX_IDLE_CONNS", 5),
		},
		Redis: RedisConfig{
			Addr:     getenv("REDIS_ADDR", ""),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       getenvInt("REDIS_DB", 0),
		},
		AMQPURL:    getenv("AMQP_URL", ""),
		SalesQueue: getenv("SALES_QUEUE", "sales_followups"),
		StoreName:  getenv("STORE_NAME", "Our Store"),
		CartURL:    getenv("STORE_CART_URL", ""),
		SalesEmail: getenv("SALES_EMAIL", ""),
		Checker: CheckerConfig{
			Window:            getenvDuration("CHECKER_WINDOW", 7*24*time.Hour),
			BatchLimit:        getenvInt("CHECKER_BATCH_LIMIT", 50),
			Interval:          getenvDuration("CHECKER_INTERVAL", time.Hour),
			LockTTL:           getenvDuration("CHECKER_LOCK_TTL", 15*time.Minute),
			GenerationTimeout: getenvDuration("GENERATION_TIMEOUT", 30*time.Second),
			DiscountTimeout:   getenvDuration("DISCOUNT_TIMEOUT", 15*time.Second),
			DeliveryTimeout:   getenvDuration("DELIVERY_TIMEOUT", 20*time.Second),
		},
		OpenAI: OpenAIConfig{
			APIKey:  strings.TrimSpace(getenv("OPENAI_API_KEY", "")),
			BaseURL: getenv("OPENAI_BASE_URL", ""),
			Model:   getenv("OPENAI_MODEL", "gpt-4"),
		},
		Shopify: ShopifyConfig{
			ShopDomain:  strings.TrimSpace(getenv("SHOPIFY_SHOP_DOMAIN", "")),
			AccessToken: strings.TrimSpace(getenv("SHOPIFY_ACCESS_TOKEN", "")),
		},
		Graph: GraphConfig{
			TenantID:     getenv("AZURE_TENANT_ID", ""),
			ClientID:     getenv("AZURE_CLIENT_ID", ""),
			ClientSecret: getenv("AZURE_CLIENT_SECRET", ""),
			Sender:       getenv("GRAPH_SENDER", ""),
		},
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}
