package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	appErrors "github.com/unclebandit/cartrecovery/internal/errors"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("CHECKER_BATCH_LIMIT", "")
	t.Setenv("OPENAI_API_KEY", "")

	cfg := Load()

	assert.Equal(t, 7*24*time.Hour, cfg.Checker.Window)
	assert.Equal(t, 50, cfg.Checker.BatchLimit)
	assert.Equal(t, "sales_followups", cfg.SalesQueue)
	assert.False(t, cfg.OpenAI.Enabled())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("CHECKER_BATCH_LIMIT", "10")
	t.Setenv("DELIVERY_TIMEOUT", "5s")
	t.Setenv("GENERATION_TIMEOUT", "not-a-duration")
	t.Setenv("SHOPIFY_SHOP_DOMAIN", "acme.myshopify.com")
	t.Setenv("SHOPIFY_ACCESS_TOKEN", "shpat")

	cfg := Load()

	assert.Equal(t, 10, cfg.Checker.BatchLimit)
	assert.Equal(t, 5*time.Second, cfg.Checker.DeliveryTimeout)
	assert.Equal(t, 30*time.Second, cfg.Checker.GenerationTimeout)
	assert.True(t, cfg.Shopify.Enabled())
}

func TestDBConfig_DSN(t *testing.T) {
	assert.Equal(t, "postgres://u:p@db:5432/carts?sslmode=disable",
		DBConfig{User: "u", Password: "p", Host: "db", Port: "5432", Name: "carts", SSLMode: "disable"}.DSN())
	assert.Equal(t, "postgres://x", DBConfig{URL: "postgres://x", Host: "ignored"}.DSN())
}

func TestGraphConfig_Validate(t *testing.T) {
	err := GraphConfig{TenantID: "t", ClientID: "c"}.Validate()

	var cfgErr *appErrors.ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "AZURE_CLIENT_SECRET", cfgErr.Setting)
	assert.NoError(t, GraphConfig{TenantID: "t", ClientID: "c", ClientSecret: "s", Sender: "a@b"}.Validate())
}
