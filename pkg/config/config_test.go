package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadWithDefaults_MissingFile(t *testing.T) {
	cfg, err := LoadWithDefaults(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)

	assert.Equal(t, "grandexchange", cfg.ServiceName)
	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.InDelta(t, 0.05, cfg.Exchange.SalesTaxPercent, 1e-9)
	assert.Equal(t, 3, cfg.Exchange.BuyOrderSlots)
	assert.Equal(t, 10, cfg.Exchange.OfferSlots)
	assert.Equal(t, 168*time.Hour, cfg.Exchange.OfferTTL())
	assert.Equal(t, 5000, cfg.Exchange.Cooldown.SellCreateMs)
	assert.Equal(t, 2000, cfg.Exchange.Cooldown.BuyToggleMs)
	assert.Equal(t, 1000, cfg.Exchange.Audit.LogSize)
	assert.Equal(t, "none", cfg.Exchange.Snapshot.Backend)
	assert.Equal(t, "grandexchange.trades", cfg.Exchange.Events.Topic)
	assert.False(t, cfg.Admin.Enabled)
	assert.Equal(t, 10*time.Minute, cfg.RateLimit.IdleTimeout())
	assert.Equal(t, 20, cfg.Exchange.MaxWatchesPerPlayer)
	assert.Equal(t, 168*time.Hour, cfg.Exchange.WatchTTL())
}

func TestLoad_FileAndEnvOverride(t *testing.T) {
	path := writeConfig(t, `
service_name = "ge-test"

[http]
port = 9000

[exchange]
sales_tax_percent = 0.02
items = ["iron_bar", "gold_bar"]

[exchange.cooldown]
sell_create_ms = 100
`)
	t.Setenv("APP_HTTP_PORT", "9100")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "ge-test", cfg.ServiceName)
	assert.Equal(t, 9100, cfg.HTTP.Port)
	assert.Equal(t, "0.0.0.0:9100", cfg.HTTP.Addr())
	assert.InDelta(t, 0.02, cfg.Exchange.SalesTaxPercent, 1e-9)
	assert.Equal(t, []string{"iron_bar", "gold_bar"}, cfg.Exchange.Items)
	assert.Equal(t, 100, cfg.Exchange.Cooldown.SellCreateMs)
	assert.Equal(t, 5000, cfg.Exchange.Cooldown.BuyCreateMs)
}

func TestLoad_MissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := map[string]string{
		"tax too high":    "[exchange]\nsales_tax_percent = 0.3\n",
		"audit too small": "[exchange.audit]\nlog_size = 10\n",
		"redis snapshot":  "[exchange.snapshot]\nbackend = \"redis\"\n",
		"mysql snapshot":  "[exchange.snapshot]\nbackend = \"mysql\"\n",
		"unknown backend": "[exchange.snapshot]\nbackend = \"s3\"\n",
		"events no kafka": "[exchange.events]\nenabled = true\n",
		"bad price range": "[exchange]\nmin_price_per_item = 10\nmax_price_per_item = 5\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.ErrorContains(t, err, "config validation failed")
		})
	}
}
