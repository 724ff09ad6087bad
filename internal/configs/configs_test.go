package configs

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/songzhibin97/shannon/internal/quantize"
)

const sampleYAML = `
exchange:
  name: gmo
  api_key: key
  secret_key: secret
symbols: [BTC, ETH]
min_lot:
  BTC: 0.0001
  ETH: "0.01"
max_lot:
  BTC: 5
  ETH: 100
step_values:
  BTC: 1
  ETH: 1
risk_parameters:
  max_order_value: 50000
`

const sampleJSON = `{
  "exchange": {"name": "simulation", "initial_assets": {"BTC": 0.01, "JPY": 100000}},
  "symbols": ["BTC", "JPY"],
  "settlement_symbol": "JPY",
  "min_lot": {"BTC": "0.0001"},
  "max_lot": {"BTC": 5},
  "step_values": {"BTC": 1},
  "cycle_delay": "1m",
  "order_pacing": "0s",
  "price_source": "orderbook",
  "dry_run": true
}`

func TestParse_YAML(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML), ".yaml")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, []string{"BTC", "ETH", "JPY"}, cfg.Symbols)
	assert.Equal(t, []string{"BTC", "ETH"}, cfg.Tradable())
	assert.Equal(t, "JPY", cfg.SettlementSymbol)
	assert.Equal(t, "0.0001", cfg.MinLot["BTC"].String())
	assert.Equal(t, "0.01", cfg.MinLot["ETH"].String())
	assert.Equal(t, "SOK", cfg.TimeInForce)
	assert.Equal(t, PriceSourceTicker, cfg.PriceSource)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 50000.0, cfg.RiskParams.MaxOrderValue)

	delay, err := cfg.CycleDelayDuration()
	require.NoError(t, err)
	assert.Equal(t, 15*time.Second, delay)

	pacing, err := cfg.OrderPacingDuration()
	require.NoError(t, err)
	assert.Equal(t, 400*time.Millisecond, pacing)

	q, err := cfg.Quantization()
	require.NoError(t, err)
	size, err := q.SizeFromValue("BTC", 0.01234)
	require.NoError(t, err)
	assert.Equal(t, "0.0123", size.String())
}

func TestParse_JSON(t *testing.T) {
	cfg, err := Parse([]byte(sampleJSON), ".json")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ExchangeSimulation, cfg.Exchange.Name)
	assert.Equal(t, 100000.0, cfg.Exchange.InitialAssets["JPY"])
	assert.Equal(t, []string{"BTC", "JPY"}, cfg.Symbols)
	assert.True(t, cfg.DryRun)
	assert.Equal(t, PriceSourceOrderbook, cfg.PriceSource)

	pacing, err := cfg.OrderPacingDuration()
	require.NoError(t, err)
	assert.Zero(t, pacing)
}

func TestParse_UnsupportedFormat(t *testing.T) {
	_, err := Parse([]byte("a=b"), ".toml")
	assert.Error(t, err)

	_, err = Parse([]byte("symbols: [BTC"), ".yml")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "unknown exchange", mutate: func(c *Config) { c.Exchange.Name = "ftx" }, wantErr: "unknown exchange"},
		{name: "missing credentials", mutate: func(c *Config) { c.Exchange.SecretKey = "" }, wantErr: "secret_key"},
		{name: "simulation needs no credentials", mutate: func(c *Config) {
			c.Exchange = ExchangeConfig{Name: ExchangeSimulation, Market: ExchangeGMO}
		}},
		{name: "unknown simulation market", mutate: func(c *Config) {
			c.Exchange = ExchangeConfig{Name: ExchangeSimulation, Market: "kraken"}
		}, wantErr: "simulation market"},
		{name: "only settlement", mutate: func(c *Config) { c.Symbols = []string{"JPY"} }, wantErr: "at least one symbol"},
		{name: "bad cycle delay", mutate: func(c *Config) { c.CycleDelay = "soon" }, wantErr: "cycle_delay"},
		{name: "negative pacing", mutate: func(c *Config) { c.OrderPacing = "-1s" }, wantErr: "order_pacing"},
		{name: "bad time in force", mutate: func(c *Config) { c.TimeInForce = "GTC" }, wantErr: "time_in_force"},
		{name: "bad price source", mutate: func(c *Config) { c.PriceSource = "vwap" }, wantErr: "price_source"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Parse([]byte(sampleYAML), ".yaml")
			require.NoError(t, err)
			tt.mutate(cfg)

			err = cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_MissingQuantization(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML), ".yaml")
	require.NoError(t, err)
	delete(cfg.StepValues, "ETH")

	err = cfg.Validate()
	var cfgErr *quantize.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "ETH", cfgErr.Symbol)
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shannon.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o600))

	t.Setenv(EnvAPIKey, "env-key")
	t.Setenv(EnvSecretKey, "env-secret")
	t.Setenv(EnvDatabaseURL, "postgres://localhost/shannon?sslmode=disable")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "env-key", cfg.Exchange.APIKey)
	assert.Equal(t, "env-secret", cfg.Exchange.SecretKey)
	assert.Equal(t, "postgres://localhost/shannon?sslmode=disable", cfg.Database.ConnStr)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
