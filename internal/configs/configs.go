package configs

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/songzhibin97/shannon/internal/quantize"
	"github.com/songzhibin97/shannon/internal/risk"
	"github.com/songzhibin97/shannon/internal/trading"
)

const (
	PriceSourceTicker    = "ticker"
	PriceSourceOrderbook = "orderbook"

	ExchangeGMO        = "gmo"
	ExchangeBinance    = "binance"
	ExchangeSimulation = "simulation"
)

// Environment variables that override file values.
const (
	EnvAPIKey      = "SHANNON_API_KEY"
	EnvSecretKey   = "SHANNON_SECRET_KEY"
	EnvDatabaseURL = "SHANNON_DATABASE_URL"
)

type Config struct {
	// 交易所配置
	Exchange ExchangeConfig `json:"exchange" yaml:"exchange"`

	// 基础配置
	Symbols          []string `json:"symbols" yaml:"symbols"`                     // 资产列表
	SettlementSymbol string   `json:"settlement_symbol" yaml:"settlement_symbol"` // 结算货币

	// 量化参数
	MinLot     map[string]decimal.Decimal `json:"min_lot" yaml:"min_lot"`
	MaxLot     map[string]decimal.Decimal `json:"max_lot" yaml:"max_lot"`
	StepValues map[string]decimal.Decimal `json:"step_values" yaml:"step_values"`

	// 运行参数
	CycleDelay  string `json:"cycle_delay" yaml:"cycle_delay"`     // 周期间隔
	OrderPacing string `json:"order_pacing" yaml:"order_pacing"`   // 下单间隔
	TimeInForce string `json:"time_in_force" yaml:"time_in_force"` // FAK/FAS/FOK/SOK
	PriceSource string `json:"price_source" yaml:"price_source"`   // ticker/orderbook
	DryRun      bool   `json:"dry_run" yaml:"dry_run"`
	Proxy       string `json:"proxy" yaml:"proxy"`

	Database Database `json:"database" yaml:"database"`

	// 风险控制参数
	RiskParams risk.RiskParameters `json:"risk_parameters" yaml:"risk_parameters"`

	LogLevel string `json:"log_level" yaml:"log_level"`
	LogFile  string `json:"log_file" yaml:"log_file"`
}

type ExchangeConfig struct {
	Name      string `json:"name" yaml:"name"` // gmo/binance/simulation
	Debug     bool   `json:"debug" yaml:"debug"`
	APIKey    string `json:"api_key" yaml:"api_key"`       // 交易所API密钥
	SecretKey string `json:"secret_key" yaml:"secret_key"` // 交易所密钥

	// simulation only
	Market        string             `json:"market" yaml:"market"`                 // live exchange for quotes, empty for none
	InitialAssets map[string]float64 `json:"initial_assets" yaml:"initial_assets"` // 初始持仓
}

type Database struct {
	ConnStr string `json:"conn_str" yaml:"conn_str"` // 数据库连接字符串, empty disables the journal
}

// Load reads the configuration file at path, applies defaults and
// environment overrides, and validates the result. A .env file in the
// working directory is loaded first when present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(data, filepath.Ext(path))
	if err != nil {
		return nil, err
	}

	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes a YAML or JSON document, chosen by file extension, and
// applies defaults.
func Parse(data []byte, ext string) (*Config, error) {
	cfg := &Config{}

	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse yaml config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse json config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q", ext)
	}

	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Exchange.Name == "" {
		c.Exchange.Name = ExchangeGMO
	}
	if c.SettlementSymbol == "" {
		c.SettlementSymbol = "JPY"
	}
	if c.CycleDelay == "" {
		c.CycleDelay = "15s"
	}
	if c.OrderPacing == "" {
		c.OrderPacing = "400ms"
	}
	if c.TimeInForce == "" {
		c.TimeInForce = string(trading.SOK)
	}
	if c.PriceSource == "" {
		c.PriceSource = PriceSourceTicker
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}

	for _, s := range c.Symbols {
		if s == c.SettlementSymbol {
			return
		}
	}
	c.Symbols = append(c.Symbols, c.SettlementSymbol)
}

// ApplyEnv overrides credentials and the database connection from the
// environment.
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvAPIKey); v != "" {
		c.Exchange.APIKey = v
	}
	if v := os.Getenv(EnvSecretKey); v != "" {
		c.Exchange.SecretKey = v
	}
	if v := os.Getenv(EnvDatabaseURL); v != "" {
		c.Database.ConnStr = v
	}
}

// Validate checks the configuration. Missing quantization parameters are
// reported as *quantize.ConfigurationError.
func (c *Config) Validate() error {
	switch c.Exchange.Name {
	case ExchangeGMO, ExchangeBinance:
		if c.Exchange.APIKey == "" || c.Exchange.SecretKey == "" {
			return fmt.Errorf("exchange %s requires api_key and secret_key", c.Exchange.Name)
		}
	case ExchangeSimulation:
		switch c.Exchange.Market {
		case "", ExchangeGMO, ExchangeBinance:
		default:
			return fmt.Errorf("unknown simulation market %q", c.Exchange.Market)
		}
	default:
		return fmt.Errorf("unknown exchange %q", c.Exchange.Name)
	}

	if len(c.Tradable()) == 0 {
		return fmt.Errorf("at least one symbol besides %s is required", c.SettlementSymbol)
	}

	if _, err := c.CycleDelayDuration(); err != nil {
		return err
	}
	if _, err := c.OrderPacingDuration(); err != nil {
		return err
	}

	switch trading.TimeInForce(c.TimeInForce) {
	case trading.FAK, trading.FAS, trading.FOK, trading.SOK:
	default:
		return fmt.Errorf("invalid time_in_force %q", c.TimeInForce)
	}

	switch c.PriceSource {
	case PriceSourceTicker, PriceSourceOrderbook:
	default:
		return fmt.Errorf("invalid price_source %q", c.PriceSource)
	}

	if _, err := c.Quantization(); err != nil {
		return err
	}
	return nil
}

// Tradable returns the symbols without the settlement symbol.
func (c *Config) Tradable() []string {
	out := make([]string, 0, len(c.Symbols))
	for _, s := range c.Symbols {
		if s != c.SettlementSymbol {
			out = append(out, s)
		}
	}
	return out
}

// Quantization builds the lot and step tables and checks that every
// tradable symbol is covered.
func (c *Config) Quantization() (*quantize.Config, error) {
	q, err := quantize.NewConfig(c.MinLot, c.MaxLot, c.StepValues)
	if err != nil {
		return nil, err
	}
	if err := q.Check(c.Tradable()...); err != nil {
		return nil, err
	}
	return q, nil
}

func (c *Config) CycleDelayDuration() (time.Duration, error) {
	return parseDuration("cycle_delay", c.CycleDelay)
}

func (c *Config) OrderPacingDuration() (time.Duration, error) {
	return parseDuration("order_pacing", c.OrderPacing)
}

func parseDuration(field, v string) (time.Duration, error) {
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", field, v, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid %s %q: negative", field, v)
	}
	return d, nil
}
