package risk

import (
	"context"

	"github.com/songzhibin97/shannon/internal/trading"
)

// RiskManager defines the pre-submission checks applied to every order
type RiskManager interface {
	// CheckTradeRisk evaluates the risk of an order about to be posted
	CheckTradeRisk(ctx context.Context, order *trading.Order) (*RiskAssessment, error)

	// RecordTrade accounts an order the exchange accepted
	RecordTrade(ctx context.Context, order *trading.Order)

	// SetRiskParameters sets risk management parameters
	SetRiskParameters(ctx context.Context, params *RiskParameters) error
}

// RiskParameters 风险参数配置, zero disables a limit
type RiskParameters struct {
	MaxOrderValue  float64 `json:"max_order_value" yaml:"max_order_value"`   // 单笔最大金额 (settlement currency)
	MaxDailyVolume float64 `json:"max_daily_volume" yaml:"max_daily_volume"` // 每日最大成交额
	MaxDailyTrades int     `json:"max_daily_trades" yaml:"max_daily_trades"` // 每日最大下单次数
}

// RiskAssessment 风险评估结果
type RiskAssessment struct {
	IsAcceptable    bool     `json:"is_acceptable"`
	RiskLevel       float64  `json:"risk_level"`
	RiskFactors     []string `json:"risk_factors"`
	Recommendations []string `json:"recommendations"`
}
