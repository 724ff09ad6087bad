package risk

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/songzhibin97/shannon/internal/trading"
)

type BasicRiskManager struct {
	params     RiskParameters
	mu         sync.Mutex
	dailyStats struct {
		tradingVolume float64
		tradeCount    int
	}
	statsDay time.Time
	now      func() time.Time
}

func NewBasicRiskManager(initialParams RiskParameters) *BasicRiskManager {
	rm := &BasicRiskManager{
		params: initialParams,
		now:    time.Now,
	}
	rm.statsDay = day(rm.now())
	return rm
}

func (rm *BasicRiskManager) CheckTradeRisk(ctx context.Context, order *trading.Order) (*RiskAssessment, error) {
	rm.mu.Lock()
	rm.rollover()
	params := rm.params
	volume := rm.dailyStats.tradingVolume
	count := rm.dailyStats.tradeCount
	rm.mu.Unlock()

	assessment := &RiskAssessment{
		IsAcceptable:    true,
		RiskLevel:       0,
		RiskFactors:     make([]string, 0),
		Recommendations: make([]string, 0),
	}

	// 计算订单总值
	orderValue, _ := order.EstimatedValue().Float64()

	// 检查单笔金额
	if params.MaxOrderValue > 0 && orderValue > params.MaxOrderValue {
		assessment.IsAcceptable = false
		assessment.RiskLevel += 0.3
		assessment.RiskFactors = append(assessment.RiskFactors,
			fmt.Sprintf("Order value %.2f exceeds maximum allowed", orderValue))
		assessment.Recommendations = append(assessment.Recommendations,
			fmt.Sprintf("Reduce order value below %.2f", params.MaxOrderValue))
	}

	// 检查市价单风险
	if order.ExecutionType == trading.Market {
		assessment.RiskLevel += 0.1
		assessment.RiskFactors = append(assessment.RiskFactors,
			"Market order may result in slippage")
		assessment.Recommendations = append(assessment.Recommendations,
			"Consider using limit order for better price control")
	}

	// 检查交易量限制
	if params.MaxDailyVolume > 0 && volume+orderValue > params.MaxDailyVolume {
		assessment.IsAcceptable = false
		assessment.RiskLevel += 0.2
		assessment.RiskFactors = append(assessment.RiskFactors,
			"Daily trading volume would exceed safe limits")
		assessment.Recommendations = append(assessment.Recommendations,
			"Reduce trading volume or wait for daily reset")
	}

	// 检查交易频率
	if params.MaxDailyTrades > 0 && count >= params.MaxDailyTrades {
		assessment.IsAcceptable = false
		assessment.RiskLevel += 0.15
		assessment.RiskFactors = append(assessment.RiskFactors,
			"Daily trade count limit reached")
		assessment.Recommendations = append(assessment.Recommendations,
			"Wait for daily reset")
	}

	return assessment, nil
}

func (rm *BasicRiskManager) RecordTrade(ctx context.Context, order *trading.Order) {
	value, _ := order.EstimatedValue().Float64()

	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.rollover()
	rm.dailyStats.tradingVolume += value
	rm.dailyStats.tradeCount++
}

func (rm *BasicRiskManager) SetRiskParameters(ctx context.Context, params *RiskParameters) error {
	if params.MaxOrderValue < 0 || params.MaxDailyVolume < 0 || params.MaxDailyTrades < 0 {
		return fmt.Errorf("invalid risk parameters: values must not be negative")
	}

	rm.mu.Lock()
	rm.params = *params
	rm.mu.Unlock()

	return nil
}

// rollover resets the daily stats when the UTC day changed. Callers hold mu.
func (rm *BasicRiskManager) rollover() {
	today := day(rm.now())
	if today.After(rm.statsDay) {
		rm.dailyStats.tradingVolume = 0
		rm.dailyStats.tradeCount = 0
		rm.statsDay = today
	}
}

func day(t time.Time) time.Time {
	return t.UTC().Truncate(24 * time.Hour)
}

// Reject converts a failed assessment into the per-order rejection the
// tracker reports. It returns nil for an acceptable assessment.
func Reject(order *trading.Order, assessment *RiskAssessment) error {
	if assessment == nil || assessment.IsAcceptable {
		return nil
	}
	return &trading.RejectedOrderError{
		Symbol:  order.Symbol,
		Source:  "risk",
		Message: strings.Join(assessment.RiskFactors, "; "),
	}
}
