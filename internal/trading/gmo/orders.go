package gmo

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/songzhibin97/shannon/internal/trading"
)

// statusMapping translates GMO order statuses to the canonical vocabulary.
var statusMapping = map[string]trading.OrderStatus{
	"WAITING":   trading.Active,
	"ORDERED":   trading.Active,
	"MODIFYING": trading.Modifying,
	"CANCELING": trading.Modifying,
	"EXECUTED":  trading.Completed,
	"CANCELED":  trading.Canceled,
	"EXPIRED":   trading.Expired,
}

// MapStatus returns the canonical status of a GMO order status.
func MapStatus(status string) (trading.OrderStatus, error) {
	s, ok := statusMapping[status]
	if !ok {
		return "", &trading.ProtocolError{Field: "order status", Value: status}
	}
	return s, nil
}

type orderRequest struct {
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	ExecutionType string `json:"executionType"`
	TimeInForce   string `json:"timeInForce,omitempty"`
	Price         string `json:"price,omitempty"`
	LosscutPrice  string `json:"losscutPrice,omitempty"`
	Size          string `json:"size"`
	CancelBefore  bool   `json:"cancelBefore,omitempty"`
}

func (c *Client) PostOrder(ctx context.Context, o *trading.Order) (string, error) {
	req := orderRequest{
		Symbol:        o.Symbol,
		Side:          o.Side.String(),
		ExecutionType: string(o.ExecutionType),
		TimeInForce:   string(o.TimeInForce),
		Size:          o.Size.String(),
		CancelBefore:  o.CancelBefore,
	}
	if o.ExecutionType != trading.Market && o.Price != nil {
		req.Price = o.Price.String()
	}
	if o.LosscutPrice != nil {
		req.LosscutPrice = o.LosscutPrice.String()
	}

	var id string
	err := c.privatePost(ctx, "/v1/order", req, &id)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Rejection() {
		return "", &trading.RejectedOrderError{Symbol: o.Symbol, Source: "exchange", Message: apiErr.message()}
	}
	if err != nil {
		return "", fmt.Errorf("failed to post order for %s: %w", o.Symbol, err)
	}
	if id == "" {
		return "", fmt.Errorf("empty order id for %s", o.Symbol)
	}
	return id, nil
}

type orderData struct {
	OrderID      int64     `json:"orderId"`
	Symbol       string    `json:"symbol"`
	Side         string    `json:"side"`
	Size         string    `json:"size"`
	ExecutedSize string    `json:"executedSize"`
	Price        string    `json:"price"`
	Status       string    `json:"status"`
	Timestamp    time.Time `json:"timestamp"`
}

func (c *Client) GetOrders(ctx context.Context, orderIDs []string) ([]trading.OrderReport, error) {
	if len(orderIDs) == 0 {
		return nil, nil
	}

	var data struct {
		List []orderData `json:"list"`
	}
	params := map[string]string{"orderId": strings.Join(orderIDs, ",")}
	if err := c.privateGet(ctx, "/v1/orders", params, &data); err != nil {
		return nil, err
	}

	reports := make([]trading.OrderReport, 0, len(data.List))
	for _, d := range data.List {
		status, err := MapStatus(d.Status)
		if err != nil {
			return nil, err
		}
		executed, err := parseFloat("executedSize", d.ExecutedSize)
		if err != nil {
			return nil, err
		}
		reports = append(reports, trading.OrderReport{
			ID:           strconv.FormatInt(d.OrderID, 10),
			Symbol:       d.Symbol,
			Status:       status,
			ExecutedSize: executed,
			Timestamp:    d.Timestamp,
		})
	}
	return reports, nil
}

func (c *Client) CancelOrders(ctx context.Context, orderIDs []string) error {
	if len(orderIDs) == 0 {
		return nil
	}

	ids := make([]int64, 0, len(orderIDs))
	for _, id := range orderIDs {
		n, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid order id %q: %w", id, err)
		}
		ids = append(ids, n)
	}

	var data struct {
		Success []int64 `json:"success"`
		Failed  []struct {
			OrderID int64  `json:"orderId"`
			Code    string `json:"message_code"`
			Message string `json:"message_string"`
		} `json:"failed"`
	}
	if err := c.privatePost(ctx, "/v1/cancelOrders", map[string][]int64{"orderIds": ids}, &data); err != nil {
		return err
	}

	// orders that already finished cannot be canceled; the next refresh
	// reports their real status
	for _, f := range data.Failed {
		c.logger.Warnw("cancel failed", "order_id", f.OrderID, "code", f.Code, "message", f.Message)
	}
	return nil
}
