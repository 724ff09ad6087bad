package gmo

import (
	"context"
	"fmt"
	"time"

	"github.com/songzhibin97/shannon/internal/models"
)

func (c *Client) IsAvailable(ctx context.Context) (bool, error) {
	var data struct {
		Status string `json:"status"`
	}
	if err := c.publicGet(ctx, "/v1/status", nil, &data); err != nil {
		return false, err
	}
	return data.Status == "OPEN", nil
}

type tickerData struct {
	Symbol    string    `json:"symbol"`
	Ask       string    `json:"ask"`
	Bid       string    `json:"bid"`
	Last      string    `json:"last"`
	Volume    string    `json:"volume"`
	Timestamp time.Time `json:"timestamp"`
}

func (c *Client) GetTicker(ctx context.Context, symbols []string) (map[string]models.Ticker, error) {
	var data []tickerData
	if err := c.publicGet(ctx, "/v1/ticker", nil, &data); err != nil {
		return nil, err
	}

	wanted := set(symbols)
	ticker := make(map[string]models.Ticker, len(symbols))
	for _, d := range data {
		if !wanted[d.Symbol] {
			continue
		}

		t := models.Ticker{Symbol: d.Symbol, Timestamp: d.Timestamp}
		var err error
		if t.Ask, err = parseFloat("ask", d.Ask); err != nil {
			return nil, err
		}
		if t.Bid, err = parseFloat("bid", d.Bid); err != nil {
			return nil, err
		}
		if t.Last, err = parseFloat("last", d.Last); err != nil {
			return nil, err
		}
		if t.Volume, err = parseFloat("volume", d.Volume); err != nil {
			return nil, err
		}
		ticker[d.Symbol] = t
	}
	return ticker, nil
}

func (c *Client) GetAssets(ctx context.Context, symbols []string) (map[string]models.Asset, error) {
	var data []struct {
		Symbol    string `json:"symbol"`
		Amount    string `json:"amount"`
		Available string `json:"available"`
	}
	if err := c.privateGet(ctx, "/v1/account/assets", nil, &data); err != nil {
		return nil, err
	}

	wanted := set(symbols)
	assets := make(map[string]models.Asset, len(symbols))
	for _, d := range data {
		if !wanted[d.Symbol] {
			continue
		}

		amount, err := parseFloat("amount", d.Amount)
		if err != nil {
			return nil, err
		}
		available, err := parseFloat("available", d.Available)
		if err != nil {
			return nil, err
		}
		assets[d.Symbol] = models.Asset{Symbol: d.Symbol, Amount: amount, Available: available}
	}
	return assets, nil
}

type level struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

func (c *Client) GetOrderbook(ctx context.Context, symbol string) (*models.Orderbook, error) {
	var data struct {
		Symbol string  `json:"symbol"`
		Asks   []level `json:"asks"`
		Bids   []level `json:"bids"`
	}
	if err := c.publicGet(ctx, "/v1/orderbooks", map[string]string{"symbol": symbol}, &data); err != nil {
		return nil, err
	}

	book := &models.Orderbook{Symbol: symbol}
	var err error
	if book.Asks, err = levels(data.Asks); err != nil {
		return nil, fmt.Errorf("failed to parse %s asks: %w", symbol, err)
	}
	if book.Bids, err = levels(data.Bids); err != nil {
		return nil, fmt.Errorf("failed to parse %s bids: %w", symbol, err)
	}
	book.Sort()
	return book, nil
}

func levels(in []level) ([]models.Level, error) {
	out := make([]models.Level, 0, len(in))
	for _, l := range in {
		price, err := parseFloat("price", l.Price)
		if err != nil {
			return nil, err
		}
		size, err := parseFloat("size", l.Size)
		if err != nil {
			return nil, err
		}
		out = append(out, models.Level{Price: price, Size: size})
	}
	return out, nil
}

func set(symbols []string) map[string]bool {
	m := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		m[s] = true
	}
	return m
}
