package models

import (
	"sort"
	"time"
)

// Asset 账户持仓
type Asset struct {
	Symbol    string  `json:"symbol"`
	Amount    float64 `json:"amount"`    // total held
	Available float64 `json:"available"` // not reserved by open orders
}

// Ticker 行情快照
type Ticker struct {
	Symbol    string    `json:"symbol"`
	Ask       float64   `json:"ask"`
	Bid       float64   `json:"bid"`
	Last      float64   `json:"last"`
	Volume    float64   `json:"volume"`
	Timestamp time.Time `json:"timestamp"`
}

// Level is a single orderbook price level.
type Level struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// Orderbook 订单簿, asks ascending and bids descending by price
type Orderbook struct {
	Symbol string  `json:"symbol"`
	Asks   []Level `json:"asks"`
	Bids   []Level `json:"bids"`
}

// Sort orders asks ascending and bids descending by price.
func (o *Orderbook) Sort() {
	sort.SliceStable(o.Asks, func(i, j int) bool { return o.Asks[i].Price < o.Asks[j].Price })
	sort.SliceStable(o.Bids, func(i, j int) bool { return o.Bids[i].Price > o.Bids[j].Price })
}

// BestAsk returns the lowest ask, false when the book side is empty.
func (o *Orderbook) BestAsk() (Level, bool) {
	if len(o.Asks) == 0 {
		return Level{}, false
	}
	return o.Asks[0], true
}

// BestBid returns the highest bid, false when the book side is empty.
func (o *Orderbook) BestBid() (Level, bool) {
	if len(o.Bids) == 0 {
		return Level{}, false
	}
	return o.Bids[0], true
}

// Holding is one symbol's share of a portfolio valuation.
type Holding struct {
	Symbol string  `json:"symbol"`
	Amount float64 `json:"amount"`
	Price  float64 `json:"price"`
	Value  float64 `json:"value"`
}

// PortfolioSnapshot 组合估值快照
type PortfolioSnapshot struct {
	TakenAt         time.Time `json:"taken_at"`
	Exchange        string    `json:"exchange"`
	TotalValue      float64   `json:"total_value"`
	Entropy         float64   `json:"entropy"`
	ProposedEntropy float64   `json:"proposed_entropy"`
	Orders          int       `json:"orders"`
	Holdings        []Holding `json:"holdings"`
}
