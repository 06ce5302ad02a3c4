package models

import (
	"fmt"
	"math"
	"time"
)

// HistoryRequest describes one historical query. Start <= End is the
// caller's responsibility.
type HistoryRequest struct {
	Symbol   string
	Exchange Exchange
	Interval Interval
	Start    time.Time
	End      time.Time
}

// VTSymbol returns the platform-wide identifier "symbol.exchange".
func (r HistoryRequest) VTSymbol() string {
	return fmt.Sprintf("%s.%s", r.Symbol, r.Exchange)
}

// BarData is one normalized OHLCV bar. Datetime labels the start of the
// aggregation period in ChinaTZ.
type BarData struct {
	Symbol       string
	Exchange     Exchange
	Interval     Interval
	Datetime     time.Time
	Open         float64
	High         float64
	Low          float64
	Close        float64
	Volume       float64
	Turnover     float64
	OpenInterest float64

	// Extra carries provider fields outside the fixed schema (iopv for
	// ETF bars).
	Extra map[string]float64
}

// TickData is one normalized market snapshot, from either tick history
// or a live push. Level 0 of the depth arrays is the best quote.
type TickData struct {
	Symbol       string
	Exchange     Exchange
	Name         string
	Datetime     time.Time
	Last         float64
	Open         float64
	High         float64
	Low          float64
	PreClose     float64
	Volume       float64
	Turnover     float64
	OpenInterest float64
	LimitUp      float64
	LimitDown    float64

	BidPrice  [5]float64
	AskPrice  [5]float64
	BidVolume [5]float64
	AskVolume [5]float64
}

// ContractData is the static metadata of one tradable instrument,
// published once per connection during the catalog build.
type ContractData struct {
	Symbol    string
	Exchange  Exchange
	Name      string
	Product   Product
	Size      float64
	PriceTick float64
	MinVolume float64
}

// SubscribeRequest asks the gateway for live ticks of one instrument.
type SubscribeRequest struct {
	Symbol   string
	Exchange Exchange
}

// OrderRequest exists to satisfy the host gateway contract. The
// rqbridge gateway is quote-only and never routes it anywhere.
type OrderRequest struct {
	Symbol    string
	Exchange  Exchange
	Direction string
	Price     float64
	Volume    float64
}

// CancelRequest mirrors OrderRequest: accepted, never acted on.
type CancelRequest struct {
	OrderID  string
	Symbol   string
	Exchange Exchange
}

// RoundTo rounds value to the nearest multiple of target. A zero or
// negative target returns value unchanged.
func RoundTo(value, target float64) float64 {
	if target <= 0 {
		return value
	}
	return math.Round(value/target) * target
}
