package rqclient

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// Instrument is one row of the provider's instrument catalog.
type Instrument struct {
	OrderBookID        string  `json:"order_book_id"`
	TradingCode        string  `json:"trading_code"`
	Exchange           string  `json:"exchange"`
	Symbol             string  `json:"symbol"`
	Type               string  `json:"type"`
	RoundLot           float64 `json:"round_lot"`
	ContractMultiplier float64 `json:"contract_multiplier"`
}

// PriceQuery describes one historical price request.
type PriceQuery struct {
	Symbol       string    `json:"symbol"`
	Frequency    string    `json:"frequency"`
	Fields       []string  `json:"fields"`
	Start        time.Time `json:"start_date"`
	End          time.Time `json:"end_date"`
	AdjustType   string    `json:"adjust_type"`
	AdjustMethod string    `json:"adjust_method,omitempty"`
}

// PriceRow is one tabular row of a price response. Cells the provider
// could not supply are simply absent from the map.
type PriceRow struct {
	OrderBookID string
	Datetime    time.Time
	Values      map[string]float64
}

// Field returns the named cell, substituting zero for absent or
// non-finite values.
func (r PriceRow) Field(name string) float64 {
	v, ok := r.Values[name]
	if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// Has reports whether the row carries a usable value for the field.
func (r PriceRow) Has(name string) bool {
	v, ok := r.Values[name]
	return ok && !math.IsNaN(v) && !math.IsInf(v, 0)
}

// priceRowWire is the provider's row encoding: null cells mark missing
// data and are dropped during conversion.
type priceRowWire struct {
	OrderBookID string              `json:"order_book_id"`
	Datetime    time.Time           `json:"datetime"`
	Fields      map[string]*float64 `json:"fields"`
}

func (w priceRowWire) toRow() PriceRow {
	values := make(map[string]float64, len(w.Fields))
	for k, v := range w.Fields {
		if v == nil {
			continue
		}
		values[k] = *v
	}
	return PriceRow{
		OrderBookID: w.OrderBookID,
		Datetime:    w.Datetime,
		Values:      values,
	}
}

// TickPush is one live market snapshot pushed over the stream. Datetime
// is the provider's packed numeric form (yyyymmddHHMMSS plus fractional
// digits, no separators); json.Number preserves all digits. Depth
// arrays are present only for instruments with an order book.
type TickPush struct {
	OrderBookID   string      `json:"order_book_id"`
	Datetime      json.Number `json:"datetime"`
	Last          float64     `json:"last"`
	Open          float64     `json:"open"`
	High          float64     `json:"high"`
	Low           float64     `json:"low"`
	PrevClose     float64     `json:"prev_close"`
	Volume        float64     `json:"volume"`
	TotalTurnover float64     `json:"total_turnover"`
	OpenInterest  float64     `json:"open_interest"`
	LimitUp       float64     `json:"limit_up"`
	LimitDown     float64     `json:"limit_down"`
	Bid           []float64   `json:"bid,omitempty"`
	Ask           []float64   `json:"ask,omitempty"`
	BidVol        []float64   `json:"bid_vol,omitempty"`
	AskVol        []float64   `json:"ask_vol,omitempty"`
}

// APIError is a provider-declared failure (bad credentials, bad query,
// internal fault). Transport failures stay plain errors.
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("rqdata api error %d: %s", e.Code, e.Message)
}
