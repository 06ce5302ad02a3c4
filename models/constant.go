package models

import "time"

// Exchange identifies a trading venue on the platform side.
type Exchange string

const (
	ExchangeSSE   Exchange = "SSE"
	ExchangeSZSE  Exchange = "SZSE"
	ExchangeSGE   Exchange = "SGE"
	ExchangeCFFEX Exchange = "CFFEX"
	ExchangeSHFE  Exchange = "SHFE"
	ExchangeDCE   Exchange = "DCE"
	ExchangeCZCE  Exchange = "CZCE"
	ExchangeINE   Exchange = "INE"
	ExchangeGFEX  Exchange = "GFEX"
)

// Interval is a bar aggregation period.
type Interval string

const (
	IntervalMinute Interval = "1m"
	IntervalHour   Interval = "1h"
	IntervalDaily  Interval = "d"
	IntervalTick   Interval = "tick"
)

// Product classifies an instrument.
type Product string

const (
	ProductEquity  Product = "equity"
	ProductIndex   Product = "index"
	ProductFund    Product = "fund"
	ProductFutures Product = "futures"
	ProductOption  Product = "option"
	ProductBond    Product = "bond"
)

// ChinaTZ is the local zone attached to every timestamp produced by the
// datafeed and the gateway. Falls back to a fixed UTC+8 offset when the
// tz database is unavailable.
var ChinaTZ = loadChinaTZ()

func loadChinaTZ() *time.Location {
	loc, err := time.LoadLocation("Asia/Shanghai")
	if err != nil {
		return time.FixedZone("CST", 8*60*60)
	}
	return loc
}
