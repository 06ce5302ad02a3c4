package symbols

import (
	"strings"
	"unicode"

	"rqbridge/models"
)

// exchangeToRQ maps platform exchanges to the provider's venue codes.
var exchangeToRQ = map[models.Exchange]string{
	models.ExchangeSSE:   "XSHG",
	models.ExchangeSZSE:  "XSHE",
	models.ExchangeCFFEX: "CFFEX",
	models.ExchangeSHFE:  "SHFE",
	models.ExchangeDCE:   "DCE",
	models.ExchangeCZCE:  "CZCE",
	models.ExchangeINE:   "INE",
	models.ExchangeGFEX:  "GFEX",
}

var rqToExchange = func() map[string]models.Exchange {
	m := make(map[string]models.Exchange, len(exchangeToRQ))
	for k, v := range exchangeToRQ {
		m[v] = k
	}
	return m
}()

// futuresExchanges are the derivatives venues whose contract codes need
// product/time splitting.
var futuresExchanges = map[models.Exchange]struct{}{
	models.ExchangeCFFEX: {},
	models.ExchangeSHFE:  {},
	models.ExchangeCZCE:  {},
	models.ExchangeDCE:   {},
	models.ExchangeINE:   {},
	models.ExchangeGFEX:  {},
}

// czceContinuous are CZCE continuous/index contract codes passed through
// untouched. Exchange folklore, kept as a literal table.
var czceContinuous = map[string]struct{}{
	"88":  {},
	"888": {},
	"99":  {},
	"889": {},
}

// ToRQExchange returns the provider venue code for a platform exchange.
func ToRQExchange(exchange models.Exchange) (string, bool) {
	v, ok := exchangeToRQ[exchange]
	return v, ok
}

// FromRQExchange resolves a provider venue code back to the platform
// exchange.
func FromRQExchange(venue string) (models.Exchange, bool) {
	e, ok := rqToExchange[venue]
	return e, ok
}

// IsFuturesExchange reports whether the exchange is a derivatives venue.
func IsFuturesExchange(exchange models.Exchange) bool {
	_, ok := futuresExchanges[exchange]
	return ok
}

// Set is a collection of known provider symbols used to disambiguate
// CZCE contract centuries. A nil Set contains nothing.
type Set map[string]struct{}

func NewSet(symbols ...string) Set {
	s := make(Set, len(symbols))
	for _, sym := range symbols {
		s[sym] = struct{}{}
	}
	return s
}

func (s Set) Add(symbol string) {
	s[symbol] = struct{}{}
}

func (s Set) Contains(symbol string) bool {
	_, ok := s[symbol]
	return ok
}

// ToRQSymbol converts a platform (symbol, exchange) pair to the
// provider's order-book id. Pure string transform: the known set is the
// only external input, consulted solely for CZCE century guessing.
func ToRQSymbol(symbol string, exchange models.Exchange, known Set) string {
	switch {
	case exchange == models.ExchangeSSE:
		return symbol + ".XSHG"
	case exchange == models.ExchangeSZSE:
		return symbol + ".XSHE"
	case exchange == models.ExchangeSGE:
		cleaned := strings.NewReplacer("(", "", ")", "", "+", "").Replace(symbol)
		return strings.ToUpper(cleaned) + ".SGEX"
	case IsFuturesExchange(exchange):
		return derivativeSymbol(symbol, exchange, known)
	default:
		return symbol + "." + string(exchange)
	}
}

func derivativeSymbol(symbol string, exchange models.Exchange, known Set) string {
	cut := strings.IndexFunc(symbol, unicode.IsDigit)
	if cut < 0 {
		return strings.ToUpper(symbol)
	}

	product := symbol[:cut]
	timeStr := symbol[cut:]

	if isDigits(timeStr) {
		// Futures contract. Only CZCE drops the century digit from its
		// codes and needs it guessed back.
		if exchange != models.ExchangeCZCE {
			return strings.ToUpper(symbol)
		}

		if _, ok := czceContinuous[timeStr]; ok {
			return symbol
		}

		return guessCZCECentury(product, timeStr[:1], timeStr[1:], known)
	}

	// Options and the secondary continuous contract.
	if timeStr == "88A2" {
		return strings.ToUpper(symbol)
	}

	if exchange != models.ExchangeCZCE {
		return strings.ToUpper(strings.ReplaceAll(symbol, "-", ""))
	}

	return guessCZCECentury(product, timeStr[:1], timeStr[1:], known)
}

// guessCZCECentury builds the 2010s and 2020s candidates for a CZCE code
// and prefers the 2020s one when the provider actually lists it.
func guessCZCECentury(product, year, suffix string, known Set) string {
	guess1 := strings.ToUpper(product + "1" + year + suffix)
	guess2 := strings.ToUpper(product + "2" + year + suffix)

	if known.Contains(guess2) {
		return guess2
	}
	return guess1
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
