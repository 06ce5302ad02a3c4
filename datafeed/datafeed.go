package datafeed

import (
	"context"
	"strings"
	"sync"
	"time"
	"unicode"

	"rqbridge/config"
	"rqbridge/internal/symbols"
	"rqbridge/logger"
	"rqbridge/models"
	"rqbridge/rqclient"
)

// API is the slice of the provider client the datafeed depends on.
// Tests substitute a fake returning canned rows.
type API interface {
	Init(ctx context.Context, username, password string) error
	AllInstruments(ctx context.Context, instrumentType string) ([]rqclient.Instrument, error)
	GetPrice(ctx context.Context, q rqclient.PriceQuery) ([]rqclient.PriceRow, error)
	GetDominantPrice(ctx context.Context, q rqclient.PriceQuery) ([]rqclient.PriceRow, error)
}

var intervalToRQ = map[models.Interval]string{
	models.IntervalMinute: "1m",
	models.IntervalHour:   "60m",
	models.IntervalDaily:  "1d",
}

// intervalAdjustment shifts the provider's period-end bar timestamps
// back to the platform's period-start convention.
var intervalAdjustment = map[models.Interval]time.Duration{
	models.IntervalMinute: time.Minute,
	models.IntervalHour:   time.Hour,
	models.IntervalDaily:  0,
}

const priceRoundTarget = 0.000001

var barFields = []string{"open", "high", "low", "close", "volume", "total_turnover"}

var tickFields = []string{
	"open", "high", "low", "last", "prev_close",
	"volume", "total_turnover", "limit_up", "limit_down",
	"b1", "b2", "b3", "b4", "b5",
	"a1", "a2", "a3", "a4", "a5",
	"b1_v", "b2_v", "b3_v", "b4_v", "b5_v",
	"a1_v", "a2_v", "a3_v", "a4_v", "a5_v",
}

// Datafeed answers historical bar and tick queries against the
// provider. All failures are logged and yield an empty result; callers
// cannot distinguish "no data in range" from "query failed" (known
// limitation, kept for the consuming UI's sake).
type Datafeed struct {
	cfg *config.Config
	api API
	log *logger.Log

	mu      sync.Mutex
	inited  bool
	symbols symbols.Set
}

func New(cfg *config.Config, api API) *Datafeed {
	return &Datafeed{
		cfg: cfg,
		api: api,
		log: logger.GetLogger(),
	}
}

// Init authenticates lazily and caches the provider's symbol catalog.
// Returns false (after logging) on empty credentials or any provider
// failure; queries then come back empty.
func (d *Datafeed) Init(ctx context.Context) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.initLocked(ctx)
}

func (d *Datafeed) initLocked(ctx context.Context) bool {
	if d.inited {
		return true
	}

	log := d.log.WithComponent("datafeed")

	if d.cfg.Datafeed.Username == "" {
		log.Error("datafeed init failed: username is empty")
		return false
	}
	if d.cfg.Datafeed.Password == "" {
		log.Error("datafeed init failed: password is empty")
		return false
	}

	if err := d.api.Init(ctx, d.cfg.Datafeed.Username, d.cfg.Datafeed.Password); err != nil {
		log.WithError(err).Error("datafeed init failed")
		return false
	}

	instruments, err := d.api.AllInstruments(ctx, "")
	if err != nil {
		log.WithError(err).Error("datafeed failed to load instrument catalog")
		return false
	}

	known := make(symbols.Set, len(instruments))
	for _, ins := range instruments {
		known.Add(ins.OrderBookID)
	}
	d.symbols = known

	log.WithFields(logger.Fields{"symbols": len(known)}).Info("datafeed initialized")
	d.inited = true
	return true
}

func (d *Datafeed) ensureInited(ctx context.Context) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.initLocked(ctx)
}

// QueryBarHistory returns the bars for one request, ordered as the
// provider returned them. Derivatives requests whose code carries no
// digits reference the dominant continuous contract and are routed to
// the back-adjusted continuous series.
func (d *Datafeed) QueryBarHistory(ctx context.Context, req models.HistoryRequest) []models.BarData {
	if symbols.IsFuturesExchange(req.Exchange) && isAlpha(req.Symbol) {
		return d.queryDominantHistory(ctx, req)
	}
	return d.queryBarHistory(ctx, req)
}

func (d *Datafeed) queryBarHistory(ctx context.Context, req models.HistoryRequest) []models.BarData {
	log := d.log.WithComponent("datafeed")

	if !d.ensureInited(ctx) {
		return []models.BarData{}
	}

	rqSymbol, ok := d.resolveSymbol(req.Symbol, req.Exchange)
	if !ok {
		log.WithFields(logger.Fields{"vt_symbol": req.VTSymbol()}).Error("bar query failed: unsupported contract")
		return []models.BarData{}
	}

	rqInterval, ok := intervalToRQ[req.Interval]
	if !ok {
		log.WithFields(logger.Fields{"interval": string(req.Interval)}).Error("bar query failed: unsupported interval")
		return []models.BarData{}
	}

	fields := append([]string{}, barFields...)
	wantIOPV := false

	// Open interest only exists for derivatives; ETFs report iopv
	// instead.
	if !isDigits(req.Symbol) {
		fields = append(fields, "open_interest")
	} else if hasETFPrefix(req.Symbol) {
		fields = append(fields, "iopv")
		wantIOPV = true
	}

	// Equities are queried pre-adjusted, everything else raw.
	adjustType := "none"
	if strings.HasSuffix(rqSymbol, ".XSHG") || strings.HasSuffix(rqSymbol, ".XSHE") {
		adjustType = "pre_volume"
	}

	rows, err := d.api.GetPrice(ctx, rqclient.PriceQuery{
		Symbol:    rqSymbol,
		Frequency: rqInterval,
		Fields:    fields,
		Start:     req.Start,
		// One extra day so the overnight session the provider books on
		// the next nominal date is included.
		End:        req.End.AddDate(0, 0, 1),
		AdjustType: adjustType,
	})
	if err != nil {
		log.WithError(err).WithFields(logger.Fields{"vt_symbol": req.VTSymbol()}).Error("bar query failed")
		return []models.BarData{}
	}

	bars := d.rowsToBars(rows, req, wantIOPV)
	logger.IncrementBarQuery(len(bars))
	return bars
}

func (d *Datafeed) queryDominantHistory(ctx context.Context, req models.HistoryRequest) []models.BarData {
	log := d.log.WithComponent("datafeed")

	if !d.ensureInited(ctx) {
		return []models.BarData{}
	}

	rqInterval, ok := intervalToRQ[req.Interval]
	if !ok {
		log.WithFields(logger.Fields{"interval": string(req.Interval)}).Error("bar query failed: unsupported interval")
		return []models.BarData{}
	}

	fields := append([]string{}, barFields...)
	if !isDigits(req.Symbol) {
		fields = append(fields, "open_interest")
	}

	rows, err := d.api.GetDominantPrice(ctx, rqclient.PriceQuery{
		Symbol:     strings.ToUpper(req.Symbol),
		Frequency:  rqInterval,
		Fields:     fields,
		Start:      req.Start,
		End:        req.End.AddDate(0, 0, 1),
		AdjustType: "pre",
		// Splice contracts by the prev-close ratio at each rollover so
		// the series stays continuous.
		AdjustMethod: "prev_close_ratio",
	})
	if err != nil {
		log.WithError(err).WithFields(logger.Fields{"vt_symbol": req.VTSymbol()}).Error("dominant bar query failed")
		return []models.BarData{}
	}

	bars := d.rowsToBars(rows, req, false)
	logger.IncrementBarQuery(len(bars))
	return bars
}

func (d *Datafeed) rowsToBars(rows []rqclient.PriceRow, req models.HistoryRequest, wantIOPV bool) []models.BarData {
	adjustment := intervalAdjustment[req.Interval]

	bars := make([]models.BarData, 0, len(rows))
	for _, row := range rows {
		dt := row.Datetime.Add(-adjustment).In(models.ChinaTZ)
		if !dt.Before(req.End) {
			break
		}

		bar := models.BarData{
			Symbol:       req.Symbol,
			Exchange:     req.Exchange,
			Interval:     req.Interval,
			Datetime:     dt,
			Open:         models.RoundTo(row.Field("open"), priceRoundTarget),
			High:         models.RoundTo(row.Field("high"), priceRoundTarget),
			Low:          models.RoundTo(row.Field("low"), priceRoundTarget),
			Close:        models.RoundTo(row.Field("close"), priceRoundTarget),
			Volume:       row.Field("volume"),
			Turnover:     row.Field("total_turnover"),
			OpenInterest: row.Field("open_interest"),
		}

		if wantIOPV && row.Has("iopv") {
			bar.Extra = map[string]float64{"iopv": row.Field("iopv")}
		}

		bars = append(bars, bar)
	}
	return bars
}

// QueryTickHistory returns the recorded ticks for one request. Tick
// timestamps are instantaneous, so no period adjustment applies, and
// there is no dominant-contract fallback.
func (d *Datafeed) QueryTickHistory(ctx context.Context, req models.HistoryRequest) []models.TickData {
	log := d.log.WithComponent("datafeed")

	if !d.ensureInited(ctx) {
		return []models.TickData{}
	}

	rqSymbol, ok := d.resolveSymbol(req.Symbol, req.Exchange)
	if !ok {
		log.WithFields(logger.Fields{"vt_symbol": req.VTSymbol()}).Error("tick query failed: unsupported contract")
		return []models.TickData{}
	}

	fields := append([]string{}, tickFields...)
	if !isDigits(req.Symbol) {
		fields = append(fields, "open_interest")
	}

	rows, err := d.api.GetPrice(ctx, rqclient.PriceQuery{
		Symbol:     rqSymbol,
		Frequency:  "tick",
		Fields:     fields,
		Start:      req.Start,
		End:        req.End.AddDate(0, 0, 1),
		AdjustType: "none",
	})
	if err != nil {
		log.WithError(err).WithFields(logger.Fields{"vt_symbol": req.VTSymbol()}).Error("tick query failed")
		return []models.TickData{}
	}

	ticks := make([]models.TickData, 0, len(rows))
	for _, row := range rows {
		dt := row.Datetime.In(models.ChinaTZ)
		if !dt.Before(req.End) {
			break
		}

		tick := models.TickData{
			Symbol:       req.Symbol,
			Exchange:     req.Exchange,
			Datetime:     dt,
			Open:         row.Field("open"),
			High:         row.Field("high"),
			Low:          row.Field("low"),
			Last:         row.Field("last"),
			PreClose:     row.Field("prev_close"),
			Volume:       row.Field("volume"),
			Turnover:     row.Field("total_turnover"),
			OpenInterest: row.Field("open_interest"),
			LimitUp:      row.Field("limit_up"),
			LimitDown:    row.Field("limit_down"),
		}

		levels := [5]string{"1", "2", "3", "4", "5"}
		for i, n := range levels {
			tick.BidPrice[i] = row.Field("b" + n)
			tick.AskPrice[i] = row.Field("a" + n)
			tick.BidVolume[i] = row.Field("b" + n + "_v")
			tick.AskVolume[i] = row.Field("a" + n + "_v")
		}

		ticks = append(ticks, tick)
	}

	logger.IncrementTickQuery(len(ticks))
	return ticks
}

// resolveSymbol maps the request to a provider symbol and checks it
// against the cached catalog. Equity-venue codes already known to the
// provider (stock options) are used verbatim, without a venue suffix.
func (d *Datafeed) resolveSymbol(symbol string, exchange models.Exchange) (string, bool) {
	d.mu.Lock()
	known := d.symbols
	d.mu.Unlock()

	rqSymbol := symbol
	equityVenue := exchange == models.ExchangeSSE || exchange == models.ExchangeSZSE
	if !equityVenue || !known.Contains(symbol) {
		rqSymbol = symbols.ToRQSymbol(symbol, exchange, known)
	}

	return rqSymbol, known.Contains(rqSymbol)
}

func isAlpha(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return true
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

func hasETFPrefix(symbol string) bool {
	return strings.HasPrefix(symbol, "51") ||
		strings.HasPrefix(symbol, "58") ||
		strings.HasPrefix(symbol, "159")
}
