package gateway

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"rqbridge/config"
	"rqbridge/internal/channel"
	"rqbridge/internal/symbols"
	"rqbridge/logger"
	"rqbridge/models"
	"rqbridge/rqclient"
)

// LiveStream is the push transport the gateway listens on.
// *rqclient.LiveClient satisfies it; tests use a scripted fake.
type LiveStream interface {
	Subscribe(channel string) error
	Listen(handler func(rqclient.TickPush))
	Close() error
}

// API is the slice of the provider client the gateway depends on.
type API interface {
	Init(ctx context.Context, username, password string) error
	AllInstruments(ctx context.Context, instrumentType string) ([]rqclient.Instrument, error)
	OpenLive(ctx context.Context) (LiveStream, error)
}

// NewClientAPI adapts the concrete provider client to the API seam.
func NewClientAPI(c *rqclient.Client) API {
	return clientAPI{c}
}

type clientAPI struct {
	*rqclient.Client
}

func (a clientAPI) OpenLive(ctx context.Context) (LiveStream, error) {
	return a.Client.OpenLive(ctx)
}

// catalogTypes are the provider instrument categories enumerated during
// the catalog build.
var catalogTypes = []string{"CS", "INDX", "ETF", "Future"}

var productMap = map[string]models.Product{
	"CS":          models.ProductEquity,
	"INDX":        models.ProductIndex,
	"ETF":         models.ProductFund,
	"LOF":         models.ProductFund,
	"FUND":        models.ProductFund,
	"Future":      models.ProductFutures,
	"Option":      models.ProductOption,
	"Convertible": models.ProductBond,
	"Repo":        models.ProductBond,
}

// Gateway bridges the provider's live push stream onto the platform
// event channels. It is quote-only: the order and account methods exist
// to satisfy the host gateway contract and always report failure.
type Gateway struct {
	cfg    *config.Config
	api    API
	events *channel.Channels
	log    *logger.Log

	mu         sync.RWMutex
	stream     LiveStream
	subscribed map[string]struct{}
	futuresMap map[string]models.SubscribeRequest
	symbolMap  map[string]models.ContractData
}

func New(cfg *config.Config, api API, events *channel.Channels) *Gateway {
	return &Gateway{
		cfg:        cfg,
		api:        api,
		events:     events,
		log:        logger.GetLogger(),
		subscribed: make(map[string]struct{}),
		futuresMap: make(map[string]models.SubscribeRequest),
	}
}

// Connect authenticates, builds the contract catalog, opens the live
// stream and replays every accumulated subscription against it. A
// connected gateway ignores further Connect calls; any failure is
// logged and leaves the gateway disconnected.
func (g *Gateway) Connect(ctx context.Context) {
	log := g.log.WithComponent("gateway")

	g.mu.Lock()
	if g.stream != nil {
		g.mu.Unlock()
		return
	}
	g.mu.Unlock()

	if err := g.api.Init(ctx, g.cfg.Datafeed.Username, g.cfg.Datafeed.Password); err != nil {
		log.WithError(err).Error("gateway init failed")
		return
	}

	symbolMap, err := g.buildCatalog(ctx)
	if err != nil {
		log.WithError(err).Error("contract catalog query failed")
		return
	}

	stream, err := g.api.OpenLive(ctx)
	if err != nil {
		log.WithError(err).Error("failed to open live stream")
		return
	}

	stream.Listen(g.handleMsg)

	g.mu.Lock()
	// Wholesale swap: a reconnect replaces the previous catalog in one
	// assignment, never in place.
	g.symbolMap = symbolMap
	g.stream = stream
	channels := make([]string, 0, len(g.subscribed))
	for ch := range g.subscribed {
		channels = append(channels, ch)
	}
	g.mu.Unlock()

	for _, ch := range channels {
		if err := stream.Subscribe(ch); err != nil {
			log.WithError(err).WithFields(logger.Fields{"channel": ch}).Warn("failed to replay subscription")
		}
	}

	log.WithFields(logger.Fields{"subscriptions": len(channels)}).Info("gateway connected")
}

// Subscribe registers interest in one instrument. Safe before Connect:
// the accumulated set is replayed when the stream opens. Adding the
// same instrument twice is a no-op.
func (g *Gateway) Subscribe(req models.SubscribeRequest) {
	var rqChannel string

	if req.Exchange == models.ExchangeSSE || req.Exchange == models.ExchangeSZSE {
		venue, _ := symbols.ToRQExchange(req.Exchange)
		rqChannel = fmt.Sprintf("tick_%s.%s", req.Symbol, venue)
	} else {
		rqSymbol := strings.ToUpper(req.Symbol)
		rqChannel = "tick_" + rqSymbol

		g.mu.Lock()
		g.futuresMap[rqSymbol] = req
		g.mu.Unlock()
	}

	g.mu.Lock()
	g.subscribed[rqChannel] = struct{}{}
	stream := g.stream
	g.mu.Unlock()

	if stream != nil {
		if err := stream.Subscribe(rqChannel); err != nil {
			g.log.WithComponent("gateway").WithError(err).WithFields(logger.Fields{
				"channel": rqChannel,
			}).Warn("subscribe failed")
		}
	}
}

// Close shuts the live stream and waits for the listener to terminate;
// no tick is emitted after Close returns. The gateway can Connect again
// afterwards, rebuilding the catalog from scratch.
func (g *Gateway) Close() {
	g.mu.Lock()
	stream := g.stream
	g.stream = nil
	g.mu.Unlock()

	if stream == nil {
		return
	}

	if err := stream.Close(); err != nil {
		g.log.WithComponent("gateway").WithError(err).Warn("error closing live stream")
	}
	g.log.WithComponent("gateway").Info("gateway closed")
}

// SendOrder always fails: this gateway carries market data only.
func (g *Gateway) SendOrder(req models.OrderRequest) string {
	return ""
}

// CancelOrder is a documented no-op.
func (g *Gateway) CancelOrder(req models.CancelRequest) {}

// QueryAccount is a documented no-op: no trading session exists.
func (g *Gateway) QueryAccount() {}

// QueryPosition is a documented no-op: no trading session exists.
func (g *Gateway) QueryPosition() {}

// buildCatalog enumerates the provider instrument categories, publishes
// a contract event per instrument and returns the reverse-lookup table
// keyed by the provider's raw order-book id.
func (g *Gateway) buildCatalog(ctx context.Context) (map[string]models.ContractData, error) {
	log := g.log.WithComponent("gateway")
	symbolMap := make(map[string]models.ContractData)

	for _, instrumentType := range catalogTypes {
		instruments, err := g.api.AllInstruments(ctx, instrumentType)
		if err != nil {
			return nil, fmt.Errorf("list instruments %s: %w", instrumentType, err)
		}

		count := 0
		for _, ins := range instruments {
			contract, ok := g.toContract(instrumentType, ins)
			if !ok {
				continue
			}

			g.events.SendContract(contract)
			symbolMap[ins.OrderBookID] = contract
			count++
		}

		log.WithFields(logger.Fields{
			"type":      instrumentType,
			"contracts": count,
		}).Info("contract catalog loaded")
	}

	return symbolMap, nil
}

func (g *Gateway) toContract(instrumentType string, ins rqclient.Instrument) (models.ContractData, bool) {
	var symbol string
	var exchange models.Exchange
	var ok bool

	// Index rows carry their identity only in the order-book id.
	if instrumentType == "INDX" {
		code, venue, found := strings.Cut(ins.OrderBookID, ".")
		if !found {
			return models.ContractData{}, false
		}
		symbol = code
		exchange, ok = symbols.FromRQExchange(venue)
	} else {
		symbol = ins.TradingCode
		exchange, ok = symbols.FromRQExchange(ins.Exchange)
	}
	if !ok {
		return models.ContractData{}, false
	}

	product, ok := productMap[ins.Type]
	if !ok {
		return models.ContractData{}, false
	}

	size := 1.0
	priceTick := 0.01
	switch product {
	case models.ProductFund:
		priceTick = 0.001
	case models.ProductFutures:
		size = ins.ContractMultiplier
	}

	return models.ContractData{
		Symbol:    symbol,
		Exchange:  exchange,
		Name:      ins.Symbol,
		Product:   product,
		Size:      size,
		PriceTick: priceTick,
		MinVolume: ins.RoundLot,
	}, true
}

// handleMsg runs serially on the stream's listener goroutine.
func (g *Gateway) handleMsg(msg rqclient.TickPush) {
	log := g.log.WithComponent("gateway")

	g.mu.RLock()
	contract, ok := g.symbolMap[msg.OrderBookID]
	g.mu.RUnlock()
	if !ok {
		log.WithFields(logger.Fields{"order_book_id": msg.OrderBookID}).Warn("push for unsupported contract dropped")
		return
	}

	dt, err := parsePushTime(msg.Datetime.String())
	if err != nil {
		log.WithError(err).WithFields(logger.Fields{"order_book_id": msg.OrderBookID}).Warn("push with bad timestamp dropped")
		return
	}

	tick := models.TickData{
		Symbol:       contract.Symbol,
		Exchange:     contract.Exchange,
		Name:         contract.Name,
		Datetime:     dt,
		Last:         msg.Last,
		Open:         msg.Open,
		High:         msg.High,
		Low:          msg.Low,
		PreClose:     msg.PrevClose,
		Volume:       msg.Volume,
		Turnover:     msg.TotalTurnover,
		OpenInterest: msg.OpenInterest,
		LimitUp:      msg.LimitUp,
		LimitDown:    msg.LimitDown,
	}

	if len(msg.Bid) > 0 {
		copyLevels(tick.BidPrice[:], msg.Bid)
		copyLevels(tick.AskPrice[:], msg.Ask)
		copyLevels(tick.BidVolume[:], msg.BidVol)
		copyLevels(tick.AskVolume[:], msg.AskVol)
	}

	g.events.SendTick(tick)
}

func copyLevels(dst []float64, src []float64) {
	for i := 0; i < len(dst) && i < len(src); i++ {
		dst[i] = src[i]
	}
}

// parsePushTime decodes the provider's packed datetime: fourteen fixed
// digits of yyyymmddHHMMSS followed by optional fractional-second
// digits, all in exchange local time.
func parsePushTime(packed string) (time.Time, error) {
	if len(packed) < 14 {
		return time.Time{}, fmt.Errorf("packed datetime %q too short", packed)
	}

	base, err := time.ParseInLocation("20060102150405", packed[:14], models.ChinaTZ)
	if err != nil {
		return time.Time{}, err
	}

	frac := packed[14:]
	if frac == "" {
		return base, nil
	}
	if len(frac) > 9 {
		frac = frac[:9]
	}
	n, err := strconv.Atoi(frac)
	if err != nil {
		return time.Time{}, fmt.Errorf("packed datetime %q has bad fraction: %w", packed, err)
	}
	for i := len(frac); i < 9; i++ {
		n *= 10
	}

	return base.Add(time.Duration(n) * time.Nanosecond), nil
}
