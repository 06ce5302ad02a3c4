package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"rqbridge/config"
	"rqbridge/internal/channel"
	"rqbridge/models"
	"rqbridge/rqclient"
)

type fakeStream struct {
	mu         sync.Mutex
	subscribes []string
	handler    func(rqclient.TickPush)
	closed     bool

	subscribeErr error
}

func (s *fakeStream) Subscribe(channel string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribes = append(s.subscribes, channel)
	return s.subscribeErr
}

func (s *fakeStream) Listen(handler func(rqclient.TickPush)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = handler
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeStream) push(msg rqclient.TickPush) {
	s.mu.Lock()
	handler := s.handler
	s.mu.Unlock()
	if handler != nil {
		handler(msg)
	}
}

func (s *fakeStream) channels() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string{}, s.subscribes...)
}

type fakeAPI struct {
	instruments map[string][]rqclient.Instrument
	stream      *fakeStream

	initErr        error
	instrumentsErr error
	openErr        error

	openCalls int
}

func (f *fakeAPI) Init(ctx context.Context, username, password string) error {
	return f.initErr
}

func (f *fakeAPI) AllInstruments(ctx context.Context, instrumentType string) ([]rqclient.Instrument, error) {
	if f.instrumentsErr != nil {
		return nil, f.instrumentsErr
	}
	return f.instruments[instrumentType], nil
}

func (f *fakeAPI) OpenLive(ctx context.Context) (LiveStream, error) {
	f.openCalls++
	if f.openErr != nil {
		return nil, f.openErr
	}
	return f.stream, nil
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Datafeed.Username = "user"
	cfg.Datafeed.Password = "pass"
	cfg.Gateway.Name = "RQDATA"
	return cfg
}

func testInstruments() map[string][]rqclient.Instrument {
	return map[string][]rqclient.Instrument{
		"CS": {
			{OrderBookID: "600000.XSHG", TradingCode: "600000", Exchange: "XSHG", Symbol: "PF Bank", Type: "CS", RoundLot: 100},
		},
		"INDX": {
			{OrderBookID: "000300.XSHG", Symbol: "CSI 300", Type: "INDX", RoundLot: 1},
		},
		"ETF": {
			{OrderBookID: "510050.XSHG", TradingCode: "510050", Exchange: "XSHG", Symbol: "50 ETF", Type: "ETF", RoundLot: 100},
		},
		"Future": {
			{OrderBookID: "RB2510", TradingCode: "rb2510", Exchange: "SHFE", Symbol: "rebar 2510", Type: "Future", RoundLot: 1, ContractMultiplier: 10},
		},
	}
}

func newTestGateway(api *fakeAPI) (*Gateway, *channel.Channels) {
	events := channel.NewChannels(64, 64)
	return New(testConfig(), api, events), events
}

func drainContracts(events *channel.Channels) []models.ContractData {
	var out []models.ContractData
	for {
		select {
		case c := <-events.Contracts:
			out = append(out, c)
		default:
			return out
		}
	}
}

func TestConnectBuildsCatalog(t *testing.T) {
	stream := &fakeStream{}
	api := &fakeAPI{instruments: testInstruments(), stream: stream}
	gw, events := newTestGateway(api)
	defer events.Close()

	gw.Connect(context.Background())

	contracts := drainContracts(events)
	if len(contracts) != 4 {
		t.Fatalf("got %d contracts, want 4", len(contracts))
	}

	byKey := map[string]models.ContractData{}
	for _, c := range contracts {
		byKey[c.Symbol+"."+string(c.Exchange)] = c
	}

	equity := byKey["600000.SSE"]
	if equity.Product != models.ProductEquity || equity.Size != 1 || equity.PriceTick != 0.01 {
		t.Errorf("equity contract = %+v", equity)
	}
	if equity.MinVolume != 100 {
		t.Errorf("equity min volume = %v, want 100", equity.MinVolume)
	}

	etf := byKey["510050.SSE"]
	if etf.Product != models.ProductFund || etf.PriceTick != 0.001 {
		t.Errorf("fund contract = %+v", etf)
	}

	index := byKey["000300.SSE"]
	if index.Product != models.ProductIndex || index.Symbol != "000300" {
		t.Errorf("index contract = %+v", index)
	}

	future := byKey["rb2510.SHFE"]
	if future.Product != models.ProductFutures || future.Size != 10 || future.PriceTick != 0.01 {
		t.Errorf("futures contract = %+v", future)
	}
}

func TestConnectIdempotent(t *testing.T) {
	stream := &fakeStream{}
	api := &fakeAPI{instruments: testInstruments(), stream: stream}
	gw, events := newTestGateway(api)
	defer events.Close()

	gw.Connect(context.Background())
	gw.Connect(context.Background())

	if api.openCalls != 1 {
		t.Errorf("live stream opened %d times, want 1", api.openCalls)
	}
}

func TestConnectFailureLeavesDisconnected(t *testing.T) {
	api := &fakeAPI{
		instruments: testInstruments(),
		stream:      &fakeStream{},
		openErr:     errors.New("dial failed"),
	}
	gw, events := newTestGateway(api)
	defer events.Close()

	gw.Connect(context.Background())

	api.openErr = nil
	gw.Connect(context.Background())
	if api.openCalls != 2 {
		t.Errorf("expected a retryable Connect, openCalls = %d", api.openCalls)
	}
}

func TestSubscribeBeforeConnectReplays(t *testing.T) {
	stream := &fakeStream{}
	api := &fakeAPI{instruments: testInstruments(), stream: stream}
	gw, events := newTestGateway(api)
	defer events.Close()

	gw.Subscribe(models.SubscribeRequest{Symbol: "600000", Exchange: models.ExchangeSSE})
	gw.Subscribe(models.SubscribeRequest{Symbol: "rb2510", Exchange: models.ExchangeSHFE})
	// Duplicate subscriptions collapse.
	gw.Subscribe(models.SubscribeRequest{Symbol: "rb2510", Exchange: models.ExchangeSHFE})

	if got := stream.channels(); len(got) != 0 {
		t.Fatalf("subscriptions forwarded before connect: %v", got)
	}

	gw.Connect(context.Background())

	got := stream.channels()
	if len(got) != 2 {
		t.Fatalf("replayed %d subscriptions, want 2: %v", len(got), got)
	}
	want := map[string]struct{}{
		"tick_600000.XSHG": {},
		"tick_RB2510":      {},
	}
	for _, ch := range got {
		if _, ok := want[ch]; !ok {
			t.Errorf("unexpected channel %s", ch)
		}
	}
}

func TestSubscribeWhileConnectedForwards(t *testing.T) {
	stream := &fakeStream{}
	api := &fakeAPI{instruments: testInstruments(), stream: stream}
	gw, events := newTestGateway(api)
	defer events.Close()

	gw.Connect(context.Background())
	gw.Subscribe(models.SubscribeRequest{Symbol: "510050", Exchange: models.ExchangeSSE})

	got := stream.channels()
	if len(got) != 1 || got[0] != "tick_510050.XSHG" {
		t.Fatalf("forwarded channels = %v, want [tick_510050.XSHG]", got)
	}
}

func TestHandleMsgPublishesTick(t *testing.T) {
	stream := &fakeStream{}
	api := &fakeAPI{instruments: testInstruments(), stream: stream}
	gw, events := newTestGateway(api)
	defer events.Close()

	gw.Connect(context.Background())
	drainContracts(events)

	stream.push(rqclient.TickPush{
		OrderBookID:   "RB2510",
		Datetime:      json.Number("20240603093000500"),
		Last:          3500,
		Open:          3480,
		High:          3510,
		Low:           3470,
		PrevClose:     3490,
		Volume:        12345,
		TotalTurnover: 4.3e8,
		OpenInterest:  120000,
		LimitUp:       3800,
		LimitDown:     3200,
		Bid:           []float64{3499, 3498},
		Ask:           []float64{3501, 3502},
		BidVol:        []float64{5, 3},
		AskVol:        []float64{7, 4},
	})

	select {
	case tick := <-events.Ticks:
		if tick.Symbol != "rb2510" || tick.Exchange != models.ExchangeSHFE {
			t.Errorf("tick identity = %s.%s", tick.Symbol, tick.Exchange)
		}
		if tick.Name != "rebar 2510" {
			t.Errorf("tick name = %s", tick.Name)
		}
		want := time.Date(2024, 6, 3, 9, 30, 0, 500000000, models.ChinaTZ)
		if !tick.Datetime.Equal(want) {
			t.Errorf("tick time = %v, want %v", tick.Datetime, want)
		}
		if tick.Last != 3500 || tick.OpenInterest != 120000 {
			t.Errorf("tick fields last=%v oi=%v", tick.Last, tick.OpenInterest)
		}
		if tick.BidPrice[0] != 3499 || tick.AskPrice[1] != 3502 || tick.BidVolume[1] != 3 {
			t.Errorf("tick depth = %v %v %v", tick.BidPrice, tick.AskPrice, tick.BidVolume)
		}
		if tick.BidPrice[2] != 0 {
			t.Errorf("absent level not zero: %v", tick.BidPrice[2])
		}
	default:
		t.Fatal("no tick published")
	}
}

func TestHandleMsgDropsUnknownContract(t *testing.T) {
	stream := &fakeStream{}
	api := &fakeAPI{instruments: testInstruments(), stream: stream}
	gw, events := newTestGateway(api)
	defer events.Close()

	gw.Connect(context.Background())
	drainContracts(events)

	stream.push(rqclient.TickPush{
		OrderBookID: "ZZ9999",
		Datetime:    json.Number("20240603093000"),
	})

	select {
	case tick := <-events.Ticks:
		t.Fatalf("unexpected tick for unknown contract: %+v", tick)
	default:
	}
}

func TestHandleMsgDropsBadTimestamp(t *testing.T) {
	stream := &fakeStream{}
	api := &fakeAPI{instruments: testInstruments(), stream: stream}
	gw, events := newTestGateway(api)
	defer events.Close()

	gw.Connect(context.Background())
	drainContracts(events)

	stream.push(rqclient.TickPush{
		OrderBookID: "RB2510",
		Datetime:    json.Number("123"),
	})

	select {
	case tick := <-events.Ticks:
		t.Fatalf("unexpected tick for bad timestamp: %+v", tick)
	default:
	}
}

func TestCloseThenReconnect(t *testing.T) {
	stream := &fakeStream{}
	api := &fakeAPI{instruments: testInstruments(), stream: stream}
	gw, events := newTestGateway(api)
	defer events.Close()

	gw.Subscribe(models.SubscribeRequest{Symbol: "rb2510", Exchange: models.ExchangeSHFE})
	gw.Connect(context.Background())
	gw.Close()

	if !stream.closed {
		t.Fatal("Close did not close the stream")
	}

	// Close is idempotent.
	gw.Close()

	second := &fakeStream{}
	api.stream = second
	gw.Connect(context.Background())

	got := second.channels()
	if len(got) != 1 || got[0] != "tick_RB2510" {
		t.Errorf("reconnect replay = %v, want [tick_RB2510]", got)
	}
}

func TestTradingMethodsAreNoOps(t *testing.T) {
	gw, events := newTestGateway(&fakeAPI{instruments: testInstruments(), stream: &fakeStream{}})
	defer events.Close()

	if id := gw.SendOrder(models.OrderRequest{Symbol: "rb2510"}); id != "" {
		t.Errorf("SendOrder = %q, want empty", id)
	}
	gw.CancelOrder(models.CancelRequest{OrderID: "1"})
	gw.QueryAccount()
	gw.QueryPosition()
}

func TestParsePushTime(t *testing.T) {
	tests := []struct {
		packed string
		want   time.Time
		ok     bool
	}{
		{"20240603093000", time.Date(2024, 6, 3, 9, 30, 0, 0, models.ChinaTZ), true},
		{"20240603093000500", time.Date(2024, 6, 3, 9, 30, 0, 500000000, models.ChinaTZ), true},
		{"20240603093000123456", time.Date(2024, 6, 3, 9, 30, 0, 123456000, models.ChinaTZ), true},
		{"2024", time.Time{}, false},
		{"2024060309300x", time.Time{}, false},
	}

	for _, tt := range tests {
		got, err := parsePushTime(tt.packed)
		if tt.ok != (err == nil) {
			t.Errorf("parsePushTime(%s) err = %v, want ok=%v", tt.packed, err, tt.ok)
			continue
		}
		if tt.ok && !got.Equal(tt.want) {
			t.Errorf("parsePushTime(%s) = %v, want %v", tt.packed, got, tt.want)
		}
	}
}
