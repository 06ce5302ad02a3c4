package rqclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"rqbridge/config"
)

func testClient(baseURL string) *Client {
	cfg := &config.Config{}
	cfg.Datafeed.BaseURL = baseURL
	cfg.Datafeed.Timeout = 5 * time.Second
	cfg.Datafeed.RateLimit.RequestsPerSecond = 100
	cfg.Datafeed.RateLimit.BurstSize = 100
	cfg.Datafeed.ConnectionPool.MaxIdleConns = 2
	cfg.Datafeed.ConnectionPool.MaxConnsPerHost = 2
	cfg.Datafeed.ConnectionPool.IdleConnTimeout = time.Minute
	return New(cfg)
}

func TestInitStoresToken(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/auth":
			var body map[string]string
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Errorf("decode auth body: %v", err)
			}
			if body["username"] != "user" || body["password"] != "pass" {
				t.Errorf("auth body = %v", body)
			}
			json.NewEncoder(w).Encode(map[string]string{"token": "tok-123"})
		case "/api/v1/instruments":
			gotAuth = r.Header.Get("Authorization")
			json.NewEncoder(w).Encode(map[string]any{"instruments": []Instrument{}})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	if err := c.Init(context.Background(), "user", "pass"); err != nil {
		t.Fatalf("Init: %v", err)
	}

	if _, err := c.AllInstruments(context.Background(), ""); err != nil {
		t.Fatalf("AllInstruments: %v", err)
	}
	if gotAuth != "Bearer tok-123" {
		t.Errorf("Authorization = %q, want Bearer tok-123", gotAuth)
	}
}

func TestInitRejectsEmptyToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"token": ""})
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	if err := c.Init(context.Background(), "user", "pass"); err == nil {
		t.Fatal("Init should fail on empty token")
	}
}

func TestAPIErrorOnNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(map[string]any{"code": 403, "message": "quota exceeded"})
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	_, err := c.GetPrice(context.Background(), PriceQuery{Symbol: "600000.XSHG"})
	if err == nil {
		t.Fatal("expected error")
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error type = %T, want *APIError", err)
	}
	if apiErr.Code != http.StatusForbidden || apiErr.Message != "quota exceeded" {
		t.Errorf("api error = %+v", apiErr)
	}
}

func TestAPIErrorWithUnparsableBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream timeout"))
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	_, err := c.GetPrice(context.Background(), PriceQuery{})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error type = %T, want *APIError", err)
	}
	if apiErr.Code != http.StatusBadGateway || apiErr.Message == "" {
		t.Errorf("api error = %+v", apiErr)
	}
}

func TestAllInstrumentsTypeFilter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("type"); got != "Future" {
			t.Errorf("type query = %q, want Future", got)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"instruments": []Instrument{
				{OrderBookID: "RB2510", TradingCode: "rb2510", Exchange: "SHFE", Type: "Future", ContractMultiplier: 10},
			},
		})
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	instruments, err := c.AllInstruments(context.Background(), "Future")
	if err != nil {
		t.Fatalf("AllInstruments: %v", err)
	}
	if len(instruments) != 1 || instruments[0].OrderBookID != "RB2510" {
		t.Errorf("instruments = %+v", instruments)
	}
}

func TestGetPriceDropsNullCells(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/price" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var q PriceQuery
		if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
			t.Errorf("decode query: %v", err)
		}
		if q.Symbol != "600000.XSHG" || q.Frequency != "1d" {
			t.Errorf("query = %+v", q)
		}

		w.Write([]byte(`{"rows":[
			{"order_book_id":"600000.XSHG","datetime":"2024-06-03T00:00:00+08:00",
			 "fields":{"close":7.15,"open_interest":null}}
		]}`))
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	rows, err := c.GetPrice(context.Background(), PriceQuery{Symbol: "600000.XSHG", Frequency: "1d"})
	if err != nil {
		t.Fatalf("GetPrice: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}

	row := rows[0]
	if row.Field("close") != 7.15 {
		t.Errorf("close = %v", row.Field("close"))
	}
	if row.Has("open_interest") {
		t.Error("null cell should be absent")
	}
	if row.Field("open_interest") != 0 {
		t.Errorf("absent field = %v, want 0", row.Field("open_interest"))
	}
}

func TestGetDominantPricePath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/price/dominant" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var q PriceQuery
		json.NewDecoder(r.Body).Decode(&q)
		if q.AdjustMethod != "prev_close_ratio" {
			t.Errorf("adjust_method = %s", q.AdjustMethod)
		}
		w.Write([]byte(`{"rows":[]}`))
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	rows, err := c.GetDominantPrice(context.Background(), PriceQuery{
		Symbol:       "RB",
		AdjustType:   "pre",
		AdjustMethod: "prev_close_ratio",
	})
	if err != nil {
		t.Fatalf("GetDominantPrice: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("rows = %+v, want empty", rows)
	}
}

func TestTickPushDatetimePrecision(t *testing.T) {
	// Packed datetimes run to 17 digits; float64 decoding would corrupt
	// the trailing digits.
	raw := []byte(`{"order_book_id":"RB2510","datetime":20240603093000500,"last":3500}`)

	var push TickPush
	if err := decodePush(raw, &push); err != nil {
		t.Fatalf("decodePush: %v", err)
	}
	if push.Datetime.String() != "20240603093000500" {
		t.Errorf("datetime = %s, want all 17 digits preserved", push.Datetime.String())
	}
	if push.Last != 3500 {
		t.Errorf("last = %v", push.Last)
	}
}
