package rqclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"

	"golang.org/x/time/rate"

	"rqbridge/config"
	"rqbridge/logger"
)

// Client talks to the provider's historical query API. It is safe for
// concurrent use; Init must succeed before any query method is called.
type Client struct {
	httpClient *http.Client
	baseURL    string
	liveURL    string
	limiter    *rate.Limiter
	log        *logger.Log

	mu    sync.RWMutex
	token string
}

// New creates a Client using the datafeed connection settings.
func New(cfg *config.Config) *Client {
	pool := cfg.Datafeed.ConnectionPool
	transport := &http.Transport{
		MaxIdleConns:        pool.MaxIdleConns,
		MaxIdleConnsPerHost: pool.MaxIdleConns,
		MaxConnsPerHost:     pool.MaxConnsPerHost,
		IdleConnTimeout:     pool.IdleConnTimeout,
		DisableCompression:  false,
	}

	httpClient := &http.Client{
		Transport: transport,
		Timeout:   cfg.Datafeed.Timeout,
	}

	rl := cfg.Datafeed.RateLimit
	client := &Client{
		httpClient: httpClient,
		baseURL:    cfg.Datafeed.BaseURL,
		liveURL:    cfg.Gateway.LiveURL,
		limiter:    rate.NewLimiter(rate.Limit(rl.RequestsPerSecond), rl.BurstSize),
		log:        logger.GetLogger(),
	}

	client.log.WithComponent("rqclient").WithFields(logger.Fields{
		"base_url":           cfg.Datafeed.BaseURL,
		"max_idle_conns":     pool.MaxIdleConns,
		"max_conns_per_host": pool.MaxConnsPerHost,
		"timeout":            cfg.Datafeed.Timeout,
	}).Info("rqdata client initialized")

	return client
}

// Init authenticates against the provider and stores the session token
// used by all subsequent calls.
func (c *Client) Init(ctx context.Context, username, password string) error {
	body := map[string]string{
		"username": username,
		"password": password,
	}

	var resp struct {
		Token string `json:"token"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/auth", body, &resp); err != nil {
		return err
	}
	if resp.Token == "" {
		return fmt.Errorf("auth response carried no token")
	}

	c.mu.Lock()
	c.token = resp.Token
	c.mu.Unlock()

	c.log.WithComponent("rqclient").Info("rqdata session authenticated")
	return nil
}

// AllInstruments lists the instrument catalog, optionally filtered by
// provider instrument type (CS, INDX, ETF, Future, ...). An empty type
// returns everything.
func (c *Client) AllInstruments(ctx context.Context, instrumentType string) ([]Instrument, error) {
	path := "/api/v1/instruments"
	if instrumentType != "" {
		path += "?type=" + url.QueryEscape(instrumentType)
	}

	var resp struct {
		Instruments []Instrument `json:"instruments"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Instruments, nil
}

// GetPrice fetches a historical series for one provider symbol. Rows
// come back in the provider's chronological order.
func (c *Client) GetPrice(ctx context.Context, q PriceQuery) ([]PriceRow, error) {
	return c.queryPrice(ctx, "/api/v1/price", q)
}

// GetDominantPrice fetches the back-adjusted continuous series for a
// futures product.
func (c *Client) GetDominantPrice(ctx context.Context, q PriceQuery) ([]PriceRow, error) {
	return c.queryPrice(ctx, "/api/v1/price/dominant", q)
}

func (c *Client) queryPrice(ctx context.Context, path string, q PriceQuery) ([]PriceRow, error) {
	var resp struct {
		Rows []priceRowWire `json:"rows"`
	}
	if err := c.do(ctx, http.MethodPost, path, q, &resp); err != nil {
		return nil, err
	}

	rows := make([]PriceRow, 0, len(resp.Rows))
	for _, w := range resp.Rows {
		rows = append(rows, w.toRow())
	}
	return rows, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.sessionToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{Code: resp.StatusCode}
		if err := json.NewDecoder(resp.Body).Decode(apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = resp.Status
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response %s: %w", path, err)
	}
	return nil
}

func (c *Client) sessionToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}
