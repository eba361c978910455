// Package exchange implements a thin REST client for the exchange's account,
// ticker and candlestick endpoints. Signed requests carry a timestamp and a
// receive window and are HMAC-signed over the exact query string sent, with
// the signature parameter appended last.
package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	baseURLProduction = "https://api.binance.com"
	baseURLTestnet    = "https://testnet.binance.vision"

	// MaxSymbolsPerRequest is the exchange's per-call ceiling for the batch
	// ticker endpoint. Callers must chunk larger symbol lists.
	MaxSymbolsPerRequest = 100

	defaultRecvWindow = 5000 * time.Millisecond
	defaultDeadline   = 15 * time.Second

	usedWeightHeader = "X-Mbx-Used-Weight-1m"
)

// RateLimitStatus is the used-weight view parsed from response headers.
type RateLimitStatus struct {
	UsedWeight1m int       `json:"usedWeight1m"`
	ObservedAt   time.Time `json:"observedAt"`
}

// Config holds exchange client configuration.
type Config struct {
	APIKey     string
	APISecret  string
	UseTestnet bool
	// BaseURL overrides the production/testnet selection. Used by tests.
	BaseURL string
	// RecvWindow is the signed-request receive window. Zero means default.
	RecvWindow time.Duration
	// Deadline is the per-call client-side deadline. Zero means default.
	Deadline time.Duration
	// HTTPClient overrides the transport. Its own timeout is independent of
	// Deadline; the deadline is what callers observe as CodeTimeout.
	HTTPClient *http.Client
}

// Client performs REST calls against the exchange.
type Client struct {
	apiKey     string
	apiSecret  string
	baseURL    string
	recvWindow time.Duration
	deadline   time.Duration
	httpClient *http.Client
	now        func() time.Time

	mu        sync.Mutex
	rateLimit RateLimitStatus
}

// NewClient creates an exchange client. Key and secret may be empty for
// unsigned endpoints only.
func NewClient(cfg Config) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		if cfg.UseTestnet {
			baseURL = baseURLTestnet
		} else {
			baseURL = baseURLProduction
		}
	}
	recvWindow := cfg.RecvWindow
	if recvWindow <= 0 {
		recvWindow = defaultRecvWindow
	}
	deadline := cfg.Deadline
	if deadline <= 0 {
		deadline = defaultDeadline
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	return &Client{
		apiKey:     cfg.APIKey,
		apiSecret:  cfg.APISecret,
		baseURL:    strings.TrimRight(baseURL, "/"),
		recvWindow: recvWindow,
		deadline:   deadline,
		httpClient: httpClient,
		now:        time.Now,
	}
}

// RateLimit returns the most recent used-weight status seen on any response.
func (c *Client) RateLimit() RateLimitStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rateLimit
}

// GetAccountInformation fetches the account snapshot via a signed call.
func (c *Client) GetAccountInformation(ctx context.Context) (*AccountSnapshot, error) {
	body, err := c.doSigned(ctx, "/api/v3/account", url.Values{})
	if err != nil {
		return nil, err
	}

	var snapshot AccountSnapshot
	if err := json.Unmarshal(body, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to parse account snapshot: %w", err)
	}
	return &snapshot, nil
}

// GetTickerPrices fetches spot prices. With no symbols it returns every traded
// pair; otherwise symbols must not exceed MaxSymbolsPerRequest.
func (c *Client) GetTickerPrices(ctx context.Context, symbols []string) ([]PriceQuote, error) {
	if len(symbols) > MaxSymbolsPerRequest {
		return nil, fmt.Errorf("too many symbols in one request: %d > %d", len(symbols), MaxSymbolsPerRequest)
	}

	params := url.Values{}
	if len(symbols) == 1 {
		params.Set("symbol", symbols[0])
	} else if len(symbols) > 1 {
		encoded, err := json.Marshal(symbols)
		if err != nil {
			return nil, fmt.Errorf("failed to encode symbols: %w", err)
		}
		params.Set("symbols", string(encoded))
	}

	body, err := c.doUnsigned(ctx, "/api/v3/ticker/price", params)
	if err != nil {
		return nil, err
	}

	// A single-symbol request returns an object, not an array.
	if len(body) > 0 && body[0] == '{' {
		var quote PriceQuote
		if err := json.Unmarshal(body, &quote); err != nil {
			return nil, fmt.Errorf("failed to parse ticker price: %w", err)
		}
		return []PriceQuote{quote}, nil
	}

	var quotes []PriceQuote
	if err := json.Unmarshal(body, &quotes); err != nil {
		return nil, fmt.Errorf("failed to parse ticker prices: %w", err)
	}
	return quotes, nil
}

// GetKlines fetches time-ordered candlesticks for one symbol, mapping the raw
// positional arrays into named fields.
func (c *Client) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]KlinePoint, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", interval)
	params.Set("limit", strconv.Itoa(limit))

	body, err := c.doUnsigned(ctx, "/api/v3/klines", params)
	if err != nil {
		return nil, err
	}

	var raw [][]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse klines: %w", err)
	}

	points := make([]KlinePoint, 0, len(raw))
	for _, candle := range raw {
		// Positional layout: 0=openTime 4=close 6=closeTime.
		if len(candle) < 7 {
			continue
		}
		point, err := parseKline(candle)
		if err != nil {
			return nil, fmt.Errorf("failed to parse kline for %s: %w", symbol, err)
		}
		points = append(points, point)
	}
	return points, nil
}

func parseKline(candle []json.RawMessage) (KlinePoint, error) {
	var openTime, closeTime int64
	var closeStr string

	if err := json.Unmarshal(candle[0], &openTime); err != nil {
		return KlinePoint{}, fmt.Errorf("open time: %w", err)
	}
	if err := json.Unmarshal(candle[6], &closeTime); err != nil {
		return KlinePoint{}, fmt.Errorf("close time: %w", err)
	}
	if err := json.Unmarshal(candle[4], &closeStr); err != nil {
		return KlinePoint{}, fmt.Errorf("close price: %w", err)
	}
	closePrice, err := strconv.ParseFloat(closeStr, 64)
	if err != nil {
		return KlinePoint{}, fmt.Errorf("close price %q: %w", closeStr, err)
	}

	return KlinePoint{OpenTime: openTime, CloseTime: closeTime, ClosePrice: closePrice}, nil
}

// doSigned appends timestamp and recvWindow, signs the exact encoded query,
// and appends the signature last before issuing the request.
func (c *Client) doSigned(ctx context.Context, path string, params url.Values) ([]byte, error) {
	if c.apiKey == "" || c.apiSecret == "" {
		return nil, &APIError{Status: 401, Code: CodeUnknown, Message: "api credentials not configured"}
	}

	params.Set("timestamp", strconv.FormatInt(c.now().UnixMilli(), 10))
	params.Set("recvWindow", strconv.FormatInt(c.recvWindow.Milliseconds(), 10))

	query := params.Encode()
	mac := hmac.New(sha256.New, []byte(c.apiSecret))
	mac.Write([]byte(query))
	signature := hex.EncodeToString(mac.Sum(nil))

	// The signature must cover the query string exactly as sent, so it is
	// concatenated rather than re-encoded through url.Values.
	signedQuery := query + "&signature=" + signature

	return c.do(ctx, path, signedQuery, true)
}

func (c *Client) doUnsigned(ctx context.Context, path string, params url.Values) ([]byte, error) {
	return c.do(ctx, path, params.Encode(), false)
}

func (c *Client) do(ctx context.Context, path, rawQuery string, signed bool) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.deadline)
	defer cancel()

	reqURL := c.baseURL + path
	if rawQuery != "" {
		reqURL += "?" + rawQuery
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if signed {
		req.Header.Set("X-MBX-APIKEY", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, c.transportError(ctx, reqCtx, err)
	}
	defer resp.Body.Close()

	c.recordRateLimit(resp)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, c.apiError(resp, body)
	}
	return body, nil
}

// transportError maps a failed round trip to a distinguished error kind. The
// caller applies different backoff to timeouts than to generic failures, so
// the client-side deadline must not look like a plain network error.
func (c *Client) transportError(parent, reqCtx context.Context, err error) error {
	if reqCtx.Err() == context.DeadlineExceeded && parent.Err() == nil {
		return &APIError{Code: CodeTimeout, Message: fmt.Sprintf("request deadline of %s exceeded", c.deadline)}
	}
	if parent.Err() != nil {
		return fmt.Errorf("request cancelled: %w", parent.Err())
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &APIError{Code: CodeConnectionTimeout, Message: err.Error()}
	}
	if isConnectFailure(err) {
		return &APIError{Code: CodeConnectionTimeout, Message: err.Error()}
	}
	return fmt.Errorf("request failed: %w", err)
}

func isConnectFailure(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "connection reset by peer") ||
		strings.Contains(msg, "network is unreachable")
}

// apiError builds the typed error for a non-2xx response.
func (c *Client) apiError(resp *http.Response, body []byte) *APIError {
	apiErr := &APIError{
		Status: resp.StatusCode,
		Code:   CodeUnknown,
	}

	var payload struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Code != 0 {
		apiErr.Code = strconv.Itoa(payload.Code)
		apiErr.Message = payload.Msg
	} else if len(body) > 0 {
		apiErr.Message = string(body)
	}

	if resp.StatusCode == http.StatusTooManyRequests ||
		resp.StatusCode == http.StatusTeapot ||
		apiErr.Code == strconv.Itoa(codeTooManyRequests) {
		apiErr.IsRateLimit = true
		if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
			if seconds, err := strconv.Atoi(retryAfter); err == nil {
				apiErr.RetryAfter = time.Duration(seconds) * time.Second
			}
		}
	}

	return apiErr
}

func (c *Client) recordRateLimit(resp *http.Response) {
	usedWeight := resp.Header.Get(usedWeightHeader)
	if usedWeight == "" {
		return
	}
	weight, err := strconv.Atoi(usedWeight)
	if err != nil {
		return
	}
	c.mu.Lock()
	c.rateLimit = RateLimitStatus{UsedWeight1m: weight, ObservedAt: c.now()}
	c.mu.Unlock()
}
