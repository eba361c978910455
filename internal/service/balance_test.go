package service

import (
	"context"
	"math"
	"strconv"
	"sync"
	"testing"

	"github.com/portfolio-bridge/internal/exchange"
	"github.com/portfolio-bridge/internal/logging"
)

// mockExchange is a scriptable ExchangeClient for aggregator tests.
type mockExchange struct {
	mu sync.Mutex

	balances   []exchange.AssetBalance
	accountErr error

	// prices maps symbol to price; symbols absent from the map are treated
	// as unsupported.
	prices    map[string]float64
	tickerErr error
	// failBatchOnUnknown makes multi-symbol requests containing an unknown
	// symbol fail the way the live exchange does, forcing the per-symbol
	// fallback path.
	failBatchOnUnknown bool
	// singleErrs fails specific single-symbol requests.
	singleErrs map[string]error

	klines    map[string][]exchange.KlinePoint
	klineErrs map[string]error

	tickerCalls [][]string
	klineCalls  []string
}

func (m *mockExchange) GetAccountInformation(ctx context.Context) (*exchange.AccountSnapshot, error) {
	if m.accountErr != nil {
		return nil, m.accountErr
	}
	return &exchange.AccountSnapshot{Balances: m.balances}, nil
}

func (m *mockExchange) GetTickerPrices(ctx context.Context, symbols []string) ([]exchange.PriceQuote, error) {
	m.mu.Lock()
	m.tickerCalls = append(m.tickerCalls, symbols)
	m.mu.Unlock()

	if m.tickerErr != nil {
		return nil, m.tickerErr
	}

	if len(symbols) == 1 {
		if err, ok := m.singleErrs[symbols[0]]; ok {
			return nil, err
		}
	}

	if m.failBatchOnUnknown && len(symbols) > 1 {
		for _, symbol := range symbols {
			if _, ok := m.prices[symbol]; !ok {
				return nil, &exchange.APIError{Status: 400, Code: "-1121", Message: "Invalid symbol."}
			}
		}
	}

	var quotes []exchange.PriceQuote
	for _, symbol := range symbols {
		price, ok := m.prices[symbol]
		if !ok {
			if len(symbols) == 1 {
				return nil, &exchange.APIError{Status: 400, Code: "-1121", Message: "Invalid symbol."}
			}
			continue
		}
		quotes = append(quotes, exchange.PriceQuote{
			Symbol: symbol,
			Price:  strconv.FormatFloat(price, 'f', -1, 64),
		})
	}
	return quotes, nil
}

func (m *mockExchange) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]exchange.KlinePoint, error) {
	m.mu.Lock()
	m.klineCalls = append(m.klineCalls, symbol)
	m.mu.Unlock()

	if err, ok := m.klineErrs[symbol]; ok {
		return nil, err
	}
	return m.klines[symbol], nil
}

func (m *mockExchange) RateLimit() exchange.RateLimitStatus {
	return exchange.RateLimitStatus{}
}

func testLogger() *logging.Logger {
	return logging.NewLogger(logging.LevelError, logging.FormatText)
}

func TestGetHoldings_PricedAsset(t *testing.T) {
	mock := &mockExchange{
		balances: []exchange.AssetBalance{
			{Asset: "BTC", Free: "0.5", Locked: "0"},
		},
		prices: map[string]float64{"BTCUSDT": 50000},
	}

	result, err := NewBalanceService(testLogger()).GetHoldings(context.Background(), mock)
	if err != nil {
		t.Fatalf("GetHoldings() error = %v", err)
	}

	if len(result.Holdings) != 1 {
		t.Fatalf("expected 1 holding, got %d", len(result.Holdings))
	}
	h := result.Holdings[0]
	if h.Asset != "BTC" || h.Total != 0.5 {
		t.Errorf("holding = %+v, want BTC total 0.5", h)
	}
	if h.UnitPrice == nil || *h.UnitPrice != 50000 {
		t.Errorf("unitPrice = %v, want 50000", h.UnitPrice)
	}
	if h.Value == nil || *h.Value != 25000 {
		t.Errorf("value = %v, want 25000", h.Value)
	}
	if result.Summary.TotalValue != 25000 {
		t.Errorf("totalValue = %v, want 25000", result.Summary.TotalValue)
	}
}

func TestGetHoldings_StablecoinSkipsPriceLookup(t *testing.T) {
	mock := &mockExchange{
		balances: []exchange.AssetBalance{
			{Asset: "USDT", Free: "100", Locked: "0"},
		},
	}

	result, err := NewBalanceService(testLogger()).GetHoldings(context.Background(), mock)
	if err != nil {
		t.Fatalf("GetHoldings() error = %v", err)
	}

	if len(mock.tickerCalls) != 0 {
		t.Errorf("expected no price-API calls for a stablecoin-only account, got %d", len(mock.tickerCalls))
	}
	if len(result.Holdings) != 1 {
		t.Fatalf("expected 1 holding, got %d", len(result.Holdings))
	}
	h := result.Holdings[0]
	if h.UnitPrice == nil || *h.UnitPrice != 1 {
		t.Errorf("unitPrice = %v, want 1", h.UnitPrice)
	}
	if h.Value == nil || *h.Value != 100 {
		t.Errorf("value = %v, want 100", h.Value)
	}
	if result.Summary.TotalValue != 100 {
		t.Errorf("totalValue = %v, want 100", result.Summary.TotalValue)
	}
}

func TestGetHoldings_ZeroBalancesExcluded(t *testing.T) {
	mock := &mockExchange{
		balances: []exchange.AssetBalance{
			{Asset: "BTC", Free: "0", Locked: "0"},
			{Asset: "ETH", Free: "2", Locked: "1"},
			{Asset: "XRP", Free: "not-a-number", Locked: "0"},
		},
		prices: map[string]float64{"ETHUSDT": 3000},
	}

	result, err := NewBalanceService(testLogger()).GetHoldings(context.Background(), mock)
	if err != nil {
		t.Fatalf("GetHoldings() error = %v", err)
	}

	if len(result.Holdings) != 1 {
		t.Fatalf("expected 1 holding, got %d", len(result.Holdings))
	}
	h := result.Holdings[0]
	if h.Asset != "ETH" || h.Total != 3 {
		t.Errorf("holding = %+v, want ETH total 3", h)
	}
	if result.Summary.TotalValue != 9000 {
		t.Errorf("totalValue = %v, want 9000", result.Summary.TotalValue)
	}
}

func TestGetHoldings_UnsupportedSymbolFallback(t *testing.T) {
	mock := &mockExchange{
		balances: []exchange.AssetBalance{
			{Asset: "BTC", Free: "1", Locked: "0"},
			{Asset: "WEIRD", Free: "10", Locked: "0"},
		},
		prices:             map[string]float64{"BTCUSDT": 40000},
		failBatchOnUnknown: true,
	}

	result, err := NewBalanceService(testLogger()).GetHoldings(context.Background(), mock)
	if err != nil {
		t.Fatalf("GetHoldings() error = %v", err)
	}

	// The batch is rejected, then each symbol re-resolves individually.
	if len(mock.tickerCalls) != 3 {
		t.Errorf("expected 1 batch + 2 per-symbol calls, got %d", len(mock.tickerCalls))
	}

	if len(result.Holdings) != 2 {
		t.Fatalf("expected 2 holdings, got %d", len(result.Holdings))
	}
	if len(result.Summary.MissingPriceAssets) != 1 || result.Summary.MissingPriceAssets[0] != "WEIRD" {
		t.Errorf("missingPriceAssets = %v, want [WEIRD]", result.Summary.MissingPriceAssets)
	}
	if result.Summary.TotalValue != 40000 {
		t.Errorf("totalValue = %v, want 40000", result.Summary.TotalValue)
	}

	var weird *struct{ value *float64 }
	for _, h := range result.Holdings {
		if h.Asset == "WEIRD" {
			weird = &struct{ value *float64 }{h.Value}
		}
	}
	if weird == nil {
		t.Fatal("WEIRD holding missing from output")
	}
	if weird.value != nil {
		t.Errorf("unpriced holding value = %v, want nil", *weird.value)
	}
}

func TestGetHoldings_TotalMatchesSumOfValues(t *testing.T) {
	mock := &mockExchange{
		balances: []exchange.AssetBalance{
			{Asset: "BTC", Free: "0.3", Locked: "0.2"},
			{Asset: "ETH", Free: "4", Locked: "0"},
			{Asset: "USDC", Free: "250", Locked: "0"},
			{Asset: "WEIRD", Free: "1", Locked: "0"},
		},
		prices: map[string]float64{
			"BTCUSDT": 60000,
			"ETHUSDT": 2500,
		},
	}

	result, err := NewBalanceService(testLogger()).GetHoldings(context.Background(), mock)
	if err != nil {
		t.Fatalf("GetHoldings() error = %v", err)
	}

	var sum float64
	for _, h := range result.Holdings {
		if h.Value != nil {
			sum += *h.Value
		}
	}
	if math.Abs(result.Summary.TotalValue-sum) > 1e-9 {
		t.Errorf("totalValue = %v, sum of holding values = %v", result.Summary.TotalValue, sum)
	}
}

func TestGetHoldings_AccountError(t *testing.T) {
	mock := &mockExchange{
		accountErr: &exchange.APIError{Status: 429, Code: "-1003", IsRateLimit: true},
	}

	_, err := NewBalanceService(testLogger()).GetHoldings(context.Background(), mock)
	if err == nil {
		t.Fatal("expected error")
	}
	apiErr, ok := exchange.AsAPIError(err)
	if !ok || !apiErr.IsRateLimit {
		t.Errorf("expected rate-limit APIError, got %v", err)
	}
}
