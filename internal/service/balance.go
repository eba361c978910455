// Package service implements the portfolio aggregation logic: joining account
// balances with spot prices, and reconstructing value-over-time series from
// candlestick data.
package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/portfolio-bridge/internal/exchange"
	"github.com/portfolio-bridge/internal/logging"
	"github.com/portfolio-bridge/internal/types"
)

// ExchangeClient is the outbound surface the aggregators need. Clients are
// constructed per request from the user's decrypted credentials.
type ExchangeClient interface {
	GetAccountInformation(ctx context.Context) (*exchange.AccountSnapshot, error)
	GetTickerPrices(ctx context.Context, symbols []string) ([]exchange.PriceQuote, error)
	GetKlines(ctx context.Context, symbol, interval string, limit int) ([]exchange.KlinePoint, error)
	RateLimit() exchange.RateLimitStatus
}

// quoteSuffix builds the price-lookup symbol for an asset.
const quoteSuffix = "USDT"

// BalanceResult is the priced holdings view returned by the balances endpoint.
type BalanceResult struct {
	Holdings  []types.Holding          `json:"holdings"`
	Summary   types.HoldingsSummary    `json:"summary"`
	RateLimit exchange.RateLimitStatus `json:"rateLimit"`
}

// priceOutcome is the result of resolving one price symbol. Exactly one of
// the two variants holds: a resolved price, or an unsupported marker.
type priceOutcome struct {
	symbol      string
	price       float64
	unsupported bool
}

// BalanceService turns a raw account snapshot into a priced holdings list.
type BalanceService struct {
	logger *logging.Logger
}

// NewBalanceService creates a new balance service
func NewBalanceService(logger *logging.Logger) *BalanceService {
	return &BalanceService{logger: logger}
}

// GetHoldings fetches the account snapshot and joins it with spot prices.
func (s *BalanceService) GetHoldings(ctx context.Context, client ExchangeClient) (*BalanceResult, error) {
	snapshot, err := client.GetAccountInformation(ctx)
	if err != nil {
		return nil, err
	}

	holdings := make([]types.Holding, 0, len(snapshot.Balances))
	var pricedSymbols []string
	seen := make(map[string]bool)

	for _, balance := range snapshot.Balances {
		free := types.ParseQuantity(balance.Free)
		locked := types.ParseQuantity(balance.Locked)
		total := free + locked
		if total <= 0 {
			continue
		}

		holding := types.Holding{
			Asset:  balance.Asset,
			Free:   free,
			Locked: locked,
			Total:  total,
		}

		if types.IsStable(balance.Asset) {
			unitPrice := 1.0
			value := total
			holding.UnitPrice = &unitPrice
			holding.Value = &value
		} else {
			symbol := balance.Asset + quoteSuffix
			holding.UnitPriceSymbol = symbol
			if !seen[symbol] {
				seen[symbol] = true
				pricedSymbols = append(pricedSymbols, symbol)
			}
		}

		holdings = append(holdings, holding)
	}

	prices := make(map[string]float64)
	if len(pricedSymbols) > 0 {
		outcomes, err := s.resolvePrices(ctx, client, pricedSymbols)
		if err != nil {
			return nil, err
		}
		for _, outcome := range outcomes {
			if !outcome.unsupported {
				prices[outcome.symbol] = outcome.price
			}
		}
	}

	var totalValue float64
	var missing []string
	for i := range holdings {
		h := &holdings[i]
		if h.Value != nil {
			totalValue += *h.Value
			continue
		}
		price, ok := prices[h.UnitPriceSymbol]
		if !ok {
			missing = append(missing, h.Asset)
			continue
		}
		value := h.Total * price
		unitPrice := price
		h.UnitPrice = &unitPrice
		h.Value = &value
		totalValue += value
	}

	sortHoldingsByValue(holdings)

	return &BalanceResult{
		Holdings: holdings,
		Summary: types.HoldingsSummary{
			TotalValue:         totalValue,
			MissingPriceAssets: missing,
			ComputedAt:         time.Now(),
		},
		RateLimit: client.RateLimit(),
	}, nil
}

// resolvePrices fetches spot prices for a symbol list, chunked to the
// exchange's per-call ceiling with chunks fetched concurrently. A batch that
// fails on an unsupported symbol is re-resolved per symbol so one unknown
// pair cannot poison the whole batch.
func (s *BalanceService) resolvePrices(ctx context.Context, client ExchangeClient, symbols []string) ([]priceOutcome, error) {
	chunks := chunkSymbols(symbols, exchange.MaxSymbolsPerRequest)

	var mu sync.Mutex
	var wg sync.WaitGroup
	var outcomes []priceOutcome
	var firstErr error

	for _, chunk := range chunks {
		wg.Add(1)
		go func(chunk []string) {
			defer wg.Done()
			chunkOutcomes, err := s.resolveChunk(ctx, client, chunk)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				return
			}
			outcomes = append(outcomes, chunkOutcomes...)
		}(chunk)
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return outcomes, nil
}

// resolveChunk is the two-tier fetch: one batch call, then a per-symbol
// fallback when the batch is rejected for containing an unknown symbol.
func (s *BalanceService) resolveChunk(ctx context.Context, client ExchangeClient, chunk []string) ([]priceOutcome, error) {
	quotes, err := client.GetTickerPrices(ctx, chunk)
	if err == nil {
		outcomes := make([]priceOutcome, 0, len(chunk))
		resolved := make(map[string]float64, len(quotes))
		for _, quote := range quotes {
			resolved[quote.Symbol] = types.ParseQuantity(quote.Price)
		}
		for _, symbol := range chunk {
			price, ok := resolved[symbol]
			if !ok {
				outcomes = append(outcomes, priceOutcome{symbol: symbol, unsupported: true})
				continue
			}
			outcomes = append(outcomes, priceOutcome{symbol: symbol, price: price})
		}
		return outcomes, nil
	}

	apiErr, ok := exchange.AsAPIError(err)
	if !ok || !apiErr.IsUnsupportedSymbol() {
		return nil, err
	}

	s.logger.WithField("symbols", len(chunk)).Debug("Batch price fetch rejected, re-resolving per symbol")

	outcomes := make([]priceOutcome, 0, len(chunk))
	for _, symbol := range chunk {
		quotes, err := client.GetTickerPrices(ctx, []string{symbol})
		if err != nil {
			if singleErr, ok := exchange.AsAPIError(err); ok && singleErr.IsUnsupportedSymbol() {
				outcomes = append(outcomes, priceOutcome{symbol: symbol, unsupported: true})
				continue
			}
			return nil, err
		}
		if len(quotes) == 0 {
			outcomes = append(outcomes, priceOutcome{symbol: symbol, unsupported: true})
			continue
		}
		outcomes = append(outcomes, priceOutcome{symbol: symbol, price: types.ParseQuantity(quotes[0].Price)})
	}
	return outcomes, nil
}

func chunkSymbols(symbols []string, size int) [][]string {
	var chunks [][]string
	for start := 0; start < len(symbols); start += size {
		end := start + size
		if end > len(symbols) {
			end = len(symbols)
		}
		chunks = append(chunks, symbols[start:end])
	}
	return chunks
}

// sortHoldingsByValue orders holdings by descending value, unpriced last.
func sortHoldingsByValue(holdings []types.Holding) {
	sort.SliceStable(holdings, func(i, j int) bool {
		vi, vj := -1.0, -1.0
		if holdings[i].Value != nil {
			vi = *holdings[i].Value
		}
		if holdings[j].Value != nil {
			vj = *holdings[j].Value
		}
		return vi > vj
	})
}
