package service

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/portfolio-bridge/internal/exchange"
	"github.com/portfolio-bridge/internal/logging"
	"github.com/portfolio-bridge/internal/types"
)

const (
	// maxTimelineAssets bounds candlestick fetch volume per request.
	maxTimelineAssets = 6
	// klineFetchStagger spaces concurrent candle fetches to go easier on the
	// exchange rate limiter. Best-effort only, not a correctness mechanism.
	klineFetchStagger = 50 * time.Millisecond
	// dustThreshold drops balances too small to affect the chart.
	dustThreshold = 1e-8
	// rescaleTolerance is the relative drift below which the series is left
	// untouched by the current-value alignment step.
	rescaleTolerance = 0.01
)

// rangeConfig maps a history range to its candlestick interval, point count
// and label layout. Built once at startup, never mutated.
type rangeConfig struct {
	Interval    string
	Points      int
	Step        time.Duration
	LabelLayout string
}

// rangeConfigs is the fixed range table. Each entry covers its nominal window
// at the given resolution.
var rangeConfigs = map[types.TimeRange]rangeConfig{
	types.RangeHour:  {Interval: "1m", Points: 60, Step: time.Minute, LabelLayout: "15:04"},
	types.RangeDay:   {Interval: "1h", Points: 24, Step: time.Hour, LabelLayout: "15:04"},
	types.RangeWeek:  {Interval: "4h", Points: 42, Step: 4 * time.Hour, LabelLayout: "Mon 15:04"},
	types.RangeMonth: {Interval: "1d", Points: 30, Step: 24 * time.Hour, LabelLayout: "Jan 2"},
	types.RangeYear:  {Interval: "1w", Points: 52, Step: 7 * 24 * time.Hour, LabelLayout: "Jan 2"},
}

// ParseTimeRange validates a range query parameter.
func ParseTimeRange(s string) (types.TimeRange, error) {
	r := types.TimeRange(s)
	if _, ok := rangeConfigs[r]; !ok {
		return "", fmt.Errorf("unsupported range: %q", s)
	}
	return r, nil
}

// HistoryResult is the reconstructed value-over-time series.
type HistoryResult struct {
	Data     []types.ChartDatum    `json:"data"`
	Metadata types.HistoryMetadata `json:"metadata"`
}

// timelineAsset is one priced holding retained for candle fetching.
type timelineAsset struct {
	asset    string
	symbol   string
	quantity float64
	notional float64
}

// klineFetch is the settled outcome of one asset's candle fetch.
type klineFetch struct {
	asset  timelineAsset
	points []exchange.KlinePoint
	err    error
}

// HistoryService reconstructs portfolio value over time from candlestick
// closes and held quantities.
type HistoryService struct {
	logger *logging.Logger
}

// NewHistoryService creates a new history service
func NewHistoryService(logger *logging.Logger) *HistoryService {
	return &HistoryService{logger: logger}
}

// GetHistory builds the series for one range. currentValue, when positive,
// anchors the series to the live total computed by the balances endpoint.
func (s *HistoryService) GetHistory(ctx context.Context, client ExchangeClient, timeRange types.TimeRange, currentValue float64) (*HistoryResult, error) {
	cfg, ok := rangeConfigs[timeRange]
	if !ok {
		return nil, fmt.Errorf("unsupported range: %q", timeRange)
	}

	snapshot, err := client.GetAccountInformation(ctx)
	if err != nil {
		return nil, err
	}

	stableValue, pricedAssets, err := s.partitionHoldings(ctx, client, snapshot)
	if err != nil {
		return nil, err
	}

	fetches := s.fetchKlines(ctx, client, pricedAssets, cfg)
	if err := klineFetchFailure(fetches); err != nil {
		return nil, fmt.Errorf("failed to fetch candles: %w", err)
	}

	data := s.buildSeries(fetches, stableValue, cfg)
	if len(data) == 0 {
		data = s.syntheticSeries(stableValue, cfg)
	}

	data = sanitizeSeries(data)

	scaleFactor := rescaleToCurrentValue(data, currentValue)

	return &HistoryResult{
		Data: data,
		Metadata: types.HistoryMetadata{
			Range:       timeRange,
			Interval:    cfg.Interval,
			Points:      len(data),
			ScaleFactor: scaleFactor,
			ComputedAt:  time.Now(),
		},
	}, nil
}

// partitionHoldings splits the snapshot into a constant stablecoin
// contribution and the top priced holdings ranked by current notional value.
func (s *HistoryService) partitionHoldings(ctx context.Context, client ExchangeClient, snapshot *exchange.AccountSnapshot) (float64, []timelineAsset, error) {
	var stableValue float64
	quantities := make(map[string]float64)
	var symbols []string

	for _, balance := range snapshot.Balances {
		total := types.ParseQuantity(balance.Free) + types.ParseQuantity(balance.Locked)
		if total < dustThreshold {
			continue
		}
		if types.IsStable(balance.Asset) {
			stableValue += total
			continue
		}
		symbol := balance.Asset + quoteSuffix
		if _, ok := quantities[balance.Asset]; !ok {
			symbols = append(symbols, symbol)
		}
		quantities[balance.Asset] += total
	}

	if len(symbols) == 0 {
		return stableValue, nil, nil
	}

	prices := make(map[string]float64, len(symbols))
	for _, chunk := range chunkSymbols(symbols, exchange.MaxSymbolsPerRequest) {
		quotes, err := client.GetTickerPrices(ctx, chunk)
		if err != nil {
			// An unknown symbol in the batch must not sink the chart. Assets
			// without a resolvable price rank at zero notional and drop out
			// of the top set.
			apiErr, ok := exchange.AsAPIError(err)
			if !ok || !apiErr.IsUnsupportedSymbol() {
				return 0, nil, err
			}
			quotes = nil
			for _, symbol := range chunk {
				single, singleErr := client.GetTickerPrices(ctx, []string{symbol})
				if singleErr != nil {
					if apiErr, ok := exchange.AsAPIError(singleErr); ok && apiErr.IsUnsupportedSymbol() {
						continue
					}
					return 0, nil, singleErr
				}
				quotes = append(quotes, single...)
			}
		}
		for _, quote := range quotes {
			prices[quote.Symbol] = types.ParseQuantity(quote.Price)
		}
	}

	assets := make([]timelineAsset, 0, len(quantities))
	for asset, quantity := range quantities {
		symbol := asset + quoteSuffix
		price, ok := prices[symbol]
		if !ok || price <= 0 {
			continue
		}
		assets = append(assets, timelineAsset{
			asset:    asset,
			symbol:   symbol,
			quantity: quantity,
			notional: quantity * price,
		})
	}

	sort.Slice(assets, func(i, j int) bool {
		if assets[i].notional != assets[j].notional {
			return assets[i].notional > assets[j].notional
		}
		return assets[i].asset < assets[j].asset
	})
	if len(assets) > maxTimelineAssets {
		assets = assets[:maxTimelineAssets]
	}

	return stableValue, assets, nil
}

// fetchKlines issues all candle fetches together, each after a small fixed
// stagger, and waits for every one to settle. Failures are collected rather
// than short-circuiting: as long as one asset's candles arrive, a dead symbol
// drops out of the timeline instead of failing the whole request.
func (s *HistoryService) fetchKlines(ctx context.Context, client ExchangeClient, assets []timelineAsset, cfg rangeConfig) []klineFetch {
	fetches := make([]klineFetch, len(assets))

	var wg sync.WaitGroup
	for i, asset := range assets {
		wg.Add(1)
		go func(i int, asset timelineAsset) {
			defer wg.Done()
			if i > 0 {
				select {
				case <-time.After(time.Duration(i) * klineFetchStagger):
				case <-ctx.Done():
					fetches[i] = klineFetch{asset: asset, err: ctx.Err()}
					return
				}
			}
			points, err := client.GetKlines(ctx, asset.symbol, cfg.Interval, cfg.Points)
			fetches[i] = klineFetch{asset: asset, points: points, err: err}
		}(i, asset)
	}
	wg.Wait()

	for _, fetch := range fetches {
		if fetch.err != nil {
			s.logger.WithError(fetch.err).WithField("symbol", fetch.asset.symbol).Warn("Candle fetch failed, excluding asset from timeline")
		}
	}

	return fetches
}

// klineFetchFailure reports the first real upstream error when no candle
// fetch succeeded at all. Unsupported symbols only exclude their asset, so a
// set that failed purely on unknown pairs still falls through to the
// synthetic flat series; anything else failing across the board means the
// chart cannot be reconstructed and the caller should surface the error.
func klineFetchFailure(fetches []klineFetch) error {
	var firstErr error
	for _, fetch := range fetches {
		if fetch.err == nil {
			return nil
		}
		if apiErr, ok := exchange.AsAPIError(fetch.err); ok && apiErr.IsUnsupportedSymbol() {
			continue
		}
		if firstErr == nil {
			firstErr = fetch.err
		}
	}
	return firstErr
}

// buildSeries merges the settled candle fetches into one series. The first
// successful asset's candle timestamps become the shared timeline; every
// other series is aligned to it by position from the most recent sample
// backward, not by timestamp equality, because close-time grids differ
// across trading pairs.
func (s *HistoryService) buildSeries(fetches []klineFetch, stableValue float64, cfg rangeConfig) []types.ChartDatum {
	var timeline []exchange.KlinePoint
	for _, fetch := range fetches {
		if fetch.err == nil && len(fetch.points) > 0 {
			timeline = fetch.points
			break
		}
	}
	if timeline == nil {
		return nil
	}

	values := make([]float64, len(timeline))
	for _, fetch := range fetches {
		if fetch.err != nil || len(fetch.points) == 0 {
			continue
		}
		addAlignedContribution(values, fetch.points, fetch.asset.quantity)
	}

	data := make([]types.ChartDatum, len(timeline))
	for i, point := range timeline {
		data[i] = types.ChartDatum{
			Label: time.UnixMilli(point.CloseTime).Format(cfg.LabelLayout),
			Value: values[i] + stableValue,
		}
	}
	return data
}

// addAlignedContribution adds quantity × close to each slot, overlapping the
// two series from the tail when their lengths differ.
func addAlignedContribution(values []float64, points []exchange.KlinePoint, quantity float64) {
	offset := len(points) - len(values)
	for i := range values {
		j := i + offset
		if j < 0 || j >= len(points) {
			continue
		}
		values[i] += quantity * points[j].ClosePrice
	}
}

// syntheticSeries generates an evenly spaced zero-value timeline ending now,
// so a portfolio with only stablecoins (or no candle data at all) still
// charts as a flat line instead of an empty one.
func (s *HistoryService) syntheticSeries(stableValue float64, cfg rangeConfig) []types.ChartDatum {
	now := time.Now()
	data := make([]types.ChartDatum, cfg.Points)
	for i := 0; i < cfg.Points; i++ {
		at := now.Add(-time.Duration(cfg.Points-1-i) * cfg.Step)
		data[i] = types.ChartDatum{
			Label: at.Format(cfg.LabelLayout),
			Value: stableValue,
		}
	}
	return data
}

// sanitizeSeries rounds to 2 decimal places and drops non-finite or negative
// points.
func sanitizeSeries(data []types.ChartDatum) []types.ChartDatum {
	out := data[:0]
	for _, datum := range data {
		if math.IsNaN(datum.Value) || math.IsInf(datum.Value, 0) || datum.Value < 0 {
			continue
		}
		datum.Value = math.Round(datum.Value*100) / 100
		out = append(out, datum)
	}
	return out
}

// rescaleToCurrentValue uniformly rescales the series so its last point
// matches the live total computed by the balances endpoint. Candle-derived
// values can drift from live spot due to batching and timing; the chart's
// rightmost point should still match the displayed balance. The applied
// factor is reported in metadata so callers can see the adjustment rather
// than have the discrepancy silently hidden.
func rescaleToCurrentValue(data []types.ChartDatum, currentValue float64) float64 {
	if currentValue <= 0 || len(data) == 0 {
		return 0
	}
	last := data[len(data)-1].Value
	if last <= 0 {
		return 0
	}
	ratio := currentValue / last
	if math.Abs(ratio-1) <= rescaleTolerance {
		return 0
	}
	for i := range data {
		data[i].Value = math.Round(data[i].Value*ratio*100) / 100
	}
	return ratio
}
