package exchange

// AssetBalance is one balance entry from the account snapshot. Free and
// Locked are decimal strings exactly as the exchange returns them.
type AssetBalance struct {
	Asset  string `json:"asset"`
	Free   string `json:"free"`
	Locked string `json:"locked"`
}

// AccountSnapshot is the raw account state, fetched fresh per request.
type AccountSnapshot struct {
	Balances   []AssetBalance `json:"balances"`
	UpdateTime int64          `json:"updateTime"`
}

// PriceQuote is one spot price from the batch ticker endpoint.
type PriceQuote struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// KlinePoint is one candlestick reduced to the fields the aggregators use.
type KlinePoint struct {
	OpenTime   int64   `json:"openTime"`
	CloseTime  int64   `json:"closeTime"`
	ClosePrice float64 `json:"closePrice"`
}
