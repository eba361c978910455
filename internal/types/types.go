// Package types provides common type definitions for the portfolio bridge service.
package types

import (
	"math"
	"strconv"
	"time"
)

// TimeRange represents a supported history window
type TimeRange string

const (
	// RangeHour covers the last hour at one-minute resolution
	RangeHour TimeRange = "1Hr"
	// RangeDay covers the last day at one-hour resolution
	RangeDay TimeRange = "1D"
	// RangeWeek covers the last week at four-hour resolution
	RangeWeek TimeRange = "1W"
	// RangeMonth covers the last month at daily resolution
	RangeMonth TimeRange = "1M"
	// RangeYear covers the last year at weekly resolution
	RangeYear TimeRange = "1Y"
)

// Stablecoins is the fixed set of assets treated as pegged 1:1 to USD.
// These never go through the price lookup.
var Stablecoins = map[string]bool{
	"USDT":  true,
	"USDC":  true,
	"BUSD":  true,
	"FDUSD": true,
	"TUSD":  true,
	"DAI":   true,
	"EUR":   true,
	"GBP":   true,
	"USD":   true,
}

// IsStable reports whether an asset belongs to the stablecoin set.
func IsStable(asset string) bool {
	return Stablecoins[asset]
}

// Credentials holds a user's decrypted exchange API credentials.
// Lifetime is a single request; never persisted in plaintext.
type Credentials struct {
	APIKey     string
	APISecret  string
	UseTestnet bool
	Label      string
	UpdatedAt  time.Time
}

// CredentialsMetadata is the client-visible view of stored credentials.
// The secret is never exposed; the key is masked to its last four characters.
type CredentialsMetadata struct {
	MaskedKey  string    `json:"maskedKey"`
	Label      string    `json:"label,omitempty"`
	UseTestnet bool      `json:"useTestnet"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Holding is a user's aggregate position in one asset with computed USD value.
// Value is nil when no price could be resolved for the asset.
type Holding struct {
	Asset           string   `json:"asset"`
	Free            float64  `json:"free"`
	Locked          float64  `json:"locked"`
	Total           float64  `json:"total"`
	UnitPrice       *float64 `json:"unitPrice"`
	UnitPriceSymbol string   `json:"unitPriceSymbol,omitempty"`
	Value           *float64 `json:"value"`
}

// HoldingsSummary aggregates a holdings list.
type HoldingsSummary struct {
	TotalValue         float64   `json:"totalValue"`
	MissingPriceAssets []string  `json:"missingPriceAssets"`
	ComputedAt         time.Time `json:"computedAt"`
}

// ChartDatum is one point of a reconstructed portfolio value series.
type ChartDatum struct {
	Label string  `json:"label"`
	Value float64 `json:"value"`
}

// HistoryMetadata describes how a history series was produced.
type HistoryMetadata struct {
	Range       TimeRange `json:"range"`
	Interval    string    `json:"interval"`
	Points      int       `json:"points"`
	ScaleFactor float64   `json:"scaleFactor,omitempty"`
	ComputedAt  time.Time `json:"computedAt"`
}

// Session associates a bearer token with a user for the session TTL.
type Session struct {
	Token     string    `json:"token"`
	UserID    string    `json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// ServiceError represents a structured error response
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return e.Message
}

// ParseQuantity converts an exchange decimal string to a float64 quantity.
// Unparseable, NaN and infinite inputs all collapse to zero so a single bad
// balance entry cannot poison an aggregate.
func ParseQuantity(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// MaskKey reduces an API key to its last four characters for display.
func MaskKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}
