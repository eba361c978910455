package types

import (
	"math"
	"testing"
)

func TestParseQuantity(t *testing.T) {
	tests := []struct {
		input string
		want  float64
	}{
		{"0.5", 0.5},
		{"100", 100},
		{"0.00000001", 1e-8},
		{"", 0},
		{"not-a-number", 0},
		{"NaN", 0},
		{"Inf", 0},
		{"-Inf", 0},
		{"-3.2", -3.2},
	}

	for _, tt := range tests {
		if got := ParseQuantity(tt.input); got != tt.want {
			t.Errorf("ParseQuantity(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestIsStable(t *testing.T) {
	for _, asset := range []string{"USDT", "USDC", "BUSD", "FDUSD", "TUSD", "DAI", "EUR", "GBP", "USD"} {
		if !IsStable(asset) {
			t.Errorf("IsStable(%q) = false, want true", asset)
		}
	}
	for _, asset := range []string{"BTC", "ETH", "usdt", ""} {
		if IsStable(asset) {
			t.Errorf("IsStable(%q) = true, want false", asset)
		}
	}
}

func TestMaskKey(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"abcdefgh1234", "****1234"},
		{"1234", "****"},
		{"ab", "****"},
		{"", "****"},
	}

	for _, tt := range tests {
		if got := MaskKey(tt.input); got != tt.want {
			t.Errorf("MaskKey(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestParseQuantityNeverNonFinite(t *testing.T) {
	// Extremely large decimals parse to +Inf in ParseFloat and must collapse
	// to zero.
	huge := "1e400"
	if got := ParseQuantity(huge); math.IsInf(got, 0) || math.IsNaN(got) {
		t.Errorf("ParseQuantity(%q) = %v, want finite", huge, got)
	}
}
