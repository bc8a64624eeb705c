package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ProviderUsage is a per-provider per-day counter row. Incremented
// atomically by the governor after every real provider call; read-only
// for reporting. Invariant: SuccessCount + ErrorCount == RequestCount.
type ProviderUsage struct {
	Provider string `json:"provider"`
	Day      string `json:"day"`   // YYYY-MM-DD
	Month    string `json:"month"` // YYYY-MM

	RequestCount int `json:"request_count"`
	SuccessCount int `json:"success_count"`
	ErrorCount   int `json:"error_count"`

	Cost decimal.Decimal `json:"cost"`
}

// UsageDay formats t for the Day column.
func UsageDay(t time.Time) string { return t.UTC().Format("2006-01-02") }

// UsageMonth formats t for the Month column.
func UsageMonth(t time.Time) string { return t.UTC().Format("2006-01") }
