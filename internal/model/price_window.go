package model

import "time"

// PriceWindow stores aggregated swap activity for a pool over one window.
// Rates are token2 per token1; amounts are decimal strings in token units.
type PriceWindow struct {
	PoolAddress    string    `json:"pool_address"`
	WindowSizeSecs int64     `json:"window_size_seconds"`
	WindowStart    time.Time `json:"window_start"`
	WindowEnd      time.Time `json:"window_end"`
	SwapCount      uint64    `json:"swap_count"`
	Open           string    `json:"open"`
	High           string    `json:"high"`
	Low            string    `json:"low"`
	Close          string    `json:"close"`
	Volume1        string    `json:"volume1"`
	Volume2        string    `json:"volume2"`
	Token1Balance  string    `json:"token1_balance"`
	Token2Balance  string    `json:"token2_balance"`
}
