package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	Window24h = "24h"
	Window7d  = "7d"
	Window30d = "30d"
)

// Asset identity is (chainId, lowercased assetId). Immutable once fetched.
type Asset struct {
	ChainID  string `json:"chainId"`
	AssetID  string `json:"assetId"`
	Symbol   string `json:"symbol"`
	Decimals int    `json:"decimals"`
}

func (a Asset) Key() string {
	return a.ChainID + ":" + strings.ToLower(a.AssetID)
}

// Route is an ordered source/destination asset pair across chains.
type Route struct {
	Source      Asset `json:"source"`
	Destination Asset `json:"destination"`
}

func (r Route) Key() string {
	return r.Source.Key() + "->" + r.Destination.Key()
}

// RateEntry is the result of a single provider price query for a
// (route, notional) pair. Amounts are integer strings in smallest units.
type RateEntry struct {
	Route         Route            `json:"route"`
	AmountIn      string           `json:"amountIn"`
	AmountOut     string           `json:"amountOut"`
	EffectiveRate decimal.Decimal  `json:"effectiveRate"`
	TotalFeeUsd   *decimal.Decimal `json:"totalFeeUsd,omitempty"`
	MeasuredAt    time.Time        `json:"measuredAt"`
}

type VolumeWindow struct {
	Window     string          `json:"window"`
	VolumeUsd  decimal.Decimal `json:"volumeUsd"`
	MeasuredAt time.Time       `json:"measuredAt"`
}

type LiquidityThreshold struct {
	MaxAmountIn string `json:"maxAmountIn"`
	SlippageBps int    `json:"slippageBps"`
}

type LiquidityDepth struct {
	Route      Route                `json:"route"`
	Thresholds []LiquidityThreshold `json:"thresholds"`
	MeasuredAt time.Time            `json:"measuredAt"`
}

type ListedAssets struct {
	Assets     []Asset   `json:"assets"`
	MeasuredAt time.Time `json:"measuredAt"`
}

type OptimalRangeUsd struct {
	MinUsd int64 `json:"minUsd"`
	MaxUsd int64 `json:"maxUsd"`
}

// PriceImpact holds the basis-point rate degradation at fixed notional sizes
// relative to the smallest-size baseline. Nil means the probe never succeeded.
type PriceImpact struct {
	At1kBps   *decimal.Decimal `json:"at1kBps"`
	At10kBps  *decimal.Decimal `json:"at10kBps"`
	At100kBps *decimal.Decimal `json:"at100kBps"`
}

// RouteIntelligence is derived per route from the capacity probing ladder and
// never persisted beyond the response.
type RouteIntelligence struct {
	Route              Route            `json:"route"`
	MaxCapacityUsd     *int64           `json:"maxCapacityUsd"`
	OptimalRangeUsd    *OptimalRangeUsd `json:"optimalRangeUsd"`
	FeeEfficiencyScore *float64         `json:"feeEfficiencyScore"`
	PriceImpact        PriceImpact      `json:"priceImpact"`
	MeasuredAt         time.Time        `json:"measuredAt"`
}

type SnapshotRequest struct {
	Routes              []Route  `json:"routes"`
	Notionals           []string `json:"notionals"`
	Windows             []string `json:"windows,omitempty"`
	IncludeIntelligence bool     `json:"includeIntelligence,omitempty"`
}

type Snapshot struct {
	RequestID    string              `json:"requestId"`
	Rates        []RateEntry         `json:"rates"`
	Volumes      []VolumeWindow      `json:"volumes"`
	Liquidity    []LiquidityDepth    `json:"liquidity"`
	ListedAssets ListedAssets        `json:"listedAssets"`
	Intelligence []RouteIntelligence `json:"intelligence,omitempty"`
	MeasuredAt   time.Time           `json:"measuredAt"`
}
