package models

// Wire types for the upstream market-data provider.

type ProviderFeeCost struct {
	Name      string `json:"name"`
	AmountUsd string `json:"amountUSD"`
}

type ProviderQuoteEstimate struct {
	ToAmount               string            `json:"toAmount"`
	FromAmountUsd          string            `json:"fromAmountUSD,omitempty"`
	ToAmountUsd            string            `json:"toAmountUSD,omitempty"`
	MaxTheoreticalToAmount string            `json:"maxTheoreticalToAmount,omitempty"`
	FeeCosts               []ProviderFeeCost `json:"feeCosts,omitempty"`
}

type ProviderQuoteResponse struct {
	Estimate ProviderQuoteEstimate `json:"estimate"`
}

type ProviderVolumeResponse struct {
	DailyVolumeUsd   string `json:"dailyVolumeUSD"`
	WeeklyVolumeUsd  string `json:"weeklyVolumeUSD"`
	MonthlyVolumeUsd string `json:"monthlyVolumeUSD"`
}

type ProviderTokenInfo struct {
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Decimals int    `json:"decimals"`
}

type ProviderTokenListResponse struct {
	Tokens map[string]ProviderTokenInfo `json:"tokens"`
}

type ProviderStatusResponse struct {
	Status string `json:"status"`
}
