package model

// TokenUsagePeriod aggregates CLI-derived token usage over one period.
type TokenUsagePeriod struct {
	CostUSD     float64 `json:"cost_usd"`
	TotalTokens int64   `json:"total_tokens"`
}

// DailyTokenUsage is one day of the visualization series. Dates use the
// CLI's own YYYY-MM-DD formatting; entries are additive and order-irrelevant.
type DailyTokenUsage struct {
	Date        string  `json:"date"`
	TotalTokens int64   `json:"total_tokens"`
	CostUSD     float64 `json:"cost_usd"`
}

// TokenUsageSnapshot is the token/cost usage reported by the accounting
// CLI at a fetch instant, persisted alongside the limit snapshots for the
// same cross-process consumers.
type TokenUsageSnapshot struct {
	Provider  UsageProvider     `json:"provider"`
	FetchedAt Timestamp         `json:"fetched_at"`
	Today     TokenUsagePeriod  `json:"today"`
	ThisWeek  TokenUsagePeriod  `json:"this_week"`
	ThisMonth TokenUsagePeriod  `json:"this_month"`
	Daily     []DailyTokenUsage `json:"daily,omitempty"`
}
