package outcome

import (
	"context"

	"github.com/rgkrishnan/vaani/internal/session"
)

// Recorder persists call outcomes at termination. Implementations must be
// safe for concurrent sessions terminating simultaneously, and callers must
// never let a persistence failure block the call-ending flow.
type Recorder interface {
	Record(ctx context.Context, o session.Outcome) error
	MarketingStats(ctx context.Context, campaignID string) (MarketingStats, error)
	NotificationStats(ctx context.Context) (NotificationStats, error)
	Close() error
}

// MarketingStats aggregates recorded marketing-call outcomes for a campaign
// (or all campaigns when unfiltered).
type MarketingStats struct {
	TotalCalls        int            `json:"total_calls"`
	InterestBreakdown map[string]int `json:"interest_breakdown"`
	InterestedRate    float64        `json:"interested_rate"`
	NotInterestedRate float64        `json:"not_interested_rate"`
}

// NotificationStats aggregates recorded notification-call outcomes.
type NotificationStats struct {
	TotalCalls   int     `json:"total_calls"`
	Delivered    int     `json:"delivered"`
	DeliveryRate float64 `json:"delivery_rate"`
}

func computeMarketingRates(s *MarketingStats) {
	if s.TotalCalls == 0 {
		return
	}
	s.InterestedRate = float64(s.InterestBreakdown["interested"]) / float64(s.TotalCalls) * 100
	s.NotInterestedRate = float64(s.InterestBreakdown["not-interested"]) / float64(s.TotalCalls) * 100
}
