package service

import (
	"context"
	"errors"

	"github.com/GoosieGav/PestHub/internal/repository"
)

// ErrHistoryDisabled is returned by history queries when no repository is
// configured.
var ErrHistoryDisabled = errors.New("classification history is disabled")

const topClassLimit = 5

// HistorySummary represents aggregated classification insights.
type HistorySummary struct {
	TotalRequests      int64                   `json:"total_requests"`
	SuccessfulRequests int64                   `json:"successful_requests"`
	SuccessRate        float64                 `json:"success_rate"`
	PestDetections     int64                   `json:"pest_detections"`
	PestRate           float64                 `json:"pest_rate"`
	NewPestDetections  int64                   `json:"new_pest_detections"`
	AverageLatencyMs   float64                 `json:"average_latency_ms"`
	TopClasses         []repository.ClassCount `json:"top_classes"`
}

// GetHistorySummary aggregates classification history from persisted logs.
func (s *PestService) GetHistorySummary(ctx context.Context) (*HistorySummary, error) {
	if s.history == nil {
		return nil, ErrHistoryDisabled
	}
	aggregation, err := s.history.AggregateSummary(ctx)
	if err != nil {
		return nil, err
	}
	top, err := s.history.TopClasses(ctx, topClassLimit)
	if err != nil {
		return nil, err
	}
	if top == nil {
		top = []repository.ClassCount{}
	}

	summary := &HistorySummary{
		TotalRequests:      aggregation.TotalCount,
		SuccessfulRequests: aggregation.SuccessCount,
		PestDetections:     aggregation.PestCount,
		NewPestDetections:  aggregation.NewPestCount,
		AverageLatencyMs:   aggregation.AverageLatencyMs,
		TopClasses:         top,
	}
	if aggregation.TotalCount > 0 {
		summary.SuccessRate = float64(aggregation.SuccessCount) / float64(aggregation.TotalCount)
	}
	// Pest rate is over answered requests; transport failures carry no verdict.
	if aggregation.SuccessCount > 0 {
		summary.PestRate = float64(aggregation.PestCount) / float64(aggregation.SuccessCount)
	}
	return summary, nil
}
