package usecase

import (
	"context"

	"github.com/example/featurescope/internal/auth"
)

// AdminRole sees metrics across all users.
const AdminRole = "admin"

// MetricsSummary represents aggregated batch insights.
type MetricsSummary struct {
	Scope               string  `json:"scope"`
	TotalBatches        int64   `json:"total_batches"`
	TotalImages         int64   `json:"total_images"`
	FailedImages        int64   `json:"failed_images"`
	ImageSuccessRate    float64 `json:"image_success_rate"`
	AverageProcessingMs float64 `json:"average_processing_ms"`
}

// GetMetricsSummary aggregates batch metrics for the caller. Admins get the
// global view; everyone else sees their own batches.
func (uc *UploadUseCase) GetMetricsSummary(ctx context.Context, identity *auth.Identity) (*MetricsSummary, error) {
	username, scope := identity.Username, "user"
	if identity.Role == AdminRole {
		username, scope = "", "all"
	}

	aggregation, err := uc.repo.AggregateMetrics(ctx, username)
	if err != nil {
		return nil, err
	}

	summary := &MetricsSummary{
		Scope:               scope,
		TotalBatches:        aggregation.TotalBatches,
		TotalImages:         aggregation.TotalImages,
		FailedImages:        aggregation.FailedImages,
		AverageProcessingMs: aggregation.AverageProcessingMs,
	}

	if aggregation.TotalImages > 0 {
		summary.ImageSuccessRate = float64(aggregation.TotalImages-aggregation.FailedImages) / float64(aggregation.TotalImages)
	}

	return summary, nil
}
