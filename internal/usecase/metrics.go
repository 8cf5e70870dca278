package usecase

import (
	"context"

	"go.uber.org/zap"

	"github.com/example/face-attend/internal/repository"
)

// AttendanceAggregator exposes the attendance metrics aggregation.
type AttendanceAggregator interface {
	Aggregate(ctx context.Context) (*repository.AttendanceAggregation, error)
}

// CrowdAggregator exposes the crowd metrics aggregation.
type CrowdAggregator interface {
	Aggregate(ctx context.Context) (*repository.CrowdAggregation, error)
}

// MetricsSummary represents aggregated pipeline insights computed from
// persisted records.
type MetricsSummary struct {
	AttendanceRecords          int64   `json:"attendance_records"`
	TotalFacesDetected         int64   `json:"total_faces_detected"`
	IdentifiedFaces            int64   `json:"identified_faces"`
	IdentificationRate         float64 `json:"identification_rate"`
	AverageAttendanceLatencyMs float64 `json:"average_attendance_latency_ms"`
	CrowdRecords               int64   `json:"crowd_records"`
	AverageCrowdCount          float64 `json:"average_crowd_count"`
	AverageCrowdLatencyMs      float64 `json:"average_crowd_latency_ms"`
}

// MetricsUseCase aggregates operational metrics from the record collections.
type MetricsUseCase struct {
	attendance AttendanceAggregator
	crowd      CrowdAggregator
	logger     *zap.Logger
}

// NewMetricsUseCase constructs a new use case instance.
func NewMetricsUseCase(attendance AttendanceAggregator, crowd CrowdAggregator, logger *zap.Logger) *MetricsUseCase {
	return &MetricsUseCase{
		attendance: attendance,
		crowd:      crowd,
		logger:     logger.Named("metrics_usecase"),
	}
}

// Summary computes the current metrics snapshot.
func (uc *MetricsUseCase) Summary(ctx context.Context) (*MetricsSummary, error) {
	attendanceAgg, err := uc.attendance.Aggregate(ctx)
	if err != nil {
		return nil, err
	}
	crowdAgg, err := uc.crowd.Aggregate(ctx)
	if err != nil {
		return nil, err
	}

	summary := &MetricsSummary{
		AttendanceRecords:          attendanceAgg.TotalRecords,
		TotalFacesDetected:         attendanceAgg.TotalFaces,
		IdentifiedFaces:            attendanceAgg.IdentifiedFaces,
		AverageAttendanceLatencyMs: attendanceAgg.AverageLatencyMs,
		CrowdRecords:               crowdAgg.TotalRecords,
		AverageCrowdCount:          crowdAgg.AverageCount,
		AverageCrowdLatencyMs:      crowdAgg.AverageLatencyMs,
	}
	if attendanceAgg.TotalFaces > 0 {
		summary.IdentificationRate = float64(attendanceAgg.IdentifiedFaces) / float64(attendanceAgg.TotalFaces)
	}
	return summary, nil
}
