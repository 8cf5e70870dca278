package usecase

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/example/face-attend/internal/logging"
)

// RetentionStore is the pruning surface a record collection offers.
type RetentionStore interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	CountSince(ctx context.Context, cutoff time.Time) (int64, error)
}

// CleanupResult reports how many records a cleanup pass removed.
type CleanupResult struct {
	AttendanceRecords int64 `json:"attendance_records"`
	CrowdCountRecords int64 `json:"crowd_count_records"`
}

// RetentionStats summarizes record volume by age.
type RetentionStats struct {
	AttendanceTotal      int64 `json:"attendance_total"`
	AttendanceLast30Days int64 `json:"attendance_last_30_days"`
	CrowdTotal           int64 `json:"crowd_total"`
	CrowdLast30Days      int64 `json:"crowd_last_30_days"`
}

// RetentionUseCase prunes record collections past their retention windows.
// Profiles are never touched: embeddings leave the system only when their
// whole profile is deleted.
type RetentionUseCase struct {
	attendance       RetentionStore
	crowd            RetentionStore
	attendanceMonths int
	crowdMonths      int
	logger           *zap.Logger
	now              func() time.Time
}

// NewRetentionUseCase constructs a new use case instance.
func NewRetentionUseCase(attendance, crowd RetentionStore, attendanceMonths, crowdMonths int, logger *zap.Logger) *RetentionUseCase {
	if attendanceMonths <= 0 {
		attendanceMonths = 12
	}
	if crowdMonths <= 0 {
		crowdMonths = 12
	}
	return &RetentionUseCase{
		attendance:       attendance,
		crowd:            crowd,
		attendanceMonths: attendanceMonths,
		crowdMonths:      crowdMonths,
		logger:           logger.Named("retention_usecase"),
		now:              time.Now,
	}
}

// Cleanup removes attendance and crowd records older than their retention
// cutoffs.
func (uc *RetentionUseCase) Cleanup(ctx context.Context) (*CleanupResult, error) {
	now := uc.now().UTC()

	attendanceCutoff := now.AddDate(0, -uc.attendanceMonths, 0)
	attendanceDeleted, err := uc.attendance.DeleteOlderThan(ctx, attendanceCutoff)
	if err != nil {
		return nil, logging.NewOperationError("usecase.retention.prune_attendance", "", err)
	}

	crowdCutoff := now.AddDate(0, -uc.crowdMonths, 0)
	crowdDeleted, err := uc.crowd.DeleteOlderThan(ctx, crowdCutoff)
	if err != nil {
		return nil, logging.NewOperationError("usecase.retention.prune_crowd", "", err)
	}

	uc.logger.Info("retention cleanup completed",
		zap.Int64("attendance_records", attendanceDeleted),
		zap.Int64("crowd_count_records", crowdDeleted))

	return &CleanupResult{
		AttendanceRecords: attendanceDeleted,
		CrowdCountRecords: crowdDeleted,
	}, nil
}

// Stats reports record volume totals and the last 30 days of activity.
func (uc *RetentionUseCase) Stats(ctx context.Context) (*RetentionStats, error) {
	now := uc.now().UTC()
	last30 := now.AddDate(0, 0, -30)

	attendanceTotal, err := uc.attendance.CountSince(ctx, time.Time{})
	if err != nil {
		return nil, err
	}
	attendanceRecent, err := uc.attendance.CountSince(ctx, last30)
	if err != nil {
		return nil, err
	}
	crowdTotal, err := uc.crowd.CountSince(ctx, time.Time{})
	if err != nil {
		return nil, err
	}
	crowdRecent, err := uc.crowd.CountSince(ctx, last30)
	if err != nil {
		return nil, err
	}

	return &RetentionStats{
		AttendanceTotal:      attendanceTotal,
		AttendanceLast30Days: attendanceRecent,
		CrowdTotal:           crowdTotal,
		CrowdLast30Days:      crowdRecent,
	}, nil
}
