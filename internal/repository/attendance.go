package repository

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/face-attend/internal/logging"
)

// FaceBox locates one face inside the group image.
type FaceBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Attendee is one identified face in an attendance record.
type Attendee struct {
	IdentityID  string  `json:"identity_id"`
	DisplayName string  `json:"display_name"`
	Confidence  float64 `json:"confidence"`
	FaceBox     FaceBox `json:"face_box"`
}

// AttendanceRecord is the immutable log entry of one group authentication.
// Multiple records per event are legal; records are never mutated after
// creation.
type AttendanceRecord struct {
	ID                 uint       `gorm:"primaryKey"`
	EventID            string     `gorm:"column:event_id;index:idx_attendance_event_time,priority:1;size:64"`
	EventName          string     `gorm:"column:event_name;size:255"`
	Location           string     `gorm:"column:location;size:255"`
	Timestamp          time.Time  `gorm:"column:timestamp;index:idx_attendance_event_time,priority:2;index"`
	GroupImageBlobID   string     `gorm:"column:group_image_blob_id;size:36"`
	Attendees          []Attendee `gorm:"column:attendees;type:jsonb;serializer:json"`
	TotalFacesDetected int        `gorm:"column:total_faces_detected"`
	UnidentifiedFaces  int        `gorm:"column:unidentified_faces"`
	ProcessingTimeMs   int64      `gorm:"column:processing_time_ms"`
}

// TableName overrides the default table name.
func (AttendanceRecord) TableName() string {
	return "attendance_records"
}

// AttendanceFilter narrows history queries.
type AttendanceFilter struct {
	EventID    string
	IdentityID string
	From       time.Time
	To         time.Time
	Limit      int
}

// AttendanceRepository provides persistence APIs for attendance records.
type AttendanceRepository struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewAttendanceRepository creates a new repository instance.
func NewAttendanceRepository(db *gorm.DB, logger *zap.Logger) *AttendanceRepository {
	return &AttendanceRepository{db: db, logger: logger.Named("attendance_repository")}
}

// AutoMigrate ensures the schema is available.
func (r *AttendanceRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&AttendanceRecord{})
}

// Create persists a new attendance record.
func (r *AttendanceRepository) Create(ctx context.Context, record *AttendanceRecord) error {
	if err := r.db.WithContext(ctx).Create(record).Error; err != nil {
		return logging.NewKindError(logging.KindUnavailable, "repository.create_attendance", "", err)
	}
	return nil
}

// History lists records matching the filter, newest first.
func (r *AttendanceRepository) History(ctx context.Context, filter AttendanceFilter) ([]AttendanceRecord, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	query := r.db.WithContext(ctx).Model(&AttendanceRecord{})
	if filter.EventID != "" {
		query = query.Where("event_id = ?", filter.EventID)
	}
	if filter.IdentityID != "" {
		query = query.Where("attendees @> ?", fmt.Sprintf(`[{"identity_id":%q}]`, filter.IdentityID))
	}
	if !filter.From.IsZero() {
		query = query.Where("timestamp >= ?", filter.From)
	}
	if !filter.To.IsZero() {
		query = query.Where("timestamp <= ?", filter.To)
	}

	var records []AttendanceRecord
	if err := query.Order("timestamp desc").Limit(limit).Find(&records).Error; err != nil {
		return nil, logging.NewKindError(logging.KindUnavailable, "repository.attendance_history", "", err)
	}
	return records, nil
}

// DeleteOlderThan drops records past the retention cutoff and reports how many
// were removed.
func (r *AttendanceRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Where("timestamp < ?", cutoff).Delete(&AttendanceRecord{})
	if result.Error != nil {
		return 0, logging.NewKindError(logging.KindUnavailable, "repository.prune_attendance", "", result.Error)
	}
	return result.RowsAffected, nil
}

// AttendanceAggregation summarizes persisted attendance records.
type AttendanceAggregation struct {
	TotalRecords     int64   `gorm:"column:total_records"`
	TotalFaces       int64   `gorm:"column:total_faces"`
	IdentifiedFaces  int64   `gorm:"column:identified_faces"`
	AverageLatencyMs float64 `gorm:"column:average_latency_ms"`
}

// Aggregate computes the attendance part of the metrics summary.
func (r *AttendanceRepository) Aggregate(ctx context.Context) (*AttendanceAggregation, error) {
	var agg AttendanceAggregation
	err := r.db.WithContext(ctx).Model(&AttendanceRecord{}).
		Select("COUNT(*) AS total_records, " +
			"COALESCE(SUM(total_faces_detected), 0) AS total_faces, " +
			"COALESCE(SUM(total_faces_detected - unidentified_faces), 0) AS identified_faces, " +
			"COALESCE(AVG(processing_time_ms), 0) AS average_latency_ms").
		Scan(&agg).Error
	if err != nil {
		return nil, logging.NewKindError(logging.KindUnavailable, "repository.aggregate_attendance", "", err)
	}
	return &agg, nil
}

// CountSince reports how many records were created at or after the cutoff.
func (r *AttendanceRepository) CountSince(ctx context.Context, cutoff time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&AttendanceRecord{}).
		Where("timestamp >= ?", cutoff).Count(&count).Error
	if err != nil {
		return 0, logging.NewKindError(logging.KindUnavailable, "repository.count_attendance", "", err)
	}
	return count, nil
}
