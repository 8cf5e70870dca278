package repository

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/face-attend/internal/logging"
)

// CrowdMetadata is the free-form context captured with a crowd count.
type CrowdMetadata struct {
	ImageResolution   string `json:"image_resolution,omitempty"`
	CrowdDensity      string `json:"crowd_density,omitempty"`
	WeatherConditions string `json:"weather_conditions,omitempty"`
}

// CrowdCountRecord is the immutable log entry of one crowd counting call.
type CrowdCountRecord struct {
	ID               uint          `gorm:"primaryKey"`
	ImageBlobID      string        `gorm:"column:image_blob_id;size:36"`
	DensityMapBlobID string        `gorm:"column:density_map_blob_id;size:36"`
	Timestamp        time.Time     `gorm:"column:timestamp;index"`
	Location         string        `gorm:"column:location;index;size:255"`
	EventName        string        `gorm:"column:event_name;size:255"`
	FaceCount        int           `gorm:"column:face_count"`
	Confidence       float64       `gorm:"column:confidence"`
	ModelUsed        string        `gorm:"column:model_used;size:64"`
	ProcessingTimeMs int64         `gorm:"column:processing_time_ms"`
	Metadata         CrowdMetadata `gorm:"column:metadata;type:jsonb;serializer:json"`
}

// TableName overrides the default table name.
func (CrowdCountRecord) TableName() string {
	return "crowd_count_records"
}

// CrowdFilter narrows history queries.
type CrowdFilter struct {
	Location  string
	EventName string
	From      time.Time
	To        time.Time
	Limit     int
}

// CrowdRepository provides persistence APIs for crowd count records.
type CrowdRepository struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewCrowdRepository creates a new repository instance.
func NewCrowdRepository(db *gorm.DB, logger *zap.Logger) *CrowdRepository {
	return &CrowdRepository{db: db, logger: logger.Named("crowd_repository")}
}

// AutoMigrate ensures the schema is available.
func (r *CrowdRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&CrowdCountRecord{})
}

// Create persists a new crowd count record.
func (r *CrowdRepository) Create(ctx context.Context, record *CrowdCountRecord) error {
	if err := r.db.WithContext(ctx).Create(record).Error; err != nil {
		return logging.NewKindError(logging.KindUnavailable, "repository.create_crowd_count", "", err)
	}
	return nil
}

// History lists records matching the filter, newest first.
func (r *CrowdRepository) History(ctx context.Context, filter CrowdFilter) ([]CrowdCountRecord, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	query := r.db.WithContext(ctx).Model(&CrowdCountRecord{})
	if filter.Location != "" {
		query = query.Where("location = ?", filter.Location)
	}
	if filter.EventName != "" {
		query = query.Where("event_name = ?", filter.EventName)
	}
	if !filter.From.IsZero() {
		query = query.Where("timestamp >= ?", filter.From)
	}
	if !filter.To.IsZero() {
		query = query.Where("timestamp <= ?", filter.To)
	}

	var records []CrowdCountRecord
	if err := query.Order("timestamp desc").Limit(limit).Find(&records).Error; err != nil {
		return nil, logging.NewKindError(logging.KindUnavailable, "repository.crowd_history", "", err)
	}
	return records, nil
}

// DeleteOlderThan drops records past the retention cutoff and reports how many
// were removed.
func (r *CrowdRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Where("timestamp < ?", cutoff).Delete(&CrowdCountRecord{})
	if result.Error != nil {
		return 0, logging.NewKindError(logging.KindUnavailable, "repository.prune_crowd_counts", "", result.Error)
	}
	return result.RowsAffected, nil
}

// CrowdAggregation summarizes persisted crowd count records.
type CrowdAggregation struct {
	TotalRecords     int64   `gorm:"column:total_records"`
	AverageCount     float64 `gorm:"column:average_count"`
	AverageLatencyMs float64 `gorm:"column:average_latency_ms"`
}

// Aggregate computes the crowd part of the metrics summary.
func (r *CrowdRepository) Aggregate(ctx context.Context) (*CrowdAggregation, error) {
	var agg CrowdAggregation
	err := r.db.WithContext(ctx).Model(&CrowdCountRecord{}).
		Select("COUNT(*) AS total_records, " +
			"COALESCE(AVG(face_count), 0) AS average_count, " +
			"COALESCE(AVG(processing_time_ms), 0) AS average_latency_ms").
		Scan(&agg).Error
	if err != nil {
		return nil, logging.NewKindError(logging.KindUnavailable, "repository.aggregate_crowd_counts", "", err)
	}
	return &agg, nil
}

// CountSince reports how many records were created at or after the cutoff.
func (r *CrowdRepository) CountSince(ctx context.Context, cutoff time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&CrowdCountRecord{}).
		Where("timestamp >= ?", cutoff).Count(&count).Error
	if err != nil {
		return 0, logging.NewKindError(logging.KindUnavailable, "repository.count_crowd_counts", "", err)
	}
	return count, nil
}
