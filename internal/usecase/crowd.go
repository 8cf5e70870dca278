package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/face-attend/internal/blobstore"
	"github.com/example/face-attend/internal/inference"
	"github.com/example/face-attend/internal/logging"
	"github.com/example/face-attend/internal/repository"
)

// CrowdModelLabel names the counting model recorded with every crowd record.
const CrowdModelLabel = "YOLO+MCNN"

// CrowdRecordStore defines the persistence operations the recorder needs for
// crowd count records.
type CrowdRecordStore interface {
	Create(ctx context.Context, record *repository.CrowdCountRecord) error
	History(ctx context.Context, filter repository.CrowdFilter) ([]repository.CrowdCountRecord, error)
}

// CrowdRequestContext carries caller-supplied context stored with the record.
type CrowdRequestContext struct {
	ImageResolution   string
	WeatherConditions string
}

// CrowdCountResult reports one crowd counting call.
type CrowdCountResult struct {
	FaceCount        int     `json:"face_count"`
	Confidence       float64 `json:"confidence"`
	CrowdDensity     string  `json:"crowd_density"`
	DensityMap       []byte  `json:"-"`
	ImageBlobID      string  `json:"image_blob_id"`
	DensityMapBlobID string  `json:"density_map_blob_id,omitempty"`
	ProcessingTimeMs int64   `json:"processing_time_ms"`
}

// CrowdUseCase wraps a single counting inference call and persists one
// immutable record per call. It never touches the identity store and performs
// no matching.
type CrowdUseCase struct {
	records   CrowdRecordStore
	blobs     blobstore.Store
	inference inference.Client
	cache     Cache
	retry     cacheRetry
	logger    *zap.Logger
}

// NewCrowdUseCase constructs a new use case instance.
func NewCrowdUseCase(records CrowdRecordStore, blobs blobstore.Store, client inference.Client, cache Cache, logger *zap.Logger) *CrowdUseCase {
	return &CrowdUseCase{
		records:   records,
		blobs:     blobs,
		inference: client,
		cache:     cache,
		retry:     defaultCacheRetry(),
		logger:    logger.Named("crowd_usecase"),
	}
}

// CountCrowd persists the raw image, runs the counting inference, persists
// the returned density map as a second blob, and records the result. The
// density bucket defaults to "medium" when the service omits it.
func (uc *CrowdUseCase) CountCrowd(ctx context.Context, image []byte, location, eventName string, reqCtx CrowdRequestContext) (*CrowdCountResult, error) {
	requestID := uuid.NewString()
	opLogger := logging.WithOperation(uc.logger, "usecase.count_crowd", requestID)
	start := time.Now()

	imageID, err := uc.blobs.Put(ctx, image, fmt.Sprintf("crowd_%d.jpg", start.UnixMilli()), map[string]string{
		"type":       "crowd_counting",
		"location":   location,
		"event_name": eventName,
	})
	if err != nil {
		opLogger.Error("failed to store crowd image", zap.Error(err))
		return nil, logging.NewOperationError("usecase.count_crowd.store_image", requestID, err)
	}

	estimate, err := uc.inference.CountCrowd(ctx, image)
	if err != nil {
		opLogger.Error("crowd counting failed", zap.Error(err))
		return nil, logging.NewOperationError("usecase.count_crowd.infer", requestID, err)
	}

	density := estimate.CrowdDensity
	if density == "" {
		density = "medium"
	}

	var densityMapID string
	if len(estimate.DensityMap) > 0 {
		densityMapID, err = uc.blobs.Put(ctx, estimate.DensityMap, fmt.Sprintf("density_map_%d.jpg", start.UnixMilli()), map[string]string{
			"type":       "density_map",
			"location":   location,
			"event_name": eventName,
		})
		if err != nil {
			opLogger.Error("failed to store density map", zap.Error(err))
			return nil, logging.NewOperationError("usecase.count_crowd.store_density_map", requestID, err)
		}
	}

	processingTime := time.Since(start).Milliseconds()
	record := &repository.CrowdCountRecord{
		ImageBlobID:      imageID,
		DensityMapBlobID: densityMapID,
		Timestamp:        time.Now().UTC(),
		Location:         location,
		EventName:        eventName,
		FaceCount:        estimate.Count,
		Confidence:       estimate.Confidence,
		ModelUsed:        CrowdModelLabel,
		ProcessingTimeMs: processingTime,
		Metadata: repository.CrowdMetadata{
			ImageResolution:   reqCtx.ImageResolution,
			CrowdDensity:      density,
			WeatherConditions: reqCtx.WeatherConditions,
		},
	}
	if err := uc.records.Create(ctx, record); err != nil {
		opLogger.Error("failed to persist crowd count record", zap.Error(err))
		return nil, logging.NewOperationError("usecase.count_crowd.save_record", requestID, err)
	}

	opLogger.Info("crowd count completed",
		zap.Int("face_count", estimate.Count),
		zap.String("crowd_density", density))

	return &CrowdCountResult{
		FaceCount:        estimate.Count,
		Confidence:       estimate.Confidence,
		CrowdDensity:     density,
		DensityMap:       estimate.DensityMap,
		ImageBlobID:      imageID,
		DensityMapBlobID: densityMapID,
		ProcessingTimeMs: processingTime,
	}, nil
}

// History lists crowd count records matching the filter, newest first, with
// the same cache behavior as attendance history.
func (uc *CrowdUseCase) History(ctx context.Context, filter repository.CrowdFilter) ([]repository.CrowdCountRecord, error) {
	cacheKey := fmt.Sprintf("crowd_history:%s:%s:%d:%d:%d",
		filter.Location, filter.EventName, filter.From.Unix(), filter.To.Unix(), filter.Limit)

	if cached, err := uc.retry.get(ctx, uc.logger, "cache.crowd_history.get", uc.cache, cacheKey); err == nil {
		var records []repository.CrowdCountRecord
		decodeErr := json.Unmarshal([]byte(cached), &records)
		if decodeErr == nil {
			return records, nil
		}
		uc.logger.Warn("failed to decode cached crowd history", zap.Error(decodeErr))
	} else if !errors.Is(err, redis.Nil) {
		uc.logger.Warn("crowd history cache read failed", zap.Error(err))
	}

	records, err := uc.records.History(ctx, filter)
	if err != nil {
		return nil, err
	}

	if serialized, err := json.Marshal(records); err == nil {
		if err := uc.retry.set(ctx, uc.logger, "cache.crowd_history.set", uc.cache, cacheKey, string(serialized)); err != nil {
			uc.logger.Warn("crowd history cache write failed", zap.Error(err))
		}
	}
	return records, nil
}
