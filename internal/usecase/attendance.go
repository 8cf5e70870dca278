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

// AttendanceRecordStore defines the persistence operations the assembler
// needs for attendance records.
type AttendanceRecordStore interface {
	Create(ctx context.Context, record *repository.AttendanceRecord) error
	History(ctx context.Context, filter repository.AttendanceFilter) ([]repository.AttendanceRecord, error)
}

// GroupAuthResult reports one group authentication call.
type GroupAuthResult struct {
	EventID            string                `json:"event_id"`
	GroupImageBlobID   string                `json:"group_image_blob_id"`
	TotalFacesDetected int                   `json:"total_faces_detected"`
	Attendees          []repository.Attendee `json:"attendees"`
	UnidentifiedFaces  int                   `json:"unidentified_faces"`
	ProcessingTimeMs   int64                 `json:"processing_time_ms"`
}

// AttendanceUseCase assembles attendance records from group images. It only
// reads profiles; group authentication never stamps lastAuthenticatedAt, an
// asymmetry with the individual path that is preserved deliberately.
type AttendanceUseCase struct {
	profiles  ProfileRepository
	records   AttendanceRecordStore
	blobs     blobstore.Store
	inference inference.Client
	matcher   *Matcher
	cache     Cache
	retry     cacheRetry
	logger    *zap.Logger
}

// NewAttendanceUseCase constructs a new use case instance.
func NewAttendanceUseCase(profiles ProfileRepository, records AttendanceRecordStore, blobs blobstore.Store, client inference.Client, matcher *Matcher, cache Cache, logger *zap.Logger) *AttendanceUseCase {
	return &AttendanceUseCase{
		profiles:  profiles,
		records:   records,
		blobs:     blobs,
		inference: client,
		matcher:   matcher,
		cache:     cache,
		retry:     defaultCacheRetry(),
		logger:    logger.Named("attendance_usecase"),
	}
}

// AuthenticateGroup persists the group image, detects every face in it, and
// matches each face independently against the full set of active profiles.
// Faces do not know about matches claimed by other faces in the same image,
// so duplicate identifications are possible and kept. One immutable record is
// persisted per call.
func (uc *AttendanceUseCase) AuthenticateGroup(ctx context.Context, image []byte, eventID, eventName, location string) (*GroupAuthResult, error) {
	requestID := uuid.NewString()
	opLogger := logging.WithOperation(uc.logger, "usecase.authenticate_group", requestID)
	start := time.Now()

	filename := fmt.Sprintf("group_%s_%d.jpg", eventID, start.UnixMilli())
	groupImageID, err := uc.blobs.Put(ctx, image, filename, map[string]string{
		"event_id": eventID,
		"type":     "group_authentication",
	})
	if err != nil {
		opLogger.Error("failed to store group image", zap.Error(err))
		return nil, logging.NewOperationError("usecase.authenticate_group.store_image", requestID, err)
	}

	faces, err := uc.inference.DetectAndEmbed(ctx, image)
	if err != nil {
		opLogger.Error("face detection failed", zap.Error(err))
		return nil, logging.NewOperationError("usecase.authenticate_group.detect", requestID, err)
	}

	candidates, err := uc.profiles.FindActive(ctx)
	if err != nil {
		return nil, logging.NewOperationError("usecase.authenticate_group.load_profiles", requestID, err)
	}

	attendees := make([]repository.Attendee, 0, len(faces))
	unidentified := 0
	for _, face := range faces {
		match, err := uc.matcher.Match(face.Embedding, candidates)
		if err != nil {
			return nil, logging.NewOperationError("usecase.authenticate_group.match", requestID, err)
		}
		if match.Matched {
			attendees = append(attendees, repository.Attendee{
				IdentityID:  match.IdentityID,
				DisplayName: match.DisplayName,
				Confidence:  match.Confidence,
				FaceBox: repository.FaceBox{
					X:      face.Box.X,
					Y:      face.Box.Y,
					Width:  face.Box.Width,
					Height: face.Box.Height,
				},
			})
		} else {
			unidentified++
		}
	}

	processingTime := time.Since(start).Milliseconds()
	record := &repository.AttendanceRecord{
		EventID:            eventID,
		EventName:          eventName,
		Location:           location,
		Timestamp:          time.Now().UTC(),
		GroupImageBlobID:   groupImageID,
		Attendees:          attendees,
		TotalFacesDetected: len(faces),
		UnidentifiedFaces:  unidentified,
		ProcessingTimeMs:   processingTime,
	}
	if err := uc.records.Create(ctx, record); err != nil {
		opLogger.Error("failed to persist attendance record", zap.Error(err))
		return nil, logging.NewOperationError("usecase.authenticate_group.save_record", requestID, err)
	}

	opLogger.Info("group authentication completed",
		zap.String("event_id", eventID),
		zap.Int("total_faces", len(faces)),
		zap.Int("identified", len(attendees)),
		zap.Int("unidentified", unidentified))

	return &GroupAuthResult{
		EventID:            eventID,
		GroupImageBlobID:   groupImageID,
		TotalFacesDetected: len(faces),
		Attendees:          attendees,
		UnidentifiedFaces:  unidentified,
		ProcessingTimeMs:   processingTime,
	}, nil
}

// History lists attendance records matching the filter, newest first. Results
// are served from the cache when fresh; cache failures fall back to the
// database and never fail the request.
func (uc *AttendanceUseCase) History(ctx context.Context, filter repository.AttendanceFilter) ([]repository.AttendanceRecord, error) {
	cacheKey := fmt.Sprintf("attendance_history:%s:%s:%d:%d:%d",
		filter.EventID, filter.IdentityID, filter.From.Unix(), filter.To.Unix(), filter.Limit)

	if cached, err := uc.retry.get(ctx, uc.logger, "cache.attendance_history.get", uc.cache, cacheKey); err == nil {
		var records []repository.AttendanceRecord
		decodeErr := json.Unmarshal([]byte(cached), &records)
		if decodeErr == nil {
			return records, nil
		}
		uc.logger.Warn("failed to decode cached attendance history", zap.Error(decodeErr))
	} else if !errors.Is(err, redis.Nil) {
		uc.logger.Warn("attendance history cache read failed", zap.Error(err))
	}

	records, err := uc.records.History(ctx, filter)
	if err != nil {
		return nil, err
	}

	if serialized, err := json.Marshal(records); err == nil {
		if err := uc.retry.set(ctx, uc.logger, "cache.attendance_history.set", uc.cache, cacheKey, string(serialized)); err != nil {
			uc.logger.Warn("attendance history cache write failed", zap.Error(err))
		}
	}
	return records, nil
}
