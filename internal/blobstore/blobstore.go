// Package blobstore provides content storage for raw images and derived
// artifacts such as density maps.
package blobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/face-attend/internal/logging"
)

// Store is the opaque put/get/delete contract the pipeline depends on. Blob
// identifiers are stable and meaningless to callers.
type Store interface {
	Put(ctx context.Context, data []byte, filename string, metadata map[string]string) (string, error)
	Get(ctx context.Context, blobID string) ([]byte, error)
	Delete(ctx context.Context, blobID string) error
}

// Blob is one stored object. Metadata is kept alongside the payload for later
// filtering; the pipeline itself never reads it back.
type Blob struct {
	ID        string          `gorm:"primaryKey;size:36"`
	Filename  string          `gorm:"size:255"`
	Data      []byte          `gorm:"type:bytea"`
	Metadata  json.RawMessage `gorm:"type:jsonb"`
	CreatedAt time.Time
}

// TableName overrides the default table name.
func (Blob) TableName() string {
	return "blobs"
}

// DatabaseStore keeps blobs in a dedicated table, playing the role GridFS
// played in earlier deployments.
type DatabaseStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewDatabaseStore creates a database-backed blob store.
func NewDatabaseStore(db *gorm.DB, logger *zap.Logger) *DatabaseStore {
	return &DatabaseStore{db: db, logger: logger.Named("blobstore")}
}

// AutoMigrate ensures the blob table exists.
func (s *DatabaseStore) AutoMigrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&Blob{})
}

// Put stores a blob and returns its identifier.
func (s *DatabaseStore) Put(ctx context.Context, data []byte, filename string, metadata map[string]string) (string, error) {
	encoded, err := json.Marshal(metadata)
	if err != nil {
		return "", logging.NewOperationError("blobstore.put", "", err)
	}

	blob := &Blob{
		ID:        uuid.NewString(),
		Filename:  filename,
		Data:      data,
		Metadata:  encoded,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(blob).Error; err != nil {
		wrapped := logging.NewKindError(logging.KindUnavailable, "blobstore.put", "",
			fmt.Errorf("store blob: %w", err))
		s.logger.Error("failed to store blob", zap.String("filename", filename), zap.Error(wrapped))
		return "", wrapped
	}

	s.logger.Debug("blob stored", zap.String("blob_id", blob.ID), zap.Int("size", len(data)))
	return blob.ID, nil
}

// Get returns a blob's payload.
func (s *DatabaseStore) Get(ctx context.Context, blobID string) ([]byte, error) {
	var blob Blob
	if err := s.db.WithContext(ctx).First(&blob, "id = ?", blobID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, logging.NewKindError(logging.KindNotFound, "blobstore.get", "",
				fmt.Errorf("blob %s not found", blobID))
		}
		return nil, logging.NewKindError(logging.KindUnavailable, "blobstore.get", "", err)
	}
	return blob.Data, nil
}

// Delete removes a blob. Deleting an absent blob is not an error, so retried
// cleanup stays idempotent.
func (s *DatabaseStore) Delete(ctx context.Context, blobID string) error {
	if err := s.db.WithContext(ctx).Delete(&Blob{}, "id = ?", blobID).Error; err != nil {
		return logging.NewKindError(logging.KindUnavailable, "blobstore.delete", "", err)
	}
	return nil
}
