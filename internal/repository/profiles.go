package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/face-attend/internal/logging"
)

// ImageRef points at one enrolled face image in the blob store.
type ImageRef struct {
	BlobID     string    `json:"blob_id"`
	CapturedAt time.Time `json:"captured_at"`
	Quality    float64   `json:"quality"`
}

// EncryptedEmbedding is one stored embedding in its encrypted form.
type EncryptedEmbedding struct {
	Ciphertext   string    `json:"ciphertext"`
	ModelVersion string    `json:"model_version"`
	CreatedAt    time.Time `json:"created_at"`
}

// FaceProfile is the durable record of one enrolled identity. Images and
// embeddings are append-only and always grow in lockstep. The auto-increment
// primary key doubles as the stable enrollment order the matcher scans in.
type FaceProfile struct {
	ID                  uint                 `gorm:"primaryKey"`
	IdentityID          string               `gorm:"column:identity_id;uniqueIndex;size:64"`
	DisplayName         string               `gorm:"column:display_name;size:255"`
	Attributes          map[string]string    `gorm:"column:attributes;type:jsonb;serializer:json"`
	Images              []ImageRef           `gorm:"column:images;type:jsonb;serializer:json"`
	Embeddings          []EncryptedEmbedding `gorm:"column:embeddings;type:jsonb;serializer:json"`
	RegisteredAt        time.Time            `gorm:"column:registered_at"`
	LastAuthenticatedAt *time.Time           `gorm:"column:last_authenticated_at"`
	Active              bool                 `gorm:"column:active;index"`
}

// TableName overrides the default table name.
func (FaceProfile) TableName() string {
	return "face_profiles"
}

// ProfileRepository provides persistence APIs for face profiles.
type ProfileRepository struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewProfileRepository creates a new repository instance.
func NewProfileRepository(db *gorm.DB, logger *zap.Logger) *ProfileRepository {
	return &ProfileRepository{db: db, logger: logger.Named("profile_repository")}
}

// AutoMigrate ensures the schema is available.
func (r *ProfileRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&FaceProfile{})
}

// FindByIdentity retrieves the profile enrolled under an identity.
func (r *ProfileRepository) FindByIdentity(ctx context.Context, identityID string) (*FaceProfile, error) {
	var profile FaceProfile
	if err := r.db.WithContext(ctx).First(&profile, "identity_id = ?", identityID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, logging.NewKindError(logging.KindNotFound, "repository.find_profile", "",
				fmt.Errorf("profile %s not found", identityID))
		}
		return nil, logging.NewKindError(logging.KindUnavailable, "repository.find_profile", "", err)
	}
	return &profile, nil
}

// FindActive lists every active profile in enrollment order. The matcher
// relies on this ordering for its deterministic tie-break.
func (r *ProfileRepository) FindActive(ctx context.Context) ([]FaceProfile, error) {
	var profiles []FaceProfile
	if err := r.db.WithContext(ctx).Where("active = ?", true).Order("id asc").Find(&profiles).Error; err != nil {
		return nil, logging.NewKindError(logging.KindUnavailable, "repository.find_active_profiles", "", err)
	}
	return profiles, nil
}

// Create persists a new profile.
func (r *ProfileRepository) Create(ctx context.Context, profile *FaceProfile) error {
	if err := r.db.WithContext(ctx).Create(profile).Error; err != nil {
		return logging.NewKindError(logging.KindUnavailable, "repository.create_profile", "", err)
	}
	return nil
}

// Save writes back an existing profile after an append.
func (r *ProfileRepository) Save(ctx context.Context, profile *FaceProfile) error {
	if err := r.db.WithContext(ctx).Save(profile).Error; err != nil {
		return logging.NewKindError(logging.KindUnavailable, "repository.save_profile", "", err)
	}
	return nil
}

// TouchLastAuthenticated records a successful individual authentication.
func (r *ProfileRepository) TouchLastAuthenticated(ctx context.Context, identityID string, at time.Time) error {
	err := r.db.WithContext(ctx).
		Model(&FaceProfile{}).
		Where("identity_id = ?", identityID).
		Update("last_authenticated_at", at).Error
	if err != nil {
		return logging.NewKindError(logging.KindUnavailable, "repository.touch_last_authenticated", "", err)
	}
	return nil
}

// Delete removes a profile document. Deleting an absent profile is not an
// error, so a retried deletion after partial completion stays idempotent.
func (r *ProfileRepository) Delete(ctx context.Context, identityID string) error {
	if err := r.db.WithContext(ctx).Delete(&FaceProfile{}, "identity_id = ?", identityID).Error; err != nil {
		return logging.NewKindError(logging.KindUnavailable, "repository.delete_profile", "", err)
	}
	return nil
}
