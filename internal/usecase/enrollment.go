package usecase

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/face-attend/internal/blobstore"
	"github.com/example/face-attend/internal/embedding"
	"github.com/example/face-attend/internal/encryption"
	"github.com/example/face-attend/internal/inference"
	"github.com/example/face-attend/internal/logging"
	"github.com/example/face-attend/internal/repository"
)

// ProfileRepository defines the persistence operations the pipeline needs for
// face profiles.
type ProfileRepository interface {
	FindByIdentity(ctx context.Context, identityID string) (*repository.FaceProfile, error)
	FindActive(ctx context.Context) ([]repository.FaceProfile, error)
	Create(ctx context.Context, profile *repository.FaceProfile) error
	Save(ctx context.Context, profile *repository.FaceProfile) error
	TouchLastAuthenticated(ctx context.Context, identityID string, at time.Time) error
	Delete(ctx context.Context, identityID string) error
}

// EnrollmentImage is one uploaded face image.
type EnrollmentImage struct {
	Filename string
	Data     []byte
}

// EnrollmentResult reports a completed enrollment call.
type EnrollmentResult struct {
	IdentityID string `json:"identity_id"`
	ImageCount int    `json:"image_count"`
}

// EnrollmentUseCase builds and extends face profiles from image batches. It
// is the only writer of profile documents.
type EnrollmentUseCase struct {
	profiles  ProfileRepository
	blobs     blobstore.Store
	inference inference.Client
	cipher    encryption.Cipher
	logger    *zap.Logger
}

// NewEnrollmentUseCase constructs a new use case instance.
func NewEnrollmentUseCase(profiles ProfileRepository, blobs blobstore.Store, client inference.Client, cipher encryption.Cipher, logger *zap.Logger) *EnrollmentUseCase {
	return &EnrollmentUseCase{
		profiles:  profiles,
		blobs:     blobs,
		inference: client,
		cipher:    cipher,
		logger:    logger.Named("enrollment_usecase"),
	}
}

// Enroll persists each image, embeds and encrypts it, then appends the
// resulting pairs to the identity's profile, creating it on first enrollment.
// Enrollment is cumulative: repeat calls extend the existing lists and merge
// attributes with new keys overriding old ones. A failure on any image aborts
// the whole call; blobs already stored for earlier images in the batch are
// not rolled back.
func (uc *EnrollmentUseCase) Enroll(ctx context.Context, identityID, displayName string, images []EnrollmentImage, attributes map[string]string) (*EnrollmentResult, error) {
	requestID := uuid.NewString()
	opLogger := logging.WithOperation(uc.logger, "usecase.enroll", requestID)

	now := time.Now().UTC()
	imageRefs := make([]repository.ImageRef, 0, len(images))
	embeddings := make([]repository.EncryptedEmbedding, 0, len(images))

	for i, image := range images {
		blobID, err := uc.blobs.Put(ctx, image.Data, image.Filename, map[string]string{
			"identity_id": identityID,
			"type":        "enrollment",
		})
		if err != nil {
			opLogger.Error("failed to store enrollment image", zap.Int("index", i), zap.Error(err))
			return nil, logging.NewOperationError("usecase.enroll.store_image", requestID, err)
		}

		vector, err := uc.inference.Embed(ctx, image.Data)
		if err != nil {
			opLogger.Error("embedding extraction failed", zap.Int("index", i), zap.Error(err))
			return nil, logging.NewOperationError("usecase.enroll.embed", requestID, err)
		}

		plaintext, err := embedding.Serialize(vector)
		if err != nil {
			return nil, logging.NewOperationError("usecase.enroll.serialize", requestID, err)
		}
		ciphertext, err := uc.cipher.Encrypt(plaintext)
		if err != nil {
			opLogger.Error("embedding encryption failed", zap.Int("index", i), zap.Error(err))
			return nil, logging.NewOperationError("usecase.enroll.encrypt", requestID, err)
		}

		imageRefs = append(imageRefs, repository.ImageRef{
			BlobID:     blobID,
			CapturedAt: now,
			Quality:    imageQuality(len(image.Data)),
		})
		embeddings = append(embeddings, repository.EncryptedEmbedding{
			Ciphertext:   ciphertext,
			ModelVersion: ModelVersion,
			CreatedAt:    now,
		})
	}

	profile, err := uc.profiles.FindByIdentity(ctx, identityID)
	switch {
	case err == nil:
		profile.Images = append(profile.Images, imageRefs...)
		profile.Embeddings = append(profile.Embeddings, embeddings...)
		profile.Attributes = mergeAttributes(profile.Attributes, attributes)
		if displayName != "" {
			profile.DisplayName = displayName
		}
		if err := uc.profiles.Save(ctx, profile); err != nil {
			opLogger.Error("failed to extend profile", zap.Error(err))
			return nil, logging.NewOperationError("usecase.enroll.save_profile", requestID, err)
		}
	case logging.KindOf(err) == logging.KindNotFound:
		profile = &repository.FaceProfile{
			IdentityID:   identityID,
			DisplayName:  displayName,
			Attributes:   mergeAttributes(nil, attributes),
			Images:       imageRefs,
			Embeddings:   embeddings,
			RegisteredAt: now,
			Active:       true,
		}
		if err := uc.profiles.Create(ctx, profile); err != nil {
			opLogger.Error("failed to create profile", zap.Error(err))
			return nil, logging.NewOperationError("usecase.enroll.create_profile", requestID, err)
		}
	default:
		return nil, logging.NewOperationError("usecase.enroll.find_profile", requestID, err)
	}

	opLogger.Info("enrollment completed",
		zap.String("identity_id", identityID),
		zap.Int("image_count", len(images)),
		zap.Int("total_embeddings", len(profile.Embeddings)))

	return &EnrollmentResult{IdentityID: identityID, ImageCount: len(images)}, nil
}

// GetProfile returns the enrolled profile for an identity.
func (uc *EnrollmentUseCase) GetProfile(ctx context.Context, identityID string) (*repository.FaceProfile, error) {
	return uc.profiles.FindByIdentity(ctx, identityID)
}

// DeleteProfile removes an identity. Image blobs are deleted before the
// profile document so a retry after partial completion converges; blob
// deletion itself is idempotent.
func (uc *EnrollmentUseCase) DeleteProfile(ctx context.Context, identityID string) error {
	requestID := uuid.NewString()
	opLogger := logging.WithOperation(uc.logger, "usecase.delete_profile", requestID)

	profile, err := uc.profiles.FindByIdentity(ctx, identityID)
	if err != nil {
		return logging.NewOperationError("usecase.delete_profile.find", requestID, err)
	}

	for _, image := range profile.Images {
		if err := uc.blobs.Delete(ctx, image.BlobID); err != nil {
			opLogger.Error("failed to delete image blob", zap.String("blob_id", image.BlobID), zap.Error(err))
			return logging.NewOperationError("usecase.delete_profile.delete_blob", requestID, err)
		}
	}

	if err := uc.profiles.Delete(ctx, identityID); err != nil {
		return logging.NewOperationError("usecase.delete_profile.delete_document", requestID, err)
	}

	opLogger.Info("profile deleted", zap.String("identity_id", identityID))
	return nil
}

// imageQuality scores an image from its byte size, normalized against 1MB.
func imageQuality(size int) float64 {
	quality := float64(size) / (1024 * 1024)
	if quality > 1 {
		quality = 1
	}
	return quality
}

func mergeAttributes(existing, updates map[string]string) map[string]string {
	merged := make(map[string]string, len(existing)+len(updates))
	for key, value := range existing {
		merged[key] = value
	}
	for key, value := range updates {
		merged[key] = value
	}
	return merged
}
