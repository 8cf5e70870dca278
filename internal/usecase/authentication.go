package usecase

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/face-attend/internal/inference"
	"github.com/example/face-attend/internal/logging"
)

// AuthenticationResult is the outcome of one individual authentication call.
// Confidence is populated on failure too, carrying the best similarity seen
// for diagnostics; it is not a partial identity disclosure.
type AuthenticationResult struct {
	Authenticated    bool    `json:"authenticated"`
	IdentityID       string  `json:"identity_id,omitempty"`
	DisplayName      string  `json:"display_name,omitempty"`
	Confidence       float64 `json:"confidence"`
	ProcessingTimeMs int64   `json:"processing_time_ms"`
}

// AuthenticationUseCase authenticates a single face image against every
// active profile.
type AuthenticationUseCase struct {
	profiles  ProfileRepository
	inference inference.Client
	matcher   *Matcher
	logger    *zap.Logger
}

// NewAuthenticationUseCase constructs a new use case instance.
func NewAuthenticationUseCase(profiles ProfileRepository, client inference.Client, matcher *Matcher, logger *zap.Logger) *AuthenticationUseCase {
	return &AuthenticationUseCase{
		profiles:  profiles,
		inference: client,
		matcher:   matcher,
		logger:    logger.Named("authentication_usecase"),
	}
}

// Authenticate embeds the image and runs the matcher over all active
// profiles. A successful match stamps the profile's lastAuthenticatedAt; this
// is the only path that mutates it.
func (uc *AuthenticationUseCase) Authenticate(ctx context.Context, image []byte) (*AuthenticationResult, error) {
	requestID := uuid.NewString()
	opLogger := logging.WithOperation(uc.logger, "usecase.authenticate", requestID)
	start := time.Now()

	vector, err := uc.inference.Embed(ctx, image)
	if err != nil {
		opLogger.Error("embedding extraction failed", zap.Error(err))
		return nil, logging.NewOperationError("usecase.authenticate.embed", requestID, err)
	}

	candidates, err := uc.profiles.FindActive(ctx)
	if err != nil {
		return nil, logging.NewOperationError("usecase.authenticate.load_profiles", requestID, err)
	}

	match, err := uc.matcher.Match(vector, candidates)
	if err != nil {
		return nil, logging.NewOperationError("usecase.authenticate.match", requestID, err)
	}

	result := &AuthenticationResult{
		Authenticated:    match.Matched,
		Confidence:       match.Confidence,
		ProcessingTimeMs: time.Since(start).Milliseconds(),
	}

	if match.Matched {
		result.IdentityID = match.IdentityID
		result.DisplayName = match.DisplayName
		if err := uc.profiles.TouchLastAuthenticated(ctx, match.IdentityID, time.Now().UTC()); err != nil {
			return nil, logging.NewOperationError("usecase.authenticate.touch_profile", requestID, err)
		}
		opLogger.Info("authentication succeeded",
			zap.String("identity_id", match.IdentityID),
			zap.Float64("confidence", match.Confidence))
	} else {
		opLogger.Info("authentication failed",
			zap.Float64("best_similarity", match.Confidence),
			zap.Int("candidates", len(candidates)))
	}

	return result, nil
}
