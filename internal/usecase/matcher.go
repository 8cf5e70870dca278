package usecase

import (
	"go.uber.org/zap"

	"github.com/example/face-attend/internal/embedding"
	"github.com/example/face-attend/internal/encryption"
	"github.com/example/face-attend/internal/logging"
	"github.com/example/face-attend/internal/repository"
)

// ConfidenceThreshold is the fixed cosine-similarity cutoff above which a
// match is accepted.
const ConfidenceThreshold = 0.85

// ModelVersion tags embeddings with the recognition model that produced them.
const ModelVersion = "v1.0"

// MatchResult is the outcome of matching one query vector against the
// enrolled profiles. Confidence carries the best similarity seen even when no
// profile cleared the threshold.
type MatchResult struct {
	Matched     bool
	IdentityID  string
	DisplayName string
	Confidence  float64
}

// Matcher finds the best-matching profile for a query vector. It is pure:
// embeddings are decrypted fresh on every call and no plaintext vector
// outlives the call.
type Matcher struct {
	cipher    encryption.Cipher
	threshold float64
	logger    *zap.Logger
}

// NewMatcher constructs a matcher with the fixed confidence threshold.
func NewMatcher(cipher encryption.Cipher, logger *zap.Logger) *Matcher {
	return &Matcher{
		cipher:    cipher,
		threshold: ConfidenceThreshold,
		logger:    logger.Named("matcher"),
	}
}

// Match scans candidates in enrollment order and, within each profile, its
// embeddings in enrollment order, tracking the single highest similarity
// across the whole cross product. The strict comparison makes the
// first-encountered pair win ties, so results are deterministic for a fixed
// store snapshot. Stored embeddings of a different dimensionality than the
// query score 0 and never abort the scan.
func (m *Matcher) Match(query []float64, candidates []repository.FaceProfile) (MatchResult, error) {
	var best *repository.FaceProfile
	highest := 0.0

	for i := range candidates {
		profile := &candidates[i]
		for _, stored := range profile.Embeddings {
			plaintext, err := m.cipher.Decrypt(stored.Ciphertext)
			if err != nil {
				return MatchResult{}, logging.NewOperationError("matcher.decrypt_embedding", "", err)
			}
			vector, err := embedding.Parse(plaintext)
			if err != nil {
				return MatchResult{}, logging.NewOperationError("matcher.parse_embedding", "", err)
			}

			similarity := embedding.CosineSimilarity(query, vector)
			if similarity > highest {
				highest = similarity
				best = profile
			}
		}
	}

	if best != nil && highest >= m.threshold {
		return MatchResult{
			Matched:     true,
			IdentityID:  best.IdentityID,
			DisplayName: best.DisplayName,
			Confidence:  highest,
		}, nil
	}
	return MatchResult{Confidence: highest}, nil
}
