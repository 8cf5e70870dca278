// Package embedding holds the canonical wire form of face embeddings and the
// similarity kernel used for matching.
package embedding

import (
	"encoding/json"
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// Serialize renders a vector in its canonical textual form, a JSON array of
// floats. The cipher always operates on this form.
func Serialize(vector []float64) (string, error) {
	data, err := json.Marshal(vector)
	if err != nil {
		return "", fmt.Errorf("serialize embedding: %w", err)
	}
	return string(data), nil
}

// Parse reverses Serialize.
func Parse(text string) ([]float64, error) {
	var vector []float64
	if err := json.Unmarshal([]byte(text), &vector); err != nil {
		return nil, fmt.Errorf("parse embedding: %w", err)
	}
	return vector, nil
}

// CosineSimilarity computes dot(a,b) / (|a|*|b|). A dimension mismatch or a
// zero-magnitude vector scores 0 instead of failing, so embeddings produced by
// mixed model versions degrade gracefully. The result is clamped to [-1, 1]
// against floating point drift.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	normA := floats.Norm(a, 2)
	normB := floats.Norm(b, 2)
	if normA == 0 || normB == 0 {
		return 0
	}

	similarity := floats.Dot(a, b) / (normA * normB)
	if similarity > 1 {
		similarity = 1
	}
	if similarity < -1 {
		similarity = -1
	}
	return similarity
}
