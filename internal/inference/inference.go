// Package inference talks to the three remote ML capabilities: single-face
// embedding, multi-face detection, and crowd counting.
package inference

import "context"

// FaceBox is a detected face's bounding box in image coordinates.
type FaceBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// DetectedFace pairs a bounding box with the embedding extracted from it.
type DetectedFace struct {
	Box       FaceBox
	Embedding []float64
}

// CrowdEstimate is the outcome of a crowd counting call.
type CrowdEstimate struct {
	Count      int
	Confidence float64
	// DensityMap is the rendered density image, decoded from the service's
	// base64 payload.
	DensityMap []byte
	// CrowdDensity is one of low/medium/high; empty when the service omits it.
	CrowdDensity string
}

// Client exposes the remote inference capabilities used by the matching and
// record-assembly pipeline.
type Client interface {
	Embed(ctx context.Context, image []byte) ([]float64, error)
	DetectAndEmbed(ctx context.Context, image []byte) ([]DetectedFace, error)
	CountCrowd(ctx context.Context, image []byte) (*CrowdEstimate, error)
}
