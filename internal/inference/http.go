package inference

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/example/face-attend/internal/logging"
)

// HTTPClient implements Client against the JSON-over-HTTP ML services. Each
// capability has its own base URL because the services deploy independently.
type HTTPClient struct {
	individualURL string
	groupURL      string
	crowdURL      string
	httpClient    *http.Client
	logger        *zap.Logger
}

// NewHTTPClient builds a client with a shared per-call timeout.
func NewHTTPClient(individualURL, groupURL, crowdURL string, timeout time.Duration, logger *zap.Logger) *HTTPClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPClient{
		individualURL: individualURL,
		groupURL:      groupURL,
		crowdURL:      crowdURL,
		httpClient:    &http.Client{Timeout: timeout},
		logger:        logger.Named("inference_client"),
	}
}

type imageRequest struct {
	Image string `json:"image"`
}

type embedResponse struct {
	Embedding []float64 `json:"embedding"`
}

type detectResponse struct {
	Faces []struct {
		Bbox      []float64 `json:"bbox"`
		Embedding []float64 `json:"embedding"`
	} `json:"faces"`
}

type countResponse struct {
	Count        int     `json:"count"`
	Confidence   float64 `json:"confidence"`
	DensityMap   string  `json:"density_map"`
	CrowdDensity string  `json:"crowd_density"`
}

// Embed extracts a single face embedding from an image.
func (c *HTTPClient) Embed(ctx context.Context, image []byte) ([]float64, error) {
	var resp embedResponse
	if err := c.post(ctx, "face recognition", c.individualURL+"/predict", image, &resp); err != nil {
		return nil, err
	}
	return resp.Embedding, nil
}

// DetectAndEmbed returns one bounding box and embedding per detected face.
func (c *HTTPClient) DetectAndEmbed(ctx context.Context, image []byte) ([]DetectedFace, error) {
	var resp detectResponse
	if err := c.post(ctx, "face detection", c.groupURL+"/detect-and-extract", image, &resp); err != nil {
		return nil, err
	}

	faces := make([]DetectedFace, 0, len(resp.Faces))
	for _, face := range resp.Faces {
		detected := DetectedFace{Embedding: face.Embedding}
		if len(face.Bbox) == 4 {
			detected.Box = FaceBox{X: face.Bbox[0], Y: face.Bbox[1], Width: face.Bbox[2], Height: face.Bbox[3]}
		}
		faces = append(faces, detected)
	}
	return faces, nil
}

// CountCrowd estimates the number of faces in a dense crowd image.
func (c *HTTPClient) CountCrowd(ctx context.Context, image []byte) (*CrowdEstimate, error) {
	var resp countResponse
	if err := c.post(ctx, "crowd counting", c.crowdURL+"/count", image, &resp); err != nil {
		return nil, err
	}

	estimate := &CrowdEstimate{
		Count:        resp.Count,
		Confidence:   resp.Confidence,
		CrowdDensity: resp.CrowdDensity,
	}
	if resp.DensityMap != "" {
		densityMap, err := base64.StdEncoding.DecodeString(resp.DensityMap)
		if err != nil {
			return nil, logging.NewKindError(logging.KindUnavailable, "inference.count_crowd", "",
				fmt.Errorf("crowd counting service returned malformed density map: %w", err))
		}
		estimate.DensityMap = densityMap
	}
	return estimate, nil
}

// post issues the single-image JSON request shared by every capability. Any
// transport error or non-2xx status surfaces as a service-unavailable
// condition naming the capability that failed.
func (c *HTTPClient) post(ctx context.Context, capability, url string, image []byte, out interface{}) error {
	operation := "inference." + capability

	payload, err := json.Marshal(imageRequest{Image: base64.StdEncoding.EncodeToString(image)})
	if err != nil {
		return logging.NewOperationError(operation, "", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return logging.NewOperationError(operation, "", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		wrapped := logging.NewKindError(logging.KindUnavailable, operation, "",
			fmt.Errorf("%s service unavailable: %w", capability, err))
		c.logger.Error("inference call failed", zap.String("capability", capability), zap.Error(wrapped))
		return wrapped
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return logging.NewKindError(logging.KindUnavailable, operation, "",
			fmt.Errorf("%s service unavailable: %w", capability, err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		wrapped := logging.NewKindError(logging.KindUnavailable, operation, "",
			fmt.Errorf("%s service unavailable: status %d: %s", capability, resp.StatusCode, string(body)))
		c.logger.Error("inference call failed",
			zap.String("capability", capability),
			zap.Int("status", resp.StatusCode))
		return wrapped
	}

	if err := json.Unmarshal(body, out); err != nil {
		return logging.NewKindError(logging.KindUnavailable, operation, "",
			fmt.Errorf("%s service returned malformed response: %w", capability, err))
	}
	return nil
}
