// Package vision covers the photo workflow's two gates: matching enrolled
// face embeddings against a new image, and asking the multimodal model for a
// structured forward/skip decision.
package vision

import (
	"context"
	"errors"
	"math"

	"relay/internal/logging"
)

// MatchThreshold is the cosine similarity above which a detected face counts
// as the enrolled person. Tuned for high recall.
const MatchThreshold = 0.65

// Box is an axis-aligned face bounding box in image pixel coordinates.
type Box struct {
	X, Y, Width, Height int
}

// FaceClient is the face detection and embedding surface. Implementations
// wrap an external inference service or a scripted fake in tests.
type FaceClient interface {
	// Detect returns the face bounding boxes found in image.
	Detect(ctx context.Context, image []byte) ([]Box, error)
	// Embed computes the embedding of the face inside box.
	Embed(ctx context.Context, image []byte, box Box) ([]float32, error)
}

// UnavailableFaceClient stands in when no face inference backend is
// configured. It reports no faces, so person-matching workflows simply never
// forward instead of erroring on every photo.
type UnavailableFaceClient struct{}

var _ FaceClient = UnavailableFaceClient{}

func NewUnavailableFaceClient() UnavailableFaceClient { return UnavailableFaceClient{} }

func (UnavailableFaceClient) Detect(context.Context, []byte) ([]Box, error) { return nil, nil }

func (UnavailableFaceClient) Embed(context.Context, []byte, Box) ([]float32, error) {
	return nil, errors.New("face embedding backend not configured")
}

// CosineSimilarity computes the cosine of the angle between a and b over
// their common prefix. A zero-magnitude vector yields 0.
func CosineSimilarity(a, b []float32) float32 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	denom := math.Sqrt(na) * math.Sqrt(nb)
	if denom <= 0 {
		return 0
	}
	return float32(dot / denom)
}

// PersonMatcher decides whether an image contains an enrolled person.
type PersonMatcher struct {
	faces  FaceClient
	logger logging.Logger
}

func NewPersonMatcher(faces FaceClient, logger logging.Logger) *PersonMatcher {
	return &PersonMatcher{faces: faces, logger: logging.OrNop(logger)}
}

// Match reports whether any detected face in image reaches MatchThreshold
// against any enrolled embedding. The first hit short-circuits. Detection or
// embedding errors are logged and count as no match.
func (p *PersonMatcher) Match(ctx context.Context, image []byte, enrolled [][]float32) bool {
	if len(enrolled) == 0 {
		return false
	}
	boxes, err := p.faces.Detect(ctx, image)
	if err != nil {
		p.logger.Warn("face detection failed: %v", err)
		return false
	}
	for _, box := range boxes {
		vec, err := p.faces.Embed(ctx, image, box)
		if err != nil {
			p.logger.Debug("embed failed for box %+v: %v", box, err)
			continue
		}
		for _, en := range enrolled {
			if CosineSimilarity(vec, en) >= MatchThreshold {
				return true
			}
		}
	}
	return false
}
