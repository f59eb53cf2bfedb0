// Package llm manages the local inference engine behind the pipeline's
// transform and decision steps. The whole process shares one generation
// session guarded by one lock; multimodal calls always rebuild the session
// to avoid cross-request context bleed.
package llm

import "context"

// Mode is the session mode of the shared inference engine.
type Mode string

const (
	// ModeNone means no session is open.
	ModeNone Mode = "none"
	// ModeText is the text-only instruction model.
	ModeText Mode = "text"
	// ModeMultimodal is the text+image model.
	ModeMultimodal Mode = "multimodal"
)

// Session is one open generation context.
type Session interface {
	// Generate produces a completion for prompt. image is optional and only
	// honored by multimodal sessions; at most one image per call.
	Generate(ctx context.Context, prompt string, image []byte) (string, error)
	Close() error
}

// Engine opens sessions against a concrete inference backend.
type Engine interface {
	NewSession(ctx context.Context, mode Mode) (Session, error)
}

// Generator is the capability the pipeline consumes.
type Generator interface {
	// Generate runs the text model.
	Generate(ctx context.Context, prompt string) (string, error)
	// GenerateWithImage runs the multimodal model with one image.
	GenerateWithImage(ctx context.Context, prompt string, image []byte) (string, error)
	// Reset tears down any open session.
	Reset()
	// Close releases the engine deterministically.
	Close()
}
