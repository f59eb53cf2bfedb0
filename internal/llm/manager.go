package llm

import (
	"context"
	"fmt"
	"sync"
	"time"

	relayerrors "relay/internal/errors"
	"relay/internal/logging"
	"relay/internal/observability"
)

// SessionManager serializes access to the shared inference session and drives
// the None -> Text -> Multimodal mode state machine.
//
// Text calls reuse an open text session. Multimodal calls always tear the
// session down and reinitialize fresh before generating; accumulated context
// from earlier calls must never leak into an image decision. Initialization
// is retried per call, so a failed init leaves no sticky error state.
type SessionManager struct {
	mu      sync.Mutex
	engine  Engine
	mode    Mode
	session Session
	retry   relayerrors.RetryConfig
	metrics *observability.Metrics
	logger  logging.Logger
}

var _ Generator = (*SessionManager)(nil)

// NewSessionManager wraps an engine. metrics may be nil.
func NewSessionManager(engine Engine, metrics *observability.Metrics, logger logging.Logger) *SessionManager {
	return &SessionManager{
		engine:  engine,
		mode:    ModeNone,
		retry:   relayerrors.RetryConfig{MaxAttempts: 2, BaseDelay: 500 * time.Millisecond, MaxDelay: 5 * time.Second, JitterFactor: 0.25},
		metrics: metrics,
		logger:  logging.OrNop(logger),
	}
}

// Generate runs the text model under the session lock.
func (m *SessionManager) Generate(ctx context.Context, prompt string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.ensureLocked(ctx, ModeText); err != nil {
		return "", err
	}

	start := time.Now()
	response, err := m.session.Generate(ctx, prompt, nil)
	m.metrics.RecordLLMLatency(time.Since(start))
	if err != nil {
		return "", fmt.Errorf("text generation: %w", err)
	}
	return response, nil
}

// GenerateWithImage runs the multimodal model. The session is always rebuilt
// first so each image decision starts from a clean context.
func (m *SessionManager) GenerateWithImage(ctx context.Context, prompt string, image []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closeLocked()
	if err := m.ensureLocked(ctx, ModeMultimodal); err != nil {
		return "", err
	}

	start := time.Now()
	response, err := m.session.Generate(ctx, prompt, image)
	m.metrics.RecordLLMLatency(time.Since(start))
	if err != nil {
		return "", fmt.Errorf("multimodal generation: %w", err)
	}
	return response, nil
}

// Reset tears down any open session.
func (m *SessionManager) Reset() {
	m.mu.Lock()
	m.closeLocked()
	m.mu.Unlock()
}

// Close releases the session; the manager stays usable afterwards because
// initialization is per-call.
func (m *SessionManager) Close() {
	m.Reset()
}

// Mode reports the current session mode, for tests and diagnostics.
func (m *SessionManager) Mode() Mode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode
}

func (m *SessionManager) ensureLocked(ctx context.Context, mode Mode) error {
	if m.mode == mode && m.session != nil {
		return nil
	}
	m.closeLocked()

	session, err := relayerrors.RetryWithResult(ctx, m.retry, m.logger, func(ctx context.Context) (Session, error) {
		return m.engine.NewSession(ctx, mode)
	})
	if err != nil {
		return fmt.Errorf("initialize %s session: %w", mode, err)
	}
	m.session = session
	m.mode = mode
	m.logger.Debug("session initialized mode=%s", mode)
	return nil
}

func (m *SessionManager) closeLocked() {
	if m.session != nil {
		if err := m.session.Close(); err != nil {
			m.logger.Warn("session close: %v", err)
		}
		m.session = nil
	}
	m.mode = ModeNone
}
