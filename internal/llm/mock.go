package llm

import (
	"context"
	"fmt"
	"sync"
)

// MockGenerator implements Generator for testing. Responses are consumed in
// order; when the script runs out the last entry repeats.
type MockGenerator struct {
	mu        sync.Mutex
	responses []string
	errs      []error
	index     int

	// Recorded calls.
	Prompts []string
	Images  [][]byte
	Resets  int
}

var _ Generator = (*MockGenerator)(nil)

// NewMockGenerator scripts the given responses.
func NewMockGenerator(responses ...string) *MockGenerator {
	return &MockGenerator{responses: responses}
}

// FailWith scripts an error for the next call.
func (m *MockGenerator) FailWith(err error) *MockGenerator {
	m.mu.Lock()
	m.errs = append(m.errs, err)
	m.mu.Unlock()
	return m
}

func (m *MockGenerator) next() (string, error) {
	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		return "", err
	}
	if len(m.responses) == 0 {
		return "", fmt.Errorf("mock generator has no scripted responses")
	}
	response := m.responses[m.index]
	if m.index < len(m.responses)-1 {
		m.index++
	}
	return response, nil
}

// Generate records the prompt and returns the next scripted response.
func (m *MockGenerator) Generate(_ context.Context, prompt string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Prompts = append(m.Prompts, prompt)
	return m.next()
}

// GenerateWithImage records the prompt and image and returns the next
// scripted response. It honors context cancellation so decision-timeout
// tests can block it with a cancelled context.
func (m *MockGenerator) GenerateWithImage(ctx context.Context, prompt string, image []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Prompts = append(m.Prompts, prompt)
	m.Images = append(m.Images, image)
	return m.next()
}

// Reset counts resets.
func (m *MockGenerator) Reset() {
	m.mu.Lock()
	m.Resets++
	m.mu.Unlock()
}

// Close is a no-op.
func (m *MockGenerator) Close() {}

// MockEngine implements Engine. Each NewSession hands out a MockSession that
// echoes the scripted response; InitErrs are consumed first, one per call.
type MockEngine struct {
	mu       sync.Mutex
	Response string
	InitErrs []error

	Sessions []*MockSession
	Opens    int
}

var _ Engine = (*MockEngine)(nil)

// NewSession consumes a scripted init error if one is queued, otherwise opens
// a new MockSession in the requested mode.
func (e *MockEngine) NewSession(_ context.Context, mode Mode) (Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Opens++
	if len(e.InitErrs) > 0 {
		err := e.InitErrs[0]
		e.InitErrs = e.InitErrs[1:]
		return nil, err
	}
	s := &MockSession{Mode: mode, Response: e.Response}
	e.Sessions = append(e.Sessions, s)
	return s, nil
}

// MockSession records the calls made against it.
type MockSession struct {
	mu       sync.Mutex
	Mode     Mode
	Response string

	Prompts []string
	Images  [][]byte
	Closed  bool
}

var _ Session = (*MockSession)(nil)

func (s *MockSession) Generate(_ context.Context, prompt string, image []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Closed {
		return "", fmt.Errorf("generate on closed session")
	}
	s.Prompts = append(s.Prompts, prompt)
	if image != nil {
		s.Images = append(s.Images, image)
	}
	return s.Response, nil
}

func (s *MockSession) Close() error {
	s.mu.Lock()
	s.Closed = true
	s.mu.Unlock()
	return nil
}
