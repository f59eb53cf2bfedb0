package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	relayerrors "relay/internal/errors"
	"relay/internal/logging"
)

// OllamaConfig configures the HTTP inference backend.
type OllamaConfig struct {
	BaseURL         string
	TextModel       string
	MultimodalModel string
	Timeout         time.Duration
}

// ollamaEngine talks to an Ollama-compatible chat endpoint. One Session maps
// to one running conversation; images travel base64-encoded on the user
// message, one per call.
type ollamaEngine struct {
	config     OllamaConfig
	httpClient *http.Client
	logger     logging.Logger
}

// NewOllamaEngine builds the HTTP engine.
func NewOllamaEngine(config OllamaConfig) Engine {
	baseURL := strings.TrimRight(config.BaseURL, "/")
	if baseURL == "" {
		baseURL = "http://localhost:11434/api"
	}
	if !strings.HasSuffix(baseURL, "/api") {
		baseURL = baseURL + "/api"
	}
	config.BaseURL = baseURL

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &ollamaEngine{
		config:     config,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logging.NewComponentLogger("ollama-engine"),
	}
}

func (e *ollamaEngine) NewSession(ctx context.Context, mode Mode) (Session, error) {
	var model string
	switch mode {
	case ModeText:
		model = e.config.TextModel
	case ModeMultimodal:
		model = e.config.MultimodalModel
	default:
		return nil, fmt.Errorf("cannot open session in mode %q", mode)
	}
	if model == "" {
		return nil, fmt.Errorf("no model configured for mode %q", mode)
	}

	// Verify the server is reachable so initialization failures surface here
	// rather than mid-generation.
	if err := e.ping(ctx); err != nil {
		return nil, err
	}

	return &ollamaSession{engine: e, model: model, mode: mode}, nil
}

func (e *ollamaEngine) ping(ctx context.Context) error {
	url := strings.TrimSuffix(e.config.BaseURL, "/api") + "/api/tags"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return relayerrors.NewTransient(fmt.Errorf("inference server unreachable: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return relayerrors.FromStatus(resp.StatusCode, fmt.Errorf("inference server returned %d", resp.StatusCode))
	}
	return nil
}

type ollamaSession struct {
	engine *ollamaEngine
	model  string
	mode   Mode
	closed bool
}

func (s *ollamaSession) Generate(ctx context.Context, prompt string, image []byte) (string, error) {
	if s.closed {
		return "", fmt.Errorf("session closed")
	}
	if image != nil && s.mode != ModeMultimodal {
		return "", fmt.Errorf("image supplied to %s session", s.mode)
	}

	message := ollamaMessage{Role: "user", Content: prompt}
	if len(image) > 0 {
		message.Images = []string{base64.StdEncoding.EncodeToString(image)}
	}

	request := ollamaRequest{
		Model:    s.model,
		Messages: []ollamaMessage{message},
		Stream:   false,
	}

	body, err := json.Marshal(request)
	if err != nil {
		return "", fmt.Errorf("marshal ollama request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/chat", s.engine.config.BaseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.engine.httpClient.Do(httpReq)
	if err != nil {
		return "", relayerrors.NewTransient(fmt.Errorf("ollama request: %w", err))
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return "", relayerrors.FromStatus(resp.StatusCode,
			fmt.Errorf("ollama request failed: %s", strings.TrimSpace(string(raw))))
	}

	var response ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return "", fmt.Errorf("decode ollama response: %w", err)
	}
	if response.Error != "" {
		return "", fmt.Errorf("ollama error: %s", response.Error)
	}

	return response.Message.Content, nil
}

func (s *ollamaSession) Close() error {
	// The HTTP backend holds no server-side state per session.
	s.closed = true
	return nil
}

type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  map[string]any  `json:"options,omitempty"`
}

type ollamaMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type ollamaResponse struct {
	Model      string        `json:"model"`
	Message    ollamaMessage `json:"message"`
	Done       bool          `json:"done"`
	DoneReason string        `json:"done_reason"`
	Error      string        `json:"error"`
}
