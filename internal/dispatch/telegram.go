package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	relayerrors "relay/internal/errors"
	"relay/internal/logging"
	"relay/internal/observability"
)

const defaultTelegramBaseURL = "https://api.telegram.org"

// BotClient talks to the Telegram Bot API over HTTP.
type BotClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     logging.Logger

	mu       sync.Mutex
	verified bool
}

var _ TelegramClient = (*BotClient)(nil)

// NewBotClient builds a client for the bot identified by token. baseURL is
// overridable for tests; empty uses the public API host.
func NewBotClient(baseURL, token string, logger logging.Logger) *BotClient {
	if baseURL == "" {
		baseURL = defaultTelegramBaseURL
	}
	return &BotClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logging.OrNop(logger),
	}
}

// Initialize verifies the token against getMe once; later calls are no-ops
// after a successful check.
func (c *BotClient) Initialize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.verified {
		return nil
	}
	if c.token == "" {
		return relayerrors.NewPermanent(fmt.Errorf("telegram bot token not configured"))
	}

	var resp struct {
		OK     bool `json:"ok"`
		Result struct {
			Username string `json:"username"`
		} `json:"result"`
	}
	if err := c.call(ctx, "getMe", nil, &resp); err != nil {
		return fmt.Errorf("getMe: %w", err)
	}
	if !resp.OK {
		return relayerrors.NewPermanent(fmt.Errorf("telegram rejected bot token"))
	}
	c.logger.Debug("telegram bot verified username=%s token=%s", resp.Result.Username, observability.SanitizeToken(c.token))
	c.verified = true
	return nil
}

// SendMessage posts text to chatID.
func (c *BotClient) SendMessage(ctx context.Context, chatID, text string) error {
	payload := map[string]string{
		"chat_id": chatID,
		"text":    text,
	}
	var resp struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	if err := c.call(ctx, "sendMessage", payload, &resp); err != nil {
		return fmt.Errorf("sendMessage: %w", err)
	}
	if !resp.OK {
		return fmt.Errorf("sendMessage rejected: %s", resp.Description)
	}
	return nil
}

func (c *BotClient) call(ctx context.Context, method string, payload any, out any) error {
	url := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return relayerrors.NewTransient(fmt.Errorf("telegram api unreachable: %w", err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return relayerrors.FromStatus(resp.StatusCode, fmt.Errorf("telegram api status %d: %s", resp.StatusCode, truncate(string(data), 200)))
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
