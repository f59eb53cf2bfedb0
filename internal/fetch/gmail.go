package fetch

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	relayerrors "relay/internal/errors"
	"relay/internal/logging"
	"relay/internal/observability"
)

const defaultGmailBaseURL = "https://gmail.googleapis.com/gmail/v1/users/me"

// TokenSource supplies a fresh OAuth bearer token per request.
type TokenSource func(ctx context.Context) (string, error)

// StaticToken wraps a fixed token as a TokenSource.
func StaticToken(token string) TokenSource {
	return func(context.Context) (string, error) { return token, nil }
}

// GmailClient implements MailClient against the Gmail REST API.
type GmailClient struct {
	baseURL    string
	tokens     TokenSource
	httpClient *http.Client
	logger     logging.Logger
	maxFetch   int
}

var _ MailClient = (*GmailClient)(nil)

// NewGmailClient builds a client. baseURL is overridable for tests; empty
// uses the public endpoint.
func NewGmailClient(baseURL string, tokens TokenSource, logger logging.Logger) *GmailClient {
	if baseURL == "" {
		baseURL = defaultGmailBaseURL
	}
	return &GmailClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		tokens:     tokens,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logging.OrNop(logger),
		maxFetch:   10,
	}
}

// Initialize checks that the credentials can read the profile.
func (c *GmailClient) Initialize(ctx context.Context) error {
	var profile struct {
		EmailAddress string `json:"emailAddress"`
	}
	if err := c.get(ctx, "/profile", &profile); err != nil {
		return fmt.Errorf("gmail profile: %w", err)
	}
	c.logger.Debug("gmail client ready for %s", profile.EmailAddress)
	return nil
}

// FetchLatest lists recent unread inbox messages, newest first, and resolves
// each into a Message.
func (c *GmailClient) FetchLatest(ctx context.Context) ([]Message, error) {
	var list struct {
		Messages []struct {
			ID string `json:"id"`
		} `json:"messages"`
	}
	path := fmt.Sprintf("/messages?q=%s&maxResults=%d", "is:unread+in:inbox", c.maxFetch)
	if err := c.get(ctx, path, &list); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	messages := make([]Message, 0, len(list.Messages))
	for _, ref := range list.Messages {
		msg, err := c.fetchMessage(ctx, ref.ID)
		if err != nil {
			c.logger.Warn("skipping message %s: %v", ref.ID, err)
			continue
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// Send delivers a plain-text email.
func (c *GmailClient) Send(ctx context.Context, to, subject, body string) error {
	raw := buildPlainMessage(to, subject, body)
	return c.sendRaw(ctx, raw)
}

// SendWithAttachment delivers a plain-text email with one binary attachment.
func (c *GmailClient) SendWithAttachment(ctx context.Context, to, subject, body, filename string, data []byte) error {
	raw := buildAttachmentMessage(to, subject, body, filename, data)
	return c.sendRaw(ctx, raw)
}

// MarkRead clears the UNREAD label.
func (c *GmailClient) MarkRead(ctx context.Context, id string) error {
	payload := map[string]any{"removeLabelIds": []string{"UNREAD"}}
	if err := c.post(ctx, "/messages/"+id+"/modify", payload, nil); err != nil {
		return fmt.Errorf("modify labels: %w", err)
	}
	return nil
}

type gmailPayload struct {
	MimeType string `json:"mimeType"`
	Headers  []struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	} `json:"headers"`
	Body struct {
		Data string `json:"data"`
	} `json:"body"`
	Parts []gmailPayload `json:"parts"`
}

func (c *GmailClient) fetchMessage(ctx context.Context, id string) (Message, error) {
	var full struct {
		ID           string       `json:"id"`
		Snippet      string       `json:"snippet"`
		InternalDate string       `json:"internalDate"`
		Payload      gmailPayload `json:"payload"`
	}
	if err := c.get(ctx, "/messages/"+id+"?format=full", &full); err != nil {
		return Message{}, err
	}

	msg := Message{ID: full.ID, Body: full.Snippet}
	for _, h := range full.Payload.Headers {
		switch strings.ToLower(h.Name) {
		case "from":
			msg.From = h.Value
		case "to":
			msg.To = h.Value
		case "subject":
			msg.Subject = h.Value
		}
	}
	if ts, err := strconv.ParseInt(full.InternalDate, 10, 64); err == nil {
		msg.Timestamp = ts
	}
	if body := extractPlainText(full.Payload); body != "" {
		msg.Body = body
	}
	return msg, nil
}

// extractPlainText walks the MIME tree for the first text/plain part.
func extractPlainText(p gmailPayload) string {
	if strings.HasPrefix(p.MimeType, "text/plain") && p.Body.Data != "" {
		if decoded, err := base64.URLEncoding.WithPadding(base64.NoPadding).DecodeString(p.Body.Data); err == nil {
			return string(decoded)
		}
	}
	for _, part := range p.Parts {
		if body := extractPlainText(part); body != "" {
			return body
		}
	}
	return ""
}

func (c *GmailClient) sendRaw(ctx context.Context, rfc822 []byte) error {
	payload := map[string]string{
		"raw": base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(rfc822),
	}
	if err := c.post(ctx, "/messages/send", payload, nil); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

func buildPlainMessage(to, subject, body string) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n\r\n")
	b.WriteString(body)
	return b.Bytes()
}

func buildAttachmentMessage(to, subject, body, filename string, data []byte) []byte {
	const boundary = "relay-attachment-boundary"
	var b bytes.Buffer
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	b.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&b, "Content-Type: multipart/mixed; boundary=%q\r\n\r\n", boundary)

	fmt.Fprintf(&b, "--%s\r\n", boundary)
	b.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n\r\n")
	b.WriteString(body)
	b.WriteString("\r\n")

	fmt.Fprintf(&b, "--%s\r\n", boundary)
	fmt.Fprintf(&b, "Content-Type: image/jpeg; name=%q\r\n", filename)
	fmt.Fprintf(&b, "Content-Disposition: attachment; filename=%q\r\n", filename)
	b.WriteString("Content-Transfer-Encoding: base64\r\n\r\n")
	b.WriteString(base64.StdEncoding.EncodeToString(data))
	b.WriteString("\r\n")
	fmt.Fprintf(&b, "--%s--\r\n", boundary)
	return b.Bytes()
}

func (c *GmailClient) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *GmailClient) post(ctx context.Context, path string, payload, out any) error {
	return c.do(ctx, http.MethodPost, path, payload, out)
}

func (c *GmailClient) do(ctx context.Context, method, path string, payload, out any) error {
	token, err := c.tokens(ctx)
	if err != nil {
		return fmt.Errorf("resolve token: %w", err)
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return relayerrors.NewTransient(fmt.Errorf("gmail api unreachable: %w", err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			c.logger.Warn("gmail rejected token %s with status %d", observability.SanitizeToken(token), resp.StatusCode)
		}
		return relayerrors.FromStatus(resp.StatusCode, fmt.Errorf("gmail api status %d", resp.StatusCode))
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
