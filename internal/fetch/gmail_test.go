package fetch

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGmailClientFetchLatest(t *testing.T) {
	bodyData := base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString([]byte("plain body text"))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		switch {
		case strings.HasPrefix(r.URL.Path, "/messages/m1"):
			json.NewEncoder(w).Encode(map[string]any{
				"id":           "m1",
				"snippet":      "snippet text",
				"internalDate": "1700000000000",
				"payload": map[string]any{
					"mimeType": "multipart/alternative",
					"headers": []map[string]string{
						{"name": "From", "value": "alice@example.com"},
						{"name": "To", "value": "me@example.com"},
						{"name": "Subject", "value": "Hello"},
					},
					"parts": []map[string]any{
						{
							"mimeType": "text/plain",
							"body":     map[string]string{"data": bodyData},
						},
					},
				},
			})
		case strings.HasPrefix(r.URL.Path, "/messages"):
			json.NewEncoder(w).Encode(map[string]any{
				"messages": []map[string]string{{"id": "m1"}},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewGmailClient(srv.URL, StaticToken("tok"), nil)
	messages, err := c.FetchLatest(context.Background())
	require.NoError(t, err)
	require.Len(t, messages, 1)

	m := messages[0]
	assert.Equal(t, "m1", m.ID)
	assert.Equal(t, "alice@example.com", m.From)
	assert.Equal(t, "me@example.com", m.To)
	assert.Equal(t, "Hello", m.Subject)
	assert.Equal(t, "plain body text", m.Body, "decoded text/plain part wins over snippet")
	assert.Equal(t, int64(1700000000000), m.Timestamp)
}

func TestGmailClientSendEncodesRaw(t *testing.T) {
	var raw string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/messages/send", r.URL.Path)
		var payload map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		raw = payload["raw"]
		w.Write([]byte("{}"))
	}))
	defer srv.Close()

	c := NewGmailClient(srv.URL, StaticToken("tok"), nil)
	require.NoError(t, c.Send(context.Background(), "dest@example.com", "Subject line", "The body."))

	decoded, err := base64.URLEncoding.WithPadding(base64.NoPadding).DecodeString(raw)
	require.NoError(t, err)
	msg := string(decoded)
	assert.Contains(t, msg, "To: dest@example.com")
	assert.Contains(t, msg, "Subject line")
	assert.Contains(t, msg, "The body.")
}

func TestGmailClientSendWithAttachment(t *testing.T) {
	var raw string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]string
		json.NewDecoder(r.Body).Decode(&payload)
		raw = payload["raw"]
		w.Write([]byte("{}"))
	}))
	defer srv.Close()

	c := NewGmailClient(srv.URL, StaticToken("tok"), nil)
	img := []byte{0xFF, 0xD8, 0xFF, 0xE0}
	require.NoError(t, c.SendWithAttachment(context.Background(), "dest@example.com", "Photo", "see attached", "photo_1.jpg", img))

	decoded, err := base64.URLEncoding.WithPadding(base64.NoPadding).DecodeString(raw)
	require.NoError(t, err)
	msg := string(decoded)
	assert.Contains(t, msg, "multipart/mixed")
	assert.Contains(t, msg, `filename="photo_1.jpg"`)
	assert.Contains(t, msg, base64.StdEncoding.EncodeToString(img))
}

func TestGmailClientMarkRead(t *testing.T) {
	var removed []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/messages/m1/modify", r.URL.Path)
		var payload struct {
			RemoveLabelIds []string `json:"removeLabelIds"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		removed = payload.RemoveLabelIds
		w.Write([]byte("{}"))
	}))
	defer srv.Close()

	c := NewGmailClient(srv.URL, StaticToken("tok"), nil)
	require.NoError(t, c.MarkRead(context.Background(), "m1"))
	assert.Equal(t, []string{"UNREAD"}, removed)
}

func TestGmailClientAuthFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewGmailClient(srv.URL, StaticToken("bad"), nil)
	assert.Error(t, c.Initialize(context.Background()))
}
