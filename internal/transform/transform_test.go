package transform

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relay/internal/fetch"
	"relay/internal/llm"
)

func TestTransformRoundTrip(t *testing.T) {
	gen := llm.NewMockGenerator("BEGIN\nSubject: Package arrived\nBody: Your package is at the door.\nEND")
	tr := NewTransformer(gen, nil)

	out := tr.Transform(context.Background(), fetch.Message{
		From:    "courier@example.com",
		Subject: "Delivery notice",
		Body:    "Left at front door at 3pm",
	}, "summarize briefly")

	assert.Equal(t, "Package arrived", out.Subject)
	assert.Equal(t, "Your package is at the door.", out.Body)
	assert.Equal(t, "summarize briefly", out.Instructions)
	require.Len(t, gen.Prompts, 1)
	assert.Contains(t, gen.Prompts[0], "User Instructions: summarize briefly")
	assert.Contains(t, gen.Prompts[0], "From: courier@example.com")
}

func TestTransformMultiLineBody(t *testing.T) {
	gen := llm.NewMockGenerator("BEGIN\nSubject: Summary\nBody: First line.\nSecond line.\nEND")
	tr := NewTransformer(gen, nil)

	out := tr.Transform(context.Background(), fetch.Message{}, "x")
	assert.Equal(t, "Summary", out.Subject)
	assert.Equal(t, "First line.\nSecond line.", out.Body)
}

func TestTransformMissingMarkersFallsBackToRaw(t *testing.T) {
	gen := llm.NewMockGenerator("Subject: Loose\nBody: Still parseable")
	tr := NewTransformer(gen, nil)

	out := tr.Transform(context.Background(), fetch.Message{}, "x")
	assert.Equal(t, "Loose", out.Subject)
	assert.Equal(t, "Still parseable", out.Body)
}

func TestTransformUnstructuredResponse(t *testing.T) {
	gen := llm.NewMockGenerator("just some prose with no labels")
	tr := NewTransformer(gen, nil)

	out := tr.Transform(context.Background(), fetch.Message{}, "x")
	assert.Equal(t, "", out.Subject)
	assert.Equal(t, "just some prose with no labels", out.Body)
}

func TestTransformGenerateFailureUsesFallback(t *testing.T) {
	gen := llm.NewMockGenerator().FailWith(errors.New("engine offline"))
	tr := NewTransformer(gen, nil)

	orig := fetch.Message{Subject: "original"}
	out := tr.Transform(context.Background(), orig, "x")
	assert.Equal(t, FallbackSubject, out.Subject)
	assert.Equal(t, FallbackBody, out.Body)
	assert.Equal(t, orig, out.Original)
}

func TestExtractBetweenMarkers(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"wrapped", "noise BEGIN\ninner\nEND trailing", "inner"},
		{"no markers", "  plain text  ", "plain text"},
		{"inverted", "END before BEGIN", "END before BEGIN"},
		{"multiple ends", "BEGIN\na END b\nEND", "a END b"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, extractBetweenMarkers(tc.in))
		})
	}
}

func TestParseResponseCaseInsensitive(t *testing.T) {
	subject, body := parseResponse("subject: Hi\nbody: there")
	assert.Equal(t, "Hi", subject)
	assert.Equal(t, "there", body)
}

func TestPromptContainsStrictFormat(t *testing.T) {
	gen := llm.NewMockGenerator("BEGIN\nSubject: s\nBody: b\nEND")
	tr := NewTransformer(gen, nil)
	tr.Transform(context.Background(), fetch.Message{}, "i")
	require.Len(t, gen.Prompts, 1)
	assert.True(t, strings.Contains(gen.Prompts[0], "BEGIN") && strings.Contains(gen.Prompts[0], "END"))
}
