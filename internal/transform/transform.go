// Package transform turns fetched source content into a subject/body pair by
// way of the instruction model. The model is told to wrap its answer in
// BEGIN/END markers with Subject: and Body: lines; parsing is tolerant and
// the transform never fails outright, it degrades to a fixed default.
package transform

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"relay/internal/fetch"
	"relay/internal/llm"
	"relay/internal/logging"
)

const promptTemplate = `You are an assistant that converts an incoming message into a concise email according to the user's instructions.

Output format (STRICT):
- Return EXACTLY two lines wrapped between the markers BEGIN and END (uppercase), like this:
BEGIN
Subject: <short, specific subject you write>
Body: <final email body only; no preface, no extra commentary>
END
- No other text before BEGIN or after END; no markdown, no quotes, no code fences.

User Instructions: %s

Original Message:
From: %s
Subject/Title: %s
Content: %s`

// Fallback content used when generation fails or returns nothing usable.
const (
	FallbackSubject = "Location Update"
	FallbackBody    = "I'm within the specified area."
)

var (
	subjectRe = regexp.MustCompile(`(?im)^Subject:\s*(.*)`)
	bodyRe    = regexp.MustCompile(`(?im)^Body:\s*(.*)`)
)

// Processed is the transform output handed to the dispatcher.
type Processed struct {
	Original     fetch.Message
	Subject      string
	Body         string
	Instructions string
}

// Transformer rewrites messages through the text model.
type Transformer struct {
	generator llm.Generator
	logger    logging.Logger
}

func NewTransformer(generator llm.Generator, logger logging.Logger) *Transformer {
	return &Transformer{generator: generator, logger: logging.OrNop(logger)}
}

// Transform produces the processed subject and body for content under the
// given instructions. It always returns a usable result; when the model is
// unavailable or its output unparseable, the fixed fallback is used.
func (t *Transformer) Transform(ctx context.Context, content fetch.Message, instructions string) Processed {
	prompt := fmt.Sprintf(promptTemplate, instructions, content.From, content.Subject, content.Body)

	response, err := t.generator.Generate(ctx, prompt)
	if err != nil {
		t.logger.Warn("generation failed, using default message: %v", err)
		return Processed{
			Original:     content,
			Subject:      FallbackSubject,
			Body:         FallbackBody,
			Instructions: instructions,
		}
	}

	subject, body := parseResponse(extractBetweenMarkers(response))
	return Processed{
		Original:     content,
		Subject:      subject,
		Body:         body,
		Instructions: instructions,
	}
}

// extractBetweenMarkers returns the text between the first BEGIN and the last
// END marker, or the trimmed raw text when the markers are absent or inverted.
func extractBetweenMarkers(raw string) string {
	start := strings.Index(raw, "BEGIN")
	end := strings.LastIndex(raw, "END")
	if start != -1 && end != -1 && end > start {
		return strings.TrimSpace(raw[start+len("BEGIN") : end])
	}
	return strings.TrimSpace(raw)
}

// parseResponse pulls the Subject: and Body: fields out of a cleaned model
// response. The body may span multiple lines; everything after the Body:
// label is captured. Missing fields degrade to the empty subject or the raw
// text respectively.
func parseResponse(raw string) (subject, body string) {
	if m := subjectRe.FindStringSubmatch(raw); m != nil {
		subject = strings.TrimSpace(m[1])
	}

	if loc := bodyRe.FindStringIndex(raw); loc != nil {
		lineEnd := loc[1]
		// FindStringIndex spans the whole matched line; capture from the
		// label to the end of the text so multi-line bodies survive.
		labelEnd := loc[0] + strings.Index(raw[loc[0]:lineEnd], ":") + 1
		body = strings.TrimSpace(raw[labelEnd:])
	} else {
		body = strings.TrimSpace(raw)
	}
	return subject, body
}
