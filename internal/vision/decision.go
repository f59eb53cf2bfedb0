package vision

import (
	"context"
	"fmt"
	"strings"
	"time"

	"relay/internal/llm"
	"relay/internal/logging"
)

// DefaultDecisionTimeout bounds a single multimodal decision call. On-device
// class models can stall; the workflow must fail closed rather than hang.
const DefaultDecisionTimeout = 7 * time.Second

const decisionSuffix = `
SYSTEM: The image is already provided. Decide if it satisfies the user's instruction below. Use high recall.
Output EXACTLY these lines (if not applicable, leave empty after the colon, but still print the key):
DECISION: YES|NO
REASON: <short phrase why>
PARSE: <optional single-line key=value pairs>

User instruction: %s`

// Decision is the parsed outcome of a multimodal instruction check.
type Decision struct {
	Forward bool
	Reason  string
	// Parse holds the model's optional PARSE: line verbatim, label included.
	Parse string
}

// DecisionMaker asks the multimodal model whether an image satisfies a
// workflow's instructions. Anything short of an explicit YES — timeout,
// generation error, malformed output — means no forward.
type DecisionMaker struct {
	generator llm.Generator
	timeout   time.Duration
	logger    logging.Logger
}

// NewDecisionMaker builds a decision maker. timeout <= 0 uses the default.
func NewDecisionMaker(generator llm.Generator, timeout time.Duration, logger logging.Logger) *DecisionMaker {
	if timeout <= 0 {
		timeout = DefaultDecisionTimeout
	}
	return &DecisionMaker{generator: generator, timeout: timeout, logger: logging.OrNop(logger)}
}

// Decide runs the decision prompt against image under the hard timeout.
func (d *DecisionMaker) Decide(ctx context.Context, image []byte, instructions string) Decision {
	prompt := fmt.Sprintf(decisionSuffix, instructions)

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	raw, err := d.generator.GenerateWithImage(ctx, prompt, image)
	if err != nil {
		d.logger.Warn("decision generation failed: %v", err)
		return Decision{}
	}
	return parseDecision(raw)
}

// parseDecision scans for DECISION/REASON/PARSE lines. Prefix matching is
// case-insensitive; only a literal YES forwards.
func parseDecision(raw string) Decision {
	var out Decision
	var decided string
	for _, line := range strings.Split(raw, "\n") {
		t := strings.TrimSpace(line)
		upper := strings.ToUpper(t)
		switch {
		case strings.HasPrefix(upper, "DECISION:"):
			decided = strings.TrimSpace(t[len("DECISION:"):])
		case strings.HasPrefix(upper, "REASON:"):
			out.Reason = strings.TrimSpace(t[len("REASON:"):])
		case strings.HasPrefix(upper, "PARSE:"):
			out.Parse = t
		}
	}
	out.Forward = strings.EqualFold(decided, "YES")
	return out
}
