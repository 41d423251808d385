// Package tokens provides token estimation backed by tiktoken, and the
// text truncation helper the reflector uses.
package tokens

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	. "github.com/agnt-run/agentfs/internal/logging"
)

// Estimator provides token estimation using tiktoken.
type Estimator struct {
	encoding *tiktoken.Tiktoken
	mu       sync.RWMutex
}

// DefaultEncoding is cl100k_base, a reasonable approximation across
// Anthropic and OpenAI-compatible model families.
const DefaultEncoding = "cl100k_base"

var (
	globalEstimator     *Estimator
	globalEstimatorOnce sync.Once
)

// Get returns the global token estimator (singleton).
func Get() *Estimator {
	globalEstimatorOnce.Do(func() {
		var err error
		globalEstimator, err = New()
		if err != nil {
			L_warn("tokens: failed to create estimator, using char-based fallback", "error", err)
			globalEstimator = &Estimator{}
		}
	})
	return globalEstimator
}

// New creates a new token estimator.
func New() (*Estimator, error) {
	enc, err := tiktoken.GetEncoding(DefaultEncoding)
	if err != nil {
		return nil, err
	}
	return &Estimator{encoding: enc}, nil
}

// Count returns the token count for a string.
// Falls back to chars/4 if tiktoken is unavailable.
func (e *Estimator) Count(text string) int {
	if e == nil || e.encoding == nil {
		return len(text) / 4
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	return len(e.encoding.Encode(text, nil, nil))
}

// Estimate is a convenience function using the global estimator.
func Estimate(text string) int {
	return Get().Count(text)
}

// TruncateToChars cuts text to at most n bytes, preferring to break at a
// word boundary, and appends "…" when it cuts. Used by the reflector to condense long content
// blocks before sending them to the summarization model.
func TruncateToChars(text string, n int) string {
	if len(text) <= n {
		return text
	}
	truncated := text[:n]
	for i := len(truncated) - 1; i >= 0; i-- {
		if truncated[i] == ' ' || truncated[i] == '\n' {
			return truncated[:i] + "…"
		}
	}
	return truncated + "…"
}
