package decision

import (
	"strings"

	"github.com/tiktoken-go/tokenizer"
)

// TokenCounter counts prompt tokens so evidence summaries stay inside the
// configured budget. All supported backends are approximated with the GPT-4
// encoding, which is close enough for budgeting purposes.
type TokenCounter struct {
	codec tokenizer.Codec
}

// NewTokenCounter creates a counter. A nil codec falls back to a
// chars/4 estimate, so construction failures are non-fatal.
func NewTokenCounter() *TokenCounter {
	codec, err := tokenizer.ForModel(tokenizer.GPT4)
	if err != nil {
		return &TokenCounter{}
	}
	return &TokenCounter{codec: codec}
}

// Count returns the token count of text.
func (tc *TokenCounter) Count(text string) int {
	if tc.codec == nil {
		return len(text) / 4
	}
	count, err := tc.codec.Count(text)
	if err != nil {
		return len(text) / 4
	}
	return count
}

// Truncate trims text to roughly fit within limit tokens. Truncation is
// proportional by characters, not exact token boundaries.
func (tc *TokenCounter) Truncate(text string, limit int) string {
	if limit <= 0 {
		return text
	}
	current := tc.Count(text)
	if current <= limit {
		return text
	}

	ratio := float64(limit) / float64(current)
	charLimit := int(float64(len(text)) * ratio * 0.9)
	if charLimit >= len(text) {
		return text
	}
	// The byte cut can land inside a multi-byte rune; drop the partial one.
	return strings.ToValidUTF8(text[:charLimit], "") + "\n[... truncated ...]"
}
