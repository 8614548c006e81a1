// Package chunker splits outbound text into bounded, ordered segments for
// transports that cap message size.
package chunker

import (
	"fmt"
	"unicode/utf8"

	"mezada/internal/domain"
)

// MaxLen is the per-message character limit used for WhatsApp deliveries.
const MaxLen = 1500

// Split cuts text into segments of at most maxLen characters. Length is
// counted in code points so a multi-byte character is never cut in half.
// Every segment except the last is exactly maxLen characters long, and
// empty text yields a single empty segment.
func Split(text string, maxLen int) ([]string, error) {
	if maxLen < 1 {
		return nil, fmt.Errorf("%w: maxLen must be >= 1, got %d", domain.ErrInvalidArgument, maxLen)
	}
	if utf8.RuneCountInString(text) <= maxLen {
		return []string{text}, nil
	}

	var chunks []string
	for len(text) > 0 {
		cut, n := 0, 0
		for cut < len(text) && n < maxLen {
			_, size := utf8.DecodeRuneInString(text[cut:])
			cut += size
			n++
		}
		chunks = append(chunks, text[:cut])
		text = text[cut:]
	}
	return chunks, nil
}

// Chunks splits text and numbers the segments for delivery.
func Chunks(text string, maxLen int) ([]domain.OutboundChunk, error) {
	parts, err := Split(text, maxLen)
	if err != nil {
		return nil, err
	}
	out := make([]domain.OutboundChunk, len(parts))
	for i, p := range parts {
		out[i] = domain.OutboundChunk{Index: i + 1, Total: len(parts), Text: p}
	}
	return out, nil
}
