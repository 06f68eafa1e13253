package cascade

import (
	"regexp"
	"strings"
)

var endOfSentence = regexp.MustCompile(`\n\s*|(\.|\?|!)+(\s+|$)`)

// sentenceBuffer accumulates streamed reply text and releases it one
// complete sentence at a time, so speech synthesis can start before the
// reply is finished.
type sentenceBuffer struct {
	pending string
}

// Write appends delta and returns the sentences it completed.
func (b *sentenceBuffer) Write(delta string) []string {
	b.pending += delta

	matches := endOfSentence.FindAllStringIndex(b.pending, -1)
	if len(matches) == 0 {
		return nil
	}

	var sentences []string
	pos := 0
	for _, m := range matches {
		// a mark at the very end may still be followed by more punctuation
		// or a decimal digit
		if m[1] == len(b.pending) && !strings.ContainsAny(b.pending[m[0]:m[1]], " \t\r\n") {
			break
		}
		if s := strings.TrimSpace(b.pending[pos:m[1]]); s != "" {
			sentences = append(sentences, s)
		}
		pos = m[1]
	}
	b.pending = b.pending[pos:]
	return sentences
}

// Flush returns whatever is left once the reply has ended.
func (b *sentenceBuffer) Flush() string {
	s := strings.TrimSpace(b.pending)
	b.pending = ""
	return s
}

// splitSentences splits a complete text at punctuation marks.
func splitSentences(text string) []string {
	var b sentenceBuffer
	sentences := b.Write(text)
	if rest := b.Flush(); rest != "" {
		sentences = append(sentences, rest)
	}
	return sentences
}
