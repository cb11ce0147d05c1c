// Package chunker splits cleaned source text into bounded, overlapping chunks for
// embedding.
//
// Boundaries are chosen greedily: paragraphs are packed together while they fit,
// oversized paragraphs fall back to sentences, oversized sentences to words, and a
// word longer than the limit is cut into limit-sized pieces. Sizes are measured in
// characters (runes). Overlap is applied afterwards and never counts toward the
// limit.
package chunker

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	DefaultMaxSize = 1000
	DefaultOverlap = 100

	OverlapMarker = "..."
)

type Chunker struct {
	MaxSize int
	Overlap int
}

func New(maxSize, overlap int) Chunker {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if overlap < 0 {
		overlap = 0
	}
	return Chunker{MaxSize: maxSize, Overlap: overlap}
}

func (c Chunker) Chunk(text string) []string {
	return Chunk(text, c.MaxSize, c.Overlap)
}

// Chunk cleans text, splits it and prefixes every chunk after the first with the
// trailing words of its predecessor.
func Chunk(text string, maxSize, overlap int) []string {
	return ApplyOverlap(Split(Clean(text), maxSize), overlap)
}

var (
	paragraphBreak = regexp.MustCompile(`\n[ \t]*\n`)
	inlineSpace    = regexp.MustCompile(`[ \t\f\v\x{00a0}]+`)
	manyBlankLines = regexp.MustCompile(`\n{3,}`)
	sentenceRe     = regexp.MustCompile(`[^.!?]*[.!?]+|[^.!?]+`)
)

// Clean normalizes line endings, drops control characters, collapses in-line
// whitespace and squeezes runs of blank lines down to a single blank line.
func Clean(text string) string {
	if text == "" {
		return ""
	}
	text = strings.ToValidUTF8(text, " ")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, text)
	text = inlineSpace.ReplaceAllString(text, " ")

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	text = strings.Join(lines, "\n")
	text = manyBlankLines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// Split returns chunk boundaries for already-cleaned text. No returned chunk is
// longer than maxSize characters.
func Split(text string, maxSize int) []string {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	var chunks []string
	current := ""
	for _, para := range paragraphBreak.Split(text, -1) {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		candidate := para
		if current != "" {
			candidate = current + "\n\n" + para
		}
		if runeLen(candidate) <= maxSize {
			current = candidate
			continue
		}
		if current != "" {
			chunks = append(chunks, current)
		}
		if runeLen(para) > maxSize {
			chunks = append(chunks, splitSentences(para, maxSize)...)
			current = ""
		} else {
			current = para
		}
	}
	if current != "" {
		chunks = append(chunks, current)
	}
	return chunks
}

func splitSentences(text string, maxSize int) []string {
	var chunks []string
	current := ""
	for _, sentence := range sentenceRe.FindAllString(text, -1) {
		sentence = strings.TrimSpace(sentence)
		if sentence == "" {
			continue
		}
		candidate := sentence
		if current != "" {
			candidate = current + " " + sentence
		}
		if runeLen(candidate) <= maxSize {
			current = candidate
			continue
		}
		if current != "" {
			chunks = append(chunks, current)
		}
		if runeLen(sentence) > maxSize {
			chunks = append(chunks, splitWords(sentence, maxSize)...)
			current = ""
		} else {
			current = sentence
		}
	}
	if current != "" {
		chunks = append(chunks, current)
	}
	return chunks
}

func splitWords(text string, maxSize int) []string {
	var chunks []string
	current := ""
	for _, word := range strings.Fields(text) {
		candidate := word
		if current != "" {
			candidate = current + " " + word
		}
		if runeLen(candidate) <= maxSize {
			current = candidate
			continue
		}
		if current != "" {
			chunks = append(chunks, current)
			current = ""
		}
		pieces := cutRunes(word, maxSize)
		chunks = append(chunks, pieces[:len(pieces)-1]...)
		current = pieces[len(pieces)-1]
	}
	if current != "" {
		chunks = append(chunks, current)
	}
	return chunks
}

// cutRunes slices s into pieces of at most n runes.
func cutRunes(s string, n int) []string {
	if runeLen(s) <= n {
		return []string{s}
	}
	var out []string
	runes := []rune(s)
	for len(runes) > n {
		out = append(out, string(runes[:n]))
		runes = runes[n:]
	}
	return append(out, string(runes))
}

// ApplyOverlap prefixes chunk i (i > 0) with OverlapMarker and the trailing whole
// words of chunk i-1 that fit in overlap characters.
func ApplyOverlap(chunks []string, overlap int) []string {
	if len(chunks) <= 1 || overlap <= 0 {
		return chunks
	}
	out := make([]string, len(chunks))
	out[0] = chunks[0]
	for i := 1; i < len(chunks); i++ {
		tail := LastWords(chunks[i-1], overlap)
		if tail == "" {
			out[i] = chunks[i]
			continue
		}
		out[i] = OverlapMarker + tail + " " + chunks[i]
	}
	return out
}

// LastWords returns the longest suffix of whole words from text whose length, with
// single-space separators, is at most maxLen characters.
func LastWords(text string, maxLen int) string {
	words := strings.Fields(text)
	result := ""
	for i := len(words) - 1; i >= 0; i-- {
		candidate := words[i]
		if result != "" {
			candidate = words[i] + " " + result
		}
		if runeLen(candidate) > maxLen {
			break
		}
		result = candidate
	}
	return result
}

// WordCount counts whitespace-delimited words.
func WordCount(text string) int {
	return len(strings.Fields(text))
}

func runeLen(s string) int { return utf8.RuneCountInString(s) }
