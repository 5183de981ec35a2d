// Package chunker splits resource text into bounded, overlapping segments
// suitable for embedding and retrieval.
//
// Splitting is hierarchical: paragraphs are greedily packed into chunks,
// oversized paragraphs fall back to sentence boundaries, and oversized
// sentences fall back to word boundaries. The three-level fallback bounds
// every chunk's length regardless of input shape (e.g. one giant line with
// no punctuation) and guarantees termination.
package chunker

import (
	"regexp"
	"strings"
	"time"
)

const (
	// DefaultChunkSize is the target chunk length in characters.
	DefaultChunkSize = 1000

	// DefaultChunkOverlap is the approximate overlap between consecutive
	// chunks in characters. The overlap is carried as trailing words of
	// the previous chunk, sized by the overlap/size ratio.
	DefaultChunkOverlap = 200
)

// Metadata describes the provenance of a chunk. It is shallow-copied into
// every chunk produced for a resource, with ChunkIndex incremented
// sequentially from 0 in document order. Downstream consumers rely on
// ChunkIndex being contiguous to reorder chunks back into document order.
type Metadata struct {
	ResourceID    string    `json:"resourceId"`
	ResourceTitle string    `json:"resourceTitle"`
	ChunkIndex    int       `json:"chunkIndex"`
	Page          int       `json:"page,omitempty"`
	Section       string    `json:"section,omitempty"`
	Timestamp     time.Time `json:"timestamp,omitzero"`
}

// Chunk is an immutable bounded excerpt of a source document, the unit of
// embedding and retrieval.
type Chunk struct {
	Content  string
	Metadata Metadata
}

// sentenceRe matches sentence-shaped runs ending in terminal punctuation.
var sentenceRe = regexp.MustCompile(`[^.!?]+[.!?]+`)

// Chunker splits text into chunks. The zero value is not usable; construct
// with New.
type Chunker struct {
	chunkSize    int
	chunkOverlap int
}

// Option configures a Chunker.
type Option func(*Chunker)

// WithChunkSize sets the target chunk size in characters.
// Values < 1 are ignored.
func WithChunkSize(n int) Option {
	return func(c *Chunker) {
		if n > 0 {
			c.chunkSize = n
		}
	}
}

// WithChunkOverlap sets the approximate chunk overlap in characters.
// Negative values are ignored.
func WithChunkOverlap(n int) Option {
	return func(c *Chunker) {
		if n >= 0 {
			c.chunkOverlap = n
		}
	}
}

// New creates a Chunker with the default chunk size (1000) and overlap (200),
// overridable via options.
func New(opts ...Option) *Chunker {
	c := &Chunker{
		chunkSize:    DefaultChunkSize,
		chunkOverlap: DefaultChunkOverlap,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.chunkOverlap >= c.chunkSize {
		c.chunkOverlap = c.chunkSize / 2
	}
	return c
}

// ChunkSize returns the configured target chunk size.
func (c *Chunker) ChunkSize() int { return c.chunkSize }

// ChunkOverlap returns the configured chunk overlap.
func (c *Chunker) ChunkOverlap() int { return c.chunkOverlap }

// Chunk splits text into ordered chunks carrying meta. Empty or
// whitespace-only input yields nil. Text that fits within the chunk size
// after cleaning returns exactly one chunk; the splitter never splits
// unnecessarily.
func (c *Chunker) Chunk(text string, meta Metadata) []Chunk {
	cleaned := Clean(text)
	if cleaned == "" {
		return nil
	}

	if len(cleaned) <= c.chunkSize {
		return []Chunk{newChunk(cleaned, meta, 0)}
	}

	var chunks []Chunk
	buf := ""

	// flush emits the buffer as the next chunk and reseeds it with the
	// overlap tail of the flushed content.
	flush := func() {
		content := strings.TrimSpace(buf)
		if content == "" {
			buf = ""
			return
		}
		chunks = append(chunks, newChunk(content, meta, len(chunks)))
		buf = c.overlapTail(content)
	}

	for _, para := range strings.Split(cleaned, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		for _, piece := range c.split(para) {
			if buf != "" && len(buf)+len(piece)+1 > c.chunkSize {
				flush()
			}
			if buf == "" {
				buf = piece
			} else {
				buf += " " + piece
			}
		}
	}

	// Trailing buffer: emit without reseeding, but only if it holds more
	// than a bare overlap tail of the previous chunk.
	if content := strings.TrimSpace(buf); content != "" {
		if len(chunks) == 0 || content != c.overlapTail(chunks[len(chunks)-1].Content) {
			chunks = append(chunks, newChunk(content, meta, len(chunks)))
		}
	}

	return chunks
}

// EstimateTokens returns a cheap token-count proxy: ceil(len/4).
// It stands in for a real tokenizer in cost and usage reporting.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}

// Clean normalizes text for chunking: line endings become \n, runs of
// spaces and tabs collapse to one space, each line is trimmed, and runs of
// 3+ newlines collapse to exactly 2 (one paragraph separator).
func Clean(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(strings.Join(strings.FieldsFunc(line, func(r rune) bool {
			return r == ' ' || r == '\t'
		}), " "))
	}
	text = strings.Join(lines, "\n")

	for strings.Contains(text, "\n\n\n") {
		text = strings.ReplaceAll(text, "\n\n\n", "\n\n")
	}

	return strings.TrimSpace(text)
}

// split breaks a paragraph into pieces that each fit within the chunk size.
// Paragraphs that already fit are returned as-is; otherwise sentences are
// used, and sentences that still exceed the chunk size are split by words.
func (c *Chunker) split(para string) []string {
	if len(para) <= c.chunkSize {
		return []string{para}
	}

	var pieces []string
	for _, sentence := range splitSentences(para) {
		if len(sentence) <= c.chunkSize {
			pieces = append(pieces, sentence)
			continue
		}
		pieces = append(pieces, c.splitWords(sentence)...)
	}
	return pieces
}

// splitSentences splits text on sentence boundaries, keeping terminal
// punctuation. Any trailing run without terminal punctuation is returned
// as a final piece.
func splitSentences(text string) []string {
	locs := sentenceRe.FindAllStringIndex(text, -1)
	if locs == nil {
		return []string{text}
	}

	var out []string
	end := 0
	for _, loc := range locs {
		s := strings.TrimSpace(text[loc[0]:loc[1]])
		if s != "" {
			out = append(out, s)
		}
		end = loc[1]
	}
	if rest := strings.TrimSpace(text[end:]); rest != "" {
		out = append(out, rest)
	}
	return out
}

// splitWords splits a sentence into word-bounded segments of at most
// chunkSize characters, seeding each segment after the first with the
// overlap tail of the previous one.
func (c *Chunker) splitWords(sentence string) []string {
	words := strings.Fields(sentence)

	var segments []string
	var cur []string
	curLen := 0

	// Invariant: curLen == len(strings.Join(cur, " ")) at every step.
	for _, w := range words {
		add := len(w)
		if len(cur) > 0 {
			add++ // joining space
		}
		if curLen+add > c.chunkSize && len(cur) > 0 {
			seg := strings.Join(cur, " ")
			segments = append(segments, seg)

			cur = strings.Fields(c.overlapTail(seg))
			curLen = len(strings.Join(cur, " "))
			add = len(w)
			if len(cur) > 0 {
				add++
			}
		}
		cur = append(cur, w)
		curLen += add
	}
	if len(cur) > 0 {
		segments = append(segments, strings.Join(cur, " "))
	}
	return segments
}

// overlapTail returns the trailing words of content sized so that the
// word count approximates (chunkOverlap / chunkSize) * wordCount(content).
func (c *Chunker) overlapTail(content string) string {
	if c.chunkOverlap <= 0 {
		return ""
	}
	words := strings.Fields(content)
	n := int(float64(c.chunkOverlap) / float64(c.chunkSize) * float64(len(words)))
	if n <= 0 {
		return ""
	}
	if n >= len(words) {
		return content
	}
	return strings.Join(words[len(words)-n:], " ")
}

// newChunk shallow-copies meta with the given index.
func newChunk(content string, meta Metadata, index int) Chunk {
	meta.ChunkIndex = index
	return Chunk{Content: content, Metadata: meta}
}
