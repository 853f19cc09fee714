package parser

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	DefaultChunkSize    = 500 // runes
	DefaultChunkOverlap = 0   // runes
	charsPerWord        = 5
)

// a sentence is a run of text closed by one or more terminators, or by a
// line break or the end of input
var sentenceRegex = regexp.MustCompile(`[^.!?\n]*[.!?]+|[^.!?\n]+`)

// Chunker splits text into sentence bounded chunks.
type Chunker struct {
	size    int
	overlap int
}

type ChunkerOption func(*Chunker)

func WithChunkSize(size int) ChunkerOption {
	return func(c *Chunker) {
		if size > 0 {
			c.size = size
		}
	}
}

// WithOverlap sets the approximate number of characters carried from the end
// of one chunk into the start of the next.
func WithOverlap(overlap int) ChunkerOption {
	return func(c *Chunker) {
		if overlap >= 0 {
			c.overlap = overlap
		}
	}
}

func NewChunker(opts ...ChunkerOption) *Chunker {
	c := &Chunker{size: DefaultChunkSize, overlap: DefaultChunkOverlap}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Chunker) Split(text string) []string {
	return ChunkText(text, c.size, c.overlap)
}

// ChunkText groups whole sentences into chunks of at most maxSize runes.
// A sentence longer than maxSize becomes its own chunk. With overlap > 0 each
// new chunk starts with the trailing words of the previous one.
func ChunkText(text string, maxSize, overlap int) []string {
	if maxSize <= 0 {
		maxSize = DefaultChunkSize
	}

	var (
		chunks []string
		buf    strings.Builder
		bufLen int
	)
	for _, raw := range sentenceRegex.FindAllString(text, -1) {
		sentence := strings.Join(strings.Fields(raw), " ")
		if sentence == "" {
			continue
		}
		n := utf8.RuneCountInString(sentence)

		if bufLen > 0 && bufLen+1+n > maxSize {
			prev := buf.String()
			chunks = append(chunks, prev)
			buf.Reset()
			bufLen = 0
			if overlap > 0 {
				seed := tailWords(prev, max(1, overlap/charsPerWord))
				buf.WriteString(seed)
				bufLen = utf8.RuneCountInString(seed)
			}
		}

		if bufLen > 0 {
			buf.WriteByte(' ')
			bufLen++
		}
		buf.WriteString(sentence)
		bufLen += n
	}
	if bufLen > 0 {
		chunks = append(chunks, buf.String())
	}
	return chunks
}

func tailWords(s string, n int) string {
	words := strings.Fields(s)
	if len(words) > n {
		words = words[len(words)-n:]
	}
	return strings.Join(words, " ")
}
