package chunker

import "strings"

const (
	DefaultChunkSize = 500
	DefaultOverlap   = 100

	// sentenceLookback is how far back from a window's end the chunker looks
	// for a sentence boundary to cut on.
	sentenceLookback = 100
)

var sentenceTerminators = []string{". ", ".\n", "? ", "?\n", "! ", "!\n"}

// WindowChunker splits text into fixed-size, sentence-aligned windows that
// overlap so retrieval context is not lost at chunk boundaries.
type WindowChunker struct {
	chunkSize int
	overlap   int
}

func NewWindowChunker(chunkSize, overlap int) *WindowChunker {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= chunkSize {
		overlap = chunkSize / 5
	}
	return &WindowChunker{chunkSize: chunkSize, overlap: overlap}
}

// Split implements domain.Chunker.
func (c *WindowChunker) Split(text string) []string {
	return Split(text, c.chunkSize, c.overlap)
}

// Split cuts text into windows of at most chunkSize characters. Consecutive
// windows share overlap characters. A window that does not reach the end of
// the text is shortened to the last sentence terminator found within its
// final 100 characters, if any.
func Split(text string, chunkSize, overlap int) []string {
	if text == "" {
		return nil
	}
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if overlap < 0 || overlap >= chunkSize {
		overlap = 0
	}

	runes := []rune(text)
	n := len(runes)
	var chunks []string
	start := 0
	for start < n {
		end := start + chunkSize
		if end >= n {
			chunks = append(chunks, string(runes[start:]))
			break
		}
		if cut := sentenceCut(runes, start, end); cut > 0 {
			end = cut
		}
		chunks = append(chunks, string(runes[start:end]))

		next := end - overlap
		if next <= start {
			next = end
		}
		// The rest fits in one window: emit it as the final chunk.
		if n-next <= chunkSize {
			chunks = append(chunks, string(runes[next:]))
			break
		}
		start = next
	}
	return chunks
}

// sentenceCut returns the index just past the rightmost sentence-ending
// punctuation inside the tail of runes[start:end], or -1.
func sentenceCut(runes []rune, start, end int) int {
	from := end - sentenceLookback
	if from < start {
		from = start
	}
	// Include the character after end so a terminator straddling the
	// window edge (". " with the space outside) still counts.
	limit := end + 1
	if limit > len(runes) {
		limit = len(runes)
	}
	window := string(runes[from:limit])
	best := -1
	for _, t := range sentenceTerminators {
		if i := strings.LastIndex(window, t); i > best {
			best = i
		}
	}
	if best < 0 {
		return -1
	}
	// best is a byte offset; convert back to runes and step past the mark.
	cut := from + len([]rune(window[:best])) + 1
	if cut <= start || cut > end {
		return -1
	}
	return cut
}
