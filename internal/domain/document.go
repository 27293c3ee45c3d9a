package domain

import (
	"strings"
	"time"
)

// DocumentChunk is a unit of indexed knowledge owned by exactly one user.
type DocumentChunk struct {
	ID        string
	OwnerID   string
	Source    string
	Page      int
	Index     int
	Text      string
	Vector    []float32
	CreatedAt time.Time
}

// ChunkMeta is a DocumentChunk without its vector, used for listings.
type ChunkMeta struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Source    string    `json:"source"`
	Page      int       `json:"page"`
	Index     int       `json:"index"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Meta strips the vector from the chunk.
func (c DocumentChunk) Meta() ChunkMeta {
	return ChunkMeta{
		ID:        c.ID,
		OwnerID:   c.OwnerID,
		Source:    c.Source,
		Page:      c.Page,
		Index:     c.Index,
		Text:      c.Text,
		CreatedAt: c.CreatedAt,
	}
}

// SearchResult represents a matching chunk with a relevance score.
type SearchResult struct {
	Chunk DocumentChunk
	Score float64
}

// Page is the text extracted from one page (or sheet) of an uploaded document.
type Page struct {
	Number int
	Text   string
}

// Chunker splits page text into segments suitable for retrieval indexing.
type Chunker interface {
	Split(text string) []string
}

// NormalizeOwner maps a raw remote-party identifier onto the restricted
// character set used to partition the vector index. Channel prefixes such as
// "whatsapp:" are dropped so that the same person resolves to the same owner
// regardless of the channel a message arrived on.
func NormalizeOwner(raw string) string {
	id := strings.TrimSpace(raw)
	if i := strings.Index(id, ":"); i >= 0 {
		id = id[i+1:]
	}
	var b strings.Builder
	b.Grow(len(id))
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
