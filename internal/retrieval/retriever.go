package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"relay/internal/domain"
	"relay/internal/embedding"
)

// DefaultK is the number of chunks pulled into a reply's context.
const DefaultK = 3

// Searcher is the read side of the vector index.
type Searcher interface {
	Search(ctx context.Context, vector []float32, ownerID string, limit int) ([]domain.SearchResult, error)
}

// Retriever builds a labelled context block for a query from one owner's
// indexed documents.
type Retriever struct {
	embedder embedding.Embedder
	index    Searcher
	logger   *slog.Logger
}

func NewRetriever(embedder embedding.Embedder, index Searcher, logger *slog.Logger) (*Retriever, error) {
	if embedder == nil {
		return nil, errors.New("retrieval: embedder must not be nil")
	}
	if index == nil {
		return nil, errors.New("retrieval: index must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{embedder: embedder, index: index, logger: logger}, nil
}

// Search embeds query and returns up to k of the owner's chunks, best first.
func (r *Retriever) Search(ctx context.Context, query, ownerID string, k int) ([]domain.SearchResult, error) {
	if k <= 0 {
		k = DefaultK
	}
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("retrieval: embed query: %w", err)
	}
	hits, err := r.index.Search(ctx, vec, ownerID, k)
	if err != nil {
		return nil, fmt.Errorf("retrieval: search: %w", err)
	}
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// RetrieveContext returns up to k chunks relevant to query, best first, each
// prefixed with its source and page. Any failure yields "".
func (r *Retriever) RetrieveContext(ctx context.Context, query, ownerID string, k int) string {
	hits, err := r.Search(ctx, query, ownerID, k)
	if err != nil {
		r.logger.Warn("context retrieval failed", "owner", ownerID, "err", err)
		return ""
	}
	return FormatContext(hits)
}

// FormatContext renders search hits as "[Source: name, page n]" blocks
// separated by blank lines.
func FormatContext(hits []domain.SearchResult) string {
	blocks := make([]string, 0, len(hits))
	for _, h := range hits {
		blocks = append(blocks, fmt.Sprintf("[Source: %s, page %d]\n%s", h.Chunk.Source, h.Chunk.Page, h.Chunk.Text))
	}
	return strings.Join(blocks, "\n\n")
}
