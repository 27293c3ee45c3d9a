package memory

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"relay/internal/domain"
	"relay/internal/vectorstore"
)

// Storage is an in-memory vector index using brute-force cosine similarity.
// Chunks are partitioned by owner so a search can only ever see one owner.
type Storage struct {
	mu        sync.RWMutex
	dimension int
	batcher   vectorstore.Batcher
	owners    map[string][]domain.DocumentChunk
}

func NewStorage(dimension int) *Storage {
	return &Storage{
		dimension: dimension,
		batcher:   vectorstore.Batcher{Size: vectorstore.DefaultBatchSize},
		owners:    make(map[string][]domain.DocumentChunk),
	}
}

func (s *Storage) Bootstrap(context.Context) error {
	if s.dimension <= 0 {
		return errors.New("memory: invalid dimension")
	}
	return nil
}

func (s *Storage) Upsert(ctx context.Context, chunks []domain.DocumentChunk) (int, error) {
	return s.batcher.Run(ctx, chunks, s.writeBatch)
}

func (s *Storage) writeBatch(_ context.Context, batch []domain.DocumentChunk) error {
	for _, c := range batch {
		if len(c.Vector) != s.dimension {
			return fmt.Errorf("memory: chunk %s: %w", c.ID, vectorstore.ErrDimensionMismatch)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range batch {
		owner := domain.NormalizeOwner(c.OwnerID)
		c.OwnerID = owner
		c.Vector = append([]float32(nil), c.Vector...)
		existing := s.owners[owner]
		replaced := false
		for i := range existing {
			if existing[i].ID == c.ID {
				existing[i] = c
				replaced = true
				break
			}
		}
		if !replaced {
			existing = append(existing, c)
		}
		s.owners[owner] = existing
	}
	return nil
}

func (s *Storage) Search(_ context.Context, vector []float32, ownerID string, limit int) ([]domain.SearchResult, error) {
	if len(vector) != s.dimension {
		return nil, vectorstore.ErrDimensionMismatch
	}
	if limit <= 0 {
		limit = 5
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	chunks := s.owners[domain.NormalizeOwner(ownerID)]
	results := make([]domain.SearchResult, 0, len(chunks))
	for _, c := range chunks {
		results = append(results, domain.SearchResult{Chunk: c, Score: cosine(c.Vector, vector)})
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (s *Storage) ListAll(_ context.Context, ownerID string) ([]domain.ChunkMeta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chunks := s.owners[domain.NormalizeOwner(ownerID)]
	out := make([]domain.ChunkMeta, 0, len(chunks))
	for _, c := range chunks {
		out = append(out, c.Meta())
	}
	return out, nil
}

func (s *Storage) DeleteOwner(_ context.Context, ownerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.owners, domain.NormalizeOwner(ownerID))
	return nil
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
