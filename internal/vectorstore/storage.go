package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/time/rate"

	"relay/internal/domain"
)

// DefaultBatchSize is the number of chunks submitted per upsert request.
const DefaultBatchSize = 5

// Index is an owner-partitioned nearest-neighbour store over chunk vectors.
// Every read is filtered by the normalized owner identifier.
type Index interface {
	// Bootstrap creates the backing collection if it does not exist yet.
	Bootstrap(ctx context.Context) error
	// Upsert stores chunks batch by batch and returns how many were stored.
	// A failing batch is skipped; partial success is not an error.
	Upsert(ctx context.Context, chunks []domain.DocumentChunk) (int, error)
	Search(ctx context.Context, vector []float32, ownerID string, limit int) ([]domain.SearchResult, error)
	ListAll(ctx context.Context, ownerID string) ([]domain.ChunkMeta, error)
	DeleteOwner(ctx context.Context, ownerID string) error
}

// ErrDimensionMismatch is returned for vectors whose length differs from the
// index dimension.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// Batcher splits upserts into bounded batches paced by a rate limiter.
type Batcher struct {
	Size    int
	Limiter *rate.Limiter
	Logger  *slog.Logger
}

// Run submits chunks to write in batches. Batches run sequentially; a failed
// batch is logged and the remaining ones still run. It returns the number of
// chunks written successfully, and an error only when ctx ends first.
func (b Batcher) Run(ctx context.Context, chunks []domain.DocumentChunk, write func(context.Context, []domain.DocumentChunk) error) (int, error) {
	size := b.Size
	if size <= 0 {
		size = DefaultBatchSize
	}
	logger := b.Logger
	if logger == nil {
		logger = slog.Default()
	}
	inserted := 0
	for start := 0; start < len(chunks); start += size {
		end := start + size
		if end > len(chunks) {
			end = len(chunks)
		}
		if b.Limiter != nil {
			if err := b.Limiter.Wait(ctx); err != nil {
				return inserted, fmt.Errorf("vectorstore: upsert paced out: %w", err)
			}
		}
		if err := write(ctx, chunks[start:end]); err != nil {
			logger.Warn("upsert batch failed", "batch_start", start, "batch_size", end-start, "err", err)
			continue
		}
		inserted += end - start
	}
	return inserted, nil
}

// Lazy wraps an Index whose backend may be unreachable at startup. A failed
// Bootstrap is retried before each Upsert until it succeeds; reads go straight
// to the backend and fail on their own.
type Lazy struct {
	Index

	mu     sync.Mutex
	ready  bool
	logger *slog.Logger
}

func NewLazy(index Index, logger *slog.Logger) *Lazy {
	if logger == nil {
		logger = slog.Default()
	}
	return &Lazy{Index: index, logger: logger}
}

func (l *Lazy) Bootstrap(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ready {
		return nil
	}
	if err := l.Index.Bootstrap(ctx); err != nil {
		return err
	}
	l.ready = true
	return nil
}

// Ready reports whether Bootstrap has succeeded.
func (l *Lazy) Ready() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ready
}

func (l *Lazy) Upsert(ctx context.Context, chunks []domain.DocumentChunk) (int, error) {
	if err := l.Bootstrap(ctx); err != nil {
		l.logger.Warn("vector store still unavailable", "err", err)
		return 0, fmt.Errorf("vectorstore: bootstrap: %w", err)
	}
	return l.Index.Upsert(ctx, chunks)
}

// ListStrategy is one way of enumerating an owner's chunks.
type ListStrategy struct {
	Name string
	List func(ctx context.Context, ownerID string) ([]domain.ChunkMeta, error)
}

// ListFirst runs strategies in order and returns the first non-empty result.
// Failures fall through to the next strategy; the last error is returned only
// when every strategy failed.
func ListFirst(ctx context.Context, ownerID string, logger *slog.Logger, strategies []ListStrategy) ([]domain.ChunkMeta, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var lastErr error
	failed := 0
	for _, s := range strategies {
		items, err := s.List(ctx, ownerID)
		if err != nil {
			logger.Debug("list strategy failed", "strategy", s.Name, "owner", ownerID, "err", err)
			lastErr = err
			failed++
			continue
		}
		if len(items) > 0 {
			return items, nil
		}
	}
	if failed == len(strategies) && lastErr != nil {
		return nil, lastErr
	}
	return nil, nil
}
