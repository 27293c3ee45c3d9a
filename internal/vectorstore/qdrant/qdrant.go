package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"relay/internal/domain"
	"relay/internal/vectorstore"
)

const (
	ownerField   = "owner_id"
	scrollPage   = 256
	listCapacity = 1000
)

// Storage is a minimal REST client to Qdrant.
// It assumes cosine distance and creates the collection if missing.
type Storage struct {
	url        string
	apiKey     string
	collection string
	dimension  int
	client     *http.Client
	batcher    vectorstore.Batcher
	logger     *slog.Logger
}

type Config struct {
	URL        string
	APIKey     string
	Collection string
	Dimension  int
	Timeout    time.Duration
	BatchSize  int
	// BatchInterval is the minimum delay between two upsert batches.
	BatchInterval time.Duration
	Logger        *slog.Logger
}

func NewStorage(cfg Config) (*Storage, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("qdrant: url must not be empty")
	}
	if strings.TrimSpace(cfg.Collection) == "" {
		return nil, errors.New("qdrant: collection must not be empty")
	}
	if cfg.Dimension <= 0 {
		return nil, errors.New("qdrant: invalid dimension")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	interval := cfg.BatchInterval
	if interval == 0 {
		interval = 200 * time.Millisecond
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Storage{
		url:        strings.TrimRight(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
		dimension:  cfg.Dimension,
		client:     &http.Client{Timeout: timeout},
		batcher: vectorstore.Batcher{
			Size:    cfg.BatchSize,
			Limiter: rate.NewLimiter(rate.Every(interval), 1),
			Logger:  logger,
		},
		logger: logger,
	}, nil
}

// Bootstrap creates the collection with the configured dimension and cosine
// distance when it is missing, then makes sure owner_id is indexed for
// filtering. Safe to call on every start.
func (s *Storage) Bootstrap(ctx context.Context) error {
	exists, err := s.collectionExists(ctx)
	if err != nil {
		return err
	}
	if !exists {
		body := map[string]any{
			"vectors": map[string]any{
				"size":     s.dimension,
				"distance": "Cosine",
			},
		}
		if err := s.doJSON(ctx, http.MethodPut, s.collectionURL(""), body, nil); err != nil {
			return fmt.Errorf("qdrant: create collection: %w", err)
		}
		s.logger.Info("qdrant collection created", "collection", s.collection, "dimension", s.dimension)
	}
	index := map[string]any{"field_name": ownerField, "field_schema": "keyword"}
	if err := s.doJSON(ctx, http.MethodPut, s.collectionURL("/index?wait=true"), index, nil); err != nil {
		s.logger.Warn("qdrant owner index not created", "collection", s.collection, "err", err)
	}
	return nil
}

func (s *Storage) collectionExists(ctx context.Context) (bool, error) {
	req, err := s.newRequest(ctx, http.MethodGet, s.collectionURL(""), nil)
	if err != nil {
		return false, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("qdrant: get collection: %w", err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	case resp.StatusCode >= 300:
		return false, fmt.Errorf("qdrant: get collection: %s", resp.Status)
	}
	return true, nil
}

func (s *Storage) Upsert(ctx context.Context, chunks []domain.DocumentChunk) (int, error) {
	return s.batcher.Run(ctx, chunks, s.writeBatch)
}

func (s *Storage) writeBatch(ctx context.Context, batch []domain.DocumentChunk) error {
	points := make([]map[string]any, len(batch))
	for i, c := range batch {
		if len(c.Vector) != s.dimension {
			return fmt.Errorf("qdrant: chunk %s: %w", c.ID, vectorstore.ErrDimensionMismatch)
		}
		points[i] = map[string]any{
			"id":     c.ID,
			"vector": c.Vector,
			"payload": map[string]any{
				ownerField:    domain.NormalizeOwner(c.OwnerID),
				"source":      c.Source,
				"page":        c.Page,
				"chunk_index": c.Index,
				"text":        c.Text,
				"created_at":  c.CreatedAt.UTC().Format(time.RFC3339),
			},
		}
	}
	body := map[string]any{"points": points}
	return s.doJSON(ctx, http.MethodPut, s.collectionURL("/points?wait=true"), body, nil)
}

type scoredPoint struct {
	ID      any            `json:"id"`
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload"`
}

func (s *Storage) Search(ctx context.Context, vector []float32, ownerID string, limit int) ([]domain.SearchResult, error) {
	if limit <= 0 {
		limit = 5
	}
	points, err := s.search(ctx, vector, ownerID, limit)
	if err != nil {
		return nil, err
	}
	results := make([]domain.SearchResult, 0, len(points))
	for _, p := range points {
		results = append(results, domain.SearchResult{Chunk: pointChunk(p.ID, p.Payload), Score: p.Score})
	}
	return results, nil
}

func (s *Storage) search(ctx context.Context, vector []float32, ownerID string, limit int) ([]scoredPoint, error) {
	req := map[string]any{
		"vector":       vector,
		"limit":        limit,
		"with_payload": true,
		"filter":       ownerFilter(ownerID),
	}
	var resp struct {
		Result []scoredPoint `json:"result"`
	}
	if err := s.doJSON(ctx, http.MethodPost, s.collectionURL("/points/search"), req, &resp); err != nil {
		return nil, fmt.Errorf("qdrant: search: %w", err)
	}
	return resp.Result, nil
}

// ListAll enumerates an owner's chunks. Qdrant is built around similarity
// search, so scrolling is tried first and a zero-vector search without a score
// threshold is the fallback.
func (s *Storage) ListAll(ctx context.Context, ownerID string) ([]domain.ChunkMeta, error) {
	return vectorstore.ListFirst(ctx, ownerID, s.logger, []vectorstore.ListStrategy{
		{Name: "scroll", List: s.listByScroll},
		{Name: "zero_vector_search", List: s.listByZeroSearch},
	})
}

func (s *Storage) listByScroll(ctx context.Context, ownerID string) ([]domain.ChunkMeta, error) {
	var out []domain.ChunkMeta
	var offset any
	for {
		req := map[string]any{
			"filter":       ownerFilter(ownerID),
			"limit":        scrollPage,
			"with_payload": true,
			"with_vector":  false,
		}
		if offset != nil {
			req["offset"] = offset
		}
		var resp struct {
			Result struct {
				Points []struct {
					ID      any            `json:"id"`
					Payload map[string]any `json:"payload"`
				} `json:"points"`
				NextPageOffset any `json:"next_page_offset"`
			} `json:"result"`
		}
		if err := s.doJSON(ctx, http.MethodPost, s.collectionURL("/points/scroll"), req, &resp); err != nil {
			return nil, fmt.Errorf("qdrant: scroll: %w", err)
		}
		for _, p := range resp.Result.Points {
			out = append(out, pointChunk(p.ID, p.Payload).Meta())
		}
		offset = resp.Result.NextPageOffset
		if offset == nil || len(out) >= listCapacity {
			return out, nil
		}
	}
}

func (s *Storage) listByZeroSearch(ctx context.Context, ownerID string) ([]domain.ChunkMeta, error) {
	points, err := s.search(ctx, make([]float32, s.dimension), ownerID, listCapacity)
	if err != nil {
		return nil, err
	}
	out := make([]domain.ChunkMeta, 0, len(points))
	for _, p := range points {
		out = append(out, pointChunk(p.ID, p.Payload).Meta())
	}
	return out, nil
}

func (s *Storage) DeleteOwner(ctx context.Context, ownerID string) error {
	body := map[string]any{"filter": ownerFilter(ownerID)}
	if err := s.doJSON(ctx, http.MethodPost, s.collectionURL("/points/delete?wait=true"), body, nil); err != nil {
		return fmt.Errorf("qdrant: delete owner: %w", err)
	}
	return nil
}

func ownerFilter(ownerID string) map[string]any {
	return map[string]any{
		"must": []map[string]any{
			{"key": ownerField, "match": map[string]any{"value": domain.NormalizeOwner(ownerID)}},
		},
	}
}

func pointChunk(id any, payload map[string]any) domain.DocumentChunk {
	chunk := domain.DocumentChunk{ID: fmt.Sprint(id)}
	if v, ok := payload[ownerField].(string); ok {
		chunk.OwnerID = v
	}
	if v, ok := payload["source"].(string); ok {
		chunk.Source = v
	}
	if v, ok := payload["page"].(float64); ok {
		chunk.Page = int(v)
	}
	if v, ok := payload["chunk_index"].(float64); ok {
		chunk.Index = int(v)
	}
	if v, ok := payload["text"].(string); ok {
		chunk.Text = v
	}
	if v, ok := payload["created_at"].(string); ok {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			chunk.CreatedAt = t
		}
	}
	return chunk
}

func (s *Storage) collectionURL(suffix string) string {
	return fmt.Sprintf("%s/collections/%s%s", s.url, s.collection, suffix)
}

func (s *Storage) newRequest(ctx context.Context, method, url string, body any) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("qdrant: marshal request: %w", err)
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, r)
	if err != nil {
		return nil, fmt.Errorf("qdrant: create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}
	return req, nil
}

func (s *Storage) doJSON(ctx context.Context, method, url string, body, out any) error {
	req, err := s.newRequest(ctx, method, url, body)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("qdrant %s %s failed: %s: %s", method, url, resp.Status, strings.TrimSpace(string(msg)))
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
