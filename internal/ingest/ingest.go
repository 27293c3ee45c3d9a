package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"relay/internal/domain"
	"relay/internal/embedding"
	"relay/internal/metrics"
	"relay/internal/vectorstore"
)

// Extractor returns the text of each page of an uploaded file.
type Extractor interface {
	ExtractPages(path, filename string) ([]domain.Page, error)
}

// Summarizer condenses document text for display to operators.
type Summarizer interface {
	Summarize(text string, sentences int) string
}

// Upload is a document saved to a temporary path awaiting ingestion.
type Upload struct {
	Path     string
	Filename string
}

// Result reports the outcome of one ingestion. Ingest never returns an
// error; failures are described here.
type Result struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	ChunkCount int    `json:"chunk_count"`
	Failed     int    `json:"failed"`
	Total      int    `json:"total"`
	Summary    string `json:"summary,omitempty"`
}

// Pipeline turns uploaded documents into owner-scoped indexed chunks.
type Pipeline struct {
	extractor  Extractor
	chunker    domain.Chunker
	embedder   embedding.Embedder
	index      vectorstore.Index
	summarizer Summarizer
	sentences  int
	metrics    *metrics.Metrics
	logger     *slog.Logger
	now        func() time.Time
}

type Option func(*Pipeline)

func WithSummarizer(s Summarizer) Option { return func(p *Pipeline) { p.summarizer = s } }

// WithSummarySentences bounds the upload summary; 0 keeps the summarizer's default.
func WithSummarySentences(n int) Option { return func(p *Pipeline) { p.sentences = n } }

func WithMetrics(m *metrics.Metrics) Option { return func(p *Pipeline) { p.metrics = m } }

func WithLogger(l *slog.Logger) Option { return func(p *Pipeline) { p.logger = l } }

func NewPipeline(extractor Extractor, chunker domain.Chunker, embedder embedding.Embedder, index vectorstore.Index, opts ...Option) (*Pipeline, error) {
	if extractor == nil {
		return nil, errors.New("ingest: extractor must not be nil")
	}
	if chunker == nil {
		return nil, errors.New("ingest: chunker must not be nil")
	}
	if embedder == nil {
		return nil, errors.New("ingest: embedder must not be nil")
	}
	if index == nil {
		return nil, errors.New("ingest: index must not be nil")
	}
	p := &Pipeline{
		extractor: extractor,
		chunker:   chunker,
		embedder:  embedder,
		index:     index,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Ingest extracts, splits, embeds and indexes an upload for ownerID. Chunks
// whose embedding fails are skipped and counted. The temporary file is
// removed whatever the outcome.
func (p *Pipeline) Ingest(ctx context.Context, up Upload, ownerID string) Result {
	defer func() {
		if err := os.Remove(up.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			p.logger.Warn("temp upload not removed", "path", up.Path, "err", err)
		}
	}()

	owner := domain.NormalizeOwner(ownerID)
	if owner == "" {
		return Result{Message: "an owner is required"}
	}

	pages, err := p.extractor.ExtractPages(up.Path, up.Filename)
	if err != nil {
		p.logger.Error("extract failed", "file", up.Filename, "owner", owner, "err", err)
		return Result{Message: fmt.Sprintf("could not read %s: %v", up.Filename, err)}
	}

	type piece struct {
		page, index int
		text        string
	}
	var pieces []piece
	var full strings.Builder
	for _, pg := range pages {
		for i, text := range p.chunker.Split(pg.Text) {
			pieces = append(pieces, piece{page: pg.Number, index: i, text: text})
		}
		full.WriteString(pg.Text)
		full.WriteByte('\n')
	}
	if len(pieces) == 0 {
		return Result{Message: fmt.Sprintf("no text found in %s", up.Filename)}
	}

	created := p.now().UTC()
	chunks := make([]domain.DocumentChunk, 0, len(pieces))
	failed := 0
	for _, pc := range pieces {
		vec, err := p.embedder.Embed(ctx, pc.text)
		if err != nil {
			failed++
			p.logger.Warn("chunk embedding failed", "file", up.Filename, "page", pc.page, "chunk", pc.index, "err", err)
			continue
		}
		chunks = append(chunks, domain.DocumentChunk{
			ID:        uuid.NewString(),
			OwnerID:   owner,
			Source:    up.Filename,
			Page:      pc.page,
			Index:     pc.index,
			Text:      pc.text,
			Vector:    vec,
			CreatedAt: created,
		})
	}

	res := Result{Failed: failed, Total: len(pieces)}
	if len(chunks) > 0 {
		stored, err := p.index.Upsert(ctx, chunks)
		if err != nil {
			p.logger.Error("index upsert interrupted", "file", up.Filename, "owner", owner, "err", err)
		}
		res.ChunkCount = stored
		res.Failed += len(chunks) - stored
	}
	p.metrics.RecordIngest(res.ChunkCount, res.Failed)

	if res.ChunkCount == 0 {
		res.Message = fmt.Sprintf("no chunks of %s could be indexed (%d failed of %d)", up.Filename, res.Failed, res.Total)
		return res
	}
	res.Success = true
	res.Message = fmt.Sprintf("indexed %d chunks of %s (%d failed of %d)", res.ChunkCount, up.Filename, res.Failed, res.Total)
	if p.summarizer != nil {
		res.Summary = p.summarizer.Summarize(full.String(), p.sentences)
	}
	p.logger.Info("document ingested", "file", up.Filename, "owner", owner, "chunks", res.ChunkCount, "failed", res.Failed)
	return res
}
