package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"relay/internal/domain"
	"relay/internal/embedding"
	"relay/internal/embedding/hashing"
	"relay/internal/vectorstore/memory"
)

type fakeExtractor struct {
	pages []domain.Page
	err   error
}

func (f fakeExtractor) ExtractPages(string, string) ([]domain.Page, error) { return f.pages, f.err }

// pipeChunker splits on '|' so tests control the chunk count exactly.
type pipeChunker struct{}

func (pipeChunker) Split(text string) []string { return strings.Split(text, "|") }

type flakyEmbedder struct {
	fail map[string]bool
}

func (flakyEmbedder) Name() string   { return "flaky" }
func (flakyEmbedder) Dimension() int { return 2 }
func (e flakyEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if e.fail[text] {
		return nil, embedding.Unavailable(errors.New("provider down"))
	}
	return []float32{1, float32(len(text))}, nil
}

type fakeSummarizer struct{}

func (fakeSummarizer) Summarize(text string, _ int) string { return "summary of " + strings.Fields(text)[0] }

func tempUpload(t *testing.T, name string) Upload {
	t.Helper()
	p := filepath.Join(t.TempDir(), "upload-"+name)
	require.NoError(t, os.WriteFile(p, []byte("x"), 0o600))
	return Upload{Path: p, Filename: name}
}

func TestNewPipeline_Validation(t *testing.T) {
	_, err := NewPipeline(nil, pipeChunker{}, flakyEmbedder{}, memory.NewStorage(2))
	require.Error(t, err)
	_, err = NewPipeline(fakeExtractor{}, nil, flakyEmbedder{}, memory.NewStorage(2))
	require.Error(t, err)
	_, err = NewPipeline(fakeExtractor{}, pipeChunker{}, nil, memory.NewStorage(2))
	require.Error(t, err)
	_, err = NewPipeline(fakeExtractor{}, pipeChunker{}, flakyEmbedder{}, nil)
	require.Error(t, err)
}

func TestIngest_SkipsFailedEmbeddings(t *testing.T) {
	parts := make([]string, 10)
	for i := range parts {
		parts[i] = "chunk" + string(rune('a'+i))
	}
	ext := fakeExtractor{pages: []domain.Page{{Number: 1, Text: strings.Join(parts, "|")}}}
	emb := flakyEmbedder{fail: map[string]bool{"chunkb": true, "chunke": true, "chunkh": true}}
	idx := memory.NewStorage(2)
	p, err := NewPipeline(ext, pipeChunker{}, emb, idx, WithSummarizer(fakeSummarizer{}))
	require.NoError(t, err)

	up := tempUpload(t, "guide.pdf")
	res := p.Ingest(context.Background(), up, "whatsapp:+15550001")

	require.True(t, res.Success)
	require.Equal(t, 7, res.ChunkCount)
	require.Equal(t, 3, res.Failed)
	require.Equal(t, 10, res.Total)
	require.Contains(t, res.Message, "7")
	require.Equal(t, "summary of chunka|chunkb|chunkc|chunkd|chunke|chunkf|chunkg|chunkh|chunki|chunkj", res.Summary)
	require.NoFileExists(t, up.Path)

	items, err := idx.ListAll(context.Background(), "_15550001")
	require.NoError(t, err)
	require.Len(t, items, 7)
	for _, it := range items {
		require.Equal(t, "guide.pdf", it.Source)
		require.Equal(t, "_15550001", it.OwnerID)
		require.NotEmpty(t, it.ID)
	}
}

func TestIngest_AllEmbeddingsFail(t *testing.T) {
	ext := fakeExtractor{pages: []domain.Page{{Number: 1, Text: "a|b"}}}
	emb := flakyEmbedder{fail: map[string]bool{"a": true, "b": true}}
	p, err := NewPipeline(ext, pipeChunker{}, emb, memory.NewStorage(2))
	require.NoError(t, err)

	up := tempUpload(t, "doc.txt")
	res := p.Ingest(context.Background(), up, "owner")
	require.False(t, res.Success)
	require.Zero(t, res.ChunkCount)
	require.Equal(t, 2, res.Failed)
	require.NoFileExists(t, up.Path)
}

func TestIngest_ExtractionFailureRemovesFile(t *testing.T) {
	p, err := NewPipeline(fakeExtractor{err: errors.New("corrupt")}, pipeChunker{}, flakyEmbedder{}, memory.NewStorage(2))
	require.NoError(t, err)

	up := tempUpload(t, "bad.pdf")
	res := p.Ingest(context.Background(), up, "owner")
	require.False(t, res.Success)
	require.Contains(t, res.Message, "corrupt")
	require.NoFileExists(t, up.Path)
}

func TestIngest_NoText(t *testing.T) {
	p, err := NewPipeline(fakeExtractor{}, pipeChunker{}, flakyEmbedder{}, memory.NewStorage(2))
	require.NoError(t, err)

	res := p.Ingest(context.Background(), tempUpload(t, "empty.txt"), "owner")
	require.False(t, res.Success)
	require.Zero(t, res.Total)
}

func TestIngest_RoundTripScopedToOwner(t *testing.T) {
	ext := fakeExtractor{pages: []domain.Page{
		{Number: 1, Text: "refund policy allows returns|shipping takes three days|support answers email"},
		{Number: 2, Text: "refund requests need a receipt|warranty covers one year"},
	}}
	emb := hashing.NewEmbedder(64)
	idx := memory.NewStorage(64)
	p, err := NewPipeline(ext, pipeChunker{}, emb, idx)
	require.NoError(t, err)

	res := p.Ingest(context.Background(), tempUpload(t, "policy.pdf"), "alice")
	require.True(t, res.Success)
	require.Equal(t, 5, res.ChunkCount)

	q, err := emb.Embed(context.Background(), "refund receipt")
	require.NoError(t, err)
	hits, err := idx.Search(context.Background(), q, "alice", 3)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	require.LessOrEqual(t, len(hits), 3)
	for _, h := range hits {
		require.Equal(t, "alice", h.Chunk.OwnerID)
	}

	other, err := idx.Search(context.Background(), q, "bob", 3)
	require.NoError(t, err)
	require.Empty(t, other)
}

type countingSummarizer struct{ got int }

func (c *countingSummarizer) Summarize(_ string, n int) string {
	c.got = n
	return "s"
}

func TestIngest_SummarySentences(t *testing.T) {
	sum := &countingSummarizer{}
	ext := fakeExtractor{pages: []domain.Page{{Number: 1, Text: "a|b"}}}
	p, err := NewPipeline(ext, pipeChunker{}, flakyEmbedder{}, memory.NewStorage(2),
		WithSummarizer(sum), WithSummarySentences(5))
	require.NoError(t, err)

	res := p.Ingest(context.Background(), tempUpload(t, "notes.txt"), "+1555")
	require.True(t, res.Success)
	require.Equal(t, 5, sum.got)
}
