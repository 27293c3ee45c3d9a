package memory

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"relay/internal/domain"
)

func chunk(owner, id string, vec ...float32) domain.DocumentChunk {
	return domain.DocumentChunk{ID: id, OwnerID: owner, Source: "doc.pdf", Page: 1, Text: "text " + id, Vector: vec}
}

func TestSearch_OwnerIsolation(t *testing.T) {
	ctx := context.Background()
	s := NewStorage(2)
	n, err := s.Upsert(ctx, []domain.DocumentChunk{
		chunk("alice", "a1", 0, 1),
		chunk("bob", "b1", 1, 0), // identical to the query
	})
	require.NoError(t, err)
	require.Equal(t, 2, n)

	res, err := s.Search(ctx, []float32{1, 0}, "alice", 10)
	require.NoError(t, err)
	require.Len(t, res, 1)
	require.Equal(t, "a1", res[0].Chunk.ID)
	require.Equal(t, "alice", res[0].Chunk.OwnerID)
}

func TestSearch_RankedAndLimited(t *testing.T) {
	ctx := context.Background()
	s := NewStorage(2)
	_, err := s.Upsert(ctx, []domain.DocumentChunk{
		chunk("o", "low", 0, 1),
		chunk("o", "high", 1, 0),
		chunk("o", "mid", 1, 1),
	})
	require.NoError(t, err)

	res, err := s.Search(ctx, []float32{1, 0}, "o", 2)
	require.NoError(t, err)
	require.Len(t, res, 2)
	require.Equal(t, "high", res[0].Chunk.ID)
	require.Equal(t, "mid", res[1].Chunk.ID)
	require.Greater(t, res[0].Score, res[1].Score)
}

func TestSearch_NormalizesOwner(t *testing.T) {
	ctx := context.Background()
	s := NewStorage(2)
	_, err := s.Upsert(ctx, []domain.DocumentChunk{chunk("whatsapp:+15550001", "x", 1, 0)})
	require.NoError(t, err)

	res, err := s.Search(ctx, []float32{1, 0}, "+15550001", 3)
	require.NoError(t, err)
	require.Len(t, res, 1)
	require.Equal(t, "_15550001", res[0].Chunk.OwnerID)
}

func TestUpsert_BadBatchIsSkipped(t *testing.T) {
	ctx := context.Background()
	s := NewStorage(2)
	var chunks []domain.DocumentChunk
	for i := 0; i < 10; i++ {
		chunks = append(chunks, chunk("o", fmt.Sprint(i), 1, 0))
	}
	chunks[7].Vector = []float32{1, 0, 0}

	n, err := s.Upsert(ctx, chunks)
	require.NoError(t, err)
	require.Equal(t, 5, n)

	all, err := s.ListAll(ctx, "o")
	require.NoError(t, err)
	require.Len(t, all, 5)
}

func TestUpsert_ReplacesByID(t *testing.T) {
	ctx := context.Background()
	s := NewStorage(2)
	_, err := s.Upsert(ctx, []domain.DocumentChunk{chunk("o", "same", 1, 0)})
	require.NoError(t, err)
	_, err = s.Upsert(ctx, []domain.DocumentChunk{chunk("o", "same", 0, 1)})
	require.NoError(t, err)
	all, err := s.ListAll(ctx, "o")
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestDeleteOwner(t *testing.T) {
	ctx := context.Background()
	s := NewStorage(2)
	_, err := s.Upsert(ctx, []domain.DocumentChunk{chunk("a", "1", 1, 0), chunk("b", "2", 1, 0)})
	require.NoError(t, err)
	require.NoError(t, s.DeleteOwner(ctx, "a"))

	a, _ := s.ListAll(ctx, "a")
	b, _ := s.ListAll(ctx, "b")
	require.Empty(t, a)
	require.Len(t, b, 1)
}

func TestSearch_DimensionMismatch(t *testing.T) {
	s := NewStorage(2)
	_, err := s.Search(context.Background(), []float32{1}, "o", 1)
	require.Error(t, err)
}
