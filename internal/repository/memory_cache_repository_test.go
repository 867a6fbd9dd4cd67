package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/movement-gateway/pkg/errors"
)

func TestMemoryCacheRepositoryTags(t *testing.T) {
	repo := NewMemoryCacheRepository()
	ctx := context.Background()

	require.NoError(t, repo.Set(ctx, "list:page1", []string{"a"}, 0, "MDA:LIST"))
	require.NoError(t, repo.Set(ctx, "detail:7", map[string]int{"id": 7}, 0, "MDA:7"))
	require.NoError(t, repo.Set(ctx, "pending", []string{"x"}, 0, "PendingMDA:LIST"))

	var out []string
	require.NoError(t, repo.Get(ctx, "list:page1", &out))
	require.Equal(t, []string{"a"}, out)

	n, err := repo.InvalidateTags(ctx, "MDA:LIST", "MDA:7")
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.ErrorIs(t, repo.Get(ctx, "list:page1", &out), appErrors.ErrCacheMiss)
	require.Equal(t, 1, repo.Len())
}

func TestMemoryCacheRepositoryExpiry(t *testing.T) {
	repo := NewMemoryCacheRepository()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return now }

	require.NoError(t, repo.Set(context.Background(), "k", 1, time.Minute))
	var v int
	require.NoError(t, repo.Get(context.Background(), "k", &v))

	now = now.Add(2 * time.Minute)
	require.ErrorIs(t, repo.Get(context.Background(), "k", &v), appErrors.ErrCacheMiss)
}

func TestMemoryCacheRepositorySweepsOnWrite(t *testing.T) {
	repo := NewMemoryCacheRepository()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return now }
	ctx := context.Background()

	for _, key := range []string{"list:1", "list:2", "list:3"} {
		require.NoError(t, repo.Set(ctx, key, 1, time.Minute, "MDA:LIST", "user:"+key))
	}
	require.NoError(t, repo.Set(ctx, "draft:1", 1, time.Hour, "draft"))
	require.NoError(t, repo.Delete(ctx, "draft:1"))
	require.Equal(t, 3, repo.Len())

	now = now.Add(2 * time.Minute)
	require.NoError(t, repo.Set(ctx, "detail:7", 7, time.Minute, "MDA:7"))
	require.Equal(t, 1, repo.Len())
	require.Len(t, repo.tags, 1)
	require.Contains(t, repo.tags, "MDA:7")

	now = now.Add(30 * time.Second)
	require.NoError(t, repo.Set(ctx, "detail:8", 8, time.Minute, "MDA:8"))
	require.Equal(t, 2, repo.Len())
}
