package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/movement-gateway/internal/models"
	"github.com/noah-isme/movement-gateway/internal/repository"
)

func tagNames(tags []Tag) []string {
	out := make([]string, len(tags))
	for i, t := range tags {
		out[i] = t.String()
	}
	return out
}

func TestInvalidationTagsTable(t *testing.T) {
	require.Equal(t, []string{
		"Monitoring/mda:LIST",
		"PendingMDA:LIST",
		"Submission/mda:LIST",
	}, tagNames(InvalidationTags(MutationCreate, models.FormMDA, "")))

	require.Equal(t, []string{
		"Monitoring/mrf:7",
		"Monitoring/mrf:LIST",
		"Submission/mrf:7",
		"Submission/mrf:LIST",
	}, tagNames(InvalidationTags(MutationUpdate, models.FormMRF, "7")))

	require.Contains(t, tagNames(InvalidationTags(MutationApprove, models.FormDataChange, "3")), "PendingMDA:LIST")
	require.NotContains(t, tagNames(InvalidationTags(MutationApprove, models.FormMRF, "3")), "PendingMDA:LIST")
	require.NotContains(t, tagNames(InvalidationTags(MutationCreate, models.FormMRF, "")), "PendingMDA:LIST")
}

func TestCachedReadThroughAndInvalidate(t *testing.T) {
	store := repository.NewMemoryCacheRepository()
	cache := NewCacheService(store, NewMetricsService(), 0, nil, true)
	ctx := context.Background()

	loads := 0
	load := func(context.Context) (*models.Page[models.FormSubmission], error) {
		loads++
		return &models.Page[models.FormSubmission]{Total: loads}, nil
	}
	key := Key("user-1", "me", "mda", "page=1")
	tags := []Tag{ListTag(SubmissionTagType(models.FormMDA))}

	page, err := cached(ctx, cache, key, tags, load)
	require.NoError(t, err)
	require.Equal(t, 1, page.Total)

	page, err = cached(ctx, cache, key, tags, load)
	require.NoError(t, err)
	require.Equal(t, 1, page.Total)
	require.Equal(t, 1, loads)

	require.NoError(t, cache.Invalidate(ctx, MutationCancel, models.FormMDA, "9"))
	page, err = cached(ctx, cache, key, tags, load)
	require.NoError(t, err)
	require.Equal(t, 2, page.Total)

	snap := cache.metrics.Snapshot()
	require.Equal(t, uint64(1), snap.CacheHits)
	require.Equal(t, uint64(2), snap.CacheMisses)
}

func TestCachedSkipsStoreWhenDisabled(t *testing.T) {
	store := repository.NewMemoryCacheRepository()
	cache := NewCacheService(store, nil, 0, nil, false)

	_, err := cached(context.Background(), cache, "k", nil, func(context.Context) (int, error) { return 1, nil })
	require.NoError(t, err)
	require.Zero(t, store.Len())

	_, err = cached(context.Background(), cache, "k", nil, func(context.Context) (int, error) { return 0, errors.New("boom") })
	require.EqualError(t, err, "boom")
}
