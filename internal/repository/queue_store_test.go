package repository

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"AlertGate/internal/domain/models"
	"AlertGate/internal/domain/repository"
	"AlertGate/pkg/queue"
)

func queueStores(t *testing.T) map[string]repository.QueueStore {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return map[string]repository.QueueStore{
		"memory": NewMemoryQueueStore(),
		"gorm":   NewGormQueueStore(openTestDB(t)),
		"redis":  NewRedisQueueStore(queue.NewRedisQueue(client, queue.WithKeyPrefix("test:queue"))),
	}
}

func entryAt(strategy string, at time.Time) models.QueueEntry {
	c := models.ScoredCandidate{
		Candidate: models.Candidate{Strategy: strategy, Tier: models.TierBackground, Confidence: 70, Direction: models.Long, DetectedAt: at},
		Score:     55,
	}
	return models.NewQueueEntry(models.SingleUnit(c), at, 0)
}

func TestQueueStores_Lifecycle(t *testing.T) {
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	for name, store := range queueStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			older := entryAt("Range Trading", base)
			newer := entryAt("Scalping", base.Add(time.Minute))
			later := entryAt("Mean Reversion", base.Add(time.Hour))
			for _, e := range []models.QueueEntry{newer, later, older} {
				require.NoError(t, store.Insert(ctx, e))
			}

			claimed, err := store.ClaimReady(ctx, base.Add(2*time.Minute), 10)
			require.NoError(t, err)
			require.Len(t, claimed, 2)
			assert.Equal(t, older.ID, claimed[0].ID)
			assert.Equal(t, newer.ID, claimed[1].ID)
			assert.Equal(t, models.EntryInFlight, claimed[0].State)
			assert.Equal(t, "Range Trading", claimed[0].Unit.Strategy())

			again, err := store.ClaimReady(ctx, base.Add(2*time.Minute), 10)
			require.NoError(t, err)
			assert.Empty(t, again)

			sent := claimed[0]
			sent.State = models.EntrySent
			sent.UpdatedAt = base.Add(3 * time.Minute)
			require.NoError(t, store.Update(ctx, sent))

			failed := claimed[1]
			failed.State = models.EntryFailed
			failed.RetryCount = 3
			failed.LastError = "sink down"
			failed.UpdatedAt = base.Add(4 * time.Minute)
			require.NoError(t, store.Update(ctx, failed))

			counts, err := store.Counts(ctx)
			require.NoError(t, err)
			assert.Equal(t, models.QueueCounts{Pending: 1, Sent: 1, Failed: 1}, counts)

			list, err := store.ListFailed(ctx, 10)
			require.NoError(t, err)
			require.Len(t, list, 1)
			assert.Equal(t, failed.ID, list[0].ID)
			assert.Equal(t, "sink down", list[0].LastError)
			assert.Equal(t, 3, list[0].RetryCount)

			got, err := store.Get(ctx, sent.ID)
			require.NoError(t, err)
			assert.Equal(t, models.EntrySent, got.State)

			_, err = store.Get(ctx, "missing")
			assert.ErrorIs(t, err, models.ErrNotFound)
		})
	}
}

func TestQueueStores_ClaimRespectsMax(t *testing.T) {
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	for name, store := range queueStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for i := 0; i < 5; i++ {
				require.NoError(t, store.Insert(ctx, entryAt("Scalping", base.Add(time.Duration(i)*time.Second))))
			}
			claimed, err := store.ClaimReady(ctx, base.Add(time.Minute), 3)
			require.NoError(t, err)
			assert.Len(t, claimed, 3)
		})
	}
}

func TestQueueStores_RequeueInFlight(t *testing.T) {
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	for name, store := range queueStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			e := entryAt("Scalping", base)
			require.NoError(t, store.Insert(ctx, e))
			_, err := store.ClaimReady(ctx, base, 1)
			require.NoError(t, err)

			n, err := store.RequeueInFlight(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, n)

			claimed, err := store.ClaimReady(ctx, base, 1)
			require.NoError(t, err)
			require.Len(t, claimed, 1)
			assert.Equal(t, e.ID, claimed[0].ID)
		})
	}
}
