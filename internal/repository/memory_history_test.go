package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"AlertGate/internal/domain/models"
)

func TestMemoryHistory_RingDropsOldest(t *testing.T) {
	h := NewMemoryHistory(3)
	ctx := context.Background()
	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, h.Append(ctx, models.HistoryRecord{CandidateID: fmt.Sprint(i), At: base.Add(time.Duration(i) * time.Minute)}))
	}

	recs, err := h.Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, []string{"2", "3", "4"}, []string{recs[0].CandidateID, recs[1].CandidateID, recs[2].CandidateID})

	recs, err = h.Recent(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, "3", recs[0].CandidateID)

	since, err := h.Since(ctx, base.Add(4*time.Minute))
	require.NoError(t, err)
	require.Len(t, since, 1)
	assert.Equal(t, "4", since[0].CandidateID)
}

func TestMemoryHistory_RecordOutcome(t *testing.T) {
	h := NewMemoryHistory(10)
	ctx := context.Background()
	require.NoError(t, h.Append(ctx, models.HistoryRecord{CandidateID: "a"}))

	require.NoError(t, h.RecordOutcome(ctx, "a", true))
	recs, _ := h.Recent(ctx, 1)
	require.NotNil(t, recs[0].Actionable)
	assert.True(t, *recs[0].Actionable)

	assert.ErrorIs(t, h.RecordOutcome(ctx, "zz", false), models.ErrNotFound)
}
