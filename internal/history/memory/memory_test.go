package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/dockling/internal/history"
	"github.com/JakeFAU/dockling/internal/tracker"
)

func TestRepositoryLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := New()
	id := uuid.New()
	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, repo.StartRun(ctx, id, start, 5))
	require.Error(t, repo.StartRun(ctx, id, start, 5))

	run, err := repo.GetRun(ctx, id)
	require.NoError(t, err)
	require.Equal(t, history.RunRunning, run.Status)
	require.Nil(t, run.FinishedAt)

	msg := "engine crashed"
	require.NoError(t, repo.FinishRun(ctx, id, history.Outcome{
		FinishedAt:   start.Add(time.Minute),
		Status:       history.RunError,
		Stats:        tracker.Stats{Success: 1, Failed: 1},
		ErrorMessage: &msg,
	}))
	msg = "mutated"

	run, err = repo.GetRun(ctx, id)
	require.NoError(t, err)
	require.Equal(t, history.RunError, run.Status)
	require.True(t, run.Status.Finished())
	require.Equal(t, start.Add(time.Minute), *run.FinishedAt)
	require.Equal(t, "engine crashed", *run.ErrorMessage)
	require.Equal(t, tracker.Stats{Success: 1, Failed: 1}, run.Stats)
}

func TestRepositoryNotFound(t *testing.T) {
	t.Parallel()

	repo := New()
	_, err := repo.GetRun(context.Background(), uuid.New())
	require.ErrorIs(t, err, history.ErrNotFound)
	err = repo.FinishRun(context.Background(), uuid.New(), history.Outcome{Status: history.RunComplete})
	require.ErrorIs(t, err, history.ErrNotFound)
}

func TestListRunsOrdersAndPages(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := New()
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	ids := make([]uuid.UUID, 3)
	for i := range ids {
		ids[i] = uuid.New()
		require.NoError(t, repo.StartRun(ctx, ids[i], base.Add(time.Duration(i)*time.Hour), i))
	}
	require.NoError(t, repo.FinishRun(ctx, ids[0], history.Outcome{Status: history.RunComplete, FinishedAt: base}))

	all, err := repo.ListRuns(ctx, nil, 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, ids[2], all[0].ID)
	require.Equal(t, ids[0], all[2].ID)

	page, err := repo.ListRuns(ctx, nil, 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Equal(t, ids[1], page[0].ID)

	complete := history.RunComplete
	filtered, err := repo.ListRuns(ctx, &complete, 10, 0)
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	require.Equal(t, ids[0], filtered[0].ID)

	empty, err := repo.ListRuns(ctx, nil, 10, 10)
	require.NoError(t, err)
	require.Empty(t, empty)
}
