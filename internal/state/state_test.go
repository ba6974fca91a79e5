package state

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"oparl-geo/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestManager(t *testing.T, autoCommit bool) (*Manager, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nested", "state.db")
	m, err := Open(context.Background(), Config{Path: path, AutoCommit: autoCommit}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m, path
}

// stepClock returns a clock that advances one second per call.
func stepClock() func() time.Time {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	n := 0
	return func() time.Time {
		n++
		return base.Add(time.Duration(n) * time.Second)
	}
}

func TestMarkProcessed(t *testing.T) {
	ctx := context.Background()
	m, _ := openTestManager(t, true)

	ok, err := m.IsProcessed(ctx, "paper/1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, m.MarkProcessed(ctx, "paper/1", "paper", models.StatusCompleted, map[string]any{"locations": 3}, ""))
	ok, err = m.IsProcessed(ctx, "paper/1")
	require.NoError(t, err)
	assert.True(t, ok)

	// Replacing keeps a single row per id.
	require.NoError(t, m.MarkProcessed(ctx, "paper/1", "paper", models.StatusFailed, nil, "pdf timeout"))
	completed, err := m.ProcessedIDs(ctx, "paper", models.StatusCompleted)
	require.NoError(t, err)
	assert.Empty(t, completed)

	failed, err := m.FailedResources(ctx, "paper")
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "paper/1", failed[0].ID)
	assert.Equal(t, "pdf timeout", failed[0].ErrorMessage)
	assert.Equal(t, models.StatusFailed, failed[0].Status)
	assert.False(t, failed[0].ProcessedAt.IsZero())
}

func TestMarkBatchProcessed(t *testing.T) {
	ctx := context.Background()
	m, _ := openTestManager(t, true)

	ids := []string{"a", "b", "c"}
	require.NoError(t, m.MarkBatchProcessed(ctx, ids, "paper", models.StatusCompleted))
	require.NoError(t, m.MarkBatchProcessed(ctx, nil, "paper", models.StatusCompleted))

	got, err := m.ProcessedIDs(ctx, "paper", models.StatusCompleted)
	require.NoError(t, err)
	assert.Len(t, got, 3)
	for _, id := range ids {
		assert.Contains(t, got, id)
	}

	other, err := m.ProcessedIDs(ctx, "meeting", models.StatusCompleted)
	require.NoError(t, err)
	assert.Empty(t, other)

	all, err := m.ProcessedIDs(ctx, "", models.StatusCompleted)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestFailedResourcesOrder(t *testing.T) {
	ctx := context.Background()
	m, _ := openTestManager(t, true)
	m.now = stepClock()

	require.NoError(t, m.MarkProcessed(ctx, "old", "paper", models.StatusFailed, nil, "first"))
	require.NoError(t, m.MarkProcessed(ctx, "new", "paper", models.StatusFailed, nil, "second"))
	require.NoError(t, m.MarkProcessed(ctx, "file", "file", models.StatusFailed, nil, "third"))

	failed, err := m.FailedResources(ctx, "paper")
	require.NoError(t, err)
	require.Len(t, failed, 2)
	assert.Equal(t, "new", failed[0].ID)
	assert.Equal(t, "old", failed[1].ID)

	all, err := m.FailedResources(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestCheckpoint(t *testing.T) {
	ctx := context.Background()
	m, _ := openTestManager(t, true)
	m.now = stepClock()

	_, err := m.LastCheckpoint(ctx, "paper")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, m.MarkBatchProcessed(ctx, []string{"1", "2"}, "paper", models.StatusCompleted))
	require.NoError(t, m.MarkProcessed(ctx, "3", "paper", models.StatusFailed, nil, "boom"))
	_, err = m.Checkpoint(ctx, "paper", 3, map[string]any{"total_fetched": 3})
	require.NoError(t, err)

	require.NoError(t, m.MarkBatchProcessed(ctx, []string{"4"}, "paper", models.StatusCompleted))
	id, err := m.Checkpoint(ctx, "paper", 1, map[string]any{"total_fetched": 4})
	require.NoError(t, err)

	cp, err := m.LastCheckpoint(ctx, "paper")
	require.NoError(t, err)
	assert.Equal(t, id, cp.ID)
	assert.Equal(t, 1, cp.BatchSize)
	assert.Equal(t, 3, cp.TotalProcessed)

	fields := cp.Fields()
	assert.Equal(t, float64(4), fields["total_fetched"])
	assert.Equal(t, 3, fields["total_processed"])
	assert.Equal(t, "paper", fields["resource_type"])
}

func TestPipelineRuns(t *testing.T) {
	ctx := context.Background()
	m, _ := openTestManager(t, true)
	m.now = stepClock()

	first, err := m.StartPipelineRun(ctx, "augsburg", map[string]any{"batch_size": 50})
	require.NoError(t, err)
	require.NoError(t, m.EndPipelineRun(ctx, first, models.RunCompleted, map[string]any{"completed": 9}))

	second, err := m.StartPipelineRun(ctx, "augsburg", nil)
	require.NoError(t, err)
	assert.Greater(t, second, first)

	runs, err := m.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	assert.Equal(t, second, runs[0].ID)
	assert.Equal(t, models.RunRunning, runs[0].Status)
	assert.Nil(t, runs[0].EndTime)

	assert.Equal(t, first, runs[1].ID)
	assert.Equal(t, models.RunCompleted, runs[1].Status)
	require.NotNil(t, runs[1].EndTime)
	assert.True(t, runs[1].EndTime.After(runs[1].StartTime))
	assert.Equal(t, float64(50), runs[1].Config["batch_size"])
	assert.Equal(t, float64(9), runs[1].Stats["completed"])

	err = m.EndPipelineRun(ctx, 999, models.RunFailed, nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClearFailedAndReset(t *testing.T) {
	ctx := context.Background()
	m, _ := openTestManager(t, true)

	require.NoError(t, m.MarkBatchProcessed(ctx, []string{"1", "2"}, "paper", models.StatusCompleted))
	require.NoError(t, m.MarkProcessed(ctx, "3", "paper", models.StatusFailed, nil, "boom"))
	require.NoError(t, m.MarkProcessed(ctx, "4", "paper", models.StatusFailed, nil, "boom"))

	n, err := m.ClearFailed(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	ok, err := m.IsProcessed(ctx, "3")
	require.NoError(t, err)
	assert.False(t, ok)

	n, err = m.ClearFailed(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = m.Checkpoint(ctx, "paper", 2, nil)
	require.NoError(t, err)
	_, err = m.StartPipelineRun(ctx, "augsburg", nil)
	require.NoError(t, err)

	require.NoError(t, m.Reset(ctx))
	stats, err := m.Statistics(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.TotalCompleted)
	assert.Empty(t, stats.ByResourceType)
	assert.Empty(t, stats.RecentCheckpoints)
	assert.Empty(t, stats.RecentRuns)
}

func TestStatistics(t *testing.T) {
	ctx := context.Background()
	m, _ := openTestManager(t, true)
	m.now = stepClock()

	require.NoError(t, m.MarkBatchProcessed(ctx, []string{"1", "2", "3"}, "paper", models.StatusCompleted))
	require.NoError(t, m.MarkProcessed(ctx, "4", "paper", models.StatusFailed, nil, "boom"))
	require.NoError(t, m.MarkProcessed(ctx, "f1", "file", models.StatusCompleted, nil, ""))
	for i := 0; i < 7; i++ {
		_, err := m.Checkpoint(ctx, "paper", 1, nil)
		require.NoError(t, err)
	}

	stats, err := m.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.TotalCompleted)
	assert.Equal(t, 1, stats.TotalFailed)
	assert.Equal(t, 3, stats.ByResourceType["paper"][models.StatusCompleted])
	assert.Equal(t, 1, stats.ByResourceType["paper"][models.StatusFailed])
	assert.Equal(t, 1, stats.ByResourceType["file"][models.StatusCompleted])
	require.Len(t, stats.RecentCheckpoints, 5)
	assert.True(t, stats.RecentCheckpoints[0].ID > stats.RecentCheckpoints[4].ID)
}

func TestPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.db")

	m, err := Open(ctx, Config{Path: path, AutoCommit: true}, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, m.MarkProcessed(ctx, "paper/1", "paper", models.StatusCompleted, nil, ""))
	require.NoError(t, m.Close())

	m, err = Open(ctx, Config{Path: path, AutoCommit: true}, zerolog.Nop())
	require.NoError(t, err)
	defer m.Close()

	ok, err := m.IsProcessed(ctx, "paper/1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestBatchModeCommit(t *testing.T) {
	ctx := context.Background()
	m, path := openTestManager(t, false)

	require.NoError(t, m.MarkProcessed(ctx, "paper/1", "paper", models.StatusCompleted, nil, ""))
	require.NoError(t, m.MarkBatchProcessed(ctx, []string{"paper/2"}, "paper", models.StatusCompleted))

	// Pending writes are visible to this manager before Commit.
	ids, err := m.ProcessedIDs(ctx, "paper", models.StatusCompleted)
	require.NoError(t, err)
	assert.Len(t, ids, 2)

	require.NoError(t, m.Commit())
	require.NoError(t, m.Commit())
	require.NoError(t, m.Close())

	reopened, err := Open(ctx, Config{Path: path, AutoCommit: true}, zerolog.Nop())
	require.NoError(t, err)
	defer reopened.Close()

	ids, err = reopened.ProcessedIDs(ctx, "paper", models.StatusCompleted)
	require.NoError(t, err)
	assert.Len(t, ids, 2)
}

func TestBatchModeRunSurvivesCancel(t *testing.T) {
	m, path := openTestManager(t, false)
	ctx, cancel := context.WithCancel(context.Background())

	runID, err := m.StartPipelineRun(ctx, "augsburg", nil)
	require.NoError(t, err)
	require.NoError(t, m.MarkProcessed(ctx, "paper/1", "paper", models.StatusCompleted, nil, ""))

	cancel()

	// A write on the cancelled context fails and drops only the pending batch.
	err = m.MarkProcessed(ctx, "paper/2", "paper", models.StatusCompleted, nil, "")
	assert.ErrorIs(t, err, context.Canceled)

	require.NoError(t, m.EndPipelineRun(context.WithoutCancel(ctx), runID, models.RunFailed, map[string]any{"papers_processed": 1}))
	require.NoError(t, m.Close())

	reopened, err := Open(context.Background(), Config{Path: path, AutoCommit: true}, zerolog.Nop())
	require.NoError(t, err)
	defer reopened.Close()

	runs, err := reopened.ListRuns(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, runID, runs[0].ID)
	assert.Equal(t, models.RunFailed, runs[0].Status)
	assert.NotNil(t, runs[0].EndTime)

	ok, err := reopened.IsProcessed(context.Background(), "paper/2")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBatchModeStartRunCommitsImmediately(t *testing.T) {
	ctx := context.Background()
	m, path := openTestManager(t, false)

	require.NoError(t, m.MarkProcessed(ctx, "paper/1", "paper", models.StatusCompleted, nil, ""))
	_, err := m.StartPipelineRun(ctx, "augsburg", map[string]any{"batch_size": 5})
	require.NoError(t, err)

	// A second connection sees the run and the write that preceded it.
	other, err := Open(ctx, Config{Path: path, AutoCommit: true}, zerolog.Nop())
	require.NoError(t, err)
	defer other.Close()

	runs, err := other.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, models.RunRunning, runs[0].Status)

	ok, err := other.IsProcessed(ctx, "paper/1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(context.Background(), Config{}, zerolog.Nop())
	assert.Error(t, err)
}
