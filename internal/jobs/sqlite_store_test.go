package jobs

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jo-hoe/postpainter/internal/cms"
)

func newMemoryStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStore_RunLifecycle(t *testing.T) {
	store := newMemoryStore(t)
	now := time.Now().UTC().Truncate(time.Second)

	run := &Run{ID: "run-1", TotalPosts: 5, Backlog: 3, CallbackURL: "http://example.com/cb", CreatedAt: now}
	require.NoError(t, store.CreateRun(run))
	assert.Equal(t, RunRunning, run.Status)

	done := now.Add(time.Minute)
	run.Status = RunCompleted
	run.Succeeded = 2
	run.Failed = 1
	run.CompletedAt = &done
	require.NoError(t, store.UpdateRun(run))

	got, err := store.GetRun("run-1")
	require.NoError(t, err)
	assert.Equal(t, RunCompleted, got.Status)
	assert.Equal(t, 5, got.TotalPosts)
	assert.Equal(t, 3, got.Backlog)
	assert.Equal(t, 2, got.Succeeded)
	assert.Equal(t, 1, got.Failed)
	assert.Equal(t, "http://example.com/cb", got.CallbackURL)
	assert.True(t, got.CreatedAt.Equal(now))
	require.NotNil(t, got.CompletedAt)
	assert.True(t, got.CompletedAt.Equal(done))
}

func TestSQLiteStore_MissingRows(t *testing.T) {
	store := newMemoryStore(t)

	_, err := store.GetRun("nope")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.GetJob("nope", 1)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, store.UpdateRun(&Run{ID: "nope"}), ErrNotFound)
}

func TestSQLiteStore_SaveJobReplacesSnapshot(t *testing.T) {
	store := newMemoryStore(t)
	require.NoError(t, store.CreateRun(&Run{ID: "r"}))

	post := cms.Post{ID: 42, Title: "Title", Content: "<p>Body</p>", Link: "https://example.com/p/42"}
	job := &Job{RunID: "r", Post: post, Status: StatusPending}
	require.NoError(t, store.SaveJob(job))

	job.Status = StatusSuccess
	job.StatusMessage = "done"
	job.Brief = "a lighthouse at dusk"
	job.AltText = "Lighthouse"
	job.Placement = "ai"
	job.GeneratedImage = &GeneratedImage{URL: "https://example.com/img.png", Alt: "Lighthouse", MediaID: 7, Brief: "a lighthouse at dusk"}
	job.UpdatedAt = time.Now().UTC()
	require.NoError(t, store.SaveJob(job))

	got, err := store.GetJob("r", 42)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, got.Status)
	assert.Equal(t, "done", got.StatusMessage)
	assert.Equal(t, post, got.Post)
	require.NotNil(t, got.GeneratedImage)
	assert.Equal(t, int64(7), got.GeneratedImage.MediaID)
	assert.Nil(t, got.Analysis)

	list, err := store.ListJobs("r")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestSQLiteStore_ListJobsKeepsInsertOrder(t *testing.T) {
	store := newMemoryStore(t)
	for _, id := range []int64{3, 1, 2} {
		require.NoError(t, store.SaveJob(&Job{RunID: "r", Post: cms.Post{ID: id}, Status: StatusPending}))
	}
	require.NoError(t, store.SaveJob(&Job{RunID: "r", Post: cms.Post{ID: 3}, Status: StatusSuccess}))
	require.NoError(t, store.SaveJob(&Job{RunID: "other", Post: cms.Post{ID: 9}, Status: StatusPending}))

	list, err := store.ListJobs("r")
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []int64{3, 1, 2}, []int64{list[0].Post.ID, list[1].Post.ID, list[2].Post.ID})
	assert.Equal(t, StatusSuccess, list[0].Status)
}

func TestSQLiteStore_FileBacked(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	store, err := NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, store.CreateRun(&Run{ID: "r"}))
	require.NoError(t, store.Close())

	reopened, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()
	_, err = reopened.GetRun("r")
	assert.NoError(t, err)
}

func TestSQLiteStore_MemoryStoresAreIsolated(t *testing.T) {
	a := newMemoryStore(t)
	b := newMemoryStore(t)
	require.NoError(t, a.CreateRun(&Run{ID: "r"}))
	_, err := b.GetRun("r")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_RejectsIncompleteJob(t *testing.T) {
	store := newMemoryStore(t)
	assert.Error(t, store.SaveJob(nil))
	assert.Error(t, store.SaveJob(&Job{Post: cms.Post{ID: 1}}))
	assert.Error(t, store.SaveJob(&Job{RunID: "r"}))
}
