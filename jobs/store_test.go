package jobs

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/researchintegrity/elis-backend/errors"
	elistesting "github.com/researchintegrity/elis-backend/internal/testing"
)

func createTestJob(t *testing.T, store *Store, owner string) *Job {
	t.Helper()

	job, err := NewJob("provenance.analyze", owner, json.RawMessage(`{"query_image_id":"img-1"}`))
	require.NoError(t, err)
	require.NoError(t, store.CreateJob(job))
	return job
}

func TestStoreCreateAndGet(t *testing.T) {
	db := elistesting.CreateTestDB(t)
	store := NewStore(db)

	job := createTestJob(t, store, "alice")

	got, err := store.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, "provenance.analyze", got.HandlerName)
	assert.Equal(t, "alice", got.Owner)
	assert.Equal(t, JobStatusPending, got.Status)
	assert.JSONEq(t, `{"query_image_id":"img-1"}`, string(got.Payload))
}

func TestStoreGetMissing(t *testing.T) {
	db := elistesting.CreateTestDB(t)
	store := NewStore(db)

	_, err := store.GetJob("no-such-job")
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))
}

func TestStoreUpdate(t *testing.T) {
	db := elistesting.CreateTestDB(t)
	store := NewStore(db)

	job := createTestJob(t, store, "alice")
	job.Start()
	job.UpdateProgress(Progress{Current: 2, Total: 8, MatchedPairs: 1, ElapsedMS: 420, Message: "retrieving candidates"})
	require.NoError(t, store.UpdateJob(job))

	got, err := store.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusProcessing, got.Status)
	assert.Equal(t, 2, got.Progress.Current)
	assert.Equal(t, 1, got.Progress.MatchedPairs)
	assert.Equal(t, int64(420), got.Progress.ElapsedMS)
	assert.Equal(t, "retrieving candidates", got.Progress.Message)
	require.NotNil(t, got.StartedAt)

	job.Complete(json.RawMessage(`{"nodes":["img-1"]}`))
	require.NoError(t, store.UpdateJob(job))

	got, err = store.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusCompleted, got.Status)
	assert.JSONEq(t, `{"nodes":["img-1"]}`, string(got.Result))
	require.NotNil(t, got.CompletedAt)
}

func TestStoreListJobsOwnerScope(t *testing.T) {
	db := elistesting.CreateTestDB(t)
	store := NewStore(db)

	createTestJob(t, store, "alice")
	createTestJob(t, store, "alice")
	createTestJob(t, store, "bob")

	aliceJobs, err := store.ListJobs(nil, "alice", 10)
	require.NoError(t, err)
	assert.Len(t, aliceJobs, 2)

	allJobs, err := store.ListJobs(nil, "", 10)
	require.NoError(t, err)
	assert.Len(t, allJobs, 3)

	pending := JobStatusPending
	pendingBob, err := store.ListJobs(&pending, "bob", 10)
	require.NoError(t, err)
	assert.Len(t, pendingBob, 1)
}

func TestStoreNextPendingJobFIFO(t *testing.T) {
	db := elistesting.CreateTestDB(t)
	store := NewStore(db)

	first := createTestJob(t, store, "alice")
	// Force distinct created_at ordering; SQLite timestamp precision can
	// collapse two inserts in the same microsecond.
	_, err := db.Exec("UPDATE analysis_jobs SET created_at = ? WHERE id = ?", time.Now().Add(-time.Minute), first.ID)
	require.NoError(t, err)
	createTestJob(t, store, "alice")

	next, err := store.NextPendingJob()
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, first.ID, next.ID)
}

func TestStoreNextPendingJobEmpty(t *testing.T) {
	db := elistesting.CreateTestDB(t)
	store := NewStore(db)

	next, err := store.NextPendingJob()
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestStoreDeleteJob(t *testing.T) {
	db := elistesting.CreateTestDB(t)
	store := NewStore(db)

	job := createTestJob(t, store, "alice")
	require.NoError(t, store.DeleteJob(job.ID))

	err := store.DeleteJob(job.ID)
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))
}

func TestStoreCleanupOldJobs(t *testing.T) {
	db := elistesting.CreateTestDB(t)
	store := NewStore(db)

	oldJob := createTestJob(t, store, "alice")
	oldJob.Complete(nil)
	require.NoError(t, store.UpdateJob(oldJob))
	_, err := db.Exec("UPDATE analysis_jobs SET updated_at = ? WHERE id = ?",
		time.Now().Add(-48*time.Hour), oldJob.ID)
	require.NoError(t, err)

	// Recent terminal job and an active job both survive cleanup
	recentJob := createTestJob(t, store, "alice")
	recentJob.Fail(errors.New("boom"))
	require.NoError(t, store.UpdateJob(recentJob))
	activeJob := createTestJob(t, store, "alice")

	removed, err := store.CleanupOldJobs(24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = store.GetJob(oldJob.ID)
	assert.True(t, errors.IsNotFoundError(err))
	_, err = store.GetJob(recentJob.ID)
	assert.NoError(t, err)
	_, err = store.GetJob(activeJob.ID)
	assert.NoError(t, err)
}

func TestStoreCreateJobDatabaseError(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	mock.ExpectExec("INSERT INTO analysis_jobs").
		WillReturnError(errors.New("disk I/O error"))

	store := NewStore(mockDB)
	job, err := NewJob("provenance.analyze", "alice", nil)
	require.NoError(t, err)

	err = store.CreateJob(job)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create job")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreCleanupDatabaseError(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	mock.ExpectExec("DELETE FROM analysis_jobs").
		WillReturnError(errors.New("database is locked"))

	store := NewStore(mockDB)
	_, err = store.CleanupOldJobs(time.Hour)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to cleanup old jobs")
	assert.NoError(t, mock.ExpectationsWereMet())
}
