package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/traceline-io/traceline/pkg/models"
	"github.com/traceline-io/traceline/pkg/store"
)

func TestReclaimerRequeuesStaleRunningJobs(t *testing.T) {
	mem := store.NewMemory()
	stale := time.Now().UTC().Add(-30 * time.Minute)

	stranded := enqueueTestJob(t, mem, &models.Job{Status: models.JobRunning, UpdatedAt: stale})
	active := enqueueTestJob(t, mem, &models.Job{Status: models.JobRunning})
	done := enqueueTestJob(t, mem, &models.Job{Status: models.JobCompleted, UpdatedAt: stale})

	r := NewReclaimer(mem, 15*time.Minute, time.Hour)
	r.Start(context.Background())
	defer r.Stop()

	require.Eventually(t, func() bool {
		j, ok := jobByID(mem, stranded.JobID)
		return ok && j.Status == models.JobPending
	}, 2*time.Second, 10*time.Millisecond, "the initial sweep should requeue the stranded job")

	requeued, ok := jobByID(mem, stranded.JobID)
	require.True(t, ok)
	assert.False(t, requeued.AvailableAt.After(time.Now().UTC()), "requeued job is claimable immediately")

	stillRunning, ok := jobByID(mem, active.JobID)
	require.True(t, ok)
	assert.Equal(t, models.JobRunning, stillRunning.Status, "a recently touched job stays with its worker")

	finished, ok := jobByID(mem, done.JobID)
	require.True(t, ok)
	assert.Equal(t, models.JobCompleted, finished.Status, "terminal jobs are never requeued")
}

func TestReclaimerDisabledWithoutThreshold(t *testing.T) {
	mem := store.NewMemory()
	stale := time.Now().UTC().Add(-48 * time.Hour)
	stranded := enqueueTestJob(t, mem, &models.Job{Status: models.JobRunning, UpdatedAt: stale})

	r := NewReclaimer(mem, 0, time.Minute)
	r.Start(context.Background())
	r.Stop()

	j, ok := jobByID(mem, stranded.JobID)
	require.True(t, ok)
	assert.Equal(t, models.JobRunning, j.Status, "a zero threshold disables reclamation entirely")
}
