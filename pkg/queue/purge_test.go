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

func TestPurgerSweepsCompletedJobs(t *testing.T) {
	mem := store.NewMemory()
	old := time.Now().UTC().Add(-2 * time.Hour)

	enqueueTestJob(t, mem, &models.Job{Status: models.JobCompleted, UpdatedAt: old})
	fresh := enqueueTestJob(t, mem, &models.Job{Status: models.JobCompleted})
	stuck := enqueueTestJob(t, mem, &models.Job{Status: models.JobPending, UpdatedAt: old})

	p := NewPurger(mem, time.Hour, time.Hour)
	p.Start(context.Background())
	defer p.Stop()

	require.Eventually(t, func() bool {
		return len(mem.Jobs()) == 2
	}, 2*time.Second, 10*time.Millisecond, "the initial sweep should remove the old completed job")

	var remaining []int64
	for _, j := range mem.Jobs() {
		remaining = append(remaining, j.JobID)
	}
	assert.ElementsMatch(t, []int64{fresh.JobID, stuck.JobID}, remaining,
		"recent completions and non-completed jobs survive")
}

func TestPurgerDisabledWithoutRetention(t *testing.T) {
	mem := store.NewMemory()
	old := time.Now().UTC().Add(-48 * time.Hour)
	enqueueTestJob(t, mem, &models.Job{Status: models.JobCompleted, UpdatedAt: old})

	p := NewPurger(mem, 0, time.Minute)
	p.Start(context.Background())
	p.Stop()

	assert.Len(t, mem.Jobs(), 1, "a zero retention disables purging entirely")
}
