package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/traceline-io/traceline/pkg/models"
	"github.com/traceline-io/traceline/pkg/store"
)

func TestReplayService_CreateReplaySession(t *testing.T) {
	ctx := context.Background()

	t.Run("records session job and audit entry", func(t *testing.T) {
		mem := store.NewMemory()
		source := seedTerminalRun(t, mem)
		svc := NewReplayService(mem)

		session, err := svc.CreateReplaySession(ctx, models.CreateReplayRequest{
			SourceRunID: source.RunID,
		}, AnonymousActor)
		require.NoError(t, err)
		assert.NotEmpty(t, session.ReplaySessionID)
		assert.Equal(t, source.RunID, session.SourceRunID)
		assert.Equal(t, models.ReplayPending, session.Status)
		assert.Nil(t, session.ForkStepID)

		jobs := mem.Jobs()
		require.Len(t, jobs, 1)
		assert.Equal(t, models.JobTypeReplayExecute, jobs[0].JobType)
		assert.Equal(t, models.JobPending, jobs[0].Status)
		assert.Equal(t, session.ReplaySessionID, jobs[0].Payload["replay_session_id"])

		audits := mem.Audits()
		require.Len(t, audits, 1)
		assert.Equal(t, models.AuditReplayCreated, audits[0].Action)
		assert.Equal(t, session.ReplaySessionID, audits[0].TargetID)
		assert.Equal(t, AnonymousActor.ID, audits[0].ActorID)
	})

	t.Run("normalizes empty fork step to nil", func(t *testing.T) {
		mem := store.NewMemory()
		source := seedTerminalRun(t, mem)
		svc := NewReplayService(mem)

		empty := ""
		session, err := svc.CreateReplaySession(ctx, models.CreateReplayRequest{
			SourceRunID: source.RunID,
			ForkStepID:  &empty,
		}, AnonymousActor)
		require.NoError(t, err)
		assert.Nil(t, session.ForkStepID)
	})

	t.Run("accepts fork step belonging to the source run", func(t *testing.T) {
		mem := store.NewMemory()
		source := seedTerminalRun(t, mem)
		svc := NewReplayService(mem)

		fork := "step-1"
		session, err := svc.CreateReplaySession(ctx, models.CreateReplayRequest{
			SourceRunID: source.RunID,
			ForkStepID:  &fork,
		}, AnonymousActor)
		require.NoError(t, err)
		require.NotNil(t, session.ForkStepID)
		assert.Equal(t, "step-1", *session.ForkStepID)
	})

	t.Run("requires source_run_id", func(t *testing.T) {
		svc := NewReplayService(store.NewMemory())
		_, err := svc.CreateReplaySession(ctx, models.CreateReplayRequest{}, AnonymousActor)
		svcErr, ok := AsServiceError(err)
		require.True(t, ok)
		assert.Equal(t, CodeValidationError, svcErr.Code)
	})

	t.Run("unknown source run is NOT_FOUND", func(t *testing.T) {
		svc := NewReplayService(store.NewMemory())
		_, err := svc.CreateReplaySession(ctx, models.CreateReplayRequest{
			SourceRunID: "missing",
		}, AnonymousActor)
		svcErr, ok := AsServiceError(err)
		require.True(t, ok)
		assert.Equal(t, CodeNotFound, svcErr.Code)
	})

	t.Run("rejects a source run that is still running", func(t *testing.T) {
		mem := store.NewMemory()
		ingestion := NewIngestionService(mem)
		running := newTestRun(t, ingestion)
		svc := NewReplayService(mem)

		_, err := svc.CreateReplaySession(ctx, models.CreateReplayRequest{
			SourceRunID: running.RunID,
		}, AnonymousActor)
		svcErr, ok := AsServiceError(err)
		require.True(t, ok)
		assert.Equal(t, CodeValidationError, svcErr.Code)
		assert.Equal(t, "Source run must be terminal before replay", svcErr.Message)

		assert.Empty(t, mem.Jobs(), "rejected request must not enqueue a job")
		assert.Empty(t, mem.Audits(), "rejected request must not leave an audit entry")
	})

	t.Run("rejects fork step that is unknown", func(t *testing.T) {
		mem := store.NewMemory()
		source := seedTerminalRun(t, mem)
		svc := NewReplayService(mem)

		fork := "no-such-step"
		_, err := svc.CreateReplaySession(ctx, models.CreateReplayRequest{
			SourceRunID: source.RunID,
			ForkStepID:  &fork,
		}, AnonymousActor)
		svcErr, ok := AsServiceError(err)
		require.True(t, ok)
		assert.Equal(t, CodeValidationError, svcErr.Code)
	})

	t.Run("rejects fork step from a different run", func(t *testing.T) {
		mem := store.NewMemory()
		source := seedTerminalRun(t, mem)

		ingestion := NewIngestionService(mem)
		other := newTestRun(t, ingestion)
		mustIngest(t, ingestion, other.RunID, other.RunID+":0",
			testEvent(other.RunID, "other-step-0", models.EventRunStarted, 0, nil))
		mustIngest(t, ingestion, other.RunID, other.RunID+":1",
			testEvent(other.RunID, "other-step-1", models.EventRunCompleted, 1, nil))

		svc := NewReplayService(mem)
		fork := "other-step-0"
		_, err := svc.CreateReplaySession(ctx, models.CreateReplayRequest{
			SourceRunID: source.RunID,
			ForkStepID:  &fork,
		}, AnonymousActor)
		svcErr, ok := AsServiceError(err)
		require.True(t, ok)
		assert.Equal(t, CodeValidationError, svcErr.Code)
	})
}

func TestReplayService_GetReplaySession(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	source := seedTerminalRun(t, mem)
	svc := NewReplayService(mem)

	created, err := svc.CreateReplaySession(ctx, models.CreateReplayRequest{
		SourceRunID: source.RunID,
	}, AnonymousActor)
	require.NoError(t, err)

	loaded, err := svc.GetReplaySession(ctx, created.ReplaySessionID)
	require.NoError(t, err)
	assert.Equal(t, created.ReplaySessionID, loaded.ReplaySessionID)

	_, err = svc.GetReplaySession(ctx, "missing")
	svcErr, ok := AsServiceError(err)
	require.True(t, ok)
	assert.Equal(t, CodeNotFound, svcErr.Code)
}

func TestReplayService_CancelReplaySession(t *testing.T) {
	ctx := context.Background()

	t.Run("fails a pending session immediately", func(t *testing.T) {
		mem := store.NewMemory()
		source := seedTerminalRun(t, mem)
		svc := NewReplayService(mem)

		created, err := svc.CreateReplaySession(ctx, models.CreateReplayRequest{
			SourceRunID: source.RunID,
		}, AnonymousActor)
		require.NoError(t, err)

		cancelled, err := svc.CancelReplaySession(ctx, created.ReplaySessionID, AnonymousActor)
		require.NoError(t, err)
		assert.True(t, cancelled.CancelRequested)
		assert.Equal(t, models.ReplayFailedExecution, cancelled.Status)
		require.NotNil(t, cancelled.FailureReasonCode)
		assert.Equal(t, models.ReasonCancelRequested, *cancelled.FailureReasonCode)
		require.NotNil(t, cancelled.EndedAt)

		audits := mem.Audits()
		require.Len(t, audits, 2, "creation plus cancellation")
		assert.Equal(t, models.AuditReplayCancelled, audits[1].Action)
	})

	t.Run("leaves a finished session's status alone", func(t *testing.T) {
		mem := store.NewMemory()
		source := seedTerminalRun(t, mem)
		svc := NewReplayService(mem)

		created, err := svc.CreateReplaySession(ctx, models.CreateReplayRequest{
			SourceRunID: source.RunID,
		}, AnonymousActor)
		require.NoError(t, err)

		created.Status = models.ReplayCompletedExact
		now := time.Now().UTC()
		created.EndedAt = &now
		require.NoError(t, mem.UpdateReplaySession(ctx, created))

		cancelled, err := svc.CancelReplaySession(ctx, created.ReplaySessionID, AnonymousActor)
		require.NoError(t, err)
		assert.Equal(t, models.ReplayCompletedExact, cancelled.Status)
		assert.Nil(t, cancelled.FailureReasonCode)
		assert.True(t, cancelled.CancelRequested, "the flag is recorded even after completion")
	})

	t.Run("unknown session is NOT_FOUND", func(t *testing.T) {
		svc := NewReplayService(store.NewMemory())
		_, err := svc.CancelReplaySession(ctx, "missing", AnonymousActor)
		svcErr, ok := AsServiceError(err)
		require.True(t, ok)
		assert.Equal(t, CodeNotFound, svcErr.Code)
	})
}
