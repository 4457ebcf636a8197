package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/traceline-io/traceline/pkg/models"
)

// Memory is an in-process Store used by unit tests. A single mutex
// serializes all access; WithTx snapshots the state and restores it when fn
// returns an error, mirroring transactional rollback.
type Memory struct {
	mu sync.Mutex
	tx memoryTx
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{tx: memoryTx{state: newMemoryState()}}
}

type memoryState struct {
	runs      map[string]models.Run
	steps     map[string]models.Step
	events    []models.Event
	artifacts map[string]models.Artifact
	links     []models.EventArtifact
	sessions  map[string]models.ReplaySession
	jobs      []models.Job
	audits    []models.AuditLog
	nextJobID int64
}

func newMemoryState() *memoryState {
	return &memoryState{
		runs:      map[string]models.Run{},
		steps:     map[string]models.Step{},
		artifacts: map[string]models.Artifact{},
		sessions:  map[string]models.ReplaySession{},
		nextJobID: 1,
	}
}

func (s *memoryState) clone() memoryState {
	out := memoryState{
		runs:      make(map[string]models.Run, len(s.runs)),
		steps:     make(map[string]models.Step, len(s.steps)),
		events:    append([]models.Event(nil), s.events...),
		artifacts: make(map[string]models.Artifact, len(s.artifacts)),
		links:     append([]models.EventArtifact(nil), s.links...),
		sessions:  make(map[string]models.ReplaySession, len(s.sessions)),
		jobs:      append([]models.Job(nil), s.jobs...),
		audits:    append([]models.AuditLog(nil), s.audits...),
		nextJobID: s.nextJobID,
	}
	for k, v := range s.runs {
		out.runs[k] = v
	}
	for k, v := range s.steps {
		out.steps[k] = v
	}
	for k, v := range s.artifacts {
		out.artifacts[k] = v
	}
	for k, v := range s.sessions {
		out.sessions[k] = v
	}
	return out
}

func (m *Memory) WithTx(ctx context.Context, fn func(tx Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	snapshot := m.tx.state.clone()
	if err := fn(&m.tx); err != nil {
		*m.tx.state = snapshot
		return err
	}
	return nil
}

func (m *Memory) CreateRun(ctx context.Context, run *models.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx.CreateRun(ctx, run)
}

func (m *Memory) GetRun(ctx context.Context, runID string) (*models.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx.GetRun(ctx, runID)
}

func (m *Memory) GetRunForUpdate(ctx context.Context, runID string) (*models.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx.GetRunForUpdate(ctx, runID)
}

func (m *Memory) UpdateRunStatus(ctx context.Context, runID, status string, endedAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx.UpdateRunStatus(ctx, runID, status, endedAt)
}

func (m *Memory) ListRuns(ctx context.Context, f RunFilter) ([]*models.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx.ListRuns(ctx, f)
}

func (m *Memory) GetStep(ctx context.Context, stepID string) (*models.Step, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx.GetStep(ctx, stepID)
}

func (m *Memory) CreateStep(ctx context.Context, step *models.Step) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx.CreateStep(ctx, step)
}

func (m *Memory) UpdateStep(ctx context.Context, step *models.Step) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx.UpdateStep(ctx, step)
}

func (m *Memory) GetEventByIdempotencyKey(ctx context.Context, key string) (*models.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx.GetEventByIdempotencyKey(ctx, key)
}

func (m *Memory) MaxSequenceNo(ctx context.Context, runID string) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx.MaxSequenceNo(ctx, runID)
}

func (m *Memory) HasTerminalEvent(ctx context.Context, runID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx.HasTerminalEvent(ctx, runID)
}

func (m *Memory) HasPriorCall(ctx context.Context, runID, stepID, callType string, beforeSeq int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx.HasPriorCall(ctx, runID, stepID, callType, beforeSeq)
}

func (m *Memory) CreateEvent(ctx context.Context, event *models.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx.CreateEvent(ctx, event)
}

func (m *Memory) ListEvents(ctx context.Context, runID string, f EventFilter) ([]*models.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx.ListEvents(ctx, runID, f)
}

func (m *Memory) CountEventsByType(ctx context.Context, runID string) (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx.CountEventsByType(ctx, runID)
}

func (m *Memory) GetArtifact(ctx context.Context, hash string) (*models.Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx.GetArtifact(ctx, hash)
}

func (m *Memory) CreateArtifact(ctx context.Context, artifact *models.Artifact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx.CreateArtifact(ctx, artifact)
}

func (m *Memory) LinkEventArtifact(ctx context.Context, link *models.EventArtifact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx.LinkEventArtifact(ctx, link)
}

func (m *Memory) CreateReplaySession(ctx context.Context, session *models.ReplaySession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx.CreateReplaySession(ctx, session)
}

func (m *Memory) GetReplaySession(ctx context.Context, sessionID string) (*models.ReplaySession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx.GetReplaySession(ctx, sessionID)
}

func (m *Memory) UpdateReplaySession(ctx context.Context, session *models.ReplaySession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx.UpdateReplaySession(ctx, session)
}

func (m *Memory) EnqueueJob(ctx context.Context, job *models.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx.EnqueueJob(ctx, job)
}

func (m *Memory) ClaimNextJob(ctx context.Context, jobType string) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx.ClaimNextJob(ctx, jobType)
}

func (m *Memory) UpdateJob(ctx context.Context, job *models.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx.UpdateJob(ctx, job)
}

func (m *Memory) PurgeCompletedJobs(ctx context.Context, olderThan time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx.PurgeCompletedJobs(ctx, olderThan)
}

func (m *Memory) ReclaimStaleJobs(ctx context.Context, olderThan time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx.ReclaimStaleJobs(ctx, olderThan)
}

func (m *Memory) AppendAudit(ctx context.Context, entry *models.AuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx.AppendAudit(ctx, entry)
}

// Audits returns a copy of the audit log, oldest first. Test helper.
func (m *Memory) Audits() []models.AuditLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.AuditLog(nil), m.tx.state.audits...)
}

// Jobs returns a copy of all queue rows in insertion order. Test helper.
func (m *Memory) Jobs() []models.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Job(nil), m.tx.state.jobs...)
}

// memoryTx operates on the shared state without locking; the enclosing
// Memory holds the mutex for the duration of the transaction.
type memoryTx struct {
	state *memoryState
}

func (t *memoryTx) WithTx(ctx context.Context, fn func(tx Store) error) error {
	return fn(t)
}

func (t *memoryTx) CreateRun(_ context.Context, run *models.Run) error {
	if _, exists := t.state.runs[run.RunID]; exists {
		return ErrDuplicateKey
	}
	t.state.runs[run.RunID] = *run
	return nil
}

func (t *memoryTx) GetRun(_ context.Context, runID string) (*models.Run, error) {
	run, ok := t.state.runs[runID]
	if !ok {
		return nil, ErrNotFound
	}
	out := run
	return &out, nil
}

func (t *memoryTx) GetRunForUpdate(ctx context.Context, runID string) (*models.Run, error) {
	// The store-wide mutex already serializes concurrent transactions.
	return t.GetRun(ctx, runID)
}

func (t *memoryTx) UpdateRunStatus(_ context.Context, runID, status string, endedAt *time.Time) error {
	run, ok := t.state.runs[runID]
	if !ok {
		return ErrNotFound
	}
	run.Status = status
	run.EndedAt = endedAt
	t.state.runs[runID] = run
	return nil
}

func (t *memoryTx) ListRuns(_ context.Context, f RunFilter) ([]*models.Run, error) {
	var out []*models.Run
	for _, run := range t.state.runs {
		if f.AppID != "" && run.AppID != f.AppID {
			continue
		}
		if f.Environment != "" && run.Environment != f.Environment {
			continue
		}
		if f.Status != "" && run.Status != f.Status {
			continue
		}
		if f.SourceType != "" && run.SourceType != f.SourceType {
			continue
		}
		if f.From != nil && run.StartedAt.Before(*f.From) {
			continue
		}
		if f.To != nil && run.StartedAt.After(*f.To) {
			continue
		}
		if f.StartedBefore != nil && !run.StartedAt.Before(*f.StartedBefore) {
			continue
		}
		r := run
		out = append(out, &r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.After(out[j].StartedAt)
		}
		return out[i].RunID < out[j].RunID
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (t *memoryTx) GetStep(_ context.Context, stepID string) (*models.Step, error) {
	step, ok := t.state.steps[stepID]
	if !ok {
		return nil, ErrNotFound
	}
	out := step
	return &out, nil
}

func (t *memoryTx) CreateStep(_ context.Context, step *models.Step) error {
	if _, exists := t.state.steps[step.StepID]; exists {
		return ErrDuplicateKey
	}
	t.state.steps[step.StepID] = *step
	return nil
}

func (t *memoryTx) UpdateStep(_ context.Context, step *models.Step) error {
	if _, ok := t.state.steps[step.StepID]; !ok {
		return ErrNotFound
	}
	t.state.steps[step.StepID] = *step
	return nil
}

func (t *memoryTx) GetEventByIdempotencyKey(_ context.Context, key string) (*models.Event, error) {
	for i := range t.state.events {
		if t.state.events[i].IdempotencyKey == key {
			out := t.state.events[i]
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (t *memoryTx) MaxSequenceNo(_ context.Context, runID string) (int64, bool, error) {
	var max int64
	found := false
	for i := range t.state.events {
		ev := &t.state.events[i]
		if ev.RunID != runID {
			continue
		}
		if !found || ev.SequenceNo > max {
			max = ev.SequenceNo
		}
		found = true
	}
	return max, found, nil
}

func (t *memoryTx) HasTerminalEvent(_ context.Context, runID string) (bool, error) {
	for i := range t.state.events {
		ev := &t.state.events[i]
		if ev.RunID == runID && models.TerminalEventType(ev.EventType) {
			return true, nil
		}
	}
	return false, nil
}

func (t *memoryTx) HasPriorCall(_ context.Context, runID, stepID, callType string, beforeSeq int64) (bool, error) {
	for i := range t.state.events {
		ev := &t.state.events[i]
		if ev.RunID == runID && ev.StepID == stepID && ev.EventType == callType && ev.SequenceNo < beforeSeq {
			return true, nil
		}
	}
	return false, nil
}

func (t *memoryTx) CreateEvent(_ context.Context, event *models.Event) error {
	for i := range t.state.events {
		if t.state.events[i].IdempotencyKey == event.IdempotencyKey {
			return ErrDuplicateIdempotencyKey
		}
	}
	t.state.events = append(t.state.events, *event)
	return nil
}

func (t *memoryTx) ListEvents(_ context.Context, runID string, f EventFilter) ([]*models.Event, error) {
	var out []*models.Event
	for i := range t.state.events {
		ev := t.state.events[i]
		if ev.RunID != runID {
			continue
		}
		if f.EventType != "" && ev.EventType != f.EventType {
			continue
		}
		if f.StepID != "" && ev.StepID != f.StepID {
			continue
		}
		if f.SequenceFrom != nil && ev.SequenceNo < *f.SequenceFrom {
			continue
		}
		if f.SequenceTo != nil && ev.SequenceNo > *f.SequenceTo {
			continue
		}
		if f.AfterSequence != nil && ev.SequenceNo <= *f.AfterSequence {
			continue
		}
		e := ev
		out = append(out, &e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SequenceNo < out[j].SequenceNo })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (t *memoryTx) CountEventsByType(_ context.Context, runID string) (map[string]int, error) {
	counts := map[string]int{}
	for i := range t.state.events {
		ev := &t.state.events[i]
		if ev.RunID == runID {
			counts[ev.EventType]++
		}
	}
	return counts, nil
}

func (t *memoryTx) GetArtifact(_ context.Context, hash string) (*models.Artifact, error) {
	artifact, ok := t.state.artifacts[hash]
	if !ok {
		return nil, ErrNotFound
	}
	out := artifact
	return &out, nil
}

func (t *memoryTx) CreateArtifact(_ context.Context, artifact *models.Artifact) error {
	if _, exists := t.state.artifacts[artifact.ArtifactHash]; exists {
		return ErrDuplicateKey
	}
	t.state.artifacts[artifact.ArtifactHash] = *artifact
	return nil
}

func (t *memoryTx) LinkEventArtifact(_ context.Context, link *models.EventArtifact) error {
	for i := range t.state.links {
		if t.state.links[i] == *link {
			return ErrDuplicateKey
		}
	}
	t.state.links = append(t.state.links, *link)
	return nil
}

func (t *memoryTx) CreateReplaySession(_ context.Context, session *models.ReplaySession) error {
	if _, exists := t.state.sessions[session.ReplaySessionID]; exists {
		return ErrDuplicateKey
	}
	t.state.sessions[session.ReplaySessionID] = *session
	return nil
}

func (t *memoryTx) GetReplaySession(_ context.Context, sessionID string) (*models.ReplaySession, error) {
	session, ok := t.state.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	out := session
	return &out, nil
}

func (t *memoryTx) UpdateReplaySession(_ context.Context, session *models.ReplaySession) error {
	if _, ok := t.state.sessions[session.ReplaySessionID]; !ok {
		return ErrNotFound
	}
	t.state.sessions[session.ReplaySessionID] = *session
	return nil
}

func (t *memoryTx) EnqueueJob(_ context.Context, job *models.Job) error {
	job.JobID = t.state.nextJobID
	t.state.nextJobID++
	t.state.jobs = append(t.state.jobs, *job)
	return nil
}

func (t *memoryTx) ClaimNextJob(_ context.Context, jobType string) (*models.Job, error) {
	now := time.Now().UTC()
	best := -1
	for i := range t.state.jobs {
		j := &t.state.jobs[i]
		if j.Status != models.JobPending || j.AvailableAt.After(now) {
			continue
		}
		if jobType != "" && j.JobType != jobType {
			continue
		}
		if best == -1 ||
			j.CreatedAt.Before(t.state.jobs[best].CreatedAt) ||
			(j.CreatedAt.Equal(t.state.jobs[best].CreatedAt) && j.JobID < t.state.jobs[best].JobID) {
			best = i
		}
	}
	if best == -1 {
		return nil, ErrNoJobsAvailable
	}
	claimed := &t.state.jobs[best]
	claimed.Status = models.JobRunning
	claimed.UpdatedAt = now
	out := *claimed
	return &out, nil
}

func (t *memoryTx) UpdateJob(_ context.Context, job *models.Job) error {
	for i := range t.state.jobs {
		if t.state.jobs[i].JobID == job.JobID {
			t.state.jobs[i] = *job
			return nil
		}
	}
	return ErrNotFound
}

func (t *memoryTx) PurgeCompletedJobs(_ context.Context, olderThan time.Time) (int64, error) {
	kept := t.state.jobs[:0]
	var purged int64
	for _, j := range t.state.jobs {
		if j.Status == models.JobCompleted && j.UpdatedAt.Before(olderThan) {
			purged++
			continue
		}
		kept = append(kept, j)
	}
	t.state.jobs = kept
	return purged, nil
}

func (t *memoryTx) ReclaimStaleJobs(_ context.Context, olderThan time.Time) (int64, error) {
	now := time.Now().UTC()
	var reclaimed int64
	for i := range t.state.jobs {
		j := &t.state.jobs[i]
		if j.Status != models.JobRunning || !j.UpdatedAt.Before(olderThan) {
			continue
		}
		j.Status = models.JobPending
		j.AvailableAt = now
		j.UpdatedAt = now
		reclaimed++
	}
	return reclaimed, nil
}

func (t *memoryTx) AppendAudit(_ context.Context, entry *models.AuditLog) error {
	t.state.audits = append(t.state.audits, *entry)
	return nil
}
