package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/traceline-io/traceline/pkg/models"
	"github.com/traceline-io/traceline/pkg/store"
)

// Page size ceilings for the two listings.
const (
	maxRunPageSize   = 200
	maxEventPageSize = 500
)

// QueryService is the read side: run listings, run detail with event
// counters, event listings, and artifact metadata.
type QueryService struct {
	store store.Store
}

// NewQueryService creates a QueryService.
func NewQueryService(st store.Store) *QueryService {
	return &QueryService{store: st}
}

// ListRuns returns one page of runs ordered by started_at descending plus
// the cursor for the next page ("" when the listing is exhausted).
func (s *QueryService) ListRuns(ctx context.Context, params models.ListRunsParams) ([]*models.Run, string, error) {
	pageSize := clampPageSize(params.PageSize, maxRunPageSize)

	filter := store.RunFilter{
		AppID:       params.AppID,
		Environment: params.Environment,
		Status:      params.Status,
		SourceType:  params.SourceType,
		From:        params.FromUTC,
		To:          params.ToUTC,
		Limit:       pageSize + 1,
	}
	if params.PageToken != "" {
		cursor, err := time.Parse(time.RFC3339Nano, params.PageToken)
		if err != nil {
			return nil, "", NewValidationError("page_token is not a valid timestamp", map[string]any{
				"page_token": params.PageToken,
			})
		}
		filter.StartedBefore = &cursor
	}

	runs, err := s.store.ListRuns(ctx, filter)
	if err != nil {
		return nil, "", fmt.Errorf("failed to list runs: %w", err)
	}

	nextToken := ""
	if len(runs) > pageSize {
		nextToken = runs[pageSize-1].StartedAt.Format(time.RFC3339Nano)
		runs = runs[:pageSize]
	}
	return runs, nextToken, nil
}

// ListEvents returns one page of a run's events in sequence order plus the
// next-page cursor ("" when the listing is exhausted).
func (s *QueryService) ListEvents(ctx context.Context, runID string, params models.ListEventsParams) ([]*models.Event, string, error) {
	pageSize := clampPageSize(params.PageSize, maxEventPageSize)

	filter := store.EventFilter{
		EventType:    params.EventType,
		StepID:       params.StepID,
		SequenceFrom: params.SequenceFrom,
		SequenceTo:   params.SequenceTo,
		Limit:        pageSize + 1,
	}
	if params.PageToken != "" {
		cursor, err := strconv.ParseInt(params.PageToken, 10, 64)
		if err != nil {
			return nil, "", NewValidationError("page_token is not a valid sequence number", map[string]any{
				"page_token": params.PageToken,
			})
		}
		filter.AfterSequence = &cursor
	}

	events, err := s.store.ListEvents(ctx, runID, filter)
	if err != nil {
		return nil, "", fmt.Errorf("failed to list events: %w", err)
	}

	nextToken := ""
	if len(events) > pageSize {
		nextToken = strconv.FormatInt(events[pageSize-1].SequenceNo, 10)
		events = events[:pageSize]
	}
	return events, nextToken, nil
}

// GetRunDetail returns the run and its per-event-type counters, including
// the total_events rollup.
func (s *QueryService) GetRunDetail(ctx context.Context, runID string) (*models.Run, map[string]int, error) {
	run, err := s.store.GetRun(ctx, runID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, NewNotFoundError("Run not found", map[string]any{"run_id": runID})
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load run: %w", err)
	}

	counters, err := s.store.CountEventsByType(ctx, runID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to count events: %w", err)
	}
	total := 0
	for _, n := range counters {
		total += n
	}
	counters["total_events"] = total
	return run, counters, nil
}

// GetArtifactMetadata returns the artifact row for the hash.
func (s *QueryService) GetArtifactMetadata(ctx context.Context, artifactHash string) (*models.Artifact, error) {
	artifact, err := s.store.GetArtifact(ctx, artifactHash)
	if errors.Is(err, store.ErrNotFound) {
		return nil, NewNotFoundError("Artifact not found", map[string]any{"artifact_hash": artifactHash})
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load artifact: %w", err)
	}
	return artifact, nil
}

// clampPageSize bounds a requested page size to [1, ceiling].
func clampPageSize(size, ceiling int) int {
	if size < 1 {
		return 1
	}
	if size > ceiling {
		return ceiling
	}
	return size
}
