package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/traceline-io/traceline/pkg/models"
	"github.com/traceline-io/traceline/pkg/store"
)

// supportedSchemaMajors are the event schema majors ingestion fully
// understands. Other majors are still accepted, with a warning.
var supportedSchemaMajors = map[string]struct{}{
	"0": {},
	"1": {},
}

// validateEvent enforces the event contract against the run's recorded
// state, in order: known type, payload completeness, run binding, sequence
// monotonicity plus terminal exclusion, and causal preconditions. The first
// failure aborts. Returns non-fatal warnings. The caller must hold the run
// lock so the sequence checks stay valid through the insert.
func validateEvent(ctx context.Context, tx store.Store, run *models.Run, event *models.CanonicalEvent) ([]string, error) {
	if !models.KnownEventType(event.EventType) {
		return nil, NewValidationError(
			fmt.Sprintf("Unsupported event_type '%s'", event.EventType),
			map[string]any{"event_type": event.EventType},
		)
	}

	if missing := models.MissingPayloadFields(event.EventType, event.Payload); len(missing) > 0 {
		return nil, NewValidationError("Missing required payload fields", map[string]any{
			"missing_fields": missing,
			"event_type":     event.EventType,
		})
	}

	if event.RunID != run.RunID {
		return nil, NewValidationError("Event run_id does not match route run_id", map[string]any{
			"event_run_id": event.RunID,
			"route_run_id": run.RunID,
		})
	}

	maxSeq, hasEvents, err := tx.MaxSequenceNo(ctx, run.RunID)
	if err != nil {
		return nil, fmt.Errorf("failed to read max sequence_no: %w", err)
	}
	if !hasEvents {
		if event.EventType != models.EventRunStarted {
			return nil, NewValidationError("First event in run must be run_started", map[string]any{
				"event_type": event.EventType,
			})
		}
	} else {
		if event.SequenceNo <= maxSeq {
			return nil, NewConflictError("Event sequence_no must be monotonic and unique", map[string]any{
				"max_sequence_no": maxSeq,
				"received":        event.SequenceNo,
			})
		}
		terminal, err := tx.HasTerminalEvent(ctx, run.RunID)
		if err != nil {
			return nil, fmt.Errorf("failed to check for terminal event: %w", err)
		}
		if terminal {
			return nil, NewConflictError("Run already has terminal event", map[string]any{
				"run_id": run.RunID,
			})
		}
	}

	if callType := models.CausalPrecedent(event.EventType); callType != "" {
		called, err := tx.HasPriorCall(ctx, run.RunID, event.StepID, callType, event.SequenceNo)
		if err != nil {
			return nil, fmt.Errorf("failed to check causal precedent: %w", err)
		}
		if !called {
			return nil, NewValidationError(
				fmt.Sprintf("%s requires prior %s in the same step", event.EventType, callType),
				map[string]any{"step_id": event.StepID},
			)
		}
	}

	warnings := []string{}
	major := strings.SplitN(event.SchemaVersion, ".", 2)[0]
	if _, supported := supportedSchemaMajors[major]; !supported {
		warnings = append(warnings, "schema_version_outside_supported_major")
	}
	return warnings, nil
}
