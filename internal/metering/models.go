package metering

import (
	"time"

	"github.com/alecgard/pantry/internal/quota"
	"github.com/google/uuid"
)

// Event is one recorded quota decision.
type Event struct {
	ID          string            `json:"id"`
	Subject     string            `json:"subject"`
	SubjectKind quota.SubjectKind `json:"subject_kind"`
	Op          string            `json:"op"`
	Plan        quota.Plan        `json:"plan,omitempty"`
	Outcome     quota.Outcome     `json:"outcome"`
	OccurredAt  time.Time         `json:"occurred_at"`
	Error       string            `json:"error,omitempty"`
}

// EventFromDecision converts a tracker decision into an Event with a fresh ID.
func EventFromDecision(d quota.Decision) Event {
	e := Event{
		ID:          uuid.NewString(),
		Subject:     d.Subject,
		SubjectKind: d.Kind,
		Op:          d.Op,
		Plan:        d.Plan,
		Outcome:     d.Outcome,
		OccurredAt:  d.At,
	}
	// Limit rejections are expected outcomes, not errors worth storing.
	if d.Err != nil && d.Outcome != quota.OutcomeQuotaExceeded {
		e.Error = d.Err.Error()
	}
	return e
}

// Summary holds aggregate counts for a set of events.
type Summary struct {
	TotalEvents      int64                   `json:"total_events"`
	ByOutcome        map[quota.Outcome]int64 `json:"by_outcome"`
	DistinctSubjects int64                   `json:"distinct_subjects"`
}

// Query defines filters and pagination for querying events.
type Query struct {
	Subject     string            `json:"subject,omitempty"`
	SubjectKind quota.SubjectKind `json:"subject_kind,omitempty"`
	Op          string            `json:"op,omitempty"`
	Outcome     quota.Outcome     `json:"outcome,omitempty"`
	From        time.Time         `json:"from"`
	To          time.Time         `json:"to"`
	Cursor      string            `json:"cursor,omitempty"`
	Limit       int               `json:"limit"`
}
