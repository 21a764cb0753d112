package quota

import (
	"context"
	"time"
)

// SubjectKind distinguishes signed-in identities from anonymous devices.
type SubjectKind string

const (
	SubjectIdentity SubjectKind = "identity"
	SubjectDevice   SubjectKind = "device"
)

// Outcome is the observable result of one tracker operation.
type Outcome string

const (
	OutcomeAllowed       Outcome = "allowed"
	OutcomeQuotaExceeded Outcome = "quota_exceeded"
	OutcomeForbidden     Outcome = "forbidden"
	OutcomeNotFound      Outcome = "not_found"
	OutcomeStoreError    Outcome = "store_error"
)

// Operation names reported in decisions.
const (
	OpRecordRequest    = "record_request"
	OpRecordAnonymous  = "record_anonymous_request"
	OpResetTestAccount = "reset_test_account"
	OpTogglePlan       = "toggle_plan"
)

// Decision is reported to the Observer after every mutating operation.
type Decision struct {
	Op      string
	Subject string
	Kind    SubjectKind
	Plan    Plan
	Outcome Outcome
	At      time.Time
	Err     error
}

// Observer receives decisions. Implementations must not block.
type Observer interface {
	Observe(ctx context.Context, d Decision)
}

// Observers fans a decision out to several observers.
type Observers []Observer

// Observe implements Observer.
func (os Observers) Observe(ctx context.Context, d Decision) {
	for _, o := range os {
		if o != nil {
			o.Observe(ctx, d)
		}
	}
}
