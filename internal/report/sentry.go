// Package report forwards quota failures that need operator attention to
// Sentry.
package report

import (
	"context"
	"fmt"
	"time"

	"github.com/alecgard/pantry/internal/quota"
	"github.com/getsentry/sentry-go"
)

// SentryReporter implements quota.Observer. It captures store failures as
// exceptions and forbidden test-account operations as warnings; every other
// outcome is ignored.
type SentryReporter struct {
	hub *sentry.Hub
}

// Init configures the global Sentry client and returns a reporter bound to
// its hub.
func Init(dsn, environment, release string) (*SentryReporter, error) {
	err := sentry.Init(sentry.ClientOptions{
		Dsn:         dsn,
		Environment: environment,
		Release:     release,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing sentry: %w", err)
	}
	return New(sentry.CurrentHub()), nil
}

// New creates a reporter that captures through hub.
func New(hub *sentry.Hub) *SentryReporter {
	return &SentryReporter{hub: hub}
}

// Observe implements quota.Observer.
func (r *SentryReporter) Observe(_ context.Context, d quota.Decision) {
	if d.Outcome != quota.OutcomeStoreError && d.Outcome != quota.OutcomeForbidden {
		return
	}

	hub := r.hub.Clone()
	hub.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetTag("op", d.Op)
		scope.SetTag("subject_kind", string(d.Kind))
		scope.SetTag("outcome", string(d.Outcome))
		if d.Plan != "" {
			scope.SetTag("plan", string(d.Plan))
		}
		scope.SetContext("quota", sentry.Context{
			"subject": d.Subject,
			"at":      d.At.Format(time.RFC3339),
		})
	})

	if d.Outcome == quota.OutcomeForbidden {
		hub.ConfigureScope(func(scope *sentry.Scope) { scope.SetLevel(sentry.LevelWarning) })
		hub.CaptureMessage(fmt.Sprintf("%s on non-test account", d.Op))
		return
	}

	err := d.Err
	if err == nil {
		err = quota.ErrStoreUnavailable
	}
	hub.CaptureException(err)
}

// Flush waits up to timeout for queued events to be delivered.
func (r *SentryReporter) Flush(timeout time.Duration) bool {
	return r.hub.Flush(timeout)
}
