package report

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alecgard/pantry/internal/quota"
	"github.com/getsentry/sentry-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestReporter returns a reporter whose events are captured in memory and
// never leave the process.
func newTestReporter(t *testing.T) (*SentryReporter, func() []*sentry.Event) {
	t.Helper()

	var (
		mu     sync.Mutex
		events []*sentry.Event
	)
	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn: "https://public@sentry.example.com/1",
		BeforeSend: func(e *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			mu.Lock()
			defer mu.Unlock()
			events = append(events, e)
			return nil
		},
	})
	require.NoError(t, err)

	r := New(sentry.NewHub(client, sentry.NewScope()))
	return r, func() []*sentry.Event {
		mu.Lock()
		defer mu.Unlock()
		return append([]*sentry.Event(nil), events...)
	}
}

func TestObserve_StoreErrorCapturedAsException(t *testing.T) {
	r, captured := newTestReporter(t)

	r.Observe(context.Background(), quota.Decision{
		Op:      quota.OpRecordRequest,
		Subject: "u1",
		Kind:    quota.SubjectIdentity,
		Plan:    quota.PlanFree,
		Outcome: quota.OutcomeStoreError,
		At:      time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC),
		Err:     fmt.Errorf("record_request: %w: connection refused", quota.ErrStoreUnavailable),
	})

	events := captured()
	require.Len(t, events, 1)
	assert.NotEmpty(t, events[0].Exception)
	assert.Equal(t, "record_request", events[0].Tags["op"])
	assert.Equal(t, "identity", events[0].Tags["subject_kind"])
	assert.Equal(t, "free", events[0].Tags["plan"])
}

func TestObserve_ForbiddenCapturedAsWarning(t *testing.T) {
	r, captured := newTestReporter(t)

	r.Observe(context.Background(), quota.Decision{
		Op:      quota.OpTogglePlan,
		Subject: "u1",
		Kind:    quota.SubjectIdentity,
		Outcome: quota.OutcomeForbidden,
	})

	events := captured()
	require.Len(t, events, 1)
	assert.Equal(t, sentry.LevelWarning, events[0].Level)
	assert.Equal(t, "toggle_plan on non-test account", events[0].Message)
}

func TestObserve_IgnoresExpectedOutcomes(t *testing.T) {
	r, captured := newTestReporter(t)

	for _, o := range []quota.Outcome{quota.OutcomeAllowed, quota.OutcomeQuotaExceeded, quota.OutcomeNotFound} {
		r.Observe(context.Background(), quota.Decision{Op: quota.OpRecordRequest, Outcome: o})
	}

	assert.Empty(t, captured())
}
