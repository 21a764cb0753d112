package quota

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"
)

// ErrInvalidSubject is returned when an identity or device ID is empty.
var ErrInvalidSubject = errors.New("empty identity or device id")

// defaultMaxAttempts bounds the read-compute-write retries of RecordRequest
// when a conditional update loses a race.
const defaultMaxAttempts = 3

// IdentityStore holds one UsageRecord per signed-in identity. Get returns an
// error matching ErrNotFound for unknown identities. Update writes only the
// non-nil fields of the update and returns ErrConflict when
// UsageUpdate.ExpectedVersion is set and no longer matches.
type IdentityStore interface {
	Get(ctx context.Context, identity string) (*UsageRecord, error)
	Update(ctx context.Context, identity string, upd UsageUpdate) error
}

// DeviceStore is a durable string key-value store for anonymous counters.
// IncrementBelow adds one to the integer counter at key only while it is
// below limit, treating an absent key as zero, as a single atomic step. It
// returns the resulting count and whether the increment happened.
type DeviceStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	IncrementBelow(ctx context.Context, key string, limit int) (int, bool, error)
}

// Tracker gates metered actions behind plan-dependent weekly quotas and keeps
// usage statistics regardless of the gating outcome. It holds no usage state
// between calls; every operation re-reads its record.
type Tracker struct {
	identities  IdentityStore
	devices     DeviceStore
	clock       Clock
	limits      Limits
	observer    Observer
	now         func() time.Time
	maxAttempts int
}

// NewTracker creates a Tracker over the given stores and clock.
func NewTracker(identities IdentityStore, devices DeviceStore, clock Clock, limits Limits) *Tracker {
	return &Tracker{
		identities:  identities,
		devices:     devices,
		clock:       clock,
		limits:      limits,
		now:         time.Now,
		maxAttempts: defaultMaxAttempts,
	}
}

// SetObserver sets the optional decision observer.
func (t *Tracker) SetObserver(o Observer) {
	t.observer = o
}

// Limits returns the configured ceilings.
func (t *Tracker) Limits() Limits {
	return t.limits
}

// RecordRequest meters one request by a signed-in identity. The all-time,
// monthly and daily counters are always advanced and persisted. Free-plan
// identities are then gated by the weekly window; when the window is full the
// statistics are still written and a *LimitError is returned.
func (t *Tracker) RecordRequest(ctx context.Context, identity string) error {
	_, err := t.AdmitRequest(ctx, identity)
	return err
}

// AdmitRequest is RecordRequest returning the weekly usage computed by the
// same read-compute-write, so callers need no second read once the request
// has been counted.
func (t *Tracker) AdmitRequest(ctx context.Context, identity string) (WeeklyUsage, error) {
	if identity == "" {
		return WeeklyUsage{}, fmt.Errorf("%s: %w", OpRecordRequest, ErrInvalidSubject)
	}

	var (
		plan  Plan
		usage WeeklyUsage
		err   error
	)
	for attempt := 1; ; attempt++ {
		plan, usage, err = t.recordOnce(ctx, identity)
		if !errors.Is(err, ErrConflict) || attempt >= t.maxAttempts {
			break
		}
		slog.Debug("usage record changed concurrently, retrying", "identity", identity, "attempt", attempt)
	}
	if errors.Is(err, ErrConflict) {
		err = storeError(OpRecordRequest, err)
	}

	t.report(ctx, OpRecordRequest, identity, SubjectIdentity, plan, err)
	if err != nil {
		return WeeklyUsage{}, err
	}
	return usage, nil
}

func (t *Tracker) recordOnce(ctx context.Context, identity string) (Plan, WeeklyUsage, error) {
	rec, err := t.load(ctx, OpRecordRequest, identity)
	if err != nil {
		return "", WeeklyUsage{}, err
	}
	p := t.clock.Now()

	total := rec.TotalRequests + 1
	month := 1
	if rec.CurrentMonth == p.MonthKey {
		month = rec.RequestsThisMonth + 1
	}
	today := 1
	if rec.LastRequestDate == p.Date {
		today = rec.RequestsToday + 1
	}

	upd := UsageUpdate{
		TotalRequests:     &total,
		RequestsThisMonth: &month,
		CurrentMonth:      &p.MonthKey,
		RequestsToday:     &today,
		LastRequestDate:   &p.Date,
		ExpectedVersion:   rec.Version,
	}

	w := weeklyWindow{limit: t.limits.WeeklyCap}
	used := w.current(rec.RequestsThisWeek, rec.LastWeekStartDate, p.WeekStart)
	var limitErr *LimitError
	if rec.Plan != PlanPremium {
		week, ok := w.admit(rec.RequestsThisWeek, rec.LastWeekStartDate, p.WeekStart)
		if ok {
			used = week
			upd.RequestsThisWeek = &week
			upd.LastWeekStartDate = &p.WeekStart
		} else {
			limitErr = &LimitError{
				Subject:  identity,
				Kind:     SubjectIdentity,
				Used:     rec.RequestsThisWeek,
				Limit:    t.limits.WeeklyCap,
				ResetsOn: p.NextWeek,
			}
		}
	}

	if err := t.identities.Update(ctx, identity, upd); err != nil {
		return rec.Plan, WeeklyUsage{}, t.wrapStoreErr(OpRecordRequest, identity, err)
	}
	if limitErr != nil {
		return rec.Plan, WeeklyUsage{}, limitErr
	}
	return rec.Plan, t.identityUsage(rec, used, p), nil
}

// RecordAnonymousRequest meters one request by an unauthenticated device. A
// full window is rejected without touching the stored count.
func (t *Tracker) RecordAnonymousRequest(ctx context.Context, deviceID string) error {
	_, err := t.AdmitAnonymousRequest(ctx, deviceID)
	return err
}

// AdmitAnonymousRequest is RecordAnonymousRequest returning the device's
// usage after the increment.
func (t *Tracker) AdmitAnonymousRequest(ctx context.Context, deviceID string) (WeeklyUsage, error) {
	usage, err := t.recordAnonymous(ctx, deviceID)
	t.report(ctx, OpRecordAnonymous, deviceID, SubjectDevice, "", err)
	return usage, err
}

func (t *Tracker) recordAnonymous(ctx context.Context, deviceID string) (WeeklyUsage, error) {
	if deviceID == "" {
		return WeeklyUsage{}, fmt.Errorf("%s: %w", OpRecordAnonymous, ErrInvalidSubject)
	}
	p := t.clock.Now()
	key := AnonymousKey(deviceID, p.WeekStart)

	// The cap check and the increment must be one store operation.
	count, ok, err := t.devices.IncrementBelow(ctx, key, t.limits.AnonymousWeeklyCap)
	if err != nil {
		return WeeklyUsage{}, storeError(OpRecordAnonymous, err)
	}
	if !ok {
		return WeeklyUsage{}, &LimitError{
			Subject:  deviceID,
			Kind:     SubjectDevice,
			Used:     count,
			Limit:    t.limits.AnonymousWeeklyCap,
			ResetsOn: p.NextWeek,
		}
	}
	return t.anonymousUsage(count, p), nil
}

// GetAnonymousUsage returns the device's count for the current week.
func (t *Tracker) GetAnonymousUsage(ctx context.Context, deviceID string) (WeeklyUsage, error) {
	if deviceID == "" {
		return WeeklyUsage{}, fmt.Errorf("anonymous usage: %w", ErrInvalidSubject)
	}
	p := t.clock.Now()
	count, err := t.deviceCount(ctx, AnonymousKey(deviceID, p.WeekStart))
	if err != nil {
		return WeeklyUsage{}, err
	}
	return t.anonymousUsage(count, p), nil
}

func (t *Tracker) anonymousUsage(count int, p Period) WeeklyUsage {
	w := weeklyWindow{limit: t.limits.AnonymousWeeklyCap}
	return WeeklyUsage{
		RequestsThisWeek: count,
		Plan:             PlanFree,
		WeeklyCap:        t.limits.AnonymousWeeklyCap,
		Remaining:        w.remaining(count),
		ResetsOn:         p.NextWeek,
	}
}

func (t *Tracker) deviceCount(ctx context.Context, key string) (int, error) {
	raw, ok, err := t.devices.Get(ctx, key)
	if err != nil {
		return 0, storeError("reading device counter", err)
	}
	if !ok || raw == "" {
		return 0, nil
	}
	count, err := strconv.Atoi(raw)
	if err != nil || count < 0 {
		return 0, storeError("reading device counter", fmt.Errorf("corrupt counter %q at %s", raw, key))
	}
	return count, nil
}

// ResetForTestAccount zeroes the daily and weekly counters of a test account
// and clears their anchors. All-time and monthly statistics are kept.
func (t *Tracker) ResetForTestAccount(ctx context.Context, identity string) error {
	plan, err := t.resetTestAccount(ctx, identity)
	t.report(ctx, OpResetTestAccount, identity, SubjectIdentity, plan, err)
	return err
}

func (t *Tracker) resetTestAccount(ctx context.Context, identity string) (Plan, error) {
	rec, err := t.loadTestAccount(ctx, OpResetTestAccount, identity)
	if err != nil {
		return "", err
	}

	zero := 0
	empty := ""
	upd := UsageUpdate{
		RequestsToday:     &zero,
		LastRequestDate:   &empty,
		RequestsThisWeek:  &zero,
		LastWeekStartDate: &empty,
	}
	if err := t.identities.Update(ctx, identity, upd); err != nil {
		return rec.Plan, t.wrapStoreErr(OpResetTestAccount, identity, err)
	}
	return rec.Plan, nil
}

// TogglePlanForTestAccount flips a test account between free and premium and
// returns the new plan.
func (t *Tracker) TogglePlanForTestAccount(ctx context.Context, identity string) (Plan, error) {
	plan, err := t.togglePlan(ctx, identity)
	t.report(ctx, OpTogglePlan, identity, SubjectIdentity, plan, err)
	return plan, err
}

func (t *Tracker) togglePlan(ctx context.Context, identity string) (Plan, error) {
	rec, err := t.loadTestAccount(ctx, OpTogglePlan, identity)
	if err != nil {
		return "", err
	}

	next := rec.Plan.Toggle()
	if err := t.identities.Update(ctx, identity, UsageUpdate{Plan: &next}); err != nil {
		return rec.Plan, t.wrapStoreErr(OpTogglePlan, identity, err)
	}
	return next, nil
}

// GetWeeklyUsage returns the weekly gating state of an identity. A count
// anchored to a previous week is reported as zero; nothing is written.
func (t *Tracker) GetWeeklyUsage(ctx context.Context, identity string) (WeeklyUsage, error) {
	if identity == "" {
		return WeeklyUsage{}, fmt.Errorf("weekly usage: %w", ErrInvalidSubject)
	}
	rec, err := t.load(ctx, "weekly usage", identity)
	if err != nil {
		return WeeklyUsage{}, err
	}
	p := t.clock.Now()
	w := weeklyWindow{limit: t.limits.WeeklyCap}
	return t.identityUsage(rec, w.current(rec.RequestsThisWeek, rec.LastWeekStartDate, p.WeekStart), p), nil
}

func (t *Tracker) identityUsage(rec *UsageRecord, used int, p Period) WeeklyUsage {
	w := weeklyWindow{limit: t.limits.WeeklyCap}
	remaining := w.remaining(used)
	if rec.Plan == PlanPremium {
		remaining = -1
	}
	return WeeklyUsage{
		IsTestAccount:    rec.IsTestAccount,
		RequestsThisWeek: used,
		Plan:             rec.Plan,
		WeeklyCap:        t.limits.WeeklyCap,
		Remaining:        remaining,
		ResetsOn:         p.NextWeek,
	}
}

func (t *Tracker) load(ctx context.Context, op, identity string) (*UsageRecord, error) {
	rec, err := t.identities.Get(ctx, identity)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%s %s: %w", op, identity, ErrNotFound)
		}
		return nil, storeError(op, err)
	}
	if err := rec.Validate(); err != nil {
		return nil, storeError(op, err)
	}
	return rec, nil
}

func (t *Tracker) loadTestAccount(ctx context.Context, op, identity string) (*UsageRecord, error) {
	if identity == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidSubject)
	}
	rec, err := t.load(ctx, op, identity)
	if err != nil {
		return nil, err
	}
	if !rec.IsTestAccount {
		return rec, fmt.Errorf("%s %s: %w", op, identity, ErrForbidden)
	}
	return rec, nil
}

// wrapStoreErr classifies an Update failure. Conflicts pass through so the
// caller can retry; a record deleted between read and write is NotFound.
func (t *Tracker) wrapStoreErr(op, identity string, err error) error {
	switch {
	case errors.Is(err, ErrConflict):
		return err
	case errors.Is(err, ErrNotFound):
		return fmt.Errorf("%s %s: %w", op, identity, ErrNotFound)
	default:
		return storeError(op, err)
	}
}

func (t *Tracker) report(ctx context.Context, op, subject string, kind SubjectKind, plan Plan, err error) {
	outcome := Classify(err)
	switch outcome {
	case OutcomeQuotaExceeded:
		slog.Info("quota exceeded", "op", op, string(kind), subject)
	case OutcomeForbidden:
		slog.Warn("test-account operation on regular account", "op", op, string(kind), subject)
	case OutcomeStoreError:
		slog.Error("quota store failure", "op", op, string(kind), subject, "error", err)
	}

	if t.observer == nil {
		return
	}
	t.observer.Observe(ctx, Decision{
		Op:      op,
		Subject: subject,
		Kind:    kind,
		Plan:    plan,
		Outcome: outcome,
		At:      t.now(),
		Err:     err,
	})
}

// Classify maps an error returned by the tracker to its Outcome.
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeAllowed
	case errors.Is(err, ErrQuotaExceeded):
		return OutcomeQuotaExceeded
	case errors.Is(err, ErrForbidden):
		return OutcomeForbidden
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrInvalidSubject):
		return OutcomeNotFound
	default:
		return OutcomeStoreError
	}
}
