package quota

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// fakeClock returns the period of a settable instant.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{now: t}
}

func (c *fakeClock) Now() Period {
	c.mu.Lock()
	defer c.mu.Unlock()
	return PeriodOf(c.now)
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *fakeClock) AdvanceDays(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.AddDate(0, 0, n)
}

// fakeIdentities is an in-memory IdentityStore honouring ExpectedVersion.
type fakeIdentities struct {
	mu      sync.Mutex
	records map[string]UsageRecord
	updates int

	getErr    error
	updateErr error
	// beforeUpdate runs inside Update before the version check; tests use it
	// to simulate a concurrent writer.
	beforeUpdate func(rec *UsageRecord)
}

func newFakeIdentities(recs ...UsageRecord) *fakeIdentities {
	f := &fakeIdentities{records: make(map[string]UsageRecord)}
	for _, r := range recs {
		if r.Plan == "" {
			r.Plan = PlanFree
		}
		if r.Version == 0 {
			r.Version = 1
		}
		f.records[r.Identity] = r
	}
	return f
}

func (f *fakeIdentities) Get(_ context.Context, identity string) (*UsageRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	r, ok := f.records[identity]
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}

func (f *fakeIdentities) Update(_ context.Context, identity string, upd UsageUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	r, ok := f.records[identity]
	if !ok {
		return ErrNotFound
	}
	if f.beforeUpdate != nil {
		f.beforeUpdate(&r)
	}
	if upd.ExpectedVersion > 0 && upd.ExpectedVersion != r.Version {
		f.records[identity] = r
		return ErrConflict
	}
	upd.Apply(&r)
	r.Version++
	f.records[identity] = r
	f.updates++
	return nil
}

func (f *fakeIdentities) record(identity string) UsageRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.records[identity]
}

// fakeDevices is an in-memory DeviceStore.
type fakeDevices struct {
	mu     sync.Mutex
	values map[string]string
	err    error
	sets   int
}

func newFakeDevices() *fakeDevices {
	return &fakeDevices{values: make(map[string]string)}
}

func (f *fakeDevices) Get(_ context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", false, f.err
	}
	v, ok := f.values[key]
	return v, ok, nil
}

func (f *fakeDevices) Set(_ context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.values[key] = value
	f.sets++
	return nil
}

func (f *fakeDevices) IncrementBelow(_ context.Context, key string, limit int) (int, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, false, f.err
	}
	n := 0
	if raw, ok := f.values[key]; ok {
		var err error
		if n, err = strconv.Atoi(raw); err != nil || n < 0 {
			return 0, false, fmt.Errorf("corrupt counter %q", raw)
		}
	}
	if n >= limit {
		return n, false, nil
	}
	n++
	f.values[key] = strconv.Itoa(n)
	f.sets++
	return n, true, nil
}

func (f *fakeDevices) Remove(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.values, key)
	return nil
}

func (f *fakeDevices) Clear(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values = make(map[string]string)
	return nil
}

// recordingObserver collects decisions.
type recordingObserver struct {
	mu        sync.Mutex
	decisions []Decision
}

func (o *recordingObserver) Observe(_ context.Context, d Decision) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.decisions = append(o.decisions, d)
}

func (o *recordingObserver) outcomes() []Outcome {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Outcome, len(o.decisions))
	for i, d := range o.decisions {
		out[i] = d.Outcome
	}
	return out
}

var errBoom = errors.New("connection refused")
