package account

import (
	"context"
	"testing"

	"github.com/alecgard/pantry/internal/quota"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildUpdate(t *testing.T) {
	week := 2
	anchor := "2026-10-12"
	plan := quota.PlanPremium

	tests := []struct {
		name      string
		upd       quota.UsageUpdate
		wantQuery string
		wantArgs  []any
	}{
		{
			name:      "single field unconditional",
			upd:       quota.UsageUpdate{Plan: &plan},
			wantQuery: "UPDATE usage_records SET plan = $1, version = version + 1, updated_at = now() WHERE identity = $2",
			wantArgs:  []any{"premium", "u1"},
		},
		{
			name:      "conditional on version",
			upd:       quota.UsageUpdate{RequestsThisWeek: &week, LastWeekStartDate: &anchor, ExpectedVersion: 7},
			wantQuery: "UPDATE usage_records SET requests_this_week = $1, last_week_start_date = $2, version = version + 1, updated_at = now() WHERE identity = $3 AND version = $4",
			wantArgs:  []any{2, "2026-10-12", "u1", int64(7)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query, args := buildUpdate("u1", tt.upd)
			assert.Equal(t, tt.wantQuery, query)
			assert.Equal(t, tt.wantArgs, args)
		})
	}
}

func TestMemoryStore_CreateAndGet(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	r, err := s.Create(ctx, CreateInput{Identity: "u1", IsTestAccount: true})
	require.NoError(t, err)
	assert.Equal(t, quota.PlanFree, r.Plan)
	assert.True(t, r.IsTestAccount)
	assert.EqualValues(t, 1, r.Version)
	require.NoError(t, r.Validate())

	_, err = s.Create(ctx, CreateInput{Identity: "u1"})
	require.ErrorIs(t, err, ErrExists)

	_, err = s.Create(ctx, CreateInput{})
	require.ErrorIs(t, err, quota.ErrInvalidSubject)

	_, err = s.Get(ctx, "missing")
	require.ErrorIs(t, err, quota.ErrNotFound)
}

func TestMemoryStore_UpdateIsPartialAndVersioned(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	_, err := s.Create(ctx, CreateInput{Identity: "u1"})
	require.NoError(t, err)

	plan := quota.PlanPremium
	require.NoError(t, s.Update(ctx, "u1", quota.UsageUpdate{Plan: &plan}))

	total := int64(5)
	err = s.Update(ctx, "u1", quota.UsageUpdate{TotalRequests: &total, ExpectedVersion: 1})
	require.ErrorIs(t, err, quota.ErrConflict)

	require.NoError(t, s.Update(ctx, "u1", quota.UsageUpdate{TotalRequests: &total, ExpectedVersion: 2}))

	r, err := s.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, quota.PlanPremium, r.Plan, "plan survives an unrelated counter update")
	assert.EqualValues(t, 5, r.TotalRequests)
	assert.EqualValues(t, 3, r.Version)

	require.ErrorIs(t, s.Update(ctx, "ghost", quota.UsageUpdate{TotalRequests: &total}), quota.ErrNotFound)
}

func TestMemoryStore_WithTracker(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	_, err := s.Create(ctx, CreateInput{Identity: "u1"})
	require.NoError(t, err)

	tr := quota.NewTracker(s, nil, quota.NewSystemClock(nil), quota.DefaultLimits())
	require.NoError(t, tr.RecordRequest(ctx, "u1"))
	require.NoError(t, tr.RecordRequest(ctx, "u1"))
	require.ErrorIs(t, tr.RecordRequest(ctx, "u1"), quota.ErrQuotaExceeded)

	r, err := s.Get(ctx, "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 3, r.TotalRequests)
}
