package account

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/alecgard/pantry/internal/quota"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const recordColumns = `identity, plan, total_requests, requests_today, last_request_date,
	requests_this_week, last_week_start_date, requests_this_month, current_month,
	is_test_account, version, created_at, updated_at`

// Store provides database operations for usage records.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new usage record store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// scanRecord scans a usage record row.
func scanRecord(scan func(dest ...any) error) (*quota.UsageRecord, error) {
	r := &quota.UsageRecord{}
	var plan string
	err := scan(&r.Identity, &plan, &r.TotalRequests, &r.RequestsToday, &r.LastRequestDate,
		&r.RequestsThisWeek, &r.LastWeekStartDate, &r.RequestsThisMonth, &r.CurrentMonth,
		&r.IsTestAccount, &r.Version, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	r.Plan = quota.Plan(plan)
	return r, nil
}

// Create inserts a fresh free-plan record for the identity.
func (s *Store) Create(ctx context.Context, in CreateInput) (*quota.UsageRecord, error) {
	if in.Identity == "" {
		return nil, fmt.Errorf("creating usage record: %w", quota.ErrInvalidSubject)
	}

	r, err := scanRecord(func(dest ...any) error {
		return s.pool.QueryRow(ctx,
			`INSERT INTO usage_records (identity, plan, is_test_account)
			 VALUES ($1, $2, $3)
			 RETURNING `+recordColumns,
			in.Identity, string(quota.PlanFree), in.IsTestAccount,
		).Scan(dest...)
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, fmt.Errorf("creating usage record %s: %w", in.Identity, ErrExists)
		}
		return nil, fmt.Errorf("creating usage record: %w", err)
	}
	return r, nil
}

// Get retrieves the usage record for an identity.
func (s *Store) Get(ctx context.Context, identity string) (*quota.UsageRecord, error) {
	r, err := scanRecord(func(dest ...any) error {
		return s.pool.QueryRow(ctx,
			`SELECT `+recordColumns+` FROM usage_records WHERE identity = $1`, identity,
		).Scan(dest...)
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("getting usage record %s: %w", identity, quota.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting usage record: %w", err)
	}
	return r, nil
}

// Update performs a partial update on the usage record. Only the fields set
// in upd are written, so concurrent changes to other columns (for example a
// plan change from billing) are not clobbered. When upd.ExpectedVersion is
// positive the write only applies if the stored version still matches.
func (s *Store) Update(ctx context.Context, identity string, upd quota.UsageUpdate) error {
	if upd.Empty() {
		return nil
	}

	query, args := buildUpdate(identity, upd)
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating usage record: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	// Nothing matched: either the record is gone or the version moved on.
	var exists bool
	err = s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM usage_records WHERE identity = $1)`, identity,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("checking usage record: %w", err)
	}
	if !exists {
		return fmt.Errorf("updating usage record %s: %w", identity, quota.ErrNotFound)
	}
	return fmt.Errorf("updating usage record %s: %w", identity, quota.ErrConflict)
}

// buildUpdate renders the UPDATE statement for the non-nil fields of upd.
func buildUpdate(identity string, upd quota.UsageUpdate) (string, []any) {
	var setClauses []string
	var args []any

	set := func(column string, value any) {
		args = append(args, value)
		setClauses = append(setClauses, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if upd.Plan != nil {
		set("plan", string(*upd.Plan))
	}
	if upd.TotalRequests != nil {
		set("total_requests", *upd.TotalRequests)
	}
	if upd.RequestsToday != nil {
		set("requests_today", *upd.RequestsToday)
	}
	if upd.LastRequestDate != nil {
		set("last_request_date", *upd.LastRequestDate)
	}
	if upd.RequestsThisWeek != nil {
		set("requests_this_week", *upd.RequestsThisWeek)
	}
	if upd.LastWeekStartDate != nil {
		set("last_week_start_date", *upd.LastWeekStartDate)
	}
	if upd.RequestsThisMonth != nil {
		set("requests_this_month", *upd.RequestsThisMonth)
	}
	if upd.CurrentMonth != nil {
		set("current_month", *upd.CurrentMonth)
	}
	setClauses = append(setClauses, "version = version + 1", "updated_at = now()")

	args = append(args, identity)
	where := fmt.Sprintf("identity = $%d", len(args))
	if upd.ExpectedVersion > 0 {
		args = append(args, upd.ExpectedVersion)
		where += fmt.Sprintf(" AND version = $%d", len(args))
	}

	query := fmt.Sprintf(`UPDATE usage_records SET %s WHERE %s`, strings.Join(setClauses, ", "), where)
	return query, args
}
