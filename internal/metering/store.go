package metering

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/alecgard/pantry/internal/quota"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store provides database operations for recorded quota events.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// BatchInsert writes a slice of events to the database in a single
// multi-row INSERT statement. It is a no-op when events is empty.
func (s *Store) BatchInsert(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}
	query, args := buildBatchInsert(events)
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("batch inserting quota events: %w", err)
	}
	return nil
}

func buildBatchInsert(events []Event) (string, []any) {
	const cols = 8
	args := make([]any, 0, len(events)*cols)
	rows := make([]string, 0, len(events))

	for i, e := range events {
		base := i * cols
		rows = append(rows, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8))
		args = append(args,
			e.ID,
			e.Subject,
			string(e.SubjectKind),
			e.Op,
			string(e.Plan),
			string(e.Outcome),
			e.OccurredAt,
			e.Error,
		)
	}

	query := `INSERT INTO quota_events
		(id, subject, subject_kind, op, plan, outcome, occurred_at, error)
		VALUES ` + strings.Join(rows, ", ")
	return query, args
}

// GetSummary returns aggregate event counts matching the given query filters.
func (s *Store) GetSummary(ctx context.Context, q Query) (*Summary, error) {
	where, args := buildWhereClause(q)

	rows, err := s.pool.Query(ctx,
		`SELECT outcome, COUNT(*) FROM quota_events`+where+` GROUP BY outcome`, args...)
	if err != nil {
		return nil, fmt.Errorf("querying event summary: %w", err)
	}
	defer rows.Close()

	summary := &Summary{ByOutcome: make(map[quota.Outcome]int64)}
	for rows.Next() {
		var outcome string
		var count int64
		if err := rows.Scan(&outcome, &count); err != nil {
			return nil, fmt.Errorf("scanning event summary: %w", err)
		}
		summary.ByOutcome[quota.Outcome(outcome)] = count
		summary.TotalEvents += count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating event summary: %w", err)
	}

	err = s.pool.QueryRow(ctx,
		`SELECT COUNT(DISTINCT subject) FROM quota_events`+where, args...,
	).Scan(&summary.DistinctSubjects)
	if err != nil {
		return nil, fmt.Errorf("counting distinct subjects: %w", err)
	}
	return summary, nil
}

// ListEvents returns a page of events matching the query filters, ordered by
// occurred_at DESC, id DESC. It returns the next cursor, or "" on the last page.
func (s *Store) ListEvents(ctx context.Context, q Query) ([]*Event, string, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}

	where, args := buildWhereClause(q)

	// The cursor encodes "occurred_at|id".
	if q.Cursor != "" {
		ts, id, err := decodeCursor(q.Cursor)
		if err != nil {
			return nil, "", fmt.Errorf("invalid cursor: %w", err)
		}
		n := len(args)
		if where == "" {
			where = " WHERE"
		} else {
			where += " AND"
		}
		where += fmt.Sprintf(" (occurred_at, id) < ($%d, $%d)", n+1, n+2)
		args = append(args, ts, id)
	}

	query := `SELECT id, subject, subject_kind, op, plan, outcome, occurred_at, error
	FROM quota_events` + where +
		` ORDER BY occurred_at DESC, id DESC LIMIT $` + strconv.Itoa(len(args)+1)
	args = append(args, limit+1)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, "", fmt.Errorf("listing quota events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		var (
			e                   Event
			kind, plan, outcome string
		)
		if err := rows.Scan(&e.ID, &e.Subject, &kind, &e.Op, &plan, &outcome, &e.OccurredAt, &e.Error); err != nil {
			return nil, "", fmt.Errorf("scanning quota event row: %w", err)
		}
		e.SubjectKind = quota.SubjectKind(kind)
		e.Plan = quota.Plan(plan)
		e.Outcome = quota.Outcome(outcome)
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, "", fmt.Errorf("iterating quota event rows: %w", err)
	}

	var nextCursor string
	if len(events) > limit {
		last := events[limit-1]
		nextCursor = encodeCursor(last.OccurredAt, last.ID)
		events = events[:limit]
	}
	return events, nextCursor, nil
}

// buildWhereClause constructs a WHERE clause and positional arguments from a
// Query. The returned string starts with " WHERE" or is empty.
func buildWhereClause(q Query) (string, []any) {
	var conditions []string
	var args []any

	eq := func(column string, value any) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if q.Subject != "" {
		eq("subject", q.Subject)
	}
	if q.SubjectKind != "" {
		eq("subject_kind", string(q.SubjectKind))
	}
	if q.Op != "" {
		eq("op", q.Op)
	}
	if q.Outcome != "" {
		eq("outcome", string(q.Outcome))
	}
	if !q.From.IsZero() {
		args = append(args, q.From)
		conditions = append(conditions, fmt.Sprintf("occurred_at >= $%d", len(args)))
	}
	if !q.To.IsZero() {
		args = append(args, q.To)
		conditions = append(conditions, fmt.Sprintf("occurred_at <= $%d", len(args)))
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

func encodeCursor(ts time.Time, id string) string {
	raw := ts.Format(time.RFC3339Nano) + "|" + id
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func decodeCursor(cursor string) (time.Time, string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("decoding cursor: %w", err)
	}
	parts := strings.SplitN(string(raw), "|", 2)
	if len(parts) != 2 {
		return time.Time{}, "", fmt.Errorf("malformed cursor")
	}
	ts, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return time.Time{}, "", fmt.Errorf("parsing cursor timestamp: %w", err)
	}
	return ts, parts[1], nil
}
