package quota

import (
	"fmt"
	"time"
)

// Plan is the subscription tier governing whether ceilings apply.
type Plan string

const (
	PlanFree    Plan = "free"
	PlanPremium Plan = "premium"
)

// Valid reports whether p is a known plan.
func (p Plan) Valid() bool {
	return p == PlanFree || p == PlanPremium
}

// Toggle returns the other plan.
func (p Plan) Toggle() Plan {
	if p == PlanPremium {
		return PlanFree
	}
	return PlanPremium
}

// UsageRecord is the per-identity usage document.
type UsageRecord struct {
	Identity          string    `json:"identity"`
	Plan              Plan      `json:"plan"`
	TotalRequests     int64     `json:"total_requests"`
	RequestsToday     int       `json:"requests_today"`
	LastRequestDate   string    `json:"last_request_date"`
	RequestsThisWeek  int       `json:"requests_this_week"`
	LastWeekStartDate string    `json:"last_week_start_date"`
	RequestsThisMonth int       `json:"requests_this_month"`
	CurrentMonth      string    `json:"current_month"`
	IsTestAccount     bool      `json:"is_test_account"`
	Version           int64     `json:"version"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Validate checks a record read from a store. Missing counters and anchors
// are already zero values; only structurally impossible records fail.
func (r *UsageRecord) Validate() error {
	if r.Identity == "" {
		return fmt.Errorf("usage record has empty identity")
	}
	if !r.Plan.Valid() {
		return fmt.Errorf("usage record %s has unknown plan %q", r.Identity, r.Plan)
	}
	if r.TotalRequests < 0 || r.RequestsToday < 0 || r.RequestsThisWeek < 0 || r.RequestsThisMonth < 0 {
		return fmt.Errorf("usage record %s has negative counter", r.Identity)
	}
	return nil
}

// UsageUpdate holds optional fields for a partial usage record update. Only
// non-nil fields are written. A positive ExpectedVersion makes the update
// conditional on the stored version.
type UsageUpdate struct {
	Plan              *Plan
	TotalRequests     *int64
	RequestsToday     *int
	LastRequestDate   *string
	RequestsThisWeek  *int
	LastWeekStartDate *string
	RequestsThisMonth *int
	CurrentMonth      *string

	ExpectedVersion int64
}

// Empty reports whether the update sets no fields.
func (u UsageUpdate) Empty() bool {
	return u.Plan == nil && u.TotalRequests == nil && u.RequestsToday == nil &&
		u.LastRequestDate == nil && u.RequestsThisWeek == nil && u.LastWeekStartDate == nil &&
		u.RequestsThisMonth == nil && u.CurrentMonth == nil
}

// Apply writes the non-nil fields of u onto r. Stores use it to keep their
// in-memory representation consistent with the partial-update contract.
func (u UsageUpdate) Apply(r *UsageRecord) {
	if u.Plan != nil {
		r.Plan = *u.Plan
	}
	if u.TotalRequests != nil {
		r.TotalRequests = *u.TotalRequests
	}
	if u.RequestsToday != nil {
		r.RequestsToday = *u.RequestsToday
	}
	if u.LastRequestDate != nil {
		r.LastRequestDate = *u.LastRequestDate
	}
	if u.RequestsThisWeek != nil {
		r.RequestsThisWeek = *u.RequestsThisWeek
	}
	if u.LastWeekStartDate != nil {
		r.LastWeekStartDate = *u.LastWeekStartDate
	}
	if u.RequestsThisMonth != nil {
		r.RequestsThisMonth = *u.RequestsThisMonth
	}
	if u.CurrentMonth != nil {
		r.CurrentMonth = *u.CurrentMonth
	}
}

// WeeklyUsage is the read-only projection returned by GetWeeklyUsage.
type WeeklyUsage struct {
	IsTestAccount    bool   `json:"is_test_account"`
	RequestsThisWeek int    `json:"requests_this_week"`
	Plan             Plan   `json:"plan"`
	WeeklyCap        int    `json:"weekly_cap"`
	Remaining        int    `json:"remaining"` // -1 for premium
	ResetsOn         string `json:"resets_on"`
}

// Limits configures the ceilings enforced by the tracker.
type Limits struct {
	WeeklyCap          int
	AnonymousWeeklyCap int
}

// DefaultLimits returns the production ceilings.
func DefaultLimits() Limits {
	return Limits{WeeklyCap: 2, AnonymousWeeklyCap: 2}
}
