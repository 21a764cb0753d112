// Package recipe gates recipe generation behind the usage quota.
package recipe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

var (
	// ErrInvalidPreferences means the request cannot produce a recipe.
	ErrInvalidPreferences = errors.New("invalid preferences")

	// ErrNoCaller means neither an identity nor a device ID was supplied.
	ErrNoCaller = errors.New("identity or device id required")

	// ErrGeneration wraps failures of the text generator.
	ErrGeneration = errors.New("recipe generation failed")
)

// Preferences are the user's inputs for one recipe.
type Preferences struct {
	Ingredients []string `json:"ingredients"`
	Appliances  []string `json:"appliances,omitempty"`
	MealType    string   `json:"meal_type,omitempty"`
	Dietary     []string `json:"dietary,omitempty"`
	Servings    int      `json:"servings,omitempty"`
}

// Validate checks that at least one ingredient is present and the serving
// count is sane.
func (p Preferences) Validate() error {
	n := 0
	for _, in := range p.Ingredients {
		if strings.TrimSpace(in) != "" {
			n++
		}
	}
	if n == 0 {
		return fmt.Errorf("%w: at least one ingredient is required", ErrInvalidPreferences)
	}
	if p.Servings < 0 || p.Servings > 50 {
		return fmt.Errorf("%w: servings must be between 0 and 50", ErrInvalidPreferences)
	}
	return nil
}

// Recipe is a generated recipe.
type Recipe struct {
	Title       string   `json:"title"`
	Ingredients []string `json:"ingredients"`
	Steps       []string `json:"steps"`
	Servings    int      `json:"servings,omitempty"`
}

// Caller identifies who is asking. A non-empty Identity takes precedence
// over DeviceID.
type Caller struct {
	Identity string `json:"identity,omitempty"`
	DeviceID string `json:"device_id,omitempty"`
}

// Generator produces a recipe from preferences. Implementations are opaque
// to the quota logic.
type Generator interface {
	Generate(ctx context.Context, prefs Preferences) (*Recipe, error)
}

// Tracker meters a request before generation.
type Tracker interface {
	RecordRequest(ctx context.Context, identity string) error
	RecordAnonymousRequest(ctx context.Context, deviceID string) error
}

// Metrics receives generator call outcomes.
type Metrics interface {
	ObserveGeneration(d time.Duration, err error)
}

// Service meters every generation request and only calls the generator when
// the tracker admits it.
type Service struct {
	tracker   Tracker
	generator Generator
	metrics   Metrics
}

// NewService creates a Service.
func NewService(tracker Tracker, generator Generator) *Service {
	return &Service{tracker: tracker, generator: generator}
}

// SetMetrics sets the optional metrics recorder.
func (s *Service) SetMetrics(m Metrics) {
	s.metrics = m
}

// Generate meters the caller and, if admitted, generates a recipe. Any
// tracker error, including a store failure, blocks generation and is
// returned unchanged so callers can match quota errors.
func (s *Service) Generate(ctx context.Context, caller Caller, prefs Preferences) (*Recipe, error) {
	if err := prefs.Validate(); err != nil {
		return nil, err
	}

	var err error
	switch {
	case caller.Identity != "":
		err = s.tracker.RecordRequest(ctx, caller.Identity)
	case caller.DeviceID != "":
		err = s.tracker.RecordAnonymousRequest(ctx, caller.DeviceID)
	default:
		return nil, ErrNoCaller
	}
	if err != nil {
		return nil, err
	}

	start := time.Now()
	r, err := s.generator.Generate(ctx, prefs)
	if s.metrics != nil {
		s.metrics.ObserveGeneration(time.Since(start), err)
	}
	if err != nil {
		slog.Error("recipe generation failed", "identity", caller.Identity, "device_id", caller.DeviceID, "error", err)
		return nil, fmt.Errorf("%w: %w", ErrGeneration, err)
	}
	return r, nil
}
