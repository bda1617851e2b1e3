package storage

import (
	"fmt"
	"strings"
)

var fieldAccessors = map[string]func(*WorkoutRecord) bool{
	"title":        func(r *WorkoutRecord) bool { return strings.TrimSpace(r.Title) != "" },
	"trainer":      func(r *WorkoutRecord) bool { return strings.TrimSpace(r.Trainer) != "" },
	"duration":     func(r *WorkoutRecord) bool { return strings.TrimSpace(r.Duration) != "" },
	"genre":        func(r *WorkoutRecord) bool { return strings.TrimSpace(r.Genre) != "" },
	"category":     func(r *WorkoutRecord) bool { return strings.TrimSpace(r.Category) != "" },
	"episode":      func(r *WorkoutRecord) bool { return strings.TrimSpace(r.Episode) != "" },
	"workout_type": func(r *WorkoutRecord) bool { return strings.TrimSpace(r.WorkoutType) != "" },
	"date":         func(r *WorkoutRecord) bool { return strings.TrimSpace(r.Date) != "" },
	"songs":        func(r *WorkoutRecord) bool { return len(r.Songs) > 0 },
}

// DefaultRequiredFields are checked when no configuration is given.
var DefaultRequiredFields = []string{"trainer", "duration", "genre"}

// Evaluator decides whether a record must be refetched.
type Evaluator struct {
	required []string
	checks   []func(*WorkoutRecord) bool
}

// NewEvaluator builds an evaluator for the named required fields. An empty
// list selects DefaultRequiredFields; unknown names are an error.
func NewEvaluator(required []string) (*Evaluator, error) {
	if len(required) == 0 {
		required = DefaultRequiredFields
	}
	e := &Evaluator{}
	seen := make(map[string]bool)
	for _, name := range required {
		name = strings.ToLower(strings.TrimSpace(name))
		if seen[name] {
			continue
		}
		check, ok := fieldAccessors[name]
		if !ok {
			return nil, fmt.Errorf("unknown required field %q", name)
		}
		seen[name] = true
		e.required = append(e.required, name)
		e.checks = append(e.checks, check)
	}
	return e, nil
}

// DefaultEvaluator checks DefaultRequiredFields.
func DefaultEvaluator() *Evaluator {
	e, _ := NewEvaluator(nil)
	return e
}

// Required returns the normalized list of required field names.
func (e *Evaluator) Required() []string {
	return append([]string(nil), e.required...)
}

// Evaluate returns true when the record lacks a canonical URL or any
// required field.
func (e *Evaluator) Evaluate(r *WorkoutRecord) bool {
	if r.CanonicalURL == "" {
		return true
	}
	for _, ok := range e.checks {
		if !ok(r) {
			return true
		}
	}
	return false
}
