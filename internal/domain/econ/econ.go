// Package econ implements the unit-economics calculators: Stage B landed
// cost, Stage C contribution margin, and the Stage A quick screen.
//
// All calculators are pure functions over integer cents. None of them
// perform stage-gate checks; gating is the caller's concern.
package econ

import "fmt"

// InvalidInputError reports a domain-invariant violation (negative cents,
// non-positive unit counts). Primitive shape validation is owned by the
// boundary; only invariants are re-checked here.
type InvalidInputError struct {
	Field  string
	Reason string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid input %s: %s", e.Field, e.Reason)
}

func invalid(field, reason string) error {
	return &InvalidInputError{Field: field, Reason: reason}
}
