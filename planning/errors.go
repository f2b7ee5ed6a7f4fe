/*
errors.go - Centralized error types for the planning engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  The HTTP layer maps them to status codes via the Is* helpers.

ERROR CATEGORIES:
  1. Validation errors - bad input, rejected before any mutation
  2. Capacity errors   - the plan could not be laid down in full
  3. Concurrency       - optimistic retry budget exhausted
  4. Warnings          - partial cancellation, unresolved balances
  5. Store errors      - missing records, closed distributions

USAGE:
  if errors.Is(err, planning.ErrInsufficientCapacity) {
      var ice *planning.InsufficientCapacityError
      errors.As(err, &ice) // ice.Placed, ice.Partial
  }

SEE ALSO:
  - allocator.go, balance.go, closing.go: produce these errors
  - api/handlers.go: maps them to HTTP responses
*/
package planning

import (
	"errors"
	"fmt"
	"strings"

	"github.com/warp/pcp-engine/calendar"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation marks malformed or out-of-range input.
	ErrValidation = errors.New("validation failed")

	// ErrInsufficientCapacity is returned when a quantity could not be placed
	// within the lookahead window.
	ErrInsufficientCapacity = errors.New("insufficient capacity")

	// ErrConcurrentModification is returned by a store when the group version
	// changed between read and write.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrUnresolvedBalance is returned when propagation could not absorb a
	// balance in full.
	ErrUnresolvedBalance = errors.New("unresolved balance")

	// ErrDistributionClosed is returned for any mutation of a closed distribution.
	ErrDistributionClosed = errors.New("distribution is closed")

	ErrOrderNotFound = errors.New("production order not found")
	ErrGroupNotFound = errors.New("production group not found")
	ErrModelNotFound = errors.New("piece model not found")
	ErrDayNotFound   = errors.New("distribution day not found")
	ErrSlotNotFound  = errors.New("slot not found")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError describes a rejected input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// InsufficientCapacityError reports how much of a request was placed.
// Partial holds the placements that did fit; nothing is persisted.
type InsufficientCapacityError struct {
	Requested     int
	Placed        int
	LookaheadDays int
	Partial       *AllocationResult
}

func (e *InsufficientCapacityError) Error() string {
	return fmt.Sprintf("could only distribute %d of %d requested units across the next %d days",
		e.Placed, e.Requested, e.LookaheadDays)
}

func (e *InsufficientCapacityError) Unwrap() error {
	return ErrInsufficientCapacity
}

// ConcurrentAllocationConflict is returned once the retry budget is spent.
type ConcurrentAllocationConflict struct {
	GroupID  GroupID
	Attempts int
}

func (e *ConcurrentAllocationConflict) Error() string {
	return fmt.Sprintf("concurrent allocation conflict on group %s after %d attempts", e.GroupID, e.Attempts)
}

func (e *ConcurrentAllocationConflict) Unwrap() error {
	return ErrConcurrentModification
}

// SurvivingSlot is a slot kept by cancellation because it has recorded output.
type SurvivingSlot struct {
	Date   calendar.Date
	Span   calendar.Span
	SlotID SlotID
	Actual int
}

// PartialCancellationWarning lists slots that cancellation had to keep.
// Cancellation itself succeeded.
type PartialCancellationWarning struct {
	Survivors []SurvivingSlot
}

func (w *PartialCancellationWarning) Error() string {
	return fmt.Sprintf("cancellation kept %d slot(s) with recorded output", len(w.Survivors))
}

// UnresolvedBalance is a balance left on its origin day. Amount is signed:
// negative for a shortfall, positive for an overage.
type UnresolvedBalance struct {
	Date   calendar.Date
	Amount int
}

// UnresolvedBalanceError wraps the balances propagation could not absorb.
type UnresolvedBalanceError struct {
	Balances []UnresolvedBalance
}

func (e *UnresolvedBalanceError) Error() string {
	parts := make([]string, 0, len(e.Balances))
	for _, b := range e.Balances {
		parts = append(parts, fmt.Sprintf("%s: %+d", b.Date, b.Amount))
	}
	return "unresolved balance (" + strings.Join(parts, ", ") + ")"
}

func (e *UnresolvedBalanceError) Unwrap() error {
	return ErrUnresolvedBalance
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrOrderNotFound) ||
		errors.Is(err, ErrGroupNotFound) ||
		errors.Is(err, ErrModelNotFound) ||
		errors.Is(err, ErrDayNotFound) ||
		errors.Is(err, ErrSlotNotFound)
}
