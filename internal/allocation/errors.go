package allocation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/groupspend/groupspend/internal/money"
	"github.com/groupspend/groupspend/internal/shared"
)

var (
	// ErrAllocation matches every share validation failure.
	ErrAllocation = errors.New("allocation: invalid shares")
	// ErrNoMembers indicates a split over an empty member list.
	ErrNoMembers = fmt.Errorf("allocation: at least one member required: %w", shared.ErrValidation)
)

func isAllocation(target error) bool {
	return target == ErrAllocation || target == shared.ErrValidation
}

// MismatchError reports shares that do not sum to the expense amount.
type MismatchError struct {
	Expected money.Money
	Actual   money.Money
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("allocation: shares sum to %s, expected %s", e.Actual, e.Expected)
}

func (e *MismatchError) Is(target error) bool { return isAllocation(target) }

func (e *MismatchError) FieldErrors() []shared.FieldError {
	return []shared.FieldError{{Field: "shares", Message: fmt.Sprintf("shares sum to %s but the expense is %s", e.Actual, e.Expected)}}
}

// UnknownMemberError reports a share for a user outside the group.
type UnknownMemberError struct {
	UserID string
}

func (e *UnknownMemberError) Error() string {
	return fmt.Sprintf("allocation: %s is not a member of the group", e.UserID)
}

func (e *UnknownMemberError) Is(target error) bool { return isAllocation(target) }

func (e *UnknownMemberError) FieldErrors() []shared.FieldError {
	return []shared.FieldError{{Field: "shares." + e.UserID, Message: "not a member of the group"}}
}

// DuplicateMemberError reports two shares for the same user.
type DuplicateMemberError struct {
	UserID string
}

func (e *DuplicateMemberError) Error() string {
	return fmt.Sprintf("allocation: duplicate share for %s", e.UserID)
}

func (e *DuplicateMemberError) Is(target error) bool { return isAllocation(target) }

func (e *DuplicateMemberError) FieldErrors() []shared.FieldError {
	return []shared.FieldError{{Field: "shares." + e.UserID, Message: "appears more than once"}}
}

// NegativeShareError reports a share below zero.
type NegativeShareError struct {
	UserID string
	Amount money.Money
}

func (e *NegativeShareError) Error() string {
	return fmt.Sprintf("allocation: share for %s is negative (%s)", e.UserID, e.Amount)
}

func (e *NegativeShareError) Is(target error) bool { return isAllocation(target) }

func (e *NegativeShareError) FieldErrors() []shared.FieldError {
	return []shared.FieldError{{Field: "shares." + e.UserID, Message: "must not be negative"}}
}

// ShareOverflowError reports shares whose sum leaves the int64 minor range.
type ShareOverflowError struct {
	Expected money.Money
}

func (e *ShareOverflowError) Error() string {
	return fmt.Sprintf("allocation: shares overflow, expected %s", e.Expected)
}

func (e *ShareOverflowError) Is(target error) bool {
	return isAllocation(target) || target == money.ErrOverflow
}

func (e *ShareOverflowError) FieldErrors() []shared.FieldError {
	return []shared.FieldError{{Field: "shares", Message: "sum exceeds the supported range"}}
}

// DraftError ties a validation failure to the draft that caused it.
type DraftError struct {
	Index int
	Name  string
	Err   error
}

func (e *DraftError) Error() string {
	return fmt.Sprintf("allocation: expense %d (%s): %v", e.Index, e.Name, e.Err)
}

func (e *DraftError) Unwrap() error { return e.Err }

// FieldErrors prefixes the inner field errors with the draft position.
func (e *DraftError) FieldErrors() []shared.FieldError {
	prefix := fmt.Sprintf("expenses[%d]", e.Index)
	var fe shared.FieldErrorer
	if errors.As(e.Err, &fe) {
		inner := fe.FieldErrors()
		out := make([]shared.FieldError, 0, len(inner))
		for _, f := range inner {
			out = append(out, shared.FieldError{Field: prefix + "." + f.Field, Message: f.Message})
		}
		return out
	}
	return []shared.FieldError{{Field: prefix, Message: strings.TrimPrefix(e.Err.Error(), "allocation: ")}}
}

// FieldError reports a malformed draft field.
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("allocation: %s %s", e.Field, e.Message)
}

func (e *FieldError) Is(target error) bool { return target == shared.ErrValidation }

func (e *FieldError) FieldErrors() []shared.FieldError {
	return []shared.FieldError{{Field: e.Field, Message: e.Message}}
}
