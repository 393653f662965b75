package booking

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMissingField is matched by every MissingFieldError.
var ErrMissingField = errors.New("booking: required field missing")

// MissingFieldError lists canonical fields no source column maps to.
type MissingFieldError struct {
	Fields []string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("booking: missing required fields: %s", strings.Join(e.Fields, ", "))
}

// Is lets errors.Is(err, ErrMissingField) match.
func (e *MissingFieldError) Is(target error) bool {
	return target == ErrMissingField
}

// ErrInvalidValue is matched by every InvalidValueError.
var ErrInvalidValue = errors.New("booking: invalid value")

// InvalidValueError reports a required cell that could not be parsed.
type InvalidValueError struct {
	Row   int
	Field Field
	Value any
}

func (e *InvalidValueError) Error() string {
	return fmt.Sprintf("booking: row %d: cannot parse %s from %v", e.Row, e.Field, e.Value)
}

// Is lets errors.Is(err, ErrInvalidValue) match.
func (e *InvalidValueError) Is(target error) bool {
	return target == ErrInvalidValue
}

// WarningCode classifies a non-fatal data problem.
type WarningCode string

const (
	WarnChildAgeMismatch  WarningCode = "child_age_mismatch"
	WarnUnknownStatus     WarningCode = "unknown_status"
	WarnStatusDefaulted   WarningCode = "status_defaulted"
	WarnOccupantCountOnly WarningCode = "occupant_count_only"
	WarnUnparseableValue  WarningCode = "unparseable_value"
	WarnMissingGuestName  WarningCode = "missing_guest_name"
)

// Warning is a malformed-record notice. Evaluation continues with best-effort
// defaults and the warning travels with the report.
type Warning struct {
	Row     int         `json:"row,omitempty"`
	Guest   string      `json:"guest,omitempty"`
	Code    WarningCode `json:"code"`
	Message string      `json:"message"`
}

func (w Warning) String() string {
	if w.Row == 0 {
		return w.Message
	}
	if w.Guest == "" {
		return fmt.Sprintf("riga %d: %s", w.Row, w.Message)
	}
	return fmt.Sprintf("riga %d (%s): %s", w.Row, w.Guest, w.Message)
}
