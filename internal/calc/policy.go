// Package calc runs a complete tourist tax calculation: normalisation,
// filtering, evaluation, aggregation and document assembly.
package calc

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/tassa-soggiorno/tassa/internal/booking"
	"github.com/tassa-soggiorno/tassa/internal/export"
	"github.com/tassa-soggiorno/tassa/internal/levy"
	"github.com/tassa-soggiorno/tassa/internal/summary"
)

// ErrInvalidRequest marks input the caller must fix before retrying.
var ErrInvalidRequest = errors.New("calc: invalid request")

var validate = validator.New()

// PolicyInput is the wire and configuration shape of a tax policy. Unset
// fields fall back to the service defaults through Merge.
type PolicyInput struct {
	Structure      string           `json:"structure,omitempty" validate:"omitempty,max=64"`
	Rate           *decimal.Decimal `json:"rate,omitempty"`
	MaxNights      *int             `json:"max_nights,omitempty" validate:"omitempty,gte=1,lte=366"`
	MinAge         *int             `json:"min_age,omitempty" validate:"omitempty,gte=0,lte=120"`
	LiableStatuses []string         `json:"liable_statuses,omitempty" validate:"omitempty,dive,required"`
	Bucketing      string           `json:"bucketing,omitempty" validate:"omitempty,oneof=month quarter year-quarter"`
	ExemptNames    []string         `json:"exempt_names,omitempty" validate:"omitempty,dive,required"`
}

// Merge returns in with every unset field taken from base. Structure and rate
// travel together: a request naming its own structure takes that preset's
// rate unless it also sets one, never the rate of base.
func (in PolicyInput) Merge(base PolicyInput) PolicyInput {
	out := in
	if strings.TrimSpace(out.Structure) == "" {
		out.Structure = base.Structure
		if out.Rate == nil {
			out.Rate = base.Rate
		}
	}
	if out.MaxNights == nil {
		out.MaxNights = base.MaxNights
	}
	if out.MinAge == nil {
		out.MinAge = base.MinAge
	}
	if len(out.LiableStatuses) == 0 {
		out.LiableStatuses = base.LiableStatuses
	}
	if strings.TrimSpace(out.Bucketing) == "" {
		out.Bucketing = base.Bucketing
	}
	if len(out.ExemptNames) == 0 {
		out.ExemptNames = base.ExemptNames
	}
	return out
}

// Resolved is a validated policy ready for one run.
type Resolved struct {
	Policy    levy.Policy
	Filter    levy.Filter
	Bucketing summary.Bucketing
	Settings  export.Settings
}

// Resolve validates the input and builds the immutable run policy. An explicit
// rate wins over the structure preset; without either the default rate applies.
func (in PolicyInput) Resolve() (Resolved, error) {
	if err := validate.Struct(in); err != nil {
		return Resolved{}, invalid(describeValidation(err))
	}

	policy := levy.DefaultPolicy()
	settings := export.Settings{}
	if key := strings.TrimSpace(in.Structure); key != "" {
		preset, ok := levy.LookupPreset(key)
		if !ok {
			return Resolved{}, invalid(fmt.Sprintf("unknown structure %q", key))
		}
		policy.Rate = preset.Rate
		settings.Structure = preset.Label
	}
	if in.Rate != nil {
		policy.Rate = *in.Rate
	}
	if in.MaxNights != nil {
		policy.MaxNights = *in.MaxNights
	}
	if in.MinAge != nil {
		policy.MinAge = *in.MinAge
	}
	names := cleanNames(in.ExemptNames)
	policy.Exempt = levy.ExemptNames(names...)
	if err := policy.Validate(); err != nil {
		return Resolved{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	filter := levy.DefaultFilter()
	if len(in.LiableStatuses) > 0 {
		statuses := make([]booking.Status, 0, len(in.LiableStatuses))
		for _, raw := range in.LiableStatuses {
			st, err := parseLiableStatus(raw)
			if err != nil {
				return Resolved{}, err
			}
			statuses = append(statuses, st)
		}
		filter = levy.NewFilter(statuses...)
	}

	bucketing, err := summary.ParseBucketing(in.Bucketing)
	if err != nil {
		return Resolved{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	settings.Rate = policy.Rate
	settings.MaxNights = policy.MaxNights
	settings.MinAge = policy.MinAge
	settings.Bucketing = bucketing
	settings.LiableStatuses = filter.Statuses()
	settings.ExemptNames = names
	return Resolved{Policy: policy, Filter: filter, Bucketing: bucketing, Settings: settings}, nil
}

// IntPtr is a helper for building PolicyInput literals.
func IntPtr(v int) *int {
	return &v
}

// DecimalPtr is a helper for building PolicyInput literals.
func DecimalPtr(v decimal.Decimal) *decimal.Decimal {
	return &v
}

func parseLiableStatus(raw string) (booking.Status, error) {
	if booking.FoldText(raw) == string(booking.StatusOther) {
		return booking.StatusOther, nil
	}
	st, ok := booking.ParseStatus(raw)
	if !ok {
		return "", invalid(fmt.Sprintf("unknown liable status %q", raw))
	}
	return st, nil
}

func cleanNames(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			out = append(out, n)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func invalid(detail string) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, detail)
}

func describeValidation(err error) string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s must satisfy %s=%s", fe.Field(), fe.Tag(), fe.Param()))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s is %s", fe.Field(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}

// IsInvalid reports whether err stems from the request data rather than from
// the service, i.e. whether retrying unchanged input can never succeed.
func IsInvalid(err error) bool {
	for _, target := range []error{
		ErrInvalidRequest,
		booking.ErrMissingField,
		booking.ErrInvalidValue,
		booking.ErrEmptySheet,
		levy.ErrInvalidDateRange,
		levy.ErrInvalidOccupancy,
		levy.ErrInvalidPolicy,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
