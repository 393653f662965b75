// Package levy applies the municipal tourist tax rules to single reservations.
package levy

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/tassa-soggiorno/tassa/internal/booking"
)

// ErrInvalidPolicy indicates a policy that cannot drive a calculation.
var ErrInvalidPolicy = errors.New("levy: invalid policy")

// Exemption reports whether a reservation is fully exempt from the levy.
type Exemption func(booking.Record) bool

// Policy is the immutable rule set for one calculation run.
type Policy struct {
	Rate      decimal.Decimal
	MaxNights int
	MinAge    int
	Exempt    Exemption
}

// DefaultPolicy returns the Rome holiday-home rules: €6 per person per night,
// at most 10 taxable nights, children under 10 exempt.
func DefaultPolicy() Policy {
	return Policy{
		Rate:      decimal.NewFromInt(6),
		MaxNights: 10,
		MinAge:    10,
	}
}

// Validate checks the numeric bounds of the policy.
func (p Policy) Validate() error {
	if p.Rate.IsNegative() {
		return fmt.Errorf("%w: rate must not be negative", ErrInvalidPolicy)
	}
	if p.MaxNights < 1 {
		return fmt.Errorf("%w: max nights must be positive", ErrInvalidPolicy)
	}
	if p.MinAge < 0 {
		return fmt.Errorf("%w: minimum age must not be negative", ErrInvalidPolicy)
	}
	return nil
}

// ExemptNames matches records whose guest name equals one of names after
// case, accent and whitespace folding.
func ExemptNames(names ...string) Exemption {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		key := booking.FoldText(n)
		if key == "" {
			continue
		}
		set[key] = struct{}{}
	}
	if len(set) == 0 {
		return nil
	}
	return func(r booking.Record) bool {
		_, ok := set[booking.FoldText(r.GuestName)]
		return ok
	}
}

// AnyExemption combines rules; a record is exempt when one of them matches.
func AnyExemption(rules ...Exemption) Exemption {
	active := make([]Exemption, 0, len(rules))
	for _, r := range rules {
		if r != nil {
			active = append(active, r)
		}
	}
	if len(active) == 0 {
		return nil
	}
	return func(rec booking.Record) bool {
		for _, r := range active {
			if r(rec) {
				return true
			}
		}
		return false
	}
}

// Preset is a structure category with its official nightly rate.
type Preset struct {
	Key   string          `json:"key"`
	Label string          `json:"label"`
	Rate  decimal.Decimal `json:"rate"`
}

// Presets lists the 2024 Rome rates per accommodation category.
var Presets = []Preset{
	{Key: "hotel-5", Label: "Strutture ricettive alberghiere 5 stelle", Rate: decimal.RequireFromString("7.00")},
	{Key: "hotel-4", Label: "Strutture ricettive alberghiere 4 stelle", Rate: decimal.RequireFromString("6.00")},
	{Key: "hotel-3", Label: "Strutture ricettive alberghiere 3 stelle", Rate: decimal.RequireFromString("4.00")},
	{Key: "hotel-2", Label: "Strutture ricettive alberghiere 2 stelle", Rate: decimal.RequireFromString("3.00")},
	{Key: "hotel-1", Label: "Strutture ricettive alberghiere 1 stella", Rate: decimal.RequireFromString("2.00")},
	{Key: "holiday-home", Label: "Casa vacanze/Appartamento", Rate: decimal.RequireFromString("6.00")},
	{Key: "bnb", Label: "Bed & Breakfast", Rate: decimal.RequireFromString("2.00")},
}

// DefaultPresetKey is the category used when none is configured.
const DefaultPresetKey = "holiday-home"

// LookupPreset finds a preset by key, case-insensitively.
func LookupPreset(key string) (Preset, bool) {
	key = strings.ToLower(strings.TrimSpace(key))
	for _, p := range Presets {
		if p.Key == key {
			return p, true
		}
	}
	return Preset{}, false
}
