package levy

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tassa-soggiorno/tassa/internal/booking"
)

// PersonsMode tells how the taxable head count was derived.
type PersonsMode string

const (
	// PersonsAgeAware counts every adult plus children at or above the minimum age.
	PersonsAgeAware PersonsMode = "age_aware"
	// PersonsOccupantCount counts every occupant; no age exemption is applied
	// because the source carries no adult/child breakdown.
	PersonsOccupantCount PersonsMode = "occupant_count"
)

// Evaluated is a reservation with its derived levy figures.
type Evaluated struct {
	Record         booking.Record  `json:"record"`
	Nights         int             `json:"nights"`
	TaxableNights  int             `json:"taxable_nights"`
	TaxablePersons int             `json:"taxable_persons"`
	Mode           PersonsMode     `json:"persons_mode"`
	Exempt         bool            `json:"exempt"`
	Amount         decimal.Decimal `json:"amount"`
	// Period is filled in by the aggregator from the check-in date.
	Period string `json:"period,omitempty"`
}

// ErrInvalidDateRange is matched by every InvalidDateRangeError.
var ErrInvalidDateRange = errors.New("levy: check-out must follow check-in")

// InvalidDateRangeError reports a stay of zero or negative nights.
type InvalidDateRangeError struct {
	Row      int
	Guest    string
	CheckIn  time.Time
	CheckOut time.Time
}

func (e *InvalidDateRangeError) Error() string {
	return fmt.Sprintf("levy: row %d (%s): check-out %s is not after check-in %s",
		e.Row, e.Guest, e.CheckOut.Format(time.DateOnly), e.CheckIn.Format(time.DateOnly))
}

// Is lets errors.Is(err, ErrInvalidDateRange) match.
func (e *InvalidDateRangeError) Is(target error) bool {
	return target == ErrInvalidDateRange
}

// ErrInvalidOccupancy flags negative or implausibly large head counts or ages
// on a typed record. Counts are bounded by booking.MaxCount.
var ErrInvalidOccupancy = errors.New("levy: invalid occupancy")

// Evaluate computes nights, taxable persons and amount for one record.
// Amount = persons × taxable nights × rate, rounded half away from zero to
// cents. Exempt records keep their breakdown but carry a zero amount.
func Evaluate(r booking.Record, p Policy) (Evaluated, []booking.Warning, error) {
	nights := Nights(r.CheckIn, r.CheckOut)
	if nights <= 0 {
		return Evaluated{}, nil, &InvalidDateRangeError{Row: r.Row, Guest: r.GuestName, CheckIn: r.CheckIn, CheckOut: r.CheckOut}
	}
	if err := checkOccupancy(r); err != nil {
		return Evaluated{}, nil, err
	}

	ev := Evaluated{
		Record:        r,
		Nights:        nights,
		TaxableNights: min(nights, p.MaxNights),
	}
	if ev.TaxableNights < 0 {
		ev.TaxableNights = 0
	}

	var warnings []booking.Warning
	if r.HasBreakdown() {
		ev.Mode = PersonsAgeAware
		ev.TaxablePersons = r.Adults
		for _, age := range r.ChildAges {
			if age >= p.MinAge {
				ev.TaxablePersons++
			}
		}
		if len(r.ChildAges) != r.Children {
			warnings = append(warnings, booking.Warning{
				Row:   r.Row,
				Guest: r.GuestName,
				Code:  booking.WarnChildAgeMismatch,
				Message: fmt.Sprintf("bambini dichiarati %d, età indicate %d: conteggiati solo i bambini con età nota",
					r.Children, len(r.ChildAges)),
			})
		}
	} else {
		ev.Mode = PersonsOccupantCount
		ev.TaxablePersons = *r.Occupants
		warnings = append(warnings, booking.Warning{
			Row:     r.Row,
			Guest:   r.GuestName,
			Code:    booking.WarnOccupantCountOnly,
			Message: "solo numero ospiti disponibile: esenzione per età non applicata",
		})
	}

	if p.Exempt != nil && p.Exempt(r) {
		ev.Exempt = true
		ev.Amount = decimal.Zero
		return ev, warnings, nil
	}
	ev.Amount = decimal.NewFromInt(int64(ev.TaxablePersons)).
		Mul(decimal.NewFromInt(int64(ev.TaxableNights))).
		Mul(p.Rate).
		Round(2)
	return ev, warnings, nil
}

// Nights counts calendar days between check-in and check-out, ignoring any
// time-of-day component.
func Nights(checkIn, checkOut time.Time) int {
	in := booking.Date(checkIn.Date())
	out := booking.Date(checkOut.Date())
	return int(out.Sub(in).Hours() / 24)
}

func checkOccupancy(r booking.Record) error {
	counts := []int{r.Adults, r.Children, len(r.ChildAges)}
	if r.Occupants != nil {
		counts = append(counts, *r.Occupants)
	}
	for _, n := range counts {
		if n < 0 || n > booking.MaxCount {
			return fmt.Errorf("%w: row %d (%s) count %d", ErrInvalidOccupancy, r.Row, r.GuestName, n)
		}
	}
	for _, age := range r.ChildAges {
		if age < 0 || age > booking.MaxCount {
			return fmt.Errorf("%w: row %d (%s) child age %d", ErrInvalidOccupancy, r.Row, r.GuestName, age)
		}
	}
	return nil
}
