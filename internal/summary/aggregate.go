// Package summary groups evaluated reservations into period totals.
package summary

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tassa-soggiorno/tassa/internal/levy"
)

// Bucketing selects how check-in dates map to period keys.
type Bucketing string

const (
	// BucketMonth groups by calendar month, "2025-04".
	BucketMonth Bucketing = "month"
	// BucketQuarter groups by quarter label only, "Q2".
	BucketQuarter Bucketing = "quarter"
	// BucketYearQuarter groups by year and quarter, "2025-Q2".
	BucketYearQuarter Bucketing = "year-quarter"
)

// ErrUnknownBucketing is returned for an unsupported strategy name.
var ErrUnknownBucketing = errors.New("summary: unknown bucketing")

// ParseBucketing accepts the strategy names above; empty means month.
func ParseBucketing(s string) (Bucketing, error) {
	switch Bucketing(strings.ToLower(strings.TrimSpace(s))) {
	case "", BucketMonth:
		return BucketMonth, nil
	case BucketQuarter:
		return BucketQuarter, nil
	case BucketYearQuarter:
		return BucketYearQuarter, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownBucketing, s)
}

// Period returns the bucket key for a check-in date.
func (b Bucketing) Period(t time.Time) string {
	q := (int(t.Month())-1)/3 + 1
	switch b {
	case BucketQuarter:
		return fmt.Sprintf("Q%d", q)
	case BucketYearQuarter:
		return fmt.Sprintf("%04d-Q%d", t.Year(), q)
	default:
		return t.Format("2006-01")
	}
}

// PeriodTotal is one bucket of the report.
type PeriodTotal struct {
	Period        string          `json:"period"`
	Total         decimal.Decimal `json:"total"`
	Count         int             `json:"count"`
	Nights        int             `json:"nights"`
	TaxableNights int             `json:"taxable_nights"`
}

// Report is the aggregation of one run.
type Report struct {
	Bucketing    Bucketing        `json:"bucketing"`
	Reservations []levy.Evaluated `json:"reservations"`
	Periods      []PeriodTotal    `json:"periods"`
	GrandTotal   decimal.Decimal  `json:"grand_total"`

	LiableCount         int `json:"liable_count"`
	ExemptCount         int `json:"exempt_count"`
	TotalNights         int `json:"total_nights"`
	TotalTaxableNights  int `json:"total_taxable_nights"`
	TotalTaxablePersons int `json:"total_taxable_persons"`
}

// Period looks up the bucket with the given key.
func (r Report) Period(key string) (PeriodTotal, bool) {
	for _, p := range r.Periods {
		if p.Period == key {
			return p, true
		}
	}
	return PeriodTotal{}, false
}

// Aggregate buckets liable evaluated reservations and totals them.
func Aggregate(evaluated []levy.Evaluated, b Bucketing) Report {
	acc := NewAccumulator(b)
	for _, ev := range evaluated {
		acc.Add(ev)
	}
	return acc.Report()
}

// Accumulator collects partial sums. Accumulators built over disjoint record
// sets can be merged in any order with the same result.
type Accumulator struct {
	bucketing Bucketing
	rows      []levy.Evaluated
	periods   map[string]*PeriodTotal
	total     decimal.Decimal
	exempt    int
	nights    int
	taxNights int
	persons   int
}

// NewAccumulator returns an empty accumulator for strategy b.
func NewAccumulator(b Bucketing) *Accumulator {
	return &Accumulator{bucketing: b, periods: make(map[string]*PeriodTotal), total: decimal.Zero}
}

// Add records one evaluated reservation in its bucket.
func (a *Accumulator) Add(ev levy.Evaluated) {
	ev.Period = a.bucketing.Period(ev.Record.CheckIn)
	a.rows = append(a.rows, ev)
	bucket := a.bucket(ev.Period)
	bucket.Total = bucket.Total.Add(ev.Amount)
	bucket.Count++
	bucket.Nights += ev.Nights
	bucket.TaxableNights += ev.TaxableNights

	a.total = a.total.Add(ev.Amount)
	a.nights += ev.Nights
	a.taxNights += ev.TaxableNights
	a.persons += ev.TaxablePersons
	if ev.Exempt {
		a.exempt++
	}
}

// Merge folds other into a. Both must use the same bucketing.
func (a *Accumulator) Merge(other *Accumulator) {
	if other == nil {
		return
	}
	a.rows = append(a.rows, other.rows...)
	for key, p := range other.periods {
		bucket := a.bucket(key)
		bucket.Total = bucket.Total.Add(p.Total)
		bucket.Count += p.Count
		bucket.Nights += p.Nights
		bucket.TaxableNights += p.TaxableNights
	}
	a.total = a.total.Add(other.total)
	a.nights += other.nights
	a.taxNights += other.taxNights
	a.persons += other.persons
	a.exempt += other.exempt
}

// Report freezes the accumulated state. Reservations are ordered by check-in,
// ties by source row; periods are ordered by key.
func (a *Accumulator) Report() Report {
	rows := append([]levy.Evaluated(nil), a.rows...)
	sort.SliceStable(rows, func(i, j int) bool {
		ci, cj := rows[i].Record.CheckIn, rows[j].Record.CheckIn
		if !ci.Equal(cj) {
			return ci.Before(cj)
		}
		return rows[i].Record.Row < rows[j].Record.Row
	})
	periods := make([]PeriodTotal, 0, len(a.periods))
	for _, p := range a.periods {
		periods = append(periods, *p)
	}
	sort.Slice(periods, func(i, j int) bool { return periods[i].Period < periods[j].Period })
	if rows == nil {
		rows = []levy.Evaluated{}
	}
	return Report{
		Bucketing:           a.bucketing,
		Reservations:        rows,
		Periods:             periods,
		GrandTotal:          a.total,
		LiableCount:         len(rows),
		ExemptCount:         a.exempt,
		TotalNights:         a.nights,
		TotalTaxableNights:  a.taxNights,
		TotalTaxablePersons: a.persons,
	}
}

func (a *Accumulator) bucket(key string) *PeriodTotal {
	p, ok := a.periods[key]
	if !ok {
		p = &PeriodTotal{Period: key, Total: decimal.Zero}
		a.periods[key] = p
	}
	return p
}
