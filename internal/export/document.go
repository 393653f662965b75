// Package export flattens an aggregation report into the document consumed by
// the CSV and PDF renderers. Renderers read amounts from the document and never
// recompute them.
package export

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tassa-soggiorno/tassa/internal/booking"
	"github.com/tassa-soggiorno/tassa/internal/levy"
	"github.com/tassa-soggiorno/tassa/internal/summary"
)

// DefaultTitle heads every document unless overridden.
const DefaultTitle = "Tassa di soggiorno"

// ErrInconsistent is returned by Verify when row amounts and totals disagree.
var ErrInconsistent = errors.New("export: document totals do not match rows")

// Settings echoes the policy a document was computed with.
type Settings struct {
	Structure      string            `json:"structure,omitempty"`
	Rate           decimal.Decimal   `json:"rate"`
	MaxNights      int               `json:"max_nights"`
	MinAge         int               `json:"min_age"`
	Bucketing      summary.Bucketing `json:"bucketing"`
	LiableStatuses []booking.Status  `json:"liable_statuses"`
	ExemptNames    []string          `json:"exempt_names,omitempty"`
}

// Row is one liable reservation with every derived figure.
type Row struct {
	SourceRow      int              `json:"source_row"`
	Guest          string           `json:"guest"`
	CheckIn        time.Time        `json:"check_in"`
	CheckOut       time.Time        `json:"check_out"`
	Adults         int              `json:"adults"`
	Children       int              `json:"children"`
	ChildAges      []int            `json:"child_ages,omitempty"`
	Nights         int              `json:"nights"`
	TaxableNights  int              `json:"taxable_nights"`
	TaxablePersons int              `json:"taxable_persons"`
	Mode           levy.PersonsMode `json:"persons_mode"`
	Exempt         bool             `json:"exempt"`
	Amount         decimal.Decimal  `json:"amount"`
	Status         booking.Status   `json:"status"`
	StatusLabel    string           `json:"status_label"`
	Period         string           `json:"period"`
}

// PeriodLine is one entry of the trailing summary section.
type PeriodLine struct {
	Period        string          `json:"period"`
	Count         int             `json:"count"`
	Nights        int             `json:"nights"`
	TaxableNights int             `json:"taxable_nights"`
	Total         decimal.Decimal `json:"total"`
}

// Stats are the headline figures of a run.
type Stats struct {
	LiableCount         int `json:"liable_count"`
	ExcludedCount       int `json:"excluded_count"`
	ExemptCount         int `json:"exempt_count"`
	TotalNights         int `json:"total_nights"`
	TotalTaxableNights  int `json:"total_taxable_nights"`
	TotalTaxablePersons int `json:"total_taxable_persons"`
}

// Document is the export-ready view of a run.
type Document struct {
	Title       string            `json:"title"`
	GeneratedAt time.Time         `json:"generated_at"`
	Settings    Settings          `json:"settings"`
	Rows        []Row             `json:"rows"`
	Periods     []PeriodLine      `json:"periods"`
	GrandTotal  decimal.Decimal   `json:"grand_total"`
	Stats       Stats             `json:"stats"`
	Warnings    []booking.Warning `json:"warnings"`
}

// Options carries the run context that is not part of the report itself.
type Options struct {
	Title       string
	GeneratedAt time.Time
	Settings    Settings
	// Excluded is the number of records the filter left out.
	Excluded int
	Warnings []booking.Warning
}

// Assemble flattens report into a Document. Rows keep the report order.
func Assemble(report summary.Report, opts Options) Document {
	doc := Document{
		Title:       strings.TrimSpace(opts.Title),
		GeneratedAt: opts.GeneratedAt,
		Settings:    opts.Settings,
		Rows:        make([]Row, 0, len(report.Reservations)),
		Periods:     make([]PeriodLine, 0, len(report.Periods)),
		GrandTotal:  report.GrandTotal,
		Stats: Stats{
			LiableCount:         report.LiableCount,
			ExcludedCount:       opts.Excluded,
			ExemptCount:         report.ExemptCount,
			TotalNights:         report.TotalNights,
			TotalTaxableNights:  report.TotalTaxableNights,
			TotalTaxablePersons: report.TotalTaxablePersons,
		},
		Warnings: append([]booking.Warning{}, opts.Warnings...),
	}
	if doc.Title == "" {
		doc.Title = DefaultTitle
	}
	if doc.GeneratedAt.IsZero() {
		doc.GeneratedAt = time.Now().UTC()
	}
	if doc.Settings.Bucketing == "" {
		doc.Settings.Bucketing = report.Bucketing
	}
	for _, ev := range report.Reservations {
		rec := ev.Record
		doc.Rows = append(doc.Rows, Row{
			SourceRow:      rec.Row,
			Guest:          rec.GuestName,
			CheckIn:        rec.CheckIn,
			CheckOut:       rec.CheckOut,
			Adults:         rec.Adults,
			Children:       rec.Children,
			ChildAges:      rec.ChildAges,
			Nights:         ev.Nights,
			TaxableNights:  ev.TaxableNights,
			TaxablePersons: ev.TaxablePersons,
			Mode:           ev.Mode,
			Exempt:         ev.Exempt,
			Amount:         ev.Amount,
			Status:         rec.Status,
			StatusLabel:    rec.Status.Label(),
			Period:         ev.Period,
		})
	}
	for _, p := range report.Periods {
		doc.Periods = append(doc.Periods, PeriodLine{
			Period:        p.Period,
			Count:         p.Count,
			Nights:        p.Nights,
			TaxableNights: p.TaxableNights,
			Total:         p.Total,
		})
	}
	return doc
}

// Verify checks that every period total equals the sum of its rows and that
// the grand total equals both the row sum and the period sum.
func (d Document) Verify() error {
	byPeriod := make(map[string]decimal.Decimal, len(d.Periods))
	rowTotal := decimal.Zero
	for _, row := range d.Rows {
		byPeriod[row.Period] = byPeriod[row.Period].Add(row.Amount)
		rowTotal = rowTotal.Add(row.Amount)
	}
	periodTotal := decimal.Zero
	for _, p := range d.Periods {
		if got := byPeriod[p.Period]; !got.Equal(p.Total) {
			return fmt.Errorf("%w: period %s rows %s total %s", ErrInconsistent, p.Period, got.StringFixed(2), p.Total.StringFixed(2))
		}
		delete(byPeriod, p.Period)
		periodTotal = periodTotal.Add(p.Total)
	}
	for period := range byPeriod {
		return fmt.Errorf("%w: rows in period %s have no summary line", ErrInconsistent, period)
	}
	if !rowTotal.Equal(d.GrandTotal) || !periodTotal.Equal(d.GrandTotal) {
		return fmt.Errorf("%w: grand total %s, rows %s, periods %s", ErrInconsistent,
			d.GrandTotal.StringFixed(2), rowTotal.StringFixed(2), periodTotal.StringFixed(2))
	}
	return nil
}

// FileName returns the download name for ext, e.g. tasse_soggiorno_20250701.csv.
func (d Document) FileName(ext string) string {
	ext = strings.TrimPrefix(ext, ".")
	return fmt.Sprintf("tasse_soggiorno_%s.%s", d.GeneratedAt.Format("20060102"), ext)
}
