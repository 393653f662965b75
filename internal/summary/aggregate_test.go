package summary

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/tassa-soggiorno/tassa/internal/booking"
	"github.com/tassa-soggiorno/tassa/internal/levy"
)

func evaluateSample(t *testing.T, filter levy.Filter) []levy.Evaluated {
	t.Helper()
	records, _, err := booking.NewNormalizer(nil).Normalize(booking.SampleRows())
	require.NoError(t, err)
	liable, _ := filter.Split(records)
	out := make([]levy.Evaluated, 0, len(liable))
	for _, r := range liable {
		ev, _, err := levy.Evaluate(r, levy.DefaultPolicy())
		require.NoError(t, err)
		out = append(out, ev)
	}
	return out
}

func sumRows(rows []levy.Evaluated) decimal.Decimal {
	total := decimal.Zero
	for _, r := range rows {
		total = total.Add(r.Amount)
	}
	return total
}

func sumPeriods(periods []PeriodTotal) decimal.Decimal {
	total := decimal.Zero
	for _, p := range periods {
		total = total.Add(p.Total)
	}
	return total
}

func TestAggregateSampleMonthly(t *testing.T) {
	report := Aggregate(evaluateSample(t, levy.DefaultFilter()), BucketMonth)

	require.Equal(t, "498", report.GrandTotal.String())
	require.Equal(t, 19, report.LiableCount)
	require.Equal(t, 47, report.TotalNights)
	require.Equal(t, 47, report.TotalTaxableNights)
	require.Equal(t, 37, report.TotalTaxablePersons)

	want := map[string]struct {
		total string
		count int
	}{
		"2025-03": {"12", 1},
		"2025-04": {"96", 4},
		"2025-05": {"222", 7},
		"2025-06": {"156", 6},
		"2025-07": {"12", 1},
	}
	require.Len(t, report.Periods, len(want))
	for key, w := range want {
		p, ok := report.Period(key)
		require.True(t, ok, key)
		require.Equal(t, w.total, p.Total.String(), key)
		require.Equal(t, w.count, p.Count, key)
	}
	require.Equal(t, "2025-03", report.Periods[0].Period)
	require.Equal(t, "2025-07", report.Periods[len(report.Periods)-1].Period)
}

func TestAggregateTotalsAreConsistent(t *testing.T) {
	for _, b := range []Bucketing{BucketMonth, BucketQuarter, BucketYearQuarter} {
		report := Aggregate(evaluateSample(t, levy.NewFilter(booking.StatusConfirmed, booking.StatusNoShow)), b)
		require.True(t, report.GrandTotal.Equal(sumRows(report.Reservations)), b)
		require.True(t, report.GrandTotal.Equal(sumPeriods(report.Periods)), b)

		seen := 0
		for _, p := range report.Periods {
			rowsTotal := decimal.Zero
			count := 0
			for _, r := range report.Reservations {
				if r.Period == p.Period {
					rowsTotal = rowsTotal.Add(r.Amount)
					count++
				}
			}
			require.True(t, rowsTotal.Equal(p.Total), "%s %s", b, p.Period)
			require.Equal(t, p.Count, count)
			seen += count
		}
		require.Equal(t, len(report.Reservations), seen)
		require.Equal(t, "516", report.GrandTotal.String())
	}
}

func TestAggregateQuarterLabels(t *testing.T) {
	report := Aggregate(evaluateSample(t, levy.DefaultFilter()), BucketQuarter)
	require.Len(t, report.Periods, 3)

	q2, ok := report.Period("Q2")
	require.True(t, ok)
	require.Equal(t, "474", q2.Total.String())
	require.Equal(t, 17, q2.Count)

	yq := Aggregate(evaluateSample(t, levy.DefaultFilter()), BucketYearQuarter)
	_, ok = yq.Period("2025-Q3")
	require.True(t, ok)
}

func TestBucketingPeriodBoundaries(t *testing.T) {
	cases := map[time.Month]string{
		time.January: "Q1", time.March: "Q1",
		time.April: "Q2", time.June: "Q2",
		time.July: "Q3", time.September: "Q3",
		time.October: "Q4", time.December: "Q4",
	}
	for m, want := range cases {
		require.Equal(t, want, BucketQuarter.Period(booking.Date(2025, m, 1)))
	}
	require.Equal(t, "2025-11", BucketMonth.Period(booking.Date(2025, time.November, 30)))
}

func TestAggregateEmptyInput(t *testing.T) {
	report := Aggregate(nil, BucketMonth)
	require.True(t, report.GrandTotal.IsZero())
	require.Empty(t, report.Periods)
	require.Empty(t, report.Reservations)
	require.Zero(t, report.LiableCount)
}

func TestAccumulatorMergeIsOrderIndependent(t *testing.T) {
	rows := evaluateSample(t, levy.DefaultFilter())
	whole := Aggregate(rows, BucketMonth)

	left, right := NewAccumulator(BucketMonth), NewAccumulator(BucketMonth)
	for i, r := range rows {
		if i%3 == 0 {
			left.Add(r)
		} else {
			right.Add(r)
		}
	}
	right.Merge(left)
	merged := right.Report()

	require.True(t, whole.GrandTotal.Equal(merged.GrandTotal))
	require.Equal(t, len(whole.Periods), len(merged.Periods))
	for i := range whole.Periods {
		require.Equal(t, whole.Periods[i].Period, merged.Periods[i].Period)
		require.True(t, whole.Periods[i].Total.Equal(merged.Periods[i].Total))
		require.Equal(t, whole.Periods[i].Count, merged.Periods[i].Count)
	}
	for i := range whole.Reservations {
		require.Equal(t, whole.Reservations[i].Record.Row, merged.Reservations[i].Record.Row)
	}
}

func TestAggregateNoPennyDrift(t *testing.T) {
	policy := levy.DefaultPolicy()
	policy.Rate = decimal.RequireFromString("0.10")
	in := booking.Date(2025, time.January, 1)
	rows := make([]levy.Evaluated, 0, 1000)
	for i := 0; i < 1000; i++ {
		r := booking.Record{Row: i + 1, GuestName: "g", CheckIn: in.AddDate(0, 0, i%300), CheckOut: in.AddDate(0, 0, i%300+1), Adults: 1, Status: booking.StatusConfirmed}
		ev, _, err := levy.Evaluate(r, policy)
		require.NoError(t, err)
		rows = append(rows, ev)
	}
	report := Aggregate(rows, BucketMonth)
	require.Equal(t, "100", report.GrandTotal.String())
	require.True(t, report.GrandTotal.Equal(sumPeriods(report.Periods)))
}

func TestParseBucketing(t *testing.T) {
	b, err := ParseBucketing("")
	require.NoError(t, err)
	require.Equal(t, BucketMonth, b)
	b, err = ParseBucketing(" Quarter ")
	require.NoError(t, err)
	require.Equal(t, BucketQuarter, b)
	_, err = ParseBucketing("week")
	require.ErrorIs(t, err, ErrUnknownBucketing)
}
