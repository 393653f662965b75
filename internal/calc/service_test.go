package calc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/tassa-soggiorno/tassa/internal/booking"
	"github.com/tassa-soggiorno/tassa/internal/levy"
	"github.com/tassa-soggiorno/tassa/internal/platform/cache"
)

var fixedNow = time.Date(2025, time.July, 1, 8, 0, 0, 0, time.UTC)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(t *testing.T, cfg Config) *Service {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = quietLogger()
	}
	if cfg.Clock == nil {
		cfg.Clock = func() time.Time { return fixedNow }
	}
	return NewService(cfg)
}

func stayRow(name string, adults int, in, out, status string) booking.Row {
	return booking.Row{"Nome": name, "Adulti": adults, "Check-in": in, "Check-out": out, "Stato": status}
}

// syntheticRows builds n one-night stays spread over a year.
func syntheticRows(n int) []booking.Row {
	start := booking.Date(2025, time.January, 1)
	rows := make([]booking.Row, 0, n)
	for i := 0; i < n; i++ {
		in := start.AddDate(0, 0, i%360)
		out := in.AddDate(0, 0, 1+i%14)
		status := "OK"
		if i%7 == 0 {
			status = "Cancellata"
		}
		row := stayRow(fmt.Sprintf("Ospite %d", i), 1+i%3, in.Format(time.DateOnly), out.Format(time.DateOnly), status)
		if i%5 == 0 {
			row["Bambini"] = 2
			row["Età bambini"] = fmt.Sprintf("%d", i%15)
		}
		rows = append(rows, row)
	}
	return rows
}

func TestCalculateSample(t *testing.T) {
	svc := newTestService(t, Config{})
	res, err := svc.Calculate(context.Background(), Request{Rows: booking.SampleRows()})
	require.NoError(t, err)
	require.NotEmpty(t, res.RunID)
	require.Equal(t, fixedNow, res.GeneratedAt)
	require.False(t, res.Cached)
	require.False(t, res.HasWarnings())

	doc := res.Document
	require.Equal(t, "498.00", doc.GrandTotal.StringFixed(2))
	require.Len(t, doc.Rows, 19)
	require.Len(t, res.Excluded, 3)
	require.Equal(t, 3, doc.Stats.ExcludedCount)
	require.NoError(t, doc.Verify())
	require.Equal(t, "tasse_soggiorno_20250701.csv", doc.FileName("csv"))
}

func TestCalculateRequestedStructureBeatsDefaultRate(t *testing.T) {
	svc := newTestService(t, Config{Defaults: PolicyInput{
		Structure: "holiday-home",
		Rate:      DecimalPtr(decimal.NewFromInt(5)),
	}})
	res, err := svc.Calculate(context.Background(), Request{Rows: booking.SampleRows(), Policy: PolicyInput{Structure: "hotel-5"}})
	require.NoError(t, err)
	require.Equal(t, "581.00", res.Document.GrandTotal.StringFixed(2))
	require.Equal(t, "7.00", res.Document.Settings.Rate.StringFixed(2))
}

func TestCalculatePolicyVariants(t *testing.T) {
	svc := newTestService(t, Config{})
	ctx := context.Background()
	cases := []struct {
		name   string
		policy PolicyInput
		total  string
		check  func(t *testing.T, res Result)
	}{
		{name: "five star hotel", policy: PolicyInput{Structure: "hotel-5"}, total: "581.00"},
		{name: "no show liable", policy: PolicyInput{LiableStatuses: []string{"confirmed", "no_show"}}, total: "516.00"},
		{
			name:   "exempt owner",
			policy: PolicyInput{ExemptNames: []string{"fabio minella"}},
			total:  "486.00",
			check: func(t *testing.T, res Result) {
				require.Equal(t, 1, res.Document.Stats.ExemptCount)
				require.True(t, res.Document.Rows[0].Exempt)
				require.Equal(t, 2, res.Document.Rows[0].TaxablePersons)
			},
		},
		{
			name:   "quarterly",
			policy: PolicyInput{Bucketing: "quarter"},
			total:  "498.00",
			check: func(t *testing.T, res Result) {
				require.Len(t, res.Document.Periods, 3)
				require.Equal(t, "Q2", res.Document.Periods[1].Period)
			},
		},
		{
			name:   "three night ceiling",
			policy: PolicyInput{MaxNights: IntPtr(3)},
			check: func(t *testing.T, res Result) {
				for _, row := range res.Document.Rows {
					require.LessOrEqual(t, row.TaxableNights, 3)
				}
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := svc.Calculate(ctx, Request{Rows: booking.SampleRows(), Policy: tc.policy})
			require.NoError(t, err)
			if tc.total != "" {
				require.Equal(t, tc.total, res.Document.GrandTotal.StringFixed(2))
			}
			if tc.check != nil {
				tc.check(t, res)
			}
			require.NoError(t, res.Document.Verify())
		})
	}
}

func TestCalculateCancelledExcluded(t *testing.T) {
	svc := newTestService(t, Config{})
	rows := []booking.Row{
		stayRow("Giulia Cola", 2, "2025-04-18", "2025-04-21", "Cancellata"),
		stayRow("Fabio Minella", 2, "2025-03-15", "2025-03-16", "OK"),
	}
	res, err := svc.Calculate(context.Background(), Request{Rows: rows})
	require.NoError(t, err)
	require.Equal(t, "12.00", res.Document.GrandTotal.StringFixed(2))
	require.Len(t, res.Document.Rows, 1)
	require.Equal(t, booking.StatusCancelled, res.Excluded[0].Status)
}

func TestCalculateEmptyInput(t *testing.T) {
	svc := newTestService(t, Config{})
	res, err := svc.Calculate(context.Background(), Request{})
	require.NoError(t, err)
	require.True(t, res.Document.GrandTotal.IsZero())
	require.Empty(t, res.Document.Periods)
	require.Empty(t, res.Document.Rows)
	require.NotNil(t, res.Excluded)
}

func TestCalculateFatalErrors(t *testing.T) {
	svc := newTestService(t, Config{})
	ctx := context.Background()

	_, err := svc.Calculate(ctx, Request{Rows: []booking.Row{{"Nome": "x", "Check-in": "2025-01-01"}}})
	var missing *booking.MissingFieldError
	require.ErrorAs(t, err, &missing)
	require.Equal(t, []string{"check_out", "adults|occupants"}, missing.Fields)
	require.Equal(t, "missing_field", ErrorKind(err))

	_, err = svc.Calculate(ctx, Request{Rows: []booking.Row{
		stayRow("Fabio Minella", 2, "2025-03-15", "2025-03-16", "OK"),
		stayRow("Same Day", 2, "2025-03-20", "2025-03-20", "OK"),
	}})
	var rangeErr *levy.InvalidDateRangeError
	require.ErrorAs(t, err, &rangeErr)
	require.Equal(t, 2, rangeErr.Row)
	require.True(t, IsInvalid(err))
	require.Equal(t, "invalid_date_range", ErrorKind(err))
}

func TestCalculateIgnoresBadDatesOnExcludedRecords(t *testing.T) {
	svc := newTestService(t, Config{})
	res, err := svc.Calculate(context.Background(), Request{Rows: []booking.Row{
		stayRow("Fabio Minella", 2, "2025-03-15", "2025-03-16", "OK"),
		stayRow("Annullata", 2, "2025-03-20", "2025-03-18", "Cancellata"),
	}})
	require.NoError(t, err)
	require.Equal(t, "12.00", res.Document.GrandTotal.StringFixed(2))
}

func TestParallelEvaluationMatchesSequential(t *testing.T) {
	rows := syntheticRows(3000)
	sequential := newTestService(t, Config{ParallelThreshold: 1 << 20})
	parallel := newTestService(t, Config{ParallelThreshold: 100, ChunkSize: 64, Workers: 4})
	ctx := context.Background()

	want, err := sequential.Calculate(ctx, Request{Rows: rows})
	require.NoError(t, err)
	got, err := parallel.Calculate(ctx, Request{Rows: rows})
	require.NoError(t, err)

	require.True(t, want.Document.GrandTotal.Equal(got.Document.GrandTotal))
	require.Equal(t, want.Document.Stats, got.Document.Stats)
	require.Equal(t, len(want.Document.Periods), len(got.Document.Periods))
	for i := range want.Document.Periods {
		require.Equal(t, want.Document.Periods[i].Period, got.Document.Periods[i].Period)
		require.True(t, want.Document.Periods[i].Total.Equal(got.Document.Periods[i].Total))
	}
	for i := range want.Document.Rows {
		require.Equal(t, want.Document.Rows[i].SourceRow, got.Document.Rows[i].SourceRow)
	}
	require.Equal(t, want.Document.Warnings, got.Document.Warnings)
	require.NoError(t, got.Document.Verify())
}

func TestParallelEvaluationReportsFirstError(t *testing.T) {
	rows := syntheticRows(3000)
	rows[2500]["Check-out"] = rows[2500]["Check-in"]
	rows[2900]["Check-out"] = rows[2900]["Check-in"]
	rows[2500]["Stato"], rows[2900]["Stato"] = "OK", "OK"
	svc := newTestService(t, Config{ParallelThreshold: 100, ChunkSize: 64, Workers: 8})

	for i := 0; i < 5; i++ {
		_, err := svc.Calculate(context.Background(), Request{Rows: rows})
		var rangeErr *levy.InvalidDateRangeError
		require.ErrorAs(t, err, &rangeErr)
		require.Equal(t, 2501, rangeErr.Row)
	}
}

func TestCalculateHonoursCancellation(t *testing.T) {
	svc := newTestService(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := svc.Calculate(ctx, Request{Rows: booking.SampleRows()})
	require.ErrorIs(t, err, context.Canceled)
}

func TestCalculateUsesRedisCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	svc := newTestService(t, Config{Cache: cache.NewVersioned(client, "tassa:calc", time.Hour)})
	ctx := context.Background()
	req := Request{Rows: booking.SampleRows(), Policy: PolicyInput{Bucketing: "quarter"}}

	first, err := svc.Calculate(ctx, req)
	require.NoError(t, err)
	require.False(t, first.Cached)

	second, err := svc.Calculate(ctx, req)
	require.NoError(t, err)
	require.True(t, second.Cached)
	require.Equal(t, first.RunID, second.RunID)
	require.True(t, first.Document.GrandTotal.Equal(second.Document.GrandTotal))
	require.Equal(t, len(first.Document.Rows), len(second.Document.Rows))
	require.NoError(t, second.Document.Verify())

	require.NoError(t, svc.Invalidate(ctx))
	third, err := svc.Calculate(ctx, req)
	require.NoError(t, err)
	require.False(t, third.Cached)
	require.NotEqual(t, first.RunID, third.RunID)
}

func TestCalculateDoesNotCacheFailures(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	svc := newTestService(t, Config{Cache: cache.NewVersioned(client, "tassa:calc", time.Hour)})

	bad := Request{Rows: []booking.Row{stayRow("Same Day", 2, "2025-03-20", "2025-03-20", "OK")}}
	for i := 0; i < 2; i++ {
		_, err := svc.Calculate(context.Background(), bad)
		require.ErrorIs(t, err, levy.ErrInvalidDateRange)
	}
	for _, key := range mr.Keys() {
		require.False(t, strings.HasPrefix(key, "tassa:calc:run:"), key)
	}
}

func TestCalculateFallsBackWhenCacheIsDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	svc := newTestService(t, Config{Cache: cache.NewVersioned(client, "tassa:calc", time.Hour)})
	mr.Close()

	res, err := svc.Calculate(context.Background(), Request{Rows: booking.SampleRows()})
	require.NoError(t, err)
	require.Equal(t, "498.00", res.Document.GrandTotal.StringFixed(2))
}

func TestConcurrentIdenticalRequestsShareOneRun(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	svc := newTestService(t, Config{Clock: func() time.Time {
		once.Do(func() { close(entered) })
		<-release
		return fixedNow
	}})
	req := Request{Rows: booking.SampleRows()}

	results := make([]Result, 2)
	errs := make([]error, 2)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], errs[0] = svc.Calculate(context.Background(), req)
	}()
	<-entered
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[1], errs[1] = svc.Calculate(context.Background(), req)
	}()
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	require.Equal(t, results[0].RunID, results[1].RunID)
}

func TestMetricsRecordOutcomes(t *testing.T) {
	registry := prometheus.NewRegistry()
	svc := newTestService(t, Config{Registerer: registry})
	ctx := context.Background()

	_, err := svc.Calculate(ctx, Request{Rows: booking.SampleRows()})
	require.NoError(t, err)
	_, err = svc.Calculate(ctx, Request{Policy: PolicyInput{Bucketing: "week"}})
	require.Error(t, err)
	occupants := []booking.Row{{"Ospite": "Jane Doe", "Arrivo": "2025-07-01", "Partenza": "2025-07-03", "Ospiti": 3}}
	_, err = svc.Calculate(ctx, Request{Rows: occupants})
	require.NoError(t, err)

	require.Equal(t, 2.0, testutil.ToFloat64(svc.metrics.runs.WithLabelValues(outcomeOK)))
	require.Equal(t, 1.0, testutil.ToFloat64(svc.metrics.runs.WithLabelValues(outcomeInvalid)))
	require.Equal(t, 20.0, testutil.ToFloat64(svc.metrics.records.WithLabelValues("liable")))
	require.GreaterOrEqual(t, testutil.ToFloat64(svc.metrics.warnings.WithLabelValues(string(booking.WarnOccupantCountOnly))), 1.0)
}

func TestIsInvalidClassification(t *testing.T) {
	require.False(t, IsInvalid(errors.New("redis down")))
	require.Equal(t, "internal", ErrorKind(errors.New("redis down")))
	require.True(t, IsInvalid(fmt.Errorf("wrap: %w", booking.ErrEmptySheet)))
}
