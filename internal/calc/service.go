package calc

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/tassa-soggiorno/tassa/internal/booking"
	"github.com/tassa-soggiorno/tassa/internal/export"
	"github.com/tassa-soggiorno/tassa/internal/levy"
	"github.com/tassa-soggiorno/tassa/internal/platform/cache"
	"github.com/tassa-soggiorno/tassa/internal/summary"
)

const (
	// DefaultParallelThreshold is the liable record count from which
	// evaluation is split into chunks.
	DefaultParallelThreshold = 2000
	// DefaultChunkSize is the number of records per evaluation chunk.
	DefaultChunkSize = 500

	// CacheNamespace prefixes every Redis key of the run cache.
	CacheNamespace = "tassa:calc"

	ctxCheckEvery = 256
)

// Request is one calculation: a raw booking table plus policy overrides.
// Headers is optional; when set it fixes the column order and is checked
// even if Rows is empty.
type Request struct {
	Title   string        `json:"title,omitempty"`
	Headers []string      `json:"headers,omitempty"`
	Rows    []booking.Row `json:"rows"`
	Policy  PolicyInput   `json:"policy"`
}

// Result is the outcome of a run. Document carries the report, the settings
// echo and every warning.
type Result struct {
	RunID       string           `json:"run_id"`
	GeneratedAt time.Time        `json:"generated_at"`
	Document    export.Document  `json:"document"`
	Excluded    []booking.Record `json:"excluded"`
	Cached      bool             `json:"cached"`
}

// HasWarnings reports whether the run produced malformed-record warnings.
func (r Result) HasWarnings() bool {
	return len(r.Document.Warnings) > 0
}

// Config wires the service dependencies. Only Defaults is usually set; zero
// values select sensible defaults and a nil Cache disables caching.
type Config struct {
	Defaults          PolicyInput
	Normalizer        *booking.Normalizer
	Cache             *cache.Versioned
	Registerer        prometheus.Registerer
	Logger            *slog.Logger
	ParallelThreshold int
	ChunkSize         int
	Workers           int
	Clock             func() time.Time
}

// Service executes calculation runs. It holds no per-run state; identical
// concurrent requests share one computation.
type Service struct {
	defaults          PolicyInput
	normalizer        *booking.Normalizer
	cache             *cache.Versioned
	metrics           *Metrics
	logger            *slog.Logger
	parallelThreshold int
	chunkSize         int
	workers           int
	clock             func() time.Time
	group             singleflight.Group
}

// NewService constructs the calculation service.
func NewService(cfg Config) *Service {
	s := &Service{
		defaults:          cfg.Defaults,
		normalizer:        cfg.Normalizer,
		cache:             cfg.Cache,
		metrics:           NewMetrics(cfg.Registerer),
		logger:            cfg.Logger,
		parallelThreshold: cfg.ParallelThreshold,
		chunkSize:         cfg.ChunkSize,
		workers:           cfg.Workers,
		clock:             cfg.Clock,
	}
	if s.normalizer == nil {
		s.normalizer = booking.NewNormalizer(nil)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.parallelThreshold <= 0 {
		s.parallelThreshold = DefaultParallelThreshold
	}
	if s.chunkSize <= 0 {
		s.chunkSize = DefaultChunkSize
	}
	if s.workers <= 0 {
		s.workers = runtime.GOMAXPROCS(0)
	}
	if s.clock == nil {
		s.clock = func() time.Time { return time.Now().UTC() }
	}
	return s
}

// Defaults returns the policy applied to unset request fields.
func (s *Service) Defaults() PolicyInput {
	return s.defaults
}

// Calculate runs the full pipeline for req. Fatal input problems abort the
// run and nothing partial is returned; IsInvalid tells them apart from
// infrastructure failures.
func (s *Service) Calculate(ctx context.Context, req Request) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	req.Policy = req.Policy.Merge(s.defaults)
	resolved, err := req.Policy.Resolve()
	if err != nil {
		s.metrics.observeRun(outcomeInvalid)
		return Result{}, err
	}
	key, err := fingerprint(req)
	if err != nil {
		s.metrics.observeRun(outcomeError)
		return Result{}, err
	}

	ch := s.group.DoChan(key, func() (any, error) {
		return s.load(context.WithoutCancel(ctx), key, req, resolved)
	})
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			if IsInvalid(res.Err) {
				s.metrics.observeRun(outcomeInvalid)
			} else {
				s.metrics.observeRun(outcomeError)
			}
			return Result{}, res.Err
		}
		result := res.Val.(Result)
		if result.Cached {
			s.metrics.observeRun(outcomeCached)
		} else {
			s.metrics.observeRun(outcomeOK)
		}
		return result, nil
	}
}

// Invalidate drops every cached result.
func (s *Service) Invalidate(ctx context.Context) error {
	_, err := s.cache.Bump(ctx)
	return err
}

func (s *Service) load(ctx context.Context, key string, req Request, resolved Resolved) (Result, error) {
	if s.cache == nil {
		return s.run(ctx, req, resolved)
	}
	cacheKey, err := s.cache.BuildKey(ctx, "run", key)
	if err != nil {
		s.logger.Warn("tax cache unavailable", slog.Any("error", err))
		return s.run(ctx, req, resolved)
	}
	var (
		result   Result
		computed *Result
		runErr   error
	)
	hit, err := s.cache.FetchJSON(ctx, cacheKey, &result, func(ctx context.Context) (any, error) {
		res, err := s.run(ctx, req, resolved)
		if err != nil {
			runErr = err
			return nil, err
		}
		computed = &res
		return res, nil
	})
	if runErr != nil {
		return Result{}, runErr
	}
	if err != nil {
		s.logger.Warn("tax cache unavailable", slog.Any("error", err))
		if computed != nil {
			return *computed, nil
		}
		return s.run(ctx, req, resolved)
	}
	result.Cached = hit
	return result, nil
}

func (s *Service) run(ctx context.Context, req Request, resolved Resolved) (Result, error) {
	start := time.Now()
	records, warnings, err := s.normalizer.NormalizeSheet(booking.Sheet{Headers: req.Headers, Rows: req.Rows})
	if err != nil {
		return Result{}, err
	}
	liable, excluded := resolved.Filter.Split(records)
	acc, evalWarnings, err := s.evaluate(ctx, liable, resolved)
	if err != nil {
		return Result{}, err
	}
	warnings = append(warnings, evalWarnings...)

	now := s.clock()
	doc := export.Assemble(acc.Report(), export.Options{
		Title:       req.Title,
		GeneratedAt: now,
		Settings:    resolved.Settings,
		Excluded:    len(excluded),
		Warnings:    warnings,
	})
	if err := doc.Verify(); err != nil {
		return Result{}, err
	}
	if excluded == nil {
		excluded = []booking.Record{}
	}
	result := Result{
		RunID:       uuid.NewString(),
		GeneratedAt: now,
		Document:    doc,
		Excluded:    excluded,
	}
	elapsed := time.Since(start)
	s.metrics.observeComputed(result, elapsed)
	s.logger.Info("tax run completed",
		slog.String("run_id", result.RunID),
		slog.Int("liable", doc.Stats.LiableCount),
		slog.Int("excluded", doc.Stats.ExcludedCount),
		slog.Int("warnings", len(doc.Warnings)),
		slog.String("grand_total", doc.GrandTotal.StringFixed(2)),
		slog.Duration("elapsed", elapsed),
	)
	return result, nil
}

// evaluate applies the policy to every liable record. Large inputs are split
// into chunks evaluated in parallel, each into its own accumulator; partial
// sums are merged in chunk order so warnings keep input order. A failing
// chunk does not cancel its siblings, which keeps the reported error the
// first one in input order.
func (s *Service) evaluate(ctx context.Context, records []booking.Record, r Resolved) (*summary.Accumulator, []booking.Warning, error) {
	if len(records) < s.parallelThreshold {
		acc := summary.NewAccumulator(r.Bucketing)
		warnings, err := evaluateChunk(ctx, records, r.Policy, acc)
		return acc, warnings, err
	}

	chunks := split(records, s.chunkSize)
	accs := make([]*summary.Accumulator, len(chunks))
	warns := make([][]booking.Warning, len(chunks))
	errs := make([]error, len(chunks))
	var g errgroup.Group
	g.SetLimit(s.workers)
	for i, part := range chunks {
		g.Go(func() error {
			acc := summary.NewAccumulator(r.Bucketing)
			w, err := evaluateChunk(ctx, part, r.Policy, acc)
			accs[i], warns[i], errs[i] = acc, w, err
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	for _, err := range errs {
		if err != nil {
			return nil, nil, err
		}
	}
	total := summary.NewAccumulator(r.Bucketing)
	var warnings []booking.Warning
	for i := range chunks {
		total.Merge(accs[i])
		warnings = append(warnings, warns[i]...)
	}
	return total, warnings, nil
}

func evaluateChunk(ctx context.Context, records []booking.Record, policy levy.Policy, acc *summary.Accumulator) ([]booking.Warning, error) {
	var warnings []booking.Warning
	for i, rec := range records {
		if i%ctxCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		ev, w, err := levy.Evaluate(rec, policy)
		if err != nil {
			return nil, err
		}
		acc.Add(ev)
		warnings = append(warnings, w...)
	}
	return warnings, nil
}

func split(records []booking.Record, size int) [][]booking.Record {
	chunks := make([][]booking.Record, 0, (len(records)+size-1)/size)
	for start := 0; start < len(records); start += size {
		end := min(start+size, len(records))
		chunks = append(chunks, records[start:end])
	}
	return chunks
}

// fingerprint hashes the canonical JSON of a merged request. encoding/json
// sorts map keys, so equal tables hash equally.
func fingerprint(req Request) (string, error) {
	raw, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("calc: fingerprint request: %w", err)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// ErrorKind classifies err for logs and problem responses.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, booking.ErrMissingField):
		return "missing_field"
	case errors.Is(err, levy.ErrInvalidDateRange):
		return "invalid_date_range"
	case errors.Is(err, booking.ErrInvalidValue), errors.Is(err, levy.ErrInvalidOccupancy):
		return "invalid_value"
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, levy.ErrInvalidPolicy), errors.Is(err, booking.ErrEmptySheet):
		return "invalid_request"
	default:
		return "internal"
	}
}
