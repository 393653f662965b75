package cli

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/shopspring/decimal"

	"github.com/tassa-soggiorno/tassa/internal/booking"
	"github.com/tassa-soggiorno/tassa/internal/calc"
	"github.com/tassa-soggiorno/tassa/internal/export"
)

// Exit codes of the calc command.
const (
	ExitOK       = 0
	ExitFailure  = 1
	ExitWarnings = 10
)

// CalcOptions defines available flags for the calc command.
type CalcOptions struct {
	File       string
	Sample     bool
	Title      string
	Policy     calc.PolicyInput
	Defaults   calc.PolicyInput
	CSVPath    string
	Separator  string
	JSONOutput bool
	Stdin      io.Reader
	Stdout     io.Writer
	Stderr     io.Writer
}

type listFlag struct {
	values *[]string
	split  bool
}

func (f listFlag) String() string {
	if f.values == nil {
		return ""
	}
	return strings.Join(*f.values, ",")
}

func (f listFlag) Set(v string) error {
	if !f.split {
		*f.values = append(*f.values, strings.TrimSpace(v))
		return nil
	}
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			*f.values = append(*f.values, part)
		}
	}
	return nil
}

// ParseCalcFlags parses the calc command line. Numeric policy flags left at
// their -1 default fall back to the configured policy.
func ParseCalcFlags(args []string, stderr io.Writer) (CalcOptions, error) {
	var (
		opts      CalcOptions
		rate      string
		maxNights int
		minAge    int
	)
	fs := flag.NewFlagSet("calc", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.File, "file", "", "booking sheet (CSV, \"-\" for stdin)")
	fs.BoolVar(&opts.Sample, "sample", false, "use the built-in sample bookings")
	fs.StringVar(&opts.Title, "title", "", "report title")
	fs.StringVar(&opts.Policy.Structure, "structure", "", "structure preset key, e.g. hotel-4")
	fs.StringVar(&rate, "rate", "", "nightly rate per person in EUR")
	fs.IntVar(&maxNights, "max-nights", -1, "maximum taxable nights per stay")
	fs.IntVar(&minAge, "min-age", -1, "minimum taxable age for children")
	fs.StringVar(&opts.Policy.Bucketing, "bucketing", "", "month, quarter or year-quarter")
	fs.Var(listFlag{values: &opts.Policy.LiableStatuses, split: true}, "liable", "comma separated liable statuses")
	fs.Var(listFlag{values: &opts.Policy.ExemptNames}, "exempt", "exempt guest name (repeatable)")
	fs.BoolVar(&opts.JSONOutput, "json", false, "print the full result as JSON")
	fs.StringVar(&opts.CSVPath, "csv", "", "write the report as CSV to this path")
	fs.StringVar(&opts.Separator, "sep", "", "CSV separator: comma or semicolon")
	if err := fs.Parse(args); err != nil {
		return CalcOptions{}, err
	}
	if rate != "" {
		d, err := decimal.NewFromString(strings.ReplaceAll(rate, ",", "."))
		if err != nil {
			return CalcOptions{}, fmt.Errorf("invalid --rate %q", rate)
		}
		opts.Policy.Rate = &d
	}
	if maxNights >= 0 {
		opts.Policy.MaxNights = calc.IntPtr(maxNights)
	}
	if minAge >= 0 {
		opts.Policy.MinAge = calc.IntPtr(minAge)
	}
	return opts, nil
}

// CalcCommand computes a report locally and prints it. It returns 0 on
// success, 10 when the report carries warnings and 1 on fatal errors.
func CalcCommand(ctx context.Context, opts CalcOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.Stdin == nil {
		opts.Stdin = os.Stdin
	}
	sep, err := export.ParseSeparator(opts.Separator)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "calc: %v\n", err)
		return ExitFailure
	}
	sheet, err := loadSheet(opts)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "calc: %v\n", err)
		return ExitFailure
	}

	service := calc.NewService(calc.Config{
		Defaults: opts.Defaults,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	result, err := service.Calculate(ctx, calc.Request{
		Title:   opts.Title,
		Headers: sheet.Headers,
		Rows:    sheet.Rows,
		Policy:  opts.Policy,
	})
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "calc: %v\n", err)
		return ExitFailure
	}

	if opts.CSVPath != "" {
		if err := writeCSVFile(opts.CSVPath, result.Document, sep); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "calc: write csv: %v\n", err)
			return ExitFailure
		}
	}
	if opts.JSONOutput {
		enc := json.NewEncoder(opts.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "calc: encode json: %v\n", err)
			return ExitFailure
		}
	} else {
		renderCalcHuman(opts.Stdout, result.Document)
	}
	if result.HasWarnings() {
		return ExitWarnings
	}
	return ExitOK
}

func loadSheet(opts CalcOptions) (booking.Sheet, error) {
	switch {
	case opts.Sample:
		return booking.Sheet{Rows: booking.SampleRows()}, nil
	case opts.File == "-":
		return booking.ReadSheet(opts.Stdin)
	case opts.File != "":
		f, err := os.Open(opts.File)
		if err != nil {
			return booking.Sheet{}, err
		}
		defer f.Close()
		return booking.ReadSheet(f)
	default:
		return booking.Sheet{}, errors.New("--file or --sample is required")
	}
}

func writeCSVFile(path string, doc export.Document, sep export.Separator) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return export.WriteCSV(f, doc, sep)
}

func renderCalcHuman(out io.Writer, doc export.Document) {
	s := doc.Settings
	statuses := make([]string, len(s.LiableStatuses))
	for i, st := range s.LiableStatuses {
		statuses[i] = st.Label()
	}
	_, _ = fmt.Fprintln(out, doc.Title)
	if s.Structure != "" {
		_, _ = fmt.Fprintf(out, "Struttura: %s\n", s.Structure)
	}
	_, _ = fmt.Fprintf(out, "Tariffa: %s EUR | Notti max: %d | Età minima: %d | Stati: %s\n",
		s.Rate.StringFixed(2), s.MaxNights, s.MinAge, strings.Join(statuses, ", "))
	_, _ = fmt.Fprintf(out, "Prenotazioni tassabili: %d (escluse: %d, esenti: %d)\n",
		doc.Stats.LiableCount, doc.Stats.ExcludedCount, doc.Stats.ExemptCount)
	_, _ = fmt.Fprintf(out, "Notti: %d (tassabili: %d) | Persone tassabili: %d\n\n",
		doc.Stats.TotalNights, doc.Stats.TotalTaxableNights, doc.Stats.TotalTaxablePersons)

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', tabwriter.AlignRight)
	_, _ = fmt.Fprintln(tw, "Periodo\tPrenotazioni\tNotti\tTotale (EUR)\t")
	for _, p := range doc.Periods {
		_, _ = fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t\n", p.Period, p.Count, p.Nights, p.Total.StringFixed(2))
	}
	_ = tw.Flush()
	_, _ = fmt.Fprintf(out, "\nTotale da versare: %s EUR\n", doc.GrandTotal.StringFixed(2))

	if len(doc.Warnings) > 0 {
		_, _ = fmt.Fprintf(out, "\nAvvisi (%d):\n", len(doc.Warnings))
		for _, w := range doc.Warnings {
			_, _ = fmt.Fprintf(out, " - %s\n", w.String())
		}
	}
}
