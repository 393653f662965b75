package export

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	csvFlushEvery = 200
	csvBufferSize = 32 * 1024
)

// Separator is the field delimiter of the CSV export.
type Separator rune

const (
	Comma     Separator = ','
	Semicolon Separator = ';'
)

// ParseSeparator accepts ",", ";", "comma" and "semicolon". Empty means comma.
func ParseSeparator(s string) (Separator, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", ",", "comma":
		return Comma, nil
	case ";", "semicolon":
		return Semicolon, nil
	}
	return 0, fmt.Errorf("export: unsupported separator %q", s)
}

// CSVColumns is the fixed column order of the detail section.
var CSVColumns = []string{
	"Nome",
	"Check-in",
	"Check-out",
	"Adulti",
	"Bambini",
	"Età bambini",
	"Notti",
	"Notti tassabili",
	"Persone tassabili",
	"Esente",
	"Tassa (EUR)",
	"Stato",
	"Periodo",
}

type csvStreamer struct {
	buf          *bufio.Writer
	csv          *csv.Writer
	width        int
	flushEvery   int
	pendingLines int
}

func newCSVStreamer(w io.Writer, sep Separator, width int) *csvStreamer {
	buf := bufio.NewWriterSize(w, csvBufferSize)
	writer := csv.NewWriter(buf)
	writer.Comma = rune(sep)
	writer.UseCRLF = true
	return &csvStreamer{buf: buf, csv: writer, width: width, flushEvery: csvFlushEvery}
}

func (s *csvStreamer) writeComment(line string) error {
	if s == nil || s.buf == nil {
		return fmt.Errorf("csv streamer not initialised")
	}
	line = strings.TrimRight(line, "\r\n") + "\r\n"
	_, err := s.buf.WriteString(line)
	return err
}

// writeRow pads short rows to the detail width so spreadsheets keep columns aligned.
func (s *csvStreamer) writeRow(row []string) error {
	if s == nil || s.csv == nil {
		return fmt.Errorf("csv streamer not initialised")
	}
	for len(row) < s.width {
		row = append(row, "")
	}
	if err := s.csv.Write(row); err != nil {
		return err
	}
	s.pendingLines++
	if s.flushEvery > 0 && s.pendingLines >= s.flushEvery {
		return s.Flush()
	}
	return nil
}

func (s *csvStreamer) Flush() error {
	if s == nil || s.csv == nil || s.buf == nil {
		return fmt.Errorf("csv streamer not initialised")
	}
	s.csv.Flush()
	if err := s.csv.Error(); err != nil {
		return err
	}
	if err := s.buf.Flush(); err != nil {
		return err
	}
	s.pendingLines = 0
	return nil
}

// WriteCSV streams doc as delimited text: a commented header block, one line
// per detail row in CSVColumns order, then the per-period and grand totals.
func WriteCSV(w io.Writer, doc Document, sep Separator) error {
	streamer := newCSVStreamer(w, sep, len(CSVColumns))
	if err := writeMetadata(streamer, doc); err != nil {
		return err
	}
	if err := streamer.writeRow(append([]string(nil), CSVColumns...)); err != nil {
		return err
	}
	for _, row := range doc.Rows {
		if err := streamer.writeRow([]string{
			row.Guest,
			formatDate(row.CheckIn),
			formatDate(row.CheckOut),
			strconv.Itoa(row.Adults),
			strconv.Itoa(row.Children),
			joinAges(row.ChildAges),
			strconv.Itoa(row.Nights),
			strconv.Itoa(row.TaxableNights),
			strconv.Itoa(row.TaxablePersons),
			yesNo(row.Exempt),
			formatAmount(row.Amount),
			row.StatusLabel,
			row.Period,
		}); err != nil {
			return err
		}
	}
	if err := streamer.writeRow(nil); err != nil {
		return err
	}
	if err := streamer.writeRow([]string{"Periodo", "Prenotazioni", "Notti", "Notti tassabili", "Totale (EUR)"}); err != nil {
		return err
	}
	for _, p := range doc.Periods {
		if err := streamer.writeRow([]string{
			p.Period,
			strconv.Itoa(p.Count),
			strconv.Itoa(p.Nights),
			strconv.Itoa(p.TaxableNights),
			formatAmount(p.Total),
		}); err != nil {
			return err
		}
	}
	if err := streamer.writeRow([]string{"Totale", strconv.Itoa(doc.Stats.LiableCount), strconv.Itoa(doc.Stats.TotalNights), strconv.Itoa(doc.Stats.TotalTaxableNights), formatAmount(doc.GrandTotal)}); err != nil {
		return err
	}
	return streamer.Flush()
}

func writeMetadata(streamer *csvStreamer, doc Document) error {
	if err := streamer.writeComment("# " + doc.Title); err != nil {
		return err
	}
	s := doc.Settings
	statuses := make([]string, len(s.LiableStatuses))
	for i, st := range s.LiableStatuses {
		statuses[i] = string(st)
	}
	line := fmt.Sprintf("# Tariffa: %s | Notti max: %d | Età minima: %d | Raggruppamento: %s | Stati: %s",
		formatAmount(s.Rate), s.MaxNights, s.MinAge, s.Bucketing, strings.Join(statuses, ","))
	if s.Structure != "" {
		line += " | Struttura: " + s.Structure
	}
	if err := streamer.writeComment(line); err != nil {
		return err
	}
	if len(doc.Warnings) == 0 {
		return streamer.writeComment("# Avvisi: nessuno")
	}
	return streamer.writeComment(fmt.Sprintf("# Avvisi: %d", len(doc.Warnings)))
}

func formatAmount(v decimal.Decimal) string {
	return v.StringFixed(2)
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.DateOnly)
}

func joinAges(ages []int) string {
	parts := make([]string, len(ages))
	for i, age := range ages {
		parts[i] = strconv.Itoa(age)
	}
	return strings.Join(parts, " ")
}

func yesNo(v bool) string {
	if v {
		return "sì"
	}
	return "no"
}
