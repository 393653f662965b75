package booking

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Field names a canonical reservation attribute.
type Field string

const (
	FieldGuestName Field = "guest_name"
	FieldCheckIn   Field = "check_in"
	FieldCheckOut  Field = "check_out"
	FieldAdults    Field = "adults"
	FieldChildren  Field = "children"
	FieldChildAges Field = "child_ages"
	FieldOccupants Field = "occupants"
	FieldStatus    Field = "status"
)

// DefaultSynonyms maps folded header keys (see HeaderKey) to canonical fields.
// Keys cover the Italian booking exports as well as common English headers.
var DefaultSynonyms = map[string]Field{
	"nome":              FieldGuestName,
	"nomeospite":        FieldGuestName,
	"ospite":            FieldGuestName,
	"cliente":           FieldGuestName,
	"name":              FieldGuestName,
	"guest":             FieldGuestName,
	"guestname":         FieldGuestName,
	"bookername":        FieldGuestName,
	"checkin":           FieldCheckIn,
	"arrivo":            FieldCheckIn,
	"dataarrivo":        FieldCheckIn,
	"arrival":           FieldCheckIn,
	"checkout":          FieldCheckOut,
	"partenza":          FieldCheckOut,
	"datapartenza":      FieldCheckOut,
	"departure":         FieldCheckOut,
	"adulti":            FieldAdults,
	"adults":            FieldAdults,
	"bambini":           FieldChildren,
	"children":          FieldChildren,
	"kids":              FieldChildren,
	"etabambini":        FieldChildAges,
	"etadeibambini":     FieldChildAges,
	"childages":         FieldChildAges,
	"childrenages":      FieldChildAges,
	"ages":              FieldChildAges,
	"persone":           FieldOccupants,
	"ospiti":            FieldOccupants,
	"numeroospiti":      FieldOccupants,
	"occupanti":         FieldOccupants,
	"occupants":         FieldOccupants,
	"guests":            FieldOccupants,
	"persons":           FieldOccupants,
	"people":            FieldOccupants,
	"stato":             FieldStatus,
	"status":            FieldStatus,
	"statoprenotazione": FieldStatus,
	"bookingstatus":     FieldStatus,
}

var dateLayouts = []string{
	"2006-01-02",
	"02/01/2006",
	"2/1/2006",
	"02-01-2006",
	"02.01.2006",
	"2006/01/02",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339,
}

// Normalizer maps heterogeneous columns onto Record fields.
type Normalizer struct {
	synonyms map[string]Field
}

// NewNormalizer builds a Normalizer from DefaultSynonyms plus extra entries.
// Extra header texts are folded with HeaderKey before registration.
func NewNormalizer(extra map[string]Field) *Normalizer {
	synonyms := make(map[string]Field, len(DefaultSynonyms)+len(extra))
	for k, v := range DefaultSynonyms {
		synonyms[k] = v
	}
	for k, v := range extra {
		synonyms[HeaderKey(k)] = v
	}
	return &Normalizer{synonyms: synonyms}
}

// Mapping links source headers to canonical fields. Unknown headers are kept
// in Unmapped and otherwise ignored.
type Mapping struct {
	Columns  map[Field]string
	Unmapped []string
}

// Has reports whether any source column maps to f.
func (m Mapping) Has(f Field) bool {
	_, ok := m.Columns[f]
	return ok
}

// Resolve builds the header mapping and fails with a MissingFieldError when a
// required field has no column. When two headers map to the same field the
// one earlier in headers wins.
func (n *Normalizer) Resolve(headers []string) (Mapping, error) {
	m := Mapping{Columns: make(map[Field]string)}
	for _, h := range headers {
		field, ok := n.synonyms[HeaderKey(h)]
		if !ok {
			m.Unmapped = append(m.Unmapped, h)
			continue
		}
		if _, taken := m.Columns[field]; taken {
			m.Unmapped = append(m.Unmapped, h)
			continue
		}
		m.Columns[field] = h
	}
	var missing []string
	for _, f := range []Field{FieldGuestName, FieldCheckIn, FieldCheckOut} {
		if !m.Has(f) {
			missing = append(missing, string(f))
		}
	}
	if !m.Has(FieldAdults) && !m.Has(FieldOccupants) {
		missing = append(missing, string(FieldAdults)+"|"+string(FieldOccupants))
	}
	if len(missing) > 0 {
		return m, &MissingFieldError{Fields: missing}
	}
	return m, nil
}

// Normalize converts rows into records. Fatal problems (missing columns,
// unparseable stay dates) abort with an error; everything else becomes a
// Warning. Empty input yields no records and no error. Row keys carry no
// column order, so competing headers are ranked alphabetically.
func (n *Normalizer) Normalize(rows []Row) ([]Record, []Warning, error) {
	return n.NormalizeSheet(Sheet{Rows: rows})
}

// NormalizeSheet is Normalize for a table with known headers. The headers
// are checked even when there are no rows, so a sheet whose columns map to
// nothing fails with a MissingFieldError. Headers win over row keys in
// source order.
func (n *Normalizer) NormalizeSheet(sheet Sheet) ([]Record, []Warning, error) {
	headers := mergeHeaders(sheet.Headers, headersOf(sheet.Rows))
	if len(headers) == 0 {
		return nil, nil, nil
	}
	mapping, err := n.Resolve(headers)
	if err != nil {
		return nil, nil, err
	}
	rows := sheet.Rows
	if len(rows) == 0 {
		return nil, nil, nil
	}
	var warnings []Warning
	if !mapping.Has(FieldStatus) {
		warnings = append(warnings, Warning{
			Code:    WarnStatusDefaulted,
			Message: "colonna stato assente: tutte le prenotazioni considerate confermate",
		})
	}
	records := make([]Record, 0, len(rows))
	for i, row := range rows {
		rec, warns, err := normalizeRow(i+1, row, mapping)
		if err != nil {
			return nil, nil, err
		}
		records = append(records, rec)
		warnings = append(warnings, warns...)
	}
	return records, warnings, nil
}

func headersOf(rows []Row) []string {
	seen := make(map[string]struct{})
	var headers []string
	for _, row := range rows {
		for h := range row {
			if _, ok := seen[h]; ok {
				continue
			}
			seen[h] = struct{}{}
			headers = append(headers, h)
		}
	}
	sort.Strings(headers)
	return headers
}

func mergeHeaders(ordered, extra []string) []string {
	if len(ordered) == 0 {
		return extra
	}
	seen := make(map[string]struct{}, len(ordered))
	out := make([]string, 0, len(ordered)+len(extra))
	for _, h := range ordered {
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		out = append(out, h)
	}
	for _, h := range extra {
		if _, ok := seen[h]; !ok {
			out = append(out, h)
		}
	}
	return out
}

func normalizeRow(line int, row Row, m Mapping) (Record, []Warning, error) {
	rec := Record{Row: line, Status: StatusConfirmed}
	var warnings []Warning
	warn := func(code WarningCode, format string, args ...any) {
		warnings = append(warnings, Warning{Row: line, Guest: rec.GuestName, Code: code, Message: fmt.Sprintf(format, args...)})
	}
	cell := func(f Field) (any, bool) {
		col, ok := m.Columns[f]
		if !ok {
			return nil, false
		}
		v, ok := row[col]
		if !ok || isBlank(v) {
			return nil, false
		}
		return v, true
	}

	if v, ok := cell(FieldGuestName); ok {
		rec.GuestName = strings.Join(strings.Fields(fmt.Sprint(v)), " ")
	}
	if rec.GuestName == "" {
		rec.GuestName = fmt.Sprintf("#%d", line)
		warn(WarnMissingGuestName, "nome ospite mancante")
	}

	for _, f := range []Field{FieldCheckIn, FieldCheckOut} {
		v, ok := cell(f)
		if !ok {
			return Record{}, nil, &InvalidValueError{Row: line, Field: f, Value: nil}
		}
		d, err := parseDate(v)
		if err != nil {
			return Record{}, nil, &InvalidValueError{Row: line, Field: f, Value: v}
		}
		if f == FieldCheckIn {
			rec.CheckIn = d
		} else {
			rec.CheckOut = d
		}
	}

	var fatal error
	count := func(f Field) (int, bool) {
		v, ok := cell(f)
		if !ok {
			return 0, false
		}
		n, err := parseCount(v)
		if errors.Is(err, errCountRange) {
			if fatal == nil {
				fatal = &InvalidValueError{Row: line, Field: f, Value: v}
			}
			return 0, false
		}
		if err != nil {
			warn(WarnUnparseableValue, "valore %q non valido per %s, usato 0", fmt.Sprint(v), f)
			return 0, false
		}
		return n, true
	}

	adults, hasAdults := count(FieldAdults)
	if occ, ok := count(FieldOccupants); ok && !hasAdults {
		rec.Occupants = &occ
	} else if _, present := cell(FieldAdults); !hasAdults && !present {
		warn(WarnUnparseableValue, "numero adulti mancante, usato 0")
	}
	rec.Adults = adults
	rec.Children, _ = count(FieldChildren)
	if fatal != nil {
		return Record{}, nil, fatal
	}

	if v, ok := cell(FieldChildAges); ok {
		ages, bad := parseAges(v)
		if bad {
			warn(WarnUnparseableValue, "età bambini %q parzialmente illeggibili", fmt.Sprint(v))
		}
		rec.ChildAges = ages
	}

	if v, ok := cell(FieldStatus); ok {
		raw := strings.TrimSpace(fmt.Sprint(v))
		st, known := ParseStatus(raw)
		rec.Status = st
		if !known {
			rec.RawStatus = raw
			warn(WarnUnknownStatus, "stato %q non riconosciuto", raw)
		}
	} else if m.Has(FieldStatus) {
		rec.Status = StatusOther
		warn(WarnUnknownStatus, "stato mancante")
	}
	return rec, warnings, nil
}

func isBlank(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	return false
}

func parseDate(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return Date(t.Year(), t.Month(), t.Day()), nil
	case *time.Time:
		if t == nil {
			return time.Time{}, fmt.Errorf("nil date")
		}
		return Date(t.Year(), t.Month(), t.Day()), nil
	}
	s := strings.TrimSpace(fmt.Sprint(v))
	for _, layout := range dateLayouts {
		if d, err := time.Parse(layout, s); err == nil {
			return Date(d.Year(), d.Month(), d.Day()), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", s)
}

// MaxCount bounds every head count and age read from a sheet. Larger values
// cannot describe a single reservation.
const MaxCount = 9999

var errCountRange = fmt.Errorf("count above %d", MaxCount)

func parseCount(v any) (int, error) {
	var n int64
	switch t := v.(type) {
	case int:
		n = int64(t)
	case int32:
		n = int64(t)
	case int64:
		n = t
	case float64:
		if t != math.Trunc(t) {
			return 0, fmt.Errorf("not an integer: %v", t)
		}
		if t < 0 {
			return 0, fmt.Errorf("negative count %v", t)
		}
		if t > MaxCount {
			return 0, errCountRange
		}
		n = int64(t)
	case json.Number:
		if i, err := t.Int64(); err == nil {
			n = i
			break
		}
		f, err := t.Float64()
		if err != nil || f != math.Trunc(f) {
			return 0, fmt.Errorf("not an integer: %s", t)
		}
		if f < 0 {
			return 0, fmt.Errorf("negative count %v", f)
		}
		if f > MaxCount {
			return 0, errCountRange
		}
		n = int64(f)
	default:
		s := strings.TrimSpace(fmt.Sprint(v))
		f, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", "."), 64)
		if err != nil || f != math.Trunc(f) {
			return 0, fmt.Errorf("not an integer: %q", s)
		}
		if f < 0 {
			return 0, fmt.Errorf("negative count %v", f)
		}
		if f > MaxCount {
			return 0, errCountRange
		}
		n = int64(f)
	}
	if n < 0 {
		return 0, fmt.Errorf("negative count %d", n)
	}
	if n > MaxCount {
		return 0, errCountRange
	}
	return int(n), nil
}

// parseAges accepts a list value or strings like "3", "[3, 7]" or "3;7".
// Unreadable entries are skipped and reported through the bool.
func parseAges(v any) ([]int, bool) {
	var items []any
	switch t := v.(type) {
	case []int:
		for _, a := range t {
			items = append(items, a)
		}
	case []any:
		items = t
	default:
		s := strings.Trim(strings.TrimSpace(fmt.Sprint(v)), "[]()")
		parts := strings.FieldsFunc(s, func(r rune) bool {
			return r == ',' || r == ';' || r == '|' || r == '/' || r == ' '
		})
		for _, p := range parts {
			items = append(items, p)
		}
	}
	ages := make([]int, 0, len(items))
	bad := false
	for _, item := range items {
		age, err := parseCount(item)
		if err != nil {
			bad = true
			continue
		}
		ages = append(ages, age)
	}
	return ages, bad
}
