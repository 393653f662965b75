package levy

import (
	"sort"

	"github.com/tassa-soggiorno/tassa/internal/booking"
)

// Filter decides which reservations are liable. One Filter value is applied
// once per run; detail rows and totals both derive from its output.
type Filter struct {
	liable map[booking.Status]struct{}
}

// NewFilter returns a Filter accepting the given statuses.
func NewFilter(statuses ...booking.Status) Filter {
	liable := make(map[booking.Status]struct{}, len(statuses))
	for _, s := range statuses {
		liable[s] = struct{}{}
	}
	return Filter{liable: liable}
}

// DefaultFilter accepts confirmed stays only.
func DefaultFilter() Filter {
	return NewFilter(booking.StatusConfirmed)
}

// IsLiable reports whether the record's status is in the liable set.
func (f Filter) IsLiable(r booking.Record) bool {
	_, ok := f.liable[r.Status]
	return ok
}

// Statuses returns the liable statuses in stable order.
func (f Filter) Statuses() []booking.Status {
	out := make([]booking.Status, 0, len(f.liable))
	for s := range f.liable {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Split partitions records into liable and excluded, preserving input order.
func (f Filter) Split(records []booking.Record) (liable, excluded []booking.Record) {
	for _, r := range records {
		if f.IsLiable(r) {
			liable = append(liable, r)
		} else {
			excluded = append(excluded, r)
		}
	}
	return liable, excluded
}
