// Package booking turns raw reservation tables into typed records.
package booking

import (
	"strings"
	"time"
)

// Status enumerates reservation outcomes relevant for the levy.
type Status string

const (
	// StatusConfirmed marks a stay that took place.
	StatusConfirmed Status = "confirmed"
	// StatusCancelled marks a reservation that never turned into a stay.
	StatusCancelled Status = "cancelled"
	// StatusNoShow marks a guest that did not arrive.
	StatusNoShow Status = "no_show"
	// StatusOther covers any status string outside the known set.
	StatusOther Status = "other"
)

var statusSynonyms = map[string]Status{
	"ok":                    StatusConfirmed,
	"confirmed":             StatusConfirmed,
	"confermata":            StatusConfirmed,
	"confermato":            StatusConfirmed,
	"booked":                StatusConfirmed,
	"cancelled":             StatusCancelled,
	"canceled":              StatusCancelled,
	"cancellata":            StatusCancelled,
	"cancellato":            StatusCancelled,
	"annullata":             StatusCancelled,
	"no show":               StatusNoShow,
	"noshow":                StatusNoShow,
	"no_show":               StatusNoShow,
	"mancata presentazione": StatusNoShow,
}

// ParseStatus maps a free-form status label to a Status. The boolean is false
// when the label is not recognised and StatusOther is returned.
func ParseStatus(s string) (Status, bool) {
	key := FoldText(s)
	key = strings.ReplaceAll(key, "-", " ")
	if st, ok := statusSynonyms[key]; ok {
		return st, true
	}
	if st, ok := statusSynonyms[strings.ReplaceAll(key, " ", "")]; ok {
		return st, true
	}
	return StatusOther, false
}

// Label returns the Italian label used on exported documents.
func (s Status) Label() string {
	switch s {
	case StatusConfirmed:
		return "OK"
	case StatusCancelled:
		return "Cancellata"
	case StatusNoShow:
		return "Mancata presentazione"
	default:
		return "Altro"
	}
}

// Row is one line of an external table keyed by its header text.
type Row map[string]any

// Record is a normalised reservation.
type Record struct {
	Row       int       `json:"row"`
	GuestName string    `json:"guest_name"`
	CheckIn   time.Time `json:"check_in"`
	CheckOut  time.Time `json:"check_out"`
	Adults    int       `json:"adults"`
	Children  int       `json:"children"`
	ChildAges []int     `json:"child_ages,omitempty"`
	// Occupants is only set when the source carries a head count instead of
	// an adult/child breakdown.
	Occupants *int   `json:"occupants,omitempty"`
	Status    Status `json:"status"`
	RawStatus string `json:"raw_status,omitempty"`
}

// HasBreakdown reports whether the record can be evaluated with age rules.
func (r Record) HasBreakdown() bool {
	return r.Occupants == nil
}

// Date builds a civil date at UTC midnight.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}
