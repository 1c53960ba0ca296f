// Package course contains the domain types of the tracker along with the pure
// transformations between them: deriving keys, building the initial snapshot
// from subscriber declarations, diffing snapshots and mapping updates to subscribers.
package course

import (
	"fmt"
	"maps"
	"slices"
	"time"
)

// Key uniquely identifies a course offering, ex. "CSC:501 - 2198".
type Key string

// DeriveKey builds the Key of an offering from its subject, course number and resolved term code.
func DeriveKey(subject, number, term string) Key {
	return Key(fmt.Sprintf("%s:%s - %s", subject, number, term))
}

// Section is a single row of the catalog's section table.
type Section struct {
	Location     string `json:"location"`
	Availability string `json:"availability"`
}

type State string

const (
	// StatePending means the course has never been successfully checked.
	StatePending State = "pending"
	// StatePopulated means the catalog listed at least one section.
	StatePopulated State = "populated"
	// StateInvalid means the catalog listed no sections, the course is not
	// offered or not scheduled for the term.
	StateInvalid State = "invalid"
)

// Outcome is the result of parsing a catalog page, it is either Populated or Invalid.
type Outcome interface {
	outcome()
}

// Populated holds the sections of a course in the order the catalog lists them.
type Populated struct {
	Title    string
	Sections []Section
}

// Invalid is the outcome of a catalog page with no section rows.
type Invalid struct{}

func (Populated) outcome() {}
func (Invalid) outcome()   {}

// Record is the tracked state of a single course offering.
//
// Name and Sections are only set when State is StatePopulated.
type Record struct {
	Subject   string            `json:"subject"`
	Number    string            `json:"num"`
	Term      string            `json:"term"`
	State     State             `json:"state"`
	Name      string            `json:"name,omitempty"`
	Sections  []Section         `json:"sections,omitempty"`
	Roster    map[string]string `json:"stud_info"`
	CheckedAt *time.Time        `json:"checked_at,omitempty"`
}

func NewRecord(subject, number, term string) *Record {
	return &Record{
		Subject: subject,
		Number:  number,
		Term:    term,
		State:   StatePending,
		Roster:  map[string]string{},
	}
}

// Key returns the key the record is stored under.
func (r *Record) Key() Key {
	return DeriveKey(r.Subject, r.Number, r.Term)
}

// Apply replaces the status fields of the record with the outcome,
// the roster is left untouched.
func (r *Record) Apply(outcome Outcome, checkedAt time.Time) {
	switch o := outcome.(type) {
	case Populated:
		r.State = StatePopulated
		r.Name = o.Title
		r.Sections = slices.Clone(o.Sections)
	case Invalid:
		r.State = StateInvalid
		r.Name = ""
		r.Sections = nil
	default:
		panic(fmt.Sprintf("unknown course outcome %T", outcome))
	}
	r.CheckedAt = &checkedAt
}

// Status returns the state of the record, records persisted without one are pending.
func (r *Record) Status() State {
	if r.State == "" {
		return StatePending
	}
	return r.State
}

func (r *Record) Invalid() bool {
	return r.Status() == StateInvalid
}

func (r *Record) Locations() []string {
	if len(r.Sections) == 0 {
		return nil
	}
	out := make([]string, len(r.Sections))
	for i, s := range r.Sections {
		out[i] = s.Location
	}
	return out
}

func (r *Record) Availabilities() []string {
	if len(r.Sections) == 0 {
		return nil
	}
	out := make([]string, len(r.Sections))
	for i, s := range r.Sections {
		out[i] = s.Availability
	}
	return out
}

// SameStatus reports whether two records would look the same to a subscriber.
func (r *Record) SameStatus(other *Record) bool {
	if r == nil || other == nil {
		return r == other
	}
	return r.Status() == other.Status() &&
		slices.Equal(r.Availabilities(), other.Availabilities())
}

func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	out.Sections = slices.Clone(r.Sections)
	out.Roster = maps.Clone(r.Roster)
	if out.Roster == nil {
		out.Roster = map[string]string{}
	}
	if r.CheckedAt != nil {
		checkedAt := *r.CheckedAt
		out.CheckedAt = &checkedAt
	}
	return &out
}

// Snapshot is the full working set of tracked courses.
type Snapshot map[Key]*Record

// Keys returns the keys of the snapshot in sorted order.
func (s Snapshot) Keys() []Key {
	keys := make([]Key, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Clone deep copies the snapshot.
func (s Snapshot) Clone() Snapshot {
	out := make(Snapshot, len(s))
	for k, r := range s {
		out[k] = r.Clone()
	}
	return out
}

// Subset returns the records under the given keys, keys that are not present are skipped.
func (s Snapshot) Subset(keys []Key) Snapshot {
	out := make(Snapshot, len(keys))
	for _, k := range keys {
		r, ok := s[k]
		if !ok {
			continue
		}
		out[k] = r
	}
	return out
}

// RemoveInvalid deletes every invalid record and returns the removed keys.
func (s Snapshot) RemoveInvalid() []Key {
	var removed []Key
	for _, k := range s.Keys() {
		if r := s[k]; r != nil && r.Invalid() {
			removed = append(removed, k)
			delete(s, k)
		}
	}
	return removed
}
