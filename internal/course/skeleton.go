package course

import (
	"errors"
	"fmt"
	"slices"

	"github.com/antzucaro/matchr"
)

var ErrUnknownTerm = errors.New("unknown term label")

// Declaration is a subscriber's request to be notified about a set of courses
// of a single subject.
type Declaration struct {
	Email   string `json:"email"`
	Name    string `json:"name"`
	Subject string `json:"subject"`
	// Courses maps course number -> term label, ex. {"501": "F23"}
	Courses map[string]string `json:"courses"`
}

// TermMap maps a short term label to the term code the catalog expects.
type TermMap map[string]string

// Resolve looks up the term code for a label.
func (t TermMap) Resolve(label string) (string, error) {
	term, ok := t[label]
	if ok {
		return term, nil
	}
	if suggestion := t.closest(label); suggestion != "" {
		return "", fmt.Errorf("%w '%s' (did you mean '%s'?)", ErrUnknownTerm, label, suggestion)
	}
	return "", fmt.Errorf("%w '%s'", ErrUnknownTerm, label)
}

func (t TermMap) closest(label string) string {
	best := ""
	bestDistance := -1
	for _, candidate := range sortedKeys(t) {
		distance := matchr.Levenshtein(label, candidate)
		if bestDistance < 0 || distance < bestDistance {
			best = candidate
			bestDistance = distance
		}
	}
	// a suggestion further away than the label itself is noise
	if bestDistance < 0 || bestDistance > len(label)/2+1 {
		return ""
	}
	return best
}

// BuildSkeleton creates a pending record for every distinct course in the declarations,
// each record's roster holds every subscriber that declared it.
func BuildSkeleton(decls map[string]Declaration, terms TermMap) (Snapshot, error) {
	snap := Snapshot{}

	for _, id := range sortedKeys(decls) {
		decl := decls[id]
		for _, number := range sortedKeys(decl.Courses) {
			term, err := terms.Resolve(decl.Courses[number])
			if err != nil {
				return nil, fmt.Errorf("declaration '%s' course %s %s: %w", id, decl.Subject, number, err)
			}

			key := DeriveKey(decl.Subject, number, term)
			record, ok := snap[key]
			if !ok {
				record = NewRecord(decl.Subject, number, term)
				snap[key] = record
			}
			record.Roster[decl.Email] = decl.Name
		}
	}

	return snap, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
