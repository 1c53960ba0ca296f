package course

import "slices"

// Diff returns the keys whose status differs between two snapshots, sorted.
// A key present in only one of the snapshots is always considered changed.
//
// The state counts as part of the status, so a pending record that turns out
// invalid is reported even though both have no sections.
func Diff(prev, next Snapshot) []Key {
	var changed []Key
	for key, before := range prev {
		after, ok := next[key]
		if !ok || !before.SameStatus(after) {
			changed = append(changed, key)
		}
	}
	for key := range next {
		if _, ok := prev[key]; !ok {
			changed = append(changed, key)
		}
	}
	slices.Sort(changed)
	return changed
}
