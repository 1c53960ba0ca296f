package course

import "slices"

// SubscriberMap maps a subscriber's email to the courses they should hear about.
type SubscriberMap map[string][]Key

// MapSubscribers inverts the rosters of the records under keys into a
// SubscriberMap. A nil keys slice means every key in the snapshot.
//
// Keys within a subscriber's list follow sorted key order and are never duplicated.
func MapSubscribers(snap Snapshot, keys []Key) SubscriberMap {
	if keys == nil {
		keys = snap.Keys()
	} else {
		keys = slices.Clone(keys)
		slices.Sort(keys)
		keys = slices.Compact(keys)
	}

	out := SubscriberMap{}
	for _, key := range keys {
		record, ok := snap[key]
		if !ok || record == nil {
			continue
		}
		for email := range record.Roster {
			out[email] = append(out[email], key)
		}
	}
	return out
}

// Name returns the display name of a subscriber from the roster of any of
// their courses, ok is false if none of the records list them.
func (s SubscriberMap) Name(snap Snapshot, email string) (name string, ok bool) {
	for _, key := range s[email] {
		record, exists := snap[key]
		if !exists || record == nil {
			continue
		}
		name, ok = record.Roster[email]
		if ok && name != "" {
			return name, true
		}
	}
	return "", false
}
