// Package store persists snapshots as a single json file.
package store

import (
	"encoding/json"
	"fmt"
	"os"

	"coursetracker/internal/course"
	"coursetracker/lib/osutil"
)

// File stores a snapshot at a fixed path. Saves are atomic, a failed save
// leaves the previously saved snapshot in place.
type File struct {
	path string
}

func NewFile(path string) File {
	return File{path: path}
}

// Exists reports whether a snapshot has been saved before.
func (f File) Exists() bool {
	_, err := os.Stat(f.path)
	return err == nil
}

// Load reads the saved snapshot, the error wraps os.ErrNotExist if nothing was saved yet.
func (f File) Load() (course.Snapshot, error) {
	contents, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	var snap course.Snapshot
	err = json.Unmarshal(contents, &snap)
	if err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", f.path, err)
	}
	if snap == nil {
		snap = course.Snapshot{}
	}
	for key, record := range snap {
		if record == nil {
			delete(snap, key)
			continue
		}
		if record.Roster == nil {
			record.Roster = map[string]string{}
		}
	}
	return snap, nil
}

func (f File) Save(snap course.Snapshot) error {
	if snap == nil {
		snap = course.Snapshot{}
	}
	contents, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	err = osutil.WriteFileAtomic(f.path, contents, 0o644)
	if err != nil {
		return fmt.Errorf("write snapshot %s: %w", f.path, err)
	}
	return nil
}
