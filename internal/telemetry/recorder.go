package telemetry

import (
	"fmt"
	"sync"
)

type Level int

const (
	LevelDebug Level = iota
	LevelWarning
	LevelBroken
	LevelCount
)

type Report struct {
	Level  Level
	Id     string
	Params []any
}

// Recorder is an API that keeps every report in memory, it is meant for tests
// that assert on what a component reported.
type Recorder struct {
	mutex   sync.Mutex
	reports []Report
	// Log, when set, also receives every report as a formatted line (ex. testing.T.Log).
	Log func(args ...any)
}

func (r *Recorder) record(level Level, id string, params []any) {
	r.mutex.Lock()
	r.reports = append(r.reports, Report{Level: level, Id: id, Params: params})
	r.mutex.Unlock()

	if r.Log != nil {
		r.Log(fmt.Sprintf("[%d] %s", level, id), fmt.Sprint(params...))
	}
}

func (r *Recorder) ReportBroken(id string, params ...any) {
	r.record(LevelBroken, id, params)
}

func (r *Recorder) ReportWarning(id string, params ...any) {
	r.record(LevelWarning, id, params)
}

func (r *Recorder) ReportDebug(msg string, params ...any) {
	r.record(LevelDebug, msg, params)
}

func (r *Recorder) ReportCount(id string, count int64) {
	r.record(LevelCount, id, []any{count})
}

// Reports returns the ids of every report at the given level in the order they were made.
func (r *Recorder) Reports(level Level) []string {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	var ids []string
	for _, report := range r.reports {
		if report.Level == level {
			ids = append(ids, report.Id)
		}
	}
	return ids
}
