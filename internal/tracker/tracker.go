// Package tracker runs the course status pipeline: it refreshes every tracked
// course against the catalog, diffs the result with the saved snapshot and
// notifies the subscribers of the courses that changed.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"coursetracker/internal/assert"
	"coursetracker/internal/catalog"
	"coursetracker/internal/chrono"
	"coursetracker/internal/course"
	"coursetracker/internal/telemetry"

	"github.com/PuerkitoBio/goquery"
)

const (
	report_refresh_fetch        = "refresh.fetch"
	report_refresh_parse        = "refresh.parse"
	report_refresh_updated      = "refresh.updated"
	report_init_skeleton        = "init.skeleton"
	report_init_purge           = "init.purge"
	report_cycle                = "cycle"
	report_cycle_notify         = "cycle.notify"
	report_cycle_summary        = "cycle.summary"
	report_status_notify        = "status.notify"
	report_store_save           = "store.save"
	report_store_load           = "store.load"
	report_tick_skipped         = "tick.skipped"
	report_tracked_course_count = "tracked-course-count"
)

var (
	// ErrCycle wraps every failure that aborts a refresh cycle.
	ErrCycle = errors.New("refresh cycle failed")
	// ErrCycleInFlight is returned when a cycle is requested while another one is running.
	ErrCycleInFlight = errors.New("refresh cycle already in flight")
)

// CatalogAPI fetches the catalog page of a single course.
//
// note: fault injection point
type CatalogAPI interface {
	Fetch(ctx context.Context, q catalog.Query) (*goquery.Document, error)
}

type ParserAPI interface {
	Parse(doc *goquery.Document) (course.Outcome, error)
}

// StoreAPI persists the snapshot between cycles.
//
// note: fault injection point
type StoreAPI interface {
	Exists() bool
	Load() (course.Snapshot, error)
	Save(snap course.Snapshot) error
}

// Notifier delivers the results of a cycle.
//
// note: fault injection point
type Notifier interface {
	// SendUpdates notifies every subscriber in subs about their courses in snap.
	SendUpdates(ctx context.Context, snap course.Snapshot, subs course.SubscriberMap) error
	// SendSummary sends a summary of the whole snapshot to the administrator.
	SendSummary(ctx context.Context, snap course.Snapshot) error
	// SendStatus notifies every subscriber in subs about the status of all their courses.
	SendStatus(ctx context.Context, snap course.Snapshot, subs course.SubscriberMap) error
}

type Dependencies struct {
	Catalog  CatalogAPI
	Parser   ParserAPI
	Store    StoreAPI
	Notifier Notifier
	Time     chrono.TimeAPI
	// LoadSkeleton reads the subscriber declarations into a snapshot of pending records.
	LoadSkeleton func() (course.Snapshot, error)
	// CycleTimeout bounds a whole cycle, zero means no bound.
	CycleTimeout time.Duration
}

type Tracker struct {
	deps     Dependencies
	tel      telemetry.API
	inFlight chan struct{}
}

func NewTracker(deps Dependencies, tel telemetry.API) *Tracker {
	assert.NotNil(deps.Catalog, "catalog")
	assert.NotNil(deps.Parser, "parser")
	assert.NotNil(deps.Store, "store")
	assert.NotNil(deps.Notifier, "notifier")
	assert.NotNil(deps.Time, "time")
	assert.NotNil(deps.LoadSkeleton, "skeleton loader")
	assert.NotNil(tel)

	return &Tracker{
		deps:     deps,
		tel:      telemetry.NewScopedAPI("tracker", tel),
		inFlight: make(chan struct{}, 1),
	}
}

// cycle runs fn with exclusive access to the snapshot, under the cycle timeout.
// A panic inside fn is turned into an ErrCycle.
func (t *Tracker) cycle(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	select {
	case t.inFlight <- struct{}{}:
	default:
		return ErrCycleInFlight
	}
	defer func() { <-t.inFlight }()

	if t.deps.CycleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.deps.CycleTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", ErrCycle, r)
			t.tel.ReportBroken(report_cycle, err)
		}
	}()

	return fn(ctx)
}

// Refresh fetches every course in old and returns the refreshed copy along with
// the keys whose status changed. old is never modified.
//
// A course that cannot be fetched or read keeps its previous record. The diff is
// only taken after every course has been attempted, if ctx ends before that the
// partial result is dropped and ctx's error is returned.
func (t *Tracker) Refresh(ctx context.Context, old course.Snapshot) (course.Snapshot, []course.Key, error) {
	next := old.Clone()

	for _, key := range next.Keys() {
		record := next[key]
		if record == nil {
			continue
		}

		err := ctx.Err()
		if err != nil {
			return nil, nil, fmt.Errorf("refresh interrupted at %s: %w", key, err)
		}

		doc, err := t.deps.Catalog.Fetch(ctx, catalog.Query{
			Subject: record.Subject,
			Number:  record.Number,
			Term:    record.Term,
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, nil, fmt.Errorf("refresh interrupted at %s: %w", key, ctx.Err())
			}
			t.tel.ReportWarning(report_refresh_fetch, fmt.Errorf("%s: %w", key, err))
			continue
		}

		outcome, err := t.deps.Parser.Parse(doc)
		if err != nil {
			t.tel.ReportBroken(report_refresh_parse, fmt.Errorf("%s: %w", key, err))
			continue
		}
		record.Apply(outcome, t.deps.Time.Now())
	}

	// notifications for this cycle would fail on a finished ctx
	err := ctx.Err()
	if err != nil {
		return nil, nil, fmt.Errorf("refresh interrupted: %w", err)
	}

	updated := course.Diff(old, next)
	t.tel.ReportCount(report_refresh_updated, int64(len(updated)))
	return next, updated, nil
}

// Initialize builds a fresh snapshot from the subscriber declarations, refreshes
// it, drops every course the catalog does not offer and saves the result.
func (t *Tracker) Initialize(ctx context.Context) (course.Snapshot, error) {
	var out course.Snapshot
	err := t.cycle(ctx, func(ctx context.Context) error {
		skeleton, err := t.deps.LoadSkeleton()
		if err != nil {
			t.tel.ReportBroken(report_init_skeleton, err)
			return fmt.Errorf("load skeleton: %w", err)
		}

		snap, _, err := t.Refresh(ctx, skeleton)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrCycle, err)
		}
		for _, key := range snap.RemoveInvalid() {
			t.tel.ReportWarning(report_init_purge, fmt.Errorf("%s is not offered, it will not be tracked", key))
		}

		err = t.deps.Store.Save(snap)
		if err != nil {
			t.tel.ReportBroken(report_store_save, err)
			return fmt.Errorf("%w: %w", ErrCycle, err)
		}
		t.tel.ReportCount(report_tracked_course_count, int64(len(snap)))

		out = snap
		return nil
	})
	return out, err
}

// RefreshAndNotify refreshes the saved snapshot, saves the result and notifies
// the subscribers of every updated course. It returns the updated keys.
//
// Notification failures are reported but do not fail the cycle, the new
// snapshot has already been saved by then.
func (t *Tracker) RefreshAndNotify(ctx context.Context) ([]course.Key, error) {
	return t.refreshCycle(ctx, true)
}

// RefreshAndSave is RefreshAndNotify without any notifications.
func (t *Tracker) RefreshAndSave(ctx context.Context) ([]course.Key, error) {
	return t.refreshCycle(ctx, false)
}

func (t *Tracker) refreshCycle(ctx context.Context, notify bool) ([]course.Key, error) {
	var updated []course.Key
	err := t.cycle(ctx, func(ctx context.Context) error {
		old, err := t.deps.Store.Load()
		if err != nil {
			t.tel.ReportBroken(report_store_load, err)
			return fmt.Errorf("%w: %w", ErrCycle, err)
		}

		next, changed, err := t.Refresh(ctx, old)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrCycle, err)
		}

		err = t.deps.Store.Save(next)
		if err != nil {
			t.tel.ReportBroken(report_store_save, err)
			return fmt.Errorf("%w: %w", ErrCycle, err)
		}
		updated = changed

		if !notify {
			return nil
		}

		if len(changed) == 0 {
			t.tel.ReportDebug("no courses to update")
		} else {
			subs := course.MapSubscribers(next, changed)
			err = t.deps.Notifier.SendUpdates(ctx, next.Subset(changed), subs)
			if err != nil {
				t.tel.ReportBroken(report_cycle_notify, err)
			}
		}

		err = t.deps.Notifier.SendSummary(ctx, next)
		if err != nil {
			t.tel.ReportBroken(report_cycle_summary, err)
		}
		return nil
	})
	return updated, err
}

// Tick runs a single scheduled cycle, errors are reported and left for the next tick.
func (t *Tracker) Tick(ctx context.Context) {
	t.tel.ReportDebug("course update job triggered")
	_, err := t.RefreshAndNotify(ctx)
	if errors.Is(err, ErrCycleInFlight) {
		t.tel.ReportWarning(report_tick_skipped, err)
		return
	}
	if err != nil {
		t.tel.ReportBroken(report_cycle, err)
	}
}

// Schedule registers Tick to run every intervalHours on cron.
func (t *Tracker) Schedule(ctx context.Context, cron chrono.CronAPI, intervalHours int) error {
	return cron.Cron(chrono.EveryHours(intervalHours), func() {
		t.Tick(ctx)
	})
}

// SendStatus notifies every subscriber of the saved status of all their courses.
func (t *Tracker) SendStatus(ctx context.Context) error {
	snap, err := t.deps.Store.Load()
	if err != nil {
		t.tel.ReportBroken(report_store_load, err)
		return err
	}
	err = t.deps.Notifier.SendStatus(ctx, snap, course.MapSubscribers(snap, nil))
	if err != nil {
		t.tel.ReportBroken(report_status_notify, err)
		return err
	}
	return nil
}

// Snapshot returns the saved snapshot.
func (t *Tracker) Snapshot() (course.Snapshot, error) {
	return t.deps.Store.Load()
}

// HasSnapshot reports whether a previous run saved a snapshot.
func (t *Tracker) HasSnapshot() bool {
	return t.deps.Store.Exists()
}
