package tracker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"coursetracker/internal/catalog"
	"coursetracker/internal/course"
	"coursetracker/internal/telemetry"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

type fixedTime struct {
	now time.Time
}

func (f fixedTime) Now() time.Time {
	return f.now
}

func (f fixedTime) Location() *time.Location {
	return time.UTC
}

type row struct {
	location     string
	availability string
}

// fakeCatalog serves a section table per course, a course missing from rows
// fails with a transport error.
type fakeCatalog struct {
	mutex   sync.Mutex
	rows    map[course.Key][]row
	queries []catalog.Query
	block   chan struct{}
	// onFetch runs on every fetch before the response is built.
	onFetch func()
}

func (f *fakeCatalog) set(key course.Key, rows ...row) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if f.rows == nil {
		f.rows = map[course.Key][]row{}
	}
	f.rows[key] = rows
}

func (f *fakeCatalog) fail(key course.Key) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	delete(f.rows, key)
}

func (f *fakeCatalog) Fetch(ctx context.Context, q catalog.Query) (*goquery.Document, error) {
	if f.block != nil {
		<-f.block
	}
	if f.onFetch != nil {
		f.onFetch()
	}

	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.queries = append(f.queries, q)

	rows, ok := f.rows[course.DeriveKey(q.Subject, q.Number, q.Term)]
	if !ok {
		return nil, fmt.Errorf("%w: connection refused", catalog.ErrTransport)
	}

	html := &strings.Builder{}
	fmt.Fprintf(html, `<section class="course"><h1>%s %s <small>%s %s Title</small></h1>`, q.Subject, q.Number, q.Subject, q.Number)
	html.WriteString(`<table class="table section-table">`)
	for _, r := range rows {
		fmt.Fprintf(html, `<tr><td></td><td></td><td></td><td>%s</td><td></td><td>%s</td></tr>`, r.availability, r.location)
	}
	html.WriteString(`</table></section>`)

	return goquery.NewDocumentFromReader(strings.NewReader(html.String()))
}

type memoryStore struct {
	snap    course.Snapshot
	saves   int
	saveErr error
}

func (m *memoryStore) Exists() bool {
	return m.snap != nil
}

func (m *memoryStore) Load() (course.Snapshot, error) {
	if m.snap == nil {
		return nil, errors.New("no snapshot saved")
	}
	return m.snap.Clone(), nil
}

func (m *memoryStore) Save(snap course.Snapshot) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saves++
	m.snap = snap.Clone()
	return nil
}

type sentUpdate struct {
	snap course.Snapshot
	subs course.SubscriberMap
}

type fakeNotifier struct {
	updates   []sentUpdate
	summaries []course.Snapshot
	statuses  []sentUpdate
	updateErr error
}

func (f *fakeNotifier) SendUpdates(ctx context.Context, snap course.Snapshot, subs course.SubscriberMap) error {
	f.updates = append(f.updates, sentUpdate{snap: snap.Clone(), subs: subs})
	return f.updateErr
}

func (f *fakeNotifier) SendSummary(ctx context.Context, snap course.Snapshot) error {
	f.summaries = append(f.summaries, snap.Clone())
	return nil
}

func (f *fakeNotifier) SendStatus(ctx context.Context, snap course.Snapshot, subs course.SubscriberMap) error {
	f.statuses = append(f.statuses, sentUpdate{snap: snap.Clone(), subs: subs})
	return nil
}

type harness struct {
	catalog  *fakeCatalog
	store    *memoryStore
	notifier *fakeNotifier
	recorder *telemetry.Recorder
	tracker  *Tracker
	now      time.Time
}

func aliceDeclarations() map[string]course.Declaration {
	return map[string]course.Declaration{
		"alice": {
			Email:   "alice@x.edu",
			Name:    "Alice",
			Subject: "CSC",
			Courses: map[string]string{"501": "F23"},
		},
	}
}

func newHarness(t *testing.T, decls map[string]course.Declaration) harness {
	t.Helper()

	parser, err := catalog.NewParser(catalog.Selectors{
		Row:          "table.section-table > tbody > tr:nth-of-type(#ROW#)",
		Availability: "td:nth-of-type(4)",
		Location:     "td:nth-of-type(6)",
		Title:        ".course > h1 > small",
	})
	require.NoError(t, err)

	h := harness{
		catalog:  &fakeCatalog{},
		store:    &memoryStore{},
		notifier: &fakeNotifier{},
		recorder: &telemetry.Recorder{Log: t.Log},
		now:      time.Date(2023, 8, 1, 9, 0, 0, 0, time.UTC),
	}
	h.tracker = NewTracker(Dependencies{
		Catalog:  h.catalog,
		Parser:   parser,
		Store:    h.store,
		Notifier: h.notifier,
		Time:     fixedTime{now: h.now},
		LoadSkeleton: func() (course.Snapshot, error) {
			return course.BuildSkeleton(decls, course.TermMap{"F23": "2198"})
		},
		CycleTimeout: time.Minute,
	}, h.recorder)
	return h
}

const csc501 course.Key = "CSC:501 - 2198"

func TestInitializePopulated(t *testing.T) {
	h := newHarness(t, aliceDeclarations())
	h.catalog.set(csc501, row{location: "Room 100", availability: "5 seats"})

	snap, err := h.tracker.Initialize(context.Background())
	require.NoError(t, err)

	require.Equal(t, []course.Key{csc501}, snap.Keys())
	record := snap[csc501]
	require.False(t, record.Invalid())
	require.Equal(t, []string{"Room 100"}, record.Locations())
	require.Equal(t, []string{"5 seats"}, record.Availabilities())
	require.Equal(t, map[string]string{"alice@x.edu": "Alice"}, record.Roster)
	require.Equal(t, "CSC 501 Title", record.Name)
	require.Equal(t, h.now, *record.CheckedAt)

	if diff := cmp.Diff(snap, h.store.snap); diff != "" {
		t.Fatal(diff)
	}
}

func TestInitializeDropsInvalid(t *testing.T) {
	h := newHarness(t, aliceDeclarations())
	h.catalog.set(csc501)

	snap, err := h.tracker.Initialize(context.Background())
	require.NoError(t, err)
	require.Empty(t, snap)
	require.Empty(t, h.store.snap)
	require.Equal(t, 1, h.store.saves)
	require.Equal(t, []string{"tracker: init.purge"}, h.recorder.Reports(telemetry.LevelWarning))
}

func TestInitializeKeepsUnreachable(t *testing.T) {
	h := newHarness(t, aliceDeclarations())

	snap, err := h.tracker.Initialize(context.Background())
	require.NoError(t, err)
	require.Equal(t, course.StatePending, snap[csc501].Status())
}

func TestInitializeSkeletonError(t *testing.T) {
	h := newHarness(t, map[string]course.Declaration{
		"alice": {Email: "alice@x.edu", Name: "Alice", Subject: "CSC", Courses: map[string]string{"501": "F22"}},
	})

	_, err := h.tracker.Initialize(context.Background())
	require.ErrorIs(t, err, course.ErrUnknownTerm)
	require.Zero(t, h.store.saves)
}

func TestRefreshAndNotifyUpdate(t *testing.T) {
	h := newHarness(t, aliceDeclarations())
	h.catalog.set(csc501, row{location: "Room 100", availability: "5 seats"})
	_, err := h.tracker.Initialize(context.Background())
	require.NoError(t, err)

	// nothing changed
	updated, err := h.tracker.RefreshAndNotify(context.Background())
	require.NoError(t, err)
	require.Empty(t, updated)
	require.Empty(t, h.notifier.updates)
	require.Len(t, h.notifier.summaries, 1)

	h.catalog.set(csc501, row{location: "Room 100", availability: "0 seats"})
	updated, err = h.tracker.RefreshAndNotify(context.Background())
	require.NoError(t, err)
	require.Equal(t, []course.Key{csc501}, updated)

	require.Len(t, h.notifier.updates, 1)
	require.Equal(t, course.SubscriberMap{"alice@x.edu": {csc501}}, h.notifier.updates[0].subs)
	require.Equal(t, []string{"0 seats"}, h.notifier.updates[0].snap[csc501].Availabilities())
	require.Equal(t, []string{"0 seats"}, h.store.snap[csc501].Availabilities())
	require.Len(t, h.notifier.summaries, 2)
}

func TestRefreshAndNotifyTransportFailure(t *testing.T) {
	decls := aliceDeclarations()
	decls["bob"] = course.Declaration{
		Email:   "bob@x.edu",
		Name:    "Bob",
		Subject: "MA",
		Courses: map[string]string{"405": "F23"},
	}
	ma405 := course.Key("MA:405 - 2198")

	h := newHarness(t, decls)
	h.catalog.set(csc501, row{location: "Room 100", availability: "5 seats"})
	h.catalog.set(ma405, row{location: "SAS 1102", availability: "3 seats"})
	_, err := h.tracker.Initialize(context.Background())
	require.NoError(t, err)
	before := h.store.snap.Clone()

	h.catalog.fail(csc501)
	h.catalog.set(ma405, row{location: "SAS 1102", availability: "2 seats"})

	updated, err := h.tracker.RefreshAndNotify(context.Background())
	require.NoError(t, err)
	require.Equal(t, []course.Key{ma405}, updated)

	if diff := cmp.Diff(before[csc501], h.store.snap[csc501]); diff != "" {
		t.Fatal(diff)
	}
	require.Equal(t, []string{"2 seats"}, h.store.snap[ma405].Availabilities())
	require.Equal(t, course.SubscriberMap{"bob@x.edu": {ma405}}, h.notifier.updates[0].subs)
	// one report per failed fetch
	require.Equal(t, []string{"tracker: refresh.fetch"}, h.recorder.Reports(telemetry.LevelWarning))
}

func TestRefreshRetainsInvalid(t *testing.T) {
	h := newHarness(t, aliceDeclarations())
	h.catalog.set(csc501, row{location: "Room 100", availability: "5 seats"})
	_, err := h.tracker.Initialize(context.Background())
	require.NoError(t, err)

	h.catalog.set(csc501)
	updated, err := h.tracker.RefreshAndNotify(context.Background())
	require.NoError(t, err)
	require.Equal(t, []course.Key{csc501}, updated)
	require.True(t, h.store.snap[csc501].Invalid())
	require.Empty(t, h.store.snap[csc501].Sections)
	require.Equal(t, map[string]string{"alice@x.edu": "Alice"}, h.store.snap[csc501].Roster)
}

func TestRefreshDoesNotModifyInput(t *testing.T) {
	h := newHarness(t, aliceDeclarations())
	h.catalog.set(csc501, row{location: "Room 100", availability: "5 seats"})

	old, err := course.BuildSkeleton(aliceDeclarations(), course.TermMap{"F23": "2198"})
	require.NoError(t, err)
	original := old.Clone()

	next, updated, err := h.tracker.Refresh(context.Background(), old)
	require.NoError(t, err)
	require.Equal(t, []course.Key{csc501}, updated)
	require.Equal(t, course.StatePopulated, next[csc501].Status())
	if diff := cmp.Diff(original, old); diff != "" {
		t.Fatal(diff)
	}
}

func TestRefreshCancelledMidCycle(t *testing.T) {
	decls := aliceDeclarations()
	decls["bob"] = course.Declaration{
		Email:   "bob@x.edu",
		Name:    "Bob",
		Subject: "MA",
		Courses: map[string]string{"405": "F23"},
	}
	ma405 := course.Key("MA:405 - 2198")

	h := newHarness(t, decls)
	h.catalog.set(csc501, row{location: "Room 100", availability: "5 seats"})
	h.catalog.set(ma405, row{location: "SAS 1102", availability: "3 seats"})
	_, err := h.tracker.Initialize(context.Background())
	require.NoError(t, err)
	before := h.store.snap.Clone()
	saves := h.store.saves

	h.catalog.set(csc501, row{location: "Room 100", availability: "0 seats"})
	h.catalog.set(ma405, row{location: "SAS 1102", availability: "2 seats"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.catalog.onFetch = cancel

	updated, err := h.tracker.RefreshAndNotify(ctx)
	require.ErrorIs(t, err, ErrCycle)
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, updated)
	require.Equal(t, saves, h.store.saves)
	require.Empty(t, h.notifier.updates)
	require.Empty(t, h.notifier.summaries)
	if diff := cmp.Diff(before, h.store.snap); diff != "" {
		t.Fatal(diff)
	}

	// the next cycle still sees both changes
	h.catalog.onFetch = nil
	updated, err = h.tracker.RefreshAndNotify(context.Background())
	require.NoError(t, err)
	require.Equal(t, []course.Key{csc501, ma405}, updated)
	require.Len(t, h.notifier.updates, 1)
	require.Equal(t, course.SubscriberMap{
		"alice@x.edu": {csc501},
		"bob@x.edu":   {ma405},
	}, h.notifier.updates[0].subs)
}

func TestRefreshCancelledAfterLastFetch(t *testing.T) {
	h := newHarness(t, aliceDeclarations())
	h.catalog.set(csc501, row{location: "Room 100", availability: "5 seats"})

	old, err := course.BuildSkeleton(aliceDeclarations(), course.TermMap{"F23": "2198"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.catalog.onFetch = cancel

	next, updated, err := h.tracker.Refresh(ctx, old)
	require.ErrorIs(t, err, context.Canceled)
	require.Nil(t, next)
	require.Nil(t, updated)
}

func TestInitializeCancelled(t *testing.T) {
	h := newHarness(t, aliceDeclarations())
	h.catalog.set(csc501, row{location: "Room 100", availability: "5 seats"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.tracker.Initialize(ctx)
	require.ErrorIs(t, err, ErrCycle)
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, h.store.saves)
	require.Empty(t, h.catalog.queries)
}

func TestRefreshAndSave(t *testing.T) {
	h := newHarness(t, aliceDeclarations())
	h.catalog.set(csc501, row{location: "Room 100", availability: "5 seats"})
	_, err := h.tracker.Initialize(context.Background())
	require.NoError(t, err)

	h.catalog.set(csc501, row{location: "Room 100", availability: "0 seats"})
	updated, err := h.tracker.RefreshAndSave(context.Background())
	require.NoError(t, err)
	require.Equal(t, []course.Key{csc501}, updated)
	require.Equal(t, []string{"0 seats"}, h.store.snap[csc501].Availabilities())
	require.Empty(t, h.notifier.updates)
	require.Empty(t, h.notifier.summaries)
}

func TestRefreshAndNotifySaveFailure(t *testing.T) {
	h := newHarness(t, aliceDeclarations())
	h.catalog.set(csc501, row{location: "Room 100", availability: "5 seats"})
	_, err := h.tracker.Initialize(context.Background())
	require.NoError(t, err)

	h.catalog.set(csc501, row{location: "Room 100", availability: "0 seats"})
	h.store.saveErr = errors.New("disk full")

	_, err = h.tracker.RefreshAndNotify(context.Background())
	require.ErrorIs(t, err, ErrCycle)
	require.Empty(t, h.notifier.updates)
	require.Equal(t, []string{"5 seats"}, h.store.snap[csc501].Availabilities())
}

func TestRefreshAndNotifyNotifyFailure(t *testing.T) {
	h := newHarness(t, aliceDeclarations())
	h.catalog.set(csc501, row{location: "Room 100", availability: "5 seats"})
	_, err := h.tracker.Initialize(context.Background())
	require.NoError(t, err)

	h.catalog.set(csc501, row{location: "Room 100", availability: "0 seats"})
	h.notifier.updateErr = errors.New("smtp down")

	updated, err := h.tracker.RefreshAndNotify(context.Background())
	require.NoError(t, err)
	require.Equal(t, []course.Key{csc501}, updated)
	require.Contains(t, h.recorder.Reports(telemetry.LevelBroken), "tracker: cycle.notify")
	require.Len(t, h.notifier.summaries, 1)
}

func TestRefreshAndNotifyInFlight(t *testing.T) {
	h := newHarness(t, aliceDeclarations())
	h.catalog.set(csc501, row{location: "Room 100", availability: "5 seats"})
	_, err := h.tracker.Initialize(context.Background())
	require.NoError(t, err)

	h.catalog.block = make(chan struct{})
	done := make(chan error)
	go func() {
		_, err := h.tracker.RefreshAndNotify(context.Background())
		done <- err
	}()

	require.Eventually(t, func() bool {
		return len(h.tracker.inFlight) == 1
	}, time.Second, time.Millisecond)

	_, err = h.tracker.RefreshAndNotify(context.Background())
	require.ErrorIs(t, err, ErrCycleInFlight)

	close(h.catalog.block)
	require.NoError(t, <-done)
}

type panickingParser struct{}

func (panickingParser) Parse(*goquery.Document) (course.Outcome, error) {
	panic("unexpected document")
}

func TestCycleRecoversPanic(t *testing.T) {
	h := newHarness(t, aliceDeclarations())
	h.catalog.set(csc501, row{location: "Room 100", availability: "5 seats"})
	_, err := h.tracker.Initialize(context.Background())
	require.NoError(t, err)

	h.tracker.deps.Parser = panickingParser{}
	_, err = h.tracker.RefreshAndNotify(context.Background())
	require.ErrorIs(t, err, ErrCycle)

	// the semaphore is released after a panic
	require.Empty(t, h.tracker.inFlight)
}

func TestTickReportsFailure(t *testing.T) {
	h := newHarness(t, aliceDeclarations())

	// no snapshot saved yet
	h.tracker.Tick(context.Background())
	require.Contains(t, h.recorder.Reports(telemetry.LevelBroken), "tracker: cycle")
}

func TestSendStatus(t *testing.T) {
	h := newHarness(t, aliceDeclarations())
	h.catalog.set(csc501, row{location: "Room 100", availability: "5 seats"})
	_, err := h.tracker.Initialize(context.Background())
	require.NoError(t, err)

	require.NoError(t, h.tracker.SendStatus(context.Background()))
	require.Len(t, h.notifier.statuses, 1)
	require.Equal(t, course.SubscriberMap{"alice@x.edu": {csc501}}, h.notifier.statuses[0].subs)
}

type recordingCron struct {
	spec     string
	callback func()
}

func (r *recordingCron) Cron(spec string, callback func()) error {
	r.spec = spec
	r.callback = callback
	return nil
}

func TestSchedule(t *testing.T) {
	h := newHarness(t, aliceDeclarations())
	h.catalog.set(csc501, row{location: "Room 100", availability: "5 seats"})
	_, err := h.tracker.Initialize(context.Background())
	require.NoError(t, err)

	cron := &recordingCron{}
	require.NoError(t, h.tracker.Schedule(context.Background(), cron, 2))
	require.Equal(t, "@every 2h", cron.spec)

	h.catalog.set(csc501, row{location: "Room 100", availability: "1 seat"})
	cron.callback()
	require.Len(t, h.notifier.updates, 1)
}
