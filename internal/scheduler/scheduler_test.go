package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"propscout-engine/internal/domain"
	"propscout-engine/internal/etl"
	"propscout-engine/internal/scrape/types"
	"propscout-engine/internal/scrape/util"
)

// fixtureAdapter serves scripted pages, or scripted errors, per page number.
// Detail responses are scripted per listing URL.
type fixtureAdapter struct {
	name    domain.DataSource
	pages   map[int]types.Page
	errs    map[int]error
	details map[string]domain.RawListing
	slow    bool // block on ctx instead of returning, for cancel tests
}

func (f *fixtureAdapter) Name() domain.DataSource { return f.name }

func (f *fixtureAdapter) Search(ctx context.Context, _ domain.SearchCriteria, page int) (types.Page, error) {
	if f.slow {
		<-ctx.Done()
		return types.Page{}, ctx.Err()
	}
	if err, ok := f.errs[page]; ok {
		return types.Page{}, err
	}
	if p, ok := f.pages[page]; ok {
		return p, nil
	}
	return types.Page{}, nil
}

func (f *fixtureAdapter) Detail(ctx context.Context, url string) (domain.RawListing, error) {
	if d, ok := f.details[url]; ok {
		return d, nil
	}
	return domain.RawListing{}, errors.New("not scripted")
}

// memPropertyStore is an in-memory PropertyStore with failure injection.
// Successful upserts are also recorded in arrival order.
type memPropertyStore struct {
	mu          sync.Mutex
	rows        map[string]domain.Property
	order       []string // addresses, in upsert order
	failUpserts int      // first N upserts error out
	upsertCalls int
}

func newMemPropertyStore() *memPropertyStore {
	return &memPropertyStore{rows: map[string]domain.Property{}}
}

func (m *memPropertyStore) FindByFingerprint(_ context.Context, fp string) (*domain.Property, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.rows[fp]; ok {
		cp := p
		return &cp, nil
	}
	return nil, nil
}

func (m *memPropertyStore) UpsertProperty(_ context.Context, p domain.Property) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upsertCalls++
	if m.failUpserts > 0 {
		m.failUpserts--
		return 0, errors.New("injected storage failure")
	}
	m.rows[p.Fingerprint] = p
	m.order = append(m.order, p.Address)
	return int64(len(m.rows)), nil
}

func (m *memPropertyStore) upsertOrder() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string{}, m.order...)
}

func (m *memPropertyStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

func (m *memPropertyStore) one() domain.Property {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.rows {
		return p
	}
	return domain.Property{}
}

// memJobStore keeps job rows in a map; good enough for lifecycle assertions.
type memJobStore struct {
	mu   sync.Mutex
	rows map[string]domain.Job
}

func newMemJobStore() *memJobStore {
	return &memJobStore{rows: map[string]domain.Job{}}
}

func (m *memJobStore) InsertJob(_ context.Context, j domain.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[j.ID] = j
	return nil
}

func (m *memJobStore) UpdateJob(_ context.Context, j domain.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[j.ID]; !ok {
		return errors.New("not found")
	}
	m.rows[j.ID] = j
	return nil
}

func (m *memJobStore) GetJob(_ context.Context, id string) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.rows[id]; ok {
		cp := j
		return &cp, nil
	}
	return nil, nil
}

func (m *memJobStore) ListJobs(_ context.Context, _ int) ([]domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Job
	for _, j := range m.rows {
		if !j.Archived {
			out = append(out, j)
		}
	}
	return out, nil
}

func (m *memJobStore) ArchiveJob(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.rows[id]
	if !ok {
		return errors.New("not found")
	}
	j.Archived = true
	m.rows[id] = j
	return nil
}

func makeRaw(src domain.DataSource, street string, extra map[string]string) domain.RawListing {
	fields := map[string]string{
		"street_address": street,
		"city":           "San Francisco",
		"state":          "CA",
		"zip_code":       "94102",
		"price":          "$1,200,000",
	}
	for k, v := range extra {
		fields[k] = v
	}
	if street == "" {
		delete(fields, "street_address")
	}
	return domain.RawListing{
		Source:    src,
		SourceURL: fmt.Sprintf("https://example.com/%s/%s", src, street),
		Fields:    fields,
		ScrapedAt: time.Now().UTC(),
	}
}

func newTestScheduler(adapters map[domain.DataSource]types.Adapter, props *memPropertyStore, jobs *memJobStore) *Scheduler {
	loader := &etl.Loader{
		Store:       props,
		Weights:     etl.DefaultWeights(),
		Threshold:   40,
		MaxAttempts: 3,
		RetryDelay:  time.Millisecond,
	}
	return &Scheduler{
		Adapters: adapters,
		Pipeline: &etl.Pipeline{Loader: loader},
		Jobs:     jobs,
		Backoff:  util.Backoff{MaxAttempts: 2, Base: time.Millisecond, Max: 5 * time.Millisecond},
	}
}

func waitTerminal(t *testing.T, s *Scheduler, id string) domain.Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		j, err := s.Status(context.Background(), id)
		if err != nil {
			t.Fatalf("status: %v", err)
		}
		if j.Status.Terminal() {
			return j
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s never reached a terminal state", id)
	return domain.Job{}
}

func TestJobCountsRejectedRecord(t *testing.T) {
	adapter := &fixtureAdapter{
		name: domain.SourceRedfin,
		pages: map[int]types.Page{
			1: {Listings: []domain.RawListing{
				makeRaw(domain.SourceRedfin, "100 First St", nil),
				makeRaw(domain.SourceRedfin, "", nil), // no street, must be rejected
				makeRaw(domain.SourceRedfin, "300 Third St", nil),
			}},
		},
	}
	props := newMemPropertyStore()
	s := newTestScheduler(map[domain.DataSource]types.Adapter{domain.SourceRedfin: adapter}, props, newMemJobStore())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	job, err := s.Submit(ctx, domain.SourceRedfin, domain.SearchCriteria{Location: "San Francisco, CA"}, 5)
	if err != nil {
		t.Fatal(err)
	}
	done := waitTerminal(t, s, job.ID)

	if done.Status != domain.JobSucceeded {
		t.Fatalf("status: got %s, want succeeded (error: %s)", done.Status, done.Error)
	}
	if done.Counts.Fetched != 3 || done.Counts.Rejected != 1 || done.Counts.Loaded != 2 {
		t.Errorf("counts: got %+v, want fetched=3 rejected=1 loaded=2", done.Counts)
	}
	if props.count() != 2 {
		t.Errorf("stored rows: got %d, want 2", props.count())
	}
}

func TestBlockedAfterFirstPageSucceedsWithWarning(t *testing.T) {
	adapter := &fixtureAdapter{
		name: domain.SourceRedfin,
		pages: map[int]types.Page{
			1: {
				Listings: []domain.RawListing{
					makeRaw(domain.SourceRedfin, "100 First St", nil),
					makeRaw(domain.SourceRedfin, "200 Second St", nil),
				},
				HasMore: true,
			},
		},
		errs: map[int]error{2: types.ErrBlocked},
	}
	props := newMemPropertyStore()
	s := newTestScheduler(map[domain.DataSource]types.Adapter{domain.SourceRedfin: adapter}, props, newMemJobStore())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	job, err := s.Submit(ctx, domain.SourceRedfin, domain.SearchCriteria{Location: "San Francisco, CA"}, 5)
	if err != nil {
		t.Fatal(err)
	}
	done := waitTerminal(t, s, job.ID)

	if done.Status != domain.JobSucceeded {
		t.Fatalf("blocked after a good page should still succeed, got %s", done.Status)
	}
	if len(done.Warnings) == 0 {
		t.Errorf("expected a block warning, got none")
	}
	if done.Counts.Loaded != 2 {
		t.Errorf("page 1 records should be kept: loaded=%d", done.Counts.Loaded)
	}
}

func TestBlockedUpFrontFails(t *testing.T) {
	adapter := &fixtureAdapter{
		name: domain.SourceRedfin,
		errs: map[int]error{1: types.ErrBlocked},
	}
	s := newTestScheduler(map[domain.DataSource]types.Adapter{domain.SourceRedfin: adapter},
		newMemPropertyStore(), newMemJobStore())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	job, err := s.Submit(ctx, domain.SourceRedfin, domain.SearchCriteria{Location: "San Francisco, CA"}, 5)
	if err != nil {
		t.Fatal(err)
	}
	done := waitTerminal(t, s, job.ID)

	if done.Status != domain.JobFailed {
		t.Fatalf("blocked with nothing fetched should fail, got %s", done.Status)
	}
	if done.Error == "" {
		t.Errorf("failed job should carry the error")
	}
}

func TestEmptyPageAfterResultsIsSoftBlock(t *testing.T) {
	// page 1 has cards and claims more; page 2 comes back empty
	adapter := &fixtureAdapter{
		name: domain.SourceRedfin,
		pages: map[int]types.Page{
			1: {
				Listings: []domain.RawListing{
					makeRaw(domain.SourceRedfin, "100 First St", nil),
				},
				HasMore: true,
			},
			2: {HasMore: true},
		},
	}
	props := newMemPropertyStore()
	s := newTestScheduler(map[domain.DataSource]types.Adapter{domain.SourceRedfin: adapter}, props, newMemJobStore())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	job, err := s.Submit(ctx, domain.SourceRedfin, domain.SearchCriteria{Location: "San Francisco, CA"}, 5)
	if err != nil {
		t.Fatal(err)
	}
	done := waitTerminal(t, s, job.ID)

	if done.Status != domain.JobSucceeded {
		t.Fatalf("soft block keeps earlier pages, got %s", done.Status)
	}
	if len(done.Warnings) == 0 {
		t.Errorf("expected a soft-block warning")
	}
	if done.Counts.Loaded != 1 || props.count() != 1 {
		t.Errorf("page 1 record should be kept: loaded=%d rows=%d", done.Counts.Loaded, props.count())
	}
}

func TestCrossSourceMerge(t *testing.T) {
	redfinAdapter := &fixtureAdapter{
		name: domain.SourceRedfin,
		pages: map[int]types.Page{
			1: {Listings: []domain.RawListing{
				makeRaw(domain.SourceRedfin, "123 Market St", map[string]string{
					"square_feet": "2100",
				}),
			}},
		},
	}
	zillowAdapter := &fixtureAdapter{
		name: domain.SourceZillow,
		pages: map[int]types.Page{
			1: {Listings: []domain.RawListing{
				makeRaw(domain.SourceZillow, "123 Market Street", map[string]string{
					"bedrooms": "3",
				}),
			}},
		},
	}

	props := newMemPropertyStore()
	s := newTestScheduler(map[domain.DataSource]types.Adapter{
		domain.SourceRedfin: redfinAdapter,
		domain.SourceZillow: zillowAdapter,
	}, props, newMemJobStore())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	j1, err := s.Submit(ctx, domain.SourceRedfin, domain.SearchCriteria{Location: "San Francisco, CA"}, 1)
	if err != nil {
		t.Fatal(err)
	}
	waitTerminal(t, s, j1.ID)

	j2, err := s.Submit(ctx, domain.SourceZillow, domain.SearchCriteria{Location: "San Francisco, CA"}, 1)
	if err != nil {
		t.Fatal(err)
	}
	done := waitTerminal(t, s, j2.ID)

	if props.count() != 1 {
		t.Fatalf("same unit from two sources must collapse to one row, got %d", props.count())
	}
	p := props.one()
	if len(p.Sources) != 2 {
		t.Errorf("sources: got %v, want both", p.Sources)
	}
	if p.Bedrooms == nil || *p.Bedrooms != 3 {
		t.Errorf("bedrooms from the second source should survive the merge: %v", p.Bedrooms)
	}
	if p.SquareFeet == nil || *p.SquareFeet != 2100 {
		t.Errorf("square feet from the first source should survive the merge: %v", p.SquareFeet)
	}
	if done.Counts.Merged != 1 {
		t.Errorf("second job should count a merge: %+v", done.Counts)
	}
}

func TestStorageRetryEventuallyLoads(t *testing.T) {
	adapter := &fixtureAdapter{
		name: domain.SourceRedfin,
		pages: map[int]types.Page{
			1: {Listings: []domain.RawListing{
				makeRaw(domain.SourceRedfin, "100 First St", nil),
			}},
		},
	}
	props := newMemPropertyStore()
	props.failUpserts = 2 // third attempt lands

	s := newTestScheduler(map[domain.DataSource]types.Adapter{domain.SourceRedfin: adapter},
		props, newMemJobStore())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	job, err := s.Submit(ctx, domain.SourceRedfin, domain.SearchCriteria{Location: "San Francisco, CA"}, 1)
	if err != nil {
		t.Fatal(err)
	}
	done := waitTerminal(t, s, job.ID)

	if done.Status != domain.JobSucceeded {
		t.Fatalf("status: got %s", done.Status)
	}
	if done.Counts.Loaded != 1 {
		t.Errorf("loaded: got %d, want 1 after retries", done.Counts.Loaded)
	}
	if props.count() != 1 {
		t.Errorf("rows: got %d, want 1", props.count())
	}
	if props.upsertCalls != 3 {
		t.Errorf("upsert calls: got %d, want 3", props.upsertCalls)
	}
}

func TestCancelRunningJob(t *testing.T) {
	adapter := &fixtureAdapter{name: domain.SourceRedfin, slow: true}
	s := newTestScheduler(map[domain.DataSource]types.Adapter{domain.SourceRedfin: adapter},
		newMemPropertyStore(), newMemJobStore())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	job, err := s.Submit(ctx, domain.SourceRedfin, domain.SearchCriteria{Location: "San Francisco, CA"}, 10)
	if err != nil {
		t.Fatal(err)
	}

	// let the worker pick it up, then cancel mid-fetch
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		j, _ := s.Status(ctx, job.ID)
		if j.Status == domain.JobRunning {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if err := s.Cancel(ctx, job.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	done := waitTerminal(t, s, job.ID)
	if done.Status != domain.JobCancelled {
		t.Fatalf("status: got %s, want cancelled", done.Status)
	}
}

func TestCancelFinishedJobErrors(t *testing.T) {
	adapter := &fixtureAdapter{
		name: domain.SourceRedfin,
		pages: map[int]types.Page{
			1: {Listings: []domain.RawListing{makeRaw(domain.SourceRedfin, "100 First St", nil)}},
		},
	}
	jobs := newMemJobStore()
	s := newTestScheduler(map[domain.DataSource]types.Adapter{domain.SourceRedfin: adapter},
		newMemPropertyStore(), jobs)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	job, err := s.Submit(ctx, domain.SourceRedfin, domain.SearchCriteria{Location: "San Francisco, CA"}, 1)
	if err != nil {
		t.Fatal(err)
	}
	waitTerminal(t, s, job.ID)

	// the scheduler no longer tracks it; the persisted row is terminal
	if err := s.Cancel(ctx, job.ID); err == nil {
		t.Error("cancelling a finished job should error")
	}

	// archiving keeps the row but hides it from listings
	if err := s.Archive(ctx, job.ID); err != nil {
		t.Fatalf("archive: %v", err)
	}
	listed, err := s.List(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	for _, j := range listed {
		if j.ID == job.ID {
			t.Error("archived job still listed")
		}
	}
	got, err := jobs.GetJob(ctx, job.ID)
	if err != nil || got == nil {
		t.Fatalf("archived job row must survive: %v", err)
	}
	if got.Counts.Loaded != 1 {
		t.Errorf("archived row should keep its counters: %+v", got.Counts)
	}
}

func TestPageListingsProcessedInOrder(t *testing.T) {
	adapter := &fixtureAdapter{
		name: domain.SourceRedfin,
		pages: map[int]types.Page{
			1: {Listings: []domain.RawListing{
				makeRaw(domain.SourceRedfin, "100 First St", nil),
				makeRaw(domain.SourceRedfin, "200 Second St", nil),
				makeRaw(domain.SourceRedfin, "300 Third St", nil),
			}},
		},
	}
	props := newMemPropertyStore()
	s := newTestScheduler(map[domain.DataSource]types.Adapter{domain.SourceRedfin: adapter}, props, newMemJobStore())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	job, err := s.Submit(ctx, domain.SourceRedfin, domain.SearchCriteria{Location: "San Francisco, CA"}, 1)
	if err != nil {
		t.Fatal(err)
	}
	waitTerminal(t, s, job.ID)

	want := []string{"100 First St", "200 Second St", "300 Third St"}
	got := props.upsertOrder()
	if len(got) != len(want) {
		t.Fatalf("upserts: got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("page order lost: got %v, want %v", got, want)
		}
	}
}

func TestDetailEnrichesSparseListings(t *testing.T) {
	sparse := makeRaw(domain.SourceRedfin, "100 First St", nil) // no sqft, no description
	full := makeRaw(domain.SourceRedfin, "200 Second St", map[string]string{
		"square_feet": "900",
		"description": "already complete",
	})
	adapter := &fixtureAdapter{
		name:  domain.SourceRedfin,
		pages: map[int]types.Page{1: {Listings: []domain.RawListing{sparse, full}}},
		details: map[string]domain.RawListing{
			sparse.SourceURL: {
				Source:    domain.SourceRedfin,
				SourceURL: sparse.SourceURL,
				Fields: map[string]string{
					"square_feet": "2100",
					"description": "from the detail page",
					"price":       "$999", // card value must win over this
				},
				ScrapedAt: time.Now().UTC(),
			},
			// the complete listing has no scripted detail; it must never ask
		},
	}
	props := newMemPropertyStore()
	s := newTestScheduler(map[domain.DataSource]types.Adapter{domain.SourceRedfin: adapter}, props, newMemJobStore())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	job, err := s.Submit(ctx, domain.SourceRedfin, domain.SearchCriteria{Location: "San Francisco, CA"}, 1)
	if err != nil {
		t.Fatal(err)
	}
	done := waitTerminal(t, s, job.ID)
	if done.Status != domain.JobSucceeded {
		t.Fatalf("status: got %s (error: %s)", done.Status, done.Error)
	}

	fp := etl.Fingerprint("100 First St", "San Francisco", "CA", "94102")
	enriched, err := props.FindByFingerprint(ctx, fp)
	if err != nil || enriched == nil {
		t.Fatalf("enriched row missing: %v", err)
	}
	if enriched.SquareFeet == nil || *enriched.SquareFeet != 2100 {
		t.Errorf("square feet from detail page not applied: %+v", enriched.SquareFeet)
	}
	if enriched.Description != "from the detail page" {
		t.Errorf("description: got %q", enriched.Description)
	}
	if enriched.Price == nil || *enriched.Price != 120000000 {
		t.Errorf("card price must beat the detail value: %+v", enriched.Price)
	}
}

func TestQueueFullSubmissionsDoNotAccumulate(t *testing.T) {
	adapter := &fixtureAdapter{name: domain.SourceRedfin, slow: true}
	jobs := newMemJobStore()
	s := newTestScheduler(map[domain.DataSource]types.Adapter{domain.SourceRedfin: adapter},
		newMemPropertyStore(), jobs)
	s.Workers = map[domain.DataSource]int{domain.SourceRedfin: 1}
	s.QueueDepth = 1

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	first, err := s.Submit(ctx, domain.SourceRedfin, domain.SearchCriteria{Location: "San Francisco, CA"}, 1)
	if err != nil {
		t.Fatal(err)
	}
	// wait for the single worker to pick it up so the queue is drained
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		j, _ := s.Status(ctx, first.ID)
		if j.Status == domain.JobRunning {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	if _, err := s.Submit(ctx, domain.SourceRedfin, domain.SearchCriteria{Location: "Oakland, CA"}, 1); err != nil {
		t.Fatalf("second submit should queue: %v", err)
	}
	if _, err := s.Submit(ctx, domain.SourceRedfin, domain.SearchCriteria{Location: "Berkeley, CA"}, 1); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("want ErrQueueFull, got %v", err)
	}

	// the rejected submission must not stay tracked as live work
	s.mu.Lock()
	live := len(s.active)
	s.mu.Unlock()
	if live != 2 {
		t.Errorf("active jobs: got %d, want the running and queued pair", live)
	}

	// its row survives as a failed job for auditing
	failed := 0
	listed, err := jobs.ListJobs(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	for _, j := range listed {
		if j.Status == domain.JobFailed && j.Error == ErrQueueFull.Error() {
			failed++
		}
	}
	if failed != 1 {
		t.Errorf("failed queue-full rows: got %d, want 1", failed)
	}
}

func TestSubmitUnknownSource(t *testing.T) {
	s := newTestScheduler(map[domain.DataSource]types.Adapter{}, newMemPropertyStore(), newMemJobStore())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	_, err := s.Submit(ctx, domain.SourceZillow, domain.SearchCriteria{Location: "Austin, TX"}, 1)
	if !errors.Is(err, ErrUnknownSource) {
		t.Errorf("want ErrUnknownSource, got %v", err)
	}
}
