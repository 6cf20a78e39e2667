package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"propscout-engine/internal/domain"
	"propscout-engine/internal/etl"
	"propscout-engine/internal/events"
	"propscout-engine/internal/scrape/types"
	"propscout-engine/internal/scrape/util"
)

// JobStore persists job lifecycle state so history survives restarts.
type JobStore interface {
	InsertJob(ctx context.Context, j domain.Job) error
	UpdateJob(ctx context.Context, j domain.Job) error
	GetJob(ctx context.Context, id string) (*domain.Job, error)
	ListJobs(ctx context.Context, limit int) ([]domain.Job, error)
	ArchiveJob(ctx context.Context, id string) error
}

var (
	ErrUnknownSource = errors.New("unknown data source")
	ErrQueueFull     = errors.New("job queue full")
	ErrJobNotFound   = errors.New("job not found")
	ErrJobFinished   = errors.New("job already finished")
)

// Scheduler owns job intake and execution. Each source gets its own bounded
// worker pool so a slow or blocked site never starves the others.
type Scheduler struct {
	Adapters map[domain.DataSource]types.Adapter
	Pipeline *etl.Pipeline
	Jobs     JobStore
	Hub      *events.Hub
	Backoff  util.Backoff

	// Workers is per-source job concurrency; DetailWorkers bounds how many
	// detail pages of one result page are fetched at once.
	Workers       map[domain.DataSource]int
	DetailWorkers int
	QueueDepth    int

	mu     sync.Mutex
	active map[string]*runningJob
	queues map[domain.DataSource]chan string
	wg     sync.WaitGroup
}

// runningJob is the live view of a job. The persisted row is refreshed on
// every transition and at each page boundary.
type runningJob struct {
	mu     sync.Mutex
	job    domain.Job
	cancel context.CancelFunc // nil until the job starts running
	stop   bool               // cooperative cancel, checked at page boundaries
}

func (r *runningJob) snapshot() domain.Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.job
}

// Start spawns the per-source worker pools. Workers exit when ctx is done
// and Wait returns once all in-flight jobs have settled.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.active = make(map[string]*runningJob)
	s.queues = make(map[domain.DataSource]chan string)
	depth := s.QueueDepth
	if depth <= 0 {
		depth = 64
	}
	for src := range s.Adapters {
		s.queues[src] = make(chan string, depth)
	}
	s.mu.Unlock()

	for src, queue := range s.queues {
		n := s.Workers[src]
		if n <= 0 {
			n = 2
		}
		for i := 0; i < n; i++ {
			s.wg.Add(1)
			go s.worker(ctx, src, queue)
		}
	}
}

// Wait blocks until every worker has exited.
func (s *Scheduler) Wait() { s.wg.Wait() }

func (s *Scheduler) worker(ctx context.Context, src domain.DataSource, queue <-chan string) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-queue:
			s.runJob(ctx, src, id)
		}
	}
}

// Submit validates and enqueues a new job. The job is persisted as pending
// before it is queued, so a crash between the two leaves an auditable row.
func (s *Scheduler) Submit(ctx context.Context, source domain.DataSource, criteria domain.SearchCriteria, maxPages int) (domain.Job, error) {
	if _, ok := s.Adapters[source]; !ok {
		return domain.Job{}, fmt.Errorf("%w: %q", ErrUnknownSource, source)
	}
	if criteria.Location == "" {
		return domain.Job{}, errors.New("criteria missing location")
	}
	if maxPages <= 0 {
		maxPages = 10
	}

	job := domain.Job{
		ID:        uuid.NewString(),
		Source:    source,
		Criteria:  criteria,
		MaxPages:  maxPages,
		Status:    domain.JobPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.Jobs.InsertJob(ctx, job); err != nil {
		return domain.Job{}, err
	}

	r := &runningJob{job: job}
	s.mu.Lock()
	s.active[job.ID] = r
	queue := s.queues[source]
	s.mu.Unlock()

	select {
	case queue <- job.ID:
	default:
		// only runJob removes active entries, so clean up here too
		s.mu.Lock()
		delete(s.active, job.ID)
		s.mu.Unlock()
		r.mu.Lock()
		r.job.Status = domain.JobFailed
		r.job.Error = ErrQueueFull.Error()
		now := time.Now().UTC()
		r.job.CompletedAt = &now
		failed := r.job
		r.mu.Unlock()
		s.persist(ctx, failed)
		return domain.Job{}, ErrQueueFull
	}

	log.Printf("[scheduler] submitted job=%s source=%s location=%q pages=%d",
		job.ID, source, criteria.Location, maxPages)
	return job, nil
}

// Cancel stops a pending or running job. In-flight records finish; the page
// loop stops at the next boundary.
func (s *Scheduler) Cancel(ctx context.Context, id string) error {
	s.mu.Lock()
	r, ok := s.active[id]
	s.mu.Unlock()
	if !ok {
		return ErrJobNotFound
	}

	r.mu.Lock()
	if r.job.Status.Terminal() {
		r.mu.Unlock()
		return ErrJobFinished
	}
	r.stop = true
	wasPending := r.job.Status == domain.JobPending
	if wasPending {
		r.job.Status = domain.JobCancelled
		now := time.Now().UTC()
		r.job.CompletedAt = &now
	}
	cancel := r.cancel
	snap := r.job
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if wasPending {
		s.persist(ctx, snap)
		s.transitionEvent(snap, "pending->cancelled")
	}
	log.Printf("[scheduler] cancel requested job=%s", id)
	return nil
}

// Status returns the freshest view of a job: live state when the scheduler
// still tracks it, the persisted row otherwise.
func (s *Scheduler) Status(ctx context.Context, id string) (domain.Job, error) {
	s.mu.Lock()
	r, ok := s.active[id]
	s.mu.Unlock()
	if ok {
		return r.snapshot(), nil
	}
	j, err := s.Jobs.GetJob(ctx, id)
	if err != nil {
		return domain.Job{}, err
	}
	if j == nil {
		return domain.Job{}, ErrJobNotFound
	}
	return *j, nil
}

// List returns unarchived jobs, with live counters overlaid for jobs still
// in flight.
func (s *Scheduler) List(ctx context.Context, limit int) ([]domain.Job, error) {
	jobs, err := s.Jobs.ListJobs(ctx, limit)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, j := range jobs {
		if r, ok := s.active[j.ID]; ok {
			jobs[i] = r.snapshot()
		}
	}
	return jobs, nil
}

// Archive hides a finished job from listings without deleting its history.
func (s *Scheduler) Archive(ctx context.Context, id string) error {
	j, err := s.Status(ctx, id)
	if err != nil {
		return err
	}
	if !j.Status.Terminal() {
		return errors.New("job still active")
	}
	return s.Jobs.ArchiveJob(ctx, id)
}

func (s *Scheduler) runJob(ctx context.Context, src domain.DataSource, id string) {
	s.mu.Lock()
	r, ok := s.active[id]
	s.mu.Unlock()
	if !ok {
		return
	}
	defer func() {
		s.mu.Lock()
		delete(s.active, id)
		s.mu.Unlock()
	}()

	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	r.mu.Lock()
	if r.job.Status != domain.JobPending {
		// cancelled while queued
		r.mu.Unlock()
		return
	}
	r.job.Status = domain.JobRunning
	r.job.AttemptCount++
	now := time.Now().UTC()
	r.job.StartedAt = &now
	r.cancel = cancel
	snap := r.job
	r.mu.Unlock()

	s.persist(ctx, snap)
	s.transitionEvent(snap, "pending->running")
	log.Printf("[scheduler:%s] job=%s running", src, id)

	adapter := s.Adapters[src]
	pagesFetched := 0

	for page := 1; page <= snap.MaxPages; page++ {
		if r.stopped() {
			s.finish(ctx, r, domain.JobCancelled, "")
			return
		}

		var result types.Page
		err := s.Backoff.Do(jobCtx, fmt.Sprintf("%s page %d", src, page), func() error {
			var ferr error
			result, ferr = adapter.Search(jobCtx, snap.Criteria, page)
			return ferr
		})
		if err != nil {
			if r.stopped() || errors.Is(err, context.Canceled) {
				s.finish(ctx, r, domain.JobCancelled, "")
				return
			}
			if s.Hub != nil {
				s.Hub.Publish(events.Make(events.KindAdapterError, id, src, err.Error()))
			}
			if types.IsBlocked(err) {
				// A block after at least one good page keeps what we have;
				// a block up front means the job produced nothing.
				if pagesFetched > 0 {
					r.addWarning(fmt.Sprintf("source blocked at page %d, keeping %d fetched pages", page, pagesFetched))
					break
				}
				s.finish(ctx, r, domain.JobFailed, err.Error())
				return
			}
			s.finish(ctx, r, domain.JobFailed, err.Error())
			return
		}
		pagesFetched++

		// An empty page 1 is a real "no results"; an empty page after a
		// non-empty one usually means the site started serving stripped
		// responses, so stop and keep what we have.
		if len(result.Listings)+result.Skipped == 0 && page > 1 {
			r.addWarning(fmt.Sprintf("page %d returned no cards, treating as soft block", page))
			break
		}

		s.enrichPage(jobCtx, adapter, result.Listings)
		s.processPage(ctx, r, result)
		s.persist(ctx, r.snapshot())

		if !result.HasMore {
			break
		}
	}

	if r.stopped() {
		s.finish(ctx, r, domain.JobCancelled, "")
		return
	}
	s.finish(ctx, r, domain.JobSucceeded, "")
}

// enrichPage fills in sparse listings from their detail pages before they
// enter the pipeline. Only the fetches run concurrently; a failed detail
// fetch leaves the search-card record as is.
func (s *Scheduler) enrichPage(ctx context.Context, adapter types.Adapter, listings []domain.RawListing) {
	workers := s.DetailWorkers
	if workers <= 0 {
		workers = 4
	}

	var g errgroup.Group
	g.SetLimit(workers)
	for i := range listings {
		if !needsDetail(listings[i]) {
			continue
		}
		i := i
		g.Go(func() error {
			det, err := adapter.Detail(ctx, listings[i].SourceURL)
			if err != nil {
				log.Printf("[scheduler:%s] detail fetch %s: %v", adapter.Name(), listings[i].SourceURL, err)
				return nil
			}
			listings[i] = withDetail(listings[i], det)
			return nil
		})
	}
	_ = g.Wait()
}

// needsDetail reports whether the search card alone is too thin to score
// well and the listing carries a URL worth a second fetch.
func needsDetail(raw domain.RawListing) bool {
	if raw.SourceURL == "" {
		return false
	}
	return raw.Field("description") == "" || raw.Field("square_feet") == ""
}

// withDetail overlays detail-page fields under the search card's. The card
// stays authoritative where both carry a value.
func withDetail(card, det domain.RawListing) domain.RawListing {
	merged := make(map[string]string, len(card.Fields)+len(det.Fields))
	for k, v := range det.Fields {
		if v != "" {
			merged[k] = v
		}
	}
	for k, v := range card.Fields {
		if v != "" {
			merged[k] = v
		}
	}
	card.Fields = merged
	return card
}

// processPage runs one page's listings through the pipeline one at a time,
// in the order the source returned them. Record outcomes never fail the
// job; they only move counters.
func (s *Scheduler) processPage(ctx context.Context, r *runningJob, page types.Page) {
	r.mu.Lock()
	r.job.Counts.Fetched += len(page.Listings) + page.Skipped
	r.job.Counts.Skipped += page.Skipped
	id := r.job.ID
	r.mu.Unlock()

	for _, raw := range page.Listings {
		outcome := s.Pipeline.Process(ctx, id, raw)
		r.mu.Lock()
		switch outcome {
		case etl.OutcomeRejected:
			r.job.Counts.Rejected++
		case etl.OutcomeMerged:
			r.job.Counts.Merged++
			r.job.Counts.Loaded++
		case etl.OutcomeLoaded:
			r.job.Counts.Loaded++
		case etl.OutcomeFailed:
			r.job.Warnings = append(r.job.Warnings,
				fmt.Sprintf("record failed to load: %s", raw.SourceURL))
		}
		r.mu.Unlock()
	}

	r.mu.Lock()
	r.job.Counts.Validated = r.job.Counts.Fetched - r.job.Counts.Rejected - r.job.Counts.Skipped
	r.mu.Unlock()
}

func (s *Scheduler) finish(ctx context.Context, r *runningJob, status domain.JobStatus, errMsg string) {
	r.mu.Lock()
	from := r.job.Status
	r.job.Status = status
	r.job.Error = errMsg
	now := time.Now().UTC()
	r.job.CompletedAt = &now
	snap := r.job
	r.mu.Unlock()

	s.persist(ctx, snap)
	s.transitionEvent(snap, fmt.Sprintf("%s->%s", from, status))
	log.Printf("[scheduler:%s] job=%s %s fetched=%d rejected=%d loaded=%d merged=%d",
		snap.Source, snap.ID, status, snap.Counts.Fetched, snap.Counts.Rejected,
		snap.Counts.Loaded, snap.Counts.Merged)
}

func (s *Scheduler) persist(ctx context.Context, j domain.Job) {
	// Persistence runs on the worker context so a cancelled job still gets
	// its final row written.
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.Jobs.UpdateJob(pctx, j); err != nil {
		log.Printf("[scheduler] persist job=%s failed: %v", j.ID, err)
	}
}

func (s *Scheduler) transitionEvent(j domain.Job, detail string) {
	if s.Hub == nil {
		return
	}
	s.Hub.Publish(events.Make(events.KindJobTransition, j.ID, j.Source, detail))
}

func (r *runningJob) stopped() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stop
}

func (r *runningJob) addWarning(w string) {
	r.mu.Lock()
	r.job.Warnings = append(r.job.Warnings, w)
	r.mu.Unlock()
}
