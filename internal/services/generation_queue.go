package services

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/reelworks/sportsreel-backend/internal/config"
	"github.com/reelworks/sportsreel-backend/internal/logger"
	"github.com/reelworks/sportsreel-backend/internal/repos"
	"github.com/reelworks/sportsreel-backend/internal/types"
)

var (
	ErrJobNotFound = errors.New("job not found in queue")
	ErrJobActive   = errors.New("job is currently processing")
	ErrJobsActive  = errors.New("queue has active jobs")
	ErrQueueClosed = errors.New("queue is shut down")
)

// QueueJobFilter narrows GetJobs results. Zero values match everything.
type QueueJobFilter struct {
	Status   string // "pending" | "active" | "failed"
	Priority int
}

// AddJobOption tunes a single enqueue.
type AddJobOption func(*addJobOptions)

type addJobOptions struct {
	delay       time.Duration
	maxAttempts int
}

// WithInitialDelay keeps the job out of dispatch until the delay elapses.
func WithInitialDelay(d time.Duration) AddJobOption {
	return func(o *addJobOptions) {
		if d > 0 {
			o.delay = d
		}
	}
}

// WithMaxAttempts overrides the configured attempt limit for this job only.
func WithMaxAttempts(n int) AddJobOption {
	return func(o *addJobOptions) {
		if n > 0 {
			o.maxAttempts = n
		}
	}
}

// GenerationQueue schedules reel jobs in-process: priority order with FIFO
// tie-break, bounded concurrency, exponential-backoff retry for transient
// failures. The durable VideoJob row is written before any in-memory state
// changes hands, so a crash never loses a terminal status.
type GenerationQueue interface {
	Start()
	Stop(ctx context.Context) error

	AddJob(ctx context.Context, req GenerationRequest, priority int, opts ...AddJobOption) (uuid.UUID, error)
	RemoveJob(ctx context.Context, id uuid.UUID) error
	GetJob(id uuid.UUID) (QueueJobView, bool)
	GetJobs(filter QueueJobFilter) []QueueJobView
	Clear(ctx context.Context) (int, error)

	Pause()
	Resume()
	Metrics() QueueMetrics
	AddListener(l JobListener)
}

type queueJob struct {
	id           uuid.UUID
	req          GenerationRequest
	priority     int
	attempts     int
	maxAttempts  int
	active       bool
	failed       bool // attempts exhausted or permanent error; kept for inspection
	removing     bool // cancellation row being written; not dispatchable
	stopKilled   bool // interrupted by a non-graceful Stop
	scheduledFor time.Time
	progress     *StageProgress
	lastError    string
	createdAt    time.Time
	seq          uint64
	cancel       context.CancelFunc
}

type generationQueue struct {
	log      *logger.Logger
	cfg      *config.Config
	jobRepo  repos.VideoJobRepo
	pipeline ReelPipeline

	mu     sync.Mutex
	jobs   map[uuid.UUID]*queueJob
	seq    uint64
	paused bool
	closed bool

	activeCount int
	activeWG    sync.WaitGroup

	// lifetime counters; queued and active are derived from the map
	totalJobs      int
	completed      int
	failed         int
	processingMSum float64

	listeners []JobListener

	wake chan struct{}
	stop chan struct{}
	done chan struct{}
}

func NewGenerationQueue(log *logger.Logger, cfg *config.Config, jobRepo repos.VideoJobRepo, pipeline ReelPipeline) (GenerationQueue, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if cfg == nil {
		cfg = config.Default()
	}
	if jobRepo == nil || pipeline == nil {
		return nil, fmt.Errorf("job repo and pipeline required")
	}
	return &generationQueue{
		log:      log.With("service", "GenerationQueue"),
		cfg:      cfg,
		jobRepo:  jobRepo,
		pipeline: pipeline,
		jobs:     map[uuid.UUID]*queueJob{},
		wake:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

func (q *generationQueue) Start() {
	go q.schedulerLoop()
}

// Stop drains the scheduler and waits for active executions. When ctx
// expires first, remaining executions are cancelled.
func (q *generationQueue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.mu.Unlock()

	close(q.stop)
	<-q.done

	waited := make(chan struct{})
	go func() {
		q.activeWG.Wait()
		close(waited)
	}()
	select {
	case <-waited:
		return nil
	case <-ctx.Done():
		// non-graceful: interrupted jobs end up FAILED with a stopped error,
		// not cancelled
		q.mu.Lock()
		for _, j := range q.jobs {
			if j.active && j.cancel != nil {
				j.stopKilled = true
				j.cancel()
			}
		}
		q.mu.Unlock()
		<-waited
		return ctx.Err()
	}
}

func (q *generationQueue) AddListener(l JobListener) {
	if l == nil {
		return
	}
	q.mu.Lock()
	q.listeners = append(q.listeners, l)
	q.mu.Unlock()
}

func (q *generationQueue) snapshotListeners() []JobListener {
	q.mu.Lock()
	out := make([]JobListener, len(q.listeners))
	copy(out, q.listeners)
	q.mu.Unlock()
	return out
}

// AddJob persists a pending VideoJob row, then enqueues. Priority is
// clamped to [1, MaxPriority]; zero means the configured default. Options
// can delay first eligibility or cap attempts for this job alone.
func (q *generationQueue) AddJob(ctx context.Context, req GenerationRequest, priority int, opts ...AddJobOption) (uuid.UUID, error) {
	if priority == 0 {
		priority = q.cfg.Queue.DefaultPriority
	}
	if priority < 1 {
		priority = 1
	}
	if priority > q.cfg.Queue.MaxPriority {
		priority = q.cfg.Queue.MaxPriority
	}

	var o addJobOptions
	for _, opt := range opts {
		opt(&o)
	}
	maxAttempts := o.maxAttempts
	if maxAttempts <= 0 {
		maxAttempts = q.cfg.Queue.MaxAttempts
	}

	id := uuid.New()
	record := &types.VideoJob{
		ID:        id,
		AthleteID: req.AthleteID,
		Status:    types.VideoJobStatusPending,
	}
	if _, err := q.jobRepo.Create(ctx, nil, []*types.VideoJob{record}); err != nil {
		return uuid.Nil, fmt.Errorf("persist job record: %w", err)
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return uuid.Nil, ErrQueueClosed
	}
	q.seq++
	job := &queueJob{
		id:          id,
		req:         req,
		priority:    priority,
		maxAttempts: maxAttempts,
		createdAt:   time.Now(),
		seq:         q.seq,
	}
	if o.delay > 0 {
		job.scheduledFor = time.Now().Add(o.delay)
	}
	q.jobs[id] = job
	q.totalJobs++
	q.mu.Unlock()

	q.log.Info("Job enqueued", "job_id", id, "athlete_id", req.AthleteID, "priority", priority)
	q.nudge()
	return id, nil
}

// RemoveJob takes a non-active job out of the queue and marks its record
// cancelled. Active jobs cannot be removed.
func (q *generationQueue) RemoveJob(ctx context.Context, id uuid.UUID) error {
	q.mu.Lock()
	job, ok := q.jobs[id]
	if !ok || job.removing {
		q.mu.Unlock()
		return ErrJobNotFound
	}
	if job.active {
		q.mu.Unlock()
		return ErrJobActive
	}
	if job.failed {
		// terminal row already written; just drop the inspection entry
		delete(q.jobs, id)
		q.mu.Unlock()
		q.log.Info("Job removed from queue", "job_id", id)
		return nil
	}
	job.removing = true
	q.mu.Unlock()

	// Cancelled row first, then the in-memory drop, so a store reader never
	// sees a pending row for a job the queue no longer knows about.
	now := time.Now()
	if _, err := q.jobRepo.UpdateFieldsUnlessStatus(ctx, nil, id,
		[]string{types.VideoJobStatusCompleted, types.VideoJobStatusFailed},
		map[string]interface{}{
			"status":       types.VideoJobStatusCancelled,
			"completed_at": &now,
		}); err != nil {
		q.mu.Lock()
		job.removing = false
		q.mu.Unlock()
		return fmt.Errorf("mark job cancelled: %w", err)
	}

	q.mu.Lock()
	delete(q.jobs, id)
	// keeps completed+failed+queued+active == total after removal
	q.totalJobs--
	q.mu.Unlock()

	q.log.Info("Job removed from queue", "job_id", id)
	return nil
}

func (q *generationQueue) GetJob(id uuid.UUID) (QueueJobView, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[id]
	if !ok {
		return QueueJobView{}, false
	}
	return q.viewLocked(job), true
}

func (q *generationQueue) GetJobs(filter QueueJobFilter) []QueueJobView {
	q.mu.Lock()
	views := make([]QueueJobView, 0, len(q.jobs))
	for _, job := range q.jobs {
		v := q.viewLocked(job)
		if filter.Status != "" && v.DerivedStatus() != filter.Status {
			continue
		}
		if filter.Priority != 0 && v.Priority != filter.Priority {
			continue
		}
		views = append(views, v)
	}
	q.mu.Unlock()

	sort.Slice(views, func(i, j int) bool {
		if views[i].Priority != views[j].Priority {
			return views[i].Priority > views[j].Priority
		}
		return views[i].CreatedAt.Before(views[j].CreatedAt)
	})
	return views
}

// Clear cancels every pending job and drops failed inspection entries. It
// refuses to run while any job is active; callers wait or cancel those
// individually first.
func (q *generationQueue) Clear(ctx context.Context) (int, error) {
	q.mu.Lock()
	if q.activeCount > 0 {
		q.mu.Unlock()
		return 0, ErrJobsActive
	}
	var pending []uuid.UUID
	for id, job := range q.jobs {
		if job.failed || job.removing {
			continue
		}
		job.removing = true
		pending = append(pending, id)
	}
	q.mu.Unlock()

	// Cancelled rows first, in-memory drops after; entries whose row update
	// fails stay queued.
	now := time.Now()
	var firstErr error
	var cancelled []uuid.UUID
	for _, id := range pending {
		if _, err := q.jobRepo.UpdateFieldsUnlessStatus(ctx, nil, id,
			[]string{types.VideoJobStatusCompleted, types.VideoJobStatusFailed},
			map[string]interface{}{
				"status":       types.VideoJobStatusCancelled,
				"completed_at": &now,
			}); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		cancelled = append(cancelled, id)
	}

	q.mu.Lock()
	removed := 0
	for _, id := range cancelled {
		delete(q.jobs, id)
		q.totalJobs--
		removed++
	}
	for _, id := range pending {
		if job, ok := q.jobs[id]; ok {
			job.removing = false
		}
	}
	for id, job := range q.jobs {
		if job.failed {
			delete(q.jobs, id)
			removed++
		}
	}
	q.mu.Unlock()

	q.log.Info("Queue cleared", "removed", removed)
	return removed, firstErr
}

func (q *generationQueue) Pause() {
	q.mu.Lock()
	q.paused = true
	q.mu.Unlock()
	q.log.Info("Queue paused")
}

func (q *generationQueue) Resume() {
	q.mu.Lock()
	q.paused = false
	q.mu.Unlock()
	q.log.Info("Queue resumed")
	q.nudge()
}

func (q *generationQueue) Metrics() QueueMetrics {
	q.mu.Lock()
	defer q.mu.Unlock()

	queued := 0
	for _, job := range q.jobs {
		if !job.active && !job.failed {
			queued++
		}
	}
	m := QueueMetrics{
		TotalJobs: q.totalJobs,
		Completed: q.completed,
		Failed:    q.failed,
		Active:    q.activeCount,
		Queued:    queued,
	}
	if q.completed > 0 {
		m.AvgProcessingMS = q.processingMSum / float64(q.completed)
	}
	if finished := q.completed + q.failed; finished > 0 {
		m.SuccessRate = float64(q.completed) / float64(finished)
	}
	return m
}

func (q *generationQueue) viewLocked(job *queueJob) QueueJobView {
	v := QueueJobView{
		ID:          job.id,
		Request:     job.req,
		Priority:    job.priority,
		Attempts:    job.attempts,
		MaxAttempts: job.maxAttempts,
		Active:      job.active,
		Failed:      job.failed,
		LastError:   job.lastError,
		CreatedAt:   job.createdAt,
	}
	if !job.scheduledFor.IsZero() {
		t := job.scheduledFor
		v.ScheduledFor = &t
	}
	if job.progress != nil {
		p := *job.progress
		v.Progress = &p
	}
	return v
}

func (q *generationQueue) nudge() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *generationQueue) schedulerLoop() {
	defer close(q.done)
	ticker := time.NewTicker(q.cfg.PollInterval())
	defer ticker.Stop()

	for {
		q.dispatch()
		select {
		case <-q.stop:
			return
		case <-q.wake:
		case <-ticker.C:
		}
	}
}

// dispatch starts runnable jobs until the concurrency bound is reached.
// Selection is priority descending, then enqueue order.
func (q *generationQueue) dispatch() {
	for {
		q.mu.Lock()
		if q.paused || q.closed || q.activeCount >= q.cfg.Queue.MaxConcurrency {
			q.mu.Unlock()
			return
		}
		job := q.pickRunnableLocked()
		if job == nil {
			q.mu.Unlock()
			return
		}
		job.active = true
		job.attempts++
		job.scheduledFor = time.Time{}
		attempt := job.attempts
		ctx, cancel := context.WithCancel(context.Background())
		job.cancel = cancel
		q.activeCount++
		q.activeWG.Add(1)
		q.mu.Unlock()

		go q.execute(ctx, job, attempt)
	}
}

func (q *generationQueue) pickRunnableLocked() *queueJob {
	now := time.Now()
	var best *queueJob
	for _, job := range q.jobs {
		if job.active || job.failed || job.removing {
			continue
		}
		if !job.scheduledFor.IsZero() && job.scheduledFor.After(now) {
			continue
		}
		if best == nil ||
			job.priority > best.priority ||
			(job.priority == best.priority && job.seq < best.seq) {
			best = job
		}
	}
	return best
}

func (q *generationQueue) execute(ctx context.Context, job *queueJob, attempt int) {
	defer q.activeWG.Done()

	started := time.Now()
	if _, err := q.jobRepo.UpdateFieldsUnlessStatus(ctx, nil, job.id,
		[]string{types.VideoJobStatusCancelled, types.VideoJobStatusCompleted},
		map[string]interface{}{
			"status":      types.VideoJobStatusProcessing,
			"retry_count": attempt - 1,
			"started_at":  &started,
		}); err != nil {
		q.log.Error("Failed to mark job processing", "job_id", job.id, "error", err)
	}

	for _, l := range q.snapshotListeners() {
		l.JobStarted(job.id, attempt)
	}
	q.log.Info("Job started", "job_id", job.id, "attempt", attempt)

	result, err := q.pipeline.Generate(ctx, job.id, job.req, func(p StageProgress) {
		q.mu.Lock()
		cp := p
		job.progress = &cp
		q.mu.Unlock()
		for _, l := range q.snapshotListeners() {
			l.JobProgress(job.id, p)
		}
	})

	elapsed := time.Since(started)
	if err != nil {
		q.finishFailed(job, attempt, elapsed, err)
		return
	}
	q.finishCompleted(job, elapsed, result)
}

func (q *generationQueue) finishCompleted(job *queueJob, elapsed time.Duration, result *ReelResult) {
	now := time.Now()
	background := context.Background()
	if _, err := q.jobRepo.UpdateFieldsUnlessStatus(background, nil, job.id,
		[]string{types.VideoJobStatusCancelled},
		map[string]interface{}{
			"status":       types.VideoJobStatusCompleted,
			"completed_at": &now,
		}); err != nil {
		q.log.Error("Failed to mark job completed", "job_id", job.id, "error", err)
	}

	q.mu.Lock()
	job.active = false
	if job.cancel != nil {
		job.cancel()
		job.cancel = nil
	}
	delete(q.jobs, job.id)
	q.activeCount--
	q.completed++
	q.processingMSum += float64(elapsed.Milliseconds())
	q.mu.Unlock()

	q.log.Info("Job completed", "job_id", job.id, "elapsed_ms", elapsed.Milliseconds(), "video_url", result.VideoURL)
	for _, l := range q.snapshotListeners() {
		l.JobCompleted(job.id, *result)
	}
	q.nudge()
}

func (q *generationQueue) finishFailed(job *queueJob, attempt int, elapsed time.Duration, err error) {
	background := context.Background()
	q.mu.Lock()
	stopKilled := job.stopKilled
	q.mu.Unlock()

	cancelled := errors.Is(err, context.Canceled) && !stopKilled
	retryable := !cancelled && !stopKilled &&
		IsRetryableError(err) &&
		attempt < job.maxAttempts

	switch {
	case stopKilled:
		now := time.Now()
		if _, uerr := q.jobRepo.UpdateFieldsUnlessStatus(background, nil, job.id,
			[]string{types.VideoJobStatusCancelled, types.VideoJobStatusCompleted},
			map[string]interface{}{
				"status":        types.VideoJobStatusFailed,
				"retry_count":   attempt,
				"error_message": "stopped",
				"completed_at":  &now,
			}); uerr != nil {
			q.log.Error("Failed to mark stopped job failed", "job_id", job.id, "error", uerr)
		}

		q.mu.Lock()
		job.active = false
		if job.cancel != nil {
			job.cancel()
			job.cancel = nil
		}
		delete(q.jobs, job.id)
		q.activeCount--
		q.failed++
		q.mu.Unlock()

		q.log.Warn("Job failed: queue stopped", "job_id", job.id, "attempt", attempt)
		for _, l := range q.snapshotListeners() {
			l.JobFailed(job.id, "stopped", false)
		}

	case cancelled:
		now := time.Now()
		if _, uerr := q.jobRepo.UpdateFieldsUnlessStatus(background, nil, job.id,
			[]string{types.VideoJobStatusCompleted, types.VideoJobStatusFailed},
			map[string]interface{}{
				"status":       types.VideoJobStatusCancelled,
				"completed_at": &now,
			}); uerr != nil {
			q.log.Error("Failed to mark job cancelled", "job_id", job.id, "error", uerr)
		}

		q.mu.Lock()
		job.active = false
		if job.cancel != nil {
			job.cancel()
			job.cancel = nil
		}
		delete(q.jobs, job.id)
		q.activeCount--
		q.totalJobs--
		q.mu.Unlock()

		q.log.Warn("Job cancelled mid-flight", "job_id", job.id, "attempt", attempt)
		for _, l := range q.snapshotListeners() {
			l.JobFailed(job.id, "cancelled", false)
		}

	case retryable:
		delay := q.retryDelay(attempt)
		if uerr := q.jobRepo.UpdateFields(background, nil, job.id, map[string]interface{}{
			"status":        types.VideoJobStatusPending,
			"retry_count":   attempt,
			"error_message": err.Error(),
		}); uerr != nil {
			q.log.Error("Failed to persist retry state", "job_id", job.id, "error", uerr)
		}

		q.mu.Lock()
		job.active = false
		if job.cancel != nil {
			job.cancel()
			job.cancel = nil
		}
		// the row keeps error_message for visibility; the live entry starts
		// its next attempt clean
		job.lastError = ""
		job.scheduledFor = time.Now().Add(delay)
		q.activeCount--
		q.mu.Unlock()

		q.log.Warn("Job failed, will retry", "job_id", job.id, "attempt", attempt,
			"retry_in", delay.String(), "error", err)
		for _, l := range q.snapshotListeners() {
			l.JobFailed(job.id, err.Error(), true)
		}

	default:
		now := time.Now()
		if _, uerr := q.jobRepo.UpdateFieldsUnlessStatus(background, nil, job.id,
			[]string{types.VideoJobStatusCancelled, types.VideoJobStatusCompleted},
			map[string]interface{}{
				"status":        types.VideoJobStatusFailed,
				"retry_count":   attempt,
				"error_message": err.Error(),
				"completed_at":  &now,
			}); uerr != nil {
			q.log.Error("Failed to mark job failed", "job_id", job.id, "error", uerr)
		}

		q.mu.Lock()
		job.active = false
		if job.cancel != nil {
			job.cancel()
			job.cancel = nil
		}
		job.failed = true
		job.lastError = err.Error()
		q.activeCount--
		q.failed++
		q.mu.Unlock()

		q.log.Error("Job failed permanently", "job_id", job.id, "attempt", attempt,
			"elapsed_ms", elapsed.Milliseconds(), "error", err)
		for _, l := range q.snapshotListeners() {
			l.JobFailed(job.id, err.Error(), false)
		}
	}
	q.nudge()
}

// retryDelay doubles the base delay per completed attempt, jittered by the
// configured fraction and capped at the max delay.
func (q *generationQueue) retryDelay(attempt int) time.Duration {
	delay := q.cfg.RetryBaseDelay()
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= q.cfg.RetryMaxDelay() {
			break
		}
	}
	if delay > q.cfg.RetryMaxDelay() {
		delay = q.cfg.RetryMaxDelay()
	}
	if pct := q.cfg.RetryJitter(); pct > 0 {
		jitter := 1 + pct*(2*rand.Float64()-1)
		delay = time.Duration(float64(delay) * jitter)
	}
	return delay
}
