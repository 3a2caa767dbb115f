package queue

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"alertdesk/internal/clock"
	"alertdesk/internal/domain"
	"alertdesk/internal/permanent"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

var (
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("scheduler closed")
	// ErrInvalidTimer rejects timers with unknown type or non-positive interval.
	ErrInvalidTimer = errors.New("invalid timer spec")
)

// Executor runs one task type.
type Executor interface {
	Type() domain.TaskType
	Execute(ctx context.Context, req domain.TaskRequest) (any, error)
}

// Options tunes dispatch behavior. Start from DefaultOptions.
type Options struct {
	MaxConcurrency      int
	MinDispatchInterval time.Duration
	PollInterval        time.Duration
	BatchSpacingMin     time.Duration
	BatchSpacingMax     time.Duration
	TaskTimeout         time.Duration
	DedupEnabled        bool
	DedupWindow         time.Duration
	TimerPriority       int
}

// DefaultOptions returns production scheduler settings.
func DefaultOptions() Options {
	return Options{
		MaxConcurrency:      3,
		MinDispatchInterval: 200 * time.Millisecond,
		PollInterval:        100 * time.Millisecond,
		BatchSpacingMin:     500 * time.Millisecond,
		BatchSpacingMax:     2000 * time.Millisecond,
		TaskTimeout:         60 * time.Second,
		DedupEnabled:        true,
		DedupWindow:         5 * time.Second,
		TimerPriority:       domain.PriorityNormal,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.MaxConcurrency <= 0 {
		o.MaxConcurrency = def.MaxConcurrency
	}
	if o.MinDispatchInterval < 0 {
		o.MinDispatchInterval = 0
	}
	if o.PollInterval <= 0 {
		o.PollInterval = def.PollInterval
	}
	if o.BatchSpacingMin < 0 {
		o.BatchSpacingMin = 0
	}
	if o.BatchSpacingMax < o.BatchSpacingMin {
		o.BatchSpacingMax = o.BatchSpacingMin
	}
	if o.TaskTimeout <= 0 {
		o.TaskTimeout = def.TaskTimeout
	}
	if o.DedupWindow <= 0 {
		o.DedupWindow = def.DedupWindow
	}
	if o.TimerPriority == 0 {
		o.TimerPriority = def.TimerPriority
	}
	o.TimerPriority = domain.NormalizePriority(o.TimerPriority)
	return o
}

// Scheduler is an in-process priority task queue with dedup, bounded
// concurrency and per-key timers.
type Scheduler struct {
	opts      Options
	logger    *slog.Logger
	clock     clock.Clock
	executors map[domain.TaskType]Executor

	sem     *semaphore.Weighted
	limiter *rate.Limiter
	wake    chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	queue      taskHeap
	inFlight   map[string]int
	dispatched map[string]time.Time
	timers     map[string]*timerHandle
	listeners  map[uint64]*mailbox
	observer   Observer
	seq        uint64
	nextSub    uint64
	started    bool
	closed     bool

	running atomic.Int64

	loopDone chan struct{}
	workers  sync.WaitGroup
}

type timerHandle struct {
	cancel context.CancelFunc
}

// New creates scheduler. Call Start to begin dispatching.
// Params: options, logger, clock and executors (one per task type, later wins).
// Returns: idle scheduler accepting submissions.
func New(opts Options, logger *slog.Logger, clk clock.Clock, executors ...Executor) *Scheduler {
	opts = opts.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	byType := make(map[domain.TaskType]Executor, len(executors))
	for _, exec := range executors {
		if exec == nil {
			continue
		}
		byType[exec.Type()] = exec
	}
	limit := rate.Inf
	if opts.MinDispatchInterval > 0 {
		limit = rate.Every(opts.MinDispatchInterval)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		opts:       opts,
		logger:     logger,
		clock:      clk,
		executors:  byType,
		sem:        semaphore.NewWeighted(int64(opts.MaxConcurrency)),
		limiter:    rate.NewLimiter(limit, 1),
		wake:       make(chan struct{}, 1),
		ctx:        ctx,
		cancel:     cancel,
		inFlight:   make(map[string]int),
		dispatched: make(map[string]time.Time),
		timers:     make(map[string]*timerHandle),
		listeners:  make(map[uint64]*mailbox),
		observer:   noopObserver{},
		loopDone:   make(chan struct{}),
	}
}

// SetObserver installs metrics observer; nil restores no-op.
func (s *Scheduler) SetObserver(observer Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if observer == nil {
		observer = noopObserver{}
	}
	s.observer = observer
}

func (s *Scheduler) obs() Observer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.observer
}

// Start launches the dispatch loop once.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.started || s.closed {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()
	go s.loop()
	s.logger.Info("task scheduler started", "max_concurrency", s.opts.MaxConcurrency)
}

// Close stops timers and dispatch, cancels running tasks and waits for them
// and for pending listener deliveries.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	started := s.started
	for key, timer := range s.timers {
		timer.cancel()
		delete(s.timers, key)
	}
	s.mu.Unlock()

	s.cancel()
	if started {
		<-s.loopDone
	}
	s.workers.Wait()

	s.mu.Lock()
	boxes := make([]*mailbox, 0, len(s.listeners))
	for id, box := range s.listeners {
		boxes = append(boxes, box)
		delete(s.listeners, id)
	}
	s.mu.Unlock()
	for _, box := range boxes {
		box.close()
		<-box.done
	}
	s.logger.Info("task scheduler stopped")
}

// Submit enqueues request unless its key is running or was dispatched
// within the dedup window. A key may be queued more than once; the entry
// reaching dispatch first runs and later ones are dropped there.
// Returns: true when enqueued.
func (s *Scheduler) Submit(req domain.TaskRequest) bool {
	now := s.clock.Now()
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = now
	}
	req.Priority = domain.NormalizePriority(req.Priority)
	key := req.Key()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	observer := s.observer
	if reason := s.duplicateLocked(key, now); reason != "" {
		s.mu.Unlock()
		s.logger.Debug("task deduplicated", "task_key", key, "source", req.Source, "reason", reason)
		observer.TaskDeduplicated(req.Type)
		return false
	}
	s.seq++
	heap.Push(&s.queue, &entry{req: req, key: key, effective: req.EffectiveTime(), seq: s.seq})
	queued := len(s.queue)
	s.mu.Unlock()

	s.signal()
	s.logger.Debug("task enqueued",
		"task_key", key,
		"source", req.Source,
		"priority", req.Priority,
		"scheduled_at", req.ScheduledAt,
		"queued", queued,
	)
	observer.TaskSubmitted(req.Type)
	observer.QueueDepth(queued, int(s.running.Load()))
	return true
}

// SubmitBatch staggers requests without an explicit schedule.
// Params: requests and spacing between them; zero spacing picks a random
// value between the configured batch bounds for each step.
// Returns: number of enqueued requests.
func (s *Scheduler) SubmitBatch(reqs []domain.TaskRequest, spacing time.Duration) int {
	if len(reqs) == 0 {
		return 0
	}
	now := s.clock.Now()
	var offset time.Duration
	accepted := 0
	for _, req := range reqs {
		if req.ScheduledAt.IsZero() {
			req.ScheduledAt = now.Add(offset)
		}
		if s.Submit(req) {
			accepted++
		}
		if spacing > 0 {
			offset += spacing
		} else {
			offset += s.batchJitter()
		}
	}
	s.logger.Info("task batch submitted", "requested", len(reqs), "accepted", accepted)
	return accepted
}

func (s *Scheduler) batchJitter() time.Duration {
	lo, hi := s.opts.BatchSpacingMin, s.opts.BatchSpacingMax
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(rand.Int63n(int64(hi-lo+1)))
}

// Cancel removes queued entries for key; running work is not affected.
// Returns: removed count.
func (s *Scheduler) Cancel(key string) int {
	s.mu.Lock()
	removed := s.queue.removeKey(key)
	queued := len(s.queue)
	observer := s.observer
	s.mu.Unlock()
	if removed > 0 {
		s.logger.Debug("task cancelled", "task_key", key, "removed", removed)
		observer.QueueDepth(queued, int(s.running.Load()))
	}
	return removed
}

// CancelAll clears the pending queue; running work is not affected.
// Returns: removed count.
func (s *Scheduler) CancelAll() int {
	s.mu.Lock()
	removed := len(s.queue)
	s.queue = nil
	observer := s.observer
	s.mu.Unlock()
	s.logger.Info("task queue cleared", "removed", removed)
	observer.QueueDepth(0, int(s.running.Load()))
	return removed
}

// QueuedCount returns pending entries.
func (s *Scheduler) QueuedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// RunningCount returns executing tasks.
func (s *Scheduler) RunningCount() int {
	return int(s.running.Load())
}

// Subscribe registers listener.
// Returns: unsubscribe func; notices already posted are still delivered.
func (s *Scheduler) Subscribe(listener Listener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return func() {}
	}
	s.nextSub++
	id := s.nextSub
	box := newMailbox(listener, s.logger)
	s.listeners[id] = box
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			_, ok := s.listeners[id]
			delete(s.listeners, id)
			s.mu.Unlock()
			if ok {
				box.close()
			}
		})
	}
}

func (s *Scheduler) duplicateLocked(key string, now time.Time) string {
	if !s.opts.DedupEnabled {
		return ""
	}
	if s.inFlight[key] > 0 {
		return "running"
	}
	if at, ok := s.dispatched[key]; ok && now.Sub(at) < s.opts.DedupWindow {
		return "recent"
	}
	return ""
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) loop() {
	defer close(s.loopDone)
	for {
		if err := s.sem.Acquire(s.ctx, 1); err != nil {
			return
		}
		item, ok := s.nextDue()
		if !ok {
			s.sem.Release(1)
			return
		}
		s.launch(item)
	}
}

// nextDue waits until the queue head is due, honors dispatch spacing and pops it.
// Returns: false on shutdown.
func (s *Scheduler) nextDue() (*entry, bool) {
	for {
		wait := s.opts.PollInterval
		s.mu.Lock()
		head := s.queue.peek()
		if head != nil {
			if until := head.effective.Sub(s.clock.Now()); until <= 0 {
				wait = 0
			} else if until < wait {
				wait = until
			}
		}
		s.mu.Unlock()

		if head != nil && wait == 0 {
			if err := s.limiter.Wait(s.ctx); err != nil {
				return nil, false
			}
			item, dropped := s.popDue()
			s.reportDropped(dropped)
			if item != nil {
				return item, true
			}
			continue
		}

		timer := time.NewTimer(wait)
		select {
		case <-s.ctx.Done():
			timer.Stop()
			return nil, false
		case <-s.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// popDue pops the first due entry whose key is not running and was not
// dispatched within the dedup window; skipped duplicates are returned as dropped.
func (s *Scheduler) popDue() (*entry, []*entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var dropped []*entry
	for {
		now := s.clock.Now()
		head := s.queue.peek()
		if head == nil || head.effective.After(now) {
			return nil, dropped
		}
		item := heap.Pop(&s.queue).(*entry)
		if reason := s.duplicateLocked(item.key, now); reason != "" {
			dropped = append(dropped, item)
			continue
		}
		s.inFlight[item.key]++
		s.dispatched[item.key] = now
		for key, at := range s.dispatched {
			if now.Sub(at) > 2*s.opts.DedupWindow {
				delete(s.dispatched, key)
			}
		}
		return item, dropped
	}
}

func (s *Scheduler) reportDropped(dropped []*entry) {
	if len(dropped) == 0 {
		return
	}
	observer := s.obs()
	for _, item := range dropped {
		s.logger.Debug("task deduplicated", "task_key", item.key, "source", item.req.Source, "reason", "dispatch")
		observer.TaskDeduplicated(item.req.Type)
	}
	observer.QueueDepth(s.QueuedCount(), int(s.running.Load()))
}

func (s *Scheduler) launch(item *entry) {
	s.running.Add(1)
	s.workers.Add(1)
	go func() {
		defer s.workers.Done()
		defer s.sem.Release(1)
		s.run(item)
	}()
}

func (s *Scheduler) run(item *entry) {
	req := item.req
	observer := s.obs()
	started := s.clock.Now()
	wait := started.Sub(req.EffectiveTime())
	if wait < 0 {
		wait = 0
	}
	s.logger.Debug("task dispatched", "task_key", item.key, "request_id", req.ID, "waited", wait, "running", s.running.Load())
	observer.TaskStarted(req.Type, wait)
	s.broadcast(notice{started: &req})

	data, err := s.execute(req)
	completed := s.clock.Now()
	completion := domain.TaskCompletion{
		RequestID:   req.ID,
		Type:        req.Type,
		TargetID:    req.TargetID,
		Source:      req.Source,
		Success:     err == nil,
		Data:        data,
		Duration:    completed.Sub(started),
		StartedAt:   started,
		CompletedAt: completed,
	}
	if err != nil {
		completion.Data = nil
		completion.ErrorMessage = err.Error()
		completion.Permanent = permanent.Is(err)
		if completion.Permanent {
			s.logger.Warn("task failed", "task_key", item.key, "error", err.Error(), "configuration", true)
		} else {
			s.logger.Error("task failed", "task_key", item.key, "error", err.Error())
		}
	} else {
		s.logger.Info("task completed", "task_key", item.key, "duration", completion.Duration)
	}

	s.mu.Lock()
	if s.inFlight[item.key]--; s.inFlight[item.key] <= 0 {
		delete(s.inFlight, item.key)
	}
	queued := len(s.queue)
	s.mu.Unlock()
	running := s.running.Add(-1)

	observer.TaskCompleted(completion)
	observer.QueueDepth(queued, int(running))
	s.broadcast(notice{completed: &completion})
}

func (s *Scheduler) execute(req domain.TaskRequest) (data any, err error) {
	exec, ok := s.executors[req.Type]
	if !ok {
		return nil, permanent.Errorf("no executor registered for task type %q", req.Type)
	}
	ctx, cancel := context.WithTimeout(s.ctx, s.opts.TaskTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			data = nil
			err = fmt.Errorf("executor panic: %v", r)
		}
	}()
	return exec.Execute(ctx, req)
}

func (s *Scheduler) broadcast(n notice) {
	s.mu.Lock()
	boxes := make([]*mailbox, 0, len(s.listeners))
	for _, box := range s.listeners {
		boxes = append(boxes, box)
	}
	s.mu.Unlock()
	for _, box := range boxes {
		box.post(n)
	}
}
