package commandqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/harun/anuneko/internal/observability"
	"github.com/harun/anuneko/internal/tracing"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
)

// LaneBranch runs the background branch confirmations
const LaneBranch = "branch"

// DefaultBranchConcurrency bounds concurrent branch confirmations
const DefaultBranchConcurrency = 4

// ErrClosed is returned for work offered to a closed queue
var ErrClosed = errors.New("command queue closed")

// Task represents an asynchronous operation to be executed
type Task func(ctx context.Context) (interface{}, error)

// taskRecord tracks a task's execution state
type taskRecord struct {
	id         string
	task       Task
	ctx        context.Context
	enqueuedAt time.Time
}

// laneState manages execution state for a single lane
type laneState struct {
	concurrency int
	queue       []*taskRecord
	running     int
	mu          sync.Mutex
}

// Option configures a CommandQueue
type Option func(*CommandQueue)

// WithLaneConcurrency sets the concurrency of a lane at construction
func WithLaneConcurrency(lane string, concurrency int) Option {
	return func(cq *CommandQueue) {
		cq.laneDefaults[lane] = concurrency
	}
}

// CommandQueue provides lane-based FIFO execution with per-lane concurrency
type CommandQueue struct {
	lanes        map[string]*laneState
	laneDefaults map[string]int
	mu           sync.RWMutex
	wg           sync.WaitGroup
	ctx          context.Context
	cancel       context.CancelFunc
	// closeMu orders pushes against Close so no task starts after Wait
	closeMu sync.RWMutex
	closed  atomic.Bool
}

// New creates a CommandQueue with the branch lane
func New(opts ...Option) *CommandQueue {
	observability.EnsureRegistered()

	ctx, cancel := context.WithCancel(context.Background())
	cq := &CommandQueue{
		lanes: make(map[string]*laneState),
		laneDefaults: map[string]int{
			LaneBranch: DefaultBranchConcurrency,
		},
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(cq)
	}

	for lane, concurrency := range cq.laneDefaults {
		cq.lane(lane).concurrency = normalizeConcurrency(concurrency)
	}
	return cq
}

func normalizeConcurrency(n int) int {
	if n < 1 {
		return 1
	}
	return n
}

// lane gets or creates a lane
func (cq *CommandQueue) lane(name string) *laneState {
	cq.mu.RLock()
	ls, ok := cq.lanes[name]
	cq.mu.RUnlock()
	if ok {
		return ls
	}

	cq.mu.Lock()
	defer cq.mu.Unlock()
	if ls, ok := cq.lanes[name]; ok {
		return ls
	}
	concurrency := normalizeConcurrency(cq.laneDefaults[name])
	ls = &laneState{concurrency: concurrency}
	cq.lanes[name] = ls
	log.Debug().Str("lane", name).Int("concurrency", concurrency).Msg("Lane initialized")
	return ls
}

func (cq *CommandQueue) existingLane(name string) (*laneState, bool) {
	cq.mu.RLock()
	defer cq.mu.RUnlock()
	ls, ok := cq.lanes[name]
	return ls, ok
}

// Submit schedules task on lane without waiting. The task's result is
// logged and discarded. The returned id identifies the task in the logs.
func (cq *CommandQueue) Submit(ctx context.Context, lane string, task Task) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := tracing.StartSpan(ctx, "anuneko.commandqueue", "commandqueue.submit",
		attribute.String("lane", lane),
	)
	defer span.End()

	id, err := cq.push(ctx, lane, task)
	if err != nil {
		tracing.RecordError(span, err)
		return "", err
	}
	return id, nil
}

func (cq *CommandQueue) push(ctx context.Context, lane string, task Task) (string, error) {
	cq.closeMu.RLock()
	defer cq.closeMu.RUnlock()
	if cq.closed.Load() {
		return "", ErrClosed
	}

	id, err := gonanoid.New()
	if err != nil {
		return "", fmt.Errorf("failed to generate task id: %w", err)
	}

	record := &taskRecord{
		id:         lane + "-" + id,
		task:       task,
		ctx:        ctx,
		enqueuedAt: time.Now(),
	}

	ls := cq.lane(lane)
	ls.mu.Lock()
	ls.queue = append(ls.queue, record)
	queueSize := len(ls.queue)
	ls.mu.Unlock()

	logger := tracing.LoggerFromContext(ctx, log.Logger)
	logger.Debug().
		Str("lane", lane).
		Str("taskId", record.id).
		Int("queueSize", queueSize).
		Msg("Task enqueued")

	observability.RecordQueueEnqueue(lane, queueSize)

	cq.processLane(lane)
	return record.id, nil
}

// processLane starts queued tasks while the lane has capacity
func (cq *CommandQueue) processLane(lane string) {
	ls, ok := cq.existingLane(lane)
	if !ok {
		return
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()

	for ls.running < ls.concurrency && len(ls.queue) > 0 {
		record := ls.queue[0]
		ls.queue = ls.queue[1:]

		if cq.closed.Load() || record.ctx.Err() != nil {
			continue
		}

		ls.running++
		cq.wg.Add(1)
		go cq.executeTask(lane, ls, record)
	}
}

// executeTask executes a single task
func (cq *CommandQueue) executeTask(lane string, ls *laneState, record *taskRecord) {
	defer cq.wg.Done()

	taskCtx, span := tracing.StartSpan(record.ctx, "anuneko.commandqueue", "commandqueue.execute_task",
		attribute.String("lane", lane),
		attribute.String("task_id", record.id),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(taskCtx, log.Logger)

	runCtx, cancel := context.WithCancel(taskCtx)
	stopCancel := context.AfterFunc(cq.ctx, cancel)
	defer func() {
		stopCancel()
		cancel()
	}()

	startTime := time.Now()
	_, err := cq.run(runCtx, record.task)
	duration := time.Since(startTime)

	ls.mu.Lock()
	ls.running--
	queueSize := len(ls.queue)
	ls.mu.Unlock()

	if err != nil {
		tracing.RecordError(span, err)
		logger.Warn().
			Str("lane", lane).
			Str("taskId", record.id).
			Dur("duration", duration).
			Err(err).
			Msg("Task failed")
	} else {
		logger.Debug().
			Str("lane", lane).
			Str("taskId", record.id).
			Dur("duration", duration).
			Msg("Task completed")
	}

	observability.RecordQueueCompletion(lane, duration, err == nil, queueSize)

	cq.processLane(lane)
}

// run executes task and turns a panic into an error so one bad task cannot
// take the lane down with it.
func (cq *CommandQueue) run(ctx context.Context, task Task) (value interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return task(ctx)
}

// GetStats returns statistics for all lanes
func (cq *CommandQueue) GetStats() map[string]map[string]int {
	cq.mu.RLock()
	defer cq.mu.RUnlock()

	stats := make(map[string]map[string]int, len(cq.lanes))
	for lane, ls := range cq.lanes {
		ls.mu.Lock()
		stats[lane] = map[string]int{
			"queued":      len(ls.queue),
			"running":     ls.running,
			"concurrency": ls.concurrency,
		}
		ls.mu.Unlock()
	}
	return stats
}

// WaitForActive waits until no lane has queued or running tasks
func (cq *CommandQueue) WaitForActive(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		idle := true
		for _, s := range cq.GetStats() {
			if s["queued"] > 0 || s["running"] > 0 {
				idle = false
				break
			}
		}
		if idle {
			return true
		}
		if time.Now().After(deadline) {
			log.Warn().Dur("timeout", timeout).Msg("Timeout waiting for active tasks")
			return false
		}
		<-ticker.C
	}
}

// Close rejects queued tasks, cancels running ones and waits for them.
// Safe to call more than once.
func (cq *CommandQueue) Close() error {
	cq.closeMu.Lock()
	if !cq.closed.CompareAndSwap(false, true) {
		cq.closeMu.Unlock()
		return nil
	}
	cq.closeMu.Unlock()

	cq.cancel()

	cq.mu.RLock()
	lanes := make([]*laneState, 0, len(cq.lanes))
	for _, ls := range cq.lanes {
		lanes = append(lanes, ls)
	}
	cq.mu.RUnlock()

	for _, ls := range lanes {
		ls.mu.Lock()
		if n := len(ls.queue); n > 0 {
			log.Debug().Int("dropped", n).Msg("Queued tasks dropped on close")
		}
		ls.queue = nil
		ls.mu.Unlock()
	}

	cq.wg.Wait()
	return nil
}
