package invoker

import (
	"container/heap"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"specpilot/internal/shared/errors"
	"specpilot/internal/shared/utils/id"
)

// Priority orders queued tasks. Higher priorities are dequeued first and
// tasks of equal priority are served FIFO.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityUrgent
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "LOW"
	case PriorityNormal:
		return "NORMAL"
	case PriorityHigh:
		return "HIGH"
	case PriorityUrgent:
		return "URGENT"
	default:
		return fmt.Sprintf("Priority(%d)", int(p))
	}
}

// ParsePriority maps a name such as "high" to a Priority.
func ParsePriority(raw string) (Priority, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "LOW":
		return PriorityLow, nil
	case "", "NORMAL":
		return PriorityNormal, nil
	case "HIGH":
		return PriorityHigh, nil
	case "URGENT":
		return PriorityUrgent, nil
	default:
		return PriorityNormal, fmt.Errorf("unknown priority %q", raw)
	}
}

// PoolTask is a queued request for a slot.
type PoolTask struct {
	ID         string
	Priority   Priority
	EnqueuedAt time.Time

	seq     uint64
	index   int
	granted bool
	ready   chan struct{}
}

type taskQueue []*PoolTask

func (q taskQueue) Len() int { return len(q) }

func (q taskQueue) Less(i, j int) bool {
	if q[i].Priority != q[j].Priority {
		return q[i].Priority > q[j].Priority
	}
	return q[i].seq < q[j].seq
}

func (q taskQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *taskQueue) Push(x any) {
	task := x.(*PoolTask)
	task.index = len(*q)
	*q = append(*q, task)
}

func (q *taskQueue) Pop() any {
	old := *q
	n := len(old)
	task := old[n-1]
	old[n-1] = nil
	task.index = -1
	*q = old[:n-1]
	return task
}

// PoolStats is a point-in-time view of the pool.
type PoolStats struct {
	MaxConcurrent int    `json:"max_concurrent"`
	QueueCapacity int    `json:"queue_capacity"`
	Running       int    `json:"running"`
	Queued        int    `json:"queued"`
	Completed     uint64 `json:"completed"`
	Rejected      uint64 `json:"rejected"`
}

// PoolObserver is notified whenever the running or queued counts change.
type PoolObserver interface {
	ObservePool(running, queued int)
}

// PoolConfig configures a Pool.
type PoolConfig struct {
	MaxConcurrent int // default 5
	QueueCapacity int // default 100
	Observer      PoolObserver
}

// Pool is a counting semaphore with a capacity-bounded priority queue.
type Pool struct {
	mu            sync.Mutex
	maxConcurrent int
	queueCapacity int
	running       int
	queue         taskQueue
	seq           uint64
	completed     uint64
	rejected      uint64
	observer      PoolObserver
}

// NewPool creates a pool.
func NewPool(cfg PoolConfig) *Pool {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 5
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 100
	}
	return &Pool{
		maxConcurrent: cfg.MaxConcurrent,
		queueCapacity: cfg.QueueCapacity,
		observer:      cfg.Observer,
	}
}

// Acquire blocks until a slot is available or ctx is done. The returned
// release function must be called exactly once; extra calls are ignored.
// A full queue fails fast with *errors.QueueFullError.
func (p *Pool) Acquire(ctx context.Context, priority Priority) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	if p.running < p.maxConcurrent && p.queue.Len() == 0 {
		p.running++
		p.notifyLocked()
		p.mu.Unlock()
		return p.releaseFunc(), nil
	}
	if p.queue.Len() >= p.queueCapacity {
		p.rejected++
		p.mu.Unlock()
		return nil, &errors.QueueFullError{Capacity: p.queueCapacity}
	}
	p.seq++
	task := &PoolTask{
		ID:         id.NewTaskID(),
		Priority:   priority,
		EnqueuedAt: time.Now(),
		seq:        p.seq,
		ready:      make(chan struct{}),
	}
	heap.Push(&p.queue, task)
	p.notifyLocked()
	p.mu.Unlock()

	select {
	case <-task.ready:
		return p.releaseFunc(), nil
	case <-ctx.Done():
		p.mu.Lock()
		if task.granted {
			// The slot was handed over while we were giving up; pass it on.
			p.handOffLocked()
			p.mu.Unlock()
			return nil, ctx.Err()
		}
		heap.Remove(&p.queue, task.index)
		p.notifyLocked()
		p.mu.Unlock()
		return nil, ctx.Err()
	}
}

func (p *Pool) releaseFunc() func() {
	var once sync.Once
	return func() {
		once.Do(p.release)
	}
}

func (p *Pool) release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.completed++
	p.handOffLocked()
}

// handOffLocked gives the slot to the highest priority waiter, if any.
func (p *Pool) handOffLocked() {
	if p.queue.Len() > 0 {
		next := heap.Pop(&p.queue).(*PoolTask)
		next.granted = true
		close(next.ready)
	} else {
		p.running--
	}
	p.notifyLocked()
}

func (p *Pool) notifyLocked() {
	if p.observer != nil {
		p.observer.ObservePool(p.running, p.queue.Len())
	}
}

// Run executes fn while holding a slot.
func (p *Pool) Run(ctx context.Context, priority Priority, fn func(ctx context.Context) error) error {
	release, err := p.Acquire(ctx, priority)
	if err != nil {
		return err
	}
	defer release()
	return fn(ctx)
}

// Stats returns a point-in-time view of the pool.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PoolStats{
		MaxConcurrent: p.maxConcurrent,
		QueueCapacity: p.queueCapacity,
		Running:       p.running,
		Queued:        p.queue.Len(),
		Completed:     p.completed,
		Rejected:      p.rejected,
	}
}
