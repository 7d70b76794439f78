// Package notify provides the single-consumer dispatcher that delivers
// notifications for every node of a session, in enqueue order, on one
// goroutine.
package notify

import (
	"container/heap"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/localrivet/jobwire/logx"
)

// Task is one unit of delivery work. A returned error is logged and does not
// affect later tasks.
type Task func() error

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the dispatcher's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// Stats is a point-in-time view of dispatcher activity.
type Stats struct {
	Pending  int
	Executed uint64
	Failed   uint64
	Dropped  uint64
}

// Dispatcher runs tasks on a dedicated consumer goroutine.
//
// Two queues are drained: an immediate FIFO queue and a delayed queue ordered
// by due time. Immediate work always runs before delayed work that is due at
// the same moment. The consumer sleeps when there is nothing to do, and is
// woken by Enqueue, by EnqueueDelayed, by a delayed task falling due, or by Stop.
//
// Locking: mu protects immediate, delayed, seq and stopped. Tasks never run
// with mu held.
type Dispatcher struct {
	logger *slog.Logger

	mu        sync.Mutex
	immediate []Task
	delayed   delayQueue
	seq       uint64
	stopped   bool

	wake     chan struct{}
	done     chan struct{}
	consumer int64

	executed atomic.Uint64
	failed   atomic.Uint64
	dropped  atomic.Uint64
}

// New starts a Dispatcher. Its consumer goroutine runs until Stop.
func New(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = logx.OrDiscard(d.logger)

	ready := make(chan struct{})
	go d.run(ready)
	<-ready

	return d
}

// Enqueue schedules task to run after every task enqueued before it. Tasks
// enqueued after Stop are dropped.
func (d *Dispatcher) Enqueue(task Task) {
	if task == nil {
		return
	}

	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		d.dropped.Add(1)
		d.logger.Debug("Dispatcher stopped, dropping task")
		return
	}
	d.immediate = append(d.immediate, task)
	d.mu.Unlock()

	d.signal()
}

// EnqueueDelayed schedules task to run no sooner than delay from now.
func (d *Dispatcher) EnqueueDelayed(task Task, delay time.Duration) {
	if task == nil {
		return
	}
	if delay < 0 {
		delay = 0
	}

	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		d.dropped.Add(1)
		d.logger.Debug("Dispatcher stopped, dropping delayed task", "delay", delay)
		return
	}
	d.seq++
	heap.Push(&d.delayed, &delayedTask{
		due:  time.Now().Add(delay),
		seq:  d.seq,
		task: task,
	})
	d.mu.Unlock()

	d.signal()
}

// Size returns the number of tasks waiting in both queues.
func (d *Dispatcher) Size() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.immediate) + d.delayed.Len()
}

// Stats returns counters for tasks run, failed and dropped.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Pending:  d.Size(),
		Executed: d.executed.Load(),
		Failed:   d.failed.Load(),
		Dropped:  d.dropped.Load(),
	}
}

// Stop halts the consumer. No task starts after Stop; pending tasks are
// discarded. When called from any goroutine other than the consumer, Stop
// returns only once the consumer has exited. Calling Stop from inside a task
// does not wait. Stop is idempotent.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.stopped {
		d.stopped = true
		d.immediate = nil
		d.delayed = nil
	}
	d.mu.Unlock()

	d.signal()

	if goroutineID() == d.consumer {
		return
	}
	<-d.done
}

// Done returns a channel that is closed when the consumer has exited.
func (d *Dispatcher) Done() <-chan struct{} {
	return d.done
}

func (d *Dispatcher) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) run(ready chan<- struct{}) {
	d.consumer = goroutineID()
	close(ready)
	defer close(d.done)

	timer := time.NewTimer(time.Hour)
	timer.Stop()

	for {
		task, wait, ok := d.next()
		if !ok {
			return
		}
		if task != nil {
			d.execute(task)
			continue
		}

		if wait < 0 {
			<-d.wake
			continue
		}

		timer.Reset(wait)
		select {
		case <-d.wake:
		case <-timer.C:
		}
		timer.Stop()
	}
}

// next pops the task to run now. When nothing is runnable it returns the time
// until the delayed head falls due, or -1 when both queues are empty. ok is
// false once the dispatcher has been stopped.
func (d *Dispatcher) next() (task Task, wait time.Duration, ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return nil, 0, false
	}

	if len(d.immediate) > 0 {
		task = d.immediate[0]
		d.immediate[0] = nil
		d.immediate = d.immediate[1:]
		return task, 0, true
	}

	if d.delayed.Len() > 0 {
		head := d.delayed[0]
		remaining := time.Until(head.due)
		if remaining <= 0 {
			heap.Pop(&d.delayed)
			return head.task, 0, true
		}
		return nil, remaining, true
	}

	return nil, -1, true
}

func (d *Dispatcher) execute(task Task) {
	defer func() {
		if r := recover(); r != nil {
			d.failed.Add(1)
			d.logger.Error("Notification task panicked", "panic", r)
		}
	}()

	err := task()
	d.executed.Add(1)
	if err != nil {
		d.failed.Add(1)
		d.logger.Error("Notification task failed", "error", err)
	}
}
