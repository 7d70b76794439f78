package notify

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitFor(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dispatcher")
	}
}

func TestDeliveryOrderAcrossNodes(t *testing.T) {
	d := New()
	defer d.Stop()

	var (
		mu   sync.Mutex
		seen []string
		seq  int
	)
	record := func(name string) Task {
		return func() error {
			mu.Lock()
			defer mu.Unlock()
			seq++
			seen = append(seen, name)
			return nil
		}
	}

	finished := make(chan struct{})
	d.Enqueue(record("a1"))
	d.Enqueue(record("b1"))
	d.Enqueue(record("a2"))
	d.Enqueue(func() error { close(finished); return nil })

	waitFor(t, finished)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"a1", "b1", "a2"}, seen)
	assert.Equal(t, 3, seq)
}

func TestManyProducersRunOnce(t *testing.T) {
	d := New()
	defer d.Stop()

	const producers, perProducer = 8, 200
	var count atomic.Int64
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				d.Enqueue(func() error {
					count.Add(1)
					return nil
				})
			}
		}()
	}
	wg.Wait()

	finished := make(chan struct{})
	d.Enqueue(func() error { close(finished); return nil })
	waitFor(t, finished)

	assert.Equal(t, int64(producers*perProducer), count.Load())
}

func TestStopPreventsFurtherTasks(t *testing.T) {
	d := New()

	started := make(chan struct{})
	release := make(chan struct{})
	var ran atomic.Int64

	d.Enqueue(func() error {
		close(started)
		<-release
		return nil
	})
	d.Enqueue(func() error {
		ran.Add(1)
		return nil
	})
	waitFor(t, started)

	stopped := make(chan struct{})
	go func() {
		d.Stop()
		close(stopped)
	}()

	// Stop must wait for the running task.
	select {
	case <-stopped:
		t.Fatal("Stop returned while a task was running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	waitFor(t, stopped)

	assert.NotPanics(t, func() {
		d.Enqueue(func() error {
			ran.Add(1)
			return nil
		})
		d.EnqueueDelayed(func() error {
			ran.Add(1)
			return nil
		}, 0)
	})

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int64(0), ran.Load())
	assert.Equal(t, 0, d.Size())
	assert.Equal(t, uint64(2), d.Stats().Dropped)

	select {
	case <-d.Done():
	default:
		t.Fatal("consumer still running after Stop")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	d := New()
	d.Stop()
	assert.NotPanics(t, d.Stop)
}

func TestStopFromConsumerDoesNotDeadlock(t *testing.T) {
	d := New()

	var after atomic.Bool
	d.Enqueue(func() error {
		d.Stop()
		return nil
	})
	d.Enqueue(func() error {
		after.Store(true)
		return nil
	})

	waitFor(t, d.Done())
	assert.False(t, after.Load())
}

func TestDelayedTaskPunctuality(t *testing.T) {
	d := New()
	defer d.Stop()

	const delay = 100 * time.Millisecond
	start := time.Now()
	ranAt := make(chan time.Time, 1)
	d.EnqueueDelayed(func() error {
		ranAt <- time.Now()
		return nil
	}, delay)

	select {
	case at := <-ranAt:
		elapsed := at.Sub(start)
		assert.GreaterOrEqual(t, elapsed, delay)
		assert.Less(t, elapsed, delay+500*time.Millisecond)
	case <-time.After(2 * time.Second):
		t.Fatal("delayed task never ran")
	}
}

func TestEarlierDelayedTaskWakesConsumer(t *testing.T) {
	d := New()
	defer d.Stop()

	order := make(chan string, 2)
	d.EnqueueDelayed(func() error { order <- "late"; return nil }, time.Hour)
	d.EnqueueDelayed(func() error { order <- "soon"; return nil }, 20*time.Millisecond)

	select {
	case got := <-order:
		assert.Equal(t, "soon", got)
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not wake for the earlier task")
	}
	assert.Equal(t, 1, d.Size())
}

func TestImmediateWorkBeatsDueDelayedWork(t *testing.T) {
	d := New()
	defer d.Stop()

	var (
		mu    sync.Mutex
		order []string
	)
	add := func(s string) {
		mu.Lock()
		order = append(order, s)
		mu.Unlock()
	}

	gate := make(chan struct{})
	finished := make(chan struct{})

	d.Enqueue(func() error {
		<-gate
		return nil
	})
	d.EnqueueDelayed(func() error {
		add("delayed")
		close(finished)
		return nil
	}, 0)
	d.Enqueue(func() error {
		add("immediate")
		return nil
	})
	close(gate)

	waitFor(t, finished)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"immediate", "delayed"}, order)
}

func TestDelayedTasksWithSameDueTimeKeepOrder(t *testing.T) {
	q := delayQueue{}
	due := time.Now()
	for i := uint64(3); i >= 1; i-- {
		q = append(q, &delayedTask{due: due, seq: i})
	}
	assert.True(t, q.Less(2, 0))
	assert.False(t, q.Less(0, 2))
}

func TestFailingTasksDoNotStopConsumer(t *testing.T) {
	d := New()
	defer d.Stop()

	finished := make(chan struct{})
	d.Enqueue(func() error { return errors.New("listener failed") })
	d.Enqueue(func() error { panic("listener blew up") })
	d.Enqueue(func() error { close(finished); return nil })

	waitFor(t, finished)

	stats := d.Stats()
	assert.Equal(t, uint64(2), stats.Failed)
}

func TestSizeCountsBothQueues(t *testing.T) {
	d := New()
	defer d.Stop()

	started := make(chan struct{})
	release := make(chan struct{})
	d.Enqueue(func() error {
		close(started)
		<-release
		return nil
	})
	waitFor(t, started)

	d.Enqueue(func() error { return nil })
	d.Enqueue(func() error { return nil })
	d.EnqueueDelayed(func() error { return nil }, time.Hour)

	assert.Equal(t, 3, d.Size())
	close(release)
}

func TestGoroutineID(t *testing.T) {
	id := goroutineID()
	require.Positive(t, id)

	other := make(chan int64)
	go func() { other <- goroutineID() }()
	assert.NotEqual(t, id, <-other)
}
