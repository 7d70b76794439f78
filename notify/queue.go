package notify

import (
	"bytes"
	"runtime"
	"strconv"
	"time"
)

type delayedTask struct {
	due  time.Time
	seq  uint64
	task Task
}

// delayQueue is a container/heap ordered by due time, then enqueue order.
type delayQueue []*delayedTask

func (q delayQueue) Len() int { return len(q) }

func (q delayQueue) Less(i, j int) bool {
	if q[i].due.Equal(q[j].due) {
		return q[i].seq < q[j].seq
	}
	return q[i].due.Before(q[j].due)
}

func (q delayQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *delayQueue) Push(x any) {
	*q = append(*q, x.(*delayedTask))
}

func (q *delayQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return item
}

var goroutinePrefix = []byte("goroutine ")

// goroutineID returns the id of the calling goroutine, parsed from the first
// line of its stack trace. Only Stop uses it, to avoid waiting on itself.
func goroutineID() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	line := bytes.TrimPrefix(buf[:n], goroutinePrefix)
	if i := bytes.IndexByte(line, ' '); i > 0 {
		line = line[:i]
	}
	id, err := strconv.ParseInt(string(line), 10, 64)
	if err != nil {
		return -1
	}
	return id
}
