package util

import (
	"sync"
	"sync/atomic"
)

// Join waits for a fixed number of completions and then runs a callback
// exactly once. Completions beyond the expected count are ignored.
type Join struct {
	remaining atomic.Int64
	once      sync.Once
	fn        func()
	done      chan struct{}
}

// NewJoin returns a Join that calls fn after n calls to Done. fn may be nil.
// With n <= 0 the Join fires immediately.
func NewJoin(n int, fn func()) *Join {
	j := &Join{fn: fn, done: make(chan struct{})}
	j.remaining.Store(int64(n))
	if n <= 0 {
		j.fire()
	}
	return j
}

// Done records one completion.
func (j *Join) Done() {
	if j.remaining.Add(-1) == 0 {
		j.fire()
	}
}

// Wait returns a channel that is closed once the callback has run.
func (j *Join) Wait() <-chan struct{} {
	return j.done
}

func (j *Join) fire() {
	j.once.Do(func() {
		if j.fn != nil {
			j.fn()
		}
		close(j.done)
	})
}
