package tofu

import (
	"runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// NewWorkerPoolDispatcher returns a Dispatcher that runs at most size nodes at
// a time, GOMAXPROCS when size is not positive. Submit blocks while every slot
// is busy. After Stop, submitted functions run on the caller's goroutine.
func NewWorkerPoolDispatcher(size int) Dispatcher {
	if size <= 0 {
		size = max(runtime.GOMAXPROCS(0), 1)
	}
	d := &workerPoolDispatcher{}
	d.group.SetLimit(size)
	return d
}

type workerPoolDispatcher struct {
	group   errgroup.Group
	stopped atomic.Bool
	once    sync.Once
}

func (d *workerPoolDispatcher) Submit(fn func()) {
	if fn == nil {
		return
	}
	if d.stopped.Load() {
		fn()
		return
	}
	d.group.Go(func() error {
		fn()
		return nil
	})
}

// Stop waits for every submitted function to return.
func (d *workerPoolDispatcher) Stop() {
	d.once.Do(func() {
		d.stopped.Store(true)
		_ = d.group.Wait()
	})
}
