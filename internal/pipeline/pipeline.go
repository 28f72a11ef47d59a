// Package pipeline implements the local segment lifecycle: a supervised
// encoder process writes time-windowed temp files into a staging tree, the
// finalizer promotes completed files to their final names, the upload
// dispatcher ships finalized files to a storage sink, and retention sweepers
// reclaim aged files locally and remotely.
//
// The loops share no locks. They coordinate only through the filesystem
// (atomic rename, age gating, fingerprint re-checks) and a single
// cancellation context observed at every wait point.
package pipeline

import (
	"context"
	"sync"
	"time"
)

// Loop is a long-running pipeline component. Run must return promptly after
// ctx is cancelled and must never panic out of its iteration.
type Loop interface {
	Run(ctx context.Context)
}

// RunAll starts every loop in its own goroutine and blocks until all of them
// have observed cancellation and returned.
func RunAll(ctx context.Context, loops ...Loop) {
	var wg sync.WaitGroup
	for _, l := range loops {
		wg.Add(1)
		go func(l Loop) {
			defer wg.Done()
			l.Run(ctx)
		}(l)
	}
	wg.Wait()
}

// wait sleeps for d or until ctx is cancelled. It returns false on
// cancellation so callers can exit their loop.
func wait(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		select {
		case <-ctx.Done():
			return false
		default:
			return true
		}
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
