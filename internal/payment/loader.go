package payment

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Loader runs a gateway library load at most once successfully.
// Concurrent callers share the in-flight attempt; a failed attempt may be
// retried by a later call.
type Loader struct {
	load  func(ctx context.Context) error
	group singleflight.Group

	mu     sync.Mutex
	loaded bool
	loads  int
}

// NewLoader wraps load.
func NewLoader(load func(ctx context.Context) error) *Loader {
	return &Loader{load: load}
}

// Ensure returns once the library is loaded or the shared attempt fails.
// A caller whose ctx ends stops waiting; the shared attempt continues.
func (l *Loader) Ensure(ctx context.Context) error {
	l.mu.Lock()
	if l.loaded {
		l.mu.Unlock()
		return nil
	}
	l.mu.Unlock()

	ch := l.group.DoChan("gateway", func() (any, error) {
		l.mu.Lock()
		if l.loaded {
			l.mu.Unlock()
			return nil, nil
		}
		l.loads++
		l.mu.Unlock()

		// Detached so one impatient caller cannot fail the load for the others.
		if err := l.load(context.WithoutCancel(ctx)); err != nil {
			return nil, err
		}

		l.mu.Lock()
		l.loaded = true
		l.mu.Unlock()
		return nil, nil
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Loads reports how many load attempts have started.
func (l *Loader) Loads() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loads
}
