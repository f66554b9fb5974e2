// Package comm provides the collective operations the comparison engine is
// built on. Ranks run as goroutines of one process and exchange byte payloads
// through a shared world; every rank must issue the same sequence of
// collectives or the job deadlocks.
package comm

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/Ning0612/dsync/internal/domain"
)

// Comm is one rank's handle on the world.
type Comm interface {
	// Rank returns this worker's index in [0, Size()).
	Rank() int

	// Size returns the number of workers.
	Size() int

	// Barrier blocks until every rank has entered it.
	Barrier(ctx context.Context) error

	// Alltoall sends send[i] to rank i and returns recv where recv[i] came
	// from rank i. len(send) must equal Size().
	Alltoall(ctx context.Context, send [][]byte) ([][]byte, error)

	// Abort fails the whole job. Ranks blocked in, or later entering, a
	// collective return an error wrapping domain.ErrAborted.
	Abort(err error)
}

// Run starts size ranks, each executing fn, and waits for all of them. The
// first error raised by any rank (or the cancellation cause of ctx) is
// returned.
func Run(ctx context.Context, size int, fn func(ctx context.Context, c Comm) error) error {
	if size < 1 {
		return fmt.Errorf("%w: world size must be positive, got %d", domain.ErrConfigInvalid, size)
	}

	w := newWorld(size)
	stop := context.AfterFunc(ctx, func() { w.abort(context.Cause(ctx)) })
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	for r := 0; r < size; r++ {
		r := r
		g.Go(func() error {
			if err := fn(gctx, &rankComm{w: w, rank: r}); err != nil {
				w.abort(err)
				return err
			}
			return nil
		})
	}
	waitErr := g.Wait()

	if cause := w.cause(); cause != nil {
		return cause
	}
	return waitErr
}

type world struct {
	size int

	mu      sync.Mutex
	cond    *sync.Cond
	gen     uint64
	arrived int
	slots   [][][]byte
	done    [][][]byte
	err     error
}

func newWorld(size int) *world {
	w := &world{size: size, slots: make([][][]byte, size)}
	w.cond = sync.NewCond(&w.mu)
	return w
}

func (w *world) abort(err error) {
	if err == nil {
		err = domain.ErrAborted
	}
	w.mu.Lock()
	// a real cause replaces a peer's secondhand abort
	if w.err == nil || (errors.Is(w.err, domain.ErrAborted) && !errors.Is(err, domain.ErrAborted)) {
		w.err = err
	}
	w.mu.Unlock()
	w.cond.Broadcast()
}

func (w *world) cause() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

func (w *world) exchange(rank int, send [][]byte) ([][]byte, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrAborted, w.err)
	}

	w.slots[rank] = send
	w.arrived++
	gen := w.gen

	if w.arrived == w.size {
		w.done = w.slots
		w.slots = make([][][]byte, w.size)
		w.arrived = 0
		w.gen++
		w.cond.Broadcast()
	} else {
		for w.gen == gen && w.err == nil {
			w.cond.Wait()
		}
		if w.gen == gen {
			return nil, fmt.Errorf("%w: %w", domain.ErrAborted, w.err)
		}
	}

	// done stays valid until this rank enters the next collective
	recv := make([][]byte, w.size)
	for src := range recv {
		if w.done[src] != nil {
			recv[src] = w.done[src][rank]
		}
	}
	return recv, nil
}

type rankComm struct {
	w    *world
	rank int
}

func (c *rankComm) Rank() int { return c.rank }
func (c *rankComm) Size() int { return c.w.size }

func (c *rankComm) Barrier(ctx context.Context) error {
	_, err := c.Alltoall(ctx, nil)
	return err
}

func (c *rankComm) Alltoall(ctx context.Context, send [][]byte) ([][]byte, error) {
	if err := ctx.Err(); err != nil {
		c.w.abort(context.Cause(ctx))
	}
	if send != nil && len(send) != c.w.size {
		err := fmt.Errorf("alltoall: %d buffers for %d ranks", len(send), c.w.size)
		c.w.abort(err)
		return nil, err
	}
	return c.w.exchange(c.rank, send)
}

func (c *rankComm) Abort(err error) {
	c.w.abort(err)
}
