package comm

import (
	"context"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/Ning0612/dsync/internal/domain"
)

// Exchange is the typed form of Alltoall: send[i] goes to rank i, and the
// returned recv[i] is what rank i sent here.
func Exchange[T any](ctx context.Context, c Comm, send [][]T) ([][]T, error) {
	bufs := make([][]byte, c.Size())
	for i := range bufs {
		if i >= len(send) || len(send[i]) == 0 {
			continue
		}
		b, err := msgpack.Marshal(send[i])
		if err != nil {
			c.Abort(err)
			return nil, fmt.Errorf("encode for rank %d: %w", i, err)
		}
		bufs[i] = b
	}

	raw, err := c.Alltoall(ctx, bufs)
	if err != nil {
		return nil, err
	}

	recv := make([][]T, len(raw))
	for i, b := range raw {
		if len(b) == 0 {
			continue
		}
		if err := msgpack.Unmarshal(b, &recv[i]); err != nil {
			c.Abort(err)
			return nil, fmt.Errorf("decode from rank %d: %w", i, err)
		}
	}
	return recv, nil
}

// Allgather returns every rank's v, indexed by rank.
func Allgather[T any](ctx context.Context, c Comm, v T) ([]T, error) {
	send := make([][]T, c.Size())
	for i := range send {
		send[i] = []T{v}
	}
	recv, err := Exchange(ctx, c, send)
	if err != nil {
		return nil, err
	}
	out := make([]T, len(recv))
	for i, r := range recv {
		if len(r) == 1 {
			out[i] = r[0]
		}
	}
	return out, nil
}

// Gather collects every rank's values at root. Non-root ranks get nil.
func Gather[T any](ctx context.Context, c Comm, root int, vals []T) ([][]T, error) {
	send := make([][]T, c.Size())
	send[root] = vals
	recv, err := Exchange(ctx, c, send)
	if err != nil {
		return nil, err
	}
	if c.Rank() != root {
		return nil, nil
	}
	return recv, nil
}

// Scatter sends parts[i] from root to rank i and returns this rank's part.
// parts is ignored on non-root ranks.
func Scatter[T any](ctx context.Context, c Comm, root int, parts [][]T) ([]T, error) {
	send := make([][]T, c.Size())
	if c.Rank() == root {
		copy(send, parts)
	}
	recv, err := Exchange(ctx, c, send)
	if err != nil {
		return nil, err
	}
	return recv[root], nil
}

// Bcast returns root's v on every rank.
func Bcast[T any](ctx context.Context, c Comm, root int, v T) (T, error) {
	all, err := Allgather(ctx, c, v)
	if err != nil {
		var zero T
		return zero, err
	}
	return all[root], nil
}

// Allreduce folds every rank's v with op, in rank order.
func Allreduce[T any](ctx context.Context, c Comm, v T, op func(a, b T) T) (T, error) {
	all, err := Allgather(ctx, c, v)
	if err != nil {
		var zero T
		return zero, err
	}
	acc := all[0]
	for _, x := range all[1:] {
		acc = op(acc, x)
	}
	return acc, nil
}

// AllreduceSum sums vals element-wise across ranks.
func AllreduceSum(ctx context.Context, c Comm, vals ...int64) ([]int64, error) {
	return Allreduce(ctx, c, vals, func(a, b []int64) []int64 {
		out := make([]int64, len(a))
		for i := range a {
			out[i] = a[i]
			if i < len(b) {
				out[i] += b[i]
			}
		}
		return out
	})
}

// AllreduceMax returns the maximum of v across ranks.
func AllreduceMax(ctx context.Context, c Comm, v int64) (int64, error) {
	return Allreduce(ctx, c, v, func(a, b int64) int64 { return max(a, b) })
}

// AllreduceMin returns the minimum of v across ranks.
func AllreduceMin(ctx context.Context, c Comm, v int64) (int64, error) {
	return Allreduce(ctx, c, v, func(a, b int64) int64 { return min(a, b) })
}

// Exscan returns the sum of v over all ranks below this one.
func Exscan(ctx context.Context, c Comm, v int64) (int64, error) {
	all, err := Allgather(ctx, c, v)
	if err != nil {
		return 0, err
	}
	var sum int64
	for _, x := range all[:c.Rank()] {
		sum += x
	}
	return sum, nil
}

// ShareError broadcasts root's error so every rank can return it together.
// Non-root ranks receive an ErrAborted error carrying root's message, so
// root's own error stays the job's cause.
func ShareError(ctx context.Context, c Comm, root int, err error) error {
	msg := ""
	if c.Rank() == root && err != nil {
		msg = err.Error()
	}
	msg, bErr := Bcast(ctx, c, root, msg)
	if bErr != nil {
		return bErr
	}
	switch {
	case msg == "":
		return nil
	case c.Rank() == root:
		return err
	default:
		return fmt.Errorf("%w: rank %d: %s", domain.ErrAborted, root, msg)
	}
}
