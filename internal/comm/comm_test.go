package comm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ning0612/dsync/internal/domain"
)

func TestRun_InvalidSize(t *testing.T) {
	err := Run(context.Background(), 0, func(ctx context.Context, c Comm) error { return nil })
	assert.ErrorIs(t, err, domain.ErrConfigInvalid)
}

func TestAlltoall(t *testing.T) {
	for _, size := range []int{1, 2, 4} {
		t.Run(fmt.Sprintf("size=%d", size), func(t *testing.T) {
			err := Run(context.Background(), size, func(ctx context.Context, c Comm) error {
				send := make([][]byte, c.Size())
				for i := range send {
					send[i] = []byte(fmt.Sprintf("%d->%d", c.Rank(), i))
				}
				for round := 0; round < 3; round++ {
					recv, err := c.Alltoall(ctx, send)
					if err != nil {
						return err
					}
					for i, b := range recv {
						if want := fmt.Sprintf("%d->%d", i, c.Rank()); string(b) != want {
							return fmt.Errorf("round %d: got %q want %q", round, b, want)
						}
					}
				}
				return c.Barrier(ctx)
			})
			require.NoError(t, err)
		})
	}
}

func TestReductions(t *testing.T) {
	const size = 4
	var mu sync.Mutex
	results := map[int][]int64{}

	err := Run(context.Background(), size, func(ctx context.Context, c Comm) error {
		r := int64(c.Rank())
		sums, err := AllreduceSum(ctx, c, r, 1)
		if err != nil {
			return err
		}
		mx, err := AllreduceMax(ctx, c, r)
		if err != nil {
			return err
		}
		mn, err := AllreduceMin(ctx, c, r+10)
		if err != nil {
			return err
		}
		ex, err := Exscan(ctx, c, r+1)
		if err != nil {
			return err
		}
		b, err := Bcast(ctx, c, 3, "from-"+fmt.Sprint(c.Rank()))
		if err != nil {
			return err
		}
		if b != "from-3" {
			return fmt.Errorf("bcast=%q", b)
		}

		mu.Lock()
		results[c.Rank()] = []int64{sums[0], sums[1], mx, mn, ex}
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)

	for r := 0; r < size; r++ {
		// exscan of 1,2,3,4
		wantEx := int64(r * (r + 1) / 2)
		assert.Equal(t, []int64{6, 4, 3, 10, wantEx}, results[r], "rank %d", r)
	}
}

func TestGatherScatter(t *testing.T) {
	err := Run(context.Background(), 3, func(ctx context.Context, c Comm) error {
		got, err := Gather(ctx, c, 0, []int{c.Rank(), c.Rank() * 10})
		if err != nil {
			return err
		}
		var parts [][]int
		if c.Rank() == 0 {
			if len(got) != 3 || got[2][1] != 20 {
				return fmt.Errorf("gather: %v", got)
			}
			parts = [][]int{{0}, {1, 1}, {2, 2, 2}}
		} else if got != nil {
			return fmt.Errorf("non-root received %v", got)
		}

		mine, err := Scatter(ctx, c, 0, parts)
		if err != nil {
			return err
		}
		if len(mine) != c.Rank()+1 {
			return fmt.Errorf("rank %d got %v", c.Rank(), mine)
		}
		return nil
	})
	require.NoError(t, err)
}

func TestAbortPropagates(t *testing.T) {
	boom := errors.New("boom")
	var mu sync.Mutex
	var peers []error

	err := Run(context.Background(), 4, func(ctx context.Context, c Comm) error {
		if c.Rank() == 1 {
			return boom
		}
		err := c.Barrier(ctx)
		mu.Lock()
		peers = append(peers, err)
		mu.Unlock()
		return err
	})

	assert.ErrorIs(t, err, boom)
	require.Len(t, peers, 3)
	for _, p := range peers {
		assert.ErrorIs(t, p, domain.ErrAborted)
	}
}

func TestContextCancelAborts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	err := Run(ctx, 2, func(ctx context.Context, c Comm) error {
		if c.Rank() == 0 {
			cancel()
			<-ctx.Done()
		}
		return c.Barrier(ctx)
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSegmentedScanOr(t *testing.T) {
	// file "a" has chunks 0..5 spread over ranks, chunk 3 differs;
	// file "b" never differs.
	type chunk struct {
		key   string
		order int64
		value bool
	}
	chunks := []chunk{
		{"a", 0, false}, {"a", 1, false}, {"a", 2, false},
		{"a", 3, true}, {"a", 4, false}, {"a", 5, false},
		{"b", 0, false}, {"b", 1, false},
	}
	want := map[string]bool{
		"a/0": false, "a/1": false, "a/2": false, "a/3": true, "a/4": true, "a/5": true,
		"b/0": false, "b/1": false,
	}

	for _, size := range []int{1, 3} {
		t.Run(fmt.Sprintf("size=%d", size), func(t *testing.T) {
			var mu sync.Mutex
			got := map[string]bool{}

			err := Run(context.Background(), size, func(ctx context.Context, c Comm) error {
				var items []ScanItem
				// reverse order locally so sorting is exercised
				for i := len(chunks) - 1; i >= 0; i-- {
					if i%c.Size() == c.Rank() {
						ch := chunks[i]
						items = append(items, ScanItem{Key: ch.key, Order: ch.order, Value: ch.value})
					}
				}
				out, err := SegmentedScanOr(ctx, c, items)
				if err != nil {
					return err
				}
				mu.Lock()
				for i, it := range items {
					got[fmt.Sprintf("%s/%d", it.Key, it.Order)] = out[i]
				}
				mu.Unlock()
				return nil
			})
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestKeyRankStable(t *testing.T) {
	assert.Equal(t, 0, KeyRank("/a", 1))
	r := KeyRank("/dir/file", 7)
	assert.GreaterOrEqual(t, r, 0)
	assert.Less(t, r, 7)
	assert.Equal(t, r, KeyRank("/dir/file", 7))
}

func TestShareError(t *testing.T) {
	boom := errors.New("boom")
	err := Run(context.Background(), 3, func(ctx context.Context, c Comm) error {
		var local error
		if c.Rank() == 0 {
			local = boom
		}
		err := ShareError(ctx, c, 0, local)
		if c.Rank() != 0 && !errors.Is(err, domain.ErrAborted) {
			return fmt.Errorf("rank %d: unexpected %v", c.Rank(), err)
		}
		return err
	})
	assert.ErrorIs(t, err, boom)

	err = Run(context.Background(), 2, func(ctx context.Context, c Comm) error {
		return ShareError(ctx, c, 1, nil)
	})
	assert.NoError(t, err)
}
