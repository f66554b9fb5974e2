package comm

import (
	"context"
	"sort"

	"github.com/cespare/xxhash/v2"
)

// KeyRank maps key to a rank with a stable hash. Both trees use it to
// co-locate records that share a relative path.
func KeyRank(key string, size int) int {
	if size <= 1 {
		return 0
	}
	return int(xxhash.Sum64String(key) % uint64(size))
}

// ScanItem is one contribution to SegmentedScanOr.
type ScanItem struct {
	Key   string
	Order int64
	Value bool
}

type scanMsg struct {
	Key   string `msgpack:"k"`
	Order int64  `msgpack:"o"`
	Value bool   `msgpack:"v"`
	Src   int    `msgpack:"s"`
	Idx   int    `msgpack:"i"`
}

type scanResult struct {
	Idx   int  `msgpack:"i"`
	Value bool `msgpack:"v"`
}

// SegmentedScanOr computes, for every item, the logical OR of all values
// sharing its Key whose Order is at or below its own, across all ranks.
// Items of one key are processed in ascending Order; ties break by
// originating rank then local position.
func SegmentedScanOr(ctx context.Context, c Comm, items []ScanItem) ([]bool, error) {
	send := make([][]scanMsg, c.Size())
	for i, it := range items {
		dst := KeyRank(it.Key, c.Size())
		send[dst] = append(send[dst], scanMsg{
			Key: it.Key, Order: it.Order, Value: it.Value, Src: c.Rank(), Idx: i,
		})
	}

	recv, err := Exchange(ctx, c, send)
	if err != nil {
		return nil, err
	}

	var all []scanMsg
	for _, r := range recv {
		all = append(all, r...)
	}
	sort.Slice(all, func(i, j int) bool {
		a, b := all[i], all[j]
		if a.Key != b.Key {
			return a.Key < b.Key
		}
		if a.Order != b.Order {
			return a.Order < b.Order
		}
		if a.Src != b.Src {
			return a.Src < b.Src
		}
		return a.Idx < b.Idx
	})

	back := make([][]scanResult, c.Size())
	acc := false
	for i, m := range all {
		if i == 0 || all[i-1].Key != m.Key {
			acc = false
		}
		acc = acc || m.Value
		back[m.Src] = append(back[m.Src], scanResult{Idx: m.Idx, Value: acc})
	}

	results, err := Exchange(ctx, c, back)
	if err != nil {
		return nil, err
	}

	out := make([]bool, len(items))
	for _, rs := range results {
		for _, r := range rs {
			out[r.Idx] = r.Value
		}
	}
	return out, nil
}
