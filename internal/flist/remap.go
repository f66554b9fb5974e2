package flist

import (
	"context"

	"github.com/Ning0612/dsync/internal/comm"
	"github.com/Ning0612/dsync/internal/domain"
)

// KeyFunc returns the rank that must own rec.
type KeyFunc func(rec domain.FileRecord) int

// PathKeyFunc hashes the path with prefix stripped, so a source entry and its
// destination counterpart land on the same rank.
func PathKeyFunc(prefix string, size int) KeyFunc {
	return func(rec domain.FileRecord) int {
		return comm.KeyRank(domain.RelPath(rec.Path, prefix), size)
	}
}

// Remap redistributes list so every record ends up on keyFn(record). The
// input list must not be used afterwards.
func Remap(ctx context.Context, c comm.Comm, list *List, keyFn KeyFunc) (*List, error) {
	send := make([][]domain.FileRecord, c.Size())
	for _, rec := range list.records {
		dst := keyFn(rec)
		send[dst] = append(send[dst], rec)
	}

	recv, err := comm.Exchange(ctx, c, send)
	if err != nil {
		return nil, err
	}

	out := New()
	for _, recs := range recv {
		out.records = append(out.records, recs...)
	}
	return out, nil
}

// Spread deals records round-robin across ranks starting from the global
// offset of this rank's shard. Used to balance lists produced on one rank.
func Spread(ctx context.Context, c comm.Comm, list *List) (*List, error) {
	offset, err := comm.Exscan(ctx, c, int64(list.Size()))
	if err != nil {
		return nil, err
	}
	return Remap(ctx, c, list, roundRobin(offset, c.Size()))
}

func roundRobin(start int64, size int) KeyFunc {
	next := start
	return func(domain.FileRecord) int {
		r := int(next % int64(size))
		next++
		return r
	}
}
