// Package flist holds the rank-partitioned file list the comparison engine
// consumes, together with the walker that produces it and the remapper that
// co-locates both trees' records.
package flist

import (
	"context"

	"github.com/Ning0612/dsync/internal/comm"
	"github.com/Ning0612/dsync/internal/domain"
)

// List is this rank's shard of a distributed file list. Indices are local.
type List struct {
	records []domain.FileRecord
}

// New returns an empty list.
func New() *List {
	return &List{}
}

// FromRecords wraps recs without copying.
func FromRecords(recs []domain.FileRecord) *List {
	return &List{records: recs}
}

// Size returns the number of local records.
func (l *List) Size() int { return len(l.records) }

// Get returns the record at idx.
func (l *List) Get(idx int) domain.FileRecord { return l.records[idx] }

// Records exposes the local records in list order.
func (l *List) Records() []domain.FileRecord { return l.records }

// Append adds rec to the local shard.
func (l *List) Append(rec domain.FileRecord) { l.records = append(l.records, rec) }

func (l *List) Name(idx int) string              { return l.records[idx].Path }
func (l *List) Type(idx int) domain.FileType     { return l.records[idx].Type }
func (l *List) Mode(idx int) uint32              { return l.records[idx].Mode }
func (l *List) Perm(idx int) uint32              { return l.records[idx].Perm() }
func (l *List) FileSize(idx int) int64           { return l.records[idx].Size }
func (l *List) UID(idx int) uint32               { return l.records[idx].UID }
func (l *List) GID(idx int) uint32               { return l.records[idx].GID }
func (l *List) Atime(idx int) domain.Timespec    { return l.records[idx].Atime }
func (l *List) Mtime(idx int) domain.Timespec    { return l.records[idx].Mtime }
func (l *List) Ctime(idx int) domain.Timespec    { return l.records[idx].Ctime }
func (l *List) AccessACL(idx int) []byte         { return l.records[idx].AccessACL }
func (l *List) DefaultACL(idx int) []byte        { return l.records[idx].DefaultACL }
func (l *List) LinkTarget(idx int) string        { return l.records[idx].LinkTarget }
func (l *List) Record(idx int) *domain.FileRecord { return &l.records[idx] }

// Subset returns an empty list to collect a selection of this one into.
func (l *List) Subset() *List {
	return New()
}

// GlobalSize returns the total number of records across ranks.
func (l *List) GlobalSize(ctx context.Context, c comm.Comm) (int64, error) {
	sum, err := comm.AllreduceSum(ctx, c, int64(len(l.records)))
	if err != nil {
		return 0, err
	}
	return sum[0], nil
}

// MaxDepth returns the deepest path depth across ranks, or -1 for an empty
// distributed list.
func (l *List) MaxDepth(ctx context.Context, c comm.Comm) (int, error) {
	depth := int64(-1)
	for _, r := range l.records {
		depth = max(depth, int64(r.Depth()))
	}
	m, err := comm.AllreduceMax(ctx, c, depth)
	return int(m), err
}

// GlobalBytes sums regular file sizes across ranks.
func (l *List) GlobalBytes(ctx context.Context, c comm.Comm) (int64, error) {
	var n int64
	for _, r := range l.records {
		if r.IsFile() {
			n += r.Size
		}
	}
	sum, err := comm.AllreduceSum(ctx, c, n)
	if err != nil {
		return 0, err
	}
	return sum[0], nil
}
