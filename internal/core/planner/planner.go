// Package planner turns a comparison result into the ordered work lists of
// the sync executor.
package planner

import (
	"context"
	"sort"

	"github.com/Ning0612/dsync/internal/comm"
	"github.com/Ning0612/dsync/internal/core/compare"
	"github.com/Ning0612/dsync/internal/domain"
	"github.com/Ning0612/dsync/internal/flist"
)

// Options controls plan construction
type Options struct {
	// Delete removes destination entries that have no source counterpart
	Delete bool
}

// Plan is one rank's share of the sync work
type Plan struct {
	// Delete holds destination entries, files first then directories deepest first
	Delete *flist.List
	// Copy holds source entries, directories shallow first then everything else
	Copy *flist.List
	// Refresh pairs every path present on both sides; directories come last, deepest first
	Refresh []compare.Pair

	Stats PlanStats
}

// PlanStats summarizes a plan
type PlanStats struct {
	ToDelete    int64
	ToCopy      int64
	ToRefresh   int64
	BytesToCopy int64
}

// Build assembles the plan from a finished comparison. Destination-only
// entries are those whose existence state was never set.
func Build(src, dst *flist.List, dstStore *compare.Store, res *compare.Result, opts Options) *Plan {
	plan := &Plan{
		Delete:  dst.Subset(),
		Copy:    src.Subset(),
		Refresh: append([]compare.Pair(nil), res.Refresh...),
	}

	if opts.Delete {
		for _, key := range dstStore.Keys() {
			st, _ := dstStore.State(key, domain.FieldExist)
			if st != domain.StateInit {
				continue
			}
			idx, _ := dstStore.Index(key)
			plan.Delete.Append(dst.Get(idx))
		}
	}
	for _, rec := range res.Remove.Records() {
		plan.Delete.Append(rec)
	}
	for _, rec := range res.Copy.Records() {
		plan.Copy.Append(rec)
	}

	sortDeletes(plan.Delete.Records())
	sortCopies(plan.Copy.Records())
	sortRefresh(plan.Refresh, src)

	calculateStats(plan)
	return plan
}

// sortDeletes puts non-directories first, then directories deepest first, so
// a directory is only removed after its children.
func sortDeletes(recs []domain.FileRecord) {
	sort.SliceStable(recs, func(i, j int) bool {
		di, dj := recs[i].IsDir(), recs[j].IsDir()
		if di != dj {
			return !di
		}
		if di && recs[i].Depth() != recs[j].Depth() {
			return recs[i].Depth() > recs[j].Depth()
		}
		return recs[i].Path < recs[j].Path
	})
}

// sortCopies puts directories first, shallow to deep, then everything else.
func sortCopies(recs []domain.FileRecord) {
	sort.SliceStable(recs, func(i, j int) bool {
		di, dj := recs[i].IsDir(), recs[j].IsDir()
		if di != dj {
			return di
		}
		if di && recs[i].Depth() != recs[j].Depth() {
			return recs[i].Depth() < recs[j].Depth()
		}
		return recs[i].Path < recs[j].Path
	})
}

// sortRefresh applies file metadata before directory metadata, deepest
// directories first, so directory times survive the pass.
func sortRefresh(pairs []compare.Pair, src *flist.List) {
	sort.SliceStable(pairs, func(i, j int) bool {
		ri, rj := src.Record(pairs[i].Src), src.Record(pairs[j].Src)
		di, dj := ri.IsDir(), rj.IsDir()
		if di != dj {
			return !di
		}
		if di && ri.Depth() != rj.Depth() {
			return ri.Depth() > rj.Depth()
		}
		return ri.Path < rj.Path
	})
}

func calculateStats(plan *Plan) {
	plan.Stats.ToDelete = int64(plan.Delete.Size())
	plan.Stats.ToCopy = int64(plan.Copy.Size())
	plan.Stats.ToRefresh = int64(len(plan.Refresh))
	for _, rec := range plan.Copy.Records() {
		if rec.IsFile() {
			plan.Stats.BytesToCopy += rec.Size
		}
	}
}

// Reduce sums plan statistics over all ranks.
func (s PlanStats) Reduce(ctx context.Context, c comm.Comm) (PlanStats, error) {
	sums, err := comm.AllreduceSum(ctx, c, s.ToDelete, s.ToCopy, s.ToRefresh, s.BytesToCopy)
	if err != nil {
		return PlanStats{}, err
	}
	return PlanStats{ToDelete: sums[0], ToCopy: sums[1], ToRefresh: sums[2], BytesToCopy: sums[3]}, nil
}
