package rule

import (
	"github.com/Ning0612/dsync/internal/core/compare"
	"github.com/Ning0612/dsync/internal/flist"
)

// Matched holds the local entries one output selected.
type Matched struct {
	Output *Output
	Src    *flist.List
	Dst    *flist.List
}

// Collect classifies every local entry of both sides against each output and
// bumps the local counters. It must run once per comparison.
func (rs *RuleSet) Collect(src *flist.List, srcStore *compare.Store, dst *flist.List, dstStore *compare.Store) []Matched {
	matched := make([]Matched, len(rs.Outputs))
	for i, out := range rs.Outputs {
		m := Matched{Output: out, Src: src.Subset(), Dst: dst.Subset()}
		m.collect(srcStore, src, true)
		m.collect(dstStore, dst, false)
		out.SrcTotal = int64(m.Src.Size())
		out.DstTotal = int64(m.Dst.Size())
		matched[i] = m
	}
	return matched
}

func (m *Matched) collect(store *compare.Store, list *flist.List, isSrc bool) {
	target := m.Dst
	if isSrc {
		target = m.Src
	}
	for _, key := range store.Keys() {
		rec, _ := store.Lookup(key)
		if m.Output.Disjunction.Match(rec.States, isSrc) {
			target.Append(list.Get(rec.Index))
		}
	}
}
