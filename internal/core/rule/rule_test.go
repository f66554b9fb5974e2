package rule

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ning0612/dsync/internal/comm"
	"github.com/Ning0612/dsync/internal/core/compare"
	"github.com/Ning0612/dsync/internal/domain"
	"github.com/Ning0612/dsync/internal/flist"
	"github.com/Ning0612/dsync/internal/listio"
)

func TestParseOutput(t *testing.T) {
	out, need, err := ParseOutput("EXIST=COMMON@CONTENT=DIFFER:diff.out")
	require.NoError(t, err)
	assert.Equal(t, "diff.out", out.FileName)
	require.Len(t, out.Disjunction.Conjunctions, 1)
	assert.Equal(t, []Expression{
		{Field: domain.FieldExist, State: domain.StateCommon},
		{Field: domain.FieldContent, State: domain.StateDiffer},
	}, out.Disjunction.Conjunctions[0].Expressions)

	for _, f := range []domain.Field{domain.FieldExist, domain.FieldType, domain.FieldSize, domain.FieldContent} {
		assert.True(t, need.Has(f), f.String())
	}
	assert.False(t, need.Has(domain.FieldMtime))
	assert.Equal(t, "EXIST=COMMON@CONTENT=DIFFER:diff.out", out.String())
}

func TestParseOutputDisjunction(t *testing.T) {
	out, need, err := ParseOutput("EXIST=ONLY_SRC,,MTIME=DIFFER@@UID=COMMON")
	require.NoError(t, err)
	assert.Empty(t, out.FileName)
	require.Len(t, out.Disjunction.Conjunctions, 2)
	assert.Len(t, out.Disjunction.Conjunctions[1].Expressions, 2)
	assert.True(t, need.Has(domain.FieldMtime))
	assert.True(t, need.Has(domain.FieldUID))
	assert.False(t, need.Has(domain.FieldType))
}

func TestParseOutputCaseInsensitive(t *testing.T) {
	out, _, err := ParseOutput("exist=only_dest")
	require.NoError(t, err)
	assert.Equal(t, domain.StateOnlyDest, out.Disjunction.Conjunctions[0].Expressions[0].State)
}

func TestParseOutputErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"empty disjunction", ":file"},
		{"no equals", "EXIST"},
		{"empty field", "=COMMON"},
		{"empty state", "EXIST="},
		{"unknown field", "COLOR=COMMON"},
		{"unknown state", "EXIST=MAYBE"},
		{"init rejected", "EXIST=INIT"},
		{"only src on size", "SIZE=ONLY_SRC"},
		{"only dest on type", "TYPE=ONLY_DEST"},
		{"only delimiters", ",@,"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := ParseOutput(tt.input)
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrInvalidRule)
			var se *SyntaxError
			assert.True(t, errors.As(err, &se))
		})
	}
}

func TestNewRuleSetDefaults(t *testing.T) {
	rs, err := NewRuleSet(nil)
	require.NoError(t, err)
	require.Len(t, rs.Outputs, len(DefaultOutputs))
	for i, out := range rs.Outputs {
		assert.Equal(t, DefaultOutputs[i], out.String())
	}
	assert.True(t, rs.Need.Has(domain.FieldContent))
	assert.False(t, rs.Need.Has(domain.FieldPerm))
}

func TestNewRuleSetStopsOnError(t *testing.T) {
	_, err := NewRuleSet([]string{"EXIST=COMMON", "PERM=ONLY_SRC"})
	assert.ErrorIs(t, err, domain.ErrInvalidRule)
}

func states(kv map[domain.Field]domain.State) [domain.NumFields]domain.State {
	var s [domain.NumFields]domain.State
	for f, st := range kv {
		s[f] = st
	}
	return s
}

func TestExpressionMatch(t *testing.T) {
	onlySrc := states(map[domain.Field]domain.State{domain.FieldExist: domain.StateOnlySrc})
	dstOnly := states(nil)
	common := states(map[domain.Field]domain.State{
		domain.FieldExist: domain.StateCommon,
		domain.FieldType:  domain.StateCommon,
		domain.FieldMtime: domain.StateDiffer,
	})

	tests := []struct {
		expr   string
		states [domain.NumFields]domain.State
		want   bool
	}{
		{"EXIST=ONLY_SRC", onlySrc, true},
		{"EXIST=DIFFER", onlySrc, true},
		{"EXIST=ONLY_DEST", onlySrc, false},
		{"EXIST=COMMON", onlySrc, false},
		{"MTIME=DIFFER", onlySrc, false},
		{"EXIST=ONLY_DEST", dstOnly, true},
		{"EXIST=DIFFER", dstOnly, true},
		{"EXIST=ONLY_SRC", dstOnly, false},
		{"EXIST=COMMON", dstOnly, false},
		{"EXIST=COMMON", common, true},
		{"EXIST=DIFFER", common, false},
		{"TYPE=COMMON", common, true},
		{"MTIME=DIFFER", common, true},
		{"MTIME=COMMON", common, false},
		{"CONTENT=COMMON", common, false},
		{"CONTENT=DIFFER", common, false},
	}
	for _, tt := range tests {
		out, _, err := ParseOutput(tt.expr)
		require.NoError(t, err)
		e := out.Disjunction.Conjunctions[0].Expressions[0]
		assert.Equal(t, tt.want, e.Match(tt.states), tt.expr)
	}
}

func TestDisjunctionFirstMatchCounts(t *testing.T) {
	out, _, err := ParseOutput("EXIST=COMMON,TYPE=COMMON")
	require.NoError(t, err)
	common := states(map[domain.Field]domain.State{
		domain.FieldExist: domain.StateCommon,
		domain.FieldType:  domain.StateCommon,
	})

	assert.True(t, out.Disjunction.Match(common, true))
	assert.True(t, out.Disjunction.Match(common, false))
	assert.Equal(t, int64(1), out.Disjunction.Conjunctions[0].SrcMatched)
	assert.Equal(t, int64(1), out.Disjunction.Conjunctions[0].DstMatched)
	assert.Zero(t, out.Disjunction.Conjunctions[1].SrcMatched)
}

func TestSummary(t *testing.T) {
	out, _, err := ParseOutput("EXIST=ONLY_SRC")
	require.NoError(t, err)
	out.Disjunction.Conjunctions[0].SrcMatched = 3
	assert.Equal(t, "Files which exist only in source directory: [3/0]", out.Summary())

	out, _, err = ParseOutput("EXIST=COMMON@MTIME=DIFFER,EXIST=COMMON@SIZE=COMMON:out.bin")
	require.NoError(t, err)
	out.Disjunction.Conjunctions[0].SrcMatched = 1
	out.Disjunction.Conjunctions[0].DstMatched = 1
	out.Disjunction.Conjunctions[1].SrcMatched = 2
	out.Disjunction.Conjunctions[1].DstMatched = 2
	out.SrcTotal, out.DstTotal = 3, 3
	want := "Files which exist in both directories and have different modification times: [1/1], or\n" +
		"            exist in both directories and have the same size: [2/2]" +
		", total number: 3/3, dumped to \"out.bin\""
	assert.Equal(t, want, out.Summary())
}

func TestExpressionDescription(t *testing.T) {
	tests := []struct {
		expr string
		want string
	}{
		{"EXIST=ONLY_DEST", "exist only in destination directory"},
		{"EXIST=DIFFER", "exist only in one directory"},
		{"ACL=DIFFER", "have different access control lists"},
		{"ACL=COMMON", "have the same access control list"},
		{"UID=DIFFER", "have different user IDs"},
		{"CONTENT=COMMON", "have the same content"},
	}
	for _, tt := range tests {
		out, _, err := ParseOutput(tt.expr)
		require.NoError(t, err, tt.expr)
		assert.Equal(t, tt.want, out.Disjunction.Conjunctions[0].Description(), tt.expr)
	}
}

func TestCloneHasIndependentCounters(t *testing.T) {
	rs, err := NewRuleSet([]string{"EXIST=ONLY_SRC,EXIST=COMMON:out.lst"})
	require.NoError(t, err)
	rs.Outputs[0].Disjunction.Conjunctions[0].SrcMatched = 5
	rs.Outputs[0].SrcTotal = 5

	clone := rs.Clone()
	require.Len(t, clone.Outputs, 1)
	out := clone.Outputs[0]
	assert.Equal(t, "out.lst", out.FileName)
	assert.Equal(t, rs.Outputs[0].Disjunction.String(), out.Disjunction.String())
	assert.Equal(t, rs.Need, clone.Need)
	assert.Zero(t, out.SrcTotal)
	assert.Zero(t, out.Disjunction.Conjunctions[0].SrcMatched)

	onlySrc := states(map[domain.Field]domain.State{domain.FieldExist: domain.StateOnlySrc})
	assert.True(t, out.Disjunction.Match(onlySrc, true))
	assert.Equal(t, int64(1), out.Disjunction.Conjunctions[0].SrcMatched)
	assert.Equal(t, int64(5), rs.Outputs[0].Disjunction.Conjunctions[0].SrcMatched)
}

// fixture builds one side's list and store with the given per-path states.
func fixture(prefix string, entries map[string][domain.NumFields]domain.State) (*flist.List, *compare.Store) {
	list := flist.New()
	for rel := range entries {
		list.Append(domain.FileRecord{Path: prefix + rel, Type: domain.FileTypeRegular})
	}
	store := compare.NewStore(list, prefix)
	for rel, st := range entries {
		for _, f := range domain.Fields() {
			store.Update(rel, f, st[f])
		}
	}
	return list, store
}

func TestCollectReduceReport(t *testing.T) {
	fs := afero.NewMemMapFs()
	var summary bytes.Buffer

	parsed, err := NewRuleSet([]string{"EXIST=ONLY_SRC,EXIST=ONLY_DEST:only.txt", "EXIST=COMMON:common.lst"})
	require.NoError(t, err)

	err = comm.Run(context.Background(), 2, func(ctx context.Context, c comm.Comm) error {
		rs := parsed.Clone()

		srcEntries := map[string][domain.NumFields]domain.State{}
		dstEntries := map[string][domain.NumFields]domain.State{}
		if c.Rank() == 0 {
			srcEntries["/a"] = states(map[domain.Field]domain.State{domain.FieldExist: domain.StateOnlySrc})
			srcEntries["/c"] = states(map[domain.Field]domain.State{domain.FieldExist: domain.StateCommon})
			dstEntries["/c"] = states(map[domain.Field]domain.State{domain.FieldExist: domain.StateCommon})
		} else {
			dstEntries["/b"] = states(nil)
		}
		src, srcStore := fixture("/src", srcEntries)
		dst, dstStore := fixture("/dst", dstEntries)

		matched := rs.Collect(src, srcStore, dst, dstStore)
		if err := rs.Reduce(ctx, c); err != nil {
			return err
		}
		opts := ReportOptions{Fs: fs}
		if c.Rank() == 0 {
			opts.Summary = &summary
		}
		return Report(ctx, c, matched, opts)
	})
	require.NoError(t, err)

	assert.Equal(t,
		"Files which exist only in source directory: [1/0], or\n"+
			"            exist only in destination directory: [0/1], total number: 1/1, dumped to \"only.txt\"\n"+
			"Files which exist in both directories: [1/1], dumped to \"common.lst\"\n",
		summary.String())

	text, err := afero.ReadFile(fs, "only.txt")
	require.NoError(t, err)
	assert.Contains(t, string(text), "/src/a")
	assert.Contains(t, string(text), "/dst/b")

	recs, err := listio.ReadFile(fs, "common.lst")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "/src/c", recs[0].Path)
	assert.Equal(t, "/dst/c", recs[1].Path)
}
