package rule

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/afero"

	"github.com/Ning0612/dsync/internal/comm"
	"github.com/Ning0612/dsync/internal/flist"
	"github.com/Ning0612/dsync/internal/listio"
)

// Reduce sums the per-conjunction counters and totals over all ranks so that
// every rank holds the global numbers.
func (rs *RuleSet) Reduce(ctx context.Context, c comm.Comm) error {
	var local []int64
	for _, out := range rs.Outputs {
		for _, conj := range out.Disjunction.Conjunctions {
			local = append(local, conj.SrcMatched, conj.DstMatched)
		}
		local = append(local, out.SrcTotal, out.DstTotal)
	}
	if len(local) == 0 {
		return nil
	}

	global, err := comm.AllreduceSum(ctx, c, local...)
	if err != nil {
		return err
	}
	i := 0
	for _, out := range rs.Outputs {
		for _, conj := range out.Disjunction.Conjunctions {
			conj.SrcMatched, conj.DstMatched = global[i], global[i+1]
			i += 2
		}
		out.SrcTotal, out.DstTotal = global[i], global[i+1]
		i += 2
	}
	return nil
}

// ReportOptions controls where output dumps and the summary go.
type ReportOptions struct {
	Fs    afero.Fs
	Cache listio.Options
	// Summary receives the report on rank 0; nil disables it
	Summary io.Writer
}

// Report dumps each output that names a file and prints the summary lines on
// rank 0. Counters must already be reduced.
func Report(ctx context.Context, c comm.Comm, matched []Matched, opts ReportOptions) error {
	for _, m := range matched {
		if m.Output.FileName == "" {
			continue
		}
		if err := dump(ctx, c, opts, m); err != nil {
			return fmt.Errorf("write %s: %w", m.Output.FileName, err)
		}
	}

	if c.Rank() != 0 || opts.Summary == nil {
		return nil
	}
	for _, m := range matched {
		if _, err := fmt.Fprintln(opts.Summary, m.Output.Summary()); err != nil {
			return err
		}
	}
	return nil
}

func dump(ctx context.Context, c comm.Comm, opts ReportOptions, m Matched) error {
	combined := m.Src.Subset()
	for _, rec := range m.Src.Records() {
		combined.Append(rec)
	}
	for _, rec := range m.Dst.Records() {
		combined.Append(rec)
	}
	return writeList(ctx, c, opts, m.Output.FileName, combined)
}

func writeList(ctx context.Context, c comm.Comm, opts ReportOptions, name string, list *flist.List) error {
	if strings.HasSuffix(name, ".txt") {
		return listio.WriteText(ctx, c, opts.Fs, name, list)
	}
	return listio.Write(ctx, c, opts.Fs, name, list, opts.Cache)
}
