// Package service runs one dsync job end to end: walk both trees, compare,
// classify, report and, unless dry-running, sync the destination.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/Ning0612/dsync/internal/comm"
	"github.com/Ning0612/dsync/internal/config"
	"github.com/Ning0612/dsync/internal/core/compare"
	"github.com/Ning0612/dsync/internal/core/planner"
	"github.com/Ning0612/dsync/internal/core/rule"
	"github.com/Ning0612/dsync/internal/domain"
	"github.com/Ning0612/dsync/internal/fileops"
	"github.com/Ning0612/dsync/internal/flist"
	"github.com/Ning0612/dsync/internal/listio"
	"github.com/Ning0612/dsync/internal/lock"
	"github.com/Ning0612/dsync/internal/logger"
	"github.com/Ning0612/dsync/internal/progress"
	"github.com/Ning0612/dsync/internal/state"
)

// Options describes one job
type Options struct {
	Source      string
	Destination string

	DryRun   bool
	Contents bool
	Delete   bool
	Debug    bool
	Verbose  bool

	// Outputs are "disjunction[:file]" specs; empty selects the defaults
	Outputs []string

	Config *config.Config

	// Stdout receives the summary and statistics; nil discards them
	Stdout io.Writer
	// Fs receives output dumps; nil means the OS filesystem
	Fs       afero.Fs
	Reporter progress.Reporter
}

// Report is the outcome of a finished job
type Report struct {
	RunID   string
	Compare compare.Stats
	Plan    planner.PlanStats
	Sync    domain.SyncStats
	// Outputs carry the global counts of every output, in request order
	Outputs []*rule.Output
}

// SyncService orchestrates a job
type SyncService struct {
	opts Options
	// rules is the parsed template; each rank counts into its own clone
	rules *rule.RuleSet
	need  domain.FieldSet
	log   logger.Logger
}

// NewSyncService validates options and parses the output rules. Everything
// that is a usage error fails here, before any rank starts.
func NewSyncService(opts Options) (*SyncService, error) {
	if opts.Source == "" || opts.Destination == "" {
		return nil, fmt.Errorf("%w: source and destination are required", domain.ErrUsage)
	}
	if opts.Config == nil {
		opts.Config = config.Default()
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}
	if opts.Stdout == nil {
		opts.Stdout = io.Discard
	}
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.Reporter == nil {
		opts.Reporter = progress.NullReporter{}
	}

	var err error
	if opts.Source, err = filepath.Abs(opts.Source); err != nil {
		return nil, err
	}
	if opts.Destination, err = filepath.Abs(opts.Destination); err != nil {
		return nil, err
	}

	rules, err := rule.NewRuleSet(opts.Outputs)
	if err != nil {
		return nil, err
	}

	need := rules.Need
	if !opts.DryRun {
		// a real sync must settle content to converge
		need.Add(domain.FieldContent)
	}

	return &SyncService{
		opts:  opts,
		rules: rules,
		need:  need,
		log:   logger.With("component", "service"),
	}, nil
}

// Need returns the fields this job compares
func (s *SyncService) Need() domain.FieldSet {
	return s.need
}

// Run executes the job once
func (s *SyncService) Run(ctx context.Context) (*Report, error) {
	report := &Report{RunID: uuid.NewString()}
	started := time.Now()
	log := s.log.With("run_id", report.RunID)

	dstExists, err := s.prepare()
	if err != nil {
		return nil, err
	}

	if !s.opts.DryRun {
		fileLock, err := lock.NewFileLock(s.opts.Config.StateDir, s.opts.Destination)
		if err != nil {
			return nil, err
		}
		if err := fileLock.Acquire(report.RunID); err != nil {
			if !lock.IsLockError(err) {
				return nil, err
			}
			if holder, herr := fileLock.GetHolder(); herr == nil {
				log.Warn("destination is locked",
					"holder_run_id", holder.RunID,
					"holder_pid", holder.PID,
					"holder_host", holder.Hostname,
					"since", holder.StartTime,
				)
			}
			return nil, err
		}
		defer func() {
			if err := fileLock.Release(); err != nil {
				log.Error("failed to release destination lock", "error", err)
			}
		}()
	}

	s.logLastSuccess(log)
	log.Info("starting",
		"source", s.opts.Source,
		"destination", s.opts.Destination,
		"workers", s.opts.Config.Workers,
		"fields", s.need.String(),
		"dry_run", s.opts.DryRun,
	)

	err = comm.Run(ctx, s.opts.Config.Workers, func(ctx context.Context, c comm.Comm) error {
		return s.runRank(ctx, c, dstExists, report)
	})
	if err != nil {
		s.opts.Reporter.Error(err)
	}

	s.recordHistory(log, report, started, err)
	if err != nil {
		return nil, err
	}
	return report, nil
}

// prepare checks both roots. A missing destination is created unless this is
// a dry run, where it is treated as empty.
func (s *SyncService) prepare() (dstExists bool, err error) {
	info, err := os.Stat(s.opts.Source)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, fmt.Errorf("%w: source %s", domain.ErrNotFound, s.opts.Source)
		}
		return false, err
	}
	if !info.IsDir() {
		return false, fmt.Errorf("%w: source %s", domain.ErrNotDirectory, s.opts.Source)
	}

	info, err = os.Stat(s.opts.Destination)
	switch {
	case err == nil:
		if !info.IsDir() {
			return false, fmt.Errorf("%w: destination %s", domain.ErrNotDirectory, s.opts.Destination)
		}
		return true, nil
	case !errors.Is(err, os.ErrNotExist):
		return false, err
	case s.opts.DryRun:
		return false, nil
	}

	if err := os.MkdirAll(s.opts.Destination, 0755); err != nil {
		return false, fmt.Errorf("create destination: %w", err)
	}
	return true, nil
}

func (s *SyncService) runRank(ctx context.Context, c comm.Comm, dstExists bool, report *Report) error {
	log := s.log.With("rank", c.Rank())
	cfg := s.opts.Config

	walk := func(root string) (*flist.List, error) {
		list, err := flist.Walk(ctx, c, []string{root}, flist.WalkOptions{
			CollectStat: true,
			Exclude:     cfg.Exclude,
		})
		if err != nil {
			return nil, err
		}
		return flist.Remap(ctx, c, list, flist.PathKeyFunc(root, c.Size()))
	}

	src, err := walk(s.opts.Source)
	if err != nil {
		return fmt.Errorf("walk source: %w", err)
	}
	dst := flist.New()
	if dstExists {
		if dst, err = walk(s.opts.Destination); err != nil {
			return fmt.Errorf("walk destination: %w", err)
		}
	}
	if err := logTreeSize(ctx, c, log, "source", src); err != nil {
		return err
	}
	if err := logTreeSize(ctx, c, log, "destination", dst); err != nil {
		return err
	}

	srcStore := compare.NewStore(src, s.opts.Source)
	dstStore := compare.NewStore(dst, s.opts.Destination)

	cmp := compare.NewComparator(c, compare.Options{
		Need:       s.need,
		Contents:   s.opts.Contents,
		DryRun:     s.opts.DryRun,
		ChunkSize:  cfg.ChunkSize,
		BufferSize: cfg.BufferSize,
	})
	res, err := cmp.Compare(ctx, src, srcStore, dst, dstStore)
	if err != nil {
		return err
	}

	if s.opts.Debug {
		if err := compare.Check(srcStore, dstStore, s.need); err != nil {
			log.Error("consistency check failed", "error", err)
			return err
		}
		log.Debug("consistency check passed", "entries", srcStore.Len()+dstStore.Len())
	}

	// classify before syncing so outputs reflect the trees as compared
	rules := s.rules.Clone()
	matched := rules.Collect(src, srcStore, dst, dstStore)

	if !s.opts.DryRun {
		if err := s.sync(ctx, c, src, dst, dstStore, res, report); err != nil {
			return err
		}
	}

	if err := rules.Reduce(ctx, c); err != nil {
		return err
	}
	reportOpts := rule.ReportOptions{
		Fs:    s.opts.Fs,
		Cache: listio.Options{Compress: cfg.Cache.Compress},
	}
	if c.Rank() == 0 {
		reportOpts.Summary = s.opts.Stdout
	}
	if err := rule.Report(ctx, c, matched, reportOpts); err != nil {
		return err
	}

	stats, err := res.Stats.Reduce(ctx, c)
	if err != nil {
		return err
	}
	if c.Rank() == 0 {
		report.Outputs = rules.Outputs
		report.Compare = stats
		if s.opts.Verbose {
			stats.Report(s.opts.Stdout)
		}
	}
	return nil
}

// logTreeSize logs the global entry and byte count of one walked tree.
// Collective.
func logTreeSize(ctx context.Context, c comm.Comm, log logger.Logger, side string, list *flist.List) error {
	n, err := list.GlobalSize(ctx, c)
	if err != nil {
		return err
	}
	bytes, err := list.GlobalBytes(ctx, c)
	if err != nil {
		return err
	}
	if c.Rank() == 0 {
		log.Info("walked", "side", side, "entries", n, "bytes", humanize.IBytes(uint64(bytes)))
	}
	return nil
}

// sync runs the executor phases in order. Each phase is collective.
func (s *SyncService) sync(ctx context.Context, c comm.Comm, src, dst *flist.List, dstStore *compare.Store,
	res *compare.Result, report *Report) error {
	plan := planner.Build(src, dst, dstStore, res, planner.Options{Delete: s.opts.Delete})
	total, err := plan.Stats.Reduce(ctx, c)
	if err != nil {
		return err
	}

	ex := fileops.New(c, fileops.Options{
		SrcRoot:    s.opts.Source,
		DstRoot:    s.opts.Destination,
		Preserve:   true,
		BufferSize: s.opts.Config.BufferSize,
	})
	rep := s.opts.Reporter

	rep.Phase(domain.PhaseDelete, total.ToDelete)
	if err := ex.UnlinkList(ctx, plan.Delete); err != nil {
		return err
	}
	rep.Phase(domain.PhaseCopy, total.ToCopy)
	if err := ex.CopyList(ctx, plan.Copy); err != nil {
		return err
	}
	rep.Phase(domain.PhaseRefresh, total.ToRefresh)
	if err := ex.SyncMeta(ctx, src, dst, plan.Refresh); err != nil {
		return err
	}

	local := ex.Stats()
	sums, err := comm.AllreduceSum(ctx, c, local.Deleted, local.Copied, local.Refreshed, local.BytesCopied)
	if err != nil {
		return err
	}
	if c.Rank() == 0 {
		report.Plan = total
		report.Sync = domain.SyncStats{
			Deleted:     sums[0],
			Copied:      sums[1],
			Refreshed:   sums[2],
			BytesCopied: sums[3],
		}
		rep.Done(report.Sync)
	}
	return nil
}

// logLastSuccess reports when the destination was last synced successfully.
func (s *SyncService) logLastSuccess(log logger.Logger) {
	if s.opts.Config.StateDir == "" {
		return
	}
	mgr, err := state.NewManager(s.opts.Config.StateDir)
	if err != nil {
		log.Warn("run history unavailable", "error", err)
		return
	}
	defer mgr.Close()

	last, err := mgr.GetLastSuccess(s.opts.Destination)
	switch {
	case err != nil:
		log.Warn("failed to read run history", "error", err)
	case last == nil:
		log.Info("no previous successful sync", "destination", s.opts.Destination)
	default:
		log.Info("previous successful sync", "run_id", last.RunID, "ended", last.EndTime, "copied", last.Copied)
	}
}

// recordHistory appends the run to the history database when a state
// directory is configured. Failures are logged only.
func (s *SyncService) recordHistory(log logger.Logger, report *Report, started time.Time, runErr error) {
	dir := s.opts.Config.StateDir
	if dir == "" {
		return
	}
	mgr, err := state.NewManager(dir)
	if err != nil {
		log.Warn("run history unavailable", "error", err)
		return
	}
	defer mgr.Close()

	record := state.RunRecord{
		RunID:       report.RunID,
		Source:      s.opts.Source,
		Destination: s.opts.Destination,
		StartTime:   started,
		EndTime:     time.Now(),
		Status:      state.StatusSuccess,
		Compared:    report.Compare.Files,
		Deleted:     report.Sync.Deleted,
		Copied:      report.Sync.Copied,
		Refreshed:   report.Sync.Refreshed,
		BytesCopied: report.Sync.BytesCopied,
	}
	switch {
	case runErr != nil:
		record.Status = state.StatusFailed
		record.Error = runErr.Error()
	case s.opts.DryRun:
		record.Status = state.StatusDryRun
	}
	if err := mgr.SaveRun(record); err != nil {
		log.Warn("failed to record run", "error", err)
	}
}
