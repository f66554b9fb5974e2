package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/gobwas/glob"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/Ning0612/dsync/internal/config"
	"github.com/Ning0612/dsync/internal/domain"
	"github.com/Ning0612/dsync/internal/logger"
	"github.com/Ning0612/dsync/internal/progress"
	"github.com/Ning0612/dsync/internal/service"
)

const longHelp = `Compare a source and a target tree and synchronize the target.

Each --output takes a disjunction of conjunctions of FIELD=STATE
expressions, optionally followed by ":file" to dump the matching entries.
Conjunctions are separated by ",", expressions by "@". A file name ending
in .txt is written as text, anything else as a list cache.

Fields: EXIST TYPE SIZE UID GID ATIME MTIME CTIME PERM ACL CONTENT
States: COMMON DIFFER ONLY_SRC ONLY_DEST (ONLY_* for EXIST only)

Without --output a default set of summaries is printed.`

type rootFlags struct {
	dryRun     bool
	contents   bool
	noDelete   bool
	debug      bool
	verbose    bool
	outputs    []string
	configPath string
}

// execute runs the command line and returns the process exit code
func execute(args []string, stdout, stderr io.Writer) int {
	cmd := newRootCommand(stdout)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.Execute()
	if err == nil {
		return 0
	}
	fmt.Fprintf(stderr, "dsync: %v\n", err)
	if isUsageError(err) {
		fmt.Fprint(stderr, cmd.UsageString())
	}
	return 1
}

func newRootCommand(stdout io.Writer) *cobra.Command {
	var flags rootFlags

	cmd := &cobra.Command{
		Use:   "dsync [options] source target",
		Short: "Parallel compare and sync of two directory trees",
		Long:  longHelp,
		Args: func(_ *cobra.Command, args []string) error {
			if len(args) != 2 {
				return fmt.Errorf("%w: expected source and target, got %d path(s)", domain.ErrUsage, len(args))
			}
			return nil
		},
		// errors and usage are printed by execute so a usage error prints
		// the usage text exactly once and a fatal error prints none
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			return checkConfigFlags(cmd.Flags())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, flags, args[0], args[1], stdout)
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return fmt.Errorf("%w: %v", domain.ErrUsage, err)
	})

	defaults := config.Default()
	f := cmd.Flags()
	f.SortFlags = false
	f.BoolVar(&flags.dryRun, "dryrun", false, "compare only, do not modify the target")
	f.BoolVarP(&flags.contents, "contents", "c", false, "compare file contents instead of size and mtime")
	f.BoolVarP(&flags.noDelete, "no-delete", "N", false, "keep entries that exist only in the target")
	f.StringArrayVarP(&flags.outputs, "output", "o", nil, "`disjunction[:file]` to summarize and optionally dump (repeatable)")
	f.BoolVarP(&flags.debug, "debug", "d", false, "debug logging and comparison state checks")
	f.BoolVarP(&flags.verbose, "verbose", "v", false, "info logging and comparison statistics")
	f.StringVar(&flags.configPath, "config", "", "config file (default: search ., $XDG_CONFIG_HOME/dsync, ~/.dsync)")
	f.Int("workers", defaults.Workers, "number of parallel workers")
	f.Int64("chunk-size", defaults.ChunkSize, "content comparison chunk size in bytes")
	f.StringArray("exclude", nil, "glob pattern, relative to each root, to skip (repeatable)")
	return cmd
}

func run(cmd *cobra.Command, flags rootFlags, source, target string, stdout io.Writer) error {
	cfg, err := config.Load(flags.configPath, cmd.Flags())
	if err != nil {
		return err
	}
	switch {
	case flags.debug:
		cfg.Log.Level = logger.LevelDebug.String()
	case flags.verbose && logger.ParseLevel(cfg.Log.Level) > logger.LevelInfo:
		cfg.Log.Level = logger.LevelInfo.String()
	}

	if err := logger.Init(cfg.LoggerConfig()); err != nil {
		return err
	}
	defer logger.Shutdown()
	log := logger.With("component", "cli")

	svc, err := service.NewSyncService(service.Options{
		Source:      source,
		Destination: target,
		DryRun:      flags.dryRun,
		Contents:    flags.contents,
		Delete:      !flags.noDelete,
		Debug:       flags.debug,
		Verbose:     flags.verbose,
		Outputs:     flags.outputs,
		Config:      cfg,
		Stdout:      stdout,
		Reporter:    progress.NewLogReporter(log),
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, err := svc.Run(ctx)
	if err != nil {
		return err
	}
	log.Info("finished",
		"run_id", report.RunID,
		"compared", report.Compare.Files,
		"copied", report.Sync.Copied,
		"deleted", report.Sync.Deleted,
	)
	return nil
}

// checkConfigFlags rejects config overrides given on the command line that
// would only fail later, so they are reported as usage errors.
func checkConfigFlags(f *pflag.FlagSet) error {
	if f.Changed("workers") {
		if n, _ := f.GetInt("workers"); n < 1 {
			return fmt.Errorf("%w: --workers must be at least 1, got %d", domain.ErrUsage, n)
		}
	}
	if f.Changed("chunk-size") {
		if n, _ := f.GetInt64("chunk-size"); n <= 0 {
			return fmt.Errorf("%w: --chunk-size must be positive, got %d", domain.ErrUsage, n)
		}
	}
	patterns, _ := f.GetStringArray("exclude")
	for _, p := range patterns {
		if p == "" {
			return fmt.Errorf("%w: empty --exclude pattern", domain.ErrUsage)
		}
		if _, err := glob.Compile(p, '/'); err != nil {
			return fmt.Errorf("%w: --exclude %q: %v", domain.ErrUsage, p, err)
		}
	}
	return nil
}

func isUsageError(err error) bool {
	return errors.Is(err, domain.ErrUsage) || errors.Is(err, domain.ErrInvalidRule)
}
