package flist

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
	"github.com/karrick/godirwalk"

	"github.com/Ning0612/dsync/internal/comm"
	"github.com/Ning0612/dsync/internal/domain"
	"github.com/Ning0612/dsync/internal/logger"
)

// WalkOptions controls Walk.
type WalkOptions struct {
	// CollectStat captures ownership, times and ACLs; without it only path,
	// type, mode and size are recorded.
	CollectStat bool

	// Exclude holds glob patterns matched against the path relative to its
	// walk root. Excluded directories are not descended.
	Exclude []string
}

// Walk traverses paths on rank 0 and spreads the records over all ranks.
// Entries that cannot be stat'ed are logged and skipped. A root that does not
// exist is an error.
func Walk(ctx context.Context, c comm.Comm, paths []string, opts WalkOptions) (*List, error) {
	local := New()

	var walkErr error
	if c.Rank() == 0 {
		walkErr = walkLocal(ctx, local, paths, opts)
	}

	if err := comm.ShareError(ctx, c, 0, walkErr); err != nil {
		return nil, err
	}

	return Spread(ctx, c, local)
}

func walkLocal(ctx context.Context, out *List, paths []string, opts WalkOptions) error {
	log := logger.With("component", "walk")

	matchers := make([]glob.Glob, 0, len(opts.Exclude))
	for _, p := range opts.Exclude {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return fmt.Errorf("%w: exclude pattern %q: %v", domain.ErrUsage, p, err)
		}
		matchers = append(matchers, g)
	}

	for _, root := range paths {
		root = filepath.Clean(root)
		info, err := os.Lstat(root)
		if err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("%w: %s", domain.ErrNotFound, root)
			}
			return fmt.Errorf("stat %s: %w", root, err)
		}
		if !info.IsDir() {
			rec, err := statRecord(root, opts.CollectStat)
			if err != nil {
				return err
			}
			out.Append(rec)
			continue
		}

		err = godirwalk.Walk(root, &godirwalk.Options{
			Unsorted: true,
			Callback: func(path string, de *godirwalk.Dirent) error {
				if err := ctx.Err(); err != nil {
					return err
				}
				if path != root && excluded(matchers, domain.RelPath(path, root)) {
					if de.IsDir() {
						return filepath.SkipDir
					}
					return nil
				}
				rec, err := statRecord(path, opts.CollectStat)
				if err != nil {
					log.Warn("skipping entry", "path", path, "error", err)
					return nil
				}
				out.Append(rec)
				return nil
			},
			ErrorCallback: func(path string, err error) godirwalk.ErrorAction {
				log.Warn("walk error", "path", path, "error", err)
				return godirwalk.SkipNode
			},
		})
		if err != nil {
			return fmt.Errorf("walk %s: %w", root, err)
		}
	}

	log.Info("walk complete", "entries", out.Size())
	return nil
}

func excluded(matchers []glob.Glob, rel string) bool {
	rel = strings.TrimPrefix(rel, "/")
	if rel == "" {
		return false
	}
	for _, m := range matchers {
		if m.Match(rel) {
			return true
		}
	}
	return false
}
