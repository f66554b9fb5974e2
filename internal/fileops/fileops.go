// Package fileops holds the collective mutation primitives of the sync
// executor: unlinking destination entries, copying source entries with their
// attributes, and refreshing metadata of shared paths.
//
// Every function here is collective. All ranks must call it, in the same
// order, even with empty local lists.
package fileops

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/Ning0612/dsync/internal/comm"
	"github.com/Ning0612/dsync/internal/core/compare"
	"github.com/Ning0612/dsync/internal/domain"
	"github.com/Ning0612/dsync/internal/flist"
	"github.com/Ning0612/dsync/internal/logger"
)

const defaultBufferSize = 1 << 20

// Options configures an Executor
type Options struct {
	SrcRoot string
	DstRoot string

	// Preserve copies ownership, permissions, ACLs and timestamps
	Preserve bool

	BufferSize int
}

// Executor applies sync work for one rank
type Executor struct {
	c    comm.Comm
	opts Options
	log  logger.Logger
	bufs sync.Pool

	stats domain.SyncStats
}

// New creates an executor for rank c
func New(c comm.Comm, opts Options) *Executor {
	if opts.BufferSize <= 0 {
		opts.BufferSize = defaultBufferSize
	}
	e := &Executor{
		c:    c,
		opts: opts,
		log:  logger.With("component", "fileops", "rank", c.Rank()),
	}
	e.bufs.New = func() any {
		b := make([]byte, e.opts.BufferSize)
		return &b
	}
	return e
}

// Stats returns this rank's counters
func (e *Executor) Stats() domain.SyncStats {
	return e.stats
}

// dstPath maps a source path into the destination tree
func (e *Executor) dstPath(srcPath string) string {
	rel := domain.RelPath(srcPath, e.opts.SrcRoot)
	if rel == "" {
		return e.opts.DstRoot
	}
	return filepath.Join(e.opts.DstRoot, rel)
}

// UnlinkList removes every local entry of list. Non-directories go first;
// directories are removed one depth level at a time, deepest first, with a
// barrier per level so no rank removes a parent before its peers emptied it.
// A directory still holding untracked entries is removed recursively.
func (e *Executor) UnlinkList(ctx context.Context, list *flist.List) error {
	for _, rec := range list.Records() {
		if rec.IsDir() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := os.Remove(rec.Path); err != nil && !os.IsNotExist(err) {
			return e.fail(domain.ActionDelete, rec.Path, err)
		}
		e.stats.Deleted++
	}
	if err := e.c.Barrier(ctx); err != nil {
		return err
	}

	depth, err := list.MaxDepth(ctx, e.c)
	if err != nil {
		return err
	}
	for level := depth; level >= 0; level-- {
		for _, rec := range list.Records() {
			if !rec.IsDir() || rec.Depth() != level {
				continue
			}
			if err := os.RemoveAll(rec.Path); err != nil {
				return e.fail(domain.ActionDelete, rec.Path, err)
			}
			e.stats.Deleted++
		}
		if err := e.c.Barrier(ctx); err != nil {
			return err
		}
	}
	return nil
}

// CopyList recreates every local entry of list under the destination root.
// Directories are created level by level, shallow first, before any other
// entry. Directory attributes are applied last so that creating their
// children cannot disturb them.
func (e *Executor) CopyList(ctx context.Context, list *flist.List) error {
	depth, err := list.MaxDepth(ctx, e.c)
	if err != nil {
		return err
	}
	for level := 0; level <= depth; level++ {
		for _, rec := range list.Records() {
			if !rec.IsDir() || rec.Depth() != level {
				continue
			}
			if err := os.MkdirAll(e.dstPath(rec.Path), 0o700); err != nil {
				return e.fail(domain.ActionCopy, rec.Path, err)
			}
			e.stats.Copied++
		}
		if err := e.c.Barrier(ctx); err != nil {
			return err
		}
	}

	for _, rec := range list.Records() {
		if rec.IsDir() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		copied, err := e.copyEntry(rec)
		if err != nil {
			return e.fail(domain.ActionCopy, rec.Path, err)
		}
		if !copied {
			continue
		}
		e.stats.Copied++
		if e.opts.Preserve {
			e.applyBestEffort(rec, e.dstPath(rec.Path))
		}
	}
	if err := e.c.Barrier(ctx); err != nil {
		return err
	}

	// directories with restrictive modes must be finished last, deepest first
	for level := depth; level >= 0; level-- {
		for _, rec := range list.Records() {
			if rec.IsDir() && rec.Depth() == level {
				if e.opts.Preserve {
					e.applyBestEffort(rec, e.dstPath(rec.Path))
				} else if err := os.Chmod(e.dstPath(rec.Path), 0o755); err != nil {
					e.log.Warn("chmod failed", "path", e.dstPath(rec.Path), "error", err)
				}
			}
		}
	}
	return e.c.Barrier(ctx)
}

// SyncMeta pushes source attributes onto the destination entry of every
// pair. Failures are logged and skipped.
func (e *Executor) SyncMeta(ctx context.Context, src, dst *flist.List, pairs []compare.Pair) error {
	for _, p := range pairs {
		if err := ctx.Err(); err != nil {
			return err
		}
		e.applyBestEffort(src.Get(p.Src), dst.Name(p.Dst))
		e.stats.Refreshed++
	}
	return e.c.Barrier(ctx)
}

// copyEntry writes one non-directory. It reports false for entries that
// cannot be recreated, such as devices and sockets.
func (e *Executor) copyEntry(rec domain.FileRecord) (bool, error) {
	dst := e.dstPath(rec.Path)
	switch rec.Type {
	case domain.FileTypeRegular:
		n, err := e.copyFile(rec.Path, dst)
		if err != nil {
			return false, err
		}
		e.stats.BytesCopied += n
		return true, nil

	case domain.FileTypeSymlink:
		if err := os.Remove(dst); err != nil && !os.IsNotExist(err) {
			return false, err
		}
		return true, os.Symlink(rec.LinkTarget, dst)

	default:
		e.log.Warn("skipping unsupported file type", "path", rec.Path, "type", rec.Type.String())
		return false, nil
	}
}

// copyFile writes to a temporary sibling first and renames it into place
func (e *Executor) copyFile(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	tmp := filepath.Join(filepath.Dir(dst), "."+filepath.Base(dst)+".dsync-"+uuid.NewString()[:8])
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return 0, err
	}

	bp := e.bufs.Get().(*[]byte)
	defer e.bufs.Put(bp)

	n, copyErr := io.CopyBuffer(out, in, *bp)
	closeErr := out.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		os.Remove(tmp)
		return 0, err
	}

	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return 0, err
	}
	if !e.opts.Preserve {
		if err := os.Chmod(dst, 0o644); err != nil {
			return n, err
		}
	}
	return n, nil
}

func (e *Executor) applyBestEffort(rec domain.FileRecord, path string) {
	if err := applyAttrs(rec, path); err != nil {
		e.log.Warn("failed to preserve attributes", "path", path, "error", err)
	}
}

func (e *Executor) fail(action domain.ActionType, path string, err error) error {
	e.log.Error("sync operation failed", "action", string(action), "path", path, "error", err)
	return fmt.Errorf("%w: %s %s: %w", domain.ErrSyncFailed, action, path, err)
}
