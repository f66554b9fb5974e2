package fileops

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ning0612/dsync/internal/comm"
	"github.com/Ning0612/dsync/internal/core/compare"
	"github.com/Ning0612/dsync/internal/domain"
	"github.com/Ning0612/dsync/internal/flist"
	"github.com/Ning0612/dsync/internal/testutil"
)

func walk(ctx context.Context, c comm.Comm, root string) (*flist.List, error) {
	return flist.Walk(ctx, c, []string{root}, flist.WalkOptions{CollectStat: true})
}

func TestCopyList(t *testing.T) {
	src := filepath.Join(t.TempDir(), "src")
	dst := filepath.Join(t.TempDir(), "dst")
	tree := testutil.Tree{
		"a":         "hello",
		"empty":     "",
		"d/":        "",
		"d/e/":      "",
		"d/e/f.txt": "deep",
		"link":      "->a",
	}
	testutil.WriteTree(t, src, tree)
	old := time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)
	testutil.SetMtime(t, filepath.Join(src, "d", "e", "f.txt"), old)
	require.NoError(t, os.Chmod(filepath.Join(src, "a"), 0o640))
	require.NoError(t, os.MkdirAll(dst, 0o755))

	for _, size := range []int{1, 3} {
		require.NoError(t, os.RemoveAll(dst))
		require.NoError(t, os.MkdirAll(dst, 0o755))

		var copied int64
		err := comm.Run(context.Background(), size, func(ctx context.Context, c comm.Comm) error {
			list, err := walk(ctx, c, src)
			if err != nil {
				return err
			}
			ex := New(c, Options{SrcRoot: src, DstRoot: dst, Preserve: true})
			if err := ex.CopyList(ctx, list); err != nil {
				return err
			}
			sums, err := comm.AllreduceSum(ctx, c, ex.Stats().BytesCopied)
			if err != nil {
				return err
			}
			copied = sums[0]
			return nil
		})
		require.NoError(t, err, "ranks=%d", size)

		assert.Equal(t, tree, testutil.ReadTree(t, dst), "ranks=%d", size)
		assert.Equal(t, int64(len("hello")+len("deep")), copied)

		info, err := os.Stat(filepath.Join(dst, "d", "e", "f.txt"))
		require.NoError(t, err)
		assert.True(t, info.ModTime().Equal(old))

		info, err = os.Stat(filepath.Join(dst, "a"))
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o640), info.Mode().Perm())

		// no temporary files are left behind
		entries, err := os.ReadDir(dst)
		require.NoError(t, err)
		for _, e := range entries {
			assert.NotContains(t, e.Name(), ".dsync-")
		}
	}
}

func TestUnlinkList(t *testing.T) {
	root := t.TempDir()
	testutil.WriteTree(t, root, testutil.Tree{
		"keep":        "k",
		"gone":        "g",
		"old/":        "",
		"old/deep/":   "",
		"old/deep/x":  "x",
		"old/deep/y":  "y",
		"mixed/":      "",
		"mixed/extra": "untracked",
	})

	err := comm.Run(context.Background(), 2, func(ctx context.Context, c comm.Comm) error {
		all, err := walk(ctx, c, root)
		if err != nil {
			return err
		}
		victims := all.Subset()
		for _, rec := range all.Records() {
			rel := domain.RelPath(rec.Path, root)
			switch rel {
			case "", "/keep", "/mixed/extra":
				continue
			}
			victims.Append(rec)
		}
		return New(c, Options{DstRoot: root}).UnlinkList(ctx, victims)
	})
	require.NoError(t, err)

	assert.Equal(t, testutil.Tree{"keep": "k"}, testutil.ReadTree(t, root))
}

func TestUnlinkListMissingIsIgnored(t *testing.T) {
	root := t.TempDir()
	err := comm.Run(context.Background(), 1, func(ctx context.Context, c comm.Comm) error {
		list := flist.FromRecords([]domain.FileRecord{
			{Path: filepath.Join(root, "nope"), Type: domain.FileTypeRegular},
			{Path: filepath.Join(root, "nodir"), Type: domain.FileTypeDirectory},
		})
		return New(c, Options{DstRoot: root}).UnlinkList(ctx, list)
	})
	assert.NoError(t, err)
}

func TestCopyListFailureAbortsJob(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()

	err := comm.Run(context.Background(), 2, func(ctx context.Context, c comm.Comm) error {
		list := flist.New()
		if c.Rank() == 1 {
			list.Append(domain.FileRecord{Path: filepath.Join(src, "vanished"), Type: domain.FileTypeRegular})
		}
		return New(c, Options{SrcRoot: src, DstRoot: dst}).CopyList(ctx, list)
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrSyncFailed)
	assert.NotErrorIs(t, err, domain.ErrAborted)
}

func TestSyncMeta(t *testing.T) {
	src := filepath.Join(t.TempDir(), "src")
	dst := filepath.Join(t.TempDir(), "dst")
	testutil.WriteTree(t, src, testutil.Tree{"f": "same"})
	testutil.WriteTree(t, dst, testutil.Tree{"f": "same"})

	mtime := time.Date(2021, 6, 7, 8, 9, 10, 123456789, time.UTC)
	require.NoError(t, os.Chmod(filepath.Join(src, "f"), 0o600))
	testutil.SetMtime(t, filepath.Join(src, "f"), mtime)

	err := comm.Run(context.Background(), 1, func(ctx context.Context, c comm.Comm) error {
		s, err := walk(ctx, c, filepath.Join(src, "f"))
		if err != nil {
			return err
		}
		d, err := walk(ctx, c, filepath.Join(dst, "f"))
		if err != nil {
			return err
		}
		ex := New(c, Options{SrcRoot: src, DstRoot: dst})
		if err := ex.SyncMeta(ctx, s, d, []compare.Pair{{Src: 0, Dst: 0}}); err != nil {
			return err
		}
		assert.Equal(t, int64(1), ex.Stats().Refreshed)
		return nil
	})
	require.NoError(t, err)

	info, err := os.Stat(filepath.Join(dst, "f"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	assert.True(t, info.ModTime().Equal(mtime))
}
