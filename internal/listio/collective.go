package listio

import (
	"context"

	"github.com/spf13/afero"

	"github.com/Ning0612/dsync/internal/comm"
	"github.com/Ning0612/dsync/internal/domain"
	"github.com/Ning0612/dsync/internal/flist"
)

const root = 0

// Write gathers list on rank 0, which writes the binary cache to path. Every
// rank returns the same outcome.
func Write(ctx context.Context, c comm.Comm, fs afero.Fs, path string, list *flist.List, opts Options) error {
	all, err := gatherRecords(ctx, c, list)
	if err != nil {
		return err
	}
	var werr error
	if c.Rank() == root {
		werr = WriteFile(fs, path, all, opts)
	}
	return comm.ShareError(ctx, c, root, werr)
}

// WriteText is the collective form of WriteTextFile.
func WriteText(ctx context.Context, c comm.Comm, fs afero.Fs, path string, list *flist.List) error {
	all, err := gatherRecords(ctx, c, list)
	if err != nil {
		return err
	}
	var werr error
	if c.Rank() == root {
		werr = WriteTextFile(fs, path, all)
	}
	return comm.ShareError(ctx, c, root, werr)
}

// Read loads a cache on rank 0 and deals the records out in even blocks.
func Read(ctx context.Context, c comm.Comm, fs afero.Fs, path string) (*flist.List, error) {
	var parts [][]domain.FileRecord
	var rerr error
	if c.Rank() == root {
		var records []domain.FileRecord
		records, rerr = ReadFile(fs, path)
		parts = split(records, c.Size())
	}
	if err := comm.ShareError(ctx, c, root, rerr); err != nil {
		return nil, err
	}

	mine, err := comm.Scatter(ctx, c, root, parts)
	if err != nil {
		return nil, err
	}
	return flist.FromRecords(mine), nil
}

func gatherRecords(ctx context.Context, c comm.Comm, list *flist.List) ([]domain.FileRecord, error) {
	parts, err := comm.Gather(ctx, c, root, list.Records())
	if err != nil {
		return nil, err
	}
	var all []domain.FileRecord
	for _, p := range parts {
		all = append(all, p...)
	}
	return all, nil
}

func split(records []domain.FileRecord, n int) [][]domain.FileRecord {
	parts := make([][]domain.FileRecord, n)
	per, extra := len(records)/n, len(records)%n
	start := 0
	for i := range parts {
		end := start + per
		if i < extra {
			end++
		}
		parts[i] = records[start:end]
		start = end
	}
	return parts
}
