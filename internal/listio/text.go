package listio

import (
	"bufio"
	"fmt"
	"io"
	"time"

	"github.com/spf13/afero"

	"github.com/Ning0612/dsync/internal/domain"
)

// EncodeText writes one line per record:
//
//	<type> <perm> <uid> <gid> <size> <mtime RFC3339> <path>
func EncodeText(w io.Writer, records []domain.FileRecord) error {
	bw := bufio.NewWriter(w)
	for _, r := range records {
		mtime := time.Unix(r.Mtime.Sec, r.Mtime.Nsec).UTC().Format(time.RFC3339)
		if _, err := fmt.Fprintf(bw, "%s %04o %d %d %d %s %s\n",
			r.Type, r.Perm(), r.UID, r.GID, r.Size, mtime, r.Path); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// WriteTextFile writes the text form of records to path on fs.
func WriteTextFile(fs afero.Fs, path string, records []domain.FileRecord) error {
	f, err := fs.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := EncodeText(f, records); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
