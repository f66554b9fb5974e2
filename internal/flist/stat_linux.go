//go:build linux

package flist

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/Ning0612/dsync/internal/domain"
)

const (
	xattrACLAccess  = "system.posix_acl_access"
	xattrACLDefault = "system.posix_acl_default"
)

// Stat builds the record for one path without following symlinks.
func Stat(path string) (domain.FileRecord, error) {
	return statRecord(path, true)
}

func statRecord(path string, detail bool) (domain.FileRecord, error) {
	var st unix.Stat_t
	if err := unix.Lstat(path, &st); err != nil {
		return domain.FileRecord{}, &os.PathError{Op: "lstat", Path: path, Err: err}
	}

	rec := domain.FileRecord{
		Path: path,
		Type: fileType(st.Mode),
		Mode: st.Mode,
		Size: st.Size,
	}

	if rec.Type == domain.FileTypeSymlink {
		target, err := os.Readlink(path)
		if err != nil {
			return domain.FileRecord{}, fmt.Errorf("readlink %s: %w", path, err)
		}
		rec.LinkTarget = target
	}

	if !detail {
		return rec, nil
	}

	rec.UID = st.Uid
	rec.GID = st.Gid
	rec.Atime = domain.Timespec{Sec: st.Atim.Sec, Nsec: st.Atim.Nsec}
	rec.Mtime = domain.Timespec{Sec: st.Mtim.Sec, Nsec: st.Mtim.Nsec}
	rec.Ctime = domain.Timespec{Sec: st.Ctim.Sec, Nsec: st.Ctim.Nsec}

	if rec.Type != domain.FileTypeSymlink {
		rec.AccessACL = getXattr(path, xattrACLAccess)
		if rec.Type == domain.FileTypeDirectory {
			rec.DefaultACL = getXattr(path, xattrACLDefault)
		}
	}
	return rec, nil
}

func fileType(mode uint32) domain.FileType {
	switch mode & unix.S_IFMT {
	case unix.S_IFREG:
		return domain.FileTypeRegular
	case unix.S_IFDIR:
		return domain.FileTypeDirectory
	case unix.S_IFLNK:
		return domain.FileTypeSymlink
	default:
		return domain.FileTypeOther
	}
}

// getXattr returns nil when the attribute is absent or unsupported.
func getXattr(path, name string) []byte {
	sz, err := unix.Lgetxattr(path, name, nil)
	if err != nil || sz <= 0 {
		return nil
	}
	buf := make([]byte, sz)
	sz, err = unix.Lgetxattr(path, name, buf)
	if err != nil {
		return nil
	}
	return buf[:sz]
}
