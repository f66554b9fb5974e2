//go:build linux

package fileops

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/Ning0612/dsync/internal/domain"
)

const (
	xattrACLAccess  = "system.posix_acl_access"
	xattrACLDefault = "system.posix_acl_default"
)

// applyAttrs copies ownership, mode, ACLs and times from rec onto path.
// Ownership goes first since chown clears setuid and setgid bits; times go
// last since the other calls touch ctime only.
func applyAttrs(rec domain.FileRecord, path string) error {
	var errs []error

	if err := unix.Lchown(path, int(rec.UID), int(rec.GID)); err != nil {
		errs = append(errs, fmt.Errorf("chown: %w", err))
	}

	if rec.Type != domain.FileTypeSymlink {
		if err := unix.Fchmodat(unix.AT_FDCWD, path, rec.Perm(), 0); err != nil {
			errs = append(errs, fmt.Errorf("chmod: %w", err))
		}
		if err := setXattr(path, xattrACLAccess, rec.AccessACL); err != nil {
			errs = append(errs, fmt.Errorf("access acl: %w", err))
		}
		if rec.IsDir() {
			if err := setXattr(path, xattrACLDefault, rec.DefaultACL); err != nil {
				errs = append(errs, fmt.Errorf("default acl: %w", err))
			}
		}
	}

	ts := []unix.Timespec{
		{Sec: rec.Atime.Sec, Nsec: rec.Atime.Nsec},
		{Sec: rec.Mtime.Sec, Nsec: rec.Mtime.Nsec},
	}
	if err := unix.UtimesNanoAt(unix.AT_FDCWD, path, ts, unix.AT_SYMLINK_NOFOLLOW); err != nil {
		errs = append(errs, fmt.Errorf("utimes: %w", err))
	}
	return errors.Join(errs...)
}

// setXattr writes value, or removes the attribute when value is empty.
func setXattr(path, name string, value []byte) error {
	if len(value) == 0 {
		err := unix.Lremovexattr(path, name)
		if err == nil || errors.Is(err, unix.ENODATA) || errors.Is(err, unix.ENOTSUP) {
			return nil
		}
		return err
	}
	return unix.Lsetxattr(path, name, value, 0)
}
