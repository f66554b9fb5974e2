package domain

import (
	"strings"
)

// FileType represents the type of a filesystem entry
type FileType int

const (
	FileTypeUnknown FileType = iota
	FileTypeRegular
	FileTypeDirectory
	FileTypeSymlink
	FileTypeOther
)

func (t FileType) String() string {
	switch t {
	case FileTypeRegular:
		return "F"
	case FileTypeDirectory:
		return "D"
	case FileTypeSymlink:
		return "L"
	case FileTypeOther:
		return "O"
	default:
		return "U"
	}
}

// Timespec is a timestamp split the way stat(2) reports it.
type Timespec struct {
	Sec  int64 `msgpack:"s"`
	Nsec int64 `msgpack:"n"`
}

// Equal compares seconds and nanoseconds.
func (t Timespec) Equal(o Timespec) bool {
	return t.Sec == o.Sec && t.Nsec == o.Nsec
}

// FileRecord is one walked entry. Records are immutable once captured.
type FileRecord struct {
	// Path is the absolute path as walked
	Path string `msgpack:"p"`

	Type FileType `msgpack:"t"`

	// Mode is the full st_mode including type bits
	Mode uint32 `msgpack:"m"`

	// Size in bytes (filesystem specific for directories)
	Size int64 `msgpack:"z"`

	UID uint32 `msgpack:"u"`
	GID uint32 `msgpack:"g"`

	Atime Timespec `msgpack:"a"`
	Mtime Timespec `msgpack:"w"`
	Ctime Timespec `msgpack:"c"`

	// AccessACL and DefaultACL hold the raw POSIX ACL xattr values
	AccessACL  []byte `msgpack:"acl,omitempty"`
	DefaultACL []byte `msgpack:"dacl,omitempty"`

	// LinkTarget is set for symlinks
	LinkTarget string `msgpack:"l,omitempty"`
}

// Perm returns the permission bits including setuid, setgid and sticky.
func (f FileRecord) Perm() uint32 {
	return f.Mode & 07777
}

// IsDir returns true if this is a directory
func (f FileRecord) IsDir() bool {
	return f.Type == FileTypeDirectory
}

// IsFile returns true if this is a regular file
func (f FileRecord) IsFile() bool {
	return f.Type == FileTypeRegular
}

// Depth counts path components; "/" is 0 and "/a/b" is 2.
func (f FileRecord) Depth() int {
	p := strings.Trim(f.Path, "/")
	if p == "" {
		return 0
	}
	return strings.Count(p, "/") + 1
}

// RelPath strips prefix from path. The root itself maps to "".
func RelPath(path, prefix string) string {
	if rel, ok := strings.CutPrefix(path, prefix); ok {
		return rel
	}
	return path
}
