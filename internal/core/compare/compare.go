package compare

import (
	"bytes"
	"context"
	"time"

	"github.com/Ning0612/dsync/internal/comm"
	"github.com/Ning0612/dsync/internal/domain"
	"github.com/Ning0612/dsync/internal/flist"
	"github.com/Ning0612/dsync/internal/logger"
)

// DefaultChunkSize is the byte range one rank compares at a time.
const DefaultChunkSize = 1 << 20

// Options controls a comparison pass.
type Options struct {
	// Need is the dependency-closed set of fields to compare
	Need domain.FieldSet

	// Contents selects the exhaustive byte comparison; otherwise CONTENT is
	// inferred from size and mtime
	Contents bool

	// DryRun forbids any write to the destination
	DryRun bool

	ChunkSize  int64
	BufferSize int
}

func (o Options) withDefaults() Options {
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.BufferSize <= 0 || int64(o.BufferSize) > o.ChunkSize {
		o.BufferSize = int(min(o.ChunkSize, DefaultChunkSize))
	}
	return o
}

// Pair links a source and destination entry by local list index.
type Pair struct {
	Src int
	Dst int
}

// Result is one rank's share of a comparison pass.
type Result struct {
	// Copy holds source entries that must be copied to the destination
	Copy *flist.List

	// Remove holds destination entries that must be deleted before copying
	Remove *flist.List

	// Refresh lists every path present on both sides, for metadata refresh
	Refresh []Pair

	Stats Stats
}

// Comparator runs comparison passes for one rank.
type Comparator struct {
	c    comm.Comm
	opts Options
	log  logger.Logger
}

// NewComparator creates a comparator for rank c.
func NewComparator(c comm.Comm, opts Options) *Comparator {
	return &Comparator{
		c:    c,
		opts: opts.withDefaults(),
		log:  logger.With("component", "compare", "rank", c.Rank()),
	}
}

// Compare fills srcStore and dstStore for every key of srcStore and returns
// the resulting copy, remove and refresh sets. Both lists must already be
// remapped so that shared paths are local. Every rank must call Compare.
func (cmp *Comparator) Compare(ctx context.Context, src *flist.List, srcStore *Store, dst *flist.List, dstStore *Store) (*Result, error) {
	if err := cmp.c.Barrier(ctx); err != nil {
		return nil, err
	}
	started := time.Now()

	res := &Result{Copy: src.Subset(), Remove: dst.Subset()}
	var batch []contentPair

	for _, key := range srcStore.Keys() {
		si, _ := srcStore.Index(key)
		di, ok := dstStore.Index(key)
		if !ok {
			srcStore.Update(key, domain.FieldExist, domain.StateOnlySrc)
			res.Copy.Append(src.Get(si))
			continue
		}

		res.Refresh = append(res.Refresh, Pair{Src: si, Dst: di})
		setBoth(srcStore, dstStore, key, domain.FieldExist, domain.StateCommon)

		if p, queued := cmp.compareMetadata(key, src, si, srcStore, dst, di, dstStore, res); queued {
			batch = append(batch, p)
		}
	}

	var read, written int64
	total, err := comm.AllreduceSum(ctx, cmp.c, int64(len(batch)))
	if err != nil {
		return nil, err
	}
	if total[0] > 0 {
		if cmp.opts.Contents {
			read, written, err = cmp.compareContents(ctx, batch, srcStore, dstStore)
			if err != nil {
				return nil, err
			}
		} else {
			cmp.compareLite(batch, src, srcStore, dst, dstStore, res)
		}
	}

	if err := cmp.c.Barrier(ctx); err != nil {
		return nil, err
	}

	res.Stats = Stats{
		Started:      started,
		Ended:        time.Now(),
		Files:        int64(src.Size()),
		BytesRead:    read,
		BytesWritten: written,
	}
	return res, nil
}

// compareMetadata evaluates every needed field of one shared path in
// dependency order. It reports whether the pair still needs its content
// compared.
func (cmp *Comparator) compareMetadata(key string, src *flist.List, si int, srcStore *Store,
	dst *flist.List, di int, dstStore *Store, res *Result) (contentPair, bool) {

	need := cmp.opts.Need
	set := func(f domain.Field, equal bool) {
		st := domain.StateDiffer
		if equal {
			st = domain.StateCommon
		}
		setBoth(srcStore, dstStore, key, f, st)
	}
	queue := func() {
		res.Copy.Append(src.Get(si))
		res.Remove.Append(dst.Get(di))
	}

	// fields that depend on existence alone
	if need.Has(domain.FieldUID) {
		set(domain.FieldUID, src.UID(si) == dst.UID(di))
	}
	if need.Has(domain.FieldGID) {
		set(domain.FieldGID, src.GID(si) == dst.GID(di))
	}
	if need.Has(domain.FieldAtime) {
		set(domain.FieldAtime, src.Atime(si).Equal(dst.Atime(di)))
	}
	if need.Has(domain.FieldMtime) {
		set(domain.FieldMtime, src.Mtime(si).Equal(dst.Mtime(di)))
	}
	if need.Has(domain.FieldCtime) {
		set(domain.FieldCtime, src.Ctime(si).Equal(dst.Ctime(di)))
	}
	if need.Has(domain.FieldPerm) {
		set(domain.FieldPerm, src.Perm(si) == dst.Perm(di))
	}
	if need.Has(domain.FieldACL) {
		set(domain.FieldACL, aclEqual(src, si, dst, di))
	}

	if !need.Has(domain.FieldType) {
		return contentPair{}, false
	}

	if src.Type(si) != dst.Type(di) {
		set(domain.FieldType, false)
		if need.Has(domain.FieldSize) {
			set(domain.FieldSize, false)
		}
		if need.Has(domain.FieldContent) {
			set(domain.FieldContent, false)
		}
		queue()
		return contentPair{}, false
	}
	set(domain.FieldType, true)

	sizeEqual := true
	if need.Has(domain.FieldSize) {
		// directory sizes are filesystem specific
		sizeEqual = src.Type(si) == domain.FileTypeDirectory || src.FileSize(si) == dst.FileSize(di)
		set(domain.FieldSize, sizeEqual)
	}

	if !need.Has(domain.FieldContent) {
		return contentPair{}, false
	}

	switch {
	case src.Type(si) == domain.FileTypeSymlink:
		same := src.LinkTarget(si) == dst.LinkTarget(di)
		set(domain.FieldContent, same)
		if !same {
			queue()
		}
	case src.Type(si) != domain.FileTypeRegular:
		set(domain.FieldContent, true)
	case !sizeEqual:
		set(domain.FieldContent, false)
		queue()
	case src.FileSize(si) == 0:
		set(domain.FieldContent, true)
	default:
		return contentPair{
			Key:     key,
			Src:     si,
			Dst:     di,
			SrcPath: src.Name(si),
			DstPath: dst.Name(di),
			Size:    src.FileSize(si),
		}, true
	}
	return contentPair{}, false
}

// aclEqual compares the access ACL and, for directories, the default ACL.
func aclEqual(src *flist.List, si int, dst *flist.List, di int) bool {
	if !bytes.Equal(src.AccessACL(si), dst.AccessACL(di)) {
		return false
	}
	if src.Type(si) == domain.FileTypeDirectory {
		return bytes.Equal(src.DefaultACL(si), dst.DefaultACL(di))
	}
	return true
}

// compareLite infers CONTENT from size and mtime.
func (cmp *Comparator) compareLite(batch []contentPair, src *flist.List, srcStore *Store,
	dst *flist.List, dstStore *Store, res *Result) {

	for _, p := range batch {
		same := src.FileSize(p.Src) == dst.FileSize(p.Dst) && src.Mtime(p.Src).Equal(dst.Mtime(p.Dst))
		st := domain.StateCommon
		if !same {
			st = domain.StateDiffer
			res.Copy.Append(src.Get(p.Src))
			res.Remove.Append(dst.Get(p.Dst))
		}
		setBoth(srcStore, dstStore, p.Key, domain.FieldContent, st)
	}
	cmp.log.Debug("lite comparison done", "files", len(batch))
}
