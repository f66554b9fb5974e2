package compare

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/Ning0612/dsync/internal/comm"
	"github.com/Ning0612/dsync/internal/domain"
)

// contentPair is a regular file present on both sides with equal size.
type contentPair struct {
	Key     string
	Src     int
	Dst     int
	SrcPath string
	DstPath string
	Size    int64
}

// chunk is one byte range of a file pair, shipped to the rank comparing it.
type chunk struct {
	SrcPath  string `msgpack:"s"`
	DstPath  string `msgpack:"d"`
	Offset   int64  `msgpack:"o"`
	Length   int64  `msgpack:"l"`
	FileSize int64  `msgpack:"z"`
	Owner    int    `msgpack:"r"`
	Pair     int    `msgpack:"p"`
}

func (ch chunk) last() bool {
	return ch.Offset+ch.Length >= ch.FileSize
}

type verdict struct {
	Pair   int  `msgpack:"p"`
	Differ bool `msgpack:"d"`
}

var bufPool sync.Pool

func getBuffer(size int) *[]byte {
	if b, ok := bufPool.Get().(*[]byte); ok && cap(*b) >= size {
		*b = (*b)[:size]
		return b
	}
	b := make([]byte, size)
	return &b
}

func putBuffer(b *[]byte) {
	bufPool.Put(b)
}

// compareContents splits batch into chunks spread over all ranks by global
// chunk index, compares them, ORs the per-chunk flags of every file in offset
// order and routes the whole-file verdict back to the rank owning the pair.
// Outside a dry run differing chunks are overwritten in place.
func (cmp *Comparator) compareContents(ctx context.Context, batch []contentPair, srcStore, dstStore *Store) (read, written int64, err error) {
	var local []chunk
	for pi, p := range batch {
		for off := int64(0); off < p.Size; off += cmp.opts.ChunkSize {
			local = append(local, chunk{
				SrcPath:  p.SrcPath,
				DstPath:  p.DstPath,
				Offset:   off,
				Length:   min(cmp.opts.ChunkSize, p.Size-off),
				FileSize: p.Size,
				Owner:    cmp.c.Rank(),
				Pair:     pi,
			})
		}
	}

	first, err := comm.Exscan(ctx, cmp.c, int64(len(local)))
	if err != nil {
		return 0, 0, err
	}
	total, err := comm.AllreduceSum(ctx, cmp.c, int64(len(local)))
	if err != nil {
		return 0, 0, err
	}

	send := make([][]chunk, cmp.c.Size())
	for i, ch := range local {
		dst := blockOwner(first+int64(i), total[0], cmp.c.Size())
		send[dst] = append(send[dst], ch)
	}
	recv, err := comm.Exchange(ctx, cmp.c, send)
	if err != nil {
		return 0, 0, err
	}

	var mine []chunk
	for _, r := range recv {
		mine = append(mine, r...)
	}

	files := newFileCache(cmp.opts.DryRun)
	defer files.close()

	items := make([]comm.ScanItem, len(mine))
	for i, ch := range mine {
		differ, r, w, cerr := cmp.compareChunk(files, ch)
		read += r
		written += w
		if cerr != nil {
			cmp.log.Error("content comparison failed, assuming contents differ",
				"source", ch.SrcPath, "destination", ch.DstPath, "error", cerr)
			differ = true
			if !cmp.opts.DryRun {
				err := fmt.Errorf("%w: %s and/or %s: %v", domain.ErrContentIO, ch.SrcPath, ch.DstPath, cerr)
				cmp.c.Abort(err)
				return read, written, err
			}
		}
		items[i] = comm.ScanItem{Key: ch.SrcPath, Order: ch.Offset, Value: differ}
	}

	scanned, err := comm.SegmentedScanOr(ctx, cmp.c, items)
	if err != nil {
		return read, written, err
	}

	back := make([][]verdict, cmp.c.Size())
	for i, ch := range mine {
		if ch.last() {
			back[ch.Owner] = append(back[ch.Owner], verdict{Pair: ch.Pair, Differ: scanned[i]})
		}
	}
	verdicts, err := comm.Exchange(ctx, cmp.c, back)
	if err != nil {
		return read, written, err
	}

	for _, vs := range verdicts {
		for _, v := range vs {
			st := domain.StateCommon
			if v.Differ {
				st = domain.StateDiffer
			}
			setBoth(srcStore, dstStore, batch[v.Pair].Key, domain.FieldContent, st)
		}
	}

	cmp.log.Debug("content comparison done", "files", len(batch), "chunks", len(mine),
		"bytes_read", read, "bytes_written", written)
	return read, written, nil
}

// blockOwner maps global chunk g of total to a rank so that every rank gets a
// contiguous block and block sizes differ by at most one.
func blockOwner(g, total int64, size int) int {
	n := int64(size)
	per, extra := total/n, total%n
	if g < extra*(per+1) {
		return int(g / (per + 1))
	}
	return int(extra + (g-extra*(per+1))/per)
}

// compareChunk reads the chunk from both files in buffer-sized pieces. The
// chunk differs when read lengths or bytes disagree.
func (cmp *Comparator) compareChunk(files *fileCache, ch chunk) (differ bool, read, written int64, err error) {
	srcF, dstF, err := files.open(ch.SrcPath, ch.DstPath)
	if err != nil {
		return true, 0, 0, err
	}

	sb := getBuffer(cmp.opts.BufferSize)
	db := getBuffer(cmp.opts.BufferSize)
	defer putBuffer(sb)
	defer putBuffer(db)

	end := ch.Offset + ch.Length
	for off := ch.Offset; off < end; {
		want := min(int64(len(*sb)), end-off)

		ns, err := readFull(srcF, (*sb)[:want], off)
		if err != nil {
			return true, read, written, err
		}
		nd, err := readFull(dstF, (*db)[:want], off)
		if err != nil {
			return true, read, written, err
		}
		read += int64(ns + nd)

		if ns != nd {
			return true, read, written, nil
		}
		if !bytes.Equal((*sb)[:ns], (*db)[:nd]) {
			differ = true
			if !cmp.opts.DryRun {
				nw, err := dstF.WriteAt((*sb)[:ns], off)
				written += int64(nw)
				if err != nil {
					return true, read, written, err
				}
			}
		}
		if int64(ns) < want {
			// file shrank since the walk
			break
		}
		off += int64(ns)
	}
	return differ, read, written, nil
}

// readFull reads up to len(buf) bytes at off. Hitting end of file is not an
// error; the short count is returned.
func readFull(f *os.File, buf []byte, off int64) (int, error) {
	n, err := f.ReadAt(buf, off)
	if errors.Is(err, io.EOF) {
		err = nil
	}
	return n, err
}

// fileCache keeps the most recent source/destination pair open, since
// consecutive chunks usually belong to the same file.
type fileCache struct {
	readOnly         bool
	srcPath, dstPath string
	src, dst         *os.File
}

func newFileCache(readOnly bool) *fileCache {
	return &fileCache{readOnly: readOnly}
}

func (fc *fileCache) open(srcPath, dstPath string) (*os.File, *os.File, error) {
	if fc.src != nil && fc.srcPath == srcPath && fc.dstPath == dstPath {
		return fc.src, fc.dst, nil
	}
	fc.close()

	src, err := os.Open(srcPath)
	if err != nil {
		return nil, nil, err
	}
	flag := os.O_RDWR
	if fc.readOnly {
		flag = os.O_RDONLY
	}
	dst, err := os.OpenFile(dstPath, flag, 0)
	if err != nil {
		src.Close()
		return nil, nil, err
	}

	fc.src, fc.dst = src, dst
	fc.srcPath, fc.dstPath = srcPath, dstPath
	return src, dst, nil
}

func (fc *fileCache) close() {
	if fc.src != nil {
		fc.src.Close()
		fc.dst.Close()
	}
	fc.src, fc.dst = nil, nil
}
