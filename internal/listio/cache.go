// Package listio reads and writes file lists. The binary cache keeps every
// record field; the text form is for people.
package listio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/spf13/afero"
	"github.com/vmihailenco/msgpack/v5"
	"github.com/zeebo/blake3"

	"github.com/Ning0612/dsync/internal/domain"
)

const (
	magic      = "DSYNCLST"
	version    = 1
	headerSize = len(magic) + 2 + 8
	trailerLen = 32

	flagZstd = 1 << 0
)

// Options controls the binary cache encoding.
type Options struct {
	Compress bool
}

// Encode writes records in the cache format: header, a msgpack record stream
// (zstd compressed when requested), and a blake3 sum of the uncompressed
// stream.
func Encode(w io.Writer, records []domain.FileRecord, opts Options) error {
	var payload bytes.Buffer
	enc := msgpack.NewEncoder(&payload)
	for i := range records {
		if err := enc.Encode(&records[i]); err != nil {
			return fmt.Errorf("encode record %q: %w", records[i].Path, err)
		}
	}
	sum := blake3.Sum256(payload.Bytes())

	header := make([]byte, headerSize)
	copy(header, magic)
	header[len(magic)] = version
	if opts.Compress {
		header[len(magic)+1] = flagZstd
	}
	binary.BigEndian.PutUint64(header[len(magic)+2:], uint64(len(records)))
	if _, err := w.Write(header); err != nil {
		return err
	}

	if opts.Compress {
		zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return err
		}
		if _, err := zw.Write(payload.Bytes()); err != nil {
			zw.Close()
			return err
		}
		if err := zw.Close(); err != nil {
			return err
		}
	} else if _, err := w.Write(payload.Bytes()); err != nil {
		return err
	}

	_, err := w.Write(sum[:])
	return err
}

// Decode parses a cache produced by Encode.
func Decode(data []byte) ([]domain.FileRecord, error) {
	if len(data) < headerSize+trailerLen || string(data[:len(magic)]) != magic {
		return nil, fmt.Errorf("%w: bad header", domain.ErrCacheCorrupt)
	}
	if v := data[len(magic)]; v != version {
		return nil, fmt.Errorf("%w: unsupported version %d", domain.ErrCacheCorrupt, v)
	}
	flags := data[len(magic)+1]
	count := binary.BigEndian.Uint64(data[len(magic)+2 : headerSize])

	body := data[headerSize : len(data)-trailerLen]
	trailer := data[len(data)-trailerLen:]

	payload := body
	if flags&flagZstd != 0 {
		zr, err := zstd.NewReader(nil)
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		payload, err = zr.DecodeAll(body, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrCacheCorrupt, err)
		}
	}

	if sum := blake3.Sum256(payload); !bytes.Equal(sum[:], trailer) {
		return nil, fmt.Errorf("%w: checksum mismatch", domain.ErrCacheCorrupt)
	}

	records := make([]domain.FileRecord, 0, count)
	dec := msgpack.NewDecoder(bytes.NewReader(payload))
	for {
		var rec domain.FileRecord
		err := dec.Decode(&rec)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrCacheCorrupt, err)
		}
		records = append(records, rec)
	}
	if uint64(len(records)) != count {
		return nil, fmt.Errorf("%w: expected %d records, found %d", domain.ErrCacheCorrupt, count, len(records))
	}
	return records, nil
}

// WriteFile writes records to path on fs via a temp file and rename.
func WriteFile(fs afero.Fs, path string, records []domain.FileRecord, opts Options) error {
	tmp := path + ".dsync.tmp"
	f, err := fs.Create(tmp)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := Encode(f, records, opts); err != nil {
		f.Close()
		fs.Remove(tmp)
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		fs.Remove(tmp)
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := fs.Rename(tmp, path); err != nil {
		fs.Remove(tmp)
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}

// ReadFile reads a cache file from fs.
func ReadFile(fs afero.Fs, path string) ([]domain.FileRecord, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	records, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return records, nil
}
