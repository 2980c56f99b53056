// Package stream provides the primitive, endianness-explicit integer and
// string reads shared by every layer of the CAS/TOC decoder stack (layout,
// index, bundle, tagged-record).
//
// Readers are built on io.ReaderAt rather than io.Reader/io.Seeker: every
// input we decode (an in-memory .toc payload, or an mmap'd .sb/.cas archive)
// is naturally randomly addressable, and reading that way means a Reader
// never holds a shared, mutable seek cursor. Multiple Readers can safely
// walk the same underlying archive concurrently (see internal/cas).
package stream

import (
	"encoding/binary"
	"io"

	"golang.org/x/xerrors"
)

// ErrShortRead is returned (wrapped) whenever a read runs into EOF before a
// complete value has been consumed.
type ErrShortRead struct {
	Offset int64
	Want   int
	Got    int
}

func (e *ErrShortRead) Error() string {
	return xerrors.Errorf("short read at offset %d: wanted %d bytes, got %d", e.Offset, e.Want, e.Got).Error()
}

// Reader sequences reads over an io.ReaderAt starting at a given offset,
// advancing its own position counter as it goes.
type Reader struct {
	ra  io.ReaderAt
	pos int64
}

// New returns a Reader that starts reading ra at the given absolute offset.
func New(ra io.ReaderAt, offset int64) *Reader {
	return &Reader{ra: ra, pos: offset}
}

// Pos returns the current absolute offset into the underlying ReaderAt.
func (r *Reader) Pos() int64 { return r.pos }

// Seek repositions the reader to an absolute offset.
func (r *Reader) Seek(offset int64) { r.pos = offset }

// ReaderAt exposes the underlying random-access source, e.g. for
// rewind-and-read-a-name-at-offset lookups that must not disturb r's
// current position.
func (r *Reader) ReaderAt() io.ReaderAt { return r.ra }

func (r *Reader) readFull(buf []byte) error {
	n, err := io.ReadFull(&sectionReader{ra: r.ra, off: r.pos}, buf)
	if err != nil {
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			return &ErrShortRead{Offset: r.pos, Want: len(buf), Got: n}
		}
		return xerrors.Errorf("reading %d bytes at offset %d: %w", len(buf), r.pos, err)
	}
	r.pos += int64(n)
	return nil
}

// sectionReader adapts an io.ReaderAt + running offset to io.Reader without
// requiring callers to hand out *io.SectionReader values with a fixed length.
type sectionReader struct {
	ra  io.ReaderAt
	off int64
}

func (s *sectionReader) Read(p []byte) (int, error) {
	n, err := s.ra.ReadAt(p, s.off)
	s.off += int64(n)
	return n, err
}

// Bytes reads exactly n raw bytes.
func (r *Reader) Bytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	if err := r.readFull(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// U16BE reads a big-endian uint16.
func (r *Reader) U16BE() (uint16, error) {
	var buf [2]byte
	if err := r.readFull(buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(buf[:]), nil
}

// U32BE reads a big-endian uint32.
func (r *Reader) U32BE() (uint32, error) {
	var buf [4]byte
	if err := r.readFull(buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}

// U64BE reads a big-endian uint64.
func (r *Reader) U64BE() (uint64, error) {
	var buf [8]byte
	if err := r.readFull(buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(buf[:]), nil
}

// U64LE reads a little-endian uint64.
func (r *Reader) U64LE() (uint64, error) {
	var buf [8]byte
	if err := r.readFull(buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

// U32LE reads a little-endian uint32.
func (r *Reader) U32LE() (uint32, error) {
	var buf [4]byte
	if err := r.readFull(buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

// Byte reads a single byte.
func (r *Reader) Byte() (byte, error) {
	var buf [1]byte
	if err := r.readFull(buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}

// Skip discards n bytes.
func (r *Reader) Skip(n int) error {
	if n <= 0 {
		return nil
	}
	_, err := r.Bytes(n)
	return err
}

// Align advances the position to the next multiple of n, consuming the
// intervening bytes (the index format pads to an 8-byte boundary after the
// bundle-ref table).
func (r *Reader) Align(n int64) error {
	for r.pos%n != 0 {
		if _, err := r.Byte(); err != nil {
			return err
		}
	}
	return nil
}

// CString reads a NUL-terminated UTF-8 string from the current position.
func (r *Reader) CString() (string, error) {
	var buf []byte
	for {
		b, err := r.Byte()
		if err != nil {
			return "", err
		}
		if b == 0x00 {
			return string(buf), nil
		}
		buf = append(buf, b)
	}
}

// LEB128 reads an unbounded little-endian base-128 unsigned varint: 7 payload
// bits per byte, continuation signalled by the MSB.
func (r *Reader) LEB128() (uint64, error) {
	var result uint64
	var shift uint
	for {
		b, err := r.Byte()
		if err != nil {
			return 0, err
		}
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return result, nil
		}
		shift += 7
	}
}

// StringAt reads a NUL-terminated string at an absolute offset of ra without
// disturbing any Reader's position: the layout/index/bundle formats store
// name tables out-of-line and reference them by offset.
func StringAt(ra io.ReaderAt, offset int64) (string, error) {
	var buf []byte
	var one [1]byte
	for {
		n, err := ra.ReadAt(one[:], offset)
		if n == 0 {
			if err == nil {
				err = io.EOF
			}
			return "", xerrors.Errorf("reading string at offset %d: %w", offset, err)
		}
		if one[0] == 0x00 {
			return string(buf), nil
		}
		buf = append(buf, one[0])
		offset++
	}
}
