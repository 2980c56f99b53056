package cas

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/renameio"

	"github.com/anthemcas/anthemcas/internal/decompress"
)

// BadBlockHeaderError reports a block whose size/compressed_size invariant
// for its encoding tag does not hold.
type BadBlockHeaderError struct {
	Offset         int64
	Magic          uint16
	Size           uint32
	CompressedSize uint16
}

func (e *BadBlockHeaderError) Error() string {
	return fmt.Sprintf("bad block header at offset %d: magic=0x%x size=%d compressed_size=%d", e.Offset, e.Magic, e.Size, e.CompressedSize)
}

// UnsupportedEncodingError reports a block magic outside {0x70, 0x71, 0x1170}.
type UnsupportedEncodingError struct {
	Offset int64
	Magic  uint16
}

func (e *UnsupportedEncodingError) Error() string {
	return fmt.Sprintf("unsupported block encoding 0x%x at offset %d", e.Magic, e.Offset)
}

// FramingMismatchError reports the framed-input total disagreeing with the
// caller-supplied compressed_file_size.
type FramingMismatchError struct {
	Want, Got int64
}

func (e *FramingMismatchError) Error() string {
	return fmt.Sprintf("framing mismatch: consumed %d bytes of framed input, want %d", e.Got, e.Want)
}

// SizeMismatchError reports the decoded-output total disagreeing with an
// expected original size.
type SizeMismatchError struct {
	Want, Got int64
}

func (e *SizeMismatchError) Error() string {
	return fmt.Sprintf("size mismatch: decoded %d bytes, want %d", e.Got, e.Want)
}

const blockHeaderSize = 8

// Decode materializes the asset payload starting at startOffset in ra,
// spanning exactly compressedFileSize bytes of framed input, writing the
// decoded bytes to w. If expectedOriginalSize is non-nil the decoded total
// must equal it exactly.
func Decode(ra io.ReaderAt, startOffset int64, compressedFileSize int64, expectedOriginalSize *int64, registry *decompress.Registry, w io.Writer) error {
	var framedConsumed, decodedTotal int64
	offset := startOffset

	for framedConsumed < compressedFileSize {
		header := make([]byte, blockHeaderSize)
		if _, err := ra.ReadAt(header, offset); err != nil {
			return fmt.Errorf("reading block header at offset %d: %w", offset, err)
		}
		size := beUint32(header[0:4])
		magic := beUint16(header[4:6])
		compressedSize := beUint16(header[6:8])

		payloadOnDiskLen, payload, err := decodeBlock(ra, offset+blockHeaderSize, size, magic, compressedSize, registry)
		if err != nil {
			return err
		}

		if _, err := w.Write(payload); err != nil {
			return fmt.Errorf("writing decoded block at offset %d: %w", offset, err)
		}

		framedConsumed += blockHeaderSize + int64(payloadOnDiskLen)
		decodedTotal += int64(len(payload))
		offset += blockHeaderSize + int64(payloadOnDiskLen)
	}

	if framedConsumed != compressedFileSize {
		return &FramingMismatchError{Want: compressedFileSize, Got: framedConsumed}
	}
	if expectedOriginalSize != nil && decodedTotal != *expectedOriginalSize {
		return &SizeMismatchError{Want: *expectedOriginalSize, Got: decodedTotal}
	}
	return nil
}

func decodeBlock(ra io.ReaderAt, payloadOffset int64, size uint32, magic uint16, compressedSize uint16, registry *decompress.Registry) (payloadOnDiskLen uint16, decoded []byte, err error) {
	switch magic {
	case 0x70:
		if size != uint32(compressedSize) {
			return 0, nil, &BadBlockHeaderError{Offset: payloadOffset - blockHeaderSize, Magic: magic, Size: size, CompressedSize: compressedSize}
		}
		buf := make([]byte, size)
		if _, err := ra.ReadAt(buf, payloadOffset); err != nil {
			return 0, nil, fmt.Errorf("reading stored block at offset %d: %w", payloadOffset, err)
		}
		return uint16(size), buf, nil
	case 0x71:
		if compressedSize != 0 {
			return 0, nil, &BadBlockHeaderError{Offset: payloadOffset - blockHeaderSize, Magic: magic, Size: size, CompressedSize: compressedSize}
		}
		buf := make([]byte, size)
		if _, err := ra.ReadAt(buf, payloadOffset); err != nil {
			return 0, nil, fmt.Errorf("reading stored (alt-framed) block at offset %d: %w", payloadOffset, err)
		}
		return uint16(size), buf, nil
	case 0x1170:
		raw := make([]byte, compressedSize)
		if _, err := ra.ReadAt(raw, payloadOffset); err != nil {
			return 0, nil, fmt.Errorf("reading compressed block at offset %d: %w", payloadOffset, err)
		}
		d, err := registry.Resolve(magic)
		if err != nil {
			return 0, nil, err
		}
		out, err := d.Decompress(raw, compressedSize, size)
		if err != nil {
			return 0, nil, fmt.Errorf("decompressing block at offset %d: %w", payloadOffset, err)
		}
		return compressedSize, out, nil
	default:
		return 0, nil, &UnsupportedEncodingError{Offset: payloadOffset - blockHeaderSize, Magic: magic}
	}
}

func beUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func beUint16(b []byte) uint16 {
	return uint16(b[0])<<8 | uint16(b[1])
}

// DecodeToPath decodes a payload to destPath, skipping entirely if the
// destination already exists (idempotent re-runs). Writes go through
// renameio so a concurrent reader never observes a partially-written file.
func DecodeToPath(ra io.ReaderAt, startOffset int64, compressedFileSize int64, expectedOriginalSize *int64, registry *decompress.Registry, destPath string) error {
	if _, err := os.Stat(destPath); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat %q: %w", destPath, err)
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("creating parent directory for %q: %w", destPath, err)
	}

	var buf bytes.Buffer
	if err := Decode(ra, startOffset, compressedFileSize, expectedOriginalSize, registry, &buf); err != nil {
		return err
	}

	t, err := renameio.TempFile("", destPath)
	if err != nil {
		return fmt.Errorf("creating temp file for %q: %w", destPath, err)
	}
	defer t.Cleanup()
	if _, err := t.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("writing %q: %w", destPath, err)
	}
	return t.CloseAtomicallyReplace()
}
