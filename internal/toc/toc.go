// Package toc strips the outer container shared by layout.toc and
// per-bundle .toc files: a fixed magic at offset 0, then the real payload
// starting at a fixed offset.
package toc

import (
	"encoding/binary"
	"fmt"
	"os"
)

// Magic is the required value of the first 4 bytes (big-endian) of every
// .toc file.
const Magic = 0x00D1CE01

// PayloadOffset is the absolute offset at which the inner payload begins.
const PayloadOffset = 0x22C

// BadMagicError reports an outer-container magic mismatch.
type BadMagicError struct {
	Path string
	Got  uint32
}

func (e *BadMagicError) Error() string {
	return fmt.Sprintf("%s: bad toc magic 0x%08x, want 0x%08x", e.Path, e.Got, uint32(Magic))
}

// TooShortError reports a .toc file smaller than the fixed header it is
// required to carry.
type TooShortError struct {
	Path string
	Len  int
}

func (e *TooShortError) Error() string {
	return fmt.Sprintf("%s: file is %d bytes, shorter than the %d-byte toc header", e.Path, e.Len, PayloadOffset)
}

// ReadPayload reads path, validates the outer magic, and returns the bytes
// from PayloadOffset through EOF.
func ReadPayload(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %q: %w", path, err)
	}
	if len(data) < 4 {
		return nil, &TooShortError{Path: path, Len: len(data)}
	}
	magic := binary.BigEndian.Uint32(data[0:4])
	if magic != Magic {
		return nil, &BadMagicError{Path: path, Got: magic}
	}
	if len(data) < PayloadOffset {
		return nil, &TooShortError{Path: path, Len: len(data)}
	}
	return data[PayloadOffset:], nil
}
