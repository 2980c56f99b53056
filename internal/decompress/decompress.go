// Package decompress defines the decompressor capability consumed by
// internal/cas when unpacking a chunked CAS payload, and the static
// tag → name dispatch table used to pick one.
package decompress

import "fmt"

// Decompressor turns a block's on-archive payload into its decoded bytes.
// input is exactly inputLen bytes (the block's compressed_size) and
// expectedOutputLen is the block's decoded size. internal/cas does not check each
// block's length: it reports a SizeMismatch only when the decoded total
// differs from an expected original size supplied by its caller.
type Decompressor interface {
	Decompress(input []byte, inputLen uint16, expectedOutputLen uint32) ([]byte, error)
}

// Name is a decompressor capability name, as referenced by the block-magic
// dispatch table below and by a Registry.
type Name string

const (
	Null  Name = "null"
	Oodle Name = "oodle"
)

// NameForMagic maps a CAS block magic to the decompressor name responsible
// for decoding it. ok is false for a magic outside the known set.
func NameForMagic(magic uint16) (Name, bool) {
	switch magic {
	case 0x70, 0x71:
		return Null, true
	case 0x1170:
		return Oodle, true
	default:
		return "", false
	}
}

// NoDecompressorError is returned when a block's magic maps to a known name
// but no implementation was registered for it (or the magic is unrecognized
// entirely).
type NoDecompressorError struct {
	Magic uint16
	Name  Name
}

func (e *NoDecompressorError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("no decompressor mapping for block magic 0x%x", e.Magic)
	}
	return fmt.Sprintf("no decompressor implementation registered for %q (block magic 0x%x)", e.Name, e.Magic)
}

// Registry resolves a decompressor by name, used to configure a CAS reader
// with whichever codecs the current game install actually needs.
type Registry struct {
	impls map[Name]Decompressor
}

// NewRegistry returns a Registry with the "null" passthrough codec
// pre-registered; callers add "oodle" (or others) via Register.
func NewRegistry() *Registry {
	r := &Registry{impls: make(map[Name]Decompressor)}
	r.Register(Null, nullDecompressor{})
	return r
}

// Register installs (or replaces) the implementation for name.
func (r *Registry) Register(name Name, d Decompressor) {
	r.impls[name] = d
}

// Resolve looks up the decompressor for a block magic, applying
// NameForMagic first.
func (r *Registry) Resolve(magic uint16) (Decompressor, error) {
	name, ok := NameForMagic(magic)
	if !ok {
		return nil, &NoDecompressorError{Magic: magic}
	}
	d, ok := r.impls[name]
	if !ok {
		return nil, &NoDecompressorError{Magic: magic, Name: name}
	}
	return d, nil
}

type nullDecompressor struct{}

func (nullDecompressor) Decompress(input []byte, inputLen uint16, expectedOutputLen uint32) ([]byte, error) {
	return input, nil
}
