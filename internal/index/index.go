// Package index implements the per-install-chunk index parser (C7): the
// list of bundle descriptors reachable from a superbundle's .toc/.sb pair,
// plus any free-standing "toc resources" the index carries directly.
package index

import (
	"bytes"
	"fmt"
	"io"

	"github.com/anthemcas/anthemcas/internal/asset"
	"github.com/anthemcas/anthemcas/internal/bundle"
	"github.com/anthemcas/anthemcas/internal/stream"
)

// CasResolver mirrors bundle.CasResolver; declared separately so this
// package does not need to import bundle's resolver type directly, and so
// a *pkg.Package satisfies both without pkg importing either.
type CasResolver interface {
	ResolveCasID(id uint32) (asset.CasRef, bool)
	OpenCas(ref asset.CasRef) (io.ReaderAt, error)
}

const magic = 0x30

// BadMagicError reports the leading index magic failing to match.
type BadMagicError struct {
	Got uint32
}

func (e *BadMagicError) Error() string {
	return fmt.Sprintf("index: bad magic 0x%x, want 0x%x", e.Got, uint32(magic))
}

// StructuralMismatchError reports one of the numbered waypoint assertions
// in the index layout failing.
type StructuralMismatchError struct {
	Waypoint string
	Want     int64
	Got      int64
}

func (e *StructuralMismatchError) Error() string {
	return fmt.Sprintf("index structural mismatch at %s: want offset %d, got %d", e.Waypoint, e.Want, e.Got)
}

// BadCasIDError reports a free-standing resource's cas_id failing to
// resolve.
type BadCasIDError struct {
	Offset int64
	CasID  uint32
}

func (e *BadCasIDError) Error() string {
	return fmt.Sprintf("index resource at offset %d: cas id 0x%08x does not resolve", e.Offset, e.CasID)
}

// Index is one parsed superbundle: its named Bundles plus free-standing
// toc resources.
type Index struct {
	Bundles   map[string]*bundle.Bundle
	Resources []*asset.TocResource
}

// Parse decodes the index payload (the bytes of a .toc file after the
// outer toc container is stripped, see internal/toc) together with an open
// handle to the sibling .sb file.
func Parse(tocPayload []byte, sb io.ReaderAt, resolver CasResolver) (*Index, error) {
	r := stream.New(bytes.NewReader(tocPayload), 0)

	m, err := r.U32BE()
	if err != nil {
		return nil, err
	}
	if m != magic {
		return nil, &BadMagicError{Got: m}
	}
	if err := r.Skip(4); err != nil { // length
		return nil, err
	}

	itemCount, err := r.U32BE()
	if err != nil {
		return nil, err
	}
	offset1, err := r.U32BE()
	if err != nil {
		return nil, err
	}
	offset2, err := r.U32BE()
	if err != nil {
		return nil, err
	}
	resCount, err := r.U32BE()
	if err != nil {
		return nil, err
	}
	offset4, err := r.U32BE()
	if err != nil {
		return nil, err
	}
	offset5, err := r.U32BE()
	if err != nil {
		return nil, err
	}
	offset6, err := r.U32BE()
	if err != nil {
		return nil, err
	}
	if err := r.Skip(4); err != nil { // offset7
		return nil, err
	}
	if err := r.Skip(4); err != nil { // sec4_size
		return nil, err
	}

	idx := &Index{Bundles: make(map[string]*bundle.Bundle)}
	if itemCount == 0 {
		return idx, nil
	}

	for i := uint32(0); i < itemCount; i++ {
		if _, err := r.U32BE(); err != nil { // bundle_refs[i]
			return nil, err
		}
	}
	if err := r.Skip(4); err != nil {
		return nil, err
	}
	if err := r.Align(8); err != nil {
		return nil, err
	}

	for i := uint32(0); i < itemCount; i++ {
		stringOff, err := r.U32BE()
		if err != nil {
			return nil, err
		}
		if _, err := r.U32BE(); err != nil { // size
			return nil, err
		}
		if err := r.Skip(4); err != nil {
			return nil, err
		}
		sbOffset, err := r.U32BE()
		if err != nil {
			return nil, err
		}

		name, err := stream.StringAt(r.ReaderAt(), int64(offset6)+int64(stringOff))
		if err != nil {
			return nil, err
		}

		sbReader := stream.New(sb, int64(sbOffset))
		bd, err := bundle.Parse(sbReader, int64(sbOffset), resolver)
		if err != nil {
			return nil, fmt.Errorf("parsing bundle %q at sb offset %d: %w", name, sbOffset, err)
		}
		bd.Name = name
		idx.Bundles[name] = bd
	}

	r.Seek(int64(offset1))
	flags := make([]uint32, resCount)
	for i := range flags {
		v, err := r.U32BE()
		if err != nil {
			return nil, err
		}
		flags[i] = v
	}
	if r.Pos() != int64(offset2) {
		return nil, &StructuralMismatchError{Waypoint: "offset2", Want: int64(offset2), Got: r.Pos()}
	}

	sha1s := make([][]byte, resCount)
	for i := range sha1s {
		d, err := r.Bytes(20)
		if err != nil {
			return nil, err
		}
		sha1s[i] = d
	}
	if r.Pos() != int64(offset4) {
		return nil, &StructuralMismatchError{Waypoint: "offset4", Want: int64(offset4), Got: r.Pos()}
	}
	if int64(offset5) != int64(offset4) {
		return nil, &StructuralMismatchError{Waypoint: "offset4..offset5 span", Want: int64(offset4), Got: int64(offset5)}
	}

	idx.Resources = make([]*asset.TocResource, resCount)
	for i := uint32(0); i < resCount; i++ {
		entryOffset := r.Pos()
		casID, err := r.U32BE()
		if err != nil {
			return nil, err
		}
		offset, err := r.U32BE()
		if err != nil {
			return nil, err
		}
		size, err := r.U32BE()
		if err != nil {
			return nil, err
		}
		cas, ok := resolver.ResolveCasID(casID)
		if !ok {
			return nil, &BadCasIDError{Offset: entryOffset, CasID: casID}
		}
		idx.Resources[i] = &asset.TocResource{File: asset.File{
			Cas:    cas,
			Sha1:   sha1s[i],
			Flags:  flags[i],
			Offset: offset,
			Size:   size,
		}}
	}

	if r.Pos() != int64(offset6) {
		return nil, &StructuralMismatchError{Waypoint: "offset6", Want: int64(offset6), Got: r.Pos()}
	}
	return idx, nil
}
