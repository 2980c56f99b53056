// Package bundle implements the per-bundle manifest parser (C8): Ebx,
// Resource, and Chunk records, their names and metadata, and the
// ambiguous-prefix heuristic used to resolve their CAS locations.
package bundle

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/anthemcas/anthemcas/internal/asset"
	"github.com/anthemcas/anthemcas/internal/record"
	"github.com/anthemcas/anthemcas/internal/stream"
)

// CasResolver is the capability a Bundle needs from its owning Package: CAS
// identifier resolution, plus enough archive access to run the read_entry
// disambiguation probe during parsing itself.
type CasResolver interface {
	ResolveCasID(id uint32) (asset.CasRef, bool)
	OpenCas(ref asset.CasRef) (io.ReaderAt, error)
}

const (
	outerMagic  = 0x20
	headerMagic = 0x9D798ED6
)

// BadMagicError reports a mismatch against outerMagic or headerMagic.
type BadMagicError struct {
	What     string
	Offset   int64
	Got      uint32
	Expected uint32
}

func (e *BadMagicError) Error() string {
	return fmt.Sprintf("bundle %s magic mismatch at offset %d: got 0x%x, want 0x%x", e.What, e.Offset, e.Got, e.Expected)
}

// OverrunError reports the terminal tell()-bundle_offset==bundle_len check
// failing.
type OverrunError struct {
	BundleOffset int64
	BundleLen    uint32
	Got          int64
}

func (e *OverrunError) Error() string {
	return fmt.Sprintf("bundle at offset %d: consumed %d bytes, header declared %d", e.BundleOffset, e.Got, e.BundleLen)
}

// UnresolvedCasIDError reports a payload-section CAS id that decodes
// structurally but resolves to no archive; fatal (unlike the recoverable
// probe inside read_entry).
type UnresolvedCasIDError struct {
	Offset int64
	CasID  uint32
}

func (e *UnresolvedCasIDError) Error() string {
	return fmt.Sprintf("bundle payload at offset %d: cas id 0x%08x does not resolve", e.Offset, e.CasID)
}

// Header is the 8-field fixed header immediately following meta_size.
type Header struct {
	Magic           uint32
	Total           uint32
	EbxCount        uint32
	ResourceCount   uint32
	ChunkCount      uint32
	StringOffset    uint32
	ChunkMetaOffset uint32
	ChunkMetaSize   uint32
}

// Bundle is one parsed .sb manifest record. Name is populated by the caller
// (internal/index), since the bundle's logical name lives in the index's
// string table, not in the bundle record itself.
type Bundle struct {
	Name      string
	Header    Header
	Ebx       []*asset.Ebx
	Resources []*asset.Resource
	Chunks    []*asset.Chunk
}

// Parse seeks r to bundleOffset and decodes one bundle record from there.
func Parse(r *stream.Reader, bundleOffset int64, resolver CasResolver) (*Bundle, error) {
	r.Seek(bundleOffset)

	magic, err := r.U32BE()
	if err != nil {
		return nil, err
	}
	if magic != outerMagic {
		return nil, &BadMagicError{What: "outer", Offset: bundleOffset, Got: magic, Expected: outerMagic}
	}
	if err := r.Skip(4); err != nil { // unknown
		return nil, err
	}
	bundleLen, err := r.U32BE()
	if err != nil {
		return nil, err
	}
	if err := r.Skip(4); err != nil { // count
		return nil, err
	}
	if err := r.Skip(12); err != nil { // three offsets
		return nil, err
	}
	if err := r.Skip(4); err != nil { // padding
		return nil, err
	}

	metaSize, err := r.U32BE()
	if err != nil {
		return nil, err
	}
	metaOffset := r.Pos()

	header, err := readHeader(r)
	if err != nil {
		return nil, err
	}
	if header.Magic != headerMagic {
		return nil, &BadMagicError{What: "header", Offset: metaOffset, Got: header.Magic, Expected: headerMagic}
	}
	b := &Bundle{Header: header}
	if header.Total == 0 {
		return b, nil
	}

	stringSection := metaOffset + int64(header.StringOffset)

	digests := make([][]byte, header.Total)
	for i := range digests {
		d, err := r.Bytes(20)
		if err != nil {
			return nil, err
		}
		digests[i] = d
	}

	b.Ebx = make([]*asset.Ebx, header.EbxCount)
	for i := range b.Ebx {
		nameOff, err := r.U32BE()
		if err != nil {
			return nil, err
		}
		origSize, err := r.U32BE()
		if err != nil {
			return nil, err
		}
		name, err := stream.StringAt(r.ReaderAt(), stringSection+int64(nameOff))
		if err != nil {
			return nil, err
		}
		b.Ebx[i] = &asset.Ebx{File: asset.File{Name: name, Sha1: digests[i], OrigSize: origSize, HasOrig: true}}
	}

	b.Resources = make([]*asset.Resource, header.ResourceCount)
	for i := range b.Resources {
		nameOff, err := r.U32BE()
		if err != nil {
			return nil, err
		}
		origSize, err := r.U32BE()
		if err != nil {
			return nil, err
		}
		name, err := stream.StringAt(r.ReaderAt(), stringSection+int64(nameOff))
		if err != nil {
			return nil, err
		}
		b.Resources[i] = &asset.Resource{File: asset.File{
			Name:     name,
			Sha1:     digests[header.EbxCount+uint32(i)],
			OrigSize: origSize,
			HasOrig:  true,
		}}
	}
	for i := range b.Resources {
		v, err := r.U32BE()
		if err != nil {
			return nil, err
		}
		b.Resources[i].ContentType = v
	}
	for i := range b.Resources {
		meta, err := r.Bytes(16)
		if err != nil {
			return nil, err
		}
		copy(b.Resources[i].Meta[:], meta)
	}
	for i := range b.Resources {
		v, err := r.U64BE()
		if err != nil {
			return nil, err
		}
		b.Resources[i].Rid = v
	}

	b.Chunks = make([]*asset.Chunk, header.ChunkCount)
	for i := range b.Chunks {
		uid, err := r.Bytes(16)
		if err != nil {
			return nil, err
		}
		rangeStart, err := r.U16BE()
		if err != nil {
			return nil, err
		}
		logicalSize, err := r.U16BE()
		if err != nil {
			return nil, err
		}
		logicalOffset, err := r.U32BE()
		if err != nil {
			return nil, err
		}
		c := &asset.Chunk{
			File:          asset.File{Sha1: digests[header.EbxCount+header.ResourceCount+uint32(i)]},
			RangeStart:    rangeStart,
			LogicalSize:   logicalSize,
			LogicalOffset: logicalOffset,
		}
		copy(c.UID[:], uid)
		b.Chunks[i] = c
	}

	if header.ChunkCount > 0 {
		if err := readChunkMeta(r, b.Chunks); err != nil {
			return nil, err
		}
	}

	if err := readPayloadLocations(r, metaOffset, int64(metaSize), resolver, b); err != nil {
		return nil, err
	}

	if got := r.Pos() - bundleOffset; got != int64(bundleLen) {
		return nil, &OverrunError{BundleOffset: bundleOffset, BundleLen: bundleLen, Got: got}
	}
	return b, nil
}

func readHeader(r *stream.Reader) (Header, error) {
	var h Header
	vals := make([]uint32, 8)
	for i := range vals {
		v, err := r.U32BE()
		if err != nil {
			return h, err
		}
		vals[i] = v
	}
	h.Magic, h.Total, h.EbxCount, h.ResourceCount, h.ChunkCount = vals[0], vals[1], vals[2], vals[3], vals[4]
	h.StringOffset, h.ChunkMetaOffset, h.ChunkMetaSize = vals[5], vals[6], vals[7]
	return h, nil
}

// readChunkMeta reads the bare chunkMeta list field (tag 0x01) at r's
// current position and zips its entries onto chunks by position. This is a
// single field, not a whole record: TocEntry.add_field in original_source/
// reads it directly off the stream with no enclosing composite wrapper.
func readChunkMeta(r *stream.Reader, chunks []*asset.Chunk) error {
	key, v, err := record.ParseField(r)
	if err != nil {
		return err
	}
	if key != "chunkMeta" || v.Kind != record.KindList {
		return fmt.Errorf("chunk meta field: expected list field %q, got %q (kind %d)", "chunkMeta", key, v.Kind)
	}
	entries := v.List
	for i, entry := range entries {
		if i >= len(chunks) {
			break
		}
		h32, err := entry.U32("h32")
		if err != nil {
			return err
		}
		chunks[i].H32 = h32
		chunks[i].HasH32 = entry.Has("h32")

		meta, err := entry.Composite("meta")
		if err != nil {
			return err
		}
		if meta != nil && meta.Has("firstMip") {
			firstMip, err := meta.U32("firstMip")
			if err != nil {
				return err
			}
			chunks[i].FirstMip = firstMip
			chunks[i].HasFirstMip = true
		}
	}
	return nil
}

// readPayloadLocations assigns CAS locations from the payload section in
// order: Ebx, then Resource, then Chunk.
func readPayloadLocations(r *stream.Reader, metaOffset, metaSize int64, resolver CasResolver, b *Bundle) error {
	r.Seek(metaOffset + metaSize)

	casID, err := r.U32BE()
	if err != nil {
		return err
	}

	assign := func(f *asset.File) error {
		offset := r.Pos()
		newCasID, fileOffset, err := readEntry(r, resolver, casID)
		if err != nil {
			return err
		}
		size, err := r.U32BE()
		if err != nil {
			return err
		}
		ref, ok := resolver.ResolveCasID(newCasID)
		if !ok {
			return &UnresolvedCasIDError{Offset: offset, CasID: newCasID}
		}
		f.Cas = ref
		f.Offset = fileOffset
		f.Size = size
		casID = newCasID
		return nil
	}

	for _, e := range b.Ebx {
		if err := assign(&e.File); err != nil {
			return err
		}
	}
	for _, res := range b.Resources {
		if err := assign(&res.File); err != nil {
			return err
		}
	}
	for _, c := range b.Chunks {
		if err := assign(&c.File); err != nil {
			return err
		}
	}
	return nil
}

// readEntry implements the ambiguous-prefix heuristic: a payload entry is
// either a bare offset under the running cas_id, or a (cas_id, offset) pair.
func readEntry(r *stream.Reader, resolver CasResolver, currentCasID uint32) (newCasID, offset uint32, err error) {
	x, err := r.U32BE()
	if err != nil {
		return 0, 0, err
	}

	candidate, ok := resolver.ResolveCasID(x)
	if !ok {
		return currentCasID, x, nil
	}

	prev, ok := resolver.ResolveCasID(currentCasID)
	if !ok {
		return 0, 0, &UnresolvedCasIDError{Offset: r.Pos(), CasID: currentCasID}
	}
	ra, err := resolver.OpenCas(prev)
	if err != nil {
		return 0, 0, fmt.Errorf("opening cas archive for read_entry probe: %w", err)
	}
	var magicBuf [2]byte
	if _, err := ra.ReadAt(magicBuf[:], int64(x)+4); err != nil {
		return 0, 0, fmt.Errorf("read_entry probe at offset %d: %w", int64(x)+4, err)
	}
	magic := binary.BigEndian.Uint16(magicBuf[:])
	if magic == 0x70 || magic == 0x71 || magic == 0x1170 {
		return currentCasID, x, nil
	}

	// x is a new cas_id; assign() re-resolves it once the offset is known.
	_ = candidate
	realOffset, err := r.U32BE()
	if err != nil {
		return 0, 0, err
	}
	return x, realOffset, nil
}
