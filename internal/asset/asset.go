// Package asset defines the File/Ebx/Resource/Chunk data model: the
// byte-payload descriptors resolved from an index or bundle and handed to
// the exporter for materialization.
package asset

import (
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"

	"github.com/anthemcas/anthemcas/internal/resourcetype"
)

// CasRef is the subset of *pkg.Cas that asset and the decoders above it
// need: enough to format a File for logging, locate its backing archive, and
// know which layout owns it, without importing internal/pkg (which would
// cycle back through internal/index/internal/bundle -> internal/pkg ->
// internal/asset).
type CasRef interface {
	String() string
	ArchivePath() string

	// LayoutName names the layout ("Data" or "Patch") that owns the
	// resolved CAS's package. A ResolveCasID redirect from a Patch package
	// to its Data parent (is_patch==0) means this can differ from the
	// layout the caller is currently walking.
	LayoutName() string
}

// File is a byte-payload descriptor reachable through a CAS archive.
// Sha1 is nil when absent (permitted for free-standing toc resources in
// some variants; see the package's TocResource for the one place that
// requires it).
type File struct {
	Sha1       []byte
	Cas        CasRef
	Name       string // possibly empty
	Flags      uint32
	Offset     uint32
	Size       uint32 // on-archive compressed size
	OrigSize   uint32 // decompressed size; zero means "not recorded"
	HasOrig    bool
	SourcePath string // archive path, for diagnostics when Cas is nil
}

func (f *File) String() string {
	cas := "<no cas>"
	if f.Cas != nil {
		cas = f.Cas.String()
	}
	return fmt.Sprintf("File(name=%q cas=%s offset=%d size=%d)", f.Name, cas, f.Offset, f.Size)
}

// Sha1Hex renders the digest as lowercase hex, or "" if absent.
func (f *File) Sha1Hex() string {
	if len(f.Sha1) == 0 {
		return ""
	}
	return hex.EncodeToString(f.Sha1)
}

// Ebx is a File with a mandatory name, exported as "<name>.ebx".
type Ebx struct {
	File
}

// Filename returns the output filename for this Ebx record.
func (e *Ebx) Filename() string { return e.Name + ".ebx" }

// Resource is a File with a mandatory name plus type/metadata/rid.
type Resource struct {
	File
	ContentType uint32
	Meta        [16]byte
	Rid         uint64
}

// Filename returns the output filename for this Resource record, using the
// content-type table with the documented hex-id fallback.
func (r *Resource) Filename() string {
	return r.Name + resourcetype.Ext(r.ContentType)
}

// Chunk is an identifier-named File; its original size is derived, not
// stored, from LogicalOffset+LogicalSize.
type Chunk struct {
	File
	UID           [16]byte
	RangeStart    uint16
	LogicalSize   uint16
	LogicalOffset uint32
	H32           uint32
	HasH32        bool
	FirstMip      uint32
	HasFirstMip   bool
}

// OrigSize returns the derived decompressed size invariant:
// logical_offset + logical_size.
func (c *Chunk) OrigSize() uint32 {
	return c.LogicalOffset + uint32(c.LogicalSize)
}

// GUID formats UID the same way the original tool's Chunk.guid property
// does: straight byte order, not the little-endian-swapped form used by a
// generic TocResource GUID.
func (c *Chunk) GUID() uuid.UUID {
	var u uuid.UUID
	copy(u[:], c.UID[:])
	return u
}

// Filename returns the output filename for this Chunk record: its GUID plus
// ".chunk".
func (c *Chunk) Filename() string {
	return c.GUID().String() + ".chunk"
}

// TocResource is a free-standing File discovered directly in an Index (not
// reached through a bundle). Its digest is mandatory, matching the index
// format's invariant that every toc resource carries a SHA-1.
type TocResource struct {
	File
}

// Filename returns the output filename for a toc resource: its digest in
// hex plus ".bin".
func (t *TocResource) Filename() string {
	return t.Sha1Hex() + ".bin"
}

// GUIDFromBytesLE formats a 16-byte id the same way a generic
// TocResource.guid property does: the mixed-endian "bytes_le" convention
// (time_low, time_mid, and time_hi_version swapped to big-endian; the
// trailing clock-seq/node bytes left as-is), distinct from Chunk.GUID's
// straight byte order.
func GUIDFromBytesLE(b [16]byte) uuid.UUID {
	var u uuid.UUID
	u[0], u[1], u[2], u[3] = b[3], b[2], b[1], b[0]
	u[4], u[5] = b[5], b[4]
	u[6], u[7] = b[7], b[6]
	copy(u[8:], b[8:])
	return u
}
