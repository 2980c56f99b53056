// Package cache implements the optional cross-run object cache: a flat,
// gob-encodable snapshot of a parsed install, zstd-compressed and stored in
// a bbolt bucket keyed by an xxhash fingerprint of the install's two
// layout.toc files. Only the verify-cache subcommand writes it; the export
// command neither reads nor writes it, and the exporter's own idempotence
// (skip-if-output-exists) does not depend on it.
package cache

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"os"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zstd"
	"go.etcd.io/bbolt"

	"github.com/anthemcas/anthemcas/internal/asset"
	"github.com/anthemcas/anthemcas/internal/bundle"
	"github.com/anthemcas/anthemcas/internal/game"
	"github.com/anthemcas/anthemcas/internal/index"
	"github.com/anthemcas/anthemcas/internal/layout"
	"github.com/anthemcas/anthemcas/internal/pkg"
)

var snapshotBucket = []byte("snapshots")

// FileEntry is a flattened, acyclic stand-in for asset.File: enough to
// report what was found without carrying the live object graph (which has
// interface fields and cross-tree pointers gob cannot round-trip).
type FileEntry struct {
	Name     string
	CasPath  string
	Sha1     []byte
	Flags    uint32
	Offset   uint32
	Size     uint32
	OrigSize uint32
}

// ResourceEntry adds the content-type id onto FileEntry.
type ResourceEntry struct {
	FileEntry
	ContentType uint32
}

// ChunkEntry adds the chunk-specific fields onto FileEntry.
type ChunkEntry struct {
	FileEntry
	UID           [16]byte
	LogicalOffset uint32
	LogicalSize   uint16
}

// BundleSnapshot is one bundle's flattened asset lists.
type BundleSnapshot struct {
	Name      string
	Ebx       []FileEntry
	Resources []ResourceEntry
	Chunks    []ChunkEntry
}

// SuperbundleSnapshot is one (split-)superbundle's flattened index.
type SuperbundleSnapshot struct {
	Name      string
	Resources []FileEntry
	Bundles   []BundleSnapshot
}

// PackageSnapshot is one package's flattened superbundles.
type PackageSnapshot struct {
	Idx               int
	Superbundles      []SuperbundleSnapshot
	SplitSuperbundles []SuperbundleSnapshot
}

// LayoutSnapshot is one layout's packages.
type LayoutSnapshot struct {
	Name     string
	Packages []PackageSnapshot
}

// GameSnapshot is the full flattened tree.
type GameSnapshot struct {
	Layouts []LayoutSnapshot
}

func flattenFile(f *asset.File, origSize uint32) FileEntry {
	e := FileEntry{
		Name:     f.Name,
		Sha1:     f.Sha1,
		Flags:    f.Flags,
		Offset:   f.Offset,
		Size:     f.Size,
		OrigSize: origSize,
	}
	if f.Cas != nil {
		e.CasPath = f.Cas.ArchivePath()
	}
	return e
}

func snapshotBundle(b *bundle.Bundle) BundleSnapshot {
	bs := BundleSnapshot{Name: b.Name}
	for _, e := range b.Ebx {
		bs.Ebx = append(bs.Ebx, flattenFile(&e.File, e.OrigSize))
	}
	for _, r := range b.Resources {
		bs.Resources = append(bs.Resources, ResourceEntry{
			FileEntry:   flattenFile(&r.File, r.OrigSize),
			ContentType: r.ContentType,
		})
	}
	for _, c := range b.Chunks {
		bs.Chunks = append(bs.Chunks, ChunkEntry{
			FileEntry:     flattenFile(&c.File, c.OrigSize()),
			UID:           c.UID,
			LogicalOffset: c.LogicalOffset,
			LogicalSize:   c.LogicalSize,
		})
	}
	return bs
}

func snapshotIndex(name string, idx *index.Index) SuperbundleSnapshot {
	ss := SuperbundleSnapshot{Name: name}
	if idx == nil {
		return ss
	}
	for _, r := range idx.Resources {
		ss.Resources = append(ss.Resources, flattenFile(&r.File, r.OrigSize))
	}
	for _, b := range idx.Bundles {
		ss.Bundles = append(ss.Bundles, snapshotBundle(b))
	}
	return ss
}

// BuildSnapshot walks an already-loaded package's superbundles (as returned
// by pkg.Package.LoadSuperbundles) into a flat PackageSnapshot.
func BuildSnapshot(p *pkg.Package, superbundles, split map[string]*index.Index) PackageSnapshot {
	ps := PackageSnapshot{Idx: p.Idx}
	for name, idx := range superbundles {
		ps.Superbundles = append(ps.Superbundles, snapshotIndex(name, idx))
	}
	for name, idx := range split {
		ps.SplitSuperbundles = append(ps.SplitSuperbundles, snapshotIndex(name, idx))
	}
	return ps
}

// Fingerprint hashes the size and modification time of both layouts' TOC
// files, so a changed install invalidates the cache without re-parsing it.
func Fingerprint(g *game.Game) (uint64, error) {
	h := xxhash.New()
	for _, l := range g.Layouts() {
		if err := hashLayoutToc(h, l); err != nil {
			return 0, err
		}
	}
	return h.Sum64(), nil
}

func hashLayoutToc(h *xxhash.Digest, l *layout.Layout) error {
	info, err := os.Stat(l.AbsDir() + "/layout.toc")
	if err != nil {
		return fmt.Errorf("fingerprinting %s layout: %w", l.Name, err)
	}
	fmt.Fprintf(h, "%s:%d:%d\n", l.Name, info.Size(), info.ModTime().UnixNano())
	return nil
}

// Cache wraps a bbolt database holding zstd-compressed, gob-encoded
// GameSnapshots keyed by Fingerprint.
type Cache struct {
	db *bbolt.DB
}

// Open opens (creating if necessary) the cache database at path.
func Open(path string) (*Cache, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("opening cache %q: %w", path, err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(snapshotBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, err
	}
	return &Cache{db: db}, nil
}

// Close closes the underlying database.
func (c *Cache) Close() error { return c.db.Close() }

// Store gob-encodes and zstd-compresses snapshot, storing it under key.
func (c *Cache) Store(key uint64, snapshot *GameSnapshot) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(snapshot); err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return fmt.Errorf("constructing zstd writer: %w", err)
	}
	defer enc.Close()
	compressed := enc.EncodeAll(buf.Bytes(), nil)

	return c.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(snapshotBucket).Put(keyBytes(key), compressed)
	})
}

// Load retrieves and decodes the snapshot stored under key, if any.
func (c *Cache) Load(key uint64) (*GameSnapshot, bool, error) {
	var compressed []byte
	if err := c.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(snapshotBucket).Get(keyBytes(key))
		if v != nil {
			compressed = append([]byte(nil), v...)
		}
		return nil
	}); err != nil {
		return nil, false, err
	}
	if compressed == nil {
		return nil, false, nil
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, false, fmt.Errorf("constructing zstd reader: %w", err)
	}
	defer dec.Close()
	raw, err := dec.DecodeAll(compressed, nil)
	if err != nil {
		return nil, false, fmt.Errorf("decompressing snapshot: %w", err)
	}

	var snap GameSnapshot
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&snap); err != nil {
		return nil, false, fmt.Errorf("decoding snapshot: %w", err)
	}
	return &snap, true, nil
}

// Drop removes every stored snapshot.
func (c *Cache) Drop() error {
	return c.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(snapshotBucket); err != nil && err != bbolt.ErrBucketNotFound {
			return err
		}
		_, err := tx.CreateBucket(snapshotBucket)
		return err
	})
}

func keyBytes(key uint64) []byte {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[i] = byte(key >> (8 * (7 - i)))
	}
	return b
}
