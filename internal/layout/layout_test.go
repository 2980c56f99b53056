package layout

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/anthemcas/anthemcas/internal/cas"
	"github.com/anthemcas/anthemcas/internal/toc"
)

func cstr(s string) []byte { return append([]byte(s), 0x00) }

// leb128 encodes v as an unbounded little-endian base-128 varint, matching
// stream.Reader.LEB128's decode loop (7 payload bits per byte, MSB set on
// every byte but the last).
func leb128(v uint64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			out = append(out, b|0x80)
		} else {
			out = append(out, b)
			return out
		}
	}
}

func stringField(key, s string) []byte {
	b := []byte{0x07}
	b = append(b, cstr(key)...)
	b = append(b, leb128(uint64(len(s)+1))...)
	b = append(b, []byte(s)...)
	b = append(b, 0x00)
	return b
}

func bytesField16(key string, v []byte) []byte {
	b := []byte{0x0f}
	b = append(b, cstr(key)...)
	b = append(b, v...)
	return b
}

// bytesField encodes a size-prefixed raw-bytes field (tag 0x13), the
// original's encoding for superbundles[].data (decoded there via
// .decode('utf-8'), not as a NUL-terminated string).
func bytesField(key string, v []byte) []byte {
	b := []byte{0x13}
	b = append(b, cstr(key)...)
	b = append(b, leb128(uint64(len(v)))...)
	b = append(b, v...)
	return b
}

// compositeNode encodes a standalone composite (used for list items): a
// field-less-named record, tag 0x82.
func compositeNode(fields ...[]byte) []byte {
	var body []byte
	for _, f := range fields {
		body = append(body, f...)
	}
	body = append(body, 0x00)
	out := []byte{0x82}
	out = append(out, leb128(uint64(len(body)))...)
	out = append(out, body...)
	return out
}

// compositeField encodes a nested-composite field (field-tag 0x02). addField
// rewinds to the tag byte and re-parses via Parse's own 0x02 (named
// composite) branch, so the tag and key bytes are shared between the field
// header and the composite's own record header, not duplicated.
func compositeField(key string, fields ...[]byte) []byte {
	var body []byte
	for _, f := range fields {
		body = append(body, f...)
	}
	body = append(body, 0x00)
	out := []byte{0x02}
	out = append(out, cstr(key)...)
	out = append(out, leb128(uint64(len(body)))...)
	out = append(out, body...)
	return out
}

func listField(key string, items ...[]byte) []byte {
	var body []byte
	for _, it := range items {
		body = append(body, it...)
	}
	body = append(body, 0x00)
	out := []byte{0x01}
	out = append(out, cstr(key)...)
	out = append(out, leb128(uint64(len(body)))...)
	out = append(out, body...)
	return out
}

func chunkNode(name, installBundle string, id []byte, superbundles, splitSuperbundles []string) []byte {
	var sbItems [][]byte
	for _, s := range superbundles {
		sbItems = append(sbItems, compositeNode(bytesField("data", []byte(s))))
	}
	var splitItems [][]byte
	for _, s := range splitSuperbundles {
		splitItems = append(splitItems, compositeNode(stringField("superbundle", s)))
	}
	return compositeNode(
		stringField("name", name),
		stringField("installBundle", installBundle),
		listField("splitSuperbundles", splitItems...),
		listField("superbundles", sbItems...),
		bytesField16("id", id),
	)
}

// writeLayoutToc builds a full layout.toc (outer magic+header, then a
// record-encoded installManifest.installChunks payload) at dir/layout.toc.
func writeLayoutToc(t *testing.T, dir string, chunks ...[]byte) {
	t.Helper()

	installManifest := compositeField("installManifest", listField("installChunks", chunks...))
	rootBody := append([]byte{}, installManifest...)
	rootBody = append(rootBody, 0x00)
	payload := []byte{0x02}
	payload = append(payload, cstr("root")...)
	payload = append(payload, leb128(uint64(len(rootBody)))...)
	payload = append(payload, rootBody...)

	out := make([]byte, toc.PayloadOffset+len(payload))
	binary.BigEndian.PutUint32(out[0:4], toc.Magic)
	copy(out[toc.PayloadOffset:], payload)

	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "layout.toc"), out, 0o644))
}

func TestLoadSingleChunkNoParent(t *testing.T) {
	root := t.TempDir()
	dataDir := filepath.Join(root, "Data")
	id := make([]byte, 16)
	id[0] = 0xAB

	writeLayoutToc(t, dataDir, chunkNode("chunk0", "chunk0", id, []string{"sb1"}, []string{"sb_split1"}))

	l, err := Load(root, "Data", "Data", nil, cas.NewHandleCache())
	require.NoError(t, err)
	require.Equal(t, "Data", l.Name)
	require.Len(t, l.Packages, 1)

	p, ok := l.PackageByIndex(0)
	require.True(t, ok)
	require.Equal(t, "chunk0", p.Name)
	require.Equal(t, []string{"sb1"}, p.SuperbundleNames)
	require.Equal(t, []string{"sb_split1"}, p.SplitSuperbundleNames)
	require.Equal(t, byte(0xAB), p.ID[0])
	require.Nil(t, p.Parent)
}

func TestLoadChainsToParentByIndex(t *testing.T) {
	root := t.TempDir()
	id := make([]byte, 16)

	writeLayoutToc(t, filepath.Join(root, "Data"),
		chunkNode("base0", "base0", id, nil, nil))
	dataLayout, err := Load(root, "Data", "Data", nil, cas.NewHandleCache())
	require.NoError(t, err)

	writeLayoutToc(t, filepath.Join(root, "Patch"),
		chunkNode("patch0", "patch0", id, nil, nil))
	patchLayout, err := Load(root, "Patch", "Patch", dataLayout, cas.NewHandleCache())
	require.NoError(t, err)

	p, ok := patchLayout.PackageByIndex(0)
	require.True(t, ok)
	require.NotNil(t, p.Parent)

	base, _ := dataLayout.PackageByIndex(0)
	require.Same(t, base, p.Parent)
}

func TestLoadMultipleChunksDenselyIndexed(t *testing.T) {
	root := t.TempDir()
	id := make([]byte, 16)

	writeLayoutToc(t, filepath.Join(root, "Data"),
		chunkNode("chunk0", "chunk0", id, nil, nil),
		chunkNode("chunk1", "chunk1", id, nil, nil),
	)

	l, err := Load(root, "Data", "Data", nil, cas.NewHandleCache())
	require.NoError(t, err)
	require.Len(t, l.Packages, 2)

	p0, ok := l.PackageByIndex(0)
	require.True(t, ok)
	require.Equal(t, "chunk0", p0.Name)
	p1, ok := l.PackageByIndex(1)
	require.True(t, ok)
	require.Equal(t, "chunk1", p1.Name)
}

func TestLoadMissingInstallManifestErrors(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "Data")

	// root composite with no installManifest field at all.
	rootBody := []byte{0x00}
	payload := []byte{0x02}
	payload = append(payload, cstr("root")...)
	payload = append(payload, byte(len(rootBody)))
	payload = append(payload, rootBody...)

	out := make([]byte, toc.PayloadOffset+len(payload))
	binary.BigEndian.PutUint32(out[0:4], toc.Magic)
	copy(out[toc.PayloadOffset:], payload)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "layout.toc"), out, 0o644))

	_, err := Load(root, "Data", "Data", nil, cas.NewHandleCache())
	require.Error(t, err)
}

func TestLoadBadMagicWraps(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "Data")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "layout.toc"), []byte{0xDE, 0xAD, 0xBE, 0xEF}, 0o644))

	_, err := Load(root, "Data", "Data", nil, cas.NewHandleCache())
	var bad *toc.BadMagicError
	require.ErrorAs(t, err, &bad)
}
