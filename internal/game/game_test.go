package game

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/anthemcas/anthemcas/internal/toc"
)

func cstr(s string) []byte { return append([]byte(s), 0x00) }

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

func chunkNode(name, installBundle string, id []byte) []byte {
	return compositeNode(
		stringField("name", name),
		stringField("installBundle", installBundle),
		listField("splitSuperbundles"),
		listField("superbundles"),
		bytesField16("id", id),
	)
}

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

func writeInstall(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	id := make([]byte, 16)
	writeLayoutToc(t, filepath.Join(root, "Data"), chunkNode("base0", "base0", id))
	writeLayoutToc(t, filepath.Join(root, "Patch"), chunkNode("patch0", "patch0", id))
	return root
}

func TestLoadWiresPatchParentToData(t *testing.T) {
	root := writeInstall(t)

	g, err := Load(root)
	require.NoError(t, err)
	require.Equal(t, root, g.Root)
	require.NotNil(t, g.Data)
	require.NotNil(t, g.Patch)

	dataPkg, ok := g.Data.PackageByIndex(0)
	require.True(t, ok)
	patchPkg, ok := g.Patch.PackageByIndex(0)
	require.True(t, ok)
	require.Same(t, dataPkg, patchPkg.Parent)
}

func TestLayoutsReturnsDataThenPatch(t *testing.T) {
	root := writeInstall(t)
	g, err := Load(root)
	require.NoError(t, err)

	layouts := g.Layouts()
	require.Len(t, layouts, 2)
	require.Same(t, g.Data, layouts[0])
	require.Same(t, g.Patch, layouts[1])
}

func TestLoadMissingPatchLayoutErrors(t *testing.T) {
	root := t.TempDir()
	id := make([]byte, 16)
	writeLayoutToc(t, filepath.Join(root, "Data"), chunkNode("base0", "base0", id))
	// no Patch/layout.toc written

	_, err := Load(root)
	require.Error(t, err)
}

func TestCloseClosesHandles(t *testing.T) {
	root := writeInstall(t)
	g, err := Load(root)
	require.NoError(t, err)
	require.NoError(t, g.Close())
}
