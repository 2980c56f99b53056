package export

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/anthemcas/anthemcas/internal/asset"
	"github.com/anthemcas/anthemcas/internal/cas"
	"github.com/anthemcas/anthemcas/internal/decompress"
)

type fakeCasRef struct {
	path   string
	layout string
}

func (f *fakeCasRef) String() string      { return f.path }
func (f *fakeCasRef) ArchivePath() string { return f.path }
func (f *fakeCasRef) LayoutName() string  { return f.layout }

func blockHeader(size uint32, magic, compressedSize uint16) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint32(b[0:4], size)
	binary.BigEndian.PutUint16(b[4:6], magic)
	binary.BigEndian.PutUint16(b[6:8], compressedSize)
	return b
}

func newTestDriver(t *testing.T, outputFolder string) *Driver {
	t.Helper()
	return &Driver{
		Config:   &Config{OutputFolder: outputFolder, ExportEbx: true},
		Logger:   zap.NewNop(),
		Registry: decompress.NewRegistry(),
		handles:  cas.NewHandleCache(),
	}
}

func TestExportFileWritesDecodedPayload(t *testing.T) {
	root := t.TempDir()
	payload := []byte("ebx payload bytes")

	var archive bytes.Buffer
	archive.Write(blockHeader(uint32(len(payload)), 0x70, uint16(len(payload))))
	archive.Write(payload)
	casPath := filepath.Join(root, "cas01.cas")
	require.NoError(t, os.WriteFile(casPath, archive.Bytes(), 0o644))

	d := newTestDriver(t, filepath.Join(root, "out"))

	f := &asset.File{Cas: &fakeCasRef{path: casPath, layout: "Data"}, Offset: 0, Size: uint32(archive.Len())}
	size := uint32(len(payload))
	require.NoError(t, d.exportFile(f, "characters/human.ebx", &size))

	got, err := os.ReadFile(filepath.Join(root, "out", "Data", "characters/human.ebx"))
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestExportFileMissingCasIsIncomplete(t *testing.T) {
	root := t.TempDir()
	d := newTestDriver(t, filepath.Join(root, "out"))

	f := &asset.File{}
	err := d.exportFile(f, "dest.ebx", nil)
	var incomplete *IncompleteFileRecordError
	require.ErrorAs(t, err, &incomplete)
}

// TestExportFileRootsUnderResolvedCasLayout covers spec scenario 5: a file
// belonging to a Patch package whose cas_id has is_patch==0 resolves (via
// ResolveCasID) to its Data parent's CAS, and must export under Data even
// though nothing in exportFile ever sees the Patch layout it was reached
// through.
func TestExportFileRootsUnderResolvedCasLayout(t *testing.T) {
	root := t.TempDir()
	payload := []byte("chunk payload")

	var archive bytes.Buffer
	archive.Write(blockHeader(uint32(len(payload)), 0x70, uint16(len(payload))))
	archive.Write(payload)
	casPath := filepath.Join(root, "cas01.cas")
	require.NoError(t, os.WriteFile(casPath, archive.Bytes(), 0o644))

	d := newTestDriver(t, filepath.Join(root, "out"))

	f := &asset.File{Cas: &fakeCasRef{path: casPath, layout: "Data"}, Offset: 0, Size: uint32(archive.Len())}
	size := uint32(len(payload))
	require.NoError(t, d.exportFile(f, "chunks/a.chunk", &size))

	_, err := os.ReadFile(filepath.Join(root, "out", "Data", "chunks/a.chunk"))
	require.NoError(t, err, "file should be rooted under the resolved CAS's layout (Data), not any iterating Patch layout")
}

func TestExportSuperbundleSkipsAbsentIndex(t *testing.T) {
	root := t.TempDir()
	d := newTestDriver(t, filepath.Join(root, "out"))

	require.NoError(t, d.exportSuperbundle("missing/superbundle", nil))
}

func TestNewDriverWithoutOodleConfigured(t *testing.T) {
	d, err := NewDriver(&Config{}, zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, d.Registry)
}

func TestNewDriverOodlePathLoadFailure(t *testing.T) {
	_, err := NewDriver(&Config{OodlePath: filepath.Join(t.TempDir(), "missing.so")}, zap.NewNop())
	require.Error(t, err)
}
