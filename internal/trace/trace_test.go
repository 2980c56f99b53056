package trace

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEventDoneWritesJSONEventToSink(t *testing.T) {
	var buf bytes.Buffer
	Sink(&buf)

	ev := Event("exportLayout", 3)
	ev.Done()

	// Sink writes the opening '[' once, then each event followed by ','.
	body := bytes.TrimPrefix(buf.Bytes(), []byte{'['})
	body = bytes.TrimSuffix(body, []byte{','})

	var decoded PendingEvent
	require.NoError(t, json.Unmarshal(body, &decoded))
	require.Equal(t, "exportLayout", decoded.Name)
	require.Equal(t, "X", decoded.Type)
	require.Equal(t, uint64(3), decoded.Tid)
}

func TestEnableCreatesTraceFileUnderTempDir(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("TMPDIR", tmp)

	require.NoError(t, Enable("unittest"))

	entries, err := os.ReadDir(filepath.Join(tmp, "anthemcas.traces"))
	require.NoError(t, err)
	require.NotEmpty(t, entries)
}
