package resourcetype

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtKnown(t *testing.T) {
	require.Equal(t, ".mesh", Ext(0x1CA9A019))
	require.Equal(t, ".tex", Ext(0x1951FF39))
}

func TestExtUnknownFallsBackToHexID(t *testing.T) {
	require.Equal(t, ".res_cafef00d", Ext(0xCAFEF00D))
}

func TestNameUnknown(t *testing.T) {
	require.Equal(t, "unknown(0xcafef00d)", Name(0xCAFEF00D))
}

func TestNameKnownStripsDot(t *testing.T) {
	require.Equal(t, "mesh", Name(0x1CA9A019))
}
