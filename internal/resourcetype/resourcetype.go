// Package resourcetype maps a content-type id (as stored on a Resource
// record) to the output file extension an exporter should use.
//
// The public Frostbite tooling references only document a handful of
// content types; everything else falls back to a synthetic extension that
// encodes the id itself, so export never has to refuse an asset just
// because its type isn't in the table.
package resourcetype

import "fmt"

// known holds the content types documented in public Frostbite tooling
// references. It is intentionally small: extending it is safe (ids not
// listed here still export, just under a less friendly name).
var known = map[uint32]string{
	0x1CA9A019: ".mesh",
	0x1951FF39: ".tex",
	0x0C8DFF79: ".shaderdb",
	0x6DB0B8DC: ".shader",
	0x49DAF982: ".meshset",
}

// Ext returns the output extension for a content-type id, falling back to
// ".res_<id-hex>" when the id is not in the known table.
func Ext(contentType uint32) string {
	if ext, ok := known[contentType]; ok {
		return ext
	}
	return fmt.Sprintf(".res_%x", contentType)
}

// Name returns a short human-readable label for logging: the known
// extension without its dot, or "unknown(0x<id>)" so unknown types are
// still distinguishable from one another.
func Name(contentType uint32) string {
	if ext, ok := known[contentType]; ok {
		return ext[1:]
	}
	return fmt.Sprintf("unknown(0x%x)", contentType)
}
