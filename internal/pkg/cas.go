package pkg

import "fmt"

// Cas is a single .cas archive discovered under a Package's directory. It is
// value-like: the file handle itself is acquired lazily through a shared
// cache (internal/cas.HandleCache), never stored here.
type Cas struct {
	Package *Package
	Path    string // absolute path
	Index   int    // 1-based position within Package.CasFiles
}

// String implements asset.CasRef.
func (c *Cas) String() string {
	return fmt.Sprintf("Cas(pkg=%d, index=%d, path=%s)", c.Package.Idx, c.Index, c.Path)
}

// ArchivePath implements asset.CasRef.
func (c *Cas) ArchivePath() string { return c.Path }

// LayoutName implements asset.CasRef.
func (c *Cas) LayoutName() string { return c.Package.Layout.LayoutName() }
