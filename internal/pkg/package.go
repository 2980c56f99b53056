// Package pkg implements the install-chunk ("Package") entity and the
// 32-bit CAS-identifier resolution algorithm: enumerating the .cas files
// that belong to one install chunk and deciding which archive (possibly in
// a parent layout) a given identifier names.
package pkg

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/anthemcas/anthemcas/internal/asset"
	"github.com/anthemcas/anthemcas/internal/cas"
)

// LayoutView is the subset of *layout.Layout a Package needs: looking up a
// sibling package by index within the same layout. Declaring it here (the
// consumer) rather than importing internal/layout (the producer) avoids a
// layout<->pkg import cycle, since internal/layout must also construct
// Packages.
type LayoutView interface {
	PackageByIndex(idx int) (*Package, bool)
	AbsDir() string
	LayoutName() string
}

// Package is one install chunk: a directory of .cas archives plus the
// superbundle/split-superbundle names it ships, as declared by the layout
// loader.
type Package struct {
	Layout  LayoutView
	Idx     int
	Name    string // installChunks[i].name, for diagnostics
	ID      [16]byte // installChunks[i].id
	RelDir  string // installBundle, relative to the layout directory
	Parent  *Package
	Handles *cas.HandleCache

	CasFiles []*Cas

	// SplitSuperbundleNames and SuperbundleNames are populated by the
	// layout loader from installChunks[i].splitSuperbundles[].superbundle
	// and installChunks[i].superbundles[].data respectively.
	SplitSuperbundleNames []string
	SuperbundleNames      []string
}

// AbsDir returns the package's absolute directory.
func (p *Package) AbsDir() string {
	return filepath.Join(p.Layout.AbsDir(), p.RelDir)
}

// DiscoverCasFiles enumerates the regular files directly under AbsDir whose
// name ends in ".cas", sorts them lexicographically by path, and populates
// CasFiles with a 1-based Index.
func (p *Package) DiscoverCasFiles() error {
	dir := p.AbsDir()
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			p.CasFiles = nil
			return nil
		}
		return fmt.Errorf("listing package directory %q: %w", dir, err)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".cas") {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	sort.Strings(paths)

	p.CasFiles = make([]*Cas, len(paths))
	for i, path := range paths {
		p.CasFiles[i] = &Cas{Package: p, Path: path, Index: i + 1}
	}
	return nil
}

// casIDBits decodes the 32-bit identifier's three fields.
func casIDBits(id uint32) (isPatch uint16, packageIndex, casIndex byte) {
	isPatch = uint16(id >> 16)
	packageIndex = byte(id >> 8)
	casIndex = byte(id)
	return
}

// ResolveCasID implements the six-step resolution rule set. It never
// returns an error: an unresolvable id simply yields ok==false ("none"),
// matching the contract that callers (bundle/index payload parsing) decide
// whether that absence is fatal.
func (p *Package) ResolveCasID(id uint32) (asset.CasRef, bool) {
	isPatch, packageIndex, casIndex := casIDBits(id)

	if casIndex == 0 {
		return nil, false
	}
	if isPatch != 0 && isPatch != 1 {
		return nil, false
	}

	var target *Package
	if int(packageIndex) == p.Idx {
		target = p
	} else if other, ok := p.Layout.PackageByIndex(int(packageIndex)); ok {
		target = other
	} else {
		return nil, false
	}

	if isPatch == 0 && target.Parent != nil {
		target = target.Parent
	}

	if int(casIndex) > len(target.CasFiles) {
		return nil, false
	}
	return target.CasFiles[casIndex-1], true
}
