// Package layout implements the top-level layout.toc loader (C5): it
// enumerates a game install's install chunks and instantiates one Package
// per chunk.
package layout

import (
	"bytes"
	"fmt"
	"path/filepath"

	"github.com/anthemcas/anthemcas/internal/cas"
	"github.com/anthemcas/anthemcas/internal/pkg"
	"github.com/anthemcas/anthemcas/internal/record"
	"github.com/anthemcas/anthemcas/internal/stream"
	"github.com/anthemcas/anthemcas/internal/toc"
)

// Layout is a discovered set of install chunks rooted at
// <game>/<Data|Patch>/layout.toc.
type Layout struct {
	Name     string // "Data" or "Patch"
	Dir      string // absolute directory
	Parent   *Layout
	Packages map[int]*pkg.Package
}

// AbsDir implements pkg.LayoutView.
func (l *Layout) AbsDir() string { return l.Dir }

// LayoutName implements pkg.LayoutView and asset.CasRef's transitive need to
// name the layout that owns a resolved CAS.
func (l *Layout) LayoutName() string { return l.Name }

// PackageByIndex implements pkg.LayoutView.
func (l *Layout) PackageByIndex(idx int) (*pkg.Package, bool) {
	p, ok := l.Packages[idx]
	return p, ok
}

// Load reads <gameRoot>/<subdir>/layout.toc and builds one Package per
// install chunk, densely numbered from 0. parent, when non-nil, supplies
// the same-index Package each new Package chains to.
func Load(gameRoot, subdir, name string, parent *Layout, handles *cas.HandleCache) (*Layout, error) {
	dir := filepath.Join(gameRoot, subdir)
	payload, err := toc.ReadPayload(filepath.Join(dir, "layout.toc"))
	if err != nil {
		return nil, fmt.Errorf("loading %s layout: %w", name, err)
	}

	r := stream.New(bytes.NewReader(payload), 0)
	root, err := record.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parsing %s layout.toc record: %w", name, err)
	}
	installManifest, err := root.Composite("installManifest")
	if err != nil {
		return nil, err
	}
	if installManifest == nil {
		return nil, fmt.Errorf("%s layout.toc: missing installManifest", name)
	}
	chunks, err := installManifest.List("installChunks")
	if err != nil {
		return nil, err
	}

	l := &Layout{Name: name, Dir: dir, Parent: parent, Packages: make(map[int]*pkg.Package, len(chunks))}

	for idx, chunkNode := range chunks {
		p, err := buildPackage(l, idx, chunkNode, parent, handles)
		if err != nil {
			return nil, fmt.Errorf("%s layout, install chunk %d: %w", name, idx, err)
		}
		l.Packages[idx] = p
	}
	return l, nil
}

func buildPackage(l *Layout, idx int, chunkNode *record.Node, parent *Layout, handles *cas.HandleCache) (*pkg.Package, error) {
	chunkName, err := chunkNode.String("name")
	if err != nil {
		return nil, err
	}
	installBundle, err := chunkNode.String("installBundle")
	if err != nil {
		return nil, err
	}

	splitSBNodes, err := chunkNode.List("splitSuperbundles")
	if err != nil {
		return nil, err
	}
	splitNames := make([]string, 0, len(splitSBNodes))
	for _, n := range splitSBNodes {
		s, err := n.String("superbundle")
		if err != nil {
			return nil, err
		}
		splitNames = append(splitNames, s)
	}

	sbNodes, err := chunkNode.List("superbundles")
	if err != nil {
		return nil, err
	}
	sbNames := make([]string, 0, len(sbNodes))
	for _, n := range sbNodes {
		data, err := n.Bytes("data")
		if err != nil {
			return nil, err
		}
		sbNames = append(sbNames, string(data))
	}

	idBytes, err := chunkNode.Bytes("id")
	if err != nil {
		return nil, err
	}

	p := &pkg.Package{
		Layout:                l,
		Idx:                   idx,
		Name:                  chunkName,
		RelDir:                installBundle,
		Handles:               handles,
		SplitSuperbundleNames: splitNames,
		SuperbundleNames:      sbNames,
	}
	copy(p.ID[:], idBytes)

	if parent != nil {
		if parentPkg, ok := parent.PackageByIndex(idx); ok {
			p.Parent = parentPkg
		}
	}

	if err := p.DiscoverCasFiles(); err != nil {
		return nil, err
	}
	return p, nil
}
