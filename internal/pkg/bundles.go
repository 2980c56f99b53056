package pkg

import (
	"errors"
	"io"
	"io/fs"
	"path/filepath"
	"strings"

	"golang.org/x/exp/mmap"

	"github.com/anthemcas/anthemcas/internal/asset"
	"github.com/anthemcas/anthemcas/internal/index"
	"github.com/anthemcas/anthemcas/internal/toc"
)

// win32Prefix is stripped from split-superbundle names before they are
// joined onto the package directory.
const win32Prefix = "Win32/"

// OpenCas implements bundle.CasResolver/index.CasResolver: it resolves a
// ref to the shared, memory-mapped archive handle.
func (p *Package) OpenCas(ref asset.CasRef) (io.ReaderAt, error) {
	return p.Handles.Get(ref.ArchivePath())
}

// LoadSuperbundles loads every superbundle and split-superbundle this
// package declares, skipping (not failing) any whose .toc is absent.
func (p *Package) LoadSuperbundles() (superbundles, splitSuperbundles map[string]*index.Index, err error) {
	superbundles = make(map[string]*index.Index)
	for _, name := range p.SuperbundleNames {
		path := filepath.Join(p.Layout.AbsDir(), name)
		idx, err := p.loadOne(path)
		if err != nil {
			return nil, nil, err
		}
		superbundles[name] = idx
	}

	splitSuperbundles = make(map[string]*index.Index)
	for _, name := range p.SplitSuperbundleNames {
		trimmed := strings.TrimPrefix(name, win32Prefix)
		path := filepath.Join(p.AbsDir(), trimmed)
		idx, err := p.loadOne(path)
		if err != nil {
			return nil, nil, err
		}
		splitSuperbundles[name] = idx
	}
	return superbundles, splitSuperbundles, nil
}

// loadOne loads the <path>.toc+<path>.sb pair, returning (nil, nil) if the
// .toc is simply absent from this install.
func (p *Package) loadOne(basePath string) (*index.Index, error) {
	tocPath := basePath + ".toc"
	sbPath := basePath + ".sb"

	payload, err := toc.ReadPayload(tocPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	sb, err := mmap.Open(sbPath)
	if err != nil {
		return nil, err
	}

	return index.Parse(payload, sb, p)
}
