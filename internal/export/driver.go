package export

import (
	"context"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/anthemcas/anthemcas/internal/asset"
	"github.com/anthemcas/anthemcas/internal/bundle"
	"github.com/anthemcas/anthemcas/internal/cas"
	"github.com/anthemcas/anthemcas/internal/decompress"
	"github.com/anthemcas/anthemcas/internal/game"
	"github.com/anthemcas/anthemcas/internal/index"
	"github.com/anthemcas/anthemcas/internal/layout"
	"github.com/anthemcas/anthemcas/internal/pkg"
)

// IncompleteFileRecordError reports a File missing the cas/offset/size
// triple an export requires.
type IncompleteFileRecordError struct {
	Name string
}

func (e *IncompleteFileRecordError) Error() string {
	return fmt.Sprintf("file record %q is missing its cas/offset/size location", e.Name)
}

// Driver drives a full export run.
type Driver struct {
	Config   *Config
	Logger   *zap.Logger
	Registry *decompress.Registry

	handles *cas.HandleCache
}

// NewDriver constructs a Driver, wiring an Oodle decompressor in if the
// configuration names one.
func NewDriver(cfg *Config, logger *zap.Logger) (*Driver, error) {
	registry := decompress.NewRegistry()
	if cfg.OodlePath != "" {
		o, err := decompress.OpenOodle(cfg.OodlePath)
		if err != nil {
			return nil, fmt.Errorf("loading oodle library: %w", err)
		}
		registry.Register(decompress.Oodle, o)
	}
	return &Driver{Config: cfg, Logger: logger, Registry: registry}, nil
}

// Export walks g's two layouts and materializes every enabled asset kind.
func (d *Driver) Export(ctx context.Context, g *game.Game) error {
	d.handles = g.Handles

	eg, ctx := errgroup.WithContext(ctx)
	for _, l := range g.Layouts() {
		l := l
		eg.Go(func() error { return d.exportLayout(ctx, l) })
	}
	return eg.Wait()
}

func (d *Driver) exportLayout(ctx context.Context, l *layout.Layout) error {
	eg, ctx := errgroup.WithContext(ctx)
	for _, p := range l.Packages {
		p := p
		eg.Go(func() error { return d.exportPackage(ctx, p) })
	}
	return eg.Wait()
}

func (d *Driver) exportPackage(ctx context.Context, p *pkg.Package) error {
	superbundles, split, err := p.LoadSuperbundles()
	if err != nil {
		return fmt.Errorf("loading superbundles for package %d (%s): %w", p.Idx, p.Name, err)
	}

	eg, _ := errgroup.WithContext(ctx)
	for name, idx := range superbundles {
		name, idx := name, idx
		eg.Go(func() error { return d.exportSuperbundle(name, idx) })
	}
	for name, idx := range split {
		name, idx := name, idx
		eg.Go(func() error { return d.exportSuperbundle(name, idx) })
	}
	return eg.Wait()
}

func (d *Driver) exportSuperbundle(name string, idx *index.Index) error {
	if idx == nil {
		d.Logger.Debug("superbundle absent", zap.String("name", name))
		return nil
	}

	if d.Config.ExportTocResources {
		for _, res := range idx.Resources {
			destName := filepath.Join("TocResources", name, res.Filename())
			if err := d.exportFile(&res.File, destName, nil); err != nil {
				return err
			}
		}
	}

	for _, b := range idx.Bundles {
		if err := d.exportBundleAssets(b); err != nil {
			return err
		}
	}
	return nil
}

func (d *Driver) exportBundleAssets(b *bundle.Bundle) error {
	if d.Config.ExportEbx {
		for _, e := range b.Ebx {
			size := e.OrigSize
			if err := d.exportFile(&e.File, e.Filename(), &size); err != nil {
				return err
			}
		}
	}
	if d.Config.ExportResources {
		for _, r := range b.Resources {
			size := r.OrigSize
			if err := d.exportFile(&r.File, r.Filename(), &size); err != nil {
				return err
			}
		}
	}
	if d.Config.ExportChunks {
		for _, c := range b.Chunks {
			size := c.OrigSize()
			destName := filepath.Join(b.Name, c.Filename())
			if err := d.exportFile(&c.File, destName, &size); err != nil {
				return err
			}
		}
	}
	return nil
}

// exportFile materializes f to <output>/<layout-name>/<destName>, skipping
// if it already exists. The layout name is taken from f.Cas, the resolved
// CAS's owning package, not from whichever layout the caller is currently
// walking: a Patch package whose cas_id redirects to its Data parent
// (is_patch==0) exports under Data, matching the original. expectedOrigSize,
// when non-nil, is checked against the decoded output length.
func (d *Driver) exportFile(f *asset.File, destName string, expectedOrigSize *uint32) error {
	if f.Cas == nil {
		return &IncompleteFileRecordError{Name: destName}
	}

	destPath := filepath.Join(d.Config.OutputFolder, f.Cas.LayoutName(), destName)

	ra, err := d.handles.Get(f.Cas.ArchivePath())
	if err != nil {
		return err
	}

	var expected *int64
	if expectedOrigSize != nil {
		v := int64(*expectedOrigSize)
		expected = &v
	}

	if err := cas.DecodeToPath(ra, int64(f.Offset), int64(f.Size), expected, d.Registry, destPath); err != nil {
		d.Logger.Error("export failed",
			zap.String("path", destPath),
			zap.String("cas", f.Cas.String()),
			zap.Error(err))
		return fmt.Errorf("exporting %q: %w", destPath, err)
	}
	d.Logger.Debug("exported", zap.String("path", destPath))
	return nil
}
