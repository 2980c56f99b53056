// Package game implements the root entity: a game install composed of its
// "Data" (base) and "Patch" (overlay) layouts.
package game

import (
	"fmt"

	"github.com/anthemcas/anthemcas/internal/cas"
	"github.com/anthemcas/anthemcas/internal/layout"
)

// Game is the root of a loaded install.
type Game struct {
	Root    string
	Data    *layout.Layout
	Patch   *layout.Layout
	Handles *cas.HandleCache
}

// Load reads both layouts under root, wiring Patch's packages to Data's
// same-index packages as parents.
func Load(root string) (*Game, error) {
	handles := cas.NewHandleCache()

	data, err := layout.Load(root, "Data", "Data", nil, handles)
	if err != nil {
		return nil, fmt.Errorf("loading game at %q: %w", root, err)
	}
	patch, err := layout.Load(root, "Patch", "Patch", data, handles)
	if err != nil {
		return nil, fmt.Errorf("loading game at %q: %w", root, err)
	}

	return &Game{Root: root, Data: data, Patch: patch, Handles: handles}, nil
}

// Layouts returns both layouts in Data-then-Patch order, the order the
// exporter walks them in.
func (g *Game) Layouts() []*layout.Layout {
	return []*layout.Layout{g.Data, g.Patch}
}

// Close releases every archive handle opened while loading and exporting
// this install.
func (g *Game) Close() error {
	return g.Handles.CloseAll()
}
