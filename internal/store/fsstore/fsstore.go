// Package fsstore stores chunks as block files and the catalog as JSON
// documents, both through the fs.FS abstraction so the same code runs on
// disk and in memory.
//
// Layout under root:
//
//	blocks/<hash>.bin
//	snapshots/<id>.json
//	snapshots/next-id.json
package fsstore

import (
	"path/filepath"

	"github.com/keshon/snapvault/internal/fs"
	"github.com/keshon/snapvault/internal/store"
)

// Open returns the block store and catalog rooted at root.
func Open(fsys fs.FS, root string) (*Blocks, *Catalog, error) {
	blocks, err := NewBlocks(fsys, filepath.Join(root, "blocks"))
	if err != nil {
		return nil, nil, err
	}
	catalog, err := NewCatalog(fsys, filepath.Join(root, "snapshots"))
	if err != nil {
		return nil, nil, err
	}
	return blocks, catalog, nil
}

// Backend opens root as a store.Backend.
func Backend(fsys fs.FS, root string) (*store.Backend, error) {
	blocks, catalog, err := Open(fsys, root)
	if err != nil {
		return nil, err
	}
	return store.NewBackend(blocks, catalog, nil), nil
}
