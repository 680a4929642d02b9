package engine

import (
	"context"
	"os"

	"github.com/SimonWaldherr/tinydoc/internal/docstore"
	"github.com/SimonWaldherr/tinydoc/internal/document"
	"github.com/SimonWaldherr/tinydoc/internal/index"
	"github.com/SimonWaldherr/tinydoc/internal/pager"
)

// Compact rebuilds the database file from scratch, copying only the
// documents every remaining collection's heap scan reaches and rebuilding
// every index from them. Dropped collections and tombstoned/overflow
// pages they left behind are never visited, so the rebuilt file holds
// only live data (spec scenario S2: "file size returns to header-only
// occupancy after a subsequent compact, free pages reused").
//
// Compact takes the engine's write lock for its entire run — it is a
// maintenance operation, not expected to run concurrently with normal
// traffic.
func (e *Engine) Compact(ctx context.Context) error {
	if err := e.checkOpen("Compact"); err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if err := acquireLock(ctx, e.writeLock.TryLock, e.opts.LockTimeout, e.opts.Logger, "Compact"); err != nil {
		return err
	}
	defer e.writeLock.Unlock()

	e.catalogMu.Lock()
	defer e.catalogMu.Unlock()

	tmpPath := e.pager.Path() + ".compact.tmp"
	os.Remove(tmpPath)
	newPager, err := pager.Open(pager.Config{
		Path:          tmpPath,
		PageSize:      e.pager.PageSize(),
		MaxCachePages: int(e.opts.CachePages),
	})
	if err != nil {
		return wrapErr(KindIoError, "Compact", err)
	}

	newCollections := make(map[string]*Collection, len(e.collections))
	for name, c := range e.collections {
		if err := checkCtx(ctx); err != nil {
			newPager.Close()
			os.Remove(tmpPath)
			return wrapErr(KindCancelled, "Compact", err)
		}
		nc, err := copyCollectionLive(newPager, c)
		if err != nil {
			newPager.Close()
			os.Remove(tmpPath)
			return wrapErr(KindIoError, "Compact", err)
		}
		newCollections[name] = nc
	}

	// Persist every copied collection's catalog record before handing the
	// new pager over; these writes become the new file's only catalog
	// chain, prepended in map-iteration (i.e. arbitrary) order, which is
	// fine since chain order carries no meaning.
	for name, nc := range newCollections {
		rec := collRecord{Name: name, DocHead: nc.store.HeadPage(), Indexes: nc.indexes.Snapshot()}
		pageID, err := createCatalogEntry(newPager, rec)
		if err != nil {
			newPager.Close()
			os.Remove(tmpPath)
			return wrapErr(KindIoError, "Compact", err)
		}
		nc.catalogPage = pageID
	}

	if err := newPager.Flush(); err != nil {
		newPager.Close()
		os.Remove(tmpPath)
		return wrapErr(KindIoError, "Compact", err)
	}
	if err := newPager.Close(); err != nil {
		os.Remove(tmpPath)
		return wrapErr(KindIoError, "Compact", err)
	}

	if err := e.pager.Close(); err != nil {
		return wrapErr(KindIoError, "Compact", err)
	}
	if e.journal != nil {
		if err := e.journal.Close(); err != nil {
			return wrapErr(KindIoError, "Compact", err)
		}
	}
	if err := os.Rename(tmpPath, e.pager.Path()); err != nil {
		return wrapErr(KindIoError, "Compact", err)
	}
	if err := os.Remove(e.journalPath); err != nil && !os.IsNotExist(err) {
		return wrapErr(KindIoError, "Compact", err)
	}

	reopened, err := Open(e.pager.Path(), e.opts)
	if err != nil {
		return wrapErr(KindIoError, "Compact", err)
	}
	e.pager = reopened.pager
	e.journal = reopened.journal
	e.collections = reopened.collections
	for _, nc := range e.collections {
		nc.eng = e
	}
	return nil
}

// copyCollectionLive replays c's live documents into a fresh collection
// on newPager, preserving c's index declarations (but not their physical
// tree shape — each index is rebuilt via ordinary inserts).
func copyCollectionLive(newPager *pager.Pager, c *Collection) (*Collection, error) {
	declared := make([]index.Descriptor, 0)
	for _, d := range c.indexes.List() {
		if d.Name == index.PrimaryIndexName {
			continue
		}
		declared = append(declared, d)
	}

	store, err := docstore.Create(newPager)
	if err != nil {
		return nil, err
	}
	mgr, err := index.New(newPager, declared)
	if err != nil {
		return nil, err
	}

	var scanErr error
	err = c.store.Scan(func(_ docstore.Locator, doc *document.Document) bool {
		loc, putErr := store.Put(doc)
		if putErr != nil {
			scanErr = putErr
			return false
		}
		if insErr := mgr.InsertDocument(doc, loc.Encode()); insErr != nil {
			scanErr = insErr
			return false
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	if scanErr != nil {
		return nil, scanErr
	}

	return &Collection{name: c.name, store: store, indexes: mgr}, nil
}
