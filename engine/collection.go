package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/SimonWaldherr/tinydoc/internal/docstore"
	"github.com/SimonWaldherr/tinydoc/internal/document"
	"github.com/SimonWaldherr/tinydoc/internal/index"
	"github.com/SimonWaldherr/tinydoc/internal/pager"
	"github.com/SimonWaldherr/tinydoc/internal/value"
)

// Collection is one named group of documents: a document heap plus an
// index manager, guarded by its own reader/writer lock (spec §5, lock
// tier 2 — acquired under the engine's catalog mutex, above any index's
// own lock).
//
// Every mutating method obtained via Engine.Collection runs as its own
// implicit one-operation transaction: it takes the engine's write lock,
// does the edit, and runs the journal commit protocol before returning
// (spec: "all mutations run under the engine's transaction manager").
// Code that wants several edits to commit (or roll back) together should
// use Engine.Begin and TxCollection instead, which share one write lock
// and one commit across the whole scope.
type Collection struct {
	mu sync.RWMutex

	eng         *Engine
	name        string
	catalogPage pager.PageID
	store       *docstore.Store
	indexes     *index.Manager
}

// Name returns the collection's name.
func (c *Collection) Name() string { return c.name }

// IndexManager exposes the collection's index registry (spec §6.3:
// Collection.index_manager()).
func (c *Collection) IndexManager() *index.Manager { return c.indexes }

// Insert assigns a fresh ObjectID as "_id" if the document does not
// already carry one, stores it in the heap, and indexes it under every
// registered index, rolling back the heap insert if indexing fails
// (spec §4.H insert: "document store write, then index updates, as one
// logical unit"). The whole operation commits through the journal before
// Insert returns.
func (c *Collection) Insert(doc *document.Document) (value.ObjectID, error) {
	var id value.ObjectID
	err := c.eng.withWriteTx(context.Background(), "Insert", func() error {
		var err error
		id, err = c.insertRaw(doc)
		return err
	})
	return id, err
}

func (c *Collection) insertRaw(doc *document.Document) (value.ObjectID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id, err := ensureID(doc)
	if err != nil {
		return value.ObjectID{}, wrapErr(KindInvalidEncoding, "Insert", err)
	}

	loc, err := c.store.Put(doc)
	if err != nil {
		return value.ObjectID{}, wrapErr(KindIoError, "Insert", err)
	}
	if err := c.indexes.InsertDocument(doc, loc.Encode()); err != nil {
		_ = c.store.Delete(loc)
		return value.ObjectID{}, classifyIndexErr("Insert", err)
	}
	c.eng.markCatalogDirty(c)
	return id, nil
}

// Get looks up a document by "_id" via the primary index, returning
// (nil, nil) if absent (spec §6.3 Collection.get).
func (c *Collection) Get(id value.ObjectID) (*document.Document, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.getLocked(id)
}

func (c *Collection) getLocked(id value.ObjectID) (*document.Document, error) {
	_, doc, err := c.lookupByID(id)
	if err != nil {
		if err == docstore.ErrNotFound {
			return nil, nil
		}
		return nil, wrapErr(KindIoError, "Get", err)
	}
	return doc, nil
}

// lookupByID resolves id through the primary index and fetches the
// document at the Locator it names.
func (c *Collection) lookupByID(id value.ObjectID) (docstore.Locator, *document.Document, error) {
	primary, ok := c.indexes.GetIndex(index.PrimaryIndexName)
	if !ok {
		return docstore.Locator{}, nil, fmt.Errorf("engine: collection %q has no primary index", c.name)
	}
	hits, err := primary.FindExact([]*value.Value{value.ObjectIDValue(id)})
	if err != nil {
		return docstore.Locator{}, nil, err
	}
	if len(hits) == 0 {
		return docstore.Locator{}, nil, docstore.ErrNotFound
	}
	loc, err := docstore.DecodeLocator(hits[0])
	if err != nil {
		return docstore.Locator{}, nil, err
	}
	doc, err := c.store.Get(loc)
	if err != nil {
		return docstore.Locator{}, nil, err
	}
	return loc, doc, nil
}

// Update replaces the document stored under id with newDoc (newDoc's own
// "_id" field, if present, is overwritten with id so a caller cannot
// smuggle in a different identity through Update). If the heap has to
// relocate the record (docstore.Store.Update's moved=true case) every
// index entry pointing at the old Locator is deleted and reinserted under
// the new one instead of updated in place, since the Locator bytes
// themselves are what every index stores as its doc-id (spec §3.5, §4.H).
func (c *Collection) Update(id value.ObjectID, newDoc *document.Document) error {
	return c.eng.withWriteTx(context.Background(), "Update", func() error {
		return c.updateRaw(id, newDoc)
	})
}

func (c *Collection) updateRaw(id value.ObjectID, newDoc *document.Document) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	loc, oldDoc, err := c.lookupByID(id)
	if err != nil {
		if err == docstore.ErrNotFound {
			return fmt.Errorf("%w: %s", ErrDocumentNotFound, id)
		}
		return wrapErr(KindIoError, "Update", err)
	}
	newDoc.Set("_id", value.ObjectIDValue(id))

	newLoc, moved, err := c.store.Update(loc, newDoc)
	if err != nil {
		return wrapErr(KindIoError, "Update", err)
	}

	if !moved {
		if err := c.indexes.UpdateDocument(oldDoc, newDoc, loc.Encode()); err != nil {
			return classifyIndexErr("Update", err)
		}
		c.eng.markCatalogDirty(c)
		return nil
	}

	if err := c.indexes.DeleteDocument(oldDoc, loc.Encode()); err != nil {
		return wrapErr(KindIoError, "Update", err)
	}
	if err := c.indexes.InsertDocument(newDoc, newLoc.Encode()); err != nil {
		return classifyIndexErr("Update", err)
	}
	c.eng.markCatalogDirty(c)
	return nil
}

// Delete removes the document stored under id, returning false if it did
// not exist (spec §6.3 Collection.delete).
func (c *Collection) Delete(id value.ObjectID) (bool, error) {
	var ok bool
	err := c.eng.withWriteTx(context.Background(), "Delete", func() error {
		var err error
		ok, err = c.deleteRaw(id)
		return err
	})
	return ok, err
}

func (c *Collection) deleteRaw(id value.ObjectID) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	loc, doc, err := c.lookupByID(id)
	if err != nil {
		if err == docstore.ErrNotFound {
			return false, nil
		}
		return false, wrapErr(KindIoError, "Delete", err)
	}
	if err := c.indexes.DeleteDocument(doc, loc.Encode()); err != nil {
		return false, wrapErr(KindIoError, "Delete", err)
	}
	if err := c.store.Delete(loc); err != nil {
		return false, wrapErr(KindIoError, "Delete", err)
	}
	c.eng.markCatalogDirty(c)
	return true, nil
}

// Scan calls fn for every live document in the collection's heap, in
// physical storage order, bypassing every index (spec §6.3
// Collection.scan).
func (c *Collection) Scan(fn func(doc *document.Document) bool) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	err := c.store.Scan(func(_ docstore.Locator, doc *document.Document) bool {
		return fn(doc)
	})
	if err != nil {
		return wrapErr(KindIoError, "Scan", err)
	}
	return nil
}

// Count returns the number of live documents, via the primary index
// rather than a full heap scan.
func (c *Collection) Count() (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	primary, ok := c.indexes.GetIndex(index.PrimaryIndexName)
	if !ok {
		return 0, fmt.Errorf("engine: collection %q has no primary index", c.name)
	}
	n, err := primary.Count()
	if err != nil {
		return 0, wrapErr(KindIoError, "Count", err)
	}
	return n, nil
}

// CreateIndex declares a new secondary index over fields (spec §4.F
// create_index, exposed per collection per spec §6.3).
func (c *Collection) CreateIndex(name string, fields []string, unique bool) error {
	return c.eng.withWriteTx(context.Background(), "CreateIndex", func() error {
		return c.createIndexRaw(name, fields, unique)
	})
}

func (c *Collection) createIndexRaw(name string, fields []string, unique bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.indexes.CreateIndex(name, fields, unique); err != nil {
		return classifyIndexErr("CreateIndex", err)
	}
	if err := c.backfillIndexLocked(name); err != nil {
		return err
	}
	c.eng.markCatalogDirty(c)
	return nil
}

// backfillIndexLocked walks every live document into a freshly created
// index; called with c.mu already held.
func (c *Collection) backfillIndexLocked(name string) error {
	idx, ok := c.indexes.GetIndex(name)
	if !ok {
		return nil
	}
	var scanErr error
	err := c.store.Scan(func(loc docstore.Locator, doc *document.Document) bool {
		if err := c.indexes.InsertIntoIndex(idx.Name(), doc, loc.Encode()); err != nil {
			scanErr = err
			return false
		}
		return true
	})
	if err != nil {
		return wrapErr(KindIoError, "CreateIndex", err)
	}
	if scanErr != nil {
		return classifyIndexErr("CreateIndex", scanErr)
	}
	return nil
}

// DropIndex removes a secondary index (spec §4.F drop_index).
func (c *Collection) DropIndex(name string) error {
	return c.eng.withWriteTx(context.Background(), "DropIndex", func() error {
		return c.dropIndexRaw(name)
	})
}

func (c *Collection) dropIndexRaw(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.indexes.DropIndex(name); err != nil {
		return classifyIndexErr("DropIndex", err)
	}
	c.eng.markCatalogDirty(c)
	return nil
}

// ensureID returns doc's existing "_id" ObjectID, or mints and stores a
// fresh one (spec §4.B/§6.3: "insert assigns an ObjectID if absent").
func ensureID(doc *document.Document) (value.ObjectID, error) {
	if v, ok := doc.Get("_id"); ok {
		if v.Tag() != value.TagObjectID {
			return value.ObjectID{}, fmt.Errorf("_id must be an ObjectID, got %s", v.Tag())
		}
		return v.AsObjectID(), nil
	}
	id := value.NewObjectID()
	doc.Set("_id", value.ObjectIDValue(id))
	return id, nil
}

// classifyIndexErr maps an internal/index error into the engine's
// taxonomy so callers can branch with errors.Is(err, engine.ErrDuplicateKey)
// etc. without reaching into internal packages.
func classifyIndexErr(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, index.ErrDuplicateKey):
		return wrapErr(KindDuplicateKey, op, err)
	case errors.Is(err, index.ErrIndexExists):
		return wrapErr(KindIndexExists, op, err)
	case errors.Is(err, index.ErrIndexNotFound):
		return wrapErr(KindIndexNotFound, op, err)
	default:
		return wrapErr(KindIoError, op, err)
	}
}
