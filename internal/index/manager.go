package index

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/SimonWaldherr/tinydoc/internal/document"
	"github.com/SimonWaldherr/tinydoc/internal/pager"
)

// Manager is the per-collection registry of indexes. It always carries
// the primary-key index on "_id" for the lifetime of the collection, plus
// whatever indexes are declared or created afterward, in the priority
// order they were added (spec §4.F: "Automatic indexing ... Declared
// indexes carry a priority; creation happens in priority order").
//
// Manager is safe for concurrent use: CreateIndex/DropIndex take the
// registry lock exclusively, while document mutations and lookups take
// it for reading only — the underlying B+ trees serialize their own
// page access through the pager's buffer pool.
type Manager struct {
	mu      sync.RWMutex
	pager   *pager.Pager
	order   []string
	indexes map[string]*Index
}

// New creates a fresh Manager for a new collection: the mandatory "_id"
// primary-key index first, then each declared index in the given order.
func New(p *pager.Pager, declared []Descriptor) (*Manager, error) {
	m := &Manager{pager: p, indexes: make(map[string]*Index)}
	if _, err := m.createIndexLocked(Descriptor{Name: PrimaryIndexName, Fields: []string{"_id"}, Unique: true}); err != nil {
		return nil, err
	}
	for _, d := range declared {
		if d.Name == PrimaryIndexName {
			continue
		}
		if _, err := m.createIndexLocked(d); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Open reattaches a Manager to a collection's persisted index roots, in
// the priority order they were saved. If the catalog record somehow
// lacks a primary-key entry (should not happen past collection creation)
// one is created so the invariant "a _id index always exists" holds.
func Open(p *pager.Pager, persisted []PersistedIndex) (*Manager, error) {
	m := &Manager{pager: p, indexes: make(map[string]*Index)}
	for _, pd := range persisted {
		idx := openIndex(p, pd.Descriptor, pd.Root)
		m.indexes[pd.Name] = idx
		m.order = append(m.order, pd.Name)
	}
	if _, ok := m.indexes[PrimaryIndexName]; !ok {
		if _, err := m.createIndexLocked(Descriptor{Name: PrimaryIndexName, Fields: []string{"_id"}, Unique: true}); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Manager) createIndexLocked(desc Descriptor) (*Index, error) {
	idx, err := newIndex(m.pager, desc)
	if err != nil {
		return nil, err
	}
	m.indexes[desc.Name] = idx
	m.order = append(m.order, desc.Name)
	return idx, nil
}

// CreateIndex registers a new index, failing with ErrIndexExists if name
// is already taken (spec §4.F create_index).
func (m *Manager) CreateIndex(name string, fields []string, unique bool) (*Index, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.indexes[name]; exists {
		return nil, fmt.Errorf("%w: %q", ErrIndexExists, name)
	}
	return m.createIndexLocked(Descriptor{Name: name, Fields: fields, Unique: unique})
}

// DropIndex frees name's tree pages and removes it from the registry
// (spec §4.F drop_index). The primary-key index can never be dropped.
func (m *Manager) DropIndex(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if name == PrimaryIndexName {
		return fmt.Errorf("%w: %q", ErrCannotDropPrimaryIndex, name)
	}
	idx, ok := m.indexes[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrIndexNotFound, name)
	}
	idx.tree.FreeAllPages()
	delete(m.indexes, name)
	for i, n := range m.order {
		if n == name {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

// InsertIntoIndex inserts docID into exactly the named index, for
// backfilling an index created after a collection already holds
// documents. Unlike InsertDocument it touches no other index.
func (m *Manager) InsertIntoIndex(name string, doc *document.Document, docID []byte) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	idx, ok := m.indexes[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrIndexNotFound, name)
	}
	return idx.insert(doc, docID)
}

// FreeAllPages releases every page held by every registered index,
// including the mandatory primary-key index. Used by drop_collection once
// the collection's catalog entry is gone and the indexes are otherwise
// unreachable.
func (m *Manager) FreeAllPages() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, idx := range m.indexesInOrder() {
		idx.tree.FreeAllPages()
	}
}

// GetIndex returns the named index, if registered (spec §4.F get_index).
func (m *Manager) GetIndex(name string) (*Index, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	idx, ok := m.indexes[name]
	return idx, ok
}

// List returns every index's descriptor in priority order (spec §4.F
// list).
func (m *Manager) List() []Descriptor {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Descriptor, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, m.indexes[name].desc)
	}
	return out
}

// Snapshot reports every index's current descriptor and tree root, for
// the collection catalog to persist — tree roots move across splits,
// merges, and root collapses, so this must be called fresh at commit
// time rather than cached.
func (m *Manager) Snapshot() []PersistedIndex {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]PersistedIndex, 0, len(m.order))
	for _, name := range m.order {
		idx := m.indexes[name]
		out = append(out, PersistedIndex{Descriptor: idx.desc, Root: idx.tree.Root()})
	}
	return out
}

// indexesInOrder returns the live *Index values in priority order. Must
// be called with mu held.
func (m *Manager) indexesInOrder() []*Index {
	out := make([]*Index, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, m.indexes[name])
	}
	return out
}

// InsertDocument extracts doc's key for every index and inserts docID
// under it, in priority order. A unique-constraint violation on any
// index rolls back the inserts already made into earlier indexes and
// returns ErrDuplicateKey (spec §4.F insert_document).
func (m *Manager) InsertDocument(doc *document.Document, docID []byte) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var done []*Index
	for _, idx := range m.indexesInOrder() {
		if err := idx.insert(doc, docID); err != nil {
			for i := len(done) - 1; i >= 0; i-- {
				_ = done[i].delete(doc, docID)
			}
			return err
		}
		done = append(done, idx)
	}
	return nil
}

// DeleteDocument removes docID's entry from every index (spec §4.F
// delete_document). It keeps going across index errors so a storage
// fault in one index does not leave the document referenced by the
// others; the first error encountered is returned to the caller, whose
// transaction manager escalates it to a rollback.
func (m *Manager) DeleteDocument(doc *document.Document, docID []byte) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var firstErr error
	for _, idx := range m.indexesInOrder() {
		if err := idx.delete(doc, docID); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// updateStep records one index's old/new key so a later failure can be
// rolled back: delete the new key's entry and restore the old one.
type updateStep struct {
	idx            *Index
	oldKey, newKey []byte
}

// UpdateDocument moves docID from oldDoc's key to newDoc's key in every
// index, skipping indexes whose key did not change. Old and new keys are
// computed independently per spec §4.F; a unique-constraint violation on
// the new key rolls back every index already updated in this call plus
// the one in progress, and returns ErrDuplicateKey.
func (m *Manager) UpdateDocument(oldDoc, newDoc *document.Document, docID []byte) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var steps []updateStep
	rollback := func() {
		for i := len(steps) - 1; i >= 0; i-- {
			s := steps[i]
			_, _ = s.idx.tree.Delete(s.newKey, docID)
			_ = s.idx.tree.Insert(s.oldKey, docID)
		}
	}

	for _, idx := range m.indexesInOrder() {
		oldKey, err := idx.extractKey(oldDoc)
		if err != nil {
			rollback()
			return err
		}
		newKey, err := idx.extractKey(newDoc)
		if err != nil {
			rollback()
			return err
		}
		if bytes.Equal(oldKey, newKey) {
			continue
		}

		if idx.desc.Unique {
			existing, err := idx.tree.SeekAll(newKey)
			if err != nil {
				rollback()
				return err
			}
			if len(existing) > 0 {
				rollback()
				return fmt.Errorf("%w: index %q", ErrDuplicateKey, idx.desc.Name)
			}
		}

		if _, err := idx.tree.Delete(oldKey, docID); err != nil {
			rollback()
			return err
		}
		if err := idx.tree.Insert(newKey, docID); err != nil {
			_ = idx.tree.Insert(oldKey, docID)
			rollback()
			return err
		}
		steps = append(steps, updateStep{idx: idx, oldKey: oldKey, newKey: newKey})
	}
	return nil
}

// BestIndex scores every registered index against fields and returns the
// highest-scoring one, if any scores above zero (spec §4.F best_index).
//
// Each index's score is the prefix of fields that matches its own field
// list in order; a match of length L earns 10*(1+2+...+L), so a longer
// matching prefix always outscores a shorter one, and a composite index
// only participates when fields begins with its leading field(s) in the
// declared order. Ties are broken by uniqueness, worth a flat +5.
func (m *Manager) BestIndex(fields []string) (*Index, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var best *Index
	bestScore := 0
	for _, idx := range m.indexesInOrder() {
		s := scoreIndex(fields, idx)
		if s > bestScore {
			bestScore = s
			best = idx
		}
	}
	return best, best != nil
}

func scoreIndex(fields []string, idx *Index) int {
	m := matchPrefixLen(fields, idx.Fields())
	if m == 0 {
		return 0
	}
	score := 0
	for k := 1; k <= m; k++ {
		score += k * 10
	}
	if idx.Unique() {
		score += 5
	}
	return score
}

// matchPrefixLen returns the length of the longest leading run where
// fields and indexFields agree position-by-position.
func matchPrefixLen(fields, indexFields []string) int {
	n := len(fields)
	if len(indexFields) < n {
		n = len(indexFields)
	}
	m := 0
	for i := 0; i < n; i++ {
		if fields[i] != indexFields[i] {
			break
		}
		m++
	}
	return m
}
