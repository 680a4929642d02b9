package btree

import (
	"fmt"

	"github.com/SimonWaldherr/tinydoc/internal/pager"
)

// Comparator orders two keys, returning <0, 0, or >0 exactly like
// bytes.Compare. Index keys are encoded internal/value payloads, so the
// index manager supplies a comparator that decodes both sides and applies
// value.Compare's cross-tag numeric rule rather than raw byte order.
type Comparator func(a, b []byte) int

// minFillFraction is the occupancy threshold below which a non-root node
// is considered underfull after a delete and becomes a rebalance
// candidate. Slotted pages hold variable-length keys, so there is no
// fixed degree m to target a ⌈m/2⌉ entry count against directly; fill
// fraction is the byte-occupancy analogue of that invariant.
const minFillFraction = 0.4

// Tree is a disk-backed B+ tree / multimap over a pager.Pager.
type Tree struct {
	pager *pager.Pager
	root  pager.PageID
	cmp   Comparator
}

// Create allocates a new, empty tree with a single empty leaf root.
func Create(p *pager.Pager, cmp Comparator) (*Tree, error) {
	rootID, buf := p.AllocPage(pager.PageTypeIndexNode)
	InitNode(buf, rootID, true)
	pager.SetPageChecksum(buf)
	if err := p.WritePage(rootID, buf); err != nil {
		return nil, err
	}
	p.UnpinPage(rootID)
	return &Tree{pager: p, root: rootID, cmp: cmp}, nil
}

// Open returns a handle to an existing tree rooted at root.
func Open(p *pager.Pager, root pager.PageID, cmp Comparator) *Tree {
	return &Tree{pager: p, root: root, cmp: cmp}
}

// Root returns the tree's current root page ID — callers persist this in
// their own catalog metadata, since it changes on split/collapse.
func (t *Tree) Root() pager.PageID { return t.root }

// ── key materialization ─────────────────────────────────────────────────────

func (t *Tree) resolveKey(e LeafEntry) ([]byte, error) {
	if !e.KeyOverflow {
		return e.Key, nil
	}
	return pager.ReadOverflowChain(e.KeyOverflowID, t.pager.ReadPage)
}

func (t *Tree) storeKey(key []byte) (LeafEntry, error) {
	capacity := pager.OverflowCapacity(t.pager.PageSize())
	if len(key) <= capacity && len(key) <= pager.OverflowThreshold {
		return LeafEntry{Key: key}, nil
	}
	head, err := pager.WriteOverflowChain(key, t.pager.PageSize(),
		func() (pager.PageID, []byte) { return t.pager.AllocPage(pager.PageTypeOverflow) },
		t.pager.WritePage,
	)
	if err != nil {
		return LeafEntry{}, err
	}
	return LeafEntry{KeyOverflow: true, KeyOverflowID: head, KeyTotalSize: uint32(len(key))}, nil
}

func (t *Tree) freeKeyOverflow(e LeafEntry) {
	if !e.KeyOverflow {
		return
	}
	id := e.KeyOverflowID
	for id != pager.InvalidPageID {
		buf, err := t.pager.ReadPage(id)
		if err != nil {
			return
		}
		op := pager.WrapOverflowPage(buf)
		next := op.NextOverflow()
		t.pager.UnpinPage(id)
		t.pager.FreePage(id)
		id = next
	}
}

// ── descent ──────────────────────────────────────────────────────────────

// pathStep records one level visited while descending to a leaf: the node
// visited and, for internal nodes, which child index the descent took (so
// delete-time rebalancing can find the same node's left/right sibling and
// the separator key between them in the parent).
type pathStep struct {
	id        pager.PageID
	childIdx  int // index into parent's entries; -1 for the leaf step itself
}

// descend walks from root to the leaf whose range would contain key,
// recording the path taken.
func (t *Tree) descend(key []byte) ([]pathStep, error) {
	var path []pathStep
	id := t.root
	for {
		buf, err := t.pager.ReadPage(id)
		if err != nil {
			return nil, err
		}
		n := WrapNode(buf)
		if n.IsLeaf() {
			t.pager.UnpinPage(id)
			path = append(path, pathStep{id: id, childIdx: -1})
			return path, nil
		}
		idx, child := t.findChild(n, key)
		t.pager.UnpinPage(id)
		path = append(path, pathStep{id: id, childIdx: idx})
		id = child
	}
}

// findChild returns the child index (entries[i].ChildID, or len(entries)
// for RightChild) and PageID to follow for key.
func (t *Tree) findChild(n *Node, key []byte) (int, pager.PageID) {
	sc := n.slotCount()
	for i := 0; i < sc; i++ {
		e := n.GetInternal(i)
		if t.cmp(key, e.Key) < 0 {
			return i, e.ChildID
		}
	}
	return sc, n.RightChild()
}

// ── Get / Seek ───────────────────────────────────────────────────────────

// Get returns the first stored value for key, if any.
func (t *Tree) Get(key []byte) ([]byte, bool, error) {
	vals, err := t.SeekAll(key)
	if err != nil || len(vals) == 0 {
		return nil, false, err
	}
	return vals[0], true, nil
}

// SeekAll returns every value stored under key (multimap semantics — a
// non-unique index may have many documents sharing one indexed value).
func (t *Tree) SeekAll(key []byte) ([][]byte, error) {
	path, err := t.descend(key)
	if err != nil {
		return nil, err
	}
	leafID := path[len(path)-1].id
	var out [][]byte
	for leafID != pager.InvalidPageID {
		buf, err := t.pager.ReadPage(leafID)
		if err != nil {
			return nil, err
		}
		n := WrapNode(buf)
		sc := n.slotCount()
		stop := false
		for i := 0; i < sc; i++ {
			e := n.GetLeaf(i)
			k, err := t.resolveKey(e)
			if err != nil {
				t.pager.UnpinPage(leafID)
				return nil, err
			}
			c := t.cmp(k, key)
			if c < 0 {
				continue
			}
			if c > 0 {
				stop = true
				break
			}
			out = append(out, e.Value)
		}
		next := n.NextLeaf()
		t.pager.UnpinPage(leafID)
		if stop {
			break
		}
		leafID = next
	}
	return out, nil
}

// Range calls fn for every (key, value) pair with startKey <= key <= endKey
// in ascending order, following the leaf sibling chain. A nil endKey scans
// to the end of the tree. fn returning false stops the scan.
func (t *Tree) Range(startKey, endKey []byte, fn func(key, value []byte) bool) error {
	path, err := t.descend(startKey)
	if err != nil {
		return err
	}
	leafID := path[len(path)-1].id
	for leafID != pager.InvalidPageID {
		buf, err := t.pager.ReadPage(leafID)
		if err != nil {
			return err
		}
		n := WrapNode(buf)
		sc := n.slotCount()
		for i := 0; i < sc; i++ {
			e := n.GetLeaf(i)
			k, err := t.resolveKey(e)
			if err != nil {
				t.pager.UnpinPage(leafID)
				return err
			}
			if startKey != nil && t.cmp(k, startKey) < 0 {
				continue
			}
			if endKey != nil && t.cmp(k, endKey) > 0 {
				t.pager.UnpinPage(leafID)
				return nil
			}
			if !fn(k, e.Value) {
				t.pager.UnpinPage(leafID)
				return nil
			}
		}
		next := n.NextLeaf()
		t.pager.UnpinPage(leafID)
		leafID = next
	}
	return nil
}

// ── Insert ────────────────────────────────────────────────────────────────

// Insert adds (key, value) to the tree. Duplicate keys are permitted —
// the pair is always added, never merged into an existing entry — so a
// non-unique index accumulates one entry per document under the same
// indexed value. Uniqueness, when required, is enforced by the index
// manager checking SeekAll before calling Insert.
func (t *Tree) Insert(key, value []byte) error {
	entry, err := t.storeKey(key)
	if err != nil {
		return err
	}
	entry.Value = value

	path, err := t.descend(key)
	if err != nil {
		return err
	}
	return t.insertAtLeaf(path, entry, key)
}

func (t *Tree) insertAtLeaf(path []pathStep, entry LeafEntry, key []byte) error {
	leafID := path[len(path)-1].id
	buf, err := t.pager.ReadPage(leafID)
	if err != nil {
		return err
	}
	n := WrapNode(buf)
	pos, err := t.leafInsertPos(n, key)
	if err != nil {
		t.pager.UnpinPage(leafID)
		return err
	}

	if err := n.insertLeafAt(pos, entry); err == nil {
		n.Finalize()
		t.pager.UnpinPage(leafID)
		return t.pager.WritePage(leafID, buf)
	}
	t.pager.UnpinPage(leafID)
	return t.splitLeaf(path, entry)
}

// leafInsertPos returns the position a new entry with key should be
// inserted at: after every existing entry that compares <= key, so
// duplicates accumulate in insertion order.
func (t *Tree) leafInsertPos(n *Node, key []byte) (int, error) {
	sc := n.slotCount()
	pos := sc
	for i := 0; i < sc; i++ {
		e := n.GetLeaf(i)
		k, err := t.resolveKey(e)
		if err != nil {
			return 0, err
		}
		if t.cmp(k, key) > 0 {
			pos = i
			break
		}
	}
	return pos, nil
}

func (t *Tree) splitLeaf(path []pathStep, newEntry LeafEntry) error {
	leafID := path[len(path)-1].id
	buf, err := t.pager.ReadPage(leafID)
	if err != nil {
		return err
	}
	n := WrapNode(buf)

	entries := n.AllLeaf()
	merged := make([]LeafEntry, 0, len(entries)+1)
	inserted := false
	for _, e := range entries {
		if !inserted {
			k, err := t.resolveKey(e)
			if err != nil {
				return err
			}
			nk, err := t.resolveKey(newEntry)
			if err != nil {
				return err
			}
			if t.cmp(nk, k) < 0 {
				merged = append(merged, newEntry)
				inserted = true
			}
		}
		merged = append(merged, e)
	}
	if !inserted {
		merged = append(merged, newEntry)
	}

	mid := len(merged) / 2
	leftEntries, rightEntries := merged[:mid], merged[mid:]
	splitKey, err := t.resolveKey(rightEntries[0])
	if err != nil {
		return err
	}

	leftBuf := make([]byte, t.pager.PageSize())
	leftNode := InitNode(leftBuf, leafID, true)
	for _, e := range leftEntries {
		if _, err := appendLeaf(leftNode, e); err != nil {
			return fmt.Errorf("btree: split left insert: %w", err)
		}
	}

	rightID, rightBuf := t.pager.AllocPage(pager.PageTypeIndexNode)
	rightNode := InitNode(rightBuf, rightID, true)
	for _, e := range rightEntries {
		if _, err := appendLeaf(rightNode, e); err != nil {
			return fmt.Errorf("btree: split right insert: %w", err)
		}
	}

	oldNext := n.NextLeaf()
	leftNode.SetNextLeaf(rightID)
	leftNode.SetPrevLeaf(n.PrevLeaf())
	rightNode.SetPrevLeaf(leafID)
	rightNode.SetNextLeaf(oldNext)

	leftNode.Finalize()
	if err := t.pager.WritePage(leafID, leftBuf); err != nil {
		return err
	}
	rightNode.Finalize()
	if err := t.pager.WritePage(rightID, rightBuf); err != nil {
		return err
	}
	t.pager.UnpinPage(leafID)
	t.pager.UnpinPage(rightID)

	if oldNext != pager.InvalidPageID {
		nb, err := t.pager.ReadPage(oldNext)
		if err == nil {
			nn := WrapNode(nb)
			nn.SetPrevLeaf(rightID)
			nn.Finalize()
			_ = t.pager.WritePage(oldNext, nb)
			t.pager.UnpinPage(oldNext)
		}
	}

	return t.insertIntoParent(path[:len(path)-1], leafID, splitKey, rightID)
}

func appendLeaf(n *Node, e LeafEntry) (int, error) {
	pos := n.slotCount()
	if err := n.insertLeafAt(pos, e); err != nil {
		return -1, err
	}
	return pos, nil
}

func (t *Tree) insertIntoParent(path []pathStep, leftID pager.PageID, key []byte, rightID pager.PageID) error {
	if len(path) == 0 {
		return t.createNewRoot(leftID, key, rightID)
	}

	parentID := path[len(path)-1].id
	buf, err := t.pager.ReadPage(parentID)
	if err != nil {
		return err
	}
	n := WrapNode(buf)

	pos := t.internalInsertPos(n, key)
	if err := n.insertInternalAt(pos, InternalEntry{ChildID: leftID, Key: key}); err == nil {
		t.fixRightPointer(n, pos, rightID)
		n.Finalize()
		t.pager.UnpinPage(parentID)
		return t.pager.WritePage(parentID, buf)
	}
	t.pager.UnpinPage(parentID)
	return t.splitInternal(path, leftID, key, rightID)
}

func (t *Tree) internalInsertPos(n *Node, key []byte) int {
	sc := n.slotCount()
	for i := 0; i < sc; i++ {
		e := n.GetInternal(i)
		if t.cmp(key, e.Key) < 0 {
			return i
		}
	}
	return sc
}

// fixRightPointer ensures the pointer immediately right of the newly
// inserted separator at pos leads to rightID — either the next entry's
// child (shifted in by the insert) or RightChild if pos was the last slot.
func (t *Tree) fixRightPointer(n *Node, pos int, rightID pager.PageID) {
	sc := n.slotCount()
	if pos+1 < sc {
		next := n.GetInternal(pos + 1)
		next.ChildID = rightID
		n.replaceInternalAt(pos+1, next)
	} else {
		n.SetRightChild(rightID)
	}
}

func (t *Tree) splitInternal(path []pathStep, leftChildID pager.PageID, key []byte, rightChildID pager.PageID) error {
	parentID := path[len(path)-1].id
	buf, err := t.pager.ReadPage(parentID)
	if err != nil {
		return err
	}
	n := WrapNode(buf)

	entries := n.AllInternal()
	oldRight := n.RightChild()

	newEntry := InternalEntry{ChildID: leftChildID, Key: key}
	merged := make([]InternalEntry, 0, len(entries)+1)
	inserted := false
	for _, e := range entries {
		if !inserted && t.cmp(key, e.Key) < 0 {
			merged = append(merged, newEntry)
			inserted = true
		}
		merged = append(merged, e)
	}
	if !inserted {
		merged = append(merged, newEntry)
	}

	mid := len(merged) / 2
	pushUpKey := merged[mid].Key
	leftEntries := merged[:mid]
	rightEntries := append([]InternalEntry(nil), merged[mid+1:]...)
	midChild := merged[mid].ChildID

	leftBuf := make([]byte, t.pager.PageSize())
	leftNode := InitNode(leftBuf, parentID, false)
	for _, e := range leftEntries {
		if err := leftNode.insertInternalAt(leftNode.slotCount(), e); err != nil {
			return fmt.Errorf("btree: split internal left: %w", err)
		}
	}

	switch {
	case t.bytesEqual(pushUpKey, key):
		leftNode.SetRightChild(leftChildID)
		if len(rightEntries) > 0 {
			rightEntries[0] = InternalEntry{ChildID: rightChildID, Key: rightEntries[0].Key}
		}
	case t.keyIn(leftEntries, key):
		leftNode.SetRightChild(rightChildID)
	default:
		leftNode.SetRightChild(midChild)
	}

	rightID, rightBuf := t.pager.AllocPage(pager.PageTypeIndexNode)
	rightNode := InitNode(rightBuf, rightID, false)
	for _, e := range rightEntries {
		if err := rightNode.insertInternalAt(rightNode.slotCount(), e); err != nil {
			return fmt.Errorf("btree: split internal right: %w", err)
		}
	}
	rightNode.SetRightChild(oldRight)

	if !t.bytesEqual(pushUpKey, key) && !t.keyIn(leftEntries, key) {
		for i := 0; i < rightNode.slotCount(); i++ {
			e := rightNode.GetInternal(i)
			if t.bytesEqual(e.Key, key) {
				t.fixRightPointer(rightNode, i, rightChildID)
				break
			}
		}
	}

	leftNode.Finalize()
	if err := t.pager.WritePage(parentID, leftBuf); err != nil {
		return err
	}
	rightNode.Finalize()
	if err := t.pager.WritePage(rightID, rightBuf); err != nil {
		return err
	}
	t.pager.UnpinPage(parentID)
	t.pager.UnpinPage(rightID)

	return t.insertIntoParent(path[:len(path)-1], parentID, pushUpKey, rightID)
}

func (t *Tree) bytesEqual(a, b []byte) bool { return t.cmp(a, b) == 0 }

func (t *Tree) keyIn(entries []InternalEntry, key []byte) bool {
	for _, e := range entries {
		if t.bytesEqual(e.Key, key) {
			return true
		}
	}
	return false
}

func (t *Tree) createNewRoot(leftID pager.PageID, key []byte, rightID pager.PageID) error {
	rootID, buf := t.pager.AllocPage(pager.PageTypeIndexNode)
	n := InitNode(buf, rootID, false)
	if err := n.insertInternalAt(0, InternalEntry{ChildID: leftID, Key: key}); err != nil {
		return err
	}
	n.SetRightChild(rightID)
	n.Finalize()
	if err := t.pager.WritePage(rootID, buf); err != nil {
		return err
	}
	t.pager.UnpinPage(rootID)
	t.root = rootID
	return nil
}

// ── Count ─────────────────────────────────────────────────────────────────

// Count returns the total number of key-value pairs in the tree.
func (t *Tree) Count() (int, error) {
	id := t.root
	for {
		buf, err := t.pager.ReadPage(id)
		if err != nil {
			return 0, err
		}
		n := WrapNode(buf)
		if n.IsLeaf() {
			t.pager.UnpinPage(id)
			break
		}
		var next pager.PageID
		if n.slotCount() > 0 {
			next = n.GetInternal(0).ChildID
		} else {
			next = n.RightChild()
		}
		t.pager.UnpinPage(id)
		id = next
	}

	count := 0
	for id != pager.InvalidPageID {
		buf, err := t.pager.ReadPage(id)
		if err != nil {
			return 0, err
		}
		n := WrapNode(buf)
		count += n.slotCount()
		next := n.NextLeaf()
		t.pager.UnpinPage(id)
		id = next
	}
	return count, nil
}

// FreeAllPages recursively frees every page owned by the tree — internal
// nodes, leaves, and any key-overflow chains. The tree must not be used
// afterward.
func (t *Tree) FreeAllPages() {
	t.freeSubtree(t.root)
}

func (t *Tree) freeSubtree(id pager.PageID) {
	if id == pager.InvalidPageID {
		return
	}
	buf, err := t.pager.ReadPage(id)
	if err != nil {
		return
	}
	n := WrapNode(buf)
	if n.IsLeaf() {
		for _, e := range n.AllLeaf() {
			t.freeKeyOverflow(e)
		}
		t.pager.UnpinPage(id)
		t.pager.FreePage(id)
		return
	}
	children := make([]pager.PageID, 0, n.slotCount()+1)
	for _, e := range n.AllInternal() {
		children = append(children, e.ChildID)
	}
	children = append(children, n.RightChild())
	t.pager.UnpinPage(id)
	for _, c := range children {
		t.freeSubtree(c)
	}
	t.pager.FreePage(id)
}
