package btree

import "github.com/SimonWaldherr/tinydoc/internal/pager"

// This file implements delete-time rebalancing: borrow-from-sibling,
// merge-with-sibling, and root collapse. The teacher's own B+ tree never
// rebalances on delete at all (its Delete simply removes the leaf entry
// and leaves underfull nodes in place). Here a non-root node whose
// FillFraction drops below minFillFraction (0.4) after a delete is
// rebalanced; this is new code, not a port.

// FillFraction reports how much of a node's record capacity holds live
// data. Nodes are slotted pages with variable-length keys, so there is no
// fixed per-node entry count to compare against ⌈m/2⌉ directly — fill
// fraction is the byte-occupancy analogue used in its place.
func (n *Node) FillFraction() float64 {
	capacity := n.pageSize - slotDirOff
	if capacity <= 0 {
		return 1
	}
	return float64(n.UsedBytes()) / float64(capacity)
}

func childAt(n *Node, idx int) pager.PageID {
	if idx < n.slotCount() {
		return n.GetInternal(idx).ChildID
	}
	return n.RightChild()
}

func childCount(n *Node) int { return n.slotCount() + 1 }

// Delete removes one occurrence of (key, value) from the tree — the
// exact pair, not merely the first entry under key, since a non-unique
// index may hold several documents under one key and only one of them is
// being removed. Returns false if no matching pair was found.
func (t *Tree) Delete(key, value []byte) (bool, error) {
	path, err := t.descend(key)
	if err != nil {
		return false, err
	}
	leafID := path[len(path)-1].id
	buf, err := t.pager.ReadPage(leafID)
	if err != nil {
		return false, err
	}
	n := WrapNode(buf)

	pos := -1
	sc := n.slotCount()
	for i := 0; i < sc; i++ {
		e := n.GetLeaf(i)
		k, err := t.resolveKey(e)
		if err != nil {
			t.pager.UnpinPage(leafID)
			return false, err
		}
		if t.cmp(k, key) == 0 && bytesEq(e.Value, value) {
			pos = i
			break
		}
	}
	if pos == -1 {
		t.pager.UnpinPage(leafID)
		return false, nil
	}

	removed := n.GetLeaf(pos)
	n.deleteRecordAt(pos)
	n.Finalize()
	t.freeKeyOverflow(removed)
	t.pager.UnpinPage(leafID)
	if err := t.pager.WritePage(leafID, buf); err != nil {
		return false, err
	}

	if len(path) > 1 && n.FillFraction() < minFillFraction {
		if err := t.rebalance(path); err != nil {
			return true, err
		}
	}
	return true, nil
}

// DeleteAll removes every entry stored under key, returning how many were
// removed. Used when dropping a unique index's single owner is not
// enough — e.g. re-indexing a document that previously contributed
// several entries to a multi-key (array) index.
func (t *Tree) DeleteAll(key []byte) (int, error) {
	vals, err := t.SeekAll(key)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, v := range vals {
		ok, err := t.Delete(key, v)
		if err != nil {
			return removed, err
		}
		if ok {
			removed++
		}
	}
	return removed, nil
}

func bytesEq(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// rebalance restores minFillFraction at path's last node by borrowing
// from an adjacent sibling or, failing that, merging with one — then, if
// a merge emptied an entry out of the parent, recurses upward, and
// finally collapses the root if it has been merged down to a single
// child.
func (t *Tree) rebalance(path []pathStep) error {
	if len(path) < 2 {
		return t.maybeCollapseRoot()
	}

	parentID := path[len(path)-2].id
	childPos := path[len(path)-2].childIdx
	nodeID := path[len(path)-1].id

	parentBuf, err := t.pager.ReadPage(parentID)
	if err != nil {
		return err
	}
	parent := WrapNode(parentBuf)

	nodeBuf, err := t.pager.ReadPage(nodeID)
	if err != nil {
		t.pager.UnpinPage(parentID)
		return err
	}
	node := WrapNode(nodeBuf)

	hasLeft := childPos > 0
	hasRight := childPos < childCount(parent)-1

	if hasLeft {
		leftID := childAt(parent, childPos-1)
		leftBuf, err := t.pager.ReadPage(leftID)
		if err != nil {
			return err
		}
		left := WrapNode(leftBuf)
		if left.slotCount() > 1 {
			if err := t.borrowFromLeft(parent, childPos, left, leftBuf, node, nodeBuf); err != nil {
				return err
			}
			t.writeAll(map[pager.PageID][]byte{parentID: parentBuf, leftID: leftBuf, nodeID: nodeBuf})
			return nil
		}
		t.pager.UnpinPage(leftID)
	}

	if hasRight {
		rightID := childAt(parent, childPos+1)
		rightBuf, err := t.pager.ReadPage(rightID)
		if err != nil {
			return err
		}
		right := WrapNode(rightBuf)
		if right.slotCount() > 1 {
			if err := t.borrowFromRight(parent, childPos, node, nodeBuf, right, rightBuf); err != nil {
				return err
			}
			t.writeAll(map[pager.PageID][]byte{parentID: parentBuf, rightID: rightBuf, nodeID: nodeBuf})
			return nil
		}
		t.pager.UnpinPage(rightID)
	}

	// No sibling can spare an entry — merge.
	if hasLeft {
		leftID := childAt(parent, childPos-1)
		leftBuf, err := t.pager.ReadPage(leftID)
		if err != nil {
			return err
		}
		left := WrapNode(leftBuf)
		if err := t.mergeInto(parent, childPos-1, left, leftBuf, node, nodeBuf, leftID, nodeID); err != nil {
			return err
		}
		if err := t.pager.WritePage(leftID, leftBuf); err != nil {
			return err
		}
		t.pager.UnpinPage(leftID)
	} else if hasRight {
		rightID := childAt(parent, childPos+1)
		rightBuf, err := t.pager.ReadPage(rightID)
		if err != nil {
			return err
		}
		right := WrapNode(rightBuf)
		if err := t.mergeInto(parent, childPos, node, nodeBuf, right, rightBuf, nodeID, rightID); err != nil {
			return err
		}
		if err := t.pager.WritePage(nodeID, nodeBuf); err != nil {
			return err
		}
		t.pager.UnpinPage(nodeID)
	} else {
		// Sole child of its parent — shouldn't occur in a valid tree with
		// >=2 children per internal node, but leave the node as-is rather
		// than fail the delete that already succeeded.
		t.pager.UnpinPage(parentID)
		t.pager.UnpinPage(nodeID)
		return nil
	}

	parent.Finalize()
	if err := t.pager.WritePage(parentID, parentBuf); err != nil {
		return err
	}
	t.pager.UnpinPage(parentID)

	if len(path) == 2 {
		return t.maybeCollapseRootBuf(parentID, parentBuf)
	}
	if parent.FillFraction() < minFillFraction || parent.slotCount() == 0 {
		return t.rebalance(path[:len(path)-1])
	}
	return nil
}

func (t *Tree) writeAll(pages map[pager.PageID][]byte) {
	for id, buf := range pages {
		_ = t.pager.WritePage(id, buf)
		t.pager.UnpinPage(id)
	}
}

// borrowFromLeft moves the left sibling's last entry into the front of
// node, updating the parent separator at childPos-1 to the new boundary.
func (t *Tree) borrowFromLeft(parent *Node, childPos int, left *Node, leftBuf []byte, node *Node, nodeBuf []byte) error {
	if node.IsLeaf() {
		lastPos := left.slotCount() - 1
		e := left.GetLeaf(lastPos)
		left.deleteRecordAt(lastPos)
		if err := node.insertLeafAt(0, e); err != nil {
			return err
		}
		newKey, err := t.resolveKey(e)
		if err != nil {
			return err
		}
		sep := parent.GetInternal(childPos - 1)
		sep.Key = newKey
		parent.replaceInternalAt(childPos-1, sep)
	} else {
		lastPos := left.slotCount() - 1
		lastEntry := left.GetInternal(lastPos)
		oldRight := left.RightChild()
		left.deleteRecordAt(lastPos)
		left.SetRightChild(lastEntry.ChildID)

		sep := parent.GetInternal(childPos - 1)
		pulledKey := sep.Key
		if err := node.insertInternalAt(0, InternalEntry{ChildID: oldRight, Key: pulledKey}); err != nil {
			return err
		}
		sep.Key = lastEntry.Key
		parent.replaceInternalAt(childPos-1, sep)
	}
	left.Finalize()
	node.Finalize()
	parent.Finalize()
	return nil
}

// borrowFromRight moves the right sibling's first entry onto the end of
// node, updating the parent separator at childPos to the new boundary.
func (t *Tree) borrowFromRight(parent *Node, childPos int, node *Node, nodeBuf []byte, right *Node, rightBuf []byte) error {
	if node.IsLeaf() {
		e := right.GetLeaf(0)
		right.deleteRecordAt(0)
		if _, err := appendLeaf(node, e); err != nil {
			return err
		}
		var newSepKey []byte
		if right.slotCount() > 0 {
			k, err := t.resolveKey(right.GetLeaf(0))
			if err != nil {
				return err
			}
			newSepKey = k
		} else {
			k, err := t.resolveKey(e)
			if err != nil {
				return err
			}
			newSepKey = k
		}
		sep := parent.GetInternal(childPos)
		sep.Key = newSepKey
		parent.replaceInternalAt(childPos, sep)
	} else {
		firstEntry := right.GetInternal(0)
		right.deleteRecordAt(0)

		sep := parent.GetInternal(childPos)
		pulledKey := sep.Key
		nodeRight := node.RightChild()
		if err := node.insertInternalAt(node.slotCount(), InternalEntry{ChildID: nodeRight, Key: pulledKey}); err != nil {
			return err
		}
		node.SetRightChild(firstEntry.ChildID)

		sep.Key = firstEntry.Key
		parent.replaceInternalAt(childPos, sep)
	}
	right.Finalize()
	node.Finalize()
	parent.Finalize()
	return nil
}

// mergeInto absorbs `absorbed` into `survivor` (survivor keeps its page
// ID; absorbed's page is freed), then removes the now-redundant
// separator from parent. absorbedPos is absorbed's child index among
// parent's children (so survivor is always at absorbedPos-1).
func (t *Tree) mergeInto(parent *Node, survivorSeparatorPos int, survivor *Node, survivorBuf []byte, absorbed *Node, absorbedBuf []byte, survivorID, absorbedID pager.PageID) error {
	if survivor.IsLeaf() {
		for _, e := range absorbed.AllLeaf() {
			if _, err := appendLeaf(survivor, e); err != nil {
				return err
			}
		}
		nextID := absorbed.NextLeaf()
		survivor.SetNextLeaf(nextID)
		if nextID != pager.InvalidPageID {
			nb, err := t.pager.ReadPage(nextID)
			if err == nil {
				nn := WrapNode(nb)
				nn.SetPrevLeaf(survivorID)
				nn.Finalize()
				_ = t.pager.WritePage(nextID, nb)
				t.pager.UnpinPage(nextID)
			}
		}
	} else {
		pulledKey := parent.GetInternal(survivorSeparatorPos).Key
		pos := survivor.slotCount()
		if err := survivor.insertInternalAt(pos, InternalEntry{ChildID: survivor.RightChild(), Key: pulledKey}); err != nil {
			return err
		}
		for _, e := range absorbed.AllInternal() {
			if err := survivor.insertInternalAt(survivor.slotCount(), e); err != nil {
				return err
			}
		}
		survivor.SetRightChild(absorbed.RightChild())
	}
	survivor.Finalize()
	t.pager.UnpinPage(absorbedID)
	t.pager.FreePage(absorbedID)

	absorbedPos := survivorSeparatorPos + 1
	removeParentSeparator(parent, absorbedPos, survivorID)
	return nil
}

// removeParentSeparator deletes the separator that distinguished the
// child at absorbedPos (now merged away) and repoints whichever entry
// used to lead to it at survivorID instead.
func removeParentSeparator(parent *Node, absorbedPos int, survivorID pager.PageID) {
	sc := parent.slotCount()
	if absorbedPos == sc {
		parent.SetRightChild(survivorID)
		parent.deleteRecordAt(sc - 1)
		return
	}
	e := parent.GetInternal(absorbedPos)
	e.ChildID = survivorID
	parent.replaceInternalAt(absorbedPos, e)
	parent.deleteRecordAt(absorbedPos - 1)
}

func (t *Tree) maybeCollapseRoot() error {
	buf, err := t.pager.ReadPage(t.root)
	if err != nil {
		return err
	}
	n := WrapNode(buf)
	t.pager.UnpinPage(t.root)
	if n.IsLeaf() || n.slotCount() > 0 {
		return nil
	}
	oldRoot := t.root
	t.root = n.RightChild()
	t.pager.FreePage(oldRoot)
	return nil
}

func (t *Tree) maybeCollapseRootBuf(id pager.PageID, buf []byte) error {
	if id != t.root {
		return nil
	}
	return t.maybeCollapseRoot()
}
