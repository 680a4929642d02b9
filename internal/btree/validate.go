package btree

import (
	"fmt"

	"github.com/SimonWaldherr/tinydoc/internal/pager"
)

// Validate walks the whole tree checking the invariants delete/insert are
// supposed to preserve: ascending key order across every leaf (including
// across the sibling chain), that every leaf sits at the same depth, and
// that every non-root node — leaf or internal — meets minFillFraction.
// It is a testing/debugging aid, not used on any read/write path.
func (t *Tree) Validate() error {
	var prevKey []byte
	havePrev := false
	leafDepth := -1

	var walk func(id pager.PageID, depth int, isRoot bool) error
	walk = func(id pager.PageID, depth int, isRoot bool) error {
		buf, err := t.pager.ReadPage(id)
		if err != nil {
			return err
		}
		n := WrapNode(buf)
		defer t.pager.UnpinPage(id)

		if n.IsLeaf() {
			if leafDepth == -1 {
				leafDepth = depth
			} else if depth != leafDepth {
				return fmt.Errorf("btree: leaf %d at depth %d, other leaves at depth %d", id, depth, leafDepth)
			}
			if !isRoot && n.FillFraction() < minFillFraction {
				return fmt.Errorf("btree: leaf %d underfull: fill=%.2f", id, n.FillFraction())
			}
			for _, e := range n.AllLeaf() {
				k, err := t.resolveKey(e)
				if err != nil {
					return err
				}
				if havePrev && t.cmp(prevKey, k) > 0 {
					return fmt.Errorf("btree: leaf %d out of order", id)
				}
				prevKey, havePrev = k, true
			}
			return nil
		}

		if !isRoot && n.FillFraction() < minFillFraction {
			return fmt.Errorf("btree: internal node %d underfull: fill=%.2f", id, n.FillFraction())
		}
		for _, e := range n.AllInternal() {
			if err := walk(e.ChildID, depth+1, false); err != nil {
				return err
			}
		}
		return walk(n.RightChild(), depth+1, false)
	}

	return walk(t.root, 0, true)
}
