package zonedb

import "github.com/kvastad/znsd/tree"

// treeWrap adapts package tree's generic Tree to store *Node values
// keyed by wire.Name.SortKey, keeping the zonedb package the only place
// that knows the tree holds *Node.
type treeWrap struct {
	t *tree.Tree
}

func newTreeWrap(root *Node) *treeWrap {
	return &treeWrap{t: tree.New(root.Owner.SortKey(), root)}
}

func (w *treeWrap) insert(key []byte, n *Node) { w.t.Insert(key, n) }
func (w *treeWrap) delete(key []byte) bool     { return w.t.Delete(key) }

func (w *treeWrap) walk(fn func(*Node) bool) {
	w.t.Walk(func(_ []byte, v tree.Value) bool {
		return fn(v.(*Node))
	})
}
