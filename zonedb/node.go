// Package zonedb is the namedb proper: domain nodes carrying RRsets,
// zone descriptors, usage-counter bookkeeping, and wildcard/delegation
// classification, layered on package tree's ordered name tree.
//
// The zone registry (apex name -> *Zone) uses
// github.com/orcaman/concurrent-map/v2; a node's RRsets are held in a
// plain map.
package zonedb

import (
	"golang.org/x/exp/slices"

	"github.com/kvastad/znsd/rr"
	"github.com/kvastad/znsd/wire"
)

// Node is a point in the name space.
type Node struct {
	Owner wire.Name
	Zone  *Zone // nil until the node is attached to a zone via insertion

	parent *Node // weak/non-owning back-edge; the tree owns all nodes

	IsExisting bool
	IsApex     bool

	WildcardChild *Node

	usage int

	rrsets map[rr.Type]*RRset
}

func newNode(owner wire.Name, parent *Node) *Node {
	return &Node{Owner: owner, parent: parent, rrsets: map[rr.Type]*RRset{}}
}

// Parent returns the node's parent, or nil for the root.
func (n *Node) Parent() *Node { return n.parent }

// Usage returns the node's inbound reference count: rdata references, plus one per direct child,
// plus one if the node is an apex.
func (n *Node) Usage() int { return n.usage }

// RRSet returns the RRset for t at this node within its zone, or nil.
func (n *Node) RRSet(t rr.Type) *RRset { return n.rrsets[t] }

// RRSets returns every RRset attached to the node, in a fixed iteration
// order (ascending type number), for ANY-qtype answers.
func (n *Node) RRSets() []*RRset {
	out := make([]*RRset, 0, len(n.rrsets))
	for _, s := range n.rrsets {
		out = append(out, s)
	}
	sortRRsetsByType(out)
	return out
}

// sortRRsetsByType orders a small, already-allocated slice by ascending
// type number with x/exp/slices.SortFunc; the zone-build-time owner sort
// in zonedb/db.go uses sorts.Quicksort over a sort.Interface instead.
func sortRRsetsByType(s []*RRset) {
	slices.SortFunc(s, func(a, b *RRset) int { return int(a.Type) - int(b.Type) })
}

// hasCNAME reports whether the node carries a CNAME RRset, used to
// enforce the CNAME-exclusivity invariant.
func (n *Node) hasCNAME() bool {
	_, ok := n.rrsets[rr.TypeCNAME]
	return ok
}
