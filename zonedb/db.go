package zonedb

import (
	"errors"

	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/twotwotwo/sorts"

	"github.com/kvastad/znsd/rr"
	"github.com/kvastad/znsd/wire"
)

// ErrOutOfZone is returned by InsertRR when a primary zone is asked to
// accept an RR whose owner does not lie within it.
var ErrOutOfZone = errors.New("zonedb: owner out of zone")

// DB is the namedb: one shared name tree plus a registry of zones. Every
// listener reaches the same DB through the query engine; reload builds a
// new DB and swaps it in whole rather than mutating in place.
type DB struct {
	tree  *treeWrap
	zones cmap.ConcurrentMap[string, *Zone]
	root  *Node
}

// New creates an empty namedb with just the root node.
func New() *DB {
	root := newNode(wire.Root, nil)
	root.IsExisting = true
	t := newTreeWrap(root)
	return &DB{tree: t, zones: cmap.New[*Zone](), root: root}
}

// NewZone registers a zone apex under the given config, creating the
// apex node if absent. Idempotent: calling it again for the same apex
// name returns the existing zone.
func (db *DB) NewZone(apex wire.Name, cfg *ZoneConfig) *Zone {
	key := apex.String()
	if z, ok := db.zones.Get(key); ok {
		return z
	}
	node := db.getOrCreate(apex)
	z := &Zone{Apex: node, Config: cfg}
	node.IsApex = true
	node.Zone = z
	db.bumpUsage(node, +1) // the zone holds its own apex reference
	db.zones.Set(key, z)
	return z
}

// RemoveZone deletes a zone and every RRset it owns, decrementing usage
// counters for every rdata reference those RRsets held, and garbage
// collects nodes left with zero usage.
func (db *DB) RemoveZone(apex wire.Name) {
	key := apex.String()
	z, ok := db.zones.Get(key)
	if !ok {
		return
	}
	db.walkZoneNodes(z, func(n *Node) {
		for t := range n.rrsets {
			db.clearRRset(n, t)
		}
	})
	db.bumpUsage(z.Apex, -1)
	z.Apex.IsApex = false
	z.Apex.Zone = nil
	db.zones.Remove(key)
}

func (db *DB) walkZoneNodes(z *Zone, fn func(*Node)) {
	db.tree.walk(func(n *Node) bool {
		if n.Zone == z {
			fn(n)
		}
		return true
	})
}

// FindZoneFor returns the zone whose apex is the closest ancestor of
// name (or name itself), or nil.
func (db *DB) FindZoneFor(name wire.Name) *Zone {
	n := db.closestEncloser(name)
	for n != nil {
		if n.IsApex {
			return n.Zone
		}
		n = n.parent
	}
	return nil
}

// Lookup returns the deepest existing ancestor of name and whether the
// match is exact. Never errors; the root is returned
// when nothing else matches.
func (db *DB) Lookup(name wire.Name) (node *Node, exact bool) {
	n := db.closestEncloser(name)
	return n, n.Owner.Equal(name)
}

// closestEncloser locates a predecessor via find-less-or-equal, then
// walks parent pointers up until a node with at most the matched label
// count is reached.
func (db *DB) closestEncloser(name wire.Name) *Node {
	key := name.SortKey()
	v, exact, found := db.tree.t.FindLessOrEqual(key)
	if !found {
		return db.root
	}
	n := v.(*Node)
	if exact {
		return n
	}
	matched := name.LabelMatchCount(n.Owner)
	for n.Owner.NumLabels() > matched {
		if n.parent == nil {
			return db.root
		}
		n = n.parent
	}
	return n
}

// getOrCreate walks name from the root down, creating empty
// non-terminals for every interior label not yet present, and returns the leaf node.
func (db *DB) getOrCreate(name wire.Name) *Node {
	if name.NumLabels() <= 1 {
		return db.root
	}
	parent, ok := name.Parent()
	var parentNode *Node
	if ok {
		parentNode = db.getOrCreate(parent)
	} else {
		parentNode = db.root
	}
	key := name.SortKey()
	if v, ok := db.tree.t.Search(key); ok {
		return v.(*Node)
	}
	n := newNode(name, parentNode)
	db.tree.insert(key, n)
	db.bumpUsage(parentNode, +1) // one more direct child
	db.maybeSetWildcard(parentNode, n)
	return n
}

func (db *DB) maybeSetWildcard(parent, child *Node) {
	leaf := child.Owner.LeadingLabels(parent.Owner.NumLabels())
	if len(leaf) == 1 && string(leaf[0]) == "*" {
		parent.WildcardChild = child
	}
}

// bumpUsage adjusts a node's inbound-reference counter and garbage
// collects it if it drops to zero with no RRsets and no existing
// descendants.
func (db *DB) bumpUsage(n *Node, delta int) {
	if n == nil || n == db.root {
		if n != nil {
			n.usage += delta
		}
		return
	}
	n.usage += delta
	if n.usage <= 0 && !n.IsExisting && len(n.rrsets) == 0 {
		db.collect(n)
	}
}

// collect removes a node with zero usage from the tree and recurses on
// its parent, whose child count (and thus usage) just decreased.
func (db *DB) collect(n *Node) {
	if n.parent == nil {
		return
	}
	if n.parent.WildcardChild == n {
		n.parent.WildcardChild = nil
	}
	db.tree.delete(n.Owner.SortKey())
	parent := n.parent
	parent.usage--
	if parent != db.root && parent.usage <= 0 && !parent.IsExisting && len(parent.rrsets) == 0 {
		db.collect(parent)
	}
}

// setExistingUpward marks n and every ancestor as existing, stopping once an already-existing ancestor is reached.
func (db *DB) setExistingUpward(n *Node) {
	for n != nil && !n.IsExisting {
		n.IsExisting = true
		n = n.parent
	}
}

// recheckExisting recomputes is_existing bottom-up after an RRset became
// empty: a node stays existing iff it still has RRsets or an existing
// descendant; ancestors are re-derived the same way, stopping at the
// first node whose state does not change. Nodes left with zero usage
// and no RRsets are collected on the way up.
func (db *DB) recheckExisting(n *Node) {
	for n != nil {
		hasRRsets := len(n.rrsets) > 0
		hasExistingChild := db.hasExistingDescendant(n)
		still := hasRRsets || hasExistingChild
		if still == n.IsExisting {
			return
		}
		n.IsExisting = still
		if n.usage <= 0 && !still && len(n.rrsets) == 0 {
			db.collect(n)
		}
		n = n.parent
	}
}

func (db *DB) hasExistingDescendant(n *Node) bool {
	found := false
	db.tree.walk(func(c *Node) bool {
		if c != n && c.Owner.IsSubdomainOf(n.Owner) && c.IsExisting {
			found = true
			return false
		}
		return true
	})
	return found
}

// InsertRR attaches r to zone, creating the owner node (and any implied
// empty non-terminals) as needed, and updating apex-cached state when
// the owner is the zone apex. Returns the node
// and whether an actual insertion happened (false = idempotent no-op or
// rejected).
func (db *DB) InsertRR(z *Zone, r *rr.RR, secondary bool) (*Node, bool, error) {
	if !r.Owner.IsSubdomainOf(z.Apex.Owner) {
		if !secondary {
			return nil, false, ErrOutOfZone
		}
	}
	node := db.getOrCreate(r.Owner)
	if node.Zone == nil {
		node.Zone = z
	}
	if r.Type != rr.TypeCNAME && node.hasCNAME() {
		return node, false, nil // CNAME exclusivity violation; silently rejected
	}
	if r.Type == rr.TypeCNAME && len(node.rrsets) > 0 {
		for t := range node.rrsets {
			if t != rr.TypeRRSIG && t != rr.TypeNSEC && t != rr.TypeNSEC3 {
				return node, false, nil
			}
		}
	}
	set, ok := node.rrsets[r.Type]
	if !ok {
		set = &RRset{Zone: z, Type: r.Type, Class: r.Class}
		node.rrsets[r.Type] = set
	}
	inserted := set.add(r)
	if !inserted {
		return node, false, nil
	}
	for _, ref := range r.Names {
		refNode := db.getOrCreate(ref)
		db.bumpUsage(refNode, +1)
	}
	db.setExistingUpward(node)
	if node == z.Apex {
		db.applyApexChecks(z, r.Type, set)
	}
	return node, true, nil
}

// applyApexChecks updates the zone's cached SOA/NS/security state
// whenever an apex RRset changes.
func (db *DB) applyApexChecks(z *Zone, t rr.Type, set *RRset) {
	switch t {
	case rr.TypeSOA:
		z.SOARRset = set
		z.SOANXRRset = buildSOANX(set)
	case rr.TypeNS:
		z.NSRRset = set
	case rr.TypeRRSIG:
		for _, sig := range set.RRs {
			if sig.Values["typecovered"] == uint64(rr.TypeDNSKEY) {
				z.IsSecure = true
			}
		}
	}
}

// buildSOANX clones the SOA RRset with its TTL clamped to the SOA
// MINIMUM field, for use in negative answers.
func buildSOANX(soa *RRset) *RRset {
	if len(soa.RRs) == 0 {
		return nil
	}
	minimum := uint32(soa.RRs[0].Values["minimum"])
	clone := *soa.RRs[0]
	ttl := clone.TTL
	if minimum < ttl {
		ttl = minimum
	}
	clone.TTL = ttl
	return &RRset{Zone: soa.Zone, Type: soa.Type, Class: soa.Class, RRs: []*rr.RR{&clone}}
}

// DeleteRR removes r's matching rdata from zone, garbage collecting
// nodes that fall to zero usage with no remaining RRsets, upward to the
// zone boundary. Never fatal.
func (db *DB) DeleteRR(z *Zone, r *rr.RR) {
	key := r.Owner.SortKey()
	v, ok := db.tree.t.Search(key)
	if !ok {
		return
	}
	node := v.(*Node)
	set, ok := node.rrsets[r.Type]
	if !ok {
		return
	}
	if !set.remove(r) {
		return
	}
	for _, ref := range r.Names {
		if refNode, ok := db.tree.t.Search(ref.SortKey()); ok {
			db.bumpUsage(refNode.(*Node), -1)
		}
	}
	if set.empty() {
		delete(node.rrsets, r.Type)
	}
	db.recheckExisting(node)
}

func (db *DB) clearRRset(n *Node, t rr.Type) {
	set := n.rrsets[t]
	for _, r := range set.RRs {
		for _, ref := range r.Names {
			if refNode, ok := db.tree.t.Search(ref.SortKey()); ok {
				db.bumpUsage(refNode.(*Node), -1)
			}
		}
	}
	delete(n.rrsets, t)
	db.recheckExisting(n)
}

// WildcardUnder returns node's immediate `*` child, or nil.
func (db *DB) WildcardUnder(n *Node) *Node { return n.WildcardChild }

// IsGlue reports whether node lies below a delegation NS in zone and
// bears no SOA.
func (db *DB) IsGlue(n *Node, z *Zone) bool {
	if n.rrsets[rr.TypeSOA] != nil {
		return false
	}
	p := n.parent
	for p != nil && p.Owner.IsSubdomainOf(z.Apex.Owner) {
		if p != z.Apex && p.rrsets[rr.TypeNS] != nil {
			return true
		}
		if p == z.Apex {
			break
		}
		p = p.parent
	}
	return false
}

// IsDelegationPoint reports whether n carries an NS RRset in z and is
// not z's apex.
func IsDelegationPoint(n *Node, z *Zone) bool {
	return n != z.Apex && n.rrsets[rr.TypeNS] != nil
}

// recordsByOwner implements sort.Interface over a slice of RRs ordered
// by owner's canonical key.
type recordsByOwner []*rr.RR

func (s recordsByOwner) Len() int      { return len(s) }
func (s recordsByOwner) Swap(i, j int) { s[i], s[j] = s[j], s[i] }
func (s recordsByOwner) Less(i, j int) bool {
	return s[i].Owner.Compare(s[j].Owner) < 0
}

// BulkLoad inserts many RRs into zone efficiently, sorting them by
// canonical key first (via sorts.Quicksort over a sort.Interface) so
// that tree construction proceeds in ascending key order.
func (db *DB) BulkLoad(z *Zone, records []*rr.RR) {
	sorts.Quicksort(recordsByOwner(records))
	for _, r := range records {
		db.InsertRR(z, r, false)
	}
}
