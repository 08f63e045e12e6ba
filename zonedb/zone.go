package zonedb

import "github.com/kvastad/znsd/rr"

// Zone is a contiguous portion of the name space the server is
// authoritative for.
type Zone struct {
	Apex   *Node
	Config *ZoneConfig

	SOARRset   *RRset // cached on SOA insertion at the apex
	SOANXRRset *RRset // SOA copy with TTL clamped to SOA MINIMUM, for negative answers
	NSRRset    *RRset // cached on NS insertion at the apex

	IsSecure bool // set when an RRSIG covering DNSKEY is present at the apex

	// Denial holds precomputed NSEC/NSEC3 denial-of-existence records,
	// served verbatim when present and the query sets DO; building these
	// is an external collaborator concern, this only stores
	// what was handed in.
	Denial *DenialStore
}

// ZoneConfig is the configuration handle attached to a zone. Kept minimal here; package config's Config
// carries the full on-disk representation.
type ZoneConfig struct {
	Name       string
	FollowDepth int // CNAME/DNAME chase depth limit, default 10
}

// OK reports whether the zone is usable: its apex has a SOA RRset owned
// by the apex itself.
func (z *Zone) OK() bool {
	return z.SOARRset != nil && len(z.SOARRset.RRs) > 0 && z.SOARRset.RRs[0].Owner.Equal(z.Apex.Owner)
}

// DenialStore holds precomputed denial-of-existence records keyed by
// owner name text, populated by the zone-loading layer when a zone
// carries NSEC/NSEC3 parameters; building it is out of the core's scope.
type DenialStore struct {
	ByOwner map[string][]*rr.RR
}

func (d *DenialStore) recordsFor(owner string) []*rr.RR {
	if d == nil {
		return nil
	}
	return d.ByOwner[owner]
}
