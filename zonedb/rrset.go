package zonedb

import "github.com/kvastad/znsd/rr"

// RRset is a group of RRs sharing owner, zone, class, and type. All RRs
// share one TTL; on a TTL mismatch the smaller value wins, the common
// resolver convention.
type RRset struct {
	Zone  *Zone
	Type  rr.Type
	Class uint16
	RRs   []*rr.RR

	// RRSIGs holds pre-signed signature records covering this RRset, if
	// the zone publishes them; the core only ever serves these, never
	// computes them (signing is a non-goal).
	RRSIGs []*rr.RR
}

// add appends an RR to the set if its rdata isn't already present
// (idempotent insert), reconciling TTL to the smaller of the two on a
// mismatch.
func (s *RRset) add(r *rr.RR) (inserted bool) {
	for _, existing := range s.RRs {
		if existing.SameRdata(r) {
			if r.TTL < existing.TTL {
				s.retarget(r.TTL)
			}
			return false
		}
	}
	if len(s.RRs) > 0 && r.TTL != s.RRs[0].TTL {
		if r.TTL < s.RRs[0].TTL {
			s.retarget(r.TTL)
		} else {
			r.TTL = s.RRs[0].TTL
		}
	}
	s.RRs = append(s.RRs, r)
	return true
}

func (s *RRset) retarget(ttl uint32) {
	for _, r := range s.RRs {
		r.TTL = ttl
	}
}

// remove deletes the RR matching r's rdata, reporting whether anything
// was removed.
func (s *RRset) remove(r *rr.RR) bool {
	for i, existing := range s.RRs {
		if existing.SameRdata(r) {
			s.RRs = append(s.RRs[:i], s.RRs[i+1:]...)
			return true
		}
	}
	return false
}

func (s *RRset) empty() bool { return len(s.RRs) == 0 }
