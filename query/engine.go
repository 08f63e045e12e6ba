// Package query implements the query state machine: parse, classify,
// and encode, synchronously and without suspension points, per worker
// namedb instance.
//
// The classification dispatch (exact-match / wildcard /
// delegation-referral / NXDOMAIN branches, CNAME-chase guard,
// wildcard-name construction) follows the shape of a typical
// authoritative responder's decision tree.
package query

import (
	"sync/atomic"

	"github.com/kvastad/znsd/edns0"
	"github.com/kvastad/znsd/msg"
	"github.com/kvastad/znsd/rr"
	"github.com/kvastad/znsd/wire"
	"github.com/kvastad/znsd/zonedb"
)

// Transport distinguishes datagram (UDP) from stream (TCP) queries,
// since the UDP size budget and truncation policy differ.
type Transport int

const (
	TransportDatagram Transport = iota
	TransportStream
)

const (
	qtypeANY = 255

	defaultUDPBudget   = 512
	maxUDPCeiling      = 4096
	defaultFollowDepth = 10
)

// Engine answers queries against a single namedb instance. It carries no
// per-query state between calls; each Handle call is straight-line
// synchronous code with no suspension points. The namedb pointer is held
// behind an atomic so a reload can swap the whole namedb in one step
// without the transport layer needing to know a reload happened.
type Engine struct {
	db       atomic.Pointer[zonedb.DB]
	queries  atomic.Uint64
	auth     Authenticator
	tsigAuth TSIGAuthenticator
}

// New creates an Engine bound to db.
func New(db *zonedb.DB) *Engine {
	e := &Engine{}
	e.db.Store(db)
	return e
}

// SetDB atomically swaps the namedb a reload just built.
func (e *Engine) SetDB(db *zonedb.DB) { e.db.Store(db) }

// SetAuthenticator wires in the authenticated message signing
// passthrough. Without one, a trailing SIG record on a query is
// ignored rather than rejected.
func (e *Engine) SetAuthenticator(a Authenticator) { e.auth = a }

// SetTSIGAuthenticator wires in the TSIG shared-secret signing
// passthrough, the symmetric-key alternative to SetAuthenticator's
// SIG(0). Without one, a trailing TSIG record on a query is ignored
// rather than rejected. A query engine normally carries one or the
// other, not both.
func (e *Engine) SetTSIGAuthenticator(a TSIGAuthenticator) { e.tsigAuth = a }

// DB returns the namedb currently in use.
func (e *Engine) DB() *zonedb.DB { return e.db.Load() }

// Queries returns the number of Handle calls served so far, surfaced by
// the control plane's /stats endpoint.
func (e *Engine) Queries() uint64 { return e.queries.Load() }

// Handle consumes a wire-format query from req and returns a wire-format
// response. It never returns an error: malformed input produces a
// minimal FORMERR response, matching the query engine's
// "no suspension, no propagated errors" contract.
func (e *Engine) Handle(req []byte, transport Transport) []byte {
	e.queries.Add(1)
	rb := wire.NewBuffer(req)
	hdr, err := msg.DecodeHeader(rb)
	if err != nil {
		return minimalError(0, msg.RcodeFormErr)
	}
	if hdr.QR {
		return minimalError(hdr.ID, msg.RcodeFormErr)
	}
	if hdr.Opcode != msg.OpQuery && hdr.Opcode != msg.OpNotify && hdr.Opcode != msg.OpUpdate {
		return minimalError(hdr.ID, msg.RcodeNotImp)
	}
	if hdr.Opcode == msg.OpQuery && hdr.QDCount != 1 {
		return minimalError(hdr.ID, msg.RcodeFormErr)
	}
	if hdr.TC {
		return minimalError(hdr.ID, msg.RcodeFormErr)
	}

	qname, err := wire.ParseName(rb)
	if err != nil {
		return minimalError(hdr.ID, msg.RcodeFormErr)
	}
	qtype, err := rb.ReadUint16()
	if err != nil {
		return minimalError(hdr.ID, msg.RcodeFormErr)
	}
	qclass, err := rb.ReadUint16()
	if err != nil {
		return minimalError(hdr.ID, msg.RcodeFormErr)
	}

	opt, optFound := scanForOPT(rb, hdr)

	var sig sigState
	if e.auth != nil {
		if reqSig, start, found := parseTrailingSIG(req, hdr); found {
			if err := e.auth.Validate(signedPrefix(req, start, hdr.ARCount), reqSig); err != nil {
				return e.notauthResponse(hdr, qname, qtype, qclass, reqSig)
			}
			sig = sigState{req: reqSig, authenticated: true}
		}
	} else if e.tsigAuth != nil {
		if info, start, found := parseTrailingTSIG(req, hdr); found {
			signedBytes := append(signedPrefix(req, start, hdr.ARCount), tsigVariables(&info, 0)...)
			if err := e.tsigAuth.Validate(signedBytes, info.keyName.String(), info.algorithm.String(), info.mac); err != nil {
				return e.notauthResponseTSIG(hdr, qname, qtype, qclass, info)
			}
			sig = sigState{tsig: &info}
		}
	}

	if hdr.Opcode != msg.OpQuery {
		return e.finalize(hdr, qname, qtype, qclass, msg.RcodeNotImp, false, nil, nil, nil, opt, optFound, transport, sig)
	}

	return e.answerQuery(hdr, qname, rr.Type(qtype), qclass, opt, optFound, transport, sig)
}

// scanForOPT skips over the answer and authority sections (per the
// header's counts) and scans the additional section for the OPT
// pseudo-record (type 41). Records that cannot be parsed are treated as
// "no OPT found" rather than a hard failure, since OPT absence is a
// normal, common case.
func scanForOPT(b *wire.Buffer, hdr msg.Header) (edns0.Info, bool) {
	for i := 0; i < int(hdr.ANCount)+int(hdr.NSCount); i++ {
		if !skipRR(b) {
			return edns0.Info{}, false
		}
	}
	for i := 0; i < int(hdr.ARCount); i++ {
		_, err := wire.ParseName(b)
		if err != nil {
			return edns0.Info{}, false
		}
		rtype, err := b.ReadUint16()
		if err != nil {
			return edns0.Info{}, false
		}
		class, err := b.ReadUint16()
		if err != nil {
			return edns0.Info{}, false
		}
		ttl, err := b.ReadUint32()
		if err != nil {
			return edns0.Info{}, false
		}
		rdlen, err := b.ReadUint16()
		if err != nil {
			return edns0.Info{}, false
		}
		rdata, err := b.ReadBytes(int(rdlen))
		if err != nil {
			return edns0.Info{}, false
		}
		if rr.Type(rtype) == rr.TypeOPT {
			info, err := edns0.Parse(class, ttl, rdata)
			if err != nil {
				return edns0.Info{}, false
			}
			return info, true
		}
	}
	return edns0.Info{}, false
}

// skipRR advances past one resource record without interpreting it.
func skipRR(b *wire.Buffer) bool {
	if _, err := wire.ParseName(b); err != nil {
		return false
	}
	if _, err := b.ReadUint16(); err != nil {
		return false
	}
	if _, err := b.ReadUint16(); err != nil {
		return false
	}
	if _, err := b.ReadUint32(); err != nil {
		return false
	}
	rdlen, err := b.ReadUint16()
	if err != nil {
		return false
	}
	return b.Skip(int(rdlen)) == nil
}

// answerQuery performs the classify + encode phases for an ordinary
// query opcode.
func (e *Engine) answerQuery(hdr msg.Header, qname wire.Name, qtype rr.Type, qclass uint16, opt edns0.Info, optFound bool, transport Transport, sig sigState) []byte {
	zone := e.DB().FindZoneFor(qname)
	if zone == nil {
		return e.finalize(hdr, qname, uint16(qtype), qclass, msg.RcodeRefused, true, nil, nil, nil, opt, optFound, transport, sig)
	}

	followDepth := defaultFollowDepth
	if zone.Config != nil && zone.Config.FollowDepth > 0 {
		followDepth = zone.Config.FollowDepth
	}
	result := e.classify(zone, qname, qtype, followDepth)
	rcode := msg.RcodeOK
	if result.nxdomain {
		rcode = msg.RcodeNXDomain
	}
	return e.finalize(hdr, qname, uint16(qtype), qclass, rcode, result.authoritative, result.answer, result.authority, result.additional, opt, optFound, transport, sig)
}

// classifyResult carries the sections produced by one of the eight cases
// in the classification dispatch below.
type classifyResult struct {
	answer, authority, additional []ownedRRset
	authoritative                 bool
	nxdomain                      bool
}

type ownedRRset struct {
	owner wire.Name
	rrs   []*rr.RR
}

// classify dispatches over the eight answer shapes: exact match, ANY,
// CNAME follow, DNAME, delegation, wildcard, NXDOMAIN, NODATA.
func (e *Engine) classify(zone *zonedb.Zone, qname wire.Name, qtype rr.Type, depthLeft int) classifyResult {
	node, exact := e.DB().Lookup(qname)

	if exact && zonedb.IsDelegationPoint(node, zone) {
		return e.delegationResult(zone, node)
	}
	if !exact {
		if found, dnode := e.findDelegationAbove(zone, qname); found {
			return e.delegationResult(zone, dnode)
		}
	}

	if exact {
		if uint16(qtype) == qtypeANY {
			var sets []ownedRRset
			for _, s := range node.RRSets() {
				sets = append(sets, ownedRRset{owner: qname, rrs: s.RRs})
			}
			return classifyResult{answer: sets, authoritative: true}
		}
		if set := node.RRSet(qtype); set != nil {
			additional := e.glueForRRs(zone, set.RRs)
			return classifyResult{
				answer:        []ownedRRset{{owner: qname, rrs: set.RRs}},
				additional:    additional,
				authoritative: true,
			}
		}
		if cn := node.RRSet(rr.TypeCNAME); cn != nil && qtype != rr.TypeCNAME {
			return e.followCNAME(zone, qname, cn, qtype, depthLeft)
		}
		return classifyResult{authority: soaNX(zone), authoritative: true} // NODATA
	}

	if dn, encloserName, ok := e.findDNAME(zone, qname); ok {
		return e.followDNAME(zone, qname, dn, encloserName, qtype, depthLeft)
	}

	if wc := e.findWildcard(zone, qname); wc != nil {
		synthesized := synthesizeWildcard(wc, qname)
		additional := e.glueForRRs(zone, synthesized)
		return classifyResult{answer: []ownedRRset{{owner: qname, rrs: synthesized}}, additional: additional, authoritative: true}
	}

	return classifyResult{authority: soaNX(zone), authoritative: true, nxdomain: true}
}

func soaNX(z *zonedb.Zone) []ownedRRset {
	if z.SOANXRRset == nil {
		return nil
	}
	return []ownedRRset{{owner: z.Apex.Owner, rrs: z.SOANXRRset.RRs}}
}

// findDelegationAbove walks qname's ancestors (excluding the zone apex,
// which is never a delegation point) looking for a node with an NS
// RRset.
func (e *Engine) findDelegationAbove(zone *zonedb.Zone, qname wire.Name) (bool, *zonedb.Node) {
	name := qname
	for {
		parent, ok := name.Parent()
		if !ok || parent.NumLabels() < zone.Apex.Owner.NumLabels() {
			return false, nil
		}
		if parent.Equal(zone.Apex.Owner) {
			return false, nil
		}
		node, exact := e.DB().Lookup(parent)
		if exact && zonedb.IsDelegationPoint(node, zone) {
			return true, node
		}
		name = parent
	}
}

func (e *Engine) delegationResult(zone *zonedb.Zone, node *zonedb.Node) classifyResult {
	ns := node.RRSet(rr.TypeNS)
	if ns == nil {
		return classifyResult{authority: soaNX(zone), authoritative: true, nxdomain: true}
	}
	additional := e.glueForRRs(zone, ns.RRs)
	return classifyResult{
		authority:     []ownedRRset{{owner: node.Owner, rrs: ns.RRs}},
		additional:    additional,
		authoritative: false,
	}
}

// followCNAME appends the CNAME RR and, if the target lies in the same
// zone, restarts classification there for the original qtype, bounded
// by depthLeft.
func (e *Engine) followCNAME(zone *zonedb.Zone, owner wire.Name, cn *zonedb.RRset, qtype rr.Type, depthLeft int) classifyResult {
	result := classifyResult{answer: []ownedRRset{{owner: owner, rrs: cn.RRs}}, authoritative: true}
	if depthLeft <= 0 || len(cn.RRs) == 0 {
		return result
	}
	target := cn.RRs[0].Names["target"]
	if !target.IsSubdomainOf(zone.Apex.Owner) {
		return result
	}
	next := e.classify(zone, target, qtype, depthLeft-1)
	result.answer = append(result.answer, next.answer...)
	result.authority = next.authority
	result.additional = append(result.additional, next.additional...)
	result.nxdomain = next.nxdomain
	return result
}

// findDNAME looks for a DNAME at an ancestor of qname (walking from the
// closest encloser up to the apex) such that qname lies strictly below
// it.
func (e *Engine) findDNAME(zone *zonedb.Zone, qname wire.Name) (*zonedb.RRset, wire.Name, bool) {
	node, exact := e.DB().Lookup(qname)
	if exact {
		return nil, wire.Name{}, false
	}
	for n := node; n != nil; n = n.Parent() {
		if dn := n.RRSet(rr.TypeDNAME); dn != nil && qname.IsSubdomainOf(n.Owner) && !qname.Equal(n.Owner) {
			return dn, n.Owner, true
		}
		if n == zone.Apex {
			break
		}
	}
	return nil, wire.Name{}, false
}

func (e *Engine) followDNAME(zone *zonedb.Zone, qname wire.Name, dn *zonedb.RRset, encloser wire.Name, qtype rr.Type, depthLeft int) classifyResult {
	result := classifyResult{authoritative: true}
	if len(dn.RRs) == 0 {
		return result
	}
	result.answer = append(result.answer, ownedRRset{owner: encloser, rrs: dn.RRs})
	target := dn.RRs[0].Names["target"]
	leading := qname.LeadingLabels(encloser.NumLabels())
	synthTarget := wire.Concat(leading, target)
	cname := rr.NewRR(qname, rr.TypeCNAME, rr.ClassIN, dn.RRs[0].TTL)
	cname.Names["target"] = synthTarget
	result.answer = append(result.answer, ownedRRset{owner: qname, rrs: []*rr.RR{cname}})
	if depthLeft > 0 && synthTarget.IsSubdomainOf(zone.Apex.Owner) {
		next := e.classify(zone, synthTarget, qtype, depthLeft-1)
		result.answer = append(result.answer, next.answer...)
		result.authority = next.authority
		result.additional = next.additional
	}
	return result
}

// findWildcard checks the wildcard condition: the closest encloser has a
// wildcard child, and qname's immediate parent is that encloser (no
// existing node strictly between encloser and qname).
func (e *Engine) findWildcard(zone *zonedb.Zone, qname wire.Name) *zonedb.Node {
	parent, ok := qname.Parent()
	if !ok {
		return nil
	}
	node, exact := e.DB().Lookup(parent)
	if !exact || !node.IsExisting {
		return nil
	}
	return node.WildcardChild
}

// synthesizeWildcard rewrites the wildcard node's RRs under the queried
// owner name.
func synthesizeWildcard(wc *zonedb.Node, qname wire.Name) []*rr.RR {
	var out []*rr.RR
	for _, set := range wc.RRSets() {
		for _, r := range set.RRs {
			clone := *r
			clone.Owner = qname
			out = append(out, &clone)
		}
	}
	return out
}

// glueForRRs builds the additional section for a set of records carrying
// name-valued targets: A before AAAA (no other types), only for
// in-zone targets.
func (e *Engine) glueForRRs(zone *zonedb.Zone, rrs []*rr.RR) []ownedRRset {
	var out []ownedRRset
	seen := map[string]bool{}
	for _, r := range rrs {
		target, ok := r.Names["nsdname"]
		if !ok {
			target, ok = r.Names["target"]
		}
		if !ok || !target.IsSubdomainOf(zone.Apex.Owner) {
			continue
		}
		key := target.String()
		if seen[key] {
			continue
		}
		seen[key] = true
		node, exact := e.DB().Lookup(target)
		if !exact {
			continue
		}
		var glue []*rr.RR
		if a := node.RRSet(rr.TypeA); a != nil {
			glue = append(glue, a.RRs...)
		}
		if aaaa := node.RRSet(rr.TypeAAAA); aaaa != nil {
			glue = append(glue, aaaa.RRs...)
		}
		if len(glue) > 0 {
			out = append(out, ownedRRset{owner: target, rrs: glue})
		}
	}
	return out
}

func minimalError(id uint16, rcode uint8) []byte {
	buf := wire.NewBufferSize(12)
	_ = msg.EncodeHeader(buf, msg.Header{ID: id, QR: true, Rcode: rcode})
	return buf.Bytes()
}

// finalize runs the encode phase: writes
// header, question, and sections with compression and truncation. The
// UDP budget is 512 bytes, raised to the advertised OPT payload size
// when that is larger, and capped at 4096.
func (e *Engine) finalize(hdr msg.Header, qname wire.Name, qtype, qclass uint16, rcode int, authoritative bool, answer, authority, additional []ownedRRset, opt edns0.Info, optFound bool, transport Transport, sig sigState) []byte {
	maxSize := 65535
	if transport == TransportDatagram {
		maxSize = defaultUDPBudget
		if optFound && int(opt.UDPPayload) > maxSize {
			maxSize = int(opt.UDPPayload)
		}
		if maxSize > maxUDPCeiling {
			maxSize = maxUDPCeiling
		}
	}

	buf := wire.NewBufferSize(maxSize)
	a := msg.NewAssembler(buf, maxSize)

	respHdr := msg.Header{
		ID:      hdr.ID,
		QR:      true,
		Opcode:  hdr.Opcode,
		AA:      authoritative,
		RD:      hdr.RD,
		RA:      false,
		AD:      false,
		CD:      hdr.CD,
		Rcode:   uint8(rcode & 0x0F),
		QDCount: 1,
	}
	_ = msg.EncodeHeader(buf, respHdr)
	if err := a.WriteQuestion(qname, qtype, qclass); err != nil {
		return minimalError(hdr.ID, msg.RcodeServFail)
	}

	for _, s := range answer {
		a.WriteRRset(msg.SectionAnswer, s.owner, s.rrs)
	}
	for _, s := range authority {
		a.WriteRRset(msg.SectionAuthority, s.owner, s.rrs)
	}
	for _, s := range additional {
		a.WriteRRset(msg.SectionAdditional, s.owner, s.rrs)
	}
	if optFound {
		_ = a.AppendOPT(uint16(maxSize), 0, 0, opt.DO, nil)
	}

	an, ns, ar := a.Counts()
	respHdr.ANCount, respHdr.NSCount, respHdr.ARCount = an, ns, ar
	if a.Truncated() {
		respHdr.TC = true
	}
	_ = msg.EncodeHeader(wire.NewBuffer(buf.Bytes()), respHdr)

	if sig.authenticated && e.auth != nil {
		if respSig, err := e.auth.Sign(buf.Bytes(), sig.req); err == nil {
			if _, ok := a.WriteRRset(msg.SectionAdditional, wire.Root, []*rr.RR{respSig}); ok {
				_, _, ar = a.Counts()
				respHdr.ARCount = ar
				_ = msg.EncodeHeader(wire.NewBuffer(buf.Bytes()), respHdr)
			}
		}
	} else if sig.tsig != nil && e.tsigAuth != nil {
		signedBytes := append(append([]byte{}, buf.Bytes()...), tsigVariables(sig.tsig, 0)...)
		if mac, err := e.tsigAuth.Sign(signedBytes, sig.tsig.keyName.String(), sig.tsig.algorithm.String()); err == nil {
			tsigRR := rr.NewRR(sig.tsig.keyName, rr.TypeTSIG, tsigClassANY, 0)
			tsigRR.Bytes["data"] = encodeTSIGRdata(sig.tsig.algorithm, sig.tsig.timeSigned, sig.tsig.fudge, mac, sig.tsig.origID)
			if _, ok := a.WriteRRset(msg.SectionAdditional, sig.tsig.keyName, []*rr.RR{tsigRR}); ok {
				_, _, ar = a.Counts()
				respHdr.ARCount = ar
				_ = msg.EncodeHeader(wire.NewBuffer(buf.Bytes()), respHdr)
			}
		}
	}
	return buf.Bytes()
}
