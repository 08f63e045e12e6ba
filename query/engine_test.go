package query

import (
	"testing"

	"github.com/kvastad/znsd/msg"
	"github.com/kvastad/znsd/rr"
	"github.com/kvastad/znsd/wire"
	"github.com/kvastad/znsd/zonedb"
)

func mustName(t *testing.T, s string) wire.Name {
	t.Helper()
	n, err := wire.NameFromString(s)
	if err != nil {
		t.Fatalf("NameFromString(%q): %v", s, err)
	}
	return n
}

func soaRecord(t *testing.T, apex string) *rr.RR {
	t.Helper()
	r := rr.NewRR(mustName(t, apex), rr.TypeSOA, rr.ClassIN, 3600)
	r.Names["mname"] = mustName(t, "ns1."+apex)
	r.Names["rname"] = mustName(t, "hostmaster."+apex)
	r.Values["serial"] = 1
	r.Values["refresh"] = 3600
	r.Values["retry"] = 1800
	r.Values["expire"] = 604800
	r.Values["minimum"] = 300
	return r
}

func aRecord(t *testing.T, owner string, last byte) *rr.RR {
	t.Helper()
	r := rr.NewRR(mustName(t, owner), rr.TypeA, rr.ClassIN, 3600)
	r.Bytes["address"] = []byte{192, 0, 2, last}
	return r
}

func newTestDB(t *testing.T) (*zonedb.DB, *zonedb.Zone) {
	t.Helper()
	db := zonedb.New()
	apex := mustName(t, "example.com.")
	zone := db.NewZone(apex, &zonedb.ZoneConfig{Name: "example.com.", FollowDepth: defaultFollowDepth})
	if _, _, err := db.InsertRR(zone, soaRecord(t, "example.com."), false); err != nil {
		t.Fatalf("InsertRR(SOA): %v", err)
	}
	return db, zone
}

func buildQuery(t *testing.T, id uint16, qname wire.Name, qtype uint16) []byte {
	t.Helper()
	buf := wire.NewBufferSize(512)
	hdr := msg.Header{ID: id, Opcode: msg.OpQuery, RD: true, QDCount: 1}
	if err := msg.EncodeHeader(buf, hdr); err != nil {
		t.Fatalf("EncodeHeader: %v", err)
	}
	if err := buf.WriteBytes(qname.Raw()); err != nil {
		t.Fatalf("WriteBytes(qname): %v", err)
	}
	if err := buf.WriteUint16(qtype); err != nil {
		t.Fatalf("WriteUint16(qtype): %v", err)
	}
	if err := buf.WriteUint16(rr.ClassIN); err != nil {
		t.Fatalf("WriteUint16(qclass): %v", err)
	}
	return buf.Bytes()
}

func decodeResponse(t *testing.T, resp []byte) msg.Header {
	t.Helper()
	rb := wire.NewBuffer(resp)
	hdr, err := msg.DecodeHeader(rb)
	if err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}
	return hdr
}

func TestHandleExactMatch(t *testing.T) {
	db, zone := newTestDB(t)
	if _, _, err := db.InsertRR(zone, aRecord(t, "www.example.com.", 1), false); err != nil {
		t.Fatalf("InsertRR: %v", err)
	}
	e := New(db)

	req := buildQuery(t, 42, mustName(t, "www.example.com."), uint16(rr.TypeA))
	resp := e.Handle(req, TransportDatagram)
	hdr := decodeResponse(t, resp)

	if hdr.ID != 42 {
		t.Errorf("response ID = %d, want 42", hdr.ID)
	}
	if !hdr.QR {
		t.Error("QR should be set on a response")
	}
	if !hdr.AA {
		t.Error("AA should be set for an authoritative exact match")
	}
	if hdr.Rcode != msg.RcodeOK {
		t.Errorf("Rcode = %d, want RcodeOK", hdr.Rcode)
	}
	if hdr.ANCount != 1 {
		t.Errorf("ANCount = %d, want 1", hdr.ANCount)
	}
}

func TestHandleNXDomain(t *testing.T) {
	db, _ := newTestDB(t)
	e := New(db)

	req := buildQuery(t, 1, mustName(t, "nosuch.example.com."), uint16(rr.TypeA))
	resp := e.Handle(req, TransportDatagram)
	hdr := decodeResponse(t, resp)

	if hdr.Rcode != msg.RcodeNXDomain {
		t.Errorf("Rcode = %d, want RcodeNXDomain", hdr.Rcode)
	}
	if !hdr.AA {
		t.Error("AA should be set for an authoritative NXDOMAIN")
	}
	if hdr.ANCount != 0 {
		t.Errorf("ANCount = %d, want 0", hdr.ANCount)
	}
	if hdr.NSCount != 1 {
		t.Errorf("NSCount = %d, want 1 (SOA in authority)", hdr.NSCount)
	}
}

func TestHandleNoData(t *testing.T) {
	db, zone := newTestDB(t)
	if _, _, err := db.InsertRR(zone, aRecord(t, "www.example.com.", 1), false); err != nil {
		t.Fatalf("InsertRR: %v", err)
	}
	e := New(db)

	req := buildQuery(t, 2, mustName(t, "www.example.com."), uint16(rr.TypeAAAA))
	resp := e.Handle(req, TransportDatagram)
	hdr := decodeResponse(t, resp)

	if hdr.Rcode != msg.RcodeOK {
		t.Errorf("NODATA should answer with RcodeOK, got %d", hdr.Rcode)
	}
	if hdr.ANCount != 0 {
		t.Errorf("ANCount = %d, want 0 for NODATA", hdr.ANCount)
	}
	if hdr.NSCount != 1 {
		t.Errorf("NSCount = %d, want 1 (SOA) for NODATA", hdr.NSCount)
	}
}

func TestHandleRefusedOutOfZone(t *testing.T) {
	db, _ := newTestDB(t)
	e := New(db)

	req := buildQuery(t, 3, mustName(t, "www.other.com."), uint16(rr.TypeA))
	resp := e.Handle(req, TransportDatagram)
	hdr := decodeResponse(t, resp)

	if hdr.Rcode != msg.RcodeRefused {
		t.Errorf("Rcode = %d, want RcodeRefused", hdr.Rcode)
	}
}

func TestHandleDelegation(t *testing.T) {
	db, zone := newTestDB(t)
	ns := rr.NewRR(mustName(t, "sub.example.com."), rr.TypeNS, rr.ClassIN, 3600)
	ns.Names["nsdname"] = mustName(t, "ns1.sub.example.com.")
	if _, _, err := db.InsertRR(zone, ns, false); err != nil {
		t.Fatalf("InsertRR(NS): %v", err)
	}
	if _, _, err := db.InsertRR(zone, aRecord(t, "ns1.sub.example.com.", 5), false); err != nil {
		t.Fatalf("InsertRR(glue A): %v", err)
	}
	e := New(db)

	req := buildQuery(t, 4, mustName(t, "host.sub.example.com."), uint16(rr.TypeA))
	resp := e.Handle(req, TransportDatagram)
	hdr := decodeResponse(t, resp)

	if hdr.AA {
		t.Error("a delegation referral must not set AA")
	}
	if hdr.Rcode != msg.RcodeOK {
		t.Errorf("Rcode = %d, want RcodeOK for a referral", hdr.Rcode)
	}
	if hdr.NSCount != 1 {
		t.Errorf("NSCount = %d, want 1 (delegation NS)", hdr.NSCount)
	}
	if hdr.ARCount != 1 {
		t.Errorf("ARCount = %d, want 1 (glue A)", hdr.ARCount)
	}
}

func TestHandleCNAMEFollow(t *testing.T) {
	db, zone := newTestDB(t)
	cname := rr.NewRR(mustName(t, "alias.example.com."), rr.TypeCNAME, rr.ClassIN, 3600)
	cname.Names["target"] = mustName(t, "www.example.com.")
	if _, _, err := db.InsertRR(zone, cname, false); err != nil {
		t.Fatalf("InsertRR(CNAME): %v", err)
	}
	if _, _, err := db.InsertRR(zone, aRecord(t, "www.example.com.", 7), false); err != nil {
		t.Fatalf("InsertRR(A): %v", err)
	}
	e := New(db)

	req := buildQuery(t, 5, mustName(t, "alias.example.com."), uint16(rr.TypeA))
	resp := e.Handle(req, TransportDatagram)
	hdr := decodeResponse(t, resp)

	if hdr.Rcode != msg.RcodeOK {
		t.Errorf("Rcode = %d, want RcodeOK", hdr.Rcode)
	}
	if hdr.ANCount != 2 {
		t.Errorf("ANCount = %d, want 2 (CNAME + target A)", hdr.ANCount)
	}
}

func TestHandleCNAMEFollowRespectsZoneFollowDepth(t *testing.T) {
	db := zonedb.New()
	apex := mustName(t, "example.com.")
	zone := db.NewZone(apex, &zonedb.ZoneConfig{Name: "example.com.", FollowDepth: 1})
	if _, _, err := db.InsertRR(zone, soaRecord(t, "example.com."), false); err != nil {
		t.Fatalf("InsertRR(SOA): %v", err)
	}
	first := rr.NewRR(mustName(t, "a.example.com."), rr.TypeCNAME, rr.ClassIN, 3600)
	first.Names["target"] = mustName(t, "b.example.com.")
	second := rr.NewRR(mustName(t, "b.example.com."), rr.TypeCNAME, rr.ClassIN, 3600)
	second.Names["target"] = mustName(t, "c.example.com.")
	if _, _, err := db.InsertRR(zone, first, false); err != nil {
		t.Fatalf("InsertRR(CNAME a): %v", err)
	}
	if _, _, err := db.InsertRR(zone, second, false); err != nil {
		t.Fatalf("InsertRR(CNAME b): %v", err)
	}
	if _, _, err := db.InsertRR(zone, aRecord(t, "c.example.com.", 9), false); err != nil {
		t.Fatalf("InsertRR(A): %v", err)
	}
	e := New(db)

	req := buildQuery(t, 6, mustName(t, "a.example.com."), uint16(rr.TypeA))
	resp := e.Handle(req, TransportDatagram)
	hdr := decodeResponse(t, resp)

	if hdr.Rcode != msg.RcodeOK {
		t.Errorf("Rcode = %d, want RcodeOK", hdr.Rcode)
	}
	if hdr.ANCount != 2 {
		t.Errorf("ANCount = %d, want 2 (only one CNAME hop followed with FollowDepth=1)", hdr.ANCount)
	}
}

func TestHandleMalformedReturnsFormErr(t *testing.T) {
	db, _ := newTestDB(t)
	e := New(db)
	resp := e.Handle([]byte{0x00, 0x01}, TransportDatagram)
	hdr := decodeResponse(t, resp)
	if hdr.Rcode != msg.RcodeFormErr {
		t.Errorf("Rcode = %d, want RcodeFormErr for a truncated header", hdr.Rcode)
	}
}

func TestSetDBSwapsLiveNamedb(t *testing.T) {
	db1, _ := newTestDB(t)
	e := New(db1)

	db2, zone2 := newTestDB(t)
	if _, _, err := db2.InsertRR(zone2, aRecord(t, "www.example.com.", 9), false); err != nil {
		t.Fatalf("InsertRR: %v", err)
	}

	req := buildQuery(t, 6, mustName(t, "www.example.com."), uint16(rr.TypeA))
	before := decodeResponse(t, e.Handle(req, TransportDatagram))
	if before.ANCount != 0 {
		t.Fatalf("before SetDB, ANCount = %d, want 0 (record not yet loaded)", before.ANCount)
	}

	e.SetDB(db2)

	after := decodeResponse(t, e.Handle(req, TransportDatagram))
	if after.ANCount != 1 {
		t.Errorf("after SetDB, ANCount = %d, want 1 (reloaded namedb should be visible immediately)", after.ANCount)
	}
}

func TestQueriesCounter(t *testing.T) {
	db, _ := newTestDB(t)
	e := New(db)
	req := buildQuery(t, 7, mustName(t, "example.com."), uint16(rr.TypeSOA))
	if e.Queries() != 0 {
		t.Fatalf("Queries() = %d before any Handle call, want 0", e.Queries())
	}
	e.Handle(req, TransportDatagram)
	e.Handle(req, TransportDatagram)
	if e.Queries() != 2 {
		t.Errorf("Queries() = %d after two Handle calls, want 2", e.Queries())
	}
}
