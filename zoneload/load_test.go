package zoneload

import (
	"strings"
	"testing"

	"github.com/kvastad/znsd/rr"
	"github.com/kvastad/znsd/wire"
	"github.com/kvastad/znsd/zonedb"
)

const testZoneFile = `
example.com.	3600	IN	SOA	ns1.example.com. hostmaster.example.com. 1 3600 1800 604800 300
example.com.	3600	IN	NS	ns1.example.com.
ns1.example.com.	3600	IN	A	192.0.2.1
www.example.com.	3600	IN	A	192.0.2.2
mail.example.com.	3600	IN	MX	10 mail-gw.example.com.
alias.example.com.	3600	IN	CNAME	www.example.com.
`

func TestLoadFileParsesAndBulkLoads(t *testing.T) {
	db := zonedb.New()
	apex, err := wire.NameFromString("example.com.")
	if err != nil {
		t.Fatalf("NameFromString: %v", err)
	}
	zone := db.NewZone(apex, &zonedb.ZoneConfig{Name: "example.com.", FollowDepth: 10})

	n, err := LoadFile(db, zone, "example.com.", strings.NewReader(testZoneFile))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if n != 6 {
		t.Errorf("LoadFile record count = %d, want 6", n)
	}

	www, err := wire.NameFromString("www.example.com.")
	if err != nil {
		t.Fatalf("NameFromString: %v", err)
	}
	node, exact := db.Lookup(www)
	if !exact {
		t.Fatal("www.example.com. should be an exact match after load")
	}
	set := node.RRSet(rr.TypeA)
	if set == nil || len(set.RRs) != 1 {
		t.Fatalf("www A RRset = %+v, want one record", set)
	}
	if got := set.RRs[0].Bytes["address"]; len(got) != 4 || got[3] != 2 {
		t.Errorf("www A address = %v, want 192.0.2.2", got)
	}
}

func TestConvertCNAME(t *testing.T) {
	db := zonedb.New()
	apex, _ := wire.NameFromString("example.com.")
	zone := db.NewZone(apex, &zonedb.ZoneConfig{Name: "example.com.", FollowDepth: 10})
	if _, err := LoadFile(db, zone, "example.com.", strings.NewReader(testZoneFile)); err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	alias, _ := wire.NameFromString("alias.example.com.")
	node, exact := db.Lookup(alias)
	if !exact {
		t.Fatal("alias.example.com. should be an exact match")
	}
	set := node.RRSet(rr.TypeCNAME)
	if set == nil || len(set.RRs) != 1 {
		t.Fatalf("alias CNAME RRset = %+v, want one record", set)
	}
	want, _ := wire.NameFromString("www.example.com.")
	if !set.RRs[0].Names["target"].Equal(want) {
		t.Errorf("CNAME target = %v, want www.example.com.", set.RRs[0].Names["target"])
	}
}

func TestLoadFileMalformedZone(t *testing.T) {
	db := zonedb.New()
	apex, _ := wire.NameFromString("example.com.")
	zone := db.NewZone(apex, &zonedb.ZoneConfig{Name: "example.com.", FollowDepth: 10})
	_, err := LoadFile(db, zone, "example.com.", strings.NewReader("example.com. IN GARBAGE\n"))
	if err == nil {
		t.Error("LoadFile should error on unparsable zone data")
	}
}

func TestParseApexSerial(t *testing.T) {
	serial, err := ParseApexSerial("2026073101")
	if err != nil {
		t.Fatalf("ParseApexSerial: %v", err)
	}
	if serial != 2026073101 {
		t.Errorf("serial = %d, want 2026073101", serial)
	}
	if _, err := ParseApexSerial("not-a-number"); err == nil {
		t.Error("ParseApexSerial should error on non-numeric input")
	}
}
