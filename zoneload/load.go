// Package zoneload is the zone-file ingestion adapter: it parses
// master-file syntax with github.com/miekg/dns's zone parser, confined
// strictly to this boundary, and converts each parsed dns.RR into the
// core's own rr.RR before it ever reaches zonedb.
package zoneload

import (
	"encoding/hex"
	"fmt"
	"io"
	"strconv"

	"github.com/miekg/dns"

	"github.com/kvastad/znsd/rr"
	"github.com/kvastad/znsd/wire"
	"github.com/kvastad/znsd/zonedb"
)

// LoadFile parses a zone master file and bulk-loads it into zone via
// db.BulkLoad, so a reload is a bulk rebuild rather than per-RR mutation.
func LoadFile(db *zonedb.DB, zone *zonedb.Zone, apex string, r io.Reader) (int, error) {
	zp := dns.NewZoneParser(r, apex, "")
	var records []*rr.RR
	for dr, ok := zp.Next(); ok; dr, ok = zp.Next() {
		converted, err := convert(dr)
		if err != nil {
			return len(records), fmt.Errorf("zoneload: %s: %w", dr.Header().Name, err)
		}
		if converted != nil {
			records = append(records, converted)
		}
	}
	if err := zp.Err(); err != nil {
		return len(records), err
	}
	db.BulkLoad(zone, records)
	return len(records), nil
}

// convert maps one parsed dns.RR onto this module's own typed rr.RR,
// using the fixed per-type field layout. Types without a case of their
// own are filled from their packed rdata along their descriptor's fields
// (leading uint8 fields, then one binary field); unregistered types fall
// back to a generic opaque-rdata record.
func convert(dr dns.RR) (*rr.RR, error) {
	owner, err := wire.NameFromString(dr.Header().Name)
	if err != nil {
		return nil, err
	}
	t := rr.Type(dr.Header().Rrtype)
	out := rr.NewRR(owner, t, dr.Header().Class, dr.Header().Ttl)

	switch v := dr.(type) {
	case *dns.A:
		out.Bytes["address"] = v.A.To4()
	case *dns.AAAA:
		out.Bytes["address"] = v.AAAA.To16()
	case *dns.NS:
		name, err := wire.NameFromString(v.Ns)
		if err != nil {
			return nil, err
		}
		out.Names["nsdname"] = name
	case *dns.CNAME:
		name, err := wire.NameFromString(v.Target)
		if err != nil {
			return nil, err
		}
		out.Names["target"] = name
	case *dns.DNAME:
		name, err := wire.NameFromString(v.Target)
		if err != nil {
			return nil, err
		}
		out.Names["target"] = name
	case *dns.SOA:
		mname, err := wire.NameFromString(v.Ns)
		if err != nil {
			return nil, err
		}
		rname, err := wire.NameFromString(v.Mbox)
		if err != nil {
			return nil, err
		}
		out.Names["mname"] = mname
		out.Names["rname"] = rname
		out.Values["serial"] = uint64(v.Serial)
		out.Values["refresh"] = uint64(v.Refresh)
		out.Values["retry"] = uint64(v.Retry)
		out.Values["expire"] = uint64(v.Expire)
		out.Values["minimum"] = uint64(v.Minttl)
	case *dns.MX:
		name, err := wire.NameFromString(v.Mx)
		if err != nil {
			return nil, err
		}
		out.Values["preference"] = uint64(v.Preference)
		out.Names["exchange"] = name
	case *dns.TXT:
		out.Bytes["txt"] = []byte(joinTXT(v.Txt))
	case *dns.SRV:
		name, err := wire.NameFromString(v.Target)
		if err != nil {
			return nil, err
		}
		out.Values["priority"] = uint64(v.Priority)
		out.Values["weight"] = uint64(v.Weight)
		out.Values["port"] = uint64(v.Port)
		out.Names["target"] = name
	case *dns.RRSIG:
		out.Values["typecovered"] = uint64(v.TypeCovered)
		out.Bytes["data"] = rawRdata(dr)
	default:
		raw := rawRdata(dr)
		fields := rr.DescriptorFor(t).Fields
		i := 0
		for i < len(fields)-1 && fields[i].Kind == rr.FieldUint8 && i < len(raw) {
			out.Values[fields[i].Name] = uint64(raw[i])
			i++
		}
		if last := fields[len(fields)-1]; i == len(fields)-1 && last.Kind == rr.FieldBinary {
			out.Bytes[last.Name] = raw[i:]
		} else {
			out.Bytes["rdata"] = raw
		}
	}
	return out, nil
}

func joinTXT(chunks []string) string {
	var s string
	for _, c := range chunks {
		s += c
	}
	return s
}

// rawRdata extracts the packed rdata bytes of an RR via miekg/dns's own
// RFC3597 conversion, used for the generic/opaque fallback path and for
// pass-through signature/denial records the core only ever serves.
func rawRdata(dr dns.RR) []byte {
	rfc := new(dns.RFC3597)
	if err := rfc.ToRFC3597(dr); err != nil {
		return nil
	}
	b, err := hex.DecodeString(rfc.Rdata)
	if err != nil {
		return nil
	}
	return b
}

// ParseApexSerial parses a decimal SOA serial string into a uint32.
func ParseApexSerial(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	return uint32(v), err
}
