// Package rr defines the core's typed resource-record representation and
// the fixed per-type descriptor table that drives generic pack/unpack,
// compression eligibility, and printing, mirroring the field-descriptor
// dispatch pattern NSD's rdata.c uses.
package rr

import "github.com/kvastad/znsd/wire"

// Type is a 16-bit DNS RR type code.
type Type uint16

const (
	TypeA     Type = 1
	TypeNS    Type = 2
	TypeCNAME Type = 5
	TypeSOA   Type = 6
	TypeMX    Type = 15
	TypeTXT   Type = 16
	TypeAAAA  Type = 28
	TypeSRV   Type = 33
	TypeDNAME Type = 39
	TypeOPT   Type = 41
	TypeDS        = 43
	TypeSSHFP     = 44
	TypeRRSIG Type = 46
	TypeNSEC  Type = 47
	TypeDNSKEY    = 48
	TypeNSEC3     = 50
	TypeNSEC3PARAM = 51
	TypeIPSECKEY Type = 45
	TypeSIG   Type = 24
	TypeKEY   Type = 25
	TypeTSIG  Type = 250
)

const ClassIN uint16 = 1

// FieldKind describes the wire shape of one rdata field, driving the
// generic pack/unpack and compression logic in msg and zoneload.
type FieldKind int

const (
	FieldUint8 FieldKind = iota
	FieldUint16
	FieldUint32
	FieldIPv4
	FieldIPv6
	FieldName           // uncompressed on the wire, but still name-valued
	FieldCompressedName // eligible for name compression
	FieldString          // a single length-prefixed character-string
	FieldTXT             // one or more length-prefixed character-strings filling the rdata
	FieldBinary           // remaining raw bytes (fills to RDLENGTH)
)

// Field describes one rdata field in a type's descriptor.
type Field struct {
	Name string
	Kind FieldKind
}

// Descriptor is the fixed per-type metadata: field layout, whether the
// type's compressed-name rdata fields may be written as compression
// pointers, and whether the type is permitted alongside other RRsets at
// the same owner (CNAME exclusivity).
type Descriptor struct {
	Type        Type
	Name        string
	Fields      []Field
	Compressible bool // FieldCompressedName rdata fields may use pointers (owner names always may)
	Exclusive    bool // only one RRset of this set may coexist with others at an owner (CNAME)
}

// Descriptors is the fixed type-to-descriptor table: one entry per
// type, no duplicates, unknown types fall back to Generic.
var Descriptors = map[Type]*Descriptor{
	TypeA: {Type: TypeA, Name: "A", Fields: []Field{{"address", FieldIPv4}}, Compressible: true},
	TypeAAAA: {Type: TypeAAAA, Name: "AAAA", Fields: []Field{{"address", FieldIPv6}}, Compressible: true},
	TypeNS: {Type: TypeNS, Name: "NS", Fields: []Field{{"nsdname", FieldCompressedName}}, Compressible: true},
	TypeCNAME: {Type: TypeCNAME, Name: "CNAME", Fields: []Field{{"target", FieldCompressedName}}, Compressible: true, Exclusive: true},
	TypeDNAME: {Type: TypeDNAME, Name: "DNAME", Fields: []Field{{"target", FieldName}}, Compressible: true},
	TypeSOA: {Type: TypeSOA, Name: "SOA", Fields: []Field{
		{"mname", FieldCompressedName}, {"rname", FieldCompressedName},
		{"serial", FieldUint32}, {"refresh", FieldUint32}, {"retry", FieldUint32},
		{"expire", FieldUint32}, {"minimum", FieldUint32},
	}, Compressible: true},
	TypeMX: {Type: TypeMX, Name: "MX", Fields: []Field{{"preference", FieldUint16}, {"exchange", FieldCompressedName}}, Compressible: true},
	TypeTXT: {Type: TypeTXT, Name: "TXT", Fields: []Field{{"txt", FieldTXT}}, Compressible: true},
	TypeSRV: {Type: TypeSRV, Name: "SRV", Fields: []Field{
		{"priority", FieldUint16}, {"weight", FieldUint16}, {"port", FieldUint16}, {"target", FieldName},
	}, Compressible: true},
	TypeOPT: {Type: TypeOPT, Name: "OPT", Fields: []Field{{"options", FieldBinary}}, Compressible: false},
	TypeRRSIG: {Type: TypeRRSIG, Name: "RRSIG", Fields: []Field{{"data", FieldBinary}}, Compressible: false},
	TypeNSEC: {Type: TypeNSEC, Name: "NSEC", Fields: []Field{{"data", FieldBinary}}, Compressible: false},
	TypeNSEC3: {Type: TypeNSEC3, Name: "NSEC3", Fields: []Field{{"data", FieldBinary}}, Compressible: false},
	TypeDNSKEY: {Type: TypeDNSKEY, Name: "DNSKEY", Fields: []Field{{"data", FieldBinary}}, Compressible: false},
	TypeDS: {Type: TypeDS, Name: "DS", Fields: []Field{{"data", FieldBinary}}, Compressible: false},
	TypeIPSECKEY: {Type: TypeIPSECKEY, Name: "IPSECKEY", Fields: []Field{
		{"precedence", FieldUint8}, {"gatewaytype", FieldUint8}, {"algorithm", FieldUint8}, {"gateway_and_key", FieldBinary},
	}, Compressible: false},
	TypeSIG: {Type: TypeSIG, Name: "SIG", Fields: []Field{{"data", FieldBinary}}, Compressible: false},
	TypeKEY: {Type: TypeKEY, Name: "KEY", Fields: []Field{{"data", FieldBinary}}, Compressible: false},
	TypeTSIG: {Type: TypeTSIG, Name: "TSIG", Fields: []Field{{"data", FieldBinary}}, Compressible: false},
}

// Generic is the fallback descriptor for unregistered types: a
// single opaque binary field, per RFC 3597 "unknown RR" handling.
var Generic = &Descriptor{Name: "UNKNOWN", Fields: []Field{{"rdata", FieldBinary}}}

// DescriptorFor returns the type's descriptor, or Generic if unregistered.
func DescriptorFor(t Type) *Descriptor {
	if d, ok := Descriptors[t]; ok {
		return d
	}
	return Generic
}

// RR is one resource record: owner, type, class, TTL, and typed rdata
// fields keyed by descriptor field name. Name-valued fields are stored as
// wire.Name; everything else is stored as raw bytes or a decoded scalar in
// Values, addressed by field name, to keep this type usable by the
// generic pack/unpack path without per-type Go structs.
type RR struct {
	Owner wire.Name
	Type  Type
	Class uint16
	TTL   uint32
	Names  map[string]wire.Name // compressed/uncompressed name-valued fields
	Values map[string]uint64    // integer-valued fields
	Bytes  map[string][]byte    // address/binary/string-valued fields
}

// NewRR allocates an RR with initialized field maps.
func NewRR(owner wire.Name, t Type, class uint16, ttl uint32) *RR {
	return &RR{
		Owner:  owner,
		Type:   t,
		Class:  class,
		TTL:    ttl,
		Names:  map[string]wire.Name{},
		Values: map[string]uint64{},
		Bytes:  map[string][]byte{},
	}
}

// SameRdata reports whether two RRs of the same type carry identical
// rdata, used by namedb to detect duplicate insertion (idempotency) and
// to match a delete_rr request.
func (r *RR) SameRdata(o *RR) bool {
	if r.Type != o.Type || r.Class != o.Class {
		return false
	}
	for k, v := range r.Names {
		ov, ok := o.Names[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	for k, v := range r.Values {
		if o.Values[k] != v {
			return false
		}
	}
	for k, v := range r.Bytes {
		ov, ok := o.Bytes[k]
		if !ok || !bytesEqual(v, ov) {
			return false
		}
	}
	return true
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
