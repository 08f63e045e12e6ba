package msg

import (
	"encoding/binary"
	"errors"
	"net"

	"github.com/kvastad/znsd/rr"
	"github.com/kvastad/znsd/wire"
)

// ErrOutOfBudget signals that a write was rejected by the reservation
// check because it would exceed the message's size budget.
var ErrOutOfBudget = errors.New("msg: out of budget")

// Section identifies which part of the message a record belongs to, used
// only to decide truncation behavior (answer/authority set TC on
// overflow; additional is trimmed silently).
type Section int

const (
	SectionAnswer Section = iota
	SectionAuthority
	SectionAdditional
)

// Assembler builds one response message into a caller-supplied buffer,
// tracking a compression table and a size budget.
type Assembler struct {
	buf    *wire.Buffer
	budget int // total bytes the assembled message may occupy
	compress map[string]uint16 // canonical lowercased name bytes -> wire offset
	lastComplete int // position after the last fully-written RRset, for rollback
	ancount, nscount, arcount uint16
	truncated bool
}

// NewAssembler creates an assembler writing into buf with the given
// total size budget (already accounting for any reserved trailer).
func NewAssembler(buf *wire.Buffer, budget int) *Assembler {
	return &Assembler{buf: buf, budget: budget, compress: map[string]uint16{}}
}

// reserve checks bytes-remaining >= n against the budget.
func (a *Assembler) reserve(n int) bool {
	return a.buf.Position()+n <= a.budget
}

// WriteQuestion writes the question section (owner, qtype, qclass),
// mirrored verbatim from the request and never subject to truncation.
func (a *Assembler) WriteQuestion(qname wire.Name, qtype, qclass uint16) error {
	if err := a.writeName(qname, false); err != nil {
		return err
	}
	if err := a.buf.WriteUint16(qtype); err != nil {
		return err
	}
	return a.buf.WriteUint16(qclass)
}

// WriteRRset writes every RR in a set (answer/authority/additional),
// enforcing the size budget: on overflow, the buffer rolls back to the
// last complete RRset boundary (none of this set's records are kept or
// counted, and it returns 0, false) and, for answer/authority, the
// message is marked truncated (see Truncated).
func (a *Assembler) WriteRRset(section Section, owner wire.Name, rrs []*rr.RR) (count int, ok bool) {
	start := a.buf.Position()
	startCompress := a.snapshotCompress()
	for _, r := range rrs {
		before := a.buf.Position()
		if err := a.writeRR(owner, r); err != nil {
			a.buf.Truncate(before)
			a.restoreCompress(startCompress)
			if section != SectionAdditional {
				a.truncated = true
			}
			a.buf.Truncate(start)
			return 0, false
		}
		count++
	}
	for i := 0; i < count; i++ {
		a.bumpCount(section)
	}
	a.lastComplete = a.buf.Position()
	return count, true
}

func (a *Assembler) bumpCount(s Section) {
	switch s {
	case SectionAnswer:
		a.ancount++
	case SectionAuthority:
		a.nscount++
	case SectionAdditional:
		a.arcount++
	}
}

// Truncated reports whether any answer/authority write was rolled back
// for lack of budget.
func (a *Assembler) Truncated() bool { return a.truncated }

// Counts returns the running record counts for ANCOUNT/NSCOUNT/ARCOUNT.
func (a *Assembler) Counts() (an, ns, ar uint16) { return a.ancount, a.nscount, a.arcount }

func (a *Assembler) snapshotCompress() map[string]uint16 {
	cp := make(map[string]uint16, len(a.compress))
	for k, v := range a.compress {
		cp[k] = v
	}
	return cp
}

func (a *Assembler) restoreCompress(cp map[string]uint16) { a.compress = cp }

// writeRR writes one RR: owner, type, class, TTL, rdlength, rdata.
func (a *Assembler) writeRR(owner wire.Name, r *rr.RR) error {
	if !a.reserve(1) { // cheap pre-check; the real bound is enforced per-field below
		return ErrOutOfBudget
	}
	if err := a.writeName(owner, true); err != nil {
		return err
	}
	if err := a.checkedUint16(uint16(r.Type)); err != nil {
		return err
	}
	if err := a.checkedUint16(r.Class); err != nil {
		return err
	}
	if err := a.checkedUint32(r.TTL); err != nil {
		return err
	}
	rdlenAt := a.buf.Position()
	if err := a.checkedUint16(0); err != nil {
		return err
	}
	rdStart := a.buf.Position()
	desc := rr.DescriptorFor(r.Type)
	if err := a.writeRdata(desc, r); err != nil {
		return err
	}
	rdlen := a.buf.Position() - rdStart
	return a.buf.PatchUint16(rdlenAt, uint16(rdlen))
}

func (a *Assembler) writeRdata(desc *rr.Descriptor, r *rr.RR) error {
	for _, f := range desc.Fields {
		switch f.Kind {
		case rr.FieldUint8:
			if err := a.checkedUint8(uint8(r.Values[f.Name])); err != nil {
				return err
			}
		case rr.FieldUint16:
			if err := a.checkedUint16(uint16(r.Values[f.Name])); err != nil {
				return err
			}
		case rr.FieldUint32:
			if err := a.checkedUint32(uint32(r.Values[f.Name])); err != nil {
				return err
			}
		case rr.FieldIPv4:
			ip := r.Bytes[f.Name]
			if err := a.checkedBytes(ip); err != nil {
				return err
			}
		case rr.FieldIPv6:
			ip := r.Bytes[f.Name]
			if err := a.checkedBytes(ip); err != nil {
				return err
			}
		case rr.FieldName:
			if err := a.writeName(r.Names[f.Name], false); err != nil {
				return err
			}
		case rr.FieldCompressedName:
			if err := a.writeName(r.Names[f.Name], desc.Compressible); err != nil {
				return err
			}
		case rr.FieldString:
			if err := a.writeCharString(r.Bytes[f.Name]); err != nil {
				return err
			}
		case rr.FieldTXT:
			if err := a.writeCharString(r.Bytes[f.Name]); err != nil {
				return err
			}
		case rr.FieldBinary:
			if err := a.checkedBytes(r.Bytes[f.Name]); err != nil {
				return err
			}
		}
	}
	return nil
}

func (a *Assembler) writeCharString(b []byte) error {
	if len(b) > 255 {
		return errors.New("msg: character-string too long")
	}
	if !a.reserve(1 + len(b)) {
		return ErrOutOfBudget
	}
	if err := a.buf.WriteUint8(uint8(len(b))); err != nil {
		return err
	}
	return a.buf.WriteBytes(b)
}

func (a *Assembler) checkedUint8(v uint8) error {
	if !a.reserve(1) {
		return ErrOutOfBudget
	}
	return a.buf.WriteUint8(v)
}

func (a *Assembler) checkedUint16(v uint16) error {
	if !a.reserve(2) {
		return ErrOutOfBudget
	}
	return a.buf.WriteUint16(v)
}

func (a *Assembler) checkedUint32(v uint32) error {
	if !a.reserve(4) {
		return ErrOutOfBudget
	}
	return a.buf.WriteUint32(v)
}

func (a *Assembler) checkedBytes(b []byte) error {
	if !a.reserve(len(b)) {
		return ErrOutOfBudget
	}
	return a.buf.WriteBytes(b)
}

// writeName writes a name, using the compression table when compressible
// is true. It checks the name itself and every trailing suffix (each
// label boundary) against prior writes, emitting a pointer to the
// earliest-written occurrence of the longest matching suffix and only
// the unmatched leading labels literally. Literal and uncompressed-name
// rdata slots must pass compressible=false.
func (a *Assembler) writeName(n wire.Name, compressible bool) error {
	raw := n.Raw()
	offsets := n.LabelOffsets()
	labelCount := len(offsets) - 1 // exclude the root-only suffix: never worth compressing

	if compressible {
		for i := 0; i < labelCount; i++ {
			suffix := raw[offsets[i]:]
			off, ok := a.compress[foldKey(string(suffix))]
			if !ok {
				continue
			}
			prefixLen := offsets[i]
			if !a.reserve(prefixLen + 2) {
				return ErrOutOfBudget
			}
			pos := a.buf.Position()
			if prefixLen > 0 {
				if err := a.buf.WriteBytes(raw[:prefixLen]); err != nil {
					return err
				}
				a.registerSuffixes(raw, offsets, 0, i, pos)
			}
			return a.buf.WriteUint16(0xC000 | off)
		}
	}

	pos := a.buf.Position()
	if !a.reserve(len(raw)) {
		return ErrOutOfBudget
	}
	if err := a.buf.WriteBytes(raw); err != nil {
		return err
	}
	if compressible {
		a.registerSuffixes(raw, offsets, 0, labelCount, pos)
	}
	return nil
}

// registerSuffixes records, for each label boundary in [from, to), the
// message offset of that trailing suffix of raw as written starting at
// pos, so a later name can compress against it. Offsets increase
// monotonically with label index, so matching is abandoned as soon as
// one exceeds the 14-bit pointer range.
func (a *Assembler) registerSuffixes(raw []byte, offsets []int, from, to, pos int) {
	for i := from; i < to; i++ {
		msgOff := pos + offsets[i]
		if msgOff > 0x3FFF {
			return
		}
		key := foldKey(string(raw[offsets[i]:]))
		if _, exists := a.compress[key]; !exists {
			a.compress[key] = uint16(msgOff)
		}
	}
}

func foldKey(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + 32
		}
	}
	return string(b)
}

// AppendOPT writes a response OPT pseudo-record, mirroring the
// advertised payload size with the server's configured maximum and the
// extended rcode/version/DO bit.
func (a *Assembler) AppendOPT(udpPayload uint16, extendedRcode uint8, version uint8, do bool, options []byte) error {
	r := rr.NewRR(wire.Root, rr.TypeOPT, udpPayload, 0)
	ttl := uint32(extendedRcode) << 24
	if version != 0 {
		ttl |= uint32(version) << 16
	}
	if do {
		ttl |= 1 << 15
	}
	r.TTL = ttl
	r.Bytes["options"] = options
	_, ok := a.WriteRRset(SectionAdditional, wire.Root, []*rr.RR{r})
	if !ok {
		return ErrOutOfBudget
	}
	return nil
}

// PackIPv4/PackIPv6 helpers let callers of the query engine stash
// address bytes into an rr.RR's Bytes map in network order.
func PackIPv4(ip net.IP) []byte {
	v4 := ip.To4()
	if v4 == nil {
		return make([]byte, 4)
	}
	return v4
}

func PackIPv6(ip net.IP) []byte {
	v6 := ip.To16()
	if v6 == nil {
		return make([]byte, 16)
	}
	return v6
}

// TCPLength returns the two-byte big-endian length prefix for a TCP
// response.
func TCPLength(n int) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, uint16(n))
	return b
}
