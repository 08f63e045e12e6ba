// Package msg is the message assembler: header encode/decode, name
// compression, and size-budget-aware truncation with rollback to the
// last complete RRset boundary. RRsets are written in the order the
// caller passes them; ordering within the additional section is the
// caller's job.
//
// The length-budget truncate-and-rollback shape follows NSD's buffer.c.
package msg

import "github.com/kvastad/znsd/wire"

// Opcode values used by the core.
const (
	OpQuery  = 0
	OpNotify = 4
	OpUpdate = 5
)

// Rcode values the core emits.
const (
	RcodeOK      = 0
	RcodeFormErr = 1
	RcodeServFail = 2
	RcodeNXDomain = 3
	RcodeNotImp   = 4
	RcodeRefused  = 5
	RcodeNotAuth  = 9
	RcodeBadVers  = 16
)

// Header mirrors the 12-byte DNS message header.
type Header struct {
	ID      uint16
	QR      bool
	Opcode  uint8
	AA      bool
	TC      bool
	RD      bool
	RA      bool
	AD      bool
	CD      bool
	Rcode   uint8 // low 4 bits; OPT carries the extended high bits

	QDCount uint16
	ANCount uint16
	NSCount uint16
	ARCount uint16
}

// DecodeHeader reads the fixed 12-byte header.
func DecodeHeader(b *wire.Buffer) (Header, error) {
	var h Header
	id, err := b.ReadUint16()
	if err != nil {
		return h, err
	}
	flags, err := b.ReadUint16()
	if err != nil {
		return h, err
	}
	qd, err := b.ReadUint16()
	if err != nil {
		return h, err
	}
	an, err := b.ReadUint16()
	if err != nil {
		return h, err
	}
	ns, err := b.ReadUint16()
	if err != nil {
		return h, err
	}
	ar, err := b.ReadUint16()
	if err != nil {
		return h, err
	}
	h.ID = id
	h.QR = flags&0x8000 != 0
	h.Opcode = uint8(flags >> 11 & 0x0F)
	h.AA = flags&0x0400 != 0
	h.TC = flags&0x0200 != 0
	h.RD = flags&0x0100 != 0
	h.RA = flags&0x0080 != 0
	h.AD = flags&0x0020 != 0
	h.CD = flags&0x0010 != 0
	h.Rcode = uint8(flags & 0x000F)
	h.QDCount = qd
	h.ANCount = an
	h.NSCount = ns
	h.ARCount = ar
	return h, nil
}

// EncodeHeader writes the header in place at the buffer's current
// position.
func EncodeHeader(b *wire.Buffer, h Header) error {
	if err := b.WriteUint16(h.ID); err != nil {
		return err
	}
	var flags uint16
	if h.QR {
		flags |= 0x8000
	}
	flags |= uint16(h.Opcode&0x0F) << 11
	if h.AA {
		flags |= 0x0400
	}
	if h.TC {
		flags |= 0x0200
	}
	if h.RD {
		flags |= 0x0100
	}
	if h.RA {
		flags |= 0x0080
	}
	if h.AD {
		flags |= 0x0020
	}
	if h.CD {
		flags |= 0x0010
	}
	flags |= uint16(h.Rcode & 0x0F)
	if err := b.WriteUint16(flags); err != nil {
		return err
	}
	if err := b.WriteUint16(h.QDCount); err != nil {
		return err
	}
	if err := b.WriteUint16(h.ANCount); err != nil {
		return err
	}
	if err := b.WriteUint16(h.NSCount); err != nil {
		return err
	}
	return b.WriteUint16(h.ARCount)
}
