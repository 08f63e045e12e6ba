package query

import (
	"github.com/kvastad/znsd/msg"
	"github.com/kvastad/znsd/rr"
	"github.com/kvastad/znsd/wire"
)

// TSIGAuthenticator is the external collaborator for shared-secret
// message-digest signing passthrough (RFC 8945), the symmetric-key
// sibling of Authenticator's public-key SIG(0) scheme. A query engine
// configured with one validates and signs against a trailing TSIG
// record instead of a trailing SIG record; the two are mutually
// exclusive per request.
type TSIGAuthenticator interface {
	// Validate checks mac against signedBytes: the request with the
	// TSIG record removed and ARCOUNT decremented, followed by the
	// TSIG variables block RFC 8945 §4.3.3 folds into the MAC input.
	Validate(signedBytes []byte, keyName, algorithm string, mac []byte) error
	// Sign computes the MAC for signedBytes (the response plus the same
	// variables block convention) using keyName's secret.
	Sign(signedBytes []byte, keyName, algorithm string) ([]byte, error)
}

// tsigInfo carries a parsed request TSIG record's fields from classify
// through to finalize, the TSIG analogue of the SIG(0) *rr.RR carried
// in sigState.req.
type tsigInfo struct {
	keyName       wire.Name
	algorithm     wire.Name
	timeSigned    uint64
	fudge         uint16
	origID        uint16
	mac           []byte
}

const tsigClassANY = 255

// parseTrailingTSIG looks for a TSIG record as the final record of the
// additional section, the placement RFC 8945 requires, and parses the
// fields needed to reconstruct the MAC input and, on success, the
// response's own TSIG record: the key name (the record's owner),
// algorithm name, time signed, fudge, and MAC.
func parseTrailingTSIG(req []byte, hdr msg.Header) (info tsigInfo, start int, ok bool) {
	if hdr.ARCount == 0 {
		return tsigInfo{}, 0, false
	}
	b := wire.NewBuffer(req)
	if err := b.Skip(12); err != nil {
		return tsigInfo{}, 0, false
	}
	for i := 0; i < int(hdr.QDCount); i++ {
		if _, err := wire.ParseName(b); err != nil {
			return tsigInfo{}, 0, false
		}
		if err := b.Skip(4); err != nil {
			return tsigInfo{}, 0, false
		}
	}
	for i := 0; i < int(hdr.ANCount)+int(hdr.NSCount)+int(hdr.ARCount)-1; i++ {
		if !skipRR(b) {
			return tsigInfo{}, 0, false
		}
	}

	start = b.Position()
	keyName, err := wire.ParseName(b)
	if err != nil {
		return tsigInfo{}, 0, false
	}
	rtype, err := b.ReadUint16()
	if err != nil || rr.Type(rtype) != rr.TypeTSIG {
		return tsigInfo{}, 0, false
	}
	if _, err := b.ReadUint16(); err != nil { // class
		return tsigInfo{}, 0, false
	}
	if _, err := b.ReadUint32(); err != nil { // ttl
		return tsigInfo{}, 0, false
	}
	rdlen, err := b.ReadUint16()
	if err != nil {
		return tsigInfo{}, 0, false
	}
	rdata, err := b.ReadBytes(int(rdlen))
	if err != nil {
		return tsigInfo{}, 0, false
	}

	rdb := wire.NewBuffer(rdata)
	algorithm, err := wire.ParseName(rdb)
	if err != nil {
		return tsigInfo{}, 0, false
	}
	timeHi, err := rdb.ReadUint16()
	if err != nil {
		return tsigInfo{}, 0, false
	}
	timeLo, err := rdb.ReadUint32()
	if err != nil {
		return tsigInfo{}, 0, false
	}
	fudge, err := rdb.ReadUint16()
	if err != nil {
		return tsigInfo{}, 0, false
	}
	macSize, err := rdb.ReadUint16()
	if err != nil {
		return tsigInfo{}, 0, false
	}
	mac, err := rdb.ReadBytes(int(macSize))
	if err != nil {
		return tsigInfo{}, 0, false
	}
	origID, err := rdb.ReadUint16()
	if err != nil {
		return tsigInfo{}, 0, false
	}

	return tsigInfo{
		keyName:    keyName,
		algorithm:  algorithm,
		timeSigned: uint64(timeHi)<<32 | uint64(timeLo),
		fudge:      fudge,
		origID:     origID,
		mac:        mac,
	}, start, true
}

// tsigVariables builds the TSIG variables block RFC 8945 §4.3.3 appends
// to the message bytes before computing or checking the MAC: key name,
// class ANY, TTL 0, algorithm name, time signed, fudge, error, and an
// empty "other data".
func tsigVariables(info *tsigInfo, errorCode uint16) []byte {
	buf := wire.NewBufferSize(len(info.keyName.Raw()) + len(info.algorithm.Raw()) + 18)
	_ = buf.WriteBytes(info.keyName.Raw())
	_ = buf.WriteUint16(tsigClassANY)
	_ = buf.WriteUint32(0)
	_ = buf.WriteBytes(info.algorithm.Raw())
	_ = buf.WriteUint16(uint16(info.timeSigned >> 32))
	_ = buf.WriteUint32(uint32(info.timeSigned))
	_ = buf.WriteUint16(info.fudge)
	_ = buf.WriteUint16(errorCode)
	_ = buf.WriteUint16(0) // other len
	return buf.Bytes()
}

// encodeTSIGRdata lays out a TSIG RR's rdata per RFC 8945 §4.2: the
// algorithm name, time signed, fudge, MAC, the request's original ID,
// and an error/other-data pair (always NOERROR/empty on a signed
// response built by this engine).
func encodeTSIGRdata(algorithm wire.Name, timeSigned uint64, fudge uint16, mac []byte, origID uint16) []byte {
	buf := wire.NewBufferSize(len(algorithm.Raw()) + 16 + len(mac))
	_ = buf.WriteBytes(algorithm.Raw())
	_ = buf.WriteUint16(uint16(timeSigned >> 32))
	_ = buf.WriteUint32(uint32(timeSigned))
	_ = buf.WriteUint16(fudge)
	_ = buf.WriteUint16(uint16(len(mac)))
	_ = buf.WriteBytes(mac)
	_ = buf.WriteUint16(origID)
	_ = buf.WriteUint16(0) // error
	_ = buf.WriteUint16(0) // other len
	return buf.Bytes()
}

// notauthResponseTSIG builds the failure shape the authenticated-signing
// passthrough requires on a TSIG validation failure: header and
// question only, Rcode NOTAUTH, no answer data, and a TSIG record
// carrying the request's own MAC back (echoing rather than signing,
// since a server that failed to verify the request has no basis to
// compute a trustworthy MAC of its own).
func (e *Engine) notauthResponseTSIG(hdr msg.Header, qname wire.Name, qtype, qclass uint16, info tsigInfo) []byte {
	buf := wire.NewBufferSize(512)
	a := msg.NewAssembler(buf, 512)
	respHdr := msg.Header{
		ID:      hdr.ID,
		QR:      true,
		Opcode:  hdr.Opcode,
		RD:      hdr.RD,
		CD:      hdr.CD,
		Rcode:   msg.RcodeNotAuth,
		QDCount: 1,
	}
	_ = msg.EncodeHeader(buf, respHdr)
	if err := a.WriteQuestion(qname, qtype, qclass); err != nil {
		return minimalError(hdr.ID, msg.RcodeServFail)
	}
	tsigRR := rr.NewRR(info.keyName, rr.TypeTSIG, tsigClassANY, 0)
	tsigRR.Bytes["data"] = encodeTSIGRdata(info.algorithm, info.timeSigned, info.fudge, info.mac, info.origID)
	a.WriteRRset(msg.SectionAdditional, info.keyName, []*rr.RR{tsigRR})
	_, _, ar := a.Counts()
	respHdr.ARCount = ar
	_ = msg.EncodeHeader(wire.NewBuffer(buf.Bytes()), respHdr)
	return buf.Bytes()
}
