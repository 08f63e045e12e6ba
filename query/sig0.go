package query

import (
	"github.com/kvastad/znsd/msg"
	"github.com/kvastad/znsd/rr"
	"github.com/kvastad/znsd/wire"
)

// Authenticator is the external collaborator for authenticated message
// signing passthrough: given the bytes of a request that a trailing
// SIG record covers, it decides whether the request is authentic, and
// on success signs a response on the same terms.
type Authenticator interface {
	// Validate checks sig against signedBytes, the request with the
	// SIG record itself (and its slot in ARCOUNT) removed.
	Validate(signedBytes []byte, sig *rr.RR) error
	// Sign signs respBytes, the response as it will be sent with
	// ARCOUNT not yet counting the record Sign returns, and returns the
	// SIG record to append.
	Sign(respBytes []byte, reqSig *rr.RR) (*rr.RR, error)
}

// sigState threads a validated request signing record through classify
// and encode, so finalize can sign the response once its final shape is
// known. The zero value means no authenticated signing applies. A
// request is signed by SIG(0) (req set) or TSIG (tsig set), never both.
type sigState struct {
	req           *rr.RR
	authenticated bool
	tsig          *tsigInfo
}

// sigRdataFixedLen is the length of a SIG RR's rdata up to, but not
// including, the variable-length signer name: type covered (2) +
// algorithm (1) + labels (1) + original TTL (4) + signature expiration
// (4) + signature inception (4) + key tag (2).
const sigRdataFixedLen = 18

// parseTrailingSIG looks for a SIG record as the final record of the
// additional section, the placement RFC 2931 requires of a SIG(0)
// record, and parses its signer name, key tag, and signature. Any
// parse failure is treated as "no SIG present": a request that merely
// resembles a signed one but doesn't parse is handled as an ordinary
// unsigned query rather than rejected outright.
func parseTrailingSIG(req []byte, hdr msg.Header) (sig *rr.RR, start int, ok bool) {
	if hdr.ARCount == 0 {
		return nil, 0, false
	}
	b := wire.NewBuffer(req)
	if err := b.Skip(12); err != nil {
		return nil, 0, false
	}
	for i := 0; i < int(hdr.QDCount); i++ {
		if _, err := wire.ParseName(b); err != nil {
			return nil, 0, false
		}
		if err := b.Skip(4); err != nil {
			return nil, 0, false
		}
	}
	for i := 0; i < int(hdr.ANCount)+int(hdr.NSCount)+int(hdr.ARCount)-1; i++ {
		if !skipRR(b) {
			return nil, 0, false
		}
	}

	start = b.Position()
	if _, err := wire.ParseName(b); err != nil {
		return nil, 0, false
	}
	rtype, err := b.ReadUint16()
	if err != nil || rr.Type(rtype) != rr.TypeSIG {
		return nil, 0, false
	}
	if _, err := b.ReadUint16(); err != nil { // class
		return nil, 0, false
	}
	if _, err := b.ReadUint32(); err != nil { // ttl
		return nil, 0, false
	}
	rdlen, err := b.ReadUint16()
	if err != nil {
		return nil, 0, false
	}
	rdata, err := b.ReadBytes(int(rdlen))
	if err != nil || len(rdata) < sigRdataFixedLen {
		return nil, 0, false
	}

	rdb := wire.NewBuffer(rdata)
	if _, err := rdb.ReadUint16(); err != nil { // type covered
		return nil, 0, false
	}
	if _, err := rdb.ReadUint8(); err != nil { // algorithm
		return nil, 0, false
	}
	if _, err := rdb.ReadUint8(); err != nil { // labels
		return nil, 0, false
	}
	if _, err := rdb.ReadUint32(); err != nil { // original TTL
		return nil, 0, false
	}
	if _, err := rdb.ReadUint32(); err != nil { // signature expiration
		return nil, 0, false
	}
	if _, err := rdb.ReadUint32(); err != nil { // signature inception
		return nil, 0, false
	}
	keyTag, err := rdb.ReadUint16()
	if err != nil {
		return nil, 0, false
	}
	signer, err := wire.ParseName(rdb)
	if err != nil {
		return nil, 0, false
	}
	signature, err := rdb.ReadBytes(rdb.Remaining())
	if err != nil {
		return nil, 0, false
	}

	sig = rr.NewRR(wire.Root, rr.TypeSIG, rr.ClassIN, 0)
	sig.Values["keytag"] = uint64(keyTag)
	sig.Bytes["signername"] = []byte(signer.String())
	sig.Bytes["signature"] = signature
	sig.Bytes["data"] = rdata // the record's original rdata, for echoing back unchanged on NOTAUTH
	return sig, start, true
}

// signedPrefix reconstructs the bytes a SIG(0) signature covers: the
// request up to the SIG record, with ARCOUNT decremented by one so it
// reflects the message as it was before the SIG record was attached,
// matching RFC 2931's signing contract.
func signedPrefix(req []byte, sigStart int, arCount uint16) []byte {
	prefix := make([]byte, sigStart)
	copy(prefix, req[:sigStart])
	n := arCount - 1
	prefix[10] = byte(n >> 8)
	prefix[11] = byte(n)
	return prefix
}

// notauthResponse builds the failure shape the authenticated-signing
// passthrough requires on a validation failure: header and question
// only, Rcode NOTAUTH, no answer data, and the offending SIG record
// carried in the additional section so the caller can see which key
// or signature was rejected.
func (e *Engine) notauthResponse(hdr msg.Header, qname wire.Name, qtype, qclass uint16, sig *rr.RR) []byte {
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
	a.WriteRRset(msg.SectionAdditional, wire.Root, []*rr.RR{sig})
	_, _, ar := a.Counts()
	respHdr.ARCount = ar
	_ = msg.EncodeHeader(wire.NewBuffer(buf.Bytes()), respHdr)
	return buf.Bytes()
}
