// Package edns0 parses the OPT pseudo-record: extended rcode, version,
// the DO bit, and the option list, in a single pass over the OPT rdata.
package edns0

import "github.com/kvastad/znsd/wire"

// Well-known OPT option codes carried as {code, length, bytes} triples in
// OPT rdata.
const (
	OptionNSID   uint16 = 3
	OptionCookie uint16 = 10
)

// Option is one {code, bytes} triple found in an OPT record's rdata.
type Option struct {
	Code uint16
	Data []byte
}

// Info holds everything the query engine needs out of a request's OPT
// record.
type Info struct {
	Present       bool
	UDPPayload    uint16
	ExtendedRcode uint8
	Version       uint8
	DO            bool
	Options       []Option
}

// Parse reads an OPT record's class/TTL/rdata fields (already separated
// out by the caller during message parsing) into an Info.
func Parse(class uint16, ttl uint32, rdata []byte) (Info, error) {
	info := Info{
		Present:       true,
		UDPPayload:    class,
		ExtendedRcode: uint8(ttl >> 24),
		Version:       uint8(ttl >> 16),
		DO:            ttl&(1<<15) != 0,
	}
	b := wire.NewBuffer(rdata)
	for b.Remaining() > 0 {
		code, err := b.ReadUint16()
		if err != nil {
			return info, err
		}
		length, err := b.ReadUint16()
		if err != nil {
			return info, err
		}
		data, err := b.ReadBytes(int(length))
		if err != nil {
			return info, err
		}
		info.Options = append(info.Options, Option{Code: code, Data: append([]byte(nil), data...)})
	}
	return info, nil
}

// EncodeOptions serializes a slice of options back into OPT rdata bytes,
// used when mirroring request options (e.g. a cookie) onto the response.
func EncodeOptions(opts []Option) []byte {
	b := wire.NewBufferSize(optionsSize(opts))
	for _, o := range opts {
		_ = b.WriteUint16(o.Code)
		_ = b.WriteUint16(uint16(len(o.Data)))
		_ = b.WriteBytes(o.Data)
	}
	return b.Bytes()
}

func optionsSize(opts []Option) int {
	n := 0
	for _, o := range opts {
		n += 4 + len(o.Data)
	}
	return n
}
