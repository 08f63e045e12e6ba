package keydb

import (
	"crypto"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"os"
	"time"

	"github.com/miekg/dns"

	"github.com/kvastad/znsd/rr"
	"github.com/kvastad/znsd/wire"
)

// sigValidity is the window around "now" a response signature is
// valid for; short enough that a stolen response can't be replayed
// long after the fact.
const sigValidity = 5 * time.Minute

// SIG0Authenticator adapts a KeyDB into query.Authenticator:
// validation goes through ValidateRequest with DNSVerifier, and
// signing produces a SIG record over the response using this server's
// own SIG(0) key. It satisfies query.Authenticator structurally,
// without query importing keydb.
type SIG0Authenticator struct {
	db         *KeyDB
	signerName string
	keyTag     uint16
	algorithm  uint8
	signer     crypto.Signer
}

// NewSIG0Authenticator builds an Authenticator that validates against
// db's trust store and signs responses with signer, identified to
// peers by signerName/keyTag/algorithm (the fields a SIG RR's rdata
// carries).
func NewSIG0Authenticator(db *KeyDB, signerName string, keyTag uint16, algorithm uint8, signer crypto.Signer) *SIG0Authenticator {
	return &SIG0Authenticator{db: db, signerName: signerName, keyTag: keyTag, algorithm: algorithm, signer: signer}
}

// Validate runs the request through ValidateRequest with DNSVerifier
// as the cryptographic check.
func (a *SIG0Authenticator) Validate(signedBytes []byte, sig *rr.RR) error {
	return a.db.ValidateRequest(signedBytes, sig, DNSVerifier{}, ParseTrustedKeyMaterial)
}

// Sign signs respBytes with this server's own SIG(0) key and returns
// the SIG record to append to the response, built field-by-field per
// RFC 2931 rather than through the generic rdata descriptor table,
// the same way parseTrailingSIG reads one on the request side.
func (a *SIG0Authenticator) Sign(respBytes []byte, reqSig *rr.RR) (*rr.RR, error) {
	if a.signer == nil {
		return nil, fmt.Errorf("keydb: no SIG(0) signing key configured")
	}
	signerName, err := wire.NameFromString(a.signerName)
	if err != nil {
		return nil, fmt.Errorf("keydb: signer name %q: %w", a.signerName, err)
	}

	now := time.Now().UTC()
	inception := uint32(now.Add(-sigValidity).Unix())
	expiration := uint32(now.Add(sigValidity).Unix())

	hash := sha256.Sum256(respBytes)
	signature, err := a.signer.Sign(rand.Reader, hash[:], crypto.SHA256)
	if err != nil {
		return nil, fmt.Errorf("keydb: sign response: %w", err)
	}

	out := rr.NewRR(wire.Root, rr.TypeSIG, rr.ClassIN, 0)
	out.Bytes["data"] = encodeSIGRdata(a.algorithm, inception, expiration, a.keyTag, signerName, signature)
	return out, nil
}

// encodeSIGRdata lays out a SIG RR's rdata in RFC 2931 field order:
// type covered, algorithm, labels, original TTL, signature expiration,
// signature inception, key tag, signer's name, signature. Type
// covered, labels, and original TTL are meaningless for a SIG(0)
// message signature and are written zero.
func encodeSIGRdata(algorithm uint8, inception, expiration uint32, keyTag uint16, signer wire.Name, signature []byte) []byte {
	buf := wire.NewBufferSize(18 + len(signer.Raw()) + len(signature))
	_ = buf.WriteUint16(0) // type covered
	_ = buf.WriteUint8(algorithm)
	_ = buf.WriteUint8(0) // labels
	_ = buf.WriteUint32(0) // original TTL
	_ = buf.WriteUint32(expiration)
	_ = buf.WriteUint32(inception)
	_ = buf.WriteUint16(keyTag)
	_ = buf.WriteBytes(signer.Raw())
	_ = buf.WriteBytes(signature)
	return buf.Bytes()
}

// LoadSigningKey reads a BIND-format key pair (basename.key,
// basename.private) and returns the private key as a crypto.Signer,
// together with the key's tag and algorithm. An empty basename disables
// signing: the server will still validate authenticated requests but
// cannot counter-sign responses.
func LoadSigningKey(basename string) (crypto.Signer, uint16, uint8, error) {
	if basename == "" {
		return nil, 0, 0, nil
	}
	pub, err := os.ReadFile(basename + ".key")
	if err != nil {
		return nil, 0, 0, fmt.Errorf("keydb: read %s.key: %w", basename, err)
	}
	parsed, err := dns.NewRR(string(pub))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("keydb: parse %s.key: %w", basename, err)
	}
	keyrr, ok := parsed.(*dns.KEY)
	if !ok {
		return nil, 0, 0, fmt.Errorf("keydb: %s.key is a %T, not a KEY record", basename, parsed)
	}
	privFile, err := os.Open(basename + ".private")
	if err != nil {
		return nil, 0, 0, fmt.Errorf("keydb: open %s.private: %w", basename, err)
	}
	defer privFile.Close()
	priv, err := keyrr.ReadPrivateKey(privFile, basename+".private")
	if err != nil {
		return nil, 0, 0, fmt.Errorf("keydb: read %s.private: %w", basename, err)
	}
	signer, ok := priv.(crypto.Signer)
	if !ok {
		return nil, 0, 0, fmt.Errorf("keydb: private key type %T does not implement crypto.Signer", priv)
	}
	return signer, keyrr.KeyTag(), keyrr.Algorithm, nil
}
