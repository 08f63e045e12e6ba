package keydb

import (
	"crypto/dsa"
	"crypto/ecdsa"
	"crypto/rsa"
	"encoding/base64"
	"errors"

	"github.com/miekg/dns"

	"github.com/kvastad/znsd/rr"
)

// ErrNoTrustedKey is returned when no candidate verification key can be
// located for a signed request.
var ErrNoTrustedKey = errors.New("keydb: no trusted key for signer")

// ErrVerificationFailed is returned when a candidate key was found but
// the cryptographic signature check failed.
var ErrVerificationFailed = errors.New("keydb: signature verification failed")

// PublicKey is whatever crypto.PublicKey a candidate SIG(0) key resolves
// to; verification dispatches on its concrete type the way Go's crypto
// packages do (*rsa.PublicKey, *ecdsa.PublicKey, *dsa.PublicKey).
type PublicKey interface{}

// Verifier is the external collaborator interface for authenticated
// message signing: given the signed message bytes and the trailing SIG
// record, decide whether it verifies.
type Verifier interface {
	Verify(signedBytes []byte, sig *rr.RR, key PublicKey) error
}

// ValidateRequest runs the two-phase check: first locate a candidate key
// for the SIG record's signer name and key tag, then verify the
// signature, then decide trust independently of which candidate
// matched.
func (k *KeyDB) ValidateRequest(signedBytes []byte, sig *rr.RR, verifier Verifier, parseKey func(*TrustedKey) (PublicKey, error)) error {
	keyTag := uint16(sig.Values["keytag"])
	signer := sig.Bytes["signername"]
	tk, ok := k.FindSig0TrustedKey(string(signer), keyTag)
	if !ok {
		return ErrNoTrustedKey
	}
	key, err := parseKey(tk)
	if err != nil {
		return err
	}
	if err := verifier.Verify(signedBytes, sig, key); err != nil {
		return ErrVerificationFailed
	}
	return k.trustDecision(tk)
}

// trustDecision accepts a key already marked Trusted in the store
// outright; anything else requires the caller to have gone through the
// child-key-upload path (TrustKey) before this call, since that's the
// only source of trust this core implements (no recursive DNS lookup of
// KEY RRsets).
func (k *KeyDB) trustDecision(tk *TrustedKey) error {
	if tk.Trusted {
		return nil
	}
	return ErrNoTrustedKey
}

// This blank declaration documents which Go crypto public key types a
// Verifier implementation is expected to dispatch on; it exists purely
// as a compile-time reference list, not a runtime check.
var _ = []interface{}{(*rsa.PublicKey)(nil), (*ecdsa.PublicKey)(nil), (*dsa.PublicKey)(nil)}

// dnsKeyMaterial is the PublicKey value DNSVerifier expects: a trusted
// key's algorithm and base64 public key, the two fields a dns.KEY
// record needs to verify a signature.
type dnsKeyMaterial struct {
	Algorithm uint8
	PublicKey string
}

// ParseTrustedKeyMaterial adapts a TrustedKey into the PublicKey shape
// DNSVerifier expects; it is the parseKey argument ValidateRequest
// takes.
func ParseTrustedKeyMaterial(tk *TrustedKey) (PublicKey, error) {
	return dnsKeyMaterial{Algorithm: tk.Algorithm, PublicKey: tk.PublicKey}, nil
}

// DNSVerifier implements Verifier using github.com/miekg/dns's own
// SIG.Verify rather than hand-rolling per-algorithm signature checks.
type DNSVerifier struct{}

// Verify reconstructs the dns.KEY/dns.SIG pair ValidateRequest's
// candidate describes and delegates the actual signature check to
// dns.SIG.Verify.
func (DNSVerifier) Verify(signedBytes []byte, sig *rr.RR, key PublicKey) error {
	km, ok := key.(dnsKeyMaterial)
	if !ok {
		return ErrVerificationFailed
	}
	signerName := string(sig.Bytes["signername"])
	keyrr := &dns.KEY{DNSKEY: dns.DNSKEY{
		Hdr:       dns.RR_Header{Name: dns.Fqdn(signerName), Rrtype: dns.TypeKEY, Class: dns.ClassINET},
		Flags:     256,
		Protocol:  3,
		Algorithm: km.Algorithm,
		PublicKey: km.PublicKey,
	}}
	dsig := &dns.SIG{RRSIG: dns.RRSIG{
		Hdr:        dns.RR_Header{Name: dns.Fqdn(signerName), Rrtype: dns.TypeSIG, Class: dns.ClassANY},
		Algorithm:  km.Algorithm,
		KeyTag:     uint16(sig.Values["keytag"]),
		SignerName: dns.Fqdn(signerName),
		Signature:  base64.StdEncoding.EncodeToString(sig.Bytes["signature"]),
	}}
	if err := dsig.Verify(keyrr, signedBytes); err != nil {
		return ErrVerificationFailed
	}
	return nil
}
