package keydb

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"fmt"
	"hash"
	"strings"
)

// TSIGAuthenticator adapts a KeyDB's TsigKeyStore into
// query.TSIGAuthenticator: a shared-secret HMAC check and counter-sign,
// the symmetric-key sibling of SIG0Authenticator. It satisfies
// query.TSIGAuthenticator structurally, without query importing keydb.
type TSIGAuthenticator struct {
	db *KeyDB
}

// NewTSIGAuthenticator builds a TSIGAuthenticator validating and
// signing against db's TsigKeyStore.
func NewTSIGAuthenticator(db *KeyDB) *TSIGAuthenticator {
	return &TSIGAuthenticator{db: db}
}

// Validate looks up keyName's secret and recomputes the HMAC over
// signedBytes, rejecting on any mismatch (missing key, algorithm
// mismatch, or a MAC that doesn't match).
func (a *TSIGAuthenticator) Validate(signedBytes []byte, keyName, algorithm string, mac []byte) error {
	secret, err := a.lookupSecret(keyName, algorithm)
	if err != nil {
		return err
	}
	if !hmac.Equal(tsigMAC(secret, algorithm, signedBytes), mac) {
		return ErrVerificationFailed
	}
	return nil
}

// Sign computes the HMAC over signedBytes using keyName's secret, for
// counter-signing a response to an already-validated request.
func (a *TSIGAuthenticator) Sign(signedBytes []byte, keyName, algorithm string) ([]byte, error) {
	secret, err := a.lookupSecret(keyName, algorithm)
	if err != nil {
		return nil, err
	}
	return tsigMAC(secret, algorithm, signedBytes), nil
}

func (a *TSIGAuthenticator) lookupSecret(keyName, algorithm string) ([]byte, error) {
	keys, err := a.db.LoadTsigKeys()
	if err != nil {
		return nil, err
	}
	key, ok := keys[keyName]
	if !ok {
		return nil, ErrNoTrustedKey
	}
	if !strings.EqualFold(strings.TrimSuffix(key.Algorithm, "."), strings.TrimSuffix(algorithm, ".")) {
		return nil, ErrVerificationFailed
	}
	secret, err := base64.StdEncoding.DecodeString(key.Secret)
	if err != nil {
		return nil, fmt.Errorf("keydb: tsig key %q: malformed base64 secret: %w", keyName, err)
	}
	return secret, nil
}

// tsigMAC computes an RFC 8945 MAC: HMAC keyed by secret, hashed with
// the function algorithm names, over msg.
func tsigMAC(secret []byte, algorithm string, msg []byte) []byte {
	h := hmac.New(tsigHash(algorithm), secret)
	h.Write(msg)
	return h.Sum(nil)
}

// tsigHash maps a TSIG algorithm name to its hash constructor, falling
// back to SHA-256 (the modern default) for anything unrecognized
// rather than failing outright; Validate/Sign still reject on a MAC
// mismatch if the guess is wrong.
func tsigHash(algorithm string) func() hash.Hash {
	switch strings.ToLower(strings.TrimSuffix(algorithm, ".")) {
	case "hmac-md5.sig-alg.reg.int":
		return md5.New
	case "hmac-sha1":
		return sha1.New
	case "hmac-sha256":
		return sha256.New
	case "hmac-sha384":
		return sha512.New384
	case "hmac-sha512":
		return sha512.New
	default:
		return sha256.New
	}
}
