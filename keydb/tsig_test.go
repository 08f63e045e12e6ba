package keydb

import (
	"database/sql"
	"path/filepath"
	"testing"
)

func insertTsigKey(t *testing.T, path, keyName, algorithm, secretB64 string) {
	t.Helper()
	raw, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	defer raw.Close()
	if _, err := raw.Exec(`INSERT INTO TsigKeyStore (keyname, algorithm, secret) VALUES (?, ?, ?)`,
		keyName, algorithm, secretB64); err != nil {
		t.Fatalf("insert tsig row: %v", err)
	}
}

func TestTSIGAuthenticatorSignThenValidateRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys.db")
	kdb, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer kdb.Close()
	insertTsigKey(t, path, "key1.example.com.", "hmac-sha256", "c2VjcmV0")

	auth := NewTSIGAuthenticator(kdb)
	signedBytes := []byte("the message bytes plus tsig variables")

	mac, err := auth.Sign(signedBytes, "key1.example.com.", "hmac-sha256.")
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if len(mac) == 0 {
		t.Fatal("expected a non-empty MAC")
	}
	if err := auth.Validate(signedBytes, "key1.example.com.", "hmac-sha256.", mac); err != nil {
		t.Errorf("Validate of a freshly signed MAC failed: %v", err)
	}
}

func TestTSIGAuthenticatorValidateRejectsWrongMAC(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys.db")
	kdb, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer kdb.Close()
	insertTsigKey(t, path, "key1.example.com.", "hmac-sha256", "c2VjcmV0")

	auth := NewTSIGAuthenticator(kdb)
	err = auth.Validate([]byte("message"), "key1.example.com.", "hmac-sha256.", []byte("not-the-right-mac"))
	if err != ErrVerificationFailed {
		t.Errorf("err = %v, want ErrVerificationFailed", err)
	}
}

func TestTSIGAuthenticatorValidateRejectsUnknownKey(t *testing.T) {
	kdb := openTestDB(t)
	auth := NewTSIGAuthenticator(kdb)
	err := auth.Validate([]byte("message"), "nosuchkey.example.com.", "hmac-sha256.", []byte("mac"))
	if err != ErrNoTrustedKey {
		t.Errorf("err = %v, want ErrNoTrustedKey", err)
	}
}

func TestTSIGAuthenticatorValidateRejectsAlgorithmMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys.db")
	kdb, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer kdb.Close()
	insertTsigKey(t, path, "key1.example.com.", "hmac-sha256", "c2VjcmV0")

	auth := NewTSIGAuthenticator(kdb)
	err = auth.Validate([]byte("message"), "key1.example.com.", "hmac-sha1.", []byte("mac"))
	if err != ErrVerificationFailed {
		t.Errorf("err = %v, want ErrVerificationFailed", err)
	}
}
