package keydb

import (
	"database/sql"
	"path/filepath"
	"testing"
)

func openTestDB(t *testing.T) *KeyDB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "keys.db")
	kdb, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { kdb.Close() })
	return kdb
}

func TestOpenCreatesTablesAndEmptyCache(t *testing.T) {
	kdb := openTestDB(t)
	if _, ok := kdb.FindSig0TrustedKey("anyone.", 1); ok {
		t.Error("a freshly opened store should have no trusted keys")
	}
}

func TestTrustKeyAndFindSig0TrustedKey(t *testing.T) {
	kdb := openTestDB(t)
	tk := TrustedKey{
		ZoneName: "example.com.", KeyName: "signer.example.com.", KeyID: 12345,
		Algorithm: 13, PublicKey: "base64-public-key", Trusted: true,
	}
	if err := kdb.TrustKey(tk); err != nil {
		t.Fatalf("TrustKey: %v", err)
	}
	got, ok := kdb.FindSig0TrustedKey("signer.example.com.", 12345)
	if !ok {
		t.Fatal("expected to find the just-trusted key")
	}
	if got.PublicKey != tk.PublicKey || !got.Trusted {
		t.Errorf("got %+v, want matching PublicKey and Trusted=true", got)
	}
}

func TestTrustKeyUpdatesExisting(t *testing.T) {
	kdb := openTestDB(t)
	tk := TrustedKey{ZoneName: "example.com.", KeyName: "signer.", KeyID: 1, Algorithm: 13, PublicKey: "k1", Trusted: false}
	if err := kdb.TrustKey(tk); err != nil {
		t.Fatalf("TrustKey: %v", err)
	}
	tk.Trusted = true
	if err := kdb.TrustKey(tk); err != nil {
		t.Fatalf("TrustKey (update): %v", err)
	}
	got, ok := kdb.FindSig0TrustedKey("signer.", 1)
	if !ok || !got.Trusted {
		t.Errorf("TrustKey should have flipped Trusted to true, got %+v", got)
	}
}

func TestLoadTsigKeysReadsInsertedRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys.db")
	kdb, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer kdb.Close()

	raw, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	defer raw.Close()
	if _, err := raw.Exec(`INSERT INTO TsigKeyStore (keyname, algorithm, secret) VALUES (?, ?, ?)`,
		"key1.example.com.", "hmac-sha256", "c2VjcmV0"); err != nil {
		t.Fatalf("insert tsig row: %v", err)
	}

	keys, err := kdb.LoadTsigKeys()
	if err != nil {
		t.Fatalf("LoadTsigKeys: %v", err)
	}
	got, ok := keys["key1.example.com."]
	if !ok {
		t.Fatal("expected key1.example.com. in LoadTsigKeys result")
	}
	if got.Algorithm != "hmac-sha256" || got.Secret != "c2VjcmV0" {
		t.Errorf("got %+v, want matching algorithm/secret", got)
	}
}

func TestLoadTsigKeysEmptyStore(t *testing.T) {
	kdb := openTestDB(t)
	keys, err := kdb.LoadTsigKeys()
	if err != nil {
		t.Fatalf("LoadTsigKeys: %v", err)
	}
	if len(keys) != 0 {
		t.Errorf("len(keys) = %d, want 0", len(keys))
	}
}
