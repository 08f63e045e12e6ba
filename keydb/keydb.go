// Package keydb implements the authenticated signing passthrough: a
// SQLite-backed SIG(0) trust store and TSIG secret table.
package keydb

import (
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

// DefaultTables holds one CREATE TABLE IF NOT EXISTS statement per
// table, keyed by table name.
var DefaultTables = map[string]string{
	"Sig0TrustStore": `CREATE TABLE IF NOT EXISTS Sig0TrustStore (
		zonename   TEXT NOT NULL,
		keyname    TEXT NOT NULL,
		keyid      INTEGER NOT NULL,
		algorithm  INTEGER NOT NULL,
		publickey  TEXT NOT NULL,
		trusted    INTEGER NOT NULL DEFAULT 0,
		source     TEXT,
		PRIMARY KEY (keyname, keyid)
	)`,
	"TsigKeyStore": `CREATE TABLE IF NOT EXISTS TsigKeyStore (
		keyname   TEXT NOT NULL PRIMARY KEY,
		algorithm TEXT NOT NULL,
		secret    TEXT NOT NULL
	)`,
}

// KeyDB wraps the SQLite connection: a shared *sql.DB behind a mutex
// (SQLite serializes writers anyway, but the mutex guards the in-memory
// cache alongside it), plus an in-memory cache of trusted SIG(0) keys
// populated at startup.
type KeyDB struct {
	mu   sync.Mutex
	conn *sql.DB

	sig0Cache map[string]*TrustedKey // keyname -> key, refreshed on writes
}

// TrustedKey is one SIG(0) public key entry from Sig0TrustStore.
type TrustedKey struct {
	ZoneName  string
	KeyName   string
	KeyID     uint16
	Algorithm uint8
	PublicKey string
	Trusted   bool
}

// Open creates (or attaches to) a SQLite-backed key store at path,
// creating tables on first use.
func Open(path string) (*KeyDB, error) {
	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	for name, ddl := range DefaultTables {
		if _, err := conn.Exec(ddl); err != nil {
			return nil, fmt.Errorf("keydb: create table %s: %w", name, err)
		}
	}
	kdb := &KeyDB{conn: conn, sig0Cache: map[string]*TrustedKey{}}
	if err := kdb.loadSig0Cache(); err != nil {
		return nil, err
	}
	return kdb, nil
}

func (k *KeyDB) loadSig0Cache() error {
	rows, err := k.conn.Query(`SELECT zonename, keyname, keyid, algorithm, publickey, trusted FROM Sig0TrustStore`)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var tk TrustedKey
		var trusted int
		if err := rows.Scan(&tk.ZoneName, &tk.KeyName, &tk.KeyID, &tk.Algorithm, &tk.PublicKey, &trusted); err != nil {
			return err
		}
		tk.Trusted = trusted != 0
		k.sig0Cache[cacheKey(tk.KeyName, tk.KeyID)] = &tk
	}
	return rows.Err()
}

func cacheKey(name string, id uint16) string { return fmt.Sprintf("%s/%d", name, id) }

// FindSig0TrustedKey looks up a candidate verification key by signer
// name and key tag in the in-memory cache. A miss reports false; no DNS
// lookup or other fallback is attempted.
func (k *KeyDB) FindSig0TrustedKey(signerName string, keyTag uint16) (*TrustedKey, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	tk, ok := k.sig0Cache[cacheKey(signerName, keyTag)]
	return tk, ok
}

// TrustKey inserts or updates a trusted SIG(0) key, used by the
// child-key-upload acceptance path.
func (k *KeyDB) TrustKey(tk TrustedKey) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	_, err := k.conn.Exec(
		`INSERT INTO Sig0TrustStore (zonename, keyname, keyid, algorithm, publickey, trusted, source)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(keyname, keyid) DO UPDATE SET trusted=excluded.trusted`,
		tk.ZoneName, tk.KeyName, tk.KeyID, tk.Algorithm, tk.PublicKey, boolToInt(tk.Trusted), "child-key-upload",
	)
	if err != nil {
		return err
	}
	k.sig0Cache[cacheKey(tk.KeyName, tk.KeyID)] = &tk
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Close closes the underlying connection.
func (k *KeyDB) Close() error { return k.conn.Close() }

// TsigKey is one shared-secret entry loaded from TsigKeyStore.
type TsigKey struct {
	Name      string
	Algorithm string
	Secret    string
}

// LoadTsigKeys reads every row of TsigKeyStore into a name-keyed map,
// which TSIGAuthenticator consults by key name.
func (k *KeyDB) LoadTsigKeys() (map[string]*TsigKey, error) {
	rows, err := k.conn.Query(`SELECT keyname, algorithm, secret FROM TsigKeyStore`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]*TsigKey{}
	for rows.Next() {
		var t TsigKey
		if err := rows.Scan(&t.Name, &t.Algorithm, &t.Secret); err != nil {
			return nil, err
		}
		out[t.Name] = &t
	}
	return out, rows.Err()
}
