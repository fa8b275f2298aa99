package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/nimbusvpn/provision/pkg/api"
)

const schema = `
CREATE TABLE IF NOT EXISTS credentials (
	server  TEXT NOT NULL,
	kind    TEXT NOT NULL,
	payload BLOB NOT NULL,
	PRIMARY KEY (server, kind)
);
`

// SQLite is a Store backed by a local SQLite database. Intended for
// headless hosts where no system keyring is available.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the credential database at path.
func OpenSQLite(path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create credential directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open credential database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize credential schema: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) get(kind string, server api.ServerIdentity, out any) (bool, error) {
	var payload []byte
	err := s.db.QueryRow(
		"SELECT payload FROM credentials WHERE server = ? AND kind = ?",
		server.String(), kind,
	).Scan(&payload)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read %s record: %w", kind, err)
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return false, fmt.Errorf("corrupt %s record for %s: %w", kind, server, err)
	}
	return true, nil
}

func (s *SQLite) put(kind string, server api.ServerIdentity, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s record: %w", kind, err)
	}
	_, err = s.db.Exec(
		"INSERT INTO credentials (server, kind, payload) VALUES (?, ?, ?) ON CONFLICT(server, kind) DO UPDATE SET payload = excluded.payload",
		server.String(), kind, payload,
	)
	if err != nil {
		return fmt.Errorf("failed to write %s record: %w", kind, err)
	}
	return nil
}

func (s *SQLite) delete(kind string, server api.ServerIdentity) error {
	if _, err := s.db.Exec(
		"DELETE FROM credentials WHERE server = ? AND kind = ?",
		server.String(), kind,
	); err != nil {
		return fmt.Errorf("failed to delete %s record: %w", kind, err)
	}
	return nil
}

func (s *SQLite) Token(server api.ServerIdentity) (*Token, error) {
	var t Token
	ok, err := s.get(kindToken, server, &t)
	if err != nil || !ok {
		return nil, err
	}
	return &t, nil
}

func (s *SQLite) SetToken(server api.ServerIdentity, t *Token) error {
	if t == nil {
		return s.delete(kindToken, server)
	}
	return s.put(kindToken, server, t)
}

func (s *SQLite) KeyPair(server api.ServerIdentity) (*api.KeyPair, error) {
	var kp api.KeyPair
	ok, err := s.get(kindKeyPair, server, &kp)
	if err != nil || !ok {
		return nil, err
	}
	return &kp, nil
}

func (s *SQLite) SetKeyPair(server api.ServerIdentity, kp *api.KeyPair) error {
	if kp == nil {
		return s.delete(kindKeyPair, server)
	}
	return s.put(kindKeyPair, server, kp)
}

func (s *SQLite) Profile(server api.ServerIdentity) (*ProfilePointer, error) {
	var p ProfilePointer
	ok, err := s.get(kindProfile, server, &p)
	if err != nil || !ok {
		return nil, err
	}
	return &p, nil
}

func (s *SQLite) SetProfile(server api.ServerIdentity, p *ProfilePointer) error {
	if p == nil {
		return s.delete(kindProfile, server)
	}
	return s.put(kindProfile, server, p)
}

func (s *SQLite) Servers() ([]api.ServerIdentity, error) {
	rows, err := s.db.Query("SELECT DISTINCT server FROM credentials ORDER BY server")
	if err != nil {
		return nil, fmt.Errorf("failed to list servers: %w", err)
	}
	defer rows.Close()

	var servers []api.ServerIdentity
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("failed to scan server row: %w", err)
		}
		servers = append(servers, api.ServerIdentity(s))
	}
	return servers, rows.Err()
}
