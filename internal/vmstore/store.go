// Package vmstore persists the VM registry records agents report into.
package vmstore

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/fleetwatch/fleetwatch/internal/models"
)

// ErrNotFound is returned when no record exists for the requested id.
var ErrNotFound = errors.New("vm not found")

// Store is the SQLite-backed VM registry.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the registry database under dataDir.
func Open(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dsn := filepath.Join(dataDir, "registry.db") + "?" + url.Values{
		"_pragma": []string{
			"busy_timeout(30000)",
			"journal_mode(WAL)",
			"synchronous(NORMAL)",
		},
	}.Encode()
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open registry database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize registry schema: %w", err)
	}
	return &Store{db: db}, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS vms (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL,
	os           TEXT NOT NULL DEFAULT '',
	cpu          REAL NOT NULL DEFAULT 0,
	memory       REAL NOT NULL DEFAULT 0,
	disk         REAL NOT NULL DEFAULT 0,
	bytes_sent   INTEGER NOT NULL DEFAULT 0,
	bytes_recv   INTEGER NOT NULL DEFAULT 0,
	packets_sent INTEGER NOT NULL DEFAULT 0,
	packets_recv INTEGER NOT NULL DEFAULT 0,
	status       TEXT NOT NULL DEFAULT 'Running',
	last_updated INTEGER,
	user         TEXT NOT NULL DEFAULT '',
	created_at   INTEGER NOT NULL
);
`

// List returns every VM record in creation order. Creation order is what the
// dashboard treats as registry discovery order, so it must be stable across
// polls.
func (s *Store) List() ([]models.VMSnapshot, error) {
	rows, err := s.db.Query(selectCols + ` FROM vms ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list vms: %w", err)
	}
	defer rows.Close()

	var out []models.VMSnapshot
	for rows.Next() {
		vm, err := scanVM(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, vm)
	}
	return out, rows.Err()
}

// Get returns one VM record.
func (s *Store) Get(id string) (models.VMSnapshot, error) {
	row := s.db.QueryRow(selectCols+` FROM vms WHERE id = ?`, id)
	vm, err := scanVM(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.VMSnapshot{}, ErrNotFound
	}
	return vm, err
}

// Upsert inserts the record or replaces an existing one, preserving the
// original creation order so dashboards do not reshuffle on agent updates.
func (s *Store) Upsert(vm models.VMSnapshot) error {
	if vm.ID == "" {
		return models.ErrMissingID
	}

	_, err := s.db.Exec(`
		INSERT INTO vms (id, name, os, cpu, memory, disk, bytes_sent, bytes_recv, packets_sent, packets_recv, status, last_updated, user, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			os = excluded.os,
			cpu = excluded.cpu,
			memory = excluded.memory,
			disk = excluded.disk,
			bytes_sent = excluded.bytes_sent,
			bytes_recv = excluded.bytes_recv,
			packets_sent = excluded.packets_sent,
			packets_recv = excluded.packets_recv,
			status = excluded.status,
			last_updated = excluded.last_updated,
			user = excluded.user`,
		vm.ID, vm.Name, vm.OS, vm.CPU, vm.Memory, vm.Disk,
		vm.Network.BytesSent, vm.Network.BytesRecv, vm.Network.PacketsSent, vm.Network.PacketsRecv,
		vm.Status, timestampMilli(vm.LastUpdated), vm.User, time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert vm %s: %w", vm.ID, err)
	}
	return nil
}

// Delete removes a VM record. Removing an absent record returns ErrNotFound.
func (s *Store) Delete(id string) error {
	res, err := s.db.Exec(`DELETE FROM vms WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete vm %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

const selectCols = `SELECT id, name, os, cpu, memory, disk, bytes_sent, bytes_recv, packets_sent, packets_recv, status, last_updated, user`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVM(row rowScanner) (models.VMSnapshot, error) {
	var vm models.VMSnapshot
	var lastUpdated sql.NullInt64
	err := row.Scan(
		&vm.ID, &vm.Name, &vm.OS, &vm.CPU, &vm.Memory, &vm.Disk,
		&vm.Network.BytesSent, &vm.Network.BytesRecv, &vm.Network.PacketsSent, &vm.Network.PacketsRecv,
		&vm.Status, &lastUpdated, &vm.User,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return vm, err
		}
		return vm, fmt.Errorf("failed to scan vm row: %w", err)
	}
	if lastUpdated.Valid {
		vm.LastUpdated = time.UnixMilli(lastUpdated.Int64).UTC()
	}
	return vm, nil
}

func timestampMilli(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UnixMilli()
}
