// Package history provides persistent storage for per-VM performance samples
// using SQLite, so charts survive restarts.
package history

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// Sample is one recorded performance data point for a VM.
type Sample struct {
	VMID      string    `json:"vmId"`
	Timestamp time.Time `json:"timestamp"`
	CPU       float64   `json:"cpu"`
	Memory    float64   `json:"memory"`
	Disk      float64   `json:"disk"`
}

// StoreConfig holds configuration for the history store.
type StoreConfig struct {
	DBPath          string
	WriteBufferSize int           // samples buffered before a batch write
	FlushInterval   time.Duration // max time between flushes
	Retention       time.Duration // how long samples are kept
}

// DefaultConfig returns sensible defaults rooted at dataDir.
func DefaultConfig(dataDir string) StoreConfig {
	return StoreConfig{
		DBPath:          filepath.Join(dataDir, "history.db"),
		WriteBufferSize: 200,
		FlushInterval:   5 * time.Second,
		Retention:       7 * 24 * time.Hour,
	}
}

// Store buffers samples in memory and batch-writes them to SQLite from a
// background worker.
type Store struct {
	db     *sql.DB
	config StoreConfig

	bufferMu sync.Mutex
	buffer   []Sample

	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// NewStore opens (creating if necessary) the history database and starts the
// flush worker.
func NewStore(config StoreConfig) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(config.DBPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	// Pragmas go in the DSN so every pooled connection is configured.
	dsn := config.DBPath + "?" + url.Values{
		"_pragma": []string{
			"busy_timeout(30000)",
			"journal_mode(WAL)",
			"synchronous(NORMAL)",
		},
	}.Encode()
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}

	// SQLite works best with a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize history schema: %w", err)
	}

	s := &Store{
		db:     db,
		config: config,
		buffer: make([]Sample, 0, config.WriteBufferSize),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	go s.worker()
	return s, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS samples (
	vm_id     TEXT    NOT NULL,
	ts        INTEGER NOT NULL,
	cpu       REAL    NOT NULL,
	memory    REAL    NOT NULL,
	disk      REAL    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_samples_vm_ts ON samples (vm_id, ts);
`

// Record buffers one sample. The write happens asynchronously; a full buffer
// triggers an immediate flush.
func (s *Store) Record(sample Sample) {
	s.bufferMu.Lock()
	s.buffer = append(s.buffer, sample)
	full := len(s.buffer) >= s.config.WriteBufferSize
	s.bufferMu.Unlock()

	if full {
		s.flush()
	}
}

// Query returns samples for vmID since the given time, oldest first.
func (s *Store) Query(vmID string, since time.Time) ([]Sample, error) {
	rows, err := s.db.Query(
		`SELECT vm_id, ts, cpu, memory, disk FROM samples WHERE vm_id = ? AND ts >= ? ORDER BY ts ASC`,
		vmID, since.UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var out []Sample
	for rows.Next() {
		var sample Sample
		var ts int64
		if err := rows.Scan(&sample.VMID, &ts, &sample.CPU, &sample.Memory, &sample.Disk); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		sample.Timestamp = time.UnixMilli(ts)
		out = append(out, sample)
	}
	return out, rows.Err()
}

// Close flushes pending samples and shuts the store down.
func (s *Store) Close() error {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		<-s.doneCh
	})
	s.flush()
	return s.db.Close()
}

func (s *Store) worker() {
	defer close(s.doneCh)

	flushTicker := time.NewTicker(s.config.FlushInterval)
	defer flushTicker.Stop()

	pruneTicker := time.NewTicker(time.Hour)
	defer pruneTicker.Stop()

	for {
		select {
		case <-flushTicker.C:
			s.flush()
		case <-pruneTicker.C:
			s.prune()
		case <-s.stopCh:
			return
		}
	}
}

func (s *Store) flush() {
	s.bufferMu.Lock()
	if len(s.buffer) == 0 {
		s.bufferMu.Unlock()
		return
	}
	batch := s.buffer
	s.buffer = make([]Sample, 0, s.config.WriteBufferSize)
	s.bufferMu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		log.Error().Err(err).Msg("Failed to begin history transaction")
		return
	}

	stmt, err := tx.Prepare(`INSERT INTO samples (vm_id, ts, cpu, memory, disk) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		log.Error().Err(err).Msg("Failed to prepare history insert")
		return
	}
	defer stmt.Close()

	for _, sample := range batch {
		if _, err := stmt.Exec(sample.VMID, sample.Timestamp.UnixMilli(), sample.CPU, sample.Memory, sample.Disk); err != nil {
			tx.Rollback()
			log.Error().Err(err).Msg("Failed to write history sample")
			return
		}
	}

	if err := tx.Commit(); err != nil {
		log.Error().Err(err).Msg("Failed to commit history batch")
		return
	}
	log.Debug().Int("samples", len(batch)).Msg("Flushed history batch")
}

func (s *Store) prune() {
	cutoff := time.Now().Add(-s.config.Retention).UnixMilli()
	res, err := s.db.Exec(`DELETE FROM samples WHERE ts < ?`, cutoff)
	if err != nil {
		log.Error().Err(err).Msg("Failed to prune history")
		return
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		log.Debug().Int64("rows", n).Msg("Pruned old history samples")
	}
}
