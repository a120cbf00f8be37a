// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package audit keeps a SQLite record of bias alerts and fairness override
// conflicts so they can be reviewed after the fact.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/pdiddy/medscope/pkg/types"
)

const defaultListLimit = 100

// queueSize bounds the alerts and conflicts waiting for the writer.
const queueSize = 256

var (
	// ErrClosed is returned when recording into a closed store.
	ErrClosed = errors.New("audit store closed")
	// ErrQueueFull is returned when the writer is too far behind to accept
	// another entry. The entry is dropped.
	ErrQueueFull = errors.New("audit queue full")
)

// entry is one queued write. A non-nil flushed channel marks a flush barrier.
type entry struct {
	alert    *types.BiasAlert
	conflict *types.FairnessOverrideConflict
	at       time.Time
	flushed  chan struct{}
}

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store is the audit database. It is safe for concurrent use.
//
// Emit and RecordConflict only queue the entry. A single writer goroutine
// inserts queued entries with a background context, independent of the
// caller's.
type Store struct {
	db  *sql.DB
	log *zap.Logger
	now func() time.Time

	mu     sync.RWMutex
	closed bool
	queue  chan entry
	wg     sync.WaitGroup
}

// Open opens or creates the audit database at path, creating parent
// directories and the schema as needed.
func Open(path string, log *zap.Logger) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating audit directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening audit database: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	s := &Store{db: db, log: log.Named("audit"), now: time.Now, queue: make(chan entry, queueSize)}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating audit schema: %w", err)
	}
	s.wg.Add(1)
	go s.writer()
	return s, nil
}

// Close drains queued entries and releases the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	s.wg.Wait()
	return s.db.Close()
}

// Flush blocks until every entry queued before the call has been written,
// or ctx is done.
func (s *Store) Flush(ctx context.Context) error {
	done := make(chan struct{})
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrClosed
	}
	select {
	case s.queue <- entry{flushed: done}:
		s.mu.RUnlock()
	case <-ctx.Done():
		s.mu.RUnlock()
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Store) enqueue(e entry) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	select {
	case s.queue <- e:
		return nil
	default:
		return ErrQueueFull
	}
}

func (s *Store) writer() {
	defer s.wg.Done()
	ctx := context.Background()
	for e := range s.queue {
		switch {
		case e.flushed != nil:
			close(e.flushed)
		case e.alert != nil:
			if _, err := s.insertAlert(ctx, *e.alert, e.at); err != nil {
				s.log.Error("recording bias alert", zap.String("patient_id", e.alert.PatientID), zap.Error(err))
			}
		case e.conflict != nil:
			if err := s.insertConflict(ctx, *e.conflict, e.at); err != nil {
				s.log.Error("recording override conflict", zap.String("patient_id", e.conflict.PatientID), zap.Error(err))
			}
		}
	}
}

func (s *Store) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS bias_alerts (
			id TEXT PRIMARY KEY,
			patient_id TEXT NOT NULL,
			severity TEXT NOT NULL,
			bias_score REAL NOT NULL,
			payload TEXT NOT NULL,
			raised_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_bias_alerts_patient ON bias_alerts(patient_id)`,
		`CREATE INDEX IF NOT EXISTS idx_bias_alerts_raised ON bias_alerts(raised_at)`,
		`CREATE TABLE IF NOT EXISTS override_conflicts (
			id TEXT PRIMARY KEY,
			patient_id TEXT NOT NULL,
			medication TEXT NOT NULL,
			age INTEGER NOT NULL,
			boost REAL NOT NULL,
			damping_factor REAL NOT NULL,
			resolution TEXT NOT NULL,
			recorded_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_override_conflicts_patient ON override_conflicts(patient_id)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

// RecordAlert writes an alert synchronously and returns its id.
func (s *Store) RecordAlert(ctx context.Context, a types.BiasAlert) (string, error) {
	return s.insertAlert(ctx, a, s.now())
}

func (s *Store) insertAlert(ctx context.Context, a types.BiasAlert, now time.Time) (string, error) {
	payload, err := json.Marshal(a)
	if err != nil {
		return "", fmt.Errorf("encoding alert: %w", err)
	}
	raised := a.RaisedAt
	if raised.IsZero() {
		raised = now
	}
	id := uuid.NewString()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO bias_alerts (id, patient_id, severity, bias_score, payload, raised_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		id, a.PatientID, string(a.Severity), a.BiasScore, string(payload),
		raised.UTC().Format(timeLayout),
	)
	if err != nil {
		return "", fmt.Errorf("inserting alert: %w", err)
	}
	return id, nil
}

// Emit queues the alert for the writer, logging when it has to be dropped.
// It lets the store act as an alert sink next to the log and MQTT sinks.
func (s *Store) Emit(_ context.Context, a types.BiasAlert) {
	if err := s.enqueue(entry{alert: &a, at: s.now()}); err != nil {
		s.log.Error("dropping bias alert", zap.String("patient_id", a.PatientID), zap.Error(err))
	}
}

// RecordConflict queues a fairness override conflict for the writer. It
// returns ErrClosed or ErrQueueFull when the conflict could not be queued.
func (s *Store) RecordConflict(_ context.Context, c types.FairnessOverrideConflict) error {
	return s.enqueue(entry{conflict: &c, at: s.now()})
}

func (s *Store) insertConflict(ctx context.Context, c types.FairnessOverrideConflict, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO override_conflicts (id, patient_id, medication, age, boost, damping_factor, resolution, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), c.PatientID, string(c.Medication), c.Age, c.Boost, c.DampingFactor,
		c.Resolution, at.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting override conflict: %w", err)
	}
	return nil
}

// Filter narrows ListAlerts and ListConflicts.
type Filter struct {
	PatientID string
	Severity  types.Severity
	Since     time.Time
	Limit     int
}

// AlertRecord is a stored alert.
type AlertRecord struct {
	ID string `json:"id" yaml:"id"`
	types.BiasAlert
}

// ListAlerts returns stored alerts, newest first.
func (s *Store) ListAlerts(ctx context.Context, f Filter) ([]AlertRecord, error) {
	var (
		qb   strings.Builder
		args []any
	)
	qb.WriteString(`SELECT id, payload FROM bias_alerts WHERE 1=1`)
	if f.PatientID != "" {
		qb.WriteString(` AND patient_id = ?`)
		args = append(args, f.PatientID)
	}
	if f.Severity != "" {
		qb.WriteString(` AND severity = ?`)
		args = append(args, string(f.Severity))
	}
	if !f.Since.IsZero() {
		qb.WriteString(` AND raised_at >= ?`)
		args = append(args, f.Since.UTC().Format(timeLayout))
	}
	qb.WriteString(` ORDER BY raised_at DESC, id LIMIT ?`)
	args = append(args, limit(f.Limit))

	rows, err := s.db.QueryContext(ctx, qb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("querying alerts: %w", err)
	}
	defer rows.Close()

	var out []AlertRecord
	for rows.Next() {
		var (
			rec     AlertRecord
			payload string
		)
		if err := rows.Scan(&rec.ID, &payload); err != nil {
			return nil, fmt.Errorf("scanning alert: %w", err)
		}
		if err := json.Unmarshal([]byte(payload), &rec.BiasAlert); err != nil {
			return nil, fmt.Errorf("decoding alert %s: %w", rec.ID, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ConflictRecord is a stored override conflict.
type ConflictRecord struct {
	ID         string    `json:"id" yaml:"id"`
	RecordedAt time.Time `json:"recorded_at" yaml:"recorded_at"`
	types.FairnessOverrideConflict
}

// ListConflicts returns stored override conflicts, newest first. Severity
// is ignored.
func (s *Store) ListConflicts(ctx context.Context, f Filter) ([]ConflictRecord, error) {
	var (
		qb   strings.Builder
		args []any
	)
	qb.WriteString(`SELECT id, patient_id, medication, age, boost, damping_factor, resolution, recorded_at
		FROM override_conflicts WHERE 1=1`)
	if f.PatientID != "" {
		qb.WriteString(` AND patient_id = ?`)
		args = append(args, f.PatientID)
	}
	if !f.Since.IsZero() {
		qb.WriteString(` AND recorded_at >= ?`)
		args = append(args, f.Since.UTC().Format(timeLayout))
	}
	qb.WriteString(` ORDER BY recorded_at DESC, id LIMIT ?`)
	args = append(args, limit(f.Limit))

	rows, err := s.db.QueryContext(ctx, qb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("querying conflicts: %w", err)
	}
	defer rows.Close()

	var out []ConflictRecord
	for rows.Next() {
		var (
			rec        ConflictRecord
			medication string
			recorded   string
		)
		if err := rows.Scan(&rec.ID, &rec.PatientID, &medication, &rec.Age, &rec.Boost,
			&rec.DampingFactor, &rec.Resolution, &recorded); err != nil {
			return nil, fmt.Errorf("scanning conflict: %w", err)
		}
		rec.Medication = types.MedicationRef(medication)
		if t, err := time.Parse(timeLayout, recorded); err == nil {
			rec.RecordedAt = t
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func limit(n int) int {
	if n <= 0 {
		return defaultListLimit
	}
	return n
}
