// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package knowledge persists drug monograph passages and serves scoped
// retrieval over them. Monographs are authored as one YAML file per drug
// under knowledge/drugs/ and indexed into SQLite with an FTS4 table.
package knowledge

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/medscope/pkg/types"
)

const (
	drugsDir = "drugs"
	indexDir = "index"
	dbFile   = "medscope.db"
)

// Store manages the knowledge base SQLite database.
type Store struct {
	db           *sql.DB
	knowledgeDir string
	perSection   int
}

// NewStore opens or creates the knowledge base SQLite database at
// knowledgeDir/index/medscope.db. It creates the schema if it does not exist.
func NewStore(cfg types.KnowledgeBaseConfig) (*Store, error) {
	dbDir := filepath.Join(cfg.KnowledgeDir, indexDir)
	if err := os.MkdirAll(dbDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating index directory: %w", err)
	}

	dbPath := filepath.Join(dbDir, dbFile)
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	perSection := cfg.PerSection
	if perSection <= 0 {
		perSection = 3
	}

	s := &Store{
		db:           db,
		knowledgeDir: cfg.KnowledgeDir,
		perSection:   perSection,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS drugs (
			name TEXT PRIMARY KEY,
			display TEXT NOT NULL,
			source TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS passages (
			rowid INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			drug TEXT NOT NULL REFERENCES drugs(name),
			section TEXT NOT NULL,
			content TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_passages_drug_section ON passages(drug, section)`,
		`CREATE TABLE IF NOT EXISTS indexing_status (
			drug TEXT PRIMARY KEY,
			file_mod_time TEXT
		)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}

	// FTS4 virtual table kept in sync by triggers; docid mirrors passages.rowid.
	var ftsExists int
	if err := s.db.QueryRow(
		`SELECT count(*) FROM sqlite_master WHERE type='table' AND name='passages_fts'`,
	).Scan(&ftsExists); err != nil {
		return fmt.Errorf("checking FTS table: %w", err)
	}

	if ftsExists == 0 {
		ftsStatements := []string{
			`CREATE VIRTUAL TABLE passages_fts USING fts4(content)`,
			`CREATE TRIGGER passages_ai AFTER INSERT ON passages BEGIN
				INSERT INTO passages_fts(docid, content) VALUES (new.rowid, new.content);
			END`,
			`CREATE TRIGGER passages_ad AFTER DELETE ON passages BEGIN
				DELETE FROM passages_fts WHERE docid = old.rowid;
			END`,
			`CREATE TRIGGER passages_au AFTER UPDATE ON passages BEGIN
				DELETE FROM passages_fts WHERE docid = old.rowid;
				INSERT INTO passages_fts(docid, content) VALUES (new.rowid, new.content);
			END`,
		}
		for _, stmt := range ftsStatements {
			if _, err := s.db.Exec(stmt); err != nil {
				return fmt.Errorf("creating FTS infrastructure: %w", err)
			}
		}
	}

	return nil
}

// DrugKey normalizes a drug name for lookup.
func DrugKey(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

// IngestSummary holds counts from a knowledge base indexing run.
type IngestSummary struct {
	Indexed int
	Updated int
	Skipped int
	Failed  int
}

// Total returns the number of monograph files processed.
func (s IngestSummary) Total() int {
	return s.Indexed + s.Updated + s.Skipped + s.Failed
}

// Ingest reads monograph YAML files from knowledgeDir/drugs/ and populates
// the database. Files whose modification time is unchanged since the last
// run are skipped. On success it writes export.yaml.
func (s *Store) Ingest(ctx context.Context, w io.Writer) (IngestSummary, error) {
	dir := filepath.Join(s.knowledgeDir, drugsDir)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return IngestSummary{}, fmt.Errorf("reading monograph directory %s: %w", dir, err)
	}

	var summary IngestSummary

	for _, entry := range entries {
		if entry.IsDir() || !(strings.HasSuffix(entry.Name(), ".yaml") || strings.HasSuffix(entry.Name(), ".yml")) {
			continue
		}

		select {
		case <-ctx.Done():
			return summary, ctx.Err()
		default:
		}

		fileKey := strings.TrimSuffix(strings.TrimSuffix(entry.Name(), ".yaml"), ".yml")
		filePath := filepath.Join(dir, entry.Name())

		info, err := entry.Info()
		if err != nil {
			fmt.Fprintf(w, "failed  %s: %v\n", fileKey, err)
			summary.Failed++
			continue
		}
		modTime := info.ModTime().UTC().Format(time.RFC3339Nano)

		var storedModTime string
		err = s.db.QueryRowContext(ctx,
			`SELECT file_mod_time FROM indexing_status WHERE drug = ?`, fileKey,
		).Scan(&storedModTime)

		if err == nil && storedModTime == modTime {
			fmt.Fprintf(w, "skipped %s\n", fileKey)
			summary.Skipped++
			continue
		}

		isUpdate := err == nil

		data, err := os.ReadFile(filePath)
		if err != nil {
			fmt.Fprintf(w, "failed  %s: %v\n", fileKey, err)
			summary.Failed++
			continue
		}

		var mono types.DrugMonograph
		if err := yaml.Unmarshal(data, &mono); err != nil {
			fmt.Fprintf(w, "failed  %s: parse error: %v\n", fileKey, err)
			summary.Failed++
			continue
		}
		if strings.TrimSpace(mono.Drug) == "" {
			mono.Drug = fileKey
		}

		if err := s.ingestMonograph(ctx, fileKey, &mono, modTime); err != nil {
			fmt.Fprintf(w, "failed  %s: %v\n", fileKey, err)
			summary.Failed++
			continue
		}

		if isUpdate {
			fmt.Fprintf(w, "updated %s (%d passages)\n", fileKey, len(mono.Passages))
			summary.Updated++
		} else {
			fmt.Fprintf(w, "indexing %s (%d passages)\n", fileKey, len(mono.Passages))
			summary.Indexed++
		}
	}

	fmt.Fprintf(w, "\nindexed: %d, updated: %d, skipped: %d, failed: %d\n",
		summary.Indexed, summary.Updated, summary.Skipped, summary.Failed)

	if summary.Indexed > 0 || summary.Updated > 0 {
		if err := s.ExportYAML(ctx, QueryOptions{}); err != nil {
			fmt.Fprintf(w, "warning: export.yaml write failed: %v\n", err)
		}
	}

	return summary, nil
}

func (s *Store) ingestMonograph(ctx context.Context, fileKey string, mono *types.DrugMonograph, modTime string) error {
	drug := DrugKey(mono.Drug)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM passages WHERE drug = ?`, drug); err != nil {
		return fmt.Errorf("deleting old passages: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO drugs (name, display, source) VALUES (?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET display=excluded.display, source=excluded.source`,
		drug, strings.TrimSpace(mono.Drug), mono.Source,
	)
	if err != nil {
		return fmt.Errorf("upserting drug: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO passages (id, drug, section, content) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	counts := make(map[types.Section]int)
	for _, p := range mono.Passages {
		if !p.Section.Valid() {
			return fmt.Errorf("passage %q: %w", p.ID, &types.UnknownSectionError{Name: p.Section.String()})
		}
		if strings.TrimSpace(p.Content) == "" {
			continue
		}
		counts[p.Section]++
		id := p.ID
		if id == "" {
			id = fmt.Sprintf("%s-%s-%d", strings.ReplaceAll(drug, " ", "-"), strings.ToLower(p.Section.String()), counts[p.Section])
		}
		if _, err := stmt.ExecContext(ctx, id, drug, p.Section.String(), strings.TrimSpace(p.Content)); err != nil {
			return fmt.Errorf("inserting passage %s: %w", id, err)
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO indexing_status (drug, file_mod_time) VALUES (?, ?)
		 ON CONFLICT(drug) DO UPDATE SET file_mod_time=excluded.file_mod_time`,
		fileKey, modTime,
	)
	if err != nil {
		return fmt.Errorf("updating indexing status: %w", err)
	}

	return tx.Commit()
}
