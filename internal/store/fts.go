package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite" // pure Go driver registered as "sqlite"

	rerrors "github.com/Aman-CERP/regsearch/internal/errors"
)

// FTSTable stores passages in an SQLite FTS5 table with metadata columns.
// WAL mode allows a loader and readers in separate processes.
type FTSTable struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	closed bool
}

const ftsSchema = `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER PRIMARY KEY
);

-- metadata columns are UNINDEXED: stored and filterable, not searchable
CREATE VIRTUAL TABLE IF NOT EXISTS passages_fts USING fts5(
	doc_id UNINDEXED,
	title,
	citation,
	body,
	jurisdiction UNINDEXED,
	doc_type UNINDEXED,
	program UNINDEXED,
	effective_date UNINDEXED,
	tokenize='porter unicode61'
);

INSERT OR IGNORE INTO schema_version (version) VALUES (1);
`

// validateFTSIntegrity checks an existing database before it is opened
// read-write.
func validateFTSIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("cannot open for validation: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database corrupted: %s", result)
	}

	var count int
	err = db.QueryRow(`SELECT COUNT(*) FROM sqlite_master
	                   WHERE type='table' AND name='passages_fts'`).Scan(&count)
	if err != nil {
		return fmt.Errorf("cannot query schema: %w", err)
	}
	if count == 0 {
		return fmt.Errorf("FTS5 table 'passages_fts' missing")
	}
	return nil
}

// OpenFTSTable opens or creates the passage table at path.
// If path is empty, an in-memory database is used.
func OpenFTSTable(path string) (*FTSTable, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory for %s: %w", path, err)
		}

		if validErr := validateFTSIntegrity(path); validErr != nil {
			slog.Warn("fts_table_corrupted",
				slog.String("path", path),
				slog.String("error", validErr.Error()))
			if removeErr := os.Remove(path); removeErr != nil && !os.IsNotExist(removeErr) {
				return nil, rerrors.New(rerrors.ErrCodeCorruptIndex,
					fmt.Sprintf("FTS table corrupted at %s and cannot remove: %v (original error: %v)", path, removeErr, validErr), removeErr).
					WithSuggestion("Delete " + path + " and run regsearch load")
			}
			_ = os.Remove(path + "-wal")
			_ = os.Remove(path + "-shm")
			slog.Info("fts_table_cleared",
				slog.String("path", path),
				slog.String("reason", "corruption detected, run regsearch load"))
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection: a single writer, and an in-memory database is
	// per-connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// modernc.org/sqlite ignores most DSN parameters, so pragmas are set
	// explicitly.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -65536",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.Exec(ftsSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &FTSTable{db: db, path: path}, nil
}

// Add inserts passages, replacing any with the same ID.
func (s *FTSTable) Add(ctx context.Context, passages []*Passage) error {
	if len(passages) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// FTS5 tables do not support REPLACE.
	deleteStmt, err := tx.PrepareContext(ctx, `DELETE FROM passages_fts WHERE doc_id = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare delete statement: %w", err)
	}
	defer deleteStmt.Close()

	insertStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO passages_fts(doc_id, title, citation, body, jurisdiction, doc_type, program, effective_date)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert statement: %w", err)
	}
	defer insertStmt.Close()

	for _, p := range passages {
		if _, err := deleteStmt.ExecContext(ctx, p.ID); err != nil {
			return fmt.Errorf("failed to delete existing passage %s: %w", p.ID, err)
		}
		_, err := insertStmt.ExecContext(ctx, p.ID, p.Title, p.Citation, p.Text,
			p.Jurisdiction, p.DocType, p.Program,
			FormatDate(p.EffectiveDate))
		if err != nil {
			return fmt.Errorf("failed to insert passage %s: %w", p.ID, err)
		}
	}

	return tx.Commit()
}

// matchExpression quotes each query term and ORs them so that expanded
// queries rank by overlap instead of requiring every synonym.
func matchExpression(terms []string) string {
	quoted := make([]string, len(terms))
	for i, t := range terms {
		quoted[i] = `"` + strings.ReplaceAll(t, `"`, `""`) + `"`
	}
	return strings.Join(quoted, " OR ")
}

// Search runs an FTS5 MATCH with metadata filters as WHERE clauses.
// Scores are negated bm25() values so that higher is better.
func (s *FTSTable) Search(ctx context.Context, q TextQuery) ([]*TextResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	terms := QueryTerms(q.Text)
	if len(terms) == 0 {
		return []*TextResult{}, nil
	}
	if q.Limit <= 0 {
		q.Limit = 10
	}

	where := []string{"passages_fts MATCH ?"}
	args := []any{matchExpression(terms)}
	if q.Filter.Jurisdiction != "" {
		where = append(where, "lower(jurisdiction) = ?")
		args = append(args, strings.ToLower(q.Filter.Jurisdiction))
	}
	if q.Filter.DocType != "" {
		where = append(where, "lower(doc_type) = ?")
		args = append(args, strings.ToLower(q.Filter.DocType))
	}
	if q.Filter.Program != "" {
		where = append(where, "lower(program) = ?")
		args = append(args, strings.ToLower(q.Filter.Program))
	}
	if q.Filter.HasDateRange() {
		where = append(where, "effective_date != ''")
		if !q.Filter.From.IsZero() {
			where = append(where, "effective_date >= ?")
			args = append(args, FormatDate(q.Filter.From))
		}
		if !q.Filter.To.IsZero() {
			where = append(where, "effective_date <= ?")
			args = append(args, FormatDate(q.Filter.To))
		}
	}
	args = append(args, q.Limit)

	// bm25() column weights: doc_id, title, citation, body, then metadata.
	stmt := `
		SELECT doc_id, title, citation, body, jurisdiction, doc_type, program, effective_date,
		       bm25(passages_fts, 0.0, 2.0, 1.5, 1.0, 0.0, 0.0, 0.0, 0.0) AS score
		FROM passages_fts
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY score
		LIMIT ?`

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	defer rows.Close()

	var results []*TextResult
	for rows.Next() {
		var (
			p     Passage
			date  string
			score float64
		)
		if err := rows.Scan(&p.ID, &p.Title, &p.Citation, &p.Text,
			&p.Jurisdiction, &p.DocType, &p.Program, &date, &score); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		p.EffectiveDate, _ = ParseDate(date)
		results = append(results, &TextResult{
			ID:           p.ID,
			Score:        -score,
			Snippet:      MakeSnippet(p.Text, terms),
			MatchedTerms: terms,
			Passage:      &p,
		})
	}
	return results, rows.Err()
}

// Delete removes passages by ID.
func (s *FTSTable) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	stmt := fmt.Sprintf("DELETE FROM passages_fts WHERE doc_id IN (%s)", strings.Join(placeholders, ","))
	if _, err := s.db.ExecContext(ctx, stmt, args...); err != nil {
		return fmt.Errorf("failed to delete passages: %w", err)
	}
	return nil
}

// Count returns the number of stored passages.
func (s *FTSTable) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, ErrClosed
	}
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM passages_fts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count failed: %w", err)
	}
	return n, nil
}

// Close checkpoints the WAL and closes the database.
func (s *FTSTable) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if s.path != "" {
		_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	}
	return s.db.Close()
}
