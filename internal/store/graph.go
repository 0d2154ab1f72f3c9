package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3" // cgo driver registered as "sqlite3"
)

// CitationGraph stores passages as nodes and citations as edges. Edges are
// traversed in both directions: a passage is related to what it cites and
// to what cites it.
type CitationGraph struct {
	mu     sync.RWMutex
	db     *sql.DB
	closed bool
}

const graphSchema = `
CREATE TABLE IF NOT EXISTS nodes (
	doc_id         TEXT PRIMARY KEY,
	title          TEXT NOT NULL DEFAULT '',
	citation       TEXT NOT NULL DEFAULT '',
	jurisdiction   TEXT NOT NULL DEFAULT '',
	doc_type       TEXT NOT NULL DEFAULT '',
	program        TEXT NOT NULL DEFAULT '',
	effective_date TEXT NOT NULL DEFAULT '',
	body           TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS edges (
	src TEXT NOT NULL,
	dst TEXT NOT NULL,
	PRIMARY KEY (src, dst)
);

CREATE INDEX IF NOT EXISTS idx_edges_dst ON edges(dst);
`

// Seed is a traversal starting point with its native score.
type Seed struct {
	ID    string
	Score float64
}

// Reached is a node found by traversal.
type Reached struct {
	ID    string
	Depth int
	Score float64
	Via   string // seed the best path started from
}

// OpenCitationGraph opens or creates the graph database at path.
// If path is empty, an in-memory database is used.
func OpenCitationGraph(path string) (*CitationGraph, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory for %s: %w", path, err)
		}
		dsn = path + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open graph database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(graphSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize graph schema: %w", err)
	}
	return &CitationGraph{db: db}, nil
}

// Add upserts passages as nodes and replaces their outgoing edges.
// Cited IDs need not exist yet.
func (g *CitationGraph) Add(ctx context.Context, passages []*Passage) error {
	if len(passages) == 0 {
		return nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return ErrClosed
	}

	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	nodeStmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO nodes(doc_id, title, citation, jurisdiction, doc_type, program, effective_date, body)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare node statement: %w", err)
	}
	defer nodeStmt.Close()

	clearStmt, err := tx.PrepareContext(ctx, `DELETE FROM edges WHERE src = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare edge delete: %w", err)
	}
	defer clearStmt.Close()

	edgeStmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO edges(src, dst) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare edge statement: %w", err)
	}
	defer edgeStmt.Close()

	for _, p := range passages {
		_, err := nodeStmt.ExecContext(ctx, p.ID, p.Title, p.Citation, p.Jurisdiction,
			p.DocType, p.Program, FormatDate(p.EffectiveDate), p.Text)
		if err != nil {
			return fmt.Errorf("failed to upsert node %s: %w", p.ID, err)
		}
		if _, err := clearStmt.ExecContext(ctx, p.ID); err != nil {
			return fmt.Errorf("failed to clear edges of %s: %w", p.ID, err)
		}
		for _, dst := range p.Cites {
			if dst == "" || dst == p.ID {
				continue
			}
			if _, err := edgeStmt.ExecContext(ctx, p.ID, dst); err != nil {
				return fmt.Errorf("failed to add edge %s -> %s: %w", p.ID, dst, err)
			}
		}
	}

	return tx.Commit()
}

// Neighbors returns the IDs adjacent to each of ids, in either direction.
func (g *CitationGraph) Neighbors(ctx context.Context, ids []string) (map[string][]string, error) {
	out := make(map[string][]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.closed {
		return nil, ErrClosed
	}
	return g.neighbors(ctx, ids)
}

func (g *CitationGraph) neighbors(ctx context.Context, ids []string) (map[string][]string, error) {
	out := make(map[string][]string, len(ids))
	in, args := inClause(ids)
	stmt := `
		SELECT src, dst FROM edges WHERE src IN (` + in + `)
		UNION
		SELECT dst, src FROM edges WHERE dst IN (` + in + `)
		ORDER BY 1, 2`
	rows, err := g.db.QueryContext(ctx, stmt, append(args, args...)...)
	if err != nil {
		return nil, fmt.Errorf("neighbor query failed: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var from, to string
		if err := rows.Scan(&from, &to); err != nil {
			return nil, fmt.Errorf("failed to scan edge: %w", err)
		}
		out[from] = append(out[from], to)
	}
	return out, rows.Err()
}

// Walk expands seeds breadth-first up to depth hops. A node at depth d
// scores seed × decay^d; when several paths reach a node the best score
// wins. Seeds themselves are not returned. Results are ordered by score
// descending, then ID.
func (g *CitationGraph) Walk(ctx context.Context, seeds []Seed, depth int, decay float64) ([]Reached, error) {
	if len(seeds) == 0 || depth <= 0 {
		return nil, nil
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.closed {
		return nil, ErrClosed
	}

	type state struct {
		score float64
		via   string
	}
	frontier := make(map[string]state, len(seeds))
	isSeed := make(map[string]struct{}, len(seeds))
	for _, s := range seeds {
		isSeed[s.ID] = struct{}{}
		if cur, ok := frontier[s.ID]; !ok || s.Score > cur.score {
			frontier[s.ID] = state{score: s.Score, via: s.ID}
		}
	}

	best := make(map[string]Reached)
	for d := 1; d <= depth && len(frontier) > 0; d++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		ids := make([]string, 0, len(frontier))
		for id := range frontier {
			ids = append(ids, id)
		}
		adj, err := g.neighbors(ctx, ids)
		if err != nil {
			return nil, err
		}

		next := make(map[string]state)
		for from, st := range frontier {
			score := st.score * decay
			for _, to := range adj[from] {
				if _, ok := isSeed[to]; ok {
					continue
				}
				if prev, ok := best[to]; ok && prev.Score >= score {
					continue
				}
				best[to] = Reached{ID: to, Depth: d, Score: score, Via: st.via}
				if cur, ok := next[to]; !ok || score > cur.score {
					next[to] = state{score: score, via: st.via}
				}
			}
		}
		frontier = next
	}

	out := make([]Reached, 0, len(best))
	for _, r := range best {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Nodes returns stored metadata and text for the given IDs. Cited IDs that
// were never loaded are absent.
func (g *CitationGraph) Nodes(ctx context.Context, ids []string) (map[string]*Passage, error) {
	out := make(map[string]*Passage, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.closed {
		return nil, ErrClosed
	}

	in, args := inClause(ids)
	rows, err := g.db.QueryContext(ctx, `
		SELECT doc_id, title, citation, jurisdiction, doc_type, program, effective_date, body
		FROM nodes WHERE doc_id IN (`+in+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("node query failed: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			p    Passage
			date string
		)
		if err := rows.Scan(&p.ID, &p.Title, &p.Citation, &p.Jurisdiction,
			&p.DocType, &p.Program, &date, &p.Text); err != nil {
			return nil, fmt.Errorf("failed to scan node: %w", err)
		}
		p.EffectiveDate, _ = ParseDate(date)
		out[p.ID] = &p
	}
	return out, rows.Err()
}

// EdgeCount returns the number of stored citation edges.
func (g *CitationGraph) EdgeCount(ctx context.Context) (int, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.closed {
		return 0, ErrClosed
	}
	var n int
	if err := g.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM edges`).Scan(&n); err != nil {
		return 0, fmt.Errorf("edge count failed: %w", err)
	}
	return n, nil
}

// Close closes the database.
func (g *CitationGraph) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return nil
	}
	g.closed = true
	return g.db.Close()
}

func inClause(ids []string) (string, []any) {
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	return strings.Join(placeholders, ","), args
}
