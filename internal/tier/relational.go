package tier

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/Aman-CERP/regsearch/internal/store"
)

// Relational is a lexical tier over an SQLite FTS5 table. Every filter is a
// WHERE clause.
type Relational struct {
	desc  Descriptor
	table *store.FTSTable
}

// NewRelational wires a relational tier over an open table.
func NewRelational(desc Descriptor, table *store.FTSTable) *Relational {
	return &Relational{desc: withNative(desc, AllFilterFields), table: table}
}

// OpenRelational opens the FTS table under dir.
func OpenRelational(desc Descriptor, dir string) (*Relational, error) {
	table, err := store.OpenFTSTable(filepath.Join(dir, "passages.db"))
	if err != nil {
		return nil, err
	}
	return NewRelational(desc, table), nil
}

// Capabilities implements Adapter.
func (r *Relational) Capabilities() Descriptor { return r.desc }

// Search implements Adapter.
func (r *Relational) Search(ctx context.Context, req Request) (*Result, error) {
	native, report, err := Translate(r.desc, req.Filters)
	if err != nil {
		return nil, err
	}
	results, err := r.table.Search(ctx, store.TextQuery{
		Text:   req.Lexical,
		Limit:  req.Limit,
		Filter: native,
	})
	if err != nil {
		return nil, fmt.Errorf("fts search: %w", err)
	}
	return &Result{Hits: textHits(r.desc.Name, ModalityLexical, results), Filters: report}, nil
}

// Load implements Loader.
func (r *Relational) Load(ctx context.Context, passages []*store.Passage) error {
	return r.table.Add(ctx, passages)
}

// Close implements Adapter.
func (r *Relational) Close() error { return r.table.Close() }
