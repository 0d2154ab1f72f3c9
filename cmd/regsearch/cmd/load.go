package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	rerrors "github.com/Aman-CERP/regsearch/internal/errors"
	"github.com/Aman-CERP/regsearch/internal/output"
	"github.com/Aman-CERP/regsearch/internal/store"
)

// passageRecord is one line of a passage file. Dates are YYYY-MM-DD or
// RFC 3339.
type passageRecord struct {
	ID            string   `json:"id"`
	Title         string   `json:"title"`
	Citation      string   `json:"citation"`
	Jurisdiction  string   `json:"jurisdiction"`
	DocType       string   `json:"doc_type"`
	Program       string   `json:"program"`
	EffectiveDate string   `json:"effective_date"`
	Text          string   `json:"text"`
	Cites         []string `json:"cites,omitempty"`
}

func (r passageRecord) passage() (*store.Passage, error) {
	if strings.TrimSpace(r.ID) == "" {
		return nil, fmt.Errorf("passage id is required")
	}
	if strings.TrimSpace(r.Text) == "" {
		return nil, fmt.Errorf("passage %s has no text", r.ID)
	}
	date, err := store.ParseDate(r.EffectiveDate)
	if err != nil {
		return nil, fmt.Errorf("passage %s: %w", r.ID, err)
	}
	return &store.Passage{
		ID:            r.ID,
		Title:         r.Title,
		Citation:      r.Citation,
		Jurisdiction:  r.Jurisdiction,
		DocType:       r.DocType,
		Program:       r.Program,
		EffectiveDate: date,
		Text:          r.Text,
		Cites:         r.Cites,
	}, nil
}

// readPassages parses a JSONL passage file. Errors name the line.
func readPassages(r io.Reader) ([]*store.Passage, error) {
	var passages []*store.Passage
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*maxBatchLine)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		var rec passageRecord
		if err := json.Unmarshal([]byte(text), &rec); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		p, err := rec.passage()
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		passages = append(passages, p)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read passages: %w", err)
	}
	return passages, nil
}

func newLoadCmd(root *rootOptions) *cobra.Command {
	var batchSize int

	cmd := &cobra.Command{
		Use:   "load <passages.jsonl>",
		Short: "Load passages into every tier",
		Long: `Load pre-chunked passages into every configured tier that stores data.

Each line of the file is one JSON passage:
  {"id": "eia-7", "title": "...", "citation": "EIA s. 7",
   "jurisdiction": "federal", "doc_type": "statute", "program": "ei",
   "effective_date": "2020-01-01", "text": "...", "cites": ["eia-6"]}

Loading a passage with an existing id replaces it.`,
		Example: `  regsearch load corpus/passages.jsonl
  cat passages.jsonl | regsearch load -`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoad(cmd.Context(), cmd, root, args[0], batchSize)
		},
	}

	cmd.Flags().IntVar(&batchSize, "batch-size", 256, "Passages written per batch")
	return cmd
}

func runLoad(ctx context.Context, cmd *cobra.Command, root *rootOptions, path string, batchSize int) error {
	out := output.New(cmd.OutOrStdout())
	if batchSize <= 0 {
		batchSize = 256
	}

	var in io.Reader = cmd.InOrStdin()
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return rerrors.New(rerrors.ErrCodeFixtureLoad, fmt.Sprintf("open passage file: %v", err), err)
		}
		defer f.Close()
		in = f
	}
	passages, err := readPassages(in)
	if err != nil {
		return rerrors.New(rerrors.ErrCodeFixtureLoad, err.Error(), err).
			WithDetail("file", path).
			WithSuggestion("Each line must be a JSON object with at least id and text")
	}
	if len(passages) == 0 {
		out.Warning("No passages to load")
		return nil
	}

	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}

	rt, err := openTiers(cfg, slog.Default())
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(); err != nil {
			slog.Warn("close failed", slog.String("error", err.Error()))
		}
	}()

	start := time.Now()
	for i := 0; i < len(passages); i += batchSize {
		end := min(i+batchSize, len(passages))
		if err := rt.tiers.Load(ctx, passages[i:end]); err != nil {
			return err
		}
		out.Progress(end, len(passages), "passages")
	}

	out.Successf("Loaded %d passages into %d tiers in %s",
		len(passages), len(rt.tiers.Tiers), time.Since(start).Round(time.Millisecond))
	slog.Info("load_complete",
		slog.Int("passages", len(passages)),
		slog.String("data_dir", cfg.DataDir))
	return nil
}
