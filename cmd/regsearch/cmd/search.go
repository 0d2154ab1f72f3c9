package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/regsearch/internal/output"
	"github.com/Aman-CERP/regsearch/internal/retrieval"
	"github.com/Aman-CERP/regsearch/internal/server"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	limit   int
	format  string // "text", "json"
	explain bool
	noCache bool
	batch   string // JSONL file of requests, "-" for stdin
	workers int

	jurisdiction string
	docType      string
	program      string
	from         string
	to           string
	lexical      float64
	vector       float64
}

func newSearchCmd(root *rootOptions) *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Retrieve passages for a question",
		Long: `Retrieve ranked passages for a natural-language question.

The query is expanded with legal synonyms and typo corrections, then tried
against each configured tier in priority order until one returns enough
passages. Use --explain to see every tier attempt.

With --batch, each line of the file is a JSON request in the same shape the
HTTP API accepts, and one JSON response is written per line.`,
		Example: `  regsearch search "ei eligibility for seasonal workers"
  regsearch search "old age security residency" --jurisdiction federal --limit 5
  regsearch search "record of employment deadline" --explain
  regsearch search --batch queries.jsonl --workers 8`,
		Args: func(cmd *cobra.Command, args []string) error {
			if opts.batch == "" && len(args) == 0 {
				return fmt.Errorf("a query or --batch is required")
			}
			if opts.batch != "" && len(args) > 0 {
				return fmt.Errorf("--batch cannot be combined with a query argument")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd.Context(), cmd, root, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 0, "Maximum number of results (default from config)")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")
	cmd.Flags().BoolVar(&opts.explain, "explain", false, "Include the tier trace")
	cmd.Flags().BoolVar(&opts.noCache, "no-cache", false, "Bypass the result cache")
	cmd.Flags().StringVar(&opts.batch, "batch", "", "Run every request in a JSONL file (- for stdin)")
	cmd.Flags().IntVar(&opts.workers, "workers", 0, "Concurrent batch queries (default engine.batch_workers)")
	cmd.Flags().StringVar(&opts.jurisdiction, "jurisdiction", "", "Filter by jurisdiction")
	cmd.Flags().StringVar(&opts.docType, "doc-type", "", "Filter by document type")
	cmd.Flags().StringVar(&opts.program, "program", "", "Filter by program")
	cmd.Flags().StringVar(&opts.from, "from", "", "Effective on or after (YYYY-MM-DD)")
	cmd.Flags().StringVar(&opts.to, "to", "", "Effective on or before (YYYY-MM-DD)")
	cmd.Flags().Float64Var(&opts.lexical, "lexical-weight", 0, "Override the lexical fusion weight")
	cmd.Flags().Float64Var(&opts.vector, "vector-weight", 0, "Override the vector fusion weight")

	return cmd
}

// request turns flags into the same request shape the HTTP API takes.
func (o searchOptions) request(query string) server.Request {
	req := server.Request{
		Text: query,
		Filters: server.RequestFilters{
			Jurisdiction:  o.jurisdiction,
			DocType:       o.docType,
			Program:       o.program,
			EffectiveFrom: o.from,
			EffectiveTo:   o.to,
		},
		Limit:   o.limit,
		NoCache: o.noCache,
		Explain: o.explain,
	}
	if o.lexical != 0 || o.vector != 0 {
		req.Hints = &retrieval.Weights{Lexical: o.lexical, Vector: o.vector}
	}
	return req
}

func runSearch(ctx context.Context, cmd *cobra.Command, root *rootOptions, query string, opts searchOptions) error {
	if opts.format != "text" && opts.format != "json" {
		return fmt.Errorf("unknown format %q: use text or json", opts.format)
	}

	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}
	logger := slog.Default()

	rt, err := openRuntime(cfg, logger, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(); err != nil {
			logger.Warn("close failed", slog.String("error", err.Error()))
		}
	}()

	if opts.batch != "" {
		workers := opts.workers
		if workers <= 0 {
			workers = cfg.Engine.BatchWorkers
		}
		return runBatch(ctx, cmd, rt.engine, opts.batch, workers)
	}

	pq, err := opts.request(query).Parsed()
	if err != nil {
		return err
	}
	logger.Debug("search_started", slog.String("query", query), slog.Int("limit", pq.Limit))

	resp, err := rt.engine.Retrieve(ctx, pq)
	if err != nil {
		return err
	}
	logger.Debug("search_complete",
		slog.Int("results", len(resp.Hits)),
		slog.Bool("degraded", resp.Degraded),
		slog.Int64("latency_ms", resp.LatencyMs))

	if opts.format == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}
	output.New(cmd.OutOrStdout()).Response(query, resp)
	return nil
}
