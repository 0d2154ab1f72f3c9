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
	"sync"

	"github.com/panjf2000/ants/v2"
	"github.com/spf13/cobra"

	"github.com/Aman-CERP/regsearch/internal/retrieval"
	"github.com/Aman-CERP/regsearch/internal/server"
)

// maxBatchLine bounds one input line.
const maxBatchLine = 1 << 20

// batchResult is one output line. Line is 1-based in the input file.
type batchResult struct {
	Line     int                          `json:"line"`
	Text     string                       `json:"text,omitempty"`
	Response *retrieval.RetrievalResponse `json:"response,omitempty"`
	Error    string                       `json:"error,omitempty"`
}

type batchJob struct {
	line int
	req  server.Request
	err  error
}

// readBatch parses one request per line: a JSON object, or plain query
// text. Blank lines are skipped; malformed JSON lines become jobs that
// carry their decode error.
func readBatch(r io.Reader) ([]batchJob, error) {
	var jobs []batchJob
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxBatchLine)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		job := batchJob{line: line}
		if !strings.HasPrefix(text, "{") {
			job.req = server.Request{Text: text}
		} else if err := json.Unmarshal([]byte(text), &job.req); err != nil {
			job.err = fmt.Errorf("malformed request: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read batch: %w", err)
	}
	return jobs, nil
}

// runBatch answers every request in path on a pool of workers and writes
// one JSON line per request, in input order. Per-request failures are
// reported inline; only cancellation aborts the run.
func runBatch(ctx context.Context, cmd *cobra.Command, engine server.Retriever, path string, workers int) error {
	var in io.Reader = cmd.InOrStdin()
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open batch file: %w", err)
		}
		defer f.Close()
		in = f
	}

	jobs, err := readBatch(in)
	if err != nil {
		return err
	}
	results, err := answerBatch(ctx, engine, jobs, workers)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	for _, r := range results {
		if err := enc.Encode(r); err != nil {
			return err
		}
	}
	return nil
}

func answerBatch(ctx context.Context, engine server.Retriever, jobs []batchJob, workers int) ([]batchResult, error) {
	if workers <= 0 {
		workers = 1
	}
	pool, err := ants.NewPool(workers)
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}
	defer pool.Release()

	results := make([]batchResult, len(jobs))
	var wg sync.WaitGroup
	for i, job := range jobs {
		if err := ctx.Err(); err != nil {
			break
		}
		wg.Add(1)
		err := pool.Submit(func() {
			defer wg.Done()
			results[i] = answer(ctx, engine, job)
		})
		if err != nil {
			wg.Done()
			results[i] = batchResult{Line: job.line, Text: job.req.Text, Error: err.Error()}
		}
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	slog.Debug("batch_complete", slog.Int("requests", len(jobs)), slog.Int("workers", workers))
	return results, nil
}

func answer(ctx context.Context, engine server.Retriever, job batchJob) batchResult {
	res := batchResult{Line: job.line, Text: job.req.Text}
	if job.err != nil {
		res.Error = job.err.Error()
		return res
	}
	pq, err := job.req.Parsed()
	if err != nil {
		res.Error = err.Error()
		return res
	}
	resp, err := engine.Retrieve(ctx, pq)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.Response = resp
	return res
}
