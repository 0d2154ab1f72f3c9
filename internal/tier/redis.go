package tier

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/redis/rueidis"
	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/regsearch/internal/embed"
	rerrors "github.com/Aman-CERP/regsearch/internal/errors"
	"github.com/Aman-CERP/regsearch/internal/store"
)

// Hash field names in the Redis search index.
const (
	redisFieldDocID    = "doc_id"
	redisFieldTitle    = "title"
	redisFieldCitation = "citation"
	redisFieldBody     = "body"
	redisFieldJuris    = "jurisdiction"
	redisFieldDocType  = "doc_type"
	redisFieldProgram  = "program"
	redisFieldDate     = "effective_date"
	redisFieldDateNum  = "effective"
	redisFieldVector   = "vector"
	redisFieldVecScore = "__vector_score"
	redisLoadBatchSize = 128
	redisDefaultIndex  = "passages"
	redisDateNumLayout = "20060102"
)

var redisReturnFields = []string{
	redisFieldDocID, redisFieldTitle, redisFieldCitation, redisFieldBody,
	redisFieldJuris, redisFieldDocType, redisFieldProgram, redisFieldDate,
}

// Redis is a hybrid tier over Redis search: FT.SEARCH with BM25 scoring
// for the lexical branch and KNN over a FLOAT32 vector field for the
// semantic branch.
type Redis struct {
	desc     Descriptor
	client   rueidis.Client
	index    string
	embedder embed.Embedder
	logger   *slog.Logger
}

// NewRedis wires a Redis tier over an existing client. embedder may be nil
// for a lexical-only tier.
func NewRedis(desc Descriptor, client rueidis.Client, index string, embedder embed.Embedder, logger *slog.Logger) *Redis {
	if index == "" {
		index = redisDefaultIndex
	}
	if logger == nil {
		logger = slog.Default()
	}
	desc = withNative(desc, AllFilterFields)
	desc.Capabilities.Vector = embedder != nil
	return &Redis{
		desc:     desc,
		client:   client,
		index:    index,
		embedder: embedder,
		logger:   logger.With(slog.String("tier", desc.Name)),
	}
}

// OpenRedis connects to addr.
func OpenRedis(desc Descriptor, addr, index string, embedder embed.Embedder, logger *slog.Logger) (*Redis, error) {
	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress:  strings.Split(addr, ","),
		DisableCache: true,
		AlwaysRESP2:  true, // reply parsing expects RESP2 arrays
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create redis client: %w", err)
	}
	return NewRedis(desc, client, index, embedder, logger), nil
}

// Capabilities implements Adapter.
func (r *Redis) Capabilities() Descriptor { return r.desc }

// Search implements Adapter.
func (r *Redis) Search(ctx context.Context, req Request) (*Result, error) {
	native, report, err := Translate(r.desc, req.Filters)
	if err != nil {
		return nil, err
	}
	filter := redisFilter(native)

	var (
		lexical, vector []Hit
		lexErr, vecErr  error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		lexical, lexErr = r.searchBM25(gctx, req, filter)
		return nil
	})
	if r.desc.Capabilities.Vector && req.Semantic != "" {
		g.Go(func() error {
			vector, vecErr = r.searchKNN(gctx, req, filter)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if lexErr != nil && (vecErr != nil || !r.desc.Capabilities.Vector) {
		return nil, errors.Join(lexErr, vecErr)
	}
	if lexErr != nil {
		r.logger.Warn("bm25 branch failed, returning knn hits only", slog.String("error", lexErr.Error()))
	}
	if vecErr != nil {
		r.logger.Warn("knn branch failed, returning bm25 hits only", slog.String("error", vecErr.Error()))
	}

	hits := make([]Hit, 0, len(lexical)+len(vector))
	hits = append(hits, lexical...)
	hits = append(hits, vector...)
	return &Result{Hits: hits, Filters: report}, nil
}

func (r *Redis) searchBM25(ctx context.Context, req Request, filter string) ([]Hit, error) {
	terms := store.QueryTerms(req.Lexical)
	if len(terms) == 0 {
		return nil, nil
	}
	text := fmt.Sprintf("@%s|%s|%s:(%s)", redisFieldTitle, redisFieldCitation, redisFieldBody,
		strings.Join(terms, " | "))
	query := text
	if filter != "" {
		query = filter + " " + text
	}

	args := []string{r.index, query, "SCORER", "BM25", "WITHSCORES"}
	args = append(args, returnArgs()...)
	args = append(args, "LIMIT", "0", strconv.Itoa(req.Limit), "DIALECT", "2")

	cmd := r.client.B().Arbitrary("FT.SEARCH").Args(args...).Build()
	raw, err := r.client.Do(ctx, cmd).ToArray()
	if err != nil {
		return nil, searchError("redis bm25 search", err)
	}
	hits, err := r.parseReply(raw, true, ModalityLexical)
	if err != nil {
		return nil, err
	}
	for i := range hits {
		hits[i].Snippet = store.MakeSnippet(hits[i].Snippet, terms)
	}
	return hits, nil
}

func (r *Redis) searchKNN(ctx context.Context, req Request, filter string) ([]Hit, error) {
	embedding, err := r.embedder.Embed(ctx, req.Semantic)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if filter == "" {
		filter = "*"
	} else {
		filter = "(" + filter + ")"
	}
	query := fmt.Sprintf("%s=>[KNN %d @%s $BLOB]", filter, req.Limit, redisFieldVector)

	args := []string{r.index, query}
	args = append(args, returnArgs(redisFieldVecScore)...)
	args = append(args,
		"SORTBY", redisFieldVecScore,
		"LIMIT", "0", strconv.Itoa(req.Limit),
		"PARAMS", "2", "BLOB", vectorToBytes(embedding),
		"DIALECT", "2")

	cmd := r.client.B().Arbitrary("FT.SEARCH").Args(args...).Build()
	raw, err := r.client.Do(ctx, cmd).ToArray()
	if err != nil {
		return nil, searchError("redis knn search", err)
	}
	hits, err := r.parseReply(raw, false, ModalityVector)
	if err != nil {
		return nil, err
	}
	for i := range hits {
		hits[i].Snippet = store.MakeSnippet(hits[i].Snippet, nil)
	}
	return hits, nil
}

// transientReplies are server error prefixes that clear without a change
// to the query.
var transientReplies = []string{"LOADING", "BUSY ", "TRYAGAIN", "MASTERDOWN", "CLUSTERDOWN"}

func searchError(op string, err error) error {
	wrapped := fmt.Errorf("%s: %w", op, err)
	if re, ok := rueidis.IsRedisErr(err); ok {
		msg := re.Error()
		for _, p := range transientReplies {
			if strings.HasPrefix(msg, p) {
				return rerrors.TierTransportError("", wrapped)
			}
		}
	}
	return wrapped
}

func returnArgs(extra ...string) []string {
	fields := append(append([]string{}, redisReturnFields...), extra...)
	return append([]string{"RETURN", strconv.Itoa(len(fields))}, fields...)
}

// parseReply reads an FT.SEARCH reply. With scores the layout is
// [total, key, score, fields, ...]; without it is [total, key, fields, ...]
// and the KNN distance arrives as a field. The snippet carries the full
// body until the caller windows it.
func (r *Redis) parseReply(raw []rueidis.RedisMessage, withScores bool, modality Modality) ([]Hit, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	total, err := raw[0].AsInt64()
	if err != nil {
		return nil, fmt.Errorf("parse total: %w", err)
	}
	if total <= 0 {
		return nil, nil
	}

	stride := 2
	if withScores {
		stride = 3
	}
	// total counts every match in the index, not the rows on this page.
	hits := make([]Hit, 0, (len(raw)-1)/stride)
	for i := 1; i+stride-1 < len(raw); i += stride {
		key, err := raw[i].ToString()
		if err != nil {
			continue
		}
		var score float64
		if withScores {
			s, err := raw[i+1].ToString()
			if err != nil {
				continue
			}
			if score, err = strconv.ParseFloat(s, 64); err != nil {
				continue
			}
		}
		arr, err := raw[i+stride-1].ToArray()
		if err != nil {
			continue
		}
		fields := parseFieldPairs(arr)
		if !withScores {
			d, err := strconv.ParseFloat(fields[redisFieldVecScore], 64)
			if err != nil {
				continue
			}
			// cosine distance to similarity
			score = max(0, 1-d)
		}

		p := passageFromHash(fields)
		if p.ID == "" {
			p.ID = strings.TrimPrefix(key, r.keyPrefix())
		}
		hits = append(hits, Hit{
			DocumentID:  p.ID,
			Tier:        r.desc.Name,
			Modality:    modality,
			NativeScore: score,
			Snippet:     p.Text,
			Metadata:    MetadataFrom(p),
		})
	}
	return hits, nil
}

func parseFieldPairs(fields []rueidis.RedisMessage) map[string]string {
	m := make(map[string]string, len(fields)/2)
	for j := 0; j+1 < len(fields); j += 2 {
		name, err := fields[j].ToString()
		if err != nil {
			continue
		}
		value, err := fields[j+1].ToString()
		if err != nil {
			continue
		}
		m[name] = value
	}
	return m
}

func passageFromHash(f map[string]string) *store.Passage {
	date, _ := store.ParseDate(f[redisFieldDate])
	return &store.Passage{
		ID:            f[redisFieldDocID],
		Title:         f[redisFieldTitle],
		Citation:      f[redisFieldCitation],
		Text:          f[redisFieldBody],
		Jurisdiction:  f[redisFieldJuris],
		DocType:       f[redisFieldDocType],
		Program:       f[redisFieldProgram],
		EffectiveDate: date,
	}
}

// redisFilter renders applied filters as an FT.SEARCH pre-filter. Undated
// passages carry effective 0 and so fall outside any date range.
func redisFilter(f store.PassageFilter) string {
	var parts []string
	if f.Jurisdiction != "" {
		parts = append(parts, tagFilter(redisFieldJuris, f.Jurisdiction))
	}
	if f.DocType != "" {
		parts = append(parts, tagFilter(redisFieldDocType, f.DocType))
	}
	if f.Program != "" {
		parts = append(parts, tagFilter(redisFieldProgram, f.Program))
	}
	if f.HasDateRange() {
		lo, hi := "1", "+inf"
		if !f.From.IsZero() {
			lo = f.From.Format(redisDateNumLayout)
		}
		if !f.To.IsZero() {
			hi = f.To.Format(redisDateNumLayout)
		}
		parts = append(parts, fmt.Sprintf("@%s:[%s %s]", redisFieldDateNum, lo, hi))
	}
	return strings.Join(parts, " ")
}

func tagFilter(key, value string) string {
	return fmt.Sprintf("@%s:{%s}", key, tagEscaper.Replace(value))
}

var tagEscaper = strings.NewReplacer(
	",", "\\,", ".", "\\.", "<", "\\<", ">", "\\>", "{", "\\{", "}", "\\}",
	"\"", "\\\"", "'", "\\'", ":", "\\:", ";", "\\;", "!", "\\!", "@", "\\@",
	"#", "\\#", "$", "\\$", "%", "\\%", "^", "\\^", "&", "\\&", "*", "\\*",
	"(", "\\(", ")", "\\)", "-", "\\-", "+", "\\+", "=", "\\=", "~", "\\~",
	"|", "\\|", " ", "\\ ",
)

func vectorToBytes(v []float32) string {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return string(buf)
}

func (r *Redis) keyPrefix() string { return r.index + ":doc:" }

// Load creates the search index if needed and writes passages as hashes.
func (r *Redis) Load(ctx context.Context, passages []*store.Passage) error {
	if err := r.ensureIndex(ctx); err != nil {
		return err
	}

	for start := 0; start < len(passages); start += redisLoadBatchSize {
		batch := passages[start:min(start+redisLoadBatchSize, len(passages))]

		var embeddings [][]float32
		if r.embedder != nil {
			texts := make([]string, len(batch))
			for i, p := range batch {
				texts[i] = p.Title + "\n" + p.Text
			}
			var err error
			if embeddings, err = r.embedder.EmbedBatch(ctx, texts); err != nil {
				return fmt.Errorf("embed passages: %w", err)
			}
		}

		cmds := make(rueidis.Commands, len(batch))
		for i, p := range batch {
			cmd := r.client.B().Hset().Key(r.keyPrefix()+p.ID).FieldValue().
				FieldValue(redisFieldDocID, p.ID).
				FieldValue(redisFieldTitle, p.Title).
				FieldValue(redisFieldCitation, p.Citation).
				FieldValue(redisFieldBody, p.Text).
				FieldValue(redisFieldJuris, p.Jurisdiction).
				FieldValue(redisFieldDocType, p.DocType).
				FieldValue(redisFieldProgram, p.Program).
				FieldValue(redisFieldDate, store.FormatDate(p.EffectiveDate)).
				FieldValue(redisFieldDateNum, dateNumber(p))
			if embeddings != nil {
				cmd = cmd.FieldValue(redisFieldVector, vectorToBytes(embeddings[i]))
			}
			cmds[i] = cmd.Build()
		}
		for i, res := range r.client.DoMulti(ctx, cmds...) {
			if err := res.Error(); err != nil {
				return fmt.Errorf("write passage %s: %w", batch[i].ID, err)
			}
		}
	}
	return nil
}

func dateNumber(p *store.Passage) string {
	if p.EffectiveDate.IsZero() {
		return "0"
	}
	return p.EffectiveDate.Format(redisDateNumLayout)
}

func (r *Redis) ensureIndex(ctx context.Context) error {
	args := []string{r.index, "ON", "HASH", "PREFIX", "1", r.keyPrefix(), "SCHEMA",
		redisFieldDocID, "TAG",
		redisFieldTitle, "TEXT", "WEIGHT", "2.0",
		redisFieldCitation, "TEXT", "WEIGHT", "1.5",
		redisFieldBody, "TEXT",
		redisFieldJuris, "TAG",
		redisFieldDocType, "TAG",
		redisFieldProgram, "TAG",
		redisFieldDateNum, "NUMERIC",
	}
	if r.embedder != nil {
		args = append(args, redisFieldVector, "VECTOR", "HNSW", "6",
			"TYPE", "FLOAT32",
			"DIM", strconv.Itoa(r.embedder.Dimensions()),
			"DISTANCE_METRIC", "COSINE")
	}

	cmd := r.client.B().Arbitrary("FT.CREATE").Args(args...).Build()
	if err := r.client.Do(ctx, cmd).Error(); err != nil {
		if re, ok := rueidis.IsRedisErr(err); ok && strings.Contains(strings.ToLower(re.Error()), "index already exists") {
			return nil
		}
		return fmt.Errorf("create search index %s: %w", r.index, err)
	}
	return nil
}

// Close implements Adapter.
func (r *Redis) Close() error {
	r.client.Close()
	return nil
}
