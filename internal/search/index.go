// Package search provides full-text search over the sections of one book.
package search

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/lang/fa"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
)

// DefaultLimit caps the number of hits when the caller passes no limit.
const DefaultLimit = 20

// Section is one indexable spine item.
type Section struct {
	Index int
	Label string
	Text  string
}

// Hit is a section matching a query. Fragments carry highlighted excerpts.
type Hit struct {
	SectionIndex int      `json:"sectionIndex"`
	Label        string   `json:"label"`
	Score        float64  `json:"score"`
	Fragments    []string `json:"fragments,omitempty"`
}

// Index wraps an in-memory Bleve index of a book's sections.
//
// Thread safety: all public methods are safe for concurrent use.
type Index struct {
	index  bleve.Index
	logger *slog.Logger
	mu     sync.RWMutex
	closed bool
}

// Build indexes the given sections in a single batch.
func Build(sections []Section, logger *slog.Logger) (*Index, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	index, err := bleve.NewMemOnly(buildIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("create index: %w", err)
	}

	batch := index.NewBatch()
	for _, s := range sections {
		if strings.TrimSpace(s.Text) == "" && strings.TrimSpace(s.Label) == "" {
			continue
		}
		doc := map[string]any{
			"label": s.Label,
			"text":  s.Text,
		}
		if err := batch.Index(strconv.Itoa(s.Index), doc); err != nil {
			_ = index.Close()
			return nil, fmt.Errorf("batch index section %d: %w", s.Index, err)
		}
	}
	if err := index.Batch(batch); err != nil {
		_ = index.Close()
		return nil, fmt.Errorf("commit batch: %w", err)
	}

	logger.Debug("section index built", "sections", len(sections))
	return &Index{index: index, logger: logger}, nil
}

// buildIndexMapping uses the Persian analyzer for text so that Arabic and
// Persian letter variants and zero-width non-joiners match.
func buildIndexMapping() mapping.IndexMapping {
	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultAnalyzer = fa.AnalyzerName

	docMapping := bleve.NewDocumentMapping()

	textFieldMapping := bleve.NewTextFieldMapping()
	textFieldMapping.Analyzer = fa.AnalyzerName
	textFieldMapping.Store = true
	textFieldMapping.IncludeTermVectors = true // For highlighting
	docMapping.AddFieldMappingsAt("text", textFieldMapping)

	// Label is indexed twice: analyzed for matching and whole for exact hits.
	labelFieldMapping := bleve.NewTextFieldMapping()
	labelFieldMapping.Analyzer = fa.AnalyzerName
	labelFieldMapping.Store = true

	labelExactMapping := bleve.NewTextFieldMapping()
	labelExactMapping.Analyzer = keyword.Name
	labelExactMapping.Store = false
	labelExactMapping.Name = "label_exact"
	docMapping.AddFieldMappingsAt("label", labelFieldMapping, labelExactMapping)

	indexMapping.AddDocumentMapping("_default", docMapping)
	return indexMapping
}

// Search returns the sections matching q, best first. A blank query
// returns no hits.
func (ix *Index) Search(ctx context.Context, q string, limit int) ([]Hit, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return []Hit{}, nil
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if ix.closed {
		return nil, fmt.Errorf("search index closed")
	}

	req := bleve.NewSearchRequestOptions(buildQuery(q), limit, 0, false)
	req.Fields = []string{"label"}
	req.Highlight = bleve.NewHighlight()
	req.Highlight.AddField("text")

	result, err := ix.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("execute search: %w", err)
	}

	hits := make([]Hit, 0, len(result.Hits))
	for _, h := range result.Hits {
		idx, err := strconv.Atoi(h.ID)
		if err != nil {
			ix.logger.Warn("unexpected document id in section index", "id", h.ID)
			continue
		}
		hit := Hit{SectionIndex: idx, Score: h.Score}
		if label, ok := h.Fields["label"].(string); ok {
			hit.Label = label
		}
		hit.Fragments = h.Fragments["text"]
		hits = append(hits, hit)
	}

	ix.logger.Debug("section search",
		"query", q,
		"total", result.Total,
		"took_ms", result.Took.Milliseconds(),
	)
	return hits, nil
}

// buildQuery matches the body text, boosts label matches, and accepts an
// exact label match.
func buildQuery(q string) query.Query {
	text := bleve.NewMatchQuery(q)
	text.SetField("text")

	label := bleve.NewMatchQuery(q)
	label.SetField("label")
	label.SetBoost(2.0)

	exact := bleve.NewTermQuery(q)
	exact.SetField("label_exact")
	exact.SetBoost(3.0)

	return bleve.NewDisjunctionQuery(text, label, exact)
}

// Count returns the number of indexed sections.
func (ix *Index) Count() (uint64, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if ix.closed {
		return 0, nil
	}
	return ix.index.DocCount()
}

// Close releases the index. Further searches fail.
func (ix *Index) Close() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.closed {
		return nil
	}
	ix.closed = true
	return ix.index.Close()
}
