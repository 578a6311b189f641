package retrieval

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/Chative-core-poc-v1/advisor/internal/agent/model"
)

//go:embed corpus/knowledge_base.json
var defaultCorpus []byte

// Searcher is a context source.
type Searcher interface {
	Search(ctx context.Context, text string, limit int, prioritizeExact bool) ([]model.Passage, error)
}

const (
	boostTitlePhrase = 4.0
	boostKeywords    = 2.0
	boostFAQ         = 1.5
)

// LocalIndex is an in-memory full-text index over the knowledge base.
type LocalIndex struct {
	index bleve.Index
	docs  map[string]model.Document
}

// indexedDocument is the shape stored in bleve.
type indexedDocument struct {
	Title    string `json:"title"`
	Body     string `json:"body"`
	Keywords string `json:"keywords"`
	FAQ      bool   `json:"faq"`
}

func NewLocalIndex(docs []model.Document) (*LocalIndex, error) {
	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("create local index: %w", err)
	}

	li := &LocalIndex{index: idx, docs: make(map[string]model.Document, len(docs))}
	batch := idx.NewBatch()
	for _, d := range docs {
		if d.ID == "" {
			continue
		}
		if err := batch.Index(d.ID, indexedDocument{
			Title:    d.Title,
			Body:     d.Body,
			Keywords: strings.Join(d.Keywords, " "),
			FAQ:      d.FAQ,
		}); err != nil {
			return nil, fmt.Errorf("index document %s: %w", d.ID, err)
		}
		li.docs[d.ID] = d
	}
	if err := idx.Batch(batch); err != nil {
		return nil, fmt.Errorf("commit local index: %w", err)
	}
	return li, nil
}

// DefaultDocuments returns the built-in knowledge base.
func DefaultDocuments() ([]model.Document, error) {
	return decodeDocuments(defaultCorpus)
}

// LoadDocuments reads a JSON array of documents from path.
func LoadDocuments(path string) ([]model.Document, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read knowledge base: %w", err)
	}
	return decodeDocuments(b)
}

func decodeDocuments(b []byte) ([]model.Document, error) {
	var docs []model.Document
	if err := json.Unmarshal(b, &docs); err != nil {
		return nil, fmt.Errorf("decode knowledge base: %w", err)
	}
	return docs, nil
}

func (li *LocalIndex) Len() int {
	return len(li.docs)
}

// Search matches text against title, body and keywords. prioritizeExact
// boosts title phrase matches and FAQ entries.
func (li *LocalIndex) Search(ctx context.Context, text string, limit int, prioritizeExact bool) ([]model.Passage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 5
	}

	req := bleve.NewSearchRequest(buildQuery(text, prioritizeExact))
	req.Size = limit
	res, err := li.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("local search: %w", err)
	}

	out := make([]model.Passage, 0, len(res.Hits))
	for _, h := range res.Hits {
		d, ok := li.docs[h.ID]
		if !ok {
			continue
		}
		out = append(out, model.Passage{
			Title:   d.Title,
			Snippet: d.Body,
			Source:  d.Source,
			Score:   h.Score,
		})
	}
	return out, nil
}

func buildQuery(text string, prioritizeExact bool) query.Query {
	title := bleve.NewMatchQuery(text)
	title.SetField("title")
	body := bleve.NewMatchQuery(text)
	body.SetField("body")
	keywords := bleve.NewMatchQuery(text)
	keywords.SetField("keywords")
	keywords.SetBoost(boostKeywords)

	match := bleve.NewDisjunctionQuery(title, body, keywords)
	if !prioritizeExact {
		return match
	}

	phrase := bleve.NewMatchPhraseQuery(text)
	phrase.SetField("title")
	phrase.SetBoost(boostTitlePhrase)
	faq := bleve.NewBoolFieldQuery(true)
	faq.SetField("faq")
	faq.SetBoost(boostFAQ)

	return query.NewBooleanQuery([]query.Query{match}, []query.Query{phrase, faq}, nil)
}

func (li *LocalIndex) Close() error {
	return li.index.Close()
}
