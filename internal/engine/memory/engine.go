package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/utafrali/catalog-service/internal/engine"
)

// Engine is an in-memory SearchEngine for development and tests. Text
// matching is a case-insensitive term match over title and description,
// scored by the number of query terms found.
type Engine struct {
	mu   sync.RWMutex
	docs map[int64]engine.Document
}

// New creates an empty in-memory engine.
func New() *Engine {
	return &Engine{docs: make(map[int64]engine.Document)}
}

// Index adds or replaces a single document.
func (e *Engine) Index(_ context.Context, doc *engine.Document) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.docs[doc.ID] = *doc
	return nil
}

// Delete removes a document by id.
func (e *Engine) Delete(_ context.Context, id int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.docs, id)
	return nil
}

// BulkIndex adds or replaces many documents.
func (e *Engine) BulkIndex(_ context.Context, docs []engine.Document) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i := range docs {
		e.docs[docs[i].ID] = docs[i]
	}
	return nil
}

// Prune removes every document whose id is not in keep.
func (e *Engine) Prune(_ context.Context, keep []int64) (int, error) {
	live := make(map[int64]struct{}, len(keep))
	for _, id := range keep {
		live[id] = struct{}{}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	removed := 0
	for id := range e.docs {
		if _, ok := live[id]; !ok {
			delete(e.docs, id)
			removed++
		}
	}
	return removed, nil
}

// Ping always succeeds.
func (e *Engine) Ping(context.Context) error { return nil }

// Len returns the number of indexed documents.
func (e *Engine) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.docs)
}

// Get returns the document stored under id.
func (e *Engine) Get(id int64) (engine.Document, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	doc, ok := e.docs[id]
	return doc, ok
}

type hit struct {
	doc   engine.Document
	score int
}

// Search returns matching documents ordered by score, then id.
func (e *Engine) Search(_ context.Context, q engine.Query) ([]engine.Document, error) {
	terms := strings.Fields(strings.ToLower(q.Text))
	gte, lte, hasRange := q.PriceRange()

	e.mu.RLock()
	hits := make([]hit, 0)
	for _, doc := range e.docs {
		if q.CategoryID != nil && doc.CategoryID != *q.CategoryID {
			continue
		}
		if hasRange && (doc.Price < gte || doc.Price > lte) {
			continue
		}
		score := 1
		if len(terms) > 0 {
			score = matchScore(doc, terms)
			if score == 0 {
				continue
			}
		}
		hits = append(hits, hit{doc: doc, score: score})
	}
	e.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].doc.ID < hits[j].doc.ID
	})

	if size := q.Size(); len(hits) > size {
		hits = hits[:size]
	}
	out := make([]engine.Document, len(hits))
	for i := range hits {
		out[i] = hits[i].doc
	}
	return out, nil
}

func matchScore(doc engine.Document, terms []string) int {
	title := strings.ToLower(doc.Title)
	desc := strings.ToLower(doc.Description)
	score := 0
	for _, t := range terms {
		if strings.Contains(title, t) || strings.Contains(desc, t) {
			score++
		}
	}
	return score
}
