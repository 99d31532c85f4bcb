package memory

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/starkbot/starkbot/pkg/models"
)

// Manager is the Memory / Context Builder's entry point: it wraps a
// Store and applies the §4.7 retrieval score, grounded on the teacher's
// Manager (internal/memory/manager.go) but with the embedding-based
// Index/Search/backend.SearchOptions machinery replaced by plain
// lexical scoring over rows the Store already holds in full.
type Manager struct {
	store Store
}

func NewManager(store Store) *Manager {
	return &Manager{store: store}
}

// Remember persists a new Memory, defaulting Importance from its Kind
// when the caller didn't set one explicitly.
func (m *Manager) Remember(ctx context.Context, identityID, content string, kind models.MemoryKind, importance int) (*models.Memory, error) {
	if importance <= 0 {
		importance = kind.DefaultImportance()
	}
	mem := &models.Memory{
		ID:         uuid.NewString(),
		IdentityID: identityID,
		Content:    content,
		Kind:       kind,
		Importance: importance,
		CreatedAt:  time.Now(),
	}
	if err := m.store.Create(ctx, mem); err != nil {
		return nil, err
	}
	return mem, nil
}

// Search answers memory_search: up to req.Limit memories for one
// identity, ranked by score (§4.7).
func (m *Manager) Search(ctx context.Context, req *models.SearchRequest) (*models.SearchResponse, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = 10
	}

	rows, err := m.store.ListForIdentity(ctx, req.IdentityID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	results := scoreAndRank(rows, req.Query, now, limit)
	return &models.SearchResponse{Results: results}, nil
}

// MultiSearch answers multi_memory_search: several queries evaluated
// against the same identity's memories, deduplicated by Memory ID and
// keeping each memory's best score across all queries.
func (m *Manager) MultiSearch(ctx context.Context, req *models.MultiSearchRequest) (*models.SearchResponse, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = 10
	}

	rows, err := m.store.ListForIdentity(ctx, req.IdentityID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	best := make(map[string]*models.SearchResult)
	for _, q := range req.Queries {
		for _, r := range scoreAndRank(rows, q, now, len(rows)) {
			existing, ok := best[r.Memory.ID]
			if !ok || r.Score > existing.Score {
				best[r.Memory.ID] = r
			}
		}
	}

	out := make([]*models.SearchResult, 0, len(best))
	for _, r := range best {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > limit {
		out = out[:limit]
	}
	return &models.SearchResponse{Results: out}, nil
}

// Delete removes a memory outright (used by manage-memory style admin
// flows, not by any of the named tools).
func (m *Manager) Delete(ctx context.Context, id string) error {
	return m.store.Delete(ctx, id)
}

func (m *Manager) Close() error {
	return m.store.Close()
}

func scoreAndRank(rows []*models.Memory, query string, now time.Time, limit int) []*models.SearchResult {
	terms := strings.Fields(strings.ToLower(query))

	results := make([]*models.SearchResult, 0, len(rows))
	for _, row := range rows {
		if row.IsExpired(now) {
			continue
		}
		score := lexicalScore(row.Content, terms) + kindScore(row.Kind) + recencyScore(row.CreatedAt, now)
		results = append(results, &models.SearchResult{Memory: row, Score: score})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Memory.CreatedAt.After(results[j].Memory.CreatedAt)
	})

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}

// lexicalScore counts query-term occurrences in the memory content,
// case-insensitively, normalized by term count so a long query doesn't
// automatically dominate a short one.
func lexicalScore(content string, terms []string) float64 {
	if len(terms) == 0 {
		return 0
	}
	lower := strings.ToLower(content)
	var hits int
	for _, term := range terms {
		if strings.Contains(lower, term) {
			hits++
		}
	}
	return float64(hits) / float64(len(terms)) * 10
}

// kindScore weights a memory's kind priority heavier than lexical match
// alone would, so a remember_important fact with a weak textual match
// still outranks a daily_log with a strong one (§4.7's stated ordering).
func kindScore(kind models.MemoryKind) float64 {
	return float64(kind.Priority()) * 2
}

// recencyScore decays linearly over 30 days, giving newer memories a
// small edge when lexical and kind scores tie.
func recencyScore(createdAt, now time.Time) float64 {
	age := now.Sub(createdAt).Hours() / 24
	const window = 30.0
	if age >= window {
		return 0
	}
	return (window - age) / window
}
