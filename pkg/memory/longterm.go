package memory

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sena-run/core/pkg/models"
)

// Embedder computes a query embedding. Satisfied by *modelclient.Client;
// may be nil when no embedding model is configured, in which case search
// always uses the keyword fallback.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

const minCosineSimilarity = 0.30

// LongTermMemory is the embedding-ranked, keyword-fallback fact store.
type LongTermMemory struct {
	store     Store
	embedder  Embedder
	dimension int
}

// NewLongTerm creates a LongTermMemory backed by store. embedder may be
// nil. dimension is the configured embedding width (memory.embeddings.
// dimension); stored vectors that decode to a different width are
// logged and dropped rather than silently fed into cosine similarity.
// Pass 0 to skip the check.
func NewLongTerm(store Store, embedder Embedder, dimension int) *LongTermMemory {
	return &LongTermMemory{store: store, embedder: embedder, dimension: dimension}
}

// Add persists a new fact and returns its id and creation time.
func (m *LongTermMemory) Add(ctx context.Context, content string, metadata map[string]any, embedding []float32) (models.LongTermMemory, error) {
	id := uuid.New().String()
	now := time.Now().UTC()
	category, importance := extractCategoryImportance(metadata)

	metaJSON, err := encodeMetadata(metadata)
	if err != nil {
		return models.LongTermMemory{}, err
	}

	columns := map[string]any{
		"id":           id,
		"content":      content,
		"category":     category,
		"importance":   importance,
		"created_at":   now,
		"updated_at":   now,
		"access_count": 0,
		"metadata":     metaJSON,
	}
	if blob := encodeVector(embedding); blob != nil {
		columns["embedding"] = blob
	}

	if _, err := m.store.Insert(ctx, "long_term_memory", columns); err != nil {
		return models.LongTermMemory{}, fmt.Errorf("inserting long-term memory: %w", err)
	}

	return models.LongTermMemory{
		ID:         id,
		Content:    content,
		Category:   category,
		Importance: importance,
		Embedding:  embedding,
		CreatedAt:  now,
		UpdatedAt:  now,
		Metadata:   metadata,
	}, nil
}

// Search ranks stored memories against query. When an embedding is
// available (supplied or computed), ranking is cosine similarity over
// every embedded row; otherwise it falls back to a keyword LIKE scan
// with a static relevance of 0.5. Matching rows have their access
// counters bumped.
func (m *LongTermMemory) Search(ctx context.Context, query string, k int, metadataFilter map[string]string, queryEmbedding []float32) ([]models.LongTermMemory, error) {
	embedding := queryEmbedding
	if len(embedding) == 0 && m.embedder != nil {
		if computed, err := m.embedder.Embed(ctx, query); err == nil {
			embedding = computed
		}
	}

	var results []models.LongTermMemory
	var err error
	if len(embedding) > 0 {
		results, err = m.searchByEmbedding(ctx, embedding, k, metadataFilter)
	} else {
		results, err = m.searchByKeyword(ctx, query, k, metadataFilter)
	}
	if err != nil {
		return nil, err
	}

	m.bumpAccess(ctx, results)
	return results, nil
}

func (m *LongTermMemory) searchByEmbedding(ctx context.Context, queryEmbedding []float32, k int, metadataFilter map[string]string) ([]models.LongTermMemory, error) {
	var candidates []models.LongTermMemory

	err := m.store.FetchAll(ctx,
		`SELECT id, content, category, importance, embedding, created_at, updated_at, access_count, last_accessed, metadata
		 FROM long_term_memory WHERE embedding IS NOT NULL`,
		nil,
		func(rows *sql.Rows) error {
			mem, embeddingBlob, err := scanLongTermRow(rows)
			if err != nil {
				return err
			}
			mem.Embedding = decodeVector(embeddingBlob, m.dimension)

			if !matchesMetadataFilter(mem.Metadata, metadataFilter) {
				return nil
			}

			similarity := cosineSimilarity(queryEmbedding, mem.Embedding)
			if similarity < minCosineSimilarity {
				return nil
			}
			mem.Relevance = similarity
			candidates = append(candidates, mem)
			return nil
		},
	)
	if err != nil {
		return nil, fmt.Errorf("searching long-term memory by embedding: %w", err)
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Relevance > candidates[j].Relevance })
	if k > 0 && len(candidates) > k {
		candidates = candidates[:k]
	}
	return candidates, nil
}

func (m *LongTermMemory) searchByKeyword(ctx context.Context, query string, k int, metadataFilter map[string]string) ([]models.LongTermMemory, error) {
	keywords := extractKeywords(query)
	if len(keywords) == 0 {
		return nil, nil
	}

	clauses := make([]string, 0, len(keywords))
	args := make([]any, 0, len(keywords))
	for _, kw := range keywords {
		clauses = append(clauses, "content LIKE ?")
		args = append(args, "%"+kw+"%")
	}

	sqlQuery := fmt.Sprintf(
		`SELECT id, content, category, importance, embedding, created_at, updated_at, access_count, last_accessed, metadata
		 FROM long_term_memory WHERE %s ORDER BY created_at DESC`,
		strings.Join(clauses, " OR "),
	)

	var results []models.LongTermMemory
	err := m.store.FetchAll(ctx, sqlQuery, args, func(rows *sql.Rows) error {
		mem, _, err := scanLongTermRow(rows)
		if err != nil {
			return err
		}
		if !matchesMetadataFilter(mem.Metadata, metadataFilter) {
			return nil
		}
		mem.Relevance = 0.5
		results = append(results, mem)
		if k > 0 && len(results) >= k {
			return errStopFetch
		}
		return nil
	})
	if err != nil && err != errStopFetch {
		return nil, fmt.Errorf("searching long-term memory by keyword: %w", err)
	}
	return results, nil
}

// errStopFetch is a sentinel used internally to short-circuit FetchAll
// once k rows have been collected; it never escapes this package.
var errStopFetch = fmt.Errorf("memory: stop fetch")

// Recent returns the most recently created memories, each with relevance
// 1.0.
func (m *LongTermMemory) Recent(ctx context.Context, limit int) ([]models.LongTermMemory, error) {
	var results []models.LongTermMemory
	err := m.store.FetchAll(ctx,
		`SELECT id, content, category, importance, embedding, created_at, updated_at, access_count, last_accessed, metadata
		 FROM long_term_memory ORDER BY created_at DESC LIMIT ?`,
		[]any{limit},
		func(rows *sql.Rows) error {
			mem, embeddingBlob, err := scanLongTermRow(rows)
			if err != nil {
				return err
			}
			mem.Embedding = decodeVector(embeddingBlob, m.dimension)
			mem.Relevance = 1.0
			results = append(results, mem)
			return nil
		},
	)
	if err != nil {
		return nil, fmt.Errorf("fetching recent long-term memory: %w", err)
	}
	return results, nil
}

// Update changes content and/or metadata for id. Returns false if no row
// matched.
func (m *LongTermMemory) Update(ctx context.Context, id string, content *string, metadata map[string]any) (bool, error) {
	sets := []string{"updated_at = ?"}
	args := []any{time.Now().UTC()}

	if content != nil {
		sets = append(sets, "content = ?")
		args = append(args, *content)
	}
	if metadata != nil {
		metaJSON, err := encodeMetadata(metadata)
		if err != nil {
			return false, err
		}
		sets = append(sets, "metadata = ?")
		args = append(args, metaJSON)
	}
	args = append(args, id)

	rows, err := m.store.Execute(ctx,
		fmt.Sprintf("UPDATE long_term_memory SET %s WHERE id = ?", strings.Join(sets, ", ")),
		args...,
	)
	if err != nil {
		return false, fmt.Errorf("updating long-term memory: %w", err)
	}
	return rows > 0, nil
}

// Delete removes id. Returns false if no row matched.
func (m *LongTermMemory) Delete(ctx context.Context, id string) (bool, error) {
	rows, err := m.store.Execute(ctx, "DELETE FROM long_term_memory WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("deleting long-term memory: %w", err)
	}
	return rows > 0, nil
}

// Stats summarizes the long-term store.
type Stats struct {
	Total        int                     `json:"total"`
	MostAccessed []models.LongTermMemory `json:"most_accessed"`
	MostRecent   []models.LongTermMemory `json:"most_recent"`
}

// Stats reports totals and samples of most-accessed / most-recent
// entries.
func (m *LongTermMemory) Stats(ctx context.Context) (Stats, error) {
	var total int
	if err := m.store.FetchOne(ctx, "SELECT COUNT(*) FROM long_term_memory", nil,
		func(row *sql.Row) error { return row.Scan(&total) },
	); err != nil {
		return Stats{}, fmt.Errorf("counting long-term memory: %w", err)
	}

	mostAccessed, err := m.sampleBy(ctx, "access_count DESC", 5)
	if err != nil {
		return Stats{}, err
	}
	mostRecent, err := m.Recent(ctx, 5)
	if err != nil {
		return Stats{}, err
	}

	return Stats{Total: total, MostAccessed: mostAccessed, MostRecent: mostRecent}, nil
}

func (m *LongTermMemory) sampleBy(ctx context.Context, orderBy string, limit int) ([]models.LongTermMemory, error) {
	var results []models.LongTermMemory
	query := fmt.Sprintf(
		`SELECT id, content, category, importance, embedding, created_at, updated_at, access_count, last_accessed, metadata
		 FROM long_term_memory ORDER BY %s LIMIT ?`, orderBy,
	)
	err := m.store.FetchAll(ctx, query, []any{limit}, func(rows *sql.Rows) error {
		mem, embeddingBlob, err := scanLongTermRow(rows)
		if err != nil {
			return err
		}
		mem.Embedding = decodeVector(embeddingBlob, m.dimension)
		results = append(results, mem)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("sampling long-term memory: %w", err)
	}
	return results, nil
}

func (m *LongTermMemory) bumpAccess(ctx context.Context, results []models.LongTermMemory) {
	now := time.Now().UTC()
	for _, mem := range results {
		_, _ = m.store.Execute(ctx,
			"UPDATE long_term_memory SET access_count = access_count + 1, last_accessed = ? WHERE id = ?",
			now, mem.ID,
		)
	}
}

func scanLongTermRow(rows *sql.Rows) (models.LongTermMemory, []byte, error) {
	var mem models.LongTermMemory
	var category sql.NullString
	var embeddingBlob []byte
	var lastAccessed sql.NullTime
	var metaJSON sql.NullString

	if err := rows.Scan(
		&mem.ID, &mem.Content, &category, &mem.Importance, &embeddingBlob,
		&mem.CreatedAt, &mem.UpdatedAt, &mem.AccessCount, &lastAccessed, &metaJSON,
	); err != nil {
		return models.LongTermMemory{}, nil, err
	}

	mem.Category = category.String
	if lastAccessed.Valid {
		mem.LastAccessed = lastAccessed.Time
	}
	mem.Metadata = decodeMetadata(metaJSON)

	return mem, embeddingBlob, nil
}

func matchesMetadataFilter(metadata map[string]any, filter map[string]string) bool {
	for key, want := range filter {
		got, ok := metadata[key]
		if !ok {
			return false
		}
		if fmt.Sprintf("%v", got) != want {
			return false
		}
	}
	return true
}

func extractCategoryImportance(metadata map[string]any) (string, int) {
	category := ""
	importance := 5

	if metadata == nil {
		return category, importance
	}
	if v, ok := metadata["category"].(string); ok {
		category = v
	}
	switch v := metadata["importance"].(type) {
	case int:
		importance = v
	case float64:
		importance = int(v)
	}
	return category, importance
}
