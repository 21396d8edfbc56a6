// Package memory implements ShortTermMemory (per-session FIFO with TTL)
// and LongTermMemory (embedding-ranked search with a keyword fallback).
package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sena-run/core/pkg/models"
)

// Store is the narrow storage dependency both memory types need.
// Satisfied by *storage.Store.
type Store interface {
	Insert(ctx context.Context, table string, columns map[string]any) (int64, error)
	Execute(ctx context.Context, stmt string, args ...any) (int64, error)
	FetchOne(ctx context.Context, query string, args []any, fn func(*sql.Row) error) error
	FetchAll(ctx context.Context, query string, args []any, fn func(*sql.Rows) error) error
}

// ShortTermMemory is a per-session FIFO buffer with TTL eviction.
type ShortTermMemory struct {
	store       Store
	maxMessages int
	ttl         time.Duration
	locks       *sessionLocks
}

// NewShortTerm creates a ShortTermMemory backed by store.
func NewShortTerm(store Store, maxMessages int, ttl time.Duration) *ShortTermMemory {
	return &ShortTermMemory{
		store:       store,
		maxMessages: maxMessages,
		ttl:         ttl,
		locks:       newSessionLocks(),
	}
}

// Add appends an item, then evicts expired items, then enforces
// size <= maxMessages by dropping from the head.
func (m *ShortTermMemory) Add(ctx context.Context, sessionID, content string, role models.MessageRole, metadata map[string]any) (models.ShortTermItem, error) {
	lock := m.locks.get(sessionID)
	lock.Lock()
	defer lock.Unlock()

	now := time.Now().UTC()
	expiresAt := now.Add(m.ttl)

	metaJSON, err := encodeMetadata(metadata)
	if err != nil {
		return models.ShortTermItem{}, err
	}

	if _, err := m.store.Insert(ctx, "short_term_memory", map[string]any{
		"session_id": sessionID,
		"role":       string(role),
		"content":    content,
		"created_at": now,
		"expires_at": expiresAt,
		"metadata":   metaJSON,
	}); err != nil {
		return models.ShortTermItem{}, fmt.Errorf("inserting short-term item: %w", err)
	}

	if _, err := m.store.Execute(ctx,
		"DELETE FROM short_term_memory WHERE session_id = ? AND expires_at < ?",
		sessionID, now,
	); err != nil {
		return models.ShortTermItem{}, fmt.Errorf("evicting expired short-term items: %w", err)
	}

	if _, err := m.store.Execute(ctx, `DELETE FROM short_term_memory WHERE session_id = ? AND id NOT IN (
		SELECT id FROM short_term_memory WHERE session_id = ? ORDER BY created_at DESC, id DESC LIMIT ?
	)`, sessionID, sessionID, m.maxMessages); err != nil {
		return models.ShortTermItem{}, fmt.Errorf("enforcing short-term capacity: %w", err)
	}

	return models.ShortTermItem{
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		CreatedAt: now,
		ExpiresAt: expiresAt,
		Metadata:  metadata,
	}, nil
}

// GetAll evicts expired items and returns the remainder in insertion
// order.
func (m *ShortTermMemory) GetAll(ctx context.Context, sessionID string) ([]models.ShortTermItem, error) {
	now := time.Now().UTC()
	if _, err := m.store.Execute(ctx,
		"DELETE FROM short_term_memory WHERE session_id = ? AND expires_at < ?",
		sessionID, now,
	); err != nil {
		return nil, fmt.Errorf("evicting expired short-term items: %w", err)
	}

	var items []models.ShortTermItem
	err := m.store.FetchAll(ctx,
		"SELECT role, content, created_at, expires_at, metadata FROM short_term_memory WHERE session_id = ? ORDER BY created_at ASC, id ASC",
		[]any{sessionID},
		func(rows *sql.Rows) error {
			var item models.ShortTermItem
			var role string
			var metaJSON sql.NullString
			if err := rows.Scan(&role, &item.Content, &item.CreatedAt, &item.ExpiresAt, &metaJSON); err != nil {
				return err
			}
			item.SessionID = sessionID
			item.Role = models.MessageRole(role)
			item.Metadata = decodeMetadata(metaJSON)
			items = append(items, item)
			return nil
		},
	)
	if err != nil {
		return nil, fmt.Errorf("fetching short-term items: %w", err)
	}
	return items, nil
}

// GetContext formats the newest limit items (or all, when limit <= 0) as
// "ROLE: content" lines, oldest first.
func (m *ShortTermMemory) GetContext(ctx context.Context, sessionID string, limit int) (string, error) {
	items, err := m.GetAll(ctx, sessionID)
	if err != nil {
		return "", err
	}

	if limit > 0 && len(items) > limit {
		items = items[len(items)-limit:]
	}

	lines := make([]string, 0, len(items))
	for _, item := range items {
		lines = append(lines, fmt.Sprintf("%s: %s", strings.ToUpper(string(item.Role)), item.Content))
	}
	return strings.Join(lines, "\n"), nil
}

// Clear removes every item for sessionID and returns the count removed.
func (m *ShortTermMemory) Clear(ctx context.Context, sessionID string) (int64, error) {
	lock := m.locks.get(sessionID)
	lock.Lock()
	defer lock.Unlock()

	count, err := m.store.Execute(ctx, "DELETE FROM short_term_memory WHERE session_id = ?", sessionID)
	if err != nil {
		return 0, fmt.Errorf("clearing short-term memory: %w", err)
	}
	return count, nil
}

func encodeMetadata(metadata map[string]any) (any, error) {
	if len(metadata) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("encoding metadata: %w", err)
	}
	return string(data), nil
}

func decodeMetadata(raw sql.NullString) map[string]any {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(raw.String), &out); err != nil {
		return nil
	}
	return out
}
