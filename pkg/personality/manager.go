// Package personality maintains personality fragments — facts the user
// stated explicitly or the runtime inferred from conversation — and
// composes the block of text inserted into every LLM system prompt.
package personality

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sena-run/core/pkg/config"
	"github.com/sena-run/core/pkg/models"
	"github.com/sena-run/core/pkg/modelclient"
	"github.com/sena-run/core/pkg/registry"
)

const placeholderBlock = "I'm still learning about this user — no personality facts recorded yet."

// Store is the narrow storage dependency this package needs.
type Store interface {
	Insert(ctx context.Context, table string, columns map[string]any) (int64, error)
	Execute(ctx context.Context, stmt string, args ...any) (int64, error)
	FetchOne(ctx context.Context, query string, args []any, fn func(*sql.Row) error) error
	FetchAll(ctx context.Context, query string, args []any, fn func(*sql.Rows) error) error
}

// ModelSource resolves the fast-slot client used for inference and
// compression. Satisfied by *registry.Registry.
type ModelSource interface {
	GetClient(ctx context.Context, slot config.SlotName) (registry.Client, error)
}

// Manager owns the fragment lifecycle and the composed block cache.
type Manager struct {
	store  Store
	models ModelSource
	cfg    config.PersonalityConfig
	cache  *blockCache

	onUpdate func(models.PersonalityFragment, string)
}

// New creates a Manager. models may be nil, in which case
// InferFromConversation and compression are no-ops.
func New(store Store, modelSource ModelSource, cfg config.PersonalityConfig) *Manager {
	return &Manager{store: store, models: modelSource, cfg: cfg, cache: newBlockCache()}
}

// OnUpdate registers a callback invoked whenever a fragment is created,
// approved, rejected, edited, or deleted — the personality-update
// broadcast hook.
func (m *Manager) OnUpdate(fn func(models.PersonalityFragment, string)) {
	m.onUpdate = fn
}

func (m *Manager) notify(fragment models.PersonalityFragment, action string) {
	if m.onUpdate != nil {
		m.onUpdate(fragment, action)
	}
}

// StoreExplicit records a user-asserted fact. Explicit fragments are
// always created approved with full confidence.
func (m *Manager) StoreExplicit(ctx context.Context, content, category, source string, metadata map[string]any) (models.PersonalityFragment, error) {
	now := time.Now().UTC()
	fragment := models.PersonalityFragment{
		ID:         uuid.New().String(),
		Content:    content,
		Kind:       models.FragmentExplicit,
		Category:   category,
		Confidence: 1.0,
		Status:     models.FragmentApproved,
		Source:     source,
		Version:    1,
		CreatedAt:  now,
		UpdatedAt:  now,
		ApprovedAt: &now,
		Metadata:   metadata,
	}

	if err := m.insertFragment(ctx, fragment); err != nil {
		return models.PersonalityFragment{}, err
	}
	if err := m.appendAudit(ctx, fragment.ID, "explicit_stored", "", fragment.Content, "", fragment.Status, fragment.Confidence, "", nil); err != nil {
		return models.PersonalityFragment{}, err
	}

	m.cache.invalidate()
	m.notify(fragment, "explicit_stored")
	return fragment, nil
}

// InferFromConversation asks the fast model to extract candidate
// personality facts from text. Returns the fragments that were
// persisted (pending or auto-approved).
func (m *Manager) InferFromConversation(ctx context.Context, text, source string) ([]models.PersonalityFragment, error) {
	if !m.cfg.InferentialLearningEnabled || m.models == nil {
		return nil, nil
	}

	approvedContents, err := m.approvedContents(ctx)
	if err != nil {
		return nil, err
	}

	client, err := m.models.GetClient(ctx, config.SlotFast)
	if err != nil {
		return nil, fmt.Errorf("acquiring fast model for inference: %w", err)
	}

	prompt := inferencePrompt(text, approvedContents)
	maxTokens := 512
	resp, err := client.Generate(ctx, []models.Message{{Role: models.RoleUser, Content: prompt}}, modelclient.Overrides{MaxTokens: &maxTokens})
	if err != nil {
		return nil, fmt.Errorf("running inference generation: %w", err)
	}

	candidates := parseInferenceCandidates(resp.Content)
	if len(candidates) == 0 {
		return nil, nil
	}

	anyApproved := false
	stored := make([]models.PersonalityFragment, 0, len(candidates))
	now := time.Now().UTC()

	for _, c := range candidates {
		status := models.FragmentPending
		var approvedAt *time.Time
		if m.cfg.AutoApproveEnabled && !m.cfg.InferentialLearningRequiresApproval && c.Confidence >= m.cfg.AutoApproveThreshold {
			status = models.FragmentApproved
			approvedAt = &now
			anyApproved = true
		}

		fragment := models.PersonalityFragment{
			ID:         uuid.New().String(),
			Content:    c.Content,
			Kind:       models.FragmentInferred,
			Category:   c.Category,
			Confidence: c.Confidence,
			Status:     status,
			Source:     source,
			Version:    1,
			CreatedAt:  now,
			UpdatedAt:  now,
			ApprovedAt: approvedAt,
		}

		if err := m.insertFragment(ctx, fragment); err != nil {
			return nil, err
		}
		if err := m.appendAudit(ctx, fragment.ID, "inferred", "", fragment.Content, "", fragment.Status, fragment.Confidence, "", nil); err != nil {
			return nil, err
		}
		stored = append(stored, fragment)
		m.notify(fragment, "inferred")
	}

	if anyApproved {
		m.cache.invalidate()
	}
	return stored, nil
}

// ApproveFragment transitions a pending fragment to approved. Already-
// approved fragments are a no-op: it returns false and neither touches
// the row nor appends a second "approved" audit entry.
func (m *Manager) ApproveFragment(ctx context.Context, id, reason string) (bool, error) {
	fragment, err := m.getFragment(ctx, id)
	if err != nil {
		return false, err
	}
	if fragment.Status == models.FragmentApproved {
		return false, nil
	}

	oldStatus := fragment.Status
	now := time.Now().UTC()
	fragment.Status = models.FragmentApproved
	fragment.UpdatedAt = now
	fragment.ApprovedAt = &now

	if _, err := m.store.Execute(ctx,
		"UPDATE personality_fragments SET status = ?, updated_at = ?, approved_at = ? WHERE id = ?",
		string(fragment.Status), fragment.UpdatedAt, fragment.ApprovedAt, id,
	); err != nil {
		return false, fmt.Errorf("approving fragment: %w", err)
	}
	if err := m.appendAudit(ctx, id, "approved", fragment.Content, fragment.Content, oldStatus, fragment.Status, fragment.Confidence, reason, nil); err != nil {
		return false, err
	}

	m.cache.invalidate()
	m.notify(fragment, "approved")
	return true, nil
}

// RejectFragment transitions a pending fragment to rejected. Already-
// rejected fragments are a no-op: it returns false and neither touches
// the row nor appends a second "rejected" audit entry.
func (m *Manager) RejectFragment(ctx context.Context, id, reason string) (bool, error) {
	fragment, err := m.getFragment(ctx, id)
	if err != nil {
		return false, err
	}
	if fragment.Status == models.FragmentRejected {
		return false, nil
	}

	oldStatus := fragment.Status
	now := time.Now().UTC()
	fragment.Status = models.FragmentRejected
	fragment.UpdatedAt = now

	if _, err := m.store.Execute(ctx,
		"UPDATE personality_fragments SET status = ?, updated_at = ? WHERE id = ?",
		string(fragment.Status), fragment.UpdatedAt, id,
	); err != nil {
		return false, fmt.Errorf("rejecting fragment: %w", err)
	}
	if err := m.appendAudit(ctx, id, "rejected", fragment.Content, fragment.Content, oldStatus, fragment.Status, fragment.Confidence, reason, nil); err != nil {
		return false, err
	}

	m.cache.invalidate()
	m.notify(fragment, "rejected")
	return true, nil
}

// EditAndApprove rewrites a fragment's content and approves it in one
// step.
func (m *Manager) EditAndApprove(ctx context.Context, id, newContent, reason string) error {
	fragment, err := m.getFragment(ctx, id)
	if err != nil {
		return err
	}

	oldContent := fragment.Content
	oldStatus := fragment.Status
	now := time.Now().UTC()
	fragment.Content = newContent
	fragment.Status = models.FragmentApproved
	fragment.UpdatedAt = now
	fragment.ApprovedAt = &now
	fragment.Version++

	if _, err := m.store.Execute(ctx,
		"UPDATE personality_fragments SET content = ?, status = ?, updated_at = ?, approved_at = ?, version = ? WHERE id = ?",
		fragment.Content, string(fragment.Status), fragment.UpdatedAt, fragment.ApprovedAt, fragment.Version, id,
	); err != nil {
		return fmt.Errorf("editing fragment: %w", err)
	}
	if err := m.appendAudit(ctx, id, "edited", oldContent, newContent, oldStatus, fragment.Status, fragment.Confidence, reason, nil); err != nil {
		return err
	}

	m.cache.invalidate()
	m.notify(fragment, "edited")
	return nil
}

// DeleteFragment removes a fragment permanently.
func (m *Manager) DeleteFragment(ctx context.Context, id, reason string) error {
	fragment, err := m.getFragment(ctx, id)
	if err != nil {
		return err
	}

	if _, err := m.store.Execute(ctx, "DELETE FROM personality_fragments WHERE id = ?", id); err != nil {
		return fmt.Errorf("deleting fragment: %w", err)
	}
	if err := m.appendAudit(ctx, id, "deleted", fragment.Content, "", fragment.Status, "", fragment.Confidence, reason, nil); err != nil {
		return err
	}

	m.cache.invalidate()
	m.notify(fragment, "deleted")
	return nil
}

// GetPersonalityBlock returns the cached block, rebuilding it on a cache
// miss or when forceRefresh is set.
func (m *Manager) GetPersonalityBlock(ctx context.Context, forceRefresh bool) (string, error) {
	if !forceRefresh {
		if block, ok := m.cache.get(); ok {
			return block, nil
		}
	}

	block, err := m.buildBlock(ctx)
	if err != nil {
		return "", err
	}
	m.cache.set(block)
	return block, nil
}

// GetPreviewBlock always rebuilds, bypassing the cache.
func (m *Manager) GetPreviewBlock(ctx context.Context) (string, error) {
	return m.buildBlock(ctx)
}

func (m *Manager) buildBlock(ctx context.Context) (string, error) {
	fragments, err := m.approvedFragments(ctx, 2*m.cfg.MaxFragmentsInPrompt)
	if err != nil {
		return "", err
	}
	if len(fragments) == 0 {
		return placeholderBlock, nil
	}

	if len(fragments) > m.cfg.CompressThreshold && m.models != nil {
		if compressed, err := m.compress(ctx, fragments); err == nil {
			return compressed, nil
		}
		limit := 20
		if limit > len(fragments) {
			limit = len(fragments)
		}
		return bulletList(fragments[:limit]), nil
	}

	limit := m.cfg.MaxFragmentsInPrompt
	if limit > len(fragments) {
		limit = len(fragments)
	}
	return bulletList(fragments[:limit]), nil
}

func (m *Manager) compress(ctx context.Context, fragments []models.PersonalityFragment) (string, error) {
	client, err := m.models.GetClient(ctx, config.SlotFast)
	if err != nil {
		return "", err
	}

	prompt := compressionPrompt(fragments, m.cfg.PersonalityTokenBudget)
	maxTokens := m.cfg.PersonalityTokenBudget
	resp, err := client.Generate(ctx, []models.Message{{Role: models.RoleUser, Content: prompt}}, modelclient.Overrides{MaxTokens: &maxTokens})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}

func bulletList(fragments []models.PersonalityFragment) string {
	lines := make([]string, 0, len(fragments))
	for _, f := range fragments {
		lines = append(lines, "- "+f.Content)
	}
	return strings.Join(lines, "\n")
}

func (m *Manager) insertFragment(ctx context.Context, f models.PersonalityFragment) error {
	metaJSON, err := encodeJSON(f.Metadata)
	if err != nil {
		return err
	}
	_, err = m.store.Insert(ctx, "personality_fragments", map[string]any{
		"id":          f.ID,
		"content":     f.Content,
		"kind":        string(f.Kind),
		"category":    f.Category,
		"confidence":  f.Confidence,
		"status":      string(f.Status),
		"source":      f.Source,
		"version":     f.Version,
		"created_at":  f.CreatedAt,
		"updated_at":  f.UpdatedAt,
		"approved_at": f.ApprovedAt,
		"metadata":    metaJSON,
	})
	if err != nil {
		return fmt.Errorf("inserting fragment: %w", err)
	}
	return nil
}

func (m *Manager) getFragment(ctx context.Context, id string) (models.PersonalityFragment, error) {
	var f models.PersonalityFragment
	var kind, status string
	var category, source sql.NullString
	var approvedAt sql.NullTime
	var metaJSON sql.NullString

	err := m.store.FetchOne(ctx,
		`SELECT id, content, kind, category, confidence, status, source, version, created_at, updated_at, approved_at, metadata
		 FROM personality_fragments WHERE id = ?`,
		[]any{id},
		func(row *sql.Row) error {
			return row.Scan(&f.ID, &f.Content, &kind, &category, &f.Confidence, &status, &source, &f.Version, &f.CreatedAt, &f.UpdatedAt, &approvedAt, &metaJSON)
		},
	)
	if err == sql.ErrNoRows {
		return models.PersonalityFragment{}, ErrFragmentNotFound
	}
	if err != nil {
		return models.PersonalityFragment{}, fmt.Errorf("fetching fragment: %w", err)
	}

	f.Kind = models.FragmentKind(kind)
	f.Status = models.FragmentStatus(status)
	f.Category = category.String
	f.Source = source.String
	if approvedAt.Valid {
		f.ApprovedAt = &approvedAt.Time
	}
	if metaJSON.Valid && metaJSON.String != "" {
		var meta map[string]any
		if err := json.Unmarshal([]byte(metaJSON.String), &meta); err == nil {
			f.Metadata = meta
		}
	}
	return f, nil
}

func (m *Manager) approvedFragments(ctx context.Context, limit int) ([]models.PersonalityFragment, error) {
	var fragments []models.PersonalityFragment
	err := m.store.FetchAll(ctx,
		`SELECT id, content, kind, category, confidence, status, source, version, created_at, updated_at, approved_at, metadata
		 FROM personality_fragments WHERE status = ? ORDER BY created_at DESC LIMIT ?`,
		[]any{string(models.FragmentApproved), limit},
		func(rows *sql.Rows) error {
			var f models.PersonalityFragment
			var kind, status string
			var category, source sql.NullString
			var approvedAt sql.NullTime
			var metaJSON sql.NullString

			if err := rows.Scan(&f.ID, &f.Content, &kind, &category, &f.Confidence, &status, &source, &f.Version, &f.CreatedAt, &f.UpdatedAt, &approvedAt, &metaJSON); err != nil {
				return err
			}
			f.Kind = models.FragmentKind(kind)
			f.Status = models.FragmentStatus(status)
			f.Category = category.String
			f.Source = source.String
			if approvedAt.Valid {
				f.ApprovedAt = &approvedAt.Time
			}
			fragments = append(fragments, f)
			return nil
		},
	)
	if err != nil {
		return nil, fmt.Errorf("fetching approved fragments: %w", err)
	}
	return fragments, nil
}

func (m *Manager) approvedContents(ctx context.Context) ([]string, error) {
	fragments, err := m.approvedFragments(ctx, 1000)
	if err != nil {
		return nil, err
	}
	contents := make([]string, len(fragments))
	for i, f := range fragments {
		contents[i] = f.Content
	}
	return contents, nil
}

func (m *Manager) appendAudit(ctx context.Context, fragmentID, action, oldContent, newContent string, oldStatus, newStatus models.FragmentStatus, confidence float64, reason string, metadata map[string]any) error {
	metaJSON, err := encodeJSON(metadata)
	if err != nil {
		return err
	}
	_, err = m.store.Insert(ctx, "personality_audit", map[string]any{
		"fragment_id": fragmentID,
		"action":      action,
		"old_content": oldContent,
		"new_content": newContent,
		"old_status":  string(oldStatus),
		"new_status":  string(newStatus),
		"confidence":  confidence,
		"reason":      reason,
		"timestamp":   time.Now().UTC(),
		"metadata":    metaJSON,
	})
	if err != nil {
		return fmt.Errorf("appending audit entry: %w", err)
	}
	return nil
}

func encodeJSON(v map[string]any) (any, error) {
	if len(v) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding metadata: %w", err)
	}
	return string(data), nil
}
