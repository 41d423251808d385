package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/agnt-run/agentfs/internal/dbconfig"
	"github.com/agnt-run/agentfs/internal/kv"
	"github.com/agnt-run/agentfs/internal/memory/compaction"
	"github.com/agnt-run/agentfs/internal/memory/memtypes"
	"github.com/agnt-run/agentfs/internal/memory/search"
	"github.com/agnt-run/agentfs/internal/memory/tiers"
)

const playbookKeyPrefix = "memory:playbook:"

var playbookCategoryLabels = map[string]string{
	"strategy": "STRATEGIES",
	"mistake":  "MISTAKES TO AVOID",
	"pattern":  "PATTERNS & CONVENTIONS",
}

var playbookCategoryOrder = []string{"strategy", "mistake", "pattern"}

// Playbook is the accumulated-strategy memory provider: durable lessons
// the agent has learned, grouped by category and ranked by score.
type Playbook struct {
	kv     *kv.Store
	tiers  *tiers.Manager
	search *search.Engine
	cfg    dbconfig.PlaybookConfig

	mu             sync.RWMutex
	entries        map[string]memtypes.PlaybookEntry
	currentSession string
}

// NewPlaybook constructs a Playbook provider over the shared subsystems.
func NewPlaybook(kvStore *kv.Store, tierMgr *tiers.Manager, searchEngine *search.Engine, cfg dbconfig.PlaybookConfig) *Playbook {
	return &Playbook{kv: kvStore, tiers: tierMgr, search: searchEngine, cfg: cfg, entries: make(map[string]memtypes.PlaybookEntry)}
}

// Name identifies this provider.
func (p *Playbook) Name() string { return "playbook" }

// OnSessionStart loads every memory:playbook:* entry into the in-memory
// cache and ensures its metadata and FTS index are current.
func (p *Playbook) OnSessionStart(ctx context.Context, sessionID string) error {
	rows, err := p.kv.ListPrefix(ctx, playbookKeyPrefix)
	if err != nil {
		return fmt.Errorf("playbook: load entries: %w", err)
	}

	p.mu.Lock()
	p.currentSession = sessionID
	p.entries = make(map[string]memtypes.PlaybookEntry, len(rows))
	for _, row := range rows {
		var entry memtypes.PlaybookEntry
		if err := json.Unmarshal([]byte(row.Value), &entry); err != nil {
			continue
		}
		p.entries[row.Key] = entry
	}
	p.mu.Unlock()

	for _, row := range rows {
		if err := p.tiers.EnsureMetadata(ctx, row.Key, p.Name(), compaction.ContentHash([]byte(row.Value)), len(row.Value)); err != nil {
			return fmt.Errorf("playbook: ensure metadata %s: %w", row.Key, err)
		}
		if err := p.search.Index(ctx, row.Key, p.Name(), row.Value); err != nil {
			return fmt.Errorf("playbook: index %s: %w", row.Key, err)
		}
	}
	return nil
}

// OnSessionEnd is a no-op for the playbook: it only mutates on reflection.
func (p *Playbook) OnSessionEnd(ctx context.Context, sessionID string) error { return nil }

// ContextForPrompt filters entries with positive score, sorts descending,
// groups into the three labeled sections, and emits up to
// prompt_budget_chars worth of whole entries wrapped in <playbook>.
func (p *Playbook) ContextForPrompt(ctx context.Context, query string) (string, error) {
	scores, err := p.tiers.ScoresForProvider(ctx, p.Name())
	if err != nil {
		return "", fmt.Errorf("playbook: score entries: %w", err)
	}

	p.mu.RLock()
	type scoredLine struct {
		category string
		line     string
		score    float64
	}
	var lines []scoredLine
	for key, entry := range p.entries {
		score := scores[key]
		if score <= 0 {
			continue
		}
		lines = append(lines, scoredLine{category: entry.Category, line: entry.Content, score: score})
	}
	p.mu.RUnlock()

	if len(lines) == 0 {
		return "", nil
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].score > lines[j].score })

	byCategory := make(map[string][]string)
	for _, l := range lines {
		byCategory[l.category] = append(byCategory[l.category], l.line)
	}

	var b strings.Builder
	b.WriteString("<playbook>\n")
	budget := p.cfg.PromptBudgetChars
	used := b.Len()
	for _, cat := range playbookCategoryOrder {
		entries := byCategory[cat]
		if len(entries) == 0 {
			continue
		}
		label := playbookCategoryLabels[cat]
		header := label + ":\n"
		if used+len(header) > budget {
			break
		}
		b.WriteString(header)
		used += len(header)
		for _, e := range entries {
			line := "- " + e + "\n"
			if used+len(line) > budget {
				break
			}
			b.WriteString(line)
			used += len(line)
		}
	}
	b.WriteString("</playbook>")
	return b.String(), nil
}

// Store persists a new playbook entry directly (outside of reflection),
// e.g. for seeding or manual curation.
func (p *Playbook) Store(ctx context.Context, entry any) error {
	pe, ok := entry.(memtypes.PlaybookEntry)
	if !ok {
		return fmt.Errorf("playbook: Store expects memtypes.PlaybookEntry, got %T", entry)
	}
	return p.persist(ctx, pe)
}

func (p *Playbook) persist(ctx context.Context, entry memtypes.PlaybookEntry) error {
	key := playbookKeyPrefix + entry.ID
	if entry.Created == "" {
		entry.Created = memtypes.NowISO()
	}
	entry.Updated = memtypes.NowISO()
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("playbook: marshal %s: %w", entry.ID, err)
	}
	if err := p.kv.Set(ctx, key, string(payload)); err != nil {
		return fmt.Errorf("playbook: persist kv %s: %w", entry.ID, err)
	}
	if err := p.tiers.EnsureMetadata(ctx, key, p.Name(), compaction.ContentHash(payload), len(payload)); err != nil {
		return fmt.Errorf("playbook: ensure metadata %s: %w", entry.ID, err)
	}
	if err := p.search.Index(ctx, key, p.Name(), string(payload)); err != nil {
		return fmt.Errorf("playbook: index %s: %w", entry.ID, err)
	}
	p.mu.Lock()
	p.entries[key] = entry
	p.mu.Unlock()
	return nil
}

// OnReflection bumps helpful/harmful counters for the ids the reflection
// named, then inserts each new sufficiently-confident learning, skipping
// content-duplicate entries and evicting the lowest-scoring entry once
// max_entries is reached.
func (p *Playbook) OnReflection(ctx context.Context, reflection memtypes.Reflection) error {
	for _, id := range reflection.HelpfulIDs {
		if err := p.bumpCounter(ctx, id, "helpful"); err != nil {
			return err
		}
	}
	for _, id := range reflection.HarmfulIDs {
		if err := p.bumpCounter(ctx, id, "harmful"); err != nil {
			return err
		}
	}

	for _, learning := range reflection.Learnings {
		if learning.Confidence < 0.5 {
			continue
		}
		if p.isDuplicate(learning.Content) {
			continue
		}
		if err := p.evictIfFull(ctx); err != nil {
			return err
		}
		entry := memtypes.PlaybookEntry{
			ID:            newEntryID(learning.Content),
			Category:      learning.Category,
			Content:       learning.Content,
			SourceSession: p.currentSession,
		}
		if err := p.persist(ctx, entry); err != nil {
			return err
		}
	}
	return nil
}

func (p *Playbook) bumpCounter(ctx context.Context, id, field string) error {
	key := playbookKeyPrefix + id
	p.mu.RLock()
	entry, ok := p.entries[key]
	p.mu.RUnlock()
	if !ok {
		return nil
	}
	if field == "helpful" {
		entry.Helpful++
	} else {
		entry.Harmful++
	}
	return p.persist(ctx, entry)
}

func (p *Playbook) isDuplicate(content string) bool {
	hash := compaction.ContentHash([]byte(content))
	lower := strings.ToLower(content)
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, e := range p.entries {
		if compaction.ContentHash([]byte(e.Content)) == hash {
			return true
		}
		if strings.ToLower(e.Content) == lower {
			return true
		}
	}
	return false
}

func (p *Playbook) evictIfFull(ctx context.Context) error {
	p.mu.RLock()
	n := len(p.entries)
	p.mu.RUnlock()
	if n < p.cfg.MaxEntries {
		return nil
	}

	scores, err := p.tiers.ScoresForProvider(ctx, p.Name())
	if err != nil {
		return fmt.Errorf("playbook: score for eviction: %w", err)
	}
	var worstKey string
	worstScore := 0.0
	first := true
	p.mu.RLock()
	for key := range p.entries {
		s := scores[key]
		if first || s < worstScore {
			worstScore = s
			worstKey = key
			first = false
		}
	}
	p.mu.RUnlock()
	if worstKey == "" {
		return nil
	}

	if err := p.kv.Delete(ctx, worstKey); err != nil {
		return fmt.Errorf("playbook: evict kv %s: %w", worstKey, err)
	}
	if err := p.tiers.RemoveMetadata(ctx, worstKey); err != nil {
		return fmt.Errorf("playbook: evict metadata %s: %w", worstKey, err)
	}
	if err := p.search.Remove(ctx, worstKey); err != nil {
		return fmt.Errorf("playbook: evict fts %s: %w", worstKey, err)
	}
	p.mu.Lock()
	delete(p.entries, worstKey)
	p.mu.Unlock()
	return nil
}

func newEntryID(content string) string {
	return compaction.ContentHash([]byte(content))[:12]
}
