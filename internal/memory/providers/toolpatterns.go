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

const toolPatternKeyPrefix = "memory:tool_pattern:"

// ToolPatterns is the per-tool usage-pattern memory provider: recurring
// successful usage patterns and recurring failure modes, one record per
// tool name.
type ToolPatterns struct {
	kv     *kv.Store
	tiers  *tiers.Manager
	search *search.Engine
	cfg    dbconfig.ToolPatternsConfig

	mu               sync.Mutex
	sessionRelevant  map[string]bool
}

// NewToolPatterns constructs a ToolPatterns provider over the shared subsystems.
func NewToolPatterns(kvStore *kv.Store, tierMgr *tiers.Manager, searchEngine *search.Engine, cfg dbconfig.ToolPatternsConfig) *ToolPatterns {
	return &ToolPatterns{kv: kvStore, tiers: tierMgr, search: searchEngine, cfg: cfg, sessionRelevant: make(map[string]bool)}
}

// Name identifies this provider.
func (t *ToolPatterns) Name() string { return "tool_patterns" }

// NoteToolUse marks tool as relevant to the current prompt context.
func (t *ToolPatterns) NoteToolUse(tool string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sessionRelevant[tool] = true
}

// OnSessionStart resets the set of tools considered relevant for the
// upcoming context_for_prompt calls.
func (t *ToolPatterns) OnSessionStart(ctx context.Context, sessionID string) error {
	t.mu.Lock()
	t.sessionRelevant = make(map[string]bool)
	t.mu.Unlock()
	return nil
}

// OnSessionEnd is a no-op: tool patterns only mutate on reflection.
func (t *ToolPatterns) OnSessionEnd(ctx context.Context, sessionID string) error { return nil }

func (t *ToolPatterns) load(ctx context.Context, tool string) (memtypes.ToolPattern, bool, error) {
	key := toolPatternKeyPrefix + tool
	value, err := t.kv.Get(ctx, key)
	if err == kv.ErrKeyNotFound {
		return memtypes.ToolPattern{Tool: tool}, false, nil
	}
	if err != nil {
		return memtypes.ToolPattern{}, false, err
	}
	var tp memtypes.ToolPattern
	if err := json.Unmarshal([]byte(value), &tp); err != nil {
		return memtypes.ToolPattern{Tool: tool}, false, nil
	}
	return tp, true, nil
}

func (t *ToolPatterns) persist(ctx context.Context, tp memtypes.ToolPattern) error {
	key := toolPatternKeyPrefix + tp.Tool
	payload, err := json.Marshal(tp)
	if err != nil {
		return fmt.Errorf("tool_patterns: marshal %s: %w", tp.Tool, err)
	}
	if err := t.kv.Set(ctx, key, string(payload)); err != nil {
		return fmt.Errorf("tool_patterns: persist kv %s: %w", tp.Tool, err)
	}
	if err := t.tiers.EnsureMetadata(ctx, key, t.Name(), compaction.ContentHash(payload), len(payload)); err != nil {
		return fmt.Errorf("tool_patterns: ensure metadata %s: %w", tp.Tool, err)
	}
	content := joinCountedText(tp.Patterns) + " " + joinCountedText(tp.CommonErrors)
	if err := t.search.Index(ctx, key, t.Name(), content); err != nil {
		return fmt.Errorf("tool_patterns: index %s: %w", tp.Tool, err)
	}
	return nil
}

func joinCountedText(items []memtypes.CountedText) string {
	parts := make([]string, len(items))
	for i, it := range items {
		parts[i] = it.Text
	}
	return strings.Join(parts, " ")
}

// Store persists a ToolPattern record directly.
func (t *ToolPatterns) Store(ctx context.Context, entry any) error {
	tp, ok := entry.(memtypes.ToolPattern)
	if !ok {
		return fmt.Errorf("tool_patterns: Store expects memtypes.ToolPattern, got %T", entry)
	}
	return t.persist(ctx, tp)
}

// OnReflection folds each tool observation into its tool's pattern record:
// a new pattern string bumps its helpful counter, a new error string bumps
// its frequency counter; already-seen strings just increment.
func (t *ToolPatterns) OnReflection(ctx context.Context, reflection memtypes.Reflection) error {
	byTool := make(map[string][]memtypes.ToolObservation)
	for _, obs := range reflection.ToolObservations {
		byTool[obs.Tool] = append(byTool[obs.Tool], obs)
	}

	for tool, observations := range byTool {
		tp, _, err := t.load(ctx, tool)
		if err != nil {
			return fmt.Errorf("tool_patterns: load %s: %w", tool, err)
		}
		tp.Tool = tool
		for _, obs := range observations {
			if obs.Pattern != "" {
				tp.Patterns = bumpCountedText(tp.Patterns, obs.Pattern)
			}
			if obs.Error != "" {
				tp.CommonErrors = bumpCountedText(tp.CommonErrors, obs.Error)
			}
		}
		if err := t.persist(ctx, tp); err != nil {
			return err
		}
	}
	return nil
}

func bumpCountedText(items []memtypes.CountedText, text string) []memtypes.CountedText {
	for i := range items {
		if items[i].Text == text {
			items[i].Count++
			return items
		}
	}
	return append(items, memtypes.CountedText{Text: text, Count: 1})
}

// ContextForPrompt emits the top 3 patterns and top 2 errors for each
// session-relevant tool, wrapped in <tool_tips>.
func (t *ToolPatterns) ContextForPrompt(ctx context.Context, query string) (string, error) {
	t.mu.Lock()
	tools := make([]string, 0, len(t.sessionRelevant))
	for tool := range t.sessionRelevant {
		tools = append(tools, tool)
	}
	t.mu.Unlock()
	sort.Strings(tools)

	if len(tools) == 0 {
		return "", nil
	}

	var b strings.Builder
	budget := t.cfg.PromptBudgetChars
	b.WriteString("<tool_tips>\n")
	used := b.Len()
	for _, tool := range tools {
		tp, found, err := t.load(ctx, tool)
		if err != nil {
			return "", fmt.Errorf("tool_patterns: load %s: %w", tool, err)
		}
		if !found {
			continue
		}
		patterns := topN(tp.Patterns, 3)
		errors := topN(tp.CommonErrors, 2)
		if len(patterns) == 0 && len(errors) == 0 {
			continue
		}
		header := tool + ":\n"
		if used+len(header) > budget {
			break
		}
		b.WriteString(header)
		used += len(header)
		for _, p := range patterns {
			line := "  + " + p.Text + "\n"
			if used+len(line) > budget {
				goto done
			}
			b.WriteString(line)
			used += len(line)
		}
		for _, e := range errors {
			line := "  ! " + e.Text + "\n"
			if used+len(line) > budget {
				goto done
			}
			b.WriteString(line)
			used += len(line)
		}
	}
done:
	b.WriteString("</tool_tips>")
	return b.String(), nil
}

func topN(items []memtypes.CountedText, n int) []memtypes.CountedText {
	sorted := append([]memtypes.CountedText(nil), items...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Count > sorted[j].Count })
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}
