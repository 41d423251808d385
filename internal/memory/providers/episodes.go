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

const episodeKeyPrefix = "memory:episode:"

// Episodes is the session-history memory provider: a pruned log of past
// sessions, each summarized by the tools used and the outcome.
type Episodes struct {
	kv     *kv.Store
	tiers  *tiers.Manager
	search *search.Engine
	cfg    dbconfig.EpisodesConfig

	mu               sync.Mutex
	sessionTools     map[string]map[string]bool
	sessionDecisions map[string][]string
}

// NewEpisodes constructs an Episodes provider over the shared subsystems.
func NewEpisodes(kvStore *kv.Store, tierMgr *tiers.Manager, searchEngine *search.Engine, cfg dbconfig.EpisodesConfig) *Episodes {
	return &Episodes{
		kv:               kvStore,
		tiers:            tierMgr,
		search:           searchEngine,
		cfg:              cfg,
		sessionTools:     make(map[string]map[string]bool),
		sessionDecisions: make(map[string][]string),
	}
}

// Name identifies this provider.
func (e *Episodes) Name() string { return "episodes" }

// OnSessionStart begins tracking which tools this session uses.
func (e *Episodes) OnSessionStart(ctx context.Context, sessionID string) error {
	e.mu.Lock()
	e.sessionTools[sessionID] = make(map[string]bool)
	delete(e.sessionDecisions, sessionID)
	e.mu.Unlock()
	return nil
}

// NoteToolUse records that tool was used during sessionID, for inclusion
// in the episode summary persisted at session end.
func (e *Episodes) NoteToolUse(sessionID, tool string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sessionTools[sessionID] == nil {
		e.sessionTools[sessionID] = make(map[string]bool)
	}
	e.sessionTools[sessionID][tool] = true
}

// NoteKeyDecision records a notable decision made during sessionID, for
// inclusion in the episode's key_decisions persisted at session end.
func (e *Episodes) NoteKeyDecision(sessionID, decision string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sessionDecisions[sessionID] = append(e.sessionDecisions[sessionID], decision)
}

// OnSessionEnd persists an episode for sessionID if any tool was used,
// then prunes the oldest episode past max_episodes.
func (e *Episodes) OnSessionEnd(ctx context.Context, sessionID string) error {
	e.mu.Lock()
	toolSet := e.sessionTools[sessionID]
	decisions := e.sessionDecisions[sessionID]
	delete(e.sessionTools, sessionID)
	delete(e.sessionDecisions, sessionID)
	e.mu.Unlock()

	if len(toolSet) == 0 {
		return nil
	}
	tools := make([]string, 0, len(toolSet))
	for t := range toolSet {
		tools = append(tools, t)
	}
	sort.Strings(tools)

	episode := memtypes.Episode{
		SessionID:    sessionID,
		Summary:      "used " + strings.Join(tools, ", "),
		Tools:        tools,
		KeyDecisions: decisions,
		Outcome:      "completed",
	}
	if err := e.Store(ctx, episode); err != nil {
		return err
	}
	return e.pruneIfOverLimit(ctx)
}

// Store persists one episode.
func (e *Episodes) Store(ctx context.Context, entry any) error {
	ep, ok := entry.(memtypes.Episode)
	if !ok {
		return fmt.Errorf("episodes: Store expects memtypes.Episode, got %T", entry)
	}
	key := episodeKeyPrefix + ep.SessionID

	if ep.Created == "" {
		ep.Created = memtypes.NowISO()
	}

	payload, err := json.Marshal(ep)
	if err != nil {
		return fmt.Errorf("episodes: marshal %s: %w", ep.SessionID, err)
	}
	if err := e.kv.Set(ctx, key, string(payload)); err != nil {
		return fmt.Errorf("episodes: persist kv %s: %w", ep.SessionID, err)
	}
	if err := e.tiers.EnsureMetadata(ctx, key, e.Name(), compaction.ContentHash(payload), len(payload)); err != nil {
		return fmt.Errorf("episodes: ensure metadata %s: %w", ep.SessionID, err)
	}
	if err := e.search.Index(ctx, key, e.Name(), ep.Summary); err != nil {
		return fmt.Errorf("episodes: index %s: %w", ep.SessionID, err)
	}
	return nil
}

func (e *Episodes) pruneIfOverLimit(ctx context.Context) error {
	rows, err := e.kv.ListPrefix(ctx, episodeKeyPrefix)
	if err != nil {
		return fmt.Errorf("episodes: list for pruning: %w", err)
	}
	if len(rows) <= e.cfg.MaxEpisodes {
		return nil
	}

	type decoded struct {
		key     string
		created string
	}
	var all []decoded
	for _, row := range rows {
		var ep memtypes.Episode
		if err := json.Unmarshal([]byte(row.Value), &ep); err != nil {
			continue
		}
		all = append(all, decoded{key: row.Key, created: ep.Created})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].created < all[j].created })

	toEvict := len(all) - e.cfg.MaxEpisodes
	for i := 0; i < toEvict && i < len(all); i++ {
		key := all[i].key
		if err := e.kv.Delete(ctx, key); err != nil {
			return fmt.Errorf("episodes: evict kv %s: %w", key, err)
		}
		if err := e.tiers.RemoveMetadata(ctx, key); err != nil {
			return fmt.Errorf("episodes: evict metadata %s: %w", key, err)
		}
		if err := e.search.Remove(ctx, key); err != nil {
			return fmt.Errorf("episodes: evict fts %s: %w", key, err)
		}
	}
	return nil
}

// ContextForPrompt emits up to 5 most recent episodes wrapped in
// <past_sessions>.
func (e *Episodes) ContextForPrompt(ctx context.Context, query string) (string, error) {
	rows, err := e.kv.ListPrefix(ctx, episodeKeyPrefix)
	if err != nil {
		return "", fmt.Errorf("episodes: list for prompt: %w", err)
	}

	type decoded struct {
		ep memtypes.Episode
	}
	var all []decoded
	for _, row := range rows {
		var ep memtypes.Episode
		if err := json.Unmarshal([]byte(row.Value), &ep); err != nil {
			continue
		}
		all = append(all, decoded{ep: ep})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ep.Created > all[j].ep.Created })
	if len(all) > 5 {
		all = all[:5]
	}
	if len(all) == 0 {
		return "", nil
	}

	var b strings.Builder
	budget := e.cfg.PromptBudgetChars
	b.WriteString("<past_sessions>\n")
	used := b.Len()
	for _, d := range all {
		date := d.ep.Created
		if len(date) > 10 {
			date = date[:10]
		}
		line := fmt.Sprintf("- [%s] %s (tools: %s, outcome: %s)\n", date, d.ep.Summary, strings.Join(d.ep.Tools, ", "), d.ep.Outcome)
		if used+len(line) > budget {
			break
		}
		b.WriteString(line)
		used += len(line)
	}
	b.WriteString("</past_sessions>")
	return b.String(), nil
}

// OnReflection is a no-op for episodes: reflections only carry playbook
// learnings and tool-pattern observations.
func (e *Episodes) OnReflection(ctx context.Context, reflection memtypes.Reflection) error { return nil }
