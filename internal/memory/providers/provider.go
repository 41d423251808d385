// Package providers implements the three memory providers — playbook,
// episodes, and tool patterns — each layered over the KV store and
// sharing the common capability-set contract the reflector and prompt
// assembler drive them through.
package providers

import (
	"context"

	"github.com/agnt-run/agentfs/internal/memory/memtypes"
)

// Provider is the common contract every memory provider implements.
type Provider interface {
	Name() string
	ContextForPrompt(ctx context.Context, query string) (string, error)
	Store(ctx context.Context, entry any) error
	OnReflection(ctx context.Context, reflection memtypes.Reflection) error
	OnSessionStart(ctx context.Context, sessionID string) error
	OnSessionEnd(ctx context.Context, sessionID string) error
}
