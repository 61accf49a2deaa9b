package domain

import (
	"context"
	"sync"
)

// HookKind identifies one lifecycle event.
type HookKind string

const (
	HookPreCreate  HookKind = "preCreate"
	HookPostCreate HookKind = "postCreate"
	HookPreGet     HookKind = "preGet"
	HookPostGet    HookKind = "postGet"
	HookPreUpdate  HookKind = "preUpdate"
	HookPostUpdate HookKind = "postUpdate"
	HookPreDelete  HookKind = "preDelete"
	HookPostDelete HookKind = "postDelete"
)

// HookEvent is the payload handed to lifecycle handlers.
type HookEvent struct {
	Definition *EntityDefinition
	Identity   string

	// Record is the object the operation acts on.
	Record Record

	// Previous is the persisted state before an update, nil otherwise.
	Previous Record

	// Dirty is the changed attribute set for updates, nil otherwise.
	Dirty []string
}

// PreHook runs synchronously before the backend write. Returning proceed ==
// false cancels the operation; if an error accompanies it, that error is
// surfaced to the caller, otherwise the operation ends silently. An error
// with proceed == true is logged at the hook boundary and does not abort
// the pipeline.
type PreHook func(ctx context.Context, ev *HookEvent) (proceed bool, err error)

// PostHook runs fire-and-forget after the operation commits. Errors are
// logged only.
type PostHook func(ctx context.Context, ev *HookEvent) error

type hookKey struct {
	entityType string
	kind       HookKind
}

// HookRegistry holds ordered lists of pre/post handlers per lifecycle event,
// appended at startup and iterated in registration order. An empty entity
// type registers a handler for every entity.
type HookRegistry struct {
	mu   sync.RWMutex
	pre  map[hookKey][]PreHook
	post map[hookKey][]PostHook
}

// NewHookRegistry creates an empty registry.
func NewHookRegistry() *HookRegistry {
	return &HookRegistry{
		pre:  make(map[hookKey][]PreHook),
		post: make(map[hookKey][]PostHook),
	}
}

// RegisterPre appends a pre-hook for the entity type and event.
func (r *HookRegistry) RegisterPre(entityType string, kind HookKind, h PreHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := hookKey{entityType: entityType, kind: kind}
	r.pre[k] = append(r.pre[k], h)
}

// RegisterPost appends a post-hook for the entity type and event.
func (r *HookRegistry) RegisterPost(entityType string, kind HookKind, h PostHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := hookKey{entityType: entityType, kind: kind}
	r.post[k] = append(r.post[k], h)
}

// Pre returns the ordered pre-hooks for the event: global handlers first,
// then handlers registered for the specific entity type.
func (r *HookRegistry) Pre(entityType string, kind HookKind) []PreHook {
	r.mu.RLock()
	defer r.mu.RUnlock()

	global := r.pre[hookKey{kind: kind}]
	typed := r.pre[hookKey{entityType: entityType, kind: kind}]
	if len(global) == 0 {
		return typed
	}
	out := make([]PreHook, 0, len(global)+len(typed))
	out = append(out, global...)
	out = append(out, typed...)
	return out
}

// Post returns the ordered post-hooks for the event.
func (r *HookRegistry) Post(entityType string, kind HookKind) []PostHook {
	r.mu.RLock()
	defer r.mu.RUnlock()

	global := r.post[hookKey{kind: kind}]
	typed := r.post[hookKey{entityType: entityType, kind: kind}]
	if len(global) == 0 {
		return typed
	}
	out := make([]PostHook, 0, len(global)+len(typed))
	out = append(out, global...)
	out = append(out, typed...)
	return out
}
