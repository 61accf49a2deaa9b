package domain

import "database/sql"

// OperationKind tags the logical operation a context was created for.
type OperationKind string

const (
	OpCreate     OperationKind = "create"
	OpGet        OperationKind = "get"
	OpReplace    OperationKind = "replace"
	OpUpdate     OperationKind = "update"
	OpDelete     OperationKind = "delete"
	OpDeleteMany OperationKind = "deleteMany"
	OpFind       OperationKind = "find"
	OpSearch     OperationKind = "search"
	OpCount      OperationKind = "count"
	OpRollback   OperationKind = "rollback"
	OpRestore    OperationKind = "restore"
)

// RepositoryContext carries the per-call state of one logical operation.
// Created per operation, exclusively owned by the caller's call stack,
// discarded at operation end. Never shared across concurrent operations.
type RepositoryContext struct {
	Definition *EntityDefinition

	// AliasTypeName overrides the definition's type name for cache keys and
	// logs when an entity is consumed under an alias.
	AliasTypeName string

	Operation OperationKind

	// Previous and Current are the state snapshots the dirty diff runs over.
	Previous Record
	Current  Record

	// Dirty is the attribute names whose values differ between Previous and
	// Current, computed at update time.
	Dirty []string

	// UserID stamps version and trash snapshots.
	UserID string

	// BusinessEntityID selects the tenant's extended schema, when any.
	BusinessEntityID string

	// Session is an optional caller-held transaction. The engine does not
	// serialize concurrent updates itself; callers that need that attach a
	// session here.
	Session *sql.Tx

	// LastErr records the most recent failure observed on this context.
	LastErr error
}

// NewContext creates a context bound to one entity definition.
func NewContext(def *EntityDefinition, op OperationKind) *RepositoryContext {
	return &RepositoryContext{Definition: def, Operation: op}
}

// TypeName returns the alias type name when set, else the definition type.
func (c *RepositoryContext) TypeName() string {
	if c.AliasTypeName != "" {
		return c.AliasTypeName
	}
	if c.Definition != nil {
		return c.Definition.Type
	}
	return ""
}
