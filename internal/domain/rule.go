package domain

// ValidationRule is a CEL expression evaluated against a record before it is
// created or updated. The expression must return bool; false rejects the
// write with ErrValueInvalid and the rule's message.
type ValidationRule struct {
	ID          string `json:"id"`
	EntityType  string `json:"entityType"`
	Name        string `json:"name"`
	Description string `json:"description"`

	// Expression is a CEL expression over the variable "rec", the record's
	// attribute map.
	Expression string `json:"expression"`

	// Message is surfaced to the caller when the rule rejects a record.
	Message string `json:"message"`

	// Events selects which lifecycle events the rule guards. Empty means
	// both create and update.
	Events []HookKind `json:"events,omitempty"`

	// Whether the rule is active
	Enabled bool `json:"enabled"`
}

// AppliesTo reports whether the rule guards the given lifecycle event.
func (r *ValidationRule) AppliesTo(kind HookKind) bool {
	if len(r.Events) == 0 {
		return kind == HookPreCreate || kind == HookPreUpdate
	}
	for _, ev := range r.Events {
		if ev == kind {
			return true
		}
	}
	return false
}
