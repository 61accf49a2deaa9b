package rules

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/open-mediary/mediary/internal/domain"
)

func rule(id, entityType, expr, msg string, events ...domain.HookKind) *domain.ValidationRule {
	return &domain.ValidationRule{
		ID:         id,
		EntityType: entityType,
		Name:       id,
		Expression: expr,
		Message:    msg,
		Events:     events,
		Enabled:    true,
	}
}

func TestEngineCompile(t *testing.T) {
	engine, err := NewEngine()
	require.NoError(t, err)
	defer engine.Close()

	t.Run("ValidExpression", func(t *testing.T) {
		err := engine.ValidateRule(rule("r1", "", `rec.Amount > 0.0`, "amount must be positive"))
		require.NoError(t, err)
	})

	t.Run("SyntaxError", func(t *testing.T) {
		err := engine.ValidateRule(rule("r2", "", `rec.Amount >`, ""))
		require.Error(t, err)
	})

	t.Run("NonBoolResult", func(t *testing.T) {
		err := engine.ValidateRule(rule("r3", "", `"just a string"`, ""))
		require.Error(t, err)
	})

	t.Run("NilConfig", func(t *testing.T) {
		require.Error(t, engine.ValidateRule(nil))
	})
}

func TestEngineEvaluate(t *testing.T) {
	engine, err := NewEngine()
	require.NoError(t, err)
	defer engine.Close()

	require.NoError(t, engine.LoadRules([]*domain.ValidationRule{
		rule("positive-amount", "Invoice", `double(rec.Amount) > 0.0`, "amount must be positive"),
		rule("title-required", "Document", `has(rec.Title) && rec.Title != ""`, "title required", domain.HookPreCreate),
	}))
	require.Equal(t, 2, engine.RulesCount())

	t.Run("Pass", func(t *testing.T) {
		v := engine.Evaluate(domain.HookPreCreate, "Invoice", domain.Record{"Amount": 10.5})
		require.Nil(t, v)
	})

	t.Run("Reject", func(t *testing.T) {
		v := engine.Evaluate(domain.HookPreCreate, "Invoice", domain.Record{"Amount": -3.0})
		require.NotNil(t, v)
		require.Equal(t, "positive-amount", v.RuleID)
		require.Contains(t, v.Error(), "amount must be positive")
	})

	t.Run("EntityTypeScoped", func(t *testing.T) {
		// Document rule must not fire for Invoice records.
		v := engine.Evaluate(domain.HookPreCreate, "Invoice", domain.Record{"Amount": 1.0})
		require.Nil(t, v)
	})

	t.Run("EventScoped", func(t *testing.T) {
		// title-required guards create only.
		v := engine.Evaluate(domain.HookPreUpdate, "Document", domain.Record{})
		require.Nil(t, v)

		v = engine.Evaluate(domain.HookPreCreate, "Document", domain.Record{})
		require.NotNil(t, v)
	})

	t.Run("EvaluationErrorRejects", func(t *testing.T) {
		// Amount missing entirely: the expression errors, which rejects.
		v := engine.Evaluate(domain.HookPreCreate, "Invoice", domain.Record{})
		require.NotNil(t, v)
	})
}

func TestEngineReload(t *testing.T) {
	engine, err := NewEngine()
	require.NoError(t, err)
	defer engine.Close()

	require.NoError(t, engine.LoadRule(rule("old", "", `true`, "")))
	require.Equal(t, 1, engine.RulesCount())

	require.NoError(t, engine.ReloadRules([]*domain.ValidationRule{
		rule("new-a", "", `true`, ""),
		rule("new-b", "", `true`, ""),
		{ID: "disabled", Expression: `true`, Enabled: false},
	}))
	require.Equal(t, 2, engine.RulesCount())

	loaded := engine.GetLoadedRules()
	ids := make(map[string]bool, len(loaded))
	for _, r := range loaded {
		ids[r.ID] = true
	}
	require.True(t, ids["new-a"])
	require.True(t, ids["new-b"])
	require.False(t, ids["old"])
}

func TestHook(t *testing.T) {
	engine, err := NewEngine()
	require.NoError(t, err)
	defer engine.Close()

	require.NoError(t, engine.LoadRule(
		rule("status-known", "", `rec.Status in ["draft", "final"]`, "unknown status"),
	))

	def := &domain.EntityDefinition{Type: "Document"}
	reg := domain.NewHookRegistry()
	Register(reg, engine)

	pre := reg.Pre("Document", domain.HookPreCreate)
	require.Len(t, pre, 1)

	t.Run("Proceeds", func(t *testing.T) {
		proceed, err := pre[0](context.Background(), &domain.HookEvent{
			Definition: def,
			Record:     domain.Record{"Status": "draft"},
		})
		require.NoError(t, err)
		require.True(t, proceed)
	})

	t.Run("RejectsWithValueInvalid", func(t *testing.T) {
		proceed, err := pre[0](context.Background(), &domain.HookEvent{
			Definition: def,
			Record:     domain.Record{"Status": "bogus"},
		})
		require.False(t, proceed)
		require.True(t, errors.Is(err, domain.ErrValueInvalid))
	})

	t.Run("NilRecordProceeds", func(t *testing.T) {
		proceed, err := pre[0](context.Background(), &domain.HookEvent{Definition: def})
		require.NoError(t, err)
		require.True(t, proceed)
	})
}
