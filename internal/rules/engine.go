// Package rules provides the CEL-Go based validation rule engine. Rules are
// boolean CEL expressions over the record's attribute map; a false result
// rejects the write.
package rules

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/open-mediary/mediary/internal/domain"
)

// Engine compiles and evaluates validation rules.
type Engine struct {
	mu            sync.RWMutex
	env           *cel.Env
	compiledRules map[string]*CompiledRule
}

// CompiledRule holds a pre-compiled CEL program.
type CompiledRule struct {
	Config  *domain.ValidationRule
	Program cel.Program
}

// NewEngine creates a new validation rule engine. Expressions see the record
// under the variable "rec".
func NewEngine() (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("rec", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:           env,
		compiledRules: make(map[string]*CompiledRule),
	}, nil
}

// ValidateRule compiles a rule without loading it.
func (e *Engine) ValidateRule(cfg *domain.ValidationRule) error {
	if cfg == nil {
		return fmt.Errorf("rule config is required")
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	_, err := e.compileRule(cfg)
	return err
}

// LoadRule compiles and loads a rule into the engine.
func (e *Engine) LoadRule(cfg *domain.ValidationRule) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	compiled, err := e.compileRule(cfg)
	if err != nil {
		return err
	}

	e.compiledRules[cfg.ID] = compiled

	return nil
}

// LoadRules compiles and loads multiple rules, skipping disabled ones.
func (e *Engine) LoadRules(configs []*domain.ValidationRule) error {
	for _, cfg := range configs {
		if cfg.Enabled {
			if err := e.LoadRule(cfg); err != nil {
				return err
			}
		}
	}
	return nil
}

// Violation is one failed rule.
type Violation struct {
	RuleID  string
	Name    string
	Message string
}

func (v Violation) Error() string {
	if v.Message != "" {
		return fmt.Sprintf("rule %s: %s", v.Name, v.Message)
	}
	return fmt.Sprintf("rule %s rejected record", v.Name)
}

// Evaluate runs every loaded rule guarding the given lifecycle event against
// the record. It returns the first violation, or nil when all rules pass.
// Expression evaluation errors reject the record: a rule that cannot decide
// must not silently admit the write.
func (e *Engine) Evaluate(kind domain.HookKind, entityType string, rec domain.Record) *Violation {
	e.mu.RLock()
	rules := make([]*CompiledRule, 0, len(e.compiledRules))
	for _, rule := range e.compiledRules {
		rules = append(rules, rule)
	}
	e.mu.RUnlock()

	for _, rule := range rules {
		cfg := rule.Config
		if cfg.EntityType != "" && cfg.EntityType != entityType {
			continue
		}
		if !cfg.AppliesTo(kind) {
			continue
		}

		activation := map[string]any{
			"rec": map[string]any(rec),
		}

		out, _, err := rule.Program.Eval(activation)
		if err != nil {
			return &Violation{
				RuleID:  cfg.ID,
				Name:    cfg.Name,
				Message: fmt.Sprintf("evaluation error: %v", err),
			}
		}

		if pass, ok := out.(types.Bool); ok && bool(pass) {
			continue
		}

		return &Violation{
			RuleID:  cfg.ID,
			Name:    cfg.Name,
			Message: cfg.Message,
		}
	}

	return nil
}

// RulesCount returns the number of loaded rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiledRules)
}

// ReloadRules swaps the loaded rule set atomically.
func (e *Engine) ReloadRules(configs []*domain.ValidationRule) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	newRules := make(map[string]*CompiledRule)

	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}

		compiled, err := e.compileRule(cfg)
		if err != nil {
			return err
		}
		newRules[cfg.ID] = compiled
	}

	e.compiledRules = newRules

	return nil
}

// GetLoadedRules returns the currently loaded rule configurations.
func (e *Engine) GetLoadedRules() []*domain.ValidationRule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rules := make([]*domain.ValidationRule, 0, len(e.compiledRules))
	for _, compiled := range e.compiledRules {
		rules = append(rules, compiled.Config)
	}
	return rules
}

// Close cleans up the engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiledRules = make(map[string]*CompiledRule)
	return nil
}

func (e *Engine) compileRule(cfg *domain.ValidationRule) (*CompiledRule, error) {
	ast, issues := e.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", cfg.ID, issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("rule %s: expression must return bool, got %s", cfg.ID, ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", cfg.ID, err)
	}

	return &CompiledRule{
		Config:  cfg,
		Program: program,
	}, nil
}
