package rules

import (
	"context"
	"fmt"

	"github.com/open-mediary/mediary/internal/domain"
)

// Hook adapts the engine into a pre-write hook. Register it for
// HookPreCreate and HookPreUpdate with an empty entity type so every write
// passes through the loaded rules.
func Hook(engine *Engine, kind domain.HookKind) domain.PreHook {
	return func(ctx context.Context, ev *domain.HookEvent) (bool, error) {
		if ev.Record == nil {
			return true, nil
		}
		v := engine.Evaluate(kind, ev.Definition.Type, ev.Record)
		if v != nil {
			return false, fmt.Errorf("%w: %s", domain.ErrValueInvalid, v.Error())
		}
		return true, nil
	}
}

// Register wires the engine into a hook registry for both guarded lifecycle
// events.
func Register(reg *domain.HookRegistry, engine *Engine) {
	reg.RegisterPre("", domain.HookPreCreate, Hook(engine, domain.HookPreCreate))
	reg.RegisterPre("", domain.HookPreUpdate, Hook(engine, domain.HookPreUpdate))
}
