package fraud

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/kranthikarthan/PE-sub004/internal/policy"
)

// Screener evaluates tenant-configured CEL rules against a flow before any
// engine I/O happens. Programs are compiled once per expression and cached.
type Screener struct {
	env *cel.Env

	mu       sync.RWMutex
	programs map[string]cel.Program
}

// NewScreener builds the CEL environment the rules run in. Rules see the
// whole message tree, its flattened form, the routing coordinate and the
// extracted transaction context.
func NewScreener() (*Screener, error) {
	env, err := cel.NewEnv(
		cel.Variable("message", cel.DynType),
		cel.Variable("fields", cel.DynType),
		cel.Variable("tenantId", cel.StringType),
		cel.Variable("paymentType", cel.StringType),
		cel.Variable("localInstrument", cel.StringType),
		cel.Variable("clearingSystem", cel.StringType),
		cel.Variable("source", cel.StringType),
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("currency", cel.StringType),
		cel.Variable("debtor", cel.StringType),
		cel.Variable("creditor", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("fraud screener environment: %w", err)
	}
	return &Screener{env: env, programs: make(map[string]cel.Program)}, nil
}

// Screen runs the rules in declaration order and returns the first that
// fires. A rule that fails to compile or evaluate is logged and skipped; it
// never blocks the flow, which still passes through the remote engine.
func (s *Screener) Screen(rules []policy.PreScreenRule, input map[string]interface{}) *policy.PreScreenRule {
	for i := range rules {
		rule := &rules[i]
		hit, err := s.eval(rule.Expression, input)
		if err != nil {
			slog.Warn("Pre-screen rule skipped",
				"rule", rule.Name,
				"error", err)
			continue
		}
		if hit {
			return rule
		}
	}
	return nil
}

func (s *Screener) eval(expr string, input map[string]interface{}) (bool, error) {
	s.mu.RLock()
	prg, hit := s.programs[expr]
	s.mu.RUnlock()

	if !hit {
		s.mu.Lock()
		if prg, hit = s.programs[expr]; !hit {
			ast, issues := s.env.Compile(expr)
			if issues != nil && issues.Err() != nil {
				s.mu.Unlock()
				return false, fmt.Errorf("compile: %w", issues.Err())
			}
			p, err := s.env.Program(ast,
				cel.InterruptCheckFrequency(100),
				cel.CostLimit(10000),
			)
			if err != nil {
				s.mu.Unlock()
				return false, fmt.Errorf("program: %w", err)
			}
			s.programs[expr] = p
			prg = p
		}
		s.mu.Unlock()
	}

	out, _, err := prg.Eval(input)
	if err != nil {
		return false, fmt.Errorf("eval: %w", err)
	}
	val, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("rule result is %T, want bool", out.Value())
	}
	return val, nil
}

// Invalidate drops the compiled program cache.
func (s *Screener) Invalidate() {
	s.mu.Lock()
	s.programs = make(map[string]cel.Program)
	s.mu.Unlock()
}
