package mapping

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/kranthikarthan/PE-sub004/internal/core"
)

// Engine caches compiled plans per (document name, version) and applies them.
// Plans compile once; a new document version compiles fresh and the old entry
// ages out on invalidation.
type Engine struct {
	mu        sync.RWMutex
	plans     map[string]*Plan // "name@version" → compiled plan
	sequences SequenceStore
}

// NewEngine creates an engine backed by the given sequence store. A nil
// store is allowed as long as no applied document uses SEQUENTIAL clauses.
func NewEngine(sequences SequenceStore) *Engine {
	return &Engine{
		plans:     make(map[string]*Plan),
		sequences: sequences,
	}
}

func planKey(name string, version int) string {
	return fmt.Sprintf("%s@%d", name, version)
}

// PlanFor returns the compiled plan for a document, compiling and caching on
// first sight of each version.
func (e *Engine) PlanFor(doc *Document) (*Plan, error) {
	key := planKey(doc.Name, doc.Version)

	e.mu.RLock()
	if p, ok := e.plans[key]; ok {
		e.mu.RUnlock()
		return p, nil
	}
	e.mu.RUnlock()

	p, err := Compile(doc)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.plans[key] = p
	e.mu.Unlock()

	return p, nil
}

// Apply compiles (or reuses) the document's plan and applies it to source.
// Skipped clauses are logged per clause and reported; they never abort the
// application.
func (e *Engine) Apply(ctx context.Context, doc *Document, source core.Message, ac ApplyContext) (core.Message, Report, error) {
	plan, err := e.PlanFor(doc)
	if err != nil {
		return nil, Report{Document: doc.Name}, core.E(core.KindMappingFailed, "mapping.compile", err)
	}
	if ac.Sequences == nil {
		ac.Sequences = e.sequences
	}
	target, report, err := plan.Apply(ctx, source, ac)
	if err != nil {
		return nil, report, err
	}
	for _, f := range report.Skipped {
		slog.Warn("Mapping clause skipped",
			"document", doc.Name,
			"tenant_id", ac.TenantID,
			"clause", f.Clause,
			"type", string(f.Type),
			"target", f.Target,
			"reason", f.Reason)
	}
	return target, report, nil
}

// Invalidate drops every cached version of a document, forcing a recompile
// on next use. Call after a document update is published.
func (e *Engine) Invalidate(name string) {
	prefix := name + "@"
	e.mu.Lock()
	for key := range e.plans {
		if strings.HasPrefix(key, prefix) {
			delete(e.plans, key)
		}
	}
	e.mu.Unlock()
	slog.Info("Mapping plan cache invalidated", "document", name)
}

// InvalidateAll clears the entire plan cache.
func (e *Engine) InvalidateAll() {
	e.mu.Lock()
	e.plans = make(map[string]*Plan)
	e.mu.Unlock()
}
