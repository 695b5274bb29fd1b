package mapping

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kranthikarthan/PE-sub004/internal/core"
)

// ApplyContext supplies the ambient inputs one application needs. Zero
// fields get process defaults; injecting all three makes Apply fully
// deterministic under test.
type ApplyContext struct {
	TenantID  string
	Now       time.Time     // zero value means time.Now
	NewUUID   func() string // nil means uuid.NewString
	Sequences SequenceStore // required when the plan contains SEQUENTIAL clauses
}

// ClauseFailure records one skipped clause. Skips never abort the document.
type ClauseFailure struct {
	Clause int // declaration index within the document
	Type   ClauseType
	Target string
	Reason string
}

func (f ClauseFailure) String() string {
	return fmt.Sprintf("clause %d (%s -> %s): %s", f.Clause, f.Type, f.Target, f.Reason)
}

// Report summarizes one application: how many clauses wrote to the target
// and which were skipped, with reasons.
type Report struct {
	Document string
	Applied  int
	Skipped  []ClauseFailure
}

// Plan is a compiled document: an immutable, phase-ordered sequence of typed
// ops. Plans are safe for concurrent use.
type Plan struct {
	name     string
	version  int
	ops      []planOp
	needsSeq bool
}

func (p *Plan) Name() string     { return p.name }
func (p *Plan) Version() int     { return p.version }
func (p *Plan) ClauseCount() int { return len(p.ops) }

// NeedsSequences reports whether the plan requires a SequenceStore.
func (p *Plan) NeedsSequences() bool { return p.needsSeq }

// planOp is one compiled clause. apply mutates the target in place and
// returns a reason string when the clause is skipped; a non-empty reason is
// a clause failure, never a document failure. Only infrastructure errors
// (sequence store I/O) abort the document.
type planOp interface {
	apply(ctx context.Context, st *applyState) (skip string, err error)
	meta() opMeta
}

type opMeta struct {
	index  int // declaration index
	ctype  ClauseType
	target string
}

func (m opMeta) meta() opMeta { return m }

type applyState struct {
	ec     *evalContext
	target core.Message
	ac     ApplyContext
	doc    string
}

// ============================================================================
// Compile
// ============================================================================

// Compile type-checks a document and produces its Plan. Paths must parse,
// expressions must parse, generators and transformation arguments must be
// legal. Compilation failure means the document is rejected at publish time.
func Compile(doc *Document) (*Plan, error) {
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	plan := &Plan{name: doc.Name, version: doc.Version}
	for i, cl := range doc.Clauses {
		op, err := compileClause(i, cl)
		if err != nil {
			return nil, fmt.Errorf("mapping document %q clause %d: %w", doc.Name, i, err)
		}
		if cl.Type == ClauseAutoGeneration && cl.Generator == GeneratorSequential {
			plan.needsSeq = true
		}
		plan.ops = append(plan.ops, op)
	}
	// Stable sort groups clauses by phase while preserving declaration order
	// within a phase, which is what gives conditionals last-writer-wins.
	sort.SliceStable(plan.ops, func(a, b int) bool {
		return phase[plan.ops[a].meta().ctype] < phase[plan.ops[b].meta().ctype]
	})
	return plan, nil
}

func compileClause(idx int, cl Clause) (planOp, error) {
	if _, known := phase[cl.Type]; !known {
		return nil, fmt.Errorf("unknown clause type %q", cl.Type)
	}
	if cl.Target == "" {
		return nil, fmt.Errorf("%s: target is required", cl.Type)
	}
	target, err := core.ParsePath(cl.Target)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", cl.Type, err)
	}
	m := opMeta{index: idx, ctype: cl.Type, target: cl.Target}

	switch cl.Type {
	case ClauseFieldMapping:
		if cl.Source == "" {
			return nil, fmt.Errorf("FIELD_MAPPING: source is required")
		}
		source, err := core.ParsePath(cl.Source)
		if err != nil {
			return nil, fmt.Errorf("FIELD_MAPPING: %w", err)
		}
		if source.HasEach() != target.HasEach() {
			return nil, fmt.Errorf("FIELD_MAPPING: [] must appear on both source and target or neither")
		}
		return &fieldMapOp{opMeta: m, source: source, target: target, fan: source.HasEach()}, nil

	case ClauseValueAssignment, ClauseDefaultValue:
		if target.HasEach() {
			return nil, fmt.Errorf("%s: [] markers are not allowed on the target", cl.Type)
		}
		if cl.Value == nil {
			return nil, fmt.Errorf("%s: value is required", cl.Type)
		}
		op := &assignOp{opMeta: m, target: target, onlyIfAbsent: cl.Type == ClauseDefaultValue}
		if s, ok := cl.Value.(string); ok && strings.Contains(s, "${") {
			tmpl, err := ParseTemplate(s)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", cl.Type, err)
			}
			op.template = tmpl
			op.isTemplate = true
		} else {
			op.literal = cl.Value
		}
		return op, nil

	case ClauseDerivedValue:
		if target.HasEach() {
			return nil, fmt.Errorf("DERIVED_VALUE: [] markers are not allowed on the target")
		}
		if cl.Expression == "" {
			return nil, fmt.Errorf("DERIVED_VALUE: expression is required")
		}
		expr, err := ParseExpression(cl.Expression)
		if err != nil {
			return nil, fmt.Errorf("DERIVED_VALUE: %w", err)
		}
		return &derivedOp{opMeta: m, target: target, expr: expr}, nil

	case ClauseAutoGeneration:
		if target.HasEach() {
			return nil, fmt.Errorf("AUTO_GENERATION: [] markers are not allowed on the target")
		}
		switch cl.Generator {
		case GeneratorUUID, GeneratorTimestamp:
			if cl.Prefix != "" || cl.Suffix != "" || cl.Length != 0 {
				return nil, fmt.Errorf("AUTO_GENERATION: prefix/suffix/length apply only to SEQUENTIAL")
			}
		case GeneratorSequential:
			if cl.Length < 1 || cl.Length > 18 {
				return nil, fmt.Errorf("AUTO_GENERATION: SEQUENTIAL length %d outside [1,18]", cl.Length)
			}
		default:
			return nil, fmt.Errorf("AUTO_GENERATION: unknown generator %q", cl.Generator)
		}
		return &autoGenOp{
			opMeta:    m,
			target:    target,
			generator: cl.Generator,
			prefix:    cl.Prefix,
			suffix:    cl.Suffix,
			length:    cl.Length,
		}, nil

	case ClauseConditional:
		if target.HasEach() {
			return nil, fmt.Errorf("CONDITIONAL: [] markers are not allowed on the target")
		}
		if cl.When == "" {
			return nil, fmt.Errorf("CONDITIONAL: when predicate is required")
		}
		pred, err := ParseExpression(cl.When)
		if err != nil {
			return nil, fmt.Errorf("CONDITIONAL predicate: %w", err)
		}
		hasValue := cl.Value != nil
		hasExpr := cl.Expression != ""
		if hasValue == hasExpr {
			return nil, fmt.Errorf("CONDITIONAL: exactly one of value or expression is required")
		}
		op := &condOp{opMeta: m, target: target, pred: pred}
		if hasExpr {
			expr, err := ParseExpression(cl.Expression)
			if err != nil {
				return nil, fmt.Errorf("CONDITIONAL: %w", err)
			}
			op.expr = expr
			op.hasExpr = true
		} else if s, ok := cl.Value.(string); ok && strings.Contains(s, "${") {
			tmpl, err := ParseTemplate(s)
			if err != nil {
				return nil, fmt.Errorf("CONDITIONAL: %w", err)
			}
			op.template = tmpl
			op.isTemplate = true
		} else {
			op.literal = cl.Value
		}
		return op, nil

	case ClauseTransformation:
		return compileTransformation(m, cl, target)
	}
	return nil, fmt.Errorf("unknown clause type %q", cl.Type)
}

func compileTransformation(m opMeta, cl Clause, target core.Path) (planOp, error) {
	op := &transformOp{opMeta: m, target: target, fn: cl.Function, fan: target.HasEach()}
	switch cl.Function {
	case FnUppercase, FnLowercase, FnTrim:
		if len(cl.Args) != 0 {
			return nil, fmt.Errorf("TRANSFORMATION %s: takes no args", cl.Function)
		}

	case FnPad:
		length, ok := toInt(cl.Args["length"])
		if !ok || length < 1 {
			return nil, fmt.Errorf("TRANSFORMATION pad: args.length must be a positive integer")
		}
		op.padLength = length
		op.padChar = "0"
		if raw, present := cl.Args["pad"]; present {
			s, ok := raw.(string)
			if !ok || len(s) != 1 {
				return nil, fmt.Errorf("TRANSFORMATION pad: args.pad must be a single character")
			}
			op.padChar = s
		}
		op.padLeft = true
		if raw, present := cl.Args["side"]; present {
			switch raw {
			case "LEFT":
			case "RIGHT":
				op.padLeft = false
			default:
				return nil, fmt.Errorf("TRANSFORMATION pad: args.side must be LEFT or RIGHT")
			}
		}

	case FnSubstring:
		from, ok := toInt(cl.Args["from"])
		if !ok || from < 0 {
			return nil, fmt.Errorf("TRANSFORMATION substring: args.from must be a non-negative integer")
		}
		op.from = from
		op.to = -1
		if raw, present := cl.Args["to"]; present {
			to, ok := toInt(raw)
			if !ok || to < from {
				return nil, fmt.Errorf("TRANSFORMATION substring: args.to must be an integer >= from")
			}
			op.to = to
		}

	case FnRegexReplace:
		pattern, _ := cl.Args["pattern"].(string)
		if pattern == "" {
			return nil, fmt.Errorf("TRANSFORMATION regex-replace: args.pattern is required")
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("TRANSFORMATION regex-replace: %w", err)
		}
		op.re = re
		repl, ok := cl.Args["replacement"].(string)
		if !ok {
			return nil, fmt.Errorf("TRANSFORMATION regex-replace: args.replacement is required")
		}
		op.replacement = repl

	default:
		return nil, fmt.Errorf("TRANSFORMATION: unknown function %q", cl.Function)
	}
	return op, nil
}

// ============================================================================
// Apply
// ============================================================================

// Apply runs the plan against source, producing a fresh target message. The
// target starts empty: an effective mapping document fully replaces the
// built-in transformation, so whatever the document does not map does not
// appear in the output.
//
// Clause failures are collected in the Report and never abort the run; only
// infrastructure failures (sequence store I/O) return an error.
func (p *Plan) Apply(ctx context.Context, source core.Message, ac ApplyContext) (core.Message, Report, error) {
	report := Report{Document: p.name}
	if p.needsSeq && ac.Sequences == nil {
		return nil, report, core.Errorf(core.KindMappingFailed, "mapping.apply",
			"document %q has SEQUENTIAL clauses but no sequence store", p.name)
	}
	if ac.Now.IsZero() {
		ac.Now = time.Now()
	}
	if ac.NewUUID == nil {
		ac.NewUUID = uuid.NewString
	}
	st := &applyState{
		ec:     &evalContext{source: source, now: ac.Now, newUUID: ac.NewUUID},
		target: core.Message{},
		ac:     ac,
		doc:    p.name,
	}
	for _, op := range p.ops {
		skip, err := op.apply(ctx, st)
		if err != nil {
			return nil, report, core.E(core.KindMappingFailed, "mapping.apply", err)
		}
		if skip != "" {
			m := op.meta()
			report.Skipped = append(report.Skipped, ClauseFailure{
				Clause: m.index,
				Type:   m.ctype,
				Target: m.target,
				Reason: skip,
			})
			continue
		}
		report.Applied++
	}
	return st.target, report, nil
}

// ============================================================================
// Ops
// ============================================================================

// fieldMapOp copies a source subtree to a target path. With fan set, both
// paths carry a [] marker and the copy runs element-wise over the source
// list. A source that does not resolve is not an error: there is nothing to
// copy, the clause is a no-op and still counts as applied.
type fieldMapOp struct {
	opMeta
	source core.Path
	target core.Path
	fan    bool
}

func (o *fieldMapOp) apply(_ context.Context, st *applyState) (string, error) {
	if !o.fan {
		v, ok := st.ec.source.Get(o.source)
		if !ok {
			return "", nil
		}
		if err := st.target.Set(o.target, core.CloneValue(v)); err != nil {
			return err.Error(), nil
		}
		return "", nil
	}
	n := st.ec.source.ListLen(o.source.ListPath())
	if n < 0 {
		return "", nil
	}
	for i := 0; i < n; i++ {
		v, ok := st.ec.source.Get(o.source.WithIndex(i))
		if !ok {
			continue
		}
		if err := st.target.Set(o.target.WithIndex(i), core.CloneValue(v)); err != nil {
			return err.Error(), nil
		}
	}
	return "", nil
}

// assignOp handles ValueAssignment and DefaultValue. DefaultValue differs
// only in running last and writing only when the path is still absent.
type assignOp struct {
	opMeta
	target       core.Path
	literal      interface{}
	template     Template
	isTemplate   bool
	onlyIfAbsent bool
}

func (o *assignOp) apply(_ context.Context, st *applyState) (string, error) {
	if o.onlyIfAbsent && st.target.Has(o.target) {
		return "", nil
	}
	v := o.literal
	if o.isTemplate {
		v = o.template.Render(st.ec.source)
	}
	if err := st.target.Set(o.target, v); err != nil {
		return err.Error(), nil
	}
	return "", nil
}

type derivedOp struct {
	opMeta
	target core.Path
	expr   Expr
}

func (o *derivedOp) apply(_ context.Context, st *applyState) (string, error) {
	v, err := o.expr.Eval(st.ec)
	if err != nil {
		return err.Error(), nil
	}
	if err := st.target.Set(o.target, v); err != nil {
		return err.Error(), nil
	}
	return "", nil
}

type autoGenOp struct {
	opMeta
	target    core.Path
	generator GeneratorType
	prefix    string
	suffix    string
	length    int
}

func (o *autoGenOp) apply(ctx context.Context, st *applyState) (string, error) {
	var v string
	switch o.generator {
	case GeneratorUUID:
		v = st.ac.NewUUID()
	case GeneratorTimestamp:
		v = st.ac.Now.UTC().Format(timestampLayout)
	case GeneratorSequential:
		n, err := st.ac.Sequences.Next(ctx, st.ac.TenantID, st.doc)
		if err != nil {
			return "", err
		}
		v = o.prefix + formatSequence(n, o.length) + o.suffix
	}
	if err := st.target.Set(o.target, v); err != nil {
		return err.Error(), nil
	}
	return "", nil
}

// formatSequence zero-pads the counter to length digits, wrapping only once
// the numeric space is exhausted.
func formatSequence(n uint64, length int) string {
	space := uint64(1)
	for i := 0; i < length; i++ {
		space *= 10
	}
	return fmt.Sprintf("%0*d", length, n%space)
}

type condOp struct {
	opMeta
	target     core.Path
	pred       Expr
	expr       Expr
	hasExpr    bool
	literal    interface{}
	template   Template
	isTemplate bool
}

func (o *condOp) apply(_ context.Context, st *applyState) (string, error) {
	pv, err := o.pred.Eval(st.ec)
	if err != nil {
		return err.Error(), nil
	}
	if !truthy(pv) {
		return "", nil
	}
	var v interface{}
	switch {
	case o.hasExpr:
		v, err = o.expr.Eval(st.ec)
		if err != nil {
			return err.Error(), nil
		}
	case o.isTemplate:
		v = o.template.Render(st.ec.source)
	default:
		v = o.literal
	}
	if err := st.target.Set(o.target, v); err != nil {
		return err.Error(), nil
	}
	return "", nil
}

// transformOp rewrites whatever already exists at the target path. When the
// path is absent there is nothing to transform and the clause is a no-op.
// With fan set the target carries a [] marker and the function is applied to
// each element of the existing list.
type transformOp struct {
	opMeta
	target core.Path
	fan    bool
	fn     string

	padLength int
	padChar   string
	padLeft   bool

	from int
	to   int // -1 means end of string

	re          *regexp.Regexp
	replacement string
}

func (o *transformOp) apply(_ context.Context, st *applyState) (string, error) {
	if !o.fan {
		return o.applyAt(st, o.target)
	}
	n := st.target.ListLen(o.target.ListPath())
	if n < 0 {
		return "", nil
	}
	for i := 0; i < n; i++ {
		if skip, err := o.applyAt(st, o.target.WithIndex(i)); skip != "" || err != nil {
			return skip, err
		}
	}
	return "", nil
}

func (o *transformOp) applyAt(st *applyState, at core.Path) (string, error) {
	v, ok := st.target.Get(at)
	if !ok || v == nil {
		return "", nil
	}
	s := core.Stringify(v)
	var out string
	switch o.fn {
	case FnUppercase:
		out = strings.ToUpper(s)
	case FnLowercase:
		out = strings.ToLower(s)
	case FnTrim:
		out = strings.TrimSpace(s)
	case FnPad:
		out = s
		for len(out) < o.padLength {
			if o.padLeft {
				out = o.padChar + out
			} else {
				out += o.padChar
			}
		}
	case FnSubstring:
		to := o.to
		if to < 0 || to > len(s) {
			to = len(s)
		}
		if o.from > len(s) {
			return fmt.Sprintf("substring: from %d beyond %d-char string", o.from, len(s)), nil
		}
		out = s[o.from:to]
	case FnRegexReplace:
		out = o.re.ReplaceAllString(s, o.replacement)
	default:
		return fmt.Sprintf("unknown function %q", o.fn), nil
	}
	if err := st.target.Set(at, out); err != nil {
		return err.Error(), nil
	}
	return "", nil
}
