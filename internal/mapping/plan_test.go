package mapping

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kranthikarthan/PE-sub004/internal/core"
)

func testDoc(name string, clauses ...Clause) *Document {
	return &Document{
		Name:       name,
		Coordinate: core.PolicyCoordinate{TenantID: "T1", PaymentType: "SEPA_CT"},
		Direction:  core.DirectionRequest,
		Priority:   50,
		Active:     true,
		Version:    1,
		Clauses:    clauses,
	}
}

func testSource() core.Message {
	return core.Message{
		"CstmrCdtTrfInitn": map[string]interface{}{
			"GrpHdr": map[string]interface{}{
				"MsgId":   "M2",
				"NbOfTxs": "2",
				"CtrlSum": 300.0,
			},
			"PmtInf": map[string]interface{}{
				"Dbtr":     map[string]interface{}{"Nm": "  acme gmbh  "},
				"DbtrAcct": map[string]interface{}{"Id": map[string]interface{}{"IBAN": "DE02100100109307118603"}},
				"CdtTrfTxInf": []interface{}{
					map[string]interface{}{
						"PmtId": map[string]interface{}{"EndToEndId": "E2E-1"},
						"Amt":   map[string]interface{}{"InstdAmt": map[string]interface{}{"Ccy": "EUR", "value": "100.00"}},
					},
					map[string]interface{}{
						"PmtId": map[string]interface{}{"EndToEndId": "E2E-2"},
						"Amt":   map[string]interface{}{"InstdAmt": map[string]interface{}{"Ccy": "EUR", "value": "200.00"}},
					},
				},
			},
		},
	}
}

func testApplyContext(seq SequenceStore) ApplyContext {
	return ApplyContext{
		TenantID:  "T1",
		Now:       time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC),
		NewUUID:   func() string { return "11111111-2222-4333-8444-555555555555" },
		Sequences: seq,
	}
}

func mustApply(t *testing.T, doc *Document, source core.Message, ac ApplyContext) (core.Message, Report) {
	t.Helper()
	plan, err := Compile(doc)
	require.NoError(t, err)
	target, report, err := plan.Apply(context.Background(), source, ac)
	require.NoError(t, err)
	return target, report
}

// ============================================================================
// Compile
// ============================================================================

func TestCompileRejectsInvalidClauses(t *testing.T) {
	cases := []struct {
		name    string
		clause  Clause
		wantErr string
	}{
		{"unknown type", Clause{Type: "MAGIC", Target: "A"}, "unknown clause type"},
		{"missing target", Clause{Type: ClauseValueAssignment, Value: "x"}, "target is required"},
		{"bad target path", Clause{Type: ClauseValueAssignment, Target: "A..B", Value: "x"}, "empty key"},
		{"field mapping without source", Clause{Type: ClauseFieldMapping, Target: "A"}, "source is required"},
		{"lopsided fan-out", Clause{Type: ClauseFieldMapping, Source: "Txs[].Id", Target: "Out.Id"}, "both source and target or neither"},
		{"assignment without value", Clause{Type: ClauseValueAssignment, Target: "A"}, "value is required"},
		{"assignment fan-out", Clause{Type: ClauseValueAssignment, Target: "A[].B", Value: "x"}, "not allowed"},
		{"derived without expression", Clause{Type: ClauseDerivedValue, Target: "A"}, "expression is required"},
		{"derived bad expression", Clause{Type: ClauseDerivedValue, Target: "A", Expression: "1 +"}, "unexpected token"},
		{"unknown generator", Clause{Type: ClauseAutoGeneration, Target: "A", Generator: "RANDOM"}, "unknown generator"},
		{"sequential without length", Clause{Type: ClauseAutoGeneration, Target: "A", Generator: GeneratorSequential}, "length"},
		{"uuid with prefix", Clause{Type: ClauseAutoGeneration, Target: "A", Generator: GeneratorUUID, Prefix: "X-"}, "only to SEQUENTIAL"},
		{"conditional without when", Clause{Type: ClauseConditional, Target: "A", Value: "x"}, "when predicate is required"},
		{"conditional both value and expression", Clause{Type: ClauseConditional, Target: "A", When: "true", Value: "x", Expression: "1"}, "exactly one"},
		{"conditional neither", Clause{Type: ClauseConditional, Target: "A", When: "true"}, "exactly one"},
		{"unknown function", Clause{Type: ClauseTransformation, Target: "A", Function: "rot13"}, "unknown function"},
		{"pad without length", Clause{Type: ClauseTransformation, Target: "A", Function: FnPad}, "args.length"},
		{"bad regex", Clause{Type: ClauseTransformation, Target: "A", Function: FnRegexReplace, Args: map[string]interface{}{"pattern": "[", "replacement": ""}}, "regex-replace"},
		{"regex without replacement", Clause{Type: ClauseTransformation, Target: "A", Function: FnRegexReplace, Args: map[string]interface{}{"pattern": "x"}}, "args.replacement"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Compile(testDoc("bad-doc", tc.clause))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
			assert.Contains(t, err.Error(), "bad-doc", "errors must name the document")
		})
	}
}

func TestCompileRejectsInvalidDocuments(t *testing.T) {
	doc := testDoc("d", Clause{Type: ClauseValueAssignment, Target: "A", Value: "x"})
	doc.Priority = 0
	_, err := Compile(doc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "priority")

	doc = testDoc("d")
	_, err = Compile(doc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no clauses")
}

// ============================================================================
// Apply
// ============================================================================

func TestApplyAllClausePhases(t *testing.T) {
	// Declared deliberately out of phase order; application must regroup.
	doc := testDoc("full",
		Clause{Type: ClauseDefaultValue, Target: "Doc.GrpHdr.MsgId", Value: "FALLBACK"},
		Clause{Type: ClauseTransformation, Target: "Doc.Dbtr.Nm", Function: FnTrim},
		Clause{Type: ClauseConditional, Target: "Doc.Priority", When: "${source.CstmrCdtTrfInitn.GrpHdr.CtrlSum} > 100", Value: "HIGH"},
		Clause{Type: ClauseAutoGeneration, Target: "Doc.Id", Generator: GeneratorUUID},
		Clause{Type: ClauseDerivedValue, Target: "Doc.AvgAmt", Expression: "${source.CstmrCdtTrfInitn.GrpHdr.CtrlSum} / 2"},
		Clause{Type: ClauseValueAssignment, Target: "Doc.SvcLvl", Value: "SEPA"},
		Clause{Type: ClauseFieldMapping, Source: "CstmrCdtTrfInitn.PmtInf.Dbtr.Nm", Target: "Doc.Dbtr.Nm"},
		Clause{Type: ClauseFieldMapping, Source: "CstmrCdtTrfInitn.GrpHdr.MsgId", Target: "Doc.GrpHdr.MsgId"},
	)
	target, report := mustApply(t, doc, testSource(), testApplyContext(nil))

	assert.Equal(t, "M2", target.GetString("Doc.GrpHdr.MsgId"),
		"field mapping wrote first, so the default must not overwrite")
	assert.Equal(t, "acme gmbh", target.GetString("Doc.Dbtr.Nm"),
		"trim ran after the field mapping populated the target")
	assert.Equal(t, "HIGH", target.GetString("Doc.Priority"))
	assert.Equal(t, "11111111-2222-4333-8444-555555555555", target.GetString("Doc.Id"))
	assert.Equal(t, 150.0, mustGet(t, target, "Doc.AvgAmt"))
	assert.Equal(t, "SEPA", target.GetString("Doc.SvcLvl"))
	assert.Equal(t, 8, report.Applied)
	assert.Empty(t, report.Skipped)
}

func TestApplyStartsFromEmptyTarget(t *testing.T) {
	doc := testDoc("narrow",
		Clause{Type: ClauseFieldMapping, Source: "CstmrCdtTrfInitn.GrpHdr.MsgId", Target: "Out.MsgId"},
	)
	target, _ := mustApply(t, doc, testSource(), testApplyContext(nil))
	assert.Equal(t, "M2", target.GetString("Out.MsgId"))
	_, ok := target["CstmrCdtTrfInitn"]
	assert.False(t, ok, "unmapped source subtrees must not leak into the target")
}

func TestApplyDoesNotMutateSource(t *testing.T) {
	source := testSource()
	before := source.Clone()
	doc := testDoc("ro",
		Clause{Type: ClauseFieldMapping, Source: "CstmrCdtTrfInitn.PmtInf", Target: "Copy"},
		Clause{Type: ClauseTransformation, Target: "Copy.Dbtr.Nm", Function: FnUppercase},
	)
	target, _ := mustApply(t, doc, source, testApplyContext(nil))
	assert.True(t, reflect.DeepEqual(before, source), "source must be untouched")
	assert.Equal(t, "  ACME GMBH  ", target.GetString("Copy.Dbtr.Nm"))
	assert.Equal(t, "  acme gmbh  ", source.GetString("CstmrCdtTrfInitn.PmtInf.Dbtr.Nm"),
		"copied subtrees must not alias the source")
}

func TestApplyIsDeterministic(t *testing.T) {
	doc := testDoc("det",
		Clause{Type: ClauseAutoGeneration, Target: "Doc.Id", Generator: GeneratorUUID},
		Clause{Type: ClauseAutoGeneration, Target: "Doc.CreDtTm", Generator: GeneratorTimestamp},
		Clause{Type: ClauseDerivedValue, Target: "Doc.Stamp", Expression: "timestamp()"},
	)
	a, _ := mustApply(t, doc, testSource(), testApplyContext(nil))
	b, _ := mustApply(t, doc, testSource(), testApplyContext(nil))
	assert.True(t, reflect.DeepEqual(a, b), "same apply context must give identical trees")
	assert.Equal(t, "2026-03-01T10:30:00.000Z", a.GetString("Doc.CreDtTm"))
}

func TestSequentialGeneration(t *testing.T) {
	seq := NewMemorySequences()
	require.NoError(t, seq.Seed(context.Background(), "T1", "txid-doc", 42))

	doc := testDoc("txid-doc",
		Clause{Type: ClauseFieldMapping, Source: "CstmrCdtTrfInitn.GrpHdr.MsgId", Target: "FIToFICstmrCdtTrf.GrpHdr.MsgId"},
		Clause{
			Type:      ClauseAutoGeneration,
			Target:    "FIToFICstmrCdtTrf.CdtTrfTxInf.PmtId.TxId",
			Generator: GeneratorSequential,
			Prefix:    "TXN-",
			Length:    6,
		},
	)
	target, report := mustApply(t, doc, testSource(), testApplyContext(seq))
	assert.Equal(t, "TXN-000042", target.GetString("FIToFICstmrCdtTrf.CdtTrfTxInf.PmtId.TxId"))
	assert.Equal(t, 2, report.Applied)

	// The counter advanced: the next application issues 43.
	next, err := seq.Next(context.Background(), "T1", "txid-doc")
	require.NoError(t, err)
	assert.Equal(t, uint64(43), next)
}

func TestSequentialRequiresStore(t *testing.T) {
	doc := testDoc("needs-seq",
		Clause{Type: ClauseAutoGeneration, Target: "A", Generator: GeneratorSequential, Length: 4},
	)
	plan, err := Compile(doc)
	require.NoError(t, err)
	assert.True(t, plan.NeedsSequences())

	_, _, err = plan.Apply(context.Background(), testSource(), testApplyContext(nil))
	require.Error(t, err)
	assert.True(t, core.IsKind(err, core.KindMappingFailed))
}

func TestFormatSequenceWrapsAfterExhaustion(t *testing.T) {
	assert.Equal(t, "000042", formatSequence(42, 6))
	assert.Equal(t, "999999", formatSequence(999999, 6))
	assert.Equal(t, "000000", formatSequence(1000000, 6), "wraps once the space is exhausted")
	assert.Equal(t, "000001", formatSequence(1000001, 6))
	assert.Equal(t, "7", formatSequence(7, 1))
}

func TestConditionalLastWriterWins(t *testing.T) {
	doc := testDoc("cond",
		Clause{Type: ClauseConditional, Target: "Out.Band", When: "${source.CstmrCdtTrfInitn.GrpHdr.CtrlSum} > 10", Value: "LOW"},
		Clause{Type: ClauseConditional, Target: "Out.Band", When: "${source.CstmrCdtTrfInitn.GrpHdr.CtrlSum} > 100", Value: "HIGH"},
		Clause{Type: ClauseConditional, Target: "Out.Band", When: "${source.CstmrCdtTrfInitn.GrpHdr.CtrlSum} > 10000", Value: "EXTREME"},
	)
	target, report := mustApply(t, doc, testSource(), testApplyContext(nil))
	assert.Equal(t, "HIGH", target.GetString("Out.Band"),
		"later true conditional overwrites earlier; false predicate does not")
	assert.Equal(t, 3, report.Applied, "a false predicate is still a successful clause")
}

func TestConditionalWithExpressionValue(t *testing.T) {
	doc := testDoc("cond-expr",
		Clause{
			Type:       ClauseConditional,
			Target:     "Out.Fee",
			When:       `${source.CstmrCdtTrfInitn.GrpHdr.NbOfTxs} == 2`,
			Expression: "${source.CstmrCdtTrfInitn.GrpHdr.CtrlSum} * 0.01",
		},
	)
	target, _ := mustApply(t, doc, testSource(), testApplyContext(nil))
	assert.Equal(t, 3.0, mustGet(t, target, "Out.Fee"))
}

func TestCoercionFailureSkipsClauseOnly(t *testing.T) {
	doc := testDoc("skips",
		Clause{Type: ClauseDerivedValue, Target: "Out.Bad", Expression: "${source.CstmrCdtTrfInitn.PmtInf.Dbtr.Nm} * 2"},
		Clause{Type: ClauseValueAssignment, Target: "Out.Good", Value: "present"},
	)
	target, report := mustApply(t, doc, testSource(), testApplyContext(nil))

	assert.Equal(t, "present", target.GetString("Out.Good"), "later clauses still apply")
	assert.False(t, target.Has(core.MustParsePath("Out.Bad")))
	assert.Equal(t, 1, report.Applied)
	require.Len(t, report.Skipped, 1)
	assert.Equal(t, ClauseDerivedValue, report.Skipped[0].Type)
	assert.Equal(t, "Out.Bad", report.Skipped[0].Target)
	assert.Contains(t, report.Skipped[0].Reason, "want number")
}

func TestFieldMappingFanOut(t *testing.T) {
	doc := testDoc("fan",
		Clause{
			Type:   ClauseFieldMapping,
			Source: "CstmrCdtTrfInitn.PmtInf.CdtTrfTxInf[].PmtId.EndToEndId",
			Target: "FIToFICstmrCdtTrf.CdtTrfTxInf[].PmtId.EndToEndId",
		},
		Clause{
			Type:   ClauseFieldMapping,
			Source: "CstmrCdtTrfInitn.PmtInf.CdtTrfTxInf[].Amt.InstdAmt",
			Target: "FIToFICstmrCdtTrf.CdtTrfTxInf[].IntrBkSttlmAmt",
		},
	)
	target, report := mustApply(t, doc, testSource(), testApplyContext(nil))
	assert.Equal(t, "E2E-1", target.GetString("FIToFICstmrCdtTrf.CdtTrfTxInf[0].PmtId.EndToEndId"))
	assert.Equal(t, "E2E-2", target.GetString("FIToFICstmrCdtTrf.CdtTrfTxInf[1].PmtId.EndToEndId"))
	assert.Equal(t, "200.00", target.GetString("FIToFICstmrCdtTrf.CdtTrfTxInf[1].IntrBkSttlmAmt.value"))
	assert.Equal(t, "EUR", target.GetString("FIToFICstmrCdtTrf.CdtTrfTxInf[0].IntrBkSttlmAmt.Ccy"))
	assert.Empty(t, report.Skipped)
}

func TestFieldMappingMissingSourceIsNoOp(t *testing.T) {
	doc := testDoc("miss",
		Clause{Type: ClauseFieldMapping, Source: "No.Such.Field", Target: "Out.X"},
		Clause{Type: ClauseFieldMapping, Source: "Nope[].Id", Target: "Out.Ids[].Id"},
	)
	target, report := mustApply(t, doc, testSource(), testApplyContext(nil))
	assert.Empty(t, report.Skipped, "nothing to copy is not a failure")
	assert.False(t, target.Has(core.MustParsePath("Out.X")))
}

func TestTransformations(t *testing.T) {
	doc := testDoc("fns",
		Clause{Type: ClauseFieldMapping, Source: "CstmrCdtTrfInitn.PmtInf.Dbtr.Nm", Target: "Out.Nm"},
		Clause{Type: ClauseFieldMapping, Source: "CstmrCdtTrfInitn.GrpHdr.NbOfTxs", Target: "Out.Count"},
		Clause{Type: ClauseFieldMapping, Source: "CstmrCdtTrfInitn.PmtInf.DbtrAcct.Id.IBAN", Target: "Out.IBAN"},
		Clause{Type: ClauseTransformation, Target: "Out.Nm", Function: FnTrim},
		Clause{Type: ClauseTransformation, Target: "Out.Nm", Function: FnUppercase},
		Clause{Type: ClauseTransformation, Target: "Out.Count", Function: FnPad, Args: map[string]interface{}{"length": 4}},
		Clause{Type: ClauseTransformation, Target: "Out.IBAN", Function: FnSubstring, Args: map[string]interface{}{"from": 0, "to": 2}},
		Clause{Type: ClauseTransformation, Target: "Out.Absent", Function: FnUppercase},
	)
	target, report := mustApply(t, doc, testSource(), testApplyContext(nil))
	assert.Equal(t, "ACME GMBH", target.GetString("Out.Nm"), "transformations chain in declaration order")
	assert.Equal(t, "0002", target.GetString("Out.Count"))
	assert.Equal(t, "DE", target.GetString("Out.IBAN"))
	assert.False(t, target.Has(core.MustParsePath("Out.Absent")), "absent target is a no-op")
	assert.Empty(t, report.Skipped)
}

func TestTransformationRegexReplace(t *testing.T) {
	doc := testDoc("re",
		Clause{Type: ClauseValueAssignment, Target: "Out.Ref", Value: "PAY 2026/03/01"},
		Clause{Type: ClauseTransformation, Target: "Out.Ref", Function: FnRegexReplace,
			Args: map[string]interface{}{"pattern": "/", "replacement": "-"}},
	)
	target, _ := mustApply(t, doc, testSource(), testApplyContext(nil))
	assert.Equal(t, "PAY 2026-03-01", target.GetString("Out.Ref"))
}

func TestTransformationFanOut(t *testing.T) {
	doc := testDoc("fan-tx",
		Clause{
			Type:   ClauseFieldMapping,
			Source: "CstmrCdtTrfInitn.PmtInf.CdtTrfTxInf[].PmtId.EndToEndId",
			Target: "Out.Txs[].Ref",
		},
		Clause{Type: ClauseTransformation, Target: "Out.Txs[].Ref", Function: FnLowercase},
	)
	target, _ := mustApply(t, doc, testSource(), testApplyContext(nil))
	assert.Equal(t, "e2e-1", target.GetString("Out.Txs[0].Ref"))
	assert.Equal(t, "e2e-2", target.GetString("Out.Txs[1].Ref"))
}

func TestDefaultValueOnlyWhenAbsent(t *testing.T) {
	doc := testDoc("defaults",
		Clause{Type: ClauseValueAssignment, Target: "Out.Ccy", Value: "EUR"},
		Clause{Type: ClauseDefaultValue, Target: "Out.Ccy", Value: "USD"},
		Clause{Type: ClauseDefaultValue, Target: "Out.ChrgBr", Value: "SLEV"},
		Clause{Type: ClauseDefaultValue, Target: "Out.Ref", Value: "REF-${source.CstmrCdtTrfInitn.GrpHdr.MsgId}"},
	)
	target, _ := mustApply(t, doc, testSource(), testApplyContext(nil))
	assert.Equal(t, "EUR", target.GetString("Out.Ccy"))
	assert.Equal(t, "SLEV", target.GetString("Out.ChrgBr"))
	assert.Equal(t, "REF-M2", target.GetString("Out.Ref"), "defaults may be templates")
}

func TestValueAssignmentTemplatePreservesType(t *testing.T) {
	doc := testDoc("typed",
		Clause{Type: ClauseValueAssignment, Target: "Out.Sum", Value: "${source.CstmrCdtTrfInitn.GrpHdr.CtrlSum}"},
		Clause{Type: ClauseValueAssignment, Target: "Out.Label", Value: "sum=${source.CstmrCdtTrfInitn.GrpHdr.CtrlSum}"},
		Clause{Type: ClauseValueAssignment, Target: "Out.Flag", Value: true},
		Clause{Type: ClauseValueAssignment, Target: "Out.Max", Value: 9.5},
	)
	target, _ := mustApply(t, doc, testSource(), testApplyContext(nil))
	assert.Equal(t, 300.0, mustGet(t, target, "Out.Sum"), "bare placeholder keeps the numeric type")
	assert.Equal(t, "sum=300", target.GetString("Out.Label"))
	assert.Equal(t, true, mustGet(t, target, "Out.Flag"))
	assert.Equal(t, 9.5, mustGet(t, target, "Out.Max"))
}

func mustGet(t *testing.T, m core.Message, raw string) interface{} {
	t.Helper()
	v, ok := m.Get(core.MustParsePath(raw))
	require.True(t, ok, "path %s must resolve", raw)
	return v
}
