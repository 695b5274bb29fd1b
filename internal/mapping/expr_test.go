package mapping

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kranthikarthan/PE-sub004/internal/core"
)

func testEvalContext(source core.Message) *evalContext {
	return &evalContext{
		source:  source,
		now:     time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC),
		newUUID: func() string { return "00000000-0000-4000-8000-000000000001" },
	}
}

func evalString(t *testing.T, input string, source core.Message) interface{} {
	t.Helper()
	expr, err := ParseExpression(input)
	require.NoError(t, err, "parse %q", input)
	v, err := expr.Eval(testEvalContext(source))
	require.NoError(t, err, "eval %q", input)
	return v
}

func TestExpressionLiterals(t *testing.T) {
	assert.Equal(t, 42.0, evalString(t, "42", nil))
	assert.Equal(t, 3.14, evalString(t, "3.14", nil))
	assert.Equal(t, "hello", evalString(t, `"hello"`, nil))
	assert.Equal(t, "say \"hi\"\n", evalString(t, `"say \"hi\"\n"`, nil))
	assert.Equal(t, true, evalString(t, "true", nil))
	assert.Equal(t, false, evalString(t, "false", nil))
	assert.Nil(t, evalString(t, "null", nil))
	assert.Equal(t, -7.0, evalString(t, "-7", nil))
}

func TestExpressionArithmetic(t *testing.T) {
	assert.Equal(t, 7.0, evalString(t, "1 + 2 * 3", nil), "precedence")
	assert.Equal(t, 9.0, evalString(t, "(1 + 2) * 3", nil))
	assert.Equal(t, 2.5, evalString(t, "5 / 2", nil))
	assert.Equal(t, -1.0, evalString(t, "2 - 3", nil))
}

func TestExpressionStringConcatVsCoercion(t *testing.T) {
	// Two strings concatenate even when both look numeric.
	assert.Equal(t, "105", evalString(t, `"10" + "5"`, nil))
	// String mixed with a number coerces to arithmetic.
	assert.Equal(t, 15.0, evalString(t, `"10" + 5`, nil))
	assert.Equal(t, 21.0, evalString(t, `"10.5" * 2`, nil))
}

func TestExpressionCoercionFailure(t *testing.T) {
	expr, err := ParseExpression(`"acme" * 2`)
	require.NoError(t, err)
	_, err = expr.Eval(testEvalContext(nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "want number")

	expr, err = ParseExpression("1 / 0")
	require.NoError(t, err)
	_, err = expr.Eval(testEvalContext(nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "division by zero")
}

func TestExpressionComparisons(t *testing.T) {
	assert.Equal(t, true, evalString(t, `"100" == 100`, nil), "numeric strings compare numerically")
	assert.Equal(t, false, evalString(t, `"100" != 100.0`, nil))
	assert.Equal(t, true, evalString(t, `"apple" < "banana"`, nil))
	assert.Equal(t, true, evalString(t, "2 >= 2", nil))
	assert.Equal(t, false, evalString(t, "1 > 2", nil))
	assert.Equal(t, true, evalString(t, "null == null", nil))
	assert.Equal(t, false, evalString(t, `null == "x"`, nil))
}

func TestExpressionSourceRefs(t *testing.T) {
	source := core.Message{
		"GrpHdr": map[string]interface{}{"MsgId": "M42", "NbOfTxs": "2"},
		"Amt":    100.0,
		"Txs": []interface{}{
			map[string]interface{}{"Id": "T1"},
			map[string]interface{}{"Id": "T2"},
		},
	}
	assert.Equal(t, "M42", evalString(t, "${source.GrpHdr.MsgId}", source))
	assert.Equal(t, 110.0, evalString(t, "${source.Amt} + 10", source))
	assert.Equal(t, "T2", evalString(t, "${source.Txs[1].Id}", source))
	assert.Equal(t, true, evalString(t, `${source.GrpHdr.NbOfTxs} == 2`, source))
}

func TestExpressionTotality(t *testing.T) {
	// Unresolved source paths yield null, never an error.
	assert.Nil(t, evalString(t, "${source.No.Such.Path}", core.Message{}))
	assert.Equal(t, false, evalString(t, `${source.Missing} == "x"`, core.Message{}))
	// Stringify(null) is "", so string functions stay total too.
	assert.Equal(t, "", evalString(t, "upper(${source.Missing})", core.Message{}))
}

func TestExpressionFunctions(t *testing.T) {
	source := core.Message{"Nm": "Acme GmbH"}
	assert.Equal(t, "00000000-0000-4000-8000-000000000001", evalString(t, "uuid()", source))
	assert.Equal(t, "2026-03-01T10:30:00.000Z", evalString(t, "timestamp()", source))
	assert.Equal(t, "ACME GMBH", evalString(t, "upper(${source.Nm})", source))
	assert.Equal(t, "acme gmbh", evalString(t, "lower(${source.Nm})", source))
	assert.Equal(t, "cme", evalString(t, `substring(${source.Nm}, 1, 4)`, source))
}

func TestExpressionSubstringOutOfRange(t *testing.T) {
	expr, err := ParseExpression(`substring("abc", 2, 9)`)
	require.NoError(t, err)
	_, err = expr.Eval(testEvalContext(nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of bounds")
}

func TestExpressionParseErrors(t *testing.T) {
	cases := map[string]string{
		"":                   "empty expression",
		"1 +":                "unexpected token",
		"${tenant.id}":       "only ${source.<path>}",
		"${source.}":         "empty source path",
		"${source.Txs[].Id}": "not allowed in expressions",
		"nope(1)":            "unknown function",
		"upper()":            "takes 1 argument",
		`substring("a", 1)`:  "takes 3 argument",
		"1 2":                "trailing input",
		"(1 + 2":             "expected )",
		`"unterminated`:      "unterminated string",
		"${source.unclosed":  "unterminated",
		"1 == 2 == 3":        "trailing input",
	}
	for input, wantErr := range cases {
		_, err := ParseExpression(input)
		require.Error(t, err, "input %q", input)
		assert.Contains(t, err.Error(), wantErr, "input %q", input)
	}
}

func TestTemplateRendering(t *testing.T) {
	source := core.Message{
		"GrpHdr": map[string]interface{}{"MsgId": "M7"},
		"Amt":    250.5,
	}

	tmpl, err := ParseTemplate("REF-${source.GrpHdr.MsgId}-X")
	require.NoError(t, err)
	assert.True(t, tmpl.HasRefs())
	assert.Equal(t, "REF-M7-X", tmpl.Render(source))

	// A bare single placeholder preserves the referenced type.
	tmpl, err = ParseTemplate("${source.Amt}")
	require.NoError(t, err)
	assert.Equal(t, 250.5, tmpl.Render(source))

	// Unresolved bare placeholder yields null; unresolved mixed renders "".
	tmpl, err = ParseTemplate("${source.Nope}")
	require.NoError(t, err)
	assert.Nil(t, tmpl.Render(source))

	tmpl, err = ParseTemplate("id=${source.Nope}!")
	require.NoError(t, err)
	assert.Equal(t, "id=!", tmpl.Render(source))

	// Plain strings are a single literal part.
	tmpl, err = ParseTemplate("SEPA")
	require.NoError(t, err)
	assert.False(t, tmpl.HasRefs())
	assert.Equal(t, "SEPA", tmpl.Render(source))
}

func TestTemplateParseErrors(t *testing.T) {
	_, err := ParseTemplate("x ${source.unclosed")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unterminated")

	_, err = ParseTemplate("${target.Foo}")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `must start with "source."`)

	_, err = ParseTemplate("${source.Txs[].Id}")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not allowed")
}
