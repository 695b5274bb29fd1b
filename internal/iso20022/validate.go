package iso20022

import (
	"fmt"
	"strconv"
	"time"

	"github.com/kranthikarthan/PE-sub004/internal/core"
)

// Result is the outcome of validating one message. Warnings never make a
// message invalid.
type Result struct {
	Valid     bool      `json:"valid"`
	Errors    []string  `json:"errors"`
	Warnings  []string  `json:"warnings"`
	Timestamp time.Time `json:"timestamp"`
}

type valueKind int

const (
	vAny valueKind = iota
	vString
	vNumeric
	vList
	vObject
)

// check is one presence/type requirement relative to the message root.
type check struct {
	path string
	want valueKind
	warn bool
}

// requiredByKind enumerates the group-header and block obligations per kind.
// The validator is strict about presence and basic types; full XSD
// conformance is out of scope.
var requiredByKind = map[Kind][]check{
	PAIN001: {
		{"GrpHdr.MsgId", vString, false},
		{"GrpHdr.CreDtTm", vString, false},
		{"GrpHdr.NbOfTxs", vNumeric, false},
		{"GrpHdr.InitgPty.Nm", vString, true},
		{"PmtInf", vList, false},
	},
	PACS008: {
		{"GrpHdr.MsgId", vString, false},
		{"GrpHdr.CreDtTm", vString, false},
		{"GrpHdr.NbOfTxs", vNumeric, false},
		{"GrpHdr.SttlmInf.SttlmMtd", vString, true},
		{"CdtTrfTxInf", vList, false},
	},
	PAIN002: {
		{"GrpHdr.MsgId", vString, false},
		{"GrpHdr.CreDtTm", vString, false},
		{"OrgnlGrpInfAndSts.OrgnlMsgId", vString, false},
		{"OrgnlGrpInfAndSts.GrpSts", vString, false},
	},
	PACS002: {
		{"GrpHdr.MsgId", vString, false},
		{"GrpHdr.CreDtTm", vString, false},
		{"OrgnlGrpInfAndSts.OrgnlMsgId", vString, false},
		{"OrgnlGrpInfAndSts.GrpSts", vString, false},
	},
	PACS004: {
		{"GrpHdr.MsgId", vString, false},
		{"GrpHdr.CreDtTm", vString, false},
		{"TxInf", vList, false},
	},
	PACS007: {
		{"GrpHdr.MsgId", vString, false},
		{"GrpHdr.CreDtTm", vString, false},
		{"TxInf", vList, false},
	},
	PACS028: {
		{"GrpHdr.MsgId", vString, false},
		{"GrpHdr.CreDtTm", vString, false},
		{"TxInf", vList, true},
	},
	CAMT029: {
		{"Assgnmt.Id", vString, false},
		{"Assgnmt.CreDtTm", vString, false},
		{"Sts.Conf", vString, true},
	},
	CAMT053: {
		{"GrpHdr.MsgId", vString, false},
		{"GrpHdr.CreDtTm", vString, false},
		{"Stmt", vList, false},
	},
	CAMT054: {
		{"GrpHdr.MsgId", vString, false},
		{"GrpHdr.CreDtTm", vString, false},
		{"Ntfctn", vList, false},
	},
	CAMT055: {
		{"Assgnmt.Id", vString, false},
		{"Assgnmt.CreDtTm", vString, false},
		{"Undrlyg", vList, false},
	},
	CAMT056: {
		{"Assgnmt.Id", vString, false},
		{"Assgnmt.CreDtTm", vString, false},
		{"Undrlyg", vList, false},
	},
}

// Validate checks a canonical tree against the obligations of kind.
func Validate(kind Kind, m core.Message) Result {
	res := Result{Timestamp: time.Now().UTC()}
	info, ok := kinds[kind]
	if !ok {
		res.Errors = append(res.Errors, fmt.Sprintf("unsupported kind %q", kind))
		return res
	}
	if _, ok := m[info.root]; !ok {
		res.Errors = append(res.Errors, fmt.Sprintf("missing root element %s", info.root))
		return res
	}
	for _, c := range requiredByKind[kind] {
		full := info.root + "." + c.path
		v, ok := m.Get(core.MustParsePath(full))
		if !ok || v == nil {
			res.report(c.warn, "missing required field %s", full)
			continue
		}
		if msg := typeMismatch(v, c.want); msg != "" {
			res.report(c.warn, "field %s %s", full, msg)
		}
	}
	validateTransactions(kind, m, &res)
	res.Valid = len(res.Errors) == 0
	return res
}

// ValidateAuto detects the kind from the root element, then validates.
func ValidateAuto(m core.Message) (Kind, Result) {
	kind, ok := DetectKind(m)
	if !ok {
		return "", Result{
			Errors:    []string{"unrecognized root element"},
			Timestamp: time.Now().UTC(),
		}
	}
	return kind, Validate(kind, m)
}

func (r *Result) report(warn bool, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if warn {
		r.Warnings = append(r.Warnings, msg)
	} else {
		r.Errors = append(r.Errors, msg)
	}
}

func typeMismatch(v interface{}, want valueKind) string {
	switch want {
	case vString:
		if _, ok := v.(string); !ok {
			return "must be a string"
		}
	case vNumeric:
		switch t := v.(type) {
		case float64:
		case string:
			if _, err := strconv.ParseFloat(t, 64); err != nil {
				return "must be numeric"
			}
		default:
			return "must be numeric"
		}
	case vList:
		list, ok := v.([]interface{})
		if !ok {
			return "must be a list"
		}
		if len(list) == 0 {
			return "must not be empty"
		}
	case vObject:
		switch v.(type) {
		case map[string]interface{}, core.Message:
		default:
			return "must be an object"
		}
	}
	return ""
}

// validateTransactions applies per-transaction obligations for the kinds
// that carry transaction blocks.
func validateTransactions(kind Kind, m core.Message, res *Result) {
	i := 0
	switch kind {
	case PAIN001:
		walkTransactions(m, kind, func(tx map[string]interface{}) {
			if txField(tx, "PmtId", "EndToEndId") == nil {
				res.report(false, "transaction %d: missing PmtId.EndToEndId", i)
			}
			if _, ok := tx["Amt"]; !ok {
				res.report(false, "transaction %d: missing Amt", i)
			}
			if _, ok := tx["Cdtr"]; !ok {
				res.report(true, "transaction %d: missing Cdtr", i)
			}
			i++
		})
	case PACS008:
		walkTransactions(m, kind, func(tx map[string]interface{}) {
			if txField(tx, "PmtId", "EndToEndId") == nil {
				res.report(false, "transaction %d: missing PmtId.EndToEndId", i)
			}
			if _, ok := tx["IntrBkSttlmAmt"]; !ok {
				res.report(false, "transaction %d: missing IntrBkSttlmAmt", i)
			}
			i++
		})
	case PACS004:
		walkTransactions(m, kind, func(tx map[string]interface{}) {
			if _, ok := tx["RtrdIntrBkSttlmAmt"]; !ok {
				res.report(true, "transaction %d: missing RtrdIntrBkSttlmAmt", i)
			}
			i++
		})
	case CAMT055, CAMT056:
		walkTransactions(m, kind, func(tx map[string]interface{}) {
			if _, ok := tx["CxlId"]; !ok {
				res.report(true, "transaction %d: missing CxlId", i)
			}
			i++
		})
	}
}

func txField(tx map[string]interface{}, parent, child string) interface{} {
	p, ok := tx[parent].(map[string]interface{})
	if !ok {
		return nil
	}
	return p[child]
}
