package iso20022

import (
	"time"

	"github.com/kranthikarthan/PE-sub004/internal/core"
)

// Status is a group/transaction status code surfaced to clients.
type Status string

const (
	StatusACSC Status = "ACSC" // accepted, settlement completed
	StatusACSP Status = "ACSP" // accepted, settlement in process
	StatusPDNG Status = "PDNG" // pending
	StatusRJCT Status = "RJCT" // rejected
)

// Reason qualifies a status with the cause category.
type Reason string

const (
	ReasonAccepted   Reason = "G000"
	ReasonDuplicate  Reason = "DUPL"
	ReasonFraud      Reason = "FRAUD"
	ReasonReview     Reason = "REVIEW"
	ReasonNarrative  Reason = "NARR"
	ReasonValidation Reason = "VALIDATION"
)

// StampContext is the slice of flow state a generated message depends on.
// Transforms and builders are pure functions of (source, StampContext), so
// two calls with identical inputs yield identical trees.
type StampContext struct {
	MessageID     string
	CorrelationID string
	OriginalMsgID string // the ingress message id the flow started from
	Now           time.Time
	Direction     core.Direction
	InstgAgt      string // instructing agent BIC, optional
	InstdAgt      string // instructed agent BIC, optional
}

// creDtTm renders the ISO timestamp with millisecond precision in UTC.
func (sc StampContext) creDtTm() string {
	return sc.Now.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

// stamp fills the generated-message obligations: MsgId, CreDtTm, NbOfTxs,
// agent blocks and the _metadata subtree.
func (sc StampContext) stamp(m core.Message, root string, nbOfTxs int, originalMsgID string) {
	hdr := map[string]interface{}{
		"MsgId":   sc.MessageID,
		"CreDtTm": sc.creDtTm(),
		"NbOfTxs": core.Stringify(float64(nbOfTxs)),
	}
	if sc.InstgAgt != "" {
		hdr["InstgAgt"] = map[string]interface{}{"FinInstnId": map[string]interface{}{"BICFI": sc.InstgAgt}}
	}
	if sc.InstdAgt != "" {
		hdr["InstdAgt"] = map[string]interface{}{"FinInstnId": map[string]interface{}{"BICFI": sc.InstdAgt}}
	}
	sub, _ := m[root].(map[string]interface{})
	if sub == nil {
		sub = map[string]interface{}{}
		m[root] = sub
	}
	if existing, ok := sub["GrpHdr"].(map[string]interface{}); ok {
		for k, v := range hdr {
			existing[k] = v
		}
	} else {
		sub["GrpHdr"] = hdr
	}
	meta := m.Metadata()
	meta["originalMessageId"] = originalMsgID
	meta["correlationId"] = sc.CorrelationID
	meta["direction"] = string(sc.Direction)
	meta["generatedAt"] = sc.creDtTm()
}

// BuildStatus produces a status-report message (pain.002 or pacs.002) that
// acknowledges original with the given status and reason. addtlInf is
// carried in StsRsnInf.AddtlInf when non-empty.
func BuildStatus(ack Kind, original core.Message, origKind Kind, st Status, rsn Reason, addtlInf string, sc StampContext) core.Message {
	origID := origKind.MessageID(original)
	sts := map[string]interface{}{
		"OrgnlMsgId":   origID,
		"OrgnlMsgNmId": origKind.NameID(),
		"GrpSts":       string(st),
		"StsRsnInf": map[string]interface{}{
			"Rsn": map[string]interface{}{"Cd": string(rsn)},
		},
	}
	if addtlInf != "" {
		sts["StsRsnInf"].(map[string]interface{})["AddtlInf"] = addtlInf
	}
	out := core.Message{
		ack.Root(): map[string]interface{}{
			"OrgnlGrpInfAndSts": sts,
		},
	}
	sc.stamp(out, ack.Root(), originalTxCount(original, origKind), origID)
	if txs := statusTxInf(original, origKind, st); len(txs) > 0 {
		out[ack.Root()].(map[string]interface{})[txEchoKey(ack)] = txs
	}
	return out
}

// txEchoKey names the per-transaction echo block, which differs between the
// customer and interbank status reports.
func txEchoKey(ack Kind) string {
	if ack == PAIN002 {
		return "OrgnlPmtInfAndSts"
	}
	return "TxInfAndSts"
}

// statusTxInf echoes per-transaction identifiers back in the ack, so
// consumers can reconcile individual payments.
func statusTxInf(original core.Message, origKind Kind, st Status) []interface{} {
	var out []interface{}
	walkTransactions(original, origKind, func(tx map[string]interface{}) {
		entry := map[string]interface{}{"TxSts": string(st)}
		if pmtID, ok := tx["PmtId"].(map[string]interface{}); ok {
			if v, ok := pmtID["InstrId"]; ok {
				entry["OrgnlInstrId"] = v
			}
			if v, ok := pmtID["EndToEndId"]; ok {
				entry["OrgnlEndToEndId"] = v
			}
		}
		if v, ok := tx["OrgnlInstrId"]; ok {
			entry["OrgnlInstrId"] = v
		}
		if v, ok := tx["OrgnlEndToEndId"]; ok {
			entry["OrgnlEndToEndId"] = v
		}
		out = append(out, entry)
	})
	return out
}

// originalTxCount counts the transactions in the original message so the
// generated ack carries a truthful NbOfTxs.
func originalTxCount(m core.Message, k Kind) int {
	n := 0
	walkTransactions(m, k, func(map[string]interface{}) { n++ })
	if n == 0 {
		n = 1
	}
	return n
}

// walkTransactions visits the per-transaction blocks of the kinds that have
// them, in document order.
func walkTransactions(m core.Message, k Kind, visit func(map[string]interface{})) {
	root, ok := m[k.Root()].(map[string]interface{})
	if !ok {
		return
	}
	visitList := func(v interface{}) {
		list, ok := v.([]interface{})
		if !ok {
			return
		}
		for _, el := range list {
			if tx, ok := el.(map[string]interface{}); ok {
				visit(tx)
			}
		}
	}
	switch k {
	case PAIN001:
		if pmtInfs, ok := root["PmtInf"].([]interface{}); ok {
			for _, pi := range pmtInfs {
				if block, ok := pi.(map[string]interface{}); ok {
					visitList(block["CdtTrfTxInf"])
				}
			}
		}
	case PACS008:
		visitList(root["CdtTrfTxInf"])
	case PACS002:
		visitList(root["TxInfAndSts"])
	case PAIN002:
		visitList(root["OrgnlPmtInfAndSts"])
	case PACS004, PACS007, PACS028:
		visitList(root["TxInf"])
	case CAMT055, CAMT056:
		if und, ok := root["Undrlyg"].([]interface{}); ok {
			for _, u := range und {
				if block, ok := u.(map[string]interface{}); ok {
					visitList(block["TxInf"])
				}
			}
		}
	case CAMT053:
		if stmts, ok := root["Stmt"].([]interface{}); ok {
			for _, s := range stmts {
				if block, ok := s.(map[string]interface{}); ok {
					visitList(block["Ntry"])
				}
			}
		}
	case CAMT054:
		if ntfs, ok := root["Ntfctn"].([]interface{}); ok {
			for _, n := range ntfs {
				if block, ok := n.(map[string]interface{}); ok {
					visitList(block["Ntry"])
				}
			}
		}
	}
}
