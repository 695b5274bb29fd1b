package iso20022

import (
	"fmt"

	"github.com/kranthikarthan/PE-sub004/internal/core"
)

// TransformFunc rewrites a canonical tree of one kind into another. Every
// transform is a pure function of (source, StampContext): no I/O, no clock
// reads, no randomness.
type TransformFunc func(src core.Message, sc StampContext) core.Message

// builtins holds the canonical transformations used whenever no mapping
// document is effective for a flow.
var builtins = map[Kind]map[Kind]TransformFunc{
	PAIN001: {PACS008: pain001ToPacs008},
	PACS002: {PAIN002: pacs002ToPain002},
	PACS004: {PAIN002: pacs004ToPain002},
	CAMT054: {CAMT053: camt054ToCamt053},
	CAMT055: {PACS007: camt055ToPacs007},
	CAMT056: {PACS028: camt056ToPacs028},
}

// inverses are the reverse rewrites used to check round-trip identity on
// the fields a forward transform touches.
var inverses = map[Kind]map[Kind]TransformFunc{
	PACS008: {PAIN001: pacs008ToPain001},
	CAMT053: {CAMT054: camt053ToCamt054},
}

// HasTransform reports whether a built-in rewrite exists for the pair.
func HasTransform(from, to Kind) bool {
	_, ok := builtins[from][to]
	return ok
}

// Transform applies the built-in rewrite for the pair.
func Transform(from, to Kind, src core.Message, sc StampContext) (core.Message, error) {
	fn, ok := builtins[from][to]
	if !ok {
		return nil, fmt.Errorf("no built-in transformation %s -> %s", from, to)
	}
	return fn(src, sc), nil
}

// InverseTransform applies the reverse rewrite where one is defined.
func InverseTransform(from, to Kind, src core.Message, sc StampContext) (core.Message, error) {
	fn, ok := inverses[from][to]
	if !ok {
		return nil, fmt.Errorf("no inverse transformation %s -> %s", from, to)
	}
	return fn(src, sc), nil
}

// ============================================================================
// pain.001 -> pacs.008 (customer initiation to interbank credit transfer)
// ============================================================================

func pain001ToPacs008(src core.Message, sc StampContext) core.Message {
	root, _ := src[PAIN001.Root()].(map[string]interface{})
	out := core.Message{PACS008.Root(): map[string]interface{}{}}
	dst := out[PACS008.Root()].(map[string]interface{})

	var txs []interface{}
	if pmtInfs, ok := root["PmtInf"].([]interface{}); ok {
		for _, pi := range pmtInfs {
			block, ok := pi.(map[string]interface{})
			if !ok {
				continue
			}
			list, _ := block["CdtTrfTxInf"].([]interface{})
			for _, el := range list {
				tx, ok := el.(map[string]interface{})
				if !ok {
					continue
				}
				txs = append(txs, interbankTx(block, tx))
			}
		}
	}
	if len(txs) > 0 {
		dst["CdtTrfTxInf"] = txs
	}

	sc.stamp(out, PACS008.Root(), len(txs), PAIN001.MessageID(src))
	hdr := dst["GrpHdr"].(map[string]interface{})
	hdr["SttlmInf"] = map[string]interface{}{"SttlmMtd": "CLRG"}
	if sc.InstgAgt == "" {
		if agt := firstAgent(root, "PmtInf", "DbtrAgt"); agt != nil {
			hdr["InstgAgt"] = agt
		}
	}
	return out
}

// interbankTx flattens one pain.001 transaction plus its payment block into
// a pacs.008 credit-transfer entry.
func interbankTx(block, tx map[string]interface{}) map[string]interface{} {
	out := map[string]interface{}{}

	pmtID := map[string]interface{}{}
	if src, ok := tx["PmtId"].(map[string]interface{}); ok {
		copyKeys(pmtID, src, "InstrId", "EndToEndId", "TxId")
	}
	if _, ok := pmtID["TxId"]; !ok {
		if e2e, ok := pmtID["EndToEndId"]; ok {
			pmtID["TxId"] = e2e
		}
	}
	out["PmtId"] = pmtID

	if amt, ok := tx["Amt"].(map[string]interface{}); ok {
		if instd, ok := amt["InstdAmt"]; ok {
			out["IntrBkSttlmAmt"] = cloneAny(instd)
		}
	}
	out["ChrgBr"] = "SLEV"

	copyKeys(out, block, "Dbtr", "DbtrAcct", "DbtrAgt", "ReqdExctnDt")
	copyKeys(out, tx, "Cdtr", "CdtrAcct", "CdtrAgt", "RmtInf", "Purp")
	return out
}

// ============================================================================
// pacs.002 -> pain.002 (interbank status report to customer status report)
// ============================================================================

func pacs002ToPain002(src core.Message, sc StampContext) core.Message {
	root, _ := src[PACS002.Root()].(map[string]interface{})
	sts, _ := root["OrgnlGrpInfAndSts"].(map[string]interface{})

	outSts := map[string]interface{}{
		"OrgnlMsgNmId": PAIN001.NameID(),
	}
	origID := sc.OriginalMsgID
	if origID == "" && sts != nil {
		origID, _ = sts["OrgnlMsgId"].(string)
	}
	outSts["OrgnlMsgId"] = origID
	if sts != nil {
		copyKeys(outSts, sts, "GrpSts", "StsRsnInf")
	}

	out := core.Message{PAIN002.Root(): map[string]interface{}{
		"OrgnlGrpInfAndSts": outSts,
	}}
	if txs, ok := root["TxInfAndSts"].([]interface{}); ok {
		out[PAIN002.Root()].(map[string]interface{})["OrgnlPmtInfAndSts"] = cloneAny(txs)
	}
	sc.stamp(out, PAIN002.Root(), originalTxCount(src, PACS002), origID)
	return out
}

// ============================================================================
// pacs.004 -> pain.002 (payment return reported to the customer)
// ============================================================================

func pacs004ToPain002(src core.Message, sc StampContext) core.Message {
	root, _ := src[PACS004.Root()].(map[string]interface{})

	reason := string(ReasonNarrative)
	var pmtSts []interface{}
	if txs, ok := root["TxInf"].([]interface{}); ok {
		for _, el := range txs {
			tx, ok := el.(map[string]interface{})
			if !ok {
				continue
			}
			if r := nestedString(tx, "RtrRsnInf", "Rsn", "Cd"); r != "" && reason == string(ReasonNarrative) {
				reason = r
			}
			entry := map[string]interface{}{"TxSts": string(StatusRJCT)}
			copyKeys(entry, tx, "OrgnlInstrId", "OrgnlEndToEndId")
			pmtSts = append(pmtSts, entry)
		}
	}

	origID := sc.OriginalMsgID
	if origID == "" {
		origID = firstOriginalMsgID(root, "TxInf")
	}
	out := core.Message{PAIN002.Root(): map[string]interface{}{
		"OrgnlGrpInfAndSts": map[string]interface{}{
			"OrgnlMsgId":   origID,
			"OrgnlMsgNmId": PAIN001.NameID(),
			"GrpSts":       string(StatusRJCT),
			"StsRsnInf": map[string]interface{}{
				"Rsn": map[string]interface{}{"Cd": reason},
			},
		},
	}}
	if len(pmtSts) > 0 {
		out[PAIN002.Root()].(map[string]interface{})["OrgnlPmtInfAndSts"] = pmtSts
	}
	sc.stamp(out, PAIN002.Root(), originalTxCount(src, PACS004), origID)
	return out
}

// ============================================================================
// camt.054 -> camt.053 (debit/credit notification folded into a statement)
// ============================================================================

func camt054ToCamt053(src core.Message, sc StampContext) core.Message {
	root, _ := src[CAMT054.Root()].(map[string]interface{})

	var stmts []interface{}
	if ntfs, ok := root["Ntfctn"].([]interface{}); ok {
		for _, el := range ntfs {
			ntf, ok := el.(map[string]interface{})
			if !ok {
				continue
			}
			stmt := map[string]interface{}{"CreDtTm": sc.creDtTm()}
			copyKeys(stmt, ntf, "Id", "Acct", "Ntry")
			stmts = append(stmts, cloneAny(stmt))
		}
	}

	out := core.Message{CAMT053.Root(): map[string]interface{}{}}
	if len(stmts) > 0 {
		out[CAMT053.Root()].(map[string]interface{})["Stmt"] = stmts
	}
	sc.stamp(out, CAMT053.Root(), originalTxCount(src, CAMT054), CAMT054.MessageID(src))
	return out
}

// ============================================================================
// camt.055 -> pacs.007 (customer cancellation request to interbank reversal)
// ============================================================================

func camt055ToPacs007(src core.Message, sc StampContext) core.Message {
	root, _ := src[CAMT055.Root()].(map[string]interface{})

	var txs []interface{}
	eachUnderlying(root, func(tx map[string]interface{}) {
		entry := map[string]interface{}{}
		if cxlID, ok := tx["CxlId"]; ok {
			entry["RvslId"] = cxlID
		}
		copyKeys(entry, tx, "OrgnlGrpInf", "OrgnlInstrId", "OrgnlEndToEndId")
		if amt, ok := tx["OrgnlInstdAmt"]; ok {
			entry["RvsdIntrBkSttlmAmt"] = cloneAny(amt)
		}
		if rsn, ok := tx["CxlRsnInf"]; ok {
			entry["RvslRsnInf"] = cloneAny(rsn)
		}
		txs = append(txs, entry)
	})

	out := core.Message{PACS007.Root(): map[string]interface{}{}}
	if len(txs) > 0 {
		out[PACS007.Root()].(map[string]interface{})["TxInf"] = txs
	}
	sc.stamp(out, PACS007.Root(), len(txs), CAMT055.MessageID(src))
	return out
}

// ============================================================================
// camt.056 -> pacs.028 (FI cancellation request to status request)
// ============================================================================

func camt056ToPacs028(src core.Message, sc StampContext) core.Message {
	root, _ := src[CAMT056.Root()].(map[string]interface{})

	var txs []interface{}
	eachUnderlying(root, func(tx map[string]interface{}) {
		entry := map[string]interface{}{}
		if cxlID, ok := tx["CxlId"]; ok {
			entry["StsReqId"] = cxlID
		}
		copyKeys(entry, tx, "OrgnlGrpInf", "OrgnlInstrId", "OrgnlEndToEndId")
		txs = append(txs, entry)
	})

	out := core.Message{PACS028.Root(): map[string]interface{}{}}
	if len(txs) > 0 {
		out[PACS028.Root()].(map[string]interface{})["TxInf"] = txs
	}
	sc.stamp(out, PACS028.Root(), len(txs), CAMT056.MessageID(src))
	return out
}

// ============================================================================
// Inverse rewrites
// ============================================================================

// pacs008ToPain001 restores the customer view of an interbank credit
// transfer. The original MsgId is recovered from _metadata when the forward
// transform produced the input.
func pacs008ToPain001(src core.Message, sc StampContext) core.Message {
	root, _ := src[PACS008.Root()].(map[string]interface{})

	block := map[string]interface{}{"PmtMtd": "TRF"}
	var txs []interface{}
	if list, ok := root["CdtTrfTxInf"].([]interface{}); ok {
		for i, el := range list {
			tx, ok := el.(map[string]interface{})
			if !ok {
				continue
			}
			if i == 0 {
				copyKeys(block, tx, "Dbtr", "DbtrAcct", "DbtrAgt", "ReqdExctnDt")
			}
			entry := map[string]interface{}{}
			if pmtID, ok := tx["PmtId"].(map[string]interface{}); ok {
				id := map[string]interface{}{}
				copyKeys(id, pmtID, "InstrId", "EndToEndId")
				entry["PmtId"] = id
			}
			if amt, ok := tx["IntrBkSttlmAmt"]; ok {
				entry["Amt"] = map[string]interface{}{"InstdAmt": cloneAny(amt)}
			}
			copyKeys(entry, tx, "Cdtr", "CdtrAcct", "CdtrAgt", "RmtInf", "Purp")
			txs = append(txs, entry)
		}
	}
	if len(txs) > 0 {
		block["CdtTrfTxInf"] = txs
	}

	out := core.Message{PAIN001.Root(): map[string]interface{}{
		"PmtInf": []interface{}{block},
	}}
	origID := sc.OriginalMsgID
	if origID == "" {
		if meta, ok := src[core.MetadataKey].(map[string]interface{}); ok {
			origID, _ = meta["originalMessageId"].(string)
		}
	}
	sc.stamp(out, PAIN001.Root(), len(txs), PACS008.MessageID(src))
	if origID != "" {
		out[PAIN001.Root()].(map[string]interface{})["GrpHdr"].(map[string]interface{})["MsgId"] = origID
	}
	return out
}

// camt053ToCamt054 unfolds a statement back into a notification.
func camt053ToCamt054(src core.Message, sc StampContext) core.Message {
	root, _ := src[CAMT053.Root()].(map[string]interface{})

	var ntfs []interface{}
	if stmts, ok := root["Stmt"].([]interface{}); ok {
		for _, el := range stmts {
			stmt, ok := el.(map[string]interface{})
			if !ok {
				continue
			}
			ntf := map[string]interface{}{"CreDtTm": sc.creDtTm()}
			copyKeys(ntf, stmt, "Id", "Acct", "Ntry")
			ntfs = append(ntfs, cloneAny(ntf))
		}
	}

	out := core.Message{CAMT054.Root(): map[string]interface{}{}}
	if len(ntfs) > 0 {
		out[CAMT054.Root()].(map[string]interface{})["Ntfctn"] = ntfs
	}
	sc.stamp(out, CAMT054.Root(), originalTxCount(src, CAMT053), CAMT053.MessageID(src))
	return out
}

// ============================================================================
// Shared helpers
// ============================================================================

func copyKeys(dst, src map[string]interface{}, keys ...string) {
	for _, k := range keys {
		if v, ok := src[k]; ok {
			dst[k] = cloneAny(v)
		}
	}
}

func cloneAny(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, vv := range t {
			out[k] = cloneAny(vv)
		}
		return out
	case core.Message:
		return map[string]interface{}(t.Clone())
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, vv := range t {
			out[i] = cloneAny(vv)
		}
		return out
	default:
		return t
	}
}

func nestedString(m map[string]interface{}, keys ...string) string {
	var node interface{} = m
	for _, k := range keys {
		mp, ok := node.(map[string]interface{})
		if !ok {
			return ""
		}
		node, ok = mp[k]
		if !ok {
			return ""
		}
	}
	s, _ := node.(string)
	return s
}

func firstOriginalMsgID(root map[string]interface{}, listKey string) string {
	list, ok := root[listKey].([]interface{})
	if !ok {
		return ""
	}
	for _, el := range list {
		if tx, ok := el.(map[string]interface{}); ok {
			if id := nestedString(tx, "OrgnlGrpInf", "OrgnlMsgId"); id != "" {
				return id
			}
		}
	}
	return ""
}

func firstAgent(root map[string]interface{}, listKey, agentKey string) interface{} {
	list, ok := root[listKey].([]interface{})
	if !ok {
		return nil
	}
	for _, el := range list {
		if block, ok := el.(map[string]interface{}); ok {
			if agt, ok := block[agentKey]; ok {
				return cloneAny(agt)
			}
		}
	}
	return nil
}

// eachUnderlying visits the TxInf blocks nested under Undrlyg, as used by
// the camt cancellation messages.
func eachUnderlying(root map[string]interface{}, visit func(map[string]interface{})) {
	und, ok := root["Undrlyg"].([]interface{})
	if !ok {
		return
	}
	for _, u := range und {
		block, ok := u.(map[string]interface{})
		if !ok {
			continue
		}
		list, _ := block["TxInf"].([]interface{})
		for _, el := range list {
			if tx, ok := el.(map[string]interface{}); ok {
				visit(tx)
			}
		}
	}
}
