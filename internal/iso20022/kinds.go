package iso20022

import (
	"fmt"
	"strings"

	"github.com/kranthikarthan/PE-sub004/internal/core"
)

// Kind identifies an ISO 20022 message family handled by the pipeline.
type Kind string

const (
	PAIN001 Kind = "pain.001"
	PAIN002 Kind = "pain.002"
	PACS002 Kind = "pacs.002"
	PACS004 Kind = "pacs.004"
	PACS007 Kind = "pacs.007"
	PACS008 Kind = "pacs.008"
	PACS028 Kind = "pacs.028"
	CAMT029 Kind = "camt.029"
	CAMT053 Kind = "camt.053"
	CAMT054 Kind = "camt.054"
	CAMT055 Kind = "camt.055"
	CAMT056 Kind = "camt.056"
)

// kindInfo pins the wire identity of each kind: the root element of the
// canonical tree, the versioned message name used in OrgnlMsgNmId, and the
// XML namespace.
type kindInfo struct {
	root      string
	nameID    string
	namespace string
}

var kinds = map[Kind]kindInfo{
	PAIN001: {"CstmrCdtTrfInitn", "pain.001.001.09", "urn:iso:std:iso:20022:tech:xsd:pain.001.001.09"},
	PAIN002: {"CstmrPmtStsRpt", "pain.002.001.10", "urn:iso:std:iso:20022:tech:xsd:pain.002.001.10"},
	PACS002: {"FIToFIPmtStsRpt", "pacs.002.001.10", "urn:iso:std:iso:20022:tech:xsd:pacs.002.001.10"},
	PACS004: {"PmtRtr", "pacs.004.001.09", "urn:iso:std:iso:20022:tech:xsd:pacs.004.001.09"},
	PACS007: {"FIToFIPmtRvsl", "pacs.007.001.09", "urn:iso:std:iso:20022:tech:xsd:pacs.007.001.09"},
	PACS008: {"FIToFICstmrCdtTrf", "pacs.008.001.08", "urn:iso:std:iso:20022:tech:xsd:pacs.008.001.08"},
	PACS028: {"FIToFIPmtStsReq", "pacs.028.001.03", "urn:iso:std:iso:20022:tech:xsd:pacs.028.001.03"},
	CAMT029: {"RsltnOfInvstgtn", "camt.029.001.09", "urn:iso:std:iso:20022:tech:xsd:camt.029.001.09"},
	CAMT053: {"BkToCstmrStmt", "camt.053.001.08", "urn:iso:std:iso:20022:tech:xsd:camt.053.001.08"},
	CAMT054: {"BkToCstmrDbtCdtNtfctn", "camt.054.001.08", "urn:iso:std:iso:20022:tech:xsd:camt.054.001.08"},
	CAMT055: {"CstmrPmtCxlReq", "camt.055.001.08", "urn:iso:std:iso:20022:tech:xsd:camt.055.001.08"},
	CAMT056: {"FIToFIPmtCxlReq", "camt.056.001.08", "urn:iso:std:iso:20022:tech:xsd:camt.056.001.08"},
}

// ParseKind accepts "pain.001", "PAIN.001" or a versioned name like
// "pain.001.001.09" and returns the canonical Kind.
func ParseKind(s string) (Kind, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	parts := strings.Split(norm, ".")
	if len(parts) >= 2 {
		norm = parts[0] + "." + parts[1]
	}
	k := Kind(norm)
	if _, ok := kinds[k]; !ok {
		return "", fmt.Errorf("unsupported message kind %q", s)
	}
	return k, nil
}

// Root returns the canonical root element for the kind.
func (k Kind) Root() string { return kinds[k].root }

// NameID returns the versioned ISO message name (used in OrgnlMsgNmId).
func (k Kind) NameID() string { return kinds[k].nameID }

// Namespace returns the XML namespace for the kind.
func (k Kind) Namespace() string { return kinds[k].namespace }

// Supported reports whether the kind is one the canonicalizer handles.
func (k Kind) Supported() bool {
	_, ok := kinds[k]
	return ok
}

func (k Kind) String() string { return string(k) }

// MessageID extracts the primary identifier of a message of this kind:
// GrpHdr.MsgId where present, otherwise the Assgnmt.Id used by camt
// investigation messages.
func (k Kind) MessageID(m core.Message) string {
	if id := m.GetString(k.Root() + ".GrpHdr.MsgId"); id != "" {
		return id
	}
	return m.GetString(k.Root() + ".Assgnmt.Id")
}

// DetectKind inspects the root element of a canonical tree and returns the
// matching kind.
func DetectKind(m core.Message) (Kind, bool) {
	for k, info := range kinds {
		if _, ok := m[info.root]; ok {
			return k, true
		}
	}
	return "", false
}
