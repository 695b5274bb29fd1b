package iso20022

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"sort"
	"strings"

	"github.com/kranthikarthan/PE-sub004/internal/core"
)

// ParseJSON decodes a JSON payload into the canonical tree.
func ParseJSON(raw []byte) (core.Message, error) {
	var m core.Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("parse message: %w", err)
	}
	return m, nil
}

// EncodeJSON renders the wire form of a message: metadata stripped, stable
// field ordering courtesy of encoding/json map sorting.
func EncodeJSON(m core.Message) ([]byte, error) {
	return json.Marshal(m.StripMetadata())
}

// EncodeXML renders the canonical tree as an ISO 20022 XML document with
// the namespace of the kind. Keys are emitted in sorted order; list values
// repeat their element name. A map holding exactly {Ccy, value} becomes an
// attributed amount element.
func EncodeXML(kind Kind, m core.Message) ([]byte, error) {
	if !kind.Supported() {
		return nil, fmt.Errorf("unsupported kind %q", kind)
	}
	wire := m.StripMetadata()
	var b strings.Builder
	b.WriteString(xml.Header)
	b.WriteString(fmt.Sprintf(`<Document xmlns="%s">`, kind.Namespace()))
	keys := sortedKeys(map[string]interface{}(wire))
	for _, k := range keys {
		if err := writeElement(&b, k, wire[k]); err != nil {
			return nil, err
		}
	}
	b.WriteString(`</Document>`)
	return []byte(b.String()), nil
}

func writeElement(b *strings.Builder, name string, v interface{}) error {
	switch t := v.(type) {
	case nil:
		fmt.Fprintf(b, "<%s/>", name)
	case map[string]interface{}:
		if ccy, val, ok := amountShape(t); ok {
			fmt.Fprintf(b, `<%s Ccy="%s">`, name, escape(ccy))
			b.WriteString(escape(core.Stringify(val)))
			fmt.Fprintf(b, "</%s>", name)
			return nil
		}
		fmt.Fprintf(b, "<%s>", name)
		for _, k := range sortedKeys(t) {
			if err := writeElement(b, k, t[k]); err != nil {
				return err
			}
		}
		fmt.Fprintf(b, "</%s>", name)
	case core.Message:
		return writeElement(b, name, map[string]interface{}(t))
	case []interface{}:
		for _, el := range t {
			if err := writeElement(b, name, el); err != nil {
				return err
			}
		}
	default:
		fmt.Fprintf(b, "<%s>", name)
		b.WriteString(escape(core.Stringify(t)))
		fmt.Fprintf(b, "</%s>", name)
	}
	return nil
}

// amountShape detects the {Ccy, value} convention used for monetary fields.
func amountShape(m map[string]interface{}) (string, interface{}, bool) {
	if len(m) != 2 {
		return "", nil, false
	}
	ccy, ok := m["Ccy"].(string)
	if !ok {
		return "", nil, false
	}
	val, ok := m["value"]
	if !ok {
		return "", nil, false
	}
	return ccy, val, true
}

func escape(s string) string {
	var b strings.Builder
	if err := xml.EscapeText(&b, []byte(s)); err != nil {
		return s
	}
	return b.String()
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
