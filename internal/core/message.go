package core

import (
	"fmt"
	"sort"
)

// MetadataKey is the reserved subtree the orchestrator writes for its own
// bookkeeping. It is stripped before a payload leaves the process.
const MetadataKey = "_metadata"

// Message is the canonical structured form of a payment payload: a tree of
// string-keyed nodes whose leaves are strings, numbers, booleans or null.
// Nested objects may be Message or plain map[string]interface{}; both shapes
// round-trip through encoding/json without loss.
type Message map[string]interface{}

// Clone returns a deep copy. Mutating the copy never touches the original.
func (m Message) Clone() Message {
	if m == nil {
		return nil
	}
	out := make(Message, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

// CloneValue deep-copies any subtree value so callers can graft it into
// another message without aliasing.
func CloneValue(v interface{}) interface{} { return cloneValue(v) }

func cloneValue(v interface{}) interface{} {
	switch t := v.(type) {
	case Message:
		return t.Clone()
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, vv := range t {
			out[k] = cloneValue(vv)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, vv := range t {
			out[i] = cloneValue(vv)
		}
		return out
	default:
		return t
	}
}

// Get resolves a concrete path (no [] marker). The second return reports
// whether every segment resolved.
func (m Message) Get(p Path) (interface{}, bool) {
	if m == nil || p.HasEach() || len(p.segs) == 0 {
		return nil, false
	}
	var node interface{} = m
	for _, seg := range p.segs {
		child, ok := childOf(node, seg.Key)
		if !ok {
			return nil, false
		}
		if seg.Index >= 0 {
			list, ok := child.([]interface{})
			if !ok || seg.Index >= len(list) {
				return nil, false
			}
			child = list[seg.Index]
		}
		node = child
	}
	return node, true
}

// GetString resolves a raw dotted path and formats the leaf as a string.
// Missing paths and parse failures yield "".
func (m Message) GetString(raw string) string {
	p, err := ParsePath(raw)
	if err != nil {
		return ""
	}
	v, ok := m.Get(p)
	if !ok || v == nil {
		return ""
	}
	return Stringify(v)
}

// Has reports whether the concrete path resolves.
func (m Message) Has(p Path) bool {
	_, ok := m.Get(p)
	return ok
}

// ListLen returns the length of the list at path, or -1 when the path does
// not resolve to a list.
func (m Message) ListLen(p Path) int {
	v, ok := m.Get(p)
	if !ok {
		return -1
	}
	list, ok := v.([]interface{})
	if !ok {
		return -1
	}
	return len(list)
}

// Set writes value at a concrete path, creating intermediate objects and
// growing lists as needed. Existing scalars in the way are overwritten by
// subtrees; paths are never removed, only overwritten.
func (m Message) Set(p Path, value interface{}) error {
	if m == nil {
		return fmt.Errorf("set %q: nil message", p.raw)
	}
	if p.HasEach() {
		return fmt.Errorf("set %q: path still carries a [] marker", p.raw)
	}
	if len(p.segs) == 0 {
		return fmt.Errorf("set: empty path")
	}
	var node interface{} = m
	for i, seg := range p.segs {
		mp, ok := asMap(node)
		if !ok {
			return fmt.Errorf("set %q: segment %q is not an object", p.raw, seg.Key)
		}
		last := i == len(p.segs)-1
		if seg.Index < 0 {
			if last {
				mp[seg.Key] = value
				return nil
			}
			child, exists := mp[seg.Key]
			if !exists || !isContainer(child) {
				fresh := map[string]interface{}{}
				mp[seg.Key] = fresh
				node = fresh
				continue
			}
			node = child
			continue
		}
		list, _ := mp[seg.Key].([]interface{})
		for len(list) <= seg.Index {
			list = append(list, nil)
		}
		mp[seg.Key] = list
		if last {
			list[seg.Index] = value
			return nil
		}
		elem, ok := asMap(list[seg.Index])
		if !ok {
			fresh := map[string]interface{}{}
			list[seg.Index] = fresh
			elem = fresh
		}
		node = elem
	}
	return nil
}

// Metadata returns the _metadata subtree, creating it when absent.
func (m Message) Metadata() map[string]interface{} {
	if sub, ok := asMap(m[MetadataKey]); ok {
		return sub
	}
	sub := map[string]interface{}{}
	m[MetadataKey] = sub
	return sub
}

// StripMetadata returns a deep copy with the _metadata subtree removed.
func (m Message) StripMetadata() Message {
	out := m.Clone()
	delete(out, MetadataKey)
	return out
}

// Flatten produces a single-level view keyed by dotted paths, with list
// elements addressed as key[i]. Used for template substitution and rule
// evaluation inputs.
func (m Message) Flatten() map[string]interface{} {
	out := map[string]interface{}{}
	flattenInto(out, "", m)
	return out
}

func flattenInto(out map[string]interface{}, prefix string, node interface{}) {
	switch t := node.(type) {
	case Message:
		flattenInto(out, prefix, map[string]interface{}(t))
	case map[string]interface{}:
		for k, v := range t {
			key := k
			if prefix != "" {
				key = prefix + "." + k
			}
			flattenInto(out, key, v)
		}
	case []interface{}:
		for i, v := range t {
			flattenInto(out, fmt.Sprintf("%s[%d]", prefix, i), v)
		}
	default:
		out[prefix] = t
	}
}

// FindValue searches the tree breadth-first for the first node stored under
// name. Keys at each level are visited in sorted order so the result is
// deterministic.
func (m Message) FindValue(name string) (interface{}, bool) {
	queue := []map[string]interface{}{map[string]interface{}(m)}
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		keys := make([]string, 0, len(node))
		for k := range node {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if k == name {
				return node[k], true
			}
		}
		for _, k := range keys {
			switch child := node[k].(type) {
			case Message:
				queue = append(queue, map[string]interface{}(child))
			case map[string]interface{}:
				queue = append(queue, child)
			case []interface{}:
				for _, el := range child {
					if sub, ok := asMap(el); ok {
						queue = append(queue, sub)
					}
				}
			}
		}
	}
	return nil, false
}

// Stringify renders a leaf value the way it appears on the wire: numbers
// without a trailing ".0" when integral, booleans as true/false.
func Stringify(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%g", t)
	case bool:
		if t {
			return "true"
		}
		return "false"
	default:
		return fmt.Sprintf("%v", t)
	}
}

func childOf(node interface{}, key string) (interface{}, bool) {
	mp, ok := asMap(node)
	if !ok {
		return nil, false
	}
	child, ok := mp[key]
	return child, ok
}

func asMap(node interface{}) (map[string]interface{}, bool) {
	switch t := node.(type) {
	case Message:
		return map[string]interface{}(t), true
	case map[string]interface{}:
		return t, true
	}
	return nil, false
}

func isContainer(node interface{}) bool {
	switch node.(type) {
	case Message, map[string]interface{}, []interface{}:
		return true
	}
	return false
}
