package core

import (
	"fmt"
	"strconv"
	"strings"
)

// Segment is one dotted step of a Path: a key, an optional list index, or a
// for-each marker (key[]).
type Segment struct {
	Key   string
	Index int // -1 when the segment carries no index
	Each  bool
}

// Path is a parsed field address. Grammar: segments joined by '.', each
// segment either `key`, `key[n]`, or `key[]`. At most one segment may carry
// the [] marker; it is the fan-out point for per-element clauses.
type Path struct {
	raw  string
	segs []Segment
	each int // position of the [] segment, -1 when absent
}

// ParsePath validates and parses a raw dotted path.
func ParsePath(raw string) (Path, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Path{}, fmt.Errorf("empty path")
	}
	p := Path{raw: trimmed, each: -1}
	for _, part := range strings.Split(trimmed, ".") {
		seg, err := parseSegment(part)
		if err != nil {
			return Path{}, fmt.Errorf("path %q: %w", trimmed, err)
		}
		if seg.Each {
			if p.each >= 0 {
				return Path{}, fmt.Errorf("path %q: more than one [] marker", trimmed)
			}
			p.each = len(p.segs)
		}
		p.segs = append(p.segs, seg)
	}
	return p, nil
}

// MustParsePath is ParsePath for compile-time constant paths.
func MustParsePath(raw string) Path {
	p, err := ParsePath(raw)
	if err != nil {
		panic(err)
	}
	return p
}

func parseSegment(part string) (Segment, error) {
	seg := Segment{Index: -1}
	key := part
	switch {
	case strings.HasSuffix(part, "[]"):
		seg.Each = true
		key = strings.TrimSuffix(part, "[]")
	case strings.Contains(part, "["):
		open := strings.IndexByte(part, '[')
		if !strings.HasSuffix(part, "]") {
			return Segment{}, fmt.Errorf("segment %q: unterminated index", part)
		}
		n, err := strconv.Atoi(part[open+1 : len(part)-1])
		if err != nil || n < 0 {
			return Segment{}, fmt.Errorf("segment %q: bad index", part)
		}
		seg.Index = n
		key = part[:open]
	}
	if key == "" {
		return Segment{}, fmt.Errorf("segment %q: empty key", part)
	}
	if strings.ContainsAny(key, "[] ") {
		return Segment{}, fmt.Errorf("segment %q: malformed", part)
	}
	seg.Key = key
	return seg, nil
}

func (p Path) String() string { return p.raw }

// Segments returns the parsed steps. Callers must not mutate the slice.
func (p Path) Segments() []Segment { return p.segs }

// HasEach reports whether the path carries a [] marker.
func (p Path) HasEach() bool { return p.each >= 0 }

// IsZero reports an unparsed/empty path.
func (p Path) IsZero() bool { return len(p.segs) == 0 }

// WithIndex substitutes the [] marker with a concrete element index,
// yielding a path usable with Get and Set.
func (p Path) WithIndex(i int) Path {
	if p.each < 0 {
		return p
	}
	segs := make([]Segment, len(p.segs))
	copy(segs, p.segs)
	segs[p.each].Each = false
	segs[p.each].Index = i
	return Path{raw: buildRaw(segs), segs: segs, each: -1}
}

// ListPath returns the path of the list the [] marker points at, so callers
// can measure it before fanning out.
func (p Path) ListPath() Path {
	if p.each < 0 {
		return p
	}
	segs := make([]Segment, p.each+1)
	copy(segs, p.segs[:p.each+1])
	segs[p.each].Each = false
	segs[p.each].Index = -1
	return Path{raw: buildRaw(segs), segs: segs, each: -1}
}

func buildRaw(segs []Segment) string {
	var b strings.Builder
	for i, s := range segs {
		if i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(s.Key)
		switch {
		case s.Each:
			b.WriteString("[]")
		case s.Index >= 0:
			b.WriteString("[")
			b.WriteString(strconv.Itoa(s.Index))
			b.WriteString("]")
		}
	}
	return b.String()
}
