package mapping

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/kranthikarthan/PE-sub004/internal/core"
)

// The expression language used by DerivedValue clauses and Conditional
// predicates:
//
//	expr       := comparison
//	comparison := additive (( "==" | "!=" | ">" | ">=" | "<" | "<=" ) additive)?
//	additive   := multiplicative (( "+" | "-" ) multiplicative)*
//	multiplic. := unary (( "*" | "/" ) unary)*
//	unary      := "-" unary | primary
//	primary    := number | string | true | false | null
//	            | "${source." path "}"
//	            | ident "(" args ")"
//	            | "(" expr ")"
//
// Parsing is done once at compile time; evaluation walks the AST.

type tokenKind int

const (
	tkEOF tokenKind = iota
	tkNumber
	tkString
	tkIdent // true/false/null/function names
	tkRef   // ${source.path}
	tkOp    // + - * / == != > >= < <=
	tkLParen
	tkRParen
	tkComma
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

type lexer struct {
	input string
	pos   int
}

func (l *lexer) next() (token, error) {
	for l.pos < len(l.input) && unicode.IsSpace(rune(l.input[l.pos])) {
		l.pos++
	}
	if l.pos >= len(l.input) {
		return token{kind: tkEOF, pos: l.pos}, nil
	}
	start := l.pos
	c := l.input[l.pos]
	switch {
	case c == '(':
		l.pos++
		return token{tkLParen, "(", start}, nil
	case c == ')':
		l.pos++
		return token{tkRParen, ")", start}, nil
	case c == ',':
		l.pos++
		return token{tkComma, ",", start}, nil
	case c == '$':
		return l.lexRef()
	case c == '"':
		return l.lexString()
	case c >= '0' && c <= '9':
		return l.lexNumber()
	case isOpByte(c):
		return l.lexOperator()
	case isIdentByte(c):
		for l.pos < len(l.input) && isIdentByte(l.input[l.pos]) {
			l.pos++
		}
		return token{tkIdent, l.input[start:l.pos], start}, nil
	}
	return token{}, fmt.Errorf("unexpected character %q at offset %d", c, start)
}

func (l *lexer) lexRef() (token, error) {
	start := l.pos
	if !strings.HasPrefix(l.input[l.pos:], "${") {
		return token{}, fmt.Errorf("expected ${...} at offset %d", start)
	}
	end := strings.IndexByte(l.input[l.pos:], '}')
	if end < 0 {
		return token{}, fmt.Errorf("unterminated ${...} at offset %d", start)
	}
	inner := l.input[l.pos+2 : l.pos+end]
	l.pos += end + 1
	const prefix = "source."
	if !strings.HasPrefix(inner, prefix) {
		return token{}, fmt.Errorf("placeholder %q at offset %d: only ${source.<path>} is supported", inner, start)
	}
	path := strings.TrimPrefix(inner, prefix)
	if path == "" {
		return token{}, fmt.Errorf("empty source path at offset %d", start)
	}
	return token{tkRef, path, start}, nil
}

func (l *lexer) lexString() (token, error) {
	start := l.pos
	l.pos++ // opening quote
	var b strings.Builder
	for l.pos < len(l.input) {
		c := l.input[l.pos]
		if c == '\\' && l.pos+1 < len(l.input) {
			next := l.input[l.pos+1]
			switch next {
			case '"', '\\':
				b.WriteByte(next)
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			default:
				return token{}, fmt.Errorf("unknown escape \\%c at offset %d", next, l.pos)
			}
			l.pos += 2
			continue
		}
		if c == '"' {
			l.pos++
			return token{tkString, b.String(), start}, nil
		}
		b.WriteByte(c)
		l.pos++
	}
	return token{}, fmt.Errorf("unterminated string at offset %d", start)
}

func (l *lexer) lexNumber() (token, error) {
	start := l.pos
	seenDot := false
	for l.pos < len(l.input) {
		c := l.input[l.pos]
		if c == '.' {
			if seenDot {
				break
			}
			seenDot = true
			l.pos++
			continue
		}
		if c < '0' || c > '9' {
			break
		}
		l.pos++
	}
	text := l.input[start:l.pos]
	if _, err := strconv.ParseFloat(text, 64); err != nil {
		return token{}, fmt.Errorf("bad number %q at offset %d", text, start)
	}
	return token{tkNumber, text, start}, nil
}

func (l *lexer) lexOperator() (token, error) {
	start := l.pos
	two := ""
	if l.pos+1 < len(l.input) {
		two = l.input[l.pos : l.pos+2]
	}
	switch two {
	case "==", "!=", ">=", "<=":
		l.pos += 2
		return token{tkOp, two, start}, nil
	}
	one := string(l.input[l.pos])
	switch one {
	case "+", "-", "*", "/", ">", "<":
		l.pos++
		return token{tkOp, one, start}, nil
	}
	return token{}, fmt.Errorf("unknown operator at offset %d", start)
}

func isOpByte(c byte) bool {
	switch c {
	case '+', '-', '*', '/', '=', '!', '>', '<':
		return true
	}
	return false
}

func isIdentByte(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// ============================================================================
// AST
// ============================================================================

type exprNode interface {
	eval(ec *evalContext) (interface{}, error)
}

// The parser resolves source paths eagerly so path errors surface at compile
// time, not at apply time.

type parser struct {
	lex  *lexer
	cur  token
	peek bool
}

// ParseExpression compiles an expression string into an evaluable AST.
func ParseExpression(input string) (Expr, error) {
	if strings.TrimSpace(input) == "" {
		return Expr{}, fmt.Errorf("empty expression")
	}
	p := &parser{lex: &lexer{input: input}}
	if err := p.advance(); err != nil {
		return Expr{}, err
	}
	node, err := p.parseComparison()
	if err != nil {
		return Expr{}, err
	}
	if p.cur.kind != tkEOF {
		return Expr{}, fmt.Errorf("unexpected trailing input %q at offset %d", p.cur.text, p.cur.pos)
	}
	return Expr{raw: input, root: node}, nil
}

// Expr is a parsed, immutable expression.
type Expr struct {
	raw  string
	root exprNode
}

// IsZero reports an unparsed expression.
func (e Expr) IsZero() bool { return e.root == nil }

func (e Expr) String() string { return e.raw }

func (p *parser) advance() error {
	tok, err := p.lex.next()
	if err != nil {
		return err
	}
	p.cur = tok
	return nil
}

func (p *parser) parseComparison() (exprNode, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	if p.cur.kind == tkOp {
		switch p.cur.text {
		case "==", "!=", ">", ">=", "<", "<=":
			op := p.cur.text
			if err := p.advance(); err != nil {
				return nil, err
			}
			right, err := p.parseAdditive()
			if err != nil {
				return nil, err
			}
			return &binaryNode{op: op, left: left, right: right}, nil
		}
	}
	return left, nil
}

func (p *parser) parseAdditive() (exprNode, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for p.cur.kind == tkOp && (p.cur.text == "+" || p.cur.text == "-") {
		op := p.cur.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: op, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseMultiplicative() (exprNode, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.cur.kind == tkOp && (p.cur.text == "*" || p.cur.text == "/") {
		op := p.cur.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: op, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (exprNode, error) {
	if p.cur.kind == tkOp && p.cur.text == "-" {
		if err := p.advance(); err != nil {
			return nil, err
		}
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &negateNode{operand: operand}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (exprNode, error) {
	tok := p.cur
	switch tok.kind {
	case tkNumber:
		f, _ := strconv.ParseFloat(tok.text, 64)
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &litNode{value: f}, nil

	case tkString:
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &litNode{value: tok.text}, nil

	case tkRef:
		path, err := core.ParsePath(tok.text)
		if err != nil {
			return nil, fmt.Errorf("bad source path in ${source.%s}: %w", tok.text, err)
		}
		if path.HasEach() {
			return nil, fmt.Errorf("source path %q: [] markers are not allowed in expressions", tok.text)
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &sourceNode{path: path}, nil

	case tkIdent:
		switch tok.text {
		case "true":
			if err := p.advance(); err != nil {
				return nil, err
			}
			return &litNode{value: true}, nil
		case "false":
			if err := p.advance(); err != nil {
				return nil, err
			}
			return &litNode{value: false}, nil
		case "null":
			if err := p.advance(); err != nil {
				return nil, err
			}
			return &litNode{value: nil}, nil
		}
		return p.parseCall(tok.text)

	case tkLParen:
		if err := p.advance(); err != nil {
			return nil, err
		}
		inner, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		if p.cur.kind != tkRParen {
			return nil, fmt.Errorf("expected ) at offset %d", p.cur.pos)
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		return inner, nil
	}
	return nil, fmt.Errorf("unexpected token %q at offset %d", tok.text, tok.pos)
}

// arity of the supported functions; -1 would mean variadic but none are.
var functionArity = map[string]int{
	"uuid":      0,
	"timestamp": 0,
	"upper":     1,
	"lower":     1,
	"substring": 3,
}

func (p *parser) parseCall(name string) (exprNode, error) {
	arity, ok := functionArity[name]
	if !ok {
		return nil, fmt.Errorf("unknown function %q", name)
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	if p.cur.kind != tkLParen {
		return nil, fmt.Errorf("expected ( after %s", name)
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	var args []exprNode
	if p.cur.kind != tkRParen {
		for {
			arg, err := p.parseComparison()
			if err != nil {
				return nil, err
			}
			args = append(args, arg)
			if p.cur.kind == tkComma {
				if err := p.advance(); err != nil {
					return nil, err
				}
				continue
			}
			break
		}
	}
	if p.cur.kind != tkRParen {
		return nil, fmt.Errorf("expected ) closing %s(...)", name)
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	if len(args) != arity {
		return nil, fmt.Errorf("%s() takes %d argument(s), got %d", name, arity, len(args))
	}
	return &callNode{name: name, args: args}, nil
}
