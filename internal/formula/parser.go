package formula

import (
	"math"
	"strconv"

	ierr "github.com/meterbridge/meterbridge/internal/errors"
)

type node interface {
	eval(vars map[string]float64) (float64, error)
}

type numberNode float64

func (n numberNode) eval(map[string]float64) (float64, error) {
	return float64(n), nil
}

type varNode string

func (n varNode) eval(vars map[string]float64) (float64, error) {
	// Declared but unreported dimensions contribute zero.
	return vars[string(n)], nil
}

type unaryNode struct {
	operand node
}

func (n unaryNode) eval(vars map[string]float64) (float64, error) {
	v, err := n.operand.eval(vars)
	if err != nil {
		return 0, err
	}
	return -v, nil
}

type binaryNode struct {
	op    string
	left  node
	right node
}

func (n binaryNode) eval(vars map[string]float64) (float64, error) {
	left, err := n.left.eval(vars)
	if err != nil {
		return 0, err
	}
	right, err := n.right.eval(vars)
	if err != nil {
		return 0, err
	}

	switch n.op {
	case "+":
		return left + right, nil
	case "-":
		return left - right, nil
	case "*":
		return left * right, nil
	case "/":
		if right == 0 {
			return 0, divisionByZero()
		}
		return left / right, nil
	case "//":
		if right == 0 {
			return 0, divisionByZero()
		}
		return math.Floor(left / right), nil
	case "%":
		if right == 0 {
			return 0, divisionByZero()
		}
		return math.Mod(left, right), nil
	case "**":
		return math.Pow(left, right), nil
	default:
		return 0, ierr.NewErrorf("unknown operator %q", n.op).Mark(ierr.ErrFormula)
	}
}

func divisionByZero() error {
	return ierr.NewError("division by zero").Mark(ierr.ErrFormula)
}

type callNode struct {
	fn   string
	args []node
}

func (n callNode) eval(vars map[string]float64) (float64, error) {
	args := make([]float64, len(n.args))
	for i, arg := range n.args {
		v, err := arg.eval(vars)
		if err != nil {
			return 0, err
		}
		args[i] = v
	}
	return allowedFunctions[n.fn].apply(args), nil
}

// token kinds
const (
	tokNumber = iota
	tokIdent
	tokOp
	tokLParen
	tokRParen
	tokComma
	tokEOF
)

type token struct {
	kind int
	text string
}

func lex(input string) ([]token, error) {
	var tokens []token
	i := 0
	for i < len(input) {
		c := input[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c >= '0' && c <= '9':
			start := i
			for i < len(input) && input[i] >= '0' && input[i] <= '9' {
				i++
			}
			if i < len(input) && input[i] == '.' {
				i++
				for i < len(input) && input[i] >= '0' && input[i] <= '9' {
					i++
				}
			}
			tokens = append(tokens, token{tokNumber, input[start:i]})
		case isIdentStart(c):
			start := i
			for i < len(input) && isIdentPart(input[i]) {
				i++
			}
			tokens = append(tokens, token{tokIdent, input[start:i]})
		case c == '*':
			if i+1 < len(input) && input[i+1] == '*' {
				tokens = append(tokens, token{tokOp, "**"})
				i += 2
			} else {
				tokens = append(tokens, token{tokOp, "*"})
				i++
			}
		case c == '/':
			if i+1 < len(input) && input[i+1] == '/' {
				tokens = append(tokens, token{tokOp, "//"})
				i += 2
			} else {
				tokens = append(tokens, token{tokOp, "/"})
				i++
			}
		case c == '+' || c == '-' || c == '%':
			tokens = append(tokens, token{tokOp, string(c)})
			i++
		case c == '(':
			tokens = append(tokens, token{tokLParen, "("})
			i++
		case c == ')':
			tokens = append(tokens, token{tokRParen, ")"})
			i++
		case c == ',':
			tokens = append(tokens, token{tokComma, ","})
			i++
		default:
			return nil, ierr.NewErrorf("formula contains disallowed character %q", string(c)).
				Mark(ierr.ErrFormula)
		}
	}
	tokens = append(tokens, token{tokEOF, ""})
	return tokens, nil
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

type parser struct {
	tokens   []token
	pos      int
	declared map[string]bool
}

func parse(expression string, declared map[string]bool) (node, error) {
	tokens, err := lex(expression)
	if err != nil {
		return nil, err
	}

	p := &parser{tokens: tokens, declared: declared}
	root, err := p.parseSum()
	if err != nil {
		return nil, err
	}
	if p.peek().kind != tokEOF {
		return nil, ierr.NewErrorf("unexpected %q in formula", p.peek().text).
			Mark(ierr.ErrFormula)
	}
	return root, nil
}

func (p *parser) peek() token {
	return p.tokens[p.pos]
}

func (p *parser) next() token {
	t := p.tokens[p.pos]
	p.pos++
	return t
}

func (p *parser) acceptOp(ops ...string) (string, bool) {
	t := p.peek()
	if t.kind != tokOp {
		return "", false
	}
	for _, op := range ops {
		if t.text == op {
			p.pos++
			return op, true
		}
	}
	return "", false
}

// parseSum := parseProduct (('+'|'-') parseProduct)*
func (p *parser) parseSum() (node, error) {
	left, err := p.parseProduct()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.acceptOp("+", "-")
		if !ok {
			return left, nil
		}
		right, err := p.parseProduct()
		if err != nil {
			return nil, err
		}
		left = binaryNode{op: op, left: left, right: right}
	}
}

// parseProduct := parseUnary (('*'|'/'|'//'|'%') parseUnary)*
func (p *parser) parseProduct() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.acceptOp("*", "/", "//", "%")
		if !ok {
			return left, nil
		}
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = binaryNode{op: op, left: left, right: right}
	}
}

// parseUnary := ('+'|'-') parseUnary | parsePower
func (p *parser) parseUnary() (node, error) {
	if op, ok := p.acceptOp("+", "-"); ok {
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		if op == "-" {
			return unaryNode{operand: operand}, nil
		}
		return operand, nil
	}
	return p.parsePower()
}

// parsePower := parseAtom ('**' parseUnary)?  (right associative)
func (p *parser) parsePower() (node, error) {
	base, err := p.parseAtom()
	if err != nil {
		return nil, err
	}
	if _, ok := p.acceptOp("**"); ok {
		exponent, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return binaryNode{op: "**", left: base, right: exponent}, nil
	}
	return base, nil
}

func (p *parser) parseAtom() (node, error) {
	t := p.next()
	switch t.kind {
	case tokNumber:
		v, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, ierr.NewErrorf("invalid number %q", t.text).Mark(ierr.ErrFormula)
		}
		return numberNode(v), nil

	case tokIdent:
		if p.peek().kind == tokLParen {
			return p.parseCall(t.text)
		}
		if !p.declared[t.text] {
			return nil, ierr.NewErrorf("formula references undeclared identifier %q", t.text).
				WithHint("Formulas may only reference declared base dimensions").
				Mark(ierr.ErrFormula)
		}
		return varNode(t.text), nil

	case tokLParen:
		inner, err := p.parseSum()
		if err != nil {
			return nil, err
		}
		if p.next().kind != tokRParen {
			return nil, ierr.NewError("missing closing parenthesis").Mark(ierr.ErrFormula)
		}
		return inner, nil

	default:
		return nil, ierr.NewErrorf("unexpected %q in formula", t.text).Mark(ierr.ErrFormula)
	}
}

func (p *parser) parseCall(name string) (node, error) {
	spec, ok := allowedFunctions[name]
	if !ok {
		return nil, ierr.NewErrorf("formula calls disallowed function %q", name).
			WithHint("Allowed functions are abs, min, max, round, int and float").
			Mark(ierr.ErrFormula)
	}

	p.next() // consume '('
	var args []node
	if p.peek().kind != tokRParen {
		for {
			arg, err := p.parseSum()
			if err != nil {
				return nil, err
			}
			args = append(args, arg)
			if p.peek().kind != tokComma {
				break
			}
			p.next()
		}
	}
	if p.next().kind != tokRParen {
		return nil, ierr.NewErrorf("missing closing parenthesis in call to %q", name).
			Mark(ierr.ErrFormula)
	}

	if len(args) < spec.minArgs || (spec.maxArgs > 0 && len(args) > spec.maxArgs) {
		return nil, ierr.NewErrorf("function %q called with %d arguments", name, len(args)).
			Mark(ierr.ErrFormula)
	}
	return callNode{fn: name, args: args}, nil
}
