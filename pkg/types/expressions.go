package types

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Operator is a binary operation inside a variable expression.
type Operator string

// Operator values enumerate the supported binary operations.
const (
	OpAdd          Operator = "+"
	OpSubtract     Operator = "-"
	OpMultiply     Operator = "*"
	OpDivide       Operator = "/"
	OpEqual        Operator = "="
	OpNotEqual     Operator = "!="
	OpLess         Operator = "<"
	OpLessEqual    Operator = "<="
	OpGreater      Operator = ">"
	OpGreaterEqual Operator = ">="
)

// NamedVariable is a symbolic reference to a database-derived scalar,
// resolved at evaluation time against the reference server database.
type NamedVariable string

// NamedVariable values enumerate the known named quantities. The setMax*
// family reads the most recently changed DERSetting; the rtgMax* family the
// most recently changed DERCapability (rating). The neg* variants negate the
// underlying value for charting/limit comparisons.
const (
	VarNow                     NamedVariable = "now"
	VarSetMaxW                 NamedVariable = "setMaxW"
	VarSetMaxVA                NamedVariable = "setMaxVA"
	VarSetMaxVar               NamedVariable = "setMaxVar"
	VarSetMaxVarNeg            NamedVariable = "setMaxVarNeg"
	VarSetMaxChargeRateW       NamedVariable = "setMaxChargeRateW"
	VarSetMaxDischargeRateW    NamedVariable = "setMaxDischargeRateW"
	VarSetMaxWh                NamedVariable = "setMaxWh"
	VarSetMinPFOverExcited     NamedVariable = "setMinPFOverExcited"
	VarSetMinPFUnderExcited    NamedVariable = "setMinPFUnderExcited"
	VarRtgMaxW                 NamedVariable = "rtgMaxW"
	VarRtgMaxVA                NamedVariable = "rtgMaxVA"
	VarRtgMaxVar               NamedVariable = "rtgMaxVar"
	VarRtgMaxChargeRateW       NamedVariable = "rtgMaxChargeRateW"
	VarRtgMaxDischargeRateW    NamedVariable = "rtgMaxDischargeRateW"
	VarNegRtgMaxChargeRateW    NamedVariable = "neg-rtgMaxChargeRateW"
	VarNegRtgMaxDischargeRateW NamedVariable = "neg-rtgMaxDischargeRateW"
)

// ExprKind discriminates the variants of an expression node.
type ExprKind int

// ExprKind values.
const (
	ExprConstant ExprKind = iota
	ExprNamed
	ExprOperation
)

// Expr is one node of an immutable variable expression tree: a constant, a
// named variable, or a binary operation over two sub-expressions.
type Expr struct {
	Kind     ExprKind
	Value    any           // set when Kind == ExprConstant
	Variable NamedVariable // set when Kind == ExprNamed
	Op       Operator      // set when Kind == ExprOperation
	LHS      *Expr         // set when Kind == ExprOperation
	RHS      *Expr         // set when Kind == ExprOperation
}

// Constant returns a constant expression node.
func Constant(v any) *Expr { return &Expr{Kind: ExprConstant, Value: v} }

// Named returns a named-variable expression node.
func Named(v NamedVariable) *Expr { return &Expr{Kind: ExprNamed, Variable: v} }

// Operation returns a binary-operation expression node.
func Operation(op Operator, lhs, rhs *Expr) *Expr {
	return &Expr{Kind: ExprOperation, Op: op, LHS: lhs, RHS: rhs}
}

func (e *Expr) String() string {
	switch e.Kind {
	case ExprConstant:
		return fmt.Sprintf("%v", e.Value)
	case ExprNamed:
		return string(e.Variable)
	case ExprOperation:
		return fmt.Sprintf("(%s %s %s)", e.LHS, e.Op, e.RHS)
	}
	return "<invalid expr>"
}

// IsExpressionString reports whether a raw test-definition value is the
// textual form of a variable expression (leading '$').
func IsExpressionString(v any) bool {
	s, ok := v.(string)
	return ok && strings.HasPrefix(s, "$")
}

// ParseExpression parses the textual expression form used in test procedure
// definitions. Supported forms:
//
//	$now
//	$setMaxW
//	$(setMaxW * 1.5)
//	$((rtgMaxW - setMaxW) / 2)
//
// Operands are named variables, numeric literals, or nested parenthesised
// expressions.
func ParseExpression(raw string) (*Expr, error) {
	if !strings.HasPrefix(raw, "$") {
		return nil, fmt.Errorf("expression %q must start with '$'", raw)
	}
	body := strings.TrimSpace(raw[1:])
	if body == "" {
		return nil, fmt.Errorf("empty expression %q", raw)
	}

	p := &exprParser{input: body}
	expr, err := p.parse()
	if err != nil {
		return nil, fmt.Errorf("parsing expression %q: %w", raw, err)
	}
	return expr, nil
}

type exprParser struct {
	input string
	pos   int
}

func (p *exprParser) parse() (*Expr, error) {
	expr, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos != len(p.input) {
		return nil, fmt.Errorf("unexpected trailing input at offset %d", p.pos)
	}
	return expr, nil
}

func (p *exprParser) parseOperand() (*Expr, error) {
	p.skipSpace()
	if p.pos >= len(p.input) {
		return nil, fmt.Errorf("unexpected end of expression")
	}

	switch c := p.input[p.pos]; {
	case c == '(':
		return p.parseOperation()
	case c == '-' || c == '.' || unicode.IsDigit(rune(c)):
		return p.parseNumber()
	default:
		return p.parseName()
	}
}

// parseOperation consumes "(lhs op rhs)".
func (p *exprParser) parseOperation() (*Expr, error) {
	p.pos++ // consume '('
	lhs, err := p.parseOperand()
	if err != nil {
		return nil, err
	}

	op, err := p.parseOperator()
	if err != nil {
		return nil, err
	}

	rhs, err := p.parseOperand()
	if err != nil {
		return nil, err
	}

	p.skipSpace()
	if p.pos >= len(p.input) || p.input[p.pos] != ')' {
		return nil, fmt.Errorf("expected ')' at offset %d", p.pos)
	}
	p.pos++
	return Operation(op, lhs, rhs), nil
}

func (p *exprParser) parseOperator() (Operator, error) {
	p.skipSpace()
	// Two character operators first so "<=" doesn't lex as "<".
	for _, op := range []Operator{OpNotEqual, OpLessEqual, OpGreaterEqual, OpEqual, OpAdd, OpSubtract, OpMultiply, OpDivide, OpLess, OpGreater} {
		if strings.HasPrefix(p.input[p.pos:], string(op)) {
			p.pos += len(op)
			return op, nil
		}
	}
	return "", fmt.Errorf("expected operator at offset %d", p.pos)
}

func (p *exprParser) parseNumber() (*Expr, error) {
	start := p.pos
	if p.input[p.pos] == '-' {
		p.pos++
	}
	for p.pos < len(p.input) && (unicode.IsDigit(rune(p.input[p.pos])) || p.input[p.pos] == '.') {
		p.pos++
	}
	text := p.input[start:p.pos]
	if i, err := strconv.ParseInt(text, 10, 64); err == nil {
		return Constant(i), nil
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid numeric literal %q", text)
	}
	return Constant(f), nil
}

func (p *exprParser) parseName() (*Expr, error) {
	start := p.pos
	for p.pos < len(p.input) {
		c := rune(p.input[p.pos])
		if !unicode.IsLetter(c) && !unicode.IsDigit(c) && c != '-' && c != '_' {
			break
		}
		p.pos++
	}
	name := p.input[start:p.pos]
	if name == "" {
		return nil, fmt.Errorf("expected operand at offset %d", start)
	}
	return Named(NamedVariable(name)), nil
}

func (p *exprParser) skipSpace() {
	for p.pos < len(p.input) && p.input[p.pos] == ' ' {
		p.pos++
	}
}
