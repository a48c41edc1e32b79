package queryir

import (
	"slices"
	"strconv"
	"strings"

	"github.com/roach88/navq/internal/ir"
)

// Parse reads a query written as a LINQ-style method chain rooted at an
// entity set:
//
//	Set<Gear>().Where(g => g.Rank > @minRank).OrderBy(g => g.Nickname).ToList()
//
// Identifiers bound by an enclosing lambda are parameters; any other
// identifier followed by an argument list is a static function
// (Math.Abs(x), Coalesce(a, b)). Literals are ints, floats, double-quoted
// strings, true, false and null. checked(expr) marks arithmetic that must
// fail on overflow; cast<T>(x) is a hard cast, "x as T" a soft cast and
// "x is T" a type test.
//
// Parse errors are *TranslationError values of kind ErrInvalidQuery (or
// ErrIncludeMisuse for malformed include expressions) carrying the byte
// offset of the offending token.
func Parse(src string) (Node, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	t, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.kind != tokEOF {
		return nil, parseError(tok.pos, "unexpected "+describe(tok))
	}
	if t.node == nil {
		return nil, parseError(0, "query must start from an entity set such as Set<Gear>()")
	}
	if err := Validate(t.node); err != nil {
		return nil, err
	}
	return t.node, nil
}

// MustParse is like Parse but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustParse(src string) Node {
	n, err := Parse(src)
	if err != nil {
		panic(err)
	}
	return n
}

// term is what a parse step yields: a sequence (node) or a value (expr).
type term struct {
	node Node
	expr Expr
}

func exprTerm(e Expr) term { return term{expr: e} }
func nodeTerm(n Node) term { return term{node: n} }

// asExpr views t as an expression; sequences become subqueries.
func (t term) asExpr() Expr {
	if t.node != nil {
		return &Subquery{Query: t.node}
	}
	return t.expr
}

// asNode views t as a sequence; a collection valued expression becomes a
// Source over that expression.
func (t term) asNode() Node {
	if t.node != nil {
		return t.node
	}
	if sq, ok := t.expr.(*Subquery); ok {
		return sq.Query
	}
	return &Source{Collection: t.expr}
}

type parser struct {
	toks  []token
	pos   int
	scope []string // lambda parameters in scope, innermost last
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) peekAt(n int) token {
	if p.pos+n >= len(p.toks) {
		return p.toks[len(p.toks)-1]
	}
	return p.toks[p.pos+n]
}

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) isPunct(text string) bool {
	t := p.peek()
	return t.kind == tokPunct && t.text == text
}

func (p *parser) accept(text string) bool {
	if p.isPunct(text) {
		p.pos++
		return true
	}
	return false
}

func (p *parser) expect(text string) error {
	if p.accept(text) {
		return nil
	}
	tok := p.peek()
	return parseError(tok.pos, "expected '"+text+"' but found "+describe(tok))
}

func (p *parser) expectIdent() (token, error) {
	tok := p.peek()
	if tok.kind != tokIdent {
		return tok, parseError(tok.pos, "expected identifier but found "+describe(tok))
	}
	p.pos++
	return tok, nil
}

func describe(t token) string {
	switch t.kind {
	case tokEOF:
		return "end of query"
	case tokParam:
		return "'@" + t.text + "'"
	}
	return "'" + t.text + "'"
}

func (p *parser) inScope(name string) bool {
	return slices.Contains(p.scope, name)
}

// parseExpr parses a full expression: conditional and below.
func (p *parser) parseExpr() (term, error) {
	test, err := p.parseCoalesce()
	if err != nil {
		return term{}, err
	}
	if !p.accept("?") {
		return test, nil
	}
	then, err := p.parseExpr()
	if err != nil {
		return term{}, err
	}
	if err := p.expect(":"); err != nil {
		return term{}, err
	}
	els, err := p.parseExpr()
	if err != nil {
		return term{}, err
	}
	return exprTerm(&Conditional{Test: test.asExpr(), Then: then.asExpr(), Else: els.asExpr()}), nil
}

func (p *parser) parseCoalesce() (term, error) {
	left, err := p.parseBinary(0)
	if err != nil {
		return term{}, err
	}
	if !p.accept("??") {
		return left, nil
	}
	right, err := p.parseCoalesce()
	if err != nil {
		return term{}, err
	}
	return exprTerm(&Binary{Op: OpCoalesce, Left: left.asExpr(), Right: right.asExpr()}), nil
}

// Binary precedence levels, loosest first.
var binaryLevels = [][]BinaryOp{
	{OpOrElse},
	{OpAndAlso},
	{OpOr},
	{OpAnd},
	{OpEqual, OpNotEqual},
	{OpLess, OpLessEqual, OpGreater, OpGreaterEqual},
	{OpAdd, OpSubtract},
	{OpMultiply, OpDivide, OpModulo},
}

const relationalLevel = 5

func (p *parser) parseBinary(level int) (term, error) {
	if level == len(binaryLevels) {
		return p.parseUnary()
	}
	left, err := p.parseBinary(level + 1)
	if err != nil {
		return term{}, err
	}
	for {
		if level == relationalLevel {
			if tok := p.peek(); tok.kind == tokIdent && (tok.text == "is" || tok.text == "as") {
				p.next()
				typ, err := p.parseTypeName(false)
				if err != nil {
					return term{}, err
				}
				if tok.text == "is" {
					left = exprTerm(&TypeIs{Operand: left.asExpr(), Type: typ})
				} else {
					left = exprTerm(&TypeAs{Operand: left.asExpr(), Type: typ})
				}
				continue
			}
		}
		tok := p.peek()
		if tok.kind != tokPunct || !slices.Contains(binaryLevels[level], BinaryOp(tok.text)) {
			return left, nil
		}
		p.next()
		right, err := p.parseBinary(level + 1)
		if err != nil {
			return term{}, err
		}
		left = exprTerm(&Binary{Op: BinaryOp(tok.text), Left: left.asExpr(), Right: right.asExpr()})
	}
}

func (p *parser) parseUnary() (term, error) {
	switch {
	case p.accept("!"):
		operand, err := p.parseUnary()
		if err != nil {
			return term{}, err
		}
		return exprTerm(&Unary{Op: OpNot, Operand: operand.asExpr()}), nil
	case p.accept("-"):
		operand, err := p.parseUnary()
		if err != nil {
			return term{}, err
		}
		if c, ok := operand.expr.(*Constant); ok {
			switch v := c.Value.(type) {
			case ir.IRInt:
				return exprTerm(&Constant{Value: -v}), nil
			case ir.IRFloat:
				return exprTerm(&Constant{Value: -v}), nil
			}
		}
		return exprTerm(&Unary{Op: OpNegate, Operand: operand.asExpr()}), nil
	}
	return p.parsePostfix()
}

// Methods that take a type argument: x.OfType<Officer>().
var genericMethods = map[string]bool{"OfType": true}

func (p *parser) parsePostfix() (term, error) {
	t, err := p.parsePrimary()
	if err != nil {
		return term{}, err
	}
	for p.accept(".") {
		name, err := p.expectIdent()
		if err != nil {
			return term{}, err
		}
		var typeArg string
		if genericMethods[name.text] && p.isPunct("<") {
			p.next()
			if typeArg, err = p.parseTypeName(false); err != nil {
				return term{}, err
			}
			if err := p.expect(">"); err != nil {
				return term{}, err
			}
		}
		if !p.isPunct("(") {
			if typeArg != "" {
				return term{}, parseError(name.pos, name.text+" requires an argument list")
			}
			t = exprTerm(&Member{Target: t.asExpr(), Name: name.text})
			continue
		}
		args, err := p.parseArgs()
		if err != nil {
			return term{}, err
		}
		if t, err = p.applyMethod(t, name, typeArg, args); err != nil {
			return term{}, err
		}
	}
	return t, nil
}

func (p *parser) parsePrimary() (term, error) {
	tok := p.next()
	switch tok.kind {
	case tokInt:
		n, err := strconv.ParseInt(tok.text, 10, 64)
		if err != nil {
			return term{}, parseError(tok.pos, "integer literal out of range")
		}
		return exprTerm(&Constant{Value: ir.IRInt(n)}), nil
	case tokFloat:
		f, err := strconv.ParseFloat(tok.text, 64)
		if err != nil {
			return term{}, parseError(tok.pos, "invalid float literal")
		}
		return exprTerm(&Constant{Value: ir.IRFloat(f)}), nil
	case tokString:
		s, err := strconv.Unquote(tok.text)
		if err != nil {
			return term{}, parseError(tok.pos, "invalid string literal")
		}
		return exprTerm(&Constant{Value: ir.IRString(s)}), nil
	case tokParam:
		return exprTerm(&Parameter{Name: tok.text}), nil
	case tokPunct:
		if tok.text == "(" {
			inner, err := p.parseExpr()
			if err != nil {
				return term{}, err
			}
			if err := p.expect(")"); err != nil {
				return term{}, err
			}
			return inner, nil
		}
	case tokIdent:
		return p.parseIdent(tok)
	}
	return term{}, parseError(tok.pos, "unexpected "+describe(tok))
}

func (p *parser) parseIdent(tok token) (term, error) {
	switch tok.text {
	case "true":
		return exprTerm(&Constant{Value: ir.IRBool(true)}), nil
	case "false":
		return exprTerm(&Constant{Value: ir.IRBool(false)}), nil
	case "null":
		return exprTerm(&Constant{Value: ir.IRNull{}}), nil
	case "new":
		return p.parseNew()
	case "Set":
		if err := p.expect("<"); err != nil {
			return term{}, err
		}
		entity, err := p.expectIdent()
		if err != nil {
			return term{}, err
		}
		for _, punct := range []string{">", "(", ")"} {
			if err := p.expect(punct); err != nil {
				return term{}, err
			}
		}
		return nodeTerm(&Source{Entity: entity.text}), nil
	case "cast":
		if err := p.expect("<"); err != nil {
			return term{}, err
		}
		typ, err := p.parseTypeName(true)
		if err != nil {
			return term{}, err
		}
		if err := p.expect(">"); err != nil {
			return term{}, err
		}
		if err := p.expect("("); err != nil {
			return term{}, err
		}
		operand, err := p.parseExpr()
		if err != nil {
			return term{}, err
		}
		if err := p.expect(")"); err != nil {
			return term{}, err
		}
		return exprTerm(&Convert{Operand: operand.asExpr(), Type: typ}), nil
	case "checked":
		if err := p.expect("("); err != nil {
			return term{}, err
		}
		inner, err := p.parseExpr()
		if err != nil {
			return term{}, err
		}
		if err := p.expect(")"); err != nil {
			return term{}, err
		}
		return exprTerm(markChecked(inner.asExpr())), nil
	}

	if p.inScope(tok.text) {
		return exprTerm(&Param{Name: tok.text}), nil
	}

	// Static function: Name(args) or Namespace.Name(args).
	method := tok.text
	if p.isPunct(".") && p.peekAt(1).kind == tokIdent && p.peekAt(2).kind == tokPunct && p.peekAt(2).text == "(" {
		p.next()
		method += "." + p.next().text
	}
	if !p.isPunct("(") {
		return term{}, parseError(tok.pos, "unknown identifier '"+tok.text+"'")
	}
	args, err := p.parseArgs()
	if err != nil {
		return term{}, err
	}
	call := &Call{Method: method}
	for _, a := range args {
		if a.lambda != nil {
			return term{}, parseError(a.pos, method+" does not take a lambda argument")
		}
		call.Args = append(call.Args, a.expr)
	}
	return exprTerm(call), nil
}

func (p *parser) parseNew() (term, error) {
	if err := p.expect("{"); err != nil {
		return term{}, err
	}
	rec := &New{}
	for !p.accept("}") {
		if len(rec.Fields) > 0 {
			if err := p.expect(","); err != nil {
				return term{}, err
			}
		}
		start := p.peek()
		var name string
		if start.kind == tokIdent && p.peekAt(1).kind == tokPunct && p.peekAt(1).text == "=" {
			p.next()
			p.next()
			name = start.text
		}
		value, err := p.parseExpr()
		if err != nil {
			return term{}, err
		}
		e := value.asExpr()
		if name == "" {
			switch v := e.(type) {
			case *Member:
				name = v.Name
			case *Param:
				name = v.Name
			default:
				return term{}, parseError(start.pos, "anonymous type member needs a name")
			}
		}
		for _, f := range rec.Fields {
			if f.Name == name {
				return term{}, parseError(start.pos, "duplicate anonymous type member '"+name+"'")
			}
		}
		rec.Fields = append(rec.Fields, Field{Name: name, Value: e})
	}
	return exprTerm(rec), nil
}

// parseTypeName reads an entity or scalar type name. Only cast<...> takes
// nullable scalar types (int?); after "is"/"as" a '?' starts a conditional.
func (p *parser) parseTypeName(nullable bool) (string, error) {
	tok, err := p.expectIdent()
	if err != nil {
		return "", err
	}
	name := tok.text
	if nullable && p.accept("?") {
		name += "?"
	}
	return name, nil
}

type arg struct {
	lambda *Lambda
	expr   Expr
	pos    int
}

func (p *parser) parseArgs() ([]arg, error) {
	if err := p.expect("("); err != nil {
		return nil, err
	}
	var args []arg
	for !p.accept(")") {
		if len(args) > 0 {
			if err := p.expect(","); err != nil {
				return nil, err
			}
		}
		pos := p.peek().pos
		if p.lambdaAhead() {
			l, err := p.parseLambda()
			if err != nil {
				return nil, err
			}
			args = append(args, arg{lambda: l, pos: pos})
			continue
		}
		t, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		args = append(args, arg{expr: t.asExpr(), pos: pos})
	}
	return args, nil
}

// lambdaAhead recognizes "x =>", "() =>" and "(a, b) =>".
func (p *parser) lambdaAhead() bool {
	if p.peek().kind == tokIdent {
		t := p.peekAt(1)
		return t.kind == tokPunct && t.text == "=>"
	}
	if !p.isPunct("(") {
		return false
	}
	i := 1
	for {
		t := p.peekAt(i)
		if t.kind == tokPunct && t.text == ")" {
			next := p.peekAt(i + 1)
			return next.kind == tokPunct && next.text == "=>"
		}
		if t.kind != tokIdent {
			return false
		}
		i++
		if sep := p.peekAt(i); sep.kind == tokPunct && sep.text == "," {
			i++
		}
	}
}

func (p *parser) parseLambda() (*Lambda, error) {
	var params []string
	if p.accept("(") {
		for !p.accept(")") {
			if len(params) > 0 {
				if err := p.expect(","); err != nil {
					return nil, err
				}
			}
			tok, err := p.expectIdent()
			if err != nil {
				return nil, err
			}
			params = append(params, tok.text)
		}
	} else {
		tok, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		params = append(params, tok.text)
	}
	if err := p.expect("=>"); err != nil {
		return nil, err
	}

	saved := len(p.scope)
	p.scope = append(p.scope, params...)
	body, err := p.parseExpr()
	p.scope = p.scope[:saved]
	if err != nil {
		return nil, err
	}
	return &Lambda{Params: params, Body: body.asExpr()}, nil
}

// markChecked flags the arithmetic lexically inside checked(...).
func markChecked(e Expr) Expr {
	switch v := e.(type) {
	case *Binary:
		markChecked(v.Left)
		markChecked(v.Right)
		if v.Op.IsArithmetic() {
			v.Checked = true
		}
	case *Unary:
		markChecked(v.Operand)
	case *Conditional:
		markChecked(v.Test)
		markChecked(v.Then)
		markChecked(v.Else)
	case *Convert:
		markChecked(v.Operand)
	case *Call:
		for _, a := range v.Args {
			markChecked(a)
		}
	}
	return e
}

func (p *parser) applyMethod(recv term, name token, typeArg string, args []arg) (term, error) {
	lambdaArg := func(i, arity int) (*Lambda, error) {
		if i >= len(args) || args[i].lambda == nil {
			return nil, parseError(name.pos, name.text+": argument "+strconv.Itoa(i+1)+" must be a lambda")
		}
		if len(args[i].lambda.Params) != arity {
			return nil, parseError(args[i].pos, name.text+": lambda must take "+strconv.Itoa(arity)+" parameter(s)")
		}
		return args[i].lambda, nil
	}
	exprArg := func(i int) (Expr, error) {
		if i >= len(args) || args[i].lambda != nil {
			return nil, parseError(name.pos, name.text+": argument "+strconv.Itoa(i+1)+" must be an expression")
		}
		return args[i].expr, nil
	}
	argCount := func(allowed ...int) error {
		if slices.Contains(allowed, len(args)) {
			return nil
		}
		return parseError(name.pos, name.text+": wrong number of arguments")
	}
	terminal := func(op TerminalOp, input Node) term {
		return nodeTerm(&Terminal{Input: input, Op: op})
	}

	switch name.text {
	case "Where":
		if err := argCount(1); err != nil {
			return term{}, err
		}
		pred, err := lambdaArg(0, 1)
		if err != nil {
			return term{}, err
		}
		return nodeTerm(&Filter{Input: recv.asNode(), Predicate: pred}), nil

	case "Select":
		if err := argCount(1); err != nil {
			return term{}, err
		}
		sel, err := lambdaArg(0, 1)
		if err != nil {
			return term{}, err
		}
		return nodeTerm(&Project{Input: recv.asNode(), Selector: sel}), nil

	case "SelectMany":
		if err := argCount(1, 2); err != nil {
			return term{}, err
		}
		coll, err := lambdaArg(0, 1)
		if err != nil {
			return term{}, err
		}
		sm := &SelectMany{Input: recv.asNode(), Collection: coll}
		if len(args) == 2 {
			if sm.Result, err = lambdaArg(1, 2); err != nil {
				return term{}, err
			}
		}
		return nodeTerm(sm), nil

	case "OrderBy", "OrderByDescending":
		if err := argCount(1); err != nil {
			return term{}, err
		}
		key, err := lambdaArg(0, 1)
		if err != nil {
			return term{}, err
		}
		return nodeTerm(&OrderBy{
			Input: recv.asNode(),
			Keys:  []SortKey{{Key: key, Descending: name.text == "OrderByDescending"}},
		}), nil

	case "ThenBy", "ThenByDescending":
		if err := argCount(1); err != nil {
			return term{}, err
		}
		key, err := lambdaArg(0, 1)
		if err != nil {
			return term{}, err
		}
		ob, ok := recv.asNode().(*OrderBy)
		if !ok {
			return term{}, parseError(name.pos, name.text+" must follow OrderBy or ThenBy")
		}
		keys := append(slices.Clone(ob.Keys), SortKey{Key: key, Descending: name.text == "ThenByDescending"})
		return nodeTerm(&OrderBy{Input: ob.Input, Keys: keys}), nil

	case "GroupBy":
		if err := argCount(1, 2, 3); err != nil {
			return term{}, err
		}
		key, err := lambdaArg(0, 1)
		if err != nil {
			return term{}, err
		}
		gb := &GroupBy{Input: recv.asNode(), Key: key}
		switch len(args) {
		case 2:
			if args[1].lambda != nil && len(args[1].lambda.Params) == 2 {
				gb.Result = args[1].lambda
			} else if gb.Element, err = lambdaArg(1, 1); err != nil {
				return term{}, err
			}
		case 3:
			if gb.Element, err = lambdaArg(1, 1); err != nil {
				return term{}, err
			}
			if gb.Result, err = lambdaArg(2, 2); err != nil {
				return term{}, err
			}
		}
		return nodeTerm(gb), nil

	case "Join", "LeftJoin", "GroupJoin":
		if err := argCount(4); err != nil {
			return term{}, err
		}
		innerExpr, err := exprArg(0)
		if err != nil {
			return term{}, err
		}
		inner := exprTerm(innerExpr).asNode()
		outerKey, err := lambdaArg(1, 1)
		if err != nil {
			return term{}, err
		}
		innerKey, err := lambdaArg(2, 1)
		if err != nil {
			return term{}, err
		}
		result, err := lambdaArg(3, 2)
		if err != nil {
			return term{}, err
		}
		if name.text == "GroupJoin" {
			return nodeTerm(&GroupJoin{Outer: recv.asNode(), Inner: inner, OuterKey: outerKey, InnerKey: innerKey, Result: result}), nil
		}
		kind := JoinInner
		if name.text == "LeftJoin" {
			kind = JoinLeft
		}
		return nodeTerm(&Join{Kind: kind, Outer: recv.asNode(), Inner: inner, OuterKey: outerKey, InnerKey: innerKey, Result: result}), nil

	case "Concat", "Union", "Except", "Intersect":
		if err := argCount(1); err != nil {
			return term{}, err
		}
		other, err := exprArg(0)
		if err != nil {
			return term{}, err
		}
		return nodeTerm(&SetCombine{Op: SetOp(name.text), Left: recv.asNode(), Right: exprTerm(other).asNode()}), nil

	case "OfType":
		if typeArg == "" || strings.HasSuffix(typeArg, "?") {
			return term{}, parseError(name.pos, "OfType requires an entity type argument")
		}
		if err := argCount(0); err != nil {
			return term{}, err
		}
		return nodeTerm(&TypeFilter{Input: recv.asNode(), Type: typeArg}), nil

	case "Take", "Skip":
		if err := argCount(1); err != nil {
			return term{}, err
		}
		count, err := exprArg(0)
		if err != nil {
			return term{}, err
		}
		if name.text == "Take" {
			return nodeTerm(&Take{Input: recv.asNode(), Count: count}), nil
		}
		return nodeTerm(&Skip{Input: recv.asNode(), Count: count}), nil

	case "Distinct":
		if err := argCount(0); err != nil {
			return term{}, err
		}
		return nodeTerm(&Distinct{Input: recv.asNode()}), nil

	case "DefaultIfEmpty":
		if err := argCount(0); err != nil {
			return term{}, err
		}
		return nodeTerm(&DefaultIfEmpty{Input: recv.asNode()}), nil

	case "AsQueryable":
		if err := argCount(0); err != nil {
			return term{}, err
		}
		return nodeTerm(recv.asNode()), nil

	case "Include":
		if err := argCount(1); err != nil {
			return term{}, err
		}
		path, err := p.includeArg(args[0])
		if err != nil {
			return term{}, err
		}
		return nodeTerm(&Include{Input: recv.asNode(), Path: path}), nil

	case "ThenInclude":
		if err := argCount(1); err != nil {
			return term{}, err
		}
		prev, ok := recv.asNode().(*Include)
		if !ok {
			return term{}, parseError(name.pos, "ThenInclude must follow Include or ThenInclude")
		}
		if args[0].lambda == nil {
			return term{}, parseError(args[0].pos, "ThenInclude requires a lambda")
		}
		path, err := p.includeArg(args[0])
		if err != nil {
			return term{}, err
		}
		full := append(slices.Clone(prev.Path), path...)
		return nodeTerm(&Include{Input: prev, Path: full}), nil

	case "ToList", "ToArray":
		if err := argCount(0); err != nil {
			return term{}, err
		}
		return terminal(OpToList, recv.asNode()), nil

	case "First", "FirstOrDefault", "Single", "SingleOrDefault", "Count", "LongCount", "Any":
		if err := argCount(0, 1); err != nil {
			return term{}, err
		}
		input := recv.asNode()
		if len(args) == 1 {
			pred, err := lambdaArg(0, 1)
			if err != nil {
				return term{}, err
			}
			input = &Filter{Input: input, Predicate: pred}
		}
		return terminal(TerminalOp(name.text), input), nil

	case "All":
		if err := argCount(1); err != nil {
			return term{}, err
		}
		pred, err := lambdaArg(0, 1)
		if err != nil {
			return term{}, err
		}
		return nodeTerm(&Terminal{Input: recv.asNode(), Op: OpAll, Selector: pred}), nil

	case "Sum", "Average", "Min", "Max":
		if err := argCount(0, 1); err != nil {
			return term{}, err
		}
		t := &Terminal{Input: recv.asNode(), Op: TerminalOp(name.text)}
		if len(args) == 1 {
			sel, err := lambdaArg(0, 1)
			if err != nil {
				return term{}, err
			}
			t.Selector = sel
		}
		return nodeTerm(t), nil

	case "ElementAt", "ElementAtOrDefault":
		if err := argCount(1); err != nil {
			return term{}, err
		}
		index, err := exprArg(0)
		if err != nil {
			return term{}, err
		}
		return nodeTerm(&Terminal{Input: recv.asNode(), Op: TerminalOp(name.text), Index: index}), nil
	}

	call := &Call{Target: recv.asExpr(), Method: name.text}
	for _, a := range args {
		if a.lambda != nil {
			return term{}, parseError(a.pos, name.text+" does not take a lambda argument")
		}
		call.Args = append(call.Args, a.expr)
	}
	return exprTerm(call), nil
}

// includeArg turns an Include/ThenInclude argument into path segments.
// String paths are dot separated navigation names; lambda paths are member
// chains from the parameter, optionally through a soft or hard cast, with
// an optional Where/OrderBy/Skip/Take chain on the last collection.
func (p *parser) includeArg(a arg) ([]IncludeSegment, error) {
	if a.lambda == nil {
		c, ok := a.expr.(*Constant)
		if !ok {
			return nil, parseError(a.pos, "Include requires a lambda or a string path")
		}
		s, ok := c.Value.(ir.IRString)
		if !ok || s == "" {
			return nil, parseError(a.pos, "Include requires a lambda or a string path")
		}
		var path []IncludeSegment
		for _, part := range strings.Split(string(s), ".") {
			if part == "" {
				return nil, IncludeMisuse(string(s), "empty path segment")
			}
			path = append(path, IncludeSegment{Name: part})
		}
		return path, nil
	}
	if len(a.lambda.Params) != 1 {
		return nil, parseError(a.pos, "include lambda must take one parameter")
	}
	path, err := IncludePath(a.lambda)
	if err != nil {
		return nil, err
	}
	if len(path) == 0 {
		return nil, IncludeMisuse(FormatLambda(a.lambda), "include must name at least one navigation")
	}
	return path, nil
}

// IncludePath extracts the navigation path written in an include lambda.
func IncludePath(l *Lambda) ([]IncludeSegment, error) {
	return includePath(l.Body, l.Params[0], l)
}

func includePath(e Expr, param string, l *Lambda) ([]IncludeSegment, error) {
	misuse := func() error {
		return IncludeMisuse(FormatLambda(l), "include path must be a member chain from '%s'", param)
	}
	switch v := e.(type) {
	case *Param:
		if v.Name != param {
			return nil, misuse()
		}
		return nil, nil
	case *Member:
		target, typ := v.Target, ""
		switch cast := target.(type) {
		case *TypeAs:
			target, typ = cast.Operand, cast.Type
		case *Convert:
			target, typ = cast.Operand, cast.Type
		}
		prefix, err := includePath(target, param, l)
		if err != nil {
			return nil, err
		}
		return append(prefix, IncludeSegment{Name: v.Name, Type: typ}), nil
	case *Subquery:
		filter := &IncludeFilter{}
		node := v.Query
		// Accept (in reading order) Where, OrderBy/ThenBy, Skip, Take.
		stage := 4
		for {
			switch n := node.(type) {
			case *Take:
				if stage < 4 {
					return nil, misuse()
				}
				filter.Take, node, stage = n.Count, n.Input, 3
				continue
			case *Skip:
				if stage < 3 {
					return nil, misuse()
				}
				filter.Skip, node, stage = n.Count, n.Input, 2
				continue
			case *OrderBy:
				if stage < 2 {
					return nil, misuse()
				}
				filter.Keys, node, stage = n.Keys, n.Input, 1
				continue
			case *Filter:
				if stage < 1 {
					return nil, misuse()
				}
				filter.Where, node, stage = n.Predicate, n.Input, 0
				continue
			case *Source:
				if n.Collection == nil {
					return nil, misuse()
				}
				path, err := includePath(n.Collection, param, l)
				if err != nil {
					return nil, err
				}
				if len(path) == 0 {
					return nil, misuse()
				}
				path[len(path)-1].Filter = filter
				return path, nil
			}
			return nil, misuse()
		}
	}
	return nil, misuse()
}
