// Package parse turns module source into an *ast.Program.
package parse

import (
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/quill-lang/quill/ast"
	"github.com/quill-lang/quill/errs"
)

type parser struct {
	source string
	toks   []Token
	pos    int
}

// Parse parses src as the module named source. Failures are *errs.CompileError.
func Parse(source, src string) (*ast.Program, error) {
	toks, err := newLexer(source, src).tokens()
	if err != nil {
		var lerr *lexError
		if errors.As(err, &lerr) {
			return nil, &errs.CompileError{Msg: lerr.msg, Location: lerr.loc}
		}
		return nil, err
	}
	p := &parser{source: source, toks: toks}
	prog, err := p.program()
	if err != nil {
		return nil, err
	}
	return prog, nil
}

func (p *parser) peek() Token {
	return p.toks[p.pos]
}

func (p *parser) peekAt(n int) Token {
	if p.pos+n >= len(p.toks) {
		return p.toks[len(p.toks)-1]
	}
	return p.toks[p.pos+n]
}

func (p *parser) next() Token {
	t := p.toks[p.pos]
	if t.Kind != EOF {
		p.pos++
	}
	return t
}

func (p *parser) is(kind TokenKind, text string) bool {
	t := p.peek()
	return t.Kind == kind && t.Text == text
}

func (p *parser) isPunct(text string) bool {
	return p.is(PUNCT, text)
}

func (p *parser) accept(kind TokenKind, text string) bool {
	if p.is(kind, text) {
		p.next()
		return true
	}
	return false
}

func (p *parser) expect(kind TokenKind, text string) (Token, error) {
	if p.is(kind, text) {
		return p.next(), nil
	}
	return Token{}, p.errorf("expected %q, found %s", text, describe(p.peek()))
}

func (p *parser) expectIdent() (Token, error) {
	if p.peek().Kind == IDENT {
		return p.next(), nil
	}
	return Token{}, p.errorf("expected identifier, found %s", describe(p.peek()))
}

func (p *parser) loc(start Token) ast.Location {
	end := start.End
	if p.pos > 0 {
		end = p.toks[p.pos-1].End
	}
	return ast.Location{Source: p.source, Start: start.Start, End: end}
}

func (p *parser) errorf(format string, args ...any) error {
	t := p.peek()
	return errs.NewCompileError(ast.Location{Source: p.source, Start: t.Start, End: t.End}, format, args...)
}

func describe(t Token) string {
	if t.Kind == EOF {
		return "end of input"
	}
	return "\"" + t.Text + "\""
}

func (p *parser) program() (*ast.Program, error) {
	start := p.peek()
	prog := &ast.Program{}
	for p.is(KEYWORD, "import") {
		imp, err := p.importStatement()
		if err != nil {
			return nil, err
		}
		prog.Imports = append(prog.Imports, imp)
		if err := p.endOfStatement(); err != nil {
			return nil, err
		}
	}
	stmts, result, err := p.statements(EOF, "")
	if err != nil {
		return nil, err
	}
	prog.Statements = stmts
	prog.Result = result
	prog.Location = p.loc(start)
	return prog, nil
}

func (p *parser) importStatement() (*ast.Import, error) {
	start := p.next()
	path := p.peek()
	if path.Kind != STRING {
		return nil, p.errorf("expected import path string, found %s", describe(path))
	}
	p.next()
	if _, err := p.expect(KEYWORD, "as"); err != nil {
		return nil, err
	}
	name, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	return &ast.Import{Path: path.Text, Variable: name.Text, Location: p.loc(start)}, nil
}

func (p *parser) atEnd(kind TokenKind, text string) bool {
	t := p.peek()
	return t.Kind == EOF || (t.Kind == kind && t.Text == text)
}

// statements parses a statement list up to the closing token, with an optional trailing result expression.
func (p *parser) statements(kind TokenKind, text string) ([]ast.Stmt, ast.Expr, error) {
	var stmts []ast.Stmt
	for {
		for p.accept(PUNCT, ";") {
		}
		if p.atEnd(kind, text) {
			return stmts, nil, nil
		}
		stmt, err := p.statement()
		if err != nil {
			return nil, nil, err
		}
		if stmt == nil {
			expr, err := p.expr()
			if err != nil {
				return nil, nil, err
			}
			for p.accept(PUNCT, ";") {
			}
			if !p.atEnd(kind, text) {
				return nil, nil, p.errorf("unexpected %s after result expression", describe(p.peek()))
			}
			return stmts, expr, nil
		}
		stmts = append(stmts, stmt)
		if err := p.endOfStatement(); err != nil {
			return nil, nil, err
		}
	}
}

func (p *parser) endOfStatement() error {
	t := p.peek()
	if t.Kind == EOF || t.NewlineBefore || p.isPunct("}") {
		return nil
	}
	if p.accept(PUNCT, ";") {
		return nil
	}
	return p.errorf("expected end of statement, found %s", describe(t))
}

// statement returns nil, nil when the upcoming tokens are an expression rather than a definition.
func (p *parser) statement() (ast.Stmt, error) {
	start := p.peek()
	var decorators []*ast.Decorator
	for p.isPunct("@") {
		d, err := p.decorator()
		if err != nil {
			return nil, err
		}
		decorators = append(decorators, d)
	}
	exported := p.accept(KEYWORD, "export")
	if len(decorators) == 0 && !exported && !p.looksLikeDefinition() {
		return nil, nil
	}
	name, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	if p.isPunct("(") {
		lambda, err := p.defunTail(name)
		if err != nil {
			return nil, err
		}
		return &ast.DefunStatement{
			Name:       name.Text,
			Exported:   exported,
			Decorators: decorators,
			Lambda:     lambda,
			Location:   p.loc(start),
		}, nil
	}
	if _, err := p.expect(PUNCT, "="); err != nil {
		return nil, err
	}
	value, err := p.expr()
	if err != nil {
		return nil, err
	}
	return &ast.LetStatement{
		Name:       name.Text,
		Exported:   exported,
		Decorators: decorators,
		Value:      value,
		Location:   p.loc(start),
	}, nil
}

func (p *parser) decorator() (*ast.Decorator, error) {
	start := p.next()
	name, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	d := &ast.Decorator{Name: name.Text}
	if p.isPunct("(") {
		args, err := p.callArgs()
		if err != nil {
			return nil, err
		}
		d.Args = args
	}
	d.Location = p.loc(start)
	if !p.peek().NewlineBefore && !p.isPunct("@") && !p.is(KEYWORD, "export") && p.peek().Kind != IDENT {
		return nil, p.errorf("expected definition after decorator")
	}
	return d, nil
}

// looksLikeDefinition scans ahead for `name =` or `name(...) =`.
func (p *parser) looksLikeDefinition() bool {
	if p.peek().Kind != IDENT {
		return false
	}
	after := p.peekAt(1)
	if after.Kind == PUNCT && after.Text == "=" {
		return true
	}
	if after.Kind != PUNCT || after.Text != "(" || after.NewlineBefore {
		return false
	}
	depth := 0
	for i := p.pos + 1; i < len(p.toks); i++ {
		t := p.toks[i]
		if t.Kind == EOF {
			return false
		}
		if t.Kind != PUNCT {
			continue
		}
		switch t.Text {
		case "(", "[", "{":
			depth++
		case ")", "]", "}":
			depth--
			if depth == 0 {
				n := p.toks[i+1]
				return n.Kind == PUNCT && n.Text == "="
			}
		}
	}
	return false
}

func (p *parser) defunTail(name Token) (*ast.Lambda, error) {
	params, err := p.params("(", ")")
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(PUNCT, "="); err != nil {
		return nil, err
	}
	body, err := p.expr()
	if err != nil {
		return nil, err
	}
	return &ast.Lambda{Name: name.Text, Params: params, Body: body, Location: p.loc(name)}, nil
}

func (p *parser) params(open, close string) ([]*ast.Param, error) {
	if _, err := p.expect(PUNCT, open); err != nil {
		return nil, err
	}
	var params []*ast.Param
	for !p.isPunct(close) {
		name, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		param := &ast.Param{Name: name.Text}
		if p.accept(PUNCT, ":") {
			ann, err := p.or()
			if err != nil {
				return nil, err
			}
			param.Annotation = ann
		}
		param.Location = p.loc(name)
		params = append(params, param)
		if !p.accept(PUNCT, ",") {
			break
		}
	}
	if _, err := p.expect(PUNCT, close); err != nil {
		return nil, err
	}
	return params, nil
}

func (p *parser) expr() (ast.Expr, error) {
	if p.is(KEYWORD, "if") {
		start := p.next()
		cond, err := p.expr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(KEYWORD, "then"); err != nil {
			return nil, err
		}
		then, err := p.expr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(KEYWORD, "else"); err != nil {
			return nil, err
		}
		els, err := p.expr()
		if err != nil {
			return nil, err
		}
		return &ast.Ternary{Cond: cond, Then: then, Else: els, Location: p.loc(start)}, nil
	}
	start := p.peek()
	cond, err := p.or()
	if err != nil {
		return nil, err
	}
	if !p.accept(PUNCT, "?") {
		return cond, nil
	}
	then, err := p.expr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(PUNCT, ":"); err != nil {
		return nil, err
	}
	els, err := p.expr()
	if err != nil {
		return nil, err
	}
	return &ast.Ternary{Cond: cond, Then: then, Else: els, Location: p.loc(start)}, nil
}

var precedence = [][]string{
	{"||"},
	{"&&"},
	{"==", "!="},
	{"<", "<=", ">", ">="},
	{"+", "-"},
	{"*", "/"},
}

func (p *parser) or() (ast.Expr, error) {
	return p.binary(0)
}

func (p *parser) binary(level int) (ast.Expr, error) {
	if level == len(precedence) {
		return p.power()
	}
	start := p.peek()
	left, err := p.binary(level + 1)
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.matchOp(precedence[level])
		if !ok {
			return left, nil
		}
		right, err := p.binary(level + 1)
		if err != nil {
			return nil, err
		}
		left = &ast.InfixCall{Op: op, Left: left, Right: right, Location: p.loc(start)}
	}
}

func (p *parser) matchOp(ops []string) (string, bool) {
	t := p.peek()
	if t.Kind != PUNCT {
		return "", false
	}
	for _, op := range ops {
		if t.Text == op {
			p.next()
			return op, true
		}
	}
	return "", false
}

// power is right associative and binds tighter than unary minus on its left.
func (p *parser) power() (ast.Expr, error) {
	start := p.peek()
	base, err := p.unary()
	if err != nil {
		return nil, err
	}
	if !p.accept(PUNCT, "^") {
		return base, nil
	}
	exp, err := p.power()
	if err != nil {
		return nil, err
	}
	return &ast.InfixCall{Op: "^", Left: base, Right: exp, Location: p.loc(start)}, nil
}

func (p *parser) unary() (ast.Expr, error) {
	if p.isPunct("-") || p.isPunct("!") {
		start := p.next()
		arg, err := p.unary()
		if err != nil {
			return nil, err
		}
		return &ast.UnaryCall{Op: start.Text, Arg: arg, Location: p.loc(start)}, nil
	}
	return p.pipe()
}

func (p *parser) pipe() (ast.Expr, error) {
	start := p.peek()
	left, err := p.postfix()
	if err != nil {
		return nil, err
	}
	for p.accept(PUNCT, "->") {
		fnStart := p.peek()
		fn, err := p.primary()
		if err != nil {
			return nil, err
		}
		fn, err = p.lookups(fnStart, fn)
		if err != nil {
			return nil, err
		}
		var args []ast.Expr
		if p.isPunct("(") && !p.peek().NewlineBefore {
			args, err = p.callArgs()
			if err != nil {
				return nil, err
			}
		}
		left = &ast.Pipe{Left: left, Fn: fn, Args: args, Location: p.loc(start)}
	}
	return left, nil
}

func (p *parser) postfix() (ast.Expr, error) {
	start := p.peek()
	e, err := p.primary()
	if err != nil {
		return nil, err
	}
	for {
		switch {
		case p.isPunct("(") && !p.peek().NewlineBefore:
			args, err := p.callArgs()
			if err != nil {
				return nil, err
			}
			e = &ast.Call{Fn: e, Args: args, Location: p.loc(start)}
		case p.isPunct(".") || (p.isPunct("[") && !p.peek().NewlineBefore):
			e, err = p.lookup(start, e)
			if err != nil {
				return nil, err
			}
		default:
			return e, nil
		}
	}
}

// lookups applies trailing `.key` and `[key]` without calls; used for pipe targets.
func (p *parser) lookups(start Token, e ast.Expr) (ast.Expr, error) {
	var err error
	for p.isPunct(".") || (p.isPunct("[") && !p.peek().NewlineBefore) {
		e, err = p.lookup(start, e)
		if err != nil {
			return nil, err
		}
	}
	return e, nil
}

func (p *parser) lookup(start Token, e ast.Expr) (ast.Expr, error) {
	if p.accept(PUNCT, ".") {
		key, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		return &ast.DotLookup{Arg: e, Key: key.Text, Location: p.loc(start)}, nil
	}
	p.next()
	key, err := p.expr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(PUNCT, "]"); err != nil {
		return nil, err
	}
	return &ast.BracketLookup{Arg: e, Key: key, Location: p.loc(start)}, nil
}

func (p *parser) callArgs() ([]ast.Expr, error) {
	p.next()
	var args []ast.Expr
	for !p.isPunct(")") {
		a, err := p.expr()
		if err != nil {
			return nil, err
		}
		args = append(args, a)
		if !p.accept(PUNCT, ",") {
			break
		}
	}
	if _, err := p.expect(PUNCT, ")"); err != nil {
		return nil, err
	}
	return args, nil
}

func (p *parser) primary() (ast.Expr, error) {
	t := p.peek()
	switch t.Kind {
	case NUMBER:
		p.next()
		return &ast.Number{Value: t.Num, Location: p.loc(t)}, nil
	case STRING:
		p.next()
		return &ast.String{Value: t.Text, Location: p.loc(t)}, nil
	case KEYWORD:
		if t.Text == "true" || t.Text == "false" {
			p.next()
			return &ast.Bool{Value: t.Text == "true", Location: p.loc(t)}, nil
		}
	case IDENT:
		p.next()
		name := t.Text
		// Library namespaces such as List.map are single identifiers.
		for isNamespace(name) && p.isPunct(".") && p.peekAt(1).Kind == IDENT && !p.peekAt(1).NewlineBefore {
			p.next()
			name += "." + p.next().Text
		}
		return &ast.Identifier{Name: name, Location: p.loc(t)}, nil
	case PUNCT:
		switch t.Text {
		case "(":
			p.next()
			e, err := p.expr()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(PUNCT, ")"); err != nil {
				return nil, err
			}
			return e, nil
		case "[":
			return p.array()
		case "{":
			return p.brace()
		}
	}
	return nil, p.errorf("unexpected %s", describe(t))
}

func isNamespace(name string) bool {
	r, _ := utf8.DecodeRuneInString(name)
	return unicode.IsUpper(r) && !strings.Contains(name, ".")
}

func (p *parser) array() (ast.Expr, error) {
	start := p.next()
	arr := &ast.Array{}
	for !p.isPunct("]") {
		e, err := p.expr()
		if err != nil {
			return nil, err
		}
		arr.Elements = append(arr.Elements, e)
		if !p.accept(PUNCT, ",") {
			break
		}
	}
	if _, err := p.expect(PUNCT, "]"); err != nil {
		return nil, err
	}
	arr.Location = p.loc(start)
	return arr, nil
}

// brace parses a lambda, a dict or a block, all of which open with `{`.
func (p *parser) brace() (ast.Expr, error) {
	start := p.peek()
	after, second := p.peekAt(1), p.peekAt(2)
	switch {
	case after.Kind == PUNCT && after.Text == "||":
		p.next()
		p.next()
		body, err := p.expr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(PUNCT, "}"); err != nil {
			return nil, err
		}
		return &ast.Lambda{Body: body, Location: p.loc(start)}, nil
	case after.Kind == PUNCT && after.Text == "|":
		p.next()
		params, err := p.params("|", "|")
		if err != nil {
			return nil, err
		}
		body, err := p.expr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(PUNCT, "}"); err != nil {
			return nil, err
		}
		return &ast.Lambda{Params: params, Body: body, Location: p.loc(start)}, nil
	case after.Kind == PUNCT && after.Text == "}",
		(after.Kind == IDENT || after.Kind == STRING) && second.Kind == PUNCT && (second.Text == ":" || second.Text == "," || second.Text == "}"):
		return p.dict()
	}
	p.next()
	stmts, result, err := p.statements(PUNCT, "}")
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(PUNCT, "}"); err != nil {
		return nil, err
	}
	if result == nil {
		return nil, errs.NewCompileError(p.loc(start), "block must end with a result expression")
	}
	return &ast.Block{Statements: stmts, Result: result, Location: p.loc(start)}, nil
}

func (p *parser) dict() (ast.Expr, error) {
	start := p.next()
	d := &ast.Dict{}
	for !p.isPunct("}") {
		kt := p.peek()
		if kt.Kind != IDENT && kt.Kind != STRING {
			return nil, p.errorf("expected dict key, found %s", describe(kt))
		}
		p.next()
		key := &ast.String{Value: kt.Text, Location: p.loc(kt)}
		entry := &ast.DictEntry{Key: key}
		if p.accept(PUNCT, ":") {
			v, err := p.expr()
			if err != nil {
				return nil, err
			}
			entry.Value = v
		} else if kt.Kind == IDENT {
			entry.Value = &ast.Identifier{Name: kt.Text, Location: key.Location}
		} else {
			return nil, p.errorf("expected \":\" after dict key")
		}
		entry.Location = p.loc(kt)
		d.Entries = append(d.Entries, entry)
		if !p.accept(PUNCT, ",") {
			break
		}
	}
	if _, err := p.expect(PUNCT, "}"); err != nil {
		return nil, err
	}
	d.Location = p.loc(start)
	return d, nil
}
