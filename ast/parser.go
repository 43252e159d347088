// Copyright 2016 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package ast

import (
	"strconv"
	"strings"
)

// ParserOptions controls how policy text is parsed.
type ParserOptions struct {
	// Filename is recorded in the locations of parsed statements.
	Filename string

	// Schemas resolves the schema of a policy. When set, column references
	// are eliminated after parsing.
	Schemas SchemaLookup

	// DefaultTheory is the policy that unqualified tables belong to when
	// column references are eliminated.
	DefaultTheory string
}

// Statement is a parsed top-level statement. Modal statements of the form
// insert[p(x) :- q(x), "target"] carry their operation and optional target.
type Statement struct {
	Formula Formula
	Modal   string
	Target  string
}

// Parse parses the policy text into formulas. Modal statements are rejected;
// use ParseEvents for event sequences.
func Parse(text string) ([]Formula, error) {
	return ParseWithOptions(text, ParserOptions{})
}

// ParseFile parses the policy text and records filename in the locations of
// parsed statements.
func ParseFile(filename, text string) ([]Formula, error) {
	return ParseWithOptions(text, ParserOptions{Filename: filename})
}

// ParseWithSchema parses the policy text and eliminates column references
// using the schemas returned by lookup.
func ParseWithSchema(text string, lookup SchemaLookup, defaultTheory string) ([]Formula, error) {
	return ParseWithOptions(text, ParserOptions{Schemas: lookup, DefaultTheory: defaultTheory})
}

// ParseWithOptions parses the policy text into formulas.
func ParseWithOptions(text string, opts ParserOptions) ([]Formula, error) {
	stmts, errs := ParseStatements(text, opts)
	fs := make([]Formula, 0, len(stmts))
	for _, stmt := range stmts {
		if stmt.Modal != "" {
			errs = append(errs, NewError(ParseErr, stmt.Formula.Loc(), "modal statement %v[%v] is only permitted in event sequences", stmt.Modal, stmt.Formula))
			continue
		}
		fs = append(fs, stmt.Formula)
	}
	if len(errs) > 0 {
		errs.Sort()
		return nil, errs
	}
	return fs, nil
}

// ParseOne parses text that contains exactly one formula.
func ParseOne(text string) (Formula, error) {
	fs, err := Parse(text)
	if err != nil {
		return nil, err
	}
	if len(fs) != 1 {
		return nil, NewError(ParseErr, nil, "expected exactly one formula but got %d: %v", len(fs), text)
	}
	return fs[0], nil
}

// ParseRule parses text that contains exactly one rule with a body.
func ParseRule(text string) (*Rule, error) {
	f, err := ParseOne(text)
	if err != nil {
		return nil, err
	}
	r, ok := f.(*Rule)
	if !ok {
		return nil, NewError(ParseErr, f.Loc(), "expected rule but got %v", f)
	}
	return r, nil
}

// ParseLiteral parses text that contains exactly one literal.
func ParseLiteral(text string) (*Literal, error) {
	f, err := ParseOne(text)
	if err != nil {
		return nil, err
	}
	l, ok := f.(*Literal)
	if !ok {
		return nil, NewError(ParseErr, f.Loc(), "expected literal but got %v", f)
	}
	return l, nil
}

// ParseEvents parses a sequence of updates. Plain formulas become insertions
// into defaultTarget; modal statements insert[...] and delete[...] become
// insertions and deletions into their target, or defaultTarget if none is
// given.
func ParseEvents(text string, opts ParserOptions, defaultTarget string) ([]*Event, error) {
	stmts, errs := ParseStatements(text, opts)
	if len(errs) > 0 {
		errs.Sort()
		return nil, errs
	}
	events := make([]*Event, 0, len(stmts))
	for _, stmt := range stmts {
		target := stmt.Target
		if target == "" {
			target = defaultTarget
		}
		f, modal := stmt.Formula, stmt.Modal
		if lit, ok := f.(*Literal); ok && modal == "" && (lit.Modal == ModalInsert || lit.Modal == ModalDelete) {
			modal = lit.Modal
			cpy := lit.Copy()
			cpy.Modal = ""
			f = cpy
		}
		events = append(events, NewEvent(f, modal != ModalDelete, target))
	}
	return events, nil
}

// MustParse returns the formulas parsed from text. If an error occurs during
// parsing, panic.
func MustParse(text string) []Formula {
	fs, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return fs
}

// MustParseRule returns the rule parsed from text. If an error occurs during
// parsing, panic.
func MustParseRule(text string) *Rule {
	r, err := ParseRule(text)
	if err != nil {
		panic(err)
	}
	return r
}

// MustParseLiteral returns the literal parsed from text. If an error occurs
// during parsing, panic.
func MustParseLiteral(text string) *Literal {
	l, err := ParseLiteral(text)
	if err != nil {
		panic(err)
	}
	return l
}

// ParseStatements parses the policy text into statements. Parsing continues
// after a syntax error at the next statement so that all errors in the text
// are reported.
func ParseStatements(text string, opts ParserOptions) ([]Statement, Errors) {
	p := &parser{s: newScanner(text), opts: opts}
	p.next()

	var stmts []Statement
	for p.tok.kind != tokEOF {
		if p.tok.kind == tokDot || p.tok.kind == tokSemi {
			p.next()
			continue
		}
		stmt, ok := p.parseStatement()
		if !ok {
			p.skipStatement()
			continue
		}
		if opts.Schemas != nil {
			f, errs := EliminateColumnReferences(stmt.Formula, opts.Schemas, opts.DefaultTheory)
			if len(errs) > 0 {
				p.errs = append(p.errs, errs...)
				continue
			}
			stmt.Formula = f
		}
		stmts = append(stmts, stmt)
		switch p.tok.kind {
		case tokDot, tokSemi:
			p.next()
		case tokEOF, tokID, tokBang:
		default:
			p.errorf(ParseErr, p.loc(p.tok), "unexpected %v: expected end of statement", p.tok.describe())
			p.errRow = p.tok.row
			p.skipStatement()
		}
	}
	return stmts, p.errs
}

type parser struct {
	s    *scanner
	opts ParserOptions
	tok  token
	buf  []token
	errs Errors
	// row of the token that caused the most recent syntax error
	errRow int
}

type bailout struct{}

func (p *parser) next() {
	if len(p.buf) > 0 {
		p.tok = p.buf[0]
		p.buf = p.buf[1:]
		return
	}
	p.tok = p.s.Scan()
}

func (p *parser) peek(n int) token {
	for len(p.buf) < n {
		p.buf = append(p.buf, p.s.Scan())
	}
	return p.buf[n-1]
}

func (p *parser) loc(tok token) *Location {
	return NewLocation([]byte(tok.raw), p.opts.Filename, tok.row, tok.col)
}

// fail records a syntax error at tok and abandons the current statement.
func (p *parser) fail(tok token, f string, a ...interface{}) {
	if tok.kind == tokIllegal {
		f, a = "%v", []interface{}{tok.text}
	}
	p.errs = append(p.errs, NewError(ParseErr, p.loc(tok), f, a...))
	p.errRow = tok.row
	panic(bailout{})
}

func (p *parser) errorf(code ErrCode, loc *Location, f string, a ...interface{}) {
	p.errs = append(p.errs, NewError(code, loc, f, a...))
}

func (p *parser) expect(kind tokenKind) token {
	tok := p.tok
	if tok.kind != kind {
		p.fail(tok, "unexpected %v: expected %v", tok.describe(), kind)
	}
	p.next()
	return tok
}

// skipStatement advances past the statement that caused a syntax error: up to
// and including the next terminator, or to the first token in column one of a
// later line.
func (p *parser) skipStatement() {
	for p.tok.kind != tokEOF {
		if p.tok.kind == tokDot || p.tok.kind == tokSemi {
			p.next()
			return
		}
		if p.tok.row > p.errRow && p.tok.col == 1 {
			return
		}
		p.next()
	}
}

func (p *parser) parseStatement() (stmt Statement, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(bailout); !ok {
				panic(r)
			}
			stmt, ok = Statement{}, false
		}
	}()
	start := p.tok
	if p.tok.kind == tokID && (p.tok.text == ModalInsert || p.tok.text == ModalDelete) && p.peek(1).kind == tokLBrack {
		return p.parseModalStatement(), true
	}
	heads := p.parseLiteralList()
	return Statement{Formula: p.parseFormula(start, heads)}, true
}

// parseModalStatement parses either a statement whose first head is a modal
// literal, e.g. insert[p(x)] :- q(x), or a modal statement wrapping a whole
// formula, e.g. delete[p(x) :- q(x), "alpha"].
func (p *parser) parseModalStatement() Statement {
	start := p.tok
	modal := p.tok.text
	p.next()
	p.expect(tokLBrack)
	first := p.parseLiteral()

	if p.tok.kind == tokRBrack {
		p.next()
		if first.Modal != "" {
			p.fail(start, "literal %v has more than one modal operator", first)
		}
		first.Modal = modal
		first.Location = p.loc(start)
		heads := []*Literal{first}
		if p.tok.kind == tokComma {
			p.next()
			heads = append(heads, p.parseLiteralList()...)
		}
		return Statement{Formula: p.parseFormula(start, heads)}
	}

	heads := []*Literal{first}
	for p.tok.kind == tokComma && p.peek(1).kind != tokString {
		p.next()
		heads = append(heads, p.parseLiteral())
	}
	stmt := Statement{Formula: p.parseFormula(start, heads), Modal: modal}
	if p.tok.kind == tokComma {
		p.next()
		stmt.Target = p.expect(tokString).text
	}
	p.expect(tokRBrack)
	return stmt
}

func (p *parser) parseFormula(start token, heads []*Literal) Formula {
	if p.tok.kind == tokColonMinus {
		p.next()
		body := p.parseLiteralList()
		return &Rule{Location: p.loc(start), Heads: heads, Body: body}
	}
	if len(heads) > 1 {
		p.fail(start, "fact %v must be a single literal", LiteralsToString(heads))
	}
	lit := heads[0]
	if lit.Negated {
		p.fail(start, "fact %v must not be negated", lit)
	}
	return lit
}

// parseLiteralList parses a comma-separated list of literals. A comma
// followed by a string ends the list; it introduces the target of a modal
// statement.
func (p *parser) parseLiteralList() []*Literal {
	lits := []*Literal{p.parseLiteral()}
	for p.tok.kind == tokComma && p.peek(1).kind != tokString {
		p.next()
		lits = append(lits, p.parseLiteral())
	}
	return lits
}

func (p *parser) parseLiteral() *Literal {
	start := p.tok
	negated := false
	switch {
	case p.tok.kind == tokBang:
		negated = true
		p.next()
	case p.tok.kind == tokID && p.tok.text == "not" && p.peek(1).kind == tokID:
		negated = true
		p.next()
	}

	var lit *Literal
	if p.tok.kind == tokID && p.peek(1).kind == tokLBrack {
		modal := p.tok.text
		p.next()
		p.next()
		lit = p.parseAtom()
		p.expect(tokRBrack)
		lit.Modal = modal
	} else {
		lit = p.parseAtom()
	}
	lit.Negated = negated
	lit.Location = p.loc(start)
	return lit
}

func (p *parser) parseAtom() *Literal {
	if p.tok.kind != tokID {
		p.fail(p.tok, "unexpected %v: expected table name", p.tok.describe())
	}
	parts := []string{p.tok.text}
	p.next()
	for p.tok.kind == tokColon {
		p.next()
		if p.tok.kind != tokID {
			p.fail(p.tok, "unexpected %v: expected table name after colon", p.tok.describe())
		}
		parts = append(parts, p.tok.text)
		p.next()
	}
	name := strings.Join(parts, ":")

	// An update sign belongs to the table name only when it is adjacent.
	if (p.tok.kind == tokPlus || p.tok.kind == tokMinus) && !p.tok.space {
		name += p.tok.text
		p.next()
	}

	lit := NewLiteral(name)
	if p.tok.kind == tokLParen {
		p.next()
		p.parseParams(lit)
		p.expect(tokRParen)
	}
	return lit
}

func (p *parser) parseParams(lit *Literal) {
	if p.tok.kind == tokRParen {
		return
	}
	var misplaced *Location
	for {
		if (p.tok.kind == tokID || p.tok.kind == tokInt) && p.peek(1).kind == tokEq {
			refTok := p.tok
			p.next()
			p.next()
			ref := ColumnRef{Location: p.loc(refTok)}
			if refTok.kind == tokID {
				ref.Name = refTok.text
			} else {
				n, err := strconv.Atoi(refTok.text)
				if err != nil {
					p.fail(refTok, "column number %v out of range", refTok.text)
				}
				ref.Number = n
			}
			ref.Value = p.parseTerm()
			lit.Refs = append(lit.Refs, ref)
		} else {
			tok := p.tok
			t := p.parseTerm()
			if len(lit.Refs) > 0 && misplaced == nil {
				misplaced = p.loc(tok)
			}
			lit.Args = append(lit.Args, t)
		}
		if p.tok.kind != tokComma {
			break
		}
		p.next()
	}
	if misplaced != nil {
		p.errorf(CompileErr, misplaced, "Atom %v has a positional parameter after a reference parameter", lit)
	}
}

func (p *parser) parseTerm() Term {
	tok := p.tok
	switch tok.kind {
	case tokID:
		p.next()
		return Var(tok.text)
	case tokString:
		p.next()
		return StringTerm(tok.text)
	case tokInt, tokFloat:
		p.next()
		return p.number(tok, "")
	case tokMinus:
		num := p.peek(1)
		if (num.kind == tokInt || num.kind == tokFloat) && !num.space {
			p.next()
			p.next()
			return p.number(num, "-")
		}
	}
	p.fail(tok, "unexpected %v: expected term", tok.describe())
	return nil
}

func (p *parser) number(tok token, sign string) Term {
	if tok.kind == tokInt {
		i, err := strconv.ParseInt(sign+tok.text, 10, 64)
		if err == nil {
			return IntTerm(i)
		}
		// Integers too large for 64 bits are kept as floats.
	}
	f, err := strconv.ParseFloat(sign+tok.text, 64)
	if err != nil {
		p.fail(tok, "number %v%v out of range", sign, tok.text)
	}
	return FloatTerm(f)
}
