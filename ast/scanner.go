// Copyright 2016 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package ast

import (
	"fmt"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIllegal
	tokID
	tokInt
	tokFloat
	tokString
	tokColonMinus
	tokColon
	tokComma
	tokLParen
	tokRParen
	tokLBrack
	tokRBrack
	tokEq
	tokBang
	tokPlus
	tokMinus
	tokDot
	tokSemi
)

var tokenNames = [...]string{
	tokEOF:        "end of input",
	tokIllegal:    "illegal",
	tokID:         "identifier",
	tokInt:        "integer",
	tokFloat:      "float",
	tokString:     "string",
	tokColonMinus: ":-",
	tokColon:      ":",
	tokComma:      ",",
	tokLParen:     "(",
	tokRParen:     ")",
	tokLBrack:     "[",
	tokRBrack:     "]",
	tokEq:         "=",
	tokBang:       "!",
	tokPlus:       "+",
	tokMinus:      "-",
	tokDot:        ".",
	tokSemi:       ";",
}

func (k tokenKind) String() string {
	return tokenNames[k]
}

type token struct {
	kind  tokenKind
	text  string // unquoted value for strings, error message for illegal tokens
	raw   string
	row   int
	col   int
	space bool // preceded by whitespace or a comment
}

func (t token) describe() string {
	switch t.kind {
	case tokID, tokInt, tokFloat:
		return fmt.Sprintf("%v %v", t.kind, t.raw)
	case tokString:
		return fmt.Sprintf("string %v", t.raw)
	case tokEOF:
		return t.kind.String()
	}
	return fmt.Sprintf("%q", t.raw)
}

// scanner splits policy text into tokens. Comments start with # or // and
// run to the end of the line; /* */ block comments are also accepted.
type scanner struct {
	rs  []rune
	i   int
	row int
	col int
}

func newScanner(text string) *scanner {
	return &scanner{rs: []rune(text), row: 1, col: 1}
}

func (s *scanner) peekRune(n int) rune {
	if s.i+n < len(s.rs) {
		return s.rs[s.i+n]
	}
	return 0
}

func (s *scanner) advance() {
	if s.rs[s.i] == '\n' {
		s.row++
		s.col = 1
	} else {
		s.col++
	}
	s.i++
}

func (s *scanner) skipWhitespace() bool {
	skipped := false
	for s.i < len(s.rs) {
		r := s.rs[s.i]
		switch {
		case unicode.IsSpace(r):
			s.advance()
		case r == '#' || (r == '/' && s.peekRune(1) == '/'):
			for s.i < len(s.rs) && s.rs[s.i] != '\n' {
				s.advance()
			}
		case r == '/' && s.peekRune(1) == '*':
			s.advance()
			s.advance()
			for s.i < len(s.rs) && !(s.rs[s.i] == '*' && s.peekRune(1) == '/') {
				s.advance()
			}
			if s.i < len(s.rs) {
				s.advance()
				s.advance()
			}
		default:
			return skipped
		}
		skipped = true
	}
	return skipped
}

func isIdentStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isIdentChar(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// IsValidName returns true if s can be used as a policy or table name.
func IsValidName(s string) bool {
	for i, r := range s {
		if i == 0 && !isIdentStart(r) || !isIdentChar(r) {
			return false
		}
	}
	return s != ""
}

func isDigit(r rune) bool {
	return r >= '0' && r <= '9'
}

// Scan returns the next token.
func (s *scanner) Scan() token {
	space := s.skipWhitespace()
	tok := token{row: s.row, col: s.col, space: space}
	if s.i >= len(s.rs) {
		tok.kind = tokEOF
		return tok
	}
	start := s.i
	r := s.rs[s.i]

	switch {
	case isIdentStart(r):
		s.advance()
		for s.i < len(s.rs) {
			c := s.rs[s.i]
			if isIdentChar(c) || (c == '.' && isIdentChar(s.peekRune(1))) {
				s.advance()
				continue
			}
			break
		}
		tok.kind = tokID
	case isDigit(r):
		tok.kind = s.scanNumber()
	case r == '"' || r == '\'':
		tok.kind, tok.text = s.scanString(r)
	case r == ':':
		s.advance()
		tok.kind = tokColon
		if s.i < len(s.rs) && s.rs[s.i] == '-' {
			s.advance()
			tok.kind = tokColonMinus
		}
	default:
		s.advance()
		switch r {
		case ',':
			tok.kind = tokComma
		case '(':
			tok.kind = tokLParen
		case ')':
			tok.kind = tokRParen
		case '[':
			tok.kind = tokLBrack
		case ']':
			tok.kind = tokRBrack
		case '=':
			tok.kind = tokEq
		case '!':
			tok.kind = tokBang
		case '+':
			tok.kind = tokPlus
		case '-':
			tok.kind = tokMinus
		case '.':
			tok.kind = tokDot
		case ';':
			tok.kind = tokSemi
		default:
			tok.kind = tokIllegal
			tok.text = fmt.Sprintf("illegal character %q", r)
		}
	}

	tok.raw = string(s.rs[start:s.i])
	if tok.kind != tokString && tok.kind != tokIllegal {
		tok.text = tok.raw
	}
	return tok
}

func (s *scanner) scanNumber() tokenKind {
	kind := tokInt
	for s.i < len(s.rs) && isDigit(s.rs[s.i]) {
		s.advance()
	}
	if s.i < len(s.rs) && s.rs[s.i] == '.' && isDigit(s.peekRune(1)) {
		kind = tokFloat
		s.advance()
		for s.i < len(s.rs) && isDigit(s.rs[s.i]) {
			s.advance()
		}
	}
	if s.i < len(s.rs) && (s.rs[s.i] == 'e' || s.rs[s.i] == 'E') {
		n := 1
		if s.peekRune(1) == '+' || s.peekRune(1) == '-' {
			n = 2
		}
		if isDigit(s.peekRune(n)) {
			kind = tokFloat
			for ; n > 0; n-- {
				s.advance()
			}
			for s.i < len(s.rs) && isDigit(s.rs[s.i]) {
				s.advance()
			}
		}
	}
	return kind
}

func (s *scanner) scanString(quote rune) (tokenKind, string) {
	s.advance()
	var sb strings.Builder
	for {
		if s.i >= len(s.rs) || s.rs[s.i] == '\n' {
			return tokIllegal, "unterminated string"
		}
		r := s.rs[s.i]
		if r == quote {
			s.advance()
			return tokString, sb.String()
		}
		if r == '\\' && s.i+1 < len(s.rs) {
			s.advance()
			switch e := s.rs[s.i]; e {
			case 'n':
				sb.WriteRune('\n')
			case 't':
				sb.WriteRune('\t')
			case 'r':
				sb.WriteRune('\r')
			default:
				sb.WriteRune(e)
			}
			s.advance()
			continue
		}
		sb.WriteRune(r)
		s.advance()
	}
}
