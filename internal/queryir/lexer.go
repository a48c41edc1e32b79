package queryir

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokInt
	tokFloat
	tokString
	tokParam // @name
	tokPunct
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

// Longest punctuators first.
var punctuators = []string{
	"=>", "==", "!=", "<=", ">=", "&&", "||", "??",
	".", ",", "(", ")", "{", "}", "<", ">", "!", "?", ":", "+", "-", "*", "/", "%", "&", "|", "=",
}

func lex(src string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(src) {
		r, size := utf8.DecodeRuneInString(src[i:])
		switch {
		case unicode.IsSpace(r):
			i += size

		case r == '_' || unicode.IsLetter(r):
			start := i
			for i < len(src) {
				r, size = utf8.DecodeRuneInString(src[i:])
				if r != '_' && !unicode.IsLetter(r) && !unicode.IsDigit(r) {
					break
				}
				i += size
			}
			toks = append(toks, token{kind: tokIdent, text: src[start:i], pos: start})

		case r == '@':
			start := i
			i++
			for i < len(src) {
				r, size = utf8.DecodeRuneInString(src[i:])
				if r != '_' && !unicode.IsLetter(r) && !unicode.IsDigit(r) {
					break
				}
				i += size
			}
			if i == start+1 {
				return nil, parseError(start, "parameter name expected after '@'")
			}
			toks = append(toks, token{kind: tokParam, text: src[start+1 : i], pos: start})

		case r >= '0' && r <= '9':
			tok, next := lexNumber(src, i)
			toks = append(toks, tok)
			i = next

		case r == '"':
			start := i
			i++
			closed := false
			for i < len(src) {
				switch src[i] {
				case '\\':
					i += 2
					continue
				case '"':
					closed = true
				}
				i++
				if closed {
					break
				}
			}
			if !closed {
				return nil, parseError(start, "unterminated string literal")
			}
			toks = append(toks, token{kind: tokString, text: src[start:i], pos: start})

		default:
			matched := false
			for _, p := range punctuators {
				if strings.HasPrefix(src[i:], p) {
					toks = append(toks, token{kind: tokPunct, text: p, pos: i})
					i += len(p)
					matched = true
					break
				}
			}
			if !matched {
				return nil, parseError(i, fmt.Sprintf("unexpected character %q", r))
			}
		}
	}
	toks = append(toks, token{kind: tokEOF, pos: len(src)})
	return toks, nil
}

// lexNumber scans digits with an optional fraction and exponent. A '.' not
// followed by a digit ends the number so that member access on literals
// still lexes.
func lexNumber(src string, i int) (token, int) {
	start := i
	isDigit := func(j int) bool { return j < len(src) && src[j] >= '0' && src[j] <= '9' }
	for isDigit(i) {
		i++
	}
	kind := tokInt
	if i < len(src) && src[i] == '.' && isDigit(i+1) {
		kind = tokFloat
		i++
		for isDigit(i) {
			i++
		}
	}
	if i < len(src) && (src[i] == 'e' || src[i] == 'E') {
		j := i + 1
		if j < len(src) && (src[j] == '+' || src[j] == '-') {
			j++
		}
		if isDigit(j) {
			kind = tokFloat
			i = j
			for isDigit(i) {
				i++
			}
		}
	}
	return token{kind: kind, text: src[start:i], pos: start}, i
}

func parseError(pos int, msg string) *TranslationError {
	return &TranslationError{Kind: ErrInvalidQuery, Message: msg, Pos: pos}
}
