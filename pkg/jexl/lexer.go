// Package jexl - Tokenizer.
package jexl

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

type tokenType int

const (
	tokenEOF tokenType = iota
	tokenNumber
	tokenString
	tokenIdent
	tokenOperator // ==, !=, <, <=, >, >=, &&, ||, +, -, *, /, //, %, ^, !, in
	tokenLParen
	tokenRParen
	tokenLBracket
	tokenRBracket
	tokenComma
	tokenDot
	tokenPipe
	tokenQuestion
	tokenColon
)

type token struct {
	typ tokenType
	// text holds the operator or identifier spelling.
	text string
	// num and str hold decoded literal values.
	num float64
	str string
	pos int
}

func (t token) String() string {
	switch t.typ {
	case tokenEOF:
		return "end of expression"
	case tokenNumber:
		return strconv.FormatFloat(t.num, 'g', -1, 64)
	case tokenString:
		return fmt.Sprintf("%q", t.str)
	default:
		return t.text
	}
}

// tokenize splits the expression into tokens. It reports the position of the
// first offending character on error.
func tokenize(input string) ([]token, error) {
	var tokens []token
	i := 0
	for i < len(input) {
		c := input[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++

		case c >= '0' && c <= '9':
			j := i
			for j < len(input) && (input[j] >= '0' && input[j] <= '9' || input[j] == '.') {
				j++
			}
			num, err := strconv.ParseFloat(input[i:j], 64)
			if err != nil {
				return nil, fmt.Errorf("%w: bad number %q at %d", ErrInvalidExpression, input[i:j], i)
			}
			tokens = append(tokens, token{typ: tokenNumber, num: num, pos: i})
			i = j

		case c == '\'' || c == '"':
			str, next, err := lexString(input, i)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, token{typ: tokenString, str: str, pos: i})
			i = next

		case isIdentStart(rune(c)):
			j := i
			for j < len(input) && isIdentPart(rune(input[j])) {
				j++
			}
			word := input[i:j]
			if word == "in" {
				tokens = append(tokens, token{typ: tokenOperator, text: "in", pos: i})
			} else {
				tokens = append(tokens, token{typ: tokenIdent, text: word, pos: i})
			}
			i = j

		default:
			tok, next, err := lexSymbol(input, i)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, tok)
			i = next
		}
	}
	tokens = append(tokens, token{typ: tokenEOF, pos: len(input)})
	return tokens, nil
}

func lexString(input string, start int) (string, int, error) {
	quote := input[start]
	var sb strings.Builder
	i := start + 1
	for i < len(input) {
		c := input[i]
		if c == '\\' && i+1 < len(input) {
			next := input[i+1]
			switch next {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			case '\\', '\'', '"':
				sb.WriteByte(next)
			default:
				sb.WriteByte(next)
			}
			i += 2
			continue
		}
		if c == quote {
			return sb.String(), i + 1, nil
		}
		sb.WriteByte(c)
		i++
	}
	return "", 0, fmt.Errorf("%w: unterminated string at %d", ErrInvalidExpression, start)
}

func lexSymbol(input string, i int) (token, int, error) {
	two := ""
	if i+1 < len(input) {
		two = input[i : i+2]
	}
	switch two {
	case "==", "!=", "<=", ">=", "&&", "||", "//":
		return token{typ: tokenOperator, text: two, pos: i}, i + 2, nil
	}
	switch input[i] {
	case '<', '>', '+', '-', '*', '/', '%', '^', '!':
		return token{typ: tokenOperator, text: string(input[i]), pos: i}, i + 1, nil
	case '(':
		return token{typ: tokenLParen, text: "(", pos: i}, i + 1, nil
	case ')':
		return token{typ: tokenRParen, text: ")", pos: i}, i + 1, nil
	case '[':
		return token{typ: tokenLBracket, text: "[", pos: i}, i + 1, nil
	case ']':
		return token{typ: tokenRBracket, text: "]", pos: i}, i + 1, nil
	case ',':
		return token{typ: tokenComma, text: ",", pos: i}, i + 1, nil
	case '.':
		return token{typ: tokenDot, text: ".", pos: i}, i + 1, nil
	case '|':
		return token{typ: tokenPipe, text: "|", pos: i}, i + 1, nil
	case '?':
		return token{typ: tokenQuestion, text: "?", pos: i}, i + 1, nil
	case ':':
		return token{typ: tokenColon, text: ":", pos: i}, i + 1, nil
	}
	return token{}, 0, fmt.Errorf("%w: unexpected character %q at %d", ErrInvalidExpression, input[i], i)
}

func isIdentStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isIdentPart(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
