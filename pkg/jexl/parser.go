// Package jexl - Recursive-descent parser.
//
// Precedence, loosest first: ternary, ||, &&, comparisons (including in),
// additive, multiplicative, ^ (right-associative), unary, postfix
// (member access, indexing, transforms, calls).
package jexl

import (
	"fmt"
)

type parser struct {
	tokens []token
	pos    int
	depth  int
}

// parse turns an expression string into an AST.
func parse(input string) (Node, error) {
	tokens, err := tokenize(input)
	if err != nil {
		return nil, err
	}
	p := &parser{tokens: tokens}
	node, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	if p.peek().typ != tokenEOF {
		return nil, fmt.Errorf("%w: unexpected %s at %d", ErrInvalidExpression, p.peek(), p.peek().pos)
	}
	return node, nil
}

func (p *parser) peek() token { return p.tokens[p.pos] }
func (p *parser) next() token { t := p.tokens[p.pos]; p.pos++; return t }

func (p *parser) expect(typ tokenType, what string) (token, error) {
	t := p.next()
	if t.typ != typ {
		return token{}, fmt.Errorf("%w: expected %s, got %s at %d", ErrInvalidExpression, what, t, t.pos)
	}
	return t, nil
}

func (p *parser) enter() error {
	p.depth++
	if p.depth > maxParseDepth {
		return fmt.Errorf("%w: expression nested too deeply", ErrInvalidExpression)
	}
	return nil
}

func (p *parser) leave() { p.depth-- }

func (p *parser) parseExpression() (Node, error) {
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()

	cond, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.peek().typ != tokenQuestion {
		return cond, nil
	}
	p.next()
	then, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tokenColon, "':'"); err != nil {
		return nil, err
	}
	otherwise, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	return ConditionalNode{Cond: cond, Then: then, Else: otherwise}, nil
}

func (p *parser) parseOr() (Node, error) {
	return p.parseBinary([]string{"||"}, p.parseAnd)
}

func (p *parser) parseAnd() (Node, error) {
	return p.parseBinary([]string{"&&"}, p.parseComparison)
}

func (p *parser) parseComparison() (Node, error) {
	return p.parseBinary([]string{"==", "!=", "<", "<=", ">", ">=", "in"}, p.parseAdditive)
}

func (p *parser) parseAdditive() (Node, error) {
	return p.parseBinary([]string{"+", "-"}, p.parseMultiplicative)
}

func (p *parser) parseMultiplicative() (Node, error) {
	return p.parseBinary([]string{"*", "/", "//", "%"}, p.parsePower)
}

func (p *parser) parseBinary(ops []string, operand func() (Node, error)) (Node, error) {
	left, err := operand()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if t.typ != tokenOperator || !contains(ops, t.text) {
			return left, nil
		}
		p.next()
		right, err := operand()
		if err != nil {
			return nil, err
		}
		left = BinaryNode{Op: t.text, Left: left, Right: right}
	}
}

// parsePower handles ^ with right associativity: 2^3^2 is 2^(3^2).
func (p *parser) parsePower() (Node, error) {
	base, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.typ == tokenOperator && t.text == "^" {
		p.next()
		exp, err := p.parsePower()
		if err != nil {
			return nil, err
		}
		return BinaryNode{Op: "^", Left: base, Right: exp}, nil
	}
	return base, nil
}

func (p *parser) parseUnary() (Node, error) {
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()

	if t := p.peek(); t.typ == tokenOperator && (t.text == "!" || t.text == "-") {
		p.next()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return UnaryNode{Op: t.text, Operand: operand}, nil
	}
	return p.parsePostfix()
}

func (p *parser) parsePostfix() (Node, error) {
	node, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		switch p.peek().typ {
		case tokenDot:
			p.next()
			prop, err := p.expect(tokenIdent, "property name")
			if err != nil {
				return nil, err
			}
			node = MemberNode{Object: node, Property: prop.text}

		case tokenLBracket:
			p.next()
			index, err := p.parseExpression()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(tokenRBracket, "']'"); err != nil {
				return nil, err
			}
			node = IndexNode{Object: node, Index: index}

		case tokenPipe:
			p.next()
			name, err := p.expect(tokenIdent, "transform name")
			if err != nil {
				return nil, err
			}
			var args []Node
			if p.peek().typ == tokenLParen {
				args, err = p.parseArgs()
				if err != nil {
					return nil, err
				}
			}
			node = TransformNode{Subject: node, Name: name.text, Args: args}

		default:
			return node, nil
		}
	}
}

func (p *parser) parsePrimary() (Node, error) {
	t := p.next()
	switch t.typ {
	case tokenNumber:
		return LiteralNode{Value: t.num}, nil

	case tokenString:
		return LiteralNode{Value: t.str}, nil

	case tokenIdent:
		switch t.text {
		case "true":
			return LiteralNode{Value: true}, nil
		case "false":
			return LiteralNode{Value: false}, nil
		case "null":
			return LiteralNode{Value: nil}, nil
		}
		if p.peek().typ == tokenLParen {
			args, err := p.parseArgs()
			if err != nil {
				return nil, err
			}
			return CallNode{Name: t.text, Args: args}, nil
		}
		return IdentNode{Name: t.text}, nil

	case tokenLParen:
		node, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokenRParen, "')'"); err != nil {
			return nil, err
		}
		return node, nil

	case tokenLBracket:
		var items []Node
		if p.peek().typ != tokenRBracket {
			for {
				item, err := p.parseExpression()
				if err != nil {
					return nil, err
				}
				items = append(items, item)
				if p.peek().typ != tokenComma {
					break
				}
				p.next()
			}
		}
		if _, err := p.expect(tokenRBracket, "']'"); err != nil {
			return nil, err
		}
		return ArrayNode{Items: items}, nil
	}
	return nil, fmt.Errorf("%w: unexpected %s at %d", ErrInvalidExpression, t, t.pos)
}

func (p *parser) parseArgs() ([]Node, error) {
	if _, err := p.expect(tokenLParen, "'('"); err != nil {
		return nil, err
	}
	var args []Node
	if p.peek().typ != tokenRParen {
		for {
			arg, err := p.parseExpression()
			if err != nil {
				return nil, err
			}
			args = append(args, arg)
			if p.peek().typ != tokenComma {
				break
			}
			p.next()
		}
	}
	if _, err := p.expect(tokenRParen, "')'"); err != nil {
		return nil, err
	}
	return args, nil
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
