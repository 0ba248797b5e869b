package search

import (
	"fmt"

	"github.com/cadenza-av/cadenza/model"
)

// Parser is a recursive-descent parser over the criteria grammar. AND and OR
// have equal precedence and bind left to right; parentheses disambiguate.
type Parser struct {
	lexer   *Lexer
	emitter Emitter
	current *Token
}

func NewParser(emitter Emitter, criteria string) *Parser {
	return &Parser{lexer: NewLexer(criteria), emitter: emitter}
}

func (p *Parser) next() error {
	tok, err := p.lexer.NextToken()
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrInvalidArgument, err)
	}
	p.current = tok
	return nil
}

// Parse returns the AST root. A single leading `*` means "match all".
func (p *Parser) Parse() (ASTNode, error) {
	if err := p.next(); err != nil {
		return nil, err
	}
	if p.current == nil {
		return nil, fmt.Errorf("%w: empty search criteria", model.ErrInvalidArgument)
	}
	if p.current.Type == TokenAsterisk {
		return &ASTAsterisk{emitter: p.emitter}, nil
	}
	return p.parseExpression()
}

func (p *Parser) parseExpression() (ASTNode, error) {
	var nodeStack []ASTNode
	var pendingOp TokenType = TokenInvalid

	combine := func(rhs ASTNode) error {
		if pendingOp == TokenInvalid {
			nodeStack = append(nodeStack, rhs)
			return nil
		}
		if len(nodeStack) == 0 {
			return fmt.Errorf("%w: operator without left-hand side", model.ErrInvalidArgument)
		}
		lhs := nodeStack[len(nodeStack)-1]
		nodeStack = nodeStack[:len(nodeStack)-1]
		if pendingOp == TokenAnd {
			nodeStack = append(nodeStack, &ASTAndOperator{emitter: p.emitter, LHS: lhs, RHS: rhs})
		} else {
			nodeStack = append(nodeStack, &ASTOrOperator{emitter: p.emitter, LHS: lhs, RHS: rhs})
		}
		pendingOp = TokenInvalid
		return nil
	}

	for p.current != nil {
		switch p.current.Type {
		case TokenProperty:
			rel, err := p.parseRelation()
			if err != nil {
				return nil, err
			}
			if err := combine(rel); err != nil {
				return nil, err
			}
			if err := p.next(); err != nil {
				return nil, err
			}
		case TokenLParen:
			par, err := p.parseParenthesis()
			if err != nil {
				return nil, err
			}
			if err := combine(par); err != nil {
				return nil, err
			}
			if err := p.next(); err != nil {
				return nil, err
			}
		case TokenAnd, TokenOr:
			if pendingOp != TokenInvalid || len(nodeStack) == 0 {
				return nil, fmt.Errorf("%w: misplaced %q at position %d",
					model.ErrInvalidArgument, p.current.Value, p.current.Pos)
			}
			pendingOp = p.current.Type
			if err := p.next(); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("%w: unexpected token %q at position %d",
				model.ErrInvalidArgument, p.current.Value, p.current.Pos)
		}
	}

	if pendingOp != TokenInvalid {
		return nil, fmt.Errorf("%w: trailing operator in search criteria", model.ErrInvalidArgument)
	}
	if len(nodeStack) != 1 {
		return nil, fmt.Errorf("%w: malformed search criteria", model.ErrInvalidArgument)
	}
	return nodeStack[0], nil
}

func (p *Parser) parseParenthesis() (ASTNode, error) {
	if p.current == nil || p.current.Type != TokenLParen {
		return nil, fmt.Errorf("%w: expecting '('", model.ErrInvalidArgument)
	}
	if err := p.next(); err != nil {
		return nil, err
	}

	var node ASTNode
	for p.current != nil && p.current.Type != TokenRParen {
		switch p.current.Type {
		case TokenProperty:
			rel, err := p.parseRelation()
			if err != nil {
				return nil, err
			}
			node = rel
			if err := p.next(); err != nil {
				return nil, err
			}
		case TokenAnd, TokenOr:
			op := p.current.Type
			lhs := node
			if lhs == nil {
				return nil, fmt.Errorf("%w: operator without left-hand side in parenthesis", model.ErrInvalidArgument)
			}
			if err := p.next(); err != nil {
				return nil, err
			}
			var rhs ASTNode
			var err error
			if p.current != nil && p.current.Type == TokenLParen {
				rhs, err = p.parseParenthesis()
			} else {
				rhs, err = p.parseRelation()
			}
			if err != nil {
				return nil, err
			}
			if op == TokenAnd {
				node = &ASTAndOperator{emitter: p.emitter, LHS: lhs, RHS: rhs}
			} else {
				node = &ASTOrOperator{emitter: p.emitter, LHS: lhs, RHS: rhs}
			}
			if err := p.next(); err != nil {
				return nil, err
			}
		case TokenLParen:
			inner, err := p.parseParenthesis()
			if err != nil {
				return nil, err
			}
			node = inner
			if err := p.next(); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("%w: unexpected token %q in parenthesis", model.ErrInvalidArgument, p.current.Value)
		}
	}
	if node == nil {
		return nil, fmt.Errorf("%w: empty expression in parenthesis", model.ErrInvalidArgument)
	}
	if p.current == nil {
		return nil, fmt.Errorf("%w: missing ')'", model.ErrInvalidArgument)
	}
	return &ASTParenthesis{emitter: p.emitter, Inner: node}, nil
}

func (p *Parser) parseRelation() (ASTNode, error) {
	prop := &ASTProperty{Value: p.current.Value}
	if err := p.next(); err != nil {
		return nil, err
	}
	if p.current == nil {
		return nil, fmt.Errorf("%w: property %q without operator", model.ErrInvalidArgument, prop.Value)
	}

	switch p.current.Type {
	case TokenCompareOp:
		op := p.current.Value
		if err := p.next(); err != nil {
			return nil, err
		}
		value, err := p.parseQuotedString()
		if err != nil {
			return nil, err
		}
		return &ASTCompareExpression{emitter: p.emitter, Property: prop, Op: op, Value: value}, nil
	case TokenStringOp:
		op := p.current.Value
		if err := p.next(); err != nil {
			return nil, err
		}
		value, err := p.parseQuotedString()
		if err != nil {
			return nil, err
		}
		return &ASTStringExpression{emitter: p.emitter, Property: prop, Op: op, Value: value}, nil
	case TokenExists:
		if err := p.next(); err != nil {
			return nil, err
		}
		if p.current == nil || p.current.Type != TokenBoolVal {
			return nil, fmt.Errorf("%w: expecting true or false after exists", model.ErrInvalidArgument)
		}
		return &ASTExistsExpression{emitter: p.emitter, Property: prop,
			Value: &ASTBoolean{Value: p.current.Value}}, nil
	}
	return nil, fmt.Errorf("%w: expecting a comparison, string or exists operator after %q",
		model.ErrInvalidArgument, prop.Value)
}

func (p *Parser) parseQuotedString() (*ASTQuotedString, error) {
	if p.current == nil || p.current.Type != TokenDQuote {
		return nil, fmt.Errorf("%w: expecting a double-quoted value", model.ErrInvalidArgument)
	}
	if err := p.next(); err != nil {
		return nil, err
	}
	value := ""
	if p.current != nil && p.current.Type == TokenEscapedString {
		value = p.current.Value
		if err := p.next(); err != nil {
			return nil, err
		}
	}
	if p.current == nil || p.current.Type != TokenDQuote {
		return nil, fmt.Errorf("%w: unterminated string literal", model.ErrInvalidArgument)
	}
	return &ASTQuotedString{Value: value}, nil
}
