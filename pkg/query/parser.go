package query

import "fmt"

// parser consumes a pre-lexed token stream and builds the AST.
type parser struct {
	toks []token
	pos  int
}

// Parse tokenizes and parses a full query program into a sequence of AST
// nodes. Lexical failures are returned as *SyntaxError;
// well-formed-but-wrong-shape input is returned as *UnexpectedTokenError.
func Parse(src string) ([]Node, error) {
	lx := newLexer(src)
	var toks []token
	for {
		t, err := lx.next()
		if err != nil {
			return nil, err
		}
		toks = append(toks, t)
		if t.kind == tokEOF {
			break
		}
	}

	p := &parser{toks: toks}
	var nodes []Node
	for {
		if p.peek().kind == tokEOF {
			return nodes, nil
		}
		n, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
}

func (p *parser) peek() token {
	return p.toks[p.pos]
}

func (p *parser) advance() token {
	t := p.toks[p.pos]
	if p.pos < len(p.toks)-1 {
		p.pos++
	}
	return t
}

func (p *parser) expect(k tokenKind) (token, error) {
	t := p.peek()
	if t.kind != k {
		return token{}, &UnexpectedTokenError{Pos: t.pos, Message: fmt.Sprintf("expected %s, found %s", k, t.kind)}
	}
	return p.advance(), nil
}

// expectKeyword consumes an identifier token whose text matches word.
func (p *parser) expectKeyword(word string) error {
	t := p.peek()
	if t.kind != tokIdent || t.text != word {
		return &UnexpectedTokenError{Pos: t.pos, Message: fmt.Sprintf("expected keyword %q, found %s %q", word, t.kind, t.text)}
	}
	p.advance()
	return nil
}

func (p *parser) peekKeyword(word string) bool {
	t := p.peek()
	return t.kind == tokIdent && t.text == word
}

func (p *parser) parseStatement() (Node, error) {
	t := p.peek()

	if t.kind == tokIdent {
		switch t.text {
		case "insert":
			return p.parseInsertOrUpdate(OpInsert)
		case "update":
			return p.parseInsertOrUpdate(OpUpdate)
		case "get":
			return p.parseGet()
		case "delete":
			return p.parseDelete()
		case "list":
			return p.parseList()
		default:
			if p.toks[p.pos+1].kind == tokAssign {
				return p.parseAssignment()
			}
		}
	}

	return nil, &UnexpectedTokenError{Pos: t.pos, Message: fmt.Sprintf("unexpected start of statement: %s %q", t.kind, t.text)}
}

func (p *parser) parseAssignment() (Node, error) {
	nameTok, err := p.expect(tokIdent)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tokAssign); err != nil {
		return nil, err
	}
	value, err := p.parseValueOrVariable()
	if err != nil {
		return nil, err
	}
	return AssignmentExpression{Name: nameTok.text, Value: value}, nil
}

func (p *parser) parseInsertOrUpdate(op Op) (Node, error) {
	p.advance() // consume "insert"/"update"

	if p.peekKeyword("user") {
		return p.parseUserForm(op)
	}

	value, err := p.parseValueOrVariable()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("into"); err != nil {
		return nil, err
	}
	target, err := p.parseIdentOrVariable()
	if err != nil {
		return nil, err
	}

	return IntoExpression{Op: op, Value: value, Target: target}, nil
}

func (p *parser) parseGet() (Node, error) {
	p.advance() // consume "get"
	target, err := p.parseIdentOrVariable()
	if err != nil {
		return nil, err
	}
	return SingleExpression{Op: OpGet, Target: target}, nil
}

func (p *parser) parseDelete() (Node, error) {
	p.advance() // consume "delete"

	if p.peekKeyword("user") {
		p.advance()
		nameTok, err := p.expect(tokIdent)
		if err != nil {
			return nil, err
		}
		return MonadicExpression{Op: OpDelete, Target: KindUser, Ident: nameTok.text}, nil
	}

	if p.peekKeyword("database") {
		p.advance()
		name := ""
		if p.peek().kind == tokIdent {
			name = p.advance().text
		}
		return MonadicExpression{Op: OpDelete, Target: KindDatabase, Ident: name}, nil
	}

	target, err := p.parseIdentOrVariable()
	if err != nil {
		return nil, err
	}
	return SingleExpression{Op: OpDelete, Target: target}, nil
}

func (p *parser) parseList() (Node, error) {
	p.advance() // consume "list"

	if p.peekKeyword("databases") {
		p.advance()
		return MonadicExpression{Op: OpList, Target: KindDatabase}, nil
	}

	return SingleExpression{Op: OpList}, nil
}

// parseUserForm parses the tail of `insert user ...` / `update user ...`:
// an identifier followed by zero or more `field = "value"` pairs.
func (p *parser) parseUserForm(op Op) (Node, error) {
	p.advance() // consume "user"
	nameTok, err := p.expect(tokIdent)
	if err != nil {
		return nil, err
	}

	fields := make(map[string]Node)
	for p.peekKeyword("password") || p.peekKeyword("permission") {
		fieldName := p.advance().text
		if _, err := p.expect(tokEquals); err != nil {
			return nil, err
		}
		strTok, err := p.expect(tokString)
		if err != nil {
			return nil, err
		}
		fields[fieldName] = BsonLiteral{Value: strTok.text}
	}

	return MonadicExpression{Op: op, Target: KindUser, Ident: nameTok.text, Fields: fields}, nil
}

func (p *parser) parseIdentOrVariable() (Node, error) {
	t := p.peek()
	switch t.kind {
	case tokIdent:
		p.advance()
		return Identifier{Name: t.text}, nil
	case tokVarIdent:
		p.advance()
		return VariableIdentifier{Name: t.text}, nil
	default:
		return nil, &UnexpectedTokenError{Pos: t.pos, Message: fmt.Sprintf("expected identifier, found %s", t.kind)}
	}
}

func (p *parser) parseValueOrVariable() (Node, error) {
	if p.peek().kind == tokVarIdent {
		t := p.advance()
		return VariableIdentifier{Name: t.text}, nil
	}
	v, err := p.parseValue()
	if err != nil {
		return nil, err
	}
	return BsonLiteral{Value: v}, nil
}

// parseValue parses one JSON-like literal into a plain Go value.
func (p *parser) parseValue() (interface{}, error) {
	t := p.peek()
	switch t.kind {
	case tokString:
		p.advance()
		return t.text, nil
	case tokInt:
		p.advance()
		return t.intVal, nil
	case tokFloat:
		p.advance()
		return t.floatVal, nil
	case tokBool:
		p.advance()
		return t.boolVal, nil
	case tokNull:
		p.advance()
		return nil, nil
	case tokLBrace:
		return p.parseObject()
	case tokLBracket:
		return p.parseArray()
	default:
		return nil, &UnexpectedTokenError{Pos: t.pos, Message: fmt.Sprintf("expected value, found %s", t.kind)}
	}
}

func (p *parser) parseObject() (interface{}, error) {
	if _, err := p.expect(tokLBrace); err != nil {
		return nil, err
	}

	obj := make(map[string]interface{})
	if p.peek().kind == tokRBrace {
		p.advance()
		return obj, nil
	}

	for {
		keyTok, err := p.expect(tokString)
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokColon); err != nil {
			return nil, err
		}
		val, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		obj[keyTok.text] = val

		if p.peek().kind == tokComma {
			p.advance()
			continue
		}
		break
	}

	if _, err := p.expect(tokRBrace); err != nil {
		return nil, err
	}
	return obj, nil
}

func (p *parser) parseArray() (interface{}, error) {
	if _, err := p.expect(tokLBracket); err != nil {
		return nil, err
	}

	var arr []interface{}
	if p.peek().kind == tokRBracket {
		p.advance()
		return arr, nil
	}

	for {
		val, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		arr = append(arr, val)

		if p.peek().kind == tokComma {
			p.advance()
			continue
		}
		break
	}

	if _, err := p.expect(tokRBracket); err != nil {
		return nil, err
	}
	return arr, nil
}
