package expr

import "fmt"

const maxDepth = 64

var reserved = map[string]bool{
	"and": true, "or": true, "not": true, "in": true,
	"true": true, "false": true, "null": true,
}

type parser struct {
	toks  []token
	pos   int
	depth int
}

func parse(src string) (node, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	root, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, p.errorf(t, "unexpected %s", t)
	}
	return root, nil
}

func (p *parser) peek() token {
	return p.toks[p.pos]
}

func (p *parser) peekAt(offset int) token {
	if p.pos+offset >= len(p.toks) {
		return p.toks[len(p.toks)-1]
	}
	return p.toks[p.pos+offset]
}

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) errorf(t token, format string, args ...any) error {
	return &SyntaxError{Pos: t.pos, Msg: fmt.Sprintf(format, args...)}
}

func isKeyword(t token, kw string) bool {
	return t.kind == tokIdent && t.text == kw
}

func isOp(t token, op string) bool {
	return t.kind == tokOp && t.text == op
}

func (p *parser) enter() error {
	p.depth++
	if p.depth > maxDepth {
		return p.errorf(p.peek(), "expression nested too deeply")
	}
	return nil
}

func (p *parser) leave() {
	p.depth--
}

func (p *parser) parseOr() (node, error) {
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()

	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for t := p.peek(); isOp(t, "||") || isKeyword(t, "or"); t = p.peek() {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &logicalNode{op: "or", left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (node, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for t := p.peek(); isOp(t, "&&") || isKeyword(t, "and"); t = p.peek() {
		p.next()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &logicalNode{op: "and", left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseNot() (node, error) {
	if t := p.peek(); isOp(t, "!") || isKeyword(t, "not") {
		p.next()
		if err := p.enter(); err != nil {
			return nil, err
		}
		defer p.leave()
		x, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &notNode{x: x}, nil
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (node, error) {
	left, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	t := p.peek()
	var op string
	switch {
	case t.kind == tokOp && t.text != "!" && t.text != "&&" && t.text != "||":
		op = t.text
		p.next()
	case isKeyword(t, "in"):
		op = "in"
		p.next()
	case isKeyword(t, "not") && isKeyword(p.peekAt(1), "in"):
		op = "not in"
		p.next()
		p.next()
	default:
		return left, nil
	}
	right, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	return &compareNode{op: op, left: left, right: right}, nil
}

func (p *parser) parseOperand() (node, error) {
	t := p.next()
	switch t.kind {
	case tokNumber:
		return &literalNode{val: t.num}, nil
	case tokString:
		return &literalNode{val: t.text}, nil
	case tokIdent:
		switch t.text {
		case "true":
			return &literalNode{val: true}, nil
		case "false":
			return &literalNode{val: false}, nil
		case "null":
			return &literalNode{val: nil}, nil
		}
		if reserved[t.text] {
			return nil, p.errorf(t, "unexpected keyword %s", t)
		}
		parts := []string{t.text}
		for p.peek().kind == tokDot {
			p.next()
			field := p.next()
			if field.kind != tokIdent {
				return nil, p.errorf(field, "expected field name, got %s", field)
			}
			parts = append(parts, field.text)
		}
		return &pathNode{parts: parts}, nil
	case tokLParen:
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if closing := p.next(); closing.kind != tokRParen {
			return nil, p.errorf(closing, "expected ), got %s", closing)
		}
		return inner, nil
	case tokLBrack:
		list := &listNode{}
		if p.peek().kind == tokRBrack {
			p.next()
			return list, nil
		}
		for {
			item, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			list.items = append(list.items, item)
			sep := p.next()
			if sep.kind == tokRBrack {
				return list, nil
			}
			if sep.kind != tokComma {
				return nil, p.errorf(sep, "expected , or ], got %s", sep)
			}
		}
	}
	return nil, p.errorf(t, "unexpected %s", t)
}
