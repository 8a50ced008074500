package directive

import (
	"github.com/BaSui01/dynconf/types"
)

// MaxDepth 块嵌套的最大深度
const MaxDepth = 64

// Parse 将配置文本解析为 Document。
// 失败时返回 *types.Error{Code: types.ErrSyntax}，Line 指向出错位置。
// Parse 不持有任何共享状态，可被多个请求并发调用。
func Parse(text []byte) (*Document, error) {
	p := &parser{lex: newLexer(text)}
	list, err := p.block(0)
	if err != nil {
		return nil, err
	}
	return &Document{Directives: list}, nil
}

// ParseString Parse 的字符串版本
func ParseString(text string) (*Document, error) {
	return Parse([]byte(text))
}

type parser struct {
	lex *lexer
}

// block 解析语句序列，直到 EOF（顶层）或匹配的 "}"（嵌套）
func (p *parser) block(depth int) ([]*Directive, error) {
	list := make([]*Directive, 0, 4)
	for {
		tok, err := p.lex.next()
		if err != nil {
			return nil, err
		}
		switch tok.kind {
		case tokEOF:
			if depth > 0 {
				return nil, types.NewSyntaxError(tok.line, `unexpected end of file, expecting "}"`)
			}
			return list, nil
		case tokCloseBrace:
			if depth == 0 {
				return nil, types.NewSyntaxError(tok.line, `unexpected "}"`)
			}
			return list, nil
		case tokSemicolon, tokOpenBrace:
			return nil, types.NewSyntaxError(tok.line, "unexpected %s", tok.kind)
		}

		if tok.text == "" {
			return nil, types.NewSyntaxError(tok.line, "invalid directive name")
		}
		d, err := p.statement(tok, depth)
		if err != nil {
			return nil, err
		}
		list = append(list, d)
	}
}

// statement 读取指令参数，并以 ";" 或 "{...}" 结束
func (p *parser) statement(name token, depth int) (*Directive, error) {
	d := &Directive{Name: name.text, Line: name.line}
	for {
		tok, err := p.lex.next()
		if err != nil {
			return nil, err
		}
		switch tok.kind {
		case tokWord:
			d.Args = append(d.Args, tok.text)
		case tokSemicolon:
			return d, nil
		case tokOpenBrace:
			if depth+1 > MaxDepth {
				return nil, types.NewSyntaxError(tok.line, "blocks are nested too deeply")
			}
			d.IsBlock = true
			d.Block, err = p.block(depth + 1)
			if err != nil {
				return nil, err
			}
			return d, nil
		case tokCloseBrace:
			return nil, types.NewSyntaxError(tok.line, `unexpected "}"`)
		default:
			return nil, types.NewSyntaxError(tok.line, `unexpected end of file, expecting ";" or "}"`)
		}
	}
}
