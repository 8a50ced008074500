package directive

import (
	"github.com/BaSui01/dynconf/types"
)

type tokenKind int

const (
	tokWord tokenKind = iota
	tokSemicolon
	tokOpenBrace
	tokCloseBrace
	tokEOF
)

func (k tokenKind) String() string {
	switch k {
	case tokWord:
		return "word"
	case tokSemicolon:
		return `";"`
	case tokOpenBrace:
		return `"{"`
	case tokCloseBrace:
		return `"}"`
	default:
		return "end of file"
	}
}

type token struct {
	kind   tokenKind
	text   string
	line   int
	quoted bool
}

// lexer 逐字节切分配置文本，只持有局部状态
type lexer struct {
	src  []byte
	pos  int
	line int
}

func newLexer(src []byte) *lexer {
	return &lexer{src: src, line: 1}
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\r' || c == '\n'
}

func isDelimiter(c byte) bool {
	return isSpace(c) || c == ';' || c == '{' || c == '}'
}

// next 返回下一个 token，注释和空白被跳过
func (l *lexer) next() (token, error) {
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		switch {
		case c == '\n':
			l.line++
			l.pos++
		case isSpace(c):
			l.pos++
		case c == '#':
			for l.pos < len(l.src) && l.src[l.pos] != '\n' {
				l.pos++
			}
		case c == ';':
			l.pos++
			return token{kind: tokSemicolon, text: ";", line: l.line}, nil
		case c == '{':
			l.pos++
			return token{kind: tokOpenBrace, text: "{", line: l.line}, nil
		case c == '}':
			l.pos++
			return token{kind: tokCloseBrace, text: "}", line: l.line}, nil
		case c == '"' || c == '\'':
			return l.quoted(c)
		default:
			return l.word(), nil
		}
	}
	return token{kind: tokEOF, line: l.line}, nil
}

func (l *lexer) word() token {
	start := l.pos
	for l.pos < len(l.src) && !isDelimiter(l.src[l.pos]) {
		l.pos++
	}
	return token{kind: tokWord, text: string(l.src[start:l.pos]), line: l.line}
}

// quoted 读取引号字符串，支持 \" \' \\ \n \r \t 转义
func (l *lexer) quoted(q byte) (token, error) {
	line := l.line
	l.pos++ // 跳过开引号
	buf := make([]byte, 0, 16)
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		switch {
		case c == q:
			l.pos++
			if l.pos < len(l.src) && !isDelimiter(l.src[l.pos]) {
				return token{}, types.NewSyntaxError(l.line, "unexpected %q", string(l.src[l.pos]))
			}
			return token{kind: tokWord, text: string(buf), line: line, quoted: true}, nil
		case c == '\\' && l.pos+1 < len(l.src):
			l.pos++
			switch e := l.src[l.pos]; e {
			case 'n':
				buf = append(buf, '\n')
			case 'r':
				buf = append(buf, '\r')
			case 't':
				buf = append(buf, '\t')
			case '"', '\'', '\\':
				buf = append(buf, e)
			default:
				buf = append(buf, '\\', e)
			}
			if l.src[l.pos] == '\n' {
				l.line++
			}
			l.pos++
		default:
			if c == '\n' {
				l.line++
			}
			buf = append(buf, c)
			l.pos++
		}
	}
	return token{}, types.NewSyntaxError(l.line, "unexpected end of file, unterminated quoted string")
}
