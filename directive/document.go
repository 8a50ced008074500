package directive

import (
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Directive 一条配置语句：名称、参数以及可选的子块
type Directive struct {
	Name    string       `json:"name"`
	Args    []string     `json:"args,omitempty"`
	IsBlock bool         `json:"is_block,omitempty"`
	Block   []*Directive `json:"block,omitempty"`
	Line    int          `json:"line"`
}

// Document 解析后的配置文档，按源文件顺序保存顶层指令
type Document struct {
	Directives []*Directive `json:"directives"`
}

// Arg 返回第 i 个参数，越界时返回空串
func (d *Directive) Arg(i int) string {
	if i < 0 || i >= len(d.Args) {
		return ""
	}
	return d.Args[i]
}

// Children 返回块内所有名为 name 的直接子指令
func (d *Directive) Children(name string) []*Directive {
	return findAll(d.Block, name)
}

// Child 返回块内第一个名为 name 的直接子指令
func (d *Directive) Child(name string) *Directive {
	return findFirst(d.Block, name)
}

// Clone 深拷贝指令，结果与原指令不共享任何切片
func (d *Directive) Clone() *Directive {
	if d == nil {
		return nil
	}
	out := &Directive{
		Name:    d.Name,
		IsBlock: d.IsBlock,
		Line:    d.Line,
	}
	if d.Args != nil {
		out.Args = append(make([]string, 0, len(d.Args)), d.Args...)
	}
	if d.IsBlock {
		out.Block = cloneAll(d.Block)
	}
	return out
}

// Children 返回所有名为 name 的顶层指令
func (doc *Document) Children(name string) []*Directive {
	return findAll(doc.Directives, name)
}

// Child 返回第一个名为 name 的顶层指令
func (doc *Document) Child(name string) *Directive {
	return findFirst(doc.Directives, name)
}

// Clone 深拷贝整个文档
func (doc *Document) Clone() *Document {
	if doc == nil {
		return nil
	}
	return &Document{Directives: cloneAll(doc.Directives)}
}

// Walk 按文档顺序深度优先遍历，parents 为从顶层到当前指令父块的路径。
// fn 返回 false 时不再进入该指令的子块。
func (doc *Document) Walk(fn func(parents []*Directive, d *Directive) bool) {
	walk(nil, doc.Directives, fn)
}

func walk(parents []*Directive, list []*Directive, fn func([]*Directive, *Directive) bool) {
	for _, d := range list {
		if !fn(parents, d) || !d.IsBlock {
			continue
		}
		walk(append(parents[:len(parents):len(parents)], d), d.Block, fn)
	}
}

// Render 输出规范化文本，Parse(Render()) 得到结构相同的文档
func (doc *Document) Render() string {
	var b strings.Builder
	render(&b, doc.Directives, 0)
	return b.String()
}

// Checksum 规范化文本的 xxhash64 摘要（16 位十六进制）
func (doc *Document) Checksum() string {
	return checksum(doc.Render())
}

// String 实现 fmt.Stringer
func (d *Directive) String() string {
	var b strings.Builder
	render(&b, []*Directive{d}, 0)
	return strings.TrimSuffix(b.String(), "\n")
}

func render(b *strings.Builder, list []*Directive, depth int) {
	indent := strings.Repeat("    ", depth)
	for _, d := range list {
		b.WriteString(indent)
		b.WriteString(quote(d.Name))
		for _, a := range d.Args {
			b.WriteByte(' ')
			b.WriteString(quote(a))
		}
		if !d.IsBlock {
			b.WriteString(";\n")
			continue
		}
		b.WriteString(" {\n")
		render(b, d.Block, depth+1)
		b.WriteString(indent)
		b.WriteString("}\n")
	}
}

// quote 仅在必要时加单引号
func quote(s string) string {
	if s != "" && !strings.ContainsAny(s, " \t\r\n;{}#'\"\\") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('\'')
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '\'', '\\':
			b.WriteByte('\\')
			b.WriteByte(c)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			b.WriteByte(c)
		}
	}
	b.WriteByte('\'')
	return b.String()
}

func checksum(s string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(s))
}

func findAll(list []*Directive, name string) []*Directive {
	var out []*Directive
	for _, d := range list {
		if d.Name == name {
			out = append(out, d)
		}
	}
	return out
}

func findFirst(list []*Directive, name string) *Directive {
	for _, d := range list {
		if d.Name == name {
			return d
		}
	}
	return nil
}

func cloneAll(list []*Directive) []*Directive {
	out := make([]*Directive, len(list))
	for i, d := range list {
		out[i] = d.Clone()
	}
	return out
}
