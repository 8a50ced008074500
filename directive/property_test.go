package directive

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/BaSui01/dynconf/types"
)

// 生成任意参数（含空格、引号、分号等需要转义的字符）
func genArg() *rapid.Generator[string] {
	return rapid.StringOfN(rapid.SampledFrom([]rune("abcXYZ019/._-;{}#'\" \t\\")), 0, 12, -1)
}

func genName() *rapid.Generator[string] {
	return rapid.StringMatching(`[a-z][a-z_]{0,15}`)
}

func genDirectives(depth int) *rapid.Generator[[]*Directive] {
	return rapid.Custom(func(t *rapid.T) []*Directive {
		n := rapid.IntRange(0, 4).Draw(t, "count")
		list := make([]*Directive, 0, n)
		for i := 0; i < n; i++ {
			d := &Directive{
				Name: genName().Draw(t, "name"),
				Args: rapid.SliceOfN(genArg(), 0, 3).Draw(t, "args"),
			}
			if depth < 3 && rapid.Bool().Draw(t, "block") {
				d.IsBlock = true
				d.Block = genDirectives(depth + 1).Draw(t, "children")
			}
			list = append(list, d)
		}
		return list
	})
}

// 属性：渲染结果总能被重新解析，且结构保持不变
func TestProperty_RenderParseStable(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		doc := &Document{Directives: genDirectives(0).Draw(rt, "doc")}
		text := doc.Render()

		parsed, err := ParseString(text)
		if err != nil {
			rt.Fatalf("render output did not parse: %v\n%s", err, text)
		}
		if parsed.Render() != text {
			rt.Fatalf("structure changed:\n%s\nvs\n%s", text, parsed.Render())
		}
	})
}

// 属性：任意包含未知指令名的文档都会被拒绝，错误指向该指令
func TestProperty_UnknownDirectiveRejected(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		name := rapid.StringMatching(`[a-z_]{3,20}`).Filter(func(s string) bool {
			_, known := Lookup(s)
			return !known
		}).Draw(rt, "unknown")
		args := rapid.SliceOfN(rapid.StringMatching(`[a-z0-9]{1,8}`), 0, 3).Draw(rt, "args")
		placement := rapid.IntRange(0, 2).Draw(rt, "placement")

		stmt := name
		if len(args) > 0 {
			stmt += " " + strings.Join(args, " ")
		}
		stmt += ";"

		var text string
		switch placement {
		case 0:
			text = "worker_processes 1;\n" + stmt
		case 1:
			text = "http {\n" + stmt + "\n}"
		default:
			text = "http { server { listen 8080; location / {\n" + stmt + "\n} } }"
		}

		doc, err := ParseString(text)
		require.NoError(rt, err)
		err = Validate(doc)
		e, ok := types.AsError(err)
		if !ok || e.Code != types.ErrSemantic || e.Directive != name {
			rt.Fatalf("expected semantic error for %q, got %v", name, err)
		}
	})
}

// 属性：Parse 对任意字节输入不会 panic，失败时总是 SYNTAX_ERROR
func TestProperty_ParseTotal(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		input := rapid.SliceOfN(rapid.SampledFrom([]byte("ab ;{}#'\"\\\n")), 0, 64).Draw(rt, "input")
		_, err := Parse(input)
		if err != nil && !types.IsErrorCode(err, types.ErrSyntax) {
			rt.Fatalf("unexpected error kind: %v", err)
		}
	})
}
