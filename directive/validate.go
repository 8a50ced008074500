package directive

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/net/http/httpguts"

	"github.com/BaSui01/dynconf/types"
)

// locationModifiers location 支持的匹配修饰符
var locationModifiers = map[string]bool{"=": true, "^~": true, "~": true, "~*": true}

// Validate 按指令表做语义检查，返回文档顺序上的第一个错误
// （*types.Error{Code: types.ErrSemantic}），合法时返回 nil。
func Validate(doc *Document) error {
	if doc == nil || len(doc.Directives) == 0 {
		return types.NewError(types.ErrSemantic, "configuration has no directives")
	}
	return validateBlock(doc.Directives, CtxMain, nil)
}

// ParseAndValidate 解析并校验，等价于 Parse 后调用 Validate
func ParseAndValidate(text []byte) (*Document, error) {
	doc, err := Parse(text)
	if err != nil {
		return nil, err
	}
	if err := Validate(doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// validateBlock 校验同一块内的指令；parent 为所在块指令（顶层为 nil）
func validateBlock(list []*Directive, ctx Context, parent *Directive) error {
	seen := make(map[string]bool, len(list))
	locations := make(map[string]bool)
	for _, d := range list {
		spec, ok := Lookup(d.Name)
		if !ok {
			return types.NewSemanticError(d.Name, d.Line, "unknown directive %q", d.Name)
		}
		if spec.Contexts&ctx == 0 {
			return types.NewSemanticError(d.Name, d.Line, "%q directive is not allowed here", d.Name)
		}
		if spec.Block && !d.IsBlock {
			return types.NewSemanticError(d.Name, d.Line, "directive %q has no opening \"{\"", d.Name)
		}
		if !spec.Block && d.IsBlock {
			return types.NewSemanticError(d.Name, d.Line, "directive %q is not terminated by \";\"", d.Name)
		}
		if len(d.Args) < spec.MinArgs || (spec.MaxArgs != Unbounded && len(d.Args) > spec.MaxArgs) {
			return types.NewSemanticError(d.Name, d.Line, "invalid number of arguments in %q directive", d.Name)
		}
		if spec.Unique {
			if seen[d.Name] {
				return types.NewSemanticError(d.Name, d.Line, "%q directive is duplicate", d.Name)
			}
			seen[d.Name] = true
		}
		if err := checkArgs(d, spec.Kind); err != nil {
			return err
		}

		if d.Name == "location" {
			key := strings.Join(d.Args, " ")
			if locations[key] {
				return types.NewSemanticError(d.Name, d.Line, "duplicate location %q", d.Args[len(d.Args)-1])
			}
			locations[key] = true
			if err := checkNestedLocation(parent, d); err != nil {
				return err
			}
		}

		if d.IsBlock {
			if err := validateBlock(d.Block, spec.Inner, d); err != nil {
				return err
			}
		}
		if d.Name == "server" {
			if err := checkServer(d); err != nil {
				return err
			}
		}
	}
	return nil
}

func invalidValue(d *Directive, value string, cause error) error {
	return types.NewSemanticError(d.Name, d.Line, "invalid value %q in %q directive", value, d.Name).WithCause(cause)
}

// checkArgs 按参数类型校验
func checkArgs(d *Directive, kind ArgKind) error {
	switch kind {
	case KindNone, KindAny:
		return nil
	case KindPositive:
		if _, err := ParsePositive(d.Args[0]); err != nil {
			return invalidValue(d, d.Args[0], err)
		}
	case KindAutoOrNumber:
		if d.Args[0] != "auto" {
			if _, err := ParsePositive(d.Args[0]); err != nil {
				return invalidValue(d, d.Args[0], err)
			}
		}
	case KindPort:
		if _, err := ParsePort(d.Args[0]); err != nil {
			return invalidValue(d, d.Args[0], err)
		}
	case KindSize:
		if _, err := ParseSize(d.Args[0]); err != nil {
			return invalidValue(d, d.Args[0], err)
		}
	case KindDuration:
		if _, err := ParseDuration(d.Args[0]); err != nil {
			return invalidValue(d, d.Args[0], err)
		}
	case KindFlag:
		if _, err := ParseFlag(d.Args[0]); err != nil {
			return invalidValue(d, d.Args[0], err)
		}
	case KindPath, KindAccessLog:
		if d.Args[0] == "" {
			return invalidValue(d, d.Args[0], fmt.Errorf("empty path"))
		}
	case KindErrorLog:
		if d.Args[0] == "" {
			return invalidValue(d, d.Args[0], fmt.Errorf("empty path"))
		}
		if len(d.Args) == 2 {
			if !IsLogLevel(d.Args[1]) {
				return invalidValue(d, d.Args[1], fmt.Errorf("unknown log level"))
			}
		}
	case KindReturn:
		return checkReturn(d)
	case KindLocation:
		return checkLocation(d)
	case KindAllowList:
		if len(d.Args) == 1 && d.Args[0] == "all" {
			return nil
		}
		return checkPrefixes(d)
	case KindPrefixList:
		return checkPrefixes(d)
	case KindHeader:
		if !httpguts.ValidHeaderFieldName(d.Args[0]) {
			return invalidValue(d, d.Args[0], fmt.Errorf("invalid header name"))
		}
		if !httpguts.ValidHeaderFieldValue(d.Args[1]) {
			return invalidValue(d, d.Args[1], fmt.Errorf("invalid header value"))
		}
	}
	return nil
}

func checkReturn(d *Directive) error {
	if len(d.Args) == 1 && IsURL(d.Args[0]) {
		return nil
	}
	if _, err := ParseStatus(d.Args[0]); err != nil {
		return invalidValue(d, d.Args[0], err)
	}
	return nil
}

func checkLocation(d *Directive) error {
	uri := d.Args[len(d.Args)-1]
	if len(d.Args) == 2 {
		mod := d.Args[0]
		if !locationModifiers[mod] {
			return invalidValue(d, mod, fmt.Errorf("invalid location modifier"))
		}
		if mod == "~" || mod == "~*" {
			expr := uri
			if mod == "~*" {
				expr = "(?i)" + uri
			}
			if _, err := regexp.Compile(expr); err != nil {
				return invalidValue(d, uri, err)
			}
			return nil
		}
	} else if locationModifiers[uri] {
		return invalidValue(d, uri, fmt.Errorf("location modifier without uri"))
	}
	if uri == "" {
		return invalidValue(d, uri, fmt.Errorf("empty location uri"))
	}
	return nil
}

// checkNestedLocation 嵌套 location 规则：精确匹配块内不可嵌套，
// 前缀匹配必须落在外层前缀之内
func checkNestedLocation(parent, d *Directive) error {
	if parent == nil || parent.Name != "location" {
		return nil
	}
	if len(parent.Args) == 2 && parent.Args[0] == "=" {
		return types.NewSemanticError(d.Name, d.Line, "location %q cannot be inside the exact location %q",
			d.Args[len(d.Args)-1], parent.Args[1])
	}
	outerRegex := len(parent.Args) == 2 && (parent.Args[0] == "~" || parent.Args[0] == "~*")
	innerRegex := len(d.Args) == 2 && (d.Args[0] == "~" || d.Args[0] == "~*")
	if outerRegex || innerRegex {
		return nil
	}
	outer := parent.Args[len(parent.Args)-1]
	inner := d.Args[len(d.Args)-1]
	if !strings.HasPrefix(inner, outer) {
		return types.NewSemanticError(d.Name, d.Line, "location %q is outside location %q", inner, outer)
	}
	return nil
}

func checkPrefixes(d *Directive) error {
	for _, a := range d.Args {
		if _, err := ParsePrefix(a); err != nil {
			return invalidValue(d, a, err)
		}
	}
	return nil
}

// checkServer server 块至少一个 listen，且同一 server 内端口不重复
func checkServer(d *Directive) error {
	listens := d.Children("listen")
	if len(listens) == 0 {
		return types.NewSemanticError(d.Name, d.Line, "no \"listen\" directive in \"server\" block")
	}
	ports := make(map[int]bool, len(listens))
	for _, l := range listens {
		port, _ := ParsePort(l.Args[0])
		if ports[port] {
			return types.NewSemanticError(l.Name, l.Line, "duplicate listen port %d", port)
		}
		ports[port] = true
	}
	return nil
}

// IsLogLevel 判断 error_log 的级别参数是否合法
func IsLogLevel(s string) bool {
	_, ok := logLevels[s]
	return ok
}

var logLevels = map[string]int{
	"debug":  0,
	"info":   1,
	"notice": 2,
	"warn":   3,
	"error":  4,
	"crit":   5,
	"alert":  6,
	"emerg":  7,
}
