package vhost

import (
	"fmt"
	"net/http"
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/BaSui01/dynconf/directive"
	"github.com/BaSui01/dynconf/internal/admission"
)

// Options 编译参数
type Options struct {
	// DynamicConfig 为带 dynamic_config 的 location 创建处理器，nil 时该 location 返回 404
	DynamicConfig func(policy admission.Policy) http.Handler
	// Product Server 响应头中的产品名
	Product string
	// Version server_tokens on 时附加的版本号
	Version string
	// Logs access_log 使用的文件表，nil 时不写访问日志
	Logs *LogFiles
}

// Table 编译后的路由表，不可变
type Table struct {
	globals  Globals
	ports    map[int]*portRoutes
	logPaths []string
	writable []string
}

type portRoutes struct {
	servers []*virtualServer
}

type virtualServer struct {
	names     []string
	conf      conf
	locations []*location
	fallback  http.Handler
	rewrite   http.Handler
}

type matchKind int

const (
	matchPrefix matchKind = iota
	matchPrefixNoRegex
	matchExact
	matchRegex
)

type location struct {
	kind     matchKind
	uri      string
	re       *regexp.Regexp
	children []*location
	handler  http.Handler
}

// Compile 编译已通过 directive.Validate 的文档
func Compile(doc *directive.Document, opts Options) (*Table, error) {
	if doc == nil {
		return nil, fmt.Errorf("nil document")
	}
	if opts.Product == "" {
		opts.Product = "dynconf"
	}

	t := &Table{
		globals: globals(doc),
		ports:   make(map[int]*portRoutes),
	}
	logs := make(map[string]bool)
	writable := make(map[string]bool)
	addWritable := func(p string) {
		if p != "" && p != "stderr" && p != "stdout" {
			writable[p] = true
		}
	}
	addWritable(t.globals.PidPath)

	doc.Walk(func(_ []*directive.Directive, d *directive.Directive) bool {
		switch d.Name {
		case "access_log":
			if p := d.Arg(0); p != "off" {
				logs[p] = true
			}
		case "error_log":
			addWritable(d.Arg(0))
		}
		return true
	})

	base := rootConf()
	if h := doc.Child("http"); h != nil {
		httpConf := base.inherit(h.Block)
		for _, s := range h.Children("server") {
			vs, err := compileServer(s, httpConf, opts)
			if err != nil {
				return nil, err
			}
			for _, l := range s.Children("listen") {
				port, err := directive.ParsePort(l.Arg(0))
				if err != nil {
					return nil, err
				}
				pr := t.ports[port]
				if pr == nil {
					pr = &portRoutes{}
					t.ports[port] = pr
				}
				pr.servers = append(pr.servers, vs)
			}
		}
	}

	t.logPaths = sortedKeys(logs)
	t.writable = sortedKeys(writable)
	return t, nil
}

func compileServer(s *directive.Directive, parent conf, opts Options) (*virtualServer, error) {
	c := parent.inherit(s.Block)
	vs := &virtualServer{conf: c}
	for _, n := range s.Children("server_name") {
		for _, name := range n.Args {
			vs.names = append(vs.names, strings.ToLower(name))
		}
	}
	locs, err := compileLocations(s.Children("location"), c, opts)
	if err != nil {
		return nil, err
	}
	vs.locations = locs
	if c.ret != nil {
		vs.rewrite = wrap(c, returnHandler(c), opts)
	}
	if c.root != "" {
		vs.fallback = wrap(c, staticHandler(c.root), opts)
	} else {
		vs.fallback = wrap(c, http.NotFoundHandler(), opts)
	}
	return vs, nil
}

func compileLocations(list []*directive.Directive, parent conf, opts Options) ([]*location, error) {
	out := make([]*location, 0, len(list))
	for _, d := range list {
		loc := &location{uri: d.Args[len(d.Args)-1]}
		if len(d.Args) == 2 {
			switch d.Args[0] {
			case "=":
				loc.kind = matchExact
			case "^~":
				loc.kind = matchPrefixNoRegex
			case "~", "~*":
				expr := loc.uri
				if d.Args[0] == "~*" {
					expr = "(?i)" + expr
				}
				re, err := regexp.Compile(expr)
				if err != nil {
					return nil, fmt.Errorf("location %q: %w", loc.uri, err)
				}
				loc.kind = matchRegex
				loc.re = re
			}
		}

		c := parent.inherit(d.Block)
		loc.handler = locationHandler(c, opts)
		children, err := compileLocations(d.Children("location"), c, opts)
		if err != nil {
			return nil, err
		}
		loc.children = children
		out = append(out, loc)
	}
	return out, nil
}

func locationHandler(c conf, opts Options) http.Handler {
	switch {
	case c.dynamic:
		if opts.DynamicConfig == nil {
			return wrap(c, http.NotFoundHandler(), opts)
		}
		return wrapDynamic(c, opts.DynamicConfig(c.policy()), opts)
	case c.ret != nil:
		return wrap(c, returnHandler(c), opts)
	case c.root != "":
		return wrap(c, staticHandler(c.root), opts)
	default:
		return wrap(c, http.NotFoundHandler(), opts)
	}
}

// =============================================================================
// 🎯 请求分发
// =============================================================================

// Serve 按端口、Host、路径分发请求
func (t *Table) Serve(port int, w http.ResponseWriter, r *http.Request) {
	pr := t.ports[port]
	if pr == nil || len(pr.servers) == 0 {
		http.NotFound(w, r)
		return
	}
	pr.pick(r.Host).serve(w, r)
}

// Handler 返回固定端口的 http.Handler
func (t *Table) Handler(port int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Serve(port, w, r)
	})
}

// Ports 声明的监听端口（升序）
func (t *Table) Ports() []int {
	out := make([]int, 0, len(t.ports))
	for p := range t.ports {
		out = append(out, p)
	}
	sort.Ints(out)
	return out
}

// Globals main/events/http 级别参数
func (t *Table) Globals() Globals {
	return t.globals
}

// LogPaths access_log 引用的文件
func (t *Table) LogPaths() []string {
	return append([]string(nil), t.logPaths...)
}

// WritablePaths 需要在试运行中确认可写的文件（error_log、pid）
func (t *Table) WritablePaths() []string {
	return append([]string(nil), t.writable...)
}

func (p *portRoutes) pick(host string) *virtualServer {
	host = strings.ToLower(stripPort(host))
	if host != "" {
		for _, s := range p.servers {
			for _, n := range s.names {
				if n == host {
					return s
				}
			}
		}
		var best *virtualServer
		bestLen := 0
		for _, s := range p.servers {
			for _, n := range s.names {
				suffix, ok := wildcardSuffix(n)
				if !ok {
					continue
				}
				if (strings.HasSuffix(host, suffix) || host == suffix[1:]) && len(suffix) > bestLen {
					best, bestLen = s, len(suffix)
				}
			}
		}
		if best != nil {
			return best
		}
	}
	return p.servers[0]
}

// wildcardSuffix "*.example.com" 与 ".example.com" 返回 ".example.com"
func wildcardSuffix(name string) (string, bool) {
	switch {
	case strings.HasPrefix(name, "*."):
		return name[1:], true
	case strings.HasPrefix(name, ".") && len(name) > 1:
		return name, true
	}
	return "", false
}

func (s *virtualServer) serve(w http.ResponseWriter, r *http.Request) {
	if s.rewrite != nil {
		s.rewrite.ServeHTTP(w, r)
		return
	}
	if loc := matchLocation(s.locations, cleanPath(r.URL.Path)); loc != nil {
		loc.handler.ServeHTTP(w, r)
		return
	}
	s.fallback.ServeHTTP(w, r)
}

// matchLocation nginx 风格匹配：精确 → 最长前缀（含嵌套）→ ^~ → 正则 → 最长前缀
func matchLocation(locs []*location, p string) *location {
	var best *location
	for _, l := range locs {
		switch l.kind {
		case matchExact:
			if p == l.uri {
				return l
			}
		case matchPrefix, matchPrefixNoRegex:
			if strings.HasPrefix(p, l.uri) && (best == nil || len(l.uri) > len(best.uri)) {
				best = l
			}
		}
	}
	if best != nil && len(best.children) > 0 {
		if inner := matchLocation(best.children, p); inner != nil {
			return inner
		}
	}
	if best != nil && best.kind == matchPrefixNoRegex {
		return best
	}
	for _, l := range locs {
		if l.kind == matchRegex && l.re.MatchString(p) {
			return l
		}
	}
	return best
}

func cleanPath(p string) string {
	if p == "" {
		return "/"
	}
	if p[0] != '/' {
		p = "/" + p
	}
	np := path.Clean(p)
	if strings.HasSuffix(p, "/") && np != "/" {
		np += "/"
	}
	return np
}

func stripPort(host string) string {
	if strings.HasPrefix(host, "[") {
		if i := strings.IndexByte(host, ']'); i > 0 {
			return host[1:i]
		}
		return host
	}
	if i := strings.LastIndexByte(host, ':'); i >= 0 && strings.Count(host, ":") == 1 {
		return host[:i]
	}
	return host
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
