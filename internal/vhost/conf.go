package vhost

import (
	"net/netip"
	"time"

	"github.com/BaSui01/dynconf/directive"
	"github.com/BaSui01/dynconf/internal/admission"
)

// 默认值与 nginx 保持一致
const (
	DefaultWorkerConnections = 512
	DefaultKeepaliveTimeout  = 75 * time.Second
	DefaultClientMaxBodySize = 1 << 20
	DefaultType              = "text/plain"
)

// Globals main/events/http 级别的进程参数
type Globals struct {
	// WorkerProcesses 0 表示 auto
	WorkerProcesses   int
	WorkerConnections int
	KeepaliveTimeout  time.Duration
	ErrorLogPath      string
	ErrorLogLevel     string
	PidPath           string
}

type header struct {
	name  string
	value string
}

type returnSpec struct {
	code int
	text string
}

// conf 某一层级合并后的配置
type conf struct {
	root         string
	ret          *returnSpec
	dynamic      bool
	defaultType  string
	maxBody      int64
	accessLog    string
	headers      []header
	serverTokens bool

	allowList      *admission.AllowList
	dcMaxBody      int64
	trustedProxies []netip.Prefix
}

func rootConf() conf {
	return conf{
		defaultType:  DefaultType,
		maxBody:      DefaultClientMaxBodySize,
		serverTokens: true,
	}
}

// inherit 以 parent 为基础叠加 block 内的指令。
// add_header 与 nginx 一致：本层有任何 add_header 时不继承上层。
func (parent conf) inherit(block []*directive.Directive) conf {
	c := parent
	c.ret = nil
	c.dynamic = false

	var own []header
	for _, d := range block {
		switch d.Name {
		case "root":
			c.root = d.Arg(0)
		case "return":
			c.ret = parseReturn(d)
		case "dynamic_config":
			c.dynamic = true
		case "default_type":
			c.defaultType = d.Arg(0)
		case "client_max_body_size":
			c.maxBody, _ = directive.ParseSize(d.Arg(0))
		case "access_log":
			c.accessLog = d.Arg(0)
		case "add_header":
			own = append(own, header{name: d.Arg(0), value: d.Arg(1)})
		case "server_tokens":
			c.serverTokens, _ = directive.ParseFlag(d.Arg(0))
		case "dynamic_config_allowed_ips":
			c.allowList = parseAllowList(d.Args)
		case "dynamic_config_max_body_size":
			c.dcMaxBody, _ = directive.ParseSize(d.Arg(0))
		case "dynamic_config_trusted_proxies":
			c.trustedProxies = parsePrefixes(d.Args)
		}
	}
	if len(own) > 0 {
		c.headers = own
	}
	return c
}

// policy 合并后的准入策略
func (c conf) policy() admission.Policy {
	p := admission.DefaultPolicy()
	if c.allowList != nil {
		p.AllowList = c.allowList
	}
	if c.dcMaxBody > 0 {
		p.MaxBodySize = c.dcMaxBody
	}
	p.TrustedProxies = c.trustedProxies
	return p
}

func parseReturn(d *directive.Directive) *returnSpec {
	if len(d.Args) == 1 && directive.IsURL(d.Arg(0)) {
		return &returnSpec{code: 302, text: d.Arg(0)}
	}
	code, _ := directive.ParseStatus(d.Arg(0))
	return &returnSpec{code: code, text: d.Arg(1)}
}

func parseAllowList(args []string) *admission.AllowList {
	if len(args) == 1 && args[0] == "all" {
		return admission.AllowAll()
	}
	return admission.NewAllowList(parsePrefixes(args))
}

func parsePrefixes(args []string) []netip.Prefix {
	out := make([]netip.Prefix, 0, len(args))
	for _, a := range args {
		if p, err := directive.ParsePrefix(a); err == nil {
			out = append(out, p)
		}
	}
	return out
}

// globals 读取 main/events/http 级别参数
func globals(doc *directive.Document) Globals {
	g := Globals{
		WorkerConnections: DefaultWorkerConnections,
		KeepaliveTimeout:  DefaultKeepaliveTimeout,
	}
	if d := doc.Child("worker_processes"); d != nil && d.Arg(0) != "auto" {
		g.WorkerProcesses, _ = directive.ParsePositive(d.Arg(0))
	}
	if d := doc.Child("error_log"); d != nil {
		g.ErrorLogPath = d.Arg(0)
		g.ErrorLogLevel = d.Arg(1)
	}
	if d := doc.Child("pid"); d != nil {
		g.PidPath = d.Arg(0)
	}
	if ev := doc.Child("events"); ev != nil {
		if d := ev.Child("worker_connections"); d != nil {
			g.WorkerConnections, _ = directive.ParsePositive(d.Arg(0))
		}
	}
	if h := doc.Child("http"); h != nil {
		if d := h.Child("keepalive_timeout"); d != nil {
			g.KeepaliveTimeout, _ = directive.ParseDuration(d.Arg(0))
		}
	}
	return g
}
