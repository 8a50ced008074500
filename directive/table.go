package directive

import "strings"

// Context 指令允许出现的上下文（位掩码）
type Context uint8

const (
	CtxMain Context = 1 << iota
	CtxEvents
	CtxHTTP
	CtxServer
	CtxLocation
)

// String 实现 fmt.Stringer
func (c Context) String() string {
	names := make([]string, 0, 5)
	for _, e := range []struct {
		ctx  Context
		name string
	}{
		{CtxMain, "main"},
		{CtxEvents, "events"},
		{CtxHTTP, "http"},
		{CtxServer, "server"},
		{CtxLocation, "location"},
	} {
		if c&e.ctx != 0 {
			names = append(names, e.name)
		}
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, "|")
}

// ArgKind 参数类型
type ArgKind int

const (
	KindNone ArgKind = iota
	KindAny
	KindPositive
	KindAutoOrNumber
	KindPort
	KindSize
	KindDuration
	KindFlag
	KindPath
	KindErrorLog
	KindAccessLog
	KindReturn
	KindLocation
	KindAllowList
	KindPrefixList
	KindHeader
)

// Unbounded MaxArgs 不设上限
const Unbounded = -1

// Spec 指令元数据：位置、参数个数和类型、是否为块、是否唯一
type Spec struct {
	Contexts Context
	MinArgs  int
	MaxArgs  int
	Kind     ArgKind
	Block    bool
	// Inner 块内子指令所处的上下文
	Inner  Context
	Unique bool
}

const ctxHTTPAll = CtxHTTP | CtxServer | CtxLocation

// table 已知指令的封闭集合，初始化后只读
var table = map[string]Spec{
	// main
	"worker_processes": {Contexts: CtxMain, MinArgs: 1, MaxArgs: 1, Kind: KindAutoOrNumber, Unique: true},
	"error_log":        {Contexts: CtxMain | ctxHTTPAll, MinArgs: 1, MaxArgs: 2, Kind: KindErrorLog, Unique: true},
	"pid":              {Contexts: CtxMain, MinArgs: 1, MaxArgs: 1, Kind: KindPath, Unique: true},
	"events":           {Contexts: CtxMain, Block: true, Inner: CtxEvents, Unique: true},
	"http":             {Contexts: CtxMain, Block: true, Inner: CtxHTTP, Unique: true},

	// events
	"worker_connections": {Contexts: CtxEvents, MinArgs: 1, MaxArgs: 1, Kind: KindPositive, Unique: true},

	// http / server / location
	"server":               {Contexts: CtxHTTP, Block: true, Inner: CtxServer},
	"listen":               {Contexts: CtxServer, MinArgs: 1, MaxArgs: 1, Kind: KindPort},
	"server_name":          {Contexts: CtxServer, MinArgs: 1, MaxArgs: Unbounded, Kind: KindAny},
	"location":             {Contexts: CtxServer | CtxLocation, MinArgs: 1, MaxArgs: 2, Kind: KindLocation, Block: true, Inner: CtxLocation},
	"root":                 {Contexts: CtxServer | CtxLocation, MinArgs: 1, MaxArgs: 1, Kind: KindPath, Unique: true},
	"return":               {Contexts: CtxServer | CtxLocation, MinArgs: 1, MaxArgs: 2, Kind: KindReturn, Unique: true},
	"default_type":         {Contexts: ctxHTTPAll, MinArgs: 1, MaxArgs: 1, Kind: KindAny, Unique: true},
	"keepalive_timeout":    {Contexts: CtxHTTP, MinArgs: 1, MaxArgs: 1, Kind: KindDuration, Unique: true},
	"client_max_body_size": {Contexts: ctxHTTPAll, MinArgs: 1, MaxArgs: 1, Kind: KindSize, Unique: true},
	"access_log":           {Contexts: ctxHTTPAll, MinArgs: 1, MaxArgs: 1, Kind: KindAccessLog, Unique: true},
	"add_header":           {Contexts: ctxHTTPAll, MinArgs: 2, MaxArgs: 2, Kind: KindHeader},
	"server_tokens":        {Contexts: ctxHTTPAll, MinArgs: 1, MaxArgs: 1, Kind: KindFlag, Unique: true},

	// 动态配置端点
	"dynamic_config":                 {Contexts: CtxLocation, Kind: KindNone, Unique: true},
	"dynamic_config_allowed_ips":     {Contexts: ctxHTTPAll, MinArgs: 1, MaxArgs: Unbounded, Kind: KindAllowList, Unique: true},
	"dynamic_config_max_body_size":   {Contexts: ctxHTTPAll, MinArgs: 1, MaxArgs: 1, Kind: KindSize, Unique: true},
	"dynamic_config_trusted_proxies": {Contexts: ctxHTTPAll, MinArgs: 1, MaxArgs: Unbounded, Kind: KindPrefixList, Unique: true},
}

// Lookup 查询指令元数据
func Lookup(name string) (Spec, bool) {
	s, ok := table[name]
	return s, ok
}

// Known 返回所有已知指令名（无序）
func Known() []string {
	out := make([]string, 0, len(table))
	for name := range table {
		out = append(out, name)
	}
	return out
}
