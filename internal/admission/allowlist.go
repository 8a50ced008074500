package admission

import (
	"net/netip"
	"strings"
)

// AllowList 不可变的来源地址允许列表
type AllowList struct {
	allowAll bool
	prefixes []netip.Prefix
}

// NewAllowList 以 CIDR 集合构造允许列表，单个 IP 应已规范化为 /32 或 /128
func NewAllowList(prefixes []netip.Prefix) *AllowList {
	return &AllowList{prefixes: append([]netip.Prefix(nil), prefixes...)}
}

// AllowAll 允许所有来源
func AllowAll() *AllowList {
	return &AllowList{allowAll: true}
}

// LoopbackOnly 只允许本机回环地址，未配置 dynamic_config_allowed_ips 时使用
func LoopbackOnly() *AllowList {
	return NewAllowList([]netip.Prefix{
		netip.MustParsePrefix("127.0.0.1/32"),
		netip.MustParsePrefix("::1/128"),
	})
}

// Contains 判断地址是否被允许
func (a *AllowList) Contains(addr netip.Addr) bool {
	if a == nil || !addr.IsValid() {
		return false
	}
	if a.allowAll {
		return true
	}
	addr = addr.Unmap()
	for _, p := range a.prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// String 便于日志输出
func (a *AllowList) String() string {
	if a == nil {
		return "none"
	}
	if a.allowAll {
		return "all"
	}
	parts := make([]string, len(a.prefixes))
	for i, p := range a.prefixes {
		parts[i] = p.String()
	}
	return strings.Join(parts, " ")
}
