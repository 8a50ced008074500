package admission

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// ClientIP 解析请求的来源地址。
// 对端不在 trusted 内时直接使用 RemoteAddr；否则从右向左扫描 X-Forwarded-For，
// 跳过受信代理，返回第一个非受信地址。遇到无法解析的条目时停止扫描，
// 使用最后一个已确认的受信地址。
func ClientIP(r *http.Request, trusted []netip.Prefix) (netip.Addr, error) {
	peer, err := parseHostAddr(r.RemoteAddr)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("invalid remote address %q: %w", r.RemoteAddr, err)
	}
	if !inPrefixes(peer, trusted) {
		return peer, nil
	}

	current := peer
	values := r.Header.Values("X-Forwarded-For")
	for i := len(values) - 1; i >= 0; i-- {
		hops := strings.Split(values[i], ",")
		for j := len(hops) - 1; j >= 0; j-- {
			hop := strings.TrimSpace(hops[j])
			if hop == "" {
				continue
			}
			addr, err := parseHostAddr(hop)
			if err != nil {
				return current, nil
			}
			if !inPrefixes(addr, trusted) {
				return addr, nil
			}
			current = addr
		}
	}
	return current, nil
}

// parseHostAddr 接受 "ip"、"ip:port"、"[v6]:port"
func parseHostAddr(s string) (netip.Addr, error) {
	if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	}
	s = strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")
	if i := strings.IndexByte(s, '%'); i >= 0 {
		s = s[:i]
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Addr{}, err
	}
	return addr.Unmap(), nil
}

func inPrefixes(addr netip.Addr, prefixes []netip.Prefix) bool {
	for _, p := range prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
