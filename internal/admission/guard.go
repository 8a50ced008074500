package admission

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"net/netip"

	"github.com/BaSui01/dynconf/types"
)

// DefaultMaxBodySize 默认请求体上限 1 MiB
const DefaultMaxBodySize int64 = 1 << 20

// DenyReason 拒绝原因，用于指标和日志
type DenyReason string

const (
	DenyMethod DenyReason = "method"
	DenySize   DenyReason = "size"
	DenyIP     DenyReason = "ip"
)

// Policy 准入策略，由配置文档中的 dynamic_config_* 指令决定
type Policy struct {
	Method         string
	MaxBodySize    int64
	AllowList      *AllowList
	TrustedProxies []netip.Prefix
}

// DefaultPolicy POST、1 MiB、仅回环地址
func DefaultPolicy() Policy {
	return Policy{
		Method:      http.MethodPost,
		MaxBodySize: DefaultMaxBodySize,
		AllowList:   LoopbackOnly(),
	}
}

// RejectFunc 拒绝回调，只用于观测，不得写响应
type RejectFunc func(r *http.Request, reason DenyReason)

// Option 配置 Guard
type Option func(*Guard)

// WithOnReject 设置拒绝回调
func WithOnReject(fn RejectFunc) Option {
	return func(g *Guard) {
		if fn != nil {
			g.onReject = fn
		}
	}
}

// Guard 准入检查器
type Guard struct {
	policy   Policy
	onReject RejectFunc
}

// NewGuard 创建 Guard，零值字段使用默认策略
func NewGuard(policy Policy, opts ...Option) *Guard {
	def := DefaultPolicy()
	if policy.Method == "" {
		policy.Method = def.Method
	}
	if policy.MaxBodySize <= 0 {
		policy.MaxBodySize = def.MaxBodySize
	}
	if policy.AllowList == nil {
		policy.AllowList = def.AllowList
	}
	g := &Guard{policy: policy}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Policy 返回生效中的策略
func (g *Guard) Policy() Policy {
	return g.policy
}

// Admit 依次检查方法、大小、来源 IP；nil 表示放行
func (g *Guard) Admit(r *http.Request) error {
	if r.Method != g.policy.Method {
		g.reject(r, DenyMethod)
		return types.NewAdmissionError(http.StatusMethodNotAllowed,
			fmt.Sprintf("method %s is not allowed, use %s", r.Method, g.policy.Method))
	}
	if r.ContentLength > g.policy.MaxBodySize {
		g.reject(r, DenySize)
		return tooLarge(g.policy.MaxBodySize)
	}
	ip, err := ClientIP(r, g.policy.TrustedProxies)
	if err != nil || !g.policy.AllowList.Contains(ip) {
		g.reject(r, DenyIP)
		return types.NewAdmissionError(http.StatusForbidden, "client address is not allowed").WithCause(err)
	}
	return nil
}

// ReadBody 在上限内读取请求体到 dst；超限返回 413，不会缓冲超过上限加一字节
func (g *Guard) ReadBody(w http.ResponseWriter, r *http.Request, dst *bytes.Buffer) error {
	body := http.MaxBytesReader(w, r.Body, g.policy.MaxBodySize)
	defer body.Close()

	if _, err := dst.ReadFrom(body); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			g.reject(r, DenySize)
			return tooLarge(g.policy.MaxBodySize)
		}
		return types.NewError(types.ErrInvalidRequest, "failed to read request body").WithCause(err)
	}
	return nil
}

func (g *Guard) reject(r *http.Request, reason DenyReason) {
	if g.onReject != nil {
		g.onReject(r, reason)
	}
}

func tooLarge(limit int64) error {
	return types.NewAdmissionError(http.StatusRequestEntityTooLarge,
		fmt.Sprintf("request body exceeds the limit of %d bytes", limit))
}
