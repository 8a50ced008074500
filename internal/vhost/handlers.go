package vhost

import (
	"fmt"
	"net/http"
	"time"

	"github.com/BaSui01/dynconf/directive"
)

func returnHandler(c conf) http.Handler {
	ret := *c.ret
	contentType := c.defaultType
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if directive.IsRedirect(ret.code) {
			if ret.text != "" {
				w.Header().Set("Location", ret.text)
			}
			w.WriteHeader(ret.code)
			return
		}
		if ret.text == "" {
			w.WriteHeader(ret.code)
			return
		}
		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(ret.code)
		if r.Method != http.MethodHead {
			_, _ = w.Write([]byte(ret.text)) //nolint:errcheck
		}
	})
}

func staticHandler(root string) http.Handler {
	return http.FileServer(http.Dir(root))
}

// wrap 为普通 location 附加响应头、请求体上限与访问日志
func wrap(c conf, inner http.Handler, opts Options) http.Handler {
	maxBody := c.maxBody
	limited := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if maxBody > 0 {
			if r.ContentLength > maxBody {
				w.Header().Set("Connection", "close")
				http.Error(w, http.StatusText(http.StatusRequestEntityTooLarge), http.StatusRequestEntityTooLarge)
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBody)
		}
		inner.ServeHTTP(w, r)
	})
	return decorate(c, limited, opts)
}

// wrapDynamic 配置端点自行控制请求体上限
func wrapDynamic(c conf, inner http.Handler, opts Options) http.Handler {
	return decorate(c, inner, opts)
}

func decorate(c conf, inner http.Handler, opts Options) http.Handler {
	server := opts.Product
	if c.serverTokens && opts.Version != "" {
		server = opts.Product + "/" + opts.Version
	}
	headers := c.headers
	accessLog := ""
	if c.accessLog != "off" {
		accessLog = c.accessLog
	}
	logs := opts.Logs

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Server", server)
		for _, hd := range headers {
			h.Add(hd.name, hd.value)
		}
		if accessLog == "" || logs == nil {
			inner.ServeHTTP(w, r)
			return
		}
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		inner.ServeHTTP(rec, r)
		logs.Write(accessLog, formatAccess(r, rec.status, rec.bytes, time.Now()))
	})
}

// formatAccess combined 格式
func formatAccess(r *http.Request, status int, bytes int64, now time.Time) []byte {
	referer := r.Referer()
	if referer == "" {
		referer = "-"
	}
	ua := r.UserAgent()
	if ua == "" {
		ua = "-"
	}
	return []byte(fmt.Sprintf("%s - - [%s] \"%s %s %s\" %d %d \"%s\" \"%s\"\n",
		stripPort(r.RemoteAddr), now.Format("02/Jan/2006:15:04:05 -0700"),
		r.Method, r.RequestURI, r.Proto, status, bytes, referer, ua))
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	bytes       int64
	wroteHeader bool
}

func (s *statusRecorder) WriteHeader(code int) {
	if !s.wroteHeader {
		s.status = code
		s.wroteHeader = true
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	s.wroteHeader = true
	n, err := s.ResponseWriter.Write(b)
	s.bytes += int64(n)
	return n, err
}

// Unwrap 供 http.ResponseController 使用
func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}
