package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/BaSui01/dynconf/api"
	"github.com/BaSui01/dynconf/internal/pool"
	"github.com/BaSui01/dynconf/types"
	"go.uber.org/zap"
)

type Response = api.Response

type ErrorInfo = api.ErrorInfo

// maxJSONBodySize JSON 请求体上限
const maxJSONBodySize = 1 << 20

// fallbackBody data 无法编码时的响应体，不依赖编码器
const fallbackBody = `{"success":false,"error":{"code":"INTERNAL_ERROR","message":"response encoding failed"}}` + "\n"

// =============================================================================
// 🎯 响应辅助函数
// =============================================================================

// WriteJSON 先编码到池化缓冲区再写出，编码失败时仍能返回 500
func WriteJSON(w http.ResponseWriter, status int, data any) {
	buf := pool.ByteBufferPool.Get()
	defer pool.ByteBufferPool.Put(buf)

	h := w.Header()
	h.Set("Content-Type", "application/json; charset=utf-8")
	h.Set("X-Content-Type-Options", "nosniff")

	body := []byte(fallbackBody)
	if err := json.NewEncoder(buf).Encode(data); err != nil {
		status = http.StatusInternalServerError
	} else {
		body = buf.Bytes()
	}
	h.Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// WriteSuccess 写入成功响应
func WriteSuccess(w http.ResponseWriter, r *http.Request, data any) {
	WriteJSON(w, http.StatusOK, Response{
		Success:   true,
		Data:      data,
		Timestamp: time.Now(),
		RequestID: requestID(r),
	})
}

// WriteError 写入错误响应（从 types.Error）
func WriteError(w http.ResponseWriter, r *http.Request, err *types.Error, logger *zap.Logger) {
	info := api.ErrorInfoFrom(err)

	if logger != nil {
		fields := []zap.Field{
			zap.String("code", info.Code),
			zap.String("message", info.Message),
			zap.Int("status", info.HTTPStatus),
			zap.Bool("retryable", info.Retryable),
		}
		if info.HTTPStatus >= http.StatusInternalServerError {
			logger.Error("API error", fields...)
		} else {
			logger.Debug("API error", fields...)
		}
	}

	if err.Retryable && w.Header().Get("Retry-After") == "" {
		w.Header().Set("Retry-After", "1")
	}
	WriteJSON(w, info.HTTPStatus, Response{
		Success:   false,
		Error:     info,
		Timestamp: time.Now(),
		RequestID: requestID(r),
	})
}

// WriteErr 写入任意错误；非 types.Error 按内部错误处理
func WriteErr(w http.ResponseWriter, r *http.Request, err error, logger *zap.Logger) {
	e, ok := types.AsError(err)
	if !ok {
		e = types.NewError(types.ErrInternalError, "internal error").WithCause(err)
	}
	WriteError(w, r, e, logger)
}

// WriteErrorMessage 写入简单错误消息
func WriteErrorMessage(w http.ResponseWriter, r *http.Request, status int, code types.ErrorCode, message string, logger *zap.Logger) {
	err := types.NewError(code, message).WithHTTPStatus(status)
	WriteError(w, r, err, logger)
}

// MethodNotAllowed 写入 405 并设置 Allow 头
func MethodNotAllowed(w http.ResponseWriter, r *http.Request, allowed string) {
	w.Header().Set("Allow", allowed)
	WriteErrorMessage(w, r, http.StatusMethodNotAllowed, types.ErrInvalidRequest, "method not allowed", nil)
}

func requestID(r *http.Request) string {
	if r == nil {
		return ""
	}
	id, _ := types.RequestID(r.Context())
	return id
}

// =============================================================================
// 🛡️ 请求验证辅助函数
// =============================================================================

// DecodeJSONBody 解码 JSON 请求体，失败时已写出 400 响应
func DecodeJSONBody(w http.ResponseWriter, r *http.Request, dst any, logger *zap.Logger) error {
	if r.Body == nil || r.Body == http.NoBody {
		err := types.NewError(types.ErrInvalidRequest, "request body is empty")
		WriteError(w, r, err, logger)
		return err
	}

	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBodySize))
	decoder.DisallowUnknownFields() // 严格模式：拒绝未知字段

	if err := decoder.Decode(dst); err != nil {
		apiErr := types.NewError(types.ErrInvalidRequest, "invalid JSON body").
			WithCause(err).
			WithHTTPStatus(http.StatusBadRequest)
		WriteError(w, r, apiErr, logger)
		return apiErr
	}

	return nil
}

// =============================================================================
// 📊 响应包装器
// =============================================================================

// ResponseWriter 记录状态码与写出字节数，供访问日志与指标使用
type ResponseWriter struct {
	http.ResponseWriter
	StatusCode int
	Written    bool
	Bytes      int64
}

func NewResponseWriter(w http.ResponseWriter) *ResponseWriter {
	return &ResponseWriter{
		ResponseWriter: w,
		StatusCode:     http.StatusOK,
	}
}

// WriteHeader 只有第一次调用生效
func (rw *ResponseWriter) WriteHeader(code int) {
	if !rw.Written {
		rw.StatusCode = code
		rw.Written = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

func (rw *ResponseWriter) Write(b []byte) (int, error) {
	if !rw.Written {
		rw.WriteHeader(http.StatusOK)
	}
	n, err := rw.ResponseWriter.Write(b)
	rw.Bytes += int64(n)
	return n, err
}

// Unwrap 供 http.ResponseController 访问底层 ResponseWriter
func (rw *ResponseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
