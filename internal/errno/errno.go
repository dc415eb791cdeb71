// Package errno 定义了对外暴露的业务错误及其稳定错误码。
package errno

import (
	"fmt"
	"net/http"
	"time"
)

// Errorx 是 HTTP 服务的业务异常。
// Status 为 HTTP 状态码，Code 为稳定的机器可读错误码，Msg 为面向用户的简短描述。
type Errorx struct {
	Status int    `json:"-"`
	Code   string `json:"code"`
	Msg    string `json:"message"`
}

func New(status int, code, msg string) *Errorx {
	return &Errorx{Status: status, Code: code, Msg: msg}
}

// Error 实现了 error 接口
func (e *Errorx) Error() string {
	return fmt.Sprintf("code=%s, msg=%s", e.Code, e.Msg)
}

var (
	ErrInvalidRequest       = New(http.StatusBadRequest, "invalid_request", "Invalid request")
	ErrInputTooLong         = New(http.StatusBadRequest, "input_too_long", "Message exceeds the maximum allowed length")
	ErrUnauthenticated      = New(http.StatusUnauthorized, "unauthorized", "Missing or invalid bearer credential")
	ErrExpired              = New(http.StatusUnauthorized, "token_expired", "Credential has expired, please sign in again")
	ErrRateLimited          = New(http.StatusTooManyRequests, "rate_limit_exceeded", "Too many requests, please retry later")
	ErrNotFound             = New(http.StatusNotFound, "not_found", "Conversation not found")
	ErrForbidden            = New(http.StatusNotFound, "not_found", "Conversation not found")
	ErrExchangeFailed       = New(http.StatusServiceUnavailable, "service_unavailable", "Delegated credential exchange failed")
	ErrRetrievalUnavailable = New(http.StatusServiceUnavailable, "service_unavailable", "Document search is temporarily unavailable")
	ErrServiceUnavailable   = New(http.StatusServiceUnavailable, "service_unavailable", "Service temporarily unavailable, please retry")
	ErrInternal             = New(http.StatusInternalServerError, "internal_error", "Internal server error")
)

// RateLimitedError 携带 retry-after 提示，errors.Is(err, ErrRateLimited) 成立。
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

func (e *RateLimitedError) Unwrap() error {
	return ErrRateLimited
}

// RetryAfterSeconds 向上取整到秒，至少为 1。
func (e *RateLimitedError) RetryAfterSeconds() int {
	secs := int((e.RetryAfter + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}
