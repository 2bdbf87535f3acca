package apperr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// Kind 描述外部服务失败的具体原因。
type Kind int

const (
	KindUnavailable Kind = iota
	KindTimeout
	KindRateLimited
	KindUnsupportedFormat
	KindInputTooLarge
	KindContentFiltered
	KindMalformedInput
)

var kindNames = map[Kind]string{
	KindUnavailable:       "unavailable",
	KindTimeout:           "timeout",
	KindRateLimited:       "rate_limited",
	KindUnsupportedFormat: "unsupported_format",
	KindInputTooLarge:     "input_too_large",
	KindContentFiltered:   "content_filtered",
	KindMalformedInput:    "malformed_input",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Retryable 报告该类失败是否属于瞬时错误。
func (k Kind) Retryable() bool {
	switch k {
	case KindUnavailable, KindTimeout, KindRateLimited:
		return true
	default:
		return false
	}
}

// ProviderError 是适配器边界上产生的带分类的错误。
type ProviderError struct {
	Provider string
	Kind     Kind
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Provider, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Is 让 errors.Is(err, ErrTransientProvider) / errors.Is(err, ErrTerminalInput) 按 Kind 生效。
func (e *ProviderError) Is(target error) bool {
	switch target {
	case ErrTransientProvider:
		return e.Kind.Retryable()
	case ErrTerminalInput:
		return !e.Kind.Retryable()
	}
	return false
}

// NewProviderError 构造一个 ProviderError。
func NewProviderError(provider string, kind Kind, err error) error {
	return &ProviderError{Provider: provider, Kind: kind, Err: err}
}

// KindOf 从错误链中取出 Kind。
func KindOf(err error) (Kind, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind, true
	}
	return 0, false
}

// FromHTTPStatus 按 HTTP 状态码对外部服务的失败响应分类。
func FromHTTPStatus(provider string, status int, body string) error {
	msg := strings.TrimSpace(body)
	if len(msg) > 512 {
		msg = msg[:512]
	}
	cause := fmt.Errorf("status %d: %s", status, msg)

	var kind Kind
	switch {
	case status == http.StatusTooManyRequests:
		kind = KindRateLimited
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		kind = KindTimeout
	case status == http.StatusRequestEntityTooLarge:
		kind = KindInputTooLarge
	case status == http.StatusUnsupportedMediaType || status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "unsupported"):
		kind = KindUnsupportedFormat
	case status == http.StatusBadRequest && looksLikeTooLarge(msg):
		kind = KindInputTooLarge
	case status >= 500:
		kind = KindUnavailable
	case status >= 400:
		kind = KindMalformedInput
	default:
		kind = KindUnavailable
	}
	return &ProviderError{Provider: provider, Kind: kind, Err: cause}
}

func looksLikeTooLarge(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "maximum context length") ||
		strings.Contains(lower, "too many tokens") ||
		strings.Contains(lower, "input is too long")
}

// FromTransport 对调用过程中的传输层错误分类。
func FromTransport(provider string, err error) error {
	if err == nil {
		return nil
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &ProviderError{Provider: provider, Kind: KindTimeout, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &ProviderError{Provider: provider, Kind: KindTimeout, Err: err}
	}
	return &ProviderError{Provider: provider, Kind: KindUnavailable, Err: err}
}

// Public 返回可以写入记录和返回给调用方的错误描述。
// 错误链里有 ProviderError 时只保留阶段、服务名和 Kind，服务返回的原始内容只出现在日志里。
func Public(err error) string {
	if err == nil {
		return ""
	}
	var pe *ProviderError
	if !errors.As(err, &pe) {
		return err.Error()
	}
	msg := fmt.Sprintf("%s: %s", pe.Provider, pe.Kind)
	var se *StageError
	if errors.As(err, &se) {
		msg = fmt.Sprintf("stage %s: %s", se.Stage, msg)
	}
	for _, sentinel := range []error{ErrAnswerGenerationFailed, ErrRetrievalFailed} {
		if errors.Is(err, sentinel) {
			msg = fmt.Sprintf("%v: %s", sentinel, msg)
			break
		}
	}
	return msg
}
