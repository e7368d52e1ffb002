package domain

import "fmt"

// ErrorCode 结构化错误码
type ErrorCode string

const (
	ErrTransport         ErrorCode = "TRANSPORT_ERROR"    // 订阅/推送链路故障，重连后自愈
	ErrValidation        ErrorCode = "VALIDATION_ERROR"   // 市场缺 token、价格越界、周期不支持
	ErrRateLimited       ErrorCode = "RATE_LIMITED"       // 外部接口限流，上游限流层负责重试
	ErrMarketNotFound    ErrorCode = "MARKET_NOT_FOUND"   // 发现服务查不到该 slug
	ErrInvalidResponse   ErrorCode = "INVALID_RESPONSE"   // 外部接口返回无法解析
	ErrExecutionFailed   ErrorCode = "EXECUTION_FAILED"   // 下单失败，轮次状态不变
	ErrResolutionPending ErrorCode = "RESOLUTION_PENDING" // 预言机尚未结算，赎回队列继续重试
	ErrFatal             ErrorCode = "FATAL"              // 不应出现的程序错误
)

// Error 带错误码和可重试标记的结构化错误
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	Cause     error     `json:"-"`
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// NewError 构造结构化错误，retryable 按错误码给默认值
func NewError(code ErrorCode, message string, cause error) *Error {
	retryable := false
	switch code {
	case ErrTransport, ErrRateLimited, ErrResolutionPending:
		retryable = true
	}
	return &Error{Code: code, Message: message, Retryable: retryable, Cause: cause}
}
