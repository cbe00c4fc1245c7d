package xerr

import (
	"errors"
	"fmt"
)

// broker 错误码
const (
	OK                = 0
	Malformed         = 1001 // 报文无法解析，丢弃
	Transport         = 1002 // socket bind/send/receive 失败
	Handler           = 1003 // 本地回调出错
	ProtocolViolation = 1004 // 字段里带了分隔符等非法输入
	Closed            = 1005 // broker 已关闭
	InvalidArgument   = 1006 // 本地 API 调用参数不合法（例如 nil 回调）
)

type CodeError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func (e *CodeError) Error() string {
	return fmt.Sprintf("ErrCode:%d, Msg:%s", e.Code, e.Msg)
}

// Is 按错误码比较，方便 errors.Is(err, protocol.ErrMalformed) 这种写法
func (e *CodeError) Is(target error) bool {
	var t *CodeError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

func New(code int, msg string) error {
	return &CodeError{Code: code, Msg: msg}
}

func NewErrCode(code int) error {
	return &CodeError{Code: code, Msg: MapErrMsg(code)}
}

// Wrap 给错误码附加上下文，保留原始 cause
func Wrap(code int, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", NewErrCode(code), err)
}

// CodeOf 取出错误链上的错误码，没有时返回 -1
func CodeOf(err error) int {
	if err == nil {
		return OK
	}
	var ce *CodeError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return -1
}

func MapErrMsg(code int) string {
	switch code {
	case Malformed:
		return "malformed frame"
	case Transport:
		return "transport error"
	case Handler:
		return "handler error"
	case ProtocolViolation:
		return "protocol violation"
	case Closed:
		return "broker closed"
	case InvalidArgument:
		return "invalid argument"
	default:
		return "unknown error"
	}
}

// Reason 是 metrics label 用的短名字
func Reason(err error) string {
	switch CodeOf(err) {
	case OK:
		return "ok"
	case Malformed:
		return "malformed"
	case Transport:
		return "transport"
	case Handler:
		return "handler"
	case ProtocolViolation:
		return "protocol_violation"
	case Closed:
		return "closed"
	case InvalidArgument:
		return "invalid_argument"
	default:
		return "other"
	}
}
