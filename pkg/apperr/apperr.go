// Package apperr 定义交易核心的封闭错误分类体系，所有领域错误均归属于固定的 Kind
package apperr

import (
	"errors"
	"fmt"
)

// Kind 错误分类
type Kind int8

const (
	KindValidation         Kind = 1 // 入参非法、枚举错误、数量非正
	KindNotFound           Kind = 2 // 投资者/订单/标的不存在
	KindConflict           Kind = 3 // 邮箱已占用、订单 ID 重复
	KindInsufficientFunds  Kind = 4 // 余额不足
	KindInsufficientShares Kind = 5 // 持仓不足
	KindMarketClosed       Kind = 6 // 非开市状态下单
	KindDeadlineExceeded   Kind = 7 // 调用超时
	KindInternal           Kind = 8 // 存储错误、不变量被破坏
	KindSettlementFailed   Kind = 9 // 结算某一腿无法落账
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "VALIDATION"
	case KindNotFound:
		return "NOT_FOUND"
	case KindConflict:
		return "CONFLICT"
	case KindInsufficientFunds:
		return "INSUFFICIENT_FUNDS"
	case KindInsufficientShares:
		return "INSUFFICIENT_SHARES"
	case KindMarketClosed:
		return "MARKET_CLOSED"
	case KindDeadlineExceeded:
		return "DEADLINE_EXCEEDED"
	case KindSettlementFailed:
		return "SETTLEMENT_FAILED"
	default:
		return "INTERNAL"
	}
}

// ParseKind 从应答错误码还原分类，未知码归为 INTERNAL
func ParseKind(code string) Kind {
	switch code {
	case "VALIDATION":
		return KindValidation
	case "NOT_FOUND":
		return KindNotFound
	case "CONFLICT":
		return KindConflict
	case "INSUFFICIENT_FUNDS":
		return KindInsufficientFunds
	case "INSUFFICIENT_SHARES":
		return KindInsufficientShares
	case "MARKET_CLOSED":
		return KindMarketClosed
	case "DEADLINE_EXCEEDED":
		return KindDeadlineExceeded
	case "SETTLEMENT_FAILED":
		return KindSettlementFailed
	default:
		return KindInternal
	}
}

// Error 携带分类的领域错误
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New 创建指定分类的错误
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Newf 创建带格式化消息的错误
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap 包装底层错误并赋予分类
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// KindOf 提取错误分类，非本包错误一律视为 INTERNAL
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is 判断错误是否属于指定分类
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
