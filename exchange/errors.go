package exchange

import (
	"errors"
)

// 类型化交易所错误
// 适配器把各交易所的原始错误码归一化为这些哨兵错误（用 %w 包装），
// 上层通过 errors.Is 判断，而不是匹配错误文本。
var (
	ErrRateLimited       = errors.New("exchange: rate limited")
	ErrInsufficientFunds = errors.New("exchange: insufficient funds")
	ErrNetwork           = errors.New("exchange: network error")
	ErrDuplicateOrder    = errors.New("exchange: duplicate client order id")
	ErrUnknown           = errors.New("exchange: unknown error")
)

// IsTransient 判断错误是否可重试（限流/网络超时）
func IsTransient(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrNetwork)
}

// IsPermanent 判断错误是否为不可重试的业务错误
func IsPermanent(err error) bool {
	return errors.Is(err, ErrInsufficientFunds) || errors.Is(err, ErrUnknown)
}
