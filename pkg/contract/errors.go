package contract

import "github.com/cockroachdb/errors"

// 最小错误分类（用于上层策略判定）。
var (
	// ErrMalformedAddress: 标签不符合 <File>:<Word>[/<Bit>] 或旧式 <File>/<Bit> 语法。
	ErrMalformedAddress = errors.New("malformed address")
	// ErrReadFailure: 控制器读失败（按请求区间记录为 !ERROR!）。
	ErrReadFailure = errors.New("read failure")
	// ErrWriteFailure: 控制器写失败。
	ErrWriteFailure = errors.New("write failure")
	// ErrNotCovered: 标签所在字不在任何已取回的区间内（解析为 NONE）。
	ErrNotCovered = errors.New("not covered")
	// ErrResponseInvalid: 驱动返回的载荷与请求不匹配（长度/类型）。
	ErrResponseInvalid = errors.New("response invalid")
	// ErrInvalidInput: 调用方输入非法。
	ErrInvalidInput = errors.New("invalid input")
	// ErrRateLimited: 限流或控制器忙。
	ErrRateLimited = errors.New("rate limited")
	// ErrNotConnected: 会话尚未指定控制器地址。
	ErrNotConnected = errors.New("no controller address")
	// ErrPathInvalid: 目标标识映射为无效/越界路径（例如绝对路径或 '..' 逃逸）。
	ErrPathInvalid = errors.New("path invalid")
	// ErrInvariantViolation: 领域不变量违例（通用哨兵）。
	ErrInvariantViolation = errors.New("invariant violation")
)
