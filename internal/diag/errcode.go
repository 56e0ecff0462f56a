package diag

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"plctags/pkg/contract"

	"github.com/cockroachdb/errors"
)

// Code 是最小错误分类代码。
// 仅用于日志/指标汇总以及重试判定，与退出码解耦。
type Code string

const (
	CodeUnknown   Code = "unknown"
	CodeNetwork   Code = "network"
	CodeProtocol  Code = "protocol"
	CodeDevice    Code = "device"
	CodeAddress   Code = "address"
	CodeInvariant Code = "invariant"
	CodeBudget    Code = "budget"
	CodeCancel    Code = "cancel"
	CodeIO        Code = "io"
)

// Classify 将错误归为最小分类。
// 仅依赖哨兵错误与错误类型，不做字符串匹配。
func Classify(err error) Code {
	if err == nil {
		return CodeUnknown
	}
	// 取消/超时优先
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return CodeCancel
	}
	if errors.Is(err, contract.ErrRateLimited) {
		return CodeBudget
	}
	if errors.Is(err, contract.ErrResponseInvalid) {
		return CodeProtocol
	}
	if errors.Is(err, contract.ErrMalformedAddress) {
		return CodeAddress
	}
	// 控制器状态码 / 读写失败
	var serr contract.StatusError
	if errors.As(err, &serr) ||
		errors.Is(err, contract.ErrReadFailure) ||
		errors.Is(err, contract.ErrWriteFailure) {
		return CodeDevice
	}
	if errors.Is(err, contract.ErrInvariantViolation) ||
		errors.Is(err, contract.ErrInvalidInput) ||
		errors.Is(err, contract.ErrNotConnected) ||
		errors.Is(err, contract.ErrPathInvalid) {
		return CodeInvariant
	}
	var perr *os.PathError
	if errors.As(err, &perr) {
		return CodeIO
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return CodeNetwork
	}
	return CodeUnknown
}

// Retryable 报告该分类是否值得重试（限流、网络抖动、载荷异常）。
func Retryable(c Code) bool {
	switch c {
	case CodeBudget, CodeNetwork, CodeProtocol:
		return true
	default:
		return false
	}
}

// StatusKV 提取控制器状态码为日志键值；非 StatusError 返回 nil。
func StatusKV(err error) map[string]string {
	var serr contract.StatusError
	if !errors.As(err, &serr) {
		return nil
	}
	return map[string]string{
		"status":      formatStatus(serr.Status()),
		"status_text": serr.StatusText(),
	}
}

func formatStatus(s int) string { return fmt.Sprintf("0x%02X", s) }

// NowUTC 返回 RFC3339 UTC 时间字符串。
func NowUTC() string { return time.Now().UTC().Format(time.RFC3339) }
