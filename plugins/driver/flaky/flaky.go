// Package flaky 包装模拟驱动并注入故障，用于验证重试与 !ERROR! 哨兵路径。
package flaky

import (
	"context"
	"encoding/json"
	"strings"
	"sync/atomic"

	"plctags/pkg/contract"
	"plctags/plugins/driver/sim"

	"github.com/cockroachdb/errors"
)

// Options 定义故障注入参数。
type Options struct {
	// Transient: 前 N 次读取返回 ErrRateLimited（可重试）。nil 默认 1。
	Transient *int `json:"transient,omitempty"`
	// Invalid: 随后 N 次读取返回与请求不匹配的载荷。nil 默认 1。
	Invalid *int `json:"invalid,omitempty"`
	// FailFiles: 对这些文件的读写始终失败（不可重试）。
	FailFiles []string `json:"fail_files,omitempty"`
	// Sim: 被包装的模拟驱动选项。
	Sim json.RawMessage `json:"sim,omitempty"`
}

// Driver 是带状态的故障注入驱动：
// 先返回 Transient 次限流错误，再返回 Invalid 次错误载荷，之后委托给模拟驱动。
type Driver struct {
	inner     *sim.Driver
	transient int32
	invalid   int32
	failFiles map[string]struct{}
	count     atomic.Int32
}

var _ contract.Driver = (*Driver)(nil)

// New 构造 Driver。
func New(host string, raw json.RawMessage) (*Driver, error) {
	var o Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &o); err != nil {
			return nil, errors.Wrap(contract.ErrInvalidInput, "flaky options: "+err.Error())
		}
	}
	inner, err := sim.New(host, o.Sim)
	if err != nil {
		return nil, err
	}
	d := &Driver{inner: inner, transient: 1, invalid: 1, failFiles: map[string]struct{}{}}
	if o.Transient != nil {
		d.transient = int32(max(*o.Transient, 0))
	}
	if o.Invalid != nil {
		d.invalid = int32(max(*o.Invalid, 0))
	}
	for _, f := range o.FailFiles {
		d.failFiles[strings.ToUpper(f)] = struct{}{}
	}
	return d, nil
}

// Inner 返回被包装的模拟驱动。
func (d *Driver) Inner() *sim.Driver { return d.inner }

func (d *Driver) failing(address string) bool {
	file := address
	if i := strings.IndexAny(address, ":/"); i >= 0 {
		file = address[:i]
	}
	_, ok := d.failFiles[strings.ToUpper(file)]
	return ok
}

// ReadTag 实现 contract.Driver。
func (d *Driver) ReadTag(ctx context.Context, address string) (contract.Result, error) {
	if d.failing(address) {
		return contract.Result{}, errors.Wrapf(contract.ErrReadFailure, "flaky: %s", address)
	}
	n := d.count.Add(1)
	switch {
	case n <= d.transient:
		return contract.Result{}, errors.Wrapf(contract.ErrRateLimited, "flaky: %s", address)
	case n <= d.transient+d.invalid:
		return contract.Result{Tag: address, Value: "garbage", Type: "?"}, nil
	}
	return d.inner.ReadTag(ctx, address)
}

// WriteTag 实现 contract.Driver；写入只受 FailFiles 影响。
func (d *Driver) WriteTag(ctx context.Context, address, value string) (contract.Result, error) {
	if d.failing(address) {
		return contract.Result{}, errors.Wrapf(contract.ErrWriteFailure, "flaky: %s", address)
	}
	return d.inner.WriteTag(ctx, address, value)
}

// Close 关闭被包装的驱动。
func (d *Driver) Close() error { return d.inner.Close() }
