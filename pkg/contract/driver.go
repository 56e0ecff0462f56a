package contract

import "context"

// Result: 驱动单次读/写的原始结果（万能容器）。
// 单元素读取时 Value 为标量；区间读取（File:Start{Count}）时 Value 为切片。
// 约束：原样返回，不做格式化。
type Result struct {
	Tag   string
	Value any
	Type  string
}

// Driver: 与控制器交互的协作方。
// 约束：
//  1. 单次调用、同步返回；应尊重 ctx 取消/超时并及时释放资源；
//  2. 任何错误对引擎而言都是不透明的单请求失败；
//  3. 不做重试（重试由编排层决定）。
type Driver interface {
	ReadTag(ctx context.Context, address string) (Result, error)
	WriteTag(ctx context.Context, address, value string) (Result, error)
	Close() error
}

// StatusError 承载控制器返回的状态码（例如 PCCC STS/EXT STS）。
// 实现方提供状态码与简短描述，便于 pipeline 记录结构化日志字段。
type StatusError interface {
	error
	Status() int
	StatusText() string
}
