package contract

import "context"

// Decoder: 将驱动返回的 Result 解码为与请求对齐的文本结果。
// 约束：
//  1. 数值请求的 Values 长度必须等于 ElementCount，否则返回 ErrResponseInvalid；
//  2. 不做类型转换，仅文本化；
//  3. 纯计算，无 I/O。
type Decoder interface {
	Decode(ctx context.Context, req BatchRequest, res Result) (BatchResult, error)
}
