package contract

import (
	"context"
	"io"
)

// Splitter: 将单个清单字节流拆分为有序 Record 序列，并分配 Index（0..n-1）。
// 约束：
// 1) 不跨文件合并；
// 2) 空行与注释行不产生 Record；
// 3) 不改写标签文本（仅去除首尾空白与 CR）；
// 4) 无内部并发、幂等。
type Splitter interface {
	Split(ctx context.Context, fileID FileID, r io.Reader) ([]Record, error)
}
