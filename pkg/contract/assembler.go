package contract

import (
	"context"
	"io"
)

// Assembler: 将解析结果或请求计划渲染为最终文本（单文件）。
// 约束：
//  1. 按输入顺序逐行输出，不重排；
//  2. 不引入跨文件状态；
//  3. 完整渲染后才返回 Reader，便于上层实现“无部分输出”。
type Assembler interface {
	Assemble(ctx context.Context, fileID FileID, bindings Bindings) (io.Reader, error)
	AssemblePlan(ctx context.Context, fileID FileID, plan Plan) (io.Reader, error)
}
