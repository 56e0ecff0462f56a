package contract

import (
	"context"

	"github.com/cockroachdb/errors"
)

// BatchLimit: 由上层（驱动限额）传入的单请求元素上限；<=0 表示不额外限制。
type BatchLimit struct {
	MaxElements int
}

// Batcher: 将同一清单的标签整理为读请求计划。
// 约束：
//  1. 纯计算，不做 I/O；
//  2. 非法标签进入 Plan.Malformed，不中断整体；
//  3. 请求之间互不重叠，同一 File 内按 StartWord 升序；
//  4. 每个可解析标签至少被一个请求覆盖；
//  5. limit.MaxElements > 0 时任何请求的 ElementCount 不得超过它。
type Batcher interface {
	Plan(ctx context.Context, records []Record, limit BatchLimit) (Plan, error)
}

// ValidateRecords 校验 Record 序列：FileID 一致、Index 自 0 连续递增。
func ValidateRecords(records []Record) error {
	if len(records) == 0 {
		return nil
	}
	fid := records[0].FileID
	for i, r := range records {
		if r.FileID != fid {
			return errors.Wrapf(ErrInvariantViolation, "records must share one FileID (%s != %s)", r.FileID, fid)
		}
		if r.Index != Index(i) {
			return errors.Wrapf(ErrInvariantViolation, "record index must be contiguous from 0: got %d at %d", r.Index, i)
		}
	}
	return nil
}

// Texts 提取 Record 文本（保持顺序）。
func Texts(records []Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.Text
	}
	return out
}
