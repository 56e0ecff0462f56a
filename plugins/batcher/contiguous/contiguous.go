package contiguous

import (
	"context"

	"plctags/pkg/batch"
	"plctags/pkg/contract"
)

// Options 为区间合并 Batcher 的可选配置。
type Options struct {
	// MaxElements: 文件标识前缀 → 单请求元素上限（最长前缀优先，<=0 表示不分块）。
	// nil 采用默认 {"F":60,"N":120,"B":120}。
	MaxElements map[string]int `json:"max_elements"`
}

// Batcher 将同文件的标签折叠为最小连续区间，并按策略切分为读请求。
type Batcher struct {
	policy batch.Policy
}

// New 创建区间合并 Batcher。
func New(opts *Options) *Batcher {
	p := batch.DefaultPolicy()
	if opts != nil && opts.MaxElements != nil {
		p = batch.Policy(opts.MaxElements)
	}
	return &Batcher{policy: p}
}

// Policy 返回当前生效的分块策略。
func (b *Batcher) Policy() batch.Policy { return b.policy }

// Plan 校验 Record 序列后生成请求计划；limit 进一步收紧每个请求的元素数。
func (b *Batcher) Plan(ctx context.Context, records []contract.Record, limit contract.BatchLimit) (contract.Plan, error) {
	if err := ctx.Err(); err != nil {
		return contract.Plan{}, err
	}
	if err := contract.ValidateRecords(records); err != nil {
		return contract.Plan{}, err
	}
	return batch.Plan(contract.Texts(records), b.policy.Capped(limit.MaxElements)), nil
}
