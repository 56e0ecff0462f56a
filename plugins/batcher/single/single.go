package single

import (
	"context"

	"plctags/pkg/contract"
	"plctags/pkg/tagaddr"
)

// Options 为逐标签 Batcher 的可选配置。
type Options struct {
	// Dedup: 合并完全相同的请求（默认 false，保留清单原样顺序与次数）。
	Dedup bool `json:"dedup"`
}

// Batcher 不做区间合并：每个标签一个请求，请求顺序与清单一致。
// 用于与区间合并结果对照，或控制器不支持区间读取的场景。
type Batcher struct {
	dedup bool
}

// New 创建逐标签 Batcher。
func New(opts *Options) *Batcher {
	return &Batcher{dedup: opts != nil && opts.Dedup}
}

// Plan 为每个可解析标签生成一个请求；{C} 区间地址按 limit 切分。
func (b *Batcher) Plan(ctx context.Context, records []contract.Record, limit contract.BatchLimit) (contract.Plan, error) {
	if err := ctx.Err(); err != nil {
		return contract.Plan{}, err
	}
	if err := contract.ValidateRecords(records); err != nil {
		return contract.Plan{}, err
	}
	var p contract.Plan
	seen := make(map[contract.BatchRequest]struct{})
	add := func(r contract.BatchRequest) {
		if b.dedup {
			if _, dup := seen[r]; dup {
				return
			}
			seen[r] = struct{}{}
		}
		p.Requests = append(p.Requests, r)
	}
	for _, rec := range records {
		a, err := tagaddr.Parse(tagaddr.Normalize(rec.Text))
		if err != nil {
			p.Malformed = append(p.Malformed, contract.MalformedTag{Tag: rec.Text, Err: err})
			continue
		}
		if a.Symbolic() {
			add(contract.BatchRequest{File: a.File, Symbol: a.Symbol, ElementCount: 1})
			continue
		}
		n := a.Elements()
		step := n
		if limit.MaxElements > 0 && limit.MaxElements < n {
			step = limit.MaxElements
		}
		for off := 0; off < n; off += step {
			add(contract.BatchRequest{File: a.File, StartWord: a.Word + off, ElementCount: min(step, n-off)})
		}
	}
	return p, nil
}
