package batch

import (
	"plctags/pkg/contract"

	"github.com/cockroachdb/errors"
)

// Plan 依次执行 Group 与 Chunk：数值区间按 policy 分块，
// 每个非数值条目追加一个透传请求（位于数值请求之后）。
func Plan(tags []string, policy Policy) contract.Plan {
	g := Group(tags)
	var p contract.Plan
	for _, r := range g.Ranges {
		p.Requests = append(p.Requests, Chunk(r, policy.MaxElements(r.File))...)
	}
	for _, e := range g.NonNumeric {
		p.Requests = append(p.Requests, contract.BatchRequest{File: e.File, Symbol: e.Address, ElementCount: 1})
	}
	p.Malformed = g.Malformed
	return p
}

// CheckOverlap 报告同一文件内覆盖区间相交的第一对数值请求。
// Plan 的输出不会相交；外部批处理器产出相交请求时，Resolve 仍按先到先得取值。
func CheckOverlap(reqs []contract.BatchRequest) error {
	for i, a := range reqs {
		if a.Passthrough() {
			continue
		}
		for _, b := range reqs[i+1:] {
			if b.Passthrough() || b.File != a.File {
				continue
			}
			if a.StartWord <= b.EndWord() && b.StartWord <= a.EndWord() {
				return errors.Wrapf(contract.ErrInvariantViolation, "requests %s and %s overlap", a.Address(), b.Address())
			}
		}
	}
	return nil
}
