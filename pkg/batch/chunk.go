package batch

import (
	"strings"

	"plctags/pkg/contract"
)

// Policy: 文件标识前缀 → 单请求最大元素数。
// 最长匹配前缀生效；无匹配或值 <= 0 表示不分块。
type Policy map[string]int

// DefaultPolicy 对应 SLC 500 系列的 PCCC 报文上限：浮点文件 60，整型/位文件 120。
func DefaultPolicy() Policy {
	return Policy{"F": 60, "N": 120, "B": 120}
}

// MaxElements 返回 file 的单请求上限（0 表示不分块）。
func (p Policy) MaxElements(file string) int {
	file = strings.ToUpper(file)
	best, limit := -1, 0
	for prefix, n := range p {
		up := strings.ToUpper(prefix)
		if len(up) > best && strings.HasPrefix(file, up) {
			best, limit = len(up), n
		}
	}
	if limit < 0 {
		return 0
	}
	return limit
}

// Chunk 以 maxElements 为步长切分区间；末段为余数。
// maxElements <= 0 时输出覆盖整个区间的单个请求。
// 输出请求连续、升序、互不重叠，ElementCount 之和等于区间宽度。
func Chunk(r contract.FileRange, maxElements int) []contract.BatchRequest {
	width := r.Width()
	if width <= 0 {
		return nil
	}
	if maxElements <= 0 || maxElements >= width {
		return []contract.BatchRequest{{File: r.File, StartWord: r.StartWord, ElementCount: width}}
	}
	out := make([]contract.BatchRequest, 0, width/maxElements+1)
	for start := r.StartWord; ; start += maxElements {
		rest := r.EndWord - start
		if rest < maxElements {
			out = append(out, contract.BatchRequest{File: r.File, StartWord: start, ElementCount: rest + 1})
			return out
		}
		out = append(out, contract.BatchRequest{File: r.File, StartWord: start, ElementCount: maxElements})
	}
}

// Capped 返回所有上限都不超过 n 的策略副本；n <= 0 时原样返回。
// 原本不分块的文件（含无匹配前缀者）在副本中上限为 n。
func (p Policy) Capped(n int) Policy {
	if n <= 0 {
		return p
	}
	out := make(Policy, len(p)+1)
	for k, v := range p {
		if v <= 0 || v > n {
			v = n
		}
		out[k] = v
	}
	if _, ok := out[""]; !ok {
		out[""] = n
	}
	return out
}
