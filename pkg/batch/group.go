// Package batch 将标签清单合并为最少、最宽的连续区间读请求，
// 并从批量读取结果中还原每个标签的取值（含位提取）。
//
// 包内全部为纯计算：不做 I/O、不持有跨调用状态。
package batch

import (
	"sort"
	"strings"

	"plctags/pkg/contract"
	"plctags/pkg/tagaddr"
)

// Grouping 是 Group 的输出。
type Grouping struct {
	Ranges     []contract.FileRange       // 每个文件至多一个区间，按文件名升序
	NonNumeric []contract.NonNumericEntry // 首次出现顺序，已去重
	Malformed  []contract.MalformedTag    // 无法解析的标签（输入顺序）
}

// Group 归一化并解析每个标签，按文件折叠出最小连续字区间。
// 空白标签跳过；非法标签收集到 Malformed，不中断其余标签。
func Group(tags []string) Grouping {
	var g Grouping
	spans := make(map[string]*contract.FileRange)
	seen := make(map[contract.NonNumericEntry]struct{})
	for _, raw := range tags {
		tag := strings.TrimSpace(raw)
		if tag == "" {
			continue
		}
		a, err := tagaddr.Parse(tagaddr.Normalize(tag))
		if err != nil {
			g.Malformed = append(g.Malformed, contract.MalformedTag{Tag: tag, Err: err})
			continue
		}
		if a.Symbolic() {
			e := contract.NonNumericEntry{File: a.File, Address: a.Symbol}
			if _, dup := seen[e]; !dup {
				seen[e] = struct{}{}
				g.NonNumeric = append(g.NonNumeric, e)
			}
			continue
		}
		lo, hi := a.Word, a.Word+a.Elements()-1
		r, ok := spans[a.File]
		if !ok {
			spans[a.File] = &contract.FileRange{File: a.File, StartWord: lo, EndWord: hi}
			continue
		}
		r.StartWord = min(r.StartWord, lo)
		r.EndWord = max(r.EndWord, hi)
	}
	g.Ranges = make([]contract.FileRange, 0, len(spans))
	for _, r := range spans {
		g.Ranges = append(g.Ranges, *r)
	}
	sort.Slice(g.Ranges, func(i, j int) bool { return g.Ranges[i].File < g.Ranges[j].File })
	return g
}
