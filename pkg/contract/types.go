package contract

import (
	"fmt"
	"strconv"
)

// FileID: 逻辑输入标识（标签清单路径，需规范化，跨平台一致）。
type FileID string

// Index: 单个清单内稳定递增的条目索引（0..n-1，空行不计）。
type Index int64

// Meta: 可选的轻量元信息；核心流程不读取其键值。
type Meta map[string]string

// Record: 标签清单中的一条有效条目。
// 约束：
// - FileID 一致；
// - Index 自 0 严格递增；
// - Text 为去除首尾空白后的原始标签文本（保持大小写，供输出回显）。
type Record struct {
	Index  Index
	FileID FileID
	Text   string
	Meta   Meta // 可为 nil；Meta["line"] 为源文件行号
}

// FileRange: 某个数据文件内被引用字的最小连续闭区间。
type FileRange struct {
	File      string
	StartWord int
	EndWord   int
}

// Width 返回区间覆盖的字数。
func (r FileRange) Width() int { return r.EndWord - r.StartWord + 1 }

// NonNumericEntry: 字部分为非数值（符号）地址的条目，原样透传，不参与区间合并。
// Address 为冒号之后的部分（例如 T4:0.ACC 的 "0.ACC"）。
type NonNumericEntry struct {
	File    string
	Address string
}

// BatchRequest: 一次批量读请求。
// 数值请求覆盖 [StartWord, StartWord+ElementCount-1]；
// Symbol 非空时为非数值地址的透传请求，ElementCount 固定为 1。
type BatchRequest struct {
	File         string
	StartWord    int
	ElementCount int
	Symbol       string
}

// Passthrough 报告请求是否为非数值透传。
func (r BatchRequest) Passthrough() bool { return r.Symbol != "" }

// EndWord 返回请求覆盖的最后一个字。
func (r BatchRequest) EndWord() int { return r.StartWord + r.ElementCount - 1 }

// Covers 报告 word 是否落在请求覆盖区间内（透传请求恒为 false）。
func (r BatchRequest) Covers(word int) bool {
	if r.Passthrough() {
		return false
	}
	return word >= r.StartWord && word <= r.EndWord()
}

// Address 渲染为控制器地址：数值请求为 File:Start{Count}，透传请求为 File:Symbol。
func (r BatchRequest) Address() string {
	if r.Passthrough() {
		return r.File + ":" + r.Symbol
	}
	return r.File + ":" + strconv.Itoa(r.StartWord) + "{" + strconv.Itoa(r.ElementCount) + "}"
}

func (r BatchRequest) String() string { return r.Address() }

// BatchResult: 一次 BatchRequest 的文本结果。
// 约束：Err 为 nil 时 len(Values) == Request.ElementCount；Err 非空即为错误哨兵。
type BatchResult struct {
	Request BatchRequest
	Values  []string
	Err     error
}

// Failed 报告结果是否为错误哨兵。
func (r BatchResult) Failed() bool { return r.Err != nil }

// MalformedTag: 无法解析的标签及其原因。
type MalformedTag struct {
	Tag string
	Err error
}

// Plan: 一份标签清单对应的读请求计划。
// 约束：同一 File 的数值请求按 StartWord 升序、连续且互不重叠；透传请求位于数值请求之后。
type Plan struct {
	Requests  []BatchRequest
	Malformed []MalformedTag
}

// Elements 返回计划中所有请求的元素总数。
func (p Plan) Elements() int {
	n := 0
	for _, r := range p.Requests {
		n += r.ElementCount
	}
	return n
}

func (p Plan) String() string {
	return fmt.Sprintf("plan{requests=%d elements=%d malformed=%d}", len(p.Requests), p.Elements(), len(p.Malformed))
}
