package batch

import (
	"strconv"
	"strings"

	"plctags/pkg/contract"
	"plctags/pkg/tagaddr"
)

// 单字定位结果。
type hit int

const (
	hitFound hit = iota
	hitNone      // 无结果覆盖该字
	hitFailed    // 覆盖该字的结果为错误哨兵
	hitShort     // 结果长度不足
)

// locate 返回覆盖 file:word 的第一个结果中的原始文本（先匹配者优先）。
func locate(results []contract.BatchResult, file string, word int) (string, hit) {
	for _, res := range results {
		req := res.Request
		if !strings.EqualFold(req.File, file) || !req.Covers(word) {
			continue
		}
		if res.Failed() {
			return "", hitFailed
		}
		pos := word - req.StartWord
		if pos >= len(res.Values) {
			return "", hitShort
		}
		return res.Values[pos], hitFound
	}
	return "", hitNone
}

// Resolve 在批量结果中定位 tag 的取值。
//
//   - 无结果覆盖 → NONE；
//   - 覆盖结果失败或长度不足 → !ERROR!；
//   - 位地址 → (scalar & (1<<bit)) != 0；
//   - 字地址 → F* 文件为实数，其余为整数，非数值文本原样透传；
//   - {C} 区间地址 → 逗号拼接的逐字取值（任一字缺失为 NONE、失败为 !ERROR!）；
//   - 符号地址 → 匹配 File:Symbol 的透传结果。
//
// 仅当标签本身非法时返回 error（此时取值为 !ERROR!）。
func Resolve(tag string, results []contract.BatchResult) (contract.ResolvedValue, error) {
	a, err := tagaddr.Parse(tagaddr.Normalize(strings.TrimSpace(tag)))
	if err != nil {
		return contract.ErrorValue(), err
	}
	if a.Symbolic() {
		return resolveSymbol(a, results), nil
	}
	if a.Count > 0 {
		return resolveSpan(a, results), nil
	}
	raw, h := locate(results, a.File, a.Word)
	switch h {
	case hitNone:
		return contract.NoneValue(), nil
	case hitFailed, hitShort:
		return contract.ErrorValue(), nil
	}
	if a.HasBit() {
		return bitValue(raw, a.Bit), nil
	}
	return wordValue(a.File, raw), nil
}

// ResolveAll 按输入顺序解析全部非空标签。
// 非法标签得到 Err 非空、取值为 !ERROR! 的绑定，其余标签照常解析。
func ResolveAll(tags []string, results []contract.BatchResult) contract.Bindings {
	out := make(contract.Bindings, 0, len(tags))
	for _, raw := range tags {
		tag := strings.TrimSpace(raw)
		if tag == "" {
			continue
		}
		v, err := Resolve(tag, results)
		out = append(out, contract.Binding{Tag: tag, Value: v, Err: err})
	}
	return out
}

func resolveSpan(a tagaddr.Address, results []contract.BatchResult) contract.ResolvedValue {
	parts := make([]string, 0, a.Count)
	for i := range a.Count {
		raw, h := locate(results, a.File, a.Word+i)
		switch h {
		case hitNone:
			return contract.NoneValue()
		case hitFailed, hitShort:
			return contract.ErrorValue()
		}
		parts = append(parts, wordValue(a.File, raw).String())
	}
	return contract.TextValue(strings.Join(parts, ","))
}

func resolveSymbol(a tagaddr.Address, results []contract.BatchResult) contract.ResolvedValue {
	for _, res := range results {
		req := res.Request
		if !req.Passthrough() || !strings.EqualFold(req.File, a.File) || !strings.EqualFold(req.Symbol, a.Symbol) {
			continue
		}
		if res.Failed() || len(res.Values) == 0 {
			return contract.ErrorValue()
		}
		return scalarValue(res.Values[0])
	}
	return contract.NoneValue()
}

func bitValue(raw string, bit int) contract.ResolvedValue {
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return contract.ErrorValue()
	}
	return contract.BoolValue(n&(1<<bit) != 0)
}

func wordValue(file, raw string) contract.ResolvedValue {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(strings.ToUpper(file), "F") {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return contract.RealValue(f)
		}
		return contract.TextValue(raw)
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return contract.IntValue(n)
	}
	return contract.TextValue(raw)
}

// scalarValue 用于符号地址：整数、实数、布尔依次尝试，否则为文本。
func scalarValue(raw string) contract.ResolvedValue {
	s := strings.TrimSpace(raw)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return contract.IntValue(n)
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return contract.RealValue(f)
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return contract.BoolValue(b)
	}
	return contract.TextValue(raw)
}
