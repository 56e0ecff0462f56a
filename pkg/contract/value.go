package contract

import "strconv"

// 输出哨兵文本。
const (
	SentinelError = "!ERROR!"
	SentinelNone  = "NONE"
)

// ValueKind: ResolvedValue 的取值类别。
type ValueKind int

const (
	KindNone ValueKind = iota
	KindError
	KindInt
	KindReal
	KindBool
	KindText
)

// ResolvedValue: 绑定到单个原始标签的最终值。
// 零值即 NONE 哨兵。
type ResolvedValue struct {
	Kind ValueKind
	Int  int64
	Real float64
	Bool bool
	Text string
}

func NoneValue() ResolvedValue           { return ResolvedValue{Kind: KindNone} }
func ErrorValue() ResolvedValue          { return ResolvedValue{Kind: KindError} }
func IntValue(v int64) ResolvedValue     { return ResolvedValue{Kind: KindInt, Int: v} }
func RealValue(v float64) ResolvedValue  { return ResolvedValue{Kind: KindReal, Real: v} }
func BoolValue(v bool) ResolvedValue     { return ResolvedValue{Kind: KindBool, Bool: v} }
func TextValue(v string) ResolvedValue   { return ResolvedValue{Kind: KindText, Text: v} }
func (v ResolvedValue) IsSentinel() bool { return v.Kind == KindNone || v.Kind == KindError }

// String 渲染输出文本：数值/布尔按 Go 常规格式，哨兵为 !ERROR! / NONE。
func (v ResolvedValue) String() string {
	switch v.Kind {
	case KindError:
		return SentinelError
	case KindInt:
		return strconv.FormatInt(v.Int, 10)
	case KindReal:
		return strconv.FormatFloat(v.Real, 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.Bool)
	case KindText:
		return v.Text
	default:
		return SentinelNone
	}
}

// Binding: 标签 → 值。Err 非空表示标签本身非法（值为 !ERROR!）。
type Binding struct {
	Tag   string
	Value ResolvedValue
	Err   error
}

// Bindings 保持输入顺序；重复标签各占一行。
type Bindings []Binding

// Map 返回 tag → value 映射；重复标签以最后一次为准。
func (bs Bindings) Map() map[string]ResolvedValue {
	out := make(map[string]ResolvedValue, len(bs))
	for _, b := range bs {
		out[b.Tag] = b.Value
	}
	return out
}
