// Package tagaddr 解析 SLC/MicroLogix 风格的标签地址。
//
// 支持的形式：
//
//	F:N        字地址（N7:0）
//	F:N/B      字内位（B3:1/4）
//	F:N{C}     区间读取（N7:0{10}）
//	F/B        旧式绝对位（B3/20，等价于 B3:1/4）
//	F:S        符号地址，原样透传（T4:0.ACC、T4:0/DN）
//
// 解析纯语法，不校验控制器内存是否存在该地址。
package tagaddr

import (
	"math"
	"strconv"
)

// WordBits 是单字位宽（固定 16 位）。
const WordBits = 16

// NoBit 表示地址不含位号。
const NoBit = -1

// MaxWord 是可寻址的最大字号；字号与 {C} 区间末字均不得超过。
const MaxWord = math.MaxInt32

// Address 是解析后的标签地址（值类型，不可变）。
type Address struct {
	File   string // 大写文件标识，例如 "N7"、"B3"、"S"
	Word   int
	Bit    int    // NoBit 表示字地址
	Count  int    // {C} 后缀；0 表示未指定
	Symbol string // 非数值字部分（冒号之后原文）；非空时 Word/Bit/Count 无意义
}

// HasBit 报告地址是否引用单个位。
func (a Address) HasBit() bool { return a.Symbol == "" && a.Bit != NoBit }

// Symbolic 报告地址是否为非数值符号地址。
func (a Address) Symbolic() bool { return a.Symbol != "" }

// Elements 返回地址覆盖的字数（符号地址与未指定 {C} 时为 1）。
func (a Address) Elements() int {
	if a.Symbolic() || a.Count <= 0 {
		return 1
	}
	return a.Count
}

// String 渲染规范形式（文件大写，旧式位地址改写为字/位）。
func (a Address) String() string {
	if a.Symbolic() {
		return a.File + ":" + a.Symbol
	}
	s := a.File + ":" + strconv.Itoa(a.Word)
	switch {
	case a.Bit != NoBit:
		s += "/" + strconv.Itoa(a.Bit)
	case a.Count > 0:
		s += "{" + strconv.Itoa(a.Count) + "}"
	}
	return s
}
