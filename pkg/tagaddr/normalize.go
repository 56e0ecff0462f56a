package tagaddr

import (
	"strconv"
	"strings"
)

// Normalize 将旧式绝对位地址 F/B 改写为 F:word/bit（word = B/16，bit = B%16）。
// 其余输入（含无法识别的形式）原样返回；幂等。
func Normalize(tag string) string {
	if strings.Contains(tag, ":") {
		return tag
	}
	i := strings.IndexByte(tag, '/')
	if i <= 0 || i == len(tag)-1 {
		return tag
	}
	file, rest := tag[:i], tag[i+1:]
	for j := 0; j < len(rest); j++ {
		if !isDigit(rest[j]) {
			return tag
		}
	}
	abs, err := strconv.Atoi(rest)
	if err != nil {
		return tag
	}
	return file + ":" + strconv.Itoa(abs/WordBits) + "/" + strconv.Itoa(abs%WordBits)
}
