package sim

import (
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"plctags/pkg/contract"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"
)

// 数据文件元素类型（取自文件标识首字母）。
type elemKind int

const (
	kindInt elemKind = iota
	kindFloat
	kindString
)

func kindOf(file string) elemKind {
	switch {
	case strings.HasPrefix(file, "ST"):
		return kindString
	case strings.HasPrefix(file, "F"):
		return kindFloat
	default:
		return kindInt
	}
}

// typeName 返回 Result.Type 中的数据类型名。
func typeName(file string) string {
	switch kindOf(file) {
	case kindFloat:
		return "F"
	case kindString:
		return "ST"
	}
	if strings.HasPrefix(file, "B") {
		return "B"
	}
	if file == "S" {
		return "S"
	}
	return "N"
}

// dataFile 为单个数据文件的元素数组（统一以文本保存，读取时按类型还原）。
type dataFile struct {
	kind  elemKind
	words []string
}

// Image 是控制器内存镜像的 YAML/JSON 表示。
//
//	files:
//	  N7: [0, 1, 2]
//	  F8: [1.5]
//	sizes:
//	  N7: 256
//	symbols:
//	  "T4:0.ACC": 42
type Image struct {
	Files   map[string][]any `yaml:"files" json:"files"`
	Sizes   map[string]int   `yaml:"sizes" json:"sizes"`
	Symbols map[string]any   `yaml:"symbols" json:"symbols"`
}

// LoadImage 读取内存镜像文件（YAML，兼容 JSON）。
func LoadImage(path string) (Image, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Image{}, errors.Wrapf(err, "memory image %s", path)
	}
	var img Image
	if err := yaml.Unmarshal(b, &img); err != nil {
		return Image{}, errors.Wrapf(contract.ErrInvalidInput, "memory image %s: %v", path, err)
	}
	return img, nil
}

// DefaultImage 为未配置镜像时的出厂内存：N7/N9/F8/B3 全零，T4 定时器符号，S 文件含时钟。
func DefaultImage(now time.Time) Image {
	img := Image{
		Files: map[string][]any{},
		Sizes: map[string]int{"N7": 256, "N9": 256, "F8": 256, "B3": 64, "S": 96, "ST9": 16},
		Symbols: map[string]any{
			"T4:0.ACC": 0, "T4:0.PRE": 100, "T4:0/DN": false, "T4:0/EN": false, "T4:0/TT": false,
			"C5:0.ACC": 0, "C5:0.PRE": 10, "C5:0/DN": false,
		},
	}
	img.Files["S"] = clockWords(now)
	return img
}

// S:37..S:42 依次为年、月、日、时、分、秒。
const clockWord = 37

func clockWords(now time.Time) []any {
	words := make([]any, clockWord+6)
	for i := range words {
		words[i] = 0
	}
	copy(words[clockWord:], []any{now.Year(), int(now.Month()), now.Day(), now.Hour(), now.Minute(), now.Second()})
	return words
}

func buildFiles(img Image) (map[string]*dataFile, map[string]string, error) {
	files := make(map[string]*dataFile)
	for name, vals := range img.Files {
		file := strings.ToUpper(name)
		df := &dataFile{kind: kindOf(file)}
		for i, v := range vals {
			s, err := canonical(df.kind, v)
			if err != nil {
				return nil, nil, errors.Wrapf(err, "%s:%d", file, i)
			}
			df.words = append(df.words, s)
		}
		files[file] = df
	}
	for name, n := range img.Sizes {
		file := strings.ToUpper(name)
		df, ok := files[file]
		if !ok {
			df = &dataFile{kind: kindOf(file)}
			files[file] = df
		}
		zero := "0"
		if df.kind == kindString {
			zero = ""
		}
		for len(df.words) < n {
			df.words = append(df.words, zero)
		}
	}
	symbols := make(map[string]string, len(img.Symbols))
	for k, v := range img.Symbols {
		i := strings.IndexByte(k, ':')
		if i <= 0 {
			return nil, nil, errors.Wrapf(contract.ErrInvalidInput, "symbol %q: missing ':'", k)
		}
		symbols[strings.ToUpper(k[:i])+k[i:]] = scalarText(v)
	}
	return files, symbols, nil
}

// canonical 将镜像/写入值转换为该文件类型的规范文本。
func canonical(kind elemKind, v any) (string, error) {
	s := strings.TrimSpace(scalarText(v))
	switch kind {
	case kindString:
		return scalarText(v), nil
	case kindFloat:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return "", errors.Wrapf(contract.ErrInvalidInput, "not a real: %q", s)
		}
		return strconv.FormatFloat(f, 'g', -1, 32), nil
	default:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return "", errors.Wrapf(contract.ErrInvalidInput, "not an integer: %q", s)
		}
		if n < math.MinInt16 || n > math.MaxUint16 {
			return "", errors.Wrapf(contract.ErrInvalidInput, "integer out of 16-bit range: %d", n)
		}
		// 无符号写入按 16 位补码保存
		return strconv.FormatInt(int64(int16(uint16(n))), 10), nil
	}
}

func scalarText(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case nil:
		return ""
	default:
		b, _ := yaml.Marshal(x)
		return strings.TrimSpace(string(b))
	}
}

// typed 将规范文本还原为 Go 值（驱动 Result.Value 中的元素）。
func typed(kind elemKind, s string) any {
	switch kind {
	case kindFloat:
		f, _ := strconv.ParseFloat(s, 64)
		return f
	case kindString:
		return s
	}
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

// symbolValue 将符号地址值还原为 Go 值。
func symbolValue(s string) any {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return s
}
