package scalar

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"plctags/pkg/contract"

	"github.com/cockroachdb/errors"
)

// Options 为解码器配置。
type Options struct {
	// AllowLonger: 允许驱动返回多于请求的元素（截断到 ElementCount）。
	AllowLonger bool `json:"allow_longer"`
	// TextFiles: 元素允许为非数值文本的文件前缀。nil 默认 ["ST","A"]。
	TextFiles []string `json:"text_files"`
}

// Decoder 将驱动 Result.Value（标量或切片）文本化并校验与请求对齐。
type Decoder struct {
	allowLonger bool
	textFiles   []string
}

var _ contract.Decoder = (*Decoder)(nil)

// New 从原样 JSON Options 创建解码器。
func New(raw json.RawMessage) (*Decoder, error) {
	var o Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &o); err != nil {
			return nil, errors.Wrap(contract.ErrInvalidInput, "scalar decoder options: "+err.Error())
		}
	}
	d := &Decoder{allowLonger: o.AllowLonger, textFiles: []string{"ST", "A"}}
	if o.TextFiles != nil {
		d.textFiles = nil
		for _, p := range o.TextFiles {
			d.textFiles = append(d.textFiles, strings.ToUpper(p))
		}
	}
	return d, nil
}

// Decode 产出 BatchResult（Err 恒为 nil）；载荷与请求不匹配时返回 ErrResponseInvalid。
func (d *Decoder) Decode(ctx context.Context, req contract.BatchRequest, res contract.Result) (contract.BatchResult, error) {
	if err := ctx.Err(); err != nil {
		return contract.BatchResult{}, err
	}
	elems, err := flatten(res.Value)
	if err != nil {
		return contract.BatchResult{}, errors.Wrapf(err, "decode %s", req.Address())
	}
	want := req.ElementCount
	if want <= 0 {
		want = 1
	}
	switch {
	case len(elems) == want:
	case len(elems) > want && d.allowLonger:
		elems = elems[:want]
	default:
		return contract.BatchResult{}, errors.Wrapf(contract.ErrResponseInvalid,
			"decode %s: got %d elements, want %d", req.Address(), len(elems), want)
	}
	numeric := !req.Passthrough() && !d.textFile(req.File)
	vals := make([]string, len(elems))
	for i, e := range elems {
		s, err := text(e, numeric)
		if err != nil {
			return contract.BatchResult{}, errors.Wrapf(err, "decode %s[%d]", req.Address(), i)
		}
		vals[i] = s
	}
	return contract.BatchResult{Request: req, Values: vals}, nil
}

func (d *Decoder) textFile(file string) bool {
	file = strings.ToUpper(file)
	for _, p := range d.textFiles {
		if p != "" && strings.HasPrefix(file, p) {
			return true
		}
	}
	return false
}

// flatten 将标量包装为单元素切片；任意切片/数组按元素展开。
func flatten(v any) ([]any, error) {
	switch x := v.(type) {
	case nil:
		return nil, errors.Wrap(contract.ErrResponseInvalid, "nil value")
	case []any:
		return x, nil
	case string, []byte:
		return []any{x}, nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = rv.Index(i).Interface()
		}
		return out, nil
	}
	return []any{v}, nil
}

// text 将单个元素文本化；numeric 为 true 时布尔记为 1/0，文本必须可解析为数值。
func text(v any, numeric bool) (string, error) {
	switch x := v.(type) {
	case nil:
		return "", errors.Wrap(contract.ErrResponseInvalid, "nil element")
	case string:
		if numeric {
			if _, err := strconv.ParseFloat(strings.TrimSpace(x), 64); err != nil {
				return "", errors.Wrapf(contract.ErrResponseInvalid, "non-numeric element %q", x)
			}
		}
		return x, nil
	case []byte:
		return text(string(x), numeric)
	case bool:
		if numeric {
			if x {
				return "1", nil
			}
			return "0", nil
		}
		return strconv.FormatBool(x), nil
	case float32:
		return strconv.FormatFloat(float64(x), 'g', -1, 32), nil
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64), nil
	case int:
		return strconv.Itoa(x), nil
	case int8, int16, int32, int64:
		return strconv.FormatInt(reflect.ValueOf(x).Int(), 10), nil
	case uint, uint8, uint16, uint32, uint64:
		return strconv.FormatUint(reflect.ValueOf(x).Uint(), 10), nil
	case json.Number:
		return x.String(), nil
	}
	return fmt.Sprint(v), nil
}
