package registry

import (
	"bytes"
	"encoding/json"
	"sort"

	"plctags/pkg/contract"
	alines "plctags/plugins/assembler/lines"
	bcont "plctags/plugins/batcher/contiguous"
	bsingle "plctags/plugins/batcher/single"
	dscalar "plctags/plugins/decoder/scalar"
	drvflaky "plctags/plugins/driver/flaky"
	drvmodbus "plctags/plugins/driver/modbus"
	drvsim "plctags/plugins/driver/sim"
	rfs "plctags/plugins/reader/filesystem"
	stags "plctags/plugins/splitter/taglist"
	wfs "plctags/plugins/writer/filesystem"
	wstd "plctags/plugins/writer/stdout"

	"github.com/cockroachdb/errors"
)

// strictUnmarshal: 使用 DisallowUnknownFields 严格解码，拒绝未知字段。
func strictUnmarshal(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.Wrap(contract.ErrInvalidInput, err.Error())
	}
	return nil
}

// NewReader 工厂签名：接收原样 JSON Options。
type NewReader func(raw json.RawMessage) (contract.Reader, error)

// NewSplitter 工厂签名：接收原样 JSON Options。
type NewSplitter func(raw json.RawMessage) (contract.Splitter, error)

// NewBatcher 工厂签名：接收原样 JSON Options。
type NewBatcher func(raw json.RawMessage) (contract.Batcher, error)

// NewDriver 工厂签名：控制器地址 + 原样 JSON Options。
type NewDriver func(host string, raw json.RawMessage) (contract.Driver, error)

// NewDecoder 工厂签名：接收原样 JSON Options。
type NewDecoder func(raw json.RawMessage) (contract.Decoder, error)

// NewAssembler 工厂签名：接收原样 JSON Options。
type NewAssembler func(raw json.RawMessage) (contract.Assembler, error)

// NewWriter 工厂签名：接收原样 JSON Options。
type NewWriter func(raw json.RawMessage) (contract.Writer, error)

// Reader 工厂注册表（显式、零反射）。
var Reader = map[string]NewReader{
	// fs: 文件/目录/STDIN 清单读取
	"fs": func(raw json.RawMessage) (contract.Reader, error) {
		var opts rfs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return rfs.New(&opts), nil
	},
}

// Splitter 工厂注册表。
var Splitter = map[string]NewSplitter{
	// taglist: 每行一个标签，跳过空行与注释
	"taglist": func(raw json.RawMessage) (contract.Splitter, error) {
		var opts stags.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return stags.New(&opts), nil
	},
}

// Batcher 工厂注册表。
var Batcher = map[string]NewBatcher{
	// contiguous: 按文件合并最小连续区间并按策略分块
	"contiguous": func(raw json.RawMessage) (contract.Batcher, error) {
		var opts bcont.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return bcont.New(&opts), nil
	},
	// single: 每个标签一个请求（不合并）
	"single": func(raw json.RawMessage) (contract.Batcher, error) {
		var opts bsingle.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return bsingle.New(&opts), nil
	},
}

// Driver 工厂注册表。
var Driver = map[string]NewDriver{
	// sim: 内存模拟控制器
	"sim": func(host string, raw json.RawMessage) (contract.Driver, error) {
		if err := strictUnmarshal(raw, &drvsim.Options{}); err != nil {
			return nil, err
		}
		return drvsim.New(host, raw)
	},
	// flaky: 故障注入（包装 sim）
	"flaky": func(host string, raw json.RawMessage) (contract.Driver, error) {
		if err := strictUnmarshal(raw, &drvflaky.Options{}); err != nil {
			return nil, err
		}
		return drvflaky.New(host, raw)
	},
	// modbus: Modbus TCP/RTU，数据文件映射到保持寄存器
	"modbus": func(host string, raw json.RawMessage) (contract.Driver, error) {
		if err := strictUnmarshal(raw, &drvmodbus.Options{}); err != nil {
			return nil, err
		}
		return drvmodbus.New(host, raw)
	},
}

// Decoder 工厂注册表。
var Decoder = map[string]NewDecoder{
	// scalar: 标量/切片文本化并校验元素数
	"scalar": func(raw json.RawMessage) (contract.Decoder, error) {
		if err := strictUnmarshal(raw, &dscalar.Options{}); err != nil {
			return nil, err
		}
		return dscalar.New(raw)
	},
}

// Assembler 工厂注册表。
var Assembler = map[string]NewAssembler{
	// lines: tag=value 与 File:Start{Count} 逐行输出
	"lines": func(raw json.RawMessage) (contract.Assembler, error) {
		if err := strictUnmarshal(raw, &alines.Options{}); err != nil {
			return nil, err
		}
		return alines.New(raw)
	},
}

// Writer 工厂注册表。
var Writer = map[string]NewWriter{
	// fs: 文件系统 Writer（默认原子替换）
	"fs": func(raw json.RawMessage) (contract.Writer, error) {
		var opts wfs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return wfs.New(&opts)
	},
	// stdout: 标准输出
	"stdout": func(raw json.RawMessage) (contract.Writer, error) {
		var opts wstd.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return wstd.New(&opts), nil
	},
}

// Names 返回注册表键的有序列表（用于帮助与错误提示）。
func Names[F any](m map[string]F) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
