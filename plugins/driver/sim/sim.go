// Package sim 提供内存模拟控制器驱动，按 SLC 数据表语义响应读写。
package sim

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"

	"plctags/pkg/contract"
	"plctags/pkg/tagaddr"

	"github.com/cockroachdb/errors"
)

// Options 为模拟驱动配置。
type Options struct {
	// MemoryFile: 内存镜像（YAML/JSON）；为空时使用 DefaultImage。
	MemoryFile string `json:"memory_file"`
	// Image: 内联内存镜像，与 MemoryFile 互斥。
	Image *Image `json:"image,omitempty"`
	// LatencyMS: 每次调用的模拟往返延迟（毫秒）。
	LatencyMS int `json:"latency_ms"`
	// MaxElements: 单次区间读取允许的最大元素数（模拟报文上限）；0 不限制。
	MaxElements int `json:"max_elements"`
}

// PCCC 扩展状态码（子集）。
const (
	StatusIllegalAddress = 0x06 // 地址格式或文件不存在
	StatusOutOfRange     = 0x07 // 地址越界
	StatusBadValue       = 0x0A // 值与数据类型不匹配
	StatusTooLarge       = 0x0F // 请求元素数超出报文上限
)

// Fault 为模拟控制器返回的状态错误，实现 contract.StatusError。
type Fault struct {
	Code int
	Text string
	Tag  string
}

func (f *Fault) Error() string {
	return "controller status 0x" + strconv.FormatInt(int64(f.Code), 16) + " (" + f.Text + ") for " + f.Tag
}
func (f *Fault) Status() int        { return f.Code }
func (f *Fault) StatusText() string { return f.Text }

var _ contract.StatusError = (*Fault)(nil)

// Driver 为内存模拟控制器。并发安全。
type Driver struct {
	host    string
	latency time.Duration
	maxElem int

	mu      sync.Mutex
	files   map[string]*dataFile
	symbols map[string]string
	reads   int
	writes  int
	closed  bool
}

var _ contract.Driver = (*Driver)(nil)

// New 创建模拟驱动；raw 为原样 JSON Options。
func New(host string, raw json.RawMessage) (*Driver, error) {
	var o Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &o); err != nil {
			return nil, errors.Wrap(contract.ErrInvalidInput, "sim options: "+err.Error())
		}
	}
	return NewWithOptions(host, o, time.Now())
}

// NewWithOptions 以结构化选项创建；now 用于初始化 S 文件时钟。
func NewWithOptions(host string, o Options, now time.Time) (*Driver, error) {
	if o.MemoryFile != "" && o.Image != nil {
		return nil, errors.Wrap(contract.ErrInvalidInput, "sim: memory_file and image are mutually exclusive")
	}
	img := DefaultImage(now)
	switch {
	case o.Image != nil:
		img = *o.Image
	case o.MemoryFile != "":
		loaded, err := LoadImage(o.MemoryFile)
		if err != nil {
			return nil, err
		}
		img = loaded
	}
	files, symbols, err := buildFiles(img)
	if err != nil {
		return nil, err
	}
	return &Driver{
		host:    host,
		latency: time.Duration(o.LatencyMS) * time.Millisecond,
		maxElem: o.MaxElements,
		files:   files,
		symbols: symbols,
	}, nil
}

// Host 返回创建时指定的控制器地址。
func (d *Driver) Host() string { return d.host }

// Calls 返回累计读/写调用次数。
func (d *Driver) Calls() (reads, writes int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reads, d.writes
}

func (d *Driver) wait(ctx context.Context) error {
	if d.latency <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d.latency)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ReadTag 读取字、位、区间（F:N{C}）或符号地址。
// 区间读取时 Value 为 []any；位读取时为 bool。
func (d *Driver) ReadTag(ctx context.Context, address string) (contract.Result, error) {
	if err := d.wait(ctx); err != nil {
		return contract.Result{}, err
	}
	a, err := tagaddr.Parse(tagaddr.Normalize(address))
	if err != nil {
		return contract.Result{}, &Fault{Code: StatusIllegalAddress, Text: "illegal address", Tag: address}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return contract.Result{}, errors.Wrap(contract.ErrNotConnected, "sim: driver closed")
	}
	d.reads++
	if a.Symbolic() {
		v, ok := d.symbols[a.File+":"+a.Symbol]
		if !ok {
			return contract.Result{}, &Fault{Code: StatusIllegalAddress, Text: "unknown symbol", Tag: address}
		}
		val := symbolValue(v)
		typ := "N"
		if _, isBool := val.(bool); isBool {
			typ = "BOOL"
		}
		return contract.Result{Tag: address, Value: val, Type: typ}, nil
	}
	df, err := d.lookup(a, address)
	if err != nil {
		return contract.Result{}, err
	}
	if a.HasBit() {
		n, _ := strconv.ParseInt(df.words[a.Word], 10, 64)
		return contract.Result{Tag: address, Value: n&(1<<a.Bit) != 0, Type: "BOOL"}, nil
	}
	if a.Count == 0 {
		return contract.Result{Tag: address, Value: typed(df.kind, df.words[a.Word]), Type: typeName(a.File)}, nil
	}
	vals := make([]any, 0, a.Count)
	for _, s := range df.words[a.Word : a.Word+a.Count] {
		vals = append(vals, typed(df.kind, s))
	}
	return contract.Result{Tag: address, Value: vals, Type: typeName(a.File)}, nil
}

// WriteTag 写入字、位、区间（逗号分隔多个值）或符号地址。
func (d *Driver) WriteTag(ctx context.Context, address, value string) (contract.Result, error) {
	if err := d.wait(ctx); err != nil {
		return contract.Result{}, err
	}
	a, err := tagaddr.Parse(tagaddr.Normalize(address))
	if err != nil {
		return contract.Result{}, &Fault{Code: StatusIllegalAddress, Text: "illegal address", Tag: address}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return contract.Result{}, errors.Wrap(contract.ErrNotConnected, "sim: driver closed")
	}
	d.writes++
	if a.Symbolic() {
		key := a.File + ":" + a.Symbol
		if _, ok := d.symbols[key]; !ok {
			return contract.Result{}, &Fault{Code: StatusIllegalAddress, Text: "unknown symbol", Tag: address}
		}
		d.symbols[key] = strings.TrimSpace(value)
		return contract.Result{Tag: address, Value: symbolValue(d.symbols[key]), Type: "N"}, nil
	}
	df, err := d.lookup(a, address)
	if err != nil {
		return contract.Result{}, err
	}
	if a.HasBit() {
		on, err := parseBit(value)
		if err != nil {
			return contract.Result{}, &Fault{Code: StatusBadValue, Text: "bad bit value", Tag: address}
		}
		n, _ := strconv.ParseInt(df.words[a.Word], 10, 64)
		u := uint16(n)
		if on {
			u |= 1 << a.Bit
		} else {
			u &^= 1 << a.Bit
		}
		df.words[a.Word] = strconv.FormatInt(int64(int16(u)), 10)
		return contract.Result{Tag: address, Value: on, Type: "BOOL"}, nil
	}
	parts := []string{value}
	if a.Count > 0 {
		parts = strings.Split(value, ",")
		if len(parts) != a.Count {
			return contract.Result{}, &Fault{Code: StatusBadValue, Text: "value count mismatch", Tag: address}
		}
	}
	staged := make([]string, len(parts))
	for i, p := range parts {
		s, err := canonical(df.kind, p)
		if err != nil {
			return contract.Result{}, &Fault{Code: StatusBadValue, Text: "bad value", Tag: address}
		}
		staged[i] = s
	}
	copy(df.words[a.Word:], staged)
	if len(staged) == 1 {
		return contract.Result{Tag: address, Value: typed(df.kind, staged[0]), Type: typeName(a.File)}, nil
	}
	vals := make([]any, len(staged))
	for i, s := range staged {
		vals[i] = typed(df.kind, s)
	}
	return contract.Result{Tag: address, Value: vals, Type: typeName(a.File)}, nil
}

// lookup 校验文件存在、区间不越界、元素数不超上限。调用方持锁。
func (d *Driver) lookup(a tagaddr.Address, address string) (*dataFile, error) {
	df, ok := d.files[a.File]
	if !ok {
		return nil, &Fault{Code: StatusIllegalAddress, Text: "file not found", Tag: address}
	}
	n := a.Elements()
	if d.maxElem > 0 && n > d.maxElem {
		return nil, &Fault{Code: StatusTooLarge, Text: "request too large", Tag: address}
	}
	if a.Word+n > len(df.words) {
		return nil, &Fault{Code: StatusOutOfRange, Text: "address out of range", Tag: address}
	}
	return df, nil
}

func parseBit(v string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "on":
		return true, nil
	case "0", "false", "off":
		return false, nil
	}
	return false, errors.Wrapf(contract.ErrInvalidInput, "bit value %q", v)
}

// Close 关闭驱动；之后的调用返回 ErrNotConnected。
func (d *Driver) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return nil
}
