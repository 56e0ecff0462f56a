// Package modbus 提供 Modbus TCP/RTU 控制器驱动：按选项把数据文件映射到保持寄存器。
//
// 映射规则：整数/位文件每字占 1 个寄存器；F 文件每元素占 2 个寄存器（IEEE754，高字在前）。
// 符号地址需在 symbols 中显式映射到单个寄存器。
package modbus

import (
	"context"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"plctags/pkg/contract"
	"plctags/pkg/tagaddr"

	"github.com/cockroachdb/errors"
	mb "github.com/simonvetter/modbus"
)

// MaxRegisters 为单次读保持寄存器的协议上限。
const MaxRegisters = 125

// FileMap 描述单个数据文件的寄存器布局。
type FileMap struct {
	// Base: 元素 0 对应的寄存器地址。
	Base uint16 `json:"base"`
	// Size: 文件元素数；0 表示不校验越界（交由设备判定）。
	Size int `json:"size,omitempty"`
}

// Options 为 Modbus 驱动配置。
type Options struct {
	// URL: 例如 tcp://10.0.0.5:502 或 rtu:///dev/ttyUSB0；为空时为 tcp://<host>:502。
	URL string `json:"url,omitempty"`
	// UnitID: 从站号；0 时为 1。
	UnitID int `json:"unit_id,omitempty"`
	// TimeoutMS: 单次请求超时（毫秒）；0 时为 1000。
	TimeoutMS int `json:"timeout_ms,omitempty"`
	// Files: 文件标识 → 寄存器布局。
	Files map[string]FileMap `json:"files"`
	// Symbols: 符号地址（如 T4:0.ACC，不区分大小写）→ 寄存器。
	Symbols map[string]uint16 `json:"symbols,omitempty"`
}

// Modbus 异常码（子集）。
const (
	StatusIllegalFunction = 0x01
	StatusIllegalAddress  = 0x02
	StatusIllegalValue    = 0x03
	StatusDeviceFailure   = 0x04
)

// Fault 为设备异常响应或本地映射错误，实现 contract.StatusError。
type Fault struct {
	Code int
	Text string
	Tag  string
}

func (f *Fault) Error() string {
	return "modbus exception 0x" + strconv.FormatInt(int64(f.Code), 16) + " (" + f.Text + ") for " + f.Tag
}
func (f *Fault) Status() int        { return f.Code }
func (f *Fault) StatusText() string { return f.Text }

var _ contract.StatusError = (*Fault)(nil)

// timeoutError 将请求超时表现为 net.Error，以便按网络类错误重试。
type timeoutError struct{ err error }

func (e timeoutError) Error() string   { return e.err.Error() }
func (e timeoutError) Unwrap() error   { return e.err }
func (e timeoutError) Timeout() bool   { return true }
func (e timeoutError) Temporary() bool { return true }

// client 为驱动所需的最小客户端面（*mb.ModbusClient 满足）。
type client interface {
	Open() error
	Close() error
	ReadRegisters(addr, quantity uint16, regType mb.RegType) ([]uint16, error)
	ReadFloat32s(addr, quantity uint16, regType mb.RegType) ([]float32, error)
	WriteRegister(addr, value uint16) error
	WriteRegisters(addr uint16, values []uint16) error
	WriteFloat32s(addr uint16, values []float32) error
}

// Driver 为 Modbus 控制器驱动。首次调用时建立连接；并发调用串行化。
type Driver struct {
	url     string
	files   map[string]FileMap
	symbols map[string]uint16
	dial    func() (client, error)

	mu     sync.Mutex
	cl     client
	closed bool
}

var _ contract.Driver = (*Driver)(nil)

// New 创建驱动；raw 为原样 JSON Options。
func New(host string, raw json.RawMessage) (*Driver, error) {
	var o Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &o); err != nil {
			return nil, errors.Wrap(contract.ErrInvalidInput, "modbus options: "+err.Error())
		}
	}
	return NewWithOptions(host, o)
}

// NewWithOptions 以结构化选项创建。
func NewWithOptions(host string, o Options) (*Driver, error) {
	if o.URL == "" {
		if strings.TrimSpace(host) == "" {
			return nil, errors.Wrap(contract.ErrNotConnected, "modbus: no url or host")
		}
		o.URL = "tcp://" + host + ":502"
	}
	if o.UnitID == 0 {
		o.UnitID = 1
	}
	if o.UnitID < 0 || o.UnitID > 0xff {
		return nil, errors.Wrapf(contract.ErrInvalidInput, "modbus: unit_id %d out of range", o.UnitID)
	}
	if o.TimeoutMS <= 0 {
		o.TimeoutMS = 1000
	}
	if len(o.Files) == 0 {
		return nil, errors.WithHint(
			errors.Wrap(contract.ErrInvalidInput, "modbus: files mapping is empty"),
			`例如 "files": {"N7": {"base": 0}, "F8": {"base": 1000}}`)
	}
	files := make(map[string]FileMap, len(o.Files))
	for id, fm := range o.Files {
		if fm.Size < 0 {
			return nil, errors.Wrapf(contract.ErrInvalidInput, "modbus: file %s size %d", id, fm.Size)
		}
		files[strings.ToUpper(strings.TrimSpace(id))] = fm
	}
	symbols := make(map[string]uint16, len(o.Symbols))
	for k, reg := range o.Symbols {
		a, err := tagaddr.Parse(tagaddr.Normalize(k))
		if err != nil || !a.Symbolic() {
			return nil, errors.Wrapf(contract.ErrInvalidInput, "modbus: symbol %q is not a symbolic address", k)
		}
		symbols[strings.ToUpper(a.String())] = reg
	}
	cfg := &mb.ClientConfiguration{URL: o.URL, Timeout: time.Duration(o.TimeoutMS) * time.Millisecond}
	unit := uint8(o.UnitID)
	d := &Driver{url: o.URL, files: files, symbols: symbols}
	d.dial = func() (client, error) {
		c, err := mb.NewClient(cfg)
		if err != nil {
			return nil, errors.Wrap(contract.ErrInvalidInput, "modbus: "+err.Error())
		}
		if err := c.SetEncoding(mb.BIG_ENDIAN, mb.HIGH_WORD_FIRST); err != nil {
			return nil, errors.Wrap(contract.ErrInvalidInput, "modbus: "+err.Error())
		}
		if err := c.SetUnitId(unit); err != nil {
			return nil, errors.Wrap(contract.ErrInvalidInput, "modbus: "+err.Error())
		}
		if err := c.Open(); err != nil {
			return nil, errors.Wrapf(err, "modbus: open %s", o.URL)
		}
		return c, nil
	}
	return d, nil
}

// URL 返回实际连接地址。
func (d *Driver) URL() string { return d.url }

// conn 返回已建立的连接。调用方持锁。
func (d *Driver) conn(ctx context.Context) (client, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.closed {
		return nil, errors.Wrap(contract.ErrNotConnected, "modbus: driver closed")
	}
	if d.cl == nil {
		c, err := d.dial()
		if err != nil {
			return nil, err
		}
		d.cl = c
	}
	return d.cl, nil
}

// span 为地址解析后的寄存器区间。
type span struct {
	addr  tagaddr.Address
	reg   uint16
	count int
	float bool
}

func (d *Driver) resolve(address string) (span, error) {
	a, err := tagaddr.Parse(tagaddr.Normalize(address))
	if err != nil {
		return span{}, &Fault{Code: StatusIllegalAddress, Text: "illegal address", Tag: address}
	}
	if a.Symbolic() {
		reg, ok := d.symbols[strings.ToUpper(a.String())]
		if !ok {
			return span{}, &Fault{Code: StatusIllegalAddress, Text: "unmapped symbol", Tag: address}
		}
		return span{addr: a, reg: reg, count: 1}, nil
	}
	fm, ok := d.files[a.File]
	if !ok {
		return span{}, &Fault{Code: StatusIllegalAddress, Text: "unmapped file", Tag: address}
	}
	n := a.Elements()
	if fm.Size > 0 && a.Word+n > fm.Size {
		return span{}, &Fault{Code: StatusIllegalAddress, Text: "address out of range", Tag: address}
	}
	float := strings.HasPrefix(a.File, "F")
	width := 1
	if float {
		width = 2
	}
	if n*width > MaxRegisters {
		return span{}, &Fault{Code: StatusIllegalValue, Text: "request too large", Tag: address}
	}
	if a.Word > math.MaxUint16 {
		return span{}, &Fault{Code: StatusIllegalAddress, Text: "register out of range", Tag: address}
	}
	reg := int(fm.Base) + a.Word*width
	if reg+n*width-1 > math.MaxUint16 {
		return span{}, &Fault{Code: StatusIllegalAddress, Text: "register out of range", Tag: address}
	}
	return span{addr: a, reg: uint16(reg), count: n, float: float}, nil
}

// ReadTag 读取字、位、区间（F:N{C}）或已映射的符号地址。
func (d *Driver) ReadTag(ctx context.Context, address string) (contract.Result, error) {
	sp, err := d.resolve(address)
	if err != nil {
		return contract.Result{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	c, err := d.conn(ctx)
	if err != nil {
		return contract.Result{}, err
	}
	if sp.float {
		fs, err := c.ReadFloat32s(sp.reg, uint16(sp.count), mb.HOLDING_REGISTER)
		if err != nil {
			return contract.Result{}, mapErr(err, address, contract.ErrReadFailure)
		}
		if len(fs) != sp.count {
			return contract.Result{}, errors.Wrapf(contract.ErrResponseInvalid, "modbus: %d values for %s", len(fs), address)
		}
		if sp.addr.Count == 0 {
			return contract.Result{Tag: address, Value: real64(fs[0]), Type: "F"}, nil
		}
		vals := make([]any, len(fs))
		for i, f := range fs {
			vals[i] = real64(f)
		}
		return contract.Result{Tag: address, Value: vals, Type: "F"}, nil
	}
	regs, err := c.ReadRegisters(sp.reg, uint16(sp.count), mb.HOLDING_REGISTER)
	if err != nil {
		return contract.Result{}, mapErr(err, address, contract.ErrReadFailure)
	}
	if len(regs) != sp.count {
		return contract.Result{}, errors.Wrapf(contract.ErrResponseInvalid, "modbus: %d registers for %s", len(regs), address)
	}
	typ := typeName(sp.addr.File)
	switch {
	case sp.addr.HasBit():
		return contract.Result{Tag: address, Value: regs[0]&(1<<sp.addr.Bit) != 0, Type: "BOOL"}, nil
	case sp.addr.Symbolic(), sp.addr.Count == 0:
		return contract.Result{Tag: address, Value: int64(int16(regs[0])), Type: typ}, nil
	}
	vals := make([]any, len(regs))
	for i, r := range regs {
		vals[i] = int64(int16(r))
	}
	return contract.Result{Tag: address, Value: vals, Type: typ}, nil
}

// WriteTag 写入字、位（读-改-写）、区间（逗号分隔多个值）或已映射的符号地址。
func (d *Driver) WriteTag(ctx context.Context, address, value string) (contract.Result, error) {
	sp, err := d.resolve(address)
	if err != nil {
		return contract.Result{}, err
	}
	parts := []string{value}
	if sp.addr.Count > 0 {
		parts = strings.Split(value, ",")
		if len(parts) != sp.count {
			return contract.Result{}, &Fault{Code: StatusIllegalValue, Text: "value count mismatch", Tag: address}
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	c, err := d.conn(ctx)
	if err != nil {
		return contract.Result{}, err
	}
	if sp.addr.HasBit() {
		on, err := parseBit(value)
		if err != nil {
			return contract.Result{}, &Fault{Code: StatusIllegalValue, Text: "bad bit value", Tag: address}
		}
		regs, err := c.ReadRegisters(sp.reg, 1, mb.HOLDING_REGISTER)
		if err != nil {
			return contract.Result{}, mapErr(err, address, contract.ErrWriteFailure)
		}
		if len(regs) != 1 {
			return contract.Result{}, errors.Wrapf(contract.ErrResponseInvalid, "modbus: %d registers for %s", len(regs), address)
		}
		u := regs[0]
		if on {
			u |= 1 << sp.addr.Bit
		} else {
			u &^= 1 << sp.addr.Bit
		}
		if err := c.WriteRegister(sp.reg, u); err != nil {
			return contract.Result{}, mapErr(err, address, contract.ErrWriteFailure)
		}
		return contract.Result{Tag: address, Value: on, Type: "BOOL"}, nil
	}
	if sp.float {
		fs := make([]float32, len(parts))
		for i, p := range parts {
			f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
			if err != nil {
				return contract.Result{}, &Fault{Code: StatusIllegalValue, Text: "bad value", Tag: address}
			}
			fs[i] = float32(f)
		}
		if err := c.WriteFloat32s(sp.reg, fs); err != nil {
			return contract.Result{}, mapErr(err, address, contract.ErrWriteFailure)
		}
		if len(fs) == 1 {
			return contract.Result{Tag: address, Value: real64(fs[0]), Type: "F"}, nil
		}
		vals := make([]any, len(fs))
		for i, f := range fs {
			vals[i] = real64(f)
		}
		return contract.Result{Tag: address, Value: vals, Type: "F"}, nil
	}
	regs := make([]uint16, len(parts))
	for i, p := range parts {
		n, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil || n < math.MinInt16 || n > math.MaxUint16 {
			return contract.Result{}, &Fault{Code: StatusIllegalValue, Text: "bad value", Tag: address}
		}
		regs[i] = uint16(n)
	}
	if len(regs) == 1 {
		err = c.WriteRegister(sp.reg, regs[0])
	} else {
		err = c.WriteRegisters(sp.reg, regs)
	}
	if err != nil {
		return contract.Result{}, mapErr(err, address, contract.ErrWriteFailure)
	}
	typ := typeName(sp.addr.File)
	if len(regs) == 1 {
		return contract.Result{Tag: address, Value: int64(int16(regs[0])), Type: typ}, nil
	}
	vals := make([]any, len(regs))
	for i, r := range regs {
		vals[i] = int64(int16(r))
	}
	return contract.Result{Tag: address, Value: vals, Type: typ}, nil
}

// Close 关闭连接；之后的调用返回 ErrNotConnected。
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	if d.cl == nil {
		return nil
	}
	err := d.cl.Close()
	d.cl = nil
	return err
}

// mapErr 将库错误映射到引擎错误分类。
func mapErr(err error, tag string, failure error) error {
	switch {
	case errors.Is(err, mb.ErrIllegalFunction):
		return &Fault{Code: StatusIllegalFunction, Text: "illegal function", Tag: tag}
	case errors.Is(err, mb.ErrIllegalDataAddress):
		return &Fault{Code: StatusIllegalAddress, Text: "illegal data address", Tag: tag}
	case errors.Is(err, mb.ErrIllegalDataValue):
		return &Fault{Code: StatusIllegalValue, Text: "illegal data value", Tag: tag}
	case errors.Is(err, mb.ErrServerDeviceFailure):
		return &Fault{Code: StatusDeviceFailure, Text: "device failure", Tag: tag}
	case errors.Is(err, mb.ErrServerDeviceBusy):
		return errors.Wrapf(contract.ErrRateLimited, "modbus: device busy for %s", tag)
	case errors.Is(err, mb.ErrRequestTimedOut):
		return timeoutError{err: errors.Wrapf(err, "modbus: %s", tag)}
	case errors.Is(err, mb.ErrBadCRC),
		errors.Is(err, mb.ErrShortFrame),
		errors.Is(err, mb.ErrProtocolError),
		errors.Is(err, mb.ErrBadTransactionId),
		errors.Is(err, mb.ErrUnexpectedParameters):
		return errors.Wrapf(contract.ErrResponseInvalid, "modbus: %s: %v", tag, err)
	}
	return errors.Mark(errors.Wrapf(err, "modbus: %s", tag), failure)
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

func real64(f float32) float64 {
	v, _ := strconv.ParseFloat(strconv.FormatFloat(float64(f), 'g', -1, 32), 64)
	return v
}

func typeName(file string) string {
	switch {
	case strings.HasPrefix(file, "F"):
		return "F"
	case strings.HasPrefix(file, "B"):
		return "B"
	case file == "S":
		return "S"
	}
	return "N"
}
