package modbus

import (
	"context"
	"math"
	"net"
	"sync"
	"testing"

	"plctags/pkg/contract"

	"github.com/cockroachdb/errors"
	mb "github.com/simonvetter/modbus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClient 以寄存器数组模拟设备；fail 非空时所有调用返回该错误。
type fakeClient struct {
	mu     sync.Mutex
	regs   [2048]uint16
	fail   error
	opened int
	closed bool
	calls  []string
}

func (f *fakeClient) Open() error  { f.opened++; return nil }
func (f *fakeClient) Close() error { f.closed = true; return nil }

func (f *fakeClient) ReadRegisters(addr, qty uint16, _ mb.RegType) ([]uint16, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "read")
	if f.fail != nil {
		return nil, f.fail
	}
	if int(addr)+int(qty) > len(f.regs) {
		return nil, mb.ErrIllegalDataAddress
	}
	return append([]uint16(nil), f.regs[addr:int(addr)+int(qty)]...), nil
}

func (f *fakeClient) ReadFloat32s(addr, qty uint16, rt mb.RegType) ([]float32, error) {
	regs, err := f.ReadRegisters(addr, qty*2, rt)
	if err != nil {
		return nil, err
	}
	out := make([]float32, qty)
	for i := range out {
		out[i] = math.Float32frombits(uint32(regs[2*i])<<16 | uint32(regs[2*i+1]))
	}
	return out, nil
}

func (f *fakeClient) WriteRegister(addr, v uint16) error {
	return f.WriteRegisters(addr, []uint16{v})
}

func (f *fakeClient) WriteRegisters(addr uint16, vs []uint16) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "write")
	if f.fail != nil {
		return f.fail
	}
	copy(f.regs[addr:], vs)
	return nil
}

func (f *fakeClient) WriteFloat32s(addr uint16, vs []float32) error {
	regs := make([]uint16, 0, 2*len(vs))
	for _, v := range vs {
		b := math.Float32bits(v)
		regs = append(regs, uint16(b>>16), uint16(b))
	}
	return f.WriteRegisters(addr, regs)
}

func newFake(t *testing.T) (*Driver, *fakeClient) {
	t.Helper()
	d, err := NewWithOptions("10.0.0.5", Options{
		Files: map[string]FileMap{
			"n7": {Base: 0, Size: 256},
			"B3": {Base: 300, Size: 32},
			"F8": {Base: 1000},
		},
		Symbols: map[string]uint16{"t4:0.acc": 500},
	})
	require.NoError(t, err)
	fc := &fakeClient{}
	d.dial = func() (client, error) { require.NoError(t, fc.Open()); return fc, nil }
	return d, fc
}

func TestNewDefaults(t *testing.T) {
	d, err := New("192.168.1.10", []byte(`{"files":{"N7":{"base":0}}}`))
	require.NoError(t, err)
	assert.Equal(t, "tcp://192.168.1.10:502", d.URL())

	d, err = New("ignored", []byte(`{"url":"tcp://plc:1502","files":{"N7":{"base":0}}}`))
	require.NoError(t, err)
	assert.Equal(t, "tcp://plc:1502", d.URL())
}

func TestNewErrors(t *testing.T) {
	cases := []struct {
		name string
		host string
		raw  string
		want error
	}{
		{"no host", "", `{"files":{"N7":{"base":0}}}`, contract.ErrNotConnected},
		{"no files", "10.0.0.5", `{}`, contract.ErrInvalidInput},
		{"unit id", "10.0.0.5", `{"unit_id":300,"files":{"N7":{"base":0}}}`, contract.ErrInvalidInput},
		{"bad json", "10.0.0.5", `{"files":`, contract.ErrInvalidInput},
		{"numeric symbol", "10.0.0.5", `{"files":{"N7":{"base":0}},"symbols":{"N7:0":1}}`, contract.ErrInvalidInput},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(tc.host, []byte(tc.raw))
			require.Error(t, err)
			assert.True(t, errors.Is(err, tc.want), "got %v", err)
		})
	}
}

func TestReadMapping(t *testing.T) {
	d, fc := newFake(t)
	ctx := context.Background()
	fc.regs[0], fc.regs[1], fc.regs[2] = 5, 0xFFFF, 7
	fc.regs[301] = 1 << 4
	fc.regs[500] = 42
	b := math.Float32bits(2.25)
	fc.regs[1002], fc.regs[1003] = uint16(b>>16), uint16(b)

	res, err := d.ReadTag(ctx, "N7:0{3}")
	require.NoError(t, err)
	assert.Equal(t, contract.Result{Tag: "N7:0{3}", Value: []any{int64(5), int64(-1), int64(7)}, Type: "N"}, res)

	res, err = d.ReadTag(ctx, "n7:2")
	require.NoError(t, err)
	assert.Equal(t, int64(7), res.Value)

	res, err = d.ReadTag(ctx, "B3:1/4")
	require.NoError(t, err)
	assert.Equal(t, contract.Result{Tag: "B3:1/4", Value: true, Type: "BOOL"}, res)

	res, err = d.ReadTag(ctx, "F8:1")
	require.NoError(t, err)
	assert.Equal(t, contract.Result{Tag: "F8:1", Value: 2.25, Type: "F"}, res)

	res, err = d.ReadTag(ctx, "F8:0{2}")
	require.NoError(t, err)
	assert.Equal(t, []any{0.0, 2.25}, res.Value)

	res, err = d.ReadTag(ctx, "T4:0.ACC")
	require.NoError(t, err)
	assert.Equal(t, int64(42), res.Value)

	assert.Equal(t, 1, fc.opened, "connection opened once")
}

func TestResolveFaults(t *testing.T) {
	d, fc := newFake(t)
	ctx := context.Background()
	for tag, code := range map[string]int{
		"N9:0":          StatusIllegalAddress, // 未映射文件
		"N7:250{7}":     StatusIllegalAddress, // 越界
		"T4:1.PRE":      StatusIllegalAddress, // 未映射符号
		"N7:0{126}":     StatusIllegalValue,   // 超出单次寄存器上限
		"F8:0{63}":      StatusIllegalValue,   // 126 个寄存器
		"bogus!":        StatusIllegalAddress,
		"F8:40000":      StatusIllegalAddress, // 寄存器地址越过 65535
		"F8:2147483647": StatusIllegalAddress,
	} {
		_, err := d.ReadTag(ctx, tag)
		var f *Fault
		require.True(t, errors.As(err, &f), "%s: %v", tag, err)
		assert.Equal(t, code, f.Status(), tag)
	}
	assert.Empty(t, fc.calls, "faults are raised before any request")
}

func TestWrite(t *testing.T) {
	d, fc := newFake(t)
	ctx := context.Background()

	res, err := d.WriteTag(ctx, "N7:10", "-2")
	require.NoError(t, err)
	assert.Equal(t, int64(-2), res.Value)
	assert.Equal(t, uint16(0xFFFE), fc.regs[10])

	_, err = d.WriteTag(ctx, "N7:0{3}", "1,2,3")
	require.NoError(t, err)
	assert.Equal(t, []uint16{1, 2, 3}, fc.regs[0:3])

	fc.regs[302] = 0x0001
	res, err = d.WriteTag(ctx, "B3:2/3", "on")
	require.NoError(t, err)
	assert.Equal(t, true, res.Value)
	assert.Equal(t, uint16(0x0009), fc.regs[302])

	res, err = d.WriteTag(ctx, "F8:5", "12.5")
	require.NoError(t, err)
	assert.Equal(t, 12.5, res.Value)
	got, err := d.ReadTag(ctx, "F8:5")
	require.NoError(t, err)
	assert.Equal(t, 12.5, got.Value)

	for tag, val := range map[string]string{"N7:1": "x", "N7:1{2}": "1", "B3:0/1": "maybe", "N7:2": "70000"} {
		_, err := d.WriteTag(ctx, tag, val)
		var f *Fault
		require.True(t, errors.As(err, &f), "%s=%s: %v", tag, val, err)
		assert.Equal(t, StatusIllegalValue, f.Status())
	}
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		lib   error
		check func(t *testing.T, err error)
	}{
		{mb.ErrIllegalDataAddress, func(t *testing.T, err error) {
			var f *Fault
			require.True(t, errors.As(err, &f))
			assert.Equal(t, StatusIllegalAddress, f.Status())
		}},
		{mb.ErrServerDeviceBusy, func(t *testing.T, err error) {
			assert.True(t, errors.Is(err, contract.ErrRateLimited))
		}},
		{mb.ErrRequestTimedOut, func(t *testing.T, err error) {
			var ne net.Error
			require.True(t, errors.As(err, &ne))
			assert.True(t, ne.Timeout())
		}},
		{mb.ErrBadCRC, func(t *testing.T, err error) {
			assert.True(t, errors.Is(err, contract.ErrResponseInvalid))
		}},
		{errors.New("connection reset"), func(t *testing.T, err error) {
			assert.True(t, errors.Is(err, contract.ErrReadFailure))
		}},
	}
	for _, tc := range cases {
		t.Run(tc.lib.Error(), func(t *testing.T) {
			d, fc := newFake(t)
			fc.fail = tc.lib
			_, err := d.ReadTag(context.Background(), "N7:0")
			require.Error(t, err)
			tc.check(t, err)
		})
	}
}

func TestCloseAndCancel(t *testing.T) {
	d, fc := newFake(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := d.ReadTag(ctx, "N7:0")
	assert.ErrorIs(t, err, context.Canceled)

	_, err = d.ReadTag(context.Background(), "N7:0")
	require.NoError(t, err)
	require.NoError(t, d.Close())
	assert.True(t, fc.closed)
	_, err = d.ReadTag(context.Background(), "N7:0")
	assert.True(t, errors.Is(err, contract.ErrNotConnected))
}
