package sim

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"plctags/pkg/contract"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, time.March, 9, 14, 5, 7, 0, time.Local)

func newDefault(t *testing.T) *Driver {
	t.Helper()
	d, err := NewWithOptions("10.0.0.5", Options{}, fixedNow)
	require.NoError(t, err)
	return d
}

func TestReadDefaults(t *testing.T) {
	d := newDefault(t)
	ctx := context.Background()
	res, err := d.ReadTag(ctx, "N7:0")
	require.NoError(t, err)
	assert.Equal(t, contract.Result{Tag: "N7:0", Value: int64(0), Type: "N"}, res)

	res, err = d.ReadTag(ctx, "S:37{6}")
	require.NoError(t, err)
	assert.Equal(t, []any{int64(2024), int64(3), int64(9), int64(14), int64(5), int64(7)}, res.Value)

	res, err = d.ReadTag(ctx, "T4:0.PRE")
	require.NoError(t, err)
	assert.Equal(t, int64(100), res.Value)

	res, err = d.ReadTag(ctx, "t4:0/DN")
	require.NoError(t, err)
	assert.Equal(t, false, res.Value)
	assert.Equal(t, "BOOL", res.Type)
	assert.Equal(t, "10.0.0.5", d.Host())
}

func TestWriteThenRead(t *testing.T) {
	d := newDefault(t)
	ctx := context.Background()
	_, err := d.WriteTag(ctx, "N7:3", "77")
	require.NoError(t, err)
	_, err = d.WriteTag(ctx, "B3/20", "1")
	require.NoError(t, err)
	_, err = d.WriteTag(ctx, "F8:1", "2.5")
	require.NoError(t, err)
	_, err = d.WriteTag(ctx, "N9:0{3}", "1,2,3")
	require.NoError(t, err)
	_, err = d.WriteTag(ctx, "N7:4/15", "true")
	require.NoError(t, err)

	res, err := d.ReadTag(ctx, "N7:3")
	require.NoError(t, err)
	assert.Equal(t, int64(77), res.Value)

	res, err = d.ReadTag(ctx, "B3:1")
	require.NoError(t, err)
	assert.Equal(t, int64(16), res.Value, "B3/20 = B3:1/4")

	res, err = d.ReadTag(ctx, "B3:1/4")
	require.NoError(t, err)
	assert.Equal(t, true, res.Value)

	res, err = d.ReadTag(ctx, "F8:0{2}")
	require.NoError(t, err)
	assert.Equal(t, []any{0.0, 2.5}, res.Value)

	res, err = d.ReadTag(ctx, "N9:0{3}")
	require.NoError(t, err)
	assert.Equal(t, []any{int64(1), int64(2), int64(3)}, res.Value)

	res, err = d.ReadTag(ctx, "N7:4")
	require.NoError(t, err)
	assert.Equal(t, int64(-32768), res.Value, "16 位补码")

	reads, writes := d.Calls()
	assert.Equal(t, 6, reads)
	assert.Equal(t, 5, writes)
}

func TestFaults(t *testing.T) {
	d := newDefault(t)
	ctx := context.Background()
	cases := map[string]int{
		"N99:0":      StatusIllegalAddress,
		"N7:256":     StatusOutOfRange,
		"N7:250{10}": StatusOutOfRange,
		"T4:9.ACC":   StatusIllegalAddress,
		"N7:":        StatusIllegalAddress,
	}
	for addr, code := range cases {
		_, err := d.ReadTag(ctx, addr)
		var se contract.StatusError
		require.True(t, errors.As(err, &se), "addr=%s err=%v", addr, err)
		assert.Equal(t, code, se.Status(), addr)
		assert.NotEmpty(t, se.StatusText())
	}

	_, err := d.WriteTag(ctx, "N7:0", "abc")
	var se contract.StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, StatusBadValue, se.Status())
	_, err = d.WriteTag(ctx, "N7:0", "70000")
	require.True(t, errors.As(err, &se))
	_, err = d.WriteTag(ctx, "N7:0{2}", "1")
	require.True(t, errors.As(err, &se))
	_, err = d.WriteTag(ctx, "B3:0/1", "maybe")
	require.True(t, errors.As(err, &se))
}

func TestMaxElements(t *testing.T) {
	d, err := NewWithOptions("h", Options{MaxElements: 4}, fixedNow)
	require.NoError(t, err)
	_, err = d.ReadTag(context.Background(), "N7:0{5}")
	var se contract.StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, StatusTooLarge, se.Status())
	_, err = d.ReadTag(context.Background(), "N7:0{4}")
	assert.NoError(t, err)
}

func TestMemoryFileYAML(t *testing.T) {
	p := filepath.Join(t.TempDir(), "mem.yaml")
	require.NoError(t, os.WriteFile(p, []byte(`
files:
  n7: [5, 6, 7]
  F8: [1.25]
  ST9: ["HELLO"]
sizes:
  N7: 10
symbols:
  "T4:0.ACC": 42
`), 0o644))
	raw, _ := json.Marshal(Options{MemoryFile: p})
	d, err := New("h", raw)
	require.NoError(t, err)
	ctx := context.Background()
	res, err := d.ReadTag(ctx, "N7:0{10}")
	require.NoError(t, err)
	assert.Len(t, res.Value, 10)
	res, err = d.ReadTag(ctx, "F8:0")
	require.NoError(t, err)
	assert.Equal(t, 1.25, res.Value)
	res, err = d.ReadTag(ctx, "ST9:0")
	require.NoError(t, err)
	assert.Equal(t, "HELLO", res.Value)
	res, err = d.ReadTag(ctx, "T4:0.ACC")
	require.NoError(t, err)
	assert.Equal(t, int64(42), res.Value)
}

func TestInlineImageJSON(t *testing.T) {
	d, err := New("h", json.RawMessage(`{"image":{"files":{"N7":[1,2]},"symbols":{"C5:0.ACC":3}}}`))
	require.NoError(t, err)
	res, err := d.ReadTag(context.Background(), "N7:1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Value)
}

func TestOptionErrors(t *testing.T) {
	_, err := New("h", json.RawMessage(`{bad`))
	assert.True(t, errors.Is(err, contract.ErrInvalidInput))
	_, err = NewWithOptions("h", Options{MemoryFile: "x", Image: &Image{}}, fixedNow)
	assert.True(t, errors.Is(err, contract.ErrInvalidInput))
	_, err = NewWithOptions("h", Options{MemoryFile: filepath.Join(t.TempDir(), "none.yaml")}, fixedNow)
	assert.True(t, errors.Is(err, os.ErrNotExist))
	_, err = NewWithOptions("h", Options{Image: &Image{Files: map[string][]any{"N7": {"x"}}}}, fixedNow)
	assert.True(t, errors.Is(err, contract.ErrInvalidInput))
	_, err = NewWithOptions("h", Options{Image: &Image{Symbols: map[string]any{"nocolon": 1}}}, fixedNow)
	assert.True(t, errors.Is(err, contract.ErrInvalidInput))
}

func TestLatencyHonorsContext(t *testing.T) {
	d, err := NewWithOptions("h", Options{LatencyMS: 5000}, fixedNow)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = d.ReadTag(ctx, "N7:0")
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestClosed(t *testing.T) {
	d := newDefault(t)
	require.NoError(t, d.Close())
	_, err := d.ReadTag(context.Background(), "N7:0")
	assert.True(t, errors.Is(err, contract.ErrNotConnected))
	_, err = d.WriteTag(context.Background(), "N7:0", "1")
	assert.True(t, errors.Is(err, contract.ErrNotConnected))
}

func TestConcurrentAccess(t *testing.T) {
	d := newDefault(t)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = d.WriteTag(context.Background(), "N7:1", "1")
			_, _ = d.ReadTag(context.Background(), "N7:0{8}")
		}()
	}
	wg.Wait()
	r, w := d.Calls()
	assert.Equal(t, 16, r)
	assert.Equal(t, 16, w)
}
