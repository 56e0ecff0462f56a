package diag

import (
	"bytes"
	"context"
	"encoding/json"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"plctags/pkg/contract"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// UT-DIAG-01: 日志轮转写入
func TestRotatingFile(t *testing.T) {
	dir := t.TempDir()
	w := NewRotatingFile(dir, 30)
	require.NoError(t, w.WriteLine([]byte("first line that is very long")))
	require.NoError(t, w.WriteLine([]byte("second")))
	files, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(files), 2, "应存在轮转文件")
	require.NoError(t, w.Close())
}

func TestRotatingFileNames(t *testing.T) {
	dir := t.TempDir()
	w := NewRotatingFile(dir, 10)
	for i := 0; i < 5; i++ {
		require.NoError(t, w.WriteLine([]byte("xxxxxxxxxxxxxxxxxx")))
	}
	require.NoError(t, w.Sync())
	ents, err := os.ReadDir(dir)
	require.NoError(t, err)
	var current, rotated bool
	for _, e := range ents {
		switch {
		case e.Name() == "plctags-current.txt":
			current = true
		case strings.HasPrefix(e.Name(), "plctags-") && strings.HasSuffix(e.Name(), ".txt"):
			rotated = true
		}
	}
	assert.True(t, current, "缺少 current 文件")
	assert.True(t, rotated, "缺少轮转文件")
	require.NoError(t, w.Close())
	require.NoError(t, w.Close(), "重复关闭应为 no-op")
}

func TestRotatingFileRotateWithoutOpen(t *testing.T) {
	dir := t.TempDir()
	w := NewRotatingFile(dir, 0)
	assert.EqualValues(t, 10*1024*1024, w.maxBytes)
	require.NoError(t, w.rotate())
	require.NotNil(t, w.f)
	require.NoError(t, w.Close())
}

// UT-DIAG-02: 指标计数
func TestMetrics(t *testing.T) {
	ResetMetrics()
	IncOp("driver", "read", "success")
	IncOp("driver", "read", "success")
	IncError("driver", string(CodeDevice))
	ObserveDuration("driver", "read", 7)
	ObserveDuration("driver", "read", 3)

	assert.EqualValues(t, 2, MetricValue("op_total", "driver", "read", "success"))
	assert.EqualValues(t, 1, MetricValue("error_total", "driver", "device"))
	assert.EqualValues(t, 10, MetricValue("op_duration_ms", "driver", "read"))
	snap := MetricsSnapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "error_total{driver,device}", snap[0].Name)
	ResetMetrics()
	assert.Empty(t, MetricsSnapshot())
}

type fakeStatus struct{ code int }

func (f fakeStatus) Error() string      { return "status" }
func (f fakeStatus) Status() int        { return f.code }
func (f fakeStatus) StatusText() string { return "illegal address" }

// 错误分类
func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want Code
	}{
		{nil, CodeUnknown},
		{contract.ErrResponseInvalid, CodeProtocol},
		{errors.Wrap(contract.ErrRateLimited, "busy"), CodeBudget},
		{context.Canceled, CodeCancel},
		{errors.Wrap(context.DeadlineExceeded, "read"), CodeCancel},
		{contract.ErrMalformedAddress, CodeAddress},
		{errors.Wrap(fakeStatus{code: 6}, "N7:0"), CodeDevice},
		{contract.ErrReadFailure, CodeDevice},
		{contract.ErrNotConnected, CodeInvariant},
		{contract.ErrPathInvalid, CodeInvariant},
		{&fs.PathError{Op: "open", Path: "/", Err: errors.New("x")}, CodeIO},
		{&net.DNSError{Err: "x"}, CodeNetwork},
		{errors.New("other"), CodeUnknown},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, Classify(c.err), "err=%v", c.err)
	}
	assert.True(t, Retryable(CodeBudget))
	assert.True(t, Retryable(CodeProtocol))
	assert.False(t, Retryable(CodeDevice))
	assert.False(t, Retryable(CodeCancel))
}

func TestStatusKV(t *testing.T) {
	kv := StatusKV(errors.Wrap(fakeStatus{code: 0x0a}, "write"))
	assert.Equal(t, map[string]string{"status": "0x0A", "status_text": "illegal address"}, kv)
	assert.Nil(t, StatusKV(errors.New("x")))
}

// Logger: JSON 单行事件
func TestLoggerEvents(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerTo(&buf, "corr", "debug")
	tm := l.StartWithKV("driver", "read", "a.txt", "N7:0{10}", map[string]string{"k": "v"})
	tm.Finish("ok", 10)
	l.ErrorWithKV("driver", "device", "boom", tm.Since(), "a.txt", "N7:0{10}", map[string]string{"status": "0x06"})
	l.Warn("batch", "malformed", "bad tag", "a.txt", nil)
	l.DebugStart("batch", "plan", "a.txt", "", nil)
	require.NoError(t, l.Close())

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 5)
	var ev map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &ev))
	assert.Equal(t, "info", ev["level"])
	assert.Equal(t, "corr", ev["corr_id"])
	assert.Equal(t, "driver", ev["comp"])
	assert.Equal(t, "start", ev["stage"])
	assert.Equal(t, "N7:0{10}", ev["batch_id"])
	assert.Equal(t, map[string]any{"k": "v"}, ev["kv"])

	require.NoError(t, json.Unmarshal([]byte(lines[1]), &ev))
	assert.Equal(t, "finish", ev["stage"])
	assert.EqualValues(t, 10, ev["count"])

	require.NoError(t, json.Unmarshal([]byte(lines[2]), &ev))
	assert.Equal(t, "error", ev["level"])
	assert.Equal(t, "device", ev["code"])
}

func TestLoggerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerTo(&buf, "c", "warn")
	l.Start("comp", "msg").Finish("ok", 1)
	l.DebugStart("comp", "msg", "", "", nil)
	assert.Empty(t, buf.String(), "info/debug 应被过滤")
	l.Error("comp", "io", "msg", nil)
	assert.Contains(t, buf.String(), `"stage":"error"`)

	assert.Equal(t, "warn", Warn.String())
	assert.Equal(t, "info", Level(12345).String())
	assert.Equal(t, Debug, parseLevel("DEBUG"))
	assert.Equal(t, Info, parseLevel("bogus"))
}

func TestLoggerNilSafe(t *testing.T) {
	var l *Logger
	l.Start("c", "m").Finish("x", 0)
	l.Error("c", "x", "m", nil)
	assert.NoError(t, l.Close())
	assert.NotNil(t, l.Zap())
	var tn *Timer
	tn.Finish("x", 0)
	assert.Nil(t, tn.Since())
	NewNop().Error("c", "x", "m", nil)
}

func TestLoggerWithFileSink(t *testing.T) {
	t.Chdir(t.TempDir())
	l := NewLogger(NewCorrID(), "info")
	l.Start("comp", "msg").Finish("ok", 1)
	require.NoError(t, l.Close())
	b, err := os.ReadFile(filepath.Join("logs", "plctags-current.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(b), `"comp":"comp"`)
}

func TestNewCorrIDUnique(t *testing.T) {
	a, b := NewCorrID(), NewCorrID()
	assert.Len(t, a, 36)
	assert.NotEqual(t, a, b)
}

// UT-DIAG-03: 终端（非 TTY）关键节点输出
func TestTerminalNonTTYFlow(t *testing.T) {
	var sb strings.Builder
	term := NewTerminal(&sb, true)
	require.False(t, term.isTTY)
	term.RunStart(4, "sim@10.0.0.5")
	term.FileStart("lists/line1.txt", 12)
	term.FileProgress(6, 12, 0) // 非 TTY 不输出进度
	term.FileFinish(true, 5100*time.Millisecond)
	term.RunFinish(true, 41300*time.Millisecond)

	out := sb.String()
	assert.NotContains(t, out, "\r")
	assert.Contains(t, out, "[run] 并发=4 | plc=sim@10.0.0.5")
	assert.Contains(t, out, "[file] line1.txt | 计划请求=12")
	assert.Contains(t, out, "[done] line1.txt | 请求 12 | 总用时 5.1s")
	assert.Contains(t, out, "[ok] 全部完成 | 文件 1 | 总用时 41.3s")
}

// UT-DIAG-04: 终端（TTY）进度节流与清尾
func TestTerminalTTYProgressThrottleAndClear(t *testing.T) {
	var sb strings.Builder
	term := NewTerminal(&sb, true)
	term.isTTY = true
	term.RunStart(2, "sim")
	term.FileStart("/a/b/c/longfilename.txt", 3)

	term.FileProgress(1, 3, 0)
	first := sb.String()
	assert.Contains(t, first, "\r[")
	term.FileProgress(2, 3, 1)
	assert.Equal(t, first, sb.String(), "100ms 内应节流")
	time.Sleep(120 * time.Millisecond)
	term.FileProgress(2, 3, 1)
	assert.Greater(t, len(sb.String()), len(first))

	term.FileFinish(false, 2200*time.Millisecond)
	final := sb.String()
	idx := strings.LastIndex(final, "[fail]")
	require.GreaterOrEqual(t, idx, 0)
	seg := final[:idx]
	cr := strings.LastIndex(seg, "\r")
	require.GreaterOrEqual(t, cr, 0)
	assert.Contains(t, seg[cr+1:], " ", "清尾应写入空格")
}

// UT-DIAG-05: 写失败降级为禁用态
type flakyWriter struct{ fail bool }

func (w *flakyWriter) Write(p []byte) (int, error) {
	if w.fail {
		w.fail = false
		return 0, errors.New("boom")
	}
	return len(p), nil
}

func TestTerminalDisableOnWriteError(t *testing.T) {
	term := NewTerminal(&flakyWriter{fail: true}, true)
	term.RunStart(1, "x")
	assert.False(t, term.enabled)
	term.FileStart("a", 0)
	term.FileProgress(0, 0, 0)
	term.FileFinish(true, 0)
	term.RunFinish(true, 0)

	term = NewTerminal(&flakyWriter{fail: true}, true)
	term.isTTY = true
	term.FileStart("f.txt", 2)
	term.FileProgress(1, 2, 0)
	assert.False(t, term.enabled, "inline 写失败应禁用")
}

func TestTerminalNilAndCI(t *testing.T) {
	var tn *Terminal
	tn.RunStart(1, "x")
	tn.FileStart("a", 1)
	tn.FileProgress(0, 0, 0)
	tn.FileFinish(true, 0)
	tn.RunFinish(true, 0)

	t.Setenv("CI", "true")
	assert.False(t, IsTerminal(os.Stderr))
	assert.False(t, NewTerminal(os.Stderr, true).isTTY)
}

// UT-DIAG-06: 工具函数
func TestHelpers(t *testing.T) {
	assert.Equal(t, "abcdefghi…", shortenBase("/x/y/abcdefghijklmnop.txt", 10))
	assert.Equal(t, "", shortenBase("x", 0))
	assert.Equal(t, "a b c", safe("a\nb\rc"))
	assert.Equal(t, "0ms", formatDur(0))
	assert.Equal(t, "1.5s", formatDur(1500*time.Millisecond))
	SetTerminal(nil)
	assert.Nil(t, GetTerminal())
	SetTerminal(NewTerminal(os.Stderr, false))
	assert.NotNil(t, GetTerminal())
	SetTerminal(nil)
	assert.NotEmpty(t, NowUTC())
}
