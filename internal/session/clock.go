package session

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"plctags/pkg/contract"

	"github.com/cockroachdb/errors"
)

// 控制器时钟位于状态文件 S:37..S:42（年、月、日、时、分、秒）。
var clockTags = []string{"S:37", "S:38", "S:39", "S:40", "S:41", "S:42"}

// PLCTime 为控制器时钟。
type PLCTime struct {
	Year, Month, Day, Hour, Minute, Second int
}

// FromTime 取本地时间的各字段。
func FromTime(t time.Time) PLCTime {
	return PLCTime{t.Year(), int(t.Month()), t.Day(), t.Hour(), t.Minute(), t.Second()}
}

// String 渲染为 M/D/YYYY H:MM:SS。
func (p PLCTime) String() string {
	return fmt.Sprintf("%d/%d/%d %d:%02d:%02d", p.Month, p.Day, p.Year, p.Hour, p.Minute, p.Second)
}

func (p PLCTime) words() []int {
	return []int{p.Year, p.Month, p.Day, p.Hour, p.Minute, p.Second}
}

// GetTime 以一次合并请求（S:37{6}）读取控制器时钟。
func (s *Session) GetTime(ctx context.Context) ([]Reading, PLCTime, error) {
	rs, err := s.Read(ctx, clockTags...)
	if err != nil {
		return nil, PLCTime{}, err
	}
	vals := make([]int, len(rs))
	for i, r := range rs {
		if r.Err != nil {
			return rs, PLCTime{}, errors.Wrapf(r.Err, "plc time")
		}
		if r.Value.Kind != contract.KindInt {
			return rs, PLCTime{}, errors.Wrapf(contract.ErrResponseInvalid, "plc time: %s=%s", r.Tag, r.Value)
		}
		vals[i] = int(r.Value.Int)
	}
	return rs, PLCTime{vals[0], vals[1], vals[2], vals[3], vals[4], vals[5]}, nil
}

// SetTime 将 t 写入控制器时钟；t 为零值时取 Session.Now()。
func (s *Session) SetTime(ctx context.Context, t time.Time) (PLCTime, error) {
	if t.IsZero() {
		t = s.Now()
	}
	p := FromTime(t)
	for i, w := range p.words() {
		rd, err := s.Write(ctx, clockTags[i], strconv.Itoa(w))
		if err != nil {
			return PLCTime{}, err
		}
		if rd.Err != nil {
			return PLCTime{}, errors.Wrap(rd.Err, "set plc time")
		}
	}
	return p, nil
}

// RenderTime 按当前格式输出时钟：raw/minimal 逐字输出，readable 为 M/D/YYYY H:MM:SS。
func (s *Session) RenderTime(w io.Writer, rs []Reading, p PLCTime) error {
	if s.format == FormatReadable {
		_, err := fmt.Fprintln(w, p.String())
		return err
	}
	return s.Render(w, rs)
}
