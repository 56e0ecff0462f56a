// Package session 维护交互式/单命令模式下的控制器会话：目标地址、输出格式与读写操作。
package session

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"plctags/internal/diag"
	"plctags/internal/pipeline"
	"plctags/internal/rate"
	"plctags/pkg/batch"
	"plctags/pkg/contract"
	"plctags/pkg/tagaddr"

	"github.com/cockroachdb/errors"
)

// Format 为输出格式。
type Format string

const (
	FormatRaw      Format = "raw"      // tag, value, type, error
	FormatReadable Format = "readable" // 仅值
	FormatMinimal  Format = "minimal"  // tag=value
)

// ParseFormat 解析输出格式（大小写不敏感）。
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatRaw, FormatReadable, FormatMinimal:
		return f, nil
	}
	return "", errors.WithHint(
		errors.Wrapf(contract.ErrInvalidInput, "output format %q", s),
		"use raw, readable or minimal")
}

// NotConnectedMessage 为未指定控制器地址时的提示文本。
const NotConnectedMessage = "ERROR - No IPAddress specified.  Use IPAddress command."

// Config 为会话依赖。
type Config struct {
	DriverName  string // 用于限流分组键
	Open        func(host string) (contract.Driver, error)
	Batcher     contract.Batcher
	Decoder     contract.Decoder
	Limit       contract.BatchLimit
	Concurrency int
	MaxRetries  int
	Gate        rate.Gate
	Logger      *diag.Logger
}

// Session 持有当前控制器连接与输出格式；非并发安全（单个 shell 使用）。
type Session struct {
	cfg    Config
	host   string
	drv    contract.Driver
	format Format
	// Now 为 SetTime 默认时钟。
	Now func() time.Time
}

// New 创建会话；host 可为空，稍后通过 Connect 指定。
func New(cfg Config, host string, format Format) *Session {
	if format == "" {
		format = FormatRaw
	}
	return &Session{cfg: cfg, host: strings.TrimSpace(host), format: format, Now: time.Now}
}

// Host 返回当前控制器地址（可能为空）。
func (s *Session) Host() string { return s.host }

// Format 返回当前输出格式。
func (s *Session) Format() Format { return s.format }

// SetFormat 切换输出格式。
func (s *Session) SetFormat(f Format) { s.format = f }

// Connect 切换目标控制器；旧连接被关闭，新连接在首次使用时建立。
func (s *Session) Connect(host string) error {
	host = strings.TrimSpace(host)
	if host == "" {
		return errors.Wrap(contract.ErrInvalidInput, "empty controller address")
	}
	err := s.Close()
	s.host = host
	return err
}

// Close 关闭当前驱动（若已建立）。
func (s *Session) Close() error {
	if s.drv == nil {
		return nil
	}
	err := s.drv.Close()
	s.drv = nil
	return err
}

func (s *Session) driver() (contract.Driver, error) {
	if s.host == "" {
		return nil, errors.WithHint(errors.WithStack(contract.ErrNotConnected), "use the ipaddress command or --host")
	}
	if s.drv != nil {
		return s.drv, nil
	}
	if s.cfg.Open == nil {
		return nil, errors.Wrap(contract.ErrInvariantViolation, "session: no driver factory")
	}
	drv, err := s.cfg.Open(s.host)
	if err != nil {
		return nil, errors.Wrapf(err, "connect %s", s.host)
	}
	s.drv = drv
	return drv, nil
}

func (s *Session) settings() pipeline.Settings {
	key, _ := rate.DeriveKey(s.cfg.DriverName, s.host)
	return pipeline.Settings{
		Concurrency: s.cfg.Concurrency,
		MaxRetries:  s.cfg.MaxRetries,
		Gate:        s.cfg.Gate,
		GateKey:     key,
		Limit:       s.cfg.Limit,
	}
}

// Reading 为单个标签的读写结果。
type Reading struct {
	Tag   string
	Value contract.ResolvedValue
	Type  string
	Err   error
}

// Read 经合并批处理读取一组标签；结果顺序与输入一致，单标签失败体现在 Reading.Err。
func (s *Session) Read(ctx context.Context, tags ...string) ([]Reading, error) {
	drv, err := s.driver()
	if err != nil {
		return nil, err
	}
	if s.cfg.Batcher == nil || s.cfg.Decoder == nil {
		return nil, errors.Wrap(contract.ErrInvariantViolation, "session: missing batcher or decoder")
	}
	const fid = contract.FileID("session")
	recs := make([]contract.Record, 0, len(tags))
	for _, t := range tags {
		if t = strings.TrimSpace(t); t != "" {
			recs = append(recs, contract.Record{Index: contract.Index(len(recs)), FileID: fid, Text: t})
		}
	}
	plan, err := s.cfg.Batcher.Plan(ctx, recs, s.cfg.Limit)
	if err != nil {
		return nil, err
	}
	set := s.settings()
	ex := &pipeline.Executor{
		Driver: drv, Decoder: s.cfg.Decoder,
		Concurrency: set.Concurrency, MaxRetries: set.MaxRetries,
		Gate: set.Gate, GateKey: set.GateKey, Logger: s.cfg.Logger,
	}
	results, err := ex.Fetch(ctx, fid, plan.Requests, nil)
	if err != nil {
		return nil, err
	}
	bs := batch.ResolveAll(contract.Texts(recs), results)
	out := make([]Reading, len(bs))
	for i, b := range bs {
		out[i] = Reading{Tag: b.Tag, Value: b.Value, Type: typeOf(b.Tag), Err: b.Err}
		if out[i].Err == nil {
			switch b.Value.Kind {
			case contract.KindError:
				out[i].Err = failureFor(b.Tag, results)
			case contract.KindNone:
				out[i].Err = errors.Wrapf(contract.ErrNotCovered, "%s", b.Tag)
			}
		}
	}
	return out, nil
}

// failureFor 找出覆盖 tag 的失败请求的错误。
func failureFor(tag string, results []contract.BatchResult) error {
	a, err := tagaddr.Parse(tagaddr.Normalize(tag))
	if err == nil {
		for _, r := range results {
			if !r.Failed() || !strings.EqualFold(r.Request.File, a.File) {
				continue
			}
			if (a.Symbolic() && strings.EqualFold(r.Request.Symbol, a.Symbol)) || (!a.Symbolic() && r.Request.Covers(a.Word)) {
				return r.Err
			}
		}
	}
	return errors.Wrapf(contract.ErrReadFailure, "%s", tag)
}

// Write 写入单个标签。
func (s *Session) Write(ctx context.Context, tag, value string) (Reading, error) {
	tag, value = strings.TrimSpace(tag), strings.TrimSpace(value)
	if _, _, err := pipeline.SplitAssignment(tag + "=" + value); err != nil {
		return Reading{}, err
	}
	drv, err := s.driver()
	if err != nil {
		return Reading{}, err
	}
	rd := Reading{Tag: tag, Value: contract.TextValue(value), Type: typeOf(tag)}
	if err := pipeline.WriteOne(ctx, drv, s.settings(), s.cfg.Logger, "session", tag, value); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return Reading{}, err
		}
		rd.Value, rd.Err = contract.ErrorValue(), err
	}
	return rd, nil
}

// typeOf 取数据文件的类型字母（N7 → N，ST9 → ST）。
func typeOf(tag string) string {
	a, err := tagaddr.Parse(tagaddr.Normalize(tag))
	if err != nil {
		return "?"
	}
	return strings.TrimRight(a.File, "0123456789")
}

// Render 按当前格式输出读写结果。
func (s *Session) Render(w io.Writer, rs []Reading) error {
	for _, r := range rs {
		var line string
		switch s.format {
		case FormatReadable:
			line = r.Value.String()
		case FormatMinimal:
			line = r.Tag + "=" + r.Value.String()
		default:
			errText := "None"
			if r.Err != nil {
				errText = r.Err.Error()
			}
			line = fmt.Sprintf("%s, %s, %s, %s", r.Tag, r.Value, r.Type, errText)
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}
