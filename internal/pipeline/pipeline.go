package pipeline

import (
	"context"
	"io"
	"strings"
	"time"

	"plctags/internal/diag"
	"plctags/internal/rate"
	"plctags/pkg/batch"
	"plctags/pkg/contract"
	"plctags/pkg/tagaddr"

	"github.com/cockroachdb/errors"
)

// - 单点并发：仅此层管理并发与背压；原子组件均为同步实现。
// - 单请求失败降级为错误哨兵，不中断运行；仅取消与输出 I/O 错误终止。
// - 无部分输出：整份清单解析完成后才交给 Writer。

// Mode 决定对每份清单执行的操作。
type Mode string

const (
	ModeRead     Mode = "read"     // 读取并输出 tag=value
	ModeOptimize Mode = "optimize" // 仅输出合并后的请求清单，不访问控制器
	ModeWrite    Mode = "write"    // 清单行为 tag=value，逐条写入
)

// Suffix 返回各模式输出工件的后缀。
func (m Mode) Suffix() string {
	switch m {
	case ModeOptimize:
		return ".optimized.txt"
	case ModeWrite:
		return ".written.txt"
	default:
		return ".values.txt"
	}
}

// Components 聚合运行所需的原子组件。
type Components struct {
	Reader    contract.Reader
	Splitter  contract.Splitter
	Batcher   contract.Batcher
	Driver    contract.Driver
	Decoder   contract.Decoder
	Assembler contract.Assembler
	Writer    contract.Writer
}

// Settings 运行期配置。
type Settings struct {
	Inputs      []string
	Concurrency int
	// MaxRetries: 读请求最大重试次数（>=0）。0 表示不重试。
	MaxRetries int
	// Backoff: 重试间隔；<=0 使用默认值。
	Backoff time.Duration
	// 限流闸门（可选）与分组键
	Gate    rate.Gate
	GateKey rate.LimitKey
	// Limit: 单请求元素上限（来自 provider limits），与批处理策略取较小者。
	Limit contract.BatchLimit
	Mode  Mode
}

// Issue: 运行期间报告给调用方的单条问题（非法标签等）。
type Issue struct {
	FileID contract.FileID
	Tag    string
	Err    error
}

// Report 汇总一次运行。
type Report struct {
	Files    int
	Tags     int
	Requests int
	Failed   int
	Issues   []Issue
}

// Run 执行完整流水线：Reader → Splitter → Batcher → (Gate → Driver → Decoder) → Resolve → Assembler → Writer。
func Run(ctx context.Context, comp Components, set Settings, logger *diag.Logger) (Report, error) {
	var rep Report
	if err := sanity(comp, &set); err != nil {
		return rep, errors.Wrap(err, "sanity")
	}
	runStart := time.Now()

	// 全部清单读取并解析成功后才交给 Writer，读取失败时不产生部分输出。
	var pending []artifact
	rtimer := logger.Start("reader", "iterate")
	err := comp.Reader.Iterate(ctx, set.Inputs, func(fid contract.FileID, rc io.ReadCloser) error {
		defer rc.Close()
		stimer := logger.StartWith("splitter", "split", string(fid), "")
		recs, err := comp.Splitter.Split(ctx, fid, rc)
		if err != nil {
			failed(logger, "splitter", "split failed", err, string(fid))
			return errors.Wrap(err, "splitter split")
		}
		stimer.Finish("split", int64(len(recs)))
		diag.IncOp("splitter", "finish", "success")

		rep.Files++
		rep.Tags += len(recs)
		a, err := perFile(ctx, comp, set, logger, fid, recs, &rep)
		if err != nil {
			return errors.Wrapf(err, "tag list %s", fid)
		}
		pending = append(pending, a)
		return nil
	})
	if err != nil {
		failed(logger, "reader", "iterate failed", err, "")
		return rep, errors.Wrap(err, "reader iterate")
	}
	rtimer.Finish("iterate", int64(rep.Files))
	diag.IncOp("reader", "finish", "success")

	for _, a := range pending {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		wtimer := logger.StartWith("writer", "write", string(a.fid), "")
		if werr := comp.Writer.Write(ctx, a.id, a.body); werr != nil {
			failed(logger, "writer", "write failed", werr, string(a.fid))
			return rep, errors.Wrapf(werr, "tag list %s: writer write", a.fid)
		}
		wtimer.Finish("write", 1)
		diag.IncOp("writer", "finish", "success")
	}
	logger.InfoFinish("pipeline", "run", runStart, int64(rep.Requests))
	return rep, nil
}

// artifact 为待写出的单个清单结果。
type artifact struct {
	fid  contract.FileID
	id   contract.ArtifactID
	body io.Reader
}

func perFile(ctx context.Context, comp Components, set Settings, logger *diag.Logger, fid contract.FileID, recs []contract.Record, rep *Report) (_ artifact, err error) {
	fileStart := time.Now()
	total := 0
	defer func() {
		if t := diag.GetTerminal(); t != nil {
			t.FileFinish(err == nil, time.Since(fileStart))
		}
	}()

	var r io.Reader
	switch set.Mode {
	case ModeWrite:
		total = len(recs)
		if t := diag.GetTerminal(); t != nil {
			t.FileStart(string(fid), total)
		}
		var bs contract.Bindings
		bs, err = writeAll(ctx, comp, set, logger, fid, recs, rep)
		if err != nil {
			return artifact{}, err
		}
		r, err = assemble(ctx, comp, logger, fid, func() (io.Reader, error) { return comp.Assembler.Assemble(ctx, fid, bs) })
	default:
		btimer := logger.StartWith("batcher", "plan", string(fid), "")
		var plan contract.Plan
		plan, err = comp.Batcher.Plan(ctx, recs, set.Limit)
		if err != nil {
			failed(logger, "batcher", "plan failed", err, string(fid))
			return artifact{}, errors.Wrap(err, "batcher plan")
		}
		btimer.Finish(plan.String(), int64(len(plan.Requests)))
		diag.IncOp("batcher", "finish", "success")
		if oerr := batch.CheckOverlap(plan.Requests); oerr != nil {
			logger.Warn("batcher", "overlap", oerr.Error(), string(fid), nil)
		}
		for _, m := range plan.Malformed {
			logger.Warn("batcher", "malformed", m.Err.Error(), string(fid), map[string]string{"tag": m.Tag})
			rep.Issues = append(rep.Issues, Issue{FileID: fid, Tag: m.Tag, Err: m.Err})
		}
		total = len(plan.Requests)
		if t := diag.GetTerminal(); t != nil {
			t.FileStart(string(fid), total)
		}

		if set.Mode == ModeOptimize {
			r, err = assemble(ctx, comp, logger, fid, func() (io.Reader, error) { return comp.Assembler.AssemblePlan(ctx, fid, plan) })
			break
		}

		ex := &Executor{
			Driver: comp.Driver, Decoder: comp.Decoder,
			Concurrency: set.Concurrency, MaxRetries: set.MaxRetries, Backoff: set.Backoff,
			Gate: set.Gate, GateKey: set.GateKey, Logger: logger,
		}
		var results []contract.BatchResult
		results, err = ex.Fetch(ctx, fid, plan.Requests, func(done, errs int) {
			if t := diag.GetTerminal(); t != nil {
				t.FileProgress(done, total, errs)
			}
		})
		if err != nil {
			return artifact{}, err
		}
		rep.Requests += len(results)
		for _, res := range results {
			if res.Failed() {
				rep.Failed++
			}
		}
		bs := batch.ResolveAll(contract.Texts(recs), results)
		r, err = assemble(ctx, comp, logger, fid, func() (io.Reader, error) { return comp.Assembler.Assemble(ctx, fid, bs) })
	}
	if err != nil {
		return artifact{}, err
	}
	return artifact{fid: fid, id: contract.ArtifactName(fid, set.Mode.Suffix()), body: r}, nil
}

func assemble(ctx context.Context, comp Components, logger *diag.Logger, fid contract.FileID, fn func() (io.Reader, error)) (io.Reader, error) {
	atimer := logger.StartWith("assembler", "assemble", string(fid), "")
	r, err := fn()
	if err != nil {
		failed(logger, "assembler", "assemble failed", err, string(fid))
		return nil, errors.Wrap(err, "assembler assemble")
	}
	atimer.Finish("assemble", 0)
	diag.IncOp("assembler", "finish", "success")
	return r, ctx.Err()
}

// writeAll 顺序执行写入清单（tag=value）；写入顺序即清单顺序。
func writeAll(ctx context.Context, comp Components, set Settings, logger *diag.Logger, fid contract.FileID, recs []contract.Record, rep *Report) (contract.Bindings, error) {
	bs := make(contract.Bindings, 0, len(recs))
	for i, rec := range recs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		tag, value, err := SplitAssignment(rec.Text)
		if err != nil {
			logger.Warn("writer", "malformed", err.Error(), string(fid), map[string]string{"line": rec.Meta["line"]})
			rep.Issues = append(rep.Issues, Issue{FileID: fid, Tag: rec.Text, Err: err})
			bs = append(bs, contract.Binding{Tag: rec.Text, Value: contract.ErrorValue(), Err: err})
			continue
		}
		rep.Requests++
		if err := WriteOne(ctx, comp.Driver, set, logger, fid, tag, value); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			rep.Failed++
			bs = append(bs, contract.Binding{Tag: tag, Value: contract.ErrorValue()})
		} else {
			bs = append(bs, contract.Binding{Tag: tag, Value: contract.TextValue("ok")})
		}
		if t := diag.GetTerminal(); t != nil {
			t.FileProgress(i+1, len(recs), rep.Failed)
		}
	}
	return bs, nil
}

// SplitAssignment 将 "tag=value" 拆分并校验标签语法。
func SplitAssignment(line string) (tag, value string, err error) {
	tag, value, ok := strings.Cut(line, "=")
	tag, value = strings.TrimSpace(tag), strings.TrimSpace(value)
	if !ok || tag == "" || value == "" {
		return "", "", errors.Wrapf(contract.ErrInvalidInput, "assignment %q: want tag=value", line)
	}
	if _, err := tagaddr.Parse(tagaddr.Normalize(tag)); err != nil {
		return "", "", err
	}
	return tag, value, nil
}

// WriteOne 经 Gate 写入单个标签；仅限流错误重试。
func WriteOne(ctx context.Context, drv contract.Driver, set Settings, logger *diag.Logger, fid contract.FileID, tag, value string) error {
	addr := tagaddr.Normalize(tag)
	attempts := max(0, set.MaxRetries) + 1
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if err := sleepWithCtx(ctx, backoffOr(set.Backoff)); err != nil {
				return err
			}
		}
		if set.Gate != nil {
			if err := set.Gate.Wait(ctx, rate.Ask{Key: set.GateKey, Requests: 1, Elements: 1}); err != nil {
				return err
			}
		}
		tm := logger.StartWithKV("driver", "write", string(fid), addr, map[string]string{"value": value})
		_, err := drv.WriteTag(ctx, addr, value)
		if err == nil {
			tm.Finish("write", 1)
			diag.IncOp("driver", "finish", "success")
			return nil
		}
		failed(logger, "driver", "write failed: "+err.Error(), err, string(fid))
		lastErr = err
		if diag.Classify(err) != diag.CodeBudget {
			break
		}
	}
	if errors.Is(lastErr, context.Canceled) || errors.Is(lastErr, context.DeadlineExceeded) {
		return lastErr
	}
	return errors.Mark(errors.Wrapf(lastErr, "write %s", tag), contract.ErrWriteFailure)
}

func failed(logger *diag.Logger, comp, msg string, err error, fileID string) {
	code := diag.Classify(err)
	logger.ErrorWithKV(comp, string(code), msg, nil, fileID, "", diag.StatusKV(err))
	diag.IncOp(comp, "error", "error")
	if code != diag.CodeUnknown {
		diag.IncError(comp, string(code))
	}
}

func sanity(c Components, s *Settings) error {
	if c.Reader == nil || c.Splitter == nil || c.Batcher == nil || c.Assembler == nil || c.Writer == nil {
		return errors.Wrap(contract.ErrInvariantViolation, "pipeline: missing components")
	}
	switch s.Mode {
	case "":
		s.Mode = ModeRead
	case ModeRead, ModeOptimize, ModeWrite:
	default:
		return errors.Wrapf(contract.ErrInvalidInput, "pipeline: unknown mode %q", s.Mode)
	}
	if s.Mode != ModeOptimize && (c.Driver == nil || (s.Mode == ModeRead && c.Decoder == nil)) {
		return errors.Wrapf(contract.ErrInvariantViolation, "pipeline: mode %s needs a driver", s.Mode)
	}
	if s.Concurrency < 1 {
		s.Concurrency = 1
	}
	if len(s.Inputs) == 0 {
		return errors.Wrap(contract.ErrInvalidInput, "pipeline: empty inputs")
	}
	return nil
}
