package pipeline

import (
	"context"
	"strconv"
	"sync"
	"time"

	"plctags/internal/diag"
	"plctags/internal/rate"
	"plctags/pkg/contract"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"
)

// Executor 并发执行一组 BatchRequest：Gate → Driver.ReadTag → Decoder，失败按分类有限重试。
// - 单请求失败记录为 BatchResult.Err（错误哨兵），不影响其他请求；
// - 仅 ctx 取消会让 Fetch 返回错误；
// - 结果与请求一一对应、顺序一致。
type Executor struct {
	Driver      contract.Driver
	Decoder     contract.Decoder
	Concurrency int
	MaxRetries  int
	Backoff     time.Duration // 重试间隔，<=0 时为 200ms
	Gate        rate.Gate
	GateKey     rate.LimitKey
	Logger      *diag.Logger
}

// Fetch 执行全部请求；progress 可为 nil，每完成一个请求回调一次 (done, failed)。
func (e *Executor) Fetch(ctx context.Context, fileID contract.FileID, reqs []contract.BatchRequest, progress func(done, failed int)) ([]contract.BatchResult, error) {
	if e.Driver == nil || e.Decoder == nil {
		return nil, errors.Wrap(contract.ErrInvariantViolation, "executor: missing driver or decoder")
	}
	out := make([]contract.BatchResult, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, e.Concurrency))

	var mu sync.Mutex
	done, failed := 0, 0
	for i, req := range reqs {
		g.Go(func() error {
			res := e.fetchOne(gctx, fileID, req)
			if err := gctx.Err(); err != nil {
				return err
			}
			out[i] = res
			if progress != nil {
				mu.Lock()
				done++
				if res.Failed() {
					failed++
				}
				progress(done, failed)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	// errgroup 的派生 ctx 只在出错时取消；父 ctx 可能在最后一个请求之后取消
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func backoffOr(d time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return 200 * time.Millisecond
}

func (e *Executor) fetchOne(ctx context.Context, fileID contract.FileID, req contract.BatchRequest) contract.BatchResult {
	fid, batch := string(fileID), req.Address()
	attempts := max(0, e.MaxRetries) + 1
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if err := sleepWithCtx(ctx, backoffOr(e.Backoff)); err != nil {
				return contract.BatchResult{Request: req, Err: err}
			}
		}
		if e.Gate != nil {
			if err := e.Gate.Wait(ctx, rate.Ask{Key: e.GateKey, Requests: 1, Elements: req.ElementCount}); err != nil {
				e.fail("gate", "wait failed", err, nil, fid, batch)
				// Gate 错误不重试（取消、非法申请或超出突发量）
				return contract.BatchResult{Request: req, Err: errors.Mark(errors.Wrapf(err, "read %s", batch), contract.ErrReadFailure)}
			}
		}

		tm := e.Logger.StartWithKV("driver", "read", fid, batch, map[string]string{
			"elements": strconv.Itoa(req.ElementCount),
			"attempt":  strconv.Itoa(attempt + 1),
		})
		raw, err := e.Driver.ReadTag(ctx, batch)
		if err != nil {
			e.fail("driver", "read failed", err, tm.Since(), fid, batch)
			lastErr = err
			if diag.Retryable(diag.Classify(err)) {
				continue
			}
			break
		}
		tm.Finish("read", int64(req.ElementCount))
		diag.IncOp("driver", "finish", "success")

		res, err := e.Decoder.Decode(ctx, req, raw)
		if err != nil {
			e.fail("decoder", "decode failed", err, nil, fid, batch)
			lastErr = err
			if diag.Retryable(diag.Classify(err)) {
				continue
			}
			break
		}
		diag.IncOp("decoder", "finish", "success")
		return res
	}
	return contract.BatchResult{Request: req, Err: errors.Mark(errors.Wrapf(lastErr, "read %s", batch), contract.ErrReadFailure)}
}

// fail 记录错误事件与指标；控制器状态码作为键值附带。
func (e *Executor) fail(comp, msg string, err error, since *time.Time, fileID, batch string) {
	code := diag.Classify(err)
	e.Logger.ErrorWithKV(comp, string(code), msg+": "+err.Error(), since, fileID, batch, diag.StatusKV(err))
	diag.IncOp(comp, "error", "error")
	if code != diag.CodeUnknown {
		diag.IncError(comp, string(code))
	}
}

// sleepWithCtx: 可取消的 sleep。
func sleepWithCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
