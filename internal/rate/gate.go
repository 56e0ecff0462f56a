package rate

import (
	"context"
	"sync"
	"time"

	"plctags/pkg/contract"

	"github.com/cockroachdb/errors"
	xrate "golang.org/x/time/rate"
)

// LimitKey: 限流分组键（驱动 + 控制器地址）。
type LimitKey string

// Limits: 每分组的限额配置。0 表示该维度不启用。
type Limits struct {
	RPM               int // 每分钟请求数
	Burst             int // 请求突发量；0 时取 max(1, RPM/60)
	EPM               int // 每分钟读取元素数
	MaxElementsPerReq int // 单次请求元素上限，0 表示不限制
}

// Ask: 一次放行申请。
type Ask struct {
	Key      LimitKey
	Requests int // 必须 >=1
	Elements int // 请求涉及的元素数（>=0）
}

// Gate: 限流闸门（并发安全）。
type Gate interface {
	// Wait 阻塞直到额度可用或 ctx 取消；违反单请求上限时快速失败。
	Wait(ctx context.Context, a Ask) error
	// Try 非阻塞尝试；不足时返回 false。
	Try(a Ask) bool
}

// Snapshoter: 可选诊断接口。
type Snapshoter interface {
	Snapshot(key LimitKey) (reqAvail, elemAvail int)
}

// NewGate 从静态配置构造闸门；clk 为空则使用 time.Now。
func NewGate(m map[LimitKey]Limits, clk func() time.Time) Gate {
	if clk == nil {
		clk = time.Now
	}
	g := &gate{clk: clk, m: make(map[LimitKey]*entry, len(m))}
	for k, lim := range m {
		g.m[k] = newEntry(lim)
	}
	return g
}

// NewProviderGate 所有分组使用同一限额，但各自独立计量（每个控制器一个桶）。
func NewProviderGate(lim Limits, clk func() time.Time) Gate {
	g := NewGate(nil, clk).(*gate)
	g.def = lim
	return g
}

type gate struct {
	clk func() time.Time
	def Limits // 未显式配置的分组使用的限额；零值为不限额
	mu  sync.Mutex
	m   map[LimitKey]*entry
}

type entry struct {
	lim  Limits
	req  *xrate.Limiter // nil 表示该维度关闭
	elem *xrate.Limiter
}

func newEntry(lim Limits) *entry {
	e := &entry{lim: lim}
	if lim.RPM > 0 {
		burst := lim.Burst
		if burst <= 0 {
			burst = max(1, lim.RPM/60)
		}
		e.req = xrate.NewLimiter(xrate.Limit(float64(lim.RPM)/60.0), burst)
	}
	if lim.EPM > 0 {
		e.elem = xrate.NewLimiter(xrate.Limit(float64(lim.EPM)/60.0), lim.EPM)
	}
	return e
}

func (g *gate) get(key LimitKey) *entry {
	g.mu.Lock()
	defer g.mu.Unlock()
	e := g.m[key]
	if e == nil {
		e = newEntry(g.def)
		g.m[key] = e
	}
	return e
}

func (e *entry) check(a Ask) error {
	if a.Requests <= 0 || a.Elements < 0 {
		return errors.Wrapf(contract.ErrInvalidInput, "rate: bad ask %+v", a)
	}
	if e.lim.MaxElementsPerReq > 0 && a.Elements > e.lim.MaxElementsPerReq {
		return errors.Wrapf(contract.ErrInvalidInput, "rate: %d elements exceed max_elements_per_req %d", a.Elements, e.lim.MaxElementsPerReq)
	}
	return nil
}

func (g *gate) Try(a Ask) bool {
	e := g.get(a.Key)
	if e.check(a) != nil {
		return false
	}
	now := g.clk()
	r1, r2 := reserve(e.req, now, a.Requests), reserve(e.elem, now, a.Elements)
	if r1.ok && r2.ok && r1.delay(now) == 0 && r2.delay(now) == 0 {
		return true
	}
	r1.cancel(now)
	r2.cancel(now)
	return false
}

func (g *gate) Wait(ctx context.Context, a Ask) error {
	e := g.get(a.Key)
	if err := e.check(a); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	now := g.clk()
	r1, r2 := reserve(e.req, now, a.Requests), reserve(e.elem, now, a.Elements)
	if !r1.ok || !r2.ok {
		r1.cancel(now)
		r2.cancel(now)
		return errors.Wrapf(contract.ErrRateLimited, "rate: ask %+v exceeds burst", a)
	}
	d := max(r1.delay(now), r2.delay(now))
	if d <= 0 {
		return nil
	}
	if err := sleepCtx(ctx, d); err != nil {
		at := g.clk()
		r1.cancel(at)
		r2.cancel(at)
		return err
	}
	return nil
}

// reservation 包装 x/time/rate 预约；limiter 为 nil 时恒可用。
type reservation struct {
	r  *xrate.Reservation
	ok bool
}

func reserve(l *xrate.Limiter, now time.Time, n int) reservation {
	if l == nil || n <= 0 {
		return reservation{ok: true}
	}
	r := l.ReserveN(now, n)
	return reservation{r: r, ok: r.OK()}
}

func (r reservation) delay(now time.Time) time.Duration {
	if r.r == nil || !r.ok {
		return 0
	}
	return r.r.DelayFrom(now)
}

func (r reservation) cancel(now time.Time) {
	if r.r != nil && r.ok {
		r.r.CancelAt(now)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Snapshot 返回当前可用请求/元素额度的向下取整估值（仅诊断）；关闭的维度返回 0。
func (g *gate) Snapshot(key LimitKey) (reqAvail, elemAvail int) {
	e := g.get(key)
	now := g.clk()
	if e.req != nil {
		reqAvail = max(0, int(e.req.TokensAt(now)))
	}
	if e.elem != nil {
		elemAvail = max(0, int(e.elem.TokensAt(now)))
	}
	return
}

var (
	_ Gate       = (*gate)(nil)
	_ Snapshoter = (*gate)(nil)
)
