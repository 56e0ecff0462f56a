package diag

import (
	"sort"
	"strings"
	"sync"
)

// 进程内指标（计数 + 耗时累计），供 CLI 运行结束时汇总打印与测试断言。
// - op_total{comp,stage,result}
// - error_total{comp,code}
// - op_duration_ms{comp,stage}

var (
	metricsMu sync.Mutex
	counters  = map[string]int64{}
)

func key(name string, labels ...string) string {
	return name + "{" + strings.Join(labels, ",") + "}"
}

func add(k string, v int64) {
	metricsMu.Lock()
	counters[k] += v
	metricsMu.Unlock()
}

// IncOp 累加操作计数（result=success|error）。
func IncOp(comp, stage, result string) { add(key("op_total", comp, stage, result), 1) }

// IncError 按分类累加错误计数。
func IncError(comp, code string) { add(key("error_total", comp, code), 1) }

// ObserveDuration 累计阶段耗时（毫秒）。
func ObserveDuration(comp, stage string, durMS int64) {
	add(key("op_duration_ms", comp, stage), durMS)
}

// Metric 为单个指标快照。
type Metric struct {
	Name  string
	Value int64
}

// MetricsSnapshot 返回按名称排序的指标副本。
func MetricsSnapshot() []Metric {
	metricsMu.Lock()
	out := make([]Metric, 0, len(counters))
	for k, v := range counters {
		out = append(out, Metric{Name: k, Value: v})
	}
	metricsMu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// MetricValue 返回单个指标当前值（不存在为 0）。
func MetricValue(name string, labels ...string) int64 {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	return counters[key(name, labels...)]
}

// ResetMetrics 清空全部指标。
func ResetMetrics() {
	metricsMu.Lock()
	counters = map[string]int64{}
	metricsMu.Unlock()
}
