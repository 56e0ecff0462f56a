package single

import (
	"context"
	"testing"

	"plctags/pkg/batch"
	"plctags/pkg/contract"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recs(tags ...string) []contract.Record {
	out := make([]contract.Record, len(tags))
	for i, t := range tags {
		out[i] = contract.Record{Index: contract.Index(i), FileID: "list.txt", Text: t}
	}
	return out
}

func TestPlan_OnePerTag(t *testing.T) {
	p, err := New(nil).Plan(context.Background(), recs("N7:5", "B3/20", "N7:5", "T4:0.ACC", "N7:0{5}", "bad"), contract.BatchLimit{MaxElements: 2})
	require.NoError(t, err)
	var got []string
	for _, r := range p.Requests {
		got = append(got, r.Address())
	}
	assert.Equal(t, []string{"N7:5{1}", "B3:1{1}", "N7:5{1}", "T4:0.ACC", "N7:0{2}", "N7:2{2}", "N7:4{1}"}, got)
	require.Len(t, p.Malformed, 1)
}

func TestPlan_Dedup(t *testing.T) {
	p, err := New(&Options{Dedup: true}).Plan(context.Background(), recs("N7:5", "N7:5/1", "N7:5"), contract.BatchLimit{})
	require.NoError(t, err)
	assert.Len(t, p.Requests, 1)
}

// 逐标签计划解析结果与区间合并计划一致。
func TestPlan_ResolvesLikeContiguous(t *testing.T) {
	tags := []string{"N7:1", "N7:3/2", "B3/17"}
	p, err := New(nil).Plan(context.Background(), recs(tags...), contract.BatchLimit{})
	require.NoError(t, err)
	var results []contract.BatchResult
	for _, r := range p.Requests {
		results = append(results, contract.BatchResult{Request: r, Values: []string{"6"}})
	}
	got := batch.ResolveAll(tags, results)
	assert.Equal(t, contract.IntValue(6), got[0].Value)
	assert.Equal(t, contract.BoolValue(true), got[1].Value)
	assert.Equal(t, contract.BoolValue(true), got[2].Value)
}
