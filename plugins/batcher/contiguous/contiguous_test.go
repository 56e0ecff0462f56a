package contiguous

import (
	"context"
	"testing"

	"plctags/pkg/contract"

	"github.com/cockroachdb/errors"
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

func addrs(p contract.Plan) []string {
	var out []string
	for _, r := range p.Requests {
		out = append(out, r.Address())
	}
	return out
}

func TestPlan_DefaultPolicy(t *testing.T) {
	p, err := New(nil).Plan(context.Background(), recs("N9:0", "N9:5", "N9:10", "F8:0", "F8:99", "B3/20"), contract.BatchLimit{})
	require.NoError(t, err)
	assert.Equal(t, []string{"B3:1{1}", "F8:0{60}", "F8:60{40}", "N9:0{11}"}, addrs(p))
}

func TestPlan_CustomPolicyAndLimit(t *testing.T) {
	b := New(&Options{MaxElements: map[string]int{"N": 4}})
	p, err := b.Plan(context.Background(), recs("N7:0", "N7:9", "T4:0", "T4:7"), contract.BatchLimit{})
	require.NoError(t, err)
	assert.Equal(t, []string{"N7:0{4}", "N7:4{4}", "N7:8{2}", "T4:0{8}"}, addrs(p))

	p, err = b.Plan(context.Background(), recs("N7:0", "N7:9", "T4:0", "T4:7"), contract.BatchLimit{MaxElements: 3})
	require.NoError(t, err)
	assert.Equal(t, []string{"N7:0{3}", "N7:3{3}", "N7:6{3}", "N7:9{1}", "T4:0{3}", "T4:3{3}", "T4:6{2}"}, addrs(p))
}

func TestPlan_MalformedKept(t *testing.T) {
	p, err := New(nil).Plan(context.Background(), recs("N7:0", "N7:/"), contract.BatchLimit{})
	require.NoError(t, err)
	require.Len(t, p.Malformed, 1)
	assert.Equal(t, "N7:/", p.Malformed[0].Tag)
}

func TestPlan_InvalidRecords(t *testing.T) {
	bad := recs("N7:0", "N7:1")
	bad[1].Index = 5
	_, err := New(nil).Plan(context.Background(), bad, contract.BatchLimit{})
	assert.True(t, errors.Is(err, contract.ErrInvariantViolation))
}

func TestPlan_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(nil).Plan(ctx, recs("N7:0"), contract.BatchLimit{})
	assert.True(t, errors.Is(err, context.Canceled))
}
