package lines

import (
	"context"
	"encoding/json"
	"io"
	"testing"

	"plctags/pkg/batch"
	"plctags/pkg/contract"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func render(t *testing.T, r io.Reader, err error) string {
	t.Helper()
	require.NoError(t, err)
	b, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(b)
}

func TestAssemble(t *testing.T) {
	a, err := New(nil)
	require.NoError(t, err)
	bs := contract.Bindings{
		{Tag: "N9:5", Value: contract.IntValue(77)},
		{Tag: "N9:5/3", Value: contract.BoolValue(true)},
		{Tag: "F8:0", Value: contract.RealValue(1.5)},
		{Tag: "N7:0", Value: contract.NoneValue()},
		{Tag: "B3/20", Value: contract.ErrorValue()},
	}
	r, err := a.Assemble(context.Background(), "f", bs)
	out := render(t, r, err)
	assert.Equal(t, "N9:5=77\nN9:5/3=true\nF8:0=1.5\nN7:0=NONE\nB3/20=!ERROR!\n", out)
}

func TestAssemble_SeparatorAndEmpty(t *testing.T) {
	a, err := New(json.RawMessage(`{"separator":" = "}`))
	require.NoError(t, err)
	r, err := a.Assemble(context.Background(), "f", contract.Bindings{{Tag: "N7:1", Value: contract.IntValue(2)}})
	out := render(t, r, err)
	assert.Equal(t, "N7:1 = 2\n", out)
	r, err = a.Assemble(context.Background(), "f", nil)
	out = render(t, r, err)
	assert.Equal(t, "", out)

	_, err = a.Assemble(context.Background(), "f", contract.Bindings{{Tag: " "}})
	assert.True(t, errors.Is(err, contract.ErrInvariantViolation))
}

func TestAssemblePlan(t *testing.T) {
	a, _ := New(nil)
	plan := batch.Plan([]string{"N9:0", "N9:5", "N9:10", "F8:0", "F8:70", "T4:0.ACC"}, batch.DefaultPolicy())
	r, err := a.AssemblePlan(context.Background(), "f", plan)
	out := render(t, r, err)
	assert.Equal(t, "F8:0{60}\nF8:60{11}\nN9:0{11}\nT4:0.ACC\n", out)

	_, err = a.AssemblePlan(context.Background(), "f", contract.Plan{Requests: []contract.BatchRequest{{File: "N7"}}})
	assert.True(t, errors.Is(err, contract.ErrInvariantViolation))
}

func TestCanceledAndBadOptions(t *testing.T) {
	a, _ := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := a.Assemble(ctx, "f", nil)
	assert.True(t, errors.Is(err, context.Canceled))
	_, err = a.AssemblePlan(ctx, "f", contract.Plan{})
	assert.True(t, errors.Is(err, context.Canceled))
	_, err = New(json.RawMessage(`[]`))
	assert.True(t, errors.Is(err, contract.ErrInvalidInput))
}
