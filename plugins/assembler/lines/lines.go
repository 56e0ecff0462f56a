package lines

import (
	"context"
	"encoding/json"
	"io"
	"strings"

	"plctags/pkg/contract"

	"github.com/cockroachdb/errors"
)

// Options 为逐行装配器配置。
type Options struct {
	// Separator: 标签与值之间的分隔符，默认 "="。
	Separator string `json:"separator"`
}

type assembler struct {
	sep string
}

var _ contract.Assembler = (*assembler)(nil)

// New 从原样 JSON Options 创建逐行装配器。
func New(raw json.RawMessage) (contract.Assembler, error) {
	var o Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &o); err != nil {
			return nil, errors.Wrap(contract.ErrInvalidInput, "lines assembler options: "+err.Error())
		}
	}
	if o.Separator == "" {
		o.Separator = "="
	}
	return &assembler{sep: o.Separator}, nil
}

// Assemble 按输入顺序输出 tag<sep>value 行（值为数值/布尔文本或 !ERROR!/NONE 哨兵）。
// 完整渲染后返回；发现空标签即返回 ErrInvariantViolation。
func (a *assembler) Assemble(ctx context.Context, fileID contract.FileID, bindings contract.Bindings) (io.Reader, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var sb strings.Builder
	for i, b := range bindings {
		if strings.TrimSpace(b.Tag) == "" {
			return nil, errors.Wrapf(contract.ErrInvariantViolation, "%s: empty tag at binding %d", fileID, i)
		}
		sb.WriteString(b.Tag)
		sb.WriteString(a.sep)
		sb.WriteString(b.Value.String())
		sb.WriteByte('\n')
	}
	return strings.NewReader(sb.String()), nil
}

// AssemblePlan 每个请求一行：数值区间为 File:Start{Count}，透传为 File:Address。
func (a *assembler) AssemblePlan(ctx context.Context, fileID contract.FileID, plan contract.Plan) (io.Reader, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var sb strings.Builder
	for i, r := range plan.Requests {
		if !r.Passthrough() && r.ElementCount <= 0 {
			return nil, errors.Wrapf(contract.ErrInvariantViolation, "%s: empty request at %d", fileID, i)
		}
		sb.WriteString(r.Address())
		sb.WriteByte('\n')
	}
	return strings.NewReader(sb.String()), nil
}
