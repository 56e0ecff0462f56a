package stdout

import (
	"context"
	"io"
	"os"
	"sync"

	"plctags/pkg/contract"

	"github.com/cockroachdb/errors"
)

// Options 为标准输出 Writer 配置。
type Options struct {
	// Banner: 为 true 时在每个工件前输出 "==> id <==" 标题行（多清单时便于区分）。
	Banner bool `json:"banner"`
}

// Writer 将工件依次写到 Out（默认 os.Stdout）。多个工件串行写出，互不交错。
type Writer struct {
	Out    io.Writer
	banner bool
	mu     sync.Mutex
}

var _ contract.Writer = (*Writer)(nil)

// New 创建标准输出 Writer。
func New(opts *Options) *Writer {
	return &Writer{Out: os.Stdout, banner: opts != nil && opts.Banner}
}

// Write 先完整读取 r 再一次性写出，读取失败时不产生任何输出。
func (w *Writer) Write(ctx context.Context, id contract.ArtifactID, r io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return errors.Wrapf(err, "render %s", id)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.banner {
		if _, err := io.WriteString(w.Out, "==> "+string(id)+" <==\n"); err != nil {
			return errors.Wrap(err, "write stdout")
		}
	}
	if _, err := w.Out.Write(body); err != nil {
		return errors.Wrap(err, "write stdout")
	}
	return nil
}
