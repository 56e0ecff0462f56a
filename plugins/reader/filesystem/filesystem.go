package filesystem

import (
	"bufio"
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"plctags/pkg/contract"

	"github.com/cockroachdb/errors"
)

// Options 为标签清单 Reader 的可选配置。
type Options struct {
	// BufSize 为读缓冲区大小（字节）。默认 64KiB。
	BufSize int `json:"buf_size"`
	// ExcludeDirNames: 扫描目录时跳过的目录名（基名、大小写不敏感）。
	ExcludeDirNames []string `json:"exclude_dir_names"`
	// AllowExts: 目录扫描时接受的扩展名（含点，大小写不敏感）。
	// nil 采用默认 [".txt",".tags",".lst"]；显式空切片表示不限制。
	// 显式给出的文件 root 不受此限制。
	AllowExts []string `json:"allow_exts"`
}

const defaultBuf = 64 * 1024

// FileSystem 从文件、目录或 STDIN 读取标签清单。
type FileSystem struct {
	bufSize    int
	excludeDir map[string]struct{}
	allow      map[string]struct{} // nil 表示不限制
}

// New 创建 FileSystem Reader。
func New(opts *Options) *FileSystem {
	r := &FileSystem{bufSize: defaultBuf, excludeDir: map[string]struct{}{}}
	exts := []string{".txt", ".tags", ".lst"}
	if opts != nil {
		if opts.BufSize > 0 {
			r.bufSize = opts.BufSize
		}
		for _, name := range opts.ExcludeDirNames {
			if name != "" {
				r.excludeDir[strings.ToLower(name)] = struct{}{}
			}
		}
		if opts.AllowExts != nil {
			exts = opts.AllowExts
		}
	}
	if len(exts) > 0 {
		r.allow = make(map[string]struct{}, len(exts))
		for _, e := range exts {
			if e != "" {
				r.allow[strings.ToLower(e)] = struct{}{}
			}
		}
	}
	return r
}

// Iterate 按稳定顺序对每个清单文件调用 yield。
// roots 为空或仅为 "-" 时读取 STDIN（FileID 为 "stdin"）。
// 打开/遍历失败时返回携带文件名的错误。
func (r *FileSystem) Iterate(ctx context.Context, roots []string, yield func(fileID contract.FileID, rc io.ReadCloser) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(roots) == 0 || (len(roots) == 1 && roots[0] == "-") {
		return yield(contract.FileID("stdin"), newBufferedCloser(os.Stdin, r.bufSize))
	}
	for _, s := range roots {
		if s == "-" {
			return errors.WithHint(
				errors.Wrap(contract.ErrInvalidInput, "stdin '-' cannot be mixed with other roots"),
				"单独使用 '-' 从标准输入读取清单")
		}
	}
	for _, root := range roots {
		if err := r.iterateOne(ctx, root, yield); err != nil {
			return err
		}
	}
	return nil
}

func (r *FileSystem) iterateOne(ctx context.Context, root string, yield func(contract.FileID, io.ReadCloser) error) error {
	info, err := os.Lstat(root)
	if err != nil {
		return errors.Wrapf(err, "tag list %s", root)
	}
	if info.Mode()&os.ModeSymlink != 0 {
		// 仅跟随指向常规文件的链接
		t, err := os.Stat(root)
		if err != nil {
			return errors.Wrapf(err, "tag list %s", root)
		}
		if !t.Mode().IsRegular() {
			return nil
		}
		return r.emit(root, yield)
	}
	if info.IsDir() {
		return r.walkDir(ctx, root, yield)
	}
	if !info.Mode().IsRegular() {
		return nil
	}
	return r.emit(root, yield)
}

// walkDir 先递归子目录再处理文件，均按名字典序。
func (r *FileSystem) walkDir(ctx context.Context, dir string, yield func(contract.FileID, io.ReadCloser) error) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return errors.Wrapf(err, "scan %s", dir)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !e.IsDir() {
			continue
		}
		if _, skip := r.excludeDir[strings.ToLower(e.Name())]; skip {
			continue
		}
		if err := r.walkDir(ctx, filepath.Join(dir, e.Name()), yield); err != nil {
			return err
		}
	}
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if e.IsDir() || !r.accept(e.Name()) {
			continue
		}
		p := filepath.Join(dir, e.Name())
		t, err := os.Stat(p) // 跟随链接
		if err != nil {
			return errors.Wrapf(err, "tag list %s", p)
		}
		if !t.Mode().IsRegular() {
			continue
		}
		if err := r.emit(p, yield); err != nil {
			return err
		}
	}
	return nil
}

func (r *FileSystem) accept(name string) bool {
	if r.allow == nil {
		return true
	}
	_, ok := r.allow[strings.ToLower(filepath.Ext(name))]
	return ok
}

func (r *FileSystem) emit(p string, yield func(contract.FileID, io.ReadCloser) error) error {
	f, err := os.Open(p)
	if err != nil {
		return errors.Wrapf(err, "tag list %s", p)
	}
	brc := newBufferedCloser(f, r.bufSize)
	if err := yield(contract.NormalizeFileID(p), brc); err != nil {
		_ = brc.Close()
		return err
	}
	return nil
}

// bufferedCloser 将 bufio.Reader 与底层 Closer 组合为 ReadCloser。
type bufferedCloser struct {
	*bufio.Reader
	c io.Closer
}

func newBufferedCloser(c io.ReadCloser, bufSize int) *bufferedCloser {
	if bufSize <= 0 {
		bufSize = defaultBuf
	}
	return &bufferedCloser{Reader: bufio.NewReaderSize(c, bufSize), c: c}
}

func (b *bufferedCloser) Close() error { return b.c.Close() }
