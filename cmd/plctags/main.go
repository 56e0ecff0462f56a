package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	cfgpkg "plctags/internal/config"
	"plctags/internal/diag"
	"plctags/internal/pipeline"
	"plctags/internal/session"
	"plctags/internal/shell"
	"plctags/pkg/contract"
	wstd "plctags/plugins/writer/stdout"

	"github.com/cockroachdb/errors"
	"github.com/kballard/go-shellquote"
	"github.com/spf13/cobra"
)

var pipelineRun = pipeline.Run

// 退出码：0 成功；1 运行期失败；3 配置/装配失败。
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 3
)

var (
	// errConfig 标记配置/装配阶段错误。
	errConfig = errors.New("configuration error")
	// errReported 标记已由 shell 输出给用户的错误。
	errReported = errors.New("reported")
	// errDone 表示命令已在预处理阶段完成（--init-config）。
	errDone = errors.New("done")
)

type options struct {
	config      string
	driver      string
	host        string
	concurrency int
	maxRetries  int
	output      string
	status      bool
	logLevel    string
	initDir     string
}

type app struct {
	opts   options
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
	start  time.Time
	corrID string
	cfg    cfgpkg.Config
	logger *diag.Logger
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	a := &app{
		stdin:  stdin,
		stdout: stdout,
		stderr: stderr,
		start:  time.Now(),
		corrID: diag.NewCorrID(),
		logger: diag.NewNop(),
	}
	defer func() { _ = a.logger.Close() }()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	root := a.rootCmd()
	root.SetArgs(args)
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)
	return a.exit(root.ExecuteContext(ctx))
}

func (a *app) exit(err error) int {
	if err == nil || errors.Is(err, errDone) {
		return exitOK
	}
	code := exitRuntime
	if errors.Is(err, errConfig) || errors.Is(err, contract.ErrNotConnected) {
		code = exitConfig
	}
	a.logger.Error("cli", string(diag.Classify(err)), "first error", &a.start)
	if errors.Is(err, errReported) || errors.Is(err, context.Canceled) {
		return code
	}
	fprintf(a.stderr, "错误: %v\n", err)
	if h := errors.FlattenHints(err); h != "" {
		fprintf(a.stderr, "提示: %s\n", h)
	}
	return code
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "plctags [ip-address [command...]]",
		Short: "SLC/PLC-5 标签读写与批量读取优化工具",
		Long: `plctags 读写控制器数据表标签，并将标签清单合并为最少、最宽的连续区间读请求。

不带参数时进入交互 shell；第一个参数为 IPv4 地址时，其余参数作为一条 shell 命令执行：
  plctags 192.168.1.10 Read N9:0`,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if a.opts.initDir != "" {
				if err := a.initConfig(a.opts.initDir); err != nil {
					return err
				}
				return errDone
			}
			if cmd.Name() == "init-config" {
				return nil
			}
			return a.load(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return a.interactive(cmd.Context())
			}
			if !isIPAddress(args[0]) {
				return errors.Mark(errors.WithHint(
					errors.Newf("unknown command %q", args[0]), "run plctags --help for a list of commands"), errConfig)
			}
			if len(args) == 1 {
				return a.interactive(cmd.Context())
			}
			return a.execLine(cmd.Context(), shellquote.Join(args[1:]...))
		},
	}
	pf := root.PersistentFlags()
	pf.StringVar(&a.opts.config, "config", "", "配置文件路径（JSON/TOML/YAML）；缺省自动发现 ./config.{json,toml,yaml}")
	pf.StringVar(&a.opts.driver, "driver", "", "provider 名称（覆盖配置）")
	pf.StringVar(&a.opts.host, "host", "", "控制器地址（覆盖配置）")
	pf.IntVar(&a.opts.concurrency, "concurrency", 0, "并发度（覆盖配置）")
	// max-retries 允许显式设置为 0；以 Changed 判定是否覆盖。
	pf.IntVar(&a.opts.maxRetries, "max-retries", -1, "读请求最大重试次数（覆盖配置；0 表示不重试）")
	pf.StringVar(&a.opts.output, "output", "", "输出格式 raw|readable|minimal（覆盖配置）")
	pf.BoolVar(&a.opts.status, "status", true, "终端状态提示（stderr）。TTY 动态刷新；非 TTY 打点输出")
	pf.StringVar(&a.opts.logLevel, "log-level", "", "日志级别 debug|info|error（覆盖配置）")
	pf.StringVar(&a.opts.initDir, "init-config", "", "在指定目录生成 config.json 与 .env 模板（不覆盖）；不带值时为当前目录")
	pf.Lookup("init-config").NoOptDefVal = "."

	root.AddCommand(
		a.readCmd(),
		a.writeCmd(),
		a.fileCmd("readfile", "批量读取标签清单，输出 tag=value", pipeline.ModeRead),
		a.fileCmd("optimize", "输出标签清单的合并读请求（不连接控制器）", pipeline.ModeOptimize),
		a.fileCmd("writefile", "逐行写入 tag=value 清单", pipeline.ModeWrite),
		a.timeCmd(),
		a.shellCmd(),
		a.initCmd(),
	)
	return root
}

func (a *app) readCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "read <tag...>",
		Short: "读取一个或多个标签（合并为批量请求）",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.execLine(cmd.Context(), "read "+shellquote.Join(args...))
		},
	}
}

func (a *app) writeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "write <tag> <value>",
		Short: "写入单个标签",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.execLine(cmd.Context(), "write "+shellquote.Join(args...))
		},
	}
}

func (a *app) timeCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "time",
		Short: "读取或设置控制器时钟（S:37..S:42）",
	}
	c.AddCommand(
		&cobra.Command{
			Use:   "get",
			Short: "读取控制器时钟",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.execLine(cmd.Context(), "getplctime")
			},
		},
		&cobra.Command{
			Use:   "set",
			Short: "将控制器时钟设为本机当前时间",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.execLine(cmd.Context(), "setplctime")
			},
		},
	)
	return c
}

func (a *app) shellCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "进入交互 shell",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.interactive(cmd.Context())
		},
	}
}

func (a *app) initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init-config [dir]",
		Short: "生成默认 config.json 与 .env 模板（不覆盖已存在文件）",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			return a.initConfig(dir)
		},
	}
}

func (a *app) fileCmd(use, short string, mode pipeline.Mode) *cobra.Command {
	var outDir string
	c := &cobra.Command{
		Use:   use + " [list...]",
		Short: short,
		Long:  short + "。\n缺省使用配置中的 inputs；\"-\" 表示标准输入。输出文件名为 <清单名>" + mode.Suffix() + "。",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rep, err := a.runFilesTo(cmd.Context(), mode, args, outDir)
			for _, is := range rep.Issues {
				fprintf(a.stderr, "[warn] %s | %s | %v\n", is.FileID, is.Tag, is.Err)
			}
			return err
		},
	}
	c.Flags().StringVar(&outDir, "out-dir", "", "输出目录（使用文件 Writer）；缺省写到标准输出")
	return c
}

func (a *app) initConfig(dir string) error {
	wrote, err := cfgpkg.WriteTemplate(strings.TrimSpace(dir))
	if err != nil {
		return errors.Mark(errors.Wrap(err, "生成默认配置失败"), errConfig)
	}
	for _, p := range wrote {
		fprintf(a.stderr, "已生成 %s\n", p)
	}
	return nil
}

// load 按优先级合并配置：Defaults < 配置文件 < PLCTAGS_CONFIG_JSON < ENV(.env) < CLI。
func (a *app) load(cmd *cobra.Command, args []string) error {
	// 在任何 ENV 读取前加载工作目录下的 .env（不覆盖已有 ENV）。
	if err := cfgpkg.LoadDotEnv(".env"); err != nil {
		fprintf(a.stderr, "提示：.env 读取失败（已跳过）：%v\n", err)
	}
	cfg := cfgpkg.Defaults()
	path := a.opts.config
	if path == "" {
		path = os.Getenv(cfgpkg.EnvPrefix + "CONFIG_FILE")
	}
	if path == "" {
		path = cfgpkg.Discover(".")
	}
	if path != "" {
		base, err := cfgpkg.LoadFile(path)
		if err != nil {
			return errors.Mark(err, errConfig)
		}
		cfg = cfgpkg.Merge(cfg, base)
	}
	if s := os.Getenv(cfgpkg.EnvPrefix + "CONFIG_JSON"); s != "" {
		base, err := cfgpkg.LoadJSON("", []byte(s))
		if err != nil {
			return errors.Mark(err, errConfig)
		}
		cfg = cfgpkg.Merge(cfg, base)
	}
	over, err := cfgpkg.EnvOverlay(os.Environ())
	if err != nil {
		return errors.Mark(err, errConfig)
	}
	cfg = cfgpkg.MergeEnv(cfg, over)

	cli := cfgpkg.Config{
		MaxRetries:   -1,
		Concurrency:  a.opts.concurrency,
		Host:         a.opts.host,
		OutputFormat: a.opts.output,
		Driver:       a.opts.driver,
		Logging:      cfgpkg.Logging{Level: a.opts.logLevel},
	}
	if cmd.Flags().Changed("max-retries") {
		cli.MaxRetries = a.opts.maxRetries
	}
	if cmd == cmd.Root() && len(args) > 0 && isIPAddress(args[0]) && cli.Host == "" {
		cli.Host = args[0]
	}
	cfg = cfgpkg.Merge(cfg, cli)

	if err := cfgpkg.Validate(cfg); err != nil {
		_ = dumpConfig(a.stderr, cfg)
		return errors.Mark(err, errConfig)
	}
	a.cfg = cfg

	level := "info"
	if v := strings.TrimSpace(cfg.Logging.Level); v != "" {
		level = v
	}
	_ = a.logger.Close()
	a.logger = diag.NewLogger(a.corrID, level)
	a.logger.DebugStart("config", "effective", "", "", map[string]string{
		"inputs_count": strconv.Itoa(len(cfg.Inputs)),
		"concurrency":  strconv.Itoa(cfg.Concurrency),
		"max_retries":  strconv.Itoa(cfg.MaxRetries),
		"host":         cfg.Host,
		"driver":       cfg.Driver,
		"provider":     cfg.Provider[cfg.Driver].Driver,
		"reader":       cfg.Components.Reader,
		"splitter":     cfg.Components.Splitter,
		"batcher":      cfg.Components.Batcher,
		"decoder":      cfg.Components.Decoder,
		"assembler":    cfg.Components.Assembler,
		"writer":       cfg.Components.Writer,
		"config_file":  path,
	})
	return nil
}

func (a *app) newShell() (*shell.Shell, *session.Session, error) {
	sess, err := cfgpkg.Session(a.cfg, a.logger)
	if err != nil {
		return nil, nil, errors.Mark(err, errConfig)
	}
	return shell.New(sess, a.stdout, a.runFiles, a.logger), sess, nil
}

// execLine 以单命令模式执行一行 shell 命令。
func (a *app) execLine(ctx context.Context, line string) error {
	sh, sess, err := a.newShell()
	if err != nil {
		return err
	}
	defer sess.Close()
	if _, err := sh.Exec(ctx, line); err != nil {
		return errors.Mark(err, errReported)
	}
	return nil
}

func (a *app) interactive(ctx context.Context) error {
	sh, sess, err := a.newShell()
	if err != nil {
		return err
	}
	defer sess.Close()
	in, ok := a.stdin.(io.ReadCloser)
	if !ok {
		in = io.NopCloser(a.stdin)
	}
	return sh.Run(ctx, in)
}

func (a *app) runFiles(ctx context.Context, mode pipeline.Mode, inputs []string) (pipeline.Report, error) {
	return a.runFilesTo(ctx, mode, inputs, "")
}

// runFilesTo 装配并运行清单流水线；outDir 非空时改用文件 Writer。
func (a *app) runFilesTo(ctx context.Context, mode pipeline.Mode, inputs []string, outDir string) (pipeline.Report, error) {
	cfg := a.cfg
	if len(inputs) > 0 {
		cfg.Inputs = inputs
	}
	if outDir = strings.TrimSpace(outDir); outDir != "" {
		if err := preflightOutputDir(outDir); err != nil {
			return pipeline.Report{}, errors.Mark(errors.Wrapf(err, "输出目录不可写或无法创建: %s", outDir), errConfig)
		}
		raw, err := json.Marshal(map[string]string{"output_dir": outDir})
		if err != nil {
			return pipeline.Report{}, errors.Wrap(err, "out-dir")
		}
		cfg.Components.Writer = "fs"
		cfg.Options.Writer = raw
	}
	comp, set, err := cfgpkg.Assemble(cfg, mode)
	if err != nil {
		return pipeline.Report{}, errors.Mark(err, errConfig)
	}
	if comp.Driver != nil {
		defer comp.Driver.Close()
	}
	if w, ok := comp.Writer.(*wstd.Writer); ok {
		w.Out = a.stdout
	}

	target := cfg.Host
	if mode == pipeline.ModeOptimize {
		target = "-"
	}
	term := diag.NewTerminal(a.stderr, a.opts.status)
	diag.SetTerminal(term)
	defer diag.SetTerminal(nil)
	term.RunStart(cfg.Concurrency, target)

	start := time.Now()
	t := a.logger.StartWithKV("pipeline", "run", "", "", map[string]string{"mode": string(mode)})
	rep, err := pipelineRun(ctx, comp, set, a.logger)
	if err != nil {
		code := diag.Classify(err)
		a.logger.Error("pipeline", string(code), "first error", &start)
		diag.IncOp("pipeline", "finish", "error")
		if code != diag.CodeUnknown {
			diag.IncError("pipeline", string(code))
		}
		term.RunFinish(false, time.Since(start))
		return rep, err
	}
	t.Finish("run", int64(rep.Files))
	diag.IncOp("pipeline", "finish", "success")
	diag.ObserveDuration("pipeline", "finish", time.Since(start).Milliseconds())
	term.RunFinish(true, time.Since(start))
	a.logger.DebugStart("metrics", "snapshot", "", "", metricsKV())
	return rep, nil
}

func metricsKV() map[string]string {
	ms := diag.MetricsSnapshot()
	kv := make(map[string]string, len(ms))
	for _, m := range ms {
		kv[m.Name] = strconv.FormatInt(m.Value, 10)
	}
	return kv
}

func isIPAddress(v string) bool { return len(strings.Split(v, ".")) == 4 }

func fprintf(w io.Writer, format string, a ...any) { _, _ = fmt.Fprintf(w, format, a...) }

func dumpConfig(w io.Writer, c cfgpkg.Config) error {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	fprintf(w, "有效配置:\n%s\n", b)
	return nil
}

// preflightOutputDir: 启动前检查输出目录可写性。
// 目录存在时尝试创建并删除临时文件；不存在时检查父目录可写。
func preflightOutputDir(dir string) error {
	st, err := os.Stat(dir)
	switch {
	case err == nil && st.IsDir():
		f, err := os.CreateTemp(dir, ".wcheck-*")
		if err != nil {
			return err
		}
		name := f.Name()
		_ = f.Close()
		return os.Remove(name)
	case err == nil:
		return errors.Newf("路径存在但不是目录: %s", dir)
	case !os.IsNotExist(err):
		return err
	}
	parent := filepath.Dir(filepath.Clean(dir))
	pst, err := os.Stat(parent)
	if err != nil {
		return err
	}
	if !pst.IsDir() {
		return errors.Newf("父路径不是目录: %s", parent)
	}
	tmp, err := os.MkdirTemp(parent, ".wcheck-*")
	if err != nil {
		return err
	}
	return os.RemoveAll(tmp)
}
