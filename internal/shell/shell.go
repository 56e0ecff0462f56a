// Package shell 实现行式交互命令行：命令大小写不敏感，标签参数保留原文。
package shell

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"plctags/internal/diag"
	"plctags/internal/pipeline"
	"plctags/internal/session"
	"plctags/pkg/contract"

	"github.com/chzyer/readline"
	"github.com/cockroachdb/errors"
	"github.com/kballard/go-shellquote"
)

// Prompt 为交互提示符。
const Prompt = "plctags> "

const (
	msgUnrecognized  = "ERROR - Unrecognized command.  Enter Help for a list of commands."
	msgInvalidFormat = "Invalid output format"
)

const helpText = `
    Commands: (Not case sensitive.)
        Help                          - Displays this list of commands.
        IPAddress <ip address>        - Sets the IP address for the target PLC.
        Quit | Exit                   - Leave console application.
        GetPLCTime                    - Returns the PLC time.
        SetPLCTime                    - Sets the PLC time to the current time.
        Read <tag> [tag...]           - Returns the specified tags' values from the target PLC.
        Write <tag> <value>           - Sets the specified tag's value in the target PLC.
        Output (Raw | Readable | Minimal) - Sets the output format.  Raw is the default.
        ReadFile <list...>            - Reads every tag of the tag lists in batched requests.
        Optimize <list...>            - Prints the batched read requests of the tag lists.
        WriteFile <list...>           - Writes every tag=value line of the lists.
`

// FileRunner 执行清单类命令（readfile/optimize/writefile）。
type FileRunner func(ctx context.Context, mode pipeline.Mode, inputs []string) (pipeline.Report, error)

// Shell 绑定一个会话与输出目标。
type Shell struct {
	sess   *session.Session
	out    io.Writer
	files  FileRunner
	logger *diag.Logger
	// Now 为 setplctime 时钟；nil 使用会话默认时钟。
	Now func() time.Time
}

// New 创建 Shell；files 可为 nil（清单类命令不可用）。
func New(sess *session.Session, out io.Writer, files FileRunner, logger *diag.Logger) *Shell {
	return &Shell{sess: sess, out: out, files: files, logger: logger}
}

func (s *Shell) println(a ...any) { _, _ = fmt.Fprintln(s.out, a...) }

// Exec 执行一行命令。quit 为 true 表示应退出循环。
// 操作失败以文本形式写入 out；返回的 error 仅用于上层决定退出码。
func (s *Shell) Exec(ctx context.Context, line string) (quit bool, err error) {
	words, err := shellquote.Split(line)
	if err != nil {
		words = strings.Fields(line)
	}
	if len(words) == 0 {
		return false, nil
	}
	cmd, args := strings.ToLower(words[0]), words[1:]
	switch cmd {
	case "help":
		_, _ = io.WriteString(s.out, helpText)
	case "quit", "exit":
		return true, nil
	case "ipaddress":
		if len(args) == 0 {
			s.println("ERROR - IPAddress requires an address.")
			return false, errors.Wrap(contract.ErrInvalidInput, "ipaddress: missing address")
		}
		if err := s.sess.Connect(args[0]); err != nil {
			s.println("ERROR -", err)
			return false, err
		}
	case "getplctime":
		rs, p, err := s.sess.GetTime(ctx)
		if err != nil {
			return false, s.report(err)
		}
		return false, s.sess.RenderTime(s.out, rs, p)
	case "setplctime":
		var at time.Time
		if s.Now != nil {
			at = s.Now()
		}
		p, err := s.sess.SetTime(ctx, at)
		if err != nil {
			return false, s.report(err)
		}
		s.println("PLC time set to " + p.String())
	case "read":
		if len(args) == 0 {
			s.println("ERROR - Read requires a tag.")
			return false, errors.Wrap(contract.ErrInvalidInput, "read: missing tag")
		}
		rs, err := s.sess.Read(ctx, args...)
		if err != nil {
			return false, s.report(err)
		}
		if err := s.sess.Render(s.out, rs); err != nil {
			return false, err
		}
		return false, firstErr(rs)
	case "write":
		if len(args) < 2 {
			s.println("ERROR - Write requires a tag and a value.")
			return false, errors.Wrap(contract.ErrInvalidInput, "write: missing tag or value")
		}
		r, err := s.sess.Write(ctx, args[0], strings.Join(args[1:], " "))
		if err != nil {
			return false, s.report(err)
		}
		if err := s.sess.Render(s.out, []session.Reading{r}); err != nil {
			return false, err
		}
		return false, r.Err
	case "output":
		if len(args) != 1 {
			s.println(msgInvalidFormat)
			return false, nil
		}
		f, err := session.ParseFormat(args[0])
		if err != nil {
			s.println(msgInvalidFormat)
			return false, nil
		}
		s.sess.SetFormat(f)
		s.println("Output format set to " + string(f))
	case "readfile", "optimize", "writefile":
		return false, s.runFiles(ctx, cmd, args)
	default:
		s.println(msgUnrecognized)
	}
	return false, nil
}

var fileModes = map[string]pipeline.Mode{
	"readfile":  pipeline.ModeRead,
	"optimize":  pipeline.ModeOptimize,
	"writefile": pipeline.ModeWrite,
}

func (s *Shell) runFiles(ctx context.Context, cmd string, args []string) error {
	if s.files == nil {
		s.println(msgUnrecognized)
		return nil
	}
	if len(args) == 0 {
		s.println("ERROR - " + cmd + " requires at least one tag list.")
		return errors.Wrapf(contract.ErrInvalidInput, "%s: missing tag list", cmd)
	}
	rep, err := s.files(ctx, fileModes[cmd], args)
	if err != nil {
		return s.report(err)
	}
	s.println(fmt.Sprintf("Processed %d file(s), %d tag(s), %d request(s), %d failed", rep.Files, rep.Tags, rep.Requests, rep.Failed))
	for _, is := range rep.Issues {
		s.println(fmt.Sprintf("  %s: %s: %v", is.FileID, is.Tag, is.Err))
	}
	return nil
}

// report 将错误写为一行文本；未连接时使用固定提示。
func (s *Shell) report(err error) error {
	if errors.Is(err, contract.ErrNotConnected) {
		s.println(session.NotConnectedMessage)
		return err
	}
	s.println("ERROR -", err)
	for _, h := range errors.GetAllHints(err) {
		s.println("  hint:", h)
	}
	return err
}

func firstErr(rs []session.Reading) error {
	for _, r := range rs {
		if r.Err != nil {
			return r.Err
		}
	}
	return nil
}

// Run 从 in 逐行读取并执行，直到 quit/EOF/中断。
func (s *Shell) Run(ctx context.Context, in io.ReadCloser) error {
	var history string
	if home, err := os.UserHomeDir(); err == nil {
		history = filepath.Join(home, ".plctags_history")
	}
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          Prompt,
		HistoryFile:     history,
		Stdin:           in,
		Stdout:          s.out,
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
		AutoComplete:    completer,
	})
	if err != nil {
		return errors.Wrap(err, "shell: init readline")
	}
	defer rl.Close()
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line, err := rl.Readline()
		if err != nil {
			// Ctrl-C / Ctrl-D
			if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
				return nil
			}
			return errors.Wrap(err, "shell: read line")
		}
		quit, err := s.Exec(ctx, line)
		if err != nil {
			s.logger.ErrorWith("shell", string(diag.Classify(err)), err.Error(), nil, "", "")
		}
		if quit {
			return nil
		}
	}
}

var completer = readline.NewPrefixCompleter(
	readline.PcItem("help"),
	readline.PcItem("ipaddress"),
	readline.PcItem("getplctime"),
	readline.PcItem("setplctime"),
	readline.PcItem("read"),
	readline.PcItem("write"),
	readline.PcItem("output", readline.PcItem("raw"), readline.PcItem("readable"), readline.PcItem("minimal")),
	readline.PcItem("readfile"),
	readline.PcItem("optimize"),
	readline.PcItem("writefile"),
	readline.PcItem("quit"),
	readline.PcItem("exit"),
)
