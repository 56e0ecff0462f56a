package taglist

import (
	"bufio"
	"context"
	"io"
	"strconv"
	"strings"
	"unicode/utf8"

	"plctags/pkg/contract"

	"github.com/cockroachdb/errors"
)

// Options 为标签清单 Splitter 的可选配置。
type Options struct {
	// CommentPrefixes: 以这些前缀开头（去除前导空白后）的行视为注释。
	// nil 采用默认 ["#"]；显式空切片表示不识别注释。
	CommentPrefixes []string `json:"comment_prefixes"`
	// MaxLineBytes: 单行最大字节数。0 表示不限制。
	MaxLineBytes int `json:"max_line_bytes"`
}

// Splitter 按行拆分标签清单，每个非空、非注释行产生一条 Record。
type Splitter struct {
	comments []string
	maxBytes int
}

// New 创建标签清单 Splitter。
func New(opts *Options) *Splitter {
	s := &Splitter{comments: []string{"#"}}
	if opts != nil {
		if opts.CommentPrefixes != nil {
			s.comments = nil
			for _, p := range opts.CommentPrefixes {
				if p != "" {
					s.comments = append(s.comments, p)
				}
			}
		}
		if opts.MaxLineBytes > 0 {
			s.maxBytes = opts.MaxLineBytes
		}
	}
	return s
}

// Split 读取整份清单；Record.Text 为去除首尾空白后的行，Meta["line"] 为 1 起始行号。
func (s *Splitter) Split(ctx context.Context, fileID contract.FileID, r io.Reader) ([]contract.Record, error) {
	br := bufio.NewReader(r)
	var recs []contract.Record
	var idx contract.Index
	for lineNo := 1; ; lineNo++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		line, eof, err := readLine(br)
		if err != nil {
			return nil, errors.Wrapf(err, "read %s", fileID)
		}
		if eof {
			break
		}
		if s.maxBytes > 0 && len(line) > s.maxBytes {
			return nil, errors.Wrapf(contract.ErrInvalidInput, "%s:%d: line too long: %d > %d", fileID, lineNo, len(line), s.maxBytes)
		}
		if !utf8.ValidString(line) {
			return nil, errors.Wrapf(contract.ErrInvalidInput, "%s:%d: invalid UTF-8", fileID, lineNo)
		}
		text := strings.TrimSpace(line)
		if text == "" || s.isComment(text) {
			continue
		}
		recs = append(recs, contract.Record{
			Index:  idx,
			FileID: fileID,
			Text:   text,
			Meta:   contract.Meta{"line": strconv.Itoa(lineNo)},
		})
		idx++
	}
	return recs, nil
}

func (s *Splitter) isComment(text string) bool {
	for _, p := range s.comments {
		if strings.HasPrefix(text, p) {
			return true
		}
	}
	return false
}

// readLine 读取一行并去除结尾 \n 或 \r\n；文件结束且无内容时 eof 为 true。
func readLine(br *bufio.Reader) (line string, eof bool, err error) {
	s, err := br.ReadString('\n')
	if err != nil {
		if !errors.Is(err, io.EOF) {
			return "", false, err
		}
		eof = true
	}
	s = strings.TrimSuffix(s, "\n")
	s = strings.TrimSuffix(s, "\r")
	return s, eof && s == "", nil
}
