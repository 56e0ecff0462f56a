package tagaddr

import (
	"strconv"
	"strings"

	"plctags/pkg/contract"

	"github.com/cockroachdb/errors"
)

// Parse 将标签文本解析为 Address。
// 失败时返回包裹 contract.ErrMalformedAddress 的错误（携带原始标签与列号）。
func Parse(tag string) (Address, error) {
	s := strings.TrimSpace(tag)
	p := parser{src: s}
	a, err := p.run()
	if err != nil {
		return Address{}, errors.Wrapf(contract.ErrMalformedAddress, "tag %q: %s", tag, err.Error())
	}
	return a, nil
}

// MustParse 供测试与常量表使用；解析失败直接 panic。
func MustParse(tag string) Address {
	a, err := Parse(tag)
	if err != nil {
		panic(err)
	}
	return a
}

// 解析状态。
type state int

const (
	stFile    state = iota // 文件标识 [A-Za-z][A-Za-z0-9]*
	stSep                  // ':' 或旧式 '/'
	stWord                 // 字号数字
	stSuffix               // 字号之后：'/'、'{'、'.' 或结束
	stBit                  // 位号数字
	stCount                // '{' 内的元素数
	stSymbol               // 符号地址剩余部分
	stLegacy               // 旧式绝对位号
	stDone
)

type parser struct {
	src string
	pos int
}

func (p *parser) peek() (byte, bool) {
	if p.pos >= len(p.src) {
		return 0, false
	}
	return p.src[p.pos], true
}

func (p *parser) fail(msg string) error {
	return errors.Newf("%s at column %d", msg, p.pos+1)
}

// digits 读取连续十进制数字并转换为非负 int。
func (p *parser) digits(what string) (int, error) {
	start := p.pos
	for p.pos < len(p.src) && isDigit(p.src[p.pos]) {
		p.pos++
	}
	if start == p.pos {
		return 0, p.fail("expected " + what)
	}
	n, err := strconv.Atoi(p.src[start:p.pos])
	if err != nil {
		return 0, p.fail(what + " out of range")
	}
	return n, nil
}

func (p *parser) run() (Address, error) {
	a := Address{Bit: NoBit}
	var suffixStart int
	st := stFile
	for st != stDone {
		switch st {
		case stFile:
			c, ok := p.peek()
			if !ok {
				return a, p.fail("empty tag")
			}
			if !isLetter(c) {
				return a, p.fail("file identifier must start with a letter")
			}
			start := p.pos
			for p.pos < len(p.src) && (isLetter(p.src[p.pos]) || isDigit(p.src[p.pos])) {
				p.pos++
			}
			a.File = strings.ToUpper(p.src[start:p.pos])
			st = stSep
		case stSep:
			c, ok := p.peek()
			switch {
			case !ok:
				return a, p.fail("missing ':' separator")
			case c == ':':
				p.pos++
				suffixStart = p.pos
				if c2, ok := p.peek(); ok && isLetter(c2) {
					st = stSymbol
				} else {
					st = stWord
				}
			case c == '/':
				p.pos++
				st = stLegacy
			default:
				return a, p.fail("unexpected character " + strconv.QuoteRune(rune(c)))
			}
		case stWord:
			w, err := p.digits("word index")
			if err != nil {
				return a, err
			}
			if w > MaxWord {
				return a, p.fail("word index exceeds " + strconv.Itoa(MaxWord))
			}
			a.Word = w
			st = stSuffix
		case stSuffix:
			c, ok := p.peek()
			switch {
			case !ok:
				st = stDone
			case c == '/':
				p.pos++
				if c2, ok := p.peek(); ok && isLetter(c2) {
					st = stSymbol
				} else {
					st = stBit
				}
			case c == '{':
				p.pos++
				st = stCount
			case c == '.':
				p.pos++
				st = stSymbol
			default:
				return a, p.fail("unexpected character " + strconv.QuoteRune(rune(c)))
			}
		case stBit:
			b, err := p.digits("bit index")
			if err != nil {
				return a, err
			}
			if b >= WordBits {
				return a, p.fail("bit index exceeds word width")
			}
			a.Bit = b
			if p.pos != len(p.src) {
				return a, p.fail("trailing characters after bit index")
			}
			st = stDone
		case stCount:
			n, err := p.digits("element count")
			if err != nil {
				return a, err
			}
			if n == 0 {
				return a, p.fail("element count must be positive")
			}
			if n-1 > MaxWord-a.Word {
				return a, p.fail("range end exceeds word " + strconv.Itoa(MaxWord))
			}
			if c, ok := p.peek(); !ok || c != '}' {
				return a, p.fail("missing '}'")
			}
			p.pos++
			if p.pos != len(p.src) {
				return a, p.fail("trailing characters after element count")
			}
			a.Count = n
			st = stDone
		case stSymbol:
			start := p.pos
			for p.pos < len(p.src) && isSymbolChar(p.src[p.pos]) {
				p.pos++
			}
			if start == p.pos {
				return a, p.fail("empty symbolic suffix")
			}
			if p.pos != len(p.src) {
				return a, p.fail("unexpected character " + strconv.QuoteRune(rune(p.src[p.pos])))
			}
			a.Symbol = p.src[suffixStart:]
			st = stDone
		case stLegacy:
			abs, err := p.digits("bit position")
			if err != nil {
				return a, err
			}
			if p.pos != len(p.src) {
				return a, p.fail("trailing characters after bit position")
			}
			if abs/WordBits > MaxWord {
				return a, p.fail("bit position exceeds word " + strconv.Itoa(MaxWord))
			}
			a.Word, a.Bit = abs/WordBits, abs%WordBits
			st = stDone
		}
	}
	return a, nil
}

func isDigit(c byte) bool  { return c >= '0' && c <= '9' }
func isLetter(c byte) bool { return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') }
func isSymbolChar(c byte) bool {
	return isLetter(c) || isDigit(c) || c == '.' || c == '/' || c == '_'
}
