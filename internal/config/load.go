package config

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"plctags/pkg/contract"

	"github.com/BurntSushi/toml"
	"github.com/cockroachdb/errors"
	"github.com/subosito/gotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix 为环境变量覆盖前缀。
const EnvPrefix = "PLCTAGS_"

// Defaults 返回带有安全默认值的 Config 雏形。
// 默认驱动为内置模拟控制器 sim（无限额）；控制器地址不设默认。
func Defaults() Config {
	return Config{
		Concurrency:  1,
		MaxRetries:   0,
		OutputFormat: "raw",
		Components: Components{
			Reader:    "fs",
			Splitter:  "taglist",
			Batcher:   "contiguous",
			Decoder:   "scalar",
			Assembler: "lines",
			Writer:    "stdout",
		},
		Driver:   "sim",
		Provider: map[string]Provider{"sim": {Driver: "sim"}},
	}
}

// configNames 为工作目录下自动发现的配置文件名（按优先级）。
var configNames = []string{"config.json", "config.toml", "config.yaml", "config.yml"}

// Discover 返回 dir 下第一个存在的配置文件路径；均不存在时返回空串。
func Discover(dir string) string {
	for _, n := range configNames {
		p := filepath.Join(dir, n)
		if st, err := os.Stat(p); err == nil && !st.IsDir() {
			return p
		}
	}
	return ""
}

// LoadJSON 从文件路径或原始 JSON 解析 Config（严格拒绝未知字段）。
func LoadJSON(path string, raw []byte) (Config, error) {
	switch {
	case len(raw) > 0:
	case path != "":
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, errors.Wrap(err, "read config")
		}
		raw = b
	default:
		return Config{}, errors.Wrap(contract.ErrInvalidInput, "no config source provided")
	}
	return decodeStrict(raw, path)
}

// LoadFile 按扩展名解析配置文件：.json（严格）、.toml、.yaml/.yml。
// TOML/YAML 先归一化为 JSON，再走同一严格解码，未知键同样失败。
func LoadFile(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "read config")
	}
	var tree map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(b), &tree); err != nil {
			return Config{}, errors.Wrapf(contract.ErrInvalidInput, "config %s: %v", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &tree); err != nil {
			return Config{}, errors.Wrapf(contract.ErrInvalidInput, "config %s: %v", path, err)
		}
	default:
		return decodeStrict(b, path)
	}
	norm, err := json.Marshal(tree)
	if err != nil {
		return Config{}, errors.Wrapf(contract.ErrInvalidInput, "config %s: %v", path, err)
	}
	return decodeStrict(norm, path)
}

func decodeStrict(raw []byte, src string) (Config, error) {
	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		if src == "" {
			src = "inline json"
		}
		return Config{}, errors.WithHint(
			errors.Wrapf(contract.ErrInvalidInput, "config %s: %v", src, err),
			"run with --init-config to generate a complete template")
	}
	return cfg, nil
}

// LoadDotEnv 读取 .env 并注入进程环境；不覆盖已存在的变量，文件不存在时忽略。
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	return errors.Wrap(gotenv.Load(path), "load .env")
}

// Merge 按优先级合并（后者覆盖前者）。
// 仅标量/字符串/原样 JSON 为替换；不做深度合并。
func Merge(base, over Config) Config {
	out := base
	if len(over.Inputs) > 0 {
		out.Inputs = cloneStrings(over.Inputs)
	}
	if over.Concurrency != 0 {
		out.Concurrency = over.Concurrency
	}
	// MaxRetries 的 0 具有语义（禁用重试）；约定 over.MaxRetries < 0 视为未覆盖。
	if over.MaxRetries >= 0 {
		out.MaxRetries = over.MaxRetries
	}
	if v := strings.TrimSpace(over.Host); v != "" {
		out.Host = v
	}
	if v := strings.TrimSpace(over.OutputFormat); v != "" {
		out.OutputFormat = v
	}
	if v := strings.TrimSpace(over.Logging.Level); v != "" {
		out.Logging.Level = v
	}

	// 组件名（空不覆盖）
	mergeName(&out.Components.Reader, over.Components.Reader)
	mergeName(&out.Components.Splitter, over.Components.Splitter)
	mergeName(&out.Components.Batcher, over.Components.Batcher)
	mergeName(&out.Components.Decoder, over.Components.Decoder)
	mergeName(&out.Components.Assembler, over.Components.Assembler)
	mergeName(&out.Components.Writer, over.Components.Writer)

	// Provider（按键完整替换）
	if len(over.Provider) > 0 {
		merged := make(map[string]Provider, len(out.Provider)+len(over.Provider))
		for k, v := range out.Provider {
			merged[k] = v
		}
		for k, v := range over.Provider {
			merged[k] = v
		}
		out.Provider = merged
	}

	// Options（按组件完整替换）
	mergeRaw(&out.Options.Reader, over.Options.Reader)
	mergeRaw(&out.Options.Splitter, over.Options.Splitter)
	mergeRaw(&out.Options.Batcher, over.Options.Batcher)
	mergeRaw(&out.Options.Decoder, over.Options.Decoder)
	mergeRaw(&out.Options.Assembler, over.Options.Assembler)
	mergeRaw(&out.Options.Writer, over.Options.Writer)

	mergeName(&out.Driver, over.Driver)
	return out
}

func mergeName(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func mergeRaw(dst *json.RawMessage, v json.RawMessage) {
	if len(v) > 0 {
		*dst = cloneRaw(v)
	}
}

// EnvOverlay 从环境变量构建一个 Config 覆盖（仅解析有限键集合）。
// 前缀 PLCTAGS_；支持：INPUTS, CONCURRENCY, MAX_RETRIES, HOST, OUTPUT_FORMAT, LOG_LEVEL, DRIVER, COMPONENTS_*
// 以及 PROVIDER__<name>__DRIVER / PROVIDER__<name>__LIMITS_{RPM,BURST,EPM,MAX_ELEMENTS_PER_REQ} / PROVIDER__<name>__OPTIONS_JSON。
// 数值无法解析时返回 ErrInvalidInput。
func EnvOverlay(environ []string) (Config, error) {
	var over Config
	// -1 表示未设置，以便 Merge 区分未覆盖与显式 0
	over.MaxRetries = -1
	prov := map[string]Provider{}
	for _, kv := range environ {
		key, val, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, EnvPrefix) || len(key) == len(EnvPrefix) {
			continue
		}
		nk := strings.TrimPrefix(key, EnvPrefix)
		val = strings.TrimSpace(val)
		if val == "" {
			continue
		}
		var err error
		switch nk {
		case "INPUTS":
			over.Inputs = splitComma(val)
		case "CONCURRENCY":
			over.Concurrency, err = atoi(key, val)
		case "MAX_RETRIES":
			over.MaxRetries, err = atoi(key, val)
		case "HOST":
			over.Host = val
		case "OUTPUT_FORMAT":
			over.OutputFormat = val
		case "LOG_LEVEL":
			over.Logging.Level = val
		case "DRIVER":
			over.Driver = val
		case "COMPONENTS_READER":
			over.Components.Reader = val
		case "COMPONENTS_SPLITTER":
			over.Components.Splitter = val
		case "COMPONENTS_BATCHER":
			over.Components.Batcher = val
		case "COMPONENTS_DECODER":
			over.Components.Decoder = val
		case "COMPONENTS_ASSEMBLER":
			over.Components.Assembler = val
		case "COMPONENTS_WRITER":
			over.Components.Writer = val
		default:
			// PROVIDER__<name>__<FIELD>；其余键（CONFIG_FILE 等）由 CLI 处理
			parts := strings.SplitN(nk, "__", 3)
			if len(parts) != 3 || parts[0] != "PROVIDER" || parts[1] == "" {
				continue
			}
			name := parts[1]
			p, seen := prov[name]
			if !seen {
				p.Limits = Limits{RPM: -1, Burst: -1, EPM: -1, MaxElementsPerReq: -1}
			}
			switch parts[2] {
			case "DRIVER":
				p.Driver = val
			case "LIMITS_RPM":
				p.Limits.RPM, err = atoi(key, val)
			case "LIMITS_BURST":
				p.Limits.Burst, err = atoi(key, val)
			case "LIMITS_EPM":
				p.Limits.EPM, err = atoi(key, val)
			case "LIMITS_MAX_ELEMENTS_PER_REQ":
				p.Limits.MaxElementsPerReq, err = atoi(key, val)
			case "OPTIONS_JSON":
				p.Options = json.RawMessage(val)
			default:
				continue
			}
			prov[name] = p
		}
		if err != nil {
			return Config{}, err
		}
	}
	if len(prov) > 0 {
		over.Provider = prov
	}
	return over, nil
}

// OverlayProviders 将 EnvOverlay 产出的部分 provider 字段叠加到 base 上（-1/空值表示未设置）。
func OverlayProviders(base map[string]Provider, over map[string]Provider) map[string]Provider {
	out := make(map[string]Provider, len(base)+len(over))
	for k, v := range base {
		out[k] = v
	}
	for name, o := range over {
		p := out[name]
		mergeName(&p.Driver, o.Driver)
		mergeRaw(&p.Options, o.Options)
		if o.Limits.RPM >= 0 {
			p.Limits.RPM = o.Limits.RPM
		}
		if o.Limits.Burst >= 0 {
			p.Limits.Burst = o.Limits.Burst
		}
		if o.Limits.EPM >= 0 {
			p.Limits.EPM = o.Limits.EPM
		}
		if o.Limits.MaxElementsPerReq >= 0 {
			p.Limits.MaxElementsPerReq = o.Limits.MaxElementsPerReq
		}
		out[name] = p
	}
	return out
}

// MergeEnv 合并 ENV 覆盖：provider 按字段叠加，其余同 Merge。
func MergeEnv(base, over Config) Config {
	prov := over.Provider
	over.Provider = nil
	out := Merge(base, over)
	if len(prov) > 0 {
		out.Provider = OverlayProviders(out.Provider, prov)
	}
	return out
}

func cloneStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func cloneRaw(in json.RawMessage) json.RawMessage {
	if len(in) == 0 {
		return nil
	}
	out := make([]byte, len(in))
	copy(out, in)
	return out
}

func splitComma(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func atoi(key, s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, errors.Wrapf(contract.ErrInvalidInput, "%s=%q: not an integer", key, s)
	}
	return n, nil
}
