package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
)

// DefaultTemplateConfig 返回一个“可运行”的默认配置模板：
// - 使用内置模拟控制器 sim（离线调试友好），另给出 flaky 故障注入与 modbus 现场示例；
// - 默认输入为 STDIN（"-"），Writer 输出到标准输出；
// - 选项给出全部键与安全中性默认值。
func DefaultTemplateConfig() Config {
	d := Defaults()
	cfg := Config{
		Inputs:       []string{"-"},
		Concurrency:  d.Concurrency,
		MaxRetries:   2,
		OutputFormat: d.OutputFormat,
		Logging:      Logging{Level: "info"},
		Components:   d.Components,
		Driver:       "sim",
		Provider: map[string]Provider{
			"sim": {
				Driver: "sim",
				// 包含所有 sim 选项键（可为空）
				Options: json.RawMessage(`{
  "memory_file": "",
  "latency_ms": 0,
  "max_elements": 0
}`),
				Limits: Limits{RPM: 600, Burst: 10, EPM: 0, MaxElementsPerReq: 0},
			},
			"flaky": {
				Driver: "flaky",
				Options: json.RawMessage(`{
  "transient": 1,
  "invalid": 0,
  "fail_files": [],
  "sim": {"memory_file": "", "latency_ms": 0, "max_elements": 0}
}`),
				Limits: Limits{},
			},
			"modbus": {
				Driver: "modbus",
				Options: json.RawMessage(`{
  "url": "",
  "unit_id": 1,
  "timeout_ms": 1000,
  "files": {"N7": {"base": 0, "size": 256}, "B3": {"base": 300, "size": 64}, "F8": {"base": 1000, "size": 64}},
  "symbols": {}
}`),
				Limits: Limits{RPM: 1200, Burst: 4, MaxElementsPerReq: 120},
			},
		},
	}
	cfg.Options.Reader = json.RawMessage(`{
  "buf_size": 65536,
  "exclude_dir_names": [".git", "node_modules", "vendor"],
  "allow_exts": [".txt", ".tags", ".lst"]
}`)
	cfg.Options.Splitter = json.RawMessage(`{
  "comment_prefixes": ["#"],
  "max_line_bytes": 0
}`)
	cfg.Options.Batcher = json.RawMessage(`{
  "max_elements": {"F": 60, "N": 120, "B": 120}
}`)
	cfg.Options.Decoder = json.RawMessage(`{
  "allow_longer": false,
  "text_files": ["ST", "A"]
}`)
	cfg.Options.Assembler = json.RawMessage(`{
  "separator": "="
}`)
	cfg.Options.Writer = json.RawMessage(`{
  "banner": false
}`)
	return cfg
}

// WriteTemplate 在 dir 下生成 config.json 与 .env 模板；已存在的文件跳过，不覆盖。
// 返回实际写入的文件路径。
func WriteTemplate(dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create %s", dir)
	}
	var wrote []string
	b, err := json.MarshalIndent(DefaultTemplateConfig(), "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "marshal template")
	}
	p := filepath.Join(dir, "config.json")
	ok, err := createExcl(p, append(b, '\n'))
	if err != nil {
		return nil, err
	}
	if ok {
		wrote = append(wrote, p)
	}
	p = filepath.Join(dir, ".env")
	ok, err = createExcl(p, []byte(dotEnvTemplate()))
	if err != nil {
		return wrote, err
	}
	if ok {
		wrote = append(wrote, p)
	}
	return wrote, nil
}

func createExcl(path string, data []byte) (bool, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return false, nil
		}
		return false, errors.Wrapf(err, "create %s", path)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return false, errors.Wrapf(err, "write %s", path)
	}
	return true, nil
}

// dotEnvTemplate 列出全部受支持的覆盖键，值留空。
func dotEnvTemplate() string {
	var b strings.Builder
	b.WriteString("# plctags .env 模板（由 init-config 生成）\n")
	b.WriteString("# 优先级：CLI > ENV(.env) > 配置文件\n")
	b.WriteString("# 空值表示未设置。\n\n")

	b.WriteString("# 配置来源\n")
	b.WriteString(EnvPrefix + "CONFIG_FILE=\n\n")

	b.WriteString("# 运行参数覆盖\n")
	for _, k := range []string{"INPUTS", "CONCURRENCY", "MAX_RETRIES", "HOST", "OUTPUT_FORMAT", "LOG_LEVEL", "DRIVER"} {
		b.WriteString(EnvPrefix + k + "=\n")
	}
	b.WriteString("\n# 组件选择\n")
	for _, k := range []string{"READER", "SPLITTER", "BATCHER", "DECODER", "ASSEMBLER", "WRITER"} {
		b.WriteString(EnvPrefix + "COMPONENTS_" + k + "=\n")
	}
	for _, name := range []string{"sim", "flaky", "modbus"} {
		b.WriteString("\n# Provider 覆盖（" + name + "）\n")
		for _, k := range []string{"DRIVER", "LIMITS_RPM", "LIMITS_BURST", "LIMITS_EPM", "LIMITS_MAX_ELEMENTS_PER_REQ", "OPTIONS_JSON"} {
			b.WriteString(EnvPrefix + "PROVIDER__" + name + "__" + k + "=\n")
		}
	}
	return b.String()
}
